package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/fursona/pkg/billing"
	"github.com/platinummonkey/fursona/pkg/httputil"
	"github.com/platinummonkey/fursona/pkg/middleware"
	"github.com/platinummonkey/fursona/pkg/persona"
)

// FursonaHandlers serves generation and history
type FursonaHandlers struct {
	personas PersonaService
	authMW   *middleware.AuthMiddleware
	limit    func(http.Handler) http.Handler
}

// NewFursonaHandlers creates a new FursonaHandlers
func NewFursonaHandlers(personas PersonaService, authMW *middleware.AuthMiddleware, limit func(http.Handler) http.Handler) *FursonaHandlers {
	return &FursonaHandlers{
		personas: personas,
		authMW:   authMW,
		limit:    limit,
	}
}

// RegisterRoutes registers fursona routes
func (h *FursonaHandlers) RegisterRoutes(router *mux.Router) {
	// the limiter runs after auth so it can key by user
	router.Handle("/fursona/generate", h.authMW.Handler(h.limit(http.HandlerFunc(h.generate)))).Methods(http.MethodPost)
	router.Handle("/fursona/history", h.authMW.Handler(http.HandlerFunc(h.history))).Methods(http.MethodGet)
}

type generateRequest struct {
	Image    string `json:"image"`
	Provider string `json:"provider"`
	Prompt   string `json:"prompt"`
}

type usageResponse struct {
	Used  int              `json:"used"`
	Limit int              `json:"limit"`
	Plan  billing.PlanType `json:"plan"`
}

type generateResponse struct {
	Fursona     *persona.Persona `json:"fursona"`
	Description string           `json:"description"`
	Usage       usageResponse    `json:"usage"`
}

func usageOf(sub *billing.Subscription) usageResponse {
	u := usageResponse{Used: sub.GenerationsUsed, Limit: sub.GenerationsLimit, Plan: sub.PlanType}
	if sub.Unlimited() {
		u.Limit = -1
	}
	return u
}

// generate handles POST /api/fursona/generate
func (h *FursonaHandlers) generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Image, "Image") {
		return
	}

	userID, _ := middleware.UserID(r)
	result, err := h.personas.Generate(r.Context(), persona.GenerateRequest{
		UserID:   userID,
		Image:    req.Image,
		Provider: req.Provider,
		Prompt:   req.Prompt,
	})
	if err != nil {
		writeGenerationError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, generateResponse{
		Fursona:     result.Persona,
		Description: result.Persona.Description,
		Usage:       usageOf(result.Subscription),
	})
}

// history handles GET /api/fursona/history
func (h *FursonaHandlers) history(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", persona.DefaultHistoryLimit, 1, persona.MaxHistoryLimit)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0, 0, 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	userID, _ := middleware.UserID(r)
	personas, err := h.personas.History(r.Context(), userID, limit, offset)
	if err != nil {
		httputil.WriteInternalError(w, r, "Failed to get history", err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"fursonas": personas,
		"limit":    limit,
		"offset":   offset,
	})
}
