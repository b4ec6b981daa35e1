package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/fursona/pkg/auth"
	"github.com/platinummonkey/fursona/pkg/billing"
	"github.com/platinummonkey/fursona/pkg/httputil"
	"github.com/platinummonkey/fursona/pkg/middleware"
)

// AuthHandlers handles authentication-related HTTP requests
type AuthHandlers struct {
	auth          AuthService
	subscriptions SubscriptionReader
	authMW        *middleware.AuthMiddleware
	limit         func(http.Handler) http.Handler
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(authService AuthService, subscriptions SubscriptionReader, authMW *middleware.AuthMiddleware, limit func(http.Handler) http.Handler) *AuthHandlers {
	return &AuthHandlers{
		auth:          authService,
		subscriptions: subscriptions,
		authMW:        authMW,
		limit:         limit,
	}
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/auth/register", h.limit(http.HandlerFunc(h.register))).Methods(http.MethodPost)
	router.Handle("/auth/login", h.limit(http.HandlerFunc(h.login))).Methods(http.MethodPost)
	router.Handle("/auth/me", h.authMW.Handler(http.HandlerFunc(h.me))).Methods(http.MethodGet)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type authResponse struct {
	Message string     `json:"message"`
	Token   string     `json:"token"`
	User    *auth.User `json:"user"`
}

// register handles POST /api/auth/register
func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, token, err := h.auth.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.writeError(w, r, err, "Registration failed")
		return
	}

	httputil.WriteCreated(w, authResponse{
		Message: "User registered successfully",
		Token:   token,
		User:    user,
	})
}

// login handles POST /api/auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, token, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err, "Login failed")
		return
	}

	httputil.WriteSuccess(w, authResponse{
		Message: "Login successful",
		Token:   token,
		User:    user,
	})
}

// me handles GET /api/auth/me
func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r)

	user, err := h.auth.GetUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err, "Failed to get user info")
		return
	}

	sub, err := h.subscriptions.GetByUserID(r.Context(), userID)
	var noSub *billing.NoSubscriptionError
	if err != nil && !errors.As(err, &noSub) {
		httputil.WriteInternalError(w, r, "Failed to get user info", err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"user":         user,
		"subscription": sub,
	})
}

func (h *AuthHandlers) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, auth.ErrUserExists):
		httputil.WriteConflict(w, "User already exists")
	case errors.Is(err, auth.ErrInvalidCredentials):
		httputil.WriteUnauthorized(w, "Invalid credentials")
	case errors.Is(err, auth.ErrMissingCredentials):
		httputil.WriteBadRequest(w, "Email and password required")
	case errors.Is(err, auth.ErrUserNotFound):
		httputil.WriteNotFound(w, "User not found")
	case auth.IsClientError(err):
		httputil.WriteBadRequest(w, err.Error())
	default:
		httputil.WriteInternalError(w, r, fallback, err)
	}
}
