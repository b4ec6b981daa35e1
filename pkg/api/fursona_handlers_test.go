package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/fursona/pkg/billing"
	"github.com/platinummonkey/fursona/pkg/middleware"
	"github.com/platinummonkey/fursona/pkg/persona"
)

func TestGenerate(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := &mockPersonaService{
		generateFunc: func(ctx context.Context, req persona.GenerateRequest) (*persona.GenerateResult, error) {
			assert.Equal(t, int64(testUserID), req.UserID)
			assert.Equal(t, "data:image/png;base64,AAAA", req.Image)
			assert.Equal(t, "openai", req.Provider)
			return &persona.GenerateResult{
				Persona: &persona.Persona{
					ID:          3,
					UserID:      req.UserID,
					Name:        "fox",
					Description: "Clever and quick, uwu",
					Provider:    "openai",
					CreatedAt:   created,
				},
				Subscription: &billing.Subscription{PlanType: billing.PlanFree, GenerationsUsed: 2, GenerationsLimit: 5},
			}, nil
		},
	}
	srv := newTestServer(t, Dependencies{Personas: svc})

	rec := srv.do(t, http.MethodPost, "/api/fursona/generate", map[string]string{
		"image":    "data:image/png;base64,AAAA",
		"provider": "openai",
	}, true)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "Clever and quick, uwu", body["description"])

	fursona := body["fursona"].(map[string]interface{})
	assert.Equal(t, "fox", fursona["name"])
	assert.Equal(t, "openai", fursona["provider"])

	assert.Equal(t, map[string]interface{}{"used": float64(2), "limit": float64(5), "plan": "free"}, body["usage"])
}

func TestGenerate_UnlimitedUsage(t *testing.T) {
	svc := &mockPersonaService{
		generateFunc: func(ctx context.Context, req persona.GenerateRequest) (*persona.GenerateResult, error) {
			return &persona.GenerateResult{
				Persona:      &persona.Persona{Name: "wolf"},
				Subscription: &billing.Subscription{PlanType: billing.PlanPro, GenerationsUsed: 120, GenerationsLimit: billing.UnlimitedGenerations},
			}, nil
		},
	}
	srv := newTestServer(t, Dependencies{Personas: svc})

	rec := srv.do(t, http.MethodPost, "/api/fursona/generate", map[string]string{"image": "x"}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	usage := decode(t, rec)["usage"].(map[string]interface{})
	assert.Equal(t, float64(-1), usage["limit"])
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   map[string]interface{}
	}{
		{
			name:       "no subscription",
			err:        &billing.NoSubscriptionError{UserID: testUserID},
			wantStatus: http.StatusForbidden,
			wantBody:   map[string]interface{}{"error": "No subscription found"},
		},
		{
			name:       "quota exceeded",
			err:        &billing.QuotaExceededError{Limit: 5, Used: 5, Plan: billing.PlanFree},
			wantStatus: http.StatusForbidden,
			wantBody: map[string]interface{}{
				"error": "Generation limit reached",
				"limit": float64(5),
				"used":  float64(5),
				"plan":  "free",
			},
		},
		{
			name:       "provider failure",
			err:        &persona.GenerationError{Provider: "gemini", Detail: "quota exhausted upstream"},
			wantStatus: http.StatusInternalServerError,
			wantBody: map[string]interface{}{
				"error":   "Failed to generate fursona",
				"details": "quota exhausted upstream",
			},
		},
		{
			name:       "bad image",
			err:        persona.ErrInvalidImage,
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]interface{}{"error": persona.ErrInvalidImage.Error()},
		},
		{
			name:       "unknown provider",
			err:        persona.ErrUnknownProvider,
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]interface{}{"error": persona.ErrUnknownProvider.Error()},
		},
		{
			name:       "database",
			err:        errors.New("tx aborted"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   map[string]interface{}{"error": "Failed to generate fursona"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockPersonaService{
				generateFunc: func(ctx context.Context, req persona.GenerateRequest) (*persona.GenerateResult, error) {
					return nil, tt.err
				},
			}
			srv := newTestServer(t, Dependencies{Personas: svc})

			rec := srv.do(t, http.MethodPost, "/api/fursona/generate", map[string]string{"image": "x"}, true)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, decode(t, rec))
		})
	}
}

func TestGenerate_RequiresImageAndAuth(t *testing.T) {
	svc := &mockPersonaService{
		generateFunc: func(ctx context.Context, req persona.GenerateRequest) (*persona.GenerateResult, error) {
			t.Fatal("generator must not be called")
			return nil, nil
		},
	}
	srv := newTestServer(t, Dependencies{Personas: svc})

	rec := srv.do(t, http.MethodPost, "/api/fursona/generate", map[string]string{"image": "x"}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/fursona/generate", map[string]string{}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Image is required", decode(t, rec)["error"])
}

func TestGenerate_RateLimitedPerUser(t *testing.T) {
	svc := &mockPersonaService{
		generateFunc: func(ctx context.Context, req persona.GenerateRequest) (*persona.GenerateResult, error) {
			return nil, persona.ErrInvalidImage
		},
	}
	srv := newTestServer(t, Dependencies{Personas: svc, GenerateLimiter: middleware.NewRateLimiter(middleware.PerMinute(1))})

	first := srv.do(t, http.MethodPost, "/api/fursona/generate", map[string]string{"image": "x"}, true)
	second := srv.do(t, http.MethodPost, "/api/fursona/generate", map[string]string{"image": "x"}, true)

	assert.Equal(t, http.StatusBadRequest, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestHistory(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
		wantStatus int
	}{
		{name: "defaults", query: "", wantLimit: persona.DefaultHistoryLimit, wantOffset: 0, wantStatus: http.StatusOK},
		{name: "paged", query: "?limit=5&offset=10", wantLimit: 5, wantOffset: 10, wantStatus: http.StatusOK},
		{name: "clamped", query: "?limit=1000&offset=-3", wantLimit: persona.MaxHistoryLimit, wantOffset: 0, wantStatus: http.StatusOK},
		{name: "invalid", query: "?limit=abc", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockPersonaService{
				historyFunc: func(ctx context.Context, userID int64, limit, offset int) ([]*persona.Persona, error) {
					assert.Equal(t, int64(testUserID), userID)
					assert.Equal(t, tt.wantLimit, limit)
					assert.Equal(t, tt.wantOffset, offset)
					return []*persona.Persona{{ID: 1, Name: "otter"}}, nil
				},
			}
			srv := newTestServer(t, Dependencies{Personas: svc})

			rec := srv.do(t, http.MethodGet, "/api/fursona/history"+tt.query, nil, true)
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			fursonas := decode(t, rec)["fursonas"].([]interface{})
			require.Len(t, fursonas, 1)
			assert.Equal(t, "otter", fursonas[0].(map[string]interface{})["name"])
		})
	}
}
