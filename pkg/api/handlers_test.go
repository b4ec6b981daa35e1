package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/fursona/pkg/auth"
	"github.com/platinummonkey/fursona/pkg/billing"
	"github.com/platinummonkey/fursona/pkg/middleware"
	"github.com/platinummonkey/fursona/pkg/observability"
	"github.com/platinummonkey/fursona/pkg/persona"
)

type mockAuthService struct {
	registerFunc func(ctx context.Context, email, password, name string) (*auth.User, string, error)
	loginFunc    func(ctx context.Context, email, password string) (*auth.User, string, error)
	getUserFunc  func(ctx context.Context, id int64) (*auth.User, error)
}

func (m *mockAuthService) Register(ctx context.Context, email, password, name string) (*auth.User, string, error) {
	return m.registerFunc(ctx, email, password, name)
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*auth.User, string, error) {
	return m.loginFunc(ctx, email, password)
}

func (m *mockAuthService) GetUser(ctx context.Context, id int64) (*auth.User, error) {
	if m.getUserFunc == nil {
		return &auth.User{ID: id, Email: "fox@example.com"}, nil
	}
	return m.getUserFunc(ctx, id)
}

type mockPersonaService struct {
	generateFunc func(ctx context.Context, req persona.GenerateRequest) (*persona.GenerateResult, error)
	historyFunc  func(ctx context.Context, userID int64, limit, offset int) ([]*persona.Persona, error)
}

func (m *mockPersonaService) Generate(ctx context.Context, req persona.GenerateRequest) (*persona.GenerateResult, error) {
	return m.generateFunc(ctx, req)
}

func (m *mockPersonaService) History(ctx context.Context, userID int64, limit, offset int) ([]*persona.Persona, error) {
	return m.historyFunc(ctx, userID, limit, offset)
}

type mockSubscriptions struct {
	getFunc      func(ctx context.Context, userID int64) (*billing.Subscription, error)
	paymentsFunc func(ctx context.Context, userID int64, limit int) ([]*billing.Payment, error)
}

func (m *mockSubscriptions) GetByUserID(ctx context.Context, userID int64) (*billing.Subscription, error) {
	return m.getFunc(ctx, userID)
}

func (m *mockSubscriptions) ListPayments(ctx context.Context, userID int64, limit int) ([]*billing.Payment, error) {
	return m.paymentsFunc(ctx, userID, limit)
}

type mockCheckout struct {
	enabled      bool
	checkoutFunc func(ctx context.Context, userID int64, email string, plan billing.PlanType, priceID string) (*billing.CheckoutSession, error)
	portalFunc   func(ctx context.Context, userID int64) (string, error)
}

func (m *mockCheckout) Enabled() bool { return m.enabled }

func (m *mockCheckout) CreateCheckout(ctx context.Context, userID int64, email string, plan billing.PlanType, priceID string) (*billing.CheckoutSession, error) {
	return m.checkoutFunc(ctx, userID, email, plan, priceID)
}

func (m *mockCheckout) CreatePortal(ctx context.Context, userID int64) (string, error) {
	return m.portalFunc(ctx, userID)
}

type webhookFunc func(ctx context.Context, payload []byte, signature string) error

func (f webhookFunc) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	return f(ctx, payload, signature)
}

const testUserID = 42

type testServer struct {
	*Server
	token string
}

// newTestServer fills in authentication and returns a token for testUserID
func newTestServer(t *testing.T, deps Dependencies) *testServer {
	t.Helper()
	tokens, err := auth.NewTokenManager("api-test-secret", time.Hour)
	require.NoError(t, err)
	token, err := tokens.Issue(&auth.User{ID: testUserID, Email: "fox@example.com"})
	require.NoError(t, err)

	deps.AuthMW = middleware.NewAuthMiddleware(tokens, nil)
	if deps.Auth == nil {
		deps.Auth = &mockAuthService{}
	}
	if deps.Catalog == nil {
		deps.Catalog = billing.DefaultCatalog("price_basic", "price_pro", true)
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetrics(prometheus.NewRegistry())
	}
	return &testServer{Server: NewServer(deps), token: token}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, authenticated bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authenticated {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, Dependencies{})
	rec := srv.do(t, http.MethodGet, "/api/health", nil, false)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestNotFound(t *testing.T) {
	srv := newTestServer(t, Dependencies{})
	rec := srv.do(t, http.MethodGet, "/api/nope", nil, false)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", decode(t, rec)["error"])
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{name: "created", wantStatus: http.StatusCreated},
		{name: "duplicate", err: auth.ErrUserExists, wantStatus: http.StatusConflict, wantError: "User already exists"},
		{name: "missing fields", err: auth.ErrMissingCredentials, wantStatus: http.StatusBadRequest, wantError: "Email and password required"},
		{name: "long password", err: auth.ErrPasswordTooLong, wantStatus: http.StatusBadRequest, wantError: auth.ErrPasswordTooLong.Error()},
		{name: "database down", err: errors.New("connection refused"), wantStatus: http.StatusInternalServerError, wantError: "Registration failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				registerFunc: func(ctx context.Context, email, password, name string) (*auth.User, string, error) {
					assert.Equal(t, "fox@example.com", email)
					assert.Equal(t, "hunter22", password)
					assert.Equal(t, "Fox", name)
					if tt.err != nil {
						return nil, "", tt.err
					}
					return &auth.User{ID: 7, Email: email, Name: name}, "tok", nil
				},
			}
			srv := newTestServer(t, Dependencies{Auth: svc})

			rec := srv.do(t, http.MethodPost, "/api/auth/register", map[string]string{
				"email":    "fox@example.com",
				"password": "hunter22",
				"name":     "Fox",
			}, false)

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decode(t, rec)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, body["error"])
				return
			}
			assert.Equal(t, "User registered successfully", body["message"])
			assert.Equal(t, "tok", body["token"])
			user := body["user"].(map[string]interface{})
			assert.Equal(t, float64(7), user["id"])
			assert.NotContains(t, user, "password_hash")
		})
	}
}

func TestRegister_BadJSON(t *testing.T) {
	srv := newTestServer(t, Dependencies{})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin(t *testing.T) {
	svc := &mockAuthService{
		loginFunc: func(ctx context.Context, email, password string) (*auth.User, string, error) {
			if password != "right" {
				return nil, "", auth.ErrInvalidCredentials
			}
			return &auth.User{ID: 7, Email: email}, "tok", nil
		},
	}
	srv := newTestServer(t, Dependencies{Auth: svc})

	rec := srv.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "a@b.c", "password": "wrong"}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", decode(t, rec)["error"])

	rec = srv.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "a@b.c", "password": "right"}, false)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Login successful", body["message"])
	assert.Equal(t, "tok", body["token"])
}

func TestLogin_RateLimited(t *testing.T) {
	svc := &mockAuthService{
		loginFunc: func(ctx context.Context, email, password string) (*auth.User, string, error) {
			return nil, "", auth.ErrInvalidCredentials
		},
	}
	srv := newTestServer(t, Dependencies{Auth: svc, LoginLimiter: middleware.NewRateLimiter(middleware.PerMinute(2))})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, srv.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "a@b.c", "password": "x"}, false).Code)
	}
	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, codes)
}

func TestMe(t *testing.T) {
	subs := &mockSubscriptions{
		getFunc: func(ctx context.Context, userID int64) (*billing.Subscription, error) {
			assert.Equal(t, int64(testUserID), userID)
			return &billing.Subscription{UserID: userID, PlanType: billing.PlanFree, GenerationsLimit: 5}, nil
		},
	}
	srv := newTestServer(t, Dependencies{Subscriptions: subs})

	rec := srv.do(t, http.MethodGet, "/api/auth/me", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/auth/me", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "fox@example.com", body["user"].(map[string]interface{})["email"])
	assert.Equal(t, "free", body["subscription"].(map[string]interface{})["plan_type"])
}

func TestMe_WithoutSubscription(t *testing.T) {
	subs := &mockSubscriptions{
		getFunc: func(ctx context.Context, userID int64) (*billing.Subscription, error) {
			return nil, &billing.NoSubscriptionError{UserID: userID}
		},
	}
	srv := newTestServer(t, Dependencies{Subscriptions: subs})

	rec := srv.do(t, http.MethodGet, "/api/auth/me", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode(t, rec)["subscription"])
}

func TestMe_UserGone(t *testing.T) {
	svc := &mockAuthService{
		getUserFunc: func(ctx context.Context, id int64) (*auth.User, error) {
			return nil, auth.ErrUserNotFound
		},
	}
	srv := newTestServer(t, Dependencies{Auth: svc})

	rec := srv.do(t, http.MethodGet, "/api/auth/me", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
