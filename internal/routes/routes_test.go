package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/config"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/database/databasetest"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/events"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/gateway/gatewaytest"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/plans"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/repository"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/services"
)

const (
	adminToken    = "static-admin-token"
	webhookSecret = "whsec-test"
	jwtSecret     = "jwt-test-secret"
	channelID     = int64(-100500)
)

type testServer struct {
	app   *fiber.App
	gw    *gatewaytest.Fake
	users *services.UserService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	require.NoError(t, err)
	cfg := &config.Config{
		AdminToken:           adminToken,
		AdminUsername:        "ops",
		AdminPasswordHash:    string(hash),
		JWTSecret:            jwtSecret,
		JWTExpiry:            time.Hour,
		CORSOrigins:          "*",
		PaymentWebhookSecret: webhookSecret,
	}

	db := databasetest.Open(t)
	repo := repository.New(db)
	gw := gatewaytest.New()
	clock := services.SystemClock{}
	registry := plans.NewRegistry(plans.Defaults())

	subs := services.NewSubscriptionService(repo, gw, events.Noop{}, clock, channelID)
	users := services.NewUserService(repo)
	admin := services.NewAdminService(repo, gw, clock, nil)
	reconciler := services.NewReconciler(repo, gw, events.Noop{}, clock, services.ReconcilerConfig{
		ChannelID: channelID, Interval: time.Hour, ReminderWindow: 24 * time.Hour, MaxEvictionAttempts: 3,
	})
	payments := services.NewPaymentService(repo, subs, registry, gw)

	app := fiber.New()
	Setup(app, cfg, Handlers{
		Health:  handlers.NewHealthHandler(db, registry),
		Auth:    handlers.NewAuthHandler(services.NewAuthService(cfg, clock)),
		Admin:   handlers.NewAdminHandler(users, subs, admin, reconciler),
		Webhook: handlers.NewWebhookHandler(payments, webhookSecret),
	})
	return &testServer{app: app, gw: gw, users: users}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func (s *testServer) register(t *testing.T, platformID int64, email string) {
	t.Helper()
	_, err := s.users.Register(context.Background(), services.RegisterRequest{
		PlatformID: platformID, FullName: "Test User", Phone: "+79990000000", Email: email,
	})
	require.NoError(t, err)
}

var asAdmin = map[string]string{"X-Admin-Token": adminToken}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(3), body["plans"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminAuth(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(t, http.MethodGet, "/api/admin/users", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = s.do(t, http.MethodGet, "/api/admin/users", nil, map[string]string{"X-Admin-Token": "nope"})
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = s.do(t, http.MethodGet, "/api/admin/users", nil, asAdmin)
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodPost, "/api/admin/login", map[string]string{"username": "ops", "password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, body := s.do(t, http.MethodPost, "/api/admin/login", map[string]string{"username": "ops", "password": "hunter22"}, nil)
	require.Equal(t, http.StatusOK, code)
	token, _ := body["access_token"].(string)
	require.NotEmpty(t, token)

	code, body = s.do(t, http.MethodGet, "/api/admin/stats", nil, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "active_subscriptions")

	userToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "someone", "role": "user", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	code, _ = s.do(t, http.MethodGet, "/api/admin/stats", nil, map[string]string{"Authorization": "Bearer " + userToken})
	assert.Equal(t, http.StatusForbidden, code)
}

func TestAdminSubscriptionLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.register(t, 1, "one@example.com")

	code, _ := s.do(t, http.MethodPost, "/api/admin/users/abc/subscription", map[string]int{"days": 5}, asAdmin)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, http.MethodPost, "/api/admin/users/999/subscription", map[string]int{"days": 5}, asAdmin)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(t, http.MethodPost, "/api/admin/users/1/subscription", map[string]int{"days": 0}, asAdmin)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := s.do(t, http.MethodPost, "/api/admin/users/1/subscription", map[string]int{"months": 1}, asAdmin)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, true, body["is_active"])

	code, body = s.do(t, http.MethodGet, "/api/admin/users/1/subscription", nil, asAdmin)
	require.Equal(t, http.StatusOK, code)
	status := body["status"].(map[string]any)
	assert.Equal(t, true, status["is_active"])
	assert.Len(t, body["history"], 1)

	s.gw.Join(1)
	code, _ = s.do(t, http.MethodDelete, "/api/admin/users/1/subscription", nil, asAdmin)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, s.gw.IsMember(1))
	code, _ = s.do(t, http.MethodDelete, "/api/admin/users/1/subscription", nil, asAdmin)
	assert.Equal(t, http.StatusForbidden, code)

	code, body = s.do(t, http.MethodPost, "/api/admin/broadcast", map[string]string{"text": "hi"}, asAdmin)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["sent"])

	code, body = s.do(t, http.MethodPost, "/api/admin/sweeps", nil, asAdmin)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "expired")
}

func TestPaymentWebhook(t *testing.T) {
	s := newTestServer(t)
	s.register(t, 7, "seven@example.com")
	payload := map[string]any{"provider": "stripe", "external_id": "evt_1", "platform_id": 7, "plan_id": "1m"}

	code, _ := s.do(t, http.MethodPost, "/api/webhooks/payments", payload, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	secret := map[string]string{"X-Webhook-Secret": webhookSecret}
	code, body := s.do(t, http.MethodPost, "/api/webhooks/payments", payload, secret)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["duplicate"])
	first := body["subscription_id"]
	require.NotNil(t, first)

	code, body = s.do(t, http.MethodPost, "/api/webhooks/payments", payload, secret)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["duplicate"])
	assert.Equal(t, first, body["subscription_id"])

	payload["external_id"] = "evt_2"
	payload["platform_id"] = 404
	code, _ = s.do(t, http.MethodPost, "/api/webhooks/payments", payload, secret)
	assert.Equal(t, http.StatusNotFound, code)
}
