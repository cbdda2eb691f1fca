package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/plyoox/notificator/internal/adapter/metrics"
	"github.com/plyoox/notificator/internal/platform/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockNotificationService struct {
	createFn       func(ctx context.Context, code string, guildID int64) (int64, error)
	releaseFn      func(ctx context.Context, registrationID int64) error
	releaseGuildFn func(ctx context.Context, guildID int64) error
}

func (m *mockNotificationService) CreateNotification(ctx context.Context, code string, guildID int64) (int64, error) {
	if m.createFn != nil {
		return m.createFn(ctx, code, guildID)
	}
	return 0, errors.New("not implemented")
}

func (m *mockNotificationService) ReleaseRegistration(ctx context.Context, registrationID int64) error {
	if m.releaseFn != nil {
		return m.releaseFn(ctx, registrationID)
	}
	return nil
}

func (m *mockNotificationService) ReleaseGuild(ctx context.Context, guildID int64) error {
	if m.releaseGuildFn != nil {
		return m.releaseGuildFn(ctx, guildID)
	}
	return nil
}

type mockAuthorizer struct{}

func (mockAuthorizer) AuthURL(state string) string {
	return "https://id.twitch.tv/oauth2/authorize?state=" + state
}

// --- Test helpers ---

type testServer struct {
	*Server
	registry *prometheus.Registry
}

func newTestServer(t *testing.T, app notificationService, opts ...func(*Server)) *testServer {
	t.Helper()

	reg := prometheus.NewRegistry()
	cfg := &config.Config{Port: "0", APIRateLimit: 1000, APIRateBurst: 1000}

	srv := &Server{
		config:         cfg,
		app:            app,
		authorizer:     mockAuthorizer{},
		webhookHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }),
		metricsHandler: metrics.Handler(reg),
		httpMetrics:    metrics.NewHTTPMetrics(reg),
	}
	for _, opt := range opts {
		opt(srv)
	}

	built := NewServer(srv.config, srv.app, srv.authorizer, srv.webhookHandler, srv.metricsHandler, srv.httpMetrics, srv.healthChecks)
	return &testServer{Server: built, registry: reg}
}

func withWebhookHandler(h http.Handler) func(*Server) {
	return func(s *Server) {
		s.webhookHandler = h
	}
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

func withRateLimit(perSecond float64, burst int) func(*Server) {
	return func(s *Server) {
		s.config.APIRateLimit = perSecond
		s.config.APIRateBurst = burst
	}
}

func (ts *testServer) do(t *testing.T, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	require.NotZero(t, rec.Code)
	return rec
}
