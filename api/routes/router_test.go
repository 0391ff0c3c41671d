package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/storefrontlabs/billing-sync/internal/gateways"
	"github.com/storefrontlabs/billing-sync/internal/lifecycle"
	"github.com/storefrontlabs/billing-sync/internal/refresh"
	pkgauth "github.com/storefrontlabs/billing-sync/pkg/auth"
	"github.com/storefrontlabs/billing-sync/pkg/config"
	"github.com/storefrontlabs/billing-sync/pkg/db/models"
	"github.com/storefrontlabs/billing-sync/pkg/enums"
	"github.com/storefrontlabs/billing-sync/pkg/logger"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubLifecycle struct {
	sub *models.Subscription
}

func (s *stubLifecycle) Cancel(_ context.Context, _ uuid.UUID, _ string) (*models.Subscription, error) {
	s.sub.Status = enums.ProfileStatusCancelled
	return s.sub, nil
}

func (s *stubLifecycle) Suspend(_ context.Context, _ uuid.UUID, _ string) (*models.Subscription, error) {
	s.sub.Status = enums.ProfileStatusSuspended
	return s.sub, nil
}

func (s *stubLifecycle) Reactivate(_ context.Context, _ uuid.UUID, _ string) (*models.Subscription, error) {
	s.sub.Status = enums.ProfileStatusActive
	return s.sub, nil
}

func (s *stubLifecycle) UpdateBillingCycles(_ context.Context, _ uuid.UUID, _ int) (*models.Subscription, error) {
	return s.sub, nil
}

func (s *stubLifecycle) UpdatePaymentSource(_ context.Context, _ uuid.UUID, _ gateways.PaymentSource) (*models.Subscription, error) {
	return s.sub, nil
}

func (s *stubLifecycle) Status(_ context.Context, _ uuid.UUID) (*lifecycle.StatusView, error) {
	return &lifecycle.StatusView{
		Subscription:   s.sub,
		Status:         s.sub.Status,
		RefreshPending: true,
		RefreshReason:  "stale_cache",
	}, nil
}

type stubQueueAdmin struct{}

func (stubQueueAdmin) Metrics(context.Context) (refresh.Metrics, error) {
	return refresh.Metrics{Pending: 2, Locked: 1, Total: 3}, nil
}

func (stubQueueAdmin) RequeueDead(context.Context) (int64, error) {
	return 4, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.App.Env = "test"
	cfg.JWT = config.JWTConfig{
		Secret:            "router-test-secret",
		Issuer:            "billing-sync",
		ExpirationMinutes: 5,
	}
	return cfg
}

func testRouter(t *testing.T) (http.Handler, *config.Config) {
	t.Helper()
	cfg := testConfig()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	sub := &models.Subscription{
		ID:         uuid.New(),
		CustomerID: uuid.New(),
		ProfileID:  "I-ROUTER1",
		Status:     enums.ProfileStatusActive,
	}
	handler := NewRouter(cfg, logg, stubPinger{}, stubPinger{}, &stubLifecycle{sub: sub}, stubQueueAdmin{})
	return handler, cfg
}

func bearerToken(t *testing.T, cfg *config.Config, scope string) string {
	t.Helper()
	token, err := pkgauth.MintServiceToken(cfg.JWT, time.Now(), "router-test", scope)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token
}

func TestHealthEndpointsAreOpen(t *testing.T) {
	handler, _ := testRouter(t)
	for _, path := range []string{"/health/live", "/health/ready"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestLifecycleEndpointsRequireAuth(t *testing.T) {
	handler, _ := testRouter(t)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/"+uuid.NewString()+"/status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestSubscriptionStatusWithOpsToken(t *testing.T) {
	handler, cfg := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/"+uuid.NewString()+"/status", nil)
	req.Header.Set("Authorization", bearerToken(t, cfg, pkgauth.ScopeOps))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var envelope struct {
		Data struct {
			Status         string `json:"status"`
			RefreshPending bool   `json:"refresh_pending"`
			RefreshReason  string `json:"refresh_reason"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.Status != "Active" || !envelope.Data.RefreshPending {
		t.Fatalf("unexpected payload %+v", envelope.Data)
	}
}

func TestCancelEndpoint(t *testing.T) {
	handler, cfg := testRouter(t)
	body := strings.NewReader(`{"note":"customer asked"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/subscriptions/"+uuid.NewString()+"/cancel", body)
	req.Header.Set("Authorization", bearerToken(t, cfg, pkgauth.ScopeOps))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Cancelled") {
		t.Fatalf("expected cancelled subscription in response, got %s", rec.Body.String())
	}
}

func TestQueueAdminRequiresAdminScope(t *testing.T) {
	handler, cfg := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/queue/metrics", nil)
	req.Header.Set("Authorization", bearerToken(t, cfg, pkgauth.ScopeOps))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for ops scope, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/v1/queue/metrics", nil)
	req.Header.Set("Authorization", bearerToken(t, cfg, pkgauth.ScopeAdmin))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin scope, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"pending":2`) {
		t.Fatalf("unexpected metrics body %s", rec.Body.String())
	}
}

func TestInvalidSubscriptionIDIsRejected(t *testing.T) {
	handler, cfg := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/not-a-uuid/status", nil)
	req.Header.Set("Authorization", bearerToken(t, cfg, pkgauth.ScopeOps))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
