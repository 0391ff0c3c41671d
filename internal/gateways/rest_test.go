package gateways

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/storefrontlabs/billing-sync/pkg/db/models"
	"github.com/storefrontlabs/billing-sync/pkg/enums"
	"github.com/storefrontlabs/billing-sync/pkg/paypal"
)

type stubRest struct {
	getResp *paypal.RestSubscription
	getErr  error

	suspendErr  error
	activateErr error
	cancelErr   error
	patchErr    error

	cancelReason string
	patchOps     []paypal.PatchOp
}

func (s *stubRest) GetSubscription(ctx context.Context, id string) (*paypal.RestSubscription, error) {
	return s.getResp, s.getErr
}

func (s *stubRest) SuspendSubscription(ctx context.Context, id, reason string) error {
	return s.suspendErr
}

func (s *stubRest) ActivateSubscription(ctx context.Context, id, reason string) error {
	return s.activateErr
}

func (s *stubRest) CancelSubscription(ctx context.Context, id, reason string) error {
	s.cancelReason = reason
	return s.cancelErr
}

func (s *stubRest) PatchSubscription(ctx context.Context, id string, ops []paypal.PatchOp) error {
	s.patchOps = ops
	return s.patchErr
}

func restSub() *models.Subscription {
	return &models.Subscription{
		ID:         uuid.New(),
		CustomerID: uuid.New(),
		ProfileID:  "SUB-REST-9XK",
		Status:     enums.ProfileStatusActive,
	}
}

func TestRestGetProfileStatusNormalizes(t *testing.T) {
	stub := &stubRest{getResp: &paypal.RestSubscription{
		ID:     "SUB-REST-9XK",
		PlanID: "P-PLAN1",
		Status: "ACTIVE",
		BillingInfo: paypal.RestBillingInfo{
			NextBillingTime: "2026-09-14T10:00:00Z",
			CycleExecutions: []paypal.RestCycleExecution{
				{TenureType: "REGULAR", CyclesCompleted: 3, TotalCycles: 12},
			},
		},
	}}
	g := NewRestGateway(stub)

	res := g.GetProfileStatus(context.Background(), restSub())
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Status != enums.ProfileStatusActive {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Source != enums.GatewayKindREST {
		t.Fatalf("source = %s", res.Source)
	}
	if res.Profile["status"] != "ACTIVE" {
		t.Fatalf("raw snapshot missing status: %v", res.Profile)
	}
}

// Both backends must land on the same enumeration for equivalent states.
func TestStatusNormalizationAgreesAcrossBackends(t *testing.T) {
	cases := []struct {
		legacy string
		rest   string
		want   enums.ProfileStatus
	}{
		{"Active", "ACTIVE", enums.ProfileStatusActive},
		{"Suspended", "SUSPENDED", enums.ProfileStatusSuspended},
		{"Cancelled", "CANCELLED", enums.ProfileStatusCancelled},
		{"Expired", "EXPIRED", enums.ProfileStatusExpired},
		{"Pending", "APPROVAL_PENDING", enums.ProfileStatusPending},
	}
	for _, tc := range cases {
		if got := NormalizeStatus(tc.legacy); got != tc.want {
			t.Fatalf("legacy %q -> %s, want %s", tc.legacy, got, tc.want)
		}
		if got := NormalizeStatus(tc.rest); got != tc.want {
			t.Fatalf("rest %q -> %s, want %s", tc.rest, got, tc.want)
		}
	}
	if got := NormalizeStatus("SOMETHING_NEW"); got != enums.ProfileStatusUnknown {
		t.Fatalf("unrecognized status should map to Unknown, got %s", got)
	}
}

func TestRestTransportFailureIsRetryable(t *testing.T) {
	stub := &stubRest{getErr: errors.New("context deadline exceeded")}
	g := NewRestGateway(stub)

	res := g.GetProfileStatus(context.Background(), restSub())
	if res.Success || !res.Retryable {
		t.Fatalf("transport failure must be retryable, got %+v", res)
	}
}

func TestRestCancelDefaultsNote(t *testing.T) {
	stub := &stubRest{}
	g := NewRestGateway(stub)

	res := g.CancelProfile(context.Background(), restSub(), "")
	if !res.Success || res.Status != enums.ProfileStatusCancelled {
		t.Fatalf("expected cancelled, got %+v", res)
	}
	if stub.cancelReason == "" {
		t.Fatalf("cancel reason should default when note is empty")
	}
}

func TestRestUpdatePaymentSourcePatches(t *testing.T) {
	stub := &stubRest{}
	g := NewRestGateway(stub)

	res := g.UpdatePaymentSource(context.Background(), restSub(), PaymentSource{Token: "tok_88", Type: "card"})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(stub.patchOps) != 1 || stub.patchOps[0].Path != "/payment_source" {
		t.Fatalf("unexpected patch ops: %+v", stub.patchOps)
	}

	res = g.UpdatePaymentSource(context.Background(), restSub(), PaymentSource{})
	if res.Success || res.Retryable {
		t.Fatalf("missing token must fail permanently")
	}
}

func TestRestNilClientNotRetryable(t *testing.T) {
	g := NewRestGateway(nil)
	res := g.GetProfileStatus(context.Background(), restSub())
	if res.Success || res.Retryable {
		t.Fatalf("unconfigured gateway must be a permanent failure, got %+v", res)
	}
}
