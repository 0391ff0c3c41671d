package gateways

import (
	"context"
	"fmt"

	"github.com/storefrontlabs/billing-sync/pkg/db/models"
	"github.com/storefrontlabs/billing-sync/pkg/enums"
	"github.com/storefrontlabs/billing-sync/pkg/paypal"
)

// restAPI is the subset of the REST subscriptions client the gateway uses.
type restAPI interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*paypal.RestSubscription, error)
	SuspendSubscription(ctx context.Context, subscriptionID, reason string) error
	ActivateSubscription(ctx context.Context, subscriptionID, reason string) error
	CancelSubscription(ctx context.Context, subscriptionID, reason string) error
	PatchSubscription(ctx context.Context, subscriptionID string, ops []paypal.PatchOp) error
}

// RestGateway adapts the REST subscriptions API to the shared gateway
// contract.
type RestGateway struct {
	client restAPI
}

// NewRestGateway wraps a REST subscriptions client.
func NewRestGateway(client restAPI) *RestGateway {
	return &RestGateway{client: client}
}

func (g *RestGateway) Kind() enums.GatewayKind { return enums.GatewayKindREST }

func (g *RestGateway) CancelProfile(ctx context.Context, sub *models.Subscription, note string) Result {
	if bad := g.guard(sub); bad != nil {
		return *bad
	}
	if err := g.client.CancelSubscription(ctx, sub.ProfileID, noteOrDefault(note)); err != nil {
		return g.callFailure("cancel", err)
	}
	return g.lifecycleSuccess(enums.ProfileStatusCancelled)
}

func (g *RestGateway) SuspendProfile(ctx context.Context, sub *models.Subscription, note string) Result {
	if bad := g.guard(sub); bad != nil {
		return *bad
	}
	if err := g.client.SuspendSubscription(ctx, sub.ProfileID, noteOrDefault(note)); err != nil {
		return g.callFailure("suspend", err)
	}
	return g.lifecycleSuccess(enums.ProfileStatusSuspended)
}

func (g *RestGateway) ReactivateProfile(ctx context.Context, sub *models.Subscription, note string) Result {
	if bad := g.guard(sub); bad != nil {
		return *bad
	}
	if err := g.client.ActivateSubscription(ctx, sub.ProfileID, noteOrDefault(note)); err != nil {
		return g.callFailure("reactivate", err)
	}
	return g.lifecycleSuccess(enums.ProfileStatusActive)
}

func (g *RestGateway) GetProfileStatus(ctx context.Context, sub *models.Subscription) Result {
	if bad := g.guard(sub); bad != nil {
		return *bad
	}
	resp, err := g.client.GetSubscription(ctx, sub.ProfileID)
	if err != nil {
		return g.callFailure("lookup", err)
	}
	if resp == nil {
		return failure(g.Kind(), "empty subscription response", true)
	}
	return Result{
		Success: true,
		Status:  NormalizeStatus(resp.Status),
		Profile: snapshotFromRest(resp),
		Source:  g.Kind(),
	}
}

func (g *RestGateway) UpdateBillingCycles(ctx context.Context, sub *models.Subscription, billingCycles int) Result {
	if bad := g.guard(sub); bad != nil {
		return *bad
	}
	if billingCycles < 0 {
		return failure(g.Kind(), "billing cycles must not be negative", false)
	}
	ops := []paypal.PatchOp{{
		Op:    "replace",
		Path:  "/plan/billing_cycles/@sequence==1/total_cycles",
		Value: billingCycles,
	}}
	if err := g.client.PatchSubscription(ctx, sub.ProfileID, ops); err != nil {
		return g.callFailure("update billing cycles", err)
	}
	return g.lifecycleSuccess(sub.Status)
}

func (g *RestGateway) UpdatePaymentSource(ctx context.Context, sub *models.Subscription, source PaymentSource) Result {
	if bad := g.guard(sub); bad != nil {
		return *bad
	}
	if source.Token == "" {
		return failure(g.Kind(), "payment source token is required", false)
	}
	ops := []paypal.PatchOp{{
		Op:   "replace",
		Path: "/payment_source",
		Value: map[string]any{
			"token": map[string]string{
				"id":   source.Token,
				"type": source.Type,
			},
		},
	}}
	if err := g.client.PatchSubscription(ctx, sub.ProfileID, ops); err != nil {
		return g.callFailure("update payment source", err)
	}
	return g.lifecycleSuccess(sub.Status)
}

func (g *RestGateway) guard(sub *models.Subscription) *Result {
	if g.client == nil {
		r := failure(g.Kind(), "rest gateway not configured", false)
		return &r
	}
	if sub == nil || sub.ProfileID == "" {
		r := failure(g.Kind(), "subscription profile id is required", false)
		return &r
	}
	return nil
}

func (g *RestGateway) lifecycleSuccess(status enums.ProfileStatus) Result {
	return Result{
		Success: true,
		Status:  status,
		Source:  g.Kind(),
	}
}

func (g *RestGateway) callFailure(op string, err error) Result {
	if paypal.IsNotFound(err) {
		return failure(g.Kind(), "subscription not found", false)
	}
	return failure(g.Kind(), fmt.Sprintf("rest %s: %v", op, err), paypal.IsRetryable(err))
}

func noteOrDefault(note string) string {
	if note == "" {
		return "requested by storefront"
	}
	return note
}

func snapshotFromRest(resp *paypal.RestSubscription) map[string]any {
	snapshot := map[string]any{
		"id":         resp.ID,
		"plan_id":    resp.PlanID,
		"status":     resp.Status,
		"start_time": resp.StartTime,
	}
	billing := map[string]any{
		"next_billing_time":     resp.BillingInfo.NextBillingTime,
		"failed_payments_count": resp.BillingInfo.FailedPaymentsCount,
	}
	if len(resp.BillingInfo.CycleExecutions) > 0 {
		cycles := make([]map[string]any, 0, len(resp.BillingInfo.CycleExecutions))
		for _, exec := range resp.BillingInfo.CycleExecutions {
			cycles = append(cycles, map[string]any{
				"tenure_type":      exec.TenureType,
				"cycles_completed": exec.CyclesCompleted,
				"total_cycles":     exec.TotalCycles,
			})
		}
		billing["cycle_executions"] = cycles
	}
	snapshot["billing_info"] = billing
	return snapshot
}
