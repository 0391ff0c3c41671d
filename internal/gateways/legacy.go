package gateways

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/storefrontlabs/billing-sync/pkg/db/models"
	"github.com/storefrontlabs/billing-sync/pkg/enums"
	"github.com/storefrontlabs/billing-sync/pkg/paypal"
)

// nvpAPI is the subset of the legacy transport the gateway relies on.
type nvpAPI interface {
	GetProfileDetails(ctx context.Context, profileID string) (paypal.NVPResponse, error)
	ManageProfileStatus(ctx context.Context, profileID, action, note string) (paypal.NVPResponse, error)
	UpdateProfile(ctx context.Context, profileID string, fields url.Values) (paypal.NVPResponse, error)
}

// nvpRetryableCodes are API-level failures that reflect backend trouble
// rather than a bad request: internal error and the throttling code.
var nvpRetryableCodes = map[string]bool{
	"10001": true,
	"10002": false, // auth failure, requeueing will not help
	"11089": true,  // transaction refused due to system processing
}

// LegacyGateway adapts the NVP recurring-payments-profile API to the shared
// gateway contract.
type LegacyGateway struct {
	client nvpAPI
}

// NewLegacyGateway wraps a legacy NVP client.
func NewLegacyGateway(client nvpAPI) *LegacyGateway {
	return &LegacyGateway{client: client}
}

func (g *LegacyGateway) Kind() enums.GatewayKind { return enums.GatewayKindLegacy }

func (g *LegacyGateway) CancelProfile(ctx context.Context, sub *models.Subscription, note string) Result {
	return g.manage(ctx, sub, "Cancel", note, enums.ProfileStatusCancelled)
}

func (g *LegacyGateway) SuspendProfile(ctx context.Context, sub *models.Subscription, note string) Result {
	return g.manage(ctx, sub, "Suspend", note, enums.ProfileStatusSuspended)
}

func (g *LegacyGateway) ReactivateProfile(ctx context.Context, sub *models.Subscription, note string) Result {
	return g.manage(ctx, sub, "Reactivate", note, enums.ProfileStatusActive)
}

func (g *LegacyGateway) GetProfileStatus(ctx context.Context, sub *models.Subscription) Result {
	if bad := g.guard(sub); bad != nil {
		return *bad
	}
	resp, err := g.client.GetProfileDetails(ctx, sub.ProfileID)
	if err != nil {
		return failure(g.Kind(), fmt.Sprintf("legacy profile lookup: %v", err), true)
	}
	if !resp.OK() {
		return g.apiFailure(resp)
	}
	return Result{
		Success: true,
		Status:  NormalizeStatus(resp.Get("STATUS")),
		Profile: snapshotFromNVP(resp),
		Source:  g.Kind(),
	}
}

func (g *LegacyGateway) UpdateBillingCycles(ctx context.Context, sub *models.Subscription, billingCycles int) Result {
	if bad := g.guard(sub); bad != nil {
		return *bad
	}
	if billingCycles < 0 {
		return failure(g.Kind(), "billing cycles must not be negative", false)
	}
	fields := url.Values{}
	fields.Set("TOTALBILLINGCYCLES", strconv.Itoa(billingCycles))
	return g.update(ctx, sub, fields)
}

func (g *LegacyGateway) UpdatePaymentSource(ctx context.Context, sub *models.Subscription, source PaymentSource) Result {
	if bad := g.guard(sub); bad != nil {
		return *bad
	}
	if source.Token == "" {
		return failure(g.Kind(), "payment source token is required", false)
	}
	fields := url.Values{}
	fields.Set("PAYMENTSOURCETOKEN", source.Token)
	if source.Type != "" {
		fields.Set("PAYMENTSOURCETYPE", source.Type)
	}
	return g.update(ctx, sub, fields)
}

func (g *LegacyGateway) manage(ctx context.Context, sub *models.Subscription, action, note string, resulting enums.ProfileStatus) Result {
	if bad := g.guard(sub); bad != nil {
		return *bad
	}
	resp, err := g.client.ManageProfileStatus(ctx, sub.ProfileID, action, note)
	if err != nil {
		return failure(g.Kind(), fmt.Sprintf("legacy %s: %v", action, err), true)
	}
	if !resp.OK() {
		return g.apiFailure(resp)
	}
	// ManageRecurringPaymentsProfileStatus echoes only the profile id; the
	// resulting status is implied by the action that succeeded.
	return Result{
		Success: true,
		Status:  resulting,
		Profile: snapshotFromNVP(resp),
		Source:  g.Kind(),
	}
}

func (g *LegacyGateway) update(ctx context.Context, sub *models.Subscription, fields url.Values) Result {
	resp, err := g.client.UpdateProfile(ctx, sub.ProfileID, fields)
	if err != nil {
		return failure(g.Kind(), fmt.Sprintf("legacy profile update: %v", err), true)
	}
	if !resp.OK() {
		return g.apiFailure(resp)
	}
	return Result{
		Success: true,
		Status:  sub.Status,
		Profile: snapshotFromNVP(resp),
		Source:  g.Kind(),
	}
}

func (g *LegacyGateway) guard(sub *models.Subscription) *Result {
	if g.client == nil {
		r := failure(g.Kind(), "legacy gateway not configured", false)
		return &r
	}
	if sub == nil || sub.ProfileID == "" {
		r := failure(g.Kind(), "subscription profile id is required", false)
		return &r
	}
	return nil
}

func (g *LegacyGateway) apiFailure(resp paypal.NVPResponse) Result {
	return failure(g.Kind(), resp.ErrorMessage(), nvpRetryableCodes[resp.ErrorCode()])
}

func snapshotFromNVP(resp paypal.NVPResponse) map[string]any {
	snapshot := make(map[string]any, len(resp))
	for key, values := range resp {
		if len(values) == 1 {
			snapshot[key] = values[0]
			continue
		}
		snapshot[key] = values
	}
	return snapshot
}
