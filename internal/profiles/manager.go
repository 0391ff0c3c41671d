package profiles

import (
	"context"
	"errors"

	"github.com/storefrontlabs/billing-sync/internal/billing"
	"github.com/storefrontlabs/billing-sync/internal/gateways"
	"github.com/storefrontlabs/billing-sync/pkg/db/models"
	"github.com/storefrontlabs/billing-sync/pkg/enums"
	"github.com/storefrontlabs/billing-sync/pkg/logger"
)

// Manager is the single entry point over the configured gateways. It resolves
// which backend owns a subscription's profile, memoizes that resolution onto
// the subscription row, and delegates every operation to the owning gateway.
type Manager struct {
	gateways []gateways.ProfileGateway
	repo     billing.Repository
	log      *logger.Logger
}

// ManagerParams configures the manager. Gateways are probed in slice order
// when a subscription carries no preferred gateway yet.
type ManagerParams struct {
	Gateways   []gateways.ProfileGateway
	Repository billing.Repository
	Logger     *logger.Logger
}

// NewManager validates the params and builds a Manager.
func NewManager(params ManagerParams) (*Manager, error) {
	if len(params.Gateways) == 0 {
		return nil, errors.New("profiles: at least one gateway is required")
	}
	if params.Repository == nil {
		return nil, errors.New("profiles: subscription repository is required")
	}
	if params.Logger == nil {
		return nil, errors.New("profiles: logger is required")
	}
	return &Manager{
		gateways: params.Gateways,
		repo:     params.Repository,
		log:      params.Logger,
	}, nil
}

// Cancel cancels the remote profile.
func (m *Manager) Cancel(ctx context.Context, sub *models.Subscription, note string) gateways.Result {
	return m.dispatch(ctx, sub, "cancel", func(ctx context.Context, gw gateways.ProfileGateway) gateways.Result {
		return gw.CancelProfile(ctx, sub, note)
	})
}

// Suspend pauses billing on the remote profile.
func (m *Manager) Suspend(ctx context.Context, sub *models.Subscription, note string) gateways.Result {
	return m.dispatch(ctx, sub, "suspend", func(ctx context.Context, gw gateways.ProfileGateway) gateways.Result {
		return gw.SuspendProfile(ctx, sub, note)
	})
}

// Reactivate resumes billing on a suspended remote profile.
func (m *Manager) Reactivate(ctx context.Context, sub *models.Subscription, note string) gateways.Result {
	return m.dispatch(ctx, sub, "reactivate", func(ctx context.Context, gw gateways.ProfileGateway) gateways.Result {
		return gw.ReactivateProfile(ctx, sub, note)
	})
}

// GetStatus reads the remote profile's current state.
func (m *Manager) GetStatus(ctx context.Context, sub *models.Subscription) gateways.Result {
	return m.dispatch(ctx, sub, "get_status", func(ctx context.Context, gw gateways.ProfileGateway) gateways.Result {
		return gw.GetProfileStatus(ctx, sub)
	})
}

// UpdateBillingCycles changes the total number of billing cycles.
func (m *Manager) UpdateBillingCycles(ctx context.Context, sub *models.Subscription, billingCycles int) gateways.Result {
	return m.dispatch(ctx, sub, "update_billing_cycles", func(ctx context.Context, gw gateways.ProfileGateway) gateways.Result {
		return gw.UpdateBillingCycles(ctx, sub, billingCycles)
	})
}

// UpdatePaymentSource swaps the funding instrument on the remote profile.
func (m *Manager) UpdatePaymentSource(ctx context.Context, sub *models.Subscription, source gateways.PaymentSource) gateways.Result {
	return m.dispatch(ctx, sub, "update_payment_source", func(ctx context.Context, gw gateways.ProfileGateway) gateways.Result {
		return gw.UpdatePaymentSource(ctx, sub, source)
	})
}

func (m *Manager) dispatch(ctx context.Context, sub *models.Subscription, operation string, call func(context.Context, gateways.ProfileGateway) gateways.Result) gateways.Result {
	if sub == nil || sub.ProfileID == "" {
		return gateways.Result{
			Success:   false,
			Status:    enums.ProfileStatusUnknown,
			Message:   "subscription has no profile reference",
			Retryable: false,
		}
	}
	gw, resolveFailure, ok := m.resolveGateway(ctx, sub)
	if !ok {
		return resolveFailure
	}
	ctx = m.log.WithFields(ctx, map[string]any{
		"operation": operation,
		"source":    gw.Kind().String(),
	})
	ctx = m.log.WithProfileID(ctx, sub.ProfileID)
	return call(ctx, gw)
}

// resolveGateway picks the gateway owning the subscription's profile. A valid
// preferred_gateway short-circuits; otherwise gateways are probed in order and
// the first that recognizes the profile is memoized onto the row.
func (m *Manager) resolveGateway(ctx context.Context, sub *models.Subscription) (gateways.ProfileGateway, gateways.Result, bool) {
	if kind := sub.GatewayKind(); kind.IsValid() {
		if gw := m.gatewayFor(kind); gw != nil {
			return gw, gateways.Result{}, true
		}
		m.log.Warn(m.log.WithProfileID(ctx, sub.ProfileID), "preferred gateway not configured, probing instead")
	}

	var transientFailure *gateways.Result
	for _, gw := range m.gateways {
		probe := gw.GetProfileStatus(ctx, sub)
		if probe.Success {
			m.memoizeGateway(ctx, sub, gw.Kind())
			return gw, gateways.Result{}, true
		}
		if probe.Retryable && transientFailure == nil {
			failed := probe
			transientFailure = &failed
		}
	}

	// A transient probe failure is not proof the profile is unknown; keep
	// the retryable classification so the job comes back later.
	if transientFailure != nil {
		return nil, *transientFailure, false
	}
	return nil, gateways.Result{
		Success:   false,
		Status:    enums.ProfileStatusUnknown,
		Message:   "profile not found",
		Retryable: false,
	}, false
}

func (m *Manager) gatewayFor(kind enums.GatewayKind) gateways.ProfileGateway {
	for _, gw := range m.gateways {
		if gw.Kind() == kind {
			return gw
		}
	}
	return nil
}

func (m *Manager) memoizeGateway(ctx context.Context, sub *models.Subscription, kind enums.GatewayKind) {
	if sub.GatewayKind() == kind {
		return
	}
	resolved := kind
	sub.PreferredGateway = &resolved
	if err := m.repo.SetPreferredGateway(ctx, sub.ID, kind); err != nil {
		// The resolution still holds for this call; only the memo is lost.
		m.log.Error(m.log.WithProfileID(ctx, sub.ProfileID), "persisting preferred gateway failed", err)
	}
}
