package lifecycle

import (
	"context"
	"encoding/json"
	goerrors "errors"

	"github.com/google/uuid"

	"github.com/storefrontlabs/billing-sync/internal/gateways"
	"github.com/storefrontlabs/billing-sync/internal/profiles"
	"github.com/storefrontlabs/billing-sync/pkg/db/models"
	"github.com/storefrontlabs/billing-sync/pkg/enums"
	"github.com/storefrontlabs/billing-sync/pkg/errors"
	"github.com/storefrontlabs/billing-sync/pkg/logger"
)

// gatewayUnavailableMessage is the only failure text customer-facing flows
// ever see; the underlying cause is logged, never exposed.
const gatewayUnavailableMessage = "we could not reach the payment provider, please try again"

// ProfileOps is the slice of the profile manager the service needs.
type ProfileOps interface {
	Cancel(ctx context.Context, sub *models.Subscription, note string) gateways.Result
	Suspend(ctx context.Context, sub *models.Subscription, note string) gateways.Result
	Reactivate(ctx context.Context, sub *models.Subscription, note string) gateways.Result
	UpdateBillingCycles(ctx context.Context, sub *models.Subscription, billingCycles int) gateways.Result
	UpdatePaymentSource(ctx context.Context, sub *models.Subscription, source gateways.PaymentSource) gateways.Result
}

// SnapshotCache is the read/invalidate surface of the profile cache.
type SnapshotCache interface {
	Resolve(ctx context.Context, sub *models.Subscription) profiles.Resolution
	Invalidate(ctx context.Context, customerID, profileID string) error
}

// RefreshEnqueuer schedules background refreshes.
type RefreshEnqueuer interface {
	Enqueue(ctx context.Context, customerID uuid.UUID, profileID string, jobContext json.RawMessage) (*models.RefreshJob, error)
}

// SubscriptionStore is the persistence surface of the service.
type SubscriptionStore interface {
	FindSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, id uuid.UUID, status enums.ProfileStatus) error
}

// Service handles customer-facing lifecycle commands against a subscription's
// remote profile: the command goes to the owning gateway, the local row and
// cache are updated, and a refresh is queued so the row converges with
// whatever the backend actually did.
type Service struct {
	manager ProfileOps
	store   SubscriptionStore
	cache   SnapshotCache
	queue   RefreshEnqueuer
	log     *logger.Logger
}

// ServiceParams configures the service.
type ServiceParams struct {
	Manager ProfileOps
	Store   SubscriptionStore
	Cache   SnapshotCache
	Queue   RefreshEnqueuer
	Logger  *logger.Logger
}

// NewService validates the params and builds a Service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Manager == nil {
		return nil, goerrors.New("lifecycle: profile manager is required")
	}
	if params.Store == nil {
		return nil, goerrors.New("lifecycle: subscription store is required")
	}
	if params.Cache == nil {
		return nil, goerrors.New("lifecycle: snapshot cache is required")
	}
	if params.Queue == nil {
		return nil, goerrors.New("lifecycle: refresh queue is required")
	}
	if params.Logger == nil {
		return nil, goerrors.New("lifecycle: logger is required")
	}
	return &Service{
		manager: params.Manager,
		store:   params.Store,
		cache:   params.Cache,
		queue:   params.Queue,
		log:     params.Logger,
	}, nil
}

// Cancel cancels the subscription's remote profile.
func (s *Service) Cancel(ctx context.Context, subscriptionID uuid.UUID, note string) (*models.Subscription, error) {
	return s.command(ctx, subscriptionID, enums.ProfileStatusCancelled, func(ctx context.Context, sub *models.Subscription) gateways.Result {
		return s.manager.Cancel(ctx, sub, note)
	})
}

// Suspend pauses billing on the subscription's remote profile.
func (s *Service) Suspend(ctx context.Context, subscriptionID uuid.UUID, note string) (*models.Subscription, error) {
	return s.command(ctx, subscriptionID, enums.ProfileStatusSuspended, func(ctx context.Context, sub *models.Subscription) gateways.Result {
		return s.manager.Suspend(ctx, sub, note)
	})
}

// Reactivate resumes billing on the subscription's remote profile.
func (s *Service) Reactivate(ctx context.Context, subscriptionID uuid.UUID, note string) (*models.Subscription, error) {
	return s.command(ctx, subscriptionID, enums.ProfileStatusActive, func(ctx context.Context, sub *models.Subscription) gateways.Result {
		return s.manager.Reactivate(ctx, sub, note)
	})
}

// UpdateBillingCycles changes the remote profile's total billing cycles.
func (s *Service) UpdateBillingCycles(ctx context.Context, subscriptionID uuid.UUID, billingCycles int) (*models.Subscription, error) {
	if billingCycles < 0 {
		return nil, errors.New(errors.CodeValidation, "billing cycles must not be negative")
	}
	return s.command(ctx, subscriptionID, "", func(ctx context.Context, sub *models.Subscription) gateways.Result {
		return s.manager.UpdateBillingCycles(ctx, sub, billingCycles)
	})
}

// UpdatePaymentSource swaps the funding instrument on the remote profile.
func (s *Service) UpdatePaymentSource(ctx context.Context, subscriptionID uuid.UUID, source gateways.PaymentSource) (*models.Subscription, error) {
	if source.Token == "" {
		return nil, errors.New(errors.CodeValidation, "payment source token is required")
	}
	return s.command(ctx, subscriptionID, "", func(ctx context.Context, sub *models.Subscription) gateways.Result {
		return s.manager.UpdatePaymentSource(ctx, sub, source)
	})
}

// StatusView is what the read path returns: the local row plus the cache's
// freshness classification.
type StatusView struct {
	Subscription   *models.Subscription
	Status         enums.ProfileStatus
	Source         enums.GatewayKind
	RefreshPending bool
	RefreshReason  string
}

// Status serves the subscription's status through the cache. A missing or
// stale snapshot triggers a background refresh; the caller still gets the
// best available answer immediately.
func (s *Service) Status(ctx context.Context, subscriptionID uuid.UUID) (*StatusView, error) {
	sub, err := s.loadSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	resolution := s.cache.Resolve(ctx, sub)
	if resolution.RefreshPending {
		if _, err := s.queue.Enqueue(ctx, sub.CustomerID, sub.ProfileID, refreshContext(resolution.RefreshReason)); err != nil {
			s.log.Error(s.log.WithProfileID(ctx, sub.ProfileID), "enqueueing refresh from read path", err)
		}
	}
	return &StatusView{
		Subscription:   sub,
		Status:         resolution.Status,
		Source:         resolution.Source,
		RefreshPending: resolution.RefreshPending,
		RefreshReason:  resolution.RefreshReason,
	}, nil
}

// command runs one gateway-backed mutation end to end. impliedStatus is
// persisted when the gateway result does not carry a definite status of its
// own; empty means the operation does not change the profile's state.
func (s *Service) command(ctx context.Context, subscriptionID uuid.UUID, impliedStatus enums.ProfileStatus, call func(context.Context, *models.Subscription) gateways.Result) (*models.Subscription, error) {
	sub, err := s.loadSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if impliedStatus != "" && sub.Status.IsTerminal() {
		return nil, errors.New(errors.CodeStateConflict, "subscription is already in a terminal state")
	}

	result := call(ctx, sub)
	if !result.Success {
		s.log.Warn(s.log.WithFields(ctx, map[string]any{
			"profile_id": sub.ProfileID,
			"cause":      result.Message,
			"retryable":  result.Retryable,
		}), "lifecycle command rejected by gateway")
		return nil, errors.New(errors.CodeDependency, gatewayUnavailableMessage)
	}

	status := result.Status
	if status == "" || status == enums.ProfileStatusUnknown {
		status = impliedStatus
	}
	if status != "" {
		if err := s.store.UpdateSubscriptionStatus(ctx, sub.ID, status); err != nil {
			return nil, errors.Wrap(errors.CodeInternal, err, "persisting subscription status")
		}
		sub.Status = status
	}

	// Remote state changed; force the next read to refetch.
	if err := s.cache.Invalidate(ctx, sub.CustomerID.String(), sub.ProfileID); err != nil {
		s.log.Warn(s.log.WithProfileID(ctx, sub.ProfileID), "cache invalidation failed after lifecycle command")
	}
	if _, err := s.queue.Enqueue(ctx, sub.CustomerID, sub.ProfileID, refreshContext("lifecycle")); err != nil {
		s.log.Error(s.log.WithProfileID(ctx, sub.ProfileID), "enqueueing refresh after lifecycle command", err)
	}
	return sub, nil
}

func (s *Service) loadSubscription(ctx context.Context, subscriptionID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.store.FindSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "loading subscription")
	}
	if sub == nil {
		return nil, errors.New(errors.CodeNotFound, "subscription not found")
	}
	return sub, nil
}

func refreshContext(trigger string) json.RawMessage {
	payload, err := json.Marshal(map[string]string{"trigger": trigger})
	if err != nil {
		return nil
	}
	return payload
}
