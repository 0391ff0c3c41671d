package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/storefrontlabs/billing-sync/api/responses"
	"github.com/storefrontlabs/billing-sync/api/validators"
	"github.com/storefrontlabs/billing-sync/internal/gateways"
	"github.com/storefrontlabs/billing-sync/internal/lifecycle"
	"github.com/storefrontlabs/billing-sync/pkg/db/models"
	pkgerrors "github.com/storefrontlabs/billing-sync/pkg/errors"
	"github.com/storefrontlabs/billing-sync/pkg/logger"
)

// LifecycleService is the surface of the lifecycle service the controllers
// consume.
type LifecycleService interface {
	Cancel(ctx context.Context, subscriptionID uuid.UUID, note string) (*models.Subscription, error)
	Suspend(ctx context.Context, subscriptionID uuid.UUID, note string) (*models.Subscription, error)
	Reactivate(ctx context.Context, subscriptionID uuid.UUID, note string) (*models.Subscription, error)
	UpdateBillingCycles(ctx context.Context, subscriptionID uuid.UUID, billingCycles int) (*models.Subscription, error)
	UpdatePaymentSource(ctx context.Context, subscriptionID uuid.UUID, source gateways.PaymentSource) (*models.Subscription, error)
	Status(ctx context.Context, subscriptionID uuid.UUID) (*lifecycle.StatusView, error)
}

type lifecycleCommandRequest struct {
	Note string `json:"note,omitempty" validate:"max=255"`
}

type updateBillingCyclesRequest struct {
	BillingCycles *int `json:"billing_cycles" validate:"required,min=0"`
}

type updatePaymentSourceRequest struct {
	Token string `json:"token" validate:"required"`
	Type  string `json:"type,omitempty" validate:"omitempty,oneof=card paypal"`
}

type subscriptionResponse struct {
	ID               uuid.UUID `json:"id"`
	CustomerID       uuid.UUID `json:"customer_id"`
	ProfileID        string    `json:"profile_id"`
	Status           string    `json:"status"`
	PreferredGateway string    `json:"preferred_gateway,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type subscriptionStatusResponse struct {
	subscriptionResponse
	Source         string `json:"source,omitempty"`
	RefreshPending bool   `json:"refresh_pending"`
	RefreshReason  string `json:"refresh_reason,omitempty"`
}

func newSubscriptionResponse(sub *models.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:               sub.ID,
		CustomerID:       sub.CustomerID,
		ProfileID:        sub.ProfileID,
		Status:           sub.Status.String(),
		PreferredGateway: sub.GatewayKind().String(),
		UpdatedAt:        sub.UpdatedAt,
	}
}

func subscriptionIDFromPath(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "subscriptionId")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid subscription id")
	}
	return id, nil
}

// SubscriptionStatus serves the subscription's profile status through the
// snapshot cache. Stale or missing snapshots are flagged and refreshed in the
// background; the response never blocks on a remote call.
func SubscriptionStatus(svc LifecycleService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := subscriptionIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.Status(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := subscriptionStatusResponse{
			subscriptionResponse: newSubscriptionResponse(view.Subscription),
			Source:               view.Source.String(),
			RefreshPending:       view.RefreshPending,
			RefreshReason:        view.RefreshReason,
		}
		resp.Status = view.Status.String()
		responses.WriteSuccess(w, resp)
	}
}

func SubscriptionCancel(svc LifecycleService, logg *logger.Logger) http.HandlerFunc {
	return lifecycleCommand(svc.Cancel, logg)
}

func SubscriptionSuspend(svc LifecycleService, logg *logger.Logger) http.HandlerFunc {
	return lifecycleCommand(svc.Suspend, logg)
}

func SubscriptionReactivate(svc LifecycleService, logg *logger.Logger) http.HandlerFunc {
	return lifecycleCommand(svc.Reactivate, logg)
}

func lifecycleCommand(command func(context.Context, uuid.UUID, string) (*models.Subscription, error), logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := subscriptionIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payload := lifecycleCommandRequest{}
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		sub, err := command(r.Context(), id, payload.Note)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}

func SubscriptionUpdateBillingCycles(svc LifecycleService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := subscriptionIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateBillingCyclesRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.UpdateBillingCycles(r.Context(), id, *payload.BillingCycles)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}

func SubscriptionUpdatePaymentSource(svc LifecycleService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := subscriptionIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updatePaymentSourceRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.UpdatePaymentSource(r.Context(), id, gateways.PaymentSource{
			Token: payload.Token,
			Type:  payload.Type,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}
