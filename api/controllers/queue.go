package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/storefrontlabs/billing-sync/api/responses"
	"github.com/storefrontlabs/billing-sync/internal/refresh"
	pkgerrors "github.com/storefrontlabs/billing-sync/pkg/errors"
	"github.com/storefrontlabs/billing-sync/pkg/logger"
)

// QueueAdmin is the surface of the refresh queue exposed to operators.
type QueueAdmin interface {
	Metrics(ctx context.Context) (refresh.Metrics, error)
	RequeueDead(ctx context.Context) (int64, error)
}

type queueMetricsResponse struct {
	Pending         int64      `json:"pending"`
	Locked          int64      `json:"locked"`
	Dead            int64      `json:"dead"`
	Total           int64      `json:"total"`
	OldestAvailable *time.Time `json:"oldest_available,omitempty"`
}

func QueueMetrics(queue QueueAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics, err := queue.Metrics(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reading queue metrics"))
			return
		}
		responses.WriteSuccess(w, queueMetricsResponse{
			Pending:         metrics.Pending,
			Locked:          metrics.Locked,
			Dead:            metrics.Dead,
			Total:           metrics.Total,
			OldestAvailable: metrics.OldestAvailable,
		})
	}
}

func QueueRequeueDead(queue QueueAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requeued, err := queue.RequeueDead(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "requeueing dead jobs"))
			return
		}
		if logg != nil {
			logg.Info(logg.WithField(r.Context(), "requeued", requeued), "dead jobs requeued")
		}
		responses.WriteSuccess(w, map[string]int64{"requeued": requeued})
	}
}
