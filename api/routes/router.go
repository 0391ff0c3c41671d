package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/storefrontlabs/billing-sync/api/controllers"
	"github.com/storefrontlabs/billing-sync/api/middleware"
	pkgauth "github.com/storefrontlabs/billing-sync/pkg/auth"
	"github.com/storefrontlabs/billing-sync/pkg/config"
	"github.com/storefrontlabs/billing-sync/pkg/logger"
)

// NewRouter wires the ops API: health probes, prometheus metrics, lifecycle
// commands for other storefront services and queue administration.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisP controllers.Pinger,
	lifecycleService controllers.LifecycleService,
	queueAdmin controllers.QueueAdmin,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, pkgauth.ScopeOps, logg))

		r.Route("/subscriptions/{subscriptionId}", func(r chi.Router) {
			r.Get("/status", controllers.SubscriptionStatus(lifecycleService, logg))
			r.Post("/cancel", controllers.SubscriptionCancel(lifecycleService, logg))
			r.Post("/suspend", controllers.SubscriptionSuspend(lifecycleService, logg))
			r.Post("/reactivate", controllers.SubscriptionReactivate(lifecycleService, logg))
			r.Patch("/billing-cycles", controllers.SubscriptionUpdateBillingCycles(lifecycleService, logg))
			r.Patch("/payment-source", controllers.SubscriptionUpdatePaymentSource(lifecycleService, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, pkgauth.ScopeAdmin, logg))

		r.Route("/queue", func(r chi.Router) {
			r.Get("/metrics", controllers.QueueMetrics(queueAdmin, logg))
			r.Post("/requeue-dead", controllers.QueueRequeueDead(queueAdmin, logg))
		})
	})

	return r
}
