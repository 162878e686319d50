package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reclamflow/feed/api/controllers"
	"github.com/reclamflow/feed/api/middleware"
	"github.com/reclamflow/feed/pkg/config"
	"github.com/reclamflow/feed/pkg/logger"
)

// FeedService is everything the feed routes call on the notification feed.
type FeedService interface {
	controllers.NotificationsService
	controllers.FeedStatusService
}

// Deps are the collaborators behind the HTTP surface.
type Deps struct {
	Feed   FeedService
	Toasts controllers.ToastService
	Sound  controllers.SoundSettings
	// PollNow requests an immediate poll after a successful retry.
	PollNow func()
	// Ready lists the backing services checked by /readyz.
	Ready   map[string]controllers.Pinger
	Metrics prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Get("/healthz", controllers.HealthLive(cfg))
	r.Get("/readyz", controllers.HealthReady(cfg, logg, deps.Ready))

	gatherer := deps.Metrics
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(deps.Feed, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(deps.Feed, logg))
			r.Delete("/seen", controllers.ClearSeenNotifications(deps.Feed, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(deps.Feed, logg))
		})

		r.Route("/toasts", func(r chi.Router) {
			r.Get("/", controllers.ListToasts(deps.Toasts, logg))
			r.Delete("/{toastId}", controllers.DismissToast(deps.Toasts, logg))
		})

		r.Route("/feed", func(r chi.Router) {
			r.Get("/status", controllers.FeedStatus(deps.Feed, logg))
			r.Post("/retry", controllers.RetryFeed(deps.Feed, deps.PollNow, logg))
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/sound", controllers.GetSoundSetting(deps.Sound, logg))
			r.Put("/sound", controllers.UpdateSoundSetting(deps.Sound, logg))
		})
	})

	return r
}
