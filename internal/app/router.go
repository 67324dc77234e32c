package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/prorab-app/prorab/internal/capability"
	"github.com/prorab-app/prorab/internal/identity"
	"github.com/prorab-app/prorab/internal/observability"
	"github.com/prorab-app/prorab/internal/request"
	"github.com/prorab-app/prorab/internal/shared"
)

// VisibilitySink receives tab-visibility pings from clients.
type VisibilitySink interface {
	OnVisible()
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	SessionManager    *shared.SessionManager
	CSRFManager       *shared.CSRFManager
	IdentityHandler   *identity.Handler
	CapabilityHandler *capability.Handler
	RequestHandler    *request.Handler
	Visibility        VisibilitySink
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.IdentityHandler.MountRoutes)

	r.Route("/api", func(r chi.Router) {
		params.CapabilityHandler.MountRoutes(r)
		params.RequestHandler.MountRoutes(r)

		// Clients ping this when the tab regains focus; the scheduler
		// debounces and rate-limits the resulting refresh.
		r.Post("/visibility", func(w http.ResponseWriter, r *http.Request) {
			sess := shared.SessionFromContext(r.Context())
			if sess == nil || !sess.Authenticated() {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			if params.Visibility != nil {
				params.Visibility.OnVisible()
			}
			w.WriteHeader(http.StatusAccepted)
		})
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
