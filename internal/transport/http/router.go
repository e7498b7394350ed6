// Package httptransport assembles the public HTTP surface.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"splitpay/internal/platform/config"
	"splitpay/internal/platform/metrics"
	"splitpay/internal/platform/middleware"
	"splitpay/pkg/platform/middleware/metadata"
	"splitpay/pkg/platform/middleware/requesttime"
)

// Registrar mounts its routes on a router.
type Registrar interface {
	Register(r chi.Router)
}

// Deps are the collaborators of the router. Gatherer defaults to the
// prometheus default registry. Limiter defaults to one built from Config;
// the caller owns its sweep loop.
type Deps struct {
	Config   config.HTTPConfig
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Limiter  *middleware.RateLimiter
	Health   Registrar
	Routes   []Registrar
}

// NewRouter wires middleware in the order: request id, client metadata,
// request time, access log, panic recovery, CORS. API routes are rate
// limited; /health and /metrics are not.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(middleware.AccessLog(d.Logger, d.Metrics))
	r.Use(chimw.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   d.Config.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
	}).Handler)

	if d.Health != nil {
		d.Health.Register(r)
	}
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	limiter := d.Limiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(d.Config.RateLimitPerMin, d.Config.RateLimitBurst, d.Logger)
	}
	r.Group(func(api chi.Router) {
		api.Use(limiter.Middleware)
		for _, reg := range d.Routes {
			reg.Register(api)
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not_found","error_description":"route not found"}`))
	})
	return r
}
