package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/leottami/mindull-sub001/internal/api/handler"
	apimw "github.com/leottami/mindull-sub001/internal/api/middleware"
	"github.com/leottami/mindull-sub001/internal/netmon"
	"github.com/leottami/mindull-sub001/internal/outbox"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	proc *outbox.Processor,
	monitor *netmon.Monitor,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)          // recover panics, return 500
	r.Use(chimw.RealIP)             // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1<<20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)      // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	oh := handler.NewOutboxHandler(proc, logger)
	nh := handler.NewNetworkHandler(monitor, logger)
	hh := handler.NewHealthHandler()

	// --- routes ---
	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		// Mutations. /failed must be registered before any
		// parameterised sibling so chi never treats it as an ID.
		r.Get("/mutations/failed", oh.Failed)
		r.Post("/mutations", oh.Enqueue)
		r.Delete("/mutations", oh.Clear)

		r.Post("/drain", oh.Drain)
		r.Get("/stats", oh.Stats)

		r.Put("/network", nh.Set)
		r.Get("/network", nh.Get)
	})

	return r
}
