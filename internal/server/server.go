// Package server exposes the eslrd control/debug surface: a chi-routed
// JSON API over the neighbor table and both route tables, a gRPC-health
// liveness/readiness check, and a Prometheus /metrics endpoint.
package server

import (
	"log/slog"
	"net/http"

	"connectrpc.com/grpchealth"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dantte-lp/goeslr/internal/engine"
	"github.com/dantte-lp/goeslr/internal/neighbor"
	"github.com/dantte-lp/goeslr/internal/route"
)

// HealthServiceName identifies this daemon in gRPC health checks.
const HealthServiceName = "eslr.v1.EslrService"

// NeighborTable is the minimal read surface the control API needs from the
// neighbor table.
type NeighborTable interface {
	Snapshot() []neighbor.Record
}

// RouteTable is the minimal read surface the control API needs from the
// dual route table.
type RouteTable interface {
	MainSnapshot() []route.Record
	BackupSnapshot() []route.Record
}

// PrintingController is the read/write surface for the engine's debug
// snapshot printer toggle; *engine.Engine satisfies it.
type PrintingController interface {
	PrintingMethod() engine.PrintingMethod
	SetPrintingMethod(engine.PrintingMethod)
}

// Server hosts the control/debug API. It holds no protocol state of its
// own: every response is a read-only snapshot pulled from the engine's
// owned tables at request time, and the printing-method endpoints act
// directly on the engine's own toggle.
type Server struct {
	logger    *slog.Logger
	neighbors NeighborTable
	routes    RouteTable
	printing  PrintingController
}

// New creates a Server reading from neighbors and routes, controlling the
// debug snapshot printer through printing.
func New(logger *slog.Logger, neighbors NeighborTable, routes RouteTable, printing PrintingController) *Server {
	return &Server{
		logger:    logger.With(slog.String("component", "server")),
		neighbors: neighbors,
		routes:    routes,
		printing:  printing,
	}
}

// Router builds the chi router for the control/debug API, health check,
// and metrics endpoint, following the same middleware-stack-then-Route
// shape as a chi-based control plane API.
func (s *Server) Router(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(correlationID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	checker := grpchealth.NewStaticChecker(grpchealth.HealthV1ServiceName, HealthServiceName)
	healthPath, healthHandler := grpchealth.NewHandler(checker)
	r.Mount(healthPath, healthHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/neighbors", s.handleNeighbors)
		r.Get("/routes/main", s.handleRoutesMain)
		r.Get("/routes/backup", s.handleRoutesBackup)
		r.Route("/debug/printing-method", func(r chi.Router) {
			r.Get("/", s.handleGetPrintingMethod)
			r.Put("/", s.handleSetPrintingMethod)
		})
	})

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return r
}

// PrintingMethod returns the current debug-snapshot toggle value.
func (s *Server) PrintingMethod() engine.PrintingMethod {
	return s.printing.PrintingMethod()
}
