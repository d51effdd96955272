// Package api is the HTTP control surface and WebSocket event stream.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/loadpilot/internal/bus"
	"github.com/torosent/loadpilot/internal/config"
	"github.com/torosent/loadpilot/internal/plans"
	"github.com/torosent/loadpilot/internal/registry"
	"github.com/torosent/loadpilot/internal/results"
)

// Server wires the registry, bus and stores behind the control routes.
type Server struct {
	cfg        *config.Server
	log        *zap.Logger
	registry   *registry.Registry
	bus        *bus.Bus
	results    *results.Store
	plans      *plans.Store
	tracer     trace.Tracer
	router     chi.Router
	httpServer *http.Server
	limiter    *rateLimiter
	startTime  time.Time
}

func NewServer(cfg *config.Server, log *zap.Logger, reg *registry.Registry, b *bus.Bus, res *results.Store, pl *plans.Store, tracer trace.Tracer) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg:       cfg,
		log:       log,
		registry:  reg,
		bus:       b,
		results:   res,
		plans:     pl,
		tracer:    tracer,
		router:    chi.NewRouter(),
		limiter:   newRateLimiter(cfg.APIRate, cfg.APIBurst),
		startTime: time.Now(),
	}

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.rateLimitMiddleware)
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // the WebSocket stream must outlive any write deadline
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/", s.handleIndex)
	s.router.Get("/health", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	s.router.Post("/test/start", s.handleStartTest)
	s.router.Get("/test/{id}/status", s.handleTestStatus)
	s.router.Post("/test/{id}/stop", s.handleStopTest)
	s.router.Get("/tests", s.handleListTests)
	s.router.Get("/tests/history", s.handleTestHistory)

	s.router.Post("/test/plan/save", s.handleSavePlan)
	s.router.Get("/test/plan/load", s.handleLoadPlan)

	s.router.Get("/ws", s.handleStream)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

// Start blocks serving the control API.
func (s *Server) Start() error {
	s.log.Info("control API listening", zap.String("addr", s.cfg.Listen))
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections and drains handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler { return s.router }
