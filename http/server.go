package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"go.uber.org/zap"

	"github.com/apxor/browserpool/http/handlers"
	apxmiddlewares "github.com/apxor/browserpool/http/middleware"
	apxresp "github.com/apxor/browserpool/http/response"
	"github.com/apxor/browserpool/logger"
	"github.com/apxor/browserpool/services/health"
	"github.com/apxor/browserpool/services/monitoring"
)

// CorsConfig is the subset of process configuration the server needs for
// CORS; kept separate from config.Config to avoid an import cycle.
type CorsConfig struct {
	AllowedOrigins []string
}

// Server is the thin HTTP adapter over the context pool (spec.md's explicit
// Non-goal: it holds no pool logic, only routing and request/response
// plumbing).
type Server struct {
	Logger       *zap.Logger
	Cors         CorsConfig
	PoolHandler  *handlers.PoolHandler
	EventStream  *handlers.EventStreamHandler
	Health       *health.Handler
	Metrics      *monitoring.Collector

	httpServer *http.Server
}

// Listen builds the router and serves on addr until ctx is cancelled, then
// returns once the in-flight request drain completes.
func (s *Server) Listen(ctx context.Context, addr string) error {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apxmiddlewares.NewLoggerWithMetrics(s.Logger, &apxmiddlewares.Opts{}))
	r.Use(middleware.Recoverer)
	r.Use(apxmiddlewares.EnabCors(s.Cors.AllowedOrigins))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/scrape", s.toHandlerFunc(s.PoolHandler.Scrape))
		r.Get("/contexts", s.toHandlerFunc(s.PoolHandler.ListContexts))
		r.Post("/contexts/{id}/tags", s.toHandlerFunc(s.PoolHandler.TagContext))
		r.Delete("/contexts/{id}", s.toHandlerFunc(s.PoolHandler.DeleteContext))
		r.Get("/events", s.EventStream.ServeHTTP)
	})
	r.Get("/health", s.Health.ServeHTTP)
	if s.Metrics != nil {
		r.Get("/metrics", s.Metrics.Handler().ServeHTTP)
	}

	s.httpServer = &http.Server{Addr: addr, Handler: r}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", zap.String("addr", addr))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// Shutdown stops accepting new connections and drains in-flight requests.
// Implements the shutdown coordinator's httpShutdowner interface.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) toHandlerFunc(handler func(w http.ResponseWriter, r *http.Request) (any, int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, status, err := handler(w, r)
		if err != nil {
			s.Logger.Warn("request failed", zap.Error(err), zap.Int("status", status))
			apxresp.RespondError(w, status, err)
			return
		}
		if status == http.StatusNoContent {
			w.WriteHeader(status)
			return
		}
		apxresp.RespondJSON(w, status, resp)
	}
}
