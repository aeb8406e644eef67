package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/michaelbrown/pyexec/internal/executor"
	"github.com/michaelbrown/pyexec/internal/observability"
	"github.com/michaelbrown/pyexec/internal/storage"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "python-executor"

// Runner executes scripts. *executor.Executor satisfies it.
type Runner interface {
	Execute(ctx context.Context, script string) (*executor.Outcome, error)
	Reject(err error)
	Check(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	Version      string
	MaxBodyBytes int64
	Logger       *zerolog.Logger
}

// Server is the HTTP boundary of the executor.
type Server struct {
	runner  Runner
	store   storage.Store // nil when history is disabled
	version string
	maxBody int64
	log     zerolog.Logger
	router  chi.Router

	mu   sync.Mutex
	http *http.Server
}

// New creates a Server. store may be nil.
func New(runner Runner, store storage.Store, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	s := &Server{
		runner:  runner,
		store:   store,
		version: opts.Version,
		maxBody: opts.MaxBodyBytes,
		log:     zerolog.Nop(),
		router:  chi.NewRouter(),
	}
	if opts.Logger != nil {
		s.log = opts.Logger.With().Str("component", "server").Logger()
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(observability.MetricsMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		writeError(w, http.StatusNotFound, "Endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Group(func(r chi.Router) {
		r.Use(jsonContentType)

		r.Get("/", s.handleInfo)
		r.Get("/health", s.handleHealth)
		r.Post("/execute", s.handleExecute)

		r.Route("/api", func(r chi.Router) {
			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/{id}", s.handleGetRun)
		})
	})

	// Non-JSON endpoints
	r.Get("/ws", s.handleWebSocket)
	r.Handle("/metrics", promhttp.Handler())
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request with zerolog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		ev := s.log.Info()
		if status >= 500 {
			ev = s.log.Error()
		}
		ev.Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// Start listens on addr and serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	s.log.Info().Str("addr", addr).Str("version", s.version).Msg("pyexec server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits up to timeout for
// in-flight requests, including running executions, to finish.
func (s *Server) Shutdown(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
