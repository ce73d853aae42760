package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net"
	"net/http"
	"time"

	"country-stats/internal/config"
	"country-stats/internal/health"
	"country-stats/internal/live"
	"country-stats/internal/logging"
	"country-stats/internal/metrics"
	"country-stats/internal/throttle"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type requestIDKey struct{}

// Deps are the collaborators the server routes to. Live and Limiter are
// optional.
type Deps struct {
	Searcher Searcher
	Dataset  Dataset
	Health   *health.Checker
	Live     *live.Handler
	Limiter  *throttle.Limiter
	Metrics  *metrics.Metrics
}

// Server represents the web UI
type Server struct {
	httpServer      *http.Server
	deps            Deps
	shutdownTimeout time.Duration
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = metrics.GetMetrics()
	}

	server := &Server{
		deps:            deps,
		shutdownTimeout: cfg.Server.ShutdownTimeout,
	}

	server.httpServer = &http.Server{
		Addr:           cfg.Address(),
		Handler:        server.Handler(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderSize,
		ErrorLog:       stdlog.New(logging.NewSuppressingWriter(nil), "", 0),
	}

	return server
}

// Handler returns the routed handler with the middleware chain applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Every route that can reach the upstream API is throttled per client.
	search := func(h http.HandlerFunc) http.Handler {
		if s.deps.Limiter == nil {
			return h
		}
		return s.deps.Limiter.Middleware(h)
	}

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("GET /search", search(s.handleSearchPage))
	mux.Handle("GET /api/search", search(s.handleSearchAPI))
	mux.Handle("POST /api/refresh", search(s.handleRefresh))
	if s.deps.Health != nil {
		mux.Handle("/health", s.deps.Health.Handler())
	}
	mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	if s.deps.Live != nil {
		mux.Handle("GET /ws", s.deps.Live)
	}

	return s.withMiddleware(mux)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("Country stats UI listening on http://%s", ln.Addr())
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("Country stats UI shutting down gracefully...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Errorf("Shutdown error: %v", err)
		return err
	}

	// Hijacked websocket connections are not tracked by http.Server.
	if s.deps.Live != nil {
		if err := s.deps.Live.Wait(ctx); err != nil {
			log.Errorf("Live sessions did not finish before shutdown deadline: %v", err)
			return err
		}
	}

	log.Info("Country stats UI shutdown complete")
	return nil
}

// withMiddleware adds middleware to the handler
func (s *Server) withMiddleware(handler http.Handler) http.Handler {
	return s.requestIDMiddleware(
		s.loggingMiddleware(
			s.metricsMiddleware(
				s.recoveryMiddleware(handler),
			),
		),
	)
}

// requestIDMiddleware tags each request with an id, reusing the caller's
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestID returns the id assigned by the middleware, if any
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// loggingMiddleware logs all requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := wrap(w)

		next.ServeHTTP(ww, r)

		entry := log.WithFields(log.Fields{
			"method":     r.Method,
			"url":        r.RequestURI,
			"remote":     r.RemoteAddr,
			"status":     ww.statusCode,
			"duration":   time.Since(start),
			"user_agent": r.UserAgent(),
			"request_id": RequestID(r.Context()),
		})
		if ww.statusCode >= http.StatusInternalServerError {
			entry.Warn("Request processed")
			return
		}
		entry.Info("Request processed")
	})
}

// metricsMiddleware records metrics for all requests
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := wrap(w)

		next.ServeHTTP(ww, r)

		s.deps.Metrics.RecordRequest(routeLabel(r.URL.Path), ww.statusCode, time.Since(start))
	})
}

// recoveryMiddleware recovers from panics
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				log.WithFields(log.Fields{
					"error":      err,
					"method":     r.Method,
					"url":        r.RequestURI,
					"remote":     r.RemoteAddr,
					"request_id": RequestID(r.Context()),
				}).Error("Panic recovered")

				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

var knownRoutes = map[string]bool{
	"/":            true,
	"/search":      true,
	"/api/search":  true,
	"/api/refresh": true,
	"/health":      true,
	"/metrics":     true,
	"/ws":          true,
}

// routeLabel keeps the metrics label set bounded.
func routeLabel(path string) string {
	if knownRoutes[path] {
		return path
	}
	return "other"
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func wrap(w http.ResponseWriter) *responseWriterWrapper {
	if ww, ok := w.(*responseWriterWrapper); ok {
		return ww
	}
	return &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Hijack lets the websocket upgrade take over the connection.
func (w *responseWriterWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *responseWriterWrapper) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
