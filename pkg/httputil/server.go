// Package httputil provides the ServeMux-based HTTP server scaffolding
// shared by cmd/tap, cmd/fgw and cmd/sgw: a Server header middleware,
// health/liveness/readiness endpoints, a correlation-ID middleware and a
// Prometheus /metrics endpoint.
//
// Grounded on the teacher's pkg/http/server.go (the root-handler middleware
// chain, the addServerHeader wrapper, the CorrelationMiddleware concept, the
// metrics-registry wiring) and pkg/http/health.go (the three health
// endpoints), scaled down from the teacher's SIP/session/auth-aware version
// to a generic ReadinessChecker hook since none of this system's three
// binaries share the teacher's session manager or auth middleware.
package httputil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"siprec-tap-gateway/pkg/version"
)

// correlationIDHeader is the header checked for an inbound correlation ID
// before minting one, so a request already tagged upstream (e.g. by the PBX
// or a load balancer) keeps its identifier across hops.
const correlationIDHeader = "X-Correlation-ID"

type correlationIDKey struct{}

// CorrelationID returns the per-request correlation ID stashed in ctx by
// Server's correlation middleware, or "" if none is present.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// ReadinessChecker reports whether the owning component's background
// listeners (UDP sockets, event stream, upstream connections) are up.
type ReadinessChecker func() (ready bool, detail map[string]string)

// Server is a small net/http wrapper mounting /health, /health/live,
// /health/ready and /metrics, with per-binary handlers registered on top.
type Server struct {
	logger     *logrus.Logger
	mux        *http.ServeMux
	httpServer *http.Server
	startTime  time.Time
	ready      ReadinessChecker
}

// New creates a Server listening on port, with metrics served from
// registry (nil disables /metrics).
func New(logger *logrus.Logger, port int, registry *prometheus.Registry, ready ReadinessChecker) *Server {
	s := &Server{
		logger:    logger,
		mux:       http.NewServeMux(),
		startTime: time.Now(),
		ready:     ready,
	}

	withServerHeader := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Server", version.ServerHeader())
			next(w, r)
		}
	}

	s.mux.HandleFunc("/health", withServerHeader(s.healthHandler))
	s.mux.HandleFunc("/health/live", withServerHeader(s.livenessHandler))
	s.mux.HandleFunc("/health/ready", withServerHeader(s.readinessHandler))

	if registry != nil {
		promHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
		s.mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Server", version.ServerHeader())
			promHandler.ServeHTTP(w, r)
		})
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.correlationMiddleware(s.loggingMiddleware(s.mux)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handle registers an additional handler, e.g. /start_tap or /register.
func (s *Server) Handle(pattern string, handler http.HandlerFunc) {
	s.mux.HandleFunc(pattern, handler)
}

// correlationMiddleware is the outermost layer: it attaches a per-request
// correlation ID to the request context (and echoes it on the response)
// before anything downstream, including loggingMiddleware, runs.
func (s *Server) correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(correlationIDHeader, id)
		ctx := context.WithValue(r.Context(), correlationIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.WithFields(logrus.Fields{
			"method":         r.Method,
			"path":           r.URL.Path,
			"duration":       time.Since(start).String(),
			"correlation_id": CorrelationID(r.Context()),
		}).Debug("http request")
	})
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("http server stopped unexpectedly")
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	var detail map[string]string
	if s.ready != nil {
		var ok bool
		ok, detail = s.ready()
		if !ok {
			status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  status,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
		"version": version.Version,
		"checks":  detail,
	})
}

func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	ready := true
	var detail map[string]string
	if s.ready != nil {
		ready, detail = s.ready()
	}

	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"ready": ready, "checks": detail})
}
