// Package api implements the HTTP surface of the routing service.
package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"fleetroute/internal/auth"
	"fleetroute/internal/config"
	"fleetroute/internal/metrics"
	"fleetroute/internal/model"
	"fleetroute/internal/store"
)

// DefaultTenant is used for unauthenticated requests in dev auth mode.
const DefaultTenant = "t_demo"

var errUnauthenticated = errors.New("unauthenticated")

type Server struct {
	Store  store.Store
	Broker EventBroker
	Auth   *auth.Verifier
	Log    logr.Logger

	// Defaults sit under tenant solver config and problem options.
	Defaults     model.SolveOptions
	MaxTimeLimit time.Duration

	cfg     config.Config
	limiter *rate.Limiter
	closers []func() error
}

// NewServer wires the store and event broker selected by cfg. An empty DatabaseURL keeps
// runs in memory; an empty RedisURL keeps run events in process.
func NewServer(cfg config.Config, log logr.Logger) (*Server, error) {
	s := &Server{
		Auth:         auth.NewVerifier(cfg.AuthMode, cfg.AuthHMACSecret),
		Log:          log.WithName("api"),
		Defaults:     model.SolveOptions{TimeLimitMs: int(cfg.DefaultTimeLimit / time.Millisecond)},
		MaxTimeLimit: cfg.MaxTimeLimit,
		cfg:          cfg,
	}
	if cfg.SolveRPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.SolveRPS), max(cfg.SolveBurst, 1))
	}

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		s.Store = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.DBMigrate {
			if err := pg.MigrateDir(cfg.MigrationsDir); err != nil {
				_ = pg.Close()
				return nil, err
			}
		}
		s.Store = pg
		s.closers = append(s.closers, pg.Close)
	}

	s.Broker = NewBroker()
	if cfg.RedisURL != "" {
		rb, err := NewRedisBroker(cfg.RedisURL, log)
		if err != nil {
			s.Log.Error(err, "redis unavailable, run events stay in process")
		} else {
			s.Broker = rb
			s.closers = append(s.closers, rb.Close)
		}
	}
	return s, nil
}

// Close releases the store and broker connections.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// Routes returns the service mux wrapped in access logging and request metrics.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/solve", s.SolveHandler)
	mux.HandleFunc("/v1/runs", s.RunsHandler)
	mux.HandleFunc("/v1/runs/", s.RunByIDHandler) // includes /events/stream and /events/ws
	mux.HandleFunc("/v1/solver/config", s.SolverConfigHandler)

	mux.HandleFunc("/v1/admin/solver/config", s.AdminSolverConfigHandler)
	mux.HandleFunc("/v1/admin/run-metrics", s.RunMetricsHandler)
	mux.HandleFunc("/v1/admin/callbacks", s.CallbacksHandler)
	mux.HandleFunc("/v1/admin/callbacks/", s.CallbackRetryHandler)

	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.HandleFunc("/debug/info", s.DebugJSON)
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/docs", s.DocsHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	return s.logMiddleware(mux)
}

// principal resolves the caller. A bearer token is always verified; without one, dev mode
// trusts the X-Tenant-Id and X-Role headers.
func (s *Server) principal(r *http.Request) (auth.Principal, error) {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return s.Auth.Verify(strings.TrimSpace(authz[len("Bearer "):]))
	}
	if s.Auth.Mode != "" && s.Auth.Mode != "dev" {
		return auth.Principal{}, errUnauthenticated
	}
	tenant := r.Header.Get("X-Tenant-Id")
	if tenant == "" {
		tenant = DefaultTenant
	}
	role := strings.ToLower(r.Header.Get("X-Role"))
	if role == "" {
		role = auth.RoleAdmin
	}
	return auth.Principal{Tenant: tenant, Role: role}, nil
}

// withPrincipal writes a 401 problem and reports false when the caller cannot be resolved.
func (s *Server) withPrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, err := s.principal(r)
	if err != nil {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
		return p, false
	}
	return p, true
}

func (s *Server) withAdmin(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := s.withPrincipal(w, r)
	if !ok {
		return p, false
	}
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return p, false
	}
	return p, true
}

// allow applies the solve rate limit.
func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil || s.limiter.Allow() {
		return true
	}
	w.Header().Set("Retry-After", "1")
	writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "solve rate limit exceeded", r.URL.Path)
	return false
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack hands the connection to the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)
		path := routeLabel(r.URL.Path)
		code := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, code).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, code).Observe(dur.Seconds())
		s.Log.Info("request", "remote", r.RemoteAddr, "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", dur)
	})
}

// routeLabel collapses run and callback ids so metric label cardinality stays bounded.
func routeLabel(path string) string {
	for _, prefix := range []string{"/v1/runs/", "/v1/admin/callbacks/"} {
		rest, ok := strings.CutPrefix(path, prefix)
		if !ok || rest == "" {
			continue
		}
		_, tail, _ := strings.Cut(rest, "/")
		if tail == "" {
			return prefix + "{id}"
		}
		return prefix + "{id}/" + tail
	}
	return path
}
