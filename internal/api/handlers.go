package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fleetroute/internal/jobs"
	"fleetroute/internal/metrics"
	"fleetroute/internal/model"
	"fleetroute/internal/problem"
	"fleetroute/internal/routing"
	"fleetroute/internal/store"
)

// maxProblemBytes bounds request bodies carrying problem documents.
const maxProblemBytes = 8 << 20

// SolveHandler handles POST /v1/solve. The body is a problem document in JSON, or YAML when
// the Content-Type says so.
func (s *Server) SolveHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/solve" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := s.withPrincipal(w, r)
	if !ok || !s.allow(w, r) {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxProblemBytes))
	if err != nil {
		writeProblem(w, http.StatusRequestEntityTooLarge, "Problem too large", err.Error(), r.URL.Path)
		return
	}
	format := "json"
	if strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "yaml") {
		format = "yaml"
	}
	doc, err := problem.Decode(body, format)
	if err != nil {
		writeSolveError(w, r, err)
		return
	}
	in, err := s.instance(r, p.Tenant, doc)
	if err != nil {
		writeSolveError(w, r, err)
		return
	}
	in.Options.Logger = s.Log.WithValues("tenant", p.Tenant)

	resp, err := in.Solve(r.Context())
	if err != nil {
		metrics.Solves.WithLabelValues("sync", "ERROR").Inc()
		writeSolveError(w, r, err)
		return
	}
	metrics.ObserveSolve("sync", resp.Status, float64(resp.Metrics.ElapsedMs)/1000, resp.Metrics.Iterations, len(resp.Dropped))
	writeJSON(w, http.StatusOK, resp)
}

// instance builds a document with the server and tenant defaults under its own options.
func (s *Server) instance(r *http.Request, tenant string, doc model.Problem) (*problem.Instance, error) {
	defaults, err := s.solverDefaults(r, tenant)
	if err != nil {
		return nil, err
	}
	in, err := problem.Build(doc, defaults)
	if err != nil {
		return nil, err
	}
	jobs.ClampTimeLimit(&in.Options, s.MaxTimeLimit)
	return in, nil
}

func (s *Server) solverDefaults(r *http.Request, tenant string) (model.SolveOptions, error) {
	cfg, err := s.Store.GetSolverConfig(r.Context(), tenant)
	if err != nil {
		return model.SolveOptions{}, err
	}
	return problem.MergeOptions(s.Defaults, cfg), nil
}

// RunsHandler handles POST/GET /v1/runs
func (s *Server) RunsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/runs" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	p, ok := s.withPrincipal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		if !s.allow(w, r) {
			return
		}
		var req model.RunRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxProblemBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateRunRequest(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid run request", err.Error(), r.URL.Path)
			return
		}
		// reject broken documents now rather than as failed runs
		if _, err := s.instance(r, p.Tenant, req.Problem); err != nil {
			writeSolveError(w, r, err)
			return
		}
		doc, err := json.Marshal(req.Problem)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Encode problem failed", err.Error(), r.URL.Path)
			return
		}
		run, err := s.Store.CreateRun(r.Context(), p.Tenant, doc, req.CallbackURL, req.CallbackSecret)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create run failed", err.Error(), r.URL.Path)
			return
		}
		w.Header().Set("Location", "/v1/runs/"+run.ID)
		writeJSON(w, http.StatusAccepted, model.RunCreated{ID: run.ID, Status: run.Status})
	case http.MethodGet:
		q := r.URL.Query()
		items, next, err := s.Store.ListRuns(r.Context(), p.Tenant, q.Get("status"), q.Get("cursor"), queryInt(r, "limit", 100))
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List runs failed", err.Error(), r.URL.Path)
			return
		}
		if items == nil {
			items = []model.Run{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// RunByIDHandler handles GET /v1/runs/{id} and the run event streams.
func (s *Server) RunByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	if rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := s.withPrincipal(w, r)
	if !ok {
		return
	}
	id, tail, _ := strings.Cut(rest, "/")
	run, err := s.Store.GetRun(r.Context(), p.Tenant, id)
	if err != nil {
		writeStoreError(w, r, "Run not found", err)
		return
	}
	switch tail {
	case "":
		writeJSON(w, http.StatusOK, run)
	case "events/stream":
		s.streamSSE(w, r, p.Tenant, run)
	case "events/ws":
		s.streamWS(w, r, p.Tenant, run)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

// SolverConfigHandler returns the effective defaults for the calling tenant.
func (s *Server) SolverConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/solver/config" || r.Method != http.MethodGet {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	p, ok := s.withPrincipal(w, r)
	if !ok {
		return
	}
	defaults, err := s.solverDefaults(r, p.Tenant)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Load solver config failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"defaults":       defaults,
		"maxTimeLimitMs": s.MaxTimeLimit.Milliseconds(),
	})
}

// AdminSolverConfigHandler gets or replaces the tenant solver defaults.
func (s *Server) AdminSolverConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/solver/config" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	p, ok := s.withAdmin(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		cfg, err := s.Store.GetSolverConfig(r.Context(), p.Tenant)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Load solver config failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"config": cfg})
	case http.MethodPut:
		var body struct {
			Config *model.SolveOptions `json:"config"`
		}
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if body.Config == nil {
			writeProblem(w, http.StatusBadRequest, "Missing config", "", r.URL.Path)
			return
		}
		if err := validateSolveOptions(*body.Config); err != nil {
			writeProblem(w, http.StatusUnprocessableEntity, "Invalid solver config", err.Error(), r.URL.Path)
			return
		}
		if err := s.Store.SaveSolverConfig(r.Context(), p.Tenant, *body.Config); err != nil {
			writeProblem(w, http.StatusInternalServerError, "Save failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// RunMetricsHandler lists solver metrics of finished runs, newest first.
func (s *Server) RunMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/run-metrics" || r.Method != http.MethodGet {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	p, ok := s.withAdmin(w, r)
	if !ok {
		return
	}
	since := time.Now().Add(-time.Duration(queryInt(r, "sinceHours", 24)) * time.Hour)
	items, err := s.Store.ListRunMetrics(r.Context(), p.Tenant, since, queryInt(r, "limit", 100))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Metrics failed", err.Error(), r.URL.Path)
		return
	}
	if items == nil {
		items = []model.RunMetrics{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// CallbacksHandler lists completion callback deliveries.
func (s *Server) CallbacksHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/callbacks" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	p, ok := s.withAdmin(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	items, next, err := s.Store.ListCallbacks(r.Context(), p.Tenant, q.Get("status"), q.Get("cursor"), queryInt(r, "limit", 100))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List callbacks failed", err.Error(), r.URL.Path)
		return
	}
	if items == nil {
		items = []store.CallbackDelivery{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// CallbackRetryHandler handles POST /v1/admin/callbacks/{id}/retry
func (s *Server) CallbackRetryHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := strings.CutSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/callbacks/"), "/retry")
	if !ok || id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := s.withAdmin(w, r)
	if !ok {
		return
	}
	if err := s.Store.RetryCallback(r.Context(), p.Tenant, id); err != nil {
		writeStoreError(w, r, "Callback not found", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": 1})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeSolveError maps loader and engine errors onto problem responses.
func writeSolveError(w http.ResponseWriter, r *http.Request, err error) {
	status, title := http.StatusInternalServerError, "Solve failed"
	switch {
	case errors.Is(err, problem.ErrInvalidProblem):
		status, title = http.StatusBadRequest, "Invalid problem"
	case errors.Is(err, routing.ErrInvalidOptions), errors.Is(err, routing.ErrUnboundedSearch):
		status, title = http.StatusUnprocessableEntity, "Invalid solver options"
	case errors.Is(err, routing.ErrWarmStartInfeasible):
		status, title = http.StatusUnprocessableEntity, "Infeasible initial routes"
	case errors.Is(err, routing.ErrInvalidTopology),
		errors.Is(err, routing.ErrDisjunctionCardinality),
		errors.Is(err, routing.ErrOverlappingWindows),
		errors.Is(err, routing.ErrInvalidWindow),
		errors.Is(err, routing.ErrUnknownDimension),
		errors.Is(err, routing.ErrDuplicateDimension),
		errors.Is(err, routing.ErrInvalidPrecedence):
		status, title = http.StatusUnprocessableEntity, "Invalid routing model"
	}
	writeProblem(w, status, title, err.Error(), r.URL.Path)
}

func writeStoreError(w http.ResponseWriter, r *http.Request, notFound string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, notFound, err.Error(), r.URL.Path)
		return
	}
	writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), r.URL.Path)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
