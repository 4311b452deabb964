package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetroute/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu       sync.Mutex
	runs     map[string]*model.Run             // id -> run
	runOrder []string                          // creation order
	byTen    map[string][]string               // tenant -> run ids
	metrics  []model.RunMetrics                // append-only
	solver   map[string]model.SolveOptions     // tenant -> defaults
	// Callback queue state
	deliveries         map[string]*CallbackDelivery // id -> delivery
	deliveryOrder      []string
	deliveriesByTenant map[string][]string // tenant -> delivery ids
	dedup              map[string]string   // tenant|event|url|key -> delivery id
	now                func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		runs:               map[string]*model.Run{},
		byTen:              map[string][]string{},
		solver:             map[string]model.SolveOptions{},
		deliveries:         map[string]*CallbackDelivery{},
		deliveriesByTenant: map[string][]string{},
		dedup:              map[string]string{},
		now:                time.Now,
	}
}

func copyRun(r *model.Run) model.Run {
	out := *r
	out.Problem = append(json.RawMessage(nil), r.Problem...)
	return out
}

func (m *Memory) CreateRun(ctx context.Context, tenantID string, problem []byte, callbackURL, callbackSecret string) (model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &model.Run{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		Status:         model.RunQueued,
		Problem:        append(json.RawMessage(nil), problem...),
		CallbackURL:    callbackURL,
		CallbackSecret: callbackSecret,
		CreatedAt:      m.now().UTC(),
	}
	m.runs[r.ID] = r
	m.runOrder = append(m.runOrder, r.ID)
	m.byTen[tenantID] = append(m.byTen[tenantID], r.ID)
	return copyRun(r), nil
}

func (m *Memory) GetRun(ctx context.Context, tenantID, id string) (model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok || r.TenantID != tenantID {
		return model.Run{}, ErrNotFound
	}
	return copyRun(r), nil
}

func (m *Memory) ListRuns(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.Run, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.byTen[tenantID]
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	out := []model.Run{}
	var next string
	for i := start; i < len(ids) && len(out) < limit; i++ {
		r := m.runs[ids[i]]
		if status == "" || r.Status == status {
			run := copyRun(r)
			run.Problem = nil
			out = append(out, run)
		}
		next = ids[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) ClaimQueuedRuns(ctx context.Context, limit int) ([]model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Run{}
	now := m.now().UTC()
	for _, id := range m.runOrder {
		if limit > 0 && len(out) >= limit {
			break
		}
		r := m.runs[id]
		if r.Status != model.RunQueued {
			continue
		}
		r.Status = model.RunRunning
		started := now
		r.StartedAt = &started
		out = append(out, copyRun(r))
	}
	return out, nil
}

func (m *Memory) CompleteRun(ctx context.Context, id string, result model.SolveResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	res := result
	r.Result = &res
	r.Status = model.RunSucceeded
	r.Error = ""
	done := m.now().UTC()
	r.FinishedAt = &done
	return nil
}

func (m *Memory) FailRun(ctx context.Context, id, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = model.RunFailed
	r.Error = message
	done := m.now().UTC()
	r.FinishedAt = &done
	return nil
}

func (m *Memory) SaveRunMetrics(ctx context.Context, rm model.RunMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rm.RecordedAt.IsZero() {
		rm.RecordedAt = m.now().UTC()
	}
	for i := range m.metrics {
		if m.metrics[i].RunID == rm.RunID && m.metrics[i].TenantID == rm.TenantID {
			m.metrics[i] = rm
			return nil
		}
	}
	m.metrics = append(m.metrics, rm)
	return nil
}

// ListRunMetrics returns the newest entries first.
func (m *Memory) ListRunMetrics(ctx context.Context, tenantID string, since time.Time, limit int) ([]model.RunMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := []model.RunMetrics{}
	for i := len(m.metrics) - 1; i >= 0 && len(out) < limit; i-- {
		rm := m.metrics[i]
		if rm.TenantID != tenantID || (!since.IsZero() && rm.RecordedAt.Before(since)) {
			continue
		}
		out = append(out, rm)
	}
	return out, nil
}

func (m *Memory) GetSolverConfig(ctx context.Context, tenantID string) (model.SolveOptions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.solver[tenantID], nil
}

func (m *Memory) SaveSolverConfig(ctx context.Context, tenantID string, cfg model.SolveOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.solver[tenantID] = cfg
	return nil
}

func (m *Memory) EnqueueCallback(ctx context.Context, tenantID, runID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tenantID + "|" + eventType + "|" + url + "|" + computeDedupKey(payload)
	if id, ok := m.dedup[key]; ok {
		return id, nil
	}
	id := uuid.New().String()
	m.deliveries[id] = &CallbackDelivery{
		ID: id, TenantID: tenantID, RunID: runID, EventType: eventType, URL: url, Secret: secret,
		Payload: payload, Status: DeliveryPending, NextAttemptAt: m.now(),
	}
	m.deliveryOrder = append(m.deliveryOrder, id)
	m.deliveriesByTenant[tenantID] = append(m.deliveriesByTenant[tenantID], id)
	m.dedup[key] = id
	return id, nil
}

func (m *Memory) FetchDueCallbacks(ctx context.Context, limit int) ([]CallbackDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := []CallbackDelivery{}
	for _, id := range m.deliveryOrder {
		d := m.deliveries[id]
		if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
			out = append(out, *d)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkCallback(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = DeliveryDelivered
		now := m.now()
		d.DeliveredAt = &now
		return nil
	}
	d.Status = DeliveryRetry
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = m.now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailCallback(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = DeliveryFailed
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}

func (m *Memory) ListCallbacks(ctx context.Context, tenantID, status, cursor string, limit int) ([]CallbackDelivery, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	ids := m.deliveriesByTenant[tenantID]
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	out := []CallbackDelivery{}
	var last string
	for i := start; i < len(ids) && len(out) < limit; i++ {
		d := m.deliveries[ids[i]]
		if status == "" || d.Status == status {
			out = append(out, *d)
			last = d.ID
		}
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, nil
}

func (m *Memory) RetryCallback(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil || d.TenantID != tenantID {
		return ErrNotFound
	}
	d.Status = DeliveryPending
	d.NextAttemptAt = m.now()
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
