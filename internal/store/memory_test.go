package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"fleetroute/internal/model"
)

func TestMemoryRunLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a, err := m.CreateRun(ctx, "t1", []byte(`{"nodes":[]}`), "http://cb", "s3cret")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	b, _ := m.CreateRun(ctx, "t1", []byte(`{}`), "", "")
	if a.Status != model.RunQueued {
		t.Fatalf("want queued, got %s", a.Status)
	}
	if _, err := m.GetRun(ctx, "t2", a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other tenant must not see the run, got %v", err)
	}

	claimed, _ := m.ClaimQueuedRuns(ctx, 1)
	if len(claimed) != 1 || claimed[0].ID != a.ID {
		t.Fatalf("want oldest run claimed first, got %+v", claimed)
	}
	if claimed[0].CallbackSecret != "s3cret" || claimed[0].StartedAt == nil {
		t.Fatalf("claimed run lost fields: %+v", claimed[0])
	}
	claimed, _ = m.ClaimQueuedRuns(ctx, 10)
	if len(claimed) != 1 || claimed[0].ID != b.ID {
		t.Fatalf("want second run claimed, got %+v", claimed)
	}
	if again, _ := m.ClaimQueuedRuns(ctx, 10); len(again) != 0 {
		t.Fatalf("nothing left to claim, got %d", len(again))
	}

	if err := m.CompleteRun(ctx, a.ID, model.SolveResponse{Status: "FEASIBLE_FOUND"}); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	if err := m.FailRun(ctx, b.ID, "boom"); err != nil {
		t.Fatalf("FailRun: %v", err)
	}
	got, _ := m.GetRun(ctx, "t1", a.ID)
	if got.Status != model.RunSucceeded || got.Result == nil || got.FinishedAt == nil {
		t.Fatalf("unexpected run %+v", got)
	}
	if err := m.FailRun(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	failed, next, _ := m.ListRuns(ctx, "t1", model.RunFailed, "", 10)
	if len(failed) != 1 || failed[0].ID != b.ID || failed[0].Error != "boom" || next != "" {
		t.Fatalf("unexpected failed list %+v next=%q", failed, next)
	}
	page, next, _ := m.ListRuns(ctx, "t1", "", "", 1)
	if len(page) != 1 || next != a.ID {
		t.Fatalf("want first page with cursor %s, got %+v next=%q", a.ID, page, next)
	}
	page, next, _ = m.ListRuns(ctx, "t1", "", next, 1)
	if len(page) != 1 || page[0].ID != b.ID {
		t.Fatalf("want second page, got %+v next=%q", page, next)
	}
}

func TestMemoryCallbacks(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m.now = func() time.Time { return clock }

	payload := []byte(`{"runId":"r1","type":"run.succeeded"}`)
	id, err := m.EnqueueCallback(ctx, "t1", "r1", "run.succeeded", "http://cb", "k", payload)
	if err != nil {
		t.Fatalf("EnqueueCallback: %v", err)
	}
	dup, _ := m.EnqueueCallback(ctx, "t1", "r1", "run.succeeded", "http://cb", "k", payload)
	if dup != id {
		t.Fatalf("duplicate payload must map to %s, got %s", id, dup)
	}

	due, _ := m.FetchDueCallbacks(ctx, 10)
	if len(due) != 1 || string(due[0].Payload) != string(payload) {
		t.Fatalf("want one due delivery, got %+v", due)
	}
	next := clock.Add(30 * time.Second)
	if err := m.MarkCallback(ctx, id, false, &next, "503", 503, 12); err != nil {
		t.Fatalf("MarkCallback: %v", err)
	}
	if due, _ = m.FetchDueCallbacks(ctx, 10); len(due) != 0 {
		t.Fatalf("retry is not due yet")
	}
	clock = next
	due, _ = m.FetchDueCallbacks(ctx, 10)
	if len(due) != 1 || due[0].Attempts != 1 || due[0].Status != DeliveryRetry {
		t.Fatalf("want retry due, got %+v", due)
	}
	if err := m.MarkCallback(ctx, id, true, nil, "", 200, 5); err != nil {
		t.Fatalf("MarkCallback: %v", err)
	}
	list, _, _ := m.ListCallbacks(ctx, "t1", DeliveryDelivered, "", 10)
	if len(list) != 1 || list[0].DeliveredAt == nil || list[0].Attempts != 2 {
		t.Fatalf("unexpected deliveries %+v", list)
	}

	if err := m.FailCallback(ctx, id, "gone", 410, 3); err != nil {
		t.Fatalf("FailCallback: %v", err)
	}
	if err := m.RetryCallback(ctx, "t2", id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant retry must fail, got %v", err)
	}
	if err := m.RetryCallback(ctx, "t1", id); err != nil {
		t.Fatalf("RetryCallback: %v", err)
	}
	if due, _ = m.FetchDueCallbacks(ctx, 10); len(due) != 1 {
		t.Fatalf("requeued delivery must be due")
	}
}

func TestMemoryMetricsAndConfig(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, id := range []string{"r1", "r2", "r3"} {
		_ = m.SaveRunMetrics(ctx, model.RunMetrics{RunID: id, TenantID: "t1", Status: "FEASIBLE_FOUND"})
	}
	_ = m.SaveRunMetrics(ctx, model.RunMetrics{RunID: "r2", TenantID: "t1", Status: "NO_FEASIBLE_SOLUTION"})
	_ = m.SaveRunMetrics(ctx, model.RunMetrics{RunID: "x", TenantID: "t2"})

	got, _ := m.ListRunMetrics(ctx, "t1", time.Time{}, 2)
	if len(got) != 2 || got[0].RunID != "r3" || got[1].RunID != "r2" || got[1].Status != "NO_FEASIBLE_SOLUTION" {
		t.Fatalf("unexpected metrics %+v", got)
	}

	cfg, _ := m.GetSolverConfig(ctx, "t1")
	if cfg.Metaheuristic != "" {
		t.Fatalf("want empty default config, got %+v", cfg)
	}
	_ = m.SaveSolverConfig(ctx, "t1", model.SolveOptions{Metaheuristic: "greedy", TimeLimitMs: 250})
	cfg, _ = m.GetSolverConfig(ctx, "t1")
	if cfg.Metaheuristic != "greedy" || cfg.TimeLimitMs != 250 {
		t.Fatalf("config not saved: %+v", cfg)
	}
}
