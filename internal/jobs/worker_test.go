package jobs

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"fleetroute/internal/model"
	"fleetroute/internal/routing"
	"fleetroute/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	events []model.RunEvent
}

func (r *recorder) Publish(runID string, evt model.RunEvent) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []string{}
	for _, e := range r.events {
		if e.Type != model.EventRunProgress {
			out = append(out, e.Type)
		}
	}
	return out
}

func smallProblem(t *testing.T) []byte {
	t.Helper()
	iters := 10
	p := model.Problem{
		Nodes: []model.NodeIn{
			{ID: "depot"},
			{ID: "a", Demands: map[string]int64{"Load": 3}},
			{ID: "b", Demands: map[string]int64{"Load": 4}},
			{ID: "c", Demands: map[string]int64{"Load": 2}},
		},
		Distances: [][]int64{
			{0, 4, 6, 5},
			{4, 0, 3, 7},
			{6, 3, 0, 2},
			{5, 7, 2, 0},
		},
		Vehicles:   []model.VehicleIn{{ID: "v1", Start: "depot"}, {ID: "v2", Start: "depot"}},
		Dimensions: []model.DimensionIn{{Name: "Load", Kind: model.DimensionCapacity, Capacity: 6, StartAtZero: true}},
		Options:    model.SolveOptions{MaxIterations: &iters},
	}
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func newTestWorker(s store.Store, ev EventPublisher) *Worker {
	w := NewWorker(s, ev, logr.Discard())
	w.MaxTimeLimit = 5 * time.Second
	return w
}

func TestWorkerSolvesQueuedRun(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	rec := &recorder{}
	w := newTestWorker(mem, rec)

	run, err := mem.CreateRun(ctx, "t1", smallProblem(t), "http://callback.invalid/hook", "k")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if n := w.processOnce(ctx); n != 1 {
		t.Fatalf("want one run processed, got %d", n)
	}

	got, err := mem.GetRun(ctx, "t1", run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != model.RunSucceeded || got.Result == nil {
		t.Fatalf("unexpected run state %+v", got)
	}
	if got.Result.Status != "FEASIBLE_FOUND" || len(got.Result.Dropped) != 0 {
		t.Fatalf("unexpected result %+v", got.Result)
	}
	for _, r := range got.Result.Routes {
		if load := r.Cumuls["Load"]; load[len(load)-1] > 6 {
			t.Fatalf("route %s over capacity: %v", r.VehicleID, load)
		}
	}

	types := rec.types()
	if len(types) != 2 || types[0] != model.EventRunStarted || types[1] != model.EventRunSucceeded {
		t.Fatalf("unexpected lifecycle events %v", types)
	}

	ms, _ := mem.ListRunMetrics(ctx, "t1", time.Time{}, 10)
	if len(ms) != 1 || ms[0].RunID != run.ID || ms[0].Nodes != 4 || ms[0].Vehicles != 2 {
		t.Fatalf("unexpected run metrics %+v", ms)
	}

	due, _ := mem.FetchDueCallbacks(ctx, 10)
	if len(due) != 1 || due[0].RunID != run.ID || due[0].EventType != model.EventRunSucceeded {
		t.Fatalf("want queued completion callback, got %+v", due)
	}
	if !strings.Contains(string(due[0].Payload), `"result"`) {
		t.Fatalf("callback payload lacks the result: %s", due[0].Payload)
	}
}

func TestWorkerRecordsInvalidProblem(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	rec := &recorder{}
	w := newTestWorker(mem, rec)

	run, _ := mem.CreateRun(ctx, "t1", []byte(`{"nodes":[{"id":"x"}],"vehicles":[{"id":"v","start":"nowhere"}],"distances":[[0]]}`), "", "")
	w.processOnce(ctx)

	got, _ := mem.GetRun(ctx, "t1", run.ID)
	if got.Status != model.RunFailed || !strings.Contains(got.Error, "nowhere") {
		t.Fatalf("unexpected run state %+v", got)
	}
	types := rec.types()
	if len(types) != 2 || types[1] != model.EventRunFailed {
		t.Fatalf("unexpected lifecycle events %v", types)
	}
	if due, _ := mem.FetchDueCallbacks(ctx, 10); len(due) != 0 {
		t.Fatalf("no callback was requested, got %+v", due)
	}
}

func TestWorkerUsesTenantDefaults(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	_ = mem.SaveSolverConfig(ctx, "t1", model.SolveOptions{Metaheuristic: "greedy"})
	w := newTestWorker(mem, nil)

	run, _ := mem.CreateRun(ctx, "t1", smallProblem(t), "", "")
	w.processOnce(ctx)
	got, _ := mem.GetRun(ctx, "t1", run.ID)
	if got.Result == nil || got.Result.Metrics.Metaheuristic != "greedy" {
		t.Fatalf("tenant default not applied: %+v", got.Result)
	}
}

func TestWorkerLayersServerDefaults(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	_ = mem.SaveSolverConfig(ctx, "t1", model.SolveOptions{FirstSolution: "parallel-cheapest-insertion"})
	w := newTestWorker(mem, nil)
	w.Defaults = model.SolveOptions{Metaheuristic: "greedy", FirstSolution: "path-cheapest-arc"}

	run, _ := mem.CreateRun(ctx, "t1", smallProblem(t), "", "")
	w.processOnce(ctx)
	got, _ := mem.GetRun(ctx, "t1", run.ID)
	if got.Result == nil {
		t.Fatalf("run not solved: %+v", got)
	}
	if m := got.Result.Metrics; m.Metaheuristic != "greedy" || m.Strategy != "parallel-cheapest-insertion" {
		t.Fatalf("tenant config must override server defaults: %+v", m)
	}
}

func TestClampTimeLimit(t *testing.T) {
	opts := routing.Options{TimeLimit: time.Hour}
	ClampTimeLimit(&opts, time.Minute)
	if opts.TimeLimit != time.Minute {
		t.Fatalf("want clamp to 1m, got %v", opts.TimeLimit)
	}
	opts.TimeLimit = 0
	ClampTimeLimit(&opts, time.Minute)
	if opts.TimeLimit != time.Minute {
		t.Fatalf("unbounded search must get the cap, got %v", opts.TimeLimit)
	}
	opts.TimeLimit = time.Second
	ClampTimeLimit(&opts, 0)
	if opts.TimeLimit != time.Second {
		t.Fatalf("zero cap must leave the limit alone, got %v", opts.TimeLimit)
	}
}

func TestWorkerStartStop(t *testing.T) {
	mem := store.NewMemory()
	w := newTestWorker(mem, nil)
	w.Interval = 10 * time.Millisecond
	run, _ := mem.CreateRun(context.Background(), "t1", smallProblem(t), "", "")
	w.Start()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := mem.GetRun(context.Background(), "t1", run.ID)
		if got.Status == model.RunSucceeded {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	close(w.Stop)
	w.Wait()
	got, _ := mem.GetRun(context.Background(), "t1", run.ID)
	if got.Status != model.RunSucceeded {
		t.Fatalf("run not solved by background worker: %s", got.Status)
	}
}
