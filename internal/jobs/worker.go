// Package jobs runs queued solve runs in the background.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"fleetroute/internal/logging"
	"fleetroute/internal/metrics"
	"fleetroute/internal/model"
	"fleetroute/internal/problem"
	"fleetroute/internal/routing"
	"fleetroute/internal/store"
	"fleetroute/internal/webhooks"
)

// EventPublisher receives run lifecycle and progress events.
type EventPublisher interface {
	Publish(runID string, evt model.RunEvent)
}

// Worker polls the store for queued runs and solves up to Concurrency of them at a time.
type Worker struct {
	Store     store.Store
	Events    EventPublisher
	Callbacks *webhooks.Publisher
	Log       logr.Logger

	// Defaults sit under the tenant solver config and the problem's own options.
	Defaults model.SolveOptions

	Concurrency int
	Interval    time.Duration
	// MaxTimeLimit caps the search time of a single run; zero leaves runs uncapped.
	MaxTimeLimit time.Duration

	Stop chan struct{}
	done chan struct{}
	now  func() time.Time
}

func NewWorker(s store.Store, events EventPublisher, log logr.Logger) *Worker {
	return &Worker{
		Store:        s,
		Events:       events,
		Callbacks:    webhooks.NewPublisher(s),
		Log:          log.WithName("runs"),
		Concurrency:  2,
		Interval:     time.Second,
		MaxTimeLimit: time.Minute,
		Stop:         make(chan struct{}),
		done:         make(chan struct{}),
		now:          time.Now,
	}
}

// Start polls until Stop is closed. Runs in flight are cancelled on stop and recorded as
// time-limited.
func (w *Worker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-w.Stop
		cancel()
	}()
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.Stop:
				return
			case <-ticker.C:
				w.processOnce(ctx)
			}
		}
	}()
}

// Wait blocks until a started worker has exited.
func (w *Worker) Wait() { <-w.done }

// processOnce claims a batch of runs and solves them concurrently. It returns the number
// of runs handled.
func (w *Worker) processOnce(ctx context.Context) int {
	n := w.Concurrency
	if n <= 0 {
		n = 1
	}
	runs, err := w.Store.ClaimQueuedRuns(ctx, n)
	if err != nil {
		w.Log.Error(err, "claim queued runs")
		return 0
	}
	var wg sync.WaitGroup
	for _, r := range runs {
		wg.Add(1)
		go func(r model.Run) {
			defer wg.Done()
			metrics.RunsInFlight.Inc()
			defer metrics.RunsInFlight.Dec()
			w.execute(ctx, r)
		}(r)
	}
	wg.Wait()
	return len(runs)
}

func (w *Worker) execute(ctx context.Context, run model.Run) {
	log := w.Log.WithValues("run", run.ID, "tenant", run.TenantID)
	w.publish(run.ID, model.RunEvent{Type: model.EventRunStarted})

	resp, in, err := w.solve(ctx, run, log)
	// recording outcomes must not depend on the solve context
	rec := context.WithoutCancel(ctx)
	if err != nil {
		log.Info("run failed", "error", err.Error())
		if ferr := w.Store.FailRun(rec, run.ID, err.Error()); ferr != nil {
			log.Error(ferr, "record run failure")
		}
		metrics.Solves.WithLabelValues("run", "ERROR").Inc()
		ev := model.RunEvent{RunID: run.ID, Type: model.EventRunFailed, Error: err.Error(), At: w.now().UTC()}
		w.publish(run.ID, ev)
		w.callback(rec, run, ev, log)
		return
	}

	if err := w.Store.CompleteRun(rec, run.ID, resp); err != nil {
		log.Error(err, "record run result")
	}
	rm := model.RunMetrics{
		RunID:    run.ID,
		TenantID: run.TenantID,
		Status:   resp.Status,
		Nodes:    in.Model.Network().NodeCount(),
		Vehicles: in.Model.Network().VehicleCount(),
		Metrics:  resp.Metrics,
	}
	if err := w.Store.SaveRunMetrics(rec, rm); err != nil {
		log.Error(err, "save run metrics")
	}
	metrics.ObserveSolve("run", resp.Status, float64(resp.Metrics.ElapsedMs)/1000, resp.Metrics.Iterations, len(resp.Dropped))
	log.Info("run finished", "status", resp.Status, "objective", resp.Objective.Total, "dropped", len(resp.Dropped))

	ev := model.RunEvent{
		RunID:     run.ID,
		Type:      model.EventRunSucceeded,
		Objective: resp.Objective.Total,
		Unserved:  resp.Unserved,
		Status:    resp.Status,
		At:        w.now().UTC(),
	}
	w.publish(run.ID, ev)
	run.Result = &resp
	w.callback(rec, run, ev, log)
}

func (w *Worker) solve(ctx context.Context, run model.Run, log logr.Logger) (model.SolveResponse, *problem.Instance, error) {
	p, err := problem.Decode(run.Problem, "json")
	if err != nil {
		return model.SolveResponse{}, nil, err
	}
	tenant, err := w.Store.GetSolverConfig(ctx, run.TenantID)
	if err != nil {
		return model.SolveResponse{}, nil, err
	}
	in, err := problem.Build(p, problem.MergeOptions(w.Defaults, tenant))
	if err != nil {
		return model.SolveResponse{}, nil, err
	}
	ClampTimeLimit(&in.Options, w.MaxTimeLimit)
	in.Options.Logger = log
	in.Options.OnImprovement = func(pr routing.Progress) {
		w.publish(run.ID, model.RunEvent{
			Type:      model.EventRunProgress,
			Iteration: pr.Iteration,
			Objective: pr.Objective.Total,
			Unserved:  pr.Unserved,
		})
	}
	resp, err := in.Solve(ctx)
	return resp, in, err
}

// ClampTimeLimit bounds opts.TimeLimit by max. An unbounded search gets max as its limit.
func ClampTimeLimit(opts *routing.Options, max time.Duration) {
	if max <= 0 {
		return
	}
	if opts.TimeLimit == 0 || opts.TimeLimit > max {
		opts.TimeLimit = max
	}
}

func (w *Worker) publish(runID string, ev model.RunEvent) {
	if w.Events == nil {
		return
	}
	ev.RunID = runID
	if ev.At.IsZero() {
		ev.At = w.now().UTC()
	}
	w.Events.Publish(runID, ev)
}

func (w *Worker) callback(ctx context.Context, run model.Run, ev model.RunEvent, log logr.Logger) {
	if w.Callbacks == nil {
		return
	}
	id, err := w.Callbacks.RunFinished(ctx, run, ev)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error(err, "queue callback")
		return
	}
	if id != "" {
		log.V(logging.DEBUG).Info("callback queued", "delivery", id)
	}
}
