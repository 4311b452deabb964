package routing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"fleetroute/internal/logging"
)

// Metaheuristic selects the improvement phase.
type Metaheuristic int

const (
	// GuidedLocalSearch penalizes heavily used arcs to escape local minima.
	GuidedLocalSearch Metaheuristic = iota
	// GreedyDescent applies improving moves only and stops at the first local optimum.
	GreedyDescent
)

var metaheuristicNames = [...]string{
	GuidedLocalSearch: "gls",
	GreedyDescent:     "greedy",
}

func (h Metaheuristic) String() string {
	if h < 0 || int(h) >= len(metaheuristicNames) {
		return fmt.Sprintf("Metaheuristic(%d)", int(h))
	}
	return metaheuristicNames[h]
}

// ParseMetaheuristic parses "gls" or "greedy".
func ParseMetaheuristic(s string) (Metaheuristic, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gls", "guided-local-search":
		return GuidedLocalSearch, nil
	case "greedy", "greedy-descent":
		return GreedyDescent, nil
	}
	return GuidedLocalSearch, fmt.Errorf("%w: unknown metaheuristic %q", ErrInvalidOptions, s)
}

// Progress is passed to Options.OnImprovement each time a new best solution is found.
type Progress struct {
	Iteration int
	Objective Objective
	Unserved  int
	Elapsed   time.Duration
}

// Options controls a solve.
type Options struct {
	FirstSolution FirstSolutionStrategy
	Metaheuristic Metaheuristic
	// TimeLimit bounds the search phase; zero means no wall-clock limit. The limit and
	// the context are checked between iterations and one iteration scans the whole
	// neighborhood, so a large instance can overrun the limit by one full scan.
	// Construction is not bounded by it.
	TimeLimit time.Duration
	// IterationLimit caps search iterations; negative means unlimited, zero skips search.
	IterationLimit int
	// GLSLambdaFactor scales the arc penalty weight relative to the average arc cost of
	// the initial solution.
	GLSLambdaFactor float64
	// InitialRoutes, when set, replaces construction with a validated warm start.
	InitialRoutes [][]int
	Logger        logr.Logger
	// OnImprovement is called from the search goroutine on every new best solution.
	OnImprovement func(Progress)
}

// DefaultOptions returns a one second guided local search after automatic construction.
func DefaultOptions() Options {
	return Options{
		FirstSolution:   Automatic,
		Metaheuristic:   GuidedLocalSearch,
		TimeLimit:       time.Second,
		IterationLimit:  -1,
		GLSLambdaFactor: 0.1,
		Logger:          logr.Discard(),
	}
}

func (o *Options) normalize(ctx context.Context) error {
	if o.Logger.GetSink() == nil {
		o.Logger = logr.Discard()
	}
	if o.TimeLimit < 0 {
		return fmt.Errorf("%w: negative time limit", ErrInvalidOptions)
	}
	if o.GLSLambdaFactor < 0 {
		return fmt.Errorf("%w: negative GLS lambda factor", ErrInvalidOptions)
	}
	if o.GLSLambdaFactor == 0 {
		o.GLSLambdaFactor = 0.1
	}
	if o.FirstSolution < Automatic || o.FirstSolution > ParallelCheapestInsertion {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, o.FirstSolution)
	}
	if o.Metaheuristic < GuidedLocalSearch || o.Metaheuristic > GreedyDescent {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, o.Metaheuristic)
	}
	if o.Metaheuristic == GuidedLocalSearch && o.TimeLimit == 0 && o.IterationLimit < 0 {
		if _, ok := ctx.Deadline(); !ok {
			return ErrUnboundedSearch
		}
	}
	return nil
}

// Metrics describes what a solve did.
type Metrics struct {
	Strategy       string         `json:"strategy"`
	Metaheuristic  string         `json:"metaheuristic"`
	Iterations     int            `json:"iterations"`
	Improvements   int            `json:"improvements"`
	AcceptedWorse  int            `json:"acceptedWorse"`
	PenaltyUpdates int            `json:"penaltyUpdates"`
	Operators      map[string]int `json:"operators"`
	InitialCost    int64          `json:"initialCost"`
	BestCost       int64          `json:"bestCost"`
	Elapsed        time.Duration  `json:"elapsed"`
}

// Solve builds a first solution (or validates opts.InitialRoutes) and improves it with
// local search. Budget exhaustion and infeasibility are reported through the status;
// errors are reserved for invalid options and invalid warm starts.
func Solve(ctx context.Context, m *Model, opts Options) (*Solution, Metrics, error) {
	if err := opts.normalize(ctx); err != nil {
		return nil, Metrics{}, err
	}
	start := time.Now()
	log := opts.Logger.WithName("routing")
	e := newEvaluator(m)

	var initial *plan
	var met Metrics
	if opts.InitialRoutes != nil {
		p, err := validateRoutes(e, opts.InitialRoutes)
		if err != nil {
			return nil, Metrics{}, err
		}
		initial = p
		met.Strategy = "warm-start"
	} else {
		strategy, upgraded := opts.FirstSolution.resolve(m)
		if upgraded {
			log.Info("upgrading first solution strategy", "requested", opts.FirstSolution.String(), "using", strategy.String())
		}
		c := newConstruction(e)
		if strategy == PathCheapestArc {
			initial = c.pathCheapestArc()
		} else {
			initial = c.parallelCheapestInsertion()
		}
		met.Strategy = strategy.String()
	}
	log.V(logging.DEBUG).Info("first solution", "strategy", met.Strategy, "objective", initial.obj.Total, "unserved", initial.unserved)

	best, sm, limited := newSearcher(e, initial, opts, start).run(ctx)
	sm.Strategy = met.Strategy
	sm.Elapsed = time.Since(start)
	sol := e.toSolution(best)
	sol.Status = statusFor(best.unserved, limited)
	log.V(logging.DEBUG).Info("solve finished", "status", sol.Status.String(), "objective", sol.Objective.Total,
		"iterations", sm.Iterations, "elapsed", sm.Elapsed)
	return sol, sm, nil
}

// Search improves an existing solution. initial must have been produced for m.
func Search(ctx context.Context, m *Model, initial *Solution, opts Options) (*Solution, Metrics, error) {
	if initial == nil || initial.model != m {
		return nil, Metrics{}, ErrModelMismatch
	}
	opts.InitialRoutes = initial.StopLists()
	opts.FirstSolution = Automatic
	return Solve(ctx, m, opts)
}

func statusFor(unserved int, limited bool) Status {
	switch {
	case limited && unserved == 0:
		return StatusTimeLimitWithSolution
	case limited:
		return StatusTimeLimitNoSolution
	case unserved == 0:
		return StatusFeasibleFound
	}
	return StatusNoFeasibleSolution
}
