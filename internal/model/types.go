package model

import (
	"encoding/json"
	"time"
)

// Wire types for problem documents, solve responses and stored runs.

type Problem struct {
	Name          string          `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes         []NodeIn        `json:"nodes" yaml:"nodes"`
	Distances     [][]int64       `json:"distances,omitempty" yaml:"distances,omitempty"`
	Times         [][]int64       `json:"times,omitempty" yaml:"times,omitempty"`
	SpeedKph      float64         `json:"speedKph,omitempty" yaml:"speedKph,omitempty"`
	Vehicles      []VehicleIn     `json:"vehicles" yaml:"vehicles"`
	Dimensions    []DimensionIn   `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	Disjunctions  []DisjunctionIn `json:"disjunctions,omitempty" yaml:"disjunctions,omitempty"`
	Pairs         []PairIn        `json:"pickupDeliveries,omitempty" yaml:"pickupDeliveries,omitempty"`
	InitialRoutes [][]string      `json:"initialRoutes,omitempty" yaml:"initialRoutes,omitempty"`
	Options       SolveOptions    `json:"options,omitempty" yaml:"options,omitempty"`
}

type NodeIn struct {
	ID             string           `json:"id" yaml:"id"`
	Location       *GeoPoint        `json:"location,omitempty" yaml:"location,omitempty"`
	Demands        map[string]int64 `json:"demands,omitempty" yaml:"demands,omitempty"`
	ServiceTimeSec int64            `json:"serviceTimeSec,omitempty" yaml:"serviceTimeSec,omitempty"`
}

type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

type TimeWindow struct {
	Start int64 `json:"start" yaml:"start"`
	End   int64 `json:"end" yaml:"end"`
}

type VehicleIn struct {
	ID           string                  `json:"id" yaml:"id"`
	Start        string                  `json:"start" yaml:"start"`
	End          string                  `json:"end,omitempty" yaml:"end,omitempty"`
	Capacities   map[string]int64        `json:"capacities,omitempty" yaml:"capacities,omitempty"`
	FixedCost    int64                   `json:"fixedCost,omitempty" yaml:"fixedCost,omitempty"`
	StartValues  map[string]int64        `json:"startValues,omitempty" yaml:"startValues,omitempty"`
	StartWindows map[string][]TimeWindow `json:"startWindows,omitempty" yaml:"startWindows,omitempty"`
	EndWindows   map[string][]TimeWindow `json:"endWindows,omitempty" yaml:"endWindows,omitempty"`
}

// Dimension kinds accepted by DimensionIn.Kind.
const (
	DimensionCapacity = "capacity"
	DimensionTime     = "time"
	DimensionDistance = "distance"
)

type DimensionIn struct {
	Name                string                  `json:"name" yaml:"name"`
	Kind                string                  `json:"kind" yaml:"kind"`
	Capacity            int64                   `json:"capacity" yaml:"capacity"`
	SlackMax            int64                   `json:"slackMax,omitempty" yaml:"slackMax,omitempty"`
	StartAtZero         bool                    `json:"startAtZero,omitempty" yaml:"startAtZero,omitempty"`
	ResetNodes          []string                `json:"resetNodes,omitempty" yaml:"resetNodes,omitempty"`
	SpanCostCoefficient int64                   `json:"spanCostCoefficient,omitempty" yaml:"spanCostCoefficient,omitempty"`
	Windows             map[string][]TimeWindow `json:"windows,omitempty" yaml:"windows,omitempty"`
}

type DisjunctionIn struct {
	Nodes          []string `json:"nodes" yaml:"nodes"`
	Penalty        int64    `json:"penalty" yaml:"penalty"`
	MaxCardinality int      `json:"maxCardinality,omitempty" yaml:"maxCardinality,omitempty"`
}

type PairIn struct {
	Pickup   string `json:"pickup" yaml:"pickup"`
	Delivery string `json:"delivery" yaml:"delivery"`
}

type SolveOptions struct {
	FirstSolution   string  `json:"firstSolution,omitempty" yaml:"firstSolution,omitempty"`
	Metaheuristic   string  `json:"metaheuristic,omitempty" yaml:"metaheuristic,omitempty"`
	TimeLimitMs     int     `json:"timeLimitMs,omitempty" yaml:"timeLimitMs,omitempty"`
	MaxIterations   *int    `json:"maxIterations,omitempty" yaml:"maxIterations,omitempty"`
	GLSLambdaFactor float64 `json:"glsLambdaFactor,omitempty" yaml:"glsLambdaFactor,omitempty"`
}

type SolveResponse struct {
	Status    string           `json:"status"`
	Routes    []RouteOut       `json:"routes"`
	Dropped   []string         `json:"dropped"`
	Objective ObjectiveOut     `json:"objective"`
	Unserved  int              `json:"unserved"`
	Metrics   SolverMetricsOut `json:"metrics"`
}

type RouteOut struct {
	VehicleID string             `json:"vehicleId"`
	Nodes     []string           `json:"nodes"`
	Cumuls    map[string][]int64 `json:"cumuls,omitempty"`
	Cost      int64              `json:"cost"`
}

type ObjectiveOut struct {
	Arc     int64 `json:"arc"`
	Penalty int64 `json:"penalty"`
	Fixed   int64 `json:"fixed"`
	Span    int64 `json:"span"`
	Total   int64 `json:"total"`
}

type SolverMetricsOut struct {
	Strategy       string         `json:"strategy"`
	Metaheuristic  string         `json:"metaheuristic"`
	Iterations     int            `json:"iterations"`
	Improvements   int            `json:"improvements"`
	AcceptedWorse  int            `json:"acceptedWorse"`
	PenaltyUpdates int            `json:"penaltyUpdates"`
	Operators      map[string]int `json:"operators,omitempty"`
	InitialCost    int64          `json:"initialCost"`
	BestCost       int64          `json:"bestCost"`
	ElapsedMs      int64          `json:"elapsedMs"`
}

// Run statuses.
const (
	RunQueued    = "queued"
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

type RunRequest struct {
	Problem        Problem `json:"problem"`
	CallbackURL    string  `json:"callbackUrl,omitempty"`
	CallbackSecret string  `json:"callbackSecret,omitempty"`
}

type Run struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenantId"`
	Status      string          `json:"status"`
	Problem     json.RawMessage `json:"problem,omitempty"`
	Result      *SolveResponse  `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CallbackURL string          `json:"callbackUrl,omitempty"`
	// CallbackSecret is never serialized.
	CallbackSecret string     `json:"-"`
	CreatedAt      time.Time  `json:"createdAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
}

type RunCreated struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// RunEvent is published while a run progresses and when it finishes.
type RunEvent struct {
	RunID     string    `json:"runId"`
	Type      string    `json:"type"`
	Iteration int       `json:"iteration,omitempty"`
	Objective int64     `json:"objective,omitempty"`
	Unserved  int       `json:"unserved,omitempty"`
	Status    string    `json:"status,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Run event types.
const (
	EventRunStarted   = "run.started"
	EventRunProgress  = "run.progress"
	EventRunSucceeded = "run.succeeded"
	EventRunFailed    = "run.failed"
)

// RunMetrics is the persisted summary of one solve.
type RunMetrics struct {
	RunID      string           `json:"runId"`
	TenantID   string           `json:"tenantId"`
	Status     string           `json:"status"`
	Nodes      int              `json:"nodes"`
	Vehicles   int              `json:"vehicles"`
	Metrics    SolverMetricsOut `json:"metrics"`
	RecordedAt time.Time        `json:"recordedAt"`
}
