// Package problem turns problem documents into routing models and solutions back into
// wire responses.
package problem

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fleetroute/internal/model"
	"fleetroute/internal/routing"
)

// ErrInvalidProblem wraps every structural problem found while loading a document.
var ErrInvalidProblem = errors.New("invalid problem")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidProblem, fmt.Sprintf(format, args...))
}

// Decode parses a problem document. format is "json" or "yaml"; unknown fields are rejected.
func Decode(data []byte, format string) (model.Problem, error) {
	var p model.Problem
	switch strings.ToLower(format) {
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return p, fmt.Errorf("%w: %v", ErrInvalidProblem, err)
		}
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil {
			return p, fmt.Errorf("%w: %v", ErrInvalidProblem, err)
		}
	default:
		return p, fmt.Errorf("unsupported problem format %q", format)
	}
	return p, nil
}

// DecodeFile reads a problem document, picking the format from the file extension.
func DecodeFile(path string) (model.Problem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Problem{}, err
	}
	format := strings.TrimPrefix(filepath.Ext(path), ".")
	if format == "" {
		format = "json"
	}
	return Decode(data, format)
}

// Instance is a built model together with the identifiers needed to report on it.
type Instance struct {
	Model   *routing.Model
	Options routing.Options

	nodeIDs    []string
	vehicleIDs []string
	index      map[string]int
}

// NodeIndex returns the model index of a node id.
func (in *Instance) NodeIndex(id string) (int, bool) {
	i, ok := in.index[id]
	return i, ok
}

// Build validates p and constructs the routing model and solve options it describes.
// defaults are applied under p.Options.
func Build(p model.Problem, defaults model.SolveOptions) (*Instance, error) {
	if len(p.Nodes) == 0 {
		return nil, invalid("no nodes")
	}
	if len(p.Vehicles) == 0 {
		return nil, invalid("no vehicles")
	}
	in := &Instance{index: make(map[string]int, len(p.Nodes))}
	net := routing.NewNetwork()
	for i, n := range p.Nodes {
		id := n.ID
		if id == "" {
			id = strconv.Itoa(i)
		}
		if _, dup := in.index[id]; dup {
			return nil, invalid("duplicate node id %q", id)
		}
		if n.ServiceTimeSec < 0 {
			return nil, invalid("node %q has negative service time", id)
		}
		in.index[id] = i
		in.nodeIDs = append(in.nodeIDs, id)
		node := routing.Node{ID: id}
		if n.Location != nil {
			node.Lat, node.Lng = n.Location.Lat, n.Location.Lng
		}
		if _, err := net.AddNode(node); err != nil {
			return nil, err
		}
	}

	distances, times, err := matrices(p)
	if err != nil {
		return nil, err
	}
	if err := net.SetArcCosts(distances); err != nil {
		return nil, err
	}

	for i, v := range p.Vehicles {
		id := v.ID
		if id == "" {
			id = strconv.Itoa(i)
		}
		start, err := in.lookup(v.Start, "vehicle "+id+" start")
		if err != nil {
			return nil, err
		}
		end := start
		if v.End != "" {
			if end, err = in.lookup(v.End, "vehicle "+id+" end"); err != nil {
				return nil, err
			}
		}
		idx, err := net.AddVehicle(id, start, end, v.Capacities)
		if err != nil {
			return nil, err
		}
		if v.FixedCost != 0 {
			if err := net.SetVehicleFixedCost(idx, v.FixedCost); err != nil {
				return nil, err
			}
		}
		in.vehicleIDs = append(in.vehicleIDs, id)
	}

	b := routing.NewBuilder(net)
	for _, d := range p.Dimensions {
		if err := in.addDimension(b, p, d, distances, times); err != nil {
			return nil, err
		}
	}
	for _, d := range p.Disjunctions {
		nodes, err := in.lookupAll(d.Nodes, "disjunction")
		if err != nil {
			return nil, err
		}
		if _, err := b.AddDisjunction(nodes, d.Penalty, d.MaxCardinality); err != nil {
			return nil, err
		}
	}
	for _, pd := range p.Pairs {
		pickup, err := in.lookup(pd.Pickup, "pickup")
		if err != nil {
			return nil, err
		}
		delivery, err := in.lookup(pd.Delivery, "delivery")
		if err != nil {
			return nil, err
		}
		if err := b.AddPickupDelivery(pickup, delivery); err != nil {
			return nil, err
		}
	}
	if in.Model, err = b.Build(); err != nil {
		return nil, err
	}

	if in.Options, err = Options(MergeOptions(defaults, p.Options)); err != nil {
		return nil, err
	}
	for _, r := range p.InitialRoutes {
		stops, err := in.lookupAll(r, "initial route")
		if err != nil {
			return nil, err
		}
		in.Options.InitialRoutes = append(in.Options.InitialRoutes, stops)
	}
	return in, nil
}

func (in *Instance) lookup(id, what string) (int, error) {
	i, ok := in.index[id]
	if !ok {
		return -1, invalid("%s references unknown node %q", what, id)
	}
	return i, nil
}

func (in *Instance) lookupAll(ids []string, what string) ([]int, error) {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		i, err := in.lookup(id, what)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, nil
}

// matrices returns the arc cost (distance) matrix and, when derivable, the travel time
// matrix. Missing distances are computed from node locations.
func matrices(p model.Problem) ([][]int64, [][]int64, error) {
	distances := p.Distances
	if distances == nil {
		points := make([]model.GeoPoint, len(p.Nodes))
		for i, n := range p.Nodes {
			if n.Location == nil {
				return nil, nil, invalid("node %d has no location and no distance matrix was given", i)
			}
			points[i] = *n.Location
		}
		distances = DistanceMatrix(points)
	}
	if p.SpeedKph < 0 {
		return nil, nil, invalid("negative speed")
	}
	times := p.Times
	if times != nil && len(times) != len(p.Nodes) {
		return nil, nil, invalid("time matrix has %d rows for %d nodes", len(times), len(p.Nodes))
	}
	for i, row := range times {
		if len(row) != len(p.Nodes) {
			return nil, nil, invalid("time matrix row %d has %d columns for %d nodes", i, len(row), len(p.Nodes))
		}
	}
	if times == nil && p.SpeedKph > 0 {
		times = TimeMatrix(distances, p.SpeedKph)
	}
	return distances, times, nil
}

func (in *Instance) addDimension(b *routing.Builder, p model.Problem, d model.DimensionIn, distances, times [][]int64) error {
	if d.Name == "" {
		return invalid("dimension without a name")
	}
	var opts []routing.DimensionOption
	if len(d.ResetNodes) > 0 {
		nodes, err := in.lookupAll(d.ResetNodes, "dimension "+d.Name+" reset")
		if err != nil {
			return err
		}
		opts = append(opts, routing.WithResetNodes(nodes...))
	}
	ids := make([]string, 0, len(d.Windows))
	for id := range d.Windows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		n, err := in.lookup(id, "dimension "+d.Name+" window")
		if err != nil {
			return err
		}
		opts = append(opts, routing.WithWindow(n, windows(d.Windows[id])...))
	}
	for v, veh := range p.Vehicles {
		if ws, ok := veh.StartWindows[d.Name]; ok {
			opts = append(opts, routing.WithStartWindow(v, windows(ws)...))
		}
		if ws, ok := veh.EndWindows[d.Name]; ok {
			opts = append(opts, routing.WithEndWindow(v, windows(ws)...))
		}
		if value, ok := veh.StartValues[d.Name]; ok {
			opts = append(opts, routing.WithStartValue(v, value))
		}
	}
	if d.SpanCostCoefficient != 0 {
		opts = append(opts, routing.WithSpanCost(d.SpanCostCoefficient))
	}
	capacities := []int64{d.Capacity}

	var err error
	switch d.Kind {
	case model.DimensionCapacity:
		demand := make([]int64, len(p.Nodes))
		for i, n := range p.Nodes {
			demand[i] = n.Demands[d.Name]
		}
		_, err = b.AddUnaryDimension(d.Name, func(n int) int64 { return demand[n] }, d.SlackMax, capacities, d.StartAtZero, opts...)
	case model.DimensionTime:
		if times == nil {
			return invalid("time dimension %q needs a time matrix or speedKph", d.Name)
		}
		service := make([]int64, len(p.Nodes))
		for i, n := range p.Nodes {
			service[i] = n.ServiceTimeSec
		}
		_, err = b.AddDimension(d.Name, func(from, to int) int64 { return times[from][to] + service[from] }, d.SlackMax, capacities, d.StartAtZero, opts...)
	case model.DimensionDistance:
		_, err = b.AddDimension(d.Name, func(from, to int) int64 { return distances[from][to] }, d.SlackMax, capacities, d.StartAtZero, opts...)
	default:
		return invalid("dimension %q has unknown kind %q", d.Name, d.Kind)
	}
	return err
}

func windows(in []model.TimeWindow) []routing.Window {
	out := make([]routing.Window, len(in))
	for i, w := range in {
		out[i] = routing.Window{Min: w.Start, Max: w.End}
	}
	return out
}

// MergeOptions overlays the set fields of override on base.
func MergeOptions(base, override model.SolveOptions) model.SolveOptions {
	out := base
	if override.FirstSolution != "" {
		out.FirstSolution = override.FirstSolution
	}
	if override.Metaheuristic != "" {
		out.Metaheuristic = override.Metaheuristic
	}
	if override.TimeLimitMs != 0 {
		out.TimeLimitMs = override.TimeLimitMs
	}
	if override.MaxIterations != nil {
		out.MaxIterations = override.MaxIterations
	}
	if override.GLSLambdaFactor != 0 {
		out.GLSLambdaFactor = override.GLSLambdaFactor
	}
	return out
}

// Options converts wire options into engine options, starting from routing.DefaultOptions.
func Options(o model.SolveOptions) (routing.Options, error) {
	opts := routing.DefaultOptions()
	var err error
	if o.FirstSolution != "" {
		if opts.FirstSolution, err = routing.ParseFirstSolutionStrategy(o.FirstSolution); err != nil {
			return opts, err
		}
	}
	if o.Metaheuristic != "" {
		if opts.Metaheuristic, err = routing.ParseMetaheuristic(o.Metaheuristic); err != nil {
			return opts, err
		}
	}
	if o.TimeLimitMs < 0 {
		return opts, fmt.Errorf("%w: timeLimitMs must be >= 0", routing.ErrInvalidOptions)
	}
	if o.TimeLimitMs > 0 {
		opts.TimeLimit = time.Duration(o.TimeLimitMs) * time.Millisecond
	}
	if o.MaxIterations != nil {
		opts.IterationLimit = *o.MaxIterations
	}
	if o.GLSLambdaFactor < 0 {
		return opts, fmt.Errorf("%w: glsLambdaFactor must be >= 0", routing.ErrInvalidOptions)
	}
	if o.GLSLambdaFactor > 0 {
		opts.GLSLambdaFactor = o.GLSLambdaFactor
	}
	return opts, nil
}

// Solve runs the engine with in.Options and converts the result.
func (in *Instance) Solve(ctx context.Context) (model.SolveResponse, error) {
	sol, met, err := routing.Solve(ctx, in.Model, in.Options)
	if err != nil {
		return model.SolveResponse{}, err
	}
	return in.Response(sol, met), nil
}

// Response converts a solution into its wire form using the document's identifiers.
func (in *Instance) Response(sol *routing.Solution, met routing.Metrics) model.SolveResponse {
	dims := in.Model.Dimensions()
	out := model.SolveResponse{
		Status:   sol.Status.String(),
		Routes:   make([]model.RouteOut, 0, len(sol.Routes)),
		Dropped:  make([]string, 0, len(sol.Dropped)),
		Unserved: sol.Unserved,
		Objective: model.ObjectiveOut{
			Arc:     sol.Objective.Arc,
			Penalty: sol.Objective.Penalty,
			Fixed:   sol.Objective.Fixed,
			Span:    sol.Objective.Span,
			Total:   sol.Objective.Total,
		},
		Metrics: MetricsOut(met),
	}
	for _, r := range sol.Routes {
		ro := model.RouteOut{
			VehicleID: in.vehicleIDs[r.Vehicle],
			Nodes:     make([]string, len(r.Nodes)),
			Cost:      r.Cost,
		}
		for k, n := range r.Nodes {
			ro.Nodes[k] = in.nodeIDs[n]
		}
		if len(dims) > 0 {
			ro.Cumuls = make(map[string][]int64, len(dims))
			for d, dim := range dims {
				ro.Cumuls[dim.Name()] = append([]int64(nil), r.Cumuls[d]...)
			}
		}
		out.Routes = append(out.Routes, ro)
	}
	for _, n := range sol.Dropped {
		out.Dropped = append(out.Dropped, in.nodeIDs[n])
	}
	return out
}

// MetricsOut converts engine metrics into their wire form.
func MetricsOut(m routing.Metrics) model.SolverMetricsOut {
	return model.SolverMetricsOut{
		Strategy:       m.Strategy,
		Metaheuristic:  m.Metaheuristic,
		Iterations:     m.Iterations,
		Improvements:   m.Improvements,
		AcceptedWorse:  m.AcceptedWorse,
		PenaltyUpdates: m.PenaltyUpdates,
		Operators:      m.Operators,
		InitialCost:    m.InitialCost,
		BestCost:       m.BestCost,
		ElapsedMs:      m.Elapsed.Milliseconds(),
	}
}
