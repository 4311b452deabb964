package routing

import "fmt"

// Status summarizes how a solve ended.
type Status int

const (
	// StatusFeasibleFound means every mandatory node is served and the search ran to its
	// iteration cap or local optimum.
	StatusFeasibleFound Status = iota
	// StatusNoFeasibleSolution means at least one mandatory node could not be served.
	StatusNoFeasibleSolution
	// StatusTimeLimitWithSolution means the wall-clock budget or the context stopped the
	// search and the best solution is feasible.
	StatusTimeLimitWithSolution
	// StatusTimeLimitNoSolution means the search was cut off without a feasible solution.
	StatusTimeLimitNoSolution
)

var statusNames = [...]string{
	StatusFeasibleFound:         "FEASIBLE_FOUND",
	StatusNoFeasibleSolution:    "NO_FEASIBLE_SOLUTION",
	StatusTimeLimitWithSolution: "TIME_LIMIT_REACHED_WITH_SOLUTION",
	StatusTimeLimitNoSolution:   "TIME_LIMIT_REACHED_NO_SOLUTION",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// MarshalText encodes the status as its canonical name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a canonical status name.
func (s *Status) UnmarshalText(b []byte) error {
	for i, n := range statusNames {
		if n == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("routing: unknown status %q", b)
}

// Route is one vehicle's visit sequence from its start node to its end node.
type Route struct {
	Vehicle int
	Nodes   []int
	// Cumuls[d][k] is the value of dimension d at Nodes[k]; d follows Model.Dimensions.
	Cumuls [][]int64
	// Cost is the sum of arc costs along Nodes.
	Cost int64
}

// Stops returns the visited nodes without the start and end.
func (r Route) Stops() []int {
	if len(r.Nodes) < 2 {
		return nil
	}
	return append([]int(nil), r.Nodes[1:len(r.Nodes)-1]...)
}

// Empty reports whether the route visits nothing between start and end.
func (r Route) Empty() bool { return len(r.Nodes) <= 2 }

// Objective is the breakdown of a solution's cost.
type Objective struct {
	Arc     int64
	Penalty int64
	Fixed   int64
	Span    int64
	Total   int64
}

// Solution is a route per vehicle plus realized dimension values.
type Solution struct {
	model     *Model
	Routes    []Route
	Dropped   []int
	Objective Objective
	// Unserved counts mandatory nodes (or pairs that may not be dropped jointly) left out.
	Unserved int
	Status   Status
}

// Model returns the model the solution was built for.
func (s *Solution) Model() *Model { return s.model }

// Feasible reports whether every mandatory node is served.
func (s *Solution) Feasible() bool { return s.Unserved == 0 }

// CumulAt returns the value of a dimension at a routed node.
func (s *Solution) CumulAt(dimension string, node int) (int64, bool) {
	i, ok := s.model.names[dimension]
	if !ok {
		return 0, false
	}
	for _, r := range s.Routes {
		for k := 1; k+1 < len(r.Nodes); k++ {
			if r.Nodes[k] == node {
				return r.Cumuls[i][k], true
			}
		}
	}
	return 0, false
}

// VehicleOf returns the vehicle serving node, or -1.
func (s *Solution) VehicleOf(node int) int {
	for _, r := range s.Routes {
		for k := 1; k+1 < len(r.Nodes); k++ {
			if r.Nodes[k] == node {
				return r.Vehicle
			}
		}
	}
	return -1
}

// StopLists returns the stops of every route, the shape accepted by ValidateAndWrap.
func (s *Solution) StopLists() [][]int {
	out := make([][]int, len(s.Routes))
	for i, r := range s.Routes {
		out[i] = r.Stops()
	}
	return out
}

// Clone returns a deep copy.
func (s *Solution) Clone() *Solution {
	c := *s
	c.Routes = make([]Route, len(s.Routes))
	for i, r := range s.Routes {
		nr := Route{Vehicle: r.Vehicle, Cost: r.Cost, Nodes: append([]int(nil), r.Nodes...)}
		nr.Cumuls = make([][]int64, len(r.Cumuls))
		for d, vals := range r.Cumuls {
			nr.Cumuls[d] = append([]int64(nil), vals...)
		}
		c.Routes[i] = nr
	}
	c.Dropped = append([]int(nil), s.Dropped...)
	return &c
}

// better orders solutions lexicographically: fewer unserved first, then lower total.
func better(aUnserved int, aTotal int64, bUnserved int, bTotal int64) bool {
	if aUnserved != bUnserved {
		return aUnserved < bUnserved
	}
	return aTotal < bTotal
}

// plan is the search-time representation of a solution: stops only, plus cached per-route
// cost and cumul data.
type plan struct {
	routes   [][]int
	cumuls   [][][]int64
	arcs     []int64
	obj      Objective
	unserved int
}

func (p *plan) clone() *plan {
	c := &plan{
		routes:   make([][]int, len(p.routes)),
		cumuls:   make([][][]int64, len(p.cumuls)),
		arcs:     append([]int64(nil), p.arcs...),
		obj:      p.obj,
		unserved: p.unserved,
	}
	for v := range p.routes {
		c.routes[v] = append([]int(nil), p.routes[v]...)
		c.cumuls[v] = p.cumuls[v]
	}
	return c
}

// toSolution materializes a plan into a standalone Solution.
func (e *evaluator) toSolution(p *plan) *Solution {
	m := e.m
	s := &Solution{model: m, Objective: p.obj, Unserved: p.unserved}
	s.Routes = make([]Route, len(p.routes))
	for v, stops := range p.routes {
		veh := m.net.vehicles[v]
		seq := make([]int, 0, len(stops)+2)
		seq = append(seq, veh.Start)
		seq = append(seq, stops...)
		seq = append(seq, veh.End)
		cum := make([][]int64, len(p.cumuls[v]))
		for d := range cum {
			cum[d] = append([]int64(nil), p.cumuls[v][d]...)
		}
		s.Routes[v] = Route{Vehicle: v, Nodes: seq, Cumuls: cum, Cost: p.arcs[v]}
	}
	routed := make([]bool, m.net.NodeCount())
	for _, stops := range p.routes {
		for _, n := range stops {
			routed[n] = true
		}
	}
	for i := range routed {
		if !routed[i] && !m.net.IsDepot(i) {
			s.Dropped = append(s.Dropped, i)
		}
	}
	return s
}
