package routing

import "fmt"

// evaluator owns the scratch buffers used to check and score routes. One evaluator
// belongs to one solve; the Model it reads stays untouched.
type evaluator struct {
	m       *Model
	seq     []int
	pos     []int
	visited []int
	routed  []bool
}

func newEvaluator(m *Model) *evaluator {
	nn := m.net.NodeCount()
	e := &evaluator{
		m:       m,
		pos:     make([]int, nn),
		visited: make([]int, len(m.disj)),
		routed:  make([]bool, nn),
	}
	for i := range e.pos {
		e.pos[i] = -1
	}
	return e
}

func (e *evaluator) fullSeq(v int, stops []int) []int {
	veh := &e.m.net.vehicles[v]
	e.seq = append(e.seq[:0], veh.Start)
	e.seq = append(e.seq, stops...)
	e.seq = append(e.seq, veh.End)
	return e.seq
}

// arcCost sums the arc costs of vehicle v's route without building the sequence.
func (e *evaluator) arcCost(v int, stops []int) int64 {
	veh := &e.m.net.vehicles[v]
	arcs := e.m.net.arcs
	prev := veh.Start
	var total int64
	for _, n := range stops {
		total += arcs[prev][n]
		prev = n
	}
	return total + arcs[prev][veh.End]
}

// route runs the feasibility oracle on vehicle v: precedence first, then every dimension
// scan. It returns the cumuls per dimension and position and the route's arc cost.
// An unused vehicle is never infeasible.
func (e *evaluator) route(v int, stops []int) ([][]int64, int64, *Violation) {
	seq := e.fullSeq(v, stops)
	if len(stops) > 0 {
		if viol := e.precedence(seq); viol != nil {
			return nil, 0, viol
		}
	}
	cum := make([][]int64, len(e.m.dims))
	for d, dim := range e.m.dims {
		cum[d] = make([]int64, len(seq))
		if viol := dim.scan(v, seq, cum[d]); viol != nil && len(stops) > 0 {
			return nil, 0, viol
		}
	}
	return cum, e.m.net.routeCost(seq), nil
}

// precedence checks that every pickup/delivery node on seq has its partner on the same
// route and that the pickup comes first.
func (e *evaluator) precedence(seq []int) *Violation {
	m := e.m
	if len(m.pairs) == 0 {
		return nil
	}
	for k, n := range seq {
		e.pos[n] = k
	}
	defer func() {
		for _, n := range seq {
			e.pos[n] = -1
		}
	}()
	for k := 1; k+1 < len(seq); k++ {
		n := seq[k]
		partner := m.pairOf[n]
		if partner < 0 {
			continue
		}
		pk := e.pos[partner]
		switch {
		case pk < 0:
			return &Violation{Constraint: ConstraintPrecedence, Node: n, Position: k,
				Reason: fmt.Sprintf("partner %d is not on the same route", partner)}
		case m.pickup[n] && pk < k:
			return &Violation{Constraint: ConstraintPrecedence, Node: n, Position: k,
				Reason: fmt.Sprintf("delivery %d precedes pickup", partner)}
		}
	}
	return nil
}

// score computes the objective and the unserved count of a set of routes whose arc costs
// and cumuls are already known.
func (e *evaluator) score(routes [][]int, arcs []int64, cumuls [][][]int64) (Objective, int) {
	m := e.m
	var obj Objective
	unserved := 0
	for i := range e.visited {
		e.visited[i] = 0
	}
	for i := range e.routed {
		e.routed[i] = false
	}
	for v, stops := range routes {
		obj.Arc += arcs[v]
		if len(stops) > 0 {
			obj.Fixed += m.net.vehicles[v].FixedCost
		}
		for _, n := range stops {
			e.routed[n] = true
			e.visited[m.nodeDisj[n]]++
		}
	}
	for i, d := range m.disj {
		switch c := e.visited[i]; {
		case c > d.MaxCardinality:
			unserved += c - d.MaxCardinality
		case c < d.MaxCardinality && d.Mandatory:
			unserved++
		case c < d.MaxCardinality:
			obj.Penalty += d.Penalty
		}
	}
	for _, p := range m.pairs {
		if e.routed[p.Pickup] || e.routed[p.Delivery] {
			continue
		}
		if m.disj[m.nodeDisj[p.Pickup]].Mandatory || m.disj[m.nodeDisj[p.Delivery]].Mandatory {
			continue
		}
		if !m.sharesDroppableDisjunction(p.Pickup, p.Delivery) {
			unserved++
		}
	}
	obj.Span = e.span(routes, cumuls)
	obj.Total = obj.Arc + obj.Penalty + obj.Fixed + obj.Span
	return obj, unserved
}

// span charges coef × (latest end − earliest start) over the used vehicles of every
// dimension carrying a span cost.
func (e *evaluator) span(routes [][]int, cumuls [][][]int64) int64 {
	var total int64
	for d, dim := range e.m.dims {
		if dim.spanCost == 0 {
			continue
		}
		used := false
		var minStart, maxEnd int64
		for v, stops := range routes {
			if len(stops) == 0 {
				continue
			}
			c := cumuls[v][d]
			start, end := c[0], c[len(c)-1]
			if !used || start < minStart {
				minStart = start
			}
			if !used || end > maxEnd {
				maxEnd = end
			}
			used = true
		}
		if used {
			total += dim.spanCost * (maxEnd - minStart)
		}
	}
	return total
}

// hasSpan reports whether any dimension carries a span cost.
func (m *Model) hasSpan() bool {
	for _, d := range m.dims {
		if d.spanCost > 0 {
			return true
		}
	}
	return false
}

// evaluate checks every route and scores the result. It returns the vehicle of the first
// infeasible route with its violation.
func (e *evaluator) evaluate(routes [][]int) (*plan, int, *Violation) {
	nv := e.m.net.VehicleCount()
	p := &plan{
		routes: make([][]int, nv),
		cumuls: make([][][]int64, nv),
		arcs:   make([]int64, nv),
	}
	for v := 0; v < nv; v++ {
		var stops []int
		if v < len(routes) {
			stops = append([]int(nil), routes[v]...)
		}
		cum, cost, viol := e.route(v, stops)
		if viol != nil {
			return nil, v, viol
		}
		p.routes[v], p.cumuls[v], p.arcs[v] = stops, cum, cost
	}
	p.obj, p.unserved = e.score(p.routes, p.arcs, p.cumuls)
	return p, -1, nil
}
