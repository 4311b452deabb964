package routing

import (
	"context"
	"math"
	"time"

	"fleetroute/internal/logging"
)

// Neighborhood operator names reported in Metrics.Operators.
const (
	OpRelocate     = "relocate"
	OpPairRelocate = "pair-relocate"
	OpSwap         = "swap"
	OpTwoOpt       = "two-opt"
	OpCross        = "cross"
	OpInsert       = "insert"
	OpDrop         = "drop"
	OpExchange     = "exchange"
)

// candidate is the best neighbor found so far in an iteration.
type candidate struct {
	op       string
	v1, v2   int
	r1, r2   []int
	c1, c2   [][]int64
	a1, a2   int64
	obj      Objective
	unserved int
	aug      int64
}

type searcher struct {
	e     *evaluator
	m     *Model
	opts  Options
	start time.Time

	cur     *plan
	best    *plan
	visited []int
	routed  []bool

	gls    bool
	lambda int64
	pen    []int32
	penSum []int64
	n      int

	best1   candidate
	found   bool
	curAug  int64
	hasSpan bool
	buf1    []int
	buf2    []int

	met Metrics
}

func newSearcher(e *evaluator, initial *plan, opts Options, start time.Time) *searcher {
	m := e.m
	n := m.net.NodeCount()
	s := &searcher{
		e:       e,
		m:       m,
		opts:    opts,
		start:   start,
		cur:     initial.clone(),
		best:    initial,
		visited: make([]int, len(m.disj)),
		routed:  make([]bool, n),
		gls:     opts.Metaheuristic == GuidedLocalSearch,
		n:       n,
		penSum:  make([]int64, len(initial.routes)),
		hasSpan: m.hasSpan(),
		met: Metrics{
			Metaheuristic: opts.Metaheuristic.String(),
			Operators:     map[string]int{},
			InitialCost:   initial.obj.Total,
			BestCost:      initial.obj.Total,
		},
	}
	if s.gls {
		s.pen = make([]int32, n*n)
		s.lambda = glsLambda(m, initial, opts.GLSLambdaFactor)
	}
	s.syncCounts()
	return s
}

// glsLambda scales the penalty weight to factor × the average cost of the arcs used by
// the initial solution.
func glsLambda(m *Model, p *plan, factor float64) int64 {
	var total int64
	arcs := 0
	for v, stops := range p.routes {
		if len(stops) == 0 {
			continue
		}
		total += p.arcs[v]
		arcs += len(stops) + 1
	}
	if arcs == 0 {
		return 1
	}
	l := int64(math.Round(factor * float64(total) / float64(arcs)))
	if l < 1 {
		l = 1
	}
	return l
}

// syncCounts refreshes the disjunction counters and GLS penalty sums of cur.
func (s *searcher) syncCounts() {
	for i := range s.visited {
		s.visited[i] = 0
	}
	for i := range s.routed {
		s.routed[i] = false
	}
	for v, stops := range s.cur.routes {
		for _, n := range stops {
			s.visited[s.m.nodeDisj[n]]++
			s.routed[n] = true
		}
		s.penSum[v] = s.routePen(v, stops)
	}
	s.curAug = s.augmented(s.cur.obj.Total, 0)
}

func (s *searcher) routePen(v int, stops []int) int64 {
	if !s.gls || len(stops) == 0 {
		return 0
	}
	veh := &s.m.net.vehicles[v]
	prev := veh.Start
	var total int64
	for _, x := range stops {
		total += int64(s.pen[prev*s.n+x])
		prev = x
	}
	return total + int64(s.pen[prev*s.n+veh.End])
}

// augmented returns raw + λ·penalties, where extra is the change in penalty count
// relative to cur.
func (s *searcher) augmented(raw, extra int64) int64 {
	if !s.gls {
		return raw
	}
	var sum int64
	for _, p := range s.penSum {
		sum += p
	}
	return raw + s.lambda*(sum+extra)
}

// run is the search loop. It returns the best plan, the metrics and whether a time limit
// or the context cut the search short.
func (s *searcher) run(ctx context.Context) (*plan, Metrics, bool) {
	var deadline time.Time
	if s.opts.TimeLimit > 0 {
		deadline = s.start.Add(s.opts.TimeLimit)
	}
	limited := false
	for {
		if s.opts.IterationLimit >= 0 && s.met.Iterations >= s.opts.IterationLimit {
			break
		}
		if ctx.Err() != nil || (!deadline.IsZero() && !time.Now().Before(deadline)) {
			limited = true
			break
		}
		s.met.Iterations++
		if s.step() {
			continue
		}
		if !s.gls || !s.penalize() {
			break
		}
	}
	s.met.BestCost = s.best.obj.Total
	return s.best, s.met, limited
}

// step explores the whole neighborhood of cur and applies the best neighbor if it
// improves the (augmented) objective.
func (s *searcher) step() bool {
	s.found = false
	s.relocate()
	s.pairRelocate()
	s.swap()
	s.twoOpt()
	s.cross()
	s.insertUnperformed()
	s.dropOptional()
	s.exchange()
	if !s.found {
		return false
	}
	s.apply(&s.best1)
	return true
}

func (s *searcher) apply(c *candidate) {
	prevRaw := s.cur.obj.Total
	prevUnserved := s.cur.unserved
	s.cur.routes[c.v1], s.cur.cumuls[c.v1], s.cur.arcs[c.v1] = c.r1, c.c1, c.a1
	if c.v2 >= 0 {
		s.cur.routes[c.v2], s.cur.cumuls[c.v2], s.cur.arcs[c.v2] = c.r2, c.c2, c.a2
	}
	s.cur.obj, s.cur.unserved = c.obj, c.unserved
	s.syncCounts()
	s.met.Operators[c.op]++
	if c.unserved == prevUnserved && c.obj.Total > prevRaw {
		s.met.AcceptedWorse++
	}
	if better(s.cur.unserved, s.cur.obj.Total, s.best.unserved, s.best.obj.Total) {
		s.best = s.cur.clone()
		s.met.Improvements++
		s.opts.Logger.V(logging.TRACE).Info("new best", "iteration", s.met.Iterations, "op", c.op,
			"objective", s.best.obj.Total, "unserved", s.best.unserved)
		if s.opts.OnImprovement != nil {
			s.opts.OnImprovement(Progress{Iteration: s.met.Iterations, Objective: s.best.obj,
				Unserved: s.best.unserved, Elapsed: time.Since(s.start)})
		}
	}
}

// penalize raises the penalty of the arcs with maximal utility cost/(1+penalty) in cur,
// visiting routes in vehicle order and arcs in route order. It reports false when cur
// uses no arc.
func (s *searcher) penalize() bool {
	var bestCost int64 = -1
	var bestPen int32
	s.forEachArc(func(a, b int) {
		c, p := s.m.net.arcs[a][b], s.pen[a*s.n+b]
		if bestCost < 0 || c*int64(1+bestPen) > bestCost*int64(1+p) {
			bestCost, bestPen = c, p
		}
	})
	if bestCost < 0 {
		return false
	}
	var hit []int
	s.forEachArc(func(a, b int) {
		c, p := s.m.net.arcs[a][b], s.pen[a*s.n+b]
		if c*int64(1+bestPen) == bestCost*int64(1+p) {
			hit = append(hit, a*s.n+b)
		}
	})
	for _, k := range hit {
		if s.pen[k] < math.MaxInt32 {
			s.pen[k]++
		}
		s.met.PenaltyUpdates++
	}
	s.syncCounts()
	return true
}

func (s *searcher) forEachArc(fn func(a, b int)) {
	for v, stops := range s.cur.routes {
		if len(stops) == 0 {
			continue
		}
		veh := &s.m.net.vehicles[v]
		prev := veh.Start
		for _, x := range stops {
			fn(prev, x)
			prev = x
		}
		fn(prev, veh.End)
	}
}

// consider scores a neighbor that replaces route v1 (and v2 when >= 0). dPen and dUns are
// the disjunction penalty and unserved changes the move causes. The feasibility oracle
// only runs for neighbors that would beat both cur and the best neighbor so far.
func (s *searcher) consider(op string, v1 int, r1 []int, v2 int, r2 []int, dPen int64, dUns int) {
	cur := s.cur
	veh := s.m.net.vehicles
	a1 := s.e.arcCost(v1, r1)
	dGLS := s.routePen(v1, r1) - s.penSum[v1]
	var a2 int64
	if v2 >= 0 {
		a2 = s.e.arcCost(v2, r2)
		dGLS += s.routePen(v2, r2) - s.penSum[v2]
	}
	unserved := cur.unserved + dUns

	var c1, c2 [][]int64
	var viol *Violation
	obj := cur.obj
	obj.Arc += a1 - cur.arcs[v1]
	if v2 >= 0 {
		obj.Arc += a2 - cur.arcs[v2]
	}
	obj.Penalty += dPen
	obj.Fixed += fixedDelta(veh[v1].FixedCost, cur.routes[v1], r1)
	if v2 >= 0 {
		obj.Fixed += fixedDelta(veh[v2].FixedCost, cur.routes[v2], r2)
	}
	if s.hasSpan {
		if c1, c2, viol = s.check(v1, r1, v2, r2); viol != nil {
			return
		}
		obj.Span = s.spanWith(v1, r1, c1, v2, r2, c2)
	}
	obj.Total = obj.Arc + obj.Penalty + obj.Fixed + obj.Span
	aug := s.augmented(obj.Total, dGLS)

	if !better(unserved, aug, cur.unserved, s.curAug) {
		return
	}
	if s.found && !better(unserved, aug, s.best1.unserved, s.best1.aug) {
		return
	}
	if !s.hasSpan {
		if c1, c2, viol = s.check(v1, r1, v2, r2); viol != nil {
			return
		}
	}
	s.found = true
	s.best1 = candidate{op: op, v1: v1, v2: v2, c1: c1, c2: c2, a1: a1, a2: a2,
		obj: obj, unserved: unserved, aug: aug,
		r1: append([]int(nil), r1...)}
	if v2 >= 0 {
		s.best1.r2 = append([]int(nil), r2...)
	}
}

func (s *searcher) check(v1 int, r1 []int, v2 int, r2 []int) ([][]int64, [][]int64, *Violation) {
	c1, _, viol := s.e.route(v1, r1)
	if viol != nil {
		return nil, nil, viol
	}
	if v2 < 0 {
		return c1, nil, nil
	}
	c2, _, viol := s.e.route(v2, r2)
	if viol != nil {
		return nil, nil, viol
	}
	return c1, c2, nil
}

func (s *searcher) spanWith(v1 int, r1 []int, c1 [][]int64, v2 int, r2 []int, c2 [][]int64) int64 {
	routes := append([][]int(nil), s.cur.routes...)
	cumuls := append([][][]int64(nil), s.cur.cumuls...)
	routes[v1], cumuls[v1] = r1, c1
	if v2 >= 0 {
		routes[v2], cumuls[v2] = r2, c2
	}
	return s.e.span(routes, cumuls)
}

func fixedDelta(cost int64, before, after []int) int64 {
	switch {
	case len(before) == 0 && len(after) > 0:
		return cost
	case len(before) > 0 && len(after) == 0:
		return -cost
	}
	return 0
}

// penaltyDelta returns the change in disjunction penalty and unserved count when the
// visit count of disjunction d moves by delta.
func (s *searcher) penaltyDelta(d, delta int) (int64, int) {
	dj := &s.m.disj[d]
	cost := func(c int) (int64, int) {
		switch {
		case c > dj.MaxCardinality:
			return 0, c - dj.MaxCardinality
		case c < dj.MaxCardinality && dj.Mandatory:
			return 0, 1
		case c < dj.MaxCardinality:
			return dj.Penalty, 0
		}
		return 0, 0
	}
	p0, u0 := cost(s.visited[d])
	p1, u1 := cost(s.visited[d] + delta)
	return p1 - p0, u1 - u0
}

// unitDelta sums penaltyDelta over the nodes of a unit being inserted (+1) or removed (-1).
func (s *searcher) unitDelta(nodes []int, sign int) (int64, int) {
	m := s.m
	d0 := m.nodeDisj[nodes[0]]
	if len(nodes) == 2 && m.nodeDisj[nodes[1]] == d0 {
		p, u := s.penaltyDelta(d0, 2*sign)
		return p, u
	}
	var dp int64
	du := 0
	for _, n := range nodes {
		p, u := s.penaltyDelta(m.nodeDisj[n], sign)
		dp += p
		du += u
	}
	if len(nodes) == 2 && !m.disj[d0].Mandatory && !m.disj[m.nodeDisj[nodes[1]]].Mandatory {
		// a pair that may not be dropped jointly counts once as unserved while absent
		du -= sign
	}
	return dp, du
}

// relocate moves a node to another position of its own route, or a node without a
// partner to another route.
func (s *searcher) relocate() {
	routes := s.cur.routes
	for v1, r := range routes {
		for i, x := range r {
			paired := s.m.pairOf[x] >= 0
			rest := remove(s.buf1[:0], r, i)
			s.buf1 = rest
			for v2 := range routes {
				if v2 == v1 {
					for j := 0; j <= len(rest); j++ {
						if j == i {
							continue
						}
						s.buf2 = insertAt(s.buf2[:0], rest, j, x)
						s.consider(OpRelocate, v1, s.buf2, -1, nil, 0, 0)
					}
					continue
				}
				if paired {
					continue
				}
				for j := 0; j <= len(routes[v2]); j++ {
					s.buf2 = insertAt(s.buf2[:0], routes[v2], j, x)
					s.consider(OpRelocate, v1, rest, v2, s.buf2, 0, 0)
				}
			}
		}
	}
}

// pairRelocate moves a pickup/delivery pair, together, to any positions of any route.
func (s *searcher) pairRelocate() {
	routes := s.cur.routes
	for v1, r := range routes {
		for _, x := range r {
			if !s.m.pickup[x] {
				continue
			}
			d := s.m.pairOf[x]
			rest := make([]int, 0, len(r))
			for _, y := range r {
				if y != x && y != d {
					rest = append(rest, y)
				}
			}
			for v2 := range routes {
				target := routes[v2]
				if v2 == v1 {
					target = rest
				}
				for a := 0; a <= len(target); a++ {
					for b := a; b <= len(target); b++ {
						s.buf2 = s.buf2[:0]
						s.buf2 = append(s.buf2, target[:a]...)
						s.buf2 = append(s.buf2, x)
						s.buf2 = append(s.buf2, target[a:b]...)
						s.buf2 = append(s.buf2, d)
						s.buf2 = append(s.buf2, target[b:]...)
						if v2 == v1 {
							s.consider(OpPairRelocate, v1, s.buf2, -1, nil, 0, 0)
						} else {
							s.consider(OpPairRelocate, v1, rest, v2, s.buf2, 0, 0)
						}
					}
				}
			}
		}
	}
}

// swap exchanges two nodes, within one route or across two routes. Nodes with a
// partner only swap within their route.
func (s *searcher) swap() {
	routes := s.cur.routes
	for v1, r1 := range routes {
		for i := range r1 {
			for j := i + 1; j < len(r1); j++ {
				s.buf1 = append(s.buf1[:0], r1...)
				s.buf1[i], s.buf1[j] = s.buf1[j], s.buf1[i]
				s.consider(OpSwap, v1, s.buf1, -1, nil, 0, 0)
			}
			if s.m.pairOf[r1[i]] >= 0 {
				continue
			}
			for v2 := v1 + 1; v2 < len(routes); v2++ {
				r2 := routes[v2]
				for j := range r2 {
					if s.m.pairOf[r2[j]] >= 0 {
						continue
					}
					s.buf1 = append(s.buf1[:0], r1...)
					s.buf2 = append(s.buf2[:0], r2...)
					s.buf1[i], s.buf2[j] = r2[j], r1[i]
					s.consider(OpSwap, v1, s.buf1, v2, s.buf2, 0, 0)
				}
			}
		}
	}
}

// twoOpt reverses a segment of one route.
func (s *searcher) twoOpt() {
	for v, r := range s.cur.routes {
		for i := 0; i+1 < len(r); i++ {
			for k := i + 1; k < len(r); k++ {
				s.consider(OpTwoOpt, v, twoOptSwap(r, i, k), -1, nil, 0, 0)
			}
		}
	}
}

func twoOptSwap(ord []int, i, k int) []int {
	out := make([]int, len(ord))
	copy(out, ord[:i])
	pos := i
	for j := k; j >= i; j-- {
		out[pos] = ord[j]
		pos++
	}
	copy(out[pos:], ord[k+1:])
	return out
}

// cross exchanges the tails of two routes.
func (s *searcher) cross() {
	routes := s.cur.routes
	for v1 := range routes {
		for v2 := v1 + 1; v2 < len(routes); v2++ {
			r1, r2 := routes[v1], routes[v2]
			for i := 0; i <= len(r1); i++ {
				for j := 0; j <= len(r2); j++ {
					if (i == len(r1) && j == len(r2)) || (i == 0 && j == 0) {
						continue
					}
					s.buf1 = append(append(s.buf1[:0], r1[:i]...), r2[j:]...)
					s.buf2 = append(append(s.buf2[:0], r2[:j]...), r1[i:]...)
					s.consider(OpCross, v1, s.buf1, v2, s.buf2, 0, 0)
				}
			}
		}
	}
}

// insertUnperformed inserts an unrouted node or pair at every position of every route.
func (s *searcher) insertUnperformed() {
	for _, u := range s.m.units() {
		if s.routed[u[0]] || !s.fits(u) {
			continue
		}
		dp, du := s.unitDelta(u, 1)
		for v, r := range s.cur.routes {
			if len(u) == 1 {
				for j := 0; j <= len(r); j++ {
					s.buf2 = insertAt(s.buf2[:0], r, j, u[0])
					s.consider(OpInsert, v, s.buf2, -1, nil, dp, du)
				}
				continue
			}
			for a := 0; a <= len(r); a++ {
				for b := a; b <= len(r); b++ {
					s.buf2 = s.buf2[:0]
					s.buf2 = append(s.buf2, r[:a]...)
					s.buf2 = append(s.buf2, u[0])
					s.buf2 = append(s.buf2, r[a:b]...)
					s.buf2 = append(s.buf2, u[1])
					s.buf2 = append(s.buf2, r[b:]...)
					s.consider(OpInsert, v, s.buf2, -1, nil, dp, du)
				}
			}
		}
	}
}

func (s *searcher) fits(u []int) bool {
	m := s.m
	d0 := m.nodeDisj[u[0]]
	if len(u) == 2 && m.nodeDisj[u[1]] == d0 {
		return s.visited[d0]+2 <= m.disj[d0].MaxCardinality
	}
	for _, n := range u {
		d := m.nodeDisj[n]
		if s.visited[d]+1 > m.disj[d].MaxCardinality {
			return false
		}
	}
	return true
}

// dropOptional removes a routed optional node, or a pair sharing an optional disjunction.
func (s *searcher) dropOptional() {
	m := s.m
	for v, r := range s.cur.routes {
		for _, x := range r {
			d := m.nodeDisj[x]
			if m.disj[d].Mandatory {
				continue
			}
			var u []int
			switch partner := m.pairOf[x]; {
			case partner < 0:
				u = []int{x}
			case m.pickup[x] && m.sharesDroppableDisjunction(x, partner):
				u = []int{x, partner}
			default:
				continue
			}
			dp, du := s.unitDelta(u, -1)
			s.buf1 = s.buf1[:0]
			for _, y := range r {
				if y != u[0] && (len(u) == 1 || y != u[1]) {
					s.buf1 = append(s.buf1, y)
				}
			}
			s.consider(OpDrop, v, s.buf1, -1, nil, dp, du)
		}
	}
}

// exchange replaces a routed member of a disjunction by an unrouted member of the same
// disjunction, in place.
func (s *searcher) exchange() {
	m := s.m
	for v, r := range s.cur.routes {
		for i, x := range r {
			d := m.nodeDisj[x]
			if m.disj[d].Mandatory || m.pairOf[x] >= 0 {
				continue
			}
			for _, y := range m.disj[d].Nodes {
				if s.routed[y] || m.pairOf[y] >= 0 {
					continue
				}
				s.buf1 = append(s.buf1[:0], r...)
				s.buf1[i] = y
				s.consider(OpExchange, v, s.buf1, -1, nil, 0, 0)
			}
		}
	}
}

// remove writes r without position i into dst.
func remove(dst, r []int, i int) []int {
	dst = append(dst, r[:i]...)
	return append(dst, r[i+1:]...)
}
