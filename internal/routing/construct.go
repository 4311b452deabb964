package routing

import (
	"fmt"
	"strings"
)

// FirstSolutionStrategy selects the construction heuristic.
type FirstSolutionStrategy int

const (
	// Automatic picks ParallelCheapestInsertion when the model has user disjunctions or
	// pickup/delivery pairs and PathCheapestArc otherwise.
	Automatic FirstSolutionStrategy = iota
	// PathCheapestArc completes one vehicle at a time, always appending the cheapest
	// feasible unit.
	PathCheapestArc
	// ParallelCheapestInsertion inserts the globally cheapest feasible (unit, vehicle,
	// position) each round.
	ParallelCheapestInsertion
)

var strategyNames = [...]string{
	Automatic:                 "automatic",
	PathCheapestArc:           "path-cheapest-arc",
	ParallelCheapestInsertion: "parallel-cheapest-insertion",
}

func (s FirstSolutionStrategy) String() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return fmt.Sprintf("FirstSolutionStrategy(%d)", int(s))
	}
	return strategyNames[s]
}

// ParseFirstSolutionStrategy parses the names printed by String.
func ParseFirstSolutionStrategy(s string) (FirstSolutionStrategy, error) {
	for i, n := range strategyNames {
		if strings.EqualFold(n, strings.TrimSpace(s)) {
			return FirstSolutionStrategy(i), nil
		}
	}
	return Automatic, fmt.Errorf("%w: unknown first solution strategy %q", ErrInvalidOptions, s)
}

// resolve returns the strategy actually used for m and whether a request was upgraded.
func (s FirstSolutionStrategy) resolve(m *Model) (FirstSolutionStrategy, bool) {
	if !m.HasUserConstraints() {
		if s == Automatic {
			return PathCheapestArc, false
		}
		return s, false
	}
	if s == PathCheapestArc {
		return ParallelCheapestInsertion, true
	}
	return ParallelCheapestInsertion, false
}

// unit is what construction inserts: one node, or a pickup followed by its delivery.
type unit struct {
	nodes     []int
	mandatory bool
}

func (e *evaluator) units() []unit {
	raw := e.m.units()
	out := make([]unit, len(raw))
	for i, nodes := range raw {
		u := unit{nodes: nodes}
		for _, n := range nodes {
			if e.m.disj[e.m.nodeDisj[n]].Mandatory {
				u.mandatory = true
			}
		}
		out[i] = u
	}
	return out
}

// builder state shared by both construction heuristics.
type construction struct {
	e       *evaluator
	p       *plan
	units   []unit
	placed  []bool
	visited []int
	buf     []int
}

func newConstruction(e *evaluator) *construction {
	m := e.m
	nv := m.net.VehicleCount()
	c := &construction{
		e:       e,
		p:       &plan{routes: make([][]int, nv), cumuls: make([][][]int64, nv), arcs: make([]int64, nv)},
		units:   e.units(),
		visited: make([]int, len(m.disj)),
	}
	c.placed = make([]bool, len(c.units))
	for v := 0; v < nv; v++ {
		cum, cost, _ := e.route(v, nil)
		c.p.cumuls[v], c.p.arcs[v] = cum, cost
	}
	return c
}

// fits reports whether inserting u keeps every disjunction within its cardinality.
func (c *construction) fits(u unit) bool {
	m := c.e.m
	for i, n := range u.nodes {
		d := m.nodeDisj[n]
		extra := 1
		for _, o := range u.nodes[:i] {
			if m.nodeDisj[o] == d {
				extra++
			}
		}
		if c.visited[d]+extra > m.disj[d].MaxCardinality {
			return false
		}
	}
	return true
}

func (c *construction) commit(ui, v int, stops []int, cum [][]int64, cost int64) {
	c.p.routes[v] = stops
	c.p.cumuls[v] = cum
	c.p.arcs[v] = cost
	c.placed[ui] = true
	for _, n := range c.units[ui].nodes {
		c.visited[c.e.m.nodeDisj[n]]++
	}
}

// marginal is the cost of replacing vehicle v's route by stops.
func (c *construction) marginal(v int, stops []int) int64 {
	delta := c.e.arcCost(v, stops) - c.p.arcs[v]
	if len(c.p.routes[v]) == 0 {
		delta += c.e.m.net.vehicles[v].FixedCost
	}
	return delta
}

func (c *construction) finish() *plan {
	c.p.obj, c.p.unserved = c.e.score(c.p.routes, c.p.arcs, c.p.cumuls)
	return c.p
}

// pathCheapestArc fills vehicles in index order. Each step appends the unit with the
// smallest marginal cost that keeps the route feasible; ties go to the lowest node id.
func (c *construction) pathCheapestArc() *plan {
	for v := range c.p.routes {
		for {
			best := -1
			var bestDelta int64
			var bestStops []int
			var bestCum [][]int64
			var bestCost int64
			for ui, u := range c.units {
				if c.placed[ui] || !c.fits(u) {
					continue
				}
				stops := append(append([]int(nil), c.p.routes[v]...), u.nodes...)
				delta := c.marginal(v, stops)
				if best >= 0 && delta >= bestDelta {
					continue
				}
				cum, cost, viol := c.e.route(v, stops)
				if viol != nil {
					continue
				}
				best, bestDelta, bestStops, bestCum, bestCost = ui, delta, stops, cum, cost
			}
			if best < 0 {
				break
			}
			c.commit(best, v, bestStops, bestCum, bestCost)
		}
	}
	return c.finish()
}

// parallelCheapestInsertion repeatedly inserts the globally cheapest feasible unit.
// Units that must be served are tried before optional ones each round; ties break by
// node id, then vehicle, then position.
func (c *construction) parallelCheapestInsertion() *plan {
	for {
		if c.insertCheapest(true) {
			continue
		}
		if !c.insertCheapest(false) {
			break
		}
	}
	return c.finish()
}

func (c *construction) insertCheapest(mandatory bool) bool {
	best := -1
	var bestV int
	var bestDelta, bestCost int64
	var bestStops []int
	var bestCum [][]int64
	for ui, u := range c.units {
		if c.placed[ui] || u.mandatory != mandatory || !c.fits(u) {
			continue
		}
		for v := range c.p.routes {
			c.forEachInsertion(v, u, func(stops []int) {
				delta := c.marginal(v, stops)
				if best >= 0 && delta >= bestDelta {
					return
				}
				cum, cost, viol := c.e.route(v, stops)
				if viol != nil {
					return
				}
				best, bestV, bestDelta, bestCost = ui, v, delta, cost
				bestStops = append([]int(nil), stops...)
				bestCum = cum
			})
		}
	}
	if best < 0 {
		return false
	}
	c.commit(best, bestV, bestStops, bestCum, bestCost)
	return true
}

// forEachInsertion calls fn with every route obtained by inserting u into vehicle v's
// route, in increasing position order. fn must not retain stops.
func (c *construction) forEachInsertion(v int, u unit, fn func(stops []int)) {
	route := c.p.routes[v]
	if len(u.nodes) == 1 {
		for i := 0; i <= len(route); i++ {
			c.buf = insertAt(c.buf[:0], route, i, u.nodes[0])
			fn(c.buf)
		}
		return
	}
	pick, del := u.nodes[0], u.nodes[1]
	for i := 0; i <= len(route); i++ {
		for j := i; j <= len(route); j++ {
			c.buf = c.buf[:0]
			c.buf = append(c.buf, route[:i]...)
			c.buf = append(c.buf, pick)
			c.buf = append(c.buf, route[i:j]...)
			c.buf = append(c.buf, del)
			c.buf = append(c.buf, route[j:]...)
			fn(c.buf)
		}
	}
}

// insertAt writes route with n inserted at position i into dst.
func insertAt(dst, route []int, i, n int) []int {
	dst = append(dst, route[:i]...)
	dst = append(dst, n)
	return append(dst, route[i:]...)
}
