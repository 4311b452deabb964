package routing

import (
	"fmt"
	"sort"
)

// Window is an inclusive range applied to a dimension's cumulative variable.
type Window struct {
	Min int64
	Max int64
}

func (w Window) contains(v int64) bool { return v >= w.Min && v <= w.Max }

// TransitFunc returns the amount a dimension grows when travelling from one node to the next.
type TransitFunc func(from, to int) int64

// UnaryTransitFunc returns a node's demand; it is charged when the route leaves the node.
type UnaryTransitFunc func(node int) int64

// Dimension is a cumulative resource tracked along every route.
//
// For consecutive nodes u→v on a route:
//
//	cumul(v) = cumul(u) + transit(u, v) + slack(u)
//
// with slack(u) in the node's slack range and cumul(v) inside the node's windows and
// inside [0, capacity(vehicle)]. A Dimension is read-only once its Model is built.
type Dimension struct {
	name        string
	index       int
	transit     [][]int64
	unary       []int64
	capacity    []int64
	slackMin    []int64
	slackMax    []int64
	startAtZero bool
	windows     [][]Window
	startWin    [][]Window
	endWin      [][]Window
	startValue  []int64
	hasStart    []bool
	spanCost    int64
}

// Name returns the dimension name.
func (d *Dimension) Name() string { return d.name }

// Capacity returns the upper bound of the cumul for vehicle v.
func (d *Dimension) Capacity(v int) int64 { return d.capacity[v] }

// Transit returns the transit from one node to another.
func (d *Dimension) Transit(from, to int) int64 {
	if d.unary != nil {
		return d.unary[from]
	}
	return d.transit[from][to]
}

// SlackRange returns the slack range of a node.
func (d *Dimension) SlackRange(node int) (int64, int64) { return d.slackMin[node], d.slackMax[node] }

// Windows returns a copy of the windows attached to a node (nil when unconstrained).
func (d *Dimension) Windows(node int) []Window { return append([]Window(nil), d.windows[node]...) }

// StartAtZero reports whether every vehicle starts this dimension at zero.
func (d *Dimension) StartAtZero() bool { return d.startAtZero }

// SpanCostCoefficient returns the global span cost coefficient.
func (d *Dimension) SpanCostCoefficient() int64 { return d.spanCost }

// DimensionOption customizes a dimension while it is being added.
type DimensionOption func(d *Dimension, net *Network) error

// WithResetNodes applies the reset rule: listed nodes get slack [0, capacity] so the
// cumul may fall back to zero after a negative demand, every other node gets [0, 0].
func WithResetNodes(nodes ...int) DimensionOption {
	return func(d *Dimension, net *Network) error {
		var maxCap int64
		for _, c := range d.capacity {
			if c > maxCap {
				maxCap = c
			}
		}
		for i := range d.slackMin {
			d.slackMin[i], d.slackMax[i] = 0, 0
		}
		for _, n := range nodes {
			if !net.validNode(n) {
				return topologyErr("reset rule references unknown node", n, -1)
			}
			d.slackMax[n] = maxCap
		}
		return nil
	}
}

// WithSlack sets an explicit slack range for a node.
func WithSlack(node int, lo, hi int64) DimensionOption {
	return func(d *Dimension, net *Network) error {
		if !net.validNode(node) {
			return topologyErr("slack references unknown node", node, -1)
		}
		if lo < 0 || lo > hi {
			return fmt.Errorf("%w: slack [%d,%d] on node %d", ErrInvalidWindow, lo, hi, node)
		}
		d.slackMin[node], d.slackMax[node] = lo, hi
		return nil
	}
}

// WithWindow attaches one or more disjoint windows to a node's cumul.
func WithWindow(node int, windows ...Window) DimensionOption {
	return func(d *Dimension, net *Network) error {
		if !net.validNode(node) {
			return topologyErr("window references unknown node", node, -1)
		}
		ws, err := normalizeWindows(append(d.windows[node], windows...))
		if err != nil {
			return fmt.Errorf("node %d: %w", node, err)
		}
		d.windows[node] = ws
		return nil
	}
}

// WithStartWindow constrains the cumul at vehicle v's start. It defaults to the start
// node's own windows.
func WithStartWindow(v int, windows ...Window) DimensionOption {
	return func(d *Dimension, net *Network) error {
		if v < 0 || v >= net.VehicleCount() {
			return topologyErr("start window references unknown vehicle", v, -1)
		}
		ws, err := normalizeWindows(windows)
		if err != nil {
			return fmt.Errorf("vehicle %d start: %w", v, err)
		}
		d.startWin[v] = ws
		return nil
	}
}

// WithEndWindow constrains the cumul at vehicle v's end. It defaults to the end node's
// own windows.
func WithEndWindow(v int, windows ...Window) DimensionOption {
	return func(d *Dimension, net *Network) error {
		if v < 0 || v >= net.VehicleCount() {
			return topologyErr("end window references unknown vehicle", v, -1)
		}
		ws, err := normalizeWindows(windows)
		if err != nil {
			return fmt.Errorf("vehicle %d end: %w", v, err)
		}
		d.endWin[v] = ws
		return nil
	}
}

// WithStartValue fixes vehicle v's starting cumul, e.g. a vehicle that is already loaded.
func WithStartValue(v int, value int64) DimensionOption {
	return func(d *Dimension, net *Network) error {
		if v < 0 || v >= net.VehicleCount() {
			return topologyErr("start value references unknown vehicle", v, -1)
		}
		if value < 0 || value > d.capacity[v] {
			return fmt.Errorf("%w: start value %d outside [0,%d] for vehicle %d", ErrInvalidWindow, value, d.capacity[v], v)
		}
		d.startValue[v] = value
		d.hasStart[v] = true
		return nil
	}
}

// WithSpanCost charges coef × (max end cumul − min start cumul) over all vehicles.
func WithSpanCost(coef int64) DimensionOption {
	return func(d *Dimension, _ *Network) error {
		if coef < 0 {
			return fmt.Errorf("%w: negative span cost coefficient", ErrInvalidOptions)
		}
		d.spanCost = coef
		return nil
	}
}

func normalizeWindows(ws []Window) ([]Window, error) {
	if len(ws) == 0 {
		return nil, nil
	}
	out := append([]Window(nil), ws...)
	for _, w := range out {
		if w.Min > w.Max {
			return nil, fmt.Errorf("%w: [%d,%d]", ErrInvalidWindow, w.Min, w.Max)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Min < out[j].Min })
	for i := 1; i < len(out); i++ {
		if out[i].Min <= out[i-1].Max {
			return nil, fmt.Errorf("%w: [%d,%d] and [%d,%d]", ErrOverlappingWindows, out[i-1].Min, out[i-1].Max, out[i].Min, out[i].Max)
		}
	}
	return out, nil
}

func newDimension(name string, net *Network, slackCap int64, capacities []int64, startAtZero bool) (*Dimension, error) {
	nv := net.VehicleCount()
	nn := net.NodeCount()
	if nv == 0 {
		return nil, topologyErr("dimension "+name+" added before any vehicle", -1, -1)
	}
	if slackCap < 0 {
		return nil, fmt.Errorf("%w: dimension %s: negative slack cap", ErrInvalidOptions, name)
	}
	caps := make([]int64, nv)
	switch len(capacities) {
	case 1:
		for v := range caps {
			caps[v] = capacities[0]
		}
	case nv:
		copy(caps, capacities)
	default:
		return nil, topologyErr(fmt.Sprintf("dimension %s: %d capacities for %d vehicles", name, len(capacities), nv), -1, -1)
	}
	for v := range caps {
		if c, ok := net.Vehicle(v).Capacities[name]; ok {
			caps[v] = c
		}
		if caps[v] < 0 {
			return nil, topologyErr("dimension "+name+": negative capacity", v, -1)
		}
	}
	d := &Dimension{
		name:        name,
		capacity:    caps,
		slackMin:    make([]int64, nn),
		slackMax:    make([]int64, nn),
		startAtZero: startAtZero,
		windows:     make([][]Window, nn),
		startWin:    make([][]Window, nv),
		endWin:      make([][]Window, nv),
		startValue:  make([]int64, nv),
		hasStart:    make([]bool, nv),
	}
	for i := range d.slackMax {
		d.slackMax[i] = slackCap
	}
	return d, nil
}

func (d *Dimension) clone() *Dimension {
	out := *d
	if d.transit != nil {
		out.transit = make([][]int64, len(d.transit))
		for i, row := range d.transit {
			out.transit[i] = append([]int64(nil), row...)
		}
	}
	out.unary = append([]int64(nil), d.unary...)
	out.capacity = append([]int64(nil), d.capacity...)
	out.slackMin = append([]int64(nil), d.slackMin...)
	out.slackMax = append([]int64(nil), d.slackMax...)
	out.windows = cloneWindows(d.windows)
	out.startWin = cloneWindows(d.startWin)
	out.endWin = cloneWindows(d.endWin)
	out.startValue = append([]int64(nil), d.startValue...)
	out.hasStart = append([]bool(nil), d.hasStart...)
	return &out
}

func cloneWindows(ws [][]Window) [][]Window {
	out := make([][]Window, len(ws))
	for i, w := range ws {
		if w != nil {
			out[i] = append([]Window(nil), w...)
		}
	}
	return out
}

// boundsAt returns the windows constraining position pos (of n) of a route on vehicle v.
func (d *Dimension) boundsAt(v, node, pos, n int) []Window {
	switch {
	case pos == 0 && d.startWin[v] != nil:
		return d.startWin[v]
	case pos == n-1 && d.endWin[v] != nil:
		return d.endWin[v]
	}
	return d.windows[node]
}

// scan is the feasibility oracle for one dimension. It walks seq (a full route including
// start and end), writes the cumul of every position into out and reports the first
// violation. A free start departs as early as the rest of the route allows and every
// later position takes the earliest cumul from which the route can still be completed.
func (d *Dimension) scan(v int, seq []int, out []int64) *Violation {
	start := d.startRange(v, seq[0], len(seq))
	if len(start) == 0 {
		reason := "no start cumul within bounds"
		if d.hasStart[v] {
			reason = fmt.Sprintf("start cumul %d outside bounds", d.startValue[v])
		} else if d.startAtZero {
			reason = "start cumul 0 outside bounds"
		}
		return &Violation{Constraint: ConstraintDimension, Dimension: d.name, Node: seq[0], Position: 0, Reason: reason}
	}
	if d.greedy(v, seq, start[0].Min, out) {
		return nil
	}
	reach, viol := d.reach(v, seq, start)
	if viol != nil {
		return viol
	}
	d.settle(v, seq, reach, out)
	return nil
}

// startRange returns the cumuls vehicle v may start with.
func (d *Dimension) startRange(v, node, n int) []Window {
	capV := d.capacity[v]
	r := []Window{{0, capV}}
	switch {
	case d.hasStart[v]:
		r = intersect([]Window{{d.startValue[v], d.startValue[v]}}, r)
	case d.startAtZero:
		r = []Window{{0, 0}}
	}
	return intersect(r, d.boundsAt(v, node, 0, n))
}

// greedy walks seq from c choosing the minimum slack at every step. It reports false
// when that choice runs into a bound, which does not prove the route infeasible.
func (d *Dimension) greedy(v int, seq []int, c int64, out []int64) bool {
	capV := d.capacity[v]
	n := len(seq)
	out[0] = c
	for i := 1; i < n; i++ {
		u, x := seq[i-1], seq[i]
		base := c + d.Transit(u, x)
		lo := max(base+d.slackMin[u], 0)
		hi := min(base+d.slackMax[u], capV)
		if lo > hi {
			return false
		}
		next, ok := earliestIn(d.boundsAt(v, x, i, n), lo, hi)
		if !ok {
			return false
		}
		c = next
		out[i] = c
	}
	return true
}

// reach returns, per position, every cumul reachable from start. The first position
// left empty is the violation.
func (d *Dimension) reach(v int, seq []int, start []Window) ([][]Window, *Violation) {
	capV := d.capacity[v]
	n := len(seq)
	sets := make([][]Window, n)
	sets[0] = start
	for i := 1; i < n; i++ {
		u, x := seq[i-1], seq[i]
		t := d.Transit(u, x)
		prev := sets[i-1]
		grown := widen(prev, t+d.slackMin[u], t+d.slackMax[u], capV)
		if len(grown) == 0 {
			return nil, &Violation{Constraint: ConstraintDimension, Dimension: d.name, Node: x, Position: i,
				Reason: fmt.Sprintf("cumul range [%d,%d] outside [0,%d]", prev[0].Min+t+d.slackMin[u], prev[len(prev)-1].Max+t+d.slackMax[u], capV)}
		}
		sets[i] = intersect(grown, d.boundsAt(v, x, i, n))
		if len(sets[i]) == 0 {
			return nil, &Violation{Constraint: ConstraintDimension, Dimension: d.name, Node: x, Position: i,
				Reason: fmt.Sprintf("no window reachable from [%d,%d]", grown[0].Min, grown[len(grown)-1].Max)}
		}
	}
	return sets, nil
}

// settle narrows the reachable sets to the cumuls that still complete the route, then
// picks the earliest of them position by position. reach must end non-empty.
func (d *Dimension) settle(v int, seq []int, reach [][]Window, out []int64) {
	n := len(seq)
	ok := make([][]Window, n)
	ok[n-1] = reach[n-1]
	for i := n - 2; i >= 0; i-- {
		u := seq[i]
		t := d.Transit(u, seq[i+1])
		ok[i] = intersect(reach[i], widen(ok[i+1], -t-d.slackMax[u], -t-d.slackMin[u], d.capacity[v]))
	}
	c := ok[0][0].Min
	out[0] = c
	for i := 1; i < n; i++ {
		u := seq[i-1]
		base := c + d.Transit(u, seq[i])
		c, _ = earliestIn(ok[i], base+d.slackMin[u], base+d.slackMax[u])
		out[i] = c
	}
}

// widen shifts every window by [lo,hi], clips the result to [0,capV] and merges
// windows that touch. ws must be sorted and disjoint.
func widen(ws []Window, lo, hi, capV int64) []Window {
	out := make([]Window, 0, len(ws))
	for _, w := range ws {
		a, b := max(w.Min+lo, 0), min(w.Max+hi, capV)
		if a > b {
			continue
		}
		if k := len(out) - 1; k >= 0 && a <= out[k].Max+1 {
			out[k].Max = max(out[k].Max, b)
			continue
		}
		out = append(out, Window{a, b})
	}
	return out
}

// intersect returns the overlap of two sorted, disjoint window lists. An empty b leaves
// a unconstrained.
func intersect(a, b []Window) []Window {
	if len(b) == 0 {
		return a
	}
	var out []Window
	for i, j := 0, 0; i < len(a) && j < len(b); {
		lo, hi := max(a[i].Min, b[j].Min), min(a[i].Max, b[j].Max)
		if lo <= hi {
			out = append(out, Window{lo, hi})
		}
		if a[i].Max < b[j].Max {
			i++
		} else {
			j++
		}
	}
	return out
}

// earliestIn returns the smallest value in [lo,hi] that lies in one of the sorted windows.
func earliestIn(ws []Window, lo, hi int64) (int64, bool) {
	if len(ws) == 0 {
		return lo, true
	}
	for _, w := range ws {
		if w.Max < lo {
			continue
		}
		v := lo
		if w.Min > v {
			v = w.Min
		}
		if v <= hi {
			return v, true
		}
		return 0, false
	}
	return 0, false
}
