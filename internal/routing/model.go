package routing

import (
	"fmt"
)

// Disjunction is a group of nodes of which at most MaxCardinality may be visited.
// Penalty is charged once while fewer than MaxCardinality members are visited.
type Disjunction struct {
	Nodes          []int
	Penalty        int64
	MaxCardinality int
	// Mandatory marks the implicit singleton created for a node that belongs to no
	// user disjunction. Leaving it unvisited makes the solution infeasible.
	Mandatory bool
}

// Pair is a pickup/delivery precedence rule.
type Pair struct {
	Pickup   int
	Delivery int
}

// Builder collects dimensions, disjunctions and pairs over a Network and produces an
// immutable Model. Build snapshots the network and dimensions; afterwards every Builder
// mutator returns ErrFrozen. A Builder is not safe for concurrent use.
type Builder struct {
	net   *Network
	dims  []*Dimension
	names map[string]int
	disj  []Disjunction
	pairs []Pair
	built bool
}

// NewBuilder returns a builder over net. Nodes and vehicles must be added to net before
// any dimension is attached.
func NewBuilder(net *Network) *Builder {
	return &Builder{net: net, names: map[string]int{}}
}

// Network returns the network under construction.
func (b *Builder) Network() *Network { return b.net }

// AddDimension registers a dimension whose transit depends on the arc (e.g. travel time).
// capacities holds one value for all vehicles or one per vehicle.
func (b *Builder) AddDimension(name string, transit TransitFunc, slackCap int64, capacities []int64, startAtZero bool, opts ...DimensionOption) (*Dimension, error) {
	if transit == nil {
		return nil, fmt.Errorf("%w: dimension %s: nil transit", ErrInvalidOptions, name)
	}
	d, err := b.newDimension(name, slackCap, capacities, startAtZero)
	if err != nil {
		return nil, err
	}
	nn := b.net.NodeCount()
	d.transit = make([][]int64, nn)
	for i := 0; i < nn; i++ {
		d.transit[i] = make([]int64, nn)
		for j := 0; j < nn; j++ {
			d.transit[i][j] = transit(i, j)
		}
	}
	return d, b.finishDimension(d, opts)
}

// AddUnaryDimension registers a dimension whose transit is the demand of the node being
// left (e.g. load).
func (b *Builder) AddUnaryDimension(name string, demand UnaryTransitFunc, slackCap int64, capacities []int64, startAtZero bool, opts ...DimensionOption) (*Dimension, error) {
	if demand == nil {
		return nil, fmt.Errorf("%w: dimension %s: nil demand", ErrInvalidOptions, name)
	}
	d, err := b.newDimension(name, slackCap, capacities, startAtZero)
	if err != nil {
		return nil, err
	}
	d.unary = make([]int64, b.net.NodeCount())
	for i := range d.unary {
		d.unary[i] = demand(i)
	}
	return d, b.finishDimension(d, opts)
}

func (b *Builder) newDimension(name string, slackCap int64, capacities []int64, startAtZero bool) (*Dimension, error) {
	if b.built {
		return nil, fmt.Errorf("dimension %s: %w", name, ErrFrozen)
	}
	if _, dup := b.names[name]; dup {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateDimension, name)
	}
	return newDimension(name, b.net, slackCap, capacities, startAtZero)
}

func (b *Builder) finishDimension(d *Dimension, opts []DimensionOption) error {
	for _, opt := range opts {
		if err := opt(d, b.net); err != nil {
			return fmt.Errorf("dimension %s: %w", d.name, err)
		}
	}
	d.index = len(b.dims)
	b.names[d.name] = d.index
	b.dims = append(b.dims, d)
	return nil
}

// Dimension returns a registered dimension so that options can be applied after the fact.
func (b *Builder) Dimension(name string) (*Dimension, error) {
	i, ok := b.names[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDimension, name)
	}
	return b.dims[i], nil
}

// Apply applies options to an already registered dimension.
func (b *Builder) Apply(name string, opts ...DimensionOption) error {
	if b.built {
		return fmt.Errorf("dimension %s: %w", name, ErrFrozen)
	}
	d, err := b.Dimension(name)
	if err != nil {
		return err
	}
	for _, opt := range opts {
		if err := opt(d, b.net); err != nil {
			return fmt.Errorf("dimension %s: %w", name, err)
		}
	}
	return nil
}

// AddDisjunction registers an optional-visit group and returns its index.
// maxCardinality defaults to 1 when zero.
func (b *Builder) AddDisjunction(nodes []int, penalty int64, maxCardinality int) (int, error) {
	if b.built {
		return -1, ErrFrozen
	}
	idx := len(b.disj)
	if maxCardinality == 0 {
		maxCardinality = 1
	}
	if penalty < 0 {
		return -1, fmt.Errorf("%w: disjunction %d: negative penalty", ErrInvalidOptions, idx)
	}
	if len(nodes) == 0 {
		return -1, &DisjunctionCardinalityError{Disjunction: idx, Node: -1, Reason: "no members"}
	}
	if maxCardinality < 1 || maxCardinality > len(nodes) {
		return -1, &DisjunctionCardinalityError{Disjunction: idx, Node: -1,
			Reason: fmt.Sprintf("max cardinality %d outside [1,%d]", maxCardinality, len(nodes))}
	}
	seen := make(map[int]bool, len(nodes))
	for _, n := range nodes {
		if !b.net.validNode(n) {
			return -1, topologyErr("disjunction references unknown node", n, -1)
		}
		if b.net.IsDepot(n) {
			return -1, &DisjunctionCardinalityError{Disjunction: idx, Node: n, Reason: "depot cannot be optional"}
		}
		if seen[n] {
			return -1, &DisjunctionCardinalityError{Disjunction: idx, Node: n, Reason: "duplicate member"}
		}
		seen[n] = true
		for j, other := range b.disj {
			for _, m := range other.Nodes {
				if m == n {
					return -1, &DisjunctionCardinalityError{Disjunction: idx, Node: n,
						Reason: fmt.Sprintf("already a member of disjunction %d", j)}
				}
			}
		}
	}
	b.disj = append(b.disj, Disjunction{Nodes: append([]int(nil), nodes...), Penalty: penalty, MaxCardinality: maxCardinality})
	return idx, nil
}

// AddPickupDelivery registers a precedence pair.
func (b *Builder) AddPickupDelivery(pickup, delivery int) error {
	if b.built {
		return ErrFrozen
	}
	if !b.net.validNode(pickup) || !b.net.validNode(delivery) {
		return topologyErr("pickup/delivery references unknown node", pickup, delivery)
	}
	if pickup == delivery {
		return fmt.Errorf("%w: pickup and delivery are both node %d", ErrInvalidPrecedence, pickup)
	}
	if b.net.IsDepot(pickup) || b.net.IsDepot(delivery) {
		return fmt.Errorf("%w: (%d,%d) touches a depot", ErrInvalidPrecedence, pickup, delivery)
	}
	for _, p := range b.pairs {
		if p.Pickup == pickup || p.Delivery == pickup || p.Pickup == delivery || p.Delivery == delivery {
			return fmt.Errorf("%w: (%d,%d) overlaps pair (%d,%d)", ErrInvalidPrecedence, pickup, delivery, p.Pickup, p.Delivery)
		}
	}
	b.pairs = append(b.pairs, Pair{Pickup: pickup, Delivery: delivery})
	return nil
}

// Build validates everything collected so far and freezes it into a Model. A Builder
// builds once.
func (b *Builder) Build() (*Model, error) {
	if b.built {
		return nil, ErrFrozen
	}
	if err := b.net.validate(); err != nil {
		return nil, err
	}
	nn := b.net.NodeCount()
	for _, d := range b.dims {
		if len(d.slackMin) != nn {
			return nil, topologyErr("nodes added after dimension "+d.name, len(d.slackMin), nn)
		}
	}
	for _, d := range b.disj {
		for _, n := range d.Nodes {
			if b.net.IsDepot(n) {
				return nil, &DisjunctionCardinalityError{Node: n, Reason: "depot cannot be optional"}
			}
		}
	}

	m := &Model{
		net:      b.net.freeze(),
		dims:     make([]*Dimension, len(b.dims)),
		names:    make(map[string]int, len(b.names)),
		pairs:    append([]Pair(nil), b.pairs...),
		nodeDisj: make([]int, nn),
		pairOf:   make([]int, nn),
		pickup:   make([]bool, nn),
	}
	for i, d := range b.dims {
		m.dims[i] = d.clone()
	}
	for k, v := range b.names {
		m.names[k] = v
	}
	for i := range m.nodeDisj {
		m.nodeDisj[i] = -1
		m.pairOf[i] = -1
	}
	for i, d := range b.disj {
		d.Nodes = append([]int(nil), d.Nodes...)
		m.disj = append(m.disj, d)
		for _, n := range d.Nodes {
			m.nodeDisj[n] = i
		}
	}
	m.userDisj = len(b.disj)
	for i := 0; i < nn; i++ {
		if b.net.IsDepot(i) || m.nodeDisj[i] >= 0 {
			continue
		}
		m.nodeDisj[i] = len(m.disj)
		m.disj = append(m.disj, Disjunction{Nodes: []int{i}, MaxCardinality: 1, Mandatory: true})
	}
	for _, p := range m.pairs {
		m.pairOf[p.Pickup] = p.Delivery
		m.pairOf[p.Delivery] = p.Pickup
		m.pickup[p.Pickup] = true
		dp, dd := m.nodeDisj[p.Pickup], m.nodeDisj[p.Delivery]
		if dp == dd && m.disj[dp].MaxCardinality < 2 {
			return nil, &DisjunctionCardinalityError{Disjunction: dp, Node: p.Pickup,
				Reason: fmt.Sprintf("pair (%d,%d) shares a disjunction that admits only one member", p.Pickup, p.Delivery)}
		}
	}
	b.built = true
	return m, nil
}

// Model is the immutable routing problem. It is safe for concurrent solves.
type Model struct {
	net      *Network
	dims     []*Dimension
	names    map[string]int
	disj     []Disjunction
	userDisj int
	pairs    []Pair
	nodeDisj []int
	pairOf   []int
	pickup   []bool
}

// Network returns the model's frozen network.
func (m *Model) Network() *Network { return m.net }

// Dimensions returns the dimensions in registration order.
func (m *Model) Dimensions() []*Dimension { return append([]*Dimension(nil), m.dims...) }

// Dimension looks a dimension up by name.
func (m *Model) Dimension(name string) (*Dimension, error) {
	i, ok := m.names[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDimension, name)
	}
	return m.dims[i], nil
}

// Disjunctions returns the user-declared disjunctions followed by the implicit mandatory
// singletons.
func (m *Model) Disjunctions() []Disjunction {
	out := append([]Disjunction(nil), m.disj...)
	for i := range out {
		out[i].Nodes = append([]int(nil), out[i].Nodes...)
	}
	return out
}

// Pairs returns the pickup/delivery pairs.
func (m *Model) Pairs() []Pair { return append([]Pair(nil), m.pairs...) }

// HasUserConstraints reports whether user disjunctions or pickup/delivery pairs exist.
func (m *Model) HasUserConstraints() bool { return m.userDisj > 0 || len(m.pairs) > 0 }

// DisjunctionOf returns the disjunction index of node i, or -1 for depots.
func (m *Model) DisjunctionOf(i int) int { return m.nodeDisj[i] }

// PartnerOf returns the other node of i's pickup/delivery pair, or -1.
func (m *Model) PartnerOf(i int) int { return m.pairOf[i] }

// sharesDroppableDisjunction reports whether a pair may be left out jointly.
func (m *Model) sharesDroppableDisjunction(p, d int) bool {
	dp := m.nodeDisj[p]
	return dp >= 0 && dp == m.nodeDisj[d] && !m.disj[dp].Mandatory
}

// units returns the insertion units in node order: a single node, or a pickup followed by
// its delivery. Depots are excluded.
func (m *Model) units() [][]int {
	var out [][]int
	for i := 0; i < m.net.NodeCount(); i++ {
		if m.net.IsDepot(i) {
			continue
		}
		switch {
		case m.pairOf[i] < 0:
			out = append(out, []int{i})
		case m.pickup[i]:
			out = append(out, []int{i, m.pairOf[i]})
		}
	}
	return out
}
