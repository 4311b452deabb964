package routing

// Node is a location in the network. Lat/Lng are informational; all costs come from the
// arc matrix.
type Node struct {
	ID       string
	Lat, Lng float64
}

// Vehicle is a route owner. Start and End are node indices; they may coincide (round trip)
// or differ (multi-depot / open routes via a zero-cost dummy end node).
type Vehicle struct {
	ID    string
	Start int
	End   int
	// Capacities overrides a dimension's per-vehicle capacity by dimension name.
	Capacities map[string]int64
	// FixedCost is charged once when the route visits at least one node.
	FixedCost int64
}

// Network holds nodes, vehicles and the dense arc cost matrix.
// The copy held by a built Model is frozen: its mutators return ErrFrozen.
type Network struct {
	nodes    []Node
	vehicles []Vehicle
	arcs     [][]int64
	depot    []bool
	frozen   bool
}

// NewNetwork returns an empty network.
func NewNetwork() *Network {
	return &Network{}
}

// AddNode appends a node and returns its index.
func (n *Network) AddNode(node Node) (int, error) {
	if n.frozen {
		return -1, ErrFrozen
	}
	n.nodes = append(n.nodes, node)
	n.depot = append(n.depot, false)
	return len(n.nodes) - 1, nil
}

// AddVehicle registers a vehicle. capacities may be nil.
func (n *Network) AddVehicle(id string, start, end int, capacities map[string]int64) (int, error) {
	if n.frozen {
		return -1, ErrFrozen
	}
	if start < 0 || start >= len(n.nodes) {
		return -1, topologyErr("vehicle "+id+" start references unknown node", start, -1)
	}
	if end < 0 || end >= len(n.nodes) {
		return -1, topologyErr("vehicle "+id+" end references unknown node", -1, end)
	}
	n.vehicles = append(n.vehicles, Vehicle{ID: id, Start: start, End: end, Capacities: copyCapacities(capacities)})
	n.depot[start] = true
	n.depot[end] = true
	return len(n.vehicles) - 1, nil
}

// SetVehicleFixedCost sets the cost charged when vehicle v is used.
func (n *Network) SetVehicleFixedCost(v int, cost int64) error {
	if n.frozen {
		return ErrFrozen
	}
	if v < 0 || v >= len(n.vehicles) {
		return topologyErr("unknown vehicle", v, -1)
	}
	if cost < 0 {
		return topologyErr("negative fixed cost", v, -1)
	}
	n.vehicles[v].FixedCost = cost
	return nil
}

// SetArcCosts copies a dense square matrix. Rows and columns must match NodeCount.
func (n *Network) SetArcCosts(m [][]int64) error {
	if n.frozen {
		return ErrFrozen
	}
	if len(m) != len(n.nodes) {
		return topologyErr("arc matrix row count does not match node count", len(m), len(n.nodes))
	}
	arcs := make([][]int64, len(m))
	for i, row := range m {
		if len(row) != len(n.nodes) {
			return topologyErr("arc matrix row length does not match node count", i, len(row))
		}
		for j, c := range row {
			if c < 0 {
				return topologyErr("negative arc cost", i, j)
			}
		}
		arcs[i] = append([]int64(nil), row...)
	}
	n.arcs = arcs
	return nil
}

// SetArcCostFunc evaluates fn for every ordered pair and stores the result.
// fn reports ok=false when the pair is undefined.
func (n *Network) SetArcCostFunc(fn func(from, to int) (int64, bool)) error {
	if n.frozen {
		return ErrFrozen
	}
	size := len(n.nodes)
	arcs := make([][]int64, size)
	for i := 0; i < size; i++ {
		arcs[i] = make([]int64, size)
		for j := 0; j < size; j++ {
			c, ok := fn(i, j)
			if !ok {
				return topologyErr("arc cost undefined", i, j)
			}
			if c < 0 {
				return topologyErr("negative arc cost", i, j)
			}
			arcs[i][j] = c
		}
	}
	n.arcs = arcs
	return nil
}

// Cost returns the arc cost from a to b.
func (n *Network) Cost(a, b int) int64 { return n.arcs[a][b] }

// NodeCount returns the number of nodes.
func (n *Network) NodeCount() int { return len(n.nodes) }

// VehicleCount returns the number of vehicles.
func (n *Network) VehicleCount() int { return len(n.vehicles) }

// Node returns node i.
func (n *Network) Node(i int) Node { return n.nodes[i] }

// Vehicle returns vehicle v. The Capacities map is a copy.
func (n *Network) Vehicle(v int) Vehicle {
	veh := n.vehicles[v]
	veh.Capacities = copyCapacities(veh.Capacities)
	return veh
}

// IsDepot reports whether node i is the start or end of some vehicle. Depots are never
// visited as ordinary stops.
func (n *Network) IsDepot(i int) bool { return n.depot[i] }

// Frozen reports whether the network belongs to a built Model.
func (n *Network) Frozen() bool { return n.frozen }

// freeze returns a deep, frozen copy of n.
func (n *Network) freeze() *Network {
	out := &Network{
		nodes:    append([]Node(nil), n.nodes...),
		vehicles: make([]Vehicle, len(n.vehicles)),
		arcs:     make([][]int64, len(n.arcs)),
		depot:    append([]bool(nil), n.depot...),
		frozen:   true,
	}
	for v, veh := range n.vehicles {
		veh.Capacities = copyCapacities(veh.Capacities)
		out.vehicles[v] = veh
	}
	for i, row := range n.arcs {
		out.arcs[i] = append([]int64(nil), row...)
	}
	return out
}

func copyCapacities(m map[string]int64) map[string]int64 {
	if m == nil {
		return nil
	}
	out := make(map[string]int64, len(m))
	for k, c := range m {
		out[k] = c
	}
	return out
}

func (n *Network) validNode(i int) bool { return i >= 0 && i < len(n.nodes) }

func (n *Network) validate() error {
	if len(n.nodes) == 0 {
		return topologyErr("network has no nodes", -1, -1)
	}
	if len(n.vehicles) == 0 {
		return topologyErr("network has no vehicles", -1, -1)
	}
	if n.arcs == nil {
		return topologyErr("arc costs not set", -1, -1)
	}
	if len(n.arcs) != len(n.nodes) {
		return topologyErr("arc matrix no longer matches node count", len(n.arcs), len(n.nodes))
	}
	return nil
}

// routeCost sums arc costs along a full sequence.
func (n *Network) routeCost(seq []int) int64 {
	var total int64
	for i := 0; i+1 < len(seq); i++ {
		total += n.arcs[seq[i]][seq[i+1]]
	}
	return total
}
