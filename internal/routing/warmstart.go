package routing

import "fmt"

// ValidateAndWrap turns caller-supplied routes into an initial Solution. routes holds one
// stop list per vehicle, start and end excluded; missing trailing vehicles are empty.
// Routes are never repaired: the first violated constraint is returned as a
// *WarmStartError. Nodes left out are treated like construction drops.
func ValidateAndWrap(m *Model, routes [][]int) (*Solution, error) {
	p, err := validateRoutes(newEvaluator(m), routes)
	if err != nil {
		return nil, err
	}
	s := newEvaluator(m).toSolution(p)
	s.Status = StatusFeasibleFound
	if !s.Feasible() {
		s.Status = StatusNoFeasibleSolution
	}
	return s, nil
}

func validateRoutes(e *evaluator, routes [][]int) (*plan, error) {
	m := e.m
	if len(routes) > m.net.VehicleCount() {
		return nil, &WarmStartError{Vehicle: len(routes) - 1, Node: -1, Constraint: ConstraintVehicle,
			Reason: fmt.Sprintf("%d routes for %d vehicles", len(routes), m.net.VehicleCount())}
	}
	seen := make([]bool, m.net.NodeCount())
	visited := make([]int, len(m.disj))
	for v, stops := range routes {
		for _, n := range stops {
			switch {
			case !m.net.validNode(n):
				return nil, &WarmStartError{Vehicle: v, Node: n, Constraint: ConstraintUnknownNode, Reason: "unknown node"}
			case m.net.IsDepot(n):
				return nil, &WarmStartError{Vehicle: v, Node: n, Constraint: ConstraintDepot, Reason: "depots cannot be visited as stops"}
			case seen[n]:
				return nil, &WarmStartError{Vehicle: v, Node: n, Constraint: ConstraintDuplicate, Reason: "node visited twice"}
			}
			seen[n] = true
			d := m.nodeDisj[n]
			visited[d]++
			if visited[d] > m.disj[d].MaxCardinality {
				return nil, &WarmStartError{Vehicle: v, Node: n, Constraint: ConstraintDisjunction,
					Reason: fmt.Sprintf("disjunction %d visited more than %d times", d, m.disj[d].MaxCardinality)}
			}
		}
	}
	p, v, viol := e.evaluate(routes)
	if viol != nil {
		return nil, warmStartErr(v, viol)
	}
	return p, nil
}
