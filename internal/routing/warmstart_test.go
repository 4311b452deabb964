package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWarmStartRoundTrip(t *testing.T) {
	m := cvrpModel(t)
	first, _, err := Solve(context.Background(), m, quickOptions(20))
	require.NoError(t, err)

	wrapped, err := ValidateAndWrap(m, first.StopLists())
	require.NoError(t, err)
	if diff := cmp.Diff(first.Routes, wrapped.Routes); diff != "" {
		t.Fatalf("wrapped routes differ (-solve +wrap):\n%s", diff)
	}
	assert.Equal(t, first.Objective, wrapped.Objective)
	assert.Equal(t, StatusFeasibleFound, wrapped.Status)

	opts := quickOptions(0)
	opts.InitialRoutes = first.StopLists()
	again, met, err := Solve(context.Background(), m, opts)
	require.NoError(t, err)
	assert.Equal(t, "warm-start", met.Strategy)
	if diff := cmp.Diff(wrapped.Routes, again.Routes); diff != "" {
		t.Fatalf("reported routes differ (-wrap +solve):\n%s", diff)
	}
}

func TestWarmStartCumulsMatchSimulation(t *testing.T) {
	m := cvrpModel(t)
	routes := [][]int{{1, 4, 3, 7}, {2, 6, 8, 5}, {9, 14, 16, 10}, {11, 12, 13, 15}}
	sol, err := ValidateAndWrap(m, routes)
	require.NoError(t, err)

	for v, stops := range routes {
		// the load arriving at each stop is what the previous stops picked up
		var load int64
		want := []int64{0}
		for _, n := range stops {
			want = append(want, load)
			load += cvrpDemands[n]
		}
		want = append(want, load)
		assert.Equal(t, want, sol.Routes[v].Cumuls[0], "vehicle %d", v)
		assert.Equal(t, stops, sol.Routes[v].Stops())
	}
	assert.Equal(t, int64(2750), sol.Objective.Total)
	assert.Empty(t, sol.Dropped)
}

func TestWarmStartPartialRoutes(t *testing.T) {
	m := cvrpModelWithCapacity(t, 20)
	sol, err := ValidateAndWrap(m, [][]int{{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, StatusNoFeasibleSolution, sol.Status)
	assert.Equal(t, 14, sol.Unserved)
	assert.Len(t, sol.Routes, 4)
	assert.True(t, sol.Routes[3].Empty())

	// search inserts what the warm start left out
	opts := quickOptions(40)
	opts.InitialRoutes = [][]int{{1, 2}}
	full, _, err := Solve(context.Background(), m, opts)
	require.NoError(t, err)
	assert.True(t, full.Feasible())
	assert.Empty(t, full.Dropped)
}

func TestWarmStartErrors(t *testing.T) {
	m := cvrpModel(t)
	pairs := pairsModel(t)
	drop := pickupDropModel(t)

	tests := []struct {
		name       string
		model      *Model
		routes     [][]int
		constraint string
		vehicle    int
		node       int
	}{
		{"duplicate", m, [][]int{{1, 2}, {2}}, ConstraintDuplicate, 1, 2},
		{"depot", m, [][]int{{1, 0}}, ConstraintDepot, 0, 0},
		{"unknown node", m, [][]int{{1, 40}}, ConstraintUnknownNode, 0, 40},
		{"too many routes", m, [][]int{{}, {}, {}, {}, {1}}, ConstraintVehicle, 4, -1},
		{"capacity", m, [][]int{{7, 8}}, ConstraintDimension, 0, 0},
		{"split pair", pairs, [][]int{{1}, {4}}, ConstraintPrecedence, 0, 1},
		{"delivery first", pairs, [][]int{{4, 1}}, ConstraintPrecedence, 0, 1},
		{"pickup over capacity", drop, [][]int{{1, 2}}, ConstraintDimension, 0, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateAndWrap(tc.model, tc.routes)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrWarmStartInfeasible))
			var ws *WarmStartError
			require.True(t, errors.As(err, &ws))
			assert.Equal(t, tc.constraint, ws.Constraint)
			assert.Equal(t, tc.vehicle, ws.Vehicle)
			assert.Equal(t, tc.node, ws.Node)
		})
	}
}

func TestWarmStartDisjunctionCardinality(t *testing.T) {
	net := newNetwork(t, flatArcs(4, 1))
	addVehicles(t, net, 1, 0, 0)
	b := NewBuilder(net)
	_, err := b.AddDisjunction([]int{1, 2}, 7, 1)
	require.NoError(t, err)
	m, err := b.Build()
	require.NoError(t, err)

	_, err = ValidateAndWrap(m, [][]int{{1, 3, 2}})
	var ws *WarmStartError
	require.True(t, errors.As(err, &ws), "got %v", err)
	assert.Equal(t, ConstraintDisjunction, ws.Constraint)
	assert.Equal(t, 2, ws.Node)

	sol, err := ValidateAndWrap(m, [][]int{{3}})
	require.NoError(t, err)
	assert.Equal(t, int64(7), sol.Objective.Penalty)
	assert.Equal(t, []int{1, 2}, sol.Dropped)
}
