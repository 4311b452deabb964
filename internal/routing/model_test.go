package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkTopologyErrors(t *testing.T) {
	net := NewNetwork()
	net.AddNode(Node{ID: "depot"})
	net.AddNode(Node{ID: "a"})

	_, err := net.AddVehicle("v", 0, 5, nil)
	var topo *InvalidTopologyError
	require.True(t, errors.As(err, &topo), "got %v", err)
	assert.Equal(t, 5, topo.To)
	assert.True(t, errors.Is(err, ErrInvalidTopology))

	err = net.SetArcCosts([][]int64{{0, 1}})
	assert.True(t, errors.Is(err, ErrInvalidTopology), "got %v", err)

	err = net.SetArcCosts([][]int64{{0, 1}, {-1, 0}})
	assert.True(t, errors.Is(err, ErrInvalidTopology), "got %v", err)

	err = net.SetArcCostFunc(func(from, to int) (int64, bool) { return 1, from != 1 || to != 0 })
	require.True(t, errors.As(err, &topo), "got %v", err)
	assert.Equal(t, 1, topo.From)
	assert.Equal(t, 0, topo.To)

	_, err = NewBuilder(net).Build()
	assert.True(t, errors.Is(err, ErrInvalidTopology), "build without vehicles: %v", err)
}

func TestNetworkDepots(t *testing.T) {
	net := newNetwork(t, flatArcs(4, 1))
	_, err := net.AddVehicle("v0", 0, 3, nil)
	require.NoError(t, err)
	assert.True(t, net.IsDepot(0))
	assert.True(t, net.IsDepot(3))
	assert.False(t, net.IsDepot(1))
	assert.Equal(t, int64(1), net.Cost(1, 2))
	assert.Equal(t, 4, net.NodeCount())
	assert.Equal(t, 1, net.VehicleCount())
}

func TestDisjunctionBuildErrors(t *testing.T) {
	net := newNetwork(t, flatArcs(5, 1))
	addVehicles(t, net, 1, 0, 0)
	b := NewBuilder(net)

	var card *DisjunctionCardinalityError
	_, err := b.AddDisjunction([]int{1, 2}, 10, 3)
	require.True(t, errors.As(err, &card), "got %v", err)

	_, err = b.AddDisjunction([]int{0, 1}, 10, 1)
	require.True(t, errors.As(err, &card), "got %v", err)
	assert.Equal(t, 0, card.Node)

	_, err = b.AddDisjunction([]int{1, 1}, 10, 1)
	require.True(t, errors.As(err, &card), "got %v", err)

	idx, err := b.AddDisjunction([]int{1, 2}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	_, err = b.AddDisjunction([]int{2, 3}, 10, 1)
	require.True(t, errors.As(err, &card), "got %v", err)
	assert.Equal(t, 2, card.Node)
	assert.True(t, errors.Is(err, ErrDisjunctionCardinality))

	_, err = b.AddDisjunction([]int{3}, -1, 1)
	assert.True(t, errors.Is(err, ErrInvalidOptions), "got %v", err)

	// a pair sharing a disjunction that admits a single member can never be served
	require.NoError(t, b.AddPickupDelivery(1, 2))
	_, err = b.Build()
	require.True(t, errors.As(err, &card), "got %v", err)
}

func TestPickupDeliveryBuildErrors(t *testing.T) {
	net := newNetwork(t, flatArcs(5, 1))
	addVehicles(t, net, 1, 0, 0)
	b := NewBuilder(net)

	assert.True(t, errors.Is(b.AddPickupDelivery(1, 1), ErrInvalidPrecedence))
	assert.True(t, errors.Is(b.AddPickupDelivery(0, 1), ErrInvalidPrecedence))
	assert.True(t, errors.Is(b.AddPickupDelivery(1, 9), ErrInvalidTopology))
	require.NoError(t, b.AddPickupDelivery(1, 2))
	assert.True(t, errors.Is(b.AddPickupDelivery(2, 3), ErrInvalidPrecedence))

	m, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, 2, m.PartnerOf(1))
	assert.Equal(t, 1, m.PartnerOf(2))
	assert.Equal(t, -1, m.PartnerOf(3))
	assert.True(t, m.HasUserConstraints())
}

func TestImplicitMandatoryDisjunctions(t *testing.T) {
	net := newNetwork(t, flatArcs(4, 1))
	addVehicles(t, net, 1, 0, 0)
	b := NewBuilder(net)
	_, err := b.AddDisjunction([]int{2}, 5, 1)
	require.NoError(t, err)
	m, err := b.Build()
	require.NoError(t, err)

	disj := m.Disjunctions()
	require.Len(t, disj, 3)
	assert.False(t, disj[0].Mandatory)
	assert.Equal(t, -1, m.DisjunctionOf(0))
	assert.True(t, disj[m.DisjunctionOf(1)].Mandatory)
	assert.True(t, disj[m.DisjunctionOf(3)].Mandatory)
	assert.Equal(t, 0, m.DisjunctionOf(2))

	_, err = m.Dimension("Missing")
	assert.True(t, errors.Is(err, ErrUnknownDimension))
}

func TestNodesAddedAfterDimension(t *testing.T) {
	net := newNetwork(t, flatArcs(3, 1))
	addVehicles(t, net, 1, 0, 0)
	b := NewBuilder(net)
	_, err := b.AddUnaryDimension("Load", func(int) int64 { return 1 }, 0, []int64{5}, true)
	require.NoError(t, err)
	net.AddNode(Node{})
	_, err = b.Build()
	assert.True(t, errors.Is(err, ErrInvalidTopology), "got %v", err)
}

func TestBuiltModelIsFrozen(t *testing.T) {
	net := newNetwork(t, flatArcs(3, 1))
	addVehicles(t, net, 1, 0, 0)
	b := NewBuilder(net)
	_, err := b.AddUnaryDimension("Load", func(int) int64 { return 1 }, 0, []int64{5}, true)
	require.NoError(t, err)
	m, err := b.Build()
	require.NoError(t, err)
	before, _, err := Solve(context.Background(), m, quickOptions(5))
	require.NoError(t, err)

	assert.ErrorIs(t, b.Apply("Load", WithWindow(1, Window{100, 200})), ErrFrozen)
	_, err = b.AddUnaryDimension("Other", func(int) int64 { return 1 }, 0, []int64{5}, true)
	assert.ErrorIs(t, err, ErrFrozen)
	_, err = b.AddDisjunction([]int{1}, 10, 1)
	assert.ErrorIs(t, err, ErrFrozen)
	assert.ErrorIs(t, b.AddPickupDelivery(1, 2), ErrFrozen)
	_, err = b.Build()
	assert.ErrorIs(t, err, ErrFrozen)

	frozen := m.Network()
	assert.True(t, frozen.Frozen())
	assert.False(t, net.Frozen())
	_, err = frozen.AddNode(Node{ID: "late"})
	assert.ErrorIs(t, err, ErrFrozen)
	_, err = frozen.AddVehicle("late", 0, 0, nil)
	assert.ErrorIs(t, err, ErrFrozen)
	assert.ErrorIs(t, frozen.SetVehicleFixedCost(0, 7), ErrFrozen)
	assert.ErrorIs(t, frozen.SetArcCosts(flatArcs(3, 2)), ErrFrozen)
	assert.ErrorIs(t, frozen.SetArcCostFunc(func(int, int) (int64, bool) { return 2, true }), ErrFrozen)

	// edits to the builder's own network no longer reach the model
	_, err = net.AddNode(Node{ID: "late"})
	require.NoError(t, err)
	require.NoError(t, net.SetArcCosts(flatArcs(4, 9)))
	assert.Equal(t, 3, m.Network().NodeCount())
	assert.Equal(t, int64(1), m.Network().Cost(1, 2))

	d, err := m.Dimension("Load")
	require.NoError(t, err)
	assert.Nil(t, d.Windows(1))

	after, _, err := Solve(context.Background(), m, quickOptions(5))
	require.NoError(t, err)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.StopLists(), after.StopLists())
	assert.Equal(t, before.Objective, after.Objective)
}

func TestVehicleCapacitiesAreCopied(t *testing.T) {
	net := newNetwork(t, flatArcs(2, 1))
	caps := map[string]int64{"Load": 3}
	_, err := net.AddVehicle("v", 0, 0, caps)
	require.NoError(t, err)
	caps["Load"] = 1
	got := net.Vehicle(0).Capacities
	assert.Equal(t, int64(3), got["Load"])
	got["Load"] = 2
	assert.Equal(t, int64(3), net.Vehicle(0).Capacities["Load"])
}
