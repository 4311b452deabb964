package routing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

var cvrpMatrix = [][]int64{
	{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
	{0, 0, 684, 308, 194, 502, 730, 354, 696, 742, 1084, 594, 480, 674, 1016, 868, 1210},
	{0, 684, 0, 992, 878, 502, 274, 810, 468, 742, 400, 1278, 1164, 1130, 788, 1552, 754},
	{0, 308, 992, 0, 114, 650, 878, 502, 844, 890, 1232, 514, 628, 822, 1164, 560, 1358},
	{0, 194, 878, 114, 0, 536, 764, 388, 730, 776, 1118, 400, 514, 708, 1050, 674, 1244},
	{0, 502, 502, 650, 536, 0, 228, 308, 194, 240, 582, 776, 662, 628, 514, 1050, 708},
	{0, 730, 274, 878, 764, 228, 0, 536, 194, 468, 354, 1004, 890, 856, 514, 1278, 480},
	{0, 354, 810, 502, 388, 308, 536, 0, 342, 388, 730, 468, 354, 320, 662, 742, 856},
	{0, 696, 468, 844, 730, 194, 194, 342, 0, 274, 388, 810, 696, 662, 0, 1084, 514},
	{0, 742, 742, 890, 776, 240, 468, 388, 274, 0, 342, 536, 422, 388, 0, 810, 468},
	{0, 1084, 400, 1232, 1118, 582, 354, 730, 388, 342, 0, 878, 764, 730, 388, 1152, 354},
	{0, 594, 1278, 514, 400, 776, 1004, 468, 810, 536, 878, 0, 114, 308, 650, 274, 844},
	{0, 480, 1164, 628, 514, 662, 890, 354, 696, 422, 764, 114, 0, 194, 536, 388, 730},
	{0, 674, 1130, 822, 708, 628, 856, 320, 662, 388, 730, 308, 194, 0, 342, 422, 536},
	{0, 1016, 788, 1164, 1050, 514, 514, 662, 320, 274, 388, 650, 536, 342, 0, 764, 194},
	{0, 868, 1552, 560, 674, 1050, 1278, 742, 1084, 810, 1152, 274, 388, 422, 764, 0, 798},
	{0, 1210, 754, 1358, 1244, 708, 480, 856, 514, 468, 354, 844, 730, 536, 194, 798, 0},
}

var cvrpDemands = []int64{0, 1, 1, 2, 4, 2, 4, 8, 8, 1, 2, 1, 2, 4, 4, 8, 8}

// newNetwork creates n nodes and the given arc matrix.
func newNetwork(t *testing.T, arcs [][]int64) *Network {
	t.Helper()
	net := NewNetwork()
	for range arcs {
		net.AddNode(Node{})
	}
	require.NoError(t, net.SetArcCosts(arcs))
	return net
}

func addVehicles(t *testing.T, net *Network, count, start, end int) {
	t.Helper()
	for i := 0; i < count; i++ {
		_, err := net.AddVehicle("", start, end, nil)
		require.NoError(t, err)
	}
}

// cvrpModel is the 17 node instance with four vehicles of capacity 15.
func cvrpModel(t *testing.T) *Model {
	t.Helper()
	return cvrpModelWithCapacity(t, 15)
}

func cvrpModelWithCapacity(t *testing.T, capacity int64) *Model {
	t.Helper()
	net := newNetwork(t, cvrpMatrix)
	addVehicles(t, net, 4, 0, 0)
	b := NewBuilder(net)
	_, err := b.AddUnaryDimension("Capacity", func(n int) int64 { return cvrpDemands[n] }, 0, []int64{capacity}, true)
	require.NoError(t, err)
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

var unloadLocations = [][2]float64{
	{51.14, 71.44}, {51.16, 71.46}, {51.17, 71.47}, {51.14, 71.44},
	{51.14, 71.45}, {51.1467, 71.4583}, {51.1053, 71.4404}, {51.14, 71.42},
}

var unloadDemands = []int64{0, -50, -50, -50, 40, 10, 20, 30}

func gpsMeters(a, b [2]float64) int64 {
	const r = 6378.137
	rad := math.Pi / 180
	dLat := b[0]*rad - a[0]*rad
	dLon := b[1]*rad - a[1]*rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a[0]*rad)*math.Cos(b[0]*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return int64(r * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h)) * 1000)
}

// unloadModel is one vehicle of capacity 50 that must unload at nodes 1-3 between pickups.
func unloadModel(t *testing.T) *Model {
	t.Helper()
	arcs := make([][]int64, len(unloadLocations))
	for i := range arcs {
		arcs[i] = make([]int64, len(unloadLocations))
		for j := range arcs[i] {
			if i != j {
				arcs[i][j] = gpsMeters(unloadLocations[i], unloadLocations[j])
			}
		}
	}
	net := newNetwork(t, arcs)
	addVehicles(t, net, 1, 0, 0)
	b := NewBuilder(net)
	_, err := b.AddUnaryDimension("Capacity", func(n int) int64 { return unloadDemands[n] }, 50, []int64{50}, true,
		WithResetNodes(1, 2, 3))
	require.NoError(t, err)
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

func quickOptions(iterations int) Options {
	opts := DefaultOptions()
	opts.TimeLimit = 0
	opts.IterationLimit = iterations
	return opts
}
