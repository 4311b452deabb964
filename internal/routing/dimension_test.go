package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatArcs(n int, c int64) [][]int64 {
	arcs := make([][]int64, n)
	for i := range arcs {
		arcs[i] = make([]int64, n)
		for j := range arcs[i] {
			if i != j {
				arcs[i][j] = c
			}
		}
	}
	return arcs
}

func timeDimension(t *testing.T, opts ...DimensionOption) *Dimension {
	t.Helper()
	net := newNetwork(t, flatArcs(3, 10))
	addVehicles(t, net, 1, 0, 0)
	b := NewBuilder(net)
	d, err := b.AddDimension("Time", func(i, j int) int64 { return net.Cost(i, j) }, 30, []int64{100}, true, opts...)
	require.NoError(t, err)
	return d
}

func TestScanPicksEarliestWindow(t *testing.T) {
	d := timeDimension(t,
		WithWindow(1, Window{20, 30}, Window{0, 5}),
		WithWindow(2, Window{25, 40}))
	out := make([]int64, 4)
	require.Nil(t, d.scan(0, []int{0, 1, 2, 0}, out))
	assert.Equal(t, []int64{0, 20, 30, 40}, out)
	assert.Equal(t, []Window{{0, 5}, {20, 30}}, d.Windows(1))
}

func TestScanReportsUnreachableWindow(t *testing.T) {
	d := timeDimension(t, WithWindow(1, Window{20, 30}), WithWindow(2, Window{0, 15}))
	out := make([]int64, 4)
	viol := d.scan(0, []int{0, 1, 2, 0}, out)
	require.NotNil(t, viol)
	assert.Equal(t, ConstraintDimension, viol.Constraint)
	assert.Equal(t, "Time", viol.Dimension)
	assert.Equal(t, 2, viol.Node)
	assert.Equal(t, 2, viol.Position)
}

func TestScanSlackLimitsWaiting(t *testing.T) {
	// arriving at 10 needs 20 units of waiting but the node only allows 5
	d := timeDimension(t, WithSlack(0, 0, 5), WithWindow(1, Window{30, 40}))
	out := make([]int64, 3)
	viol := d.scan(0, []int{0, 1, 0}, out)
	require.NotNil(t, viol)
	assert.Equal(t, 1, viol.Node)
}

func TestScanStartValueAndEndWindow(t *testing.T) {
	d := timeDimension(t, WithStartValue(0, 7), WithEndWindow(0, Window{0, 30}))
	out := make([]int64, 3)
	viol := d.scan(0, []int{0, 1, 0}, out)
	require.Nil(t, viol)
	assert.Equal(t, []int64{7, 17, 27}, out)

	out = make([]int64, 4)
	viol = d.scan(0, []int{0, 1, 2, 0}, out)
	require.NotNil(t, viol)
	assert.Equal(t, 3, viol.Position)
}

func TestScanDelaysFreeStart(t *testing.T) {
	// no slack anywhere: node 1 is only reachable by leaving the depot at 40
	net := newNetwork(t, flatArcs(2, 10))
	addVehicles(t, net, 1, 0, 0)
	b := NewBuilder(net)
	d, err := b.AddDimension("Time", func(i, j int) int64 { return net.Cost(i, j) }, 0, []int64{100}, false,
		WithStartWindow(0, Window{0, 100}), WithWindow(1, Window{50, 60}))
	require.NoError(t, err)

	out := make([]int64, 3)
	require.Nil(t, d.scan(0, []int{0, 1, 0}, out))
	assert.Equal(t, []int64{40, 50, 60}, out)

	m, err := b.Build()
	require.NoError(t, err)
	sol, _, err := Solve(context.Background(), m, quickOptions(10))
	require.NoError(t, err)
	assert.True(t, sol.Feasible(), "status %s", sol.Status)
	assert.Empty(t, sol.Dropped)
	checkInvariants(t, m, sol)

	ws, err := ValidateAndWrap(m, [][]int{{1}})
	require.NoError(t, err)
	assert.Equal(t, []int64{40, 50, 60}, ws.Routes[0].Cumuls[0])
}

func TestScanFindsLaterWindowWhenEarliestDeadEnds(t *testing.T) {
	// arriving at node 1 at 10 leaves node 2 out of reach; waiting for the second window works
	d := timeDimension(t,
		WithWindow(1, Window{10, 12}, Window{40, 45}),
		WithWindow(2, Window{75, 80}))
	out := make([]int64, 4)
	require.Nil(t, d.scan(0, []int{0, 1, 2, 0}, out))
	assert.Equal(t, []int64{0, 40, 75, 85}, out)
}

func TestScanReportsFirstUnreachablePosition(t *testing.T) {
	d := timeDimension(t,
		WithWindow(1, Window{10, 12}, Window{40, 45}),
		WithWindow(2, Window{95, 99}))
	out := make([]int64, 4)
	viol := d.scan(0, []int{0, 1, 2, 0}, out)
	require.NotNil(t, viol)
	assert.Equal(t, 2, viol.Node)
	assert.Equal(t, 2, viol.Position)
}

func TestWindowValidation(t *testing.T) {
	net := newNetwork(t, flatArcs(3, 1))
	addVehicles(t, net, 1, 0, 0)
	b := NewBuilder(net)
	transit := func(i, j int) int64 { return 1 }

	_, err := b.AddDimension("Overlap", transit, 0, []int64{10}, true, WithWindow(1, Window{0, 5}, Window{5, 8}))
	assert.True(t, errors.Is(err, ErrOverlappingWindows), "got %v", err)

	_, err = b.AddDimension("Inverted", transit, 0, []int64{10}, true, WithWindow(1, Window{6, 5}))
	assert.True(t, errors.Is(err, ErrInvalidWindow), "got %v", err)

	_, err = b.AddDimension("Start", transit, 0, []int64{10}, true, WithStartValue(0, 11))
	assert.True(t, errors.Is(err, ErrInvalidWindow), "got %v", err)

	_, err = b.AddDimension("Ok", transit, 0, []int64{10}, true)
	require.NoError(t, err)
	_, err = b.AddDimension("Ok", transit, 0, []int64{10}, true)
	assert.True(t, errors.Is(err, ErrDuplicateDimension), "got %v", err)

	_, err = b.AddDimension("Caps", transit, 0, []int64{10, 10}, true)
	assert.True(t, errors.Is(err, ErrInvalidTopology), "got %v", err)
}

func TestResetRuleSlack(t *testing.T) {
	m := unloadModel(t)
	d, err := m.Dimension("Capacity")
	require.NoError(t, err)
	for n := 0; n < m.Network().NodeCount(); n++ {
		lo, hi := d.SlackRange(n)
		assert.Zero(t, lo)
		if n >= 1 && n <= 3 {
			assert.Equal(t, int64(50), hi, "node %d", n)
		} else {
			assert.Zero(t, hi, "node %d", n)
		}
	}
}

func TestVehicleCapacityOverride(t *testing.T) {
	net := newNetwork(t, flatArcs(3, 1))
	_, err := net.AddVehicle("small", 0, 0, map[string]int64{"Load": 3})
	require.NoError(t, err)
	_, err = net.AddVehicle("big", 0, 0, nil)
	require.NoError(t, err)
	b := NewBuilder(net)
	d, err := b.AddUnaryDimension("Load", func(int) int64 { return 1 }, 0, []int64{10}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(3), d.Capacity(0))
	assert.Equal(t, int64(10), d.Capacity(1))
}
