package network

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devskill-org/peilbeheer/hydro"
)

func ptr(v float64) *float64 { return &v }

func area(code string, surface, level float64) hydro.Area {
	return hydro.Area{Code: code, SurfaceArea: surface, CurrentLevel: level}
}

func boezem() hydro.Area {
	return hydro.Area{Code: "BOEZEM", SurfaceArea: 1e6, FixedLevel: ptr(-0.4), CurrentVolume: 1e6}
}

func mustTopology(t *testing.T, areas []hydro.Area, conns []Connection) *Topology {
	t.Helper()
	topo, err := New(areas, conns)
	require.NoError(t, err)
	return topo
}

func TestResolveEdgeFlow_OverstortCrest(t *testing.T) {
	topo := mustTopology(t,
		[]hydro.Area{area("A", 1000, 0.8), area("B", 1000, 0)},
		[]Connection{{ID: "W1", From: "A", To: "B", Spec: Overstort{CrestLevel: 1.0, CrestWidth: 2}}},
	)

	q, err := topo.ResolveEdgeFlow(0, []float64{0.8, 0}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, q)

	q, err = topo.ResolveEdgeFlow(0, []float64{1.5, 0}, 0)
	require.NoError(t, err)
	assert.Greater(t, q, 0.0)
	assert.InDelta(t, 1.7*2*math.Pow(0.5, 1.5), q, 1e-12)
}

func TestResolveEdgeFlow_KeerklepNeverReverse(t *testing.T) {
	topo := mustTopology(t,
		[]hydro.Area{area("A", 1000, 0), area("B", 1000, 1)},
		[]Connection{{ID: "K1", From: "A", To: "B", Spec: Keerklep{Conductance: 0.4}}},
	)

	q, err := topo.ResolveEdgeFlow(0, []float64{0, 1}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, q)

	q, err = topo.ResolveEdgeFlow(0, []float64{1, 0.5}, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, q, 1e-12)
}

func TestResolveEdgeFlow_OpenVerbindingIsSigned(t *testing.T) {
	topo := mustTopology(t,
		[]hydro.Area{area("A", 1000, 0), area("B", 1000, 0)},
		[]Connection{{ID: "O1", From: "A", To: "B", Spec: OpenVerbinding{Conductance: 2}}},
	)

	q, err := topo.ResolveEdgeFlow(0, []float64{0, 0.25}, 0)
	require.NoError(t, err)
	assert.InDelta(t, -0.5, q, 1e-12)
}

func TestResolveEdgeFlow_GemaalClampsToCurve(t *testing.T) {
	g := Gemaal{
		Capacity:      2,
		CapacityCurve: []CurvePoint{{Head: 0, Capacity: 2}, {Head: 2, Capacity: 1}},
		Controllable:  true,
	}
	topo := mustTopology(t,
		[]hydro.Area{area("A", 1000, 0), area("B", 1000, 1)},
		[]Connection{{ID: "G1", From: "A", To: "B", Spec: g}},
	)

	tests := []struct {
		name    string
		command float64
		want    float64
	}{
		{"above capacity", 3, 1.5},
		{"within capacity", 1, 1},
		{"negative command", -1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := topo.ResolveEdgeFlow(0, []float64{0, 1}, tt.command)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, q, 1e-12)
		})
	}

	_, err := topo.ResolveEdgeFlow(0, []float64{0, 1}, math.NaN())
	assert.Error(t, err)
}

func TestGemaal_CapacityAt(t *testing.T) {
	g := Gemaal{Capacity: 5, CapacityCurve: []CurvePoint{{Head: -1, Capacity: 3}, {Head: 1, Capacity: 2}, {Head: 3, Capacity: 0}}}

	assert.Equal(t, 3.0, g.CapacityAt(-5))
	assert.InDelta(t, 2.5, g.CapacityAt(0), 1e-12)
	assert.InDelta(t, 1.0, g.CapacityAt(2), 1e-12)
	assert.Equal(t, 0.0, g.CapacityAt(10))
	assert.Equal(t, 5.0, Gemaal{Capacity: 5}.CapacityAt(3))
}

func TestNew_KeerklepCycle(t *testing.T) {
	_, err := New(
		[]hydro.Area{area("A", 1000, 0), area("B", 1000, 0), area("C", 1000, 0)},
		[]Connection{
			{ID: "K1", From: "A", To: "B", Spec: Keerklep{Conductance: 1}},
			{ID: "K2", From: "B", To: "A", Spec: Keerklep{Conductance: 1}},
			{ID: "O1", From: "B", To: "C", Spec: OpenVerbinding{Conductance: 1}},
		},
	)

	var cce *hydro.CyclicConstraintError
	require.True(t, errors.As(err, &cce), "got %v", err)
	assert.Contains(t, cce.Cycle, "A")
	assert.Contains(t, cce.Cycle, "B")
	assert.NotContains(t, cce.Cycle, "C")
}

func TestNew_OpenLoopIsNotACycle(t *testing.T) {
	_, err := New(
		[]hydro.Area{area("A", 1000, 0), area("B", 1000, 0)},
		[]Connection{
			{ID: "K1", From: "A", To: "B", Spec: Keerklep{Conductance: 1}},
			{ID: "O1", From: "B", To: "A", Spec: OpenVerbinding{Conductance: 1}},
		},
	)
	assert.NoError(t, err)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name  string
		areas []hydro.Area
		conns []Connection
	}{
		{
			name:  "duplicate area",
			areas: []hydro.Area{area("A", 1, 0), area("A", 1, 0)},
		},
		{
			name:  "invalid area",
			areas: []hydro.Area{area("A", 0, 0)},
		},
		{
			name:  "unknown endpoint",
			areas: []hydro.Area{area("A", 1, 0)},
			conns: []Connection{{ID: "X", From: "A", To: "Z", Spec: OpenVerbinding{Conductance: 1}}},
		},
		{
			name:  "self loop",
			areas: []hydro.Area{area("A", 1, 0)},
			conns: []Connection{{ID: "X", From: "A", To: "A", Spec: OpenVerbinding{Conductance: 1}}},
		},
		{
			name:  "duplicate connection",
			areas: []hydro.Area{area("A", 1, 0), area("B", 1, 0)},
			conns: []Connection{
				{ID: "X", From: "A", To: "B", Spec: OpenVerbinding{Conductance: 1}},
				{ID: "X", From: "B", To: "A", Spec: OpenVerbinding{Conductance: 1}},
			},
		},
		{
			name:  "negative capacity",
			areas: []hydro.Area{area("A", 1, 0), area("B", 1, 0)},
			conns: []Connection{{ID: "G", From: "A", To: "B", Spec: Gemaal{Capacity: -1}}},
		},
		{
			name:  "curve not ascending",
			areas: []hydro.Area{area("A", 1, 0), area("B", 1, 0)},
			conns: []Connection{{ID: "G", From: "A", To: "B", Spec: Gemaal{Capacity: 1, CapacityCurve: []CurvePoint{{Head: 1, Capacity: 1}, {Head: 1, Capacity: 0.5}}}}},
		},
		{
			name:  "switch off above on",
			areas: []hydro.Area{area("A", 1, 0), area("B", 1, 0)},
			conns: []Connection{{ID: "G", From: "A", To: "B", Spec: Gemaal{Capacity: 1, SwitchOnLevel: ptr(0.2), SwitchOffLevel: ptr(0.5)}}},
		},
		{
			name:  "infinite conductance",
			areas: []hydro.Area{area("A", 1, 0), area("B", 1, 0)},
			conns: []Connection{{ID: "O", From: "A", To: "B", Spec: OpenVerbinding{Conductance: math.Inf(1)}}},
		},
		{
			name:  "missing type",
			areas: []hydro.Area{area("A", 1, 0), area("B", 1, 0)},
			conns: []Connection{{ID: "O", From: "A", To: "B"}},
		},
		{
			name:  "pointer gemaal",
			areas: []hydro.Area{area("A", 1, 0), area("B", 1, 0)},
			conns: []Connection{{ID: "G", From: "A", To: "B", Spec: &Gemaal{Capacity: 1, Controllable: true}}},
		},
		{
			name:  "nil pointer gemaal",
			areas: []hydro.Area{area("A", 1, 0), area("B", 1, 0)},
			conns: []Connection{{ID: "G", From: "A", To: "B", Spec: (*Gemaal)(nil)}},
		},
		{
			name:  "pointer overstort",
			areas: []hydro.Area{area("A", 1, 0), area("B", 1, 0)},
			conns: []Connection{{ID: "W", From: "A", To: "B", Spec: &Overstort{CrestLevel: 0.5, CrestWidth: 1, DischargeCoefficient: 1.7}}},
		},
		{
			name:  "level below bed",
			areas: []hydro.Area{area("A", 1, -0.5)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.areas, tt.conns)
			var ipe *hydro.InvalidParameterError
			assert.True(t, errors.As(err, &ipe), "got %v", err)
		})
	}
}

func TestNew_DerivesInitialVolume(t *testing.T) {
	a := area("A", 200, -1.0)
	a.BedLevel = -2.0
	topo := mustTopology(t, []hydro.Area{a, boezem()}, nil)

	got, ok := topo.Area("A")
	require.True(t, ok)
	assert.InDelta(t, 200.0, got.CurrentVolume, 1e-9)

	b, _ := topo.Area("BOEZEM")
	assert.Equal(t, 1e6, b.CurrentVolume)
	assert.Equal(t, -0.4, b.CurrentLevel)
}

func TestNew_RigidAreaIgnoresBed(t *testing.T) {
	b := boezem()
	b.BedLevel = 0 // fixed level -0.4 lies below the bed
	topo := mustTopology(t, []hydro.Area{b}, nil)

	got, ok := topo.Area("BOEZEM")
	require.True(t, ok)
	assert.Equal(t, -0.4, got.CurrentLevel)
}

func TestAllocate_ProportionalToCapacity(t *testing.T) {
	topo := mustTopology(t,
		[]hydro.Area{area("P", 1000, 0), boezem()},
		[]Connection{
			{ID: "G1", From: "P", To: "BOEZEM", Spec: Gemaal{Capacity: 1, Controllable: true}},
			{ID: "G2", From: "P", To: "BOEZEM", Spec: Gemaal{Capacity: 3, Controllable: true}},
			{ID: "G3", From: "P", To: "BOEZEM", Spec: Gemaal{Capacity: 10}},
			{ID: "G4", From: "BOEZEM", To: "P", Spec: Gemaal{Capacity: 2, Controllable: true}},
		},
	)
	p, _ := topo.Index("P")

	assert.Equal(t, 4.0, topo.ControllableCapacity(p, Out))
	assert.Equal(t, 2.0, topo.ControllableCapacity(p, In))

	alloc := topo.Allocate(p, Out, 2)
	assert.InDelta(t, 0.5, alloc[0], 1e-12)
	assert.InDelta(t, 1.5, alloc[1], 1e-12)
	assert.NotContains(t, alloc, EdgeIndex(2))

	alloc = topo.Allocate(p, Out, 100)
	assert.InDelta(t, 1.0, alloc[0], 1e-12)
	assert.InDelta(t, 3.0, alloc[1], 1e-12)
}

func TestAccessors(t *testing.T) {
	topo := mustTopology(t,
		[]hydro.Area{area("A", 1000, 0), area("B", 1000, 0)},
		[]Connection{{ID: "O1", From: "A", To: "B", Spec: OpenVerbinding{Conductance: 1}}},
	)
	a, _ := topo.Index("A")
	b, _ := topo.Index("B")

	assert.Equal(t, []EdgeIndex{0}, topo.Outgoing(a))
	assert.Empty(t, topo.Incoming(a))
	assert.Equal(t, []EdgeIndex{0}, topo.Incoming(b))
	assert.Len(t, topo.Edges(), 1)
	assert.Equal(t, 2, topo.NumAreas())

	_, ok := topo.Area("Z")
	assert.False(t, ok)

	areas := topo.Areas()
	areas[0].CurrentLevel = 99
	got, _ := topo.Area("A")
	assert.Equal(t, 0.0, got.CurrentLevel)
}
