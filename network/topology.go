// Package network models a system of Peilgebieden connected by pump stations,
// weirs, check valves and open connections, and simulates it over time.
//
// A Topology is immutable after New and may be shared between concurrent runs.
// Every run owns its own copy of the area state.
package network

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/devskill-org/peilbeheer/hydro"
)

// AreaIndex addresses an area inside a Topology.
type AreaIndex int

// EdgeIndex addresses a connection inside a Topology.
type EdgeIndex int

// Direction selects pumps relative to an area.
type Direction int

const (
	// Out selects gemalen that pump water out of the area.
	Out Direction = iota
	// In selects gemalen that pump water into the area.
	In
)

func (d Direction) String() string {
	if d == In {
		return "in"
	}
	return "out"
}

// Edge is a validated connection with resolved endpoints.
type Edge struct {
	ID   string
	From AreaIndex
	To   AreaIndex
	Spec Spec
}

// Topology is a validated network of areas and connections.
type Topology struct {
	areas    []hydro.Area
	edges    []Edge
	byCode   map[string]AreaIndex
	byID     map[string]EdgeIndex
	incoming [][]EdgeIndex
	outgoing [][]EdgeIndex
}

// New validates areas and connections and builds a topology. The input
// slices are copied.
func New(areas []hydro.Area, connections []Connection) (*Topology, error) {
	t := &Topology{
		areas:    make([]hydro.Area, len(areas)),
		edges:    make([]Edge, 0, len(connections)),
		byCode:   make(map[string]AreaIndex, len(areas)),
		byID:     make(map[string]EdgeIndex, len(connections)),
		incoming: make([][]EdgeIndex, len(areas)),
		outgoing: make([][]EdgeIndex, len(areas)),
	}

	for i, a := range areas {
		if a.Code == "" {
			return nil, &hydro.InvalidParameterError{Field: fmt.Sprintf("areas[%d].code", i), Value: math.NaN(), Reason: "must not be empty"}
		}
		if _, dup := t.byCode[a.Code]; dup {
			return nil, &hydro.InvalidParameterError{Field: a.Code + ".code", Value: math.NaN(), Reason: "duplicate area code"}
		}
		if err := a.Validate(); err != nil {
			return nil, err
		}
		if !a.Rigid() && a.CurrentLevel < a.BedLevel {
			return nil, &hydro.InvalidParameterError{Field: a.Code + ".current_level", Value: a.CurrentLevel, Reason: fmt.Sprintf("below bed level %.3f", a.BedLevel)}
		}
		if !a.Rigid() {
			a.CurrentVolume = a.VolumeAtLevel(a.CurrentLevel)
		}
		a.CurrentLevel = a.LevelAtVolume(a.CurrentVolume)
		t.areas[i] = a
		t.byCode[a.Code] = AreaIndex(i)
	}

	for i, c := range connections {
		if c.ID == "" {
			return nil, &hydro.InvalidParameterError{Field: fmt.Sprintf("connections[%d].id", i), Value: math.NaN(), Reason: "must not be empty"}
		}
		if _, dup := t.byID[c.ID]; dup {
			return nil, &hydro.InvalidParameterError{Field: c.ID + ".id", Value: math.NaN(), Reason: "duplicate connection id"}
		}
		from, ok := t.byCode[c.From]
		if !ok {
			return nil, &hydro.InvalidParameterError{Field: c.ID + ".from", Value: math.NaN(), Reason: fmt.Sprintf("unknown area %q", c.From)}
		}
		to, ok := t.byCode[c.To]
		if !ok {
			return nil, &hydro.InvalidParameterError{Field: c.ID + ".to", Value: math.NaN(), Reason: fmt.Sprintf("unknown area %q", c.To)}
		}
		if from == to {
			return nil, &hydro.InvalidParameterError{Field: c.ID + ".to", Value: math.NaN(), Reason: "connection must join two different areas"}
		}
		switch c.Spec.(type) {
		case Gemaal, Overstort, Keerklep, OpenVerbinding:
		case nil:
			return nil, &hydro.InvalidParameterError{Field: c.ID + ".type", Value: math.NaN(), Reason: "missing connection type"}
		default:
			return nil, &hydro.InvalidParameterError{Field: c.ID + ".type", Value: math.NaN(), Reason: fmt.Sprintf("unsupported connection type %T", c.Spec)}
		}
		if err := c.Spec.validate(c.ID); err != nil {
			return nil, err
		}

		idx := EdgeIndex(len(t.edges))
		t.edges = append(t.edges, Edge{ID: c.ID, From: from, To: to, Spec: c.Spec})
		t.byID[c.ID] = idx
		t.outgoing[from] = append(t.outgoing[from], idx)
		t.incoming[to] = append(t.incoming[to], idx)
	}

	if err := t.checkKeerklepCycles(); err != nil {
		return nil, err
	}
	return t, nil
}

// checkKeerklepCycles rejects check valves that form a closed loop.
func (t *Topology) checkKeerklepCycles() error {
	g := simple.NewDirectedGraph()
	for i := range t.areas {
		g.AddNode(simple.Node(i))
	}
	for _, e := range t.edges {
		if e.Spec.Kind() != KindKeerklep {
			continue
		}
		g.SetEdge(g.NewEdge(simple.Node(e.From), simple.Node(e.To)))
	}

	_, err := topo.Sort(g)
	if err == nil {
		return nil
	}
	var unorderable topo.Unorderable
	if !errors.As(err, &unorderable) || len(unorderable) == 0 {
		return fmt.Errorf("keerklep ordering: %w", err)
	}

	component := unorderable[0]
	ids := make([]int, 0, len(component))
	for _, n := range component {
		ids = append(ids, int(n.ID()))
	}
	sort.Ints(ids)
	cycle := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		cycle = append(cycle, t.areas[id].Code)
	}
	cycle = append(cycle, cycle[0])
	return &hydro.CyclicConstraintError{Cycle: cycle}
}

// Areas returns a copy of the areas in their initial state.
func (t *Topology) Areas() []hydro.Area {
	out := make([]hydro.Area, len(t.areas))
	copy(out, t.areas)
	return out
}

// NumAreas returns the number of areas.
func (t *Topology) NumAreas() int {
	return len(t.areas)
}

// Area returns the initial state of the area with the given code.
func (t *Topology) Area(code string) (hydro.Area, bool) {
	i, ok := t.byCode[code]
	if !ok {
		return hydro.Area{}, false
	}
	return t.areas[i], true
}

// Index returns the index of the area with the given code.
func (t *Topology) Index(code string) (AreaIndex, bool) {
	i, ok := t.byCode[code]
	return i, ok
}

// Edges returns a copy of the connections.
func (t *Topology) Edges() []Edge {
	out := make([]Edge, len(t.edges))
	copy(out, t.edges)
	return out
}

// Edge returns the connection with the given id.
func (t *Topology) Edge(id string) (Edge, EdgeIndex, bool) {
	i, ok := t.byID[id]
	if !ok {
		return Edge{}, 0, false
	}
	return t.edges[i], i, true
}

// Incoming returns the connections whose To end is area a.
func (t *Topology) Incoming(a AreaIndex) []EdgeIndex {
	return append([]EdgeIndex(nil), t.incoming[a]...)
}

// Outgoing returns the connections whose From end is area a.
func (t *Topology) Outgoing(a AreaIndex) []EdgeIndex {
	return append([]EdgeIndex(nil), t.outgoing[a]...)
}

// ResolveEdgeFlow returns the flow through edge e in m³/s for the given area
// levels. Positive flow runs From -> To. command is the requested pump flow
// and is only used by gemalen; other connections are driven by head alone.
func (t *Topology) ResolveEdgeFlow(e EdgeIndex, levels []float64, command float64) (float64, error) {
	if int(e) < 0 || int(e) >= len(t.edges) {
		return 0, &hydro.InvalidParameterError{Field: "edge", Value: float64(e), Reason: "out of range"}
	}
	if len(levels) != len(t.areas) {
		return 0, &hydro.InvalidParameterError{Field: "levels", Value: float64(len(levels)), Reason: fmt.Sprintf("expected %d levels", len(t.areas))}
	}
	edge := t.edges[e]
	hFrom, hTo := levels[edge.From], levels[edge.To]
	if !hydro.IsFinite(hFrom) || !hydro.IsFinite(hTo) {
		return 0, &hydro.InvalidParameterError{Field: edge.ID + ".levels", Value: hFrom - hTo, Reason: "levels must be finite"}
	}

	switch s := edge.Spec.(type) {
	case Gemaal:
		if !hydro.IsFinite(command) {
			return 0, &hydro.InvalidParameterError{Field: edge.ID + ".command", Value: command, Reason: "must be finite"}
		}
		capacity := s.CapacityAt(hTo - hFrom)
		return math.Min(math.Max(command, 0), capacity), nil
	case Overstort:
		return s.Flow(hFrom), nil
	case Keerklep:
		return math.Max(0, s.Conductance*(hFrom-hTo)), nil
	case OpenVerbinding:
		return s.Conductance * (hFrom - hTo), nil
	default:
		return 0, fmt.Errorf("connection %s: unsupported type %T", edge.ID, s)
	}
}

// ControllableGemalen returns the controllable gemalen that pump out of
// (Out) or into (In) area a, in edge order.
func (t *Topology) ControllableGemalen(a AreaIndex, dir Direction) []EdgeIndex {
	candidates := t.outgoing[a]
	if dir == In {
		candidates = t.incoming[a]
	}
	var out []EdgeIndex
	for _, e := range candidates {
		if g, ok := t.edges[e].Spec.(Gemaal); ok && g.Controllable {
			out = append(out, e)
		}
	}
	return out
}

// ControllableCapacity returns the summed nominal capacity of the
// controllable gemalen of area a in direction dir.
func (t *Topology) ControllableCapacity(a AreaIndex, dir Direction) float64 {
	total := 0.0
	for _, e := range t.ControllableGemalen(a, dir) {
		total += t.edges[e].Spec.(Gemaal).Capacity
	}
	return total
}

// Allocate splits a total flow over the controllable gemalen of area a in
// direction dir, proportional to their nominal capacity. The total is
// clamped to [0, ControllableCapacity].
func (t *Topology) Allocate(a AreaIndex, dir Direction, total float64) map[EdgeIndex]float64 {
	gemalen := t.ControllableGemalen(a, dir)
	out := make(map[EdgeIndex]float64, len(gemalen))
	capacity := t.ControllableCapacity(a, dir)
	if capacity <= 0 {
		for _, e := range gemalen {
			out[e] = 0
		}
		return out
	}
	share := math.Min(math.Max(total, 0), capacity) / capacity
	for _, e := range gemalen {
		out[e] = share * t.edges[e].Spec.(Gemaal).Capacity
	}
	return out
}
