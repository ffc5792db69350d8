package network

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/devskill-org/peilbeheer/hydro"
	"github.com/devskill-org/peilbeheer/mpc"
	"github.com/devskill-org/peilbeheer/pid"
)

// Boundary holds the external inputs of one area, in m³/s per simulation
// step. A series shorter than the run repeats its last value; an empty series
// is zero.
type Boundary struct {
	Area          string
	Inflow        []float64
	Precipitation []float64
	Evaporation   []float64
}

// ControlLoop drives the controllable gemalen of one area in one direction
// with a PID controller on the area level.
type ControlLoop struct {
	Area      string
	Direction Direction
	Gains     pid.Gains
	// Setpoint overrides the seasonal target level of the area.
	Setpoint *float64
	// InitialOutput is the total flow (m³/s) commanded during the first step,
	// before the controller has seen a level.
	InitialOutput float64
}

// ScheduledGemaal makes a gemaal follow an hourly pump schedule.
type ScheduledGemaal struct {
	Edge     string
	Schedule *mpc.PumpSchedule
}

// Params configures one simulation run.
type Params struct {
	Start      time.Time
	Horizon    time.Duration
	Step       time.Duration
	Boundaries []Boundary
	Controls   []ControlLoop
	Schedules  []ScheduledGemaal
}

// Steps returns the number of whole steps in the horizon.
func (p Params) Steps() int {
	if p.Step <= 0 {
		return 0
	}
	return int(p.Horizon / p.Step)
}

type boundarySeries struct {
	inflow, precipitation, evaporation []float64
}

func seriesAt(s []float64, k int) float64 {
	if len(s) == 0 {
		return 0
	}
	if k >= len(s) {
		return s[len(s)-1]
	}
	return s[k]
}

type loop struct {
	area       AreaIndex
	dir        Direction
	setpoint   *float64
	controller *pid.Controller
}

type scheduled struct {
	edge     EdgeIndex
	capacity float64
	schedule *mpc.PumpSchedule
}

// run is the mutable state of a single simulation. It is never shared.
type run struct {
	topo       *Topology
	params     Params
	dt         float64
	areas      []hydro.Area
	boundaries []boundarySeries
	loops      []loop
	schedules  []scheduled
	claimed    []bool
	running    []bool // hysteresis state of uncontrolled gemalen
	commands   []float64
}

// Run simulates the topology over p.Horizon in steps of p.Step.
//
// Each step resolves the connection flows from the levels at the start of the
// step and the pump commands computed at the end of the previous step, so a
// controller reacts with a delay of one step. The topology is not modified;
// the run works on its own copy of the area state.
func Run(ctx context.Context, t *Topology, p Params) (*Result, error) {
	r, err := newRun(t, p)
	if err != nil {
		return nil, err
	}

	n := p.Steps()
	res := &Result{
		RunID:        uuid.New(),
		Start:        p.Start,
		StepDuration: p.Step,
		Areas:        make([]string, len(t.areas)),
		Edges:        make([]string, len(t.edges)),
		Initial:      r.snapshot(),
		Steps:        make([]Step, 0, n),
	}
	for i, a := range t.areas {
		res.Areas[i] = a.Code
	}
	for i, e := range t.edges {
		res.Edges[i] = e.ID
	}

	for k := 0; k < n; k++ {
		if err := ctx.Err(); err != nil {
			return nil, hydro.Cancelled(k, err)
		}
		step, err := r.advance(k)
		if err != nil {
			return nil, err
		}
		res.Steps = append(res.Steps, step)
	}
	return res, nil
}

// RunAll runs independent scenarios on the same topology in parallel. Results
// are returned in the order of params. The first failure cancels the others.
func RunAll(ctx context.Context, t *Topology, params []Params) ([]*Result, error) {
	results := make([]*Result, len(params))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range params {
		g.Go(func() error {
			res, err := Run(gctx, t, p)
			if err != nil {
				return fmt.Errorf("scenario %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func newRun(t *Topology, p Params) (*run, error) {
	if t == nil {
		return nil, &hydro.InvalidParameterError{Field: "topology", Value: math.NaN(), Reason: "must not be nil"}
	}
	if p.Step <= 0 {
		return nil, &hydro.InvalidParameterError{Field: "step", Value: p.Step.Seconds(), Reason: "must be > 0"}
	}
	if p.Steps() < 1 {
		return nil, &hydro.InvalidParameterError{Field: "horizon", Value: p.Horizon.Seconds(), Reason: "must cover at least one step"}
	}

	r := &run{
		topo:       t,
		params:     p,
		dt:         p.Step.Seconds(),
		areas:      t.Areas(),
		boundaries: make([]boundarySeries, len(t.areas)),
		claimed:    make([]bool, len(t.edges)),
		running:    make([]bool, len(t.edges)),
		commands:   make([]float64, len(t.edges)),
	}

	seen := make(map[AreaIndex]bool, len(p.Boundaries))
	for _, b := range p.Boundaries {
		a, ok := t.Index(b.Area)
		if !ok {
			return nil, &hydro.InvalidParameterError{Field: "boundaries.area", Value: math.NaN(), Reason: fmt.Sprintf("unknown area %q", b.Area)}
		}
		if seen[a] {
			return nil, &hydro.InvalidParameterError{Field: b.Area + ".boundary", Value: math.NaN(), Reason: "duplicate boundary"}
		}
		seen[a] = true
		for name, s := range map[string][]float64{"inflow": b.Inflow, "precipitation": b.Precipitation, "evaporation": b.Evaporation} {
			for i, v := range s {
				if !hydro.IsFinite(v) || v < 0 {
					return nil, &hydro.InvalidParameterError{Field: fmt.Sprintf("%s.%s[%d]", b.Area, name, i), Value: v, Reason: "must be finite and >= 0"}
				}
			}
		}
		r.boundaries[a] = boundarySeries{inflow: b.Inflow, precipitation: b.Precipitation, evaporation: b.Evaporation}
	}

	for _, s := range p.Schedules {
		edge, e, ok := t.Edge(s.Edge)
		if !ok {
			return nil, &hydro.InvalidParameterError{Field: "schedules.edge", Value: math.NaN(), Reason: fmt.Sprintf("unknown connection %q", s.Edge)}
		}
		g, ok := edge.Spec.(Gemaal)
		if !ok {
			return nil, &hydro.InvalidParameterError{Field: s.Edge + ".schedule", Value: math.NaN(), Reason: "only a gemaal can follow a schedule"}
		}
		if s.Schedule == nil {
			return nil, &hydro.InvalidParameterError{Field: s.Edge + ".schedule", Value: math.NaN(), Reason: "must not be nil"}
		}
		if r.claimed[e] {
			return nil, &hydro.InvalidParameterError{Field: s.Edge + ".schedule", Value: math.NaN(), Reason: "gemaal already has a controller"}
		}
		r.claimed[e] = true
		r.schedules = append(r.schedules, scheduled{edge: e, capacity: g.Capacity, schedule: s.Schedule})
	}

	for _, c := range p.Controls {
		a, ok := t.Index(c.Area)
		if !ok {
			return nil, &hydro.InvalidParameterError{Field: "controls.area", Value: math.NaN(), Reason: fmt.Sprintf("unknown area %q", c.Area)}
		}
		capacity := t.ControllableCapacity(a, c.Direction)
		if capacity <= 0 {
			return nil, &hydro.InvalidParameterError{Field: c.Area + ".control", Value: capacity, Reason: fmt.Sprintf("no controllable gemaal pumping %s", c.Direction)}
		}
		if c.Setpoint != nil && !hydro.IsFinite(*c.Setpoint) {
			return nil, &hydro.InvalidParameterError{Field: c.Area + ".setpoint", Value: *c.Setpoint, Reason: "must be finite"}
		}
		if !hydro.IsFinite(c.InitialOutput) || c.InitialOutput < 0 {
			return nil, &hydro.InvalidParameterError{Field: c.Area + ".initial_output", Value: c.InitialOutput, Reason: "must be finite and >= 0"}
		}
		for _, e := range t.ControllableGemalen(a, c.Direction) {
			if r.claimed[e] {
				return nil, &hydro.InvalidParameterError{Field: t.edges[e].ID + ".control", Value: math.NaN(), Reason: "gemaal already has a controller"}
			}
			r.claimed[e] = true
		}
		ctrl, err := pid.New(pid.Config{
			Gains:     c.Gains,
			OutputMin: 0,
			OutputMax: capacity,
			Reverse:   c.Direction == Out,
		})
		if err != nil {
			return nil, fmt.Errorf("control loop %s: %w", c.Area, err)
		}
		r.loops = append(r.loops, loop{area: a, dir: c.Direction, setpoint: c.Setpoint, controller: ctrl})
		for e, q := range t.Allocate(a, c.Direction, c.InitialOutput) {
			r.commands[e] = q
		}
	}

	for _, s := range r.schedules {
		r.commands[s.edge] = r.scheduleCommand(s, p.Start)
	}
	r.updateUncontrolled(true)
	return r, nil
}

func (r *run) levels() []float64 {
	levels := make([]float64, len(r.areas))
	for i, a := range r.areas {
		levels[i] = a.CurrentLevel
	}
	return levels
}

func (r *run) snapshot() Snapshot {
	s := Snapshot{Levels: make([]float64, len(r.areas)), Volumes: make([]float64, len(r.areas))}
	for i, a := range r.areas {
		s.Levels[i] = a.CurrentLevel
		s.Volumes[i] = a.CurrentVolume
	}
	return s
}

// advance integrates step k and computes the commands for step k+1.
func (r *run) advance(k int) (Step, error) {
	t := r.topo
	levels := r.levels()

	flows := make([]float64, len(t.edges))
	for i := range t.edges {
		q, err := t.ResolveEdgeFlow(EdgeIndex(i), levels, r.commands[i])
		if err != nil {
			return Step{}, err
		}
		if !hydro.IsFinite(q) {
			return Step{}, &hydro.SimulationDivergedError{Step: k, Edge: t.edges[i].ID}
		}
		flows[i] = r.limit(EdgeIndex(i), q, levels)
	}

	n := len(r.areas)
	inflow := make([]float64, n)
	precipitation := make([]float64, n)
	evaporation := make([]float64, n)
	for a := range r.areas {
		b := r.boundaries[a]
		inflow[a] = seriesAt(b.inflow, k)
		precipitation[a] = seriesAt(b.precipitation, k)
		evaporation[a] = seriesAt(b.evaporation, k)
	}
	r.preventOverdraft(flows, inflow, precipitation, evaporation)

	edgeIn := make([]float64, n)
	edgeOut := make([]float64, n)
	for i, e := range t.edges {
		q := flows[i]
		if q >= 0 {
			edgeOut[e.From] += q
			edgeIn[e.To] += q
		} else {
			edgeOut[e.To] -= q
			edgeIn[e.From] -= q
		}
	}

	external := 0.0
	for a := range r.areas {
		f := hydro.Flows{
			Inflow:        edgeIn[a] + inflow[a],
			Outflow:       edgeOut[a],
			Precipitation: precipitation[a],
			Evaporation:   evaporation[a],
		}
		bal, err := hydro.Step(r.areas[a], f, r.dt)
		if err != nil {
			return Step{}, err
		}
		if !hydro.IsFinite(bal.Volume) || !hydro.IsFinite(bal.Level) {
			return Step{}, &hydro.SimulationDivergedError{Step: k, Area: r.areas[a].Code}
		}
		r.areas[a].Apply(bal)
		external += (inflow[a] + precipitation[a] - evaporation[a]) * r.dt
	}

	step := Step{
		Index:    k,
		Time:     r.params.Start.Add(time.Duration(k+1) * r.params.Step),
		Snapshot: r.snapshot(),
		Flows:    flows,
		Commands: append([]float64(nil), r.commands...),
		External: external,
	}
	saturation, err := r.control(step.Time)
	if err != nil {
		return Step{}, err
	}
	step.Saturation = saturation
	return step, nil
}

// limit keeps head-driven connections from overshooting within one step: an
// open connection or check valve never moves more than the volume that
// equalises both levels, and a weir never drains below its crest.
func (r *run) limit(e EdgeIndex, q float64, levels []float64) float64 {
	edge := r.topo.edges[e]
	from, to := r.areas[edge.From], r.areas[edge.To]
	switch s := edge.Spec.(type) {
	case OpenVerbinding, Keerklep:
		resistance := 0.0
		if !from.Rigid() {
			resistance += 1 / from.SurfaceArea
		}
		if !to.Rigid() {
			resistance += 1 / to.SurfaceArea
		}
		if resistance == 0 {
			return q
		}
		eq := math.Abs(levels[edge.From]-levels[edge.To]) / (resistance * r.dt)
		return math.Copysign(math.Min(math.Abs(q), eq), q)
	case Overstort:
		if from.Rigid() {
			return q
		}
		above := math.Max(0, levels[edge.From]-s.CrestLevel) * from.SurfaceArea / r.dt
		return math.Min(q, above)
	default:
		return q
	}
}

// preventOverdraft scales down the outgoing flows of every area that would
// otherwise be drawn below empty. Scaling an edge reduces the inflow of its
// other end, so the pass repeats until nothing changes. The last pass ignores
// connection inflows, which always settles.
func (r *run) preventOverdraft(flows, inflow, precipitation, evaporation []float64) {
	t := r.topo
	n := len(r.areas)
	for pass := 0; ; pass++ {
		conservative := pass > n
		changed := false
		for a := 0; a < n; a++ {
			in := inflow[a] + precipitation[a]
			out := evaporation[a]
			for _, e := range t.outgoing[a] {
				if flows[e] > 0 {
					out += flows[e]
				} else if !conservative {
					in -= flows[e]
				}
			}
			for _, e := range t.incoming[a] {
				if flows[e] < 0 {
					out -= flows[e]
				} else if !conservative {
					in += flows[e]
				}
			}
			available := r.areas[a].CurrentVolume + in*r.dt
			demand := out * r.dt
			if demand <= available || demand == 0 {
				continue
			}
			factor := math.Max(0, available) / demand
			evaporation[a] *= factor
			for _, e := range t.outgoing[a] {
				if flows[e] > 0 {
					flows[e] *= factor
				}
			}
			for _, e := range t.incoming[a] {
				if flows[e] < 0 {
					flows[e] *= factor
				}
			}
			changed = true
		}
		if !changed || conservative {
			return
		}
	}
}

// control computes the pump commands for the step starting at now and
// returns the clamp state of every control loop output.
func (r *run) control(now time.Time) ([]pid.Saturation, error) {
	var saturation []pid.Saturation
	if len(r.loops) > 0 {
		saturation = make([]pid.Saturation, len(r.loops))
	}
	for i, l := range r.loops {
		area := r.areas[l.area]
		setpoint := area.TargetLevel(now)
		if l.setpoint != nil {
			setpoint = *l.setpoint
		}
		out, err := l.controller.Step(setpoint, area.CurrentLevel, r.dt)
		if err != nil {
			return nil, fmt.Errorf("control loop %s: %w", area.Code, err)
		}
		saturation[i] = out.Saturation
		for e, q := range r.topo.Allocate(l.area, l.dir, out.Value) {
			r.commands[e] = q
		}
	}
	for _, s := range r.schedules {
		r.commands[s.edge] = r.scheduleCommand(s, now)
	}
	r.updateUncontrolled(false)
	return saturation, nil
}

func (r *run) scheduleCommand(s scheduled, t time.Time) float64 {
	entry, ok := s.schedule.At(t)
	if !ok {
		return 0
	}
	return entry.Fraction * s.capacity
}

// updateUncontrolled runs the switch-level state machine of every gemaal
// without a controller. A gemaal without switch levels runs at nominal
// capacity.
func (r *run) updateUncontrolled(initial bool) {
	for i, e := range r.topo.edges {
		g, ok := e.Spec.(Gemaal)
		if !ok || r.claimed[i] {
			continue
		}
		if g.SwitchOnLevel == nil {
			r.commands[i] = g.Capacity
			continue
		}
		level := r.areas[e.From].CurrentLevel
		switch {
		case level >= *g.SwitchOnLevel:
			r.running[i] = true
		case level <= *g.SwitchOffLevel:
			r.running[i] = false
		case initial:
			r.running[i] = false
		}
		if r.running[i] {
			r.commands[i] = g.Capacity
		} else {
			r.commands[i] = 0
		}
	}
}
