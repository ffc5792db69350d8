// Package mpc computes cost-optimal hourly pump schedules against day-ahead
// energy prices.
package mpc

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/devskill-org/peilbeheer/hydro"
)

const (
	// DefaultBuckets sets the finest pump fraction step: 1/DefaultBuckets.
	DefaultBuckets = 200
	hourSeconds    = 3600.0
	levelTolerance = 1e-9
	gridTolerance  = 1e-6
)

// DefaultActions are the pump fractions tried in every hour.
var DefaultActions = []float64{0, 0.25, 0.5, 0.75, 1}

// Direction tells whether the pump lowers or raises the area level.
type Direction int

const (
	Drain Direction = iota
	Fill
)

func (d Direction) String() string {
	if d == Fill {
		return "fill"
	}
	return "drain"
}

// EnergyPricePoint is the day-ahead price of one hour. Prices may be
// negative.
type EnergyPricePoint struct {
	HourStart      time.Time
	PriceEURPerMWh float64
}

// SystemConfig holds the area and pump being scheduled
type SystemConfig struct {
	Area         hydro.Area // initial level is Area.CurrentLevel
	PumpCapacity float64    // m³/s at full speed
	PumpPower    float64    // kW at full speed
	Direction    Direction
	// NetInflow is the external net inflow per hour in m³/s (rain, seepage,
	// evaporation as a negative value). The last value is held; empty is 0.
	NetInflow   []float64
	MinLevel    float64  // m
	MaxLevel    float64  // m
	TerminalMin *float64 // m, MinLevel when nil
	TerminalMax *float64 // m, MaxLevel when nil
	Buckets     int      // actions must be multiples of 1/Buckets, DefaultBuckets when 0
	Actions     []float64
}

// Controller optimises pump schedules for one area
type Controller struct {
	cfg         SystemConfig
	quantum     float64 // cumulative pump fraction per DP state
	terminalMin float64
	terminalMax float64
}

// NewController validates the configuration and applies defaults.
func NewController(cfg SystemConfig) (*Controller, error) {
	if err := cfg.Area.Validate(); err != nil {
		return nil, err
	}
	if cfg.Area.Rigid() {
		return nil, &hydro.InvalidParameterError{Field: cfg.Area.Code + ".fixed_level", Value: *cfg.Area.FixedLevel, Reason: "cannot schedule a pump on a rigid area"}
	}
	if cfg.Area.CurrentLevel < cfg.Area.BedLevel {
		return nil, &hydro.InvalidParameterError{Field: cfg.Area.Code + ".current_level", Value: cfg.Area.CurrentLevel, Reason: fmt.Sprintf("below bed level %.3f", cfg.Area.BedLevel)}
	}
	if !hydro.IsFinite(cfg.PumpCapacity) || cfg.PumpCapacity <= 0 {
		return nil, &hydro.InvalidParameterError{Field: "pump_capacity", Value: cfg.PumpCapacity, Reason: "must be finite and > 0"}
	}
	if !hydro.IsFinite(cfg.PumpPower) || cfg.PumpPower < 0 {
		return nil, &hydro.InvalidParameterError{Field: "pump_power", Value: cfg.PumpPower, Reason: "must be finite and >= 0"}
	}
	if !hydro.IsFinite(cfg.MinLevel) || !hydro.IsFinite(cfg.MaxLevel) || cfg.MinLevel >= cfg.MaxLevel {
		return nil, &hydro.InvalidParameterError{Field: "min_level", Value: cfg.MinLevel, Reason: "levels must be finite and min_level < max_level"}
	}
	for i, q := range cfg.NetInflow {
		if !hydro.IsFinite(q) {
			return nil, &hydro.InvalidParameterError{Field: fmt.Sprintf("net_inflow[%d]", i), Value: q, Reason: "must be finite"}
		}
	}

	c := &Controller{cfg: cfg, terminalMin: cfg.MinLevel, terminalMax: cfg.MaxLevel}
	if cfg.TerminalMin != nil {
		c.terminalMin = *cfg.TerminalMin
	}
	if cfg.TerminalMax != nil {
		c.terminalMax = *cfg.TerminalMax
	}
	if !hydro.IsFinite(c.terminalMin) || !hydro.IsFinite(c.terminalMax) || c.terminalMin > c.terminalMax {
		return nil, &hydro.InvalidParameterError{Field: "terminal_min", Value: c.terminalMin, Reason: "terminal band must be finite and ordered"}
	}

	if c.cfg.Buckets == 0 {
		c.cfg.Buckets = DefaultBuckets
	}
	if c.cfg.Buckets < 1 {
		return nil, &hydro.InvalidParameterError{Field: "buckets", Value: float64(cfg.Buckets), Reason: "must be >= 1"}
	}
	if len(c.cfg.Actions) == 0 {
		c.cfg.Actions = DefaultActions
	}
	c.cfg.Actions = append([]float64(nil), c.cfg.Actions...)
	for i, a := range c.cfg.Actions {
		if !hydro.IsFinite(a) || a < 0 || a > 1 {
			return nil, &hydro.InvalidParameterError{Field: fmt.Sprintf("actions[%d]", i), Value: a, Reason: "must be within [0, 1]"}
		}
	}
	c.quantum = actionStep(c.cfg.Actions)
	if c.quantum < 1/float64(c.cfg.Buckets)-gridTolerance {
		return nil, &hydro.InvalidParameterError{
			Field:  "actions",
			Value:  c.quantum,
			Reason: fmt.Sprintf("must be multiples of a step of at least 1/buckets (1/%d)", c.cfg.Buckets),
		}
	}
	c.cfg.NetInflow = append([]float64(nil), cfg.NetInflow...)
	return c, nil
}

// Config returns the configuration with defaults applied.
func (c *Controller) Config() SystemConfig {
	return c.cfg
}

// Optimize finds the pump schedule with the lowest energy cost that keeps
// the level within bounds every hour and ends in the terminal band.
//
// The DP state of an hour is the cumulative pump fraction so far, counted on
// the grid of the configured actions. Paths with the same cumulative fraction
// arrive at the same level, so every state carries its exact level and all
// bounds are checked on that level. Ties prefer the action with less energy and then the lower
// predecessor state, so identical inputs always give the identical schedule.
func (c *Controller) Optimize(ctx context.Context, prices []EnergyPricePoint) (*PumpSchedule, error) {
	if len(prices) == 0 {
		return nil, &hydro.InvalidParameterError{Field: "prices", Value: 0, Reason: "at least one hour is required"}
	}
	for i, p := range prices {
		if !hydro.IsFinite(p.PriceEURPerMWh) {
			return nil, &hydro.InvalidParameterError{Field: fmt.Sprintf("prices[%d]", i), Value: p.PriceEURPerMWh, Reason: "must be finite"}
		}
		if i > 0 && !p.HourStart.After(prices[i-1].HourStart) {
			return nil, &hydro.InvalidParameterError{Field: fmt.Sprintf("prices[%d].hour_start", i), Value: float64(p.HourStart.Unix()), Reason: "hours must be strictly increasing"}
		}
	}

	initial := c.cfg.Area.CurrentLevel
	if initial < c.cfg.MinLevel-levelTolerance || initial > c.cfg.MaxLevel+levelTolerance {
		return nil, &hydro.InfeasibleScheduleError{Constraint: "level bounds", Hour: 0}
	}

	n := len(prices)
	states := int(math.Round(float64(n)*slices.Max(c.cfg.Actions)/c.quantum)) + 1

	dp := make([][]dpState, n+1)
	for i := range dp {
		dp[i] = make([]dpState, states)
		for j := range dp[i] {
			dp[i][j].cost = math.Inf(1)
		}
	}
	dp[0][0] = dpState{level: initial}

	// Forward pass
	for t, slot := range prices {
		if err := ctx.Err(); err != nil {
			return nil, hydro.Cancelled(t, err)
		}
		reachable := false
		for k := 0; k < states; k++ {
			from := dp[t][k]
			if math.IsInf(from.cost, 1) {
				continue
			}
			for _, a := range c.cfg.Actions {
				next, ok := c.project(from.level, a, t)
				if !ok {
					continue
				}
				sum := from.sum + a
				nk := min(states-1, int(math.Round(sum/c.quantum)))
				energy := c.energy(a)
				cost := from.cost + slot.PriceEURPerMWh*energy

				cur := &dp[t+1][nk]
				if !cur.improvedBy(cost, energy, k) {
					continue
				}
				*cur = dpState{
					cost:    cost,
					energy:  from.energy + energy,
					sum:     sum,
					level:   next,
					action:  a,
					hourMWh: energy,
					prev:    k,
				}
				reachable = true
			}
		}
		if !reachable {
			return nil, &hydro.InfeasibleScheduleError{Constraint: "level bounds", Hour: t}
		}
	}

	// Pick the terminal state
	best := -1
	for k := 0; k < states; k++ {
		s := dp[n][k]
		if math.IsInf(s.cost, 1) {
			continue
		}
		if s.level < c.terminalMin-levelTolerance || s.level > c.terminalMax+levelTolerance {
			continue
		}
		if best < 0 || s.cost < dp[n][best].cost || (s.cost == dp[n][best].cost && s.energy < dp[n][best].energy) {
			best = k
		}
	}
	if best < 0 {
		return nil, &hydro.InfeasibleScheduleError{
			Constraint: fmt.Sprintf("terminal band [%.3f, %.3f]", c.terminalMin, c.terminalMax),
			Hour:       n - 1,
		}
	}

	// Trace back the path
	entries := make([]ScheduleEntry, n)
	idx := best
	for t := n - 1; t >= 0; t-- {
		s := dp[t+1][idx]
		entries[t] = ScheduleEntry{
			HourStart:      prices[t].HourStart,
			Fraction:       s.action,
			Running:        s.action > 0,
			Level:          s.level,
			PriceEURPerMWh: prices[t].PriceEURPerMWh,
			EnergyMWh:      s.hourMWh,
			ExpectedCost:   prices[t].PriceEURPerMWh * s.hourMWh,
		}
		idx = s.prev
	}
	return newSchedule(entries), nil
}

// dpState is the cheapest known way to reach one state at the end of an hour.
type dpState struct {
	cost    float64
	energy  float64 // cumulative MWh
	sum     float64 // cumulative pump fraction
	level   float64 // m, exact level of this path
	action  float64
	hourMWh float64
	prev    int
}

// improvedBy reports whether an arrival with the given cost, hourly energy and
// predecessor replaces s.
func (s *dpState) improvedBy(cost, hourMWh float64, prev int) bool {
	switch {
	case cost != s.cost:
		return cost < s.cost
	case hourMWh != s.hourMWh:
		return hourMWh < s.hourMWh
	default:
		return prev < s.prev
	}
}

// actionStep returns the largest step that all actions are multiples of, or 1
// when no action pumps.
func actionStep(actions []float64) float64 {
	step := 0.0
	for _, a := range actions {
		if a <= 0 {
			continue
		}
		x, y := a, step
		for y > gridTolerance {
			r := math.Mod(x, y)
			if y-r < gridTolerance {
				r = 0
			}
			x, y = y, r
		}
		step = x
	}
	if step == 0 {
		return 1
	}
	return step
}

// project returns the level after one hour of pumping at fraction a from the
// given level. ok is false when the level leaves the bounds or the pump would
// draw more than is stored.
func (c *Controller) project(level, a float64, hour int) (float64, bool) {
	area := c.cfg.Area
	area.CurrentLevel = level
	area.CurrentVolume = area.VolumeAtLevel(level)

	var f hydro.Flows
	if q := c.netInflow(hour); q >= 0 {
		f.Inflow = q
	} else {
		f.Evaporation = -q
	}
	pumped := a * c.cfg.PumpCapacity
	if c.cfg.Direction == Fill {
		f.Inflow += pumped
	} else {
		f.Outflow = pumped
	}

	b, err := hydro.Step(area, f, hourSeconds)
	if err != nil || b.Clamped {
		return 0, false
	}
	if b.Level < c.cfg.MinLevel-levelTolerance || b.Level > c.cfg.MaxLevel+levelTolerance {
		return 0, false
	}
	return b.Level, true
}

func (c *Controller) netInflow(hour int) float64 {
	q := c.cfg.NetInflow
	if len(q) == 0 {
		return 0
	}
	if hour >= len(q) {
		return q[len(q)-1]
	}
	return q[hour]
}

// energy returns the MWh used in one hour at fraction a.
func (c *Controller) energy(a float64) float64 {
	return c.cfg.PumpPower / 1000 * a
}
