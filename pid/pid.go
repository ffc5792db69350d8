// Package pid implements the closed-loop level controller that turns a level
// error into a pump capacity setpoint.
package pid

import (
	"math"

	"github.com/devskill-org/peilbeheer/hydro"
)

// Gains are the proportional, integral and derivative coefficients.
type Gains struct {
	Kp float64
	Ki float64
	Kd float64
}

// Config describes one controller.
type Config struct {
	Gains     Gains
	OutputMin float64
	OutputMax float64
	// Reverse flips the sign of the error. Set it for pumps that lower the
	// measured level, so that a level above the setpoint raises the output.
	Reverse bool
}

// Saturation tells whether an output was clamped and at which bound.
type Saturation int

const (
	NotSaturated Saturation = iota
	SaturatedLow
	SaturatedHigh
)

func (s Saturation) String() string {
	switch s {
	case SaturatedLow:
		return "low"
	case SaturatedHigh:
		return "high"
	default:
		return "none"
	}
}

// Output is the result of one controller step. Value is always within
// [OutputMin, OutputMax].
type Output struct {
	Value      float64
	Saturation Saturation
}

// State is the mutable part of a controller.
type State struct {
	Integral  float64
	PrevError float64
	primed    bool
}

// Controller is a PID controller with conditional-integration anti-windup.
// A Controller is owned by a single run and is not safe for concurrent use.
type Controller struct {
	cfg         Config
	state       State
	saturations int
}

// New validates cfg and returns a controller in its reset state.
func New(cfg Config) (*Controller, error) {
	for _, g := range []struct {
		name  string
		value float64
	}{
		{"kp", cfg.Gains.Kp},
		{"ki", cfg.Gains.Ki},
		{"kd", cfg.Gains.Kd},
		{"output_min", cfg.OutputMin},
		{"output_max", cfg.OutputMax},
	} {
		if !hydro.IsFinite(g.value) {
			return nil, &hydro.InvalidParameterError{Field: g.name, Value: g.value, Reason: "must be finite"}
		}
	}
	if cfg.OutputMin > cfg.OutputMax {
		return nil, &hydro.InvalidParameterError{Field: "output_min", Value: cfg.OutputMin, Reason: "must not exceed output_max"}
	}
	return &Controller{cfg: cfg}, nil
}

// Config returns the controller configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// State returns a copy of the controller state.
func (c *Controller) State() State {
	return c.state
}

// Saturations returns the number of clamped outputs since the last reset.
func (c *Controller) Saturations() int {
	return c.saturations
}

// Reset clears the integral, the previous error and the saturation counter.
func (c *Controller) Reset() {
	c.state = State{}
	c.saturations = 0
}

// Step computes the next output. dt is in seconds and must be > 0; very small
// values are accepted and make the derivative term large.
//
// The derivative term is zero on the first step after a reset since there is
// no previous error yet.
func (c *Controller) Step(setpoint, measured, dt float64) (Output, error) {
	if !hydro.IsFinite(dt) || dt <= 0 {
		return Output{}, &hydro.InvalidParameterError{Field: "dt", Value: dt, Reason: "must be finite and > 0"}
	}
	if !hydro.IsFinite(setpoint) {
		return Output{}, &hydro.InvalidParameterError{Field: "setpoint", Value: setpoint, Reason: "must be finite"}
	}
	if !hydro.IsFinite(measured) {
		return Output{}, &hydro.InvalidParameterError{Field: "measured", Value: measured, Reason: "must be finite"}
	}

	g := c.cfg.Gains
	e := setpoint - measured
	if c.cfg.Reverse {
		e = -e
	}

	derivative := 0.0
	if c.state.primed {
		derivative = (e - c.state.PrevError) / dt
	}

	// Freeze the integral when the output already sits at a bound and this
	// error would push it further out.
	pre := g.Kp*e + g.Ki*c.state.Integral + g.Kd*derivative
	push := g.Ki * e
	windup := (pre >= c.cfg.OutputMax && push > 0) || (pre <= c.cfg.OutputMin && push < 0)
	integral := c.state.Integral
	if !windup {
		integral += e * dt
	}

	raw := g.Kp*e + g.Ki*integral + g.Kd*derivative
	if math.IsNaN(raw) {
		return Output{}, &hydro.InvalidParameterError{Field: "output", Value: raw, Reason: "controller produced NaN"}
	}
	c.state.Integral = integral
	c.state.PrevError = e
	c.state.primed = true

	out := Output{Value: raw}
	switch {
	case raw > c.cfg.OutputMax:
		out = Output{Value: c.cfg.OutputMax, Saturation: SaturatedHigh}
	case raw < c.cfg.OutputMin:
		out = Output{Value: c.cfg.OutputMin, Saturation: SaturatedLow}
	}
	if out.Saturation != NotSaturated {
		c.saturations++
	}
	return out, nil
}
