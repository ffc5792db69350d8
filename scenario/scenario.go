// Package scenario loads simulation scenarios from JSON: the areas, the
// connections between them and the run parameters.
package scenario

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/devskill-org/peilbeheer/hydro"
	"github.com/devskill-org/peilbeheer/network"
	"github.com/devskill-org/peilbeheer/pid"
)

// Scenario is a loaded scenario, ready for network.New and network.Run.
type Scenario struct {
	Name        string
	Areas       []hydro.Area
	Connections []network.Connection
	Params      network.Params
	// UseForecast asks the caller to add weather-driven boundaries to Params.
	UseForecast bool
}

// Topology builds the network of the scenario.
func (s *Scenario) Topology() (*network.Topology, error) {
	return network.New(s.Areas, s.Connections)
}

// JSON shapes are unexported so the file format can evolve independently.
type scenarioJSON struct {
	Name        string           `json:"name"`
	Start       string           `json:"start"`
	Horizon     string           `json:"horizon"`
	Step        string           `json:"step"`
	UseForecast bool             `json:"use_forecast"`
	Areas       []areaJSON       `json:"areas"`
	Connections []connectionJSON `json:"connections"`
	Boundaries  []boundaryJSON   `json:"boundaries"`
	Controls    []controlJSON    `json:"controls"`
}

type areaJSON struct {
	Code              string   `json:"code"`
	TargetLevelSummer float64  `json:"target_level_summer"`
	TargetLevelWinter float64  `json:"target_level_winter"`
	FixedLevel        *float64 `json:"fixed_level"`
	SurfaceArea       float64  `json:"surface_area"`
	BedLevel          float64  `json:"bed_level"`
	GroundLevel       *float64 `json:"ground_level"`
	CurrentLevel      float64  `json:"current_level"`
	CurrentVolume     float64  `json:"current_volume"`
}

type curvePointJSON struct {
	Head     float64 `json:"head"`
	Capacity float64 `json:"capacity"`
}

type connectionJSON struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"` // gemaal | overstort | keerklep | open_verbinding

	// gemaal
	Capacity       float64          `json:"capacity"`
	CapacityCurve  []curvePointJSON `json:"capacity_curve"`
	Controllable   bool             `json:"controllable"`
	SwitchOnLevel  *float64         `json:"switch_on_level"`
	SwitchOffLevel *float64         `json:"switch_off_level"`
	Power          float64          `json:"power"`

	// overstort
	CrestLevel           float64 `json:"crest_level"`
	CrestWidth           float64 `json:"crest_width"`
	DischargeCoefficient float64 `json:"discharge_coefficient"`

	// keerklep, open_verbinding
	Conductance float64 `json:"conductance"`
}

type boundaryJSON struct {
	Area          string    `json:"area"`
	Inflow        []float64 `json:"inflow"`
	Precipitation []float64 `json:"precipitation"`
	Evaporation   []float64 `json:"evaporation"`
}

type controlJSON struct {
	Area          string   `json:"area"`
	Direction     string   `json:"direction"` // out | in
	Kp            float64  `json:"kp"`
	Ki            float64  `json:"ki"`
	Kd            float64  `json:"kd"`
	Setpoint      *float64 `json:"setpoint"`
	InitialOutput float64  `json:"initial_output"`
}

// LoadFile reads a scenario from a JSON file.
func LoadFile(filename string) (*Scenario, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario file: %w", err)
	}
	defer file.Close()

	return Load(file)
}

// Load reads a scenario from r. It checks the file structure; the hydraulic
// invariants are left to network.New and network.Run.
func Load(r io.Reader) (*Scenario, error) {
	var payload scenarioJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode scenario JSON: %w", err)
	}

	s := &Scenario{Name: payload.Name, UseForecast: payload.UseForecast}

	var err error
	if s.Params.Start, err = parseStart(payload.Start); err != nil {
		return nil, err
	}
	if s.Params.Horizon, err = parseDuration("horizon", payload.Horizon); err != nil {
		return nil, err
	}
	if s.Params.Step, err = parseDuration("step", payload.Step); err != nil {
		return nil, err
	}

	for _, a := range payload.Areas {
		if a.Code == "" {
			return nil, fmt.Errorf("area with empty code")
		}
		s.Areas = append(s.Areas, hydro.Area{
			Code:              a.Code,
			TargetLevelSummer: a.TargetLevelSummer,
			TargetLevelWinter: a.TargetLevelWinter,
			FixedLevel:        a.FixedLevel,
			SurfaceArea:       a.SurfaceArea,
			BedLevel:          a.BedLevel,
			GroundLevel:       a.GroundLevel,
			CurrentLevel:      a.CurrentLevel,
			CurrentVolume:     a.CurrentVolume,
		})
	}

	for _, c := range payload.Connections {
		if c.ID == "" {
			return nil, fmt.Errorf("connection with empty id")
		}
		spec, err := c.spec()
		if err != nil {
			return nil, fmt.Errorf("connection %s: %w", c.ID, err)
		}
		s.Connections = append(s.Connections, network.Connection{ID: c.ID, From: c.From, To: c.To, Spec: spec})
	}

	for _, b := range payload.Boundaries {
		s.Params.Boundaries = append(s.Params.Boundaries, network.Boundary{
			Area:          b.Area,
			Inflow:        b.Inflow,
			Precipitation: b.Precipitation,
			Evaporation:   b.Evaporation,
		})
	}

	for _, c := range payload.Controls {
		dir, err := directionFromString(c.Direction)
		if err != nil {
			return nil, fmt.Errorf("control %s: %w", c.Area, err)
		}
		s.Params.Controls = append(s.Params.Controls, network.ControlLoop{
			Area:          c.Area,
			Direction:     dir,
			Gains:         pid.Gains{Kp: c.Kp, Ki: c.Ki, Kd: c.Kd},
			Setpoint:      c.Setpoint,
			InitialOutput: c.InitialOutput,
		})
	}

	return s, nil
}

func (c connectionJSON) spec() (network.Spec, error) {
	switch c.Type {
	case "gemaal":
		curve := make([]network.CurvePoint, len(c.CapacityCurve))
		for i, p := range c.CapacityCurve {
			curve[i] = network.CurvePoint{Head: p.Head, Capacity: p.Capacity}
		}
		if len(curve) == 0 {
			curve = nil
		}
		return network.Gemaal{
			Capacity:       c.Capacity,
			CapacityCurve:  curve,
			Controllable:   c.Controllable,
			SwitchOnLevel:  c.SwitchOnLevel,
			SwitchOffLevel: c.SwitchOffLevel,
			Power:          c.Power,
		}, nil
	case "overstort":
		return network.Overstort{
			CrestLevel:           c.CrestLevel,
			CrestWidth:           c.CrestWidth,
			DischargeCoefficient: c.DischargeCoefficient,
		}, nil
	case "keerklep":
		return network.Keerklep{Conductance: c.Conductance}, nil
	case "open_verbinding":
		return network.OpenVerbinding{Conductance: c.Conductance}, nil
	case "":
		return nil, fmt.Errorf("missing type")
	default:
		return nil, fmt.Errorf("unknown type %q", c.Type)
	}
}

func directionFromString(s string) (network.Direction, error) {
	switch s {
	case "out", "":
		return network.Out, nil
	case "in":
		return network.In, nil
	default:
		return 0, fmt.Errorf("invalid direction %q, must be one of: out, in", s)
	}
}

func parseStart(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC().Truncate(time.Hour), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start: %w", err)
	}
	return t, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("%s cannot be empty", field)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	return d, nil
}
