package network

import (
	"fmt"
	"math"
	"sort"

	"github.com/devskill-org/peilbeheer/hydro"
)

// Kind identifies the variant of a connection.
type Kind int

const (
	KindGemaal Kind = iota
	KindOverstort
	KindKeerklep
	KindOpenVerbinding
)

func (k Kind) String() string {
	switch k {
	case KindGemaal:
		return "gemaal"
	case KindOverstort:
		return "overstort"
	case KindKeerklep:
		return "keerklep"
	case KindOpenVerbinding:
		return "open_verbinding"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Spec holds the type-specific parameters of a connection. It is a closed
// set of values: Gemaal, Overstort, Keerklep and OpenVerbinding. New rejects
// anything else, pointers to these types included.
type Spec interface {
	Kind() Kind
	validate(id string) error
}

// CurvePoint is one point of a pump capacity curve: the capacity the pump
// delivers against a given lift head (to-level minus from-level).
type CurvePoint struct {
	Head     float64 // m
	Capacity float64 // m³/s
}

// Gemaal is a pump station moving water from the From area to the To area.
type Gemaal struct {
	Capacity      float64      // nominal capacity, m³/s
	CapacityCurve []CurvePoint // optional, sorted by ascending head
	// Controllable gemalen take their command from a control loop or a
	// schedule. The others run the switch levels below, or at nominal
	// capacity when no switch levels are given.
	Controllable   bool
	SwitchOnLevel  *float64 // from-area level at which a fixed pump starts
	SwitchOffLevel *float64 // from-area level at which a fixed pump stops
	Power          float64  // kW at nominal capacity
}

// Overstort is a weir that spills from the From area once its level exceeds
// the crest.
type Overstort struct {
	CrestLevel           float64 // m
	CrestWidth           float64 // m
	DischargeCoefficient float64 // m^0.5/s, 1.7 when zero
}

// Keerklep is a check valve: it conducts like an open connection but only
// in the From -> To direction.
type Keerklep struct {
	Conductance float64 // m²/s
}

// OpenVerbinding is an open, bidirectional connection. Positive flow runs
// From -> To.
type OpenVerbinding struct {
	Conductance float64 // m²/s
}

// DefaultDischargeCoefficient is the broad-crested weir coefficient used when
// an Overstort does not set one.
const DefaultDischargeCoefficient = 1.7

func (Gemaal) Kind() Kind         { return KindGemaal }
func (Overstort) Kind() Kind      { return KindOverstort }
func (Keerklep) Kind() Kind       { return KindKeerklep }
func (OpenVerbinding) Kind() Kind { return KindOpenVerbinding }

func nonNegative(id, field string, v float64) error {
	if !hydro.IsFinite(v) || v < 0 {
		return &hydro.InvalidParameterError{Field: id + "." + field, Value: v, Reason: "must be finite and >= 0"}
	}
	return nil
}

func (g Gemaal) validate(id string) error {
	if err := nonNegative(id, "capacity", g.Capacity); err != nil {
		return err
	}
	if err := nonNegative(id, "power", g.Power); err != nil {
		return err
	}
	for i, p := range g.CapacityCurve {
		if !hydro.IsFinite(p.Head) {
			return &hydro.InvalidParameterError{Field: fmt.Sprintf("%s.capacity_curve[%d].head", id, i), Value: p.Head, Reason: "must be finite"}
		}
		if err := nonNegative(id, fmt.Sprintf("capacity_curve[%d].capacity", i), p.Capacity); err != nil {
			return err
		}
		if i > 0 && p.Head <= g.CapacityCurve[i-1].Head {
			return &hydro.InvalidParameterError{Field: fmt.Sprintf("%s.capacity_curve[%d].head", id, i), Value: p.Head, Reason: "heads must be strictly ascending"}
		}
	}
	if (g.SwitchOnLevel == nil) != (g.SwitchOffLevel == nil) {
		return &hydro.InvalidParameterError{Field: id + ".switch_levels", Value: math.NaN(), Reason: "switch on and off levels must be given together"}
	}
	if g.SwitchOnLevel != nil {
		if !hydro.IsFinite(*g.SwitchOnLevel) || !hydro.IsFinite(*g.SwitchOffLevel) {
			return &hydro.InvalidParameterError{Field: id + ".switch_levels", Value: *g.SwitchOnLevel, Reason: "must be finite"}
		}
		if *g.SwitchOffLevel > *g.SwitchOnLevel {
			return &hydro.InvalidParameterError{Field: id + ".switch_off_level", Value: *g.SwitchOffLevel, Reason: "must not exceed switch_on_level"}
		}
	}
	return nil
}

func (o Overstort) validate(id string) error {
	if !hydro.IsFinite(o.CrestLevel) {
		return &hydro.InvalidParameterError{Field: id + ".crest_level", Value: o.CrestLevel, Reason: "must be finite"}
	}
	if err := nonNegative(id, "crest_width", o.CrestWidth); err != nil {
		return err
	}
	return nonNegative(id, "discharge_coefficient", o.DischargeCoefficient)
}

func (k Keerklep) validate(id string) error {
	return nonNegative(id, "conductance", k.Conductance)
}

func (o OpenVerbinding) validate(id string) error {
	return nonNegative(id, "conductance", o.Conductance)
}

// CapacityAt returns the pump capacity against the given lift head. Without a
// curve the nominal capacity applies. The curve is interpolated linearly and
// held constant beyond its end points.
func (g Gemaal) CapacityAt(head float64) float64 {
	curve := g.CapacityCurve
	if len(curve) == 0 {
		return g.Capacity
	}
	if head <= curve[0].Head {
		return curve[0].Capacity
	}
	last := curve[len(curve)-1]
	if head >= last.Head {
		return last.Capacity
	}
	i := sort.Search(len(curve), func(i int) bool { return curve[i].Head >= head })
	lo, hi := curve[i-1], curve[i]
	frac := (head - lo.Head) / (hi.Head - lo.Head)
	return lo.Capacity + frac*(hi.Capacity-lo.Capacity)
}

// Flow returns the weir discharge for the given upstream level.
func (o Overstort) Flow(upstreamLevel float64) float64 {
	head := upstreamLevel - o.CrestLevel
	if head <= 0 {
		return 0
	}
	cd := o.DischargeCoefficient
	if cd == 0 {
		cd = DefaultDischargeCoefficient
	}
	return cd * o.CrestWidth * math.Pow(head, 1.5)
}

// Connection is an edge as supplied to New.
type Connection struct {
	ID   string
	From string
	To   string
	Spec Spec
}
