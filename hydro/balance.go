package hydro

// Flows are the volume rates acting on one area during a step, all in m³/s
// and all non-negative by convention (direction is given by the field).
type Flows struct {
	Inflow        float64
	Outflow       float64
	Precipitation float64
	Evaporation   float64
}

// Net returns inflow + precipitation - outflow - evaporation.
func (f Flows) Net() float64 {
	return f.Inflow + f.Precipitation - f.Outflow - f.Evaporation
}

// Balance is the outcome of one water balance step.
type Balance struct {
	Level  float64 // m
	Volume float64 // m³
	// Clamped is set when the step would have drawn the area below empty.
	// Deficit is the volume that could not be supplied.
	Clamped bool
	Deficit float64 // m³
}

// Step integrates the water balance of one area over dt seconds.
//
// The volume never drops below zero: a step that would drain more than is
// stored returns an empty area with Clamped set, which implicitly limits the
// outflow. Rigid areas report their fixed level but still carry the virtual
// volume so that network totals stay balanced.
func Step(a Area, f Flows, dt float64) (Balance, error) {
	if !IsFinite(a.SurfaceArea) || a.SurfaceArea <= 0 {
		return Balance{}, invalid(a.Code+".surface_area", a.SurfaceArea, "must be finite and > 0")
	}
	if !IsFinite(dt) || dt <= 0 {
		return Balance{}, invalid("dt_seconds", dt, "must be finite and > 0")
	}
	for _, v := range []struct {
		name  string
		value float64
	}{
		{"inflow", f.Inflow},
		{"outflow", f.Outflow},
		{"precipitation", f.Precipitation},
		{"evaporation", f.Evaporation},
	} {
		if !IsFinite(v.value) {
			return Balance{}, invalid(v.name, v.value, "must be finite")
		}
	}

	volume := a.CurrentVolume + f.Net()*dt
	b := Balance{Volume: volume}
	if volume < 0 {
		b.Clamped = true
		b.Deficit = -volume
		b.Volume = 0
	}
	b.Level = a.LevelAtVolume(b.Volume)
	return b, nil
}

// Apply writes a computed balance back into the area.
func (a *Area) Apply(b Balance) {
	a.CurrentVolume = b.Volume
	a.CurrentLevel = b.Level
}
