// Package boundary turns a weather forecast into the external flows of a
// simulation: precipitation on and Makkink evaporation from the open water of
// each Peilgebied.
package boundary

import (
	"math"
	"time"

	"github.com/devskill-org/peilbeheer/hydro"
	"github.com/devskill-org/peilbeheer/meteo"
	"github.com/devskill-org/peilbeheer/network"
	"github.com/sixdouglas/suncalc"
)

const (
	solarConstant      = 1361.0 // W/m²
	clearSkyTransmit   = 0.75
	makkinkCoefficient = 0.65
	psychrometric      = 0.066 // kPa/°C
	latentHeat         = 2.45  // MJ/kg
)

// Builder derives boundary series for areas at one location.
type Builder struct {
	Latitude  float64
	Longitude float64
}

// NewBuilder creates a builder for the given coordinates.
func NewBuilder(lat, lon float64) *Builder {
	return &Builder{Latitude: lat, Longitude: lon}
}

// MakkinkEvaporation returns the reference evaporation in mm/h at time t for
// the given air temperature and cloud fraction (0..1). Incoming shortwave
// radiation is estimated from the solar altitude and reduced for cloud cover.
func (b *Builder) MakkinkEvaporation(t time.Time, temperatureC, cloudFraction float64) float64 {
	times := suncalc.GetTimes(t, b.Latitude, b.Longitude)
	sunrise := times["sunrise"].Value
	sunset := times["sunset"].Value
	if !sunrise.IsZero() && !sunset.IsZero() && (t.Before(sunrise) || t.After(sunset)) {
		return 0
	}

	altitude := suncalc.GetPosition(t, b.Latitude, b.Longitude).Altitude
	sinAlt := math.Sin(altitude)
	if sinAlt <= 0 {
		return 0
	}

	cloud := math.Min(1, math.Max(0, cloudFraction))
	radiation := solarConstant * clearSkyTransmit * sinAlt * (1 - 0.75*math.Pow(cloud, 3.4)) // W/m²
	radiationMJ := radiation * 0.0036                                                      // MJ/m²/h

	es := 0.6108 * math.Exp(17.27*temperatureC/(temperatureC+237.3))
	slope := 4098 * es / math.Pow(temperatureC+237.3, 2)

	return makkinkCoefficient * slope / (slope + psychrometric) * radiationMJ / latentHeat
}

// Boundaries builds one boundary per non-rigid area covering steps steps of
// length step from start. Each step takes the forecast hour it falls in; steps
// past the forecast hold the last hour. Rigid areas are storage reservoirs and
// get no boundary.
func (b *Builder) Boundaries(areas []hydro.Area, hourly []meteo.HourlyWeather, start time.Time, steps int, step time.Duration) []network.Boundary {
	var out []network.Boundary
	if steps <= 0 {
		return out
	}

	// The evaporation rate only depends on the step, not on the area.
	precipitation := make([]float64, steps) // mm/h
	evaporation := make([]float64, steps)   // mm/h
	for k := range steps {
		t := start.Add(time.Duration(k) * step)
		h, ok := hourAt(hourly, t)
		if !ok {
			continue
		}
		precipitation[k] = h.PrecipitationMM
		evaporation[k] = b.MakkinkEvaporation(t.Add(step/2), h.TemperatureC, h.CloudFraction)
	}

	for _, a := range areas {
		if a.Rigid() {
			continue
		}
		bd := network.Boundary{
			Area:          a.Code,
			Precipitation: make([]float64, steps),
			Evaporation:   make([]float64, steps),
		}
		for k := range steps {
			bd.Precipitation[k] = FlowFromDepth(precipitation[k], a.SurfaceArea)
			bd.Evaporation[k] = FlowFromDepth(evaporation[k], a.SurfaceArea)
		}
		out = append(out, bd)
	}
	return out
}

// HourlyNetInflow returns precipitation minus evaporation on area a per
// forecast hour in m³/s.
func (b *Builder) HourlyNetInflow(a hydro.Area, hourly []meteo.HourlyWeather) []float64 {
	out := make([]float64, len(hourly))
	for i, h := range hourly {
		evap := b.MakkinkEvaporation(h.Time.Add(30*time.Minute), h.TemperatureC, h.CloudFraction)
		out[i] = FlowFromDepth(h.PrecipitationMM-evap, a.SurfaceArea)
	}
	return out
}

// FlowFromDepth converts a depth rate in mm/h over surface m² to m³/s.
func FlowFromDepth(mmPerHour, surface float64) float64 {
	return mmPerHour / 1000 * surface / 3600
}

func hourAt(hourly []meteo.HourlyWeather, t time.Time) (meteo.HourlyWeather, bool) {
	if len(hourly) == 0 {
		return meteo.HourlyWeather{}, false
	}
	i := int(t.Sub(hourly[0].Time) / time.Hour)
	if t.Before(hourly[0].Time) {
		i = 0
	}
	return hourly[min(i, len(hourly)-1)], true
}
