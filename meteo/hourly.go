package meteo

import (
	"math"
	"time"
)

// Hourly reduces the forecast to n consecutive hours starting at the hour
// containing start. Each hour takes its values from the nearest time step;
// precipitation comes from next_1_hours, or next_6_hours spread evenly when
// the hourly block is no longer available. Missing values are zero.
func (f *METJSONForecast) Hourly(start time.Time, n int) []HourlyWeather {
	out := make([]HourlyWeather, n)
	hour := start.Truncate(time.Hour)
	for i := range out {
		t := hour.Add(time.Duration(i) * time.Hour)
		out[i].Time = t

		step := f.nearest(t)
		if step == nil || step.Data == nil {
			continue
		}
		if in := step.Data.Instant; in != nil && in.Details != nil {
			if v := in.Details.AirTemperature; v != nil {
				out[i].TemperatureC = *v
			}
			if v := in.Details.CloudAreaFraction; v != nil {
				out[i].CloudFraction = math.Min(1, math.Max(0, *v/100))
			}
		}
		out[i].PrecipitationMM = precipitationPerHour(step.Data)
	}
	return out
}

func precipitationPerHour(d *ForecastTimeStepData) float64 {
	if p := d.Next1Hours; p != nil && p.Details != nil && p.Details.PrecipitationAmount != nil {
		return *p.Details.PrecipitationAmount
	}
	if p := d.Next6Hours; p != nil && p.Details != nil && p.Details.PrecipitationAmount != nil {
		return *p.Details.PrecipitationAmount / 6
	}
	return 0
}

// nearest returns the time step closest to t.
func (f *METJSONForecast) nearest(t time.Time) *ForecastTimeStep {
	if f.Properties == nil {
		return nil
	}
	var best *ForecastTimeStep
	bestDiff := time.Duration(math.MaxInt64)
	for i := range f.Properties.Timeseries {
		step := &f.Properties.Timeseries[i]
		diff := step.Time.Sub(t)
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			best, bestDiff = step, diff
		}
	}
	return best
}
