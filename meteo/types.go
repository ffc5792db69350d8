package meteo

import "time"

// METJSONForecast is the GeoJSON root of a forecast response
type METJSONForecast struct {
	Type       string    `json:"type"`
	Properties *Forecast `json:"properties,omitempty"`
}

// Forecast holds the forecast time steps
type Forecast struct {
	Meta       ForecastMeta       `json:"meta"`
	Timeseries []ForecastTimeStep `json:"timeseries"`
}

// ForecastMeta contains the forecast update time
type ForecastMeta struct {
	UpdatedAt time.Time `json:"updated_at"`
}

// ForecastTimeStep is the forecast for one point in time
type ForecastTimeStep struct {
	Time time.Time             `json:"time"`
	Data *ForecastTimeStepData `json:"data,omitempty"`
}

// ForecastTimeStepData holds instant values and the periods that follow
type ForecastTimeStepData struct {
	Instant    *ForecastInstantData `json:"instant,omitempty"`
	Next1Hours *ForecastPeriodData  `json:"next_1_hours,omitempty"`
	Next6Hours *ForecastPeriodData  `json:"next_6_hours,omitempty"`
}

// ForecastInstantData wraps the instant details
type ForecastInstantData struct {
	Details *ForecastTimeInstant `json:"details,omitempty"`
}

// ForecastTimeInstant contains values valid at the time step
type ForecastTimeInstant struct {
	AirTemperature    *float64 `json:"air_temperature,omitempty"`    // °C
	CloudAreaFraction *float64 `json:"cloud_area_fraction,omitempty"` // %
	RelativeHumidity  *float64 `json:"relative_humidity,omitempty"`   // %
	WindSpeed         *float64 `json:"wind_speed,omitempty"`          // m/s
}

// ForecastPeriodData holds the summary and details of a period
type ForecastPeriodData struct {
	Summary *ForecastSummary    `json:"summary,omitempty"`
	Details *ForecastTimePeriod `json:"details,omitempty"`
}

// ForecastSummary carries the weather symbol of a period
type ForecastSummary struct {
	SymbolCode string `json:"symbol_code"`
}

// ForecastTimePeriod contains values accumulated over a period
type ForecastTimePeriod struct {
	PrecipitationAmount        *float64 `json:"precipitation_amount,omitempty"`         // mm
	ProbabilityOfPrecipitation *float64 `json:"probability_of_precipitation,omitempty"` // %
}

// Location represents coordinates for a forecast request
type Location struct {
	Latitude  float64
	Longitude float64
	Altitude  *int // m
}

// HourlyWeather is the forecast reduced to one hour
type HourlyWeather struct {
	Time            time.Time
	PrecipitationMM float64 // mm during the hour
	TemperatureC    float64
	CloudFraction   float64 // 0..1
}
