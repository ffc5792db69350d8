package scheduler

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the configuration for the peil scheduler
type Config struct {
	// Scheduler settings
	PriceUpdateInterval   time.Duration `json:"price_update_interval" toml:"price_update_interval"`     // How often to refresh day-ahead prices
	OptimizeInterval      time.Duration `json:"optimize_interval" toml:"optimize_interval"`             // How often to recompute the pump schedule
	ExecutionInterval     time.Duration `json:"execution_interval" toml:"execution_interval"`           // How often to apply the current schedule entry
	WeatherUpdateInterval time.Duration `json:"weather_update_interval" toml:"weather_update_interval"` // How often to refresh the weather forecast
	DryRun                bool          `json:"dry_run" toml:"dry_run"`                                 // Compute and log, but never write setpoints or rows

	// ENTSO-E settings
	SecurityToken string        `json:"security_token" toml:"security_token"` // ENTSO-E API token
	APITimeout    time.Duration `json:"api_timeout" toml:"api_timeout"`       // Timeout for API calls
	UrlFormat     string        `json:"url_format" toml:"url_format"`         // ENTSO-E API URL format string
	Location      string        `json:"location" toml:"location"`             // Market timezone, e.g. "Europe/Amsterdam"

	// Price adjustments, EUR/MWh on top of the spot price
	ImportPriceOperatorFee float64 `json:"import_price_operator_fee" toml:"import_price_operator_fee"`
	ImportPriceDeliveryFee float64 `json:"import_price_delivery_fee" toml:"import_price_delivery_fee"`

	// Logging settings
	LogLevel  string `json:"log_level" toml:"log_level"`   // Log level: debug, info, warn, error
	LogFormat string `json:"log_format" toml:"log_format"` // Log format: text, json

	// Web server
	HTTPPort int `json:"http_port" toml:"http_port"` // Port for the status API (0 = disabled)

	// Storage
	PostgresConnString string `json:"postgres_conn_string" toml:"postgres_conn_string"`

	// Weather API settings
	Latitude  float64 `json:"latitude" toml:"latitude"`
	Longitude float64 `json:"longitude" toml:"longitude"`
	UserAgent string  `json:"user_agent" toml:"user_agent"` // User agent for the MET API

	// Gemaal PLC
	GemaalModbusAddress string        `json:"gemaal_modbus_address" toml:"gemaal_modbus_address"` // host:port, empty when no PLC is attached
	GemaalSlaveID       int           `json:"gemaal_slave_id" toml:"gemaal_slave_id"`
	GemaalPollInterval  time.Duration `json:"gemaal_poll_interval" toml:"gemaal_poll_interval"`
	IntegrationPeriod   time.Duration `json:"integration_period" toml:"integration_period"`

	// Optimised area and pump
	AreaCode     string    `json:"area_code" toml:"area_code"`
	SurfaceArea  float64   `json:"surface_area" toml:"surface_area"`   // m²
	BedLevel     float64   `json:"bed_level" toml:"bed_level"`         // m
	InitialLevel float64   `json:"initial_level" toml:"initial_level"` // m, used when no PLC is attached
	MinLevel     float64   `json:"min_level" toml:"min_level"`         // m
	MaxLevel     float64   `json:"max_level" toml:"max_level"`         // m
	TerminalMin  *float64  `json:"terminal_min,omitempty" toml:"terminal_min"`
	TerminalMax  *float64  `json:"terminal_max,omitempty" toml:"terminal_max"`
	PumpCapacity float64   `json:"pump_capacity" toml:"pump_capacity"` // m³/s
	PumpPower    float64   `json:"pump_power" toml:"pump_power"`       // kW
	Direction    string    `json:"direction" toml:"direction"`         // drain | fill
	BaseInflow   float64   `json:"base_inflow" toml:"base_inflow"`     // m³/s seepage, added to the weather forecast
	HorizonHours int       `json:"horizon_hours" toml:"horizon_hours"`
	Buckets      int       `json:"buckets" toml:"buckets"` // action levels must be multiples of 1/buckets
	ActionLevels []float64 `json:"action_levels,omitempty" toml:"action_levels"`

	// Simulation
	ScenarioFile     string `json:"scenario_file" toml:"scenario_file"`
	SimulationGemaal string `json:"simulation_gemaal" toml:"simulation_gemaal"` // connection ID that follows the current schedule
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		PriceUpdateInterval:    time.Hour,
		OptimizeInterval:       time.Hour,
		ExecutionInterval:      time.Minute,
		WeatherUpdateInterval:  time.Hour,
		DryRun:                 false,
		APITimeout:             30 * time.Second,
		UrlFormat:              "https://web-api.tp.entsoe.eu/api?documentType=A44&out_Domain=10YNL----------L&in_Domain=10YNL----------L&periodStart=%s&periodEnd=%s&securityToken=%s",
		Location:               "Europe/Amsterdam",
		ImportPriceOperatorFee: 4.0,
		ImportPriceDeliveryFee: 35.0,
		LogLevel:               "info",
		LogFormat:              "text",
		HTTPPort:               0,
		Latitude:               52.3676, // Amsterdam
		Longitude:              4.9041,
		UserAgent:              "peilbeheer/1.0 (ops@example.com)",
		GemaalSlaveID:          1,
		GemaalPollInterval:     10 * time.Second,
		IntegrationPeriod:      15 * time.Minute,
		AreaCode:               "PG-0001",
		SurfaceArea:            400000,
		BedLevel:               -3.0,
		InitialLevel:           -1.45,
		MinLevel:               -1.60,
		MaxLevel:               -1.30,
		PumpCapacity:           2.0,
		PumpPower:              110,
		Direction:              "drain",
		HorizonHours:           24,
	}
}

// LoadConfig loads configuration from a file. Files ending in .toml are read
// as TOML, everything else as JSON.
func LoadConfig(filename string) (*Config, error) {
	if strings.EqualFold(filepath.Ext(filename), ".toml") {
		config := DefaultConfig()
		if _, err := toml.DecodeFile(filename, config); err != nil {
			return nil, fmt.Errorf("failed to decode config TOML: %w", err)
		}
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return config, nil
	}

	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return LoadConfigFromReader(file)
}

// LoadConfigFromReader loads JSON configuration from an io.Reader
func LoadConfigFromReader(reader io.Reader) (*Config, error) {
	config := DefaultConfig()

	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config JSON: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// SaveConfigToWriter writes the configuration as indented JSON
func (c *Config) SaveConfigToWriter(writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config JSON: %w", err)
	}

	return nil
}

// Validate checks if the configuration values are valid
func (c *Config) Validate() error {
	intervals := []struct {
		name  string
		value time.Duration
	}{
		{"price_update_interval", c.PriceUpdateInterval},
		{"optimize_interval", c.OptimizeInterval},
		{"execution_interval", c.ExecutionInterval},
		{"weather_update_interval", c.WeatherUpdateInterval},
		{"api_timeout", c.APITimeout},
		{"gemaal_poll_interval", c.GemaalPollInterval},
		{"integration_period", c.IntegrationPeriod},
	}
	for _, iv := range intervals {
		if iv.value <= 0 {
			return fmt.Errorf("%s must be greater than 0, got: %s", iv.name, iv.value)
		}
	}

	if c.UrlFormat == "" {
		return fmt.Errorf("url_format cannot be empty")
	}

	if _, err := time.LoadLocation(c.Location); err != nil {
		return fmt.Errorf("invalid location %q: %w", c.Location, err)
	}

	if c.ImportPriceOperatorFee < 0 {
		return fmt.Errorf("import_price_operator_fee must be non-negative, got: %f", c.ImportPriceOperatorFee)
	}

	if c.ImportPriceDeliveryFee < 0 {
		return fmt.Errorf("import_price_delivery_fee must be non-negative, got: %f", c.ImportPriceDeliveryFee)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level: %s, must be one of: debug, info, warn, error", c.LogLevel)
	}

	validLogFormats := map[string]bool{"text": true, "json": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("invalid log_format: %s, must be one of: text, json", c.LogFormat)
	}

	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be between 0 and 65535, got: %d", c.HTTPPort)
	}

	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude must be between -90 and 90, got: %f", c.Latitude)
	}

	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude must be between -180 and 180, got: %f", c.Longitude)
	}

	if c.UserAgent == "" {
		return fmt.Errorf("user_agent cannot be empty")
	}

	if c.GemaalModbusAddress != "" && (c.GemaalSlaveID < 1 || c.GemaalSlaveID > 246) {
		return fmt.Errorf("gemaal_slave_id must be between 1 and 246, got: %d", c.GemaalSlaveID)
	}

	if c.AreaCode == "" {
		return fmt.Errorf("area_code cannot be empty")
	}

	if c.SurfaceArea <= 0 {
		return fmt.Errorf("surface_area must be greater than 0, got: %f", c.SurfaceArea)
	}

	if c.MinLevel >= c.MaxLevel {
		return fmt.Errorf("min_level (%f) must be below max_level (%f)", c.MinLevel, c.MaxLevel)
	}

	if c.PumpCapacity <= 0 {
		return fmt.Errorf("pump_capacity must be greater than 0, got: %f", c.PumpCapacity)
	}

	if c.PumpPower < 0 {
		return fmt.Errorf("pump_power must be non-negative, got: %f", c.PumpPower)
	}

	if c.Direction != "drain" && c.Direction != "fill" {
		return fmt.Errorf("invalid direction: %s, must be one of: drain, fill", c.Direction)
	}

	if c.HorizonHours < 1 || c.HorizonHours > 48 {
		return fmt.Errorf("horizon_hours must be between 1 and 48, got: %d", c.HorizonHours)
	}

	if c.Buckets < 0 {
		return fmt.Errorf("buckets must be non-negative, got: %d", c.Buckets)
	}

	for _, a := range c.ActionLevels {
		if a < 0 || a > 1 {
			return fmt.Errorf("action_levels must be within [0, 1], got: %f", a)
		}
	}

	return nil
}

// MarshalJSON implements custom JSON marshaling to handle durations
func (c *Config) MarshalJSON() ([]byte, error) {
	type Alias Config
	return json.Marshal(&struct {
		*Alias
		PriceUpdateInterval   string `json:"price_update_interval"`
		OptimizeInterval      string `json:"optimize_interval"`
		ExecutionInterval     string `json:"execution_interval"`
		WeatherUpdateInterval string `json:"weather_update_interval"`
		APITimeout            string `json:"api_timeout"`
		GemaalPollInterval    string `json:"gemaal_poll_interval"`
		IntegrationPeriod     string `json:"integration_period"`
	}{
		Alias:                 (*Alias)(c),
		PriceUpdateInterval:   c.PriceUpdateInterval.String(),
		OptimizeInterval:      c.OptimizeInterval.String(),
		ExecutionInterval:     c.ExecutionInterval.String(),
		WeatherUpdateInterval: c.WeatherUpdateInterval.String(),
		APITimeout:            c.APITimeout.String(),
		GemaalPollInterval:    c.GemaalPollInterval.String(),
		IntegrationPeriod:     c.IntegrationPeriod.String(),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling to handle durations
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config
	aux := &struct {
		*Alias
		PriceUpdateInterval   string `json:"price_update_interval"`
		OptimizeInterval      string `json:"optimize_interval"`
		ExecutionInterval     string `json:"execution_interval"`
		WeatherUpdateInterval string `json:"weather_update_interval"`
		APITimeout            string `json:"api_timeout"`
		GemaalPollInterval    string `json:"gemaal_poll_interval"`
		IntegrationPeriod     string `json:"integration_period"`
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"price_update_interval", aux.PriceUpdateInterval, &c.PriceUpdateInterval},
		{"optimize_interval", aux.OptimizeInterval, &c.OptimizeInterval},
		{"execution_interval", aux.ExecutionInterval, &c.ExecutionInterval},
		{"weather_update_interval", aux.WeatherUpdateInterval, &c.WeatherUpdateInterval},
		{"api_timeout", aux.APITimeout, &c.APITimeout},
		{"gemaal_poll_interval", aux.GemaalPollInterval, &c.GemaalPollInterval},
		{"integration_period", aux.IntegrationPeriod, &c.IntegrationPeriod},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = v
	}

	return nil
}

// String returns a string representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
