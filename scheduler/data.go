package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devskill-org/peilbeheer/gemaal"
	"github.com/devskill-org/peilbeheer/meteo"
)

// WeatherForecastCache caches weather forecast data with expiration.
type WeatherForecastCache struct {
	mu            sync.RWMutex
	forecast      *meteo.METJSONForecast
	fetchedAt     time.Time
	cacheDuration time.Duration
}

// Get retrieves the cached weather forecast if it's still valid.
func (w *WeatherForecastCache) Get() (*meteo.METJSONForecast, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.forecast == nil || time.Since(w.fetchedAt) > w.cacheDuration {
		return nil, false
	}
	return w.forecast, true
}

// Set updates the cached weather forecast with a new value.
func (w *WeatherForecastCache) Set(forecast *meteo.METJSONForecast) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.forecast = forecast
	w.fetchedAt = time.Now()
}

func downloadForecast(ctx context.Context, cfg *Config) (*meteo.METJSONForecast, error) {
	client := meteo.NewClient(cfg.UserAgent)
	client.SetRetries(2, 2*time.Second)
	return client.Forecast(ctx, meteo.Location{Latitude: cfg.Latitude, Longitude: cfg.Longitude})
}

// runWeatherUpdate refreshes the cached forecast
func (s *PeilScheduler) runWeatherUpdate(ctx context.Context) error {
	forecast, err := s.fetchForecast(ctx, s.GetConfig())
	if err != nil {
		s.logger.Printf("Error fetching weather forecast: %v", err)
		return err
	}
	s.weatherCache.Set(forecast)

	total := 0.0
	for _, h := range forecast.Hourly(s.now(), 24) {
		total += h.PrecipitationMM
	}
	s.logger.Printf("Weather forecast updated, precipitation next 24h: %.1f mm", total)
	return nil
}

// getForecast returns the cached forecast, fetching a new one when the cache
// has expired.
func (s *PeilScheduler) getForecast(ctx context.Context) (*meteo.METJSONForecast, error) {
	if forecast, ok := s.weatherCache.Get(); ok {
		return forecast, nil
	}
	if err := s.runWeatherUpdate(ctx); err != nil {
		return nil, err
	}
	forecast, _ := s.weatherCache.Get()
	return forecast, nil
}

// GemaalSample is a single telemetry reading of the gemaal.
type GemaalSample struct {
	upstreamLevel float64
	flow          float64 // m³/s
	power         float64 // kW
	running       bool
	ts            time.Time
}

// GemaalSamples is a thread-safe collection of telemetry samples.
type GemaalSamples struct {
	mu      sync.Mutex
	samples []GemaalSample
}

// AddSample adds a telemetry reading to the collection.
func (g *GemaalSamples) AddSample(status *gemaal.Status, ts time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.samples = append(g.samples, GemaalSample{
		upstreamLevel: status.UpstreamLevel,
		flow:          status.Flow,
		power:         status.PowerKW,
		running:       status.Running(),
		ts:            ts,
	})
}

// IntegratedData aggregates the samples of one integration period.
type IntegratedData struct {
	pumpedVolume float64 // m³
	energyKWh    float64
	meanLevel    float64 // m
	lastLevel    float64 // m
	runningShare float64 // fraction of samples with the pump running
	timestamp    time.Time
	sampleCount  int
}

// IntegrateSamples integrates the samples with timestamp <= cutoffTime. Each
// sample stands for one poll interval. Samples are kept until ClearBefore.
func (g *GemaalSamples) IntegrateSamples(pollInterval time.Duration, cutoffTime time.Time) IntegratedData {
	g.mu.Lock()
	defer g.mu.Unlock()

	result := IntegratedData{timestamp: cutoffTime}
	dt := pollInterval.Seconds()
	levelSum := 0.0
	running := 0

	for _, sample := range g.samples {
		if sample.ts.After(cutoffTime) {
			continue
		}
		result.sampleCount++
		result.pumpedVolume += sample.flow * dt
		result.energyKWh += sample.power * dt / 3600.0
		levelSum += sample.upstreamLevel
		result.lastLevel = sample.upstreamLevel
		if sample.running {
			running++
		}
	}

	if result.sampleCount > 0 {
		result.meanLevel = levelSum / float64(result.sampleCount)
		result.runningShare = float64(running) / float64(result.sampleCount)
	}
	return result
}

// ClearBefore removes all samples with timestamp <= cutoffTime.
func (g *GemaalSamples) ClearBefore(cutoffTime time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	kept := make([]GemaalSample, 0, len(g.samples))
	for _, sample := range g.samples {
		if sample.ts.After(cutoffTime) {
			kept = append(kept, sample)
		}
	}
	g.samples = kept
}

// IsEmpty returns true if there are no samples collected.
func (g *GemaalSamples) IsEmpty() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.samples) == 0
}

// readGemaalStatus connects to the PLC and reads one status block.
func (s *PeilScheduler) readGemaalStatus(config *Config) (*gemaal.Status, error) {
	client, err := s.dialGemaal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gemaal: %w", err)
	}
	defer client.Close()

	status, err := client.ReadStatus()
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.GemaalLevel.Set(status.UpstreamLevel)
	}
	return status, nil
}

func (s *PeilScheduler) runGemaalPoll(samples *GemaalSamples) error {
	config := s.GetConfig()
	if config.GemaalModbusAddress == "" {
		return nil
	}
	status, err := s.readGemaalStatus(config)
	if err != nil {
		s.logger.Printf("Data integration: failed to read gemaal status: %v", err)
		return err
	}
	samples.AddSample(status, s.now())
	return nil
}

func (s *PeilScheduler) runDataIntegration(ctx context.Context, samples *GemaalSamples, pollInterval time.Duration) error {
	config := s.GetConfig()
	now := s.now()
	periodEnd := now.Truncate(config.IntegrationPeriod)
	if periodEnd.Before(now.Add(-config.IntegrationPeriod)) {
		periodEnd = periodEnd.Add(config.IntegrationPeriod)
	}

	data := samples.IntegrateSamples(pollInterval, periodEnd)
	if data.sampleCount == 0 {
		s.logger.Printf("Data integration: no samples collected in period ending at %s", periodEnd.Format(time.RFC3339))
		return nil
	}

	var energyCost float64
	if doc := s.GetPriceDocument(); doc != nil {
		// The period ends at periodEnd, so its price is the one just before.
		if spot, ok := doc.PriceAt(periodEnd.Add(-time.Second)); ok {
			price := spot + config.ImportPriceOperatorFee + config.ImportPriceDeliveryFee
			energyCost = price / 1000.0 * data.energyKWh
		}
	}

	s.logger.Printf("Data integration: %s, samples %d, pumped %.0f m³, energy %.2f kWh (%.2f EUR), mean level %.3f m",
		config.AreaCode, data.sampleCount, data.pumpedVolume, data.energyKWh, energyCost, data.meanLevel)

	db := s.getDB()
	if config.DryRun || db == nil {
		samples.ClearBefore(periodEnd)
		return nil
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO gemaal_metrics (
			timestamp, area_code, sample_count,
			pumped_volume, energy_kwh, energy_cost,
			mean_level, last_level, running_share
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (area_code, timestamp) DO NOTHING`,
		data.timestamp, config.AreaCode, data.sampleCount,
		data.pumpedVolume, data.energyKWh, energyCost,
		data.meanLevel, data.lastLevel, data.runningShare,
	)
	if err != nil {
		s.logger.Printf("Data integration: failed to insert metrics: %v", err)
		return err
	}

	// Only clear samples for this period after successful DB insertion
	samples.ClearBefore(periodEnd)
	return nil
}
