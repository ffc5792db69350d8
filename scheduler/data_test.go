package scheduler

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/devskill-org/peilbeheer/gemaal"
	"github.com/devskill-org/peilbeheer/meteo"
)

func TestGemaalSamples_IntegrateSamplesWithPeriodBoundary(t *testing.T) {
	samples := &GemaalSamples{}
	pollInterval := 10 * time.Second
	integrationPeriod := time.Minute
	baseTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	running := &gemaal.Status{UpstreamLevel: -1.40, State: gemaal.StateRunning, Flow: 1.5, PowerKW: 90}
	stopped := &gemaal.Status{UpstreamLevel: -1.50, State: gemaal.StateStopped}

	// First period: 6 samples with the pump running
	for i := range 6 {
		samples.AddSample(running, baseTime.Add(time.Duration(i)*pollInterval))
	}
	// Second period: 6 samples with the pump stopped
	for i := range 6 {
		samples.AddSample(stopped, baseTime.Add(integrationPeriod).Add(time.Duration(i)*pollInterval))
	}

	// The sample at exactly the cutoff belongs to the first period
	cutoff := baseTime.Add(integrationPeriod)
	data := samples.IntegrateSamples(pollInterval, cutoff)

	if data.sampleCount != 7 {
		t.Errorf("Expected 7 samples integrated, got %d", data.sampleCount)
	}
	if !data.timestamp.Equal(cutoff) {
		t.Errorf("Expected timestamp %v, got %v", cutoff, data.timestamp)
	}

	expectedVolume := 1.5 * 6 * pollInterval.Seconds()
	if math.Abs(data.pumpedVolume-expectedVolume) > 1e-9 {
		t.Errorf("Expected pumped volume %.1f m³, got %.1f m³", expectedVolume, data.pumpedVolume)
	}
	expectedEnergy := 90 * 6 * pollInterval.Seconds() / 3600
	if math.Abs(data.energyKWh-expectedEnergy) > 1e-9 {
		t.Errorf("Expected energy %.3f kWh, got %.3f kWh", expectedEnergy, data.energyKWh)
	}
	expectedMean := (-1.40*6 - 1.50) / 7
	if math.Abs(data.meanLevel-expectedMean) > 1e-9 {
		t.Errorf("Expected mean level %.4f, got %.4f", expectedMean, data.meanLevel)
	}
	if data.lastLevel != -1.50 {
		t.Errorf("Expected last level -1.50, got %.2f", data.lastLevel)
	}
	if math.Abs(data.runningShare-6.0/7.0) > 1e-9 {
		t.Errorf("Expected running share 6/7, got %.3f", data.runningShare)
	}

	if samples.IsEmpty() {
		t.Error("Samples should not be cleared after integration")
	}
}

func TestGemaalSamples_ClearBefore(t *testing.T) {
	samples := &GemaalSamples{}
	baseTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	status := &gemaal.Status{UpstreamLevel: -1.4}

	for i := range 5 {
		samples.AddSample(status, baseTime.Add(time.Duration(i)*time.Minute))
	}

	samples.ClearBefore(baseTime.Add(2 * time.Minute))

	data := samples.IntegrateSamples(time.Minute, baseTime.Add(time.Hour))
	if data.sampleCount != 2 {
		t.Errorf("Expected 2 samples after clear, got %d", data.sampleCount)
	}

	samples.ClearBefore(baseTime.Add(time.Hour))
	if !samples.IsEmpty() {
		t.Error("Expected no samples after clearing everything")
	}
}

func TestGemaalSamples_EmptyIntegration(t *testing.T) {
	samples := &GemaalSamples{}
	data := samples.IntegrateSamples(10*time.Second, time.Now())

	if data.sampleCount != 0 {
		t.Errorf("Expected 0 samples, got %d", data.sampleCount)
	}
	if data.meanLevel != 0 || data.runningShare != 0 {
		t.Errorf("Expected zero averages, got %f %f", data.meanLevel, data.runningShare)
	}
}

func TestRunGemaalPoll(t *testing.T) {
	config := DefaultConfig()
	config.GemaalModbusAddress = "plc:502"
	fake := &fakeGemaal{status: gemaal.Status{UpstreamLevel: -1.42, State: gemaal.StateRunning, Flow: 2}}
	s := newTestScheduler(t, config, fake)
	samples := &GemaalSamples{}

	if err := s.runGemaalPoll(samples); err != nil {
		t.Fatalf("runGemaalPoll: %v", err)
	}
	if samples.IsEmpty() {
		t.Fatal("Expected one sample")
	}
	if fake.closed != 1 {
		t.Errorf("Expected the connection to be closed once, got %d", fake.closed)
	}

	fake.readErr = errors.New("timeout")
	if err := s.runGemaalPoll(samples); err == nil {
		t.Error("Expected read error")
	}
}

func TestRunDataIntegration_DryRunClearsSamples(t *testing.T) {
	config := DefaultConfig()
	config.DryRun = true
	s := newTestScheduler(t, config, nil)
	samples := &GemaalSamples{}

	// testNow is 00:30, so the last complete period ends at 00:30
	status := &gemaal.Status{UpstreamLevel: -1.4, Flow: 1, PowerKW: 60}
	samples.AddSample(status, testNow.Add(-10*time.Minute))
	samples.AddSample(status, testNow.Add(-5*time.Minute))
	samples.AddSample(status, testNow.Add(time.Minute))

	if err := s.runDataIntegration(context.Background(), samples, 5*time.Minute); err != nil {
		t.Fatalf("runDataIntegration: %v", err)
	}

	data := samples.IntegrateSamples(5*time.Minute, testNow.Add(time.Hour))
	if data.sampleCount != 1 {
		t.Errorf("Expected only the sample after the period to remain, got %d", data.sampleCount)
	}
}

func TestWeatherForecastCache(t *testing.T) {
	cache := WeatherForecastCache{cacheDuration: time.Hour}

	if _, ok := cache.Get(); ok {
		t.Error("Empty cache should miss")
	}

	forecast := &meteo.METJSONForecast{Type: "Feature"}
	cache.Set(forecast)
	if got, ok := cache.Get(); !ok || got != forecast {
		t.Error("Expected cached forecast")
	}

	cache.mu.Lock()
	cache.fetchedAt = time.Now().Add(-2 * time.Hour)
	cache.mu.Unlock()
	if _, ok := cache.Get(); ok {
		t.Error("Expired cache should miss")
	}
}

func TestGetForecast_FetchesOnMiss(t *testing.T) {
	s := newTestScheduler(t, DefaultConfig(), nil)

	calls := 0
	forecast := &meteo.METJSONForecast{Type: "Feature", Properties: &meteo.Forecast{}}
	s.fetchForecast = func(context.Context, *Config) (*meteo.METJSONForecast, error) {
		calls++
		return forecast, nil
	}

	for range 3 {
		got, err := s.getForecast(context.Background())
		if err != nil {
			t.Fatalf("getForecast: %v", err)
		}
		if got != forecast {
			t.Error("Unexpected forecast")
		}
	}
	if calls != 1 {
		t.Errorf("Expected a single download, got %d", calls)
	}
}
