package scheduler

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/devskill-org/peilbeheer/gemaal"
	"github.com/devskill-org/peilbeheer/hydro"
	"github.com/devskill-org/peilbeheer/meteo"
	"github.com/devskill-org/peilbeheer/mpc"
)

// optimizeConfig describes an area that gains 0.5 m³/s and has to end the
// day at its starting level, so the pump must run for about six hours.
func optimizeConfig() *Config {
	config := DefaultConfig()
	config.GemaalModbusAddress = "plc:502"
	config.BaseInflow = 0.5
	config.TerminalMax = floatPtr(-1.45)
	config.Buckets = 300
	return config
}

func TestRunOptimize_PumpsInCheapHours(t *testing.T) {
	fake := &fakeGemaal{status: gemaal.Status{UpstreamLevel: -1.45, DownstreamLevel: -0.40}}
	s := newTestScheduler(t, optimizeConfig(), fake)

	schedule, err := s.RunOptimize(context.Background())
	if err != nil {
		t.Fatalf("RunOptimize: %v", err)
	}
	if schedule.Len() != 24 {
		t.Fatalf("Expected 24 hours, got %d", schedule.Len())
	}

	entries := schedule.Entries()
	cheap, expensive := 0.0, 0.0
	for _, e := range entries {
		if h := e.HourStart.Hour(); h >= 2 && h < 8 {
			cheap += e.Fraction
		} else {
			expensive += e.Fraction
		}
	}
	if cheap < expensive {
		t.Errorf("Expected most pumping in the cheap hours, got cheap %.2f expensive %.2f", cheap, expensive)
	}
	if last := entries[len(entries)-1].Level; last > -1.45+1e-6 {
		t.Errorf("Expected final level at or below -1.45, got %.4f", last)
	}
	if schedule.TotalEnergy() <= 0 {
		t.Error("Expected energy use")
	}

	// The entry of the current hour is applied
	setpoints := fake.writtenSetpoints()
	if len(setpoints) != 1 || setpoints[0] != entries[0].Fraction {
		t.Errorf("Expected setpoint %.2f, got %v", entries[0].Fraction, setpoints)
	}
	if len(fake.remote) != 1 || !fake.remote[0] {
		t.Errorf("Expected remote control enabled, got %v", fake.remote)
	}

	if s.GetSchedule() != schedule {
		t.Error("Expected the schedule to be stored")
	}
	status := s.GetStatus()
	if status.LastOptimization == nil || status.CurrentFraction == nil {
		t.Errorf("Expected optimisation and execution in status, got %+v", status)
	}

	m := s.Metrics()
	if got := testutil.ToFloat64(m.Optimizations.WithLabelValues(resultSuccess)); got != 1 {
		t.Errorf("Expected 1 successful optimisation, got %v", got)
	}
	if got := testutil.ToFloat64(m.ScheduleExpectedCost); math.Abs(got-schedule.TotalCost()) > 1e-9 {
		t.Errorf("Expected cost gauge %.2f, got %.2f", schedule.TotalCost(), got)
	}
	if got := testutil.ToFloat64(m.GemaalLevel); got != -1.45 {
		t.Errorf("Expected level gauge -1.45, got %v", got)
	}
}

func TestRunOptimize_Infeasible(t *testing.T) {
	config := optimizeConfig()
	config.PumpCapacity = 0.1
	config.TerminalMax = floatPtr(-1.59)
	fake := &fakeGemaal{status: gemaal.Status{UpstreamLevel: -1.45}}
	s := newTestScheduler(t, config, fake)

	_, err := s.RunOptimize(context.Background())
	var infeasible *hydro.InfeasibleScheduleError
	if !errors.As(err, &infeasible) {
		t.Fatalf("Expected InfeasibleScheduleError, got %v", err)
	}
	if s.GetSchedule() != nil {
		t.Error("Failed optimisation must not replace the schedule")
	}
	if len(fake.writtenSetpoints()) != 0 {
		t.Error("Failed optimisation must not write setpoints")
	}
	if got := testutil.ToFloat64(s.Metrics().Optimizations.WithLabelValues(resultInfeasible)); got != 1 {
		t.Errorf("Expected 1 infeasible optimisation, got %v", got)
	}
}

func TestRunOptimize_GemaalUnavailable(t *testing.T) {
	config := optimizeConfig()
	s := newTestScheduler(t, config, &fakeGemaal{readErr: errors.New("connection refused")})

	if _, err := s.RunOptimize(context.Background()); err == nil {
		t.Fatal("Expected error when the level cannot be read")
	}
	if got := testutil.ToFloat64(s.Metrics().Optimizations.WithLabelValues(resultError)); got != 1 {
		t.Errorf("Expected 1 failed optimisation, got %v", got)
	}
}

func TestRunOptimize_WithoutGemaalUsesInitialLevel(t *testing.T) {
	config := optimizeConfig()
	config.GemaalModbusAddress = ""
	config.InitialLevel = -1.40
	config.TerminalMax = floatPtr(-1.40)
	s := newTestScheduler(t, config, nil)

	schedule, err := s.RunOptimize(context.Background())
	if err != nil {
		t.Fatalf("RunOptimize: %v", err)
	}
	if last := schedule.Entries()[schedule.Len()-1].Level; last > -1.40+1e-6 {
		t.Errorf("Expected final level at or below -1.40, got %.4f", last)
	}
}

func TestRunOptimize_ForecastRainAddsPumping(t *testing.T) {
	dry := optimizeConfig()
	dry.GemaalModbusAddress = ""
	dry.InitialLevel = -1.45
	dryScheduler := newTestScheduler(t, dry, nil)
	drySchedule, err := dryScheduler.RunOptimize(context.Background())
	if err != nil {
		t.Fatalf("RunOptimize without rain: %v", err)
	}

	wet := optimizeConfig()
	wet.GemaalModbusAddress = ""
	wet.InitialLevel = -1.45
	wetScheduler := newTestScheduler(t, wet, nil)
	wetScheduler.fetchForecast = func(context.Context, *Config) (*meteo.METJSONForecast, error) {
		return rainForecast(testNow.Truncate(time.Hour), 24, 2.0), nil
	}
	wetSchedule, err := wetScheduler.RunOptimize(context.Background())
	if err != nil {
		t.Fatalf("RunOptimize with rain: %v", err)
	}

	if wetSchedule.TotalEnergy() <= drySchedule.TotalEnergy() {
		t.Errorf("Expected rain to require more pumping: dry %.4f MWh, wet %.4f MWh",
			drySchedule.TotalEnergy(), wetSchedule.TotalEnergy())
	}
}

func TestRunScheduleExecution(t *testing.T) {
	config := DefaultConfig()
	config.GemaalModbusAddress = "plc:502"
	fake := &fakeGemaal{}
	s := newTestScheduler(t, config, fake)

	hour := testNow.Truncate(time.Hour)
	schedule, err := mpc.NewPumpSchedule([]mpc.ScheduleEntry{
		{HourStart: hour, Fraction: 0.75, Running: true},
		{HourStart: hour.Add(time.Hour), Fraction: 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	s.schedule = schedule

	// Applied once per hour
	for range 3 {
		if err := s.runScheduleExecution(); err != nil {
			t.Fatalf("runScheduleExecution: %v", err)
		}
	}
	if got := fake.writtenSetpoints(); len(got) != 1 || got[0] != 0.75 {
		t.Errorf("Expected a single setpoint 0.75, got %v", got)
	}

	// The next hour applies the next entry
	s.now = func() time.Time { return testNow.Add(time.Hour) }
	if err := s.runScheduleExecution(); err != nil {
		t.Fatalf("runScheduleExecution: %v", err)
	}
	if got := fake.writtenSetpoints(); len(got) != 2 || got[1] != 0 {
		t.Errorf("Expected setpoints [0.75 0], got %v", got)
	}

	// Past the end of the schedule nothing is written
	s.now = func() time.Time { return testNow.Add(5 * time.Hour) }
	if err := s.runScheduleExecution(); err != nil {
		t.Fatalf("runScheduleExecution: %v", err)
	}
	if got := fake.writtenSetpoints(); len(got) != 2 {
		t.Errorf("Expected no further setpoints, got %v", got)
	}
}

func TestRunScheduleExecution_RetriesAfterError(t *testing.T) {
	config := DefaultConfig()
	config.GemaalModbusAddress = "plc:502"
	fake := &fakeGemaal{writeErr: errors.New("exception 2")}
	s := newTestScheduler(t, config, fake)

	schedule, err := mpc.NewPumpSchedule([]mpc.ScheduleEntry{
		{HourStart: testNow.Truncate(time.Hour), Fraction: 1, Running: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	s.schedule = schedule

	if err := s.runScheduleExecution(); err == nil {
		t.Fatal("Expected write error")
	}

	fake.mu.Lock()
	fake.writeErr = nil
	fake.mu.Unlock()

	if err := s.runScheduleExecution(); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if got := fake.writtenSetpoints(); len(got) != 1 || got[0] != 1 {
		t.Errorf("Expected setpoint 1 after retry, got %v", got)
	}
}

func TestExecuteEntry_DryRun(t *testing.T) {
	config := DefaultConfig()
	config.DryRun = true
	config.GemaalModbusAddress = "plc:502"
	fake := &fakeGemaal{}
	s := newTestScheduler(t, config, fake)

	entry := mpc.ScheduleEntry{HourStart: testNow.Truncate(time.Hour), Fraction: 0.5}
	if err := s.executeEntry(entry, config); err != nil {
		t.Fatalf("executeEntry: %v", err)
	}
	if len(fake.writtenSetpoints()) != 0 {
		t.Error("Dry run must not write setpoints")
	}
}

// rainForecast returns a forecast with mm of rain in each of n hours.
func rainForecast(start time.Time, n int, mm float64) *meteo.METJSONForecast {
	steps := make([]meteo.ForecastTimeStep, n)
	for i := range steps {
		amount := mm
		temp := 15.0
		cloud := 100.0
		steps[i] = meteo.ForecastTimeStep{
			Time: start.Add(time.Duration(i) * time.Hour),
			Data: &meteo.ForecastTimeStepData{
				Instant: &meteo.ForecastInstantData{Details: &meteo.ForecastTimeInstant{
					AirTemperature:    &temp,
					CloudAreaFraction: &cloud,
				}},
				Next1Hours: &meteo.ForecastPeriodData{Details: &meteo.ForecastTimePeriod{PrecipitationAmount: &amount}},
			},
		}
	}
	return &meteo.METJSONForecast{Type: "Feature", Properties: &meteo.Forecast{Timeseries: steps}}
}
