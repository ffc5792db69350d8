package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devskill-org/peilbeheer/boundary"
	"github.com/devskill-org/peilbeheer/hydro"
	"github.com/devskill-org/peilbeheer/mpc"
)

// optimizedArea returns the configured area at the given level.
func optimizedArea(config *Config, level float64) hydro.Area {
	a := hydro.Area{
		Code:              config.AreaCode,
		TargetLevelSummer: (config.MinLevel + config.MaxLevel) / 2,
		TargetLevelWinter: (config.MinLevel + config.MaxLevel) / 2,
		SurfaceArea:       config.SurfaceArea,
		BedLevel:          config.BedLevel,
		CurrentLevel:      level,
	}
	a.CurrentVolume = a.VolumeAtLevel(level)
	return a
}

// RunOptimize computes a new pump schedule, stores it and applies the entry
// of the current hour.
func (s *PeilScheduler) RunOptimize(ctx context.Context) (*mpc.PumpSchedule, error) {
	started := time.Now()
	s.logger.Printf("Starting optimisation task at %s", started.Format(time.RFC3339))

	schedule, err := s.optimize(ctx)
	if s.metrics != nil {
		s.metrics.OptimizationDuration.Observe(time.Since(started).Seconds())
		var infeasible *hydro.InfeasibleScheduleError
		switch {
		case err == nil:
			s.metrics.Optimizations.WithLabelValues(resultSuccess).Inc()
			s.metrics.ScheduleExpectedCost.Set(schedule.TotalCost())
		case errors.As(err, &infeasible):
			s.metrics.Optimizations.WithLabelValues(resultInfeasible).Inc()
		default:
			s.metrics.Optimizations.WithLabelValues(resultError).Inc()
		}
	}
	if err != nil {
		s.logger.Printf("Optimisation failed: %v", err)
		return nil, err
	}

	config := s.GetConfig()
	s.mu.Lock()
	s.schedule = schedule
	s.lastExecuted = nil
	s.lastOptimization = s.now()
	s.mu.Unlock()

	s.logger.Printf("Optimisation completed: %d hours, %.3f MWh, expected cost %.2f EUR",
		schedule.Len(), schedule.TotalEnergy(), schedule.TotalCost())

	if !config.DryRun && s.getDB() != nil {
		if err := s.saveSchedule(ctx, schedule); err != nil {
			s.logger.Printf("Warning: failed to save schedule to database: %v", err)
		}
	}

	if err := s.runScheduleExecution(); err != nil {
		return schedule, err
	}
	return schedule, nil
}

func (s *PeilScheduler) optimize(ctx context.Context) (*mpc.PumpSchedule, error) {
	config := s.GetConfig()
	now := s.now()

	level := config.InitialLevel
	if config.GemaalModbusAddress != "" {
		status, err := s.readGemaalStatus(config)
		if err != nil {
			return nil, fmt.Errorf("failed to read gemaal status: %w", err)
		}
		level = status.UpstreamLevel
		if config.Direction == "fill" {
			level = status.DownstreamLevel
		}
		s.logger.Printf("Current level of %s: %.3f m", config.AreaCode, level)
	}

	prices, err := s.getPrices(ctx, now, config.HorizonHours)
	if err != nil {
		return nil, err
	}

	area := optimizedArea(config, level)
	inflow := make([]float64, len(prices))
	if forecast, err := s.getForecast(ctx); err != nil {
		s.logger.Printf("No weather forecast, using base inflow only: %v", err)
	} else {
		hourly := forecast.Hourly(prices[0].HourStart, len(prices))
		inflow = boundary.NewBuilder(config.Latitude, config.Longitude).HourlyNetInflow(area, hourly)
	}
	for i := range inflow {
		inflow[i] += config.BaseInflow
	}

	direction := mpc.Drain
	if config.Direction == "fill" {
		direction = mpc.Fill
	}

	controller, err := mpc.NewController(mpc.SystemConfig{
		Area:         area,
		PumpCapacity: config.PumpCapacity,
		PumpPower:    config.PumpPower,
		Direction:    direction,
		NetInflow:    inflow,
		MinLevel:     config.MinLevel,
		MaxLevel:     config.MaxLevel,
		TerminalMin:  config.TerminalMin,
		TerminalMax:  config.TerminalMax,
		Buckets:      config.Buckets,
		Actions:      config.ActionLevels,
	})
	if err != nil {
		return nil, err
	}

	return controller.Optimize(ctx, prices)
}

// runScheduleExecution applies the schedule entry of the current hour unless
// it has already been applied.
func (s *PeilScheduler) runScheduleExecution() error {
	s.mu.RLock()
	schedule := s.schedule
	last := s.lastExecuted
	s.mu.RUnlock()

	if schedule == nil {
		return nil
	}

	entry, ok := schedule.At(s.now())
	if !ok {
		s.logger.Printf("Schedule has no entry for the current hour")
		return nil
	}
	if last != nil && last.HourStart.Equal(entry.HourStart) {
		return nil
	}

	err := s.executeEntry(entry, s.GetConfig())

	s.mu.Lock()
	if err != nil {
		s.lastExecuted = nil
	} else {
		s.lastExecuted = &entry
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Printf("Error applying schedule entry: %v (will retry)", err)
	}
	return err
}

// executeEntry writes the pump setpoint of one schedule entry to the gemaal.
func (s *PeilScheduler) executeEntry(entry mpc.ScheduleEntry, config *Config) error {
	hour := entry.HourStart.Format("15:04")
	if config.DryRun {
		s.logger.Printf("[DRY-RUN] Would set %s pump to %.0f%% for hour %s (%.2f EUR/MWh)",
			config.AreaCode, entry.Fraction*100, hour, entry.PriceEURPerMWh)
		return nil
	}
	if config.GemaalModbusAddress == "" {
		s.logger.Printf("No gemaal configured, %s pump at %.0f%% for hour %s not applied",
			config.AreaCode, entry.Fraction*100, hour)
		return nil
	}

	client, err := s.dialGemaal(config)
	if err != nil {
		return fmt.Errorf("failed to connect to gemaal: %w", err)
	}
	defer client.Close()

	if err := client.SetRemoteControl(true); err != nil {
		return err
	}
	if err := client.WriteSetpoint(entry.Fraction); err != nil {
		return err
	}

	s.logger.Printf("Set %s pump to %.0f%% for hour %s (%.2f EUR/MWh)",
		config.AreaCode, entry.Fraction*100, hour, entry.PriceEURPerMWh)
	return nil
}
