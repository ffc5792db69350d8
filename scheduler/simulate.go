package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/devskill-org/peilbeheer/boundary"
	"github.com/devskill-org/peilbeheer/hydro"
	"github.com/devskill-org/peilbeheer/network"
	"github.com/devskill-org/peilbeheer/scenario"
)

// RunSimulation runs a scenario. With UseForecast set the precipitation and
// evaporation of every free area come from the weather forecast. When
// SimulationGemaal is configured that gemaal follows the current schedule.
func (s *PeilScheduler) RunSimulation(ctx context.Context, sc *scenario.Scenario) (*network.Result, error) {
	config := s.GetConfig()

	topology, err := sc.Topology()
	if err != nil {
		s.recordSimulation(err)
		return nil, err
	}

	params := sc.Params
	params.Boundaries = append([]network.Boundary(nil), sc.Params.Boundaries...)
	params.Controls = append([]network.ControlLoop(nil), sc.Params.Controls...)
	params.Schedules = append([]network.ScheduledGemaal(nil), sc.Params.Schedules...)

	if sc.UseForecast {
		forecast, err := s.getForecast(ctx)
		if err != nil {
			s.logger.Printf("Simulation %q without forecast: %v", sc.Name, err)
		} else {
			hours := int((params.Horizon+time.Hour-1)/time.Hour) + 1
			hourly := forecast.Hourly(params.Start, hours)
			builder := boundary.NewBuilder(config.Latitude, config.Longitude)
			params.Boundaries = mergeBoundaries(params.Boundaries,
				builder.Boundaries(topology.Areas(), hourly, params.Start, params.Steps(), params.Step))
		}
	}

	if config.SimulationGemaal != "" {
		if schedule := s.GetSchedule(); schedule != nil {
			_, edge, ok := topology.Edge(config.SimulationGemaal)
			if !ok {
				err := fmt.Errorf("simulation_gemaal: unknown connection %q", config.SimulationGemaal)
				s.recordSimulation(err)
				return nil, err
			}
			params.Controls = withoutLoopsOn(topology, sc.Params.Controls, edge)
			params.Schedules = append(params.Schedules, network.ScheduledGemaal{Edge: config.SimulationGemaal, Schedule: schedule})
			s.logger.Printf("Simulation %q: %s follows the current schedule (%d hours)",
				sc.Name, config.SimulationGemaal, schedule.Len())
		}
	}

	started := time.Now()
	result, err := network.Run(ctx, topology, params)
	s.recordSimulation(err)
	if err != nil {
		s.logger.Printf("Simulation %q failed: %v", sc.Name, err)
		return nil, err
	}

	s.mu.Lock()
	s.lastSimulation = result
	s.mu.Unlock()

	final := result.Final()
	s.logger.Printf("Simulation %q (%s) completed: %d steps in %v, volume %.0f -> %.0f m³",
		sc.Name, result.RunID, len(result.Steps), time.Since(started).Round(time.Millisecond),
		result.Initial.TotalVolume(), final.TotalVolume())
	return result, nil
}

func (s *PeilScheduler) recordSimulation(err error) {
	if s.metrics == nil {
		return
	}
	result := resultSuccess
	var diverged *hydro.SimulationDivergedError
	switch {
	case err == nil:
	case errors.As(err, &diverged):
		result = resultDiverged
	default:
		result = resultError
	}
	s.metrics.Simulations.WithLabelValues(result).Inc()
}

// withoutLoopsOn drops the control loops that would drive edge.
func withoutLoopsOn(t *network.Topology, loops []network.ControlLoop, edge network.EdgeIndex) []network.ControlLoop {
	out := make([]network.ControlLoop, 0, len(loops))
	for _, l := range loops {
		a, ok := t.Index(l.Area)
		if ok && slices.Contains(t.ControllableGemalen(a, l.Direction), edge) {
			continue
		}
		out = append(out, l)
	}
	return out
}

// mergeBoundaries fills the empty precipitation and evaporation series of the
// scenario boundaries from the forecast and appends forecast boundaries of
// areas the scenario does not mention.
func mergeBoundaries(given, forecast []network.Boundary) []network.Boundary {
	out := append([]network.Boundary(nil), given...)
	index := make(map[string]int, len(out))
	for i, b := range out {
		index[b.Area] = i
	}
	for _, f := range forecast {
		i, ok := index[f.Area]
		if !ok {
			out = append(out, f)
			continue
		}
		if len(out[i].Precipitation) == 0 {
			out[i].Precipitation = f.Precipitation
		}
		if len(out[i].Evaporation) == 0 {
			out[i].Evaporation = f.Evaporation
		}
	}
	return out
}
