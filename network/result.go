package network

import (
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/devskill-org/peilbeheer/pid"
)

// Snapshot holds the level and volume of every area, by area index.
type Snapshot struct {
	Levels  []float64 // m
	Volumes []float64 // m³
}

// TotalVolume returns the summed volume of all areas.
func (s Snapshot) TotalVolume() float64 {
	total := 0.0
	for _, v := range s.Volumes {
		total += v
	}
	return total
}

// Step is the record of one simulation step. The snapshot is the state at
// the end of the step.
type Step struct {
	Index int
	Time  time.Time
	Snapshot
	Flows    []float64 // m³/s per edge, positive From -> To
	Commands []float64 // m³/s per edge, the pump commands in effect
	External float64   // m³ added by boundary inputs during the step
	// Saturation holds, per control loop in Params.Controls order, whether
	// the output computed at the end of the step was clamped.
	Saturation []pid.Saturation
}

// Result is the trajectory of one run.
type Result struct {
	RunID        uuid.UUID
	Start        time.Time
	StepDuration time.Duration
	Areas        []string // area codes by index
	Edges        []string // connection ids by index
	Initial      Snapshot
	Steps        []Step
}

// All iterates over the steps in order. The sequence can be ranged over more
// than once.
func (r *Result) All() iter.Seq2[int, Step] {
	return func(yield func(int, Step) bool) {
		for i, s := range r.Steps {
			if !yield(i, s) {
				return
			}
		}
	}
}

// TotalVolume returns the summed area volume after step i.
func (r *Result) TotalVolume(i int) float64 {
	return r.Steps[i].TotalVolume()
}

// Final returns the state after the last step.
func (r *Result) Final() Snapshot {
	if len(r.Steps) == 0 {
		return r.Initial
	}
	return r.Steps[len(r.Steps)-1].Snapshot
}

// Levels returns the level of the given area after every step.
func (r *Result) Levels(code string) ([]float64, bool) {
	idx := -1
	for i, c := range r.Areas {
		if c == code {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}
	out := make([]float64, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = s.Levels[idx]
	}
	return out, true
}
