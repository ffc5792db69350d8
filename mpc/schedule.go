package mpc

import (
	"fmt"
	"sort"
	"time"
)

// ScheduleEntry is the pump decision for one hour.
type ScheduleEntry struct {
	HourStart      time.Time
	Fraction       float64 // 0..1 of pump capacity
	Running        bool
	Level          float64 // m, expected level at the end of the hour
	PriceEURPerMWh float64
	EnergyMWh      float64
	ExpectedCost   float64 // EUR
}

// PumpSchedule is an immutable, hour-ordered list of pump decisions.
type PumpSchedule struct {
	entries     []ScheduleEntry
	totalCost   float64
	totalEnergy float64
}

func newSchedule(entries []ScheduleEntry) *PumpSchedule {
	s := &PumpSchedule{entries: entries}
	for _, e := range entries {
		s.totalCost += e.ExpectedCost
		s.totalEnergy += e.EnergyMWh
	}
	return s
}

// NewPumpSchedule builds a schedule from stored entries. Entries must have
// strictly increasing hour starts and fractions within [0, 1].
func NewPumpSchedule(entries []ScheduleEntry) (*PumpSchedule, error) {
	cp := make([]ScheduleEntry, len(entries))
	copy(cp, entries)
	for i, e := range cp {
		if e.Fraction < 0 || e.Fraction > 1 {
			return nil, fmt.Errorf("entry %d: fraction %g outside [0, 1]", i, e.Fraction)
		}
		if i > 0 && !e.HourStart.After(cp[i-1].HourStart) {
			return nil, fmt.Errorf("entry %d: hour %s not after %s", i, e.HourStart.Format(time.RFC3339), cp[i-1].HourStart.Format(time.RFC3339))
		}
		cp[i].Running = e.Fraction > 0
	}
	return newSchedule(cp), nil
}

// Entries returns a copy of the entries.
func (s *PumpSchedule) Entries() []ScheduleEntry {
	out := make([]ScheduleEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of hours in the schedule.
func (s *PumpSchedule) Len() int {
	return len(s.entries)
}

// TotalCost returns the expected energy cost in EUR.
func (s *PumpSchedule) TotalCost() float64 {
	return s.totalCost
}

// TotalEnergy returns the expected energy use in MWh.
func (s *PumpSchedule) TotalEnergy() float64 {
	return s.totalEnergy
}

// At returns the entry of the hour containing t.
func (s *PumpSchedule) At(t time.Time) (ScheduleEntry, bool) {
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].HourStart.After(t)
	})
	if i == 0 {
		return ScheduleEntry{}, false
	}
	e := s.entries[i-1]
	if !t.Before(e.HourStart.Add(time.Hour)) {
		return ScheduleEntry{}, false
	}
	return e, true
}
