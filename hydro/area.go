// Package hydro holds the single-area water model: the Peilgebied data type,
// the water balance step and the drainage depth calculation.
//
// Everything in this package is pure. Callers own the area values and decide
// when to write a computed Balance back into them.
package hydro

import (
	"math"
	"time"
)

// Area is a Peilgebied: a water-level management area with a target level
// and a storage surface.
type Area struct {
	Code              string
	TargetLevelSummer float64  // m
	TargetLevelWinter float64  // m
	FixedLevel        *float64 // m, rigid areas report this level regardless of volume
	SurfaceArea       float64  // m², must be > 0
	BedLevel          float64  // m, level at which the storage volume is zero
	GroundLevel       *float64 // m, reference for drooglegging
	CurrentLevel      float64  // m
	CurrentVolume     float64  // m³
}

// Validate checks the invariants of an area.
func (a Area) Validate() error {
	if !IsFinite(a.SurfaceArea) || a.SurfaceArea <= 0 {
		return invalid(a.Code+".surface_area", a.SurfaceArea, "must be finite and > 0")
	}
	if !IsFinite(a.CurrentLevel) {
		return invalid(a.Code+".current_level", a.CurrentLevel, "must be finite")
	}
	if !IsFinite(a.CurrentVolume) || a.CurrentVolume < 0 {
		return invalid(a.Code+".current_volume", a.CurrentVolume, "must be finite and >= 0")
	}
	if !IsFinite(a.BedLevel) {
		return invalid(a.Code+".bed_level", a.BedLevel, "must be finite")
	}
	if !IsFinite(a.TargetLevelSummer) {
		return invalid(a.Code+".target_level_summer", a.TargetLevelSummer, "must be finite")
	}
	if !IsFinite(a.TargetLevelWinter) {
		return invalid(a.Code+".target_level_winter", a.TargetLevelWinter, "must be finite")
	}
	if a.FixedLevel != nil && !IsFinite(*a.FixedLevel) {
		return invalid(a.Code+".fixed_level", *a.FixedLevel, "must be finite")
	}
	if a.GroundLevel != nil && !IsFinite(*a.GroundLevel) {
		return invalid(a.Code+".ground_level", *a.GroundLevel, "must be finite")
	}
	return nil
}

// Rigid reports whether the area has a fixed level override.
func (a Area) Rigid() bool {
	return a.FixedLevel != nil
}

// TargetLevel returns the level the area is managed towards at time t.
// The summer target applies from 1 April to 30 September.
func (a Area) TargetLevel(t time.Time) float64 {
	if a.FixedLevel != nil {
		return *a.FixedLevel
	}
	if IsSummer(t) {
		return a.TargetLevelSummer
	}
	return a.TargetLevelWinter
}

// IsSummer reports whether t falls in the summer target-level season.
func IsSummer(t time.Time) bool {
	m := t.UTC().Month()
	return m >= time.April && m <= time.September
}

// VolumeAtLevel returns the storage volume for the given level.
func (a Area) VolumeAtLevel(level float64) float64 {
	return math.Max(0, level-a.BedLevel) * a.SurfaceArea
}

// LevelAtVolume returns the level the area reports for the given volume.
func (a Area) LevelAtVolume(volume float64) float64 {
	if a.FixedLevel != nil {
		return *a.FixedLevel
	}
	return a.BedLevel + volume/a.SurfaceArea
}

// Drooglegging returns the drainage depth at the current level. ok is false
// when the area has no ground level reference.
func (a Area) Drooglegging() (depth float64, ok bool, err error) {
	if a.GroundLevel == nil {
		return 0, false, nil
	}
	depth, err = Drooglegging(*a.GroundLevel, a.CurrentLevel)
	return depth, err == nil, err
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
