package hydro

// Drooglegging returns the vertical distance between ground level and water
// level. Negative values mean the ground is inundated.
func Drooglegging(groundLevel, waterLevel float64) (float64, error) {
	if !IsFinite(groundLevel) {
		return 0, invalid("ground_level", groundLevel, "must be finite")
	}
	if !IsFinite(waterLevel) {
		return 0, invalid("water_level", waterLevel, "must be finite")
	}
	return groundLevel - waterLevel, nil
}
