package telemetry

// Intensity is a display colour derived from a heart rate, as fractions in [0,1].
type Intensity struct {
	Red, Green, Blue float64
}

// HeartRateIntensity ramps blue first, then green, then red as bpm rises.
func HeartRateIntensity(bpm int) Intensity {
	return Intensity{
		Red:   clampUnit(float64(bpm) / 255),
		Green: clampUnit(float64(bpm) / 128),
		Blue:  clampUnit(float64(bpm) / 64),
	}
}

// RGB scales the fractions to 0-255 channel values.
func (i Intensity) RGB() (r, g, b int) {
	return int(i.Red*255 + 0.5), int(i.Green*255 + 0.5), int(i.Blue*255 + 0.5)
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
