package telemetry

import (
	"fmt"

	"github.com/srg/mioband/internal/band"
)

// Field identifies which Snapshot value a Reading changed.
type Field int

const (
	FieldSteps Field = iota
	FieldBattery
	FieldHeartRate
)

func (f Field) String() string {
	switch f {
	case FieldSteps:
		return "steps"
	case FieldBattery:
		return "battery"
	case FieldHeartRate:
		return "heart_rate"
	default:
		return "unknown"
	}
}

// Snapshot holds the most recently decoded values. Only Apply writes to it.
type Snapshot struct {
	steps        uint32
	battery      int
	heartRate    int
	hasSteps     bool
	hasBattery   bool
	hasHeartRate bool
}

// Steps returns the step count and whether one has been decoded.
func (s *Snapshot) Steps() (uint32, bool) {
	return s.steps, s.hasSteps
}

// Battery returns the battery percentage and whether one has been decoded.
func (s *Snapshot) Battery() (int, bool) {
	return s.battery, s.hasBattery
}

// HeartRate returns the bpm and whether a measurement has arrived.
func (s *Snapshot) HeartRate() (int, bool) {
	return s.heartRate, s.hasHeartRate
}

// Reading is the outcome of one successful decode.
type Reading struct {
	Field     Field
	Steps     uint32
	Battery   int
	HeartRate int
}

// Intensity returns the display intensity for heart-rate readings.
func (r Reading) Intensity() Intensity {
	return HeartRateIntensity(r.HeartRate)
}

func (r Reading) String() string {
	switch r.Field {
	case FieldSteps:
		return fmt.Sprintf("%d steps", r.Steps)
	case FieldBattery:
		return fmt.Sprintf("%d %% charged", r.Battery)
	case FieldHeartRate:
		return fmt.Sprintf("%d bpm", r.HeartRate)
	default:
		return ""
	}
}

// Apply decodes data produced by a characteristic with the given tag and, on success,
// updates exactly one field of snap. On failure snap is left unchanged.
func Apply(snap *Snapshot, tag band.Tag, data []byte) (Reading, error) {
	switch tag {
	case band.StepCount:
		steps, err := DecodeSteps(data)
		if err != nil {
			return Reading{}, err
		}
		snap.steps, snap.hasSteps = steps, true
		return Reading{Field: FieldSteps, Steps: steps}, nil
	case band.Battery:
		level, err := DecodeBattery(data)
		if err != nil {
			return Reading{}, err
		}
		snap.battery, snap.hasBattery = level, true
		return Reading{Field: FieldBattery, Battery: level}, nil
	case band.HeartRate:
		bpm, err := DecodeHeartRate(data)
		if err != nil {
			return Reading{}, err
		}
		snap.heartRate, snap.hasHeartRate = bpm, true
		return Reading{Field: FieldHeartRate, HeartRate: bpm}, nil
	default:
		return Reading{}, fmt.Errorf("%s: %w", tag, ErrNoTelemetry)
	}
}
