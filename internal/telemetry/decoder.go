// Package telemetry decodes raw characteristic values into band telemetry and
// owns the Snapshot those values are written to.
package telemetry

import (
	"encoding/binary"
	"errors"

	"github.com/srg/mioband/internal/band"
)

const (
	// StepWidth is the width in bytes of the little-endian step counter.
	StepWidth = 4

	// batteryWidth is the widest prefix read before masking the battery level.
	batteryWidth = 4

	// heartRateMinLen covers the flags byte and the 8-bit measurement.
	heartRateMinLen = 2

	batteryMask = 0xFF
	maxBattery  = 100
)

// ErrNoTelemetry is returned by Apply for characteristics that carry no telemetry.
var ErrNoTelemetry = errors.New("characteristic carries no telemetry")

// DecodeSteps reads the step counter as a little-endian unsigned integer.
// Bytes beyond StepWidth are ignored.
func DecodeSteps(data []byte) (uint32, error) {
	if len(data) < StepWidth {
		return 0, band.Malformed(band.StepCountUUID, "step count needs %d bytes, got %d", StepWidth, len(data))
	}
	return binary.LittleEndian.Uint32(data[:StepWidth]), nil
}

// EncodeSteps is the inverse of DecodeSteps.
func EncodeSteps(n uint32) []byte {
	buf := make([]byte, StepWidth)
	binary.LittleEndian.PutUint32(buf, n)
	return buf
}

// DecodeBattery reads up to four little-endian bytes and keeps the low byte.
// The band echoes status bits in the upper bytes. A masked level above 100 is
// reported as band.ErrMalformedPayload rather than displayed, so the snapshot keeps
// its previous battery value.
func DecodeBattery(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, band.Malformed(band.BatteryUUID, "battery level is empty")
	}
	var raw [batteryWidth]byte
	copy(raw[:], data)
	level := int(binary.LittleEndian.Uint32(raw[:]) & batteryMask)
	if level > maxBattery {
		return 0, band.Malformed(band.BatteryUUID, "battery level %d out of range", level)
	}
	return level, nil
}

// DecodeHeartRate reads a heart rate measurement record; the bpm is the second byte.
func DecodeHeartRate(data []byte) (int, error) {
	if len(data) < heartRateMinLen {
		return 0, band.Malformed(band.HeartRateUUID, "heart rate needs %d bytes, got %d", heartRateMinLen, len(data))
	}
	return int(data[1]), nil
}
