package band

import (
	"strings"

	"github.com/srg/mioband/internal/bledb"
)

// Tag is the role a characteristic plays in the band protocol.
type Tag int

const (
	Unknown Tag = iota
	NotifyEnable
	StepCount
	Battery
	MotorControl
	HeartRate
)

func (t Tag) String() string {
	switch t {
	case NotifyEnable:
		return "NotifyEnable"
	case StepCount:
		return "StepCount"
	case Battery:
		return "Battery"
	case MotorControl:
		return "MotorControl"
	case HeartRate:
		return "HeartRate"
	default:
		return "Unknown"
	}
}

// Known characteristic identifiers, canonical form.
const (
	NotifyEnableUUID = "FF0F"
	StepCountUUID    = "FF06"
	BatteryUUID      = "FF0C"
	MotorControlUUID = "FF05"
	HeartRateUUID    = "2A37"
)

var knownTags = map[string]Tag{
	NotifyEnableUUID: NotifyEnable,
	StepCountUUID:    StepCount,
	BatteryUUID:      Battery,
	MotorControlUUID: MotorControl,
	HeartRateUUID:    HeartRate,
}

// CanonicalUUID returns the upper-case short form used by the identifier table.
// Inputs that are not valid UUIDs are upper-cased as-is so they still compare stably.
func CanonicalUUID(uuid string) string {
	if n := bledb.NormalizeUUID(uuid); n != "" {
		return strings.ToUpper(n)
	}
	return strings.ToUpper(strings.TrimSpace(uuid))
}

// Classify maps a characteristic identifier to its tag by exact match on the canonical form.
func Classify(uuid string) Tag {
	if tag, ok := knownTags[CanonicalUUID(uuid)]; ok {
		return tag
	}
	return Unknown
}

// KnownUUIDs returns the identifier table keys in a stable order.
func KnownUUIDs() []string {
	return []string{NotifyEnableUUID, StepCountUUID, BatteryUUID, MotorControlUUID, HeartRateUUID}
}
