package session

import (
	"time"

	"github.com/srg/mioband/internal/band"
	"github.com/srg/mioband/internal/telemetry"
)

// Adapter accepts commands for the BLE radio. Commands return once issued;
// their outcomes arrive later as Events. A returned error means the command
// could not be issued at all.
type Adapter interface {
	StartScan() error
	StopScan() error
	Connect(deviceID string) error
	CancelConnection(deviceID string) error
	DiscoverServices(deviceID string) error
	DiscoverCharacteristics(deviceID, service string) error
	Subscribe(deviceID string, ref band.Ref) error
	Read(deviceID string, ref band.Ref) error
	Write(deviceID string, ref band.Ref, data []byte, withResponse bool) error
}

// Sink receives what the presentation shell displays.
type Sink interface {
	Status(text string)
	Steps(steps uint32)
	Battery(percent int)
	HeartRate(bpm int, intensity telemetry.Intensity)
}

// Timer is a scheduled callback that can be stopped before it fires.
type Timer interface {
	Stop() bool
}

// Clock schedules deferred callbacks.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
