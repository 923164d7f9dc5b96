package session

import (
	"github.com/srg/mioband/internal/band"
)

// EventKind enumerates everything the session reacts to.
type EventKind int

const (
	EventPowerChanged EventKind = iota
	EventDeviceFound
	EventConnected
	EventConnectFailed
	EventDisconnected
	EventServicesDiscovered
	EventCharacteristicsDiscovered
	EventValueUpdated
	EventWriteCompleted
	EventOperationFailed

	eventRefresh
	eventTimerFired
)

func (k EventKind) String() string {
	switch k {
	case EventPowerChanged:
		return "power_changed"
	case EventDeviceFound:
		return "device_found"
	case EventConnected:
		return "connected"
	case EventConnectFailed:
		return "connect_failed"
	case EventDisconnected:
		return "disconnected"
	case EventServicesDiscovered:
		return "services_discovered"
	case EventCharacteristicsDiscovered:
		return "characteristics_discovered"
	case EventValueUpdated:
		return "value_updated"
	case EventWriteCompleted:
		return "write_completed"
	case EventOperationFailed:
		return "operation_failed"
	case eventRefresh:
		return "refresh"
	case eventTimerFired:
		return "timer_fired"
	default:
		return "unknown"
	}
}

// Operation names a characteristic operation in OperationFailed events.
type Operation string

const (
	OpSubscribe Operation = "subscribe"
	OpRead      Operation = "read"
	OpWrite     Operation = "write"
)

// Event is one message from the adapter (or from the session itself).
// Only the fields relevant to Kind are set.
type Event struct {
	Kind            EventKind
	Power           PowerState
	DeviceID        string
	Name            string
	Services        []string
	Service         string
	Characteristics []band.CharacteristicInfo
	Ref             band.Ref
	Data            []byte
	Op              Operation
	Err             error

	generation uint64
	task       uint64
}

func PowerChanged(p PowerState) Event {
	return Event{Kind: EventPowerChanged, Power: p}
}

func DeviceFound(deviceID, name string) Event {
	return Event{Kind: EventDeviceFound, DeviceID: deviceID, Name: name}
}

func Connected(deviceID string) Event {
	return Event{Kind: EventConnected, DeviceID: deviceID}
}

func ConnectFailed(deviceID string, err error) Event {
	return Event{Kind: EventConnectFailed, DeviceID: deviceID, Err: err}
}

func Disconnected(deviceID string, err error) Event {
	return Event{Kind: EventDisconnected, DeviceID: deviceID, Err: err}
}

func ServicesDiscovered(deviceID string, services []string, err error) Event {
	return Event{Kind: EventServicesDiscovered, DeviceID: deviceID, Services: services, Err: err}
}

func CharacteristicsDiscovered(deviceID, service string, chars []band.CharacteristicInfo, err error) Event {
	return Event{Kind: EventCharacteristicsDiscovered, DeviceID: deviceID, Service: service, Characteristics: chars, Err: err}
}

func ValueUpdated(deviceID string, ref band.Ref, data []byte, err error) Event {
	return Event{Kind: EventValueUpdated, DeviceID: deviceID, Ref: ref, Data: data, Err: err}
}

func WriteCompleted(deviceID string, ref band.Ref, data []byte, err error) Event {
	return Event{Kind: EventWriteCompleted, DeviceID: deviceID, Ref: ref, Data: data, Err: err}
}

func OperationFailed(deviceID string, ref band.Ref, op Operation, err error) Event {
	return Event{Kind: EventOperationFailed, DeviceID: deviceID, Ref: ref, Op: op, Err: err}
}
