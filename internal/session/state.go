package session

// State is the position of the session in the connect-and-discover sequence.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateConnecting
	StateConnected
	StateDiscoveringServices
	StateDiscoveringCharacteristics
	StateReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDiscoveringServices:
		return "discovering_services"
	case StateDiscoveringCharacteristics:
		return "discovering_characteristics"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// PowerState is the radio state reported by the adapter. It overlays State.
type PowerState int

const (
	PowerUnknown PowerState = iota
	PowerResetting
	PowerUnsupported
	PowerUnauthorized
	PoweredOff
	PoweredOn
)

func (p PowerState) String() string {
	switch p {
	case PowerResetting:
		return "resetting"
	case PowerUnsupported:
		return "unsupported"
	case PowerUnauthorized:
		return "unauthorized"
	case PoweredOff:
		return "powered_off"
	case PoweredOn:
		return "powered_on"
	default:
		return "unknown"
	}
}

// Description is the human-readable adapter state used in logs and status text.
func (p PowerState) Description() string {
	switch p {
	case PowerResetting:
		return "Bluetooth hardware is resetting"
	case PowerUnsupported:
		return "Bluetooth LE hardware is unsupported on this platform"
	case PowerUnauthorized:
		return "Bluetooth state is unauthorized"
	case PoweredOff:
		return "Bluetooth hardware is powered off"
	case PoweredOn:
		return "Bluetooth hardware is powered on and ready"
	default:
		return "Bluetooth state is unknown"
	}
}

// Status lines shown by the presentation shell.
const (
	StatusSearching   = "Searching"
	StatusPoweredOff  = "Please turn on Bluetooth and retry"
	StatusUnsupported = "This machine does not support Bluetooth LE"
	StatusWaiting     = "Waiting for Bluetooth"
)

func statusConnecting(name string) string   { return "Connecting to " + name }
func statusConnected(name string) string    { return "Connected to " + name }
func statusDisconnected(name string) string { return "Disconnected from " + name }
func statusConnectFailed(name string) string {
	return "Connection to " + name + " failed"
}
