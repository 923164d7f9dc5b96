package band

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures of the band protocol layers.
type ErrorKind string

const (
	AdapterUnavailable            ErrorKind = "adapter_unavailable"
	AdapterOff                    ErrorKind = "adapter_off"
	DeviceNotFound                ErrorKind = "device_not_found"
	MalformedPayload              ErrorKind = "malformed_payload"
	CharacteristicOperationFailed ErrorKind = "characteristic_operation_failed"
)

// Error is a protocol failure of a given kind. Op and UUID are optional context.
type Error struct {
	Kind ErrorKind
	Op   string
	UUID string
	Err  error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Op)
	}
	if e.UUID != "" {
		msg = fmt.Sprintf("%s %s", msg, e.UUID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Predefined sentinel errors, one per kind
var (
	ErrAdapterUnavailable            = &Error{Kind: AdapterUnavailable}
	ErrAdapterOff                    = &Error{Kind: AdapterOff}
	ErrDeviceNotFound                = &Error{Kind: DeviceNotFound}
	ErrMalformedPayload              = &Error{Kind: MalformedPayload}
	ErrCharacteristicOperationFailed = &Error{Kind: CharacteristicOperationFailed}
)

// Malformed builds a MalformedPayload error for the given characteristic.
func Malformed(uuid string, format string, args ...interface{}) error {
	return &Error{Kind: MalformedPayload, UUID: uuid, Err: fmt.Errorf(format, args...)}
}

// OperationFailed wraps an adapter rejection of a read, write or subscribe.
func OperationFailed(op, uuid string, err error) error {
	return &Error{Kind: CharacteristicOperationFailed, Op: op, UUID: uuid, Err: err}
}

// IsKind reports whether err is an Error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var berr *Error
	if errors.As(err, &berr) {
		return berr.Kind == kind
	}
	return false
}
