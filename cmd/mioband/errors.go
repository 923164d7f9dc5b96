package main

import (
	"errors"
	"fmt"

	"github.com/srg/mioband/internal/band"
	"github.com/srg/mioband/internal/session"
)

// ErrUnknownCharacteristic is returned by decode for characteristics that carry no telemetry.
var ErrUnknownCharacteristic = errors.New("unknown characteristic")

// FormatUserError turns an error into a one-line message for the terminal.
func FormatUserError(err error) string {
	var berr *band.Error
	if !errors.As(err, &berr) {
		return err.Error()
	}

	switch berr.Kind {
	case band.AdapterOff:
		return session.StatusPoweredOff
	case band.AdapterUnavailable:
		return session.StatusUnsupported
	case band.DeviceNotFound:
		return withDetail("band not found", berr.Err)
	case band.MalformedPayload:
		if berr.UUID != "" {
			return withDetail(fmt.Sprintf("malformed %s payload", berr.UUID), berr.Err)
		}
		return withDetail("malformed payload", berr.Err)
	default:
		return err.Error()
	}
}

func withDetail(msg string, err error) string {
	if err == nil {
		return msg
	}
	return msg + ": " + err.Error()
}
