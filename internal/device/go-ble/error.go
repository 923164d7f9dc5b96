package goble

import (
	"fmt"
	"strings"

	"github.com/srg/mioband/internal/band"
)

// NormalizeError maps known go-ble error strings to band error kinds.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", band.ErrAdapterOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "powered off"):
		return fmt.Errorf("%w: %v", band.ErrAdapterOff, err)
	case containsIgnoreCase(msg, "have=2"),
		containsIgnoreCase(msg, "have=3"),
		containsIgnoreCase(msg, "not supported"),
		containsIgnoreCase(msg, "no devices available"),
		containsIgnoreCase(msg, "can't init hci"):
		return fmt.Errorf("%w: %v", band.ErrAdapterUnavailable, err)
	default:
		return err
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
