//go:build darwin

package goble

import (
	"github.com/go-ble/ble/darwin"
)

// DeviceFactory creates the platform radio (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (Radio, error) {
	dev, err := darwin.NewDevice()
	if err != nil {
		return nil, err
	}
	return dev, nil
}
