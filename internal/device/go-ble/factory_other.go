//go:build !darwin && !linux

package goble

import (
	"fmt"
	"runtime"

	"github.com/srg/mioband/internal/band"
)

//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (Radio, error) {
	return nil, fmt.Errorf("%w: no BLE backend for %s", band.ErrAdapterUnavailable, runtime.GOOS)
}
