// Package bledb maps GATT UUIDs to human-readable names for the services and
// characteristics exposed by the band, and normalizes UUID strings into the
// form used as lookup keys throughout the module.
package bledb

import (
	"encoding/hex"
	"strings"
)

// sigBaseSuffix is the tail shared by every UUID derived from the Bluetooth SIG base UUID.
const sigBaseSuffix = "00001000800000805f9b34fb"

var services = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery Service",
	"fee0": "Mi Band Service",
	"fee1": "Mi Band Auxiliary Service",
	"fee7": "Vendor Pedometer Service",
}

var characteristics = map[string]string{
	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a05": "Service Changed",
	"2a19": "Battery Level",
	"2a37": "Heart Rate Measurement",
	"2a38": "Body Sensor Location",
	"2a39": "Heart Rate Control Point",
	"ff01": "Device Info",
	"ff02": "Device Name",
	"ff03": "Notification",
	"ff04": "User Info",
	"ff05": "Control Point",
	"ff06": "Realtime Steps",
	"ff07": "Activity Data",
	"ff08": "Firmware Data",
	"ff09": "LE Params",
	"ff0a": "Date Time",
	"ff0b": "Statistics",
	"ff0c": "Battery",
	"ff0d": "Test",
	"ff0e": "Sensor Data",
	"ff0f": "Pair",
}

// NormalizeUUID converts a UUID string to the internal lookup form (lowercase, no dashes).
// It strips braces and a 0x prefix, and collapses UUIDs built on the Bluetooth SIG base
// (0000xxxx-0000-1000-8000-00805f9b34fb) to their 16-bit short form.
// Returns "" if the input is not a 16, 32 or 128-bit hex UUID.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.Trim(s, "{}")
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")

	switch len(s) {
	case 4, 8, 32:
	default:
		return ""
	}
	if _, err := hex.DecodeString(s); err != nil {
		return ""
	}

	if len(s) == 32 && strings.HasSuffix(s, sigBaseSuffix) && strings.HasPrefix(s, "0000") {
		return s[4:8]
	}
	return s
}

// LookupService returns the known name of a service or "" when unknown.
func LookupService(uuid string) string {
	return services[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the known name of a characteristic or "" when unknown.
func LookupCharacteristic(uuid string) string {
	return characteristics[NormalizeUUID(uuid)]
}
