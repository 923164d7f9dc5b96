package band

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverer_Classify(t *testing.T) {
	d := NewDiscoverer()

	chars := d.Classify("fee0", []CharacteristicInfo{
		{UUID: "ff0f", Capabilities: Writable | WritableWithoutResponse},
		{UUID: "ff06", Capabilities: Readable | Notifiable},
		{UUID: "ff01", Capabilities: Readable},
	})

	require.Len(t, chars, 3)
	assert.Equal(t, NotifyEnable, chars[0].Tag())
	assert.Equal(t, StepCount, chars[1].Tag())
	assert.Equal(t, Unknown, chars[2].Tag())
	assert.Equal(t, "FEE0", chars[0].Service(), "service MUST be taken from the report when the tuple omits it")
	assert.Equal(t, "FF06", chars[1].UUID())
	assert.Equal(t, Ref{Service: "FEE0", UUID: "FF06"}, chars[1].Ref())
	assert.Equal(t, "Realtime Steps", chars[1].Name())
	assert.Equal(t, "Mi Band Service", chars[1].ServiceName())
	assert.Equal(t, 1, d.Services())
	for _, c := range chars {
		assert.True(t, c.New, c.UUID())
	}
}

func TestDiscoverer_ClassificationIsImmutable(t *testing.T) {
	d := NewDiscoverer()

	first := d.Classify("fee0", []CharacteristicInfo{{UUID: "ff05", Capabilities: Writable}})
	again := d.Classify("fee1", []CharacteristicInfo{{UUID: "FF05", Capabilities: Readable}})

	require.Len(t, again, 1)
	assert.True(t, first[0].New)
	assert.False(t, again[0].New, "re-reported identifier MUST NOT be reported as new")
	assert.Same(t, first[0].Characteristic, again[0].Characteristic, "re-reported identifier MUST keep its original record")
	assert.Equal(t, MotorControl, again[0].Tag())
	assert.Equal(t, Writable, again[0].Capabilities())
	assert.Equal(t, 1, d.Len())
}

func TestDiscoverer_DuplicateWithinOneReport(t *testing.T) {
	d := NewDiscoverer()

	chars := d.Classify("fee0", []CharacteristicInfo{
		{UUID: "ff05", Capabilities: Writable},
		{UUID: "0xFF05", Capabilities: Writable},
	})

	require.Len(t, chars, 2)
	assert.True(t, chars[0].New)
	assert.False(t, chars[1].New)
	assert.Equal(t, 1, d.Len())
}

func TestDiscoverer_LookupAndOrder(t *testing.T) {
	d := NewDiscoverer()
	d.Classify("180d", []CharacteristicInfo{{UUID: "2a37", Capabilities: Notifiable}})
	d.Classify("fee0", []CharacteristicInfo{{UUID: "ff0c", Capabilities: Readable}, {UUID: "ff06", Capabilities: Readable}})

	char, ok := d.Lookup("0x2A37")
	require.True(t, ok)
	assert.Equal(t, HeartRate, char.Tag())

	_, ok = d.Lookup("ffff")
	assert.False(t, ok)

	var order []string
	for _, c := range d.Characteristics() {
		order = append(order, c.UUID())
	}
	assert.Equal(t, []string{"2A37", "FF0C", "FF06"}, order)
}
