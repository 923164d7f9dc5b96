// Package command builds the outgoing write sequences for the band's control
// characteristics. Every payload is a fixed ASCII literal.
package command

import (
	"time"

	"github.com/srg/mioband/internal/band"
)

const (
	notifyEnablePayload = "2"
	motorStartPayload   = "8, 2"
	motorStopPayload    = "19"
)

// Step is one payload written to a characteristic. Delay is the pause after this
// step completes and before the next step is written.
type Step struct {
	Target       band.Tag
	Payload      []byte
	WithResponse bool
	Delay        time.Duration
}

// Command is an ordered sequence of steps, consumed once.
type Command struct {
	Name  string
	Steps []Step
}

// Len returns the number of steps.
func (c Command) Len() int {
	return len(c.Steps)
}

// ASCII returns a fresh payload holding the bytes of s.
func ASCII(s string) []byte {
	return []byte(s)
}

// NotifyEnable turns on the band's data channel. Fire-and-forget.
func NotifyEnable() Command {
	return Command{
		Name: "notify-enable",
		Steps: []Step{
			{Target: band.NotifyEnable, Payload: ASCII(notifyEnablePayload)},
		},
	}
}

// MotorControl drives the vibration motor: start, wait delay after the
// acknowledgement, then the follow-up payload.
func MotorControl(delay time.Duration) Command {
	return Command{
		Name: "motor-control",
		Steps: []Step{
			{Target: band.MotorControl, Payload: ASCII(motorStartPayload), WithResponse: true, Delay: delay},
			{Target: band.MotorControl, Payload: ASCII(motorStopPayload), WithResponse: true},
		},
	}
}

// ForTag returns the write command for a tag, if the tag is driven by writes.
func ForTag(tag band.Tag, motorDelay time.Duration) (Command, bool) {
	switch tag {
	case band.NotifyEnable:
		return NotifyEnable(), true
	case band.MotorControl:
		return MotorControl(motorDelay), true
	default:
		return Command{}, false
	}
}
