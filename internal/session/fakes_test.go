package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/srg/mioband/internal/band"
)

// recordingAdapter records every command in issue order.
type recordingAdapter struct {
	mu    sync.Mutex
	calls []string
	errs  map[string]error // by method name
}

func newRecordingAdapter() *recordingAdapter {
	return &recordingAdapter{errs: make(map[string]error)}
}

func (a *recordingAdapter) record(method string, args ...string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	call := method
	if len(args) > 0 {
		call += " " + strings.Join(args, " ")
	}
	a.calls = append(a.calls, call)
	return a.errs[method]
}

func (a *recordingAdapter) failOn(method string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs[method] = err
}

func (a *recordingAdapter) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

// count returns how many calls start with prefix.
func (a *recordingAdapter) count(prefix string) int {
	n := 0
	for _, c := range a.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// index returns the position of the first call equal to call, or -1.
func (a *recordingAdapter) index(call string) int {
	for i, c := range a.Calls() {
		if c == call {
			return i
		}
	}
	return -1
}

func (a *recordingAdapter) StartScan() error { return a.record("StartScan") }
func (a *recordingAdapter) StopScan() error  { return a.record("StopScan") }

func (a *recordingAdapter) Connect(deviceID string) error {
	return a.record("Connect", deviceID)
}

func (a *recordingAdapter) CancelConnection(deviceID string) error {
	return a.record("CancelConnection", deviceID)
}

func (a *recordingAdapter) DiscoverServices(deviceID string) error {
	return a.record("DiscoverServices", deviceID)
}

func (a *recordingAdapter) DiscoverCharacteristics(deviceID, service string) error {
	return a.record("DiscoverCharacteristics", deviceID, service)
}

func (a *recordingAdapter) Subscribe(deviceID string, ref band.Ref) error {
	return a.record("Subscribe", deviceID, ref.UUID)
}

func (a *recordingAdapter) Read(deviceID string, ref band.Ref) error {
	return a.record("Read", deviceID, ref.UUID)
}

func (a *recordingAdapter) Write(deviceID string, ref band.Ref, data []byte, withResponse bool) error {
	mode := "norsp"
	if withResponse {
		mode = "rsp"
	}
	return a.record("Write", deviceID, ref.UUID, fmt.Sprintf("%q", data), mode)
}

// manualClock hands out timers that only fire when the test says so.
type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{delay: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Timers() []*manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*manualTimer(nil), c.timers...)
}

// FireAll runs every timer that was neither stopped nor fired.
func (c *manualClock) FireAll() int {
	n := 0
	for _, t := range c.Timers() {
		if t.stopped || t.fired {
			continue
		}
		t.fired = true
		t.f()
		n++
	}
	return n
}
