package testutils

import (
	"sync"

	"github.com/srg/mioband/internal/telemetry"
)

// RecordingSink captures everything a session reports to the presentation shell.
type RecordingSink struct {
	mu          sync.Mutex
	statuses    []string
	steps       []uint32
	battery     []int
	heartRates  []int
	intensities []telemetry.Intensity
}

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (s *RecordingSink) Status(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, text)
}

func (s *RecordingSink) Steps(steps uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps)
}

func (s *RecordingSink) Battery(percent int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.battery = append(s.battery, percent)
}

func (s *RecordingSink) HeartRate(bpm int, intensity telemetry.Intensity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartRates = append(s.heartRates, bpm)
	s.intensities = append(s.intensities, intensity)
}

// Statuses returns a copy of every status line in order.
func (s *RecordingSink) Statuses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.statuses...)
}

// LastStatus returns the most recent status line or "".
func (s *RecordingSink) LastStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return ""
	}
	return s.statuses[len(s.statuses)-1]
}

func (s *RecordingSink) StepValues() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint32(nil), s.steps...)
}

func (s *RecordingSink) BatteryValues() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.battery...)
}

func (s *RecordingSink) HeartRateValues() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.heartRates...)
}

func (s *RecordingSink) Intensities() []telemetry.Intensity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]telemetry.Intensity(nil), s.intensities...)
}
