package main

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/srg/mioband/internal/session"
	"github.com/srg/mioband/internal/telemetry"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"

	phaseSearching  = "searching"
	phaseConnecting = "connecting"
	phaseDone       = "done"
)

// ProgressPrinter displays a progress line with elapsed time.
//
// Usage:
//
//	p := NewProgressPrinter(os.Stderr, ...)
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use. Start may be called at most once; Stop may be
// called any number of times. After Stop, the instance cannot be restarted.
type ProgressPrinter struct {
	out        io.Writer
	prefix     string
	phase      atomic.Value        // stores string - current phase name
	stopPhases map[string]struct{} // set of phases that trigger a graceful shutdown
	startTime  time.Time
	ticker     atomic.Pointer[time.Ticker]
	stopChan   chan struct{}
	done       chan struct{} // closed when goroutine exits
	started    atomic.Bool   // ensures Start is called at most once
}

// NewProgressPrinter creates a progress printer writing to out.
// stopPhases are phase names that will trigger automatic cleanup when set via Callback.
func NewProgressPrinter(out io.Writer, prefix string, phase string, stopPhases ...string) *ProgressPrinter {
	stopSet := make(map[string]struct{})
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	p := &ProgressPrinter{
		out:        out,
		prefix:     prefix,
		stopPhases: stopSet,
	}
	p.phase.Store(phase)
	return p
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once on the same ProgressPrinter instance.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}

	p.done = make(chan struct{})
	p.stopChan = make(chan struct{})
	p.startTime = time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	p.ticker.Store(ticker)

	p.printProgress(p.phase.Load().(string), 0)
	go p.loop(ticker, p.stopChan)
}

// printProgress displays a progress line with optional elapsed seconds
func (p *ProgressPrinter) printProgress(phase string, seconds int) {
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
	}
}

func (p *ProgressPrinter) loop(ticker *time.Ticker, stop <-chan struct{}) {
	defer close(p.done)

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			phase := p.phase.Load().(string)
			if _, isStopPhase := p.stopPhases[phase]; isStopPhase {
				return
			}
			p.printProgress(phase, int(time.Since(p.startTime).Seconds()))
		}
	}
}

// Callback returns a function that updates the phase.
// If the new phase is a stop phase, Stop() is called automatically.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, isStopPhase := p.stopPhases[phase]; isStopPhase {
			p.Stop()
		}
	}
}

// Stop stops the progress display and clears the line.
// Only the first call stops the ticker, waits for the goroutine and clears the line.
func (p *ProgressPrinter) Stop() {
	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		return
	}

	ticker.Stop()
	close(p.stopChan)
	<-p.done

	fmt.Fprint(p.out, clearLineSequence)
}

// progressSink shows a progress line while the session looks for the band.
// Sink methods are called from the session loop only.
type progressSink struct {
	session.Sink
	out     io.Writer
	prefix  string
	enabled bool
	printer *ProgressPrinter
}

func newProgressSink(sink session.Sink, out io.Writer, target string, enabled bool) *progressSink {
	return &progressSink{
		Sink:    sink,
		out:     out,
		prefix:  "Looking for " + target,
		enabled: enabled,
	}
}

func (p *progressSink) Status(text string) {
	switch {
	case text == session.StatusSearching:
		p.start()
	case strings.HasPrefix(text, "Connecting to "):
		p.setPhase(phaseConnecting)
	default:
		p.stop()
	}
	p.Sink.Status(text)
}

func (p *progressSink) Steps(steps uint32) {
	p.stop()
	p.Sink.Steps(steps)
}

func (p *progressSink) Battery(percent int) {
	p.stop()
	p.Sink.Battery(percent)
}

func (p *progressSink) HeartRate(bpm int, intensity telemetry.Intensity) {
	p.stop()
	p.Sink.HeartRate(bpm, intensity)
}

func (p *progressSink) start() {
	if !p.enabled || p.printer != nil {
		return
	}
	p.printer = NewProgressPrinter(p.out, p.prefix, phaseSearching, phaseDone)
	p.printer.Start()
}

func (p *progressSink) setPhase(phase string) {
	if p.printer != nil {
		p.printer.Callback()(phase)
	}
}

func (p *progressSink) stop() {
	if p.printer == nil {
		return
	}
	p.printer.Callback()(phaseDone)
	p.printer = nil
}
