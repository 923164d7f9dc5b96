package session

import (
	"bytes"
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/mioband/internal/band"
	"github.com/srg/mioband/internal/command"
)

// Action is what the Dispatcher did for a classified characteristic.
type Action int

const (
	ActionNone Action = iota
	ActionRead
	ActionWrite
	ActionWriteThenDelayedWrite
)

func (a Action) String() string {
	switch a {
	case ActionRead:
		return "read"
	case ActionWrite:
		return "write"
	case ActionWriteThenDelayedWrite:
		return "write_then_delayed_write"
	default:
		return "none"
	}
}

// commandRun tracks a command in flight against one characteristic.
type commandRun struct {
	ref      band.Ref
	cmd      command.Command
	next     int  // index of the next step to write
	awaiting bool // waiting for the acknowledgement of step next-1
	task     uint64
	timer    Timer
}

// Dispatcher issues the discovery-time action for each classified characteristic
// of one connection. It is owned by the session loop and is not safe for
// concurrent use; only the timer callbacks run elsewhere, and they touch nothing
// but the post function.
type Dispatcher struct {
	deviceID   string
	generation uint64
	ctx        context.Context
	adapter    Adapter
	clock      Clock
	post       func(Event)
	motorDelay time.Duration
	logger     *logrus.Logger

	running  map[string]*commandRun
	tasks    map[uint64]*commandRun
	nextTask uint64
}

func newDispatcher(ctx context.Context, deviceID string, generation uint64, adapter Adapter, clock Clock, post func(Event), motorDelay time.Duration, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		deviceID:   deviceID,
		generation: generation,
		ctx:        ctx,
		adapter:    adapter,
		clock:      clock,
		post:       post,
		motorDelay: motorDelay,
		logger:     logger,
		running:    make(map[string]*commandRun),
		tasks:      make(map[uint64]*commandRun),
	}
}

// Dispatch performs the single discovery-time action for char.
func (d *Dispatcher) Dispatch(char *band.Characteristic) Action {
	switch char.Tag() {
	case band.StepCount, band.Battery, band.HeartRate:
		if err := d.adapter.Read(d.deviceID, char.Ref()); err != nil {
			d.logFailure(band.OperationFailed(string(OpRead), char.UUID(), err))
		}
		return ActionRead
	case band.NotifyEnable, band.MotorControl:
		cmd, _ := command.ForTag(char.Tag(), d.motorDelay)
		d.start(char.Ref(), cmd)
		if cmd.Len() > 1 {
			return ActionWriteThenDelayedWrite
		}
		return ActionWrite
	default:
		return ActionNone
	}
}

// Pending returns the number of commands that still have steps to write.
func (d *Dispatcher) Pending() int {
	return len(d.running)
}

func (d *Dispatcher) start(ref band.Ref, cmd command.Command) {
	if prev, ok := d.running[ref.UUID]; ok {
		d.logger.WithFields(logrus.Fields{
			"char_uuid": ref.UUID,
			"command":   prev.cmd.Name,
		}).Debug("Replacing unfinished command")
		d.stop(prev)
	}

	run := &commandRun{ref: ref, cmd: cmd}
	d.running[ref.UUID] = run

	d.logger.WithFields(logrus.Fields{
		"char_uuid": ref.UUID,
		"command":   cmd.Name,
		"steps":     cmd.Len(),
	}).Debug("Starting command")
	d.writeStep(run)
}

func (d *Dispatcher) writeStep(run *commandRun) {
	step := run.cmd.Steps[run.next]
	run.next++

	d.logger.WithFields(logrus.Fields{
		"char_uuid":     run.ref.UUID,
		"command":       run.cmd.Name,
		"step":          run.next,
		"payload":       string(step.Payload),
		"with_response": step.WithResponse,
	}).Debug("Writing command step")

	if err := d.adapter.Write(d.deviceID, run.ref, step.Payload, step.WithResponse); err != nil {
		d.logFailure(band.OperationFailed(string(OpWrite), run.ref.UUID, err))
		d.stop(run)
		return
	}

	if step.WithResponse {
		run.awaiting = true
		return
	}
	d.advance(run, step.Delay)
}

// advance writes or schedules the next step of run once the previous one is done.
func (d *Dispatcher) advance(run *commandRun, delay time.Duration) {
	if run.next >= run.cmd.Len() {
		d.stop(run)
		return
	}
	if delay <= 0 {
		d.writeStep(run)
		return
	}

	d.nextTask++
	task := d.nextTask
	run.task = task
	d.tasks[task] = run

	ctx, post := d.ctx, d.post
	deviceID, generation := d.deviceID, d.generation
	run.timer = d.clock.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		post(Event{Kind: eventTimerFired, DeviceID: deviceID, generation: generation, task: task})
	})

	d.logger.WithFields(logrus.Fields{
		"char_uuid": run.ref.UUID,
		"command":   run.cmd.Name,
		"delay":     delay,
	}).Debug("Scheduled delayed command step")
}

// OnWriteCompleted advances the command waiting on this acknowledgement.
func (d *Dispatcher) OnWriteCompleted(ev Event) {
	run, ok := d.running[ev.Ref.UUID]
	if !ok || !run.awaiting || !bytes.Equal(ev.Data, run.cmd.Steps[run.next-1].Payload) {
		if ev.Err != nil {
			d.logFailure(band.OperationFailed(string(OpWrite), ev.Ref.UUID, ev.Err))
			return
		}
		d.logger.WithFields(logrus.Fields{
			"char_uuid": ev.Ref.UUID,
			"payload":   string(ev.Data),
		}).Debug("Write completed")
		return
	}

	run.awaiting = false
	if ev.Err != nil {
		d.logFailure(band.OperationFailed(string(OpWrite), ev.Ref.UUID, ev.Err))
		d.stop(run)
		return
	}

	d.logger.WithFields(logrus.Fields{
		"char_uuid": ev.Ref.UUID,
		"command":   run.cmd.Name,
		"step":      run.next,
	}).Debug("Command step acknowledged")
	d.advance(run, run.cmd.Steps[run.next-1].Delay)
}

// OnTimer writes the step a fired timer was scheduled for. Unknown tasks were cancelled.
func (d *Dispatcher) OnTimer(task uint64) {
	run, ok := d.tasks[task]
	if !ok {
		d.logger.WithField("task", task).Debug("Dropping cancelled command step")
		return
	}
	delete(d.tasks, task)
	run.task = 0
	run.timer = nil

	if d.ctx.Err() != nil {
		d.logger.WithField("char_uuid", run.ref.UUID).Debug("Dropping command step for closed connection")
		d.stop(run)
		return
	}
	d.writeStep(run)
}

// Cancel stops every pending timer and forgets all unfinished commands.
func (d *Dispatcher) Cancel() {
	for _, run := range d.running {
		if run.timer != nil {
			run.timer.Stop()
		}
	}
	if n := len(d.running); n > 0 {
		d.logger.WithField("commands", n).Debug("Cancelled unfinished commands")
	}
	d.running = make(map[string]*commandRun)
	d.tasks = make(map[uint64]*commandRun)
}

func (d *Dispatcher) stop(run *commandRun) {
	if run.timer != nil {
		run.timer.Stop()
		run.timer = nil
	}
	if run.task != 0 {
		delete(d.tasks, run.task)
		run.task = 0
	}
	if d.running[run.ref.UUID] == run {
		delete(d.running, run.ref.UUID)
	}
}

func (d *Dispatcher) logFailure(err error) {
	d.logger.WithFields(logrus.Fields{
		"device": d.deviceID,
		"error":  err,
	}).Warn("Characteristic operation failed")
}
