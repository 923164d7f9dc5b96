// Package session drives one band from scan to steady-state telemetry.
//
// A Session consumes adapter Events one at a time on a single goroutine (Run) and
// reacts by issuing Adapter commands. All session state, including the telemetry
// Snapshot, is owned by that goroutine; the presentation shell only sees values
// pushed to its Sink. Deferred command steps are timer callbacks that post an
// event back into the loop, tagged with the connection they belong to, so a step
// scheduled for a torn-down connection is dropped rather than written.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/mioband/internal/band"
	"github.com/srg/mioband/internal/telemetry"
)

// DefaultMotorDelay is the pause between the two motor-control writes.
const DefaultMotorDelay = 10 * time.Millisecond

const internalQueueSize = 16

// Options configures a Session.
type Options struct {
	TargetName string        // advertised name to connect to, matched exactly
	MotorDelay time.Duration // pause between motor-control writes; zero writes on acknowledgement, negative means DefaultMotorDelay
	Clock      Clock         // nil means wall-clock timers
}

// link is the single active device and everything scoped to its lifetime.
type link struct {
	id         string
	name       string
	generation uint64
	ctx        context.Context
	cancel     context.CancelFunc
	discoverer *band.Discoverer
	dispatcher *Dispatcher
	pending    int // service characteristic discoveries still outstanding
}

// Session is the connection state machine.
type Session struct {
	opts    Options
	adapter Adapter
	sink    Sink
	clock   Clock
	logger  *logrus.Logger

	state       State
	power       PowerState
	autoStarted bool // auto-scan already performed for this power cycle
	unsupported bool
	active      *link
	generation  uint64
	snapshot    telemetry.Snapshot

	internal chan Event
	done     chan struct{}
}

// New creates a Session. The adapter and sink are required.
func New(adapter Adapter, sink Sink, opts Options, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.MotorDelay < 0 {
		opts.MotorDelay = DefaultMotorDelay
	}
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}

	return &Session{
		opts:     opts,
		adapter:  adapter,
		sink:     sink,
		clock:    clock,
		logger:   logger,
		state:    StateIdle,
		power:    PowerUnknown,
		internal: make(chan Event, internalQueueSize),
		done:     make(chan struct{}),
	}
}

// Run processes events until ctx is cancelled or events is closed.
// The active connection, if any, is cancelled on return.
func (s *Session) Run(ctx context.Context, events <-chan Event) error {
	defer close(s.done)
	defer s.teardown("session stopped")

	s.logger.WithField("target", s.opts.TargetName).Info("Session started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.Handle(ev)
		case ev := <-s.internal:
			s.Handle(ev)
		}
	}
}

// Refresh requests a new discovery cycle. Safe to call from any goroutine.
func (s *Session) Refresh() {
	s.post(Event{Kind: eventRefresh})
}

// post queues an event for the loop. It gives up once Run has returned.
func (s *Session) post(ev Event) {
	select {
	case s.internal <- ev:
	case <-s.done:
	}
}

// State returns the current state. Call from the loop or after Run returns.
func (s *Session) State() State {
	return s.state
}

// Power returns the last reported radio state. Call from the loop or after Run returns.
func (s *Session) Power() PowerState {
	return s.power
}

// Snapshot returns a copy of the telemetry. Call from the loop or after Run returns.
func (s *Session) Snapshot() telemetry.Snapshot {
	return s.snapshot
}

// ActiveDevice returns the device currently connecting or connected.
func (s *Session) ActiveDevice() (id, name string, ok bool) {
	if s.active == nil {
		return "", "", false
	}
	return s.active.id, s.active.name, true
}

// Handle processes a single event.
func (s *Session) Handle(ev Event) {
	s.logger.WithFields(logrus.Fields{
		"event":  ev.Kind,
		"device": ev.DeviceID,
		"state":  s.state,
	}).Debug("Handling event")

	switch ev.Kind {
	case EventPowerChanged:
		s.onPowerChanged(ev.Power)
	case eventRefresh:
		s.discover()
	case EventDeviceFound:
		s.onDeviceFound(ev)
	case EventConnected:
		s.onConnected(ev)
	case EventConnectFailed:
		s.onConnectFailed(ev)
	case EventDisconnected:
		s.onDisconnected(ev)
	case EventServicesDiscovered:
		s.onServicesDiscovered(ev)
	case EventCharacteristicsDiscovered:
		s.onCharacteristicsDiscovered(ev)
	case EventValueUpdated:
		s.onValueUpdated(ev)
	case EventWriteCompleted:
		s.onWriteCompleted(ev)
	case EventOperationFailed:
		s.onOperationFailed(ev)
	case eventTimerFired:
		s.onTimerFired(ev)
	default:
		s.logger.WithField("event", ev.Kind).Warn("Unhandled event")
	}
}

func (s *Session) onPowerChanged(p PowerState) {
	if s.unsupported {
		s.logger.WithField("power", p).Debug("Ignoring power change on unsupported adapter")
		return
	}

	s.power = p
	entry := s.logger.WithField("power", p)

	switch p {
	case PoweredOn:
		entry.Info(p.Description())
		if !s.autoStarted {
			s.autoStarted = true
			s.discover()
		}
	case PoweredOff:
		entry.Warn(p.Description())
		s.autoStarted = false
		s.teardown("adapter powered off")
		s.state = StateIdle
		s.sink.Status(StatusPoweredOff)
	case PowerUnsupported:
		entry.WithError(band.ErrAdapterUnavailable).Error(p.Description())
		s.unsupported = true
		s.teardown("adapter unsupported")
		s.state = StateIdle
		s.sink.Status(StatusUnsupported)
	default:
		entry.Info(p.Description())
		s.sink.Status(p.Description())
	}
}

// discover is the refresh action: cancel any active device, then scan.
func (s *Session) discover() {
	switch {
	case s.unsupported:
		s.logger.WithError(band.ErrAdapterUnavailable).Warn("Discovery requested on unsupported adapter")
		s.sink.Status(StatusUnsupported)
		return
	case s.power == PoweredOff:
		s.logger.WithError(band.ErrAdapterOff).Warn("Discovery requested while adapter is off")
		s.sink.Status(StatusPoweredOff)
		return
	case s.power != PoweredOn:
		s.logger.WithField("power", s.power).Info("Discovery requested before adapter is ready")
		s.sink.Status(StatusWaiting)
		return
	}

	s.teardown("discovery restarted")
	s.state = StateScanning
	s.sink.Status(StatusSearching)

	if err := s.adapter.StartScan(); err != nil {
		s.logger.WithError(err).Error("Failed to start scan")
		s.state = StateIdle
		s.sink.Status(fmt.Sprintf("Scan failed: %v", err))
		return
	}
	s.logger.WithField("target", s.opts.TargetName).Info("Scanning for device")
}

func (s *Session) onDeviceFound(ev Event) {
	if s.state != StateScanning {
		s.logger.WithField("name", ev.Name).Debug("Ignoring advertisement outside scanning")
		return
	}
	if ev.Name != s.opts.TargetName {
		s.logger.WithFields(logrus.Fields{
			"name":    ev.Name,
			"address": ev.DeviceID,
		}).Debug("Skipped device")
		return
	}

	if err := s.adapter.StopScan(); err != nil {
		s.logger.WithError(err).Warn("Failed to stop scan")
	}

	s.generation++
	ctx, cancel := context.WithCancel(context.Background())
	l := &link{
		id:         ev.DeviceID,
		name:       ev.Name,
		generation: s.generation,
		ctx:        ctx,
		cancel:     cancel,
		discoverer: band.NewDiscoverer(),
	}
	l.dispatcher = newDispatcher(ctx, l.id, l.generation, s.adapter, s.clock, s.post, s.opts.MotorDelay, s.logger)
	s.active = l
	s.state = StateConnecting
	s.sink.Status(statusConnecting(l.name))

	s.logger.WithFields(logrus.Fields{
		"name":    l.name,
		"address": l.id,
	}).Info("Connecting to device")

	if err := s.adapter.Connect(l.id); err != nil {
		s.logger.WithError(err).Error("Failed to connect")
		s.teardown("connect failed")
		s.state = StateIdle
		s.sink.Status(statusConnectFailed(ev.Name))
	}
}

// linkFor returns the active link if id names it.
func (s *Session) linkFor(id string) *link {
	if s.active != nil && s.active.id == id {
		return s.active
	}
	return nil
}

func (s *Session) onConnected(ev Event) {
	l := s.linkFor(ev.DeviceID)
	if l == nil || s.state != StateConnecting {
		s.logger.WithFields(logrus.Fields{
			"device": ev.DeviceID,
			"state":  s.state,
		}).Warn("Connected event for a device that is not connecting")
		if l == nil {
			if err := s.adapter.CancelConnection(ev.DeviceID); err != nil {
				s.logger.WithError(err).Debug("Failed to cancel stray connection")
			}
		}
		return
	}

	s.state = StateConnected
	s.sink.Status(statusConnected(l.name))
	s.logger.WithField("device", l.id).Info("Connected, discovering services")

	if err := s.adapter.DiscoverServices(l.id); err != nil {
		s.logger.WithError(band.OperationFailed("discover services", "", err)).Warn("Service discovery failed")
		s.teardown("service discovery failed")
		s.state = StateIdle
		s.sink.Status(statusConnectFailed(l.name))
		return
	}
	s.state = StateDiscoveringServices
}

func (s *Session) onConnectFailed(ev Event) {
	l := s.linkFor(ev.DeviceID)
	if l == nil {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"device": l.id,
		"error":  ev.Err,
	}).Warn("Connection attempt failed")
	s.teardown("connect failed")
	s.state = StateIdle
	s.sink.Status(statusConnectFailed(l.name))
}

func (s *Session) onDisconnected(ev Event) {
	l := s.linkFor(ev.DeviceID)
	if l == nil {
		s.logger.WithField("device", ev.DeviceID).Debug("Disconnect for inactive device")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"device": l.id,
		"error":  ev.Err,
	}).Warn("Device disconnected")
	s.teardown("device disconnected")
	s.state = StateIdle
	s.sink.Status(statusDisconnected(l.name))
}

func (s *Session) onServicesDiscovered(ev Event) {
	l := s.linkFor(ev.DeviceID)
	if l == nil {
		return
	}
	if ev.Err != nil {
		s.logger.WithError(band.OperationFailed("discover services", "", ev.Err)).Warn("Service discovery failed")
		return
	}
	if len(ev.Services) == 0 {
		s.logger.WithField("device", l.id).Warn("Device reported no services")
		return
	}

	for _, svc := range ev.Services {
		if err := s.adapter.DiscoverCharacteristics(l.id, svc); err != nil {
			s.logger.WithFields(logrus.Fields{
				"service_uuid": svc,
				"error":        band.OperationFailed("discover characteristics", svc, err),
			}).Warn("Characteristic discovery failed")
			continue
		}
		l.pending++
	}
	s.logger.WithFields(logrus.Fields{
		"device":   l.id,
		"services": len(ev.Services),
	}).Debug("Services discovered")

	if l.pending > 0 && s.state != StateReady {
		s.state = StateDiscoveringCharacteristics
	}
}

func (s *Session) onCharacteristicsDiscovered(ev Event) {
	l := s.linkFor(ev.DeviceID)
	if l == nil {
		return
	}
	if l.pending > 0 {
		l.pending--
	}
	defer s.discoveryDone(l)

	if ev.Err != nil {
		s.logger.WithFields(logrus.Fields{
			"service_uuid": ev.Service,
			"error":        band.OperationFailed("discover characteristics", ev.Service, ev.Err),
		}).Warn("Characteristic discovery failed")
		return
	}

	chars := l.discoverer.Classify(ev.Service, ev.Characteristics)
	for i, char := range chars {
		if !char.New {
			s.logger.WithFields(logrus.Fields{
				"service_uuid": ev.Service,
				"char_uuid":    char.UUID(),
				"tag":          char.Tag(),
			}).Debug("Characteristic already classified, skipping")
			continue
		}

		fields := logrus.Fields{
			"service_uuid": char.Service(),
			"char_uuid":    char.UUID(),
			"tag":          char.Tag(),
			"capabilities": char.Capabilities(),
		}
		if name := char.Name(); name != "" {
			fields["char_name"] = name
		}
		if name := char.ServiceName(); name != "" {
			fields["service_name"] = name
		}
		if v := ev.Characteristics[i].Value; len(v) > 0 {
			fields["cached_value"] = fmt.Sprintf("%x", v)
		}
		s.logger.WithFields(fields).Debug("Characteristic classified")

		if err := s.adapter.Subscribe(l.id, char.Ref()); err != nil {
			s.logger.WithError(band.OperationFailed(string(OpSubscribe), char.UUID(), err)).Debug("Subscribe rejected")
		}

		action := l.dispatcher.Dispatch(char.Characteristic)
		if action != ActionNone {
			s.logger.WithFields(logrus.Fields{
				"char_uuid": char.UUID(),
				"tag":       char.Tag(),
				"action":    action,
			}).Info("Dispatched characteristic")
		}
	}

	if s.state != StateReady {
		s.state = StateReady
		s.logger.WithFields(logrus.Fields{
			"device":          l.id,
			"characteristics": l.discoverer.Len(),
		}).Info("Device ready")
	}
}

// discoveryDone logs a summary once every service has reported its characteristics.
func (s *Session) discoveryDone(l *link) {
	if l.pending > 0 || s.active != l {
		return
	}

	known := 0
	for _, char := range l.discoverer.Characteristics() {
		if char.IsKnown() {
			known++
		}
	}
	var missing []string
	for _, uuid := range band.KnownUUIDs() {
		if _, ok := l.discoverer.Lookup(uuid); !ok {
			missing = append(missing, uuid)
		}
	}

	entry := s.logger.WithFields(logrus.Fields{
		"device":          l.id,
		"services":        l.discoverer.Services(),
		"characteristics": l.discoverer.Len(),
		"known":           known,
	})
	if len(missing) > 0 {
		entry = entry.WithField("missing", missing)
	}
	entry.Debug("Discovery complete")
}

func (s *Session) onValueUpdated(ev Event) {
	l := s.linkFor(ev.DeviceID)
	if l == nil {
		return
	}
	if ev.Err != nil {
		s.logger.WithError(band.OperationFailed(string(OpRead), ev.Ref.UUID, ev.Err)).Warn("Characteristic read failed")
		return
	}

	tag := band.Unknown
	if char, ok := l.discoverer.Lookup(ev.Ref.UUID); ok {
		tag = char.Tag()
	}

	reading, err := telemetry.Apply(&s.snapshot, tag, ev.Data)
	switch {
	case errors.Is(err, telemetry.ErrNoTelemetry):
		s.logger.WithFields(logrus.Fields{
			"char_uuid": ev.Ref.UUID,
			"value":     fmt.Sprintf("%x", ev.Data),
		}).Debug("Value update without telemetry")
		return
	case err != nil:
		s.logger.WithFields(logrus.Fields{
			"char_uuid": ev.Ref.UUID,
			"value":     fmt.Sprintf("%x", ev.Data),
			"error":     err,
		}).Warn("Discarding malformed value")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"field": reading.Field,
		"value": reading.String(),
	}).Info("Telemetry updated")
	s.report(reading)
}

func (s *Session) report(r telemetry.Reading) {
	switch r.Field {
	case telemetry.FieldSteps:
		s.sink.Steps(r.Steps)
	case telemetry.FieldBattery:
		s.sink.Battery(r.Battery)
	case telemetry.FieldHeartRate:
		s.sink.HeartRate(r.HeartRate, r.Intensity())
	}
}

func (s *Session) onWriteCompleted(ev Event) {
	l := s.linkFor(ev.DeviceID)
	if l == nil {
		return
	}
	l.dispatcher.OnWriteCompleted(ev)
}

func (s *Session) onOperationFailed(ev Event) {
	l := s.linkFor(ev.DeviceID)
	if l == nil {
		return
	}
	err := band.OperationFailed(string(ev.Op), ev.Ref.UUID, ev.Err)
	if ev.Op == OpSubscribe {
		// Every characteristic gets a subscribe attempt, most are not notifiable.
		s.logger.WithError(err).Debug("Subscribe rejected")
		return
	}
	s.logger.WithError(err).Warn("Characteristic operation failed")
}

func (s *Session) onTimerFired(ev Event) {
	l := s.active
	if l == nil || l.generation != ev.generation {
		s.logger.WithField("task", ev.task).Debug("Dropping timer for a closed connection")
		return
	}
	l.dispatcher.OnTimer(ev.task)
}

// teardown cancels the active device, its pending command steps and its connection.
func (s *Session) teardown(reason string) {
	l := s.active
	if l == nil {
		return
	}
	s.active = nil

	l.dispatcher.Cancel()
	l.cancel()
	if err := s.adapter.CancelConnection(l.id); err != nil {
		s.logger.WithError(err).Debug("Cancel connection returned an error")
	}

	s.logger.WithFields(logrus.Fields{
		"device": l.id,
		"reason": reason,
	}).Info("Released device")
}
