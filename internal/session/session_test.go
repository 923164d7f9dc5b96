package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/mioband/internal/band"
	"github.com/srg/mioband/internal/telemetry"
	"github.com/srg/mioband/internal/testutils"
	"github.com/stretchr/testify/suite"
)

const (
	targetName = "MIO GLOBAL"
	bandID     = "AA"
	serviceID  = "FEE0"
)

var (
	stepsRef = band.Ref{Service: serviceID, UUID: band.StepCountUUID}
	motorRef = band.Ref{Service: serviceID, UUID: band.MotorControlUUID}
)

type SessionTestSuite struct {
	suite.Suite
	helper  *testutils.TestHelper
	adapter *recordingAdapter
	sink    *testutils.RecordingSink
	clock   *manualClock
	session *Session
}

func (s *SessionTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.adapter = newRecordingAdapter()
	s.sink = testutils.NewRecordingSink()
	s.clock = &manualClock{}
	s.session = New(s.adapter, s.sink, Options{
		TargetName: targetName,
		MotorDelay: DefaultMotorDelay,
		Clock:      s.clock,
	}, s.helper.Logger)
}

// handle feeds events to the session and then drains anything it posted to itself.
func (s *SessionTestSuite) handle(events ...Event) {
	for _, ev := range events {
		s.session.Handle(ev)
		s.drain()
	}
}

func (s *SessionTestSuite) drain() {
	for {
		select {
		case ev := <-s.session.internal:
			s.session.Handle(ev)
		default:
			return
		}
	}
}

func info(uuid string, caps band.Capability) band.CharacteristicInfo {
	return band.CharacteristicInfo{Service: serviceID, UUID: uuid, Capabilities: caps}
}

func miBandCharacteristics() []band.CharacteristicInfo {
	return []band.CharacteristicInfo{
		info("FF01", band.Readable),
		info(band.StepCountUUID, band.Readable|band.Notifiable),
		info(band.BatteryUUID, band.Readable|band.Notifiable),
		info(band.MotorControlUUID, band.Readable|band.Writable),
		info(band.NotifyEnableUUID, band.Readable|band.Writable),
	}
}

// connect drives the session from power-on to Ready with the given characteristics.
func (s *SessionTestSuite) connect(chars ...band.CharacteristicInfo) {
	s.handle(
		PowerChanged(PoweredOn),
		DeviceFound(bandID, targetName),
		Connected(bandID),
		ServicesDiscovered(bandID, []string{serviceID}, nil),
		CharacteristicsDiscovered(bandID, serviceID, chars, nil),
	)
	s.Require().Equal(StateReady, s.session.State())
}

func (s *SessionTestSuite) TestPowerOnScansOnce() {
	s.handle(PowerChanged(PoweredOn), PowerChanged(PoweredOn))

	s.Equal(1, s.adapter.count("StartScan"))
	s.Equal(StateScanning, s.session.State())
	s.Equal(StatusSearching, s.sink.LastStatus())
}

func (s *SessionTestSuite) TestPowerCycleScansOncePerCycle() {
	s.handle(
		PowerChanged(PoweredOn),
		PowerChanged(PoweredOff),
		PowerChanged(PoweredOn),
		PowerChanged(PoweredOn),
	)

	s.Equal(2, s.adapter.count("StartScan"))
}

func (s *SessionTestSuite) TestIntermediatePowerStatesOnlyReportStatus() {
	s.handle(PowerChanged(PowerResetting))

	s.Equal(0, s.adapter.count("StartScan"))
	s.Equal(PowerResetting.Description(), s.sink.LastStatus())
}

func (s *SessionTestSuite) TestRefreshBeforePowerOnWaits() {
	s.session.Refresh()
	s.drain()

	s.Equal(0, s.adapter.count("StartScan"))
	s.Equal(StatusWaiting, s.sink.LastStatus())
	s.Equal(StateIdle, s.session.State())
}

func (s *SessionTestSuite) TestDeviceFilter() {
	s.handle(
		PowerChanged(PoweredOn),
		DeviceFound("BB", "Other Band"),
		DeviceFound("CC", "mio global"),
		DeviceFound("DD", ""),
	)
	s.Equal(0, s.adapter.count("Connect"))
	s.Equal(StateScanning, s.session.State())

	s.handle(DeviceFound(bandID, targetName), DeviceFound("EE", targetName))

	s.Equal([]string{"StartScan", "StopScan", "Connect AA"}, s.adapter.Calls())
	s.Equal(StateConnecting, s.session.State())
	s.Equal("Connecting to MIO GLOBAL", s.sink.LastStatus())

	id, name, ok := s.session.ActiveDevice()
	s.True(ok)
	s.Equal(bandID, id)
	s.Equal(targetName, name)
}

func (s *SessionTestSuite) TestConnectCommandErrorReturnsToIdle() {
	s.adapter.failOn("Connect", errors.New("radio busy"))

	s.handle(PowerChanged(PoweredOn), DeviceFound(bandID, targetName))

	s.Equal(StateIdle, s.session.State())
	s.Equal("Connection to MIO GLOBAL failed", s.sink.LastStatus())
	_, _, ok := s.session.ActiveDevice()
	s.False(ok)
}

func (s *SessionTestSuite) TestConnectFailedReturnsToIdle() {
	s.handle(PowerChanged(PoweredOn), DeviceFound(bandID, targetName), ConnectFailed(bandID, errors.New("timeout")))

	s.Equal(StateIdle, s.session.State())
	s.Equal("Connection to MIO GLOBAL failed", s.sink.LastStatus())
	s.Equal(1, s.adapter.count("StartScan"), "no automatic retry")
}

func (s *SessionTestSuite) TestServiceDiscoveryCommandErrorReleasesDevice() {
	s.adapter.failOn("DiscoverServices", errors.New("not connected"))

	s.handle(
		PowerChanged(PoweredOn),
		DeviceFound(bandID, targetName),
		Connected(bandID),
	)

	s.Equal(1, s.adapter.count("CancelConnection AA"))
	s.Equal(StateIdle, s.session.State())
	s.Equal("Connection to MIO GLOBAL failed", s.sink.LastStatus())
	_, _, ok := s.session.ActiveDevice()
	s.False(ok)

	s.adapter.failOn("DiscoverServices", nil)
	s.session.Refresh()
	s.drain()
	s.Equal(2, s.adapter.count("StartScan"))
}

func (s *SessionTestSuite) TestRefreshCancelsBeforeScanning() {
	s.connect(miBandCharacteristics()...)
	before := len(s.adapter.Calls())

	s.session.Refresh()
	s.drain()

	calls := s.adapter.Calls()[before:]
	s.Equal([]string{"CancelConnection AA", "StartScan"}, calls)
	s.Equal(StateScanning, s.session.State())
	_, _, ok := s.session.ActiveDevice()
	s.False(ok)
}

func (s *SessionTestSuite) TestDiscoveryFanOut() {
	s.handle(
		PowerChanged(PoweredOn),
		DeviceFound(bandID, targetName),
		Connected(bandID),
	)
	s.Equal(StateDiscoveringServices, s.session.State())
	s.Equal("Connected to MIO GLOBAL", s.sink.LastStatus())

	s.handle(ServicesDiscovered(bandID, []string{"1800", "180F", serviceID}, nil))

	s.Equal(StateDiscoveringCharacteristics, s.session.State())
	s.Equal(1, s.adapter.count("DiscoverCharacteristics AA 1800"))
	s.Equal(1, s.adapter.count("DiscoverCharacteristics AA 180F"))
	s.Equal(1, s.adapter.count("DiscoverCharacteristics AA FEE0"))
}

func (s *SessionTestSuite) TestDispatchTable() {
	s.connect(miBandCharacteristics()...)

	// every characteristic gets a subscribe attempt
	for _, c := range miBandCharacteristics() {
		s.Equal(1, s.adapter.count("Subscribe AA "+c.UUID), c.UUID)
	}

	s.Equal(1, s.adapter.count("Read AA FF06"))
	s.Equal(1, s.adapter.count("Read AA FF0C"))
	s.Equal(0, s.adapter.count("Read AA FF01"))
	s.Equal(0, s.adapter.count("Read AA FF05"))
	s.Equal(1, s.adapter.count(`Write AA FF0F "2" norsp`))
	s.Equal(1, s.adapter.count(`Write AA FF05 "8, 2" rsp`))
	s.Equal(0, s.adapter.count(`Write AA FF05 "19"`))
}

func (s *SessionTestSuite) TestHeartRateCharacteristicIsRead() {
	s.connect(info(band.HeartRateUUID, band.Notifiable|band.Readable))

	s.Equal(1, s.adapter.count("Subscribe AA 2A37"))
	s.Equal(1, s.adapter.count("Read AA 2A37"))
}

func (s *SessionTestSuite) TestMotorSequence() {
	s.connect(miBandCharacteristics()...)

	s.Empty(s.clock.Timers(), "no delay before the first write is acknowledged")

	s.handle(WriteCompleted(bandID, motorRef, []byte("8, 2"), nil))
	timers := s.clock.Timers()
	s.Require().Len(timers, 1)
	s.Equal(DefaultMotorDelay, timers[0].delay)
	s.Equal(0, s.adapter.count(`Write AA FF05 "19"`))

	s.Equal(1, s.clock.FireAll())
	s.drain()

	first := s.adapter.index(`Write AA FF05 "8, 2" rsp`)
	second := s.adapter.index(`Write AA FF05 "19" rsp`)
	s.GreaterOrEqual(first, 0)
	s.Greater(second, first)

	s.handle(WriteCompleted(bandID, motorRef, []byte("19"), nil))
	s.Equal(0, s.session.active.dispatcher.Pending())
}

func (s *SessionTestSuite) TestReReportedCharacteristicIsNotDispatchedAgain() {
	s.handle(
		PowerChanged(PoweredOn),
		DeviceFound(bandID, targetName),
		Connected(bandID),
		ServicesDiscovered(bandID, []string{serviceID, "FEE1"}, nil),
		CharacteristicsDiscovered(bandID, serviceID, []band.CharacteristicInfo{info(band.MotorControlUUID, band.Writable)}, nil),
		CharacteristicsDiscovered(bandID, "FEE1", []band.CharacteristicInfo{
			{Service: "FEE1", UUID: band.MotorControlUUID, Capabilities: band.Writable},
		}, nil),
	)
	s.Require().Equal(StateReady, s.session.State())
	s.Equal(1, s.adapter.count("Subscribe AA FF05"))
	s.Equal(1, s.adapter.count(`Write AA FF05 "8, 2" rsp`))

	s.handle(WriteCompleted(bandID, motorRef, []byte("8, 2"), nil))
	s.Equal(1, s.clock.FireAll())
	s.drain()

	s.Equal(1, s.adapter.count(`Write AA FF05 "19" rsp`))
	s.Equal(1, s.adapter.count(`Write AA FF05 "8, 2" rsp`))
}

func (s *SessionTestSuite) TestMotorDelayIsConfigurable() {
	s.session = New(s.adapter, s.sink, Options{
		TargetName: targetName,
		MotorDelay: 250 * time.Millisecond,
		Clock:      s.clock,
	}, s.helper.Logger)
	s.connect(info(band.MotorControlUUID, band.Writable))

	s.handle(WriteCompleted(bandID, motorRef, []byte("8, 2"), nil))

	s.Require().Len(s.clock.Timers(), 1)
	s.Equal(250*time.Millisecond, s.clock.Timers()[0].delay)
}

func (s *SessionTestSuite) TestZeroMotorDelayWritesOnAcknowledgement() {
	s.session = New(s.adapter, s.sink, Options{
		TargetName: targetName,
		MotorDelay: 0,
		Clock:      s.clock,
	}, s.helper.Logger)
	s.connect(info(band.MotorControlUUID, band.Writable))

	s.handle(WriteCompleted(bandID, motorRef, []byte("8, 2"), nil))

	s.Empty(s.clock.Timers())
	s.Equal(1, s.adapter.count(`Write AA FF05 "19" rsp`))
	s.Greater(s.adapter.index(`Write AA FF05 "19" rsp`), s.adapter.index(`Write AA FF05 "8, 2" rsp`))
}

func (s *SessionTestSuite) TestNegativeMotorDelayFallsBackToDefault() {
	s.session = New(s.adapter, s.sink, Options{
		TargetName: targetName,
		MotorDelay: -time.Second,
		Clock:      s.clock,
	}, s.helper.Logger)
	s.connect(info(band.MotorControlUUID, band.Writable))

	s.handle(WriteCompleted(bandID, motorRef, []byte("8, 2"), nil))

	s.Require().Len(s.clock.Timers(), 1)
	s.Equal(DefaultMotorDelay, s.clock.Timers()[0].delay)
}

func (s *SessionTestSuite) TestFailedAcknowledgementStopsCommand() {
	s.connect(miBandCharacteristics()...)

	s.handle(WriteCompleted(bandID, motorRef, []byte("8, 2"), errors.New("write not permitted")))

	s.Empty(s.clock.Timers())
	s.Equal(0, s.adapter.count(`Write AA FF05 "19"`))
	s.Equal(StateReady, s.session.State())
}

func (s *SessionTestSuite) TestUnrelatedAcknowledgementIsIgnored() {
	s.connect(miBandCharacteristics()...)

	s.handle(WriteCompleted(bandID, motorRef, []byte("19"), nil))

	s.Empty(s.clock.Timers())
}

func (s *SessionTestSuite) TestDelayedWriteDroppedAfterDisconnect() {
	s.connect(miBandCharacteristics()...)
	s.handle(WriteCompleted(bandID, motorRef, []byte("8, 2"), nil))
	timers := s.clock.Timers()
	s.Require().Len(timers, 1)

	s.handle(Disconnected(bandID, errors.New("link lost")))
	s.True(timers[0].stopped)
	s.Equal("Disconnected from MIO GLOBAL", s.sink.LastStatus())
	s.Equal(StateIdle, s.session.State())

	// a callback already in flight when the timer was stopped
	timers[0].f()
	s.drain()

	s.Equal(0, s.adapter.count(`Write AA FF05 "19"`))
}

func (s *SessionTestSuite) TestStaleTimerEventDropped() {
	s.connect(miBandCharacteristics()...)
	s.handle(WriteCompleted(bandID, motorRef, []byte("8, 2"), nil))
	staleGeneration := s.session.active.generation

	s.session.Refresh()
	s.drain()
	s.connect(miBandCharacteristics()...)
	s.Require().NotEqual(staleGeneration, s.session.active.generation)

	s.handle(Event{Kind: eventTimerFired, DeviceID: bandID, generation: staleGeneration, task: 1})

	s.Equal(0, s.adapter.count(`Write AA FF05 "19"`))
}

func (s *SessionTestSuite) TestTelemetryReachesSink() {
	s.connect(append(miBandCharacteristics(), info(band.HeartRateUUID, band.Notifiable))...)

	s.handle(
		ValueUpdated(bandID, stepsRef, telemetry.EncodeSteps(1234), nil),
		ValueUpdated(bandID, band.Ref{Service: serviceID, UUID: band.BatteryUUID}, []byte{0x55, 0x01, 0x02, 0x03}, nil),
		ValueUpdated(bandID, band.Ref{Service: "180D", UUID: band.HeartRateUUID}, []byte{0x00, 72}, nil),
	)

	s.Equal([]uint32{1234}, s.sink.StepValues())
	s.Equal([]int{85}, s.sink.BatteryValues())
	s.Equal([]int{72}, s.sink.HeartRateValues())
	s.Equal(telemetry.HeartRateIntensity(72), s.sink.Intensities()[0])

	snap := s.session.Snapshot()
	steps, ok := snap.Steps()
	s.True(ok)
	s.Equal(uint32(1234), steps)
}

func (s *SessionTestSuite) TestMalformedPayloadLeavesFieldUnchanged() {
	s.connect(miBandCharacteristics()...)
	s.handle(ValueUpdated(bandID, stepsRef, telemetry.EncodeSteps(10), nil))

	s.handle(ValueUpdated(bandID, stepsRef, []byte{0x01, 0x02}, nil))

	s.Equal([]uint32{10}, s.sink.StepValues())
	snap := s.session.Snapshot()
	steps, _ := snap.Steps()
	s.Equal(uint32(10), steps)
}

func (s *SessionTestSuite) TestUntaggedValueIsIgnored() {
	s.connect(miBandCharacteristics()...)

	s.handle(ValueUpdated(bandID, band.Ref{Service: serviceID, UUID: "FF01"}, []byte{0x01}, nil))

	s.Empty(s.sink.StepValues())
	s.Empty(s.sink.BatteryValues())
	s.Empty(s.sink.HeartRateValues())
}

func (s *SessionTestSuite) TestSubscribeFailuresDoNotAbortDiscovery() {
	s.adapter.failOn("Subscribe", errors.New("not notifiable"))

	s.connect(miBandCharacteristics()...)
	s.handle(OperationFailed(bandID, stepsRef, OpSubscribe, errors.New("not notifiable")))

	s.Equal(1, s.adapter.count("Read AA FF06"))
	s.Equal(1, s.adapter.count(`Write AA FF05 "8, 2" rsp`))
	s.Equal(StateReady, s.session.State())
}

func (s *SessionTestSuite) TestServiceErrorIsIsolated() {
	s.handle(
		PowerChanged(PoweredOn),
		DeviceFound(bandID, targetName),
		Connected(bandID),
		ServicesDiscovered(bandID, []string{"180F", serviceID}, nil),
		CharacteristicsDiscovered(bandID, "180F", nil, errors.New("attribute not found")),
		CharacteristicsDiscovered(bandID, serviceID, miBandCharacteristics(), nil),
	)

	s.Equal(StateReady, s.session.State())
	s.Equal(1, s.adapter.count("Read AA FF06"))
}

func (s *SessionTestSuite) TestUnsupportedIsTerminal() {
	s.handle(PowerChanged(PowerUnsupported), PowerChanged(PoweredOn))
	s.session.Refresh()
	s.drain()

	s.Equal(0, s.adapter.count("StartScan"))
	s.Equal(StatusUnsupported, s.sink.LastStatus())
	s.Equal(PowerUnsupported, s.session.Power())
}

func (s *SessionTestSuite) TestPoweredOffTearsDown() {
	s.connect(miBandCharacteristics()...)

	s.handle(PowerChanged(PoweredOff))

	s.Equal(1, s.adapter.count("CancelConnection AA"))
	s.Equal(StateIdle, s.session.State())
	s.Equal(StatusPoweredOff, s.sink.LastStatus())

	s.session.Refresh()
	s.drain()
	s.Equal(1, s.adapter.count("StartScan"))
	s.Equal(StatusPoweredOff, s.sink.LastStatus())
}

func (s *SessionTestSuite) TestEventsForOtherDevicesAreIgnored() {
	s.connect(miBandCharacteristics()...)

	s.handle(
		ValueUpdated("BB", stepsRef, telemetry.EncodeSteps(99), nil),
		Disconnected("BB", nil),
		ServicesDiscovered("BB", []string{serviceID}, nil),
	)

	s.Empty(s.sink.StepValues())
	s.Equal(StateReady, s.session.State())
	s.Equal(0, s.adapter.count("DiscoverCharacteristics BB"))
}

func (s *SessionTestSuite) TestStrayConnectionIsCancelled() {
	s.handle(PowerChanged(PoweredOn), Connected("BB"))

	s.Equal(1, s.adapter.count("CancelConnection BB"))
	s.Equal(StateScanning, s.session.State())
}

func (s *SessionTestSuite) TestRunLoop() {
	events := make(chan Event, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.session.Run(ctx, events)
	}()

	events <- PowerChanged(PoweredOn)
	events <- DeviceFound(bandID, targetName)
	s.Eventually(func() bool {
		return s.adapter.count("Connect AA") == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		s.ErrorIs(err, context.Canceled)
	case <-time.After(time.Second):
		s.Fail("Run did not return")
	}

	s.Equal(1, s.adapter.count("CancelConnection AA"))
	_, _, ok := s.session.ActiveDevice()
	s.False(ok)

	// Refresh after Run returned must not block.
	s.session.Refresh()
}

func (s *SessionTestSuite) TestRunReturnsWhenEventsClose() {
	events := make(chan Event)
	close(events)

	s.NoError(s.session.Run(context.Background(), events))
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}
