// Package goble implements the session adapter on top of go-ble.
//
// Commands return as soon as they are queued. The GATT work runs on a per-device
// worker goroutine in issue order and its outcome is posted to Events. Once a
// device's connection is cancelled nothing more is posted for it.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/mioband/internal/band"
	"github.com/srg/mioband/internal/groutine"
	"github.com/srg/mioband/internal/session"
)

const (
	// DefaultEventBuffer is the default capacity of the event channel
	DefaultEventBuffer = 128

	// DefaultPowerPollInterval is how often the radio is re-probed while it is off
	DefaultPowerPollInterval = 2 * time.Second
)

// ErrUnknownDevice is returned for commands naming a device with no open link.
var ErrUnknownDevice = errors.New("no connection for device")

// Radio is the subset of ble.Device the adapter drives.
type Radio interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Dial(ctx context.Context, a ble.Addr) (ble.Client, error)
	Stop() error
}

// GATTClient is the subset of ble.Client used on a connected device.
type GATTClient interface {
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	CancelConnection() error
}

// advertisement is the part of ble.Advertisement the scan filter needs.
type advertisement interface {
	LocalName() string
	Addr() ble.Addr
}

// Options configures an Adapter.
type Options struct {
	EventBuffer       int
	PowerPollInterval time.Duration
}

// Adapter drives one BLE radio on behalf of a session.
type Adapter struct {
	logger *logrus.Logger
	opts   Options
	events chan session.Event

	factory func() (Radio, error)
	dial    func(ctx context.Context, radio Radio, address string) (GATTClient, error)

	mu         sync.Mutex
	ctx        context.Context
	radio      Radio
	scanCancel context.CancelFunc
	watching   bool

	links *hashmap.Map[string, *link]
}

// NewAdapter creates an adapter using DeviceFactory for the radio.
func NewAdapter(opts Options, logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	if opts.PowerPollInterval <= 0 {
		opts.PowerPollInterval = DefaultPowerPollInterval
	}
	return &Adapter{
		logger:  logger,
		opts:    opts,
		events:  make(chan session.Event, opts.EventBuffer),
		factory: func() (Radio, error) { return DeviceFactory() },
		dial:    dialRadio,
		ctx:     context.Background(),
		links:   hashmap.New[string, *link](),
	}
}

func dialRadio(ctx context.Context, radio Radio, address string) (GATTClient, error) {
	client, err := radio.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Events returns the channel the session consumes.
func (a *Adapter) Events() <-chan session.Event {
	return a.events
}

// Start begins probing the radio. Power changes are posted as events.
// Everything the adapter runs stops when ctx is cancelled.
func (a *Adapter) Start(ctx context.Context) {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()
	a.watchPower()
}

// Close cancels every link and releases the radio.
func (a *Adapter) Close() error {
	a.links.Range(func(id string, l *link) bool {
		a.closeLink(id, l)
		return true
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scanCancel != nil {
		a.scanCancel()
		a.scanCancel = nil
	}
	if a.radio == nil {
		return nil
	}
	err := a.radio.Stop()
	a.radio = nil
	return NormalizeError(err)
}

// watchPower starts the power probe unless one is already running.
func (a *Adapter) watchPower() {
	a.mu.Lock()
	if a.watching {
		a.mu.Unlock()
		return
	}
	a.watching = true
	ctx := a.ctx
	a.mu.Unlock()

	groutine.Go(ctx, "ble-power", a.probePower)
}

// probeDone ends a probe, installing radio when the probe succeeded.
func (a *Adapter) probeDone(radio Radio) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.watching = false
	if radio != nil {
		a.radio = radio
	}
}

func (a *Adapter) probePower(ctx context.Context) {
	reportedOff := false
	for {
		radio, err := a.factory()
		if err == nil {
			a.probeDone(radio)
			a.logger.Info("BLE radio is ready")
			a.post(ctx, session.PowerChanged(session.PoweredOn))
			return
		}

		err = NormalizeError(err)
		if !errors.Is(err, band.ErrAdapterOff) {
			a.probeDone(nil)
			a.logger.WithError(err).Error("BLE radio is not available")
			a.post(ctx, session.PowerChanged(session.PowerUnsupported))
			return
		}
		if !reportedOff {
			reportedOff = true
			a.logger.WithError(err).Warn("BLE radio is powered off")
			a.post(ctx, session.PowerChanged(session.PoweredOff))
		}

		select {
		case <-ctx.Done():
			a.probeDone(nil)
			return
		case <-time.After(a.opts.PowerPollInterval):
		}
	}
}

// powerLost drops the radio after it reported being off and starts probing again.
func (a *Adapter) powerLost(err error) {
	a.mu.Lock()
	radio := a.radio
	a.radio = nil
	ctx := a.ctx
	a.mu.Unlock()
	if radio == nil {
		return
	}
	_ = radio.Stop()

	a.logger.WithError(err).Warn("BLE radio went away")
	a.post(ctx, session.PowerChanged(session.PoweredOff))
	a.watchPower()
}

func (a *Adapter) currentRadio() (Radio, context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.radio == nil {
		return nil, nil, band.ErrAdapterOff
	}
	return a.radio, a.ctx, nil
}

// post delivers an event, giving up when ctx ends.
func (a *Adapter) post(ctx context.Context, ev session.Event) {
	select {
	case a.events <- ev:
	case <-ctx.Done():
	}
}

// StartScan starts an active scan, replacing any scan in progress.
func (a *Adapter) StartScan() error {
	radio, parent, err := a.currentRadio()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	a.mu.Lock()
	if a.scanCancel != nil {
		a.scanCancel()
	}
	a.scanCancel = cancel
	a.mu.Unlock()

	groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
		a.logger.WithField("goroutine", groutine.GetName(ctx)).Debug("Scan started")
		err := radio.Scan(ctx, false, func(adv ble.Advertisement) {
			a.onAdvertisement(adv)
		})
		if err == nil || ctx.Err() != nil {
			a.logger.Debug("Scan stopped")
			return
		}
		err = NormalizeError(err)
		a.logger.WithError(err).Error("Scan failed")
		if errors.Is(err, band.ErrAdapterOff) {
			a.powerLost(err)
		}
	})
	return nil
}

// StopScan ends the scan in progress, if any.
func (a *Adapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scanCancel != nil {
		a.scanCancel()
		a.scanCancel = nil
	}
	return nil
}

// onAdvertisement posts a DeviceFound event. It never blocks the radio:
// when the session is behind the advertisement is dropped.
func (a *Adapter) onAdvertisement(adv advertisement) {
	if adv.Addr() == nil {
		return
	}
	ev := session.DeviceFound(adv.Addr().String(), adv.LocalName())
	select {
	case a.events <- ev:
	default:
		a.logger.WithField("address", ev.DeviceID).Debug("Event queue full, dropping advertisement")
	}
}

// Connect dials deviceID. Any earlier link to the same device is cancelled first.
func (a *Adapter) Connect(deviceID string) error {
	radio, parent, err := a.currentRadio()
	if err != nil {
		return err
	}
	if prev, ok := a.links.Get(deviceID); ok {
		a.closeLink(deviceID, prev)
	}

	l := newLink(parent, deviceID, a.logger)
	a.links.Set(deviceID, l)

	groutine.Go(l.ctx, "ble-connect", func(ctx context.Context) {
		a.logger.WithField("address", deviceID).Debug("Dialing BLE device...")
		client, err := a.dial(ctx, radio, deviceID)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"address": deviceID,
				"error":   err,
			}).Debug("Failed to dial BLE device")
			a.emit(l, session.ConnectFailed(deviceID, NormalizeError(err)))
			return
		}
		if !l.attach(client) {
			a.logger.WithField("address", deviceID).Debug("Link closed while dialing, dropping connection")
			if err := client.CancelConnection(); err != nil {
				a.logger.WithError(NormalizeError(err)).Debug("Cancel connection returned an error")
			}
			return
		}

		groutine.Go(ctx, "ble-worker", l.run)
		a.monitorDisconnect(l, client)
		a.emit(l, session.Connected(deviceID))
	})
	return nil
}

// monitorDisconnect watches the client's Disconnected channel when it has one.
func (a *Adapter) monitorDisconnect(l *link, client GATTClient) {
	dc, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		a.logger.Debug("Client does not support Disconnected() channel")
		return
	}
	groutine.Go(l.ctx, "ble-connection-monitor", func(ctx context.Context) {
		select {
		case <-dc.Disconnected():
			a.logger.WithField("address", l.id).Warn("Radio reported disconnection")
			a.emit(l, session.Disconnected(l.id, nil))
			if cur, ok := a.links.Get(l.id); ok && cur == l {
				a.links.Del(l.id)
			}
			l.cancel()
		case <-ctx.Done():
		}
	})
}

// CancelConnection tears down the link to deviceID. Events for it stop immediately.
func (a *Adapter) CancelConnection(deviceID string) error {
	l, ok := a.links.Get(deviceID)
	if !ok {
		return nil
	}
	a.closeLink(deviceID, l)
	return nil
}

func (a *Adapter) closeLink(deviceID string, l *link) {
	if cur, ok := a.links.Get(deviceID); ok && cur == l {
		a.links.Del(deviceID)
	}
	client := l.close()
	if client == nil {
		return
	}
	groutine.Go(context.Background(), "ble-cancel-connection", func(context.Context) {
		if err := client.CancelConnection(); err != nil {
			a.logger.WithFields(logrus.Fields{
				"address": deviceID,
				"error":   NormalizeError(err),
			}).Debug("Cancel connection returned an error")
		}
	})
}

// emit posts an event for l unless l has been cancelled.
func (a *Adapter) emit(l *link, ev session.Event) {
	if l.ctx.Err() != nil {
		return
	}
	select {
	case a.events <- ev:
	case <-l.ctx.Done():
	}
}

func (a *Adapter) connectedLink(deviceID string) (*link, error) {
	l, ok := a.links.Get(deviceID)
	if !ok || l.getClient() == nil {
		return nil, fmt.Errorf("%w %s", ErrUnknownDevice, deviceID)
	}
	return l, nil
}

// DiscoverServices lists the services of a connected device.
func (a *Adapter) DiscoverServices(deviceID string) error {
	l, err := a.connectedLink(deviceID)
	if err != nil {
		return err
	}
	l.enqueue(func(client GATTClient) {
		svcs, err := client.DiscoverServices(nil)
		if err != nil {
			a.emit(l, session.ServicesDiscovered(deviceID, nil, NormalizeError(err)))
			return
		}
		uuids := l.addServices(svcs)
		a.logger.WithFields(logrus.Fields{
			"address":  deviceID,
			"services": len(uuids),
		}).Debug("Discovered services")
		a.emit(l, session.ServicesDiscovered(deviceID, uuids, nil))
	})
	return nil
}

// DiscoverCharacteristics lists the characteristics of one service.
func (a *Adapter) DiscoverCharacteristics(deviceID, service string) error {
	l, err := a.connectedLink(deviceID)
	if err != nil {
		return err
	}
	svc, ok := l.service(service)
	if !ok {
		return band.OperationFailed("discover characteristics", service, errors.New("unknown service"))
	}
	l.enqueue(func(client GATTClient) {
		chars, err := client.DiscoverCharacteristics(nil, svc)
		if err != nil {
			a.emit(l, session.CharacteristicsDiscovered(deviceID, service, nil, NormalizeError(err)))
			return
		}
		infos := l.addCharacteristics(service, chars)
		a.emit(l, session.CharacteristicsDiscovered(deviceID, service, infos, nil))
	})
	return nil
}

// Subscribe enables notifications, or indications when that is all the characteristic offers.
func (a *Adapter) Subscribe(deviceID string, ref band.Ref) error {
	l, char, err := a.characteristic(deviceID, ref)
	if err != nil {
		return err
	}
	indicate := char.Property&ble.CharIndicate != 0 && char.Property&ble.CharNotify == 0
	l.enqueue(func(client GATTClient) {
		err := client.Subscribe(char, indicate, func(data []byte) {
			a.emit(l, session.ValueUpdated(deviceID, ref, append([]byte(nil), data...), nil))
		})
		if err != nil {
			a.emit(l, session.OperationFailed(deviceID, ref, session.OpSubscribe, NormalizeError(err)))
		}
	})
	return nil
}

// Read requests the characteristic value; it arrives as a ValueUpdated event.
func (a *Adapter) Read(deviceID string, ref band.Ref) error {
	l, char, err := a.characteristic(deviceID, ref)
	if err != nil {
		return err
	}
	l.enqueue(func(client GATTClient) {
		data, err := client.ReadCharacteristic(char)
		a.emit(l, session.ValueUpdated(deviceID, ref, data, NormalizeError(err)))
	})
	return nil
}

// Write sends data. Writes with response report a WriteCompleted event;
// writes without response only report failures.
func (a *Adapter) Write(deviceID string, ref band.Ref, data []byte, withResponse bool) error {
	l, char, err := a.characteristic(deviceID, ref)
	if err != nil {
		return err
	}
	payload := append([]byte(nil), data...)
	l.enqueue(func(client GATTClient) {
		err := NormalizeError(client.WriteCharacteristic(char, payload, !withResponse))
		switch {
		case withResponse:
			a.emit(l, session.WriteCompleted(deviceID, ref, payload, err))
		case err != nil:
			a.emit(l, session.OperationFailed(deviceID, ref, session.OpWrite, err))
		}
	})
	return nil
}

func (a *Adapter) characteristic(deviceID string, ref band.Ref) (*link, *ble.Characteristic, error) {
	l, err := a.connectedLink(deviceID)
	if err != nil {
		return nil, nil, err
	}
	char, ok := l.characteristic(ref.UUID)
	if !ok {
		return nil, nil, band.OperationFailed("lookup", ref.UUID, errors.New("characteristic not discovered"))
	}
	return l, char, nil
}
