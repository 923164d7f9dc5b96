package goble

import (
	"context"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/mioband/internal/band"
)

// link is one device connection: its GATT handles and its operation queue.
type link struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *logrus.Logger

	mu     sync.Mutex
	client GATTClient
	queue  []func(GATTClient)
	signal chan struct{}

	services *hashmap.Map[string, *ble.Service]        // canonical service UUID
	chars    *hashmap.Map[string, *ble.Characteristic] // canonical characteristic UUID
}

func newLink(parent context.Context, id string, logger *logrus.Logger) *link {
	ctx, cancel := context.WithCancel(parent)
	return &link{
		id:       id,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		signal:   make(chan struct{}, 1),
		services: hashmap.New[string, *ble.Service](),
		chars:    hashmap.New[string, *ble.Characteristic](),
	}
}

// attach installs the dialled client unless the link was closed while dialling.
func (l *link) attach(c GATTClient) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx.Err() != nil {
		return false
	}
	l.client = c
	return true
}

// close cancels the link and hands back its client, if one was attached.
// The caller owns disconnecting it.
func (l *link) close() GATTClient {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancel()
	c := l.client
	l.client = nil
	return c
}

func (l *link) getClient() GATTClient {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client
}

// enqueue appends an operation. The queue is unbounded so callers never block.
func (l *link) enqueue(op func(GATTClient)) {
	l.mu.Lock()
	l.queue = append(l.queue, op)
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// run executes queued operations one at a time until the link is cancelled.
func (l *link) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			dropped := len(l.queue)
			l.queue = nil
			l.mu.Unlock()
			if dropped > 0 {
				l.logger.WithFields(logrus.Fields{
					"address": l.id,
					"dropped": dropped,
				}).Debug("Link closed with queued operations")
			}
			return
		case <-l.signal:
		}

		for {
			l.mu.Lock()
			if len(l.queue) == 0 || ctx.Err() != nil {
				l.mu.Unlock()
				break
			}
			op := l.queue[0]
			l.queue = l.queue[1:]
			client := l.client
			l.mu.Unlock()

			op(client)
		}
	}
}

func (l *link) addServices(svcs []*ble.Service) []string {
	uuids := make([]string, 0, len(svcs))
	for _, svc := range svcs {
		id := band.CanonicalUUID(svc.UUID.String())
		l.services.Set(id, svc)
		uuids = append(uuids, id)
	}
	return uuids
}

func (l *link) service(uuid string) (*ble.Service, bool) {
	return l.services.Get(band.CanonicalUUID(uuid))
}

func (l *link) addCharacteristics(service string, chars []*ble.Characteristic) []band.CharacteristicInfo {
	infos := make([]band.CharacteristicInfo, 0, len(chars))
	for _, c := range chars {
		id := band.CanonicalUUID(c.UUID.String())
		l.chars.Set(id, c)
		infos = append(infos, band.CharacteristicInfo{
			Service:      service,
			UUID:         id,
			Capabilities: capabilities(c.Property),
			Value:        c.Value,
		})
	}
	return infos
}

func (l *link) characteristic(uuid string) (*ble.Characteristic, bool) {
	return l.chars.Get(band.CanonicalUUID(uuid))
}

// capabilities converts go-ble property flags.
func capabilities(p ble.Property) band.Capability {
	var c band.Capability
	if p&ble.CharRead != 0 {
		c |= band.Readable
	}
	if p&ble.CharWrite != 0 {
		c |= band.Writable
	}
	if p&ble.CharWriteNR != 0 {
		c |= band.WritableWithoutResponse
	}
	if p&ble.CharNotify != 0 {
		c |= band.Notifiable
	}
	if p&ble.CharIndicate != 0 {
		c |= band.Indicatable
	}
	return c
}
