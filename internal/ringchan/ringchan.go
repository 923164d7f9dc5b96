// Package ringchan provides a bounded channel that never blocks its producer.
package ringchan

import "sync/atomic"

// RingChannel is a bounded channel-like buffer with overwrite-oldest semantics.
//
// A producer that finds the buffer full discards the oldest element, so a slow
// consumer only ever misses stale values:
//
//	rc := ringchan.New[string](3)
//	for i := 0; i < 10; i++ {
//	    rc.ForceSend(strconv.Itoa(i))
//	}
//	for v := range rc.C() { // 7, 8, 9
//	    fmt.Println(v)
//	}
//
// ForceSend assumes a single producer. Any number of consumers may read C().
type RingChannel[T any] struct {
	ch    chan T
	stats Stats
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// ForceSend inserts v, discarding the oldest element when the buffer is full.
// It reports whether an element was discarded.
func (rc *RingChannel[T]) ForceSend(v T) bool {
	dropped := false

	select {
	case rc.ch <- v:
	default:
		select {
		case <-rc.ch: // drop oldest
			atomic.AddInt64(&rc.stats.Overwritten, 1)
			dropped = true
		default:
		}
		rc.ch <- v
	}

	atomic.AddInt64(&rc.stats.Written, 1)
	return dropped
}

// TryReceive attempts a non-blocking receive.
// Returns (zero, false) if no value is ready.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		return v, ok
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the underlying channel. ForceSend panics afterwards.
func (rc *RingChannel[T]) Close() {
	close(rc.ch)
}

// Stats returns a snapshot of the counters.
func (rc *RingChannel[T]) Stats() Stats {
	return Stats{
		Written:     atomic.LoadInt64(&rc.stats.Written),
		Overwritten: atomic.LoadInt64(&rc.stats.Overwritten),
	}
}

// Stats counts elements accepted and elements discarded to make room.
type Stats struct {
	Written     int64
	Overwritten int64
}
