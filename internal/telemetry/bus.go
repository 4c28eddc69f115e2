package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/alextra-lab/personal-agent-sub000/internal/async"
	"github.com/alextra-lab/personal-agent-sub000/internal/logging"
)

// Sink receives emitted events. Write failures must be handled inside the
// sink; the bus drops events a sink cannot take.
type Sink interface {
	Name() string
	Write(event Event) error
	Close() error
}

// Bus fans events out to sinks without ever blocking the caller. A sink
// outage downgrades to the remaining sinks; the bus never halts the request
// path.
type Bus struct {
	sinks   []Sink
	ch      chan Event
	logger  *logging.Logger
	dropped atomic.Int64
	wg      sync.WaitGroup
	closing chan struct{}
	once    sync.Once
}

// NewBus creates the bus and starts its dispatch loop.
func NewBus(logger *logging.Logger, buffer int, sinks ...Sink) *Bus {
	if buffer <= 0 {
		buffer = 1024
	}
	b := &Bus{
		sinks:   sinks,
		ch:      make(chan Event, buffer),
		logger:  logging.OrNop(logger).Component("telemetry"),
		closing: make(chan struct{}),
	}
	b.wg.Add(1)
	async.Go(b.logger, "telemetry.dispatch", func() {
		defer b.wg.Done()
		b.dispatch()
	})
	return b
}

// Emit enqueues the event. Emit never blocks and never returns an error; when
// the buffer is full, or the bus is closing, the event is counted as dropped.
func (b *Bus) Emit(event Event) {
	select {
	case <-b.closing:
		b.dropped.Add(1)
		return
	default:
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case b.ch <- event:
	default:
		n := b.dropped.Add(1)
		if n%100 == 1 {
			b.logger.Warn("telemetry buffer full, dropping events", "dropped_total", n, "event", event.EventName)
		}
	}
}

// Dropped returns the number of events dropped due to backpressure.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close drains pending events with a short grace period and closes sinks.
// The event channel itself is never closed; a concurrent Emit can only drop,
// never panic.
func (b *Bus) Close() error {
	b.once.Do(func() {
		close(b.closing)
	})

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		b.logger.Warn("telemetry close timed out with events pending")
	}

	for _, sink := range b.sinks {
		if err := sink.Close(); err != nil {
			b.logger.Warn("sink close failed", "sink", sink.Name(), "err", err)
		}
	}
	return nil
}

func (b *Bus) dispatch() {
	for {
		select {
		case event := <-b.ch:
			b.write(event)
		case <-b.closing:
			// Flush what was buffered before the close, then stop.
			for {
				select {
				case event := <-b.ch:
					b.write(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) write(event Event) {
	for _, sink := range b.sinks {
		if err := sink.Write(event); err != nil {
			// Sink failures are logged locally and the event dropped for
			// that sink; per-sink write order is preserved regardless.
			b.logger.Debug("sink write failed", "sink", sink.Name(), "event", event.EventName, "err", err)
		}
	}
}
