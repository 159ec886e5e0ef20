package mqtt

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sweeney/dial-tester/internal/dial"
)

// DefaultQueueSize bounds the messages a Forwarder holds for the broker.
const DefaultQueueSize = 64

// ForwarderOptions configures a Forwarder.
type ForwarderOptions struct {
	QueueSize int
	Logger    *slog.Logger
	Now       func() time.Time
}

// Forwarder publishes on its own goroutine so a slow or unreachable broker
// never holds up the sampling loop. It implements the sampler's observer
// interface. Messages go out in the order they were queued; when the queue
// is full new messages are dropped and counted.
type Forwarder struct {
	out     *Observer
	queue   chan outgoing
	dropped atomic.Int64
}

type outgoing struct {
	cycle *dial.Cycle
	event SystemEvent
}

// NewForwarder creates a Forwarder for pub. Nothing is published until Run
// is called.
func NewForwarder(pub Publisher, opts ForwarderOptions) *Forwarder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	return &Forwarder{
		out:   &Observer{Pub: pub, Logger: opts.Logger, Now: opts.Now},
		queue: make(chan outgoing, opts.QueueSize),
	}
}

// Run publishes queued messages until ctx is done, then publishes whatever
// is still queued and returns.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		select {
		case m := <-f.queue:
			f.publish(m)
		case <-ctx.Done():
			for {
				select {
				case m := <-f.queue:
					f.publish(m)
				default:
					return
				}
			}
		}
	}
}

func (f *Forwarder) publish(m outgoing) {
	if m.cycle != nil {
		f.out.OnCycle(m.cycle)
		return
	}
	f.out.publishSystem(m.event)
}

// QueueSystem queues a system event and reports whether there was room.
// It never blocks.
func (f *Forwarder) QueueSystem(ev SystemEvent) bool {
	return f.enqueue(outgoing{event: ev})
}

func (f *Forwarder) enqueue(m outgoing) bool {
	select {
	case f.queue <- m:
		return true
	default:
		n := f.dropped.Add(1)
		f.out.logger().Warn("mqtt: publish queue full, message dropped", "dropped", n)
		return false
	}
}

// Dropped returns the number of messages lost to a full queue.
func (f *Forwarder) Dropped() int64 {
	return f.dropped.Load()
}

// OnSignal is a no-op; raw line levels are not published.
func (f *Forwarder) OnSignal(dial.Snapshot) {}

// OnCycle queues the cycle.
func (f *Forwarder) OnCycle(c *dial.Cycle) {
	f.enqueue(outgoing{cycle: c})
}

// OnError queues a FAULT system event stamped with the time of the fault.
func (f *Forwarder) OnError(err error) {
	f.enqueue(outgoing{event: f.out.faultEvent(err)})
}
