package mqtt

import (
	"log/slog"
	"time"

	"github.com/sweeney/dial-tester/internal/dial"
)

// Observer publishes sampling loop output synchronously on the caller's
// goroutine. Publish failures are logged and never reach the loop. Use a
// Forwarder when the caller must not wait for the broker.
type Observer struct {
	Pub    Publisher
	Logger *slog.Logger
	Now    func() time.Time
}

func (o *Observer) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o *Observer) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// OnSignal is a no-op; raw line levels are not published.
func (o *Observer) OnSignal(dial.Snapshot) {}

// OnCycle publishes the cycle.
func (o *Observer) OnCycle(c *dial.Cycle) {
	if err := o.Pub.PublishCycle(c); err != nil {
		o.logger().Warn("mqtt: publish cycle failed", "digit", c.Digit, "error", err)
	}
}

// OnError publishes a FAULT system event.
func (o *Observer) OnError(err error) {
	o.publishSystem(o.faultEvent(err))
}

func (o *Observer) faultEvent(err error) SystemEvent {
	return SystemEvent{Timestamp: o.now(), Event: EventFault, Reason: err.Error()}
}

func (o *Observer) publishSystem(ev SystemEvent) {
	if err := o.Pub.PublishSystem(ev); err != nil {
		o.logger().Warn("mqtt: publish system event failed", "event", ev.Event, "error", err)
		return
	}
	o.logger().Debug("mqtt: published system event", "event", ev.Event, "reason", ev.Reason)
}
