package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sweeney/dial-tester/internal/dial"
	"github.com/sweeney/dial-tester/internal/mqtt"
	"github.com/sweeney/dial-tester/internal/status"
	"github.com/sweeney/dial-tester/internal/web"
)

const (
	shutdownTimeout = 5 * time.Second
	mqttStatusEvery = time.Second
)

// errFault marks a shutdown caused by the sampling loop stopping on a
// line read failure.
var errFault = errors.New("sampling stopped on line fault")

// daemon ties the sampling controller to its consumers. Optional parts
// (fwd, hub, srv) are nil when disabled.
type daemon struct {
	logger  *slog.Logger
	tracker *status.Tracker
	ctl     controller
	fwd     *mqtt.Forwarder
	mqttUp  mqtt.ConnectionStatus
	hub     *web.Hub
	srv     *web.Server
	faults  <-chan error
	now     func() time.Time

	debounceMs int
}

// faultSink forwards the first loop fault to the daemon.
type faultSink chan error

func (f faultSink) OnSignal(dial.Snapshot) {}
func (f faultSink) OnCycle(*dial.Cycle)    {}
func (f faultSink) OnError(err error) {
	select {
	case f <- err:
	default:
	}
}

// run starts every component, waits for a signal or a fault, then
// publishes SHUTDOWN and stops everything.
func (d *daemon) run(ctx context.Context, sig <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// The forwarder outlives the group so SHUTDOWN still goes out after
	// everything else has stopped.
	if d.fwd != nil {
		fctx, fstop := context.WithCancel(context.Background())
		fdone := make(chan struct{})
		go func() {
			defer close(fdone)
			d.fwd.Run(fctx)
		}()
		defer func() {
			fstop()
			<-fdone
		}()
	}

	d.refreshMQTT()
	d.publishStatus(mqtt.EventStartup, "")

	g.Go(func() error { return d.ctl.Run(gctx) })
	if d.hub != nil {
		g.Go(func() error {
			d.hub.Run(gctx)
			return nil
		})
	}
	if d.srv != nil {
		g.Go(func() error {
			if err := d.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			return d.srv.Shutdown(sctx)
		})
	}
	if d.mqttUp != nil {
		g.Go(func() error {
			t := time.NewTicker(mqttStatusEvery)
			defer t.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
					d.refreshMQTT()
				}
			}
		})
	}

	reason, runErr := d.supervise(gctx, sig)

	d.refreshMQTT()
	d.publishStatus(mqtt.EventShutdown, reason)
	d.logger.Info("shutting down", "reason", reason)

	cancel()
	if err := g.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// supervise starts sampling and blocks until there is a reason to stop.
func (d *daemon) supervise(ctx context.Context, sig <-chan os.Signal) (string, error) {
	applied, err := d.ctl.SetDebounce(ctx, d.debounceMs)
	if err != nil {
		return "START_FAILED", fmt.Errorf("set debounce: %w", err)
	}
	d.tracker.SetDebounce(applied)

	adv, err := d.ctl.Start(ctx)
	if err != nil {
		return "START_FAILED", fmt.Errorf("start sampling: %w", err)
	}
	d.tracker.SetRunning(true)
	d.tracker.SetAdvisory(adv)
	if adv != dial.AdvisoryNone {
		d.publishSystem(mqtt.SystemEvent{Timestamp: d.now(), Event: mqtt.EventAdvisory, Reason: string(adv)})
	}

	select {
	case s := <-sig:
		d.logger.Info("received signal", "signal", s)
		return signalName(s), nil
	case err := <-d.faults:
		return mqtt.EventFault, fmt.Errorf("%w: %v", errFault, err)
	case <-ctx.Done():
		return "ERROR", nil
	}
}

func (d *daemon) refreshMQTT() {
	if d.mqttUp != nil {
		d.tracker.SetMQTTConnected(d.mqttUp.IsConnected())
	}
}

// publishStatus publishes a retained lifecycle event carrying a full
// status snapshot.
func (d *daemon) publishStatus(event, reason string) {
	if d.fwd == nil {
		return
	}
	snap := d.tracker.Snapshot()
	d.publishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
}

// publishSystem queues ev behind any cycles and faults already queued.
func (d *daemon) publishSystem(ev mqtt.SystemEvent) {
	if d.fwd == nil {
		return
	}
	if !d.fwd.QueueSystem(ev) {
		d.logger.Warn("system event dropped", "event", ev.Event)
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
