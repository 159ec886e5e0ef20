package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sweeney/dial-tester/internal/dial"
	"github.com/sweeney/dial-tester/internal/line"
	"github.com/sweeney/dial-tester/internal/sampler"
)

// Worker is the isolated side. It owns the engine and the sampling loop and
// reads lines by asking the Host.
type Worker struct {
	ep     *Endpoint
	loop   *sampler.Loop
	out    *notifier
	logger *slog.Logger
}

// Host is the side that owns the line reader. It answers read requests and
// controls the Worker through correlated requests.
type Host struct {
	ep     *Endpoint
	reader line.Reader
	obs    sampler.Observer
}

// Config holds the settings for New.
type Config struct {
	Clock   sampler.Clock
	Sampler sampler.Options
	Timeout Options
}

// New wires a Host and a Worker through a Pipe. Both Run methods must be
// running for either side to make progress.
func New(reader line.Reader, obs sampler.Observer, cfg Config) (*Host, *Worker) {
	if cfg.Clock == nil {
		cfg.Clock = sampler.RealClock{}
	}
	if obs == nil {
		obs = sampler.ObserverFuncs{}
	}
	logger := cfg.Sampler.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout.Logger == nil {
		cfg.Timeout.Logger = logger
	}
	hostEP, workerEP := Pipe(cfg.Timeout)

	h := &Host{ep: hostEP, reader: reader, obs: obs}
	hostEP.Handle(h.handle)
	hostEP.OnNotify(h.dispatch)

	w := &Worker{ep: workerEP, out: &notifier{ep: workerEP}, logger: logger}
	w.loop = sampler.New(dial.NewEngine(), proxy{ep: workerEP}, cfg.Clock, w.out, cfg.Sampler)
	workerEP.Handle(w.handle)

	return h, w
}

// Run serves the worker side until ctx is done. The sampling loop started
// through the Host lives no longer than ctx.
func (w *Worker) Run(ctx context.Context) error {
	w.out.ctx = ctx
	defer w.loop.Stop()
	return w.ep.Run(ctx)
}

func (w *Worker) handle(ctx context.Context, req Message) Message {
	switch req.Op {
	case OpStart:
		adv, err := w.loop.Start(ctx)
		if err != nil {
			return Message{Err: err.Error()}
		}
		return Message{Advisory: adv}
	case OpStop:
		w.loop.Stop()
		return Message{}
	case OpSetDebounce:
		w.loop.SetDebounce(req.Debounce)
		return Message{Debounce: w.loop.Debounce()}
	case OpReset:
		if err := w.loop.Reset(); err != nil {
			return Message{Err: err.Error()}
		}
		return Message{}
	}
	w.logger.Warn("worker: unknown request", "op", req.Op)
	return Message{Err: fmt.Sprintf("unknown op %q", req.Op)}
}

// proxy reads lines through the Host.
type proxy struct {
	ep *Endpoint
}

func (p proxy) ReadLines(ctx context.Context) (dial.Snapshot, error) {
	reply, err := p.ep.Call(ctx, Message{Op: OpRead})
	if err != nil {
		return dial.Snapshot{}, err
	}
	return reply.Snapshot, nil
}

// notifier forwards loop output to the Host as notifications.
type notifier struct {
	ep  *Endpoint
	ctx context.Context
}

func (n *notifier) OnSignal(s dial.Snapshot) {
	// Display only: drop rather than stall the loop.
	n.ep.TryNotify(Message{Op: OpSignal, Snapshot: s})
}

func (n *notifier) OnCycle(c *dial.Cycle) {
	n.ep.Notify(n.ctx, Message{Op: OpCycle, Cycle: c})
}

func (n *notifier) OnError(err error) {
	n.ep.Notify(n.ctx, Message{Op: OpFault, Err: err.Error()})
}

// Run serves the host side until ctx is done.
func (h *Host) Run(ctx context.Context) error {
	return h.ep.Run(ctx)
}

func (h *Host) handle(_ context.Context, req Message) Message {
	if req.Op != OpRead {
		return Message{Err: fmt.Sprintf("unknown op %q", req.Op)}
	}
	s, err := h.reader.Read()
	if err != nil {
		return Message{Err: err.Error()}
	}
	return Message{Snapshot: s}
}

func (h *Host) dispatch(m Message) {
	switch m.Op {
	case OpSignal:
		h.obs.OnSignal(m.Snapshot)
	case OpCycle:
		if m.Cycle != nil {
			h.obs.OnCycle(m.Cycle)
		}
	case OpFault:
		h.obs.OnError(&RemoteError{Op: OpFault, Msg: m.Err})
	}
}

// Start initializes the worker's engine from a fresh read and starts its loop.
func (h *Host) Start(ctx context.Context) (dial.Advisory, error) {
	reply, err := h.ep.Call(ctx, Message{Op: OpStart})
	if err != nil {
		return dial.AdvisoryNone, err
	}
	return reply.Advisory, nil
}

// Stop asks the worker loop to stop. Engine state is kept.
func (h *Host) Stop(ctx context.Context) error {
	_, err := h.ep.Call(ctx, Message{Op: OpStop})
	return err
}

// SetDebounce updates the worker's debounce and returns the clamped value.
func (h *Host) SetDebounce(ctx context.Context, ms int) (int, error) {
	reply, err := h.ep.Call(ctx, Message{Op: OpSetDebounce, Debounce: ms})
	if err != nil {
		return 0, err
	}
	return reply.Debounce, nil
}

// Reset clears the worker's engine. Fails while the loop runs.
func (h *Host) Reset(ctx context.Context) error {
	_, err := h.ep.Call(ctx, Message{Op: OpReset})
	return err
}

// IsAlreadyRunning reports whether err is the worker refusing an operation
// because its loop is active.
func IsAlreadyRunning(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Msg == sampler.ErrAlreadyRunning.Error()
}
