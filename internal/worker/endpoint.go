// Package worker runs the sampling loop in an isolated goroutine reached only
// through message passing.
//
// Two Endpoints joined by Pipe exchange Messages. Requests carry an id from
// a per-endpoint counter; replies are matched to the waiting caller by that
// id and a request that is not answered within the timeout fails with
// ErrTimeout. Notifications carry no id and are delivered in send order.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sweeney/dial-tester/internal/dial"
)

var (
	// ErrTimeout is returned by Call when no reply arrives in time.
	ErrTimeout = errors.New("worker: request timed out")
	// ErrClosed is returned by Call when the endpoint stops running.
	ErrClosed = errors.New("worker: endpoint closed")
)

// DefaultTimeout is the per-request timeout used when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Second

const defaultBuffer = 64

// Kind distinguishes requests, replies and notifications.
type Kind uint8

const (
	KindRequest Kind = iota + 1
	KindReply
	KindNotify
)

// Op names the operation a Message carries.
type Op string

const (
	OpRead        Op = "read"
	OpStart       Op = "start"
	OpStop        Op = "stop"
	OpSetDebounce Op = "set_debounce"
	OpReset       Op = "reset"
	OpSignal      Op = "signal"
	OpCycle       Op = "cycle"
	OpFault       Op = "fault"
)

// Message is the unit exchanged between endpoints. Only the fields relevant
// to Op are set.
type Message struct {
	ID       uint64
	Kind     Kind
	Op       Op
	Snapshot dial.Snapshot
	Cycle    *dial.Cycle
	Debounce int
	Advisory dial.Advisory
	Err      string
}

// RemoteError is a failure reported by the other endpoint.
type RemoteError struct {
	Op  Op
	Msg string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

// Handler answers one request. The returned Message becomes the reply; its
// ID, Kind and Op are filled in by the endpoint.
type Handler func(ctx context.Context, req Message) Message

// Options configures an Endpoint.
type Options struct {
	Timeout time.Duration
	Buffer  int
	Logger  *slog.Logger
}

// Endpoint is one side of a duplex message pipe.
type Endpoint struct {
	name    string
	in      <-chan Message
	out     chan<- Message
	timeout time.Duration
	logger  *slog.Logger

	handler  Handler
	onNotify func(Message)

	mu      sync.Mutex
	next    uint64
	pending map[uint64]chan Message
	closed  bool
}

// Pipe returns two connected endpoints.
func Pipe(opts Options) (*Endpoint, *Endpoint) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ab := make(chan Message, opts.Buffer)
	ba := make(chan Message, opts.Buffer)
	return newEndpoint("a", ba, ab, opts), newEndpoint("b", ab, ba, opts)
}

func newEndpoint(name string, in <-chan Message, out chan<- Message, opts Options) *Endpoint {
	return &Endpoint{
		name:    name,
		in:      in,
		out:     out,
		timeout: opts.Timeout,
		logger:  opts.Logger.With("endpoint", name),
		pending: make(map[uint64]chan Message),
	}
}

// Handle sets the request handler. Must be called before Run.
func (e *Endpoint) Handle(h Handler) {
	e.handler = h
}

// OnNotify sets the notification callback. Must be called before Run.
// Notifications are delivered one at a time on the Run goroutine.
func (e *Endpoint) OnNotify(fn func(Message)) {
	e.onNotify = fn
}

// Run receives messages until ctx is done. Requests are served on their
// own goroutines; replies wake the matching Call. Pending calls fail with
// ErrClosed when Run returns.
func (e *Endpoint) Run(ctx context.Context) error {
	e.mu.Lock()
	e.closed = false
	e.mu.Unlock()
	defer e.shutdown()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-e.in:
			switch m.Kind {
			case KindReply:
				e.deliver(m)
			case KindRequest:
				wg.Add(1)
				go func() {
					defer wg.Done()
					e.serve(ctx, m)
				}()
			case KindNotify:
				if e.onNotify != nil {
					e.onNotify(m)
				}
			default:
				e.logger.Warn("dropping message of unknown kind", "kind", m.Kind, "op", m.Op)
			}
		}
	}
}

func (e *Endpoint) shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for id, ch := range e.pending {
		close(ch)
		delete(e.pending, id)
	}
}

func (e *Endpoint) deliver(m Message) {
	e.mu.Lock()
	ch, ok := e.pending[m.ID]
	delete(e.pending, m.ID)
	e.mu.Unlock()
	if !ok {
		e.logger.Debug("reply for unknown request", "id", m.ID, "op", m.Op)
		return
	}
	ch <- m
}

func (e *Endpoint) serve(ctx context.Context, req Message) {
	var reply Message
	if e.handler == nil {
		reply.Err = "no handler"
	} else {
		reply = e.handler(ctx, req)
	}
	reply.ID = req.ID
	reply.Kind = KindReply
	reply.Op = req.Op
	if err := e.send(ctx, reply); err != nil {
		e.logger.Debug("reply not sent", "id", req.ID, "op", req.Op, "error", err)
	}
}

func (e *Endpoint) send(ctx context.Context, m Message) error {
	select {
	case e.out <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call sends a request and waits for its reply. A reply carrying an error
// is returned as a *RemoteError.
func (e *Endpoint) Call(ctx context.Context, req Message) (Message, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Message{}, ErrClosed
	}
	e.next++
	id := e.next
	ch := make(chan Message, 1)
	e.pending[id] = ch
	e.mu.Unlock()

	req.ID = id
	req.Kind = KindRequest

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case e.out <- req:
	case <-timer.C:
		e.forget(id)
		return Message{}, fmt.Errorf("%s #%d: %w", req.Op, id, ErrTimeout)
	case <-ctx.Done():
		e.forget(id)
		return Message{}, ctx.Err()
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return Message{}, ErrClosed
		}
		if reply.Err != "" {
			return reply, &RemoteError{Op: req.Op, Msg: reply.Err}
		}
		return reply, nil
	case <-timer.C:
		e.forget(id)
		return Message{}, fmt.Errorf("%s #%d: %w", req.Op, id, ErrTimeout)
	case <-ctx.Done():
		e.forget(id)
		return Message{}, ctx.Err()
	}
}

func (e *Endpoint) forget(id uint64) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}

// Notify sends a one-way message, blocking until it is queued.
func (e *Endpoint) Notify(ctx context.Context, m Message) error {
	m.ID = 0
	m.Kind = KindNotify
	return e.send(ctx, m)
}

// TryNotify queues a one-way message if there is room and reports whether
// it did.
func (e *Endpoint) TryNotify(m Message) bool {
	m.ID = 0
	m.Kind = KindNotify
	select {
	case e.out <- m:
		return true
	default:
		return false
	}
}

func (e *Endpoint) pendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}
