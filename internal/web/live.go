package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/sweeney/dial-tester/internal/dial"
	"github.com/sweeney/dial-tester/internal/status"
)

// Live feed frame types.
const (
	FrameInit   = "state_init"
	FrameSignal = "signal"
	FrameCycle  = "cycle"
	FrameFault  = "fault"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// Frame is the wire envelope of every live feed message.
type Frame struct {
	Type string          `json:"type"`
	Ts   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data,omitempty"`
}

// FaultData is the data of a fault frame.
type FaultData struct {
	Message string `json:"message"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HubConfig sizes the hub queues. Zero values select defaults.
type HubConfig struct {
	SendBuf      int // per-client outbound queue
	BroadcastBuf int // hub inbound queue
}

// Hub fans live frames out to connected websocket clients. It implements
// the sampling loop's observer interface; slow clients are disconnected
// rather than allowed to stall the feed.
type Hub struct {
	logger *slog.Logger
	now    func() time.Time

	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	sendBuf    int

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub constructs a hub. Call Run to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = 32
	}
	if cfg.BroadcastBuf <= 0 {
		cfg.BroadcastBuf = 128
	}
	return &Hub{
		logger:     logger,
		now:        time.Now,
		broadcast:  make(chan []byte, cfg.BroadcastBuf),
		register:   make(chan *client, 16),
		unregister: make(chan *client, 16),
		done:       make(chan struct{}),
		sendBuf:    cfg.SendBuf,
		clients:    make(map[*client]struct{}),
	}
}

// Run processes hub events until ctx is done, then disconnects all clients.
// Run must be called at most once.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)
		case c := <-h.unregister:
			h.remove(c, "unregister")
		case msg := <-h.broadcast:
			var slow []*client
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()
			for _, c := range slow {
				h.remove(c, "slow_client")
			}
		}
	}
}

// Clients returns the number of registered clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) remove(c *client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.conn.Close()
		h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

// attach registers an upgraded connection and queues the initial state.
func (h *Hub) attach(conn *websocket.Conn, remoteAddr string, snap status.Snapshot) {
	c := &client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, h.sendBuf),
		remoteAddr: remoteAddr,
		logger:     h.logger,
	}
	if frame, err := h.frame(FrameInit, status.NewStatusJSON(snap)); err == nil {
		c.send <- frame
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	// Pumps outlive the HTTP request; the hub and socket errors end them.
	go c.writePump()
	go c.readPump()
}

func (h *Hub) frame(typ string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: typ, Ts: h.now().UTC(), Data: raw})
}

// Publish encodes data as a frame of the given type and queues it for all
// clients. It never blocks; a full queue drops the frame.
func (h *Hub) Publish(typ string, data any) {
	msg, err := h.frame(typ, data)
	if err != nil {
		h.logger.Warn("ws frame encode failed", "type", typ, "error", err)
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Debug("ws broadcast queue full, dropping frame", "type", typ)
	}
}

// OnSignal broadcasts the current line levels.
func (h *Hub) OnSignal(s dial.Snapshot) {
	p, sec, sup := s.Levels()
	h.Publish(FrameSignal, status.LinesJSON{
		Primary:   p.String(),
		Secondary: sec.String(),
		Suppress:  sup.String(),
	})
}

// OnCycle broadcasts a decoded cycle.
func (h *Hub) OnCycle(c *dial.Cycle) {
	h.Publish(FrameCycle, status.NewCycleJSON(c))
}

// OnError broadcasts a loop fault.
func (h *Hub) OnError(err error) {
	h.Publish(FrameFault, FaultData{Message: err.Error()})
}

type client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
	logger     *slog.Logger
}

func closeStatus(err error) (int, string, bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Debug("ws "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Debug("ws "+pump+" exiting", "remote_addr", c.remoteAddr, "error", err)
}

// writePump writes queued frames and keepalive pings. It exits on write
// error or when the hub closes send.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", err)
				return
			}
		}
	}
}

// readPump discards inbound messages so control frames are processed and
// disconnects are noticed, then unregisters the client.
func (c *client) readPump() {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", err)
			select {
			case c.hub.unregister <- c:
			case <-c.hub.done:
			}
			return
		}
	}
}
