package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
)

// ============================================================================
// Display WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// This file implements:
//   - hubDisplay, a DisplaySink that queues view frames without blocking the loop
//   - A broadcaster that coalesces bursty value frames and fans out via the Hub
//   - A Hub that tracks connected WebSocket clients
//   - Per-client write pumps so one slow client doesn't block others
//
// Constraints:
//   - The Surface is loop-owned; the initial snapshot on connect goes through
//     the loop (SnapshotFunc).
//   - Slow clients are disconnected when their send buffer fills.
//   - Messages are JSON text frames with an envelope: {type, ts, data}.
//   - The first message on connect is "display_init" with a SurfaceSnapshot.
//
// ============================================================================

// Frame types
const (
	frameDisplayInit = "display_init"
	frameValue       = "value"
	frameEditMenu    = "edit_menu"
	frameOverview    = "overview"
)

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string      `json:"type"`
	Ts   *time.Time  `json:"ts,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// displayFrame is a view change queued for broadcast.
type displayFrame struct {
	Type string
	Slot int // value/edit_menu frames only
	Data any
	At   time.Time
}

func marshalFrame(f displayFrame) ([]byte, error) {
	ts := f.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return json.Marshal(envelope{Type: f.Type, Ts: &ts, Data: f.Data})
}

// ============================================================================
// hubDisplay
// ============================================================================

// hubDisplay is the DisplaySink side of the websocket display.
type hubDisplay struct {
	frames chan displayFrame
	logger *slog.Logger
}

func newHubDisplay(buf int, logger *slog.Logger) *hubDisplay {
	if buf <= 0 {
		buf = 128
	}
	return &hubDisplay{frames: make(chan displayFrame, buf), logger: logger}
}

func (d *hubDisplay) enqueue(f displayFrame) {
	f.At = time.Now().UTC()
	select {
	case d.frames <- f:
	default:
		d.logger.Warn("display frame queue full, dropping frame", "type", f.Type)
	}
}

func (d *hubDisplay) ShowValue(v ValueView) {
	d.enqueue(displayFrame{Type: frameValue, Slot: v.Slot, Data: v})
}

func (d *hubDisplay) ShowEditMenu(v EditMenuView) {
	d.enqueue(displayFrame{Type: frameEditMenu, Slot: v.Slot, Data: v})
}

func (d *hubDisplay) ShowOverview(v OverviewView) {
	d.enqueue(displayFrame{Type: frameOverview, Data: v})
}

// ============================================================================
// Broadcaster
// ============================================================================

// wsValueCoalesceWindow is the maximum time window during which bursty value
// updates for one slot are coalesced (latest-wins) before broadcasting.
const wsValueCoalesceWindow = 50 * time.Millisecond

// RunBroadcaster reads queued display frames, marshals them, and broadcasts them
// to all hub clients. Intended to run as a single goroutine.
//
// Value frames are rate-limited per slot: the latest pending value for each slot
// is flushed at most once every wsValueCoalesceWindow. Any other frame flushes
// pending values first, so clients never see an older value after a newer view.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan displayFrame, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	pending := make(map[int]displayFrame)
	var order []int
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	emit := func(f displayFrame) {
		msg, err := marshalFrame(f)
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", f.Type)
			return
		}
		hub.BroadcastBytes(msg)
	}

	flushPending := func() {
		for _, slot := range order {
			emit(pending[slot])
		}
		clear(pending)
		order = order[:0]
	}

	stopTimer := func() {
		if flushTimer != nil {
			flushTimer.Stop()
		}
		flushTimer, flushCh = nil, nil
	}

	for {
		select {
		case <-ctx.Done():
			// Best-effort: flush pending values before exit.
			flushPending()
			stopTimer()
			return

		case <-flushCh:
			flushTimer, flushCh = nil, nil
			flushPending()

		case f, ok := <-src:
			if !ok {
				flushPending()
				stopTimer()
				logger.Info("ws broadcaster stopping (source ended)")
				return
			}

			if f.Type == frameValue {
				if _, queued := pending[f.Slot]; !queued {
					order = append(order, f.Slot)
				}
				pending[f.Slot] = f
				// Do not reset on each update; flush on a fixed cadence.
				if flushTimer == nil {
					flushTimer = time.NewTimer(wsValueCoalesceWindow)
					flushCh = flushTimer.C
				}
				continue
			}

			// A slot switching to its edit menu drops its stale pending value.
			if f.Type == frameEditMenu {
				if _, queued := pending[f.Slot]; queued {
					delete(pending, f.Slot)
					order = removeSlot(order, f.Slot)
				}
			}
			flushPending()
			stopTimer()
			emit(f)
		}
	}
}

func removeSlot(order []int, slot int) []int {
	out := order[:0]
	for _, s := range order {
		if s != slot {
			out = append(out, s)
		}
	}
	return out
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	unicast    chan unicastMsg
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	// Configuration
	sendBuf int
}

// unicastMsg is a frame for one client, such as its display_init.
type unicastMsg struct {
	client *Client
	msg    []byte
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size.
	// If zero, a conservative default is used.
	SendBuf int

	// BroadcastBuf is the hub inbound broadcast queue size.
	// If zero, a conservative default is used.
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		unicast:    make(chan unicastMsg, 64),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled.
// It disconnects all clients on shutdown.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ws hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.addClient(c)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case u := <-h.unicast:
			// The unicast may overtake the client's register op.
			if !h.addClient(u.client) {
				continue
			}
			h.mu.Lock()
			full := false
			select {
			case u.client.send <- u.msg:
			default:
				full = true
			}
			h.mu.Unlock()
			if full {
				h.removeClient(u.client, "slow_client")
			}

		case msg := <-h.broadcast:
			// Collect slow clients first, then remove them after we unlock.
			var slow []*Client

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
				h.removeClient(c, "slow_client")
			}
		}
	}
}

// addClient registers c unless it was already removed. It reports whether c is
// registered afterwards.
func (h *Hub) addClient(c *Client) bool {
	h.mu.Lock()
	if c.removed {
		h.mu.Unlock()
		return false
	}
	if _, ok := h.clients[c]; ok {
		h.mu.Unlock()
		return true
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("ws client registered", "client", c.id, "remote_addr", c.remoteAddr, "clients", n)
	return true
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.closeSend()
		c.removed = true
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	c.removed = true
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		// Closing send signals writePump to exit.
		c.closeSend()

		h.logger.Info("ws client disconnected", "client", c.id, "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

// SendTo enqueues a frame for a single client. Clients the hub no longer knows
// are skipped.
func (h *Hub) SendTo(c *Client, msg []byte) {
	select {
	case h.unicast <- unicastMsg{client: c, msg: msg}:
	default:
		h.logger.Warn("ws hub unicast queue full, dropping message", "client", c.id)
	}
}

// BroadcastBytes enqueues a pre-serialized JSON WS frame for broadcast.
// It never blocks; if the hub queue is full it drops the message.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte
	once sync.Once
	// removed is set once the hub dropped the client. Guarded by hub.mu.
	removed bool

	id         string
	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel and a fresh id.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		id:         xid.New().String(),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

func (c *Client) closeSend() {
	c.once.Do(func() { close(c.send) })
}

const (
	writeWait = 5 * time.Second

	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// closeStatus extracts a human-readable websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Info("ws "+pump+" exiting (close)", "client", c.id, "code", code, "reason", text)
		return
	}
	c.logger.Info("ws "+pump+" exiting", "client", c.id, "error", err)
}

// writePump writes messages from the send queue to the websocket.
// It exits on write error or when send is closed.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", err)
				return
			}
		}
	}
}

// readPump reads and discards incoming messages to detect disconnects and handle control frames.
// It exits on read error, then unregisters the client.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

// ============================================================================
// HTTP handlers
// ============================================================================

// SnapshotFunc fetches a surface snapshot through the daemon loop.
type SnapshotFunc func(ctx context.Context) (SurfaceSnapshot, error)

type Server struct {
	logger *slog.Logger

	hub      *Hub
	snapshot SnapshotFunc
}

type ServerConfig struct {
	Hub HubConfig
}

// NewServer constructs the display server components. Call Register on a router,
// start hub.Run(ctx), and start RunBroadcaster.
func NewServer(logger *slog.Logger, snapshot SnapshotFunc, cfg ServerConfig) *Server {
	return &Server{
		logger:   logger,
		hub:      NewHub(logger, cfg.Hub),
		snapshot: snapshot,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Register mounts the display websocket and the state API on r.
func (s *Server) Register(r *mux.Router) {
	if r == nil {
		return
	}
	r.HandleFunc("/ws/display", s.handleDisplayWS).Methods(http.MethodGet)
	r.HandleFunc("/api/state", s.handleState).Methods(http.MethodGet)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// snapshotTimeout bounds the loop round-trip when the request has no deadline.
const snapshotTimeout = time.Second

func (s *Server) requestSnapshot(ctx context.Context) (SurfaceSnapshot, error) {
	if _, has := ctx.Deadline(); !has {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, snapshotTimeout)
		defer cancel()
	}
	return s.snapshot(ctx)
}

// handleState serves the current snapshot as JSON.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.requestSnapshot(r.Context())
	if err != nil {
		s.logger.Warn("state snapshot request failed", "error", err)
		http.Error(w, "snapshot unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.logger.Debug("state response write failed", "error", err)
	}
}

// handleDisplayWS upgrades and registers a client, then sends display_init.
func (s *Server) handleDisplayWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Register client first so broadcasts can reach it.
	s.hub.register <- client

	// Do not tie the pumps to the HTTP request context (r.Context()).
	// net/http cancels it when the handler returns. The connection lifetime is
	// managed by the hub and by the websocket read/write errors.
	go client.writePump(context.Background())
	go client.readPump()

	if s.snapshot == nil {
		return
	}

	snap, err := s.requestSnapshot(r.Context())
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("ws snapshot request failed", "client", client.id, "error", err)
		}
		return
	}

	initMsg, err := marshalFrame(displayFrame{Type: frameDisplayInit, Data: snap})
	if err != nil {
		s.logger.Warn("ws snapshot marshal failed", "error", err)
		return
	}
	// Goes through the hub so it is ordered with broadcasts and never races a close.
	s.hub.SendTo(client, initMsg)
}
