package ws

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"go-groupchat/internal/apperr"
	"go-groupchat/internal/membership"
	"go-groupchat/internal/models"
	"go-groupchat/internal/pipeline"
	"go-groupchat/internal/presence"
	"go-groupchat/internal/rooms"
	"go-groupchat/internal/signal"

	"github.com/gorilla/websocket"
)

// Journal receives every persisted channel event once it has been stored.
type Journal interface {
	Publish(ctx context.Context, channelId string, frame []byte) error
}

type nopJournal struct{}

func (nopJournal) Publish(context.Context, string, []byte) error { return nil }

type Options struct {
	// SendBuffer is the per-connection outbound queue length. A connection
	// whose queue is full is dropped.
	SendBuffer     int
	MaxMessageSize int64
	// RateLimit is the number of inbound events per second a connection may
	// send. Zero disables throttling.
	RateLimit      int
	JournalTimeout time.Duration
	AllowedOrigins []string
}

func DefaultOptions() Options {
	return Options{
		SendBuffer:     256,
		MaxMessageSize: 64 * 1024,
		RateLimit:      20,
		JournalTimeout: 2 * time.Second,
		AllowedOrigins: []string{"*"},
	}
}

// Hub owns all connection, presence, room and typing state. Only the goroutine
// running Run touches that state; everything else hands work to it through
// the register, unregister and exec channels.
type Hub struct {
	authority *membership.Authority
	pipeline  *pipeline.Pipeline
	journal   Journal
	opts      Options
	upgrader  websocket.Upgrader

	// Owned by the event loop
	clients  map[string]*Client
	presence *presence.Registry
	rooms    *rooms.Router
	relay    *signal.Relay
	dropped  []*Client

	register   chan *Client
	unregister chan *Client
	exec       chan func()
	done       chan struct{}
}

func NewHub(authority *membership.Authority, pipe *pipeline.Pipeline, journal Journal, opts Options) *Hub {
	if journal == nil {
		journal = nopJournal{}
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultOptions().SendBuffer
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultOptions().MaxMessageSize
	}

	h := &Hub{
		authority:  authority,
		pipeline:   pipe,
		journal:    journal,
		opts:       opts,
		clients:    make(map[string]*Client),
		presence:   presence.NewRegistry(),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		exec:       make(chan func()),
		done:       make(chan struct{}),
	}
	h.rooms = rooms.NewRouter(h)
	h.relay = signal.NewRelay(h.rooms, h.presence, h)

	origins := newOriginPolicy(opts.AllowedOrigins)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.check,
	}
	return h
}

// Run processes hub events until ctx is cancelled, then closes every
// connection's outbound queue.
func (h *Hub) Run(ctx context.Context) {
	slog.Info("[HUB] Starting hub event loop")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for _, c := range h.clients {
				c.close()
			}
			slog.Info("[HUB] Hub event loop stopped", "clients", len(h.clients))
			return

		case client := <-h.register:
			h.safely("register", func() { h.registerClient(client) })

		case client := <-h.unregister:
			h.safely("unregister", func() { h.disconnect(client) })

		case fn := <-h.exec:
			h.safely("exec", fn)
		}
		h.safely("reap", h.reapDropped)
	}
}

func (h *Hub) safely(op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[HUB] Recovered from panic", "op", op, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// post schedules fn on the event loop. It reports false once the loop has
// stopped.
func (h *Hub) post(fn func()) bool {
	select {
	case h.exec <- fn:
		return true
	case <-h.done:
		return false
	}
}

// Register hands a new connection to the event loop.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister hands a closed connection to the event loop. It is safe to call
// more than once for the same client.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Deliver implements rooms.Deliverer. It is only called on the event loop.
func (h *Hub) Deliver(connId string, frame []byte) {
	c, ok := h.clients[connId]
	if !ok || c.closed {
		return
	}
	if c.holding {
		if len(c.pending) < cap(c.send) {
			c.pending = append(c.pending, frame)
			return
		}
	} else {
		select {
		case c.send <- frame:
			return
		default:
		}
	}

	// Client buffer full, disconnect
	slog.Warn("[HUB] Client buffer full, disconnecting", "conn", connId, "user", c.principal.UserId)
	c.close()
	h.dropped = append(h.dropped, c)
}

func (h *Hub) reapDropped() {
	for len(h.dropped) > 0 {
		c := h.dropped[0]
		h.dropped = h.dropped[1:]
		h.disconnect(c)
	}
}

func (h *Hub) deliver(c *Client, event, channelId string, data interface{}) {
	frame, err := models.Encode(event, channelId, data)
	if err != nil {
		slog.Error("[HUB] Failed to encode event", "event", event, "error", err)
		return
	}
	h.Deliver(c.id, frame)
}

// broadcastAll delivers an event to every connection except one.
func (h *Hub) broadcastAll(exceptConnId, event string, data interface{}) {
	frame, err := models.Encode(event, "", data)
	if err != nil {
		slog.Error("[HUB] Failed to encode event", "event", event, "error", err)
		return
	}
	for connId := range h.clients {
		if connId != exceptConnId {
			h.Deliver(connId, frame)
		}
	}
}

func (h *Hub) registerClient(c *Client) {
	h.clients[c.id] = c
	cameOnline := h.presence.Register(c.id, c.principal)

	slog.Info("[HUB] Client registered", "conn", c.id, "user", c.principal.UserId, "clients", len(h.clients))

	h.deliver(c, models.EventOnlineUsers, "", h.onlineUsers())
	if cameOnline {
		h.broadcastAll(c.id, models.EventUserOnline, models.PresenceData{
			UserId:   c.principal.UserId,
			Username: c.principal.Username,
		})
	}
}

// disconnect tears a connection down: typing cleared, room left, presence
// dropped, outbound queue closed. Persists already in flight for the
// connection still complete and broadcast to whoever remains in the room.
func (h *Hub) disconnect(c *Client) {
	if h.clients[c.id] != c {
		return
	}

	if channelId := h.presence.CurrentChannel(c.id); channelId != "" {
		h.relay.ClearConnection(channelId, c.id, c.principal)
	}
	h.rooms.LeaveCurrent(c.id)
	delete(h.clients, c.id)
	_, wentOffline := h.presence.Unregister(c.id)
	c.close()

	slog.Info("[HUB] Client unregistered", "conn", c.id, "user", c.principal.UserId, "clients", len(h.clients))

	if wentOffline {
		h.broadcastAll("", models.EventUserOffline, models.PresenceData{
			UserId:   c.principal.UserId,
			Username: c.principal.Username,
		})
	}
}

func (h *Hub) onlineUsers() []models.PresenceData {
	online := h.presence.ListOnline()
	out := make([]models.PresenceData, 0, len(online))
	for _, p := range online {
		out = append(out, models.PresenceData{UserId: p.UserId, Username: p.Username})
	}
	return out
}

// replyError sends err to its originating connection only. Runs on the loop.
func (h *Hub) replyError(c *Client, err error) {
	kind := apperr.KindOf(err)
	switch kind {
	case apperr.KindPersist, apperr.KindInternal:
		slog.Error("[HUB] Request failed", "conn", c.id, "user", c.principal.UserId, "kind", kind, "error", err)
	default:
		slog.Debug("[HUB] Request rejected", "conn", c.id, "user", c.principal.UserId, "kind", kind, "error", err)
	}
	h.deliver(c, models.EventError, "", models.ErrorData{
		Message: apperr.Public(err),
		Kind:    string(kind),
	})
}

// fail is replyError for callers off the loop.
func (h *Hub) fail(c *Client, err error) {
	h.post(func() { h.replyError(c, err) })
}

// publish broadcasts a persisted event to its channel's room and journals it.
// Rooms are resolved when the loop runs the broadcast, so a room emptied in
// the meantime receives nothing.
func (h *Hub) publish(channelId, event string, data interface{}) {
	h.post(func() {
		n := h.rooms.Broadcast(channelId, event, data)
		slog.Debug("[HUB] Broadcast complete", "event", event, "channel", channelId, "sent", n)
	})

	frame, err := models.Encode(event, channelId, data)
	if err != nil {
		slog.Error("[HUB] Failed to encode journal event", "event", event, "error", err)
		return
	}
	ctx := context.Background()
	if h.opts.JournalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.JournalTimeout)
		defer cancel()
	}
	if err := h.journal.Publish(ctx, channelId, frame); err != nil {
		slog.Warn("[HUB] Failed to journal event", "event", event, "channel", channelId, "error", err)
	}
}
