// Package signal relays ephemeral events: typing indicators fanned out to a
// channel's room, and opaque point-to-point payloads such as call setup.
// Nothing here is persisted and nothing is queued for offline users.
//
// A Relay is owned by the hub's event loop and is not safe for concurrent use.
package signal

import (
	"log/slog"
	"sort"

	"go-groupchat/internal/models"
	"go-groupchat/internal/presence"
	"go-groupchat/internal/rooms"
)

type Relay struct {
	// channelId -> userId -> connections that reported typing
	typing   map[string]map[string]map[string]struct{}
	rooms    *rooms.Router
	presence *presence.Registry
	out      rooms.Deliverer
}

func NewRelay(router *rooms.Router, registry *presence.Registry, out rooms.Deliverer) *Relay {
	return &Relay{
		typing:   make(map[string]map[string]map[string]struct{}),
		rooms:    router,
		presence: registry,
		out:      out,
	}
}

// TypingStart marks p as typing in channelId from connId and tells the other
// subscribers. It reports false if p was already typing there.
func (r *Relay) TypingStart(channelId, connId string, p models.Principal) bool {
	users, ok := r.typing[channelId]
	if !ok {
		users = make(map[string]map[string]struct{})
		r.typing[channelId] = users
	}
	conns, typing := users[p.UserId]
	if !typing {
		conns = make(map[string]struct{})
		users[p.UserId] = conns
	}
	conns[connId] = struct{}{}
	if typing {
		return false
	}
	r.notify(channelId, connId, p.UserId, true)
	return true
}

// TypingStop clears p's typing state in channelId for all of p's
// connections. It reports false if p was not typing.
func (r *Relay) TypingStop(channelId, connId string, p models.Principal) bool {
	users := r.typing[channelId]
	if _, typing := users[p.UserId]; !typing {
		return false
	}
	r.clear(channelId, p.UserId)
	r.notify(channelId, connId, p.UserId, false)
	return true
}

// ClearConnection drops connId's typing state in channelId, as on leave or
// disconnect. p stops typing only when none of p's other connections is
// still typing there. It reports whether p stopped typing.
func (r *Relay) ClearConnection(channelId, connId string, p models.Principal) bool {
	conns, typing := r.typing[channelId][p.UserId]
	if !typing {
		return false
	}
	if _, ok := conns[connId]; !ok {
		return false
	}
	delete(conns, connId)
	if len(conns) > 0 {
		return false
	}
	r.clear(channelId, p.UserId)
	r.notify(channelId, connId, p.UserId, false)
	return true
}

func (r *Relay) clear(channelId, userId string) {
	users := r.typing[channelId]
	delete(users, userId)
	if len(users) == 0 {
		delete(r.typing, channelId)
	}
}

func (r *Relay) notify(channelId, connId, userId string, isTyping bool) {
	r.rooms.BroadcastExcept(channelId, connId, models.EventUserTyping, models.TypingData{
		UserId:    userId,
		ChannelId: channelId,
		IsTyping:  isTyping,
	})
}

// Typing returns the users typing in channelId, sorted.
func (r *Relay) Typing(channelId string) []string {
	set := r.typing[channelId]
	out := make([]string, 0, len(set))
	for userId := range set {
		out = append(out, userId)
	}
	sort.Strings(out)
	return out
}

// RelayToUser delivers payload to targetUserId's current connection. Offline
// targets are silently dropped; the return value says whether a connection
// was found.
func (r *Relay) RelayToUser(targetUserId, event string, payload interface{}) bool {
	connId, ok := r.presence.FindConnection(targetUserId)
	if !ok {
		slog.Debug("[SIGNAL] Target offline, dropping", "event", event, "target", targetUserId)
		return false
	}
	frame, err := models.Encode(event, "", payload)
	if err != nil {
		slog.Error("[SIGNAL] Failed to encode event", "event", event, "error", err)
		return false
	}
	r.out.Deliver(connId, frame)
	return true
}
