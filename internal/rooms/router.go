// Package rooms maps channels to the live connections subscribed to them and
// fans events out to exactly that set. A connection is in at most one room.
//
// A Router is not safe for concurrent use; the hub's event loop owns it.
package rooms

import (
	"log/slog"
	"sort"

	"go-groupchat/internal/models"
)

// Deliverer hands an encoded frame to a connection's outbound queue. It must
// not block.
type Deliverer interface {
	Deliver(connId string, frame []byte)
}

type JoinResult struct {
	ChannelId string
	// Previous is the room the connection was moved out of, if any.
	Previous string
	// Already is set when the connection was subscribed to ChannelId before
	// the call; nothing changed and no event was emitted.
	Already bool
	// Subscribers are the user ids subscribed after the join, sorted.
	Subscribers []string
}

type Router struct {
	rooms    map[string]map[string]string // channelId -> connId -> userId
	connRoom map[string]string            // connId -> channelId
	out      Deliverer
}

func NewRouter(out Deliverer) *Router {
	return &Router{
		rooms:    make(map[string]map[string]string),
		connRoom: make(map[string]string),
		out:      out,
	}
}

// Join subscribes connId to channelId, leaving its previous room first. The
// caller must have authorized the join.
func (r *Router) Join(connId, userId, channelId string) JoinResult {
	res := JoinResult{ChannelId: channelId}

	if current, ok := r.connRoom[connId]; ok {
		if current == channelId {
			res.Already = true
			res.Subscribers = r.SubscriberUsers(channelId)
			return res
		}
		r.Leave(connId, current)
		res.Previous = current
	}

	room, ok := r.rooms[channelId]
	if !ok {
		room = make(map[string]string)
		r.rooms[channelId] = room
		slog.Debug("[ROOM] Created room", "channel", channelId)
	}
	room[connId] = userId
	r.connRoom[connId] = channelId

	r.BroadcastExcept(channelId, connId, models.EventUserJoinedChannel, models.ChannelUserData{
		UserId:    userId,
		ChannelId: channelId,
	})

	res.Subscribers = r.SubscriberUsers(channelId)
	slog.Debug("[ROOM] Joined", "conn", connId, "user", userId, "channel", channelId, "subscribers", len(room))
	return res
}

// Leave unsubscribes connId from channelId. It reports false when the
// connection was not in that room.
func (r *Router) Leave(connId, channelId string) bool {
	if r.connRoom[connId] != channelId {
		return false
	}
	room := r.rooms[channelId]
	userId := room[connId]

	delete(room, connId)
	delete(r.connRoom, connId)
	if len(room) == 0 {
		delete(r.rooms, channelId)
		slog.Debug("[ROOM] Room is empty, removing", "channel", channelId)
		return true
	}

	r.Broadcast(channelId, models.EventUserLeftChannel, models.ChannelUserData{
		UserId:    userId,
		ChannelId: channelId,
	})
	return true
}

// LeaveCurrent removes connId from whatever room it is in and returns that
// room's id.
func (r *Router) LeaveCurrent(connId string) string {
	channelId, ok := r.connRoom[connId]
	if !ok {
		return ""
	}
	r.Leave(connId, channelId)
	return channelId
}

// Broadcast delivers payload under event to every connection subscribed to
// channelId at call time, the sender included. It returns the number of
// connections the frame was handed to.
func (r *Router) Broadcast(channelId, event string, payload interface{}) int {
	return r.BroadcastExcept(channelId, "", event, payload)
}

// BroadcastExcept is Broadcast skipping one connection.
func (r *Router) BroadcastExcept(channelId, exceptConnId, event string, payload interface{}) int {
	room, ok := r.rooms[channelId]
	if !ok || len(room) == 0 {
		return 0
	}

	frame, err := models.Encode(event, channelId, payload)
	if err != nil {
		slog.Error("[ROOM] Failed to encode event", "event", event, "channel", channelId, "error", err)
		return 0
	}

	sent := 0
	for connId := range room {
		if connId == exceptConnId {
			continue
		}
		r.out.Deliver(connId, frame)
		sent++
	}
	return sent
}

func (r *Router) RoomOf(connId string) (string, bool) {
	channelId, ok := r.connRoom[connId]
	return channelId, ok
}

// Subscribers returns the connection ids subscribed to channelId.
func (r *Router) Subscribers(channelId string) []string {
	room := r.rooms[channelId]
	out := make([]string, 0, len(room))
	for connId := range room {
		out = append(out, connId)
	}
	sort.Strings(out)
	return out
}

// SubscriberUsers returns the distinct user ids subscribed to channelId.
func (r *Router) SubscriberUsers(channelId string) []string {
	room := r.rooms[channelId]
	seen := make(map[string]bool, len(room))
	out := make([]string, 0, len(room))
	for _, userId := range room {
		if !seen[userId] {
			seen[userId] = true
			out = append(out, userId)
		}
	}
	sort.Strings(out)
	return out
}

// Rooms returns the number of live rooms.
func (r *Router) Rooms() int {
	return len(r.rooms)
}
