// Package presence tracks connected principals and each connection's current
// channel. A Registry is not safe for concurrent use; it is owned by the hub's
// event loop, which is the only goroutine that touches it.
package presence

import (
	"sort"

	"go-groupchat/internal/models"
)

type entry struct {
	principal models.Principal
	channelId string
}

type Registry struct {
	conns  map[string]*entry
	byUser map[string]string // userId -> connId of the newest connection
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*entry),
		byUser: make(map[string]string),
	}
}

// Register records a connection. A second connection for the same user takes
// over the user's direct-address mapping; the earlier socket is left open.
// It reports whether the user was offline before this call.
func (r *Registry) Register(connId string, p models.Principal) (cameOnline bool) {
	_, wasOnline := r.byUser[p.UserId]
	r.conns[connId] = &entry{principal: p}
	r.byUser[p.UserId] = connId
	return !wasOnline
}

// Unregister forgets a connection. It reports whether the user no longer has
// a mapped connection, i.e. went offline.
func (r *Registry) Unregister(connId string) (p models.Principal, wentOffline bool) {
	e, ok := r.conns[connId]
	if !ok {
		return models.Principal{}, false
	}
	delete(r.conns, connId)

	userId := e.principal.UserId
	if r.byUser[userId] != connId {
		// A newer connection owns the mapping.
		return e.principal, false
	}
	delete(r.byUser, userId)

	// Fall back to any older connection of the same user that is still open.
	for id, other := range r.conns {
		if other.principal.UserId == userId {
			r.byUser[userId] = id
			return e.principal, false
		}
	}
	return e.principal, true
}

// SetCurrentChannel records the channel a connection is subscribed to; an
// empty channelId clears it.
func (r *Registry) SetCurrentChannel(connId, channelId string) bool {
	e, ok := r.conns[connId]
	if !ok {
		return false
	}
	e.channelId = channelId
	return true
}

func (r *Registry) CurrentChannel(connId string) string {
	if e, ok := r.conns[connId]; ok {
		return e.channelId
	}
	return ""
}

func (r *Registry) Principal(connId string) (models.Principal, bool) {
	e, ok := r.conns[connId]
	if !ok {
		return models.Principal{}, false
	}
	return e.principal, true
}

// FindConnection returns the connection currently addressed for userId.
func (r *Registry) FindConnection(userId string) (string, bool) {
	connId, ok := r.byUser[userId]
	return connId, ok
}

// ListOnline returns one principal per online user, ordered by user id.
func (r *Registry) ListOnline() []models.Principal {
	out := make([]models.Principal, 0, len(r.byUser))
	for _, connId := range r.byUser {
		out = append(out, r.conns[connId].principal)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserId < out[j].UserId })
	return out
}

// Connections returns every registered connection id.
func (r *Registry) Connections() []string {
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.conns)
}
