package ws

import (
	"context"
	"log/slog"
	"strings"

	"go-groupchat/internal/apperr"
	"go-groupchat/internal/models"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

type handlerFunc func(h *Hub, ctx context.Context, c *Client, data gjson.Result) error

var handlers = map[string]handlerFunc{
	models.CmdJoinChannel:    (*Hub).handleJoin,
	models.CmdLeaveChannel:   (*Hub).handleLeave,
	models.CmdSendMessage:    (*Hub).handleSend,
	models.CmdEditMessage:    (*Hub).handleEdit,
	models.CmdDeleteMessage:  (*Hub).handleDelete,
	models.CmdAddReaction:    (*Hub).handleAddReaction,
	models.CmdRemoveReaction: (*Hub).handleRemoveReaction,
	models.CmdTyping:         (*Hub).handleTyping,
	models.CmdVideoCall:      (*Hub).handleVideoCall,
	models.CmdGetOnlineUsers: (*Hub).handleOnlineUsers,
}

// dispatch routes one inbound frame. It runs on the client's read goroutine:
// collaborator I/O happens here and only the resulting state change is posted
// to the event loop.
func (h *Hub) dispatch(c *Client, raw []byte) {
	if !gjson.ValidBytes(raw) {
		h.fail(c, apperr.Validation("Malformed frame"))
		return
	}
	eventType := gjson.GetBytes(raw, "type").String()
	handler, ok := handlers[eventType]
	if !ok {
		slog.Warn("[CLIENT] Unknown event type", "type", eventType, "conn", c.id, "user", c.principal.UserId)
		h.fail(c, apperr.Validation("Unknown event type"))
		return
	}

	if err := handler(h, context.Background(), c, gjson.GetBytes(raw, "data")); err != nil {
		h.fail(c, err)
	}
}

func decode(data gjson.Result, v interface{}) error {
	if !data.IsObject() {
		return apperr.Validation("Event data must be an object")
	}
	if err := json.Unmarshal([]byte(data.Raw), v); err != nil {
		return apperr.Validation("Malformed event data")
	}
	return nil
}

// live reports whether c is still registered. Loop only.
func (h *Hub) live(c *Client) bool {
	return h.clients[c.id] == c
}

func (h *Hub) handleJoin(ctx context.Context, c *Client, data gjson.Result) error {
	var req models.ChannelRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.ChannelId) == "" {
		return apperr.Validation("Channel ID is required")
	}
	if err := h.authority.Authorize(ctx, c.principal, req.ChannelId); err != nil {
		return err
	}

	joined := make(chan bool, 1)
	posted := h.post(func() {
		ok := false
		defer func() { joined <- ok }()
		ok = h.joinRoom(c, req.ChannelId)
	})
	if !posted || !<-joined {
		return nil
	}

	history, err := h.pipeline.History(ctx, req.ChannelId)
	h.post(func() { h.finishJoin(c, req.ChannelId, history, err) })
	return nil
}

// joinRoom moves c into channelId and holds its room traffic until
// finishJoin has sent the history. Loop only.
func (h *Hub) joinRoom(c *Client, channelId string) bool {
	// The socket may have closed while the check was in flight.
	if !h.live(c) {
		return false
	}
	if prev := h.presence.CurrentChannel(c.id); prev != "" && prev != channelId {
		h.relay.ClearConnection(prev, c.id, c.principal)
	}
	res := h.rooms.Join(c.id, c.principal.UserId, channelId)
	h.presence.SetCurrentChannel(c.id, channelId)
	h.deliver(c, models.EventJoinedChannel, channelId, models.JoinedChannelData{
		ChannelId: channelId,
		Success:   true,
		Users:     res.Subscribers,
	})
	c.holding = true
	slog.Info("[HUB] Joined channel", "conn", c.id, "user", c.principal.UserId, "channel", channelId, "previous", res.Previous)
	return true
}

// finishJoin sends chatHistory and then the frames held since the join,
// skipping messages the history already contains. Loop only.
func (h *Hub) finishJoin(c *Client, channelId string, history []*models.Message, err error) {
	held := c.pending
	c.holding, c.pending = false, nil

	seen := make(map[string]struct{}, len(history))
	if err != nil {
		h.replyError(c, err)
	} else {
		for _, m := range history {
			seen[m.Id] = struct{}{}
		}
		h.deliver(c, models.EventChatHistory, channelId, models.ChatHistoryData{
			ChannelId: channelId,
			Messages:  history,
		})
	}

	for _, frame := range held {
		if gjson.GetBytes(frame, "type").String() == models.EventNewMessage {
			if _, dup := seen[gjson.GetBytes(frame, "data.id").String()]; dup {
				continue
			}
		}
		h.Deliver(c.id, frame)
	}
}

func (h *Hub) handleLeave(ctx context.Context, c *Client, data gjson.Result) error {
	var req models.ChannelRequest
	if data.Exists() {
		if err := decode(data, &req); err != nil {
			return err
		}
	}

	h.post(func() {
		if !h.live(c) {
			return
		}
		channelId := req.ChannelId
		if channelId == "" {
			channelId = h.presence.CurrentChannel(c.id)
		}
		if channelId == "" || h.presence.CurrentChannel(c.id) != channelId {
			h.replyError(c, apperr.Validation("Not subscribed to this channel"))
			return
		}
		h.relay.ClearConnection(channelId, c.id, c.principal)
		h.rooms.Leave(c.id, channelId)
		h.presence.SetCurrentChannel(c.id, "")
		h.deliver(c, models.EventLeftChannel, channelId, models.ChannelRequest{ChannelId: channelId})
	})
	return nil
}

func (h *Hub) handleSend(ctx context.Context, c *Client, data gjson.Result) error {
	var req models.SendRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	msg, err := h.pipeline.Send(ctx, c.principal, req)
	if err != nil {
		return err
	}
	h.publish(msg.ChannelId, models.EventNewMessage, msg)
	return nil
}

func (h *Hub) handleEdit(ctx context.Context, c *Client, data gjson.Result) error {
	var req models.EditRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	edited, err := h.pipeline.Edit(ctx, c.principal, req)
	if err != nil {
		return err
	}
	h.publish(edited.ChannelId, models.EventMessageEdited, edited)
	return nil
}

func (h *Hub) handleDelete(ctx context.Context, c *Client, data gjson.Result) error {
	var req models.DeleteRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	deleted, err := h.pipeline.Delete(ctx, c.principal, req)
	if err != nil {
		return err
	}
	h.publish(deleted.ChannelId, models.EventMessageDeleted, deleted)
	return nil
}

func (h *Hub) handleAddReaction(ctx context.Context, c *Client, data gjson.Result) error {
	var req models.ReactionRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	reaction, changed, err := h.pipeline.AddReaction(ctx, c.principal, req)
	if err != nil || !changed {
		return err
	}
	h.publish(reaction.ChannelId, models.EventReactionAdded, reaction)
	return nil
}

func (h *Hub) handleRemoveReaction(ctx context.Context, c *Client, data gjson.Result) error {
	var req models.ReactionRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	reaction, changed, err := h.pipeline.RemoveReaction(ctx, c.principal, req)
	if err != nil || !changed {
		return err
	}
	h.publish(reaction.ChannelId, models.EventReactionRemoved, reaction)
	return nil
}

// handleTyping only accepts typing for the connection's current channel.
func (h *Hub) handleTyping(ctx context.Context, c *Client, data gjson.Result) error {
	var req models.TypingRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	h.post(func() {
		if !h.live(c) {
			return
		}
		if req.ChannelId == "" || h.presence.CurrentChannel(c.id) != req.ChannelId {
			h.replyError(c, apperr.Validation("Join the channel before typing"))
			return
		}
		if req.IsTyping {
			h.relay.TypingStart(req.ChannelId, c.id, c.principal)
		} else {
			h.relay.TypingStop(req.ChannelId, c.id, c.principal)
		}
	})
	return nil
}

// handleVideoCall forwards call setup to the target without interpreting it.
func (h *Hub) handleVideoCall(ctx context.Context, c *Client, data gjson.Result) error {
	var req models.VideoCallRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.TargetUserId == "" || req.Type == "" {
		return apperr.Validation("Target user and call type are required")
	}

	h.post(func() {
		if !h.live(c) {
			return
		}
		h.relay.RelayToUser(req.TargetUserId, models.EventVideoCall, models.VideoCallData{
			FromUserId: c.principal.UserId,
			Type:       req.Type,
			Payload:    req.Payload,
		})
	})
	return nil
}

func (h *Hub) handleOnlineUsers(ctx context.Context, c *Client, data gjson.Result) error {
	h.post(func() {
		if h.live(c) {
			h.deliver(c, models.EventOnlineUsers, "", h.onlineUsers())
		}
	})
	return nil
}
