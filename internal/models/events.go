package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Event is the outbound frame written to every socket.
type Event struct {
	Type      string      `json:"type"`
	ChannelId string      `json:"channelId,omitempty"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Inbound is the frame a client writes. Data is decoded per event type.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Outbound event names.
const (
	EventJoinedChannel     = "joinedChannel"
	EventLeftChannel       = "leftChannel"
	EventUserJoinedChannel = "userJoinedChannel"
	EventUserLeftChannel   = "userLeftChannel"
	EventChatHistory       = "chatHistory"
	EventNewMessage        = "newMessage"
	EventMessageEdited     = "messageEdited"
	EventMessageDeleted    = "messageDeleted"
	EventReactionAdded     = "reactionAdded"
	EventReactionRemoved   = "reactionRemoved"
	EventUserTyping        = "userTyping"
	EventOnlineUsers       = "onlineUsers"
	EventUserOnline        = "userOnline"
	EventUserOffline       = "userOffline"
	EventVideoCall         = "videoCall"
	EventError             = "error"
)

// Inbound event names.
const (
	CmdJoinChannel    = "joinChannel"
	CmdLeaveChannel   = "leaveChannel"
	CmdSendMessage    = "sendMessage"
	CmdEditMessage    = "editMessage"
	CmdDeleteMessage  = "deleteMessage"
	CmdAddReaction    = "addReaction"
	CmdRemoveReaction = "removeReaction"
	CmdTyping         = "typing"
	CmdVideoCall      = "videoCall"
	CmdGetOnlineUsers = "getOnlineUsers"
)

func NewEvent(eventType, channelId string, data interface{}) Event {
	return Event{
		Type:      eventType,
		ChannelId: channelId,
		Timestamp: time.Now().Unix(),
		Data:      data,
	}
}

// Encode marshals an outbound frame once so it can be fanned out as bytes.
func Encode(eventType, channelId string, data interface{}) ([]byte, error) {
	return json.Marshal(NewEvent(eventType, channelId, data))
}

// Inbound payloads

type ChannelRequest struct {
	ChannelId string `json:"channelId"`
}

type SendRequest struct {
	ChannelId string      `json:"channelId"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	FileUrl   string      `json:"fileUrl,omitempty"`
	FileName  string      `json:"fileName,omitempty"`
	FileSize  int64       `json:"fileSize,omitempty"`
	MimeType  string      `json:"mimeType,omitempty"`
}

type EditRequest struct {
	MessageId string `json:"messageId"`
	Content   string `json:"content"`
}

type DeleteRequest struct {
	MessageId string `json:"messageId"`
}

type ReactionRequest struct {
	MessageId string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type TypingRequest struct {
	ChannelId string `json:"channelId"`
	IsTyping  bool   `json:"isTyping"`
}

type VideoCallRequest struct {
	TargetUserId string          `json:"targetUserId"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// Outbound payloads

type JoinedChannelData struct {
	ChannelId string   `json:"channelId"`
	Success   bool     `json:"success"`
	Users     []string `json:"users"`
}

type ChannelUserData struct {
	UserId    string `json:"userId"`
	ChannelId string `json:"channelId"`
}

type ChatHistoryData struct {
	ChannelId string     `json:"channelId"`
	Messages  []*Message `json:"messages"`
}

type MessageEditedData struct {
	MessageId string    `json:"messageId"`
	ChannelId string    `json:"channelId"`
	Content   string    `json:"content"`
	EditedAt  time.Time `json:"editedAt"`
}

type MessageDeletedData struct {
	MessageId string `json:"messageId"`
	ChannelId string `json:"channelId"`
	DeletedBy string `json:"deletedBy"`
}

type ReactionData struct {
	MessageId string    `json:"messageId"`
	ChannelId string    `json:"channelId"`
	UserId    string    `json:"userId"`
	Emoji     string    `json:"emoji"`
	Timestamp time.Time `json:"timestamp"`
}

type TypingData struct {
	UserId    string `json:"userId"`
	ChannelId string `json:"channelId"`
	IsTyping  bool   `json:"isTyping"`
}

type PresenceData struct {
	UserId   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

type VideoCallData struct {
	FromUserId string          `json:"fromUserId"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type ErrorData struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}
