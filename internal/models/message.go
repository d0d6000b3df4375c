package models

import "time"

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
	MessageVideo MessageType = "video"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageVideo:
		return true
	}
	return false
}

// HasAttachment reports whether messages of this type carry a file URL
// instead of text content.
func (t MessageType) HasAttachment() bool {
	return t == MessageImage || t == MessageFile || t == MessageVideo
}

type Reaction struct {
	UserId    string    `json:"userId"`
	Emoji     string    `json:"emoji"`
	Timestamp time.Time `json:"timestamp"`
}

// Message is a stored chat message. Id and CreatedAt are assigned by the
// message store.
type Message struct {
	Id             string      `json:"id"`
	ChannelId      string      `json:"channelId"`
	SenderId       string      `json:"senderId"`
	SenderUsername string      `json:"senderUsername"`
	Type           MessageType `json:"type"`
	Content        string      `json:"content,omitempty"`
	FileUrl        string      `json:"fileUrl,omitempty"`
	FileName       string      `json:"fileName,omitempty"`
	FileSize       int64       `json:"fileSize,omitempty"`
	MimeType       string      `json:"mimeType,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	IsEdited       bool        `json:"isEdited"`
	EditedAt       *time.Time  `json:"editedAt,omitempty"`
	Reactions      []Reaction  `json:"reactions"`
}

// MessagePatch carries the mutable fields an edit may change.
type MessagePatch struct {
	Content  string
	EditedAt time.Time
}

// User is the user store's view of an account.
type User struct {
	Id       string
	Username string
	Roles    []Role
}

// Channel is a membership snapshot fetched fresh for each authorization
// decision. All ids are canonical strings.
type Channel struct {
	Id        string
	GroupId   string
	Name      string
	MemberIds map[string]struct{}
	BannedIds map[string]struct{}
	AdminIds  map[string]struct{}
}

func NewChannel(id string, members, banned, admins []string) *Channel {
	return &Channel{
		Id:        id,
		MemberIds: toSet(members),
		BannedIds: toSet(banned),
		AdminIds:  toSet(admins),
	}
}

func (c *Channel) IsMember(userId string) bool {
	_, ok := c.MemberIds[userId]
	return ok
}

func (c *Channel) IsBanned(userId string) bool {
	_, ok := c.BannedIds[userId]
	return ok
}

func (c *Channel) IsAdmin(userId string) bool {
	_, ok := c.AdminIds[userId]
	return ok
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
