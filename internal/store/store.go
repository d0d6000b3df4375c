// Package store declares the persistence collaborators the real-time core
// calls through. Implementations normalize every identifier to its canonical
// string form so the core only compares like-typed ids.
package store

import (
	"context"

	"go-groupchat/internal/models"

	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrClosed   = errors.New("store is closed")
)

type UserStore interface {
	FindUser(ctx context.Context, userId string) (*models.User, error)
}

type ChannelStore interface {
	FindChannel(ctx context.Context, channelId string) (*models.Channel, error)
}

type MessageStore interface {
	// CreateMessage assigns Id and CreatedAt and returns the stored record.
	CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error)
	FindMessage(ctx context.Context, messageId string) (*models.Message, error)
	UpdateMessage(ctx context.Context, messageId string, patch models.MessagePatch) (*models.Message, error)
	DeleteMessage(ctx context.Context, messageId string) error
	// AddReaction reports false when the (user, emoji) pair is already present.
	AddReaction(ctx context.Context, messageId, userId, emoji string) (*models.Reaction, bool, error)
	// RemoveReaction reports false when there was nothing to remove.
	RemoveReaction(ctx context.Context, messageId, userId, emoji string) (bool, error)
	// ListMessages returns up to limit of the newest messages in chronological order.
	ListMessages(ctx context.Context, channelId string, limit int) ([]*models.Message, error)
}

// Store bundles the collaborators a server needs.
type Store interface {
	UserStore
	ChannelStore
	MessageStore
	Close() error
}
