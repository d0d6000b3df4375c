// Package pipeline runs the validate, authorize and persist stages of every
// outbound chat action. Broadcasting the result is left to the caller, which
// must only do so when a stage returned without error: nothing that failed to
// persist is ever fanned out.
//
// Pipeline methods perform collaborator I/O and hold no in-memory state, so
// they are safe to call from any goroutine.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go-groupchat/internal/apperr"
	"go-groupchat/internal/membership"
	"go-groupchat/internal/models"
	"go-groupchat/internal/store"

	"github.com/forPelevin/gomoji"
)

const (
	DefaultMaxContentLength = 4000
	DefaultHistoryLimit     = 50
)

type Config struct {
	// Timeout bounds every collaborator call. Zero means no bound.
	Timeout          time.Duration
	MaxContentLength int
	HistoryLimit     int
}

type Pipeline struct {
	authority *membership.Authority
	messages  store.MessageStore
	cfg       Config
	now       func() time.Time
}

func New(authority *membership.Authority, messages store.MessageStore, cfg Config) *Pipeline {
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = DefaultMaxContentLength
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	return &Pipeline{
		authority: authority,
		messages:  messages,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (p *Pipeline) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.cfg.Timeout)
}

// ValidateSend checks a send request without touching any collaborator.
func (p *Pipeline) ValidateSend(req *models.SendRequest) error {
	if strings.TrimSpace(req.ChannelId) == "" {
		return apperr.Validation("Channel ID is required")
	}
	if req.Type == "" {
		req.Type = models.MessageText
	}
	if !req.Type.Valid() {
		return apperr.Validation("Unsupported message type")
	}
	if req.Type.HasAttachment() {
		if strings.TrimSpace(req.FileUrl) == "" {
			return apperr.Validation(fmt.Sprintf("File URL is required for %s messages", req.Type))
		}
		return nil
	}
	return p.validateContent(req.Content)
}

func (p *Pipeline) validateContent(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return apperr.Validation("Message content cannot be empty")
	}
	if utf8.RuneCountInString(content) > p.cfg.MaxContentLength {
		return apperr.Validation("Message is too long")
	}
	return nil
}

// Send validates, authorizes and persists a new message and returns the
// stored record, ready to broadcast.
func (p *Pipeline) Send(ctx context.Context, principal models.Principal, req models.SendRequest) (*models.Message, error) {
	if err := p.ValidateSend(&req); err != nil {
		return nil, err
	}
	if err := p.authority.Authorize(ctx, principal, req.ChannelId); err != nil {
		return nil, err
	}

	msg := &models.Message{
		ChannelId:      req.ChannelId,
		SenderId:       principal.UserId,
		SenderUsername: principal.Username,
		Type:           req.Type,
		Content:        strings.TrimSpace(req.Content),
		FileUrl:        req.FileUrl,
		FileName:       req.FileName,
		FileSize:       req.FileSize,
		MimeType:       req.MimeType,
	}

	ctx, cancel := p.bound(ctx)
	defer cancel()
	stored, err := p.messages.CreateMessage(ctx, msg)
	if err != nil {
		return nil, apperr.Persist(err)
	}
	return stored, nil
}

// load fetches a message and checks that principal may still access its
// channel.
func (p *Pipeline) load(ctx context.Context, principal models.Principal, messageId string) (*models.Message, error) {
	if strings.TrimSpace(messageId) == "" {
		return nil, apperr.Validation("Message ID is required")
	}
	fctx, cancel := p.bound(ctx)
	msg, err := p.messages.FindMessage(fctx, messageId)
	cancel()
	if err != nil {
		return nil, apperr.FromStore(err, store.ErrNotFound, "Message")
	}
	if err := p.authority.Authorize(ctx, principal, msg.ChannelId); err != nil {
		return nil, err
	}
	return msg, nil
}

// Edit replaces a message's content. Only the original sender may edit.
func (p *Pipeline) Edit(ctx context.Context, principal models.Principal, req models.EditRequest) (*models.MessageEditedData, error) {
	if err := p.validateContent(req.Content); err != nil {
		return nil, err
	}
	msg, err := p.load(ctx, principal, req.MessageId)
	if err != nil {
		return nil, err
	}
	if msg.SenderId != principal.UserId {
		return nil, apperr.PermissionMsg("You can only edit your own messages")
	}

	patch := models.MessagePatch{
		Content:  strings.TrimSpace(req.Content),
		EditedAt: p.now().UTC(),
	}
	ctx, cancel := p.bound(ctx)
	defer cancel()
	if _, err := p.messages.UpdateMessage(ctx, msg.Id, patch); err != nil {
		return nil, apperr.FromStore(err, store.ErrNotFound, "Message")
	}
	return &models.MessageEditedData{
		MessageId: msg.Id,
		ChannelId: msg.ChannelId,
		Content:   patch.Content,
		EditedAt:  patch.EditedAt,
	}, nil
}

// Delete removes a message. The sender, a super-admin or a channel admin may
// delete.
func (p *Pipeline) Delete(ctx context.Context, principal models.Principal, req models.DeleteRequest) (*models.MessageDeletedData, error) {
	msg, err := p.load(ctx, principal, req.MessageId)
	if err != nil {
		return nil, err
	}
	if msg.SenderId != principal.UserId {
		ok, err := p.authority.CanModerate(ctx, principal, msg.ChannelId)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.PermissionMsg("No permission to delete this message")
		}
	}

	ctx, cancel := p.bound(ctx)
	defer cancel()
	if err := p.messages.DeleteMessage(ctx, msg.Id); err != nil {
		return nil, apperr.FromStore(err, store.ErrNotFound, "Message")
	}
	return &models.MessageDeletedData{
		MessageId: msg.Id,
		ChannelId: msg.ChannelId,
		DeletedBy: principal.UserId,
	}, nil
}

// ValidateReaction checks that emoji is exactly one emoji and nothing else.
func ValidateReaction(emoji string) error {
	found := gomoji.CollectAll(emoji)
	if len(found) != 1 || found[0].Character != emoji {
		return apperr.Validation("Reaction must be a single emoji")
	}
	return nil
}

// AddReaction adds principal's emoji to a message. A duplicate add reports
// changed=false and must not be broadcast.
func (p *Pipeline) AddReaction(ctx context.Context, principal models.Principal, req models.ReactionRequest) (*models.ReactionData, bool, error) {
	if err := ValidateReaction(req.Emoji); err != nil {
		return nil, false, err
	}
	msg, err := p.load(ctx, principal, req.MessageId)
	if err != nil {
		return nil, false, err
	}

	ctx, cancel := p.bound(ctx)
	defer cancel()
	r, added, err := p.messages.AddReaction(ctx, msg.Id, principal.UserId, req.Emoji)
	if err != nil {
		return nil, false, apperr.FromStore(err, store.ErrNotFound, "Message")
	}
	if !added {
		return nil, false, nil
	}
	return &models.ReactionData{
		MessageId: msg.Id,
		ChannelId: msg.ChannelId,
		UserId:    principal.UserId,
		Emoji:     req.Emoji,
		Timestamp: r.Timestamp,
	}, true, nil
}

// RemoveReaction removes principal's emoji from a message. Removing an absent
// reaction reports changed=false.
func (p *Pipeline) RemoveReaction(ctx context.Context, principal models.Principal, req models.ReactionRequest) (*models.ReactionData, bool, error) {
	if strings.TrimSpace(req.Emoji) == "" {
		return nil, false, apperr.Validation("Reaction must be a single emoji")
	}
	msg, err := p.load(ctx, principal, req.MessageId)
	if err != nil {
		return nil, false, err
	}

	ctx, cancel := p.bound(ctx)
	defer cancel()
	removed, err := p.messages.RemoveReaction(ctx, msg.Id, principal.UserId, req.Emoji)
	if err != nil {
		return nil, false, apperr.FromStore(err, store.ErrNotFound, "Message")
	}
	if !removed {
		return nil, false, nil
	}
	return &models.ReactionData{
		MessageId: msg.Id,
		ChannelId: msg.ChannelId,
		UserId:    principal.UserId,
		Emoji:     req.Emoji,
		Timestamp: p.now().UTC(),
	}, true, nil
}

// History returns the newest messages of a channel in chronological order.
// Access is checked by the caller as part of the join.
func (p *Pipeline) History(ctx context.Context, channelId string) ([]*models.Message, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	msgs, err := p.messages.ListMessages(ctx, channelId, p.cfg.HistoryLimit)
	if err != nil {
		return nil, apperr.Persist(err)
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	return msgs, nil
}
