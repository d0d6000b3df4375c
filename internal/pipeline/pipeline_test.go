package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"go-groupchat/internal/apperr"
	"go-groupchat/internal/membership"
	"go-groupchat/internal/models"
	"go-groupchat/internal/store/memstore"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = models.NewPrincipal("alice", "Alice")
	bob   = models.NewPrincipal("bob", "Bob")
	mod   = models.NewPrincipal("mod", "Mod")
	eve   = models.NewPrincipal("eve", "Eve")
	root  = models.NewPrincipal("root", "Root", models.RoleSuperAdmin)
)

func setup(t *testing.T) (*Pipeline, *memstore.Store) {
	t.Helper()
	s := memstore.New()
	s.PutChannel(models.NewChannel("general", []string{"alice", "bob", "mod"}, nil, []string{"mod"}))
	return New(membership.NewAuthority(s, time.Second), s, Config{Timeout: time.Second}), s
}

func send(t *testing.T, p *Pipeline, who models.Principal, content string) *models.Message {
	t.Helper()
	msg, err := p.Send(context.Background(), who, models.SendRequest{ChannelId: "general", Content: content})
	require.NoError(t, err)
	return msg
}

func TestValidateSend(t *testing.T) {
	p, _ := setup(t)
	tests := []struct {
		name string
		req  models.SendRequest
		ok   bool
	}{
		{"text", models.SendRequest{ChannelId: "c", Content: "hi"}, true},
		{"blank text", models.SendRequest{ChannelId: "c", Content: "   \n"}, false},
		{"no channel", models.SendRequest{Content: "hi"}, false},
		{"image with url", models.SendRequest{ChannelId: "c", Type: models.MessageImage, FileUrl: "https://x/y.png"}, true},
		{"file without url", models.SendRequest{ChannelId: "c", Type: models.MessageFile, Content: "x"}, false},
		{"video without url", models.SendRequest{ChannelId: "c", Type: models.MessageVideo}, false},
		{"unknown type", models.SendRequest{ChannelId: "c", Type: "sticker", Content: "x"}, false},
		{"too long", models.SendRequest{ChannelId: "c", Content: strings.Repeat("a", DefaultMaxContentLength+1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			err := p.ValidateSend(&req)
			if tt.ok {
				require.NoError(t, err)
			} else {
				assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			}
		})
	}
}

func TestSend_Persists(t *testing.T) {
	p, s := setup(t)
	msg := send(t, p, alice, "  hi ")
	assert.NotEmpty(t, msg.Id)
	assert.Equal(t, "alice", msg.SenderId)
	assert.Equal(t, "Alice", msg.SenderUsername)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, models.MessageText, msg.Type)
	assert.Equal(t, 1, s.WriteCalls())
}

func TestSend_RejectedBeforePersist(t *testing.T) {
	p, s := setup(t)
	s.Ban("general", "bob")

	_, err := p.Send(context.Background(), alice, models.SendRequest{ChannelId: "general", Content: ""})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = p.Send(context.Background(), eve, models.SendRequest{ChannelId: "general", Content: "hi"})
	assert.Equal(t, apperr.KindPermission, apperr.KindOf(err))

	_, err = p.Send(context.Background(), bob, models.SendRequest{ChannelId: "general", Content: "hi"})
	assert.Equal(t, apperr.KindPermission, apperr.KindOf(err))

	assert.Equal(t, 0, s.WriteCalls())
}

func TestSend_PersistFailure(t *testing.T) {
	p, s := setup(t)
	s.Fail = errors.New("connection reset")

	_, err := p.Send(context.Background(), alice, models.SendRequest{ChannelId: "general", Content: "hi"})
	assert.Equal(t, apperr.KindPersist, apperr.KindOf(err))
	assert.NotContains(t, apperr.Public(err), "connection reset")
}

func TestSend_Timeout(t *testing.T) {
	p, s := setup(t)
	p.cfg.Timeout = 20 * time.Millisecond
	s.Delay = time.Second

	_, err := p.Send(context.Background(), alice, models.SendRequest{ChannelId: "general", Content: "hi"})
	assert.Equal(t, apperr.KindPersist, apperr.KindOf(err))
}

func TestEdit(t *testing.T) {
	p, s := setup(t)
	msg := send(t, p, alice, "hi")

	_, err := p.Edit(context.Background(), bob, models.EditRequest{MessageId: msg.Id, Content: "hacked"})
	assert.Equal(t, apperr.KindPermission, apperr.KindOf(err))

	_, err = p.Edit(context.Background(), alice, models.EditRequest{MessageId: "missing", Content: "x"})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = p.Edit(context.Background(), alice, models.EditRequest{MessageId: msg.Id, Content: " "})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	edited, err := p.Edit(context.Background(), alice, models.EditRequest{MessageId: msg.Id, Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, msg.Id, edited.MessageId)
	assert.Equal(t, "general", edited.ChannelId)
	assert.Equal(t, "hello", edited.Content)
	assert.False(t, edited.EditedAt.IsZero())

	stored, err := s.FindMessage(context.Background(), msg.Id)
	require.NoError(t, err)
	assert.True(t, stored.IsEdited)
	assert.Equal(t, "hello", stored.Content)
}

func TestEdit_SenderRemovedFromChannel(t *testing.T) {
	p, s := setup(t)
	msg := send(t, p, alice, "hi")
	s.RemoveMember("general", "alice")

	_, err := p.Edit(context.Background(), alice, models.EditRequest{MessageId: msg.Id, Content: "x"})
	assert.Equal(t, apperr.KindPermission, apperr.KindOf(err))
}

func TestDelete(t *testing.T) {
	p, _ := setup(t)
	ctx := context.Background()

	m1 := send(t, p, alice, "one")
	_, err := p.Delete(ctx, bob, models.DeleteRequest{MessageId: m1.Id})
	assert.Equal(t, apperr.KindPermission, apperr.KindOf(err))

	deleted, err := p.Delete(ctx, alice, models.DeleteRequest{MessageId: m1.Id})
	require.NoError(t, err)
	assert.Equal(t, "alice", deleted.DeletedBy)

	m2 := send(t, p, alice, "two")
	deleted, err = p.Delete(ctx, mod, models.DeleteRequest{MessageId: m2.Id})
	require.NoError(t, err)
	assert.Equal(t, "mod", deleted.DeletedBy)

	m3 := send(t, p, bob, "three")
	deleted, err = p.Delete(ctx, root, models.DeleteRequest{MessageId: m3.Id})
	require.NoError(t, err)
	assert.Equal(t, "root", deleted.DeletedBy)

	history, err := p.History(ctx, "general")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestReactions(t *testing.T) {
	p, s := setup(t)
	ctx := context.Background()
	msg := send(t, p, alice, "hi")

	r, changed, err := p.AddReaction(ctx, bob, models.ReactionRequest{MessageId: msg.Id, Emoji: "👍"})
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, "bob", r.UserId)
	assert.Equal(t, "general", r.ChannelId)

	_, changed, err = p.AddReaction(ctx, bob, models.ReactionRequest{MessageId: msg.Id, Emoji: "👍"})
	require.NoError(t, err)
	assert.False(t, changed)

	stored, err := s.FindMessage(ctx, msg.Id)
	require.NoError(t, err)
	assert.Len(t, stored.Reactions, 1)

	_, changed, err = p.RemoveReaction(ctx, bob, models.ReactionRequest{MessageId: msg.Id, Emoji: "👍"})
	require.NoError(t, err)
	assert.True(t, changed)
	_, changed, err = p.RemoveReaction(ctx, bob, models.ReactionRequest{MessageId: msg.Id, Emoji: "👍"})
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, err = p.AddReaction(ctx, eve, models.ReactionRequest{MessageId: msg.Id, Emoji: "👍"})
	assert.Equal(t, apperr.KindPermission, apperr.KindOf(err))
}

func TestValidateReaction(t *testing.T) {
	require.NoError(t, ValidateReaction("🔥"))
	assert.Error(t, ValidateReaction(""))
	assert.Error(t, ValidateReaction("ok"))
	assert.Error(t, ValidateReaction("🔥🔥"))
	assert.Error(t, ValidateReaction("a🔥"))
}

func TestHistoryChronological(t *testing.T) {
	p, _ := setup(t)
	send(t, p, alice, "one")
	send(t, p, bob, "two")

	history, err := p.History(context.Background(), "general")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "one", history[0].Content)
	assert.Equal(t, "two", history[1].Content)

	empty, err := p.History(context.Background(), "nothing")
	require.NoError(t, err)
	assert.NotNil(t, empty)
}
