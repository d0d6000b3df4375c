package sqlstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"go-groupchat/internal/models"
	"go-groupchat/internal/store"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "test.db")
	s, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestUsers(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.FindUser(ctx, "u1")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.UpsertUser(ctx, &models.User{Id: "u1", Username: "alice", Roles: []models.Role{models.RoleSuperAdmin}}))
	u, err := s.FindUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, []models.Role{models.RoleSuperAdmin}, u.Roles)

	require.NoError(t, s.UpsertUser(ctx, &models.User{Id: "u1", Username: "alice2"}))
	u, err = s.FindUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice2", u.Username)
}

func TestChannels(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ch := models.NewChannel("general", []string{"u1", "u2"}, []string{"u2"}, []string{"u1"})
	ch.Name = "General"
	require.NoError(t, s.UpsertChannel(ctx, ch))

	got, err := s.FindChannel(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, "General", got.Name)
	assert.True(t, got.IsMember("u1"))
	assert.True(t, got.IsBanned("u2"))
	assert.True(t, got.IsAdmin("u1"))
	assert.False(t, got.IsAdmin("u2"))

	// Replacing the lists drops stale entries.
	require.NoError(t, s.UpsertChannel(ctx, models.NewChannel("general", []string{"u3"}, nil, nil)))
	got, err = s.FindChannel(ctx, "general")
	require.NoError(t, err)
	assert.False(t, got.IsMember("u1"))
	assert.True(t, got.IsMember("u3"))
	assert.Empty(t, got.BannedIds)

	_, err = s.FindChannel(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestMessageLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	stored, err := s.CreateMessage(ctx, &models.Message{
		ChannelId:      "general",
		SenderId:       "u1",
		SenderUsername: "alice",
		Type:           models.MessageText,
		Content:        "hi",
	})
	require.NoError(t, err)
	require.NotEmpty(t, stored.Id)
	require.False(t, stored.CreatedAt.IsZero())

	got, err := s.FindMessage(ctx, stored.Id)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Content)
	assert.Equal(t, models.MessageText, got.Type)
	assert.False(t, got.IsEdited)
	assert.Nil(t, got.EditedAt)

	editedAt := time.Now()
	updated, err := s.UpdateMessage(ctx, stored.Id, models.MessagePatch{Content: "hello", EditedAt: editedAt})
	require.NoError(t, err)
	assert.Equal(t, "hello", updated.Content)
	assert.True(t, updated.IsEdited)
	require.NotNil(t, updated.EditedAt)
	assert.WithinDuration(t, editedAt, *updated.EditedAt, time.Second)

	require.NoError(t, s.DeleteMessage(ctx, stored.Id))
	_, err = s.FindMessage(ctx, stored.Id)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.DeleteMessage(ctx, stored.Id), store.ErrNotFound)

	_, err = s.UpdateMessage(ctx, stored.Id, models.MessagePatch{Content: "x", EditedAt: editedAt})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestReactionsAreIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	msg, err := s.CreateMessage(ctx, &models.Message{ChannelId: "c", SenderId: "u1", Type: models.MessageText, Content: "x"})
	require.NoError(t, err)

	r, added, err := s.AddReaction(ctx, msg.Id, "u2", "👍")
	require.NoError(t, err)
	require.True(t, added)
	assert.Equal(t, "u2", r.UserId)

	_, added, err = s.AddReaction(ctx, msg.Id, "u2", "👍")
	require.NoError(t, err)
	assert.False(t, added)

	got, err := s.FindMessage(ctx, msg.Id)
	require.NoError(t, err)
	require.Len(t, got.Reactions, 1)

	removed, err := s.RemoveReaction(ctx, msg.Id, "u2", "👍")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.RemoveReaction(ctx, msg.Id, "u2", "👍")
	require.NoError(t, err)
	assert.False(t, removed)

	_, _, err = s.AddReaction(ctx, "missing", "u2", "👍")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListMessages(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var ids []string
	for _, content := range []string{"one", "two", "three"} {
		m, err := s.CreateMessage(ctx, &models.Message{ChannelId: "c", SenderId: "u1", Type: models.MessageText, Content: content})
		require.NoError(t, err)
		ids = append(ids, m.Id)
	}
	_, err := s.CreateMessage(ctx, &models.Message{ChannelId: "other", SenderId: "u1", Type: models.MessageText, Content: "x"})
	require.NoError(t, err)

	msgs, err := s.ListMessages(ctx, "c", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, ids[1], msgs[0].Id)
	assert.Equal(t, ids[2], msgs[1].Id)

	_, err = s.ListMessages(ctx, "c", 0)
	require.Error(t, err)
}

func TestWriteAfterClose(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.CreateMessage(context.Background(), &models.Message{ChannelId: "c", SenderId: "u1", Type: models.MessageText, Content: "x"})
	require.True(t, errors.Is(err, store.ErrClosed))
}

func TestWriteRespectsContext(t *testing.T) {
	s := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.CreateMessage(ctx, &models.Message{ChannelId: "c", SenderId: "u1", Type: models.MessageText, Content: "x"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestWriteReportsCommitDespiteExpiredContext(t *testing.T) {
	s := setupTestStore(t)
	for i := 0; i < 50; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		err := s.write(ctx, func(context.Context, *sql.DB) error {
			cancel()
			return nil
		})
		require.NoError(t, err, "iteration %d", i)
	}
}
