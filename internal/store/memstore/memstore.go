// Package memstore is an in-process implementation of the store collaborators.
// It backs tests and the "memory" store driver.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"go-groupchat/internal/models"
	"go-groupchat/internal/store"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Store struct {
	mu       sync.RWMutex
	users    map[string]*models.User
	channels map[string]*models.Channel
	messages map[string]*models.Message
	order    []string

	// Fail, when set, is returned by every message write. Used to exercise
	// persistence failures.
	Fail error
	// Delay is slept before each message write.
	Delay time.Duration

	calls int
	now   func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:    make(map[string]*models.User),
		channels: make(map[string]*models.Channel),
		messages: make(map[string]*models.Message),
		now:      time.Now,
	}
}

func (s *Store) PutUser(id, username string, roles ...models.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = &models.User{Id: id, Username: username, Roles: roles}
}

func (s *Store) PutChannel(ch *models.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.Id] = copyChannel(ch)
}

// UpsertUser matches sqlstore's seeding method.
func (s *Store) UpsertUser(_ context.Context, u *models.User) error {
	s.PutUser(u.Id, u.Username, u.Roles...)
	return nil
}

func (s *Store) UpsertChannel(_ context.Context, ch *models.Channel) error {
	s.PutChannel(ch)
	return nil
}

// Ban adds userId to a channel's ban list.
func (s *Store) Ban(channelId, userId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.channels[channelId]; ok {
		ch.BannedIds[userId] = struct{}{}
	}
}

// RemoveMember drops userId from a channel's member list.
func (s *Store) RemoveMember(channelId, userId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.channels[channelId]; ok {
		delete(ch.MemberIds, userId)
	}
}

// WriteCalls counts message writes attempted, including failed ones.
func (s *Store) WriteCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

func (s *Store) Close() error { return nil }

func (s *Store) FindUser(ctx context.Context, userId string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userId]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	cp.Roles = append([]models.Role(nil), u.Roles...)
	return &cp, nil
}

func (s *Store) FindChannel(ctx context.Context, channelId string) (*models.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[channelId]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyChannel(ch), nil
}

func (s *Store) beginWrite(ctx context.Context) error {
	s.mu.Lock()
	s.calls++
	fail, delay := s.Fail, s.Delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fail
}

func (s *Store) CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if err := s.beginWrite(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *msg
	stored.Id = uuid.NewString()
	stored.CreatedAt = s.now().UTC()
	stored.Reactions = []models.Reaction{}
	s.messages[stored.Id] = &stored
	s.order = append(s.order, stored.Id)
	return copyMessage(&stored), nil
}

func (s *Store) FindMessage(ctx context.Context, messageId string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[messageId]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyMessage(m), nil
}

func (s *Store) UpdateMessage(ctx context.Context, messageId string, patch models.MessagePatch) (*models.Message, error) {
	if err := s.beginWrite(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageId]
	if !ok {
		return nil, store.ErrNotFound
	}
	editedAt := patch.EditedAt
	m.Content = patch.Content
	m.IsEdited = true
	m.EditedAt = &editedAt
	return copyMessage(m), nil
}

func (s *Store) DeleteMessage(ctx context.Context, messageId string) error {
	if err := s.beginWrite(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[messageId]; !ok {
		return store.ErrNotFound
	}
	delete(s.messages, messageId)
	for i, id := range s.order {
		if id == messageId {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) AddReaction(ctx context.Context, messageId, userId, emoji string) (*models.Reaction, bool, error) {
	if err := s.beginWrite(ctx); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageId]
	if !ok {
		return nil, false, store.ErrNotFound
	}
	for _, r := range m.Reactions {
		if r.UserId == userId && r.Emoji == emoji {
			return nil, false, nil
		}
	}
	r := models.Reaction{UserId: userId, Emoji: emoji, Timestamp: s.now().UTC()}
	m.Reactions = append(m.Reactions, r)
	return &r, true, nil
}

func (s *Store) RemoveReaction(ctx context.Context, messageId, userId, emoji string) (bool, error) {
	if err := s.beginWrite(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageId]
	if !ok {
		return false, store.ErrNotFound
	}
	for i, r := range m.Reactions {
		if r.UserId == userId && r.Emoji == emoji {
			m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListMessages(ctx context.Context, channelId string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Message
	for _, id := range s.order {
		if m := s.messages[id]; m.ChannelId == channelId {
			out = append(out, copyMessage(m))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func copyChannel(ch *models.Channel) *models.Channel {
	cp := &models.Channel{
		Id:        ch.Id,
		GroupId:   ch.GroupId,
		Name:      ch.Name,
		MemberIds: make(map[string]struct{}, len(ch.MemberIds)),
		BannedIds: make(map[string]struct{}, len(ch.BannedIds)),
		AdminIds:  make(map[string]struct{}, len(ch.AdminIds)),
	}
	for id := range ch.MemberIds {
		cp.MemberIds[id] = struct{}{}
	}
	for id := range ch.BannedIds {
		cp.BannedIds[id] = struct{}{}
	}
	for id := range ch.AdminIds {
		cp.AdminIds[id] = struct{}{}
	}
	return cp
}

func copyMessage(m *models.Message) *models.Message {
	cp := *m
	cp.Reactions = append([]models.Reaction{}, m.Reactions...)
	if m.EditedAt != nil {
		t := *m.EditedAt
		cp.EditedAt = &t
	}
	return &cp
}
