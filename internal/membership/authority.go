// Package membership decides whether a principal may observe or post to a
// channel. Channel records are fetched fresh on every decision, so membership
// and ban changes apply from the next check onwards and never retroactively.
package membership

import (
	"context"
	"log/slog"
	"time"

	"go-groupchat/internal/apperr"
	"go-groupchat/internal/models"
	"go-groupchat/internal/store"
)

type Authority struct {
	channels store.ChannelStore
	timeout  time.Duration
}

func NewAuthority(channels store.ChannelStore, timeout time.Duration) *Authority {
	return &Authority{channels: channels, timeout: timeout}
}

func (a *Authority) fetch(ctx context.Context, channelId string) (*models.Channel, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	ch, err := a.channels.FindChannel(ctx, channelId)
	if err != nil {
		return nil, apperr.FromStore(err, store.ErrNotFound, "channel")
	}
	return ch, nil
}

// CanAccess reports whether p may join or post to channelId: super-admins
// may enter any existing channel, everyone else must be a member and not
// banned.
func (a *Authority) CanAccess(ctx context.Context, p models.Principal, channelId string) (bool, error) {
	ch, err := a.fetch(ctx, channelId)
	if err != nil {
		return false, err
	}
	if p.IsSuperAdmin() {
		return true, nil
	}
	return ch.IsMember(p.UserId) && !ch.IsBanned(p.UserId), nil
}

// CanModerate reports whether p may remove other users' messages in
// channelId.
func (a *Authority) CanModerate(ctx context.Context, p models.Principal, channelId string) (bool, error) {
	ch, err := a.fetch(ctx, channelId)
	if err != nil {
		return false, err
	}
	if p.IsSuperAdmin() {
		return true, nil
	}
	return ch.IsAdmin(p.UserId) && !ch.IsBanned(p.UserId), nil
}

// Authorize is CanAccess with a denial turned into a permission error.
func (a *Authority) Authorize(ctx context.Context, p models.Principal, channelId string) error {
	ok, err := a.CanAccess(ctx, p, channelId)
	if err != nil {
		return err
	}
	if !ok {
		slog.Debug("[AUTHZ] Access denied", "user", p.UserId, "channel", channelId)
		return apperr.Permission(nil)
	}
	return nil
}
