// Package redis journals stored channel events to Redis pub/sub so that
// processes outside the chat core (audit, search indexing, notifications) can
// follow a channel without holding a socket.
package redis

import (
	"context"
	"log/slog"
	"strings"

	"go-groupchat/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// ChannelPrefix namespaces every journal topic.
const ChannelPrefix = "chat:channel:"

type Client struct {
	rdb *redis.Client
}

// NewClient connects to redisURL and pings it once.
func NewClient(ctx context.Context, redisURL string) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errors.Wrap(err, "connect to redis")
	}

	slog.Info("[REDIS] Connected", "addr", opt.Addr, "db", opt.DB)
	return &Client{rdb: rdb}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Topic returns the pub/sub channel a chat channel's events are journaled to.
func Topic(channelId string) string {
	return ChannelPrefix + channelId
}

// ChannelFromTopic is the inverse of Topic.
func ChannelFromTopic(topic string) (string, bool) {
	if !strings.HasPrefix(topic, ChannelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(topic, ChannelPrefix), true
}

// Publish journals an already encoded event frame.
func (c *Client) Publish(ctx context.Context, channelId string, frame []byte) error {
	topic := Topic(channelId)
	if err := c.rdb.Publish(ctx, topic, frame).Err(); err != nil {
		slog.Error("[REDIS] Failed to publish event", "channel", topic, "error", err)
		return errors.Wrapf(err, "publish to %s", topic)
	}
	return nil
}

// Subscribe follows the journal of every channel matching pattern (a glob on
// the channel id, "*" for all) and calls fn for each event until ctx is done.
func (c *Client) Subscribe(ctx context.Context, pattern string, fn func(models.Event)) error {
	pubsub := c.rdb.PSubscribe(ctx, Topic(pattern))
	defer pubsub.Close()

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		return errors.Wrap(err, "subscribe")
	}
	slog.Info("[REDIS] Subscribed to journal", "pattern", Topic(pattern))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				slog.Info("[REDIS] Journal subscription closed")
				return nil
			}
			var event models.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				slog.Error("[REDIS] Error unmarshaling event", "channel", msg.Channel, "error", err)
				continue
			}
			if event.ChannelId == "" {
				event.ChannelId, _ = ChannelFromTopic(msg.Channel)
			}
			fn(event)
		}
	}
}
