package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/plyoox/notificator/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// MessageRetention covers Twitch's redelivery window for a webhook message.
const MessageRetention = 10 * time.Minute

// MessageDedupe remembers EventSub message ids across instances.
type MessageDedupe struct {
	rdb *goredis.Client
	ttl time.Duration
}

var _ domain.MessageDeduplicator = (*MessageDedupe)(nil)

func NewMessageDedupe(rdb *goredis.Client) *MessageDedupe {
	return &MessageDedupe{rdb: rdb, ttl: MessageRetention}
}

// FirstSeen claims messageID with SET NX. A nil reply means another delivery
// already claimed it.
func (d *MessageDedupe) FirstSeen(ctx context.Context, messageID string) (bool, error) {
	args := goredis.SetArgs{TTL: d.ttl, Mode: "NX"}
	_, err := d.rdb.SetArgs(ctx, messageKey(messageID), "1", args).Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to record message id: %w", err)
	}
	return true, nil
}

func messageKey(messageID string) string {
	return "eventsub:msg:" + messageID
}
