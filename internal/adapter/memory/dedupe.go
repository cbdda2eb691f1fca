// Package memory holds single-instance fallbacks used when Redis is not
// configured.
package memory

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/plyoox/notificator/internal/domain"
)

const maxRememberedMessages = 10_000

// MessageDedupe remembers webhook message ids in an expiring LRU. Only
// deliveries that reach this instance are deduplicated.
type MessageDedupe struct {
	mu   sync.Mutex
	seen *lru.LRU[string, struct{}]
}

var _ domain.MessageDeduplicator = (*MessageDedupe)(nil)

func NewMessageDedupe(retention time.Duration) *MessageDedupe {
	return &MessageDedupe{
		seen: lru.NewLRU[string, struct{}](maxRememberedMessages, nil, retention),
	}
}

func (d *MessageDedupe) FirstSeen(_ context.Context, messageID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen.Get(messageID); ok {
		return false, nil
	}
	d.seen.Add(messageID, struct{}{})
	return true, nil
}
