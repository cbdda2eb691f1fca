package redis

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	sweepLeaderKey = "notificator:sweep:leader"
	// sweepLeaderTTL outlives a sweep pass, so the lease is never renewed.
	sweepLeaderTTL = 2 * time.Minute
)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LeaderElector makes sure only one instance runs the orphan sweep at a time.
type LeaderElector struct {
	rdb        *goredis.Client
	instanceID string
	key        string
	ttl        time.Duration
}

// NewLeaderElector names the instance after the host plus a random suffix,
// so restarted pods never reuse a lease.
func NewLeaderElector(rdb *goredis.Client) *LeaderElector {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return &LeaderElector{
		rdb:        rdb,
		instanceID: host + "-" + uuid.NewString()[:8],
		key:        sweepLeaderKey,
		ttl:        sweepLeaderTTL,
	}
}

func (l *LeaderElector) InstanceID() string {
	return l.instanceID
}

// TryAcquire returns false when another instance holds the lease.
func (l *LeaderElector) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, l.instanceID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire sweep leadership: %w", err)
	}
	return ok, nil
}

// Release drops the lease if this instance still holds it.
func (l *LeaderElector) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.instanceID).Err(); err != nil {
		return fmt.Errorf("failed to release sweep leadership: %w", err)
	}
	return nil
}
