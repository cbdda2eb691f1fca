package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/plyoox/notificator/internal/adapter/metrics"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setupTestClient(t *testing.T) (*goredis.Client, *miniredis.Miniredis, *metrics.StorageMetrics) {
	t.Helper()

	mr := miniredis.RunT(t)
	m := metrics.NewStorageMetrics(prometheus.NewRegistry())

	client, err := NewClient(context.Background(), "redis://"+mr.Addr(), m)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client, mr, m
}
