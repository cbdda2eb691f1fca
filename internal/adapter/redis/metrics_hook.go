package redis

import (
	"context"
	"errors"
	"net"

	"github.com/plyoox/notificator/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
)

// MetricsHook counts every Redis command by name and outcome.
type MetricsHook struct {
	metrics *metrics.StorageMetrics
}

var _ goredis.Hook = (*MetricsHook)(nil)

func NewMetricsHook(m *metrics.StorageMetrics) *MetricsHook {
	return &MetricsHook{metrics: m}
}

func (h *MetricsHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		h.metrics.RedisCommands.WithLabelValues("dial", outcome(err)).Inc()
		return conn, err
	}
}

func (h *MetricsHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		err := next(ctx, cmd)
		h.metrics.RedisCommands.WithLabelValues(cmd.Name(), outcome(err)).Inc()
		return err
	}
}

func (h *MetricsHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		err := next(ctx, cmds)
		h.metrics.RedisCommands.WithLabelValues("pipeline", outcome(err)).Inc()
		return err
	}
}

// outcome treats a nil reply as success; SET NX answers with one.
func outcome(err error) string {
	if err != nil && !errors.Is(err, goredis.Nil) {
		return metrics.OutcomeError
	}
	return metrics.OutcomeSuccess
}
