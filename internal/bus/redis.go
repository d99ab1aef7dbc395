// Package bus publishes "indicator updated" events to Redis streams for
// downstream consumers (strategy evaluation, charts). Consumers subscribe
// by stream key pattern; the engine only ever appends.
package bus

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/go-redis/redis/v8"

	"indstream/internal/model"
)

// Publisher appends indicator points to per-(symbol, variant) streams.
type Publisher struct {
	rdb    *goredis.Client
	log    *slog.Logger
	maxLen int64 // per-stream approximate cap
}

// Config for the Redis publisher.
type Config struct {
	Addr     string
	Password string
	MaxLen   int64 // stream trim length; default 10000
}

// New connects to Redis and verifies the connection.
func New(cfg Config, log *slog.Logger) (*Publisher, error) {
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = 10000
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info("redis publisher connected", "addr", cfg.Addr)
	return &Publisher{rdb: rdb, log: log, maxLen: cfg.MaxLen}, nil
}

// PublishPoints XAdds one event per point, pipelined. Implements the
// scheduler's Publisher; best effort by contract — the caller logs and
// moves on.
func (p *Publisher) PublishPoints(ctx context.Context, pts []model.IndicatorPoint) error {
	if len(pts) == 0 {
		return nil
	}
	pipe := p.rdb.Pipeline()
	for i := range pts {
		pt := &pts[i]
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: pt.StreamKey(),
			MaxLen: p.maxLen,
			Approx: true,
			Values: map[string]interface{}{"data": string(pt.JSON())},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish %d points: %w", len(pts), err)
	}
	return nil
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
