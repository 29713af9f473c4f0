package maintenance

import (
	"context"
	"time"

	domshard "github.com/stgy-dev/shardix/internal/domain/shard"
)

// ShardStore is the structural surface of the shard repository.
type ShardStore interface {
	ListShards(ctx context.Context, detailed bool) []domshard.Info
	DeleteShard(ctx context.Context, bucketTimestamp int64) error
	Rewrite(ctx context.Context, timestamp, newInitialID int64, isReserved func(string) bool) (int, error)
	Compact(ctx context.Context, timestamp int64) error
}

// Flusher drains the pending queue before a structural job touches shards.
type Flusher interface {
	Flush(ctx context.Context, wait time.Duration) (drained bool, pending int)
}

// ModeStore persists the gate flags so an engaged mode survives a restart.
type ModeStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}
