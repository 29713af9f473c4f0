package ingest

import (
	"context"
	"time"

	"github.com/stgy-dev/shardix/internal/domain/mutation"
)

// Pending is the mutation queue the service enqueues into.
type Pending interface {
	Enqueue(m mutation.Mutation) uint64
	WaitCommitted(ctx context.Context, target uint64, wait time.Duration) bool
	Flush(ctx context.Context, wait time.Duration) (drained bool, pending int)
}

// Tokenizer produces the index terms stored with an upsert.
type Tokenizer interface {
	Tokenize(text, locale string) ([]string, error)
}

// Gate rejects mutations while maintenance mode is on.
type Gate interface {
	IngestionAllowed() error
}
