package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/stgy-dev/shardix/internal/domain/document"
	"github.com/stgy-dev/shardix/internal/domain/mutation"
	"github.com/stgy-dev/shardix/internal/metrics"
)

// DefaultDrainInterval is the fallback worker tick when none is configured.
const DefaultDrainInterval = 50 * time.Millisecond

// Committer applies drained mutations to the shard store.
type Committer interface {
	Upsert(ctx context.Context, doc document.Document, tokens []string) error
	Delete(ctx context.Context, id string) (bool, error)
}

// Worker is the single background drainer for one resource's queue.
// It runs continuously and independently of flush callers: flush is a
// barrier over the committed sequence, not a worker restart.
type Worker struct {
	queue    *Queue
	repo     Committer
	logger   *zap.Logger
	resource string
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewWorker creates a worker draining q into repo.
func NewWorker(q *Queue, repo Committer, resource string, interval time.Duration, logger *zap.Logger) *Worker {
	if interval <= 0 {
		interval = DefaultDrainInterval
	}
	return &Worker{
		queue:    q,
		repo:     repo,
		logger:   logger,
		resource: resource,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the drain loop.
func (w *Worker) Start() {
	go w.run()
}

// Stop performs a final drain and waits for the loop to exit.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Worker) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			w.drain()
			return
		case <-w.queue.wakeup():
			w.drain()
		case <-ticker.C:
			w.drain()
		}
	}
}

// drain applies one full batch. Commit errors drop the mutation: the caller
// already got its 202 and the only observable signal is metrics/logs.
func (w *Worker) drain() {
	batch, barrier := w.queue.TakeAll()
	if len(batch) == 0 {
		w.queue.Commit(barrier)
		return
	}

	ctx := context.Background()
	for _, m := range batch {
		if err := w.apply(ctx, m); err != nil {
			metrics.CommitFailures.WithLabelValues(w.resource).Inc()
			w.logger.Error("mutation commit failed",
				zap.String("resource", w.resource),
				zap.String("op", string(m.Op)),
				zap.String("id", m.ID),
				zap.Error(err),
			)
			continue
		}
		metrics.MutationsCommitted.WithLabelValues(w.resource, string(m.Op)).Inc()
	}

	w.queue.Commit(barrier)
	metrics.DrainCycles.WithLabelValues(w.resource).Inc()

	w.logger.Debug("drained pending mutations",
		zap.String("resource", w.resource),
		zap.Int("batch", len(batch)),
		zap.Uint64("barrier", barrier),
	)
}

func (w *Worker) apply(ctx context.Context, m mutation.Mutation) error {
	switch m.Op {
	case mutation.OpUpsert:
		return w.repo.Upsert(ctx, m.Doc, m.Tokens)
	case mutation.OpDelete:
		_, err := w.repo.Delete(ctx, m.ID)
		return err
	default:
		return nil
	}
}
