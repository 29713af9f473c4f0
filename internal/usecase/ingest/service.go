// Package ingest accepts document mutations and hands them to the pending
// queue. Acceptance is synchronous and validated; commit is asynchronous.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/stgy-dev/shardix/internal/domain"
	"github.com/stgy-dev/shardix/internal/domain/document"
	"github.com/stgy-dev/shardix/internal/domain/mutation"
)

// Default and maximum flush wait budgets when the caller does not set one.
const (
	DefaultFlushWait = 2 * time.Second
	MaxFlushWait     = 30 * time.Second
)

// Service validates mutations and enqueues them for the update worker.
type Service struct {
	queue       Pending
	tokenizer   Tokenizer
	gate        Gate
	defaultWait time.Duration
	maxWait     time.Duration
}

// New creates the ingestion service. Non-positive wait bounds fall back to
// the package defaults.
func New(queue Pending, tokenizer Tokenizer, gate Gate, defaultWait, maxWait time.Duration) *Service {
	if defaultWait <= 0 {
		defaultWait = DefaultFlushWait
	}
	if maxWait <= 0 {
		maxWait = MaxFlushWait
	}
	return &Service{
		queue:       queue,
		tokenizer:   tokenizer,
		gate:        gate,
		defaultWait: defaultWait,
		maxWait:     maxWait,
	}
}

// Upsert validates the document, tokenizes its body, and enqueues the
// mutation. Tokenization happens here so a bad locale is rejected before
// acceptance instead of failing silently in the worker. A positive wait
// blocks (bounded) until the mutation commits; acceptance is the same
// either way.
func (s *Service) Upsert(
	ctx context.Context, id, bodyText string, timestamp int64, locale, attrs string, wait time.Duration,
) error {
	if err := s.gate.IngestionAllowed(); err != nil {
		return err
	}

	doc, err := document.New(id, bodyText, timestamp, locale, attrs)
	if err != nil {
		return err
	}
	tokens, err := s.tokenizer.Tokenize(bodyText, locale)
	if err != nil {
		return err
	}

	seq := s.queue.Enqueue(mutation.Upsert(doc, tokens))
	if wait > 0 {
		s.queue.WaitCommitted(ctx, seq, s.clampWait(wait))
	}
	return nil
}

// Delete enqueues a delete mutation. Deleting an id that was never indexed
// is still accepted; the worker resolves it as a no-op.
func (s *Service) Delete(ctx context.Context, id string, wait time.Duration) error {
	if err := s.gate.IngestionAllowed(); err != nil {
		return err
	}
	if err := document.ValidateID(id); err != nil {
		return err
	}

	seq := s.queue.Enqueue(mutation.Delete(id))
	if wait > 0 {
		s.queue.WaitCommitted(ctx, seq, s.clampWait(wait))
	}
	return nil
}

// Flush waits for every mutation accepted before the call to commit, bounded
// by the wait budget (clamped to the configured maximum; zero means the
// default). Returns whether the barrier was reached and the remaining depth.
func (s *Service) Flush(ctx context.Context, wait time.Duration) (drained bool, pending int) {
	return s.queue.Flush(ctx, s.clampWait(wait))
}

func (s *Service) clampWait(wait time.Duration) time.Duration {
	switch {
	case wait <= 0:
		return s.defaultWait
	case wait > s.maxWait:
		return s.maxWait
	default:
		return wait
	}
}

// ParseWait converts a caller-supplied wait in seconds to a duration,
// rejecting negative values.
func ParseWait(seconds float64) (time.Duration, error) {
	if seconds < 0 {
		return 0, fmt.Errorf("wait must be non-negative: %w", domain.ErrInvalidDocument)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
