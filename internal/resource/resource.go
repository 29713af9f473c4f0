// Package resource wires one indexing engine per configured resource type:
// a shard store, a pending queue with its update worker, and the ingest,
// query, and maintenance services on top.
package resource

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stgy-dev/shardix/internal/db"
	"github.com/stgy-dev/shardix/internal/domain"
	domshard "github.com/stgy-dev/shardix/internal/domain/shard"
	"github.com/stgy-dev/shardix/internal/queue"
	shardrepo "github.com/stgy-dev/shardix/internal/repository/shard"
	"github.com/stgy-dev/shardix/internal/tokenizer"
	"github.com/stgy-dev/shardix/internal/usecase/ingest"
	"github.com/stgy-dev/shardix/internal/usecase/maintenance"
	"github.com/stgy-dev/shardix/internal/usecase/query"
)

// Options tunes one engine. Zero values fall back to package defaults.
type Options struct {
	KeyPrefix        string // storage namespace, e.g. "shardix:"
	BucketWidth      int64  // shard width in seconds
	DrainInterval    time.Duration
	DefaultFlushWait time.Duration
	MaxFlushWait     time.Duration
}

// Engine is the full indexing stack for one resource type.
type Engine struct {
	Ingest      *ingest.Service
	Query       *query.Service
	Maintenance *maintenance.Service

	repo   *shardrepo.Repo
	queue  *queue.Queue
	worker *queue.Worker
}

// NewEngine assembles an engine for the named resource.
func NewEngine(name string, store db.Store, tok *tokenizer.Tokenizer, opts Options, logger *zap.Logger) *Engine {
	bucketer := domshard.NewBucketer(opts.BucketWidth)
	prefix := fmt.Sprintf("%s%s:", opts.KeyPrefix, name)
	repo := shardrepo.New(store, prefix, bucketer)

	q := queue.New(name)
	worker := queue.NewWorker(q, repo, name, opts.DrainInterval, logger)

	maint := maintenance.New(repo, q, name, opts.DefaultFlushWait, logger).WithStore(store, prefix)
	ing := ingest.New(q, tok, maint, opts.DefaultFlushWait, opts.MaxFlushWait)
	qry := query.New(repo, tok)

	return &Engine{
		Ingest:      ing,
		Query:       qry,
		Maintenance: maint,
		repo:        repo,
		queue:       q,
		worker:      worker,
	}
}

// Start hydrates committed state from storage and launches the update worker.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.repo.Hydrate(ctx); err != nil {
		return err
	}
	e.Maintenance.Restore(ctx)
	e.worker.Start()
	return nil
}

// Stop drains the queue once more and stops the worker.
func (e *Engine) Stop() {
	e.worker.Stop()
}

// Registry maps resource names to their engines.
type Registry struct {
	engines map[string]*Engine
	names   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]*Engine)}
}

// Add registers an engine under name. Later registrations win.
func (r *Registry) Add(name string, e *Engine) {
	if _, ok := r.engines[name]; !ok {
		r.names = append(r.names, name)
	}
	r.engines[name] = e
}

// Get returns the engine for name.
func (r *Registry) Get(name string) (*Engine, error) {
	e, ok := r.engines[name]
	if !ok {
		return nil, fmt.Errorf("resource %q: %w", name, domain.ErrResourceNotFound)
	}
	return e, nil
}

// Names returns the registered resource names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// StartAll starts every engine; the first failure stops the ones already
// started and is returned.
func (r *Registry) StartAll(ctx context.Context) error {
	started := make([]*Engine, 0, len(r.names))
	for _, name := range r.names {
		e := r.engines[name]
		if err := e.Start(ctx); err != nil {
			for _, s := range started {
				s.Stop()
			}
			return fmt.Errorf("start resource %q: %w", name, err)
		}
		started = append(started, e)
	}
	return nil
}

// StopAll stops every engine.
func (r *Registry) StopAll() {
	for _, name := range r.names {
		r.engines[name].Stop()
	}
}
