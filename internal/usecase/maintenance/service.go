// Package maintenance implements the operational control plane: the
// maintenance and reservation modes, id reservation, and the structural
// shard jobs (reconstruct, optimize, shard deletion).
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stgy-dev/shardix/internal/domain"
	"github.com/stgy-dev/shardix/internal/domain/document"
	domshard "github.com/stgy-dev/shardix/internal/domain/shard"
)

// Service owns the mode switches and runs structural jobs for one resource.
// Mode reads never block behind a running job.
type Service struct {
	mu          sync.Mutex
	maintenance bool
	reservation bool
	reserved    map[string]struct{}

	// jobMu serializes structural jobs. TryLock keeps a second job from
	// queueing behind the first; it is rejected instead.
	jobMu sync.Mutex

	repo      ShardStore
	flusher   Flusher
	kv        ModeStore
	keyPrefix string
	logger    *zap.Logger
	resource  string
	flushWait time.Duration
}

// Persisted flag keys, relative to the service key prefix.
const (
	maintenanceKey = "mode:maintenance"
	reservationKey = "mode:reservation"
)

// New creates the control-plane service for a resource. flushWait bounds the
// pre-job queue drain.
func New(repo ShardStore, flusher Flusher, resource string, flushWait time.Duration, logger *zap.Logger) *Service {
	return &Service{
		reserved:  make(map[string]struct{}),
		repo:      repo,
		flusher:   flusher,
		logger:    logger,
		resource:  resource,
		flushWait: flushWait,
	}
}

// WithStore connects flag persistence under the given key prefix.
// Restore loads the flags once the store is reachable.
func (s *Service) WithStore(kv ModeStore, prefix string) *Service {
	s.kv = kv
	s.keyPrefix = prefix
	return s
}

// Restore reloads persisted mode flags. The reserved-id set is deliberately
// not persisted: it is cleared when reservation mode turns off, and a restart
// counts as the mode ending.
func (s *Service) Restore(ctx context.Context) {
	if s.kv == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maintenance = s.loadFlag(ctx, maintenanceKey)
	s.reservation = s.loadFlag(ctx, reservationKey)
}

func (s *Service) loadFlag(ctx context.Context, key string) bool {
	data, err := s.kv.Get(ctx, s.keyPrefix+key)
	return err == nil && string(data) == "1"
}

func (s *Service) persistFlag(key string, on bool) {
	if s.kv == nil {
		return
	}
	value := "0"
	if on {
		value = "1"
	}
	if err := s.kv.Set(context.Background(), s.keyPrefix+key, []byte(value)); err != nil {
		s.logger.Warn("failed to persist mode flag",
			zap.String("resource", s.resource),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

// Maintenance reports whether maintenance mode is on.
func (s *Service) Maintenance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maintenance
}

// SetMaintenance switches maintenance mode and returns the new state.
// Re-applying the current state is a no-op.
func (s *Service) SetMaintenance(on bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maintenance = on
	s.persistFlag(maintenanceKey, on)
	return s.maintenance
}

// ReservationMode reports whether reservation mode is on.
func (s *Service) ReservationMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reservation
}

// SetReservationMode switches reservation mode and returns the new state.
// Turning the mode off discards every reserved id.
func (s *Service) SetReservationMode(on bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservation = on
	if !on {
		s.reserved = make(map[string]struct{})
	}
	s.persistFlag(reservationKey, on)
	return s.reservation
}

// Reserve records ids that reconstruction must not hand out as new ids.
// Requires reservation mode. Returns the number of ids recorded by this call.
func (s *Service) Reserve(ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.reservation {
		return 0, domain.ErrReservationRequired
	}

	count := 0
	for _, id := range ids {
		if err := document.ValidateID(id); err != nil {
			return 0, err
		}
		if _, ok := s.reserved[id]; !ok {
			s.reserved[id] = struct{}{}
			count++
		}
	}
	return count, nil
}

// IsReserved reports whether id is currently reserved.
func (s *Service) IsReserved(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.reserved[id]
	return ok
}

// IngestionAllowed gates document mutations: maintenance mode suspends them.
func (s *Service) IngestionAllowed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maintenance {
		return domain.ErrIngestionSuspended
	}
	return nil
}

// ListShards returns shard descriptors, oldest first.
func (s *Service) ListShards(ctx context.Context, detailed bool) []domshard.Info {
	return s.repo.ListShards(ctx, detailed)
}

// DeleteShard removes the shard covering bucketTimestamp and its persisted
// documents. Requires maintenance mode.
func (s *Service) DeleteShard(ctx context.Context, bucketTimestamp int64) error {
	if err := s.requireMaintenance(); err != nil {
		return err
	}
	release, err := s.acquireJob()
	if err != nil {
		return err
	}
	defer release()

	jobID := uuid.NewString()
	if err := s.drainBefore(ctx, s.flushWait); err != nil {
		return err
	}

	if err := s.repo.DeleteShard(ctx, bucketTimestamp); err != nil {
		return err
	}
	s.logger.Info("shard deleted",
		zap.String("resource", s.resource),
		zap.String("job_id", jobID),
		zap.Int64("bucket_timestamp", bucketTimestamp),
	)
	return nil
}

// Reconstruct rewrites the shard covering timestamp, assigning sequential
// decimal ids starting from newInitialID and skipping reserved ids. Requires
// maintenance mode. Returns the number of documents remapped.
func (s *Service) Reconstruct(ctx context.Context, timestamp, newInitialID int64, wait time.Duration) (int, error) {
	if err := s.requireMaintenance(); err != nil {
		return 0, err
	}
	release, err := s.acquireJob()
	if err != nil {
		return 0, err
	}
	defer release()

	jobID := uuid.NewString()
	start := time.Now()
	if err := s.drainBefore(ctx, s.jobWait(wait)); err != nil {
		return 0, err
	}

	remapped, err := s.repo.Rewrite(ctx, timestamp, newInitialID, s.IsReserved)
	if err != nil {
		return 0, err
	}
	s.logger.Info("shard reconstructed",
		zap.String("resource", s.resource),
		zap.String("job_id", jobID),
		zap.Int64("timestamp", timestamp),
		zap.Int64("new_initial_id", newInitialID),
		zap.Int("remapped", remapped),
		zap.Duration("took", time.Since(start)),
	)
	return remapped, nil
}

// Optimize rebuilds the postings of the shard covering timestamp and drops
// its tombstones. Requires maintenance mode.
func (s *Service) Optimize(ctx context.Context, timestamp int64, wait time.Duration) error {
	if err := s.requireMaintenance(); err != nil {
		return err
	}
	release, err := s.acquireJob()
	if err != nil {
		return err
	}
	defer release()

	jobID := uuid.NewString()
	start := time.Now()
	if err := s.drainBefore(ctx, s.jobWait(wait)); err != nil {
		return err
	}

	if err := s.repo.Compact(ctx, timestamp); err != nil {
		return err
	}
	s.logger.Info("shard optimized",
		zap.String("resource", s.resource),
		zap.String("job_id", jobID),
		zap.Int64("timestamp", timestamp),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

func (s *Service) requireMaintenance() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.maintenance {
		return domain.ErrMaintenanceRequired
	}
	return nil
}

// drainBefore runs the pre-job flush barrier. A job must never run over
// mutations accepted before the mode switch: committing them afterwards would
// resurrect remapped or deleted documents.
func (s *Service) drainBefore(ctx context.Context, wait time.Duration) error {
	drained, pending := s.flusher.Flush(ctx, wait)
	if !drained {
		return fmt.Errorf("%d mutations still pending: %w", pending, domain.ErrQueueNotDrained)
	}
	return nil
}

func (s *Service) acquireJob() (func(), error) {
	if !s.jobMu.TryLock() {
		return nil, domain.ErrJobActive
	}
	return s.jobMu.Unlock, nil
}

func (s *Service) jobWait(wait time.Duration) time.Duration {
	if wait <= 0 {
		return s.flushWait
	}
	return wait
}
