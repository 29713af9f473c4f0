package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stgy-dev/shardix/internal/domain"
	"github.com/stgy-dev/shardix/internal/domain/document"
	"github.com/stgy-dev/shardix/internal/domain/mutation"
	domshard "github.com/stgy-dev/shardix/internal/domain/shard"
	"github.com/stgy-dev/shardix/internal/queue"
)

// fakeShardStore records structural calls; Rewrite can block on a channel to
// hold the job mutex open.
type fakeShardStore struct {
	mu          sync.Mutex
	deleted     []int64
	compacted   []int64
	rewrites    []int64
	rewriteHold chan struct{}
	remapped    int
}

func (f *fakeShardStore) ListShards(context.Context, bool) []domshard.Info {
	return []domshard.Info{{StartTimestamp: 100, EndTimestamp: 200}}
}

func (f *fakeShardStore) DeleteShard(_ context.Context, bucket int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, bucket)
	return nil
}

func (f *fakeShardStore) Rewrite(_ context.Context, ts, _ int64, _ func(string) bool) (int, error) {
	if f.rewriteHold != nil {
		<-f.rewriteHold
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rewrites = append(f.rewrites, ts)
	return f.remapped, nil
}

func (f *fakeShardStore) Compact(_ context.Context, ts int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compacted = append(f.compacted, ts)
	return nil
}

// noopFlusher always reports a drained queue.
type noopFlusher struct{ calls int }

func (f *noopFlusher) Flush(context.Context, time.Duration) (bool, int) {
	f.calls++
	return true, 0
}

// stuckFlusher reports a backlog that never drains.
type stuckFlusher struct{ pending int }

func (f *stuckFlusher) Flush(context.Context, time.Duration) (bool, int) {
	return false, f.pending
}

func newTestService(repo *fakeShardStore) (*Service, *noopFlusher) {
	flusher := &noopFlusher{}
	return New(repo, flusher, "test", time.Second, zap.NewNop()), flusher
}

func TestModeToggles(t *testing.T) {
	svc, _ := newTestService(&fakeShardStore{})

	if svc.Maintenance() {
		t.Error("maintenance must start off")
	}
	if !svc.SetMaintenance(true) || !svc.Maintenance() {
		t.Error("SetMaintenance(true) did not stick")
	}
	// Re-applying the same state is a no-op.
	if !svc.SetMaintenance(true) {
		t.Error("repeated enable must stay enabled")
	}
	if svc.SetMaintenance(false) || svc.Maintenance() {
		t.Error("SetMaintenance(false) did not stick")
	}
}

func TestIngestionGate(t *testing.T) {
	svc, _ := newTestService(&fakeShardStore{})

	if err := svc.IngestionAllowed(); err != nil {
		t.Errorf("IngestionAllowed outside maintenance = %v", err)
	}
	svc.SetMaintenance(true)
	if err := svc.IngestionAllowed(); !errors.Is(err, domain.ErrIngestionSuspended) {
		t.Errorf("IngestionAllowed during maintenance = %v, want ErrIngestionSuspended", err)
	}
	svc.SetMaintenance(false)
	if err := svc.IngestionAllowed(); err != nil {
		t.Errorf("IngestionAllowed after maintenance = %v", err)
	}
}

func TestReserveRequiresReservationMode(t *testing.T) {
	svc, _ := newTestService(&fakeShardStore{})

	if _, err := svc.Reserve([]string{"100"}); !errors.Is(err, domain.ErrReservationRequired) {
		t.Errorf("Reserve = %v, want ErrReservationRequired", err)
	}

	svc.SetReservationMode(true)
	count, err := svc.Reserve([]string{"100", "101", "100"})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2 unique ids", count)
	}
	if !svc.IsReserved("100") || !svc.IsReserved("101") {
		t.Error("reserved ids not recorded")
	}
}

func TestReserveValidatesIDs(t *testing.T) {
	svc, _ := newTestService(&fakeShardStore{})
	svc.SetReservationMode(true)

	if _, err := svc.Reserve([]string{"not valid!"}); !errors.Is(err, domain.ErrInvalidDocument) {
		t.Errorf("Reserve = %v, want ErrInvalidDocument", err)
	}
}

func TestReservationOffClearsSet(t *testing.T) {
	svc, _ := newTestService(&fakeShardStore{})
	svc.SetReservationMode(true)
	if _, err := svc.Reserve([]string{"100"}); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	svc.SetReservationMode(false)
	if svc.IsReserved("100") {
		t.Error("turning reservation mode off must clear the reserved set")
	}
}

func TestStructuralOpsRequireMaintenance(t *testing.T) {
	repo := &fakeShardStore{}
	svc, _ := newTestService(repo)
	ctx := context.Background()

	if err := svc.DeleteShard(ctx, 150); !errors.Is(err, domain.ErrMaintenanceRequired) {
		t.Errorf("DeleteShard = %v, want ErrMaintenanceRequired", err)
	}
	if _, err := svc.Reconstruct(ctx, 150, 100, 0); !errors.Is(err, domain.ErrMaintenanceRequired) {
		t.Errorf("Reconstruct = %v, want ErrMaintenanceRequired", err)
	}
	if err := svc.Optimize(ctx, 150, 0); !errors.Is(err, domain.ErrMaintenanceRequired) {
		t.Errorf("Optimize = %v, want ErrMaintenanceRequired", err)
	}
	if len(repo.deleted)+len(repo.rewrites)+len(repo.compacted) != 0 {
		t.Error("gated operations must not reach the shard store")
	}
}

func TestStructuralOpsFlushFirst(t *testing.T) {
	repo := &fakeShardStore{remapped: 3}
	svc, flusher := newTestService(repo)
	svc.SetMaintenance(true)
	ctx := context.Background()

	remapped, err := svc.Reconstruct(ctx, 150, 100, 0)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if remapped != 3 {
		t.Errorf("remapped = %d, want 3", remapped)
	}
	if err := svc.Optimize(ctx, 150, 0); err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if err := svc.DeleteShard(ctx, 150); err != nil {
		t.Fatalf("DeleteShard: %v", err)
	}
	if flusher.calls != 3 {
		t.Errorf("flush calls = %d, want one per structural op", flusher.calls)
	}
}

func TestStructuralOpsAbortWhenQueueNotDrained(t *testing.T) {
	repo := &fakeShardStore{}
	svc := New(repo, &stuckFlusher{pending: 2}, "test", time.Second, zap.NewNop())
	svc.SetMaintenance(true)
	ctx := context.Background()

	if _, err := svc.Reconstruct(ctx, 150, 100, 0); !errors.Is(err, domain.ErrQueueNotDrained) {
		t.Errorf("Reconstruct = %v, want ErrQueueNotDrained", err)
	}
	if err := svc.Optimize(ctx, 150, 0); !errors.Is(err, domain.ErrQueueNotDrained) {
		t.Errorf("Optimize = %v, want ErrQueueNotDrained", err)
	}
	if err := svc.DeleteShard(ctx, 150); !errors.Is(err, domain.ErrQueueNotDrained) {
		t.Errorf("DeleteShard = %v, want ErrQueueNotDrained", err)
	}
	if len(repo.deleted)+len(repo.rewrites)+len(repo.compacted) != 0 {
		t.Error("jobs with an undrained queue must not reach the shard store")
	}
}

func TestReconstructAbortsOnStrandedMutation(t *testing.T) {
	// A mutation accepted before maintenance, with no worker to commit it,
	// must block reconstruction: committing it afterwards would plant an
	// old-style id into the rewritten shard.
	repo := &fakeShardStore{}
	q := queue.New("test")
	svc := New(repo, q, "test", 10*time.Millisecond, zap.NewNop())

	doc, err := document.New("bb", "late arrival", 160, "en", "")
	if err != nil {
		t.Fatalf("document.New: %v", err)
	}
	q.Enqueue(mutation.Upsert(doc, []string{"late", "arrival"}))
	svc.SetMaintenance(true)

	if _, err := svc.Reconstruct(context.Background(), 150, 100, 10*time.Millisecond); !errors.Is(err, domain.ErrQueueNotDrained) {
		t.Fatalf("Reconstruct = %v, want ErrQueueNotDrained", err)
	}
	if len(repo.rewrites) != 0 {
		t.Error("shard must stay untouched while the queue holds work")
	}
}

func TestStructuralJobsAreExclusive(t *testing.T) {
	repo := &fakeShardStore{rewriteHold: make(chan struct{})}
	svc, _ := newTestService(repo)
	svc.SetMaintenance(true)
	ctx := context.Background()

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := svc.Reconstruct(ctx, 150, 100, 0)
		done <- err
	}()
	<-started
	// Give the goroutine time to take the job mutex and block in Rewrite.
	time.Sleep(20 * time.Millisecond)

	if err := svc.Optimize(ctx, 150, 0); !errors.Is(err, domain.ErrJobActive) {
		t.Errorf("concurrent Optimize = %v, want ErrJobActive", err)
	}

	close(repo.rewriteHold)
	if err := <-done; err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}

	// With the first job finished the mutex is free again.
	if err := svc.Optimize(ctx, 150, 0); err != nil {
		t.Errorf("Optimize after job finished = %v", err)
	}
}

// fakeModeStore is an in-memory ModeStore.
type fakeModeStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeModeStore() *fakeModeStore {
	return &fakeModeStore{data: make(map[string][]byte)}
}

func (f *fakeModeStore) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, errors.New("key not found")
	}
	return v, nil
}

func (f *fakeModeStore) Set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func TestModeFlagsSurviveRestart(t *testing.T) {
	kv := newFakeModeStore()
	ctx := context.Background()

	svc, _ := newTestService(&fakeShardStore{})
	svc.WithStore(kv, "test:posts:")
	svc.SetMaintenance(true)
	svc.SetReservationMode(true)

	restarted, _ := newTestService(&fakeShardStore{})
	restarted.WithStore(kv, "test:posts:")
	restarted.Restore(ctx)

	if !restarted.Maintenance() {
		t.Error("maintenance mode lost across restart")
	}
	if !restarted.ReservationMode() {
		t.Error("reservation mode lost across restart")
	}

	restarted.SetMaintenance(false)
	restarted.SetReservationMode(false)

	again, _ := newTestService(&fakeShardStore{})
	again.WithStore(kv, "test:posts:")
	again.Restore(ctx)
	if again.Maintenance() || again.ReservationMode() {
		t.Error("disabled modes must stay off after restart")
	}
}

func TestRestoreWithoutStoreIsNoop(t *testing.T) {
	svc, _ := newTestService(&fakeShardStore{})
	svc.Restore(context.Background())
	if svc.Maintenance() || svc.ReservationMode() {
		t.Error("Restore without a store must leave modes off")
	}
}

func TestModeReadsDoNotBlockBehindJobs(t *testing.T) {
	repo := &fakeShardStore{rewriteHold: make(chan struct{})}
	svc, _ := newTestService(repo)
	svc.SetMaintenance(true)

	go func() {
		_, _ = svc.Reconstruct(context.Background(), 150, 100, 0)
	}()
	time.Sleep(20 * time.Millisecond)

	readDone := make(chan bool, 1)
	go func() {
		readDone <- svc.Maintenance()
	}()
	select {
	case on := <-readDone:
		if !on {
			t.Error("Maintenance() = false while mode is on")
		}
	case <-time.After(time.Second):
		t.Error("mode read blocked behind a running job")
	}

	close(repo.rewriteHold)
}
