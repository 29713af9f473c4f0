package shard

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/stgy-dev/shardix/internal/db/memory"
	"github.com/stgy-dev/shardix/internal/domain"
	"github.com/stgy-dev/shardix/internal/domain/document"
	domshard "github.com/stgy-dev/shardix/internal/domain/shard"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	return New(memory.NewStore(), "test:posts:", domshard.NewBucketer(100))
}

func mustDoc(t *testing.T, id, body string, ts int64) document.Document {
	t.Helper()
	doc, err := document.New(id, body, ts, "en", "attrs-"+id)
	if err != nil {
		t.Fatalf("document.New: %v", err)
	}
	return doc
}

func upsert(t *testing.T, r *Repo, id, body string, ts int64) {
	t.Helper()
	if err := r.Upsert(context.Background(), mustDoc(t, id, body, ts), strings.Fields(body)); err != nil {
		t.Fatalf("Upsert %s: %v", id, err)
	}
}

func TestUpsertGet(t *testing.T) {
	r := newTestRepo(t)
	upsert(t, r, "a", "hello world", 150)

	doc, err := r.Get(context.Background(), "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.BodyText() != "hello world" || doc.Attrs() != "attrs-a" {
		t.Errorf("Get returned %q / %q", doc.BodyText(), doc.Attrs())
	}

	if _, err := r.Get(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestUpsertReplacesAcrossBuckets(t *testing.T) {
	r := newTestRepo(t)
	upsert(t, r, "a", "old words", 150)
	upsert(t, r, "a", "new words", 450)

	doc, err := r.Get(context.Background(), "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.Timestamp() != 450 {
		t.Errorf("Timestamp = %d, want the replacement's 450", doc.Timestamp())
	}

	// The old version must be gone from search.
	if ids := r.Search(context.Background(), []string{"old"}); len(ids) != 0 {
		t.Errorf("Search old = %v, want empty", ids)
	}
	if ids := r.Search(context.Background(), []string{"new"}); !reflect.DeepEqual(ids, []string{"a"}) {
		t.Errorf("Search new = %v, want [a]", ids)
	}
}

func TestSearchContainmentAndOrder(t *testing.T) {
	r := newTestRepo(t)
	upsert(t, r, "old-b", "quick brown fox", 150)
	upsert(t, r, "old-a", "quick brown dog", 160)
	upsert(t, r, "recent", "quick brown fox jumps", 950)

	// AND containment: both tokens required.
	ids := r.Search(context.Background(), []string{"quick", "fox"})
	// Newest shard first, id ascending within a shard.
	want := []string{"recent", "old-b"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("Search = %v, want %v", ids, want)
	}

	// Within one shard ids come back ascending.
	ids = r.Search(context.Background(), []string{"quick", "brown"})
	want = []string{"recent", "old-a", "old-b"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("Search = %v, want %v", ids, want)
	}

	// Unknown token matches nothing.
	if ids := r.Search(context.Background(), []string{"quick", "zebra"}); len(ids) != 0 {
		t.Errorf("Search unknown = %v, want empty", ids)
	}
}

func TestSearchDocs(t *testing.T) {
	r := newTestRepo(t)
	upsert(t, r, "a", "alpha beta", 150)

	docs := r.SearchDocs(context.Background(), []string{"alpha"})
	if len(docs) != 1 || docs[0].ID() != "a" || docs[0].BodyText() != "alpha beta" {
		t.Errorf("SearchDocs = %v", docs)
	}
}

func TestDelete(t *testing.T) {
	r := newTestRepo(t)
	upsert(t, r, "a", "hello world", 150)

	removed, err := r.Delete(context.Background(), "a")
	if err != nil || !removed {
		t.Fatalf("Delete = (%v, %v), want (true, nil)", removed, err)
	}
	if _, err := r.Get(context.Background(), "a"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	if ids := r.Search(context.Background(), []string{"hello"}); len(ids) != 0 {
		t.Errorf("Search after delete = %v, want empty", ids)
	}

	// Repeated delete of the same id is a safe no-op.
	removed, err = r.Delete(context.Background(), "a")
	if err != nil || removed {
		t.Errorf("repeat Delete = (%v, %v), want (false, nil)", removed, err)
	}
}

func TestListShards(t *testing.T) {
	r := newTestRepo(t)
	upsert(t, r, "a", "one", 150)
	upsert(t, r, "b", "two", 950)

	infos := r.ListShards(context.Background(), false)
	if len(infos) != 2 {
		t.Fatalf("ListShards = %d shards, want 2", len(infos))
	}
	// Ascending by start.
	if infos[0].StartTimestamp != 100 || infos[0].EndTimestamp != 200 {
		t.Errorf("first shard = [%d, %d), want [100, 200)", infos[0].StartTimestamp, infos[0].EndTimestamp)
	}
	if infos[1].StartTimestamp != 900 {
		t.Errorf("second shard start = %d, want 900", infos[1].StartTimestamp)
	}
	if infos[0].DocumentCount != nil {
		t.Error("plain listing must not include detail counts")
	}

	detailed := r.ListShards(context.Background(), true)
	if detailed[0].DocumentCount == nil || *detailed[0].DocumentCount != 1 {
		t.Errorf("detailed DocumentCount = %v, want 1", detailed[0].DocumentCount)
	}
}

func TestDeleteShard(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	upsert(t, r, "a", "inside", 150)
	upsert(t, r, "b", "outside", 950)

	// Any timestamp inside the bucket addresses it.
	if err := r.DeleteShard(ctx, 199); err != nil {
		t.Fatalf("DeleteShard: %v", err)
	}
	if _, err := r.Get(ctx, "a"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get after shard delete = %v, want ErrNotFound", err)
	}
	if _, err := r.Get(ctx, "b"); err != nil {
		t.Errorf("document in another shard must survive: %v", err)
	}

	if err := r.DeleteShard(ctx, 199); !errors.Is(err, domain.ErrShardNotFound) {
		t.Errorf("repeat DeleteShard = %v, want ErrShardNotFound", err)
	}
}

func TestRewrite(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	upsert(t, r, "zz", "second doc", 160)
	upsert(t, r, "aa", "first doc", 150)
	upsert(t, r, "other", "another shard", 950)

	remapped, err := r.Rewrite(ctx, 150, 100, nil)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if remapped != 2 {
		t.Errorf("remapped = %d, want 2", remapped)
	}

	// Deterministic order: timestamp asc then id asc. "aa"@150 -> 100, "zz"@160 -> 101.
	doc, err := r.Get(ctx, "100")
	if err != nil {
		t.Fatalf("Get 100: %v", err)
	}
	if doc.BodyText() != "first doc" || doc.Timestamp() != 150 {
		t.Errorf("id 100 = %q@%d, want first doc@150", doc.BodyText(), doc.Timestamp())
	}
	doc, err = r.Get(ctx, "101")
	if err != nil {
		t.Fatalf("Get 101: %v", err)
	}
	if doc.BodyText() != "second doc" {
		t.Errorf("id 101 = %q, want second doc", doc.BodyText())
	}

	// Old ids are gone; the other shard is untouched.
	for _, id := range []string{"aa", "zz"} {
		if _, err := r.Get(ctx, id); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Get %s after rewrite = %v, want ErrNotFound", id, err)
		}
	}
	if _, err := r.Get(ctx, "other"); err != nil {
		t.Errorf("other shard document lost: %v", err)
	}

	// Content stays searchable under the new ids.
	if ids := r.Search(ctx, []string{"first"}); !reflect.DeepEqual(ids, []string{"100"}) {
		t.Errorf("Search first = %v, want [100]", ids)
	}
}

func TestRewriteSkipsReservedAndUsedIDs(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	upsert(t, r, "a", "doc a", 150)
	upsert(t, r, "b", "doc b", 160)
	upsert(t, r, "101", "already used elsewhere", 950)

	reserved := map[string]bool{"100": true}
	isReserved := func(id string) bool { return reserved[id] }

	remapped, err := r.Rewrite(ctx, 150, 100, isReserved)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if remapped != 2 {
		t.Errorf("remapped = %d, want 2", remapped)
	}

	// 100 reserved, 101 taken by another shard: docs land on 102 and 103.
	if _, err := r.Get(ctx, "102"); err != nil {
		t.Errorf("Get 102: %v", err)
	}
	if _, err := r.Get(ctx, "103"); err != nil {
		t.Errorf("Get 103: %v", err)
	}
	doc, err := r.Get(ctx, "101")
	if err != nil || doc.BodyText() != "already used elsewhere" {
		t.Errorf("id 101 must keep the other shard's document, got %v / %v", doc.BodyText(), err)
	}
}

func TestRewriteMissingShard(t *testing.T) {
	r := newTestRepo(t)
	if _, err := r.Rewrite(context.Background(), 150, 0, nil); !errors.Is(err, domain.ErrShardNotFound) {
		t.Errorf("Rewrite = %v, want ErrShardNotFound", err)
	}
}

func TestCompact(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	upsert(t, r, "a", "keep me", 150)
	upsert(t, r, "b", "drop me", 160)
	if _, err := r.Delete(ctx, "b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	before := r.ListShards(ctx, true)
	if *before[0].Tombstones != 1 {
		t.Fatalf("tombstones before = %d, want 1", *before[0].Tombstones)
	}

	if err := r.Compact(ctx, 150); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	after := r.ListShards(ctx, true)
	if *after[0].Tombstones != 0 {
		t.Errorf("tombstones after = %d, want 0", *after[0].Tombstones)
	}
	if ids := r.Search(ctx, []string{"keep"}); !reflect.DeepEqual(ids, []string{"a"}) {
		t.Errorf("Search after compact = %v, want [a]", ids)
	}
	if err := r.Compact(ctx, 5000); !errors.Is(err, domain.ErrShardNotFound) {
		t.Errorf("Compact missing shard = %v, want ErrShardNotFound", err)
	}
}

func TestHydrate(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	first := New(store, "test:posts:", domshard.NewBucketer(100))
	if err := first.Upsert(ctx, mustDoc(t, "a", "persisted words", 150), []string{"persisted", "words"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// A fresh repo over the same store sees the committed state.
	second := New(store, "test:posts:", domshard.NewBucketer(100))
	if err := second.Hydrate(ctx); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}

	doc, err := second.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get after hydrate: %v", err)
	}
	if doc.BodyText() != "persisted words" || doc.Attrs() != "attrs-a" {
		t.Errorf("hydrated doc = %q / %q", doc.BodyText(), doc.Attrs())
	}
	if ids := second.Search(ctx, []string{"persisted"}); !reflect.DeepEqual(ids, []string{"a"}) {
		t.Errorf("Search after hydrate = %v, want [a]", ids)
	}
}
