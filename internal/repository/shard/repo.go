// Package shard implements the shard store: time-bucketed segments holding
// committed documents with in-process inverted postings, written through to a
// db.Store driver for durability and restart hydration.
package shard

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/stgy-dev/shardix/internal/db"
	"github.com/stgy-dev/shardix/internal/domain"
	"github.com/stgy-dev/shardix/internal/domain/document"
	domshard "github.com/stgy-dev/shardix/internal/domain/shard"
)

// storedDoc pairs a committed document with its indexed tokens.
type storedDoc struct {
	doc    document.Document
	tokens []string
}

// segment holds one shard's documents and inverted postings.
type segment struct {
	start, end int64
	docs       map[string]storedDoc
	postings   map[string]map[string]struct{}
	tombstones int
}

func newSegment(start, end int64) *segment {
	return &segment{
		start:    start,
		end:      end,
		docs:     make(map[string]storedDoc),
		postings: make(map[string]map[string]struct{}),
	}
}

func (s *segment) add(doc document.Document, tokens []string) {
	s.docs[doc.ID()] = storedDoc{doc: doc, tokens: tokens}
	for _, term := range tokens {
		set, ok := s.postings[term]
		if !ok {
			set = make(map[string]struct{})
			s.postings[term] = set
		}
		set[doc.ID()] = struct{}{}
	}
}

func (s *segment) remove(id string) {
	sd, ok := s.docs[id]
	if !ok {
		return
	}
	delete(s.docs, id)
	for _, term := range sd.tokens {
		if set, ok := s.postings[term]; ok {
			delete(set, id)
		}
	}
	s.tombstones++
}

// matches returns the ids in this segment whose token set contains every
// query token, sorted ascending.
func (s *segment) matches(tokens []string) []string {
	if len(tokens) == 0 {
		return nil
	}

	// Start from the rarest term's posting set.
	first, ok := s.postings[tokens[0]]
	if !ok {
		return nil
	}
	smallest := first
	for _, term := range tokens[1:] {
		set, ok := s.postings[term]
		if !ok {
			return nil
		}
		if len(set) < len(smallest) {
			smallest = set
		}
	}

	var ids []string
outer:
	for id := range smallest {
		sd := s.docs[id]
		have := make(map[string]struct{}, len(sd.tokens))
		for _, t := range sd.tokens {
			have[t] = struct{}{}
		}
		for _, term := range tokens {
			if _, ok := have[term]; !ok {
				continue outer
			}
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// rebuild reconstructs postings from the document map, dropping empty term
// entries and resetting tombstone bookkeeping.
func (s *segment) rebuild() {
	postings := make(map[string]map[string]struct{})
	for id, sd := range s.docs {
		for _, term := range sd.tokens {
			set, ok := postings[term]
			if !ok {
				set = make(map[string]struct{})
				postings[term] = set
			}
			set[id] = struct{}{}
		}
	}
	s.postings = postings
	s.tombstones = 0
}

// Repo is the shard store for one resource type. Reads take the read lock;
// commits and structural operations take the write lock.
type Repo struct {
	mu       sync.RWMutex
	bucketer domshard.Bucketer
	store    db.Store
	prefix   string

	shards map[int64]*segment
	byID   map[string]int64 // document id -> bucket start
}

// New creates a shard store persisting under the given key prefix,
// e.g. "shardix:posts:".
func New(store db.Store, prefix string, bucketer domshard.Bucketer) *Repo {
	return &Repo{
		bucketer: bucketer,
		store:    store,
		prefix:   prefix,
		shards:   make(map[int64]*segment),
		byID:     make(map[string]int64),
	}
}

// Bucketer exposes the bucketing function shared with callers.
func (r *Repo) Bucketer() domshard.Bucketer { return r.bucketer }

// Hydrate loads persisted documents from the driver and rebuilds segments.
// Called once at startup before the worker starts.
func (r *Repo) Hydrate(ctx context.Context) error {
	keys, err := r.store.Scan(ctx, r.docPattern())
	if err != nil {
		return fmt.Errorf("scan documents: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	all, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return fmt.Errorf("load documents: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, fields := range all {
		if len(fields) == 0 {
			continue
		}
		doc, tokens, err := docFromFields(fields)
		if err != nil {
			return fmt.Errorf("hydrate %s: %w", keys[i], err)
		}
		r.placeLocked(doc, tokens)
	}
	return nil
}

// placeLocked inserts a document into its bucket, removing any prior version.
func (r *Repo) placeLocked(doc document.Document, tokens []string) {
	if oldStart, ok := r.byID[doc.ID()]; ok {
		if seg, ok := r.shards[oldStart]; ok {
			seg.remove(doc.ID())
		}
	}

	start, end := r.bucketer.Range(doc.Timestamp())
	seg, ok := r.shards[start]
	if !ok {
		seg = newSegment(start, end)
		r.shards[start] = seg
	}
	seg.add(doc, tokens)
	r.byID[doc.ID()] = start
}

// Upsert commits a document into the shard covering its timestamp, creating
// the shard lazily. The write goes to the driver first; the in-memory state
// only changes once the write-through succeeded.
func (r *Repo) Upsert(ctx context.Context, doc document.Document, tokens []string) error {
	if err := r.store.HSet(ctx, r.docKey(doc.ID()), docToFields(doc, tokens)); err != nil {
		return fmt.Errorf("persist document %s: %w", doc.ID(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.placeLocked(doc, tokens)
	return nil
}

// Delete removes a document. Returns false (no error) when the id is
// unknown: repeated deletes must stay safe.
func (r *Repo) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	_, exists := r.byID[id]
	r.mu.RUnlock()
	if !exists {
		return false, nil
	}

	if err := r.store.Del(ctx, r.docKey(id)); err != nil {
		return false, fmt.Errorf("unpersist document %s: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	start, ok := r.byID[id]
	if !ok {
		return false, nil
	}
	if seg, ok := r.shards[start]; ok {
		seg.remove(id)
	}
	delete(r.byID, id)
	return true, nil
}

// Get returns a committed document by id.
func (r *Repo) Get(_ context.Context, id string) (document.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start, ok := r.byID[id]
	if !ok {
		return document.Document{}, domain.ErrNotFound
	}
	seg := r.shards[start]
	sd, ok := seg.docs[id]
	if !ok {
		return document.Document{}, domain.ErrNotFound
	}
	return sd.doc, nil
}

// Search returns the ids of documents whose token set contains every query
// token, newest shard first, ids ascending within a shard.
func (r *Repo) Search(_ context.Context, tokens []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for _, start := range r.startsDescLocked() {
		ids = append(ids, r.shards[start].matches(tokens)...)
	}
	return ids
}

// SearchDocs is Search with hydrated documents.
func (r *Repo) SearchDocs(_ context.Context, tokens []string) []document.Document {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var docs []document.Document
	for _, start := range r.startsDescLocked() {
		seg := r.shards[start]
		for _, id := range seg.matches(tokens) {
			docs = append(docs, seg.docs[id].doc)
		}
	}
	return docs
}

// ListShards enumerates shards ordered by start timestamp ascending.
func (r *Repo) ListShards(_ context.Context, detailed bool) []domshard.Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	starts := make([]int64, 0, len(r.shards))
	for start := range r.shards {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	infos := make([]domshard.Info, 0, len(starts))
	for _, start := range starts {
		seg := r.shards[start]
		info := domshard.Info{StartTimestamp: seg.start, EndTimestamp: seg.end}
		if detailed {
			docCount := len(seg.docs)
			tokenCount := len(seg.postings)
			tombstones := seg.tombstones
			info.DocumentCount = &docCount
			info.TokenCount = &tokenCount
			info.Tombstones = &tombstones
		}
		infos = append(infos, info)
	}
	return infos
}

// DeleteShard removes the shard covering bucketTimestamp and every document
// in its range.
func (r *Repo) DeleteShard(ctx context.Context, bucketTimestamp int64) error {
	start := r.bucketer.BucketStart(bucketTimestamp)

	r.mu.RLock()
	seg, ok := r.shards[start]
	var keys []string
	if ok {
		keys = make([]string, 0, len(seg.docs))
		for id := range seg.docs {
			keys = append(keys, r.docKey(id))
		}
	}
	r.mu.RUnlock()
	if !ok {
		return domain.ErrShardNotFound
	}

	if err := r.store.DelMulti(ctx, keys); err != nil {
		return fmt.Errorf("unpersist shard %d: %w", start, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	seg, ok = r.shards[start]
	if !ok {
		return domain.ErrShardNotFound
	}
	for id := range seg.docs {
		delete(r.byID, id)
	}
	delete(r.shards, start)
	return nil
}

// Rewrite reconstructs the shard covering timestamp, reassigning every
// contained document a new sequential decimal id starting at newInitialID.
// Ids claimed by isReserved or already used elsewhere in the index are
// skipped. The replacement segment is built fully before the swap, so
// observers see either the old shard or the new one.
func (r *Repo) Rewrite(
	ctx context.Context, timestamp, newInitialID int64, isReserved func(string) bool,
) (int, error) {
	start := r.bucketer.BucketStart(timestamp)

	r.mu.RLock()
	seg, ok := r.shards[start]
	if !ok {
		r.mu.RUnlock()
		return 0, domain.ErrShardNotFound
	}

	olds := make([]storedDoc, 0, len(seg.docs))
	for _, sd := range seg.docs {
		olds = append(olds, sd)
	}
	sort.Slice(olds, func(i, j int) bool {
		if olds[i].doc.Timestamp() != olds[j].doc.Timestamp() {
			return olds[i].doc.Timestamp() < olds[j].doc.Timestamp()
		}
		return olds[i].doc.ID() < olds[j].doc.ID()
	})

	inShard := make(map[string]struct{}, len(seg.docs))
	for id := range seg.docs {
		inShard[id] = struct{}{}
	}
	taken := func(id string) bool {
		if isReserved != nil && isReserved(id) {
			return true
		}
		if _, ours := inShard[id]; ours {
			return false
		}
		_, used := r.byID[id]
		return used
	}

	next := newInitialID
	replacement := newSegment(seg.start, seg.end)
	oldKeys := make([]string, 0, len(olds))
	items := make([]db.HashSetItem, 0, len(olds))
	for _, sd := range olds {
		var newID string
		for {
			newID = strconv.FormatInt(next, 10)
			next++
			if !taken(newID) {
				break
			}
		}
		renamed := sd.doc.WithID(newID)
		replacement.add(renamed, sd.tokens)
		oldKeys = append(oldKeys, r.docKey(sd.doc.ID()))
		items = append(items, db.HashSetItem{Key: r.docKey(newID), Fields: docToFields(renamed, sd.tokens)})
	}
	r.mu.RUnlock()

	if err := r.store.DelMulti(ctx, oldKeys); err != nil {
		return 0, fmt.Errorf("unpersist old shard %d: %w", start, err)
	}
	if err := r.store.HSetMulti(ctx, items); err != nil {
		return 0, fmt.Errorf("persist rewritten shard %d: %w", start, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.shards[start]
	if !ok {
		return 0, domain.ErrShardNotFound
	}
	for id := range old.docs {
		delete(r.byID, id)
	}
	r.shards[start] = replacement
	for id := range replacement.docs {
		r.byID[id] = start
	}
	return len(replacement.docs), nil
}

// Compact rebuilds the postings of the shard covering timestamp, dropping
// tombstone bookkeeping. Ids and content are unchanged.
func (r *Repo) Compact(_ context.Context, timestamp int64) error {
	start := r.bucketer.BucketStart(timestamp)

	r.mu.Lock()
	defer r.mu.Unlock()
	seg, ok := r.shards[start]
	if !ok {
		return domain.ErrShardNotFound
	}
	seg.rebuild()
	return nil
}

func (r *Repo) startsDescLocked() []int64 {
	starts := make([]int64, 0, len(r.shards))
	for start := range r.shards {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] > starts[j] })
	return starts
}
