package memory

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stgy-dev/shardix/internal/db"
)

func TestHashRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	fields := map[string]string{"id": "a1", "text": "hello"}
	if err := s.HSet(ctx, "app:doc:a1", fields); err != nil {
		t.Fatalf("HSet: %v", err)
	}

	got, err := s.HGetAllMulti(ctx, []string{"app:doc:a1", "app:doc:nope"})
	if err != nil {
		t.Fatalf("HGetAllMulti: %v", err)
	}
	if !reflect.DeepEqual(got[0], fields) {
		t.Errorf("HGetAllMulti = %v, want %v", got[0], fields)
	}

	// Missing keys yield an empty map, not an error.
	if len(got[1]) != 0 {
		t.Errorf("missing key = %v, want empty map", got[1])
	}
}

func TestHSetMerges(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_ = s.HSet(ctx, "k", map[string]string{"a": "1", "b": "2"})
	_ = s.HSet(ctx, "k", map[string]string{"b": "3"})

	got, _ := s.HGetAllMulti(ctx, []string{"k"})
	want := map[string]string{"a": "1", "b": "3"}
	if !reflect.DeepEqual(got[0], want) {
		t.Errorf("HGetAllMulti = %v, want %v", got[0], want)
	}
}

func TestScanAndMulti(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	items := []db.HashSetItem{
		{Key: "app:doc:a", Fields: map[string]string{"id": "a"}},
		{Key: "app:doc:b", Fields: map[string]string{"id": "b"}},
		{Key: "other:doc:c", Fields: map[string]string{"id": "c"}},
	}
	if err := s.HSetMulti(ctx, items); err != nil {
		t.Fatalf("HSetMulti: %v", err)
	}

	keys, err := s.Scan(ctx, "app:doc:*")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := []string{"app:doc:a", "app:doc:b"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("Scan = %v, want %v", keys, want)
	}

	all, err := s.HGetAllMulti(ctx, keys)
	if err != nil {
		t.Fatalf("HGetAllMulti: %v", err)
	}
	if len(all) != 2 || all[0]["id"] != "a" || all[1]["id"] != "b" {
		t.Errorf("HGetAllMulti = %v", all)
	}
}

func TestDelMulti(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_ = s.HSet(ctx, "x", map[string]string{"f": "1"})
	_ = s.HSet(ctx, "y", map[string]string{"f": "2"})

	if err := s.DelMulti(ctx, []string{"x", "y"}); err != nil {
		t.Fatalf("DelMulti: %v", err)
	}
	keys, err := s.Scan(ctx, "*")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("keys after DelMulti = %v, want none", keys)
	}
}

func TestKV(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, db.ErrKeyNotFound) {
		t.Errorf("Get missing = %v, want ErrKeyNotFound", err)
	}

	if err := s.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get = %q, want v", got)
	}
}
