package memory_test

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/jacentio/kvmodel/kv"
	"github.com/jacentio/kvmodel/kv/memory"
)

func TestStringsAndCounters(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, kv.ErrNil) {
		t.Fatalf("expected ErrNil, got %v", err)
	}

	if err := s.Set(ctx, "total_users", "0"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ok, err := s.Exists(ctx, "total_users")
	if err != nil || !ok {
		t.Fatalf("expected key to exist, got %v %v", ok, err)
	}

	for want := int64(1); want <= 3; want++ {
		got, err := s.Incr(ctx, "total_users")
		if err != nil {
			t.Fatalf("Incr: %v", err)
		}
		if got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	}

	v, err := s.Get(ctx, "total_users")
	if err != nil || v != "3" {
		t.Errorf("expected '3', got %q (%v)", v, err)
	}

	if err := s.Set(ctx, "name", "bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Incr(ctx, "name"); !errors.Is(err, kv.ErrNotInteger) {
		t.Errorf("expected ErrNotInteger, got %v", err)
	}
}

func TestIncr_MissingKeyStartsAtZero(t *testing.T) {
	s := memory.New()
	n, err := s.Incr(context.Background(), "counter")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1, got %d", n)
	}
}

func TestIncr_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	const workers, perWorker = 8, 100
	seen := make(chan int64, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				n, err := s.Incr(ctx, "c")
				if err != nil {
					t.Error(err)
					return
				}
				seen <- n
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := map[int64]bool{}
	for n := range seen {
		if unique[n] {
			t.Fatalf("duplicate id %d", n)
		}
		unique[n] = true
	}
	if len(unique) != workers*perWorker {
		t.Errorf("expected %d ids, got %d", workers*perWorker, len(unique))
	}
}

func TestHashes(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	empty, err := s.HGetAll(ctx, "user:1")
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty hash, got %v %v", empty, err)
	}

	if err := s.HSet(ctx, "user:1", map[string]string{"id": "1", "name": "a"}); err != nil {
		t.Fatal(err)
	}
	if err := s.HSet(ctx, "user:1", map[string]string{"name": "b"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.HGetAll(ctx, "user:1")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"id": "1", "name": "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	// Returned maps are copies.
	got["name"] = "mutated"
	again, _ := s.HGetAll(ctx, "user:1")
	if again["name"] != "b" {
		t.Error("expected stored hash to be isolated from callers")
	}

	if _, err := s.Get(ctx, "user:1"); !errors.Is(err, kv.ErrWrongType) {
		t.Errorf("expected ErrWrongType, got %v", err)
	}
}

func TestSortedSets(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	key := "user:1:rel:post"

	for _, id := range []float64{3, 1, 2, 10} {
		if err := s.ZAdd(ctx, key, strconv.FormatFloat(id, 'f', -1, 64), id); err != nil {
			t.Fatal(err)
		}
	}
	// Re-adding a member moves it rather than duplicating it.
	if err := s.ZAdd(ctx, key, "1", 1); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		opts kv.RangeOptions
		want []string
	}{
		{"ascending", kv.RangeOptions{}, []string{"1", "2", "3", "10"}},
		{"descending", kv.RangeOptions{Reverse: true}, []string{"10", "3", "2", "1"}},
		{"page", kv.RangeOptions{Reverse: true, Offset: 1, Limit: 2}, []string{"3", "2"}},
		{"past end", kv.RangeOptions{Offset: 10, Limit: 2}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ZRange(ctx, key, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	n, err := s.ZCard(ctx, key)
	if err != nil || n != 4 {
		t.Errorf("expected cardinality 4, got %d (%v)", n, err)
	}

	if err := s.ZRem(ctx, key, "3", "missing"); err != nil {
		t.Fatal(err)
	}
	n, _ = s.ZCard(ctx, key)
	if n != 3 {
		t.Errorf("expected cardinality 3, got %d", n)
	}

	if err := s.ZRem(ctx, key, "1", "2", "10"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Exists(ctx, key); ok {
		t.Error("expected emptied sorted set to be removed")
	}
}

func TestKeysAndDel(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	for _, k := range []string{"user:1", "user:2", "user:email:a@x.com", "user:1:rel:post", "post:1"} {
		if err := s.Set(ctx, k, "x"); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Keys(ctx, "user:1:rel:*")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"user:1:rel:post"}) {
		t.Errorf("unexpected keys %v", got)
	}

	got, _ = s.Keys(ctx, "user:*")
	sort.Strings(got)
	want := []string{"user:1", "user:1:rel:post", "user:2", "user:email:a@x.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	n, err := s.Del(ctx, "user:1", "user:2", "nope")
	if err != nil || n != 2 {
		t.Errorf("expected 2 deleted, got %d (%v)", n, err)
	}
	if s.Len() != 3 {
		t.Errorf("expected 3 keys left, got %d", s.Len())
	}
}

func TestClose(t *testing.T) {
	s := memory.New()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(context.Background(), "k", "v"); !errors.Is(err, kv.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable after close, got %v", err)
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := memory.New().Exists(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func BenchmarkZAdd(b *testing.B) {
	ctx := context.Background()
	s := memory.New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.ZAdd(ctx, "z", "m", float64(i))
	}
}
