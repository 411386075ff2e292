// Package memory implements kv.Store in process memory.
//
// It is intended for tests, tooling and single-process deployments. All
// operations are serialized by one RWMutex, which also makes every primitive
// (not only Incr) atomic.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/btree"
	"github.com/tidwall/match"

	"github.com/jacentio/kvmodel/kv"
)

type kind int

const (
	kindString kind = iota
	kindHash
	kindZSet
)

// entry is the value held by one key.
type entry struct {
	kind kind
	str  string
	hash map[string]string
	zset *sortedSet
}

// member is one element of a sorted set as stored in the btree.
type member struct {
	name  string
	score float64
}

func lessMember(a, b member) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.name < b.name
}

// sortedSet keeps members ordered by (score, name) with O(1) score lookup.
type sortedSet struct {
	tree   *btree.BTreeG[member]
	scores map[string]float64
}

func newSortedSet() *sortedSet {
	return &sortedSet{
		tree:   btree.NewG(32, lessMember),
		scores: make(map[string]float64),
	}
}

func (z *sortedSet) add(name string, score float64) {
	if old, ok := z.scores[name]; ok {
		z.tree.Delete(member{name: name, score: old})
	}
	z.scores[name] = score
	z.tree.ReplaceOrInsert(member{name: name, score: score})
}

func (z *sortedSet) remove(name string) {
	if old, ok := z.scores[name]; ok {
		z.tree.Delete(member{name: name, score: old})
		delete(z.scores, name)
	}
}

func (z *sortedSet) members(reverse bool) []string {
	out := make([]string, 0, z.tree.Len())
	collect := func(m member) bool {
		out = append(out, m.name)
		return true
	}
	if reverse {
		z.tree.Descend(collect)
	} else {
		z.tree.Ascend(collect)
	}
	return out
}

// Store implements kv.Store with in-memory maps.
type Store struct {
	mu     sync.RWMutex
	data   map[string]*entry
	closed bool
}

var _ kv.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		data: make(map[string]*entry),
	}
}

// check returns an error when the context is done or the store is closed.
// Callers must hold mu.
func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return fmt.Errorf("%w: memory store is closed", kv.ErrUnavailable)
	}
	return nil
}

// lookup returns the entry at key if it exists and has the wanted kind.
// Callers must hold mu.
func (s *Store) lookup(key string, want kind) (*entry, error) {
	e, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	if e.kind != want {
		return nil, kv.ErrWrongType
	}
	return e, nil
}

// Exists reports whether key holds any value.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}
	_, ok := s.data[key]
	return ok, nil
}

// Set stores a string value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.data[key] = &entry{kind: kindString, str: value}
	return nil
}

// Get returns the string value at key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return "", err
	}
	e, err := s.lookup(key, kindString)
	if err != nil {
		return "", err
	}
	if e == nil {
		return "", kv.ErrNil
	}
	return e.str, nil
}

// Del removes keys and returns how many existed.
func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	var n int64
	for _, key := range keys {
		if _, ok := s.data[key]; ok {
			delete(s.data, key)
			n++
		}
	}
	return n, nil
}

// Incr increments the integer at key.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	e, err := s.lookup(key, kindString)
	if err != nil {
		return 0, err
	}
	var n int64
	if e != nil {
		n, err = strconv.ParseInt(e.str, 10, 64)
		if err != nil {
			return 0, kv.ErrNotInteger
		}
	}
	n++
	s.data[key] = &entry{kind: kindString, str: strconv.FormatInt(n, 10)}
	return n, nil
}

// HSet writes fields into the hash at key.
func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	e, err := s.lookup(key, kindHash)
	if err != nil {
		return err
	}
	if e == nil {
		e = &entry{kind: kindHash, hash: make(map[string]string, len(fields))}
		s.data[key] = e
	}
	for f, v := range fields {
		e.hash[f] = v
	}
	return nil
}

// HGetAll returns a copy of the hash at key.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	e, err := s.lookup(key, kindHash)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	if e == nil {
		return out, nil
	}
	for f, v := range e.hash {
		out[f] = v
	}
	return out, nil
}

// ZAdd adds member with score to the sorted set at key.
func (s *Store) ZAdd(ctx context.Context, key, name string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	e, err := s.lookup(key, kindZSet)
	if err != nil {
		return err
	}
	if e == nil {
		e = &entry{kind: kindZSet, zset: newSortedSet()}
		s.data[key] = e
	}
	e.zset.add(name, score)
	return nil
}

// ZRem removes members from the sorted set at key. An emptied set is deleted.
func (s *Store) ZRem(ctx context.Context, key string, names ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	e, err := s.lookup(key, kindZSet)
	if err != nil || e == nil {
		return err
	}
	for _, name := range names {
		e.zset.remove(name)
	}
	if e.zset.tree.Len() == 0 {
		delete(s.data, key)
	}
	return nil
}

// ZRange returns members of the sorted set at key ordered by score.
func (s *Store) ZRange(ctx context.Context, key string, opts kv.RangeOptions) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	e, err := s.lookup(key, kindZSet)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return []string{}, nil
	}
	all := e.zset.members(opts.Reverse)
	start, end := opts.Window(len(all))
	return all[start:end], nil
}

// ZCard returns the size of the sorted set at key.
func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	e, err := s.lookup(key, kindZSet)
	if err != nil || e == nil {
		return 0, err
	}
	return int64(e.zset.tree.Len()), nil
}

// Keys returns all keys matching pattern.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	keys := []string{}
	for key := range s.data {
		if match.Match(key, pattern) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Close marks the store closed; later calls fail with kv.ErrUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len returns the number of keys currently stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
