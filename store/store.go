package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/jacentio/kvmodel/internal/keys"
	"github.com/jacentio/kvmodel/kv"
)

// Store maps records onto a kv.Store.
type Store struct {
	kv       kv.Store
	config   Config
	registry *Registry
}

// New creates a new Store instance.
func New(client kv.Store, config Config) *Store {
	config.validate()
	return &Store{
		kv:     client,
		config: config,
	}
}

// NewWithRegistry creates a new Store instance with a model registry.
func NewWithRegistry(client kv.Store, config Config, registry *Registry) *Store {
	s := New(client, config)
	s.registry = registry
	return s
}

// SetRegistry sets the model registry used by tooling and stream handlers.
func (s *Store) SetRegistry(registry *Registry) {
	s.registry = registry
}

// Registry returns the model registry, or nil if not set.
func (s *Store) Registry() *Registry {
	return s.registry
}

// KV returns the underlying key-value store.
func (s *Store) KV() kv.Store {
	return s.kv
}

// Config returns the effective configuration.
func (s *Store) Config() Config {
	return s.config
}

// Logger returns the configured logger.
func (s *Store) Logger() *slog.Logger {
	return s.config.Logger
}

func (s *Store) now() time.Time {
	return s.config.Now()
}

// NextID mints the next identifier of m from its counter key.
// A missing counter counts as 0, so the first id is 1.
func (s *Store) NextID(ctx context.Context, m *Model) (int64, error) {
	id, err := s.kv.Incr(ctx, m.CounterKey())
	if err != nil {
		return 0, fmt.Errorf("next %s id: %w", m.Name(), err)
	}
	return id, nil
}

// Create stores a new record of m built from the mass-assignable attrs.
//
// The attribute hash is written before the index entries. If an index write
// fails the record is findable by id only; RefreshIndex repairs it.
func (s *Store) Create(ctx context.Context, m *Model, attrs Attrs) (*Record, error) {
	return s.create(ctx, m, attrs, nil)
}

// create is Create with attributes in forced written after the guard filter.
func (s *Store) create(ctx context.Context, m *Model, attrs, forced Attrs) (*Record, error) {
	filtered, err := m.guard.Filter(m, attrs)
	if err != nil {
		return nil, err
	}

	rec := newRecord(m)
	for f, v := range filtered {
		rec.Set(f, v)
	}
	for f, v := range forced {
		rec.Set(f, v)
	}

	id, err := s.NextID(ctx, m)
	if err != nil {
		return nil, err
	}
	rec.Set(m.primaryKey, id)

	if m.timestamps != nil {
		m.timestamps.Touch(rec, s.now(), true)
	}

	if err := s.kv.HSet(ctx, rec.Key(), rec.Attributes()); err != nil {
		return nil, fmt.Errorf("create %s: %w", rec.Key(), err)
	}
	rec.markPersisted()

	for _, field := range m.indexed {
		value, ok := rec.Value(field)
		if !ok {
			continue
		}
		if err := s.kv.Set(ctx, m.IndexKey(field, value), rec.ID()); err != nil {
			return nil, fmt.Errorf("index %s of %s: %w", field, rec.Key(), err)
		}
	}

	return rec, nil
}

// Get loads the record of m with the given id.
func (s *Store) Get(ctx context.Context, m *Model, id string) (*Record, error) {
	return s.GetBy(ctx, m, keys.RecordTemplate, id)
}

// GetBy loads a record of m from the hash at the key produced by template and value.
func (s *Store) GetBy(ctx context.Context, m *Model, template, value string) (*Record, error) {
	key, err := keys.FormatQualified(template, m.Prefix(), value)
	if err != nil {
		return nil, err
	}

	hash, err := s.kv.HGetAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if len(hash) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	rec := newRecord(m)
	rec.load(hash)
	return rec, nil
}

// Update mass-assigns attrs to rec and saves it.
func (s *Store) Update(ctx context.Context, rec *Record, attrs Attrs) error {
	if !rec.Exists() {
		return fmt.Errorf("%w: update of unsaved %s", ErrNotFound, rec.model.Name())
	}

	filtered, err := rec.model.guard.Filter(rec.model, attrs)
	if err != nil {
		return err
	}
	for f, v := range filtered {
		rec.Set(f, v)
	}
	return s.Save(ctx, rec)
}

// Save writes every field of an existing record and moves index entries of
// changed indexed fields. The primary key is never changed.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	if !rec.Exists() {
		return fmt.Errorf("%w: save of unsaved %s", ErrNotFound, rec.model.Name())
	}

	m := rec.model
	id, _ := rec.original(m.primaryKey)
	rec.Set(m.primaryKey, id)

	if m.timestamps != nil {
		m.timestamps.Touch(rec, s.now(), false)
	}

	if err := s.kv.HSet(ctx, rec.Key(), rec.Attributes()); err != nil {
		return fmt.Errorf("save %s: %w", rec.Key(), err)
	}

	dirty := rec.Dirty()
	previous := make(map[string]string, len(dirty))
	for _, f := range dirty {
		if v, ok := rec.original(f); ok {
			previous[f] = v
		}
	}
	rec.markPersisted()

	for _, field := range dirty {
		if !m.IsIndexed(field) {
			continue
		}
		if err := s.moveIndex(ctx, m, field, id, previous[field], rec.String(field)); err != nil {
			return err
		}
	}
	return nil
}

// moveIndex releases the old index entry of field and writes the new one.
func (s *Store) moveIndex(ctx context.Context, m *Model, field, id, oldValue, newValue string) error {
	if oldValue != "" {
		if err := s.releaseIndex(ctx, m.IndexKey(field, oldValue), id); err != nil {
			return fmt.Errorf("release index %s: %w", field, err)
		}
	}
	if newValue != "" {
		if err := s.kv.Set(ctx, m.IndexKey(field, newValue), id); err != nil {
			return fmt.Errorf("index %s: %w", field, err)
		}
	}
	return nil
}

// Delete removes rec, its index entries and the relation sets it owns.
// It returns false when rec does not exist.
//
// Once the record key is deleted the call succeeds; failures cleaning up
// index entries and relation sets are logged and left for ReleaseIndexes.
func (s *Store) Delete(ctx context.Context, rec *Record) (bool, error) {
	if rec == nil || !rec.Exists() {
		return false, nil
	}

	key := rec.Key()
	if _, err := s.kv.Del(ctx, key); err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	rec.exists = false

	err := errors.Join(
		s.ReleaseIndexes(ctx, rec.model, rec.ID(), rec.persisted),
		s.releaseUnsaved(ctx, rec),
	)
	if err != nil {
		s.config.Logger.Warn("failed to clean up after delete",
			"key", key,
			"error", err,
		)
	}
	return true, nil
}

// releaseUnsaved removes index entries for indexed values set on rec but
// never saved. Entries owned by other records are kept.
func (s *Store) releaseUnsaved(ctx context.Context, rec *Record) error {
	var errs []error
	for _, field := range rec.Dirty() {
		value := rec.String(field)
		if !rec.model.IsIndexed(field) || value == "" {
			continue
		}
		if err := s.releaseIndex(ctx, rec.model.IndexKey(field, value), rec.ID()); err != nil {
			errs = append(errs, fmt.Errorf("release index %s: %w", field, err))
		}
	}
	return errors.Join(errs...)
}

// Destroy deletes the record of m with the given id.
// It returns false when no such record exists.
func (s *Store) Destroy(ctx context.Context, m *Model, id string) (bool, error) {
	rec, err := s.Get(ctx, m, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.Delete(ctx, rec)
}

// AllKeys returns the record keys of m in ascending id order.
func (s *Store) AllKeys(ctx context.Context, m *Model) ([]string, error) {
	ids, err := s.AllIDs(ctx, m)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = m.RecordKey(id)
	}
	return out, nil
}

// AllIDs returns the ids of every record of m in ascending order.
// Index keys and relation sets under the same prefix are skipped.
func (s *Store) AllIDs(ctx context.Context, m *Model) ([]string, error) {
	found, err := s.kv.Keys(ctx, keys.ModelPattern(m.Prefix()))
	if err != nil {
		return nil, fmt.Errorf("list %s keys: %w", m.Name(), err)
	}

	ids := make([]string, 0, len(found))
	for _, key := range found {
		if id, ok := keys.IDFromKey(m.Prefix(), key); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, _ := strconv.ParseUint(ids[i], 10, 64)
		b, _ := strconv.ParseUint(ids[j], 10, 64)
		return a < b
	})
	return ids, nil
}
