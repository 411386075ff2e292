package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacentio/kvmodel/internal/keys"
	"github.com/jacentio/kvmodel/kv"
)

// Lookup returns the id stored in the index entry of field for value.
func (s *Store) Lookup(ctx context.Context, m *Model, field, value string) (string, error) {
	if !m.IsIndexed(field) {
		return "", fmt.Errorf("%w: %s.%s", ErrNotIndexed, m.Name(), field)
	}

	key := m.IndexKey(field, value)
	id, err := s.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNil) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", key, err)
	}
	return id, nil
}

// LookupBy loads the record of m whose indexed field equals value.
//
// Index entries are hints: the record is re-read and its field compared to
// value, so a stale entry reports ErrNotFound rather than another record.
func (s *Store) LookupBy(ctx context.Context, m *Model, field, value string) (*Record, error) {
	id, err := s.Lookup(ctx, m, field, value)
	if err != nil {
		return nil, err
	}

	rec, err := s.Get(ctx, m, id)
	if err != nil {
		return nil, err
	}
	if rec.String(field) != value {
		return nil, fmt.Errorf("%w: stale index %s", ErrNotFound, m.IndexKey(field, value))
	}
	return rec, nil
}

// RefreshIndex writes missing index entries for every record of m and
// returns how many were written. fn, if non-nil, is called for each entry.
// Existing entries are left untouched, so running it twice writes nothing
// the second time.
func (s *Store) RefreshIndex(ctx context.Context, m *Model, fn func(key, id string)) (int, error) {
	if len(m.indexed) == 0 {
		return 0, nil
	}

	ids, err := s.AllIDs(ctx, m)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, id := range ids {
		rec, err := s.Get(ctx, m, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return written, err
		}

		for _, field := range m.indexed {
			value, ok := rec.Value(field)
			if !ok {
				continue
			}
			key := m.IndexKey(field, value)
			exists, err := s.kv.Exists(ctx, key)
			if err != nil {
				return written, fmt.Errorf("check %s: %w", key, err)
			}
			if exists {
				continue
			}
			if err := s.kv.Set(ctx, key, id); err != nil {
				return written, fmt.Errorf("index %s: %w", key, err)
			}
			written++
			if fn != nil {
				fn(key, id)
			}
		}
	}

	s.config.Logger.Info("index refreshed",
		"model", m.Name(),
		"records", len(ids),
		"written", written,
	)
	return written, nil
}

// ReleaseIndexes removes the index entries implied by values that still
// point at id, and every relation set owned by the record. It is safe to
// call more than once.
func (s *Store) ReleaseIndexes(ctx context.Context, m *Model, id string, values map[string]string) error {
	var errs []error
	for _, field := range m.indexed {
		value := values[field]
		if value == "" {
			continue
		}
		if err := s.releaseIndex(ctx, m.IndexKey(field, value), id); err != nil {
			errs = append(errs, fmt.Errorf("release index %s: %w", field, err))
		}
	}

	pattern := keys.RelationPattern(m.RecordKey(id))
	relations, err := s.kv.Keys(ctx, pattern)
	if err != nil {
		errs = append(errs, fmt.Errorf("list %s: %w", pattern, err))
	} else if len(relations) > 0 {
		if _, err := s.kv.Del(ctx, relations...); err != nil {
			errs = append(errs, fmt.Errorf("delete relations of %s: %w", m.RecordKey(id), err))
		}
	}

	return errors.Join(errs...)
}

// releaseIndex deletes key if it maps to id.
func (s *Store) releaseIndex(ctx context.Context, key, id string) error {
	current, err := s.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNil) {
		return nil
	}
	if err != nil {
		return err
	}
	if current != id {
		return nil
	}
	_, err = s.kv.Del(ctx, key)
	return err
}
