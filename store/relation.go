package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jacentio/kvmodel/internal/keys"
	"github.com/jacentio/kvmodel/kv"
)

// Relation is a one-to-many association from an owner record to records of
// a related model, stored as a sorted set scored by the related local key.
//
// Membership is not validated on read: a member may refer to a record that
// has since been deleted.
type Relation struct {
	store      *Store
	owner      *Record
	related    *Model
	foreignKey string
	localKey   string
}

// RelationOption configures a Relation.
type RelationOption func(*Relation)

// WithForeignKey overrides the field on related records that references the owner.
func WithForeignKey(field string) RelationOption {
	return func(r *Relation) { r.foreignKey = field }
}

// WithLocalKey overrides the owner field the relation is keyed by.
func WithLocalKey(field string) RelationOption {
	return func(r *Relation) { r.localKey = field }
}

// ItemsOptions selects a window of relation members.
type ItemsOptions struct {
	// Offset is the number of members to skip.
	Offset int

	// Limit is the maximum number of members (<= 0 = all).
	Limit int

	// Ascending orders oldest first. The default is newest first.
	Ascending bool
}

// Page is one page of related records.
type Page struct {
	Items       []*Record `json:"data"`
	Total       int64     `json:"total"`
	PerPage     int       `json:"per_page"`
	CurrentPage int       `json:"current_page"`
	LastPage    int       `json:"last_page"`
}

// Relation returns the association from owner to related.
func (s *Store) Relation(owner *Record, related *Model, opts ...RelationOption) *Relation {
	r := &Relation{
		store:      s,
		owner:      owner,
		related:    related,
		foreignKey: owner.model.ForeignKey(),
		localKey:   owner.model.primaryKey,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ForeignKey returns the field on related records that references the owner.
func (r *Relation) ForeignKey() string { return r.foreignKey }

// LocalKey returns the owner field the relation is keyed by.
func (r *Relation) LocalKey() string { return r.localKey }

// Key returns the sorted-set key, e.g. "user:1:rel:post".
func (r *Relation) Key() (string, error) {
	local, ok := r.owner.Value(r.localKey)
	if !ok {
		return "", fmt.Errorf("%w: %s.%s", ErrNoLocalKey, r.owner.model.Name(), r.localKey)
	}
	return keys.RelationKey(r.owner.model.QualifyColumn(local), r.related.Prefix()), nil
}

// Sync adds related to the set, scored by its local key value.
func (r *Relation) Sync(ctx context.Context, related *Record) error {
	key, err := r.Key()
	if err != nil {
		return err
	}

	member := related.String(r.localKey)
	score, err := strconv.ParseFloat(member, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidScore, member)
	}

	if err := r.store.kv.ZAdd(ctx, key, member, score); err != nil {
		return fmt.Errorf("sync %s: %w", key, err)
	}
	return nil
}

// Detach removes ids from the set, or the whole set when no ids are given.
func (r *Relation) Detach(ctx context.Context, ids ...string) error {
	key, err := r.Key()
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		_, err = r.store.kv.Del(ctx, key)
	} else {
		err = r.store.kv.ZRem(ctx, key, ids...)
	}
	if err != nil {
		return fmt.Errorf("detach %s: %w", key, err)
	}
	return nil
}

// Items returns member ids ordered by score.
func (r *Relation) Items(ctx context.Context, opts ItemsOptions) ([]string, error) {
	key, err := r.Key()
	if err != nil {
		return nil, err
	}

	ids, err := r.store.kv.ZRange(ctx, key, kv.RangeOptions{
		Offset:  int64(opts.Offset),
		Limit:   int64(opts.Limit),
		Reverse: !opts.Ascending,
	})
	if err != nil {
		return nil, fmt.Errorf("items %s: %w", key, err)
	}
	return ids, nil
}

// Get loads the records on a 1-based page, newest first. perPage <= 0
// loads every member. Members whose record no longer exists are skipped.
func (r *Relation) Get(ctx context.Context, perPage, page int) ([]*Record, error) {
	if page < 1 {
		page = 1
	}
	opts := ItemsOptions{}
	if perPage > 0 {
		opts.Offset = (page - 1) * perPage
		opts.Limit = perPage
	}

	ids, err := r.Items(ctx, opts)
	if err != nil {
		return nil, err
	}

	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := r.store.Get(ctx, r.related, id)
		if errors.Is(err, ErrNotFound) {
			r.store.config.Logger.Debug("skipping dangling relation member",
				"related", r.related.Name(),
				"id", id,
			)
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Paginate returns one page of records with the set's cardinality.
func (r *Relation) Paginate(ctx context.Context, perPage, page int) (*Page, error) {
	if page < 1 {
		page = 1
	}

	key, err := r.Key()
	if err != nil {
		return nil, err
	}
	total, err := r.store.kv.ZCard(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", key, err)
	}

	items, err := r.Get(ctx, perPage, page)
	if err != nil {
		return nil, err
	}

	p := &Page{
		Items:       items,
		Total:       total,
		PerPage:     perPage,
		CurrentPage: page,
		LastPage:    1,
	}
	if perPage > 0 && total > 0 {
		p.LastPage = int((total + int64(perPage) - 1) / int64(perPage))
	}
	return p, nil
}

// CreateThrough creates a related record referencing the owner and adds it
// to the set. The foreign key is written regardless of the related model's
// fillable fields.
//
// The two steps are not atomic: when linking fails the created record is
// returned together with the error.
func (r *Relation) CreateThrough(ctx context.Context, attrs Attrs) (*Record, error) {
	local, ok := r.owner.Value(r.localKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoLocalKey, r.owner.model.Name(), r.localKey)
	}

	rec, err := r.store.create(ctx, r.related, attrs, Attrs{r.foreignKey: local})
	if err != nil {
		return nil, err
	}
	if err := r.Sync(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}
