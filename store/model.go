package store

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/iancoleman/strcase"
	"github.com/jinzhu/inflection"

	"github.com/jacentio/kvmodel/internal/keys"
)

// Attrs is caller input for Create and Update.
// Values may be strings, integers, floats, bools, time.Time, fmt.Stringer
// or nil. nil and "" are stored as null.
type Attrs map[string]any

// GuardPolicy decides which attributes may be mass-assigned.
type GuardPolicy interface {
	// Filter returns the subset of attrs that may be written to a record of m.
	Filter(m *Model, attrs Attrs) (Attrs, error)
}

// TimestampPolicy stamps records when they are saved.
type TimestampPolicy interface {
	// Fields returns the timestamp field names, in record order.
	Fields() []string

	// Touch stamps rec with now. created is true for the first save.
	Touch(rec *Record, now time.Time, created bool)
}

// Model describes how one record type is laid out in the store.
// A Model is immutable after NewModel returns.
type Model struct {
	name       string
	prefix     string
	primaryKey string

	fillable []string
	hidden   []string
	guarded  []string

	indexed   []string
	templates map[string]string

	unguarded  bool
	guard      GuardPolicy
	timestamps TimestampPolicy

	fields []string
}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithPrimaryKey overrides the primary key field. Default: "id".
func WithPrimaryKey(field string) ModelOption {
	return func(m *Model) { m.primaryKey = field }
}

// WithFillable sets the fields accepted from caller input.
func WithFillable(fields ...string) ModelOption {
	return func(m *Model) { m.fillable = append(m.fillable, fields...) }
}

// WithHidden sets the fields excluded from serialization.
func WithHidden(fields ...string) ModelOption {
	return func(m *Model) { m.hidden = append(m.hidden, fields...) }
}

// WithGuarded sets the fields that are stored but never mass-assigned.
func WithGuarded(fields ...string) ModelOption {
	return func(m *Model) { m.guarded = append(m.guarded, fields...) }
}

// WithIndexed declares secondary indexes using the default "{model}:<field>:%s" template.
func WithIndexed(fields ...string) ModelOption {
	return func(m *Model) {
		for _, f := range fields {
			m.addIndex(f, keys.Placeholder+f+keys.Separator+"%s")
		}
	}
}

// WithIndexTemplate declares a secondary index with a custom key template.
// The template must contain the "{model}:" placeholder and one %s verb.
func WithIndexTemplate(field, template string) ModelOption {
	return func(m *Model) { m.addIndex(field, template) }
}

// WithTimestamps enables created_at and updated_at.
func WithTimestamps() ModelOption {
	return WithTimestampFields("created_at", "updated_at")
}

// WithTimestampFields enables timestamps stored under the given field names.
func WithTimestampFields(created, updated string) ModelOption {
	return func(m *Model) {
		m.timestamps = columnTimestamps{created: created, updated: updated}
	}
}

// WithTimestampPolicy installs a custom timestamp policy.
func WithTimestampPolicy(p TimestampPolicy) ModelOption {
	return func(m *Model) { m.timestamps = p }
}

// WithGuardPolicy installs a custom mass-assignment policy.
func WithGuardPolicy(p GuardPolicy) ModelOption {
	return func(m *Model) { m.guard = p }
}

// Unguarded allows mass assignment of any field except the primary key.
func Unguarded() ModelOption {
	return func(m *Model) { m.unguarded = true }
}

func (m *Model) addIndex(field, template string) {
	if _, ok := m.templates[field]; !ok {
		m.indexed = append(m.indexed, field)
	}
	m.templates[field] = template
}

// NewModel builds a Model for the record type name ("User", "BlogPost").
func NewModel(name string, opts ...ModelOption) (*Model, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidModel)
	}

	snake := strcase.ToSnake(name)
	m := &Model{
		name:       name,
		prefix:     snake + keys.Separator,
		primaryKey: "id",
		templates:  make(map[string]string),
		guard:      fillableGuard{},
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, field := range m.indexed {
		if _, err := keys.FormatQualified(m.templates[field], m.prefix, ""); err != nil {
			return nil, fmt.Errorf("%w: index %s: %w", ErrInvalidModel, field, err)
		}
	}

	m.fields = m.buildFields()
	return m, nil
}

// MustModel is like NewModel but panics on an invalid definition.
func MustModel(name string, opts ...ModelOption) *Model {
	m, err := NewModel(name, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

// buildFields orders the stable field set: primary key, fillable, hidden,
// guarded, then timestamps.
func (m *Model) buildFields() []string {
	var fields []string
	seen := map[string]bool{}
	add := func(fs ...string) {
		for _, f := range fs {
			if f != "" && !seen[f] {
				seen[f] = true
				fields = append(fields, f)
			}
		}
	}
	add(m.primaryKey)
	add(m.fillable...)
	add(m.hidden...)
	add(m.guarded...)
	if m.timestamps != nil {
		add(m.timestamps.Fields()...)
	}
	return fields
}

// Name returns the record type name.
func (m *Model) Name() string { return m.name }

// Prefix returns the key prefix including the trailing separator ("blog_post:").
func (m *Model) Prefix() string { return m.prefix }

// PrimaryKey returns the primary key field name.
func (m *Model) PrimaryKey() string { return m.primaryKey }

// Fields returns the declared fields in record order.
func (m *Model) Fields() []string { return slices.Clone(m.fields) }

// Fillable returns the mass-assignable fields.
func (m *Model) Fillable() []string { return slices.Clone(m.fillable) }

// Indexed returns the fields with a secondary index.
func (m *Model) Indexed() []string { return slices.Clone(m.indexed) }

// IsFillable reports whether field may be mass-assigned.
func (m *Model) IsFillable(field string) bool {
	if field == m.primaryKey {
		return false
	}
	return m.unguarded || slices.Contains(m.fillable, field)
}

// IsHidden reports whether field is excluded from serialization.
func (m *Model) IsHidden(field string) bool { return slices.Contains(m.hidden, field) }

// IsIndexed reports whether field has a secondary index.
func (m *Model) IsIndexed(field string) bool {
	_, ok := m.templates[field]
	return ok
}

// ForeignKey returns the field other models use to reference this one ("user_id").
func (m *Model) ForeignKey() string {
	return keys.Trim(m.prefix) + "_" + m.primaryKey
}

// CounterKey returns the key of the identity counter ("total_users").
func (m *Model) CounterKey() string {
	return "total_" + inflection.Plural(keys.Trim(m.prefix))
}

// RecordKey returns the key of a record's attribute hash ("user:1").
func (m *Model) RecordKey(id string) string {
	return keys.Format(keys.RecordTemplate, m.prefix, id)
}

// IndexKey returns the secondary index key of field for value.
// Fields without a declared index use the default template.
func (m *Model) IndexKey(field, value string) string {
	template, ok := m.templates[field]
	if !ok {
		template = keys.Placeholder + field + keys.Separator + "%s"
	}
	return keys.Format(template, m.prefix, value)
}

// QualifyColumn prefixes column with the model prefix unless it is already a key.
func (m *Model) QualifyColumn(column string) string {
	return keys.Qualify(m.prefix, column)
}

// fillableGuard copies fillable fields and rejects input for models with none.
type fillableGuard struct{}

func (fillableGuard) Filter(m *Model, attrs Attrs) (Attrs, error) {
	out := make(Attrs, len(attrs))
	if !m.unguarded && len(m.fillable) == 0 && len(attrs) > 0 {
		names := make([]string, 0, len(attrs))
		for f := range attrs {
			names = append(names, f)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("%w: %s on %s", ErrMassAssignment, names[0], m.name)
	}
	for f, v := range attrs {
		if m.IsFillable(f) {
			out[f] = v
		}
	}
	return out, nil
}

// columnTimestamps stores unix seconds in two fields.
type columnTimestamps struct {
	created string
	updated string
}

func (c columnTimestamps) Fields() []string {
	return []string{c.created, c.updated}
}

func (c columnTimestamps) Touch(rec *Record, now time.Time, created bool) {
	stamp := strconv.FormatInt(now.Unix(), 10)
	if created && c.created != "" {
		rec.Set(c.created, stamp)
	}
	if c.updated != "" {
		rec.Set(c.updated, stamp)
	}
}
