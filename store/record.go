package store

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/go-json-experiment/json"
)

// Record is one stored instance of a Model: an ordered field list with
// nullable string values.
//
// Records are not safe for concurrent mutation.
type Record struct {
	model  *Model
	fields []string
	values map[string]string
	exists bool

	// persisted holds the values as last read from or written to the store.
	persisted map[string]string
}

func newRecord(m *Model) *Record {
	return &Record{
		model:  m,
		fields: m.Fields(),
		values: make(map[string]string),
	}
}

// Model returns the record's model.
func (r *Record) Model() *Model { return r.model }

// ID returns the primary key value, or "" before the record is created.
func (r *Record) ID() string { return r.values[r.model.primaryKey] }

// Key returns the record's key in the store.
func (r *Record) Key() string { return r.model.RecordKey(r.ID()) }

// Exists reports whether the record was created or loaded and not deleted since.
func (r *Record) Exists() bool { return r.exists }

// Fields returns the record's fields in order.
func (r *Record) Fields() []string { return slices.Clone(r.fields) }

// Value returns the value of field and whether it is non-null.
func (r *Record) Value(field string) (string, bool) {
	v, ok := r.values[field]
	return v, ok
}

// String returns the value of field, or "" when null.
func (r *Record) String(field string) string { return r.values[field] }

// IsNull reports whether field is null.
func (r *Record) IsNull(field string) bool {
	_, ok := r.values[field]
	return !ok
}

// Int parses field as a base-10 integer.
func (r *Record) Int(field string) (int64, error) {
	v, ok := r.values[field]
	if !ok {
		return 0, fmt.Errorf("field %s is null", field)
	}
	return strconv.ParseInt(v, 10, 64)
}

// Time parses field as unix seconds. ok is false when field is null or not a timestamp.
func (r *Record) Time(field string) (t time.Time, ok bool) {
	n, err := r.Int(field)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(n, 0), true
}

// Set assigns v to field. Unknown fields are appended to the field list.
// nil and "" make the field null.
func (r *Record) Set(field string, v any) {
	s, ok := encodeValue(v)
	if !slices.Contains(r.fields, field) {
		r.fields = append(r.fields, field)
	}
	if !ok {
		delete(r.values, field)
		return
	}
	r.values[field] = s
}

// Unset makes field null.
func (r *Record) Unset(field string) { r.Set(field, nil) }

// Attributes returns the stored form of every field. Null fields map to "".
func (r *Record) Attributes() map[string]string {
	out := make(map[string]string, len(r.fields))
	for _, f := range r.fields {
		out[f] = r.values[f]
	}
	return out
}

// Map returns the visible fields, with nil for null values.
func (r *Record) Map() map[string]any {
	out := make(map[string]any, len(r.fields))
	for _, f := range r.fields {
		if r.model.IsHidden(f) {
			continue
		}
		if v, ok := r.values[f]; ok {
			out[f] = v
		} else {
			out[f] = nil
		}
	}
	return out
}

// MarshalJSON encodes the visible fields with sorted keys.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map(), json.Deterministic(true))
}

// Dirty returns the fields whose value differs from the persisted state.
func (r *Record) Dirty() []string {
	var dirty []string
	for _, f := range r.fields {
		old, wasSet := r.persisted[f]
		cur, isSet := r.values[f]
		if old != cur || wasSet != isSet {
			dirty = append(dirty, f)
		}
	}
	return dirty
}

// original returns the persisted value of field.
func (r *Record) original(field string) (string, bool) {
	v, ok := r.persisted[field]
	return v, ok
}

// load replaces the record's values with a stored hash.
func (r *Record) load(hash map[string]string) {
	r.values = make(map[string]string, len(hash))
	var extra []string
	for f, v := range hash {
		if v != "" {
			r.values[f] = v
		}
		if !slices.Contains(r.fields, f) {
			extra = append(extra, f)
		}
	}
	sort.Strings(extra)
	r.fields = append(r.fields, extra...)
	r.markPersisted()
}

// markPersisted records the current values as the stored state.
func (r *Record) markPersisted() {
	r.exists = true
	r.persisted = maps.Clone(r.values)
}

// encodeValue converts caller input to its stored form. ok is false for null.
func encodeValue(v any) (s string, ok bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		s = x
	case *string:
		if x == nil {
			return "", false
		}
		s = *x
	case []byte:
		s = string(x)
	case int:
		s = strconv.Itoa(x)
	case int32:
		s = strconv.FormatInt(int64(x), 10)
	case int64:
		s = strconv.FormatInt(x, 10)
	case uint:
		s = strconv.FormatUint(uint64(x), 10)
	case uint32:
		s = strconv.FormatUint(uint64(x), 10)
	case uint64:
		s = strconv.FormatUint(x, 10)
	case float32:
		s = strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			s = "1"
		} else {
			s = "0"
		}
	case time.Time:
		if x.IsZero() {
			return "", false
		}
		s = strconv.FormatInt(x.Unix(), 10)
	case fmt.Stringer:
		s = x.String()
	default:
		s = fmt.Sprint(x)
	}
	return s, s != ""
}
