// Package keys provides key generation for models stored in a key-value store.
package keys

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// Placeholder is replaced by the model prefix in key templates.
	Placeholder = "{model}:"

	// Separator delimits namespaces inside a key.
	Separator = ":"

	// RecordTemplate is the key template of a record's attribute hash.
	RecordTemplate = Placeholder + "%s"

	relationInfix = ":rel:"
)

// ErrUnqualifiedTemplate is returned when a template has no model placeholder.
var ErrUnqualifiedTemplate = errors.New("keys: template has no " + Placeholder + " placeholder")

// Format substitutes prefix for the model placeholder and formats the
// remaining arguments positionally.
// With template "{model}:email:%s" and prefix "user:", Format returns "user:email:<value>".
func Format(template, prefix string, args ...any) string {
	key := strings.Replace(template, Placeholder, prefix, 1)
	if len(args) == 0 {
		return key
	}
	return fmt.Sprintf(key, args...)
}

// FormatQualified is Format for callers that require keys scoped to a model.
func FormatQualified(template, prefix string, args ...any) (string, error) {
	if !strings.Contains(template, Placeholder) {
		return "", fmt.Errorf("%w: %q", ErrUnqualifiedTemplate, template)
	}
	return Format(template, prefix, args...), nil
}

// Qualify prepends prefix to column unless column already contains a separator.
func Qualify(prefix, column string) string {
	if strings.Contains(column, Separator) {
		return column
	}
	return prefix + column
}

// Trim returns prefix without its trailing separator ("user:" -> "user").
func Trim(prefix string) string {
	return strings.TrimSuffix(prefix, Separator)
}

// RelationKey computes the sorted-set key linking an owner key to a related model.
func RelationKey(ownerKey, relatedPrefix string) string {
	return ownerKey + relationInfix + Trim(relatedPrefix)
}

// RelationPattern returns the glob matching every relation set owned by recordKey.
func RelationPattern(recordKey string) string {
	return recordKey + relationInfix + "*"
}

// ModelPattern returns the glob matching every key under prefix.
func ModelPattern(prefix string) string {
	return prefix + "*"
}

// IDFromKey extracts the id from a record key ("user:12" -> "12").
// ok is false when key is not prefix followed by decimal digits.
func IDFromKey(prefix, key string) (id string, ok bool) {
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	id = key[len(prefix):]
	if id == "" {
		return "", false
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return "", false
		}
	}
	return id, true
}

// IsRecordKey reports whether key addresses a record of the model owning prefix.
func IsRecordKey(prefix, key string) bool {
	_, ok := IDFromKey(prefix, key)
	return ok
}
