// Package store maps structured records onto a key-value store.
//
// Each record is a hash under "<prefix><id>", ids come from an atomic
// counter, indexed fields get value-to-id lookup keys, and one-to-many
// associations are sorted sets owned by the parent record.
//
// # Models
//
// A [Model] describes one record type:
//
//	users := store.MustModel("User",
//	    store.WithFillable("name", "email"),
//	    store.WithHidden("password"),
//	    store.WithIndexed("email"),
//	    store.WithTimestamps(),
//	)
//
// The prefix is the snake case type name ("user:"), the identity counter is
// "total_users" and the email index key for "a@x.com" is "user:email:a@x.com".
//
// # Key layout
//
//	user:1                  hash of every field, null stored as ""
//	user:email:a@x.com      "1"
//	user:1:rel:post         sorted set of post ids scored by id
//	total_users             counter
//
// # Consistency
//
// Nothing spans more than one key atomically except id allocation. Create
// writes the hash before its index entries, Delete removes the hash before
// its index entries and relation sets, and CreateThrough creates before it
// links. Index entries are hints: [Store.LookupBy] re-checks the record, and
// [Store.RefreshIndex] backfills missing entries.
//
// # Errors
//
//   - [ErrNotFound] - record or index entry doesn't exist
//   - [ErrMassAssignment] - attributes given to a model without fillable fields
//   - [ErrNotIndexed] - lookup on a field without an index
//   - [ErrDuplicatePrefix] - two models registered with the same prefix
//   - [ErrInvalidScore] - non-numeric relation member
//   - [ErrNoLocalKey] - relation owner has no local key value
//
// Backend failures are wrapped [kv.ErrUnavailable].
package store
