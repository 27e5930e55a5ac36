// Package store defines the persistence collaborator consumed by authcore.
//
// The core never talks to a database driver directly. It issues simple
// collection operations (find, insert, update, delete, count) with
// equality/range predicates, and relies on two atomic primitives from the
// backend: FindOneAndUpdate (used for failure counters) and
// FindOneAndDelete (used for single-use token redemption).
//
// Documents are plain Go structs with bson tags. Implementations decode
// into caller-provided pointers the same way the MongoDB driver does.
package store

import (
	"context"
	"errors"
)

// Collection names used by the core.
const (
	CollIdentities         = "identities"
	CollPasswordResets     = "password_resets"
	CollEmailVerifications = "email_verifications"
	CollNotifications      = "notifications"
	CollSecurityEvents     = "security_events"
)

var (
	// ErrNotFound is returned by single-document operations that matched nothing.
	ErrNotFound = errors.New("store: document not found")
	// ErrDuplicateKey is returned when a write violates a unique index.
	ErrDuplicateKey = errors.New("store: duplicate key")
)

// Op is a comparison operator for a query condition.
type Op uint8

const (
	OpEq Op = iota
	OpNe
	OpGt
	OpGte
	OpLt
	OpLte
)

// Cond is one field predicate. Conditions inside a Query are AND-ed.
type Cond struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, value any) Cond { return Cond{Field: field, Op: OpEq, Value: value} }
func Ne(field string, value any) Cond { return Cond{Field: field, Op: OpNe, Value: value} }
func Gt(field string, value any) Cond { return Cond{Field: field, Op: OpGt, Value: value} }
func Gte(field string, value any) Cond { return Cond{Field: field, Op: OpGte, Value: value} }
func Lt(field string, value any) Cond { return Cond{Field: field, Op: OpLt, Value: value} }
func Lte(field string, value any) Cond { return Cond{Field: field, Op: OpLte, Value: value} }

// SortKey orders results by one field.
type SortKey struct {
	Field string
	Desc  bool
}

// Query selects documents in a collection.
type Query struct {
	Where []Cond
	Sort  []SortKey
	Skip  int64
	Limit int64
}

// Where builds a Query from conditions.
func Where(conds ...Cond) Query {
	return Query{Where: conds}
}

// SortBy returns a copy of q with an additional sort key.
func (q Query) SortBy(field string, desc bool) Query {
	q.Sort = append(append([]SortKey(nil), q.Sort...), SortKey{Field: field, Desc: desc})
	return q
}

// WithSkip returns a copy of q skipping n documents.
func (q Query) WithSkip(n int64) Query {
	q.Skip = n
	return q
}

// WithLimit returns a copy of q returning at most n documents. Zero means no limit.
func (q Query) WithLimit(n int64) Query {
	q.Limit = n
	return q
}

// Update describes field mutations applied by the Update* operations.
type Update struct {
	Set   map[string]any
	Unset []string
	Inc   map[string]int64
}

// Empty reports whether u carries no mutation.
func (u Update) Empty() bool {
	return len(u.Set) == 0 && len(u.Unset) == 0 && len(u.Inc) == 0
}

// UpdateResult reports how many documents matched and changed.
type UpdateResult struct {
	Matched  int64
	Modified int64
}

// Store is the abstract document store.
//
// out arguments follow driver conventions: a pointer to a struct for single
// document reads and a pointer to a slice for Find.
type Store interface {
	FindOne(ctx context.Context, coll string, q Query, out any) error
	Find(ctx context.Context, coll string, q Query, out any) error
	InsertOne(ctx context.Context, coll string, doc any) error
	InsertMany(ctx context.Context, coll string, docs []any) error
	UpdateOne(ctx context.Context, coll string, q Query, u Update) (UpdateResult, error)
	UpdateMany(ctx context.Context, coll string, q Query, u Update) (UpdateResult, error)
	// FindOneAndUpdate applies u to the first match and decodes the updated document.
	FindOneAndUpdate(ctx context.Context, coll string, q Query, u Update, out any) error
	DeleteOne(ctx context.Context, coll string, q Query) (int64, error)
	DeleteMany(ctx context.Context, coll string, q Query) (int64, error)
	// FindOneAndDelete removes the first match and decodes it. Exactly one of
	// any number of concurrent callers observes a given document.
	FindOneAndDelete(ctx context.Context, coll string, q Query, out any) error
	Count(ctx context.Context, coll string, q Query) (int64, error)
}
