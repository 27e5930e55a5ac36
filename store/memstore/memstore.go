// Package memstore is an in-process store.Store used by tests and by the
// server when no MongoDB URL is configured.
//
// Documents are round-tripped through the bson codec on every write and
// read so callers observe the same type coercions (time precision, integer
// widths, omitempty) they would get from MongoDB.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/havosec/authcore/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Option configures a Store.
type Option func(*Store)

// WithUniqueIndex rejects writes that would give two documents in coll the
// same non-null value for field.
func WithUniqueIndex(coll, field string) Option {
	return func(s *Store) {
		s.unique[coll] = append(s.unique[coll], field)
	}
}

// Store keeps collections as ordered slices of bson documents behind one lock.
type Store struct {
	mu     sync.RWMutex
	colls  map[string][]bson.M
	unique map[string][]string
}

var _ store.Store = (*Store)(nil)

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		colls:  make(map[string][]bson.M),
		unique: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) FindOne(ctx context.Context, coll string, q store.Query, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.selectLocked(coll, q)
	if len(idx) == 0 {
		return store.ErrNotFound
	}
	return decodeInto(s.colls[coll][idx[0]], out)
}

func (s *Store) Find(ctx context.Context, coll string, q store.Query, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Slice {
		return errors.New("memstore: Find requires a pointer to a slice")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.selectLocked(coll, q)
	sv := rv.Elem()
	elemType := sv.Type().Elem()
	result := reflect.MakeSlice(sv.Type(), 0, len(idx))
	for _, i := range idx {
		elem := reflect.New(elemType)
		if err := decodeInto(s.colls[coll][i], elem.Interface()); err != nil {
			return err
		}
		result = reflect.Append(result, elem.Elem())
	}
	sv.Set(result)
	return nil
}

func (s *Store) InsertOne(ctx context.Context, coll string, doc any) error {
	return s.InsertMany(ctx, coll, []any{doc})
}

func (s *Store) InsertMany(ctx context.Context, coll string, docs []any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prepared := make([]bson.M, 0, len(docs))
	for _, d := range docs {
		m, err := toDoc(d)
		if err != nil {
			return err
		}
		if _, ok := m["_id"]; !ok {
			m["_id"] = primitive.NewObjectID()
		}
		prepared = append(prepared, m)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole batch before mutating so a conflict leaves no partial insert.
	existing := s.colls[coll]
	for i, m := range prepared {
		if err := s.checkUniqueLocked(coll, existing, m, -1); err != nil {
			return err
		}
		if err := s.checkUniqueLocked(coll, prepared[:i], m, -1); err != nil {
			return err
		}
	}
	s.colls[coll] = append(existing, prepared...)
	return nil
}

func (s *Store) UpdateOne(ctx context.Context, coll string, q store.Query, u store.Update) (store.UpdateResult, error) {
	q.Limit = 1
	return s.update(ctx, coll, q, u)
}

func (s *Store) UpdateMany(ctx context.Context, coll string, q store.Query, u store.Update) (store.UpdateResult, error) {
	return s.update(ctx, coll, q, u)
}

func (s *Store) update(ctx context.Context, coll string, q store.Query, u store.Update) (store.UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return store.UpdateResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var res store.UpdateResult
	for _, i := range s.selectLocked(coll, q) {
		res.Matched++
		changed, err := s.applyLocked(coll, i, u)
		if err != nil {
			return res, err
		}
		if changed {
			res.Modified++
		}
	}
	return res, nil
}

func (s *Store) FindOneAndUpdate(ctx context.Context, coll string, q store.Query, u store.Update, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	q.Limit = 1
	idx := s.selectLocked(coll, q)
	if len(idx) == 0 {
		return store.ErrNotFound
	}
	if _, err := s.applyLocked(coll, idx[0], u); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decodeInto(s.colls[coll][idx[0]], out)
}

func (s *Store) DeleteOne(ctx context.Context, coll string, q store.Query) (int64, error) {
	q.Limit = 1
	return s.delete(ctx, coll, q, nil)
}

func (s *Store) DeleteMany(ctx context.Context, coll string, q store.Query) (int64, error) {
	return s.delete(ctx, coll, q, nil)
}

func (s *Store) FindOneAndDelete(ctx context.Context, coll string, q store.Query, out any) error {
	q.Limit = 1
	var removed bson.M
	n, err := s.delete(ctx, coll, q, func(m bson.M) { removed = m })
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	if out == nil {
		return nil
	}
	return decodeInto(removed, out)
}

func (s *Store) delete(ctx context.Context, coll string, q store.Query, onRemove func(bson.M)) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.selectLocked(coll, q)
	if len(idx) == 0 {
		return 0, nil
	}
	drop := make(map[int]struct{}, len(idx))
	for _, i := range idx {
		drop[i] = struct{}{}
	}

	docs := s.colls[coll]
	kept := docs[:0:0]
	for i, d := range docs {
		if _, ok := drop[i]; ok {
			if onRemove != nil {
				onRemove(d)
			}
			continue
		}
		kept = append(kept, d)
	}
	s.colls[coll] = kept
	return int64(len(idx)), nil
}

func (s *Store) Count(ctx context.Context, coll string, q store.Query) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	q.Skip, q.Limit = 0, 0
	return int64(len(s.selectLocked(coll, q))), nil
}

// selectLocked returns indexes of matching documents after sort, skip, and limit.
func (s *Store) selectLocked(coll string, q store.Query) []int {
	docs := s.colls[coll]
	var idx []int
	for i, d := range docs {
		if matches(d, q.Where) {
			idx = append(idx, i)
		}
	}

	if len(q.Sort) > 0 {
		sort.SliceStable(idx, func(a, b int) bool {
			da, db := docs[idx[a]], docs[idx[b]]
			for _, key := range q.Sort {
				c := compareForSort(lookup(da, key.Field), lookup(db, key.Field))
				if c == 0 {
					continue
				}
				if key.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	if q.Skip > 0 {
		if q.Skip >= int64(len(idx)) {
			return nil
		}
		idx = idx[q.Skip:]
	}
	if q.Limit > 0 && int64(len(idx)) > q.Limit {
		idx = idx[:q.Limit]
	}
	return idx
}

// applyLocked mutates document i of coll in place and reports whether anything changed.
func (s *Store) applyLocked(coll string, i int, u store.Update) (bool, error) {
	current := s.colls[coll][i]
	next := make(bson.M, len(current))
	for k, v := range current {
		next[k] = v
	}

	for field, v := range u.Set {
		nv, err := normalize(v)
		if err != nil {
			return false, err
		}
		setPath(next, field, nv)
	}
	for _, field := range u.Unset {
		unsetPath(next, field)
	}
	for field, delta := range u.Inc {
		sum, err := addNumber(lookup(next, field), delta)
		if err != nil {
			return false, fmt.Errorf("memstore: $inc on %q: %w", field, err)
		}
		setPath(next, field, sum)
	}

	if err := s.checkUniqueLocked(coll, s.colls[coll], next, i); err != nil {
		return false, err
	}
	changed := !docsEqual(current, next)
	s.colls[coll][i] = next
	return changed, nil
}

func (s *Store) checkUniqueLocked(coll string, docs []bson.M, candidate bson.M, self int) error {
	fields := append([]string{"_id"}, s.unique[coll]...)
	for _, field := range fields {
		v := lookup(candidate, field)
		if v == nil {
			continue
		}
		for j, other := range docs {
			if j == self {
				continue
			}
			if valuesEqual(lookup(other, field), v) {
				return fmt.Errorf("%w: %s.%s", store.ErrDuplicateKey, coll, field)
			}
		}
	}
	return nil
}

func matches(doc bson.M, conds []store.Cond) bool {
	for _, c := range conds {
		want, err := normalize(c.Value)
		if err != nil {
			return false
		}
		got := lookup(doc, c.Field)
		switch c.Op {
		case store.OpEq:
			if !valuesEqual(got, want) {
				return false
			}
		case store.OpNe:
			if valuesEqual(got, want) {
				return false
			}
		default:
			cmp, ok := compare(got, want)
			if !ok {
				return false
			}
			switch c.Op {
			case store.OpGt:
				if cmp <= 0 {
					return false
				}
			case store.OpGte:
				if cmp < 0 {
					return false
				}
			case store.OpLt:
				if cmp >= 0 {
					return false
				}
			case store.OpLte:
				if cmp > 0 {
					return false
				}
			}
		}
	}
	return true
}

func lookup(doc bson.M, path string) any {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(bson.M)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func setPath(doc bson.M, path string, v any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(bson.M)
		if !ok {
			next = bson.M{}
			cur[part] = next
		} else {
			// copy-on-write so the previous document version stays intact
			cp := make(bson.M, len(next))
			for k, val := range next {
				cp[k] = val
			}
			next = cp
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

func unsetPath(doc bson.M, path string) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(bson.M)
		if !ok {
			return
		}
		cp := make(bson.M, len(next))
		for k, val := range next {
			cp[k] = val
		}
		cur[part] = cp
		cur = cp
	}
	delete(cur, parts[len(parts)-1])
}
