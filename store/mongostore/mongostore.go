// Package mongostore implements store.Store on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/havosec/authcore/store"
	"github.com/samber/oops"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const connectTimeout = 10 * time.Second

// Store adapts a mongo.Database to store.Store.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ store.Store = (*Store)(nil)

// Connect dials uri, verifies the connection, and selects database dbName.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").With("database", dbName).Wrap(err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, oops.Code("STORE_CONNECT_FAILED").With("database", dbName).Wrap(err)
	}
	return &Store{client: client, db: client.Database(dbName)}, nil
}

// NewFromDatabase wraps an existing database handle. Close becomes a no-op.
func NewFromDatabase(db *mongo.Database) *Store {
	return &Store{db: db}
}

// Close disconnects the client created by Connect.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// ExpiredTokenRetention is how long the TTL index keeps an ephemeral token
// record after its expiresAt. Redeem and Peek report records inside this
// window as expired rather than unknown.
const ExpiredTokenRetention = 24 * time.Hour

// EnsureIndexes creates the indexes the auth core depends on: unique
// identity emails, unique token hashes, delayed TTL cleanup for ephemeral
// tokens, and per-user notification ordering.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	specs := indexModels()
	for coll, models := range specs {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return oops.Code("STORE_INDEX_FAILED").With("collection", coll).Wrap(err)
		}
	}
	return nil
}

func indexModels() map[string][]mongo.IndexModel {
	specs := map[string][]mongo.IndexModel{
		store.CollIdentities: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		store.CollNotifications: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		store.CollSecurityEvents: {
			{Keys: bson.D{{Key: "eventType", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "userId", Value: 1}}},
		},
	}
	retention := int32(ExpiredTokenRetention / time.Second)
	for _, coll := range []string{store.CollPasswordResets, store.CollEmailVerifications} {
		specs[coll] = []mongo.IndexModel{
			{Keys: bson.D{{Key: "tokenHash", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "email", Value: 1}}},
			{Keys: bson.D{{Key: "expiresAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(retention)},
		}
	}
	return specs
}

func (s *Store) FindOne(ctx context.Context, coll string, q store.Query, out any) error {
	opts := options.FindOne()
	if len(q.Sort) > 0 {
		opts.SetSort(buildSort(q.Sort))
	}
	if q.Skip > 0 {
		opts.SetSkip(q.Skip)
	}
	err := s.db.Collection(coll).FindOne(ctx, buildFilter(q.Where), opts).Decode(out)
	return mapErr(err, "STORE_FIND_FAILED", coll)
}

func (s *Store) Find(ctx context.Context, coll string, q store.Query, out any) error {
	opts := options.Find()
	if len(q.Sort) > 0 {
		opts.SetSort(buildSort(q.Sort))
	}
	if q.Skip > 0 {
		opts.SetSkip(q.Skip)
	}
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}
	cur, err := s.db.Collection(coll).Find(ctx, buildFilter(q.Where), opts)
	if err != nil {
		return mapErr(err, "STORE_FIND_FAILED", coll)
	}
	return mapErr(cur.All(ctx, out), "STORE_FIND_FAILED", coll)
}

func (s *Store) InsertOne(ctx context.Context, coll string, doc any) error {
	_, err := s.db.Collection(coll).InsertOne(ctx, doc)
	return mapErr(err, "STORE_INSERT_FAILED", coll)
}

func (s *Store) InsertMany(ctx context.Context, coll string, docs []any) error {
	if len(docs) == 0 {
		return nil
	}
	_, err := s.db.Collection(coll).InsertMany(ctx, docs)
	return mapErr(err, "STORE_INSERT_FAILED", coll)
}

func (s *Store) UpdateOne(ctx context.Context, coll string, q store.Query, u store.Update) (store.UpdateResult, error) {
	if u.Empty() {
		return store.UpdateResult{}, errEmptyUpdate
	}
	res, err := s.db.Collection(coll).UpdateOne(ctx, buildFilter(q.Where), buildUpdate(u))
	if err != nil {
		return store.UpdateResult{}, mapErr(err, "STORE_UPDATE_FAILED", coll)
	}
	return store.UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

func (s *Store) UpdateMany(ctx context.Context, coll string, q store.Query, u store.Update) (store.UpdateResult, error) {
	if u.Empty() {
		return store.UpdateResult{}, errEmptyUpdate
	}
	res, err := s.db.Collection(coll).UpdateMany(ctx, buildFilter(q.Where), buildUpdate(u))
	if err != nil {
		return store.UpdateResult{}, mapErr(err, "STORE_UPDATE_FAILED", coll)
	}
	return store.UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

func (s *Store) FindOneAndUpdate(ctx context.Context, coll string, q store.Query, u store.Update, out any) error {
	if u.Empty() {
		return errEmptyUpdate
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	if len(q.Sort) > 0 {
		opts.SetSort(buildSort(q.Sort))
	}
	res := s.db.Collection(coll).FindOneAndUpdate(ctx, buildFilter(q.Where), buildUpdate(u), opts)
	if out == nil {
		return mapErr(res.Err(), "STORE_UPDATE_FAILED", coll)
	}
	return mapErr(res.Decode(out), "STORE_UPDATE_FAILED", coll)
}

func (s *Store) DeleteOne(ctx context.Context, coll string, q store.Query) (int64, error) {
	res, err := s.db.Collection(coll).DeleteOne(ctx, buildFilter(q.Where))
	if err != nil {
		return 0, mapErr(err, "STORE_DELETE_FAILED", coll)
	}
	return res.DeletedCount, nil
}

func (s *Store) DeleteMany(ctx context.Context, coll string, q store.Query) (int64, error) {
	res, err := s.db.Collection(coll).DeleteMany(ctx, buildFilter(q.Where))
	if err != nil {
		return 0, mapErr(err, "STORE_DELETE_FAILED", coll)
	}
	return res.DeletedCount, nil
}

func (s *Store) FindOneAndDelete(ctx context.Context, coll string, q store.Query, out any) error {
	opts := options.FindOneAndDelete()
	if len(q.Sort) > 0 {
		opts.SetSort(buildSort(q.Sort))
	}
	res := s.db.Collection(coll).FindOneAndDelete(ctx, buildFilter(q.Where), opts)
	if out == nil {
		return mapErr(res.Err(), "STORE_DELETE_FAILED", coll)
	}
	return mapErr(res.Decode(out), "STORE_DELETE_FAILED", coll)
}

func (s *Store) Count(ctx context.Context, coll string, q store.Query) (int64, error) {
	n, err := s.db.Collection(coll).CountDocuments(ctx, buildFilter(q.Where))
	if err != nil {
		return 0, mapErr(err, "STORE_COUNT_FAILED", coll)
	}
	return n, nil
}

var errEmptyUpdate = errors.New("mongostore: empty update")

func mapErr(err error, code, coll string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return store.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return oops.Code("STORE_DUPLICATE_KEY").
			With("collection", coll).
			With("cause", err.Error()).
			Wrap(store.ErrDuplicateKey)
	}
	return oops.Code(code).With("collection", coll).Wrap(err)
}

func buildFilter(conds []store.Cond) bson.D {
	switch len(conds) {
	case 0:
		return bson.D{}
	case 1:
		return bson.D{condElem(conds[0])}
	}
	clauses := make(bson.A, 0, len(conds))
	for _, c := range conds {
		clauses = append(clauses, bson.D{condElem(c)})
	}
	return bson.D{{Key: "$and", Value: clauses}}
}

func condElem(c store.Cond) bson.E {
	if c.Op == store.OpEq {
		return bson.E{Key: c.Field, Value: c.Value}
	}
	return bson.E{Key: c.Field, Value: bson.D{{Key: operator(c.Op), Value: c.Value}}}
}

func operator(op store.Op) string {
	switch op {
	case store.OpNe:
		return "$ne"
	case store.OpGt:
		return "$gt"
	case store.OpGte:
		return "$gte"
	case store.OpLt:
		return "$lt"
	case store.OpLte:
		return "$lte"
	}
	return "$eq"
}

func buildSort(keys []store.SortKey) bson.D {
	d := make(bson.D, 0, len(keys))
	for _, k := range keys {
		dir := 1
		if k.Desc {
			dir = -1
		}
		d = append(d, bson.E{Key: k.Field, Value: dir})
	}
	return d
}

func buildUpdate(u store.Update) bson.D {
	d := bson.D{}
	if len(u.Set) > 0 {
		d = append(d, bson.E{Key: "$set", Value: bson.M(u.Set)})
	}
	if len(u.Unset) > 0 {
		unset := bson.M{}
		for _, f := range u.Unset {
			unset[f] = ""
		}
		d = append(d, bson.E{Key: "$unset", Value: unset})
	}
	if len(u.Inc) > 0 {
		inc := bson.M{}
		for f, n := range u.Inc {
			inc[f] = n
		}
		d = append(d, bson.E{Key: "$inc", Value: inc})
	}
	return d
}

func (s *Store) String() string {
	return fmt.Sprintf("mongostore(%s)", s.db.Name())
}
