package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/havosec/authcore/internal"
	"github.com/havosec/authcore/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Purpose selects which kind of ephemeral token a record represents.
type Purpose string

const (
	PurposeReset  Purpose = "reset"
	PurposeVerify Purpose = "verify"
)

var (
	ErrTokenNotFound = errors.New("ephemeral token not found")
	ErrTokenExpired  = errors.New("ephemeral token expired")
)

// EphemeralRecord is the persisted form of an ephemeral token.
type EphemeralRecord struct {
	ID        string    `bson:"_id"`
	TokenHash string    `bson:"tokenHash"`
	Email     string    `bson:"email"`
	Purpose   Purpose   `bson:"purpose"`
	ExpiresAt time.Time `bson:"expiresAt"`
	CreatedAt time.Time `bson:"createdAt"`
}

// EphemeralStore issues and redeems single-use tokens. At most one live
// record exists per (email, purpose).
type EphemeralStore struct {
	db  store.Store
	now func() time.Time
}

// NewEphemeralStore returns a store using now as its clock (time.Now when nil).
func NewEphemeralStore(db store.Store, now func() time.Time) *EphemeralStore {
	if now == nil {
		now = time.Now
	}
	return &EphemeralStore{db: db, now: now}
}

func collectionFor(purpose Purpose) (string, error) {
	switch purpose {
	case PurposeReset:
		return store.CollPasswordResets, nil
	case PurposeVerify:
		return store.CollEmailVerifications, nil
	}
	return "", fmt.Errorf("unknown token purpose %q", purpose)
}

// Issue invalidates every earlier token for (email, purpose) and stores a new one.
func (s *EphemeralStore) Issue(ctx context.Context, email string, purpose Purpose, ttl time.Duration) (string, time.Time, error) {
	coll, err := collectionFor(purpose)
	if err != nil {
		return "", time.Time{}, err
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ephemeral token ttl must be positive")
	}
	email = NormalizeEmail(email)
	owner := store.Where(store.Eq(FieldEmail, email), store.Eq("purpose", purpose))

	if _, err := s.db.DeleteMany(ctx, coll, owner); err != nil {
		return "", time.Time{}, err
	}

	token, err := internal.NewToken()
	if err != nil {
		return "", time.Time{}, err
	}
	now := s.now().UTC()
	rec := EphemeralRecord{
		ID:        primitive.NewObjectIDFromTimestamp(now).Hex(),
		TokenHash: internal.HashToken(token),
		Email:     email,
		Purpose:   purpose,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := s.db.InsertOne(ctx, coll, rec); err != nil {
		return "", time.Time{}, err
	}

	// A concurrent Issue may have inserted between our delete and insert.
	// Ids grow with time, so sweeping older ids keeps only the newest.
	older := owner
	older.Where = append(older.Where, store.Lt("_id", rec.ID))
	if _, err := s.db.DeleteMany(ctx, coll, older); err != nil {
		return "", time.Time{}, err
	}

	return token, rec.ExpiresAt, nil
}

// Redeem consumes token. Only the first of any concurrent callers gets the
// email; the rest see ErrTokenNotFound. Expired records are removed by the
// same call and reported as ErrTokenExpired.
func (s *EphemeralStore) Redeem(ctx context.Context, token string, purpose Purpose) (string, error) {
	coll, err := collectionFor(purpose)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrTokenNotFound
	}

	var rec EphemeralRecord
	err = s.db.FindOneAndDelete(ctx, coll, s.byToken(token, purpose), &rec)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", err
	}
	if s.expired(&rec) {
		return "", ErrTokenExpired
	}
	return rec.Email, nil
}

// Peek reports whether token is currently valid without consuming it. An
// expired record found here is deleted.
func (s *EphemeralStore) Peek(ctx context.Context, token string, purpose Purpose) (*EphemeralRecord, error) {
	coll, err := collectionFor(purpose)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrTokenNotFound
	}

	var rec EphemeralRecord
	err = s.db.FindOne(ctx, coll, s.byToken(token, purpose), &rec)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	if s.expired(&rec) {
		if _, err := s.db.DeleteOne(ctx, coll, store.Where(store.Eq("_id", rec.ID))); err != nil {
			return nil, err
		}
		return nil, ErrTokenExpired
	}
	return &rec, nil
}

// Revoke deletes every live token for (email, purpose).
func (s *EphemeralStore) Revoke(ctx context.Context, email string, purpose Purpose) (int64, error) {
	coll, err := collectionFor(purpose)
	if err != nil {
		return 0, err
	}
	return s.db.DeleteMany(ctx, coll, store.Where(store.Eq(FieldEmail, NormalizeEmail(email)), store.Eq("purpose", purpose)))
}

func (s *EphemeralStore) byToken(token string, purpose Purpose) store.Query {
	return store.Where(store.Eq("tokenHash", internal.HashToken(token)), store.Eq("purpose", purpose))
}

func (s *EphemeralStore) expired(rec *EphemeralRecord) bool {
	return !s.now().Before(rec.ExpiresAt)
}
