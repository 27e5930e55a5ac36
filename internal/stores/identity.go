package stores

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/havosec/authcore/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrIdentityNotFound = errors.New("identity not found")
	ErrIdentityExists   = errors.New("identity already exists")
)

// Identity field names, shared with the lockout guard.
const (
	FieldEmail           = "email"
	FieldPasswordHash    = "passwordHash"
	FieldIsActive        = "isActive"
	FieldEmailVerified   = "emailVerified"
	FieldEmailVerifiedAt = "emailVerifiedAt"
	FieldLoginAttempts   = "loginAttempts"
	FieldLockUntil       = "lockUntil"
	FieldLastLogin       = "lastLogin"
	FieldUpdatedAt       = "updatedAt"
)

// Identity is a registered admin or client account.
type Identity struct {
	ID              string     `bson:"_id"`
	Email           string     `bson:"email"`
	PasswordHash    string     `bson:"passwordHash"`
	Role            string     `bson:"role"`
	FirstName       string     `bson:"firstName"`
	LastName        string     `bson:"lastName"`
	Company         string     `bson:"company,omitempty"`
	IsActive        bool       `bson:"isActive"`
	EmailVerified   bool       `bson:"emailVerified"`
	EmailVerifiedAt *time.Time `bson:"emailVerifiedAt,omitempty"`
	LoginAttempts   int        `bson:"loginAttempts"`
	LockUntil       *time.Time `bson:"lockUntil,omitempty"`
	LastLogin       *time.Time `bson:"lastLogin,omitempty"`
	CreatedAt       time.Time  `bson:"createdAt"`
	UpdatedAt       time.Time  `bson:"updatedAt"`
}

// NormalizeEmail is the case-insensitive key identities are stored under.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IdentityStore reads and writes the identities collection.
type IdentityStore struct {
	db store.Store
}

func NewIdentityStore(db store.Store) *IdentityStore {
	return &IdentityStore{db: db}
}

func (s *IdentityStore) ByEmail(ctx context.Context, email string) (*Identity, error) {
	return s.findOne(ctx, store.Eq(FieldEmail, NormalizeEmail(email)))
}

func (s *IdentityStore) ByID(ctx context.Context, id string) (*Identity, error) {
	return s.findOne(ctx, store.Eq("_id", id))
}

func (s *IdentityStore) findOne(ctx context.Context, cond store.Cond) (*Identity, error) {
	var out Identity
	if err := s.db.FindOne(ctx, store.CollIdentities, store.Where(cond), &out); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}
	return &out, nil
}

// Create inserts ident, assigning an id when empty. The email is normalized
// in place. A unique-index violation is reported as ErrIdentityExists.
func (s *IdentityStore) Create(ctx context.Context, ident *Identity) error {
	if ident.ID == "" {
		ident.ID = primitive.NewObjectID().Hex()
	}
	ident.Email = NormalizeEmail(ident.Email)
	if err := s.db.InsertOne(ctx, store.CollIdentities, ident); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return ErrIdentityExists
		}
		return err
	}
	return nil
}

// SetPasswordHash replaces the hash of the identity registered under email.
func (s *IdentityStore) SetPasswordHash(ctx context.Context, email, hash string, now time.Time) error {
	return s.updateByEmail(ctx, email, store.Update{Set: map[string]any{
		FieldPasswordHash: hash,
		FieldUpdatedAt:    now,
	}})
}

// ReplacePasswordHash swaps the hash only if it still equals old, so a
// concurrent reset is never overwritten by a login-time rehash.
func (s *IdentityStore) ReplacePasswordHash(ctx context.Context, id, old, hash string, now time.Time) (bool, error) {
	res, err := s.db.UpdateOne(ctx, store.CollIdentities,
		store.Where(store.Eq("_id", id), store.Eq(FieldPasswordHash, old)),
		store.Update{Set: map[string]any{FieldPasswordHash: hash, FieldUpdatedAt: now}},
	)
	if err != nil {
		return false, err
	}
	return res.Modified > 0, nil
}

// MarkEmailVerified sets the verified flag and timestamp.
func (s *IdentityStore) MarkEmailVerified(ctx context.Context, email string, now time.Time) error {
	return s.updateByEmail(ctx, email, store.Update{Set: map[string]any{
		FieldEmailVerified:   true,
		FieldEmailVerifiedAt: now,
		FieldUpdatedAt:       now,
	}})
}

// SetActive toggles the active flag.
func (s *IdentityStore) SetActive(ctx context.Context, id string, active bool, now time.Time) error {
	res, err := s.db.UpdateOne(ctx, store.CollIdentities, store.Where(store.Eq("_id", id)), store.Update{
		Set: map[string]any{FieldIsActive: active, FieldUpdatedAt: now},
	})
	if err != nil {
		return err
	}
	if res.Matched == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

func (s *IdentityStore) updateByEmail(ctx context.Context, email string, u store.Update) error {
	res, err := s.db.UpdateOne(ctx, store.CollIdentities, store.Where(store.Eq(FieldEmail, NormalizeEmail(email))), u)
	if err != nil {
		return err
	}
	if res.Matched == 0 {
		return ErrIdentityNotFound
	}
	return nil
}
