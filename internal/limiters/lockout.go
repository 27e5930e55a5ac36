package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/havosec/authcore/internal/stores"
	"github.com/havosec/authcore/store"
)

// LockoutConfig holds the lockout policy.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Duration  time.Duration
}

var (
	// ErrLockoutUnavailable indicates the identity store could not be updated.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
	// ErrLockoutSubjectMissing indicates the identity vanished between lookup and update.
	ErrLockoutSubjectMissing = errors.New("lockout subject not found")
)

// FailureResult reports the counter after RecordFailure.
type FailureResult struct {
	Attempts  int
	Locked    bool
	LockUntil time.Time
}

// LockoutGuard moves an identity through Normal, Accumulating, and Locked.
type LockoutGuard struct {
	db     store.Store
	coll   string
	config LockoutConfig
	now    func() time.Time
}

// NewLockoutGuard returns a guard over the identity documents in coll.
func NewLockoutGuard(db store.Store, coll string, cfg LockoutConfig, now func() time.Time) *LockoutGuard {
	if now == nil {
		now = time.Now
	}
	return &LockoutGuard{db: db, coll: coll, config: cfg, now: now}
}

// IsLocked is purely time based: a lock lapses on its own once lockUntil passes.
func (g *LockoutGuard) IsLocked(lockUntil *time.Time) bool {
	if g == nil || !g.config.Enabled || lockUntil == nil {
		return false
	}
	return lockUntil.After(g.now())
}

// RecordFailure atomically increments the counter. Once the counter is at or
// above the threshold the identity is locked for the configured duration.
//
// The increment and the lock are two updates. A concurrent success between
// them can leave a lock without a counter; the next success clears it.
func (g *LockoutGuard) RecordFailure(ctx context.Context, identityID string) (FailureResult, error) {
	if g == nil || !g.config.Enabled || identityID == "" {
		return FailureResult{}, nil
	}
	now := g.now().UTC()

	var counters struct {
		Attempts int `bson:"loginAttempts"`
	}
	err := g.db.FindOneAndUpdate(ctx, g.coll, byID(identityID), store.Update{
		Inc: map[string]int64{stores.FieldLoginAttempts: 1},
		Set: map[string]any{stores.FieldUpdatedAt: now},
	}, &counters)
	if err != nil {
		return FailureResult{}, wrap(err)
	}

	res := FailureResult{Attempts: counters.Attempts}
	if counters.Attempts < g.config.Threshold {
		return res, nil
	}

	res.Locked = true
	res.LockUntil = now.Add(g.config.Duration)
	if _, err := g.db.UpdateOne(ctx, g.coll, byID(identityID), store.Update{
		Set: map[string]any{stores.FieldLockUntil: res.LockUntil},
	}); err != nil {
		return res, wrap(err)
	}
	return res, nil
}

// RecordSuccess clears the counter and lock and stamps lastLogin in one update.
func (g *LockoutGuard) RecordSuccess(ctx context.Context, identityID string) error {
	if g == nil || identityID == "" {
		return nil
	}
	now := g.now().UTC()
	res, err := g.db.UpdateOne(ctx, g.coll, byID(identityID), store.Update{
		Set: map[string]any{
			stores.FieldLoginAttempts: 0,
			stores.FieldLastLogin:     now,
			stores.FieldUpdatedAt:     now,
		},
		Unset: []string{stores.FieldLockUntil},
	})
	if err != nil {
		return wrap(err)
	}
	if res.Matched == 0 {
		return ErrLockoutSubjectMissing
	}
	return nil
}

// Unlock clears the counter and lock without touching lastLogin.
func (g *LockoutGuard) Unlock(ctx context.Context, identityID string) error {
	if g == nil || identityID == "" {
		return nil
	}
	res, err := g.db.UpdateOne(ctx, g.coll, byID(identityID), store.Update{
		Set:   map[string]any{stores.FieldLoginAttempts: 0, stores.FieldUpdatedAt: g.now().UTC()},
		Unset: []string{stores.FieldLockUntil},
	})
	if err != nil {
		return wrap(err)
	}
	if res.Matched == 0 {
		return ErrLockoutSubjectMissing
	}
	return nil
}

func byID(id string) store.Query {
	return store.Where(store.Eq("_id", id))
}

func wrap(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrLockoutSubjectMissing
	}
	return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
}
