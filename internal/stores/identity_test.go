package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/havosec/authcore/store"
	"github.com/havosec/authcore/store/memstore"
)

func TestIdentityCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	ids := NewIdentityStore(memstore.New(memstore.WithUniqueIndex(store.CollIdentities, FieldEmail)))

	ident := &Identity{Email: " Alice@Example.COM ", Role: "viewer", IsActive: true, CreatedAt: time.Now()}
	if err := ids.Create(ctx, ident); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ident.ID == "" || ident.Email != "alice@example.com" {
		t.Fatalf("unexpected identity after create: %+v", ident)
	}

	got, err := ids.ByEmail(ctx, "ALICE@example.com")
	if err != nil {
		t.Fatalf("ByEmail: %v", err)
	}
	if got.ID != ident.ID {
		t.Fatalf("ByEmail id = %q, want %q", got.ID, ident.ID)
	}

	if _, err := ids.ByID(ctx, "missing"); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("ByID missing = %v, want ErrIdentityNotFound", err)
	}

	dup := &Identity{Email: "alice@example.com"}
	if err := ids.Create(ctx, dup); !errors.Is(err, ErrIdentityExists) {
		t.Fatalf("duplicate Create = %v, want ErrIdentityExists", err)
	}
}

func TestIdentityUpdates(t *testing.T) {
	ctx := context.Background()
	ids := NewIdentityStore(memstore.New())
	now := time.Now().UTC()

	ident := &Identity{Email: "a@x.com", PasswordHash: "old", IsActive: true}
	if err := ids.Create(ctx, ident); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := ids.MarkEmailVerified(ctx, "A@x.com", now); err != nil {
		t.Fatalf("MarkEmailVerified: %v", err)
	}
	swapped, err := ids.ReplacePasswordHash(ctx, ident.ID, "stale", "new", now)
	if err != nil || swapped {
		t.Fatalf("ReplacePasswordHash with stale old = %v %v, want false nil", swapped, err)
	}
	swapped, err = ids.ReplacePasswordHash(ctx, ident.ID, "old", "new", now)
	if err != nil || !swapped {
		t.Fatalf("ReplacePasswordHash = %v %v, want true nil", swapped, err)
	}

	got, _ := ids.ByID(ctx, ident.ID)
	if !got.EmailVerified || got.EmailVerifiedAt == nil || got.PasswordHash != "new" {
		t.Fatalf("unexpected identity: %+v", got)
	}

	if err := ids.SetPasswordHash(ctx, "nobody@x.com", "h", now); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("SetPasswordHash missing = %v, want ErrIdentityNotFound", err)
	}
	if err := ids.SetActive(ctx, ident.ID, false, now); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	got, _ = ids.ByID(ctx, ident.ID)
	if got.IsActive {
		t.Fatal("expected identity to be deactivated")
	}
}
