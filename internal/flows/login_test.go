package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/havosec/authcore/jwt"
	"github.com/havosec/authcore/notify"
)

var (
	errNotReady   = errors.New("not ready")
	errBadCreds   = errors.New("bad creds")
	errLocked     = errors.New("locked")
	errInactive   = errors.New("inactive")
	errNoIdentity = errors.New("no identity")
	errExpired    = errors.New("expired")
	errInvalid    = errors.New("invalid")
	errNotFound   = errors.New("not found")
)

func testErrors() Errors {
	return Errors{
		EngineNotReady:     errNotReady,
		InvalidCredentials: errBadCreds,
		AccountLocked:      errLocked,
		AccountDeactivated: errInactive,
		IdentityNotFound:   errNoIdentity,
		TokenExpired:       errExpired,
		TokenInvalid:       errInvalid,
		TokenNotFound:      errNotFound,
	}
}

type loginFixture struct {
	ident     IdentityRecord
	failures  int
	successes int
	replaced  string
	notified  []notify.Template
	verified  int
}

func (f *loginFixture) deps(now time.Time) LoginDeps {
	return LoginDeps{
		Shared: Shared{
			Now:    func() time.Time { return now },
			Errors: testErrors(),
			Notify: func(_ context.Context, _ string, t notify.Template, _ map[string]string) {
				f.notified = append(f.notified, t)
			},
		},
		UpgradeHashOnLogin: true,
		GetIdentityByEmail: func(_ context.Context, email string) (IdentityRecord, error) {
			if email != f.ident.Email {
				return IdentityRecord{}, errNoIdentity
			}
			return f.ident, nil
		},
		IsLocked: func(lockUntil *time.Time) bool {
			return lockUntil != nil && lockUntil.After(now)
		},
		RecordFailure: func(context.Context, string) (LockoutOutcome, error) {
			f.failures++
			return LockoutOutcome{Attempts: f.failures, Locked: f.failures >= 5}, nil
		},
		RecordSuccess: func(context.Context, string) error {
			f.successes++
			return nil
		},
		VerifyPassword: func(plaintext, hash string) (bool, error) {
			f.verified++
			return plaintext == "correct-horse" && hash != "", nil
		},
		PasswordNeedsUpgrade: func(hash string) bool { return hash == "legacy" },
		HashPassword:         func(string) (string, error) { return "fresh", nil },
		ReplacePasswordHash: func(_ context.Context, _, old, hash string) (bool, error) {
			f.replaced = old + "->" + hash
			return true, nil
		},
		ScopeForRole: func(role string) jwt.Scope {
			if role == "admin" {
				return jwt.ScopeAdmin
			}
			return jwt.ScopeClient
		},
		IssueSession: func(uid, role string) (SessionToken, error) {
			return SessionToken{Token: "tok-" + uid, Scope: jwt.ScopeClient}, nil
		},
	}
}

func newLoginFixture() *loginFixture {
	return &loginFixture{ident: IdentityRecord{
		ID:           "u1",
		Email:        "a@x.com",
		PasswordHash: "legacy",
		Role:         "viewer",
		IsActive:     true,
	}}
}

func TestRunLoginSuccessUpgradesHash(t *testing.T) {
	f := newLoginFixture()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	res, err := RunLogin(context.Background(), " A@X.com ", "correct-horse", f.deps(now))
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if res.Session.Token != "tok-u1" {
		t.Fatalf("unexpected token %q", res.Session.Token)
	}
	if res.Profile.LastLogin == nil || !res.Profile.LastLogin.Equal(now) {
		t.Fatalf("expected lastLogin %v, got %v", now, res.Profile.LastLogin)
	}
	if f.successes != 1 {
		t.Fatalf("expected one recorded success, got %d", f.successes)
	}
	if f.replaced != "legacy->fresh" {
		t.Fatalf("expected hash upgrade, got %q", f.replaced)
	}
	if len(f.notified) != 1 || f.notified[0] != notify.TemplateLoginSuccess {
		t.Fatalf("unexpected notifications %v", f.notified)
	}
}

func TestRunLoginUnknownEmailIsInvalidCredentials(t *testing.T) {
	f := newLoginFixture()
	_, err := RunLogin(context.Background(), "nobody@x.com", "correct-horse", f.deps(time.Now()))
	if !errors.Is(err, errBadCreds) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if f.failures != 0 {
		t.Fatalf("unknown email must not touch counters, got %d", f.failures)
	}
}

func TestRunLoginLockedShortCircuits(t *testing.T) {
	f := newLoginFixture()
	now := time.Now()
	until := now.Add(time.Hour)
	f.ident.LockUntil = &until

	_, err := RunLogin(context.Background(), "a@x.com", "correct-horse", f.deps(now))
	if !errors.Is(err, errLocked) {
		t.Fatalf("expected locked, got %v", err)
	}
	if f.verified != 0 || f.failures != 0 {
		t.Fatalf("locked login must skip verification and counting: verified=%d failures=%d", f.verified, f.failures)
	}
}

func TestRunLoginFailureNotifiesAndLocks(t *testing.T) {
	f := newLoginFixture()
	deps := f.deps(time.Now())

	for i := 0; i < 5; i++ {
		if _, err := RunLogin(context.Background(), "a@x.com", "wrong", deps); !errors.Is(err, errBadCreds) {
			t.Fatalf("attempt %d: expected invalid credentials, got %v", i+1, err)
		}
	}
	if f.failures != 5 {
		t.Fatalf("expected 5 failures, got %d", f.failures)
	}
	last := f.notified[len(f.notified)-1]
	if last != notify.TemplateAccountLocked {
		t.Fatalf("expected lock notification last, got %v", f.notified)
	}
}

func TestRunLoginDeactivatedAfterPassword(t *testing.T) {
	f := newLoginFixture()
	f.ident.IsActive = false

	if _, err := RunLogin(context.Background(), "a@x.com", "wrong", f.deps(time.Now())); !errors.Is(err, errBadCreds) {
		t.Fatalf("wrong password on deactivated account should read as invalid credentials, got %v", err)
	}
	if _, err := RunLogin(context.Background(), "a@x.com", "correct-horse", f.deps(time.Now())); !errors.Is(err, errInactive) {
		t.Fatalf("expected deactivated, got %v", err)
	}
	if f.successes != 0 {
		t.Fatal("deactivated login must not record success")
	}
}

func TestRunLoginRequireScope(t *testing.T) {
	f := newLoginFixture()
	deps := f.deps(time.Now())
	deps.RequireScope = jwt.ScopeAdmin

	if _, err := RunLogin(context.Background(), "a@x.com", "correct-horse", deps); !errors.Is(err, errBadCreds) {
		t.Fatalf("expected invalid credentials for non-admin role, got %v", err)
	}
	if f.failures != 0 || f.verified != 0 {
		t.Fatal("scope mismatch must not reach verification")
	}
}

func TestRunLoginEngineNotReady(t *testing.T) {
	_, err := RunLogin(context.Background(), "a@x.com", "pw", LoginDeps{Shared: Shared{Errors: testErrors()}})
	if !errors.Is(err, errNotReady) {
		t.Fatalf("expected engine not ready, got %v", err)
	}
}

func TestRunResetPasswordRejectsShortPasswordBeforeRedeem(t *testing.T) {
	redeemed := 0
	deps := PasswordResetDeps{
		Shared:          Shared{Errors: testErrors()},
		HashPassword:    func(string) (string, error) { return "h", nil },
		SetPasswordHash: func(context.Context, string, string) error { return nil },
		RedeemEphemeral: func(context.Context, string) (string, error) {
			redeemed++
			return "a@x.com", nil
		},
	}
	if err := RunResetPassword(context.Background(), "tok", "short", deps); err == nil {
		t.Fatal("expected short password to be rejected")
	}
	if redeemed != 0 {
		t.Fatal("short password must not consume the token")
	}
	if err := RunResetPassword(context.Background(), "tok", "long-enough-pw", deps); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if redeemed != 1 {
		t.Fatalf("expected one redemption, got %d", redeemed)
	}
}

func TestRunValidateMapsTokenErrors(t *testing.T) {
	deps := ValidateDeps{
		Shared: Shared{Errors: testErrors()},
		ParseToken: func(tok string) (*jwt.Claims, error) {
			switch tok {
			case "expired":
				return nil, jwt.ErrExpired
			case "admin":
				return &jwt.Claims{UID: "u1", Scope: jwt.ScopeAdmin}, nil
			}
			return nil, jwt.ErrMalformed
		},
		RequireScope: jwt.ScopeClient,
	}
	if _, err := RunValidate(context.Background(), "expired", deps); !errors.Is(err, errExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	if _, err := RunValidate(context.Background(), "junk", deps); !errors.Is(err, errInvalid) {
		t.Fatalf("expected invalid, got %v", err)
	}
	if _, err := RunValidate(context.Background(), "admin", deps); !errors.Is(err, errInvalid) {
		t.Fatalf("expected scope mismatch to be invalid, got %v", err)
	}
}
