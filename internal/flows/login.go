package flows

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/havosec/authcore/jwt"
	"github.com/havosec/authcore/notify"
)

// LoginResult is returned on a successful login.
type LoginResult struct {
	Session SessionToken
	Profile Profile
}

// LockoutOutcome is the counter state after a recorded failure.
type LockoutOutcome struct {
	Attempts  int
	Locked    bool
	LockUntil time.Time
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	Shared

	// RequireScope restricts the login to identities whose role maps to the
	// scope. Empty accepts every role.
	RequireScope       jwt.Scope
	UpgradeHashOnLogin bool

	GetIdentityByEmail   func(context.Context, string) (IdentityRecord, error)
	IsLocked             func(lockUntil *time.Time) bool
	RecordFailure        func(context.Context, string) (LockoutOutcome, error)
	RecordSuccess        func(context.Context, string) error
	VerifyPassword       func(plaintext, hash string) (bool, error)
	PasswordNeedsUpgrade func(hash string) bool
	HashPassword         func(string) (string, error)
	ReplacePasswordHash  func(ctx context.Context, id, old, hash string) (bool, error)
	ScopeForRole         func(string) jwt.Scope
	IssueSession         func(uid, role string) (SessionToken, error)
}

// RunLogin authenticates email and password.
//
// Unknown emails and wrong passwords are indistinguishable to the caller.
// A locked identity is rejected before its password is checked and the
// attempt is not counted.
func RunLogin(ctx context.Context, email, password string, deps LoginDeps) (*LoginResult, error) {
	deps.normalize()
	if deps.GetIdentityByEmail == nil ||
		deps.IsLocked == nil ||
		deps.RecordFailure == nil ||
		deps.RecordSuccess == nil ||
		deps.VerifyPassword == nil ||
		deps.IssueSession == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if deps.ScopeForRole == nil {
		deps.ScopeForRole = func(string) jwt.Scope { return jwt.ScopeClient }
	}

	email = normalizeEmail(email)
	ip := deps.ClientIPFromContext(ctx)
	fail := func(userID string, err error, reason string) (*LoginResult, error) {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, userID, email, err, func() map[string]string {
			return map[string]string{
				"reason": reason,
				"scope":  string(deps.RequireScope),
			}
		})
		return nil, err
	}

	if email == "" || password == "" {
		return fail("", deps.Errors.Invalid("email and password are required"), "missing_fields")
	}

	ident, err := deps.GetIdentityByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, deps.Errors.IdentityNotFound) {
			return fail("", deps.Errors.InvalidCredentials, "identity_not_found")
		}
		return nil, deps.Errors.Internal(err)
	}

	if deps.RequireScope != "" && deps.ScopeForRole(ident.Role) != deps.RequireScope {
		return fail(ident.ID, deps.Errors.InvalidCredentials, "scope_mismatch")
	}

	if deps.IsLocked(ident.LockUntil) {
		deps.MetricInc(deps.Metrics.LoginLocked)
		deps.EmitAudit(ctx, deps.Events.LoginLocked, false, ident.ID, email, deps.Errors.AccountLocked, func() map[string]string {
			return map[string]string{
				"lock_until": ident.LockUntil.UTC().Format(time.RFC3339),
			}
		})
		return nil, deps.Errors.AccountLocked
	}

	ok, verr := deps.VerifyPassword(password, ident.PasswordHash)
	if verr != nil {
		deps.Warn("authcore: stored password hash could not be verified")
	}
	if verr != nil || !ok {
		outcome, err := deps.RecordFailure(ctx, ident.ID)
		if err != nil {
			return nil, deps.Errors.Internal(err)
		}
		deps.Notify(ctx, ident.ID, notify.TemplateLoginFailed, map[string]string{"ip": ip})
		if outcome.Locked {
			deps.MetricInc(deps.Metrics.AccountLocked)
			deps.EmitAudit(ctx, deps.Events.AccountLocked, true, ident.ID, email, nil, func() map[string]string {
				return map[string]string{
					"attempts":   strconv.Itoa(outcome.Attempts),
					"lock_until": outcome.LockUntil.UTC().Format(time.RFC3339),
				}
			})
			deps.Notify(ctx, ident.ID, notify.TemplateAccountLocked, map[string]string{
				"lock_until": outcome.LockUntil.UTC().Format("2006-01-02 15:04:05") + " UTC",
			})
		}
		return fail(ident.ID, deps.Errors.InvalidCredentials, "password_mismatch")
	}

	if !ident.IsActive {
		return fail(ident.ID, deps.Errors.AccountDeactivated, "deactivated")
	}

	if err := deps.RecordSuccess(ctx, ident.ID); err != nil {
		return nil, deps.Errors.Internal(err)
	}

	if deps.UpgradeHashOnLogin && deps.PasswordNeedsUpgrade != nil && deps.HashPassword != nil && deps.ReplacePasswordHash != nil {
		if deps.PasswordNeedsUpgrade(ident.PasswordHash) {
			if upgraded, err := deps.HashPassword(password); err == nil {
				if swapped, err := deps.ReplacePasswordHash(ctx, ident.ID, ident.PasswordHash, upgraded); err != nil {
					deps.Warn("authcore: password hash upgrade update failed")
				} else if swapped {
					deps.MetricInc(deps.Metrics.PasswordHashUpgrade)
				}
			} else {
				deps.Warn("authcore: password hash upgrade generation failed")
			}
		}
	}
	password = ""

	session, err := deps.IssueSession(ident.ID, ident.Role)
	if err != nil {
		return nil, deps.Errors.Internal(err)
	}

	now := deps.Now().UTC()
	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.MetricInc(deps.Metrics.SessionIssued)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, ident.ID, email, nil, func() map[string]string {
		return map[string]string{
			"scope": string(session.Scope),
		}
	})
	deps.Notify(ctx, ident.ID, notify.TemplateLoginSuccess, map[string]string{"ip": ip})

	profile := ProfileOf(ident)
	profile.LastLogin = &now
	return &LoginResult{Session: session, Profile: profile}, nil
}
