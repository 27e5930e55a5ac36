package authcore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/havosec/authcore/internal/flows"
	"github.com/havosec/authcore/internal/stores"
	"github.com/havosec/authcore/jwt"
)

// Register creates a client identity, signs a session for it, issues an
// email verification token, and publishes a welcome notification.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	return flows.RunRegister(ctx, req, flows.RegisterDeps{
		Shared:            e.shared(),
		MinPasswordLength: e.config.Password.MinLength,
		DefaultRole:       e.config.Registration.DefaultRole,
		VerificationTTL:   e.config.EmailVerification.TTL,
		VerificationPath:  e.config.EmailVerification.LinkPath,
		ValidateStruct:    e.validate.Struct,
		HashPassword:      e.hasher.Hash,
		CreateIdentity:    e.createIdentity,
		IssueEphemeral:    e.issueEphemeral(stores.PurposeVerify),
		IssueSession:      e.issueSession,
	})
}

func (e *Engine) createIdentity(ctx context.Context, rec *flows.IdentityRecord) error {
	if _, err := e.identities.ByEmail(ctx, rec.Email); err == nil {
		return ErrEmailExists
	} else if !errors.Is(err, stores.ErrIdentityNotFound) {
		return err
	}

	ident := &stores.Identity{
		Email:           rec.Email,
		PasswordHash:    rec.PasswordHash,
		Role:            rec.Role,
		FirstName:       rec.FirstName,
		LastName:        rec.LastName,
		Company:         rec.Company,
		IsActive:        rec.IsActive,
		EmailVerified:   rec.EmailVerified,
		EmailVerifiedAt: rec.EmailVerifiedAt,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.CreatedAt,
	}
	if err := e.identities.Create(ctx, ident); err != nil {
		return mapIdentityErr(err)
	}
	rec.ID = ident.ID
	rec.Email = ident.Email
	return nil
}

// Login authenticates any identity. The session scope follows the role.
func (e *Engine) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	return flows.RunLogin(ctx, email, password, e.loginDeps(""))
}

// AdminLogin authenticates identities whose role maps to the admin scope.
// Any other identity gets ErrInvalidCredentials and no failure is counted.
func (e *Engine) AdminLogin(ctx context.Context, email, password string) (*LoginResult, error) {
	return flows.RunLogin(ctx, email, password, e.loginDeps(jwt.ScopeAdmin))
}

func (e *Engine) loginDeps(scope jwt.Scope) flows.LoginDeps {
	return flows.LoginDeps{
		Shared:             e.shared(),
		RequireScope:       scope,
		UpgradeHashOnLogin: e.config.Password.UpgradeOnLogin,
		GetIdentityByEmail: e.identityByEmail,
		IsLocked:           e.lockout.IsLocked,
		RecordFailure: func(ctx context.Context, id string) (flows.LockoutOutcome, error) {
			res, err := e.lockout.RecordFailure(ctx, id)
			return flows.LockoutOutcome{
				Attempts:  res.Attempts,
				Locked:    res.Locked,
				LockUntil: res.LockUntil,
			}, err
		},
		RecordSuccess:        e.lockout.RecordSuccess,
		VerifyPassword:       e.hasher.Verify,
		PasswordNeedsUpgrade: e.hasher.NeedsUpgrade,
		HashPassword:         e.hasher.Hash,
		ReplacePasswordHash: func(ctx context.Context, id, old, hash string) (bool, error) {
			return e.identities.ReplacePasswordHash(ctx, id, old, hash, e.now().UTC())
		},
		ScopeForRole: e.jwtManager.ScopeFor,
		IssueSession: e.issueSession,
	}
}

// Validate checks a session token of either scope. With
// Session.VerifyIdentity it also rejects tokens of deleted or deactivated
// identities.
func (e *Engine) Validate(ctx context.Context, token string) (*Claims, error) {
	return e.ValidateScope(ctx, token, "")
}

// ValidateScope is Validate restricted to one scope. An empty scope accepts both.
func (e *Engine) ValidateScope(ctx context.Context, token string, scope jwt.Scope) (*Claims, error) {
	start := time.Now()
	claims, err := flows.RunValidate(ctx, token, e.validateDeps(scope))
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}
	return claims, err
}

// Me returns the profile behind a session token.
func (e *Engine) Me(ctx context.Context, token string) (*Profile, error) {
	return e.MeScope(ctx, token, "")
}

// MeScope is Me restricted to one scope.
func (e *Engine) MeScope(ctx context.Context, token string, scope jwt.Scope) (*Profile, error) {
	return flows.RunMe(ctx, token, e.validateDeps(scope))
}

func (e *Engine) validateDeps(scope jwt.Scope) flows.ValidateDeps {
	return flows.ValidateDeps{
		Shared:          e.shared(),
		RequireScope:    scope,
		VerifyIdentity:  e.config.Session.VerifyIdentity,
		ParseToken:      e.jwtManager.Validate,
		GetIdentityByID: e.identityByID,
	}
}

// CreateIdentity inserts an operator-provisioned identity, for example the
// first admin. It bypasses self-service defaults: the role is taken as given.
func (e *Engine) CreateIdentity(ctx context.Context, seed SeedIdentity) (*Profile, error) {
	seed.Email = stores.NormalizeEmail(seed.Email)
	if seed.Email == "" || seed.Password == "" || strings.TrimSpace(seed.Role) == "" {
		return nil, validationError("email, password and role are required")
	}
	if err := e.validate.Var(seed.Email, "email"); err != nil {
		return nil, validationError("invalid email")
	}
	if len(seed.Password) < e.config.Password.MinLength {
		return nil, validationError("password too short")
	}

	hash, err := e.hasher.Hash(seed.Password)
	if err != nil {
		return nil, validationError("password cannot be used")
	}

	now := e.now().UTC()
	rec := &flows.IdentityRecord{
		Email:        seed.Email,
		PasswordHash: hash,
		Role:         seed.Role,
		FirstName:    seed.FirstName,
		LastName:     seed.LastName,
		Company:      seed.Company,
		IsActive:     true,
		CreatedAt:    now,
	}
	if seed.EmailVerified {
		rec.EmailVerified = true
		rec.EmailVerifiedAt = &now
	}
	if err := e.createIdentity(ctx, rec); err != nil {
		if errors.Is(err, ErrEmailExists) {
			return nil, ErrEmailExists
		}
		return nil, internalError(err)
	}
	e.emitAudit(ctx, AuditRegister, true, rec.ID, rec.Email, nil, func() map[string]string {
		return map[string]string{"role": rec.Role, "source": "operator"}
	})
	profile := flows.ProfileOf(*rec)
	return &profile, nil
}

// SetIdentityActive deactivates or reactivates the identity registered under
// email. Deactivated identities cannot log in.
func (e *Engine) SetIdentityActive(ctx context.Context, email string, active bool) error {
	ident, err := e.identities.ByEmail(ctx, email)
	if err != nil {
		return lookupError(err)
	}
	if err := e.identities.SetActive(ctx, ident.ID, active, e.now().UTC()); err != nil {
		return lookupError(err)
	}
	return nil
}

// IdentityStatus reports the lockout counters of the identity under email.
func (e *Engine) IdentityStatus(ctx context.Context, email string) (*IdentityStatus, error) {
	ident, err := e.identities.ByEmail(ctx, email)
	if err != nil {
		return nil, lookupError(err)
	}
	return &IdentityStatus{
		Profile:       flows.ProfileOf(toRecord(ident)),
		IsActive:      ident.IsActive,
		LoginAttempts: ident.LoginAttempts,
		LockUntil:     ident.LockUntil,
	}, nil
}

func lookupError(err error) error {
	if errors.Is(err, stores.ErrIdentityNotFound) {
		return ErrIdentityNotFound
	}
	return internalError(err)
}
