package flows

import (
	"context"
	"errors"
	"time"

	"github.com/havosec/authcore/notify"
)

// RegisterRequest is the self-service signup input.
type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required"`
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName" validate:"required,max=100"`
	Company   string `json:"company" validate:"required,max=200"`
}

// RegisterResult carries the new session and, for operator convenience, the
// email verification token.
type RegisterResult struct {
	Session           SessionToken
	Profile           Profile
	VerificationToken string
	VerificationLink  string
}

// RegisterDeps captures registration dependencies.
type RegisterDeps struct {
	Shared

	MinPasswordLength int
	DefaultRole       string
	VerificationTTL   time.Duration
	VerificationPath  string

	ValidateStruct func(any) error
	HashPassword   func(string) (string, error)
	CreateIdentity func(context.Context, *IdentityRecord) error
	IssueEphemeral func(ctx context.Context, email string, ttl time.Duration) (string, time.Time, error)
	IssueSession   func(uid, role string) (SessionToken, error)
}

// RunRegister creates a client identity with zeroed lockout counters, signs
// a session for it, and issues an email verification token.
func RunRegister(ctx context.Context, req RegisterRequest, deps RegisterDeps) (*RegisterResult, error) {
	deps.normalize()
	if deps.HashPassword == nil ||
		deps.CreateIdentity == nil ||
		deps.IssueSession == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if deps.MinPasswordLength <= 0 {
		deps.MinPasswordLength = 8
	}
	if deps.DefaultRole == "" {
		deps.DefaultRole = "viewer"
	}

	req.Email = normalizeEmail(req.Email)
	fail := func(err error, reason string) (*RegisterResult, error) {
		deps.MetricInc(deps.Metrics.RegisterFailure)
		deps.EmitAudit(ctx, deps.Events.Register, false, "", req.Email, err, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return nil, err
	}

	if req.Email == "" || req.Password == "" || req.FirstName == "" || req.LastName == "" || req.Company == "" {
		return fail(deps.Errors.Invalid("all fields are required"), "missing_fields")
	}
	if deps.ValidateStruct != nil {
		if err := deps.ValidateStruct(req); err != nil {
			return fail(deps.Errors.Invalid("invalid registration request"), "invalid_fields")
		}
	}
	if len(req.Password) < deps.MinPasswordLength {
		return fail(deps.Errors.Invalid(minLengthMessage(deps.MinPasswordLength)), "password_policy")
	}

	hash, err := deps.HashPassword(req.Password)
	if err != nil {
		return fail(deps.Errors.Invalid("password cannot be used"), "password_hash")
	}
	req.Password = ""

	now := deps.Now().UTC()
	rec := &IdentityRecord{
		Email:        req.Email,
		PasswordHash: hash,
		Role:         deps.DefaultRole,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Company:      req.Company,
		IsActive:     true,
		CreatedAt:    now,
	}
	if err := deps.CreateIdentity(ctx, rec); err != nil {
		if errors.Is(err, deps.Errors.EmailExists) {
			return fail(deps.Errors.EmailExists, "email_exists")
		}
		return nil, deps.Errors.Internal(err)
	}

	session, err := deps.IssueSession(rec.ID, rec.Role)
	if err != nil {
		return nil, deps.Errors.Internal(err)
	}

	res := &RegisterResult{Session: session, Profile: ProfileOf(*rec)}
	if deps.IssueEphemeral != nil {
		token, _, err := deps.IssueEphemeral(ctx, rec.Email, deps.VerificationTTL)
		if err != nil {
			deps.Warn("authcore: verification token issue failed after registration")
		} else {
			res.VerificationToken = token
			res.VerificationLink = deps.VerificationPath + token
		}
	}

	deps.MetricInc(deps.Metrics.RegisterSuccess)
	deps.MetricInc(deps.Metrics.SessionIssued)
	deps.EmitAudit(ctx, deps.Events.Register, true, rec.ID, rec.Email, nil, func() map[string]string {
		return map[string]string{"role": rec.Role}
	})
	deps.Notify(ctx, rec.ID, notify.TemplateWelcome, nil)
	return res, nil
}
