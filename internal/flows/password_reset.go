package flows

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/havosec/authcore/notify"
)

// ForgotPasswordMessage is returned whether or not the email is registered.
const ForgotPasswordMessage = "If an account exists with this email, a reset link has been sent"

// ResetTokenStatus reports a reset token that is still redeemable.
type ResetTokenStatus struct {
	Valid     bool      `json:"valid"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// TokenDelivery is handed to the host's delivery hook (mailer, outbox).
type TokenDelivery struct {
	Email     string
	Token     string
	Link      string
	ExpiresAt time.Time
}

// PasswordResetDeps captures forgot/reset password dependencies.
type PasswordResetDeps struct {
	Shared

	MinPasswordLength int
	ResetTTL          time.Duration
	ResetPath         string

	GetIdentityByEmail func(context.Context, string) (IdentityRecord, error)
	HashPassword       func(string) (string, error)
	SetPasswordHash    func(ctx context.Context, email, hash string) error

	IssueEphemeral  func(ctx context.Context, email string, ttl time.Duration) (string, time.Time, error)
	PeekEphemeral   func(ctx context.Context, token string) (email string, expiresAt time.Time, err error)
	RedeemEphemeral func(ctx context.Context, token string) (string, error)
	DeliverToken    func(context.Context, TokenDelivery) error
}

// RunForgotPassword issues a reset token when email belongs to an identity.
// The returned message never reveals whether it does.
func RunForgotPassword(ctx context.Context, email string, deps PasswordResetDeps) (string, error) {
	deps.normalize()
	if deps.GetIdentityByEmail == nil || deps.IssueEphemeral == nil {
		return "", deps.Errors.EngineNotReady
	}

	email = normalizeEmail(email)
	if email == "" {
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, "", "", nil, func() map[string]string {
			return map[string]string{"reason": "empty_email"}
		})
		return "", deps.Errors.Invalid("email is required")
	}

	ident, err := deps.GetIdentityByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, deps.Errors.IdentityNotFound) {
			return "", deps.Errors.Internal(err)
		}
		deps.MetricInc(deps.Metrics.PasswordResetRequest)
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, true, "", email, nil, func() map[string]string {
			return map[string]string{"enumeration_safe": "true"}
		})
		return ForgotPasswordMessage, nil
	}

	token, expiresAt, err := deps.IssueEphemeral(ctx, ident.Email, deps.ResetTTL)
	if err != nil {
		return "", deps.Errors.Internal(err)
	}
	if deps.DeliverToken != nil {
		if err := deps.DeliverToken(ctx, TokenDelivery{
			Email:     ident.Email,
			Token:     token,
			Link:      deps.ResetPath + token,
			ExpiresAt: expiresAt,
		}); err != nil {
			deps.Warn("authcore: password reset token delivery failed")
		}
	}

	deps.MetricInc(deps.Metrics.PasswordResetRequest)
	deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, true, ident.ID, ident.Email, nil, nil)
	return ForgotPasswordMessage, nil
}

// RunVerifyResetToken reports whether token can still be redeemed without
// consuming it.
func RunVerifyResetToken(ctx context.Context, token string, deps PasswordResetDeps) (*ResetTokenStatus, error) {
	deps.normalize()
	if deps.PeekEphemeral == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if token == "" {
		return nil, deps.Errors.Invalid("token is required")
	}

	email, expiresAt, err := deps.PeekEphemeral(ctx, token)
	if err != nil {
		return nil, tokenFailure(deps.Shared, err)
	}
	return &ResetTokenStatus{Valid: true, Email: email, ExpiresAt: expiresAt}, nil
}

// RunResetPassword consumes token and replaces the password of the identity
// it was issued for. The new password is checked and hashed before the token
// is redeemed, so a rejected password leaves the token usable.
func RunResetPassword(ctx context.Context, token, newPassword string, deps PasswordResetDeps) error {
	deps.normalize()
	if deps.HashPassword == nil || deps.RedeemEphemeral == nil || deps.SetPasswordHash == nil {
		return deps.Errors.EngineNotReady
	}
	if deps.MinPasswordLength <= 0 {
		deps.MinPasswordLength = 8
	}

	fail := func(email string, err error, reason string) error {
		deps.MetricInc(deps.Metrics.PasswordResetFailure)
		deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, false, "", email, err, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return err
	}

	if token == "" || newPassword == "" {
		return fail("", deps.Errors.Invalid("token and new password are required"), "invalid_input")
	}
	if len(newPassword) < deps.MinPasswordLength {
		return fail("", deps.Errors.Invalid(minLengthMessage(deps.MinPasswordLength)), "password_policy")
	}

	hash, err := deps.HashPassword(newPassword)
	if err != nil {
		return fail("", deps.Errors.Invalid("password cannot be used"), "password_hash")
	}
	newPassword = ""

	email, err := deps.RedeemEphemeral(ctx, token)
	if err != nil {
		mapped := tokenFailure(deps.Shared, err)
		return fail("", mapped, "token_rejected")
	}

	if err := deps.SetPasswordHash(ctx, email, hash); err != nil {
		if errors.Is(err, deps.Errors.IdentityNotFound) {
			return fail(email, deps.Errors.IdentityNotFound, "identity_not_found")
		}
		return deps.Errors.Internal(err)
	}

	userID := ""
	if deps.GetIdentityByEmail != nil {
		if ident, err := deps.GetIdentityByEmail(ctx, email); err == nil {
			userID = ident.ID
			deps.Notify(ctx, userID, notify.TemplatePasswordChanged, nil)
		}
	}

	deps.MetricInc(deps.Metrics.PasswordResetSuccess)
	deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, true, userID, email, nil, nil)
	return nil
}

// tokenFailure passes ephemeral token sentinels through and wraps anything
// else as an internal failure.
func tokenFailure(s Shared, err error) error {
	switch {
	case errors.Is(err, s.Errors.TokenNotFound):
		return s.Errors.TokenNotFound
	case errors.Is(err, s.Errors.TokenExpired):
		return s.Errors.TokenExpired
	case errors.Is(err, s.Errors.TokenInvalid):
		return s.Errors.TokenInvalid
	}
	return s.Errors.Internal(err)
}

func minLengthMessage(n int) string {
	return "password must be at least " + strconv.Itoa(n) + " characters"
}
