package flows

import (
	"context"
	"errors"
	"time"

	"github.com/havosec/authcore/notify"
)

// VerificationIssued is the result of RunSendVerification. AlreadyVerified
// results carry no token.
type VerificationIssued struct {
	Email           string    `json:"email"`
	AlreadyVerified bool      `json:"alreadyVerified"`
	Token           string    `json:"token,omitempty"`
	Link            string    `json:"verificationLink,omitempty"`
	ExpiresAt       time.Time `json:"expiresAt,omitempty"`
}

// VerificationStatus reports whether an identity has verified its email.
type VerificationStatus struct {
	Email      string     `json:"email"`
	Verified   bool       `json:"verified"`
	VerifiedAt *time.Time `json:"verifiedAt"`
}

// EmailVerificationDeps captures email verification dependencies.
type EmailVerificationDeps struct {
	Shared

	VerificationTTL  time.Duration
	VerificationPath string

	GetIdentityByEmail func(context.Context, string) (IdentityRecord, error)
	MarkEmailVerified  func(ctx context.Context, email string) error

	IssueEphemeral  func(ctx context.Context, email string, ttl time.Duration) (string, time.Time, error)
	RedeemEphemeral func(ctx context.Context, token string) (string, error)
	DeliverToken    func(context.Context, TokenDelivery) error
}

// RunSendVerification issues, or re-issues, a verification token. Any
// earlier token for the same email stops working.
func RunSendVerification(ctx context.Context, email string, deps EmailVerificationDeps) (*VerificationIssued, error) {
	deps.normalize()
	if deps.GetIdentityByEmail == nil || deps.IssueEphemeral == nil {
		return nil, deps.Errors.EngineNotReady
	}

	email = normalizeEmail(email)
	if email == "" {
		return nil, deps.Errors.Invalid("email is required")
	}

	ident, err := deps.GetIdentityByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, deps.Errors.IdentityNotFound) {
			deps.EmitAudit(ctx, deps.Events.EmailVerificationRequest, false, "", email, deps.Errors.IdentityNotFound, nil)
			return nil, deps.Errors.IdentityNotFound
		}
		return nil, deps.Errors.Internal(err)
	}
	if ident.EmailVerified {
		return &VerificationIssued{Email: ident.Email, AlreadyVerified: true}, nil
	}

	token, expiresAt, err := deps.IssueEphemeral(ctx, ident.Email, deps.VerificationTTL)
	if err != nil {
		return nil, deps.Errors.Internal(err)
	}
	issued := &VerificationIssued{
		Email:     ident.Email,
		Token:     token,
		Link:      deps.VerificationPath + token,
		ExpiresAt: expiresAt,
	}
	if deps.DeliverToken != nil {
		if err := deps.DeliverToken(ctx, TokenDelivery{
			Email:     issued.Email,
			Token:     token,
			Link:      issued.Link,
			ExpiresAt: expiresAt,
		}); err != nil {
			deps.Warn("authcore: verification token delivery failed")
		}
	}

	deps.MetricInc(deps.Metrics.EmailVerificationRequest)
	deps.EmitAudit(ctx, deps.Events.EmailVerificationRequest, true, ident.ID, ident.Email, nil, nil)
	return issued, nil
}

// RunVerifyEmail redeems token and marks the identity verified.
func RunVerifyEmail(ctx context.Context, token string, deps EmailVerificationDeps) (string, error) {
	deps.normalize()
	if deps.RedeemEphemeral == nil || deps.MarkEmailVerified == nil {
		return "", deps.Errors.EngineNotReady
	}

	fail := func(email string, err error, reason string) (string, error) {
		deps.MetricInc(deps.Metrics.EmailVerificationFailure)
		deps.EmitAudit(ctx, deps.Events.EmailVerificationConfirm, false, "", email, err, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return "", err
	}

	if token == "" {
		return fail("", deps.Errors.Invalid("token is required"), "invalid_input")
	}

	email, err := deps.RedeemEphemeral(ctx, token)
	if err != nil {
		return fail("", tokenFailure(deps.Shared, err), "token_rejected")
	}
	if err := deps.MarkEmailVerified(ctx, email); err != nil {
		if errors.Is(err, deps.Errors.IdentityNotFound) {
			return fail(email, deps.Errors.IdentityNotFound, "identity_not_found")
		}
		return "", deps.Errors.Internal(err)
	}

	userID := ""
	if deps.GetIdentityByEmail != nil {
		if ident, err := deps.GetIdentityByEmail(ctx, email); err == nil {
			userID = ident.ID
			deps.Notify(ctx, userID, notify.TemplateEmailVerified, nil)
		}
	}

	deps.MetricInc(deps.Metrics.EmailVerificationSuccess)
	deps.EmitAudit(ctx, deps.Events.EmailVerificationConfirm, true, userID, email, nil, nil)
	return email, nil
}

// RunVerificationStatus looks up the verified flag for email.
func RunVerificationStatus(ctx context.Context, email string, deps EmailVerificationDeps) (*VerificationStatus, error) {
	deps.normalize()
	if deps.GetIdentityByEmail == nil {
		return nil, deps.Errors.EngineNotReady
	}
	email = normalizeEmail(email)
	if email == "" {
		return nil, deps.Errors.Invalid("email is required")
	}
	ident, err := deps.GetIdentityByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, deps.Errors.IdentityNotFound) {
			return nil, deps.Errors.IdentityNotFound
		}
		return nil, deps.Errors.Internal(err)
	}
	return &VerificationStatus{
		Email:      ident.Email,
		Verified:   ident.EmailVerified,
		VerifiedAt: ident.EmailVerifiedAt,
	}, nil
}
