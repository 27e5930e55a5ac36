package authcore

import (
	"context"
	"time"

	"github.com/havosec/authcore/internal/flows"
	"github.com/havosec/authcore/internal/stores"
)

// ForgotPassword issues a reset token when email is registered and hands it
// to the TokenSender. The returned message is identical either way.
func (e *Engine) ForgotPassword(ctx context.Context, email string) (string, error) {
	return flows.RunForgotPassword(ctx, email, e.passwordResetDeps())
}

// VerifyResetToken reports whether a reset token is still valid without
// consuming it. An expired token is removed and reported as ErrTokenExpired.
func (e *Engine) VerifyResetToken(ctx context.Context, token string) (*ResetTokenStatus, error) {
	return flows.RunVerifyResetToken(ctx, token, e.passwordResetDeps())
}

// ResetPassword redeems a reset token and sets a new password. The token
// cannot be used again, whatever the outcome after redemption.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	return flows.RunResetPassword(ctx, token, newPassword, e.passwordResetDeps())
}

func (e *Engine) passwordResetDeps() flows.PasswordResetDeps {
	return flows.PasswordResetDeps{
		Shared:             e.shared(),
		MinPasswordLength:  e.config.Password.MinLength,
		ResetTTL:           e.config.PasswordReset.TTL,
		ResetPath:          e.config.PasswordReset.LinkPath,
		GetIdentityByEmail: e.identityByEmail,
		HashPassword:       e.hasher.Hash,
		SetPasswordHash: func(ctx context.Context, email, hash string) error {
			return mapIdentityErr(e.identities.SetPasswordHash(ctx, email, hash, e.now().UTC()))
		},
		IssueEphemeral: e.issueEphemeral(stores.PurposeReset),
		PeekEphemeral: func(ctx context.Context, token string) (string, time.Time, error) {
			rec, err := e.ephemeral.Peek(ctx, token, stores.PurposeReset)
			if err != nil {
				return "", time.Time{}, mapEphemeralErr(err)
			}
			return rec.Email, rec.ExpiresAt, nil
		},
		RedeemEphemeral: e.redeemEphemeral(stores.PurposeReset),
		DeliverToken:    e.deliverToken(PurposePasswordReset),
	}
}

// SendVerification issues, or re-issues, an email verification token unless
// the identity is already verified.
func (e *Engine) SendVerification(ctx context.Context, email string) (*VerificationIssued, error) {
	return flows.RunSendVerification(ctx, email, e.emailVerificationDeps())
}

// VerifyEmail redeems a verification token and marks the identity verified.
// It returns the verified email.
func (e *Engine) VerifyEmail(ctx context.Context, token string) (string, error) {
	return flows.RunVerifyEmail(ctx, token, e.emailVerificationDeps())
}

// VerificationStatus reports whether email has been verified.
func (e *Engine) VerificationStatus(ctx context.Context, email string) (*VerificationStatus, error) {
	return flows.RunVerificationStatus(ctx, email, e.emailVerificationDeps())
}

func (e *Engine) emailVerificationDeps() flows.EmailVerificationDeps {
	return flows.EmailVerificationDeps{
		Shared:             e.shared(),
		VerificationTTL:    e.config.EmailVerification.TTL,
		VerificationPath:   e.config.EmailVerification.LinkPath,
		GetIdentityByEmail: e.identityByEmail,
		MarkEmailVerified: func(ctx context.Context, email string) error {
			return mapIdentityErr(e.identities.MarkEmailVerified(ctx, email, e.now().UTC()))
		},
		IssueEphemeral:  e.issueEphemeral(stores.PurposeVerify),
		RedeemEphemeral: e.redeemEphemeral(stores.PurposeVerify),
		DeliverToken:    e.deliverToken(PurposeEmailVerification),
	}
}
