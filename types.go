package authcore

import (
	"context"
	"time"

	"github.com/havosec/authcore/internal/flows"
	"github.com/havosec/authcore/jwt"
	"github.com/havosec/authcore/notify"
)

// Profile is the public part of an identity.
type Profile = flows.Profile

// Session is a signed, stateless session token and its expiry.
type Session = flows.SessionToken

// Claims is the validated payload of a session token.
type Claims = jwt.Claims

// RegisterRequest is the self-service signup input. Every field is required.
type RegisterRequest = flows.RegisterRequest

// LoginResult is returned by [Engine.Login] and [Engine.AdminLogin].
type LoginResult = flows.LoginResult

// RegisterResult carries the session, profile, and verification token of a
// new identity.
type RegisterResult = flows.RegisterResult

// ResetTokenStatus is returned by [Engine.VerifyResetToken].
type ResetTokenStatus = flows.ResetTokenStatus

// VerificationIssued is returned by [Engine.SendVerification].
type VerificationIssued = flows.VerificationIssued

// VerificationStatus is returned by [Engine.VerificationStatus].
type VerificationStatus = flows.VerificationStatus

// TokenDelivery is what a [TokenSender] receives for each issued reset or
// verification token.
type TokenDelivery = flows.TokenDelivery

// TokenPurpose distinguishes the two kinds of emailed tokens.
type TokenPurpose string

const (
	PurposePasswordReset     TokenPurpose = "reset"
	PurposeEmailVerification TokenPurpose = "verify"
)

// TokenSender delivers reset and verification tokens out of band, typically
// by email. ForgotPassword relies on it: the token is never returned to the
// caller so that responses do not reveal which emails are registered.
type TokenSender interface {
	SendToken(ctx context.Context, purpose TokenPurpose, d TokenDelivery) error
}

// TokenSenderFunc adapts a function to [TokenSender].
type TokenSenderFunc func(ctx context.Context, purpose TokenPurpose, d TokenDelivery) error

func (f TokenSenderFunc) SendToken(ctx context.Context, purpose TokenPurpose, d TokenDelivery) error {
	return f(ctx, purpose, d)
}

// Notification is a persisted notification record.
type Notification = notify.Notification

// NotificationList is returned by [Engine.ListNotifications].
type NotificationList = notify.ListResult

// SeedIdentity describes an identity created by an operator rather than by
// self-service registration, for example the first admin.
type SeedIdentity struct {
	Email         string
	Password      string
	Role          string
	FirstName     string
	LastName      string
	Company       string
	EmailVerified bool
}

// IdentityStatus is a read-only operator view of an identity's lockout state.
type IdentityStatus struct {
	Profile       Profile
	IsActive      bool
	LoginAttempts int
	LockUntil     *time.Time
}
