package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/havosec/authcore/jwt"
	"github.com/havosec/authcore/notify"
)

// Metrics carries metric IDs used across flows.
type Metrics struct {
	RegisterSuccess          int
	RegisterFailure          int
	LoginSuccess             int
	LoginFailure             int
	LoginLocked              int
	AccountLocked            int
	PasswordHashUpgrade      int
	SessionIssued            int
	SessionValid             int
	SessionInvalid           int
	PasswordResetRequest     int
	PasswordResetSuccess     int
	PasswordResetFailure     int
	EmailVerificationRequest int
	EmailVerificationSuccess int
	EmailVerificationFailure int
}

// Events carries audit event names used across flows.
type Events struct {
	Register                 string
	LoginSuccess             string
	LoginFailure             string
	LoginLocked              string
	AccountLocked            string
	PasswordResetRequest     string
	PasswordResetConfirm     string
	EmailVerificationRequest string
	EmailVerificationConfirm string
}

// Errors carries host-level sentinel errors. Invalid and Internal build
// tagged errors for input problems and infrastructure failures.
type Errors struct {
	EngineNotReady     error
	InvalidCredentials error
	AccountLocked      error
	AccountDeactivated error
	EmailExists        error
	IdentityNotFound   error
	TokenExpired       error
	TokenInvalid       error
	TokenNotFound      error

	Invalid  func(msg string) error
	Internal func(cause error) error
}

// Shared is embedded in every flow dependency set.
type Shared struct {
	Now                  func() time.Time
	ClientIPFromContext  func(context.Context) string
	UserAgentFromContext func(context.Context) string

	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, success bool, userID, email string, err error, meta func() map[string]string)
	Notify    func(ctx context.Context, userID string, t notify.Template, details map[string]string)
	Warn      func(string, ...any)

	Metrics Metrics
	Events  Events
	Errors  Errors
}

func (s *Shared) normalize() {
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.ClientIPFromContext == nil {
		s.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if s.UserAgentFromContext == nil {
		s.UserAgentFromContext = func(context.Context) string { return "" }
	}
	if s.MetricInc == nil {
		s.MetricInc = func(int) {}
	}
	if s.EmitAudit == nil {
		s.EmitAudit = func(context.Context, string, bool, string, string, error, func() map[string]string) {}
	}
	if s.Notify == nil {
		s.Notify = func(context.Context, string, notify.Template, map[string]string) {}
	}
	if s.Warn == nil {
		s.Warn = func(string, ...any) {}
	}
	if s.Errors.Invalid == nil {
		s.Errors.Invalid = func(msg string) error { return errors.New(msg) }
	}
	if s.Errors.Internal == nil {
		s.Errors.Internal = func(cause error) error { return cause }
	}
}

// IdentityRecord is the flow-local view of a stored identity.
type IdentityRecord struct {
	ID              string
	Email           string
	PasswordHash    string
	Role            string
	FirstName       string
	LastName        string
	Company         string
	IsActive        bool
	EmailVerified   bool
	EmailVerifiedAt *time.Time
	LockUntil       *time.Time
	LastLogin       *time.Time
	CreatedAt       time.Time
}

// Profile is the public part of an identity returned to callers.
type Profile struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	FirstName     string     `json:"firstName"`
	LastName      string     `json:"lastName"`
	Company       string     `json:"company,omitempty"`
	Role          string     `json:"role"`
	EmailVerified bool       `json:"emailVerified"`
	LastLogin     *time.Time `json:"lastLogin,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// ProfileOf strips credentials and counters from rec.
func ProfileOf(rec IdentityRecord) Profile {
	return Profile{
		ID:            rec.ID,
		Email:         rec.Email,
		FirstName:     rec.FirstName,
		LastName:      rec.LastName,
		Company:       rec.Company,
		Role:          rec.Role,
		EmailVerified: rec.EmailVerified,
		LastLogin:     rec.LastLogin,
		CreatedAt:     rec.CreatedAt,
	}
}

// SessionToken is an issued, signed session.
type SessionToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Scope     jwt.Scope `json:"scope"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
