package authcore

import (
	"errors"
	"fmt"
)

// Kind is the coarse error class a transport maps to a status code.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindInternal       Kind = "internal"
)

// Reason refines KindAuthentication errors.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonInvalidCredentials Reason = "invalid_credentials"
	ReasonAccountLocked      Reason = "account_locked"
	ReasonAccountDeactivated Reason = "account_deactivated"
	ReasonTokenExpired       Reason = "token_expired"
	ReasonTokenInvalid       Reason = "token_invalid"
	ReasonTokenNotFound      Reason = "token_not_found"
)

// Error is the tagged error every Engine operation returns. Message is safe
// to show to the caller; Err holds the underlying cause and is never
// serialized.
type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authcore: %s: %v", e.Message, e.Err)
	}
	return "authcore: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind and Reason. ErrValidation and ErrInternal match every
// error of their kind, so a fresh validation error still satisfies
// errors.Is(err, ErrValidation).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Kind != e.Kind {
		return false
	}
	switch {
	case t.Reason != ReasonNone:
		return t.Reason == e.Reason
	case t == ErrValidation || t == ErrInternal:
		return true
	}
	return t.Message == e.Message
}

var (
	// ErrValidation matches every missing or malformed input error.
	ErrValidation = &Error{Kind: KindValidation, Message: "invalid request"}
	// ErrInvalidCredentials covers unknown emails and wrong passwords alike.
	ErrInvalidCredentials = &Error{Kind: KindAuthentication, Reason: ReasonInvalidCredentials, Message: "invalid credentials"}
	// ErrAccountLocked is returned while a lockout window is open, regardless of password.
	ErrAccountLocked = &Error{Kind: KindAuthentication, Reason: ReasonAccountLocked, Message: "account temporarily locked"}
	// ErrAccountDeactivated is returned after a correct password for a deactivated identity.
	ErrAccountDeactivated = &Error{Kind: KindAuthentication, Reason: ReasonAccountDeactivated, Message: "account is deactivated"}
	// ErrTokenExpired is returned once for an expired token; the record is gone afterwards.
	ErrTokenExpired = &Error{Kind: KindAuthentication, Reason: ReasonTokenExpired, Message: "token has expired"}
	// ErrTokenInvalid covers malformed, forged, and wrong-scope session tokens.
	ErrTokenInvalid = &Error{Kind: KindAuthentication, Reason: ReasonTokenInvalid, Message: "invalid token"}
	// ErrTokenNotFound is returned for unknown, already redeemed, or superseded tokens.
	ErrTokenNotFound = &Error{Kind: KindAuthentication, Reason: ReasonTokenNotFound, Message: "invalid or expired token"}
	// ErrIdentityNotFound is only used where revealing absence is acceptable.
	ErrIdentityNotFound = &Error{Kind: KindNotFound, Message: "user not found"}
	// ErrNotificationNotFound is returned for unknown or foreign notification ids.
	ErrNotificationNotFound = &Error{Kind: KindNotFound, Message: "notification not found"}
	// ErrEmailExists rejects a duplicate registration.
	ErrEmailExists = &Error{Kind: KindConflict, Message: "user already exists with this email"}
	// ErrInternal matches every infrastructure failure.
	ErrInternal = &Error{Kind: KindInternal, Message: "internal error"}
	// ErrEngineNotReady reports an Engine built without a required dependency.
	ErrEngineNotReady = &Error{Kind: KindInternal, Message: "engine not ready"}
)

func validationError(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

func internalError(cause error) error {
	if cause == nil {
		return nil
	}
	var tagged *Error
	if errors.As(cause, &tagged) {
		return tagged
	}
	return &Error{Kind: KindInternal, Message: "internal error", Err: cause}
}

// KindOf returns the Kind of err, or KindInternal for untagged errors.
func KindOf(err error) Kind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return KindInternal
}
