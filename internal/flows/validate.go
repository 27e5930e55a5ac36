package flows

import (
	"context"
	"errors"

	"github.com/havosec/authcore/jwt"
)

// ValidateDeps captures session validation dependencies.
type ValidateDeps struct {
	Shared

	// RequireScope rejects tokens of any other scope. Empty accepts both.
	RequireScope jwt.Scope
	// VerifyIdentity adds a lookup per request so tokens of deleted or
	// deactivated identities stop validating before they expire.
	VerifyIdentity bool

	ParseToken      func(string) (*jwt.Claims, error)
	GetIdentityByID func(context.Context, string) (IdentityRecord, error)
}

// RunValidate checks a session token. Without VerifyIdentity it performs no
// persistence lookup.
func RunValidate(ctx context.Context, token string, deps ValidateDeps) (*jwt.Claims, error) {
	deps.normalize()
	if deps.ParseToken == nil || (deps.VerifyIdentity && deps.GetIdentityByID == nil) {
		return nil, deps.Errors.EngineNotReady
	}

	claims, err := deps.ParseToken(token)
	if err != nil {
		deps.MetricInc(deps.Metrics.SessionInvalid)
		if errors.Is(err, jwt.ErrExpired) {
			return nil, deps.Errors.TokenExpired
		}
		return nil, deps.Errors.TokenInvalid
	}
	if deps.RequireScope != "" && claims.Scope != deps.RequireScope {
		deps.MetricInc(deps.Metrics.SessionInvalid)
		return nil, deps.Errors.TokenInvalid
	}

	if deps.VerifyIdentity {
		ident, err := deps.GetIdentityByID(ctx, claims.UID)
		if err != nil {
			if errors.Is(err, deps.Errors.IdentityNotFound) {
				deps.MetricInc(deps.Metrics.SessionInvalid)
				return nil, deps.Errors.TokenInvalid
			}
			return nil, deps.Errors.Internal(err)
		}
		if !ident.IsActive {
			deps.MetricInc(deps.Metrics.SessionInvalid)
			return nil, deps.Errors.AccountDeactivated
		}
	}

	deps.MetricInc(deps.Metrics.SessionValid)
	return claims, nil
}

// RunMe validates token and loads the profile it belongs to.
func RunMe(ctx context.Context, token string, deps ValidateDeps) (*Profile, error) {
	deps.normalize()
	if deps.GetIdentityByID == nil {
		return nil, deps.Errors.EngineNotReady
	}
	claims, err := RunValidate(ctx, token, deps)
	if err != nil {
		return nil, err
	}
	ident, err := deps.GetIdentityByID(ctx, claims.UID)
	if err != nil {
		if errors.Is(err, deps.Errors.IdentityNotFound) {
			return nil, deps.Errors.IdentityNotFound
		}
		return nil, deps.Errors.Internal(err)
	}
	profile := ProfileOf(ident)
	return &profile, nil
}
