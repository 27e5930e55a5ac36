package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scope partitions session tokens by signing secret.
type Scope string

const (
	// ScopeAdmin tokens are signed with the admin secret.
	ScopeAdmin Scope = "admin"
	// ScopeClient tokens are signed with the client secret.
	ScopeClient Scope = "client"
)

// DefaultTTL is the session lifetime used when Issue receives a non-positive ttl.
const DefaultTTL = 7 * 24 * time.Hour

const minSecretBytes = 16

var (
	ErrExpired          = errors.New("jwt: token expired")
	ErrMalformed        = errors.New("jwt: token malformed")
	ErrSignatureInvalid = errors.New("jwt: signature invalid")
	ErrScopeMismatch    = errors.New("jwt: token scope not accepted")
)

// Config carries the signing secrets and validation knobs. The Manager keeps
// its own copy for its lifetime; nothing is read from process globals.
type Config struct {
	AdminSecret  []byte
	ClientSecret []byte
	TTL          time.Duration
	Issuer       string
	Leeway       time.Duration
	// AdminRoles lists roles that receive ScopeAdmin. Defaults to {"admin"}.
	AdminRoles []string
	// Now overrides the clock for issuance and validation.
	Now func() time.Time
}

// Manager issues and validates HS256 session tokens.
type Manager struct {
	adminSecret  []byte
	clientSecret []byte
	ttl          time.Duration
	issuer       string
	leeway       time.Duration
	adminRoles   map[string]struct{}
	now          func() time.Time
}

// Claims is the signed payload of a session token.
type Claims struct {
	UID   string `json:"uid"`
	Role  string `json:"role"`
	Scope Scope  `json:"scope"`
	jwt.RegisteredClaims
}

// NewManager validates cfg and copies the secrets.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.AdminSecret) < minSecretBytes {
		return nil, fmt.Errorf("admin secret must be at least %d bytes", minSecretBytes)
	}
	if len(cfg.ClientSecret) < minSecretBytes {
		return nil, fmt.Errorf("client secret must be at least %d bytes", minSecretBytes)
	}
	if string(cfg.AdminSecret) == string(cfg.ClientSecret) {
		return nil, errors.New("admin and client secrets must differ")
	}
	if cfg.TTL < 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	m := &Manager{
		adminSecret:  append([]byte(nil), cfg.AdminSecret...),
		clientSecret: append([]byte(nil), cfg.ClientSecret...),
		ttl:          cfg.TTL,
		issuer:       cfg.Issuer,
		leeway:       cfg.Leeway,
		adminRoles:   make(map[string]struct{}),
		now:          cfg.Now,
	}
	if m.ttl == 0 {
		m.ttl = DefaultTTL
	}
	if m.now == nil {
		m.now = time.Now
	}
	roles := cfg.AdminRoles
	if len(roles) == 0 {
		roles = []string{"admin"}
	}
	for _, r := range roles {
		m.adminRoles[r] = struct{}{}
	}
	return m, nil
}

// ScopeFor maps a role to the scope its tokens are signed under.
func (m *Manager) ScopeFor(role string) Scope {
	if _, ok := m.adminRoles[role]; ok {
		return ScopeAdmin
	}
	return ScopeClient
}

// Issue signs a token for uid. A non-positive ttl uses the configured default.
func (m *Manager) Issue(uid, role string, ttl time.Duration) (string, time.Time, error) {
	if uid == "" {
		return "", time.Time{}, errors.New("jwt: empty uid")
	}
	if ttl <= 0 {
		ttl = m.ttl
	}
	now := m.now()
	expiresAt := now.Add(ttl)
	scope := m.ScopeFor(role)

	claims := Claims{
		UID:   uid,
		Role:  role,
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			Issuer:    m.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretFor(scope))
	if err != nil {
		return "", time.Time{}, err
	}
	// NumericDate truncates to seconds; report what the token actually carries.
	return signed, claims.ExpiresAt.Time, nil
}

// Validate checks signature and expiry. It performs no persistence lookup.
func (m *Manager) Validate(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.leeway > 0 {
		opts = append(opts, jwt.WithLeeway(m.leeway))
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		c, ok := t.Claims.(*Claims)
		if !ok {
			return nil, ErrMalformed
		}
		switch c.Scope {
		case ScopeAdmin, ScopeClient:
			return m.secretFor(c.Scope), nil
		}
		return nil, ErrMalformed
	})
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UID == "" || claims.Subject != claims.UID {
		return nil, ErrMalformed
	}
	return claims, nil
}

// ValidateScope is Validate plus a scope requirement.
func (m *Manager) ValidateScope(token string, scope Scope) (*Claims, error) {
	claims, err := m.Validate(token)
	if err != nil {
		return nil, err
	}
	if claims.Scope != scope {
		return nil, ErrScopeMismatch
	}
	return claims, nil
}

func (m *Manager) secretFor(scope Scope) []byte {
	if scope == ScopeAdmin {
		return m.adminSecret
	}
	return m.clientSecret
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrSignatureInvalid
	}
	return ErrMalformed
}
