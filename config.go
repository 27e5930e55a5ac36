package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/havosec/authcore/password"
)

// Config is the complete engine configuration. Build a starting point with
// DefaultConfig and override the fields you need; the Builder validates it.
type Config struct {
	Session           SessionConfig
	Password          PasswordConfig
	Lockout           LockoutConfig
	PasswordReset     PasswordResetConfig
	EmailVerification EmailVerificationConfig
	Registration      RegistrationConfig
	Notifications     NotificationsConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls stateless session tokens. AdminSecret signs tokens
// for AdminRoles, ClientSecret signs everything else.
type SessionConfig struct {
	AdminSecret  []byte
	ClientSecret []byte
	TTL          time.Duration
	Issuer       string
	Leeway       time.Duration
	AdminRoles   []string
	// VerifyIdentity makes Validate load the identity on every call and reject
	// tokens whose identity was deleted or deactivated.
	VerifyIdentity bool
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the argon2id cost and the password policy.
type PasswordConfig struct {
	Memory           uint32 // in KB
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
	MinLength        int
	UpgradeOnLogin   bool
}

func (c PasswordConfig) hasherConfig() password.Config {
	return password.Config{
		Memory:           c.Memory,
		Time:             c.Time,
		Parallelism:      c.Parallelism,
		SaltLength:       c.SaltLength,
		KeyLength:        c.KeyLength,
		MaxPasswordBytes: c.MaxPasswordBytes,
	}
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig is the brute-force lockout policy. Threshold consecutive
// failures lock the identity for Duration.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Duration  time.Duration
}

/*
====================================
EPHEMERAL TOKEN CONFIG
====================================
*/

// PasswordResetConfig controls reset tokens. LinkPath is prefixed to the
// token to build the link handed to the delivery hook.
type PasswordResetConfig struct {
	TTL      time.Duration
	LinkPath string
}

// EmailVerificationConfig controls verification tokens.
type EmailVerificationConfig struct {
	TTL      time.Duration
	LinkPath string
}

// RegistrationConfig controls self-service signup.
type RegistrationConfig struct {
	DefaultRole string
}

/*
====================================
NOTIFICATIONS / AUDIT / METRICS
====================================
*/

// NotificationsConfig bounds real-time delivery.
type NotificationsConfig struct {
	SendTimeout time.Duration
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled     bool
	BufferSize  int
	DropIfFull  bool
	EmitTimeout time.Duration
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults: 7 day sessions, lockout after 5
// failures for 2 hours, 1 hour reset tokens, 24 hour verification tokens.
// Session secrets are left empty and must be supplied.
func DefaultConfig() Config {
	hasher := password.DefaultConfig()
	return Config{
		Session: SessionConfig{
			TTL:        7 * 24 * time.Hour,
			Issuer:     "authcore",
			AdminRoles: []string{"admin"},
		},
		Password: PasswordConfig{
			Memory:           hasher.Memory,
			Time:             hasher.Time,
			Parallelism:      hasher.Parallelism,
			SaltLength:       hasher.SaltLength,
			KeyLength:        hasher.KeyLength,
			MaxPasswordBytes: hasher.MaxPasswordBytes,
			MinLength:        8,
			UpgradeOnLogin:   true,
		},
		Lockout: LockoutConfig{
			Enabled:   true,
			Threshold: 5,
			Duration:  2 * time.Hour,
		},
		PasswordReset: PasswordResetConfig{
			TTL:      time.Hour,
			LinkPath: "/auth/reset-password?token=",
		},
		EmailVerification: EmailVerificationConfig{
			TTL:      24 * time.Hour,
			LinkPath: "/auth/verify-email?token=",
		},
		Registration: RegistrationConfig{
			DefaultRole: "viewer",
		},
		Notifications: NotificationsConfig{
			SendTimeout: 5 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:     true,
			BufferSize:  1024,
			DropIfFull:  true,
			EmitTimeout: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.AdminSecret = cloneBytes(cfg.Session.AdminSecret)
	out.Session.ClientSecret = cloneBytes(cfg.Session.ClientSecret)
	out.Session.AdminRoles = append([]string(nil), cfg.Session.AdminRoles...)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Session
	if len(c.Session.AdminSecret) < 16 {
		return errors.New("Session AdminSecret must be at least 16 bytes")
	}
	if len(c.Session.ClientSecret) < 16 {
		return errors.New("Session ClientSecret must be at least 16 bytes")
	}
	if string(c.Session.AdminSecret) == string(c.Session.ClientSecret) {
		return errors.New("Session AdminSecret and ClientSecret must differ")
	}
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.Leeway < 0 || c.Session.Leeway > 2*time.Minute {
		return errors.New("Session Leeway must be between 0 and 2m")
	}
	for _, r := range c.Session.AdminRoles {
		if strings.TrimSpace(r) == "" {
			return errors.New("Session AdminRoles must not contain blank roles")
		}
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}
	if c.Password.MaxPasswordBytes != 0 && c.Password.MaxPasswordBytes < c.Password.MinLength {
		return errors.New("Password MaxPasswordBytes must be >= MinLength")
	}

	// Lockout
	if c.Lockout.Enabled {
		if c.Lockout.Threshold < 1 {
			return errors.New("Lockout Threshold must be >= 1")
		}
		if c.Lockout.Duration <= 0 {
			return errors.New("Lockout Duration must be > 0")
		}
	}

	// Ephemeral tokens
	if c.PasswordReset.TTL <= 0 {
		return errors.New("PasswordReset TTL must be > 0")
	}
	if c.EmailVerification.TTL <= 0 {
		return errors.New("EmailVerification TTL must be > 0")
	}

	if strings.TrimSpace(c.Registration.DefaultRole) == "" {
		return errors.New("Registration DefaultRole must be set")
	}
	for _, r := range c.Session.AdminRoles {
		if r == c.Registration.DefaultRole {
			return fmt.Errorf("Registration DefaultRole %q must not be an admin role", r)
		}
	}

	if c.Notifications.SendTimeout <= 0 {
		return errors.New("Notifications SendTimeout must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Audit.EmitTimeout < 0 {
		return errors.New("Audit EmitTimeout must be >= 0")
	}

	return nil
}
