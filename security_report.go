package authcore

import "time"

// SecurityReport summarizes the security-relevant settings of a running
// engine. It never contains secrets.
type SecurityReport struct {
	Issuer                  string
	SessionTTL              time.Duration
	SessionLeeway           time.Duration
	AdminRoles              []string
	IdentityCheckOnValidate bool
	Argon2                  PasswordConfigReport
	MinPasswordLength       int
	HashUpgradeOnLogin      bool
	LockoutActive           bool
	LockoutThreshold        int
	LockoutDuration         time.Duration
	PasswordResetTTL        time.Duration
	EmailVerificationTTL    time.Duration
	TokenDeliveryConfigured bool
	AuditEnabled            bool
	MetricsEnabled          bool
}

type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	lockout := e.config.Lockout.Enabled &&
		e.config.Lockout.Threshold > 0 &&
		e.config.Lockout.Duration > 0

	return SecurityReport{
		Issuer:                  e.config.Session.Issuer,
		SessionTTL:              e.config.Session.TTL,
		SessionLeeway:           e.config.Session.Leeway,
		AdminRoles:              append([]string(nil), e.config.Session.AdminRoles...),
		IdentityCheckOnValidate: e.config.Session.VerifyIdentity,
		Argon2: PasswordConfigReport{
			Memory:      e.config.Password.Memory,
			Time:        e.config.Password.Time,
			Parallelism: e.config.Password.Parallelism,
			SaltLength:  e.config.Password.SaltLength,
			KeyLength:   e.config.Password.KeyLength,
		},
		MinPasswordLength:       e.config.Password.MinLength,
		HashUpgradeOnLogin:      e.config.Password.UpgradeOnLogin,
		LockoutActive:           lockout,
		LockoutThreshold:        e.config.Lockout.Threshold,
		LockoutDuration:         e.config.Lockout.Duration,
		PasswordResetTTL:        e.config.PasswordReset.TTL,
		EmailVerificationTTL:    e.config.EmailVerification.TTL,
		TokenDeliveryConfigured: e.sender != nil,
		AuditEnabled:            e.config.Audit.Enabled,
		MetricsEnabled:          e.config.Metrics.Enabled,
	}
}
