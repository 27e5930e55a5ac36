package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/havosec/authcore/internal/audit"
	"github.com/havosec/authcore/internal/limiters"
	"github.com/havosec/authcore/internal/stores"
	"github.com/havosec/authcore/jwt"
	"github.com/havosec/authcore/notify"
	"github.com/havosec/authcore/password"
	"github.com/havosec/authcore/store"
	"github.com/sirupsen/logrus"
)

// Builder assembles an [Engine]. Configure it during initialization and call
// Build once.
type Builder struct {
	config Config
	db     store.Store
	log    logrus.FieldLogger

	auditSink AuditSink
	relay     notify.Relay
	sender    TokenSender
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the persistence backend. Required.
func (b *Builder) WithStore(db store.Store) *Builder {
	b.db = db
	return b
}

// WithLogger sets the logger used by the engine, its notification hub, and
// the default audit sink.
func (b *Builder) WithLogger(log logrus.FieldLogger) *Builder {
	b.log = log
	return b
}

// WithAuditSink replaces the default sink (logrus plus security_events).
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithRelay forwards every published notification to other instances.
func (b *Builder) WithRelay(r notify.Relay) *Builder {
	b.relay = r
	return b
}

// WithTokenSender sets the out-of-band delivery for reset and verification
// tokens.
func (b *Builder) WithTokenSender(s TokenSender) *Builder {
	b.sender = s
	return b
}

// WithClock overrides time.Now for every time-based decision.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.db == nil {
		return nil, errors.New("store required")
	}

	log := b.log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "authcore")

	now := b.now
	if now == nil {
		now = time.Now
	}

	hasher, err := password.New(cfg.Password.hasherConfig())
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	jwtManager, err := jwt.NewManager(jwt.Config{
		AdminSecret:  cfg.Session.AdminSecret,
		ClientSecret: cfg.Session.ClientSecret,
		TTL:          cfg.Session.TTL,
		Issuer:       cfg.Session.Issuer,
		Leeway:       cfg.Session.Leeway,
		AdminRoles:   cfg.Session.AdminRoles,
		Now:          now,
	})
	if err != nil {
		return nil, fmt.Errorf("session tokens: %w", err)
	}

	hubOpts := []notify.Option{
		notify.WithLogger(log),
		notify.WithSendTimeout(cfg.Notifications.SendTimeout),
		notify.WithClock(now),
	}
	if b.relay != nil {
		hubOpts = append(hubOpts, notify.WithRelay(b.relay))
	}

	sink := b.auditSink
	if sink == nil {
		sink = audit.MultiSink{
			audit.NewLogrusSink(log),
			audit.NewStoreSink(b.db, log),
		}
	}

	b.built = true
	return &Engine{
		config:     cfg,
		log:        log,
		now:        now,
		db:         b.db,
		identities: stores.NewIdentityStore(b.db),
		ephemeral:  stores.NewEphemeralStore(b.db, now),
		lockout: limiters.NewLockoutGuard(b.db, store.CollIdentities, limiters.LockoutConfig{
			Enabled:   cfg.Lockout.Enabled,
			Threshold: cfg.Lockout.Threshold,
			Duration:  cfg.Lockout.Duration,
		}, now),
		hasher:     hasher,
		jwtManager: jwtManager,
		hub:        notify.NewHub(b.db, hubOpts...),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:     cfg.Audit.Enabled,
			BufferSize:  cfg.Audit.BufferSize,
			DropIfFull:  cfg.Audit.DropIfFull,
			EmitTimeout: cfg.Audit.EmitTimeout,
		}, sink),
		metrics:  NewMetrics(cfg.Metrics),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		sender:   b.sender,
	}, nil
}
