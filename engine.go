package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/havosec/authcore/internal/audit"
	"github.com/havosec/authcore/internal/flows"
	"github.com/havosec/authcore/internal/limiters"
	"github.com/havosec/authcore/internal/stores"
	"github.com/havosec/authcore/jwt"
	"github.com/havosec/authcore/notify"
	"github.com/havosec/authcore/password"
	"github.com/havosec/authcore/store"
	"github.com/sirupsen/logrus"
)

// Engine runs every authentication flow. Build it with [Builder]; it is safe
// for concurrent use.
type Engine struct {
	config     Config
	log        logrus.FieldLogger
	now        func() time.Time
	db         store.Store
	identities *stores.IdentityStore
	ephemeral  *stores.EphemeralStore
	lockout    *limiters.LockoutGuard
	hasher     *password.Hasher
	jwtManager *jwt.Manager
	hub        *notify.Hub
	audit      *audit.Dispatcher
	metrics    *Metrics
	validate   *validator.Validate
	sender     TokenSender
}

// Close waits for in-flight notification deliveries and drains the audit
// dispatcher. The store is owned by the caller and stays open.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.hub != nil {
		e.hub.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports audit events dropped because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the current counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}

// Metrics exposes the counters to exporters.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// Hub is the notification hub transports register live connections with.
func (e *Engine) Hub() *notify.Hub {
	return e.hub
}

// Config returns a copy of the engine configuration without secrets.
func (e *Engine) Config() Config {
	cfg := cloneConfig(e.config)
	cfg.Session.AdminSecret = nil
	cfg.Session.ClientSecret = nil
	return cfg
}

func (e *Engine) metricInc(id MetricID) {
	if e.metrics != nil {
		e.metrics.Inc(id)
	}
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userID, email string, err error, meta func() map[string]string) {
	if e.audit == nil {
		return
	}
	event := AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Email:     email,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
	}
	if err != nil {
		event.Error = err.Error()
	}
	if meta != nil {
		event.Metadata = meta()
	}
	e.audit.Emit(ctx, event)
}

// notifyTemplate publishes a security notification. Failures are logged and
// never affect the calling flow.
func (e *Engine) notifyTemplate(ctx context.Context, userID string, t notify.Template, details map[string]string) {
	if userID == "" {
		return
	}
	if _, err := e.hub.Publish(ctx, userID, notify.Render(t, details, e.now())); err != nil {
		e.metricInc(MetricNotificationFailed)
		e.log.WithError(err).WithFields(logrus.Fields{
			"user_id":  userID,
			"template": string(t),
		}).Warn("security notification not persisted")
		return
	}
	e.metricInc(MetricNotificationPublished)
}

func (e *Engine) warn(msg string, args ...any) {
	if len(args) > 0 {
		e.log.WithField("detail", args).Warn(msg)
		return
	}
	e.log.Warn(msg)
}

func (e *Engine) shared() flows.Shared {
	return flows.Shared{
		Now:                  e.now,
		ClientIPFromContext:  clientIPFromContext,
		UserAgentFromContext: userAgentFromContext,
		MetricInc:            func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit:            e.emitAudit,
		Notify:               e.notifyTemplate,
		Warn:                 e.warn,
		Metrics: flows.Metrics{
			RegisterSuccess:          int(MetricRegisterSuccess),
			RegisterFailure:          int(MetricRegisterFailure),
			LoginSuccess:             int(MetricLoginSuccess),
			LoginFailure:             int(MetricLoginFailure),
			LoginLocked:              int(MetricLoginLocked),
			AccountLocked:            int(MetricAccountLocked),
			PasswordHashUpgrade:      int(MetricPasswordHashUpgrade),
			SessionIssued:            int(MetricSessionIssued),
			SessionValid:             int(MetricSessionValid),
			SessionInvalid:           int(MetricSessionInvalid),
			PasswordResetRequest:     int(MetricPasswordResetRequest),
			PasswordResetSuccess:     int(MetricPasswordResetSuccess),
			PasswordResetFailure:     int(MetricPasswordResetFailure),
			EmailVerificationRequest: int(MetricEmailVerificationRequest),
			EmailVerificationSuccess: int(MetricEmailVerificationSuccess),
			EmailVerificationFailure: int(MetricEmailVerificationFailure),
		},
		Events: flows.Events{
			Register:                 AuditRegister,
			LoginSuccess:             AuditLoginSuccess,
			LoginFailure:             AuditLoginFailure,
			LoginLocked:              AuditLoginLocked,
			AccountLocked:            AuditAccountLocked,
			PasswordResetRequest:     AuditPasswordResetRequest,
			PasswordResetConfirm:     AuditPasswordResetConfirm,
			EmailVerificationRequest: AuditEmailVerificationRequest,
			EmailVerificationConfirm: AuditEmailVerificationConfirm,
		},
		Errors: flows.Errors{
			EngineNotReady:     ErrEngineNotReady,
			InvalidCredentials: ErrInvalidCredentials,
			AccountLocked:      ErrAccountLocked,
			AccountDeactivated: ErrAccountDeactivated,
			EmailExists:        ErrEmailExists,
			IdentityNotFound:   ErrIdentityNotFound,
			TokenExpired:       ErrTokenExpired,
			TokenInvalid:       ErrTokenInvalid,
			TokenNotFound:      ErrTokenNotFound,
			Invalid:            validationError,
			Internal:           internalError,
		},
	}
}

func toRecord(ident *stores.Identity) flows.IdentityRecord {
	return flows.IdentityRecord{
		ID:              ident.ID,
		Email:           ident.Email,
		PasswordHash:    ident.PasswordHash,
		Role:            ident.Role,
		FirstName:       ident.FirstName,
		LastName:        ident.LastName,
		Company:         ident.Company,
		IsActive:        ident.IsActive,
		EmailVerified:   ident.EmailVerified,
		EmailVerifiedAt: ident.EmailVerifiedAt,
		LockUntil:       ident.LockUntil,
		LastLogin:       ident.LastLogin,
		CreatedAt:       ident.CreatedAt,
	}
}

func (e *Engine) identityByEmail(ctx context.Context, email string) (flows.IdentityRecord, error) {
	ident, err := e.identities.ByEmail(ctx, email)
	if err != nil {
		return flows.IdentityRecord{}, mapIdentityErr(err)
	}
	return toRecord(ident), nil
}

func (e *Engine) identityByID(ctx context.Context, id string) (flows.IdentityRecord, error) {
	ident, err := e.identities.ByID(ctx, id)
	if err != nil {
		return flows.IdentityRecord{}, mapIdentityErr(err)
	}
	return toRecord(ident), nil
}

func mapIdentityErr(err error) error {
	switch {
	case errors.Is(err, stores.ErrIdentityNotFound):
		return ErrIdentityNotFound
	case errors.Is(err, stores.ErrIdentityExists):
		return ErrEmailExists
	}
	return err
}

func mapEphemeralErr(err error) error {
	switch {
	case errors.Is(err, stores.ErrTokenNotFound):
		return ErrTokenNotFound
	case errors.Is(err, stores.ErrTokenExpired):
		return ErrTokenExpired
	}
	return err
}

func (e *Engine) issueSession(uid, role string) (flows.SessionToken, error) {
	token, expiresAt, err := e.jwtManager.Issue(uid, role, 0)
	if err != nil {
		return flows.SessionToken{}, err
	}
	return flows.SessionToken{
		Token:     token,
		ExpiresAt: expiresAt,
		Scope:     e.jwtManager.ScopeFor(role),
	}, nil
}

func (e *Engine) issueEphemeral(purpose stores.Purpose) func(context.Context, string, time.Duration) (string, time.Time, error) {
	return func(ctx context.Context, email string, ttl time.Duration) (string, time.Time, error) {
		return e.ephemeral.Issue(ctx, email, purpose, ttl)
	}
}

func (e *Engine) redeemEphemeral(purpose stores.Purpose) func(context.Context, string) (string, error) {
	return func(ctx context.Context, token string) (string, error) {
		email, err := e.ephemeral.Redeem(ctx, token, purpose)
		if err != nil {
			return "", mapEphemeralErr(err)
		}
		return email, nil
	}
}

func (e *Engine) deliverToken(purpose TokenPurpose) func(context.Context, flows.TokenDelivery) error {
	if e.sender == nil {
		return nil
	}
	return func(ctx context.Context, d flows.TokenDelivery) error {
		return e.sender.SendToken(ctx, purpose, d)
	}
}
