package authcore

import (
	"io"

	"github.com/havosec/authcore/internal/audit"
	"github.com/havosec/authcore/store"
	"github.com/sirupsen/logrus"
)

// Audit event types emitted by the Engine.
const (
	AuditRegister                 = "register"
	AuditLoginSuccess             = "login_success"
	AuditLoginFailure             = "login_failure"
	AuditLoginLocked              = "login_locked"
	AuditAccountLocked            = "account_locked"
	AuditPasswordResetRequest     = "password_reset_request"
	AuditPasswordResetConfirm     = "password_reset_confirm"
	AuditEmailVerificationRequest = "email_verification_request"
	AuditEmailVerificationConfirm = "email_verification_confirm"
)

// AuditEvent is one recorded security decision.
type AuditEvent = audit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = audit.Sink

// NoOpSink discards every event.
type NoOpSink = audit.NoOpSink

// MultiSink fans an event out to several sinks.
type MultiSink = audit.MultiSink

// NewChannelSink returns a sink that forwards events to a buffered channel.
func NewChannelSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink writes one JSON document per event to w.
func NewJSONWriterSink(w io.Writer) *audit.JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewLogrusSink logs successes at info and failures at warn.
func NewLogrusSink(log logrus.FieldLogger) *audit.LogrusSink {
	return audit.NewLogrusSink(log)
}

// NewStoreSink persists events into the security_events collection.
func NewStoreSink(db store.Store, log logrus.FieldLogger) *audit.StoreSink {
	return audit.NewStoreSink(db, log)
}
