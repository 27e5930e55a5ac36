package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/havosec/authcore/store"
	"github.com/sirupsen/logrus"
)

// Event is one security decision: a login, a lockout, a token redemption.
type Event struct {
	ID        string            `json:"id" bson:"_id"`
	Timestamp time.Time         `json:"timestamp" bson:"createdAt"`
	EventType string            `json:"event_type" bson:"eventType"`
	UserID    string            `json:"user_id,omitempty" bson:"userId,omitempty"`
	Email     string            `json:"email,omitempty" bson:"email,omitempty"`
	IP        string            `json:"ip,omitempty" bson:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty" bson:"userAgent,omitempty"`
	Success   bool              `json:"success" bson:"success"`
	Error     string            `json:"error,omitempty" bson:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// MultiSink forwards each event to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// LogrusSink logs each event as a structured entry. Failures log at warn.
type LogrusSink struct {
	log logrus.FieldLogger
}

func NewLogrusSink(log logrus.FieldLogger) *LogrusSink {
	return &LogrusSink{log: log}
}

func (s *LogrusSink) Emit(_ context.Context, event Event) {
	if s == nil || s.log == nil {
		return
	}
	fields := logrus.Fields{
		"audit_id": event.ID,
		"event":    event.EventType,
		"success":  event.Success,
	}
	if event.UserID != "" {
		fields["user_id"] = event.UserID
	}
	if event.IP != "" {
		fields["ip"] = event.IP
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}
	entry := s.log.WithFields(fields)
	if event.Success {
		entry.Info("security event")
		return
	}
	entry.WithField("reason", event.Error).Warn("security event")
}

// StoreSink persists events to the security_events collection.
type StoreSink struct {
	db  store.Store
	log logrus.FieldLogger
}

func NewStoreSink(db store.Store, log logrus.FieldLogger) *StoreSink {
	return &StoreSink{db: db, log: log}
}

func (s *StoreSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.db == nil {
		return
	}
	if err := s.db.InsertOne(ctx, store.CollSecurityEvents, event); err != nil && s.log != nil {
		s.log.WithError(err).WithField("event", event.EventType).Error("persist security event")
	}
}
