package audit

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/havosec/authcore/store"
	"github.com/havosec/authcore/store/memstore"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type gateSink struct {
	gate    chan struct{}
	emitted atomic.Int64
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
	s.emitted.Add(1)
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	if d := NewDispatcher(Config{Enabled: false}, NoOpSink{}); d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	var d *Dispatcher
	d.Emit(context.Background(), Event{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher should report zero drops")
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "login_failed"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a blocked sink and a one-slot buffer")
	}

	close(sink.gate)
	d.Close()
	if got := sink.emitted.Load() + int64(d.Dropped()); got != 10 {
		t.Fatalf("emitted+dropped = %d, want 10", got)
	}
}

func TestDispatcherCloseDrains(t *testing.T) {
	sink := NewChannelSink(16)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink)
	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{EventType: "login_success"})
	}
	d.Close()

	if got := len(sink.Events()); got != 5 {
		t.Fatalf("drained events = %d, want 5", got)
	}
	d.Emit(context.Background(), Event{})
	if got := len(sink.Events()); got != 5 {
		t.Fatal("Emit after Close must be ignored")
	}
}

func TestLogrusSink(t *testing.T) {
	logger, hook := test.NewNullLogger()
	s := NewLogrusSink(logger)

	s.Emit(context.Background(), Event{EventType: "login_success", UserID: "u1", Success: true})
	s.Emit(context.Background(), Event{EventType: "login_failed", Error: "invalid_credentials", Metadata: map[string]string{"attempts": "3"}})

	entries := hook.AllEntries()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Level != logrus.InfoLevel || entries[0].Data["user_id"] != "u1" {
		t.Fatalf("unexpected success entry: %+v", entries[0].Data)
	}
	if entries[1].Level != logrus.WarnLevel || entries[1].Data["meta_attempts"] != "3" {
		t.Fatalf("unexpected failure entry: %+v", entries[1].Data)
	}
}

type failingStore struct{ store.Store }

func (failingStore) InsertOne(context.Context, string, any) error { return errors.New("disk full") }

func TestStoreSink(t *testing.T) {
	ctx := context.Background()
	db := memstore.New()
	s := NewStoreSink(db, nil)
	s.Emit(ctx, Event{ID: "e1", EventType: "account_locked", Timestamp: time.Now()})

	var got Event
	if err := db.FindOne(ctx, store.CollSecurityEvents, store.Where(store.Eq("eventType", "account_locked")), &got); err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if got.ID != "e1" {
		t.Fatalf("id = %q, want e1", got.ID)
	}

	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	NewStoreSink(failingStore{}, logger).Emit(ctx, Event{EventType: "x"})
	if !strings.Contains(buf.String(), "persist security event") {
		t.Fatalf("expected store failure to be logged, got %q", buf.String())
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	NewJSONWriterSink(&buf).Emit(context.Background(), Event{EventType: "password_reset", Success: true})
	if !strings.Contains(buf.String(), `"event_type":"password_reset"`) || !strings.HasSuffix(buf.String(), "\n") {
		t.Fatalf("unexpected JSON line: %q", buf.String())
	}
}
