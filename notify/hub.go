package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/havosec/authcore/store"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	defaultSendTimeout = 5 * time.Second
	defaultListLimit   = 50
	maxListLimit       = 200
)

// Option configures a Hub.
type Option func(*Hub)

func WithLogger(log logrus.FieldLogger) Option {
	return func(h *Hub) { h.log = log }
}

// WithSendTimeout bounds each per-connection send.
func WithSendTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.sendTimeout = d
		}
	}
}

func WithRelay(r Relay) Option {
	return func(h *Hub) { h.relay = r }
}

func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

// Stats counts delivery outcomes since the hub was created.
type Stats struct {
	Connections int
	Delivered   uint64
	Failed      uint64
}

// Hub is the notification registry and fan-out point.
type Hub struct {
	db          store.Store
	log         logrus.FieldLogger
	relay       Relay
	sendTimeout time.Duration
	now         func() time.Time

	mu     sync.RWMutex
	conns  map[string]map[string]Conn
	closed bool

	inflight  sync.WaitGroup
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// NewHub returns a hub persisting to db.
func NewHub(db store.Store, opts ...Option) *Hub {
	h := &Hub{
		db:          db,
		log:         logrus.StandardLogger(),
		sendTimeout: defaultSendTimeout,
		now:         time.Now,
		conns:       make(map[string]map[string]Conn),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds conn to userID's live set.
func (h *Hub) Register(userID string, conn Conn) error {
	if userID == "" || conn == nil {
		return errors.New("notify: register requires a user and a connection")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	set, ok := h.conns[userID]
	if !ok {
		set = make(map[string]Conn)
		h.conns[userID] = set
	}
	set[conn.ID()] = conn
	return nil
}

// Unregister removes conn and drops the user's entry once it is empty.
func (h *Hub) Unregister(userID string, conn Conn) {
	if conn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[userID]
	if !ok {
		return
	}
	delete(set, conn.ID())
	if len(set) == 0 {
		delete(h.conns, userID)
	}
}

// Connections returns the number of live connections for userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// Users returns the number of users with at least one live connection.
func (h *Hub) Users() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := 0
	for _, set := range h.conns {
		n += len(set)
	}
	h.mu.RUnlock()
	return Stats{Connections: n, Delivered: h.delivered.Load(), Failed: h.failed.Load()}
}

// Publish persists n for userID and fans it out. Only the persistence error
// is returned; delivery failures are logged.
func (h *Hub) Publish(ctx context.Context, userID string, n Notification) (Notification, error) {
	if userID == "" || n.Title == "" || n.Message == "" {
		return Notification{}, ErrInvalid
	}
	if n.Type == "" {
		n.Type = KindInfo
	}
	n.ID = primitive.NewObjectID().Hex()
	n.UserID = userID
	n.Read = false
	n.ReadAt = nil
	n.CreatedAt = h.now().UTC().Truncate(time.Millisecond)

	if err := h.db.InsertOne(ctx, store.CollNotifications, n); err != nil {
		return Notification{}, err
	}

	ev := Event{Type: EventNotification, Data: n}
	h.Deliver(userID, ev)
	h.forward(userID, ev)
	return n, nil
}

// Deliver pushes ev to userID's local connections without persisting it.
// It returns the number of deliveries started.
func (h *Hub) Deliver(userID string, ev Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return 0
	}
	set := h.conns[userID]
	for _, c := range set {
		h.inflight.Add(1)
		go h.send(userID, c, ev)
	}
	return len(set)
}

func (h *Hub) send(userID string, c Conn, ev Event) {
	defer h.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			h.failed.Add(1)
			h.log.WithFields(logrus.Fields{"user_id": userID, "conn_id": c.ID(), "panic": r}).
				Error("notification delivery panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), h.sendTimeout)
	defer cancel()

	if err := c.Send(ctx, ev); err != nil {
		h.failed.Add(1)
		h.log.WithFields(logrus.Fields{
			"user_id":         userID,
			"conn_id":         c.ID(),
			"notification_id": ev.Data.ID,
		}).WithError(err).Warn("notification delivery failed")
		return
	}
	h.delivered.Add(1)
}

func (h *Hub) forward(userID string, ev Event) {
	if h.relay == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.sendTimeout)
		defer cancel()
		if err := h.relay.Forward(ctx, userID, ev); err != nil {
			h.log.WithField("user_id", userID).WithError(err).Warn("notification relay failed")
		}
	}()
}

// List returns up to limit notifications for userID, newest first, together
// with the user's total unread count. limit <= 0 uses the default page size.
func (h *Hub) List(ctx context.Context, userID string, limit int, unreadOnly bool) (ListResult, error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}

	q := store.Where(store.Eq("userId", userID))
	if unreadOnly {
		q.Where = append(q.Where, store.Eq("read", false))
	}
	q = q.SortBy("createdAt", true).SortBy("_id", true).WithLimit(int64(limit))

	out := ListResult{Notifications: []Notification{}}
	if err := h.db.Find(ctx, store.CollNotifications, q, &out.Notifications); err != nil {
		return ListResult{}, err
	}
	if out.Notifications == nil {
		out.Notifications = []Notification{}
	}
	unread, err := h.db.Count(ctx, store.CollNotifications, store.Where(store.Eq("userId", userID), store.Eq("read", false)))
	if err != nil {
		return ListResult{}, err
	}
	out.UnreadCount = unread
	return out, nil
}

// MarkRead marks one of userID's notifications read.
func (h *Hub) MarkRead(ctx context.Context, userID, id string) error {
	res, err := h.db.UpdateOne(ctx, store.CollNotifications, h.owned(userID, id), store.Update{
		Set: map[string]any{"read": true, "readAt": h.now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.Matched == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllRead marks every unread notification of userID read.
func (h *Hub) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res, err := h.db.UpdateMany(ctx, store.CollNotifications,
		store.Where(store.Eq("userId", userID), store.Eq("read", false)),
		store.Update{Set: map[string]any{"read": true, "readAt": h.now().UTC()}},
	)
	if err != nil {
		return 0, err
	}
	return res.Modified, nil
}

// Delete removes one of userID's notifications.
func (h *Hub) Delete(ctx context.Context, userID, id string) error {
	n, err := h.db.DeleteOne(ctx, store.CollNotifications, h.owned(userID, id))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear removes all of userID's notifications.
func (h *Hub) Clear(ctx context.Context, userID string) (int64, error) {
	return h.db.DeleteMany(ctx, store.CollNotifications, store.Where(store.Eq("userId", userID)))
}

func (h *Hub) owned(userID, id string) store.Query {
	return store.Where(store.Eq("_id", id), store.Eq("userId", userID))
}

// Close stops new deliveries and waits for in-flight ones. Registered
// connections are left to their transport.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.inflight.Wait()
}
