package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/havosec/authcore/store"
	"github.com/havosec/authcore/store/memstore"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeConn struct {
	id     string
	recv   chan Event
	closed atomic.Bool
	block  chan struct{}
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, recv: make(chan Event, 8)}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ctx context.Context, ev Event) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.recv <- ev
	return nil
}

func (c *fakeConn) waitEvent(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-c.recv:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("connection %s received nothing", c.id)
		return Event{}
	}
}

func newTestHub(t *testing.T, opts ...Option) (*Hub, *memstore.Store) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	db := memstore.New()
	h := NewHub(db, append([]Option{WithLogger(logger)}, opts...)...)
	t.Cleanup(h.Close)
	return h, db
}

func notice(title string) Notification {
	return Notification{Type: KindInfo, Title: title, Message: title + " body"}
}

func TestPublishWithoutConnectionsPersists(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHub(t)

	n, err := h.Publish(ctx, "u1", notice("hello"))
	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, "u1", n.UserID)

	res, err := h.List(ctx, "u1", 0, false)
	require.NoError(t, err)
	require.Len(t, res.Notifications, 1)
	assert.Equal(t, n.ID, res.Notifications[0].ID)
	assert.Equal(t, int64(1), res.UnreadCount)
}

func TestPublishFansOutToEveryConnection(t *testing.T) {
	h, _ := newTestHub(t)
	conns := []*fakeConn{newFakeConn("a"), newFakeConn("b"), newFakeConn("c")}
	for _, c := range conns {
		require.NoError(t, h.Register("u1", c))
	}
	other := newFakeConn("z")
	require.NoError(t, h.Register("u2", other))

	n, err := h.Publish(context.Background(), "u1", notice("fan-out"))
	require.NoError(t, err)

	for _, c := range conns {
		ev := c.waitEvent(t)
		assert.Equal(t, EventNotification, ev.Type)
		assert.Equal(t, n.ID, ev.Data.ID)
	}
	select {
	case <-other.recv:
		t.Fatal("another user's connection received the event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClosedConnectionDoesNotAffectOthers(t *testing.T) {
	h, _ := newTestHub(t)
	a, b, c := newFakeConn("a"), newFakeConn("b"), newFakeConn("c")
	for _, conn := range []*fakeConn{a, b, c} {
		require.NoError(t, h.Register("u1", conn))
	}
	b.closed.Store(true)

	_, err := h.Publish(context.Background(), "u1", notice("partial"))
	require.NoError(t, err)

	a.waitEvent(t)
	c.waitEvent(t)
	h.Close()
	assert.Equal(t, uint64(2), h.Stats().Delivered)
	assert.Equal(t, uint64(1), h.Stats().Failed)
}

func TestSlowConnectionIsBoundedAndDoesNotBlockPublisher(t *testing.T) {
	h, _ := newTestHub(t, WithSendTimeout(200*time.Millisecond))
	slow := newFakeConn("slow")
	slow.block = make(chan struct{})
	fast := newFakeConn("fast")
	require.NoError(t, h.Register("u1", slow))
	require.NoError(t, h.Register("u1", fast))

	start := time.Now()
	_, err := h.Publish(context.Background(), "u1", notice("slow"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 150*time.Millisecond, "publish must not wait for delivery")

	fast.waitEvent(t)
	h.Close()
	assert.Equal(t, uint64(1), h.Stats().Failed)
}

func TestUnregisterDropsEmptySets(t *testing.T) {
	h, _ := newTestHub(t)
	a, b := newFakeConn("a"), newFakeConn("b")
	require.NoError(t, h.Register("u1", a))
	require.NoError(t, h.Register("u1", b))
	assert.Equal(t, 2, h.Connections("u1"))

	h.Unregister("u1", a)
	assert.Equal(t, 1, h.Connections("u1"))
	h.Unregister("u1", b)
	assert.Equal(t, 0, h.Connections("u1"))
	assert.Equal(t, 0, h.Users())

	h.Unregister("u1", b)
	h.Unregister("nobody", a)
}

func TestConcurrentRegisterUnregisterPublish(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			c := newFakeConn(fmt.Sprintf("c%d", i))
			_ = h.Register("u1", c)
			c.closed.Store(i%2 == 0)
			h.Unregister("u1", c)
		}(i)
		go func() {
			defer wg.Done()
			_, err := h.Publish(ctx, "u1", notice("race"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := h.List(ctx, "u1", 100, false)
	require.NoError(t, err)
	assert.Len(t, n.Notifications, 20)
	assert.Equal(t, 0, h.Users())
}

func TestListOrderingAndReadState(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	h, _ := newTestHub(t, WithClock(func() time.Time { return clock }))

	var ids []string
	for i := 0; i < 3; i++ {
		n, err := h.Publish(ctx, "u1", notice(fmt.Sprintf("n%d", i)))
		require.NoError(t, err)
		ids = append(ids, n.ID)
		clock = clock.Add(time.Minute)
	}
	_, err := h.Publish(ctx, "u2", notice("foreign"))
	require.NoError(t, err)

	res, err := h.List(ctx, "u1", 2, false)
	require.NoError(t, err)
	require.Len(t, res.Notifications, 2)
	assert.Equal(t, ids[2], res.Notifications[0].ID)
	assert.Equal(t, ids[1], res.Notifications[1].ID)
	assert.Equal(t, int64(3), res.UnreadCount)

	require.NoError(t, h.MarkRead(ctx, "u1", ids[0]))
	assert.ErrorIs(t, h.MarkRead(ctx, "u2", ids[1]), ErrNotFound, "users cannot touch each other's notifications")

	res, err = h.List(ctx, "u1", 0, true)
	require.NoError(t, err)
	assert.Len(t, res.Notifications, 2)
	assert.Equal(t, int64(2), res.UnreadCount)

	marked, err := h.MarkAllRead(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), marked)

	require.NoError(t, h.Delete(ctx, "u1", ids[1]))
	assert.ErrorIs(t, h.Delete(ctx, "u1", ids[1]), ErrNotFound)

	cleared, err := h.Clear(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cleared)

	res, err = h.List(ctx, "u2", 0, false)
	require.NoError(t, err)
	assert.Len(t, res.Notifications, 1)
}

func TestPublishRejectsIncompleteNotification(t *testing.T) {
	h, _ := newTestHub(t)
	_, err := h.Publish(context.Background(), "", notice("x"))
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = h.Publish(context.Background(), "u1", Notification{Title: "no body"})
	assert.ErrorIs(t, err, ErrInvalid)
}

type failingStore struct{ store.Store }

func (failingStore) InsertOne(context.Context, string, any) error { return errors.New("write failed") }

func TestPublishSurfacesPersistenceErrorWithoutDelivering(t *testing.T) {
	logger, _ := test.NewNullLogger()
	h := NewHub(failingStore{}, WithLogger(logger))
	defer h.Close()
	c := newFakeConn("a")
	require.NoError(t, h.Register("u1", c))

	_, err := h.Publish(context.Background(), "u1", notice("lost"))
	require.Error(t, err)
	select {
	case <-c.recv:
		t.Fatal("an unpersisted notification must not be delivered")
	case <-time.After(50 * time.Millisecond):
	}
}

type recordingRelay struct {
	mu  sync.Mutex
	got []string
}

func (r *recordingRelay) Forward(_ context.Context, userID string, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, userID+":"+ev.Data.Title)
	return nil
}

func TestRelayReceivesPublishedEvents(t *testing.T) {
	relay := &recordingRelay{}
	h, _ := newTestHub(t, WithRelay(relay))

	_, err := h.Publish(context.Background(), "u1", notice("remote"))
	require.NoError(t, err)
	h.Close()

	relay.mu.Lock()
	defer relay.mu.Unlock()
	assert.Equal(t, []string{"u1:remote"}, relay.got)
}

func TestRegisterAfterClose(t *testing.T) {
	h, _ := newTestHub(t)
	h.Close()
	assert.ErrorIs(t, h.Register("u1", newFakeConn("a")), ErrHubClosed)
}

func TestRenderTemplates(t *testing.T) {
	at := time.Date(2026, 5, 1, 10, 30, 0, 0, time.UTC)

	n := Render(TemplateLoginFailed, map[string]string{"ip": "10.0.0.1"}, at)
	assert.Equal(t, KindWarning, n.Type)
	assert.Equal(t, "Failed Login Attempt", n.Title)
	assert.Contains(t, n.Message, "10.0.0.1")
	assert.Contains(t, n.Message, "2026-05-01 10:30:00 UTC")
	assert.Equal(t, "10.0.0.1", n.Metadata["ip"])

	n = Render(TemplateAttackBlocked, nil, at)
	assert.Equal(t, "Blocked attack from unknown source", n.Message)

	n = Render(Template("suspicious_download"), nil, at)
	assert.Equal(t, "Suspicious Download", n.Title)
	assert.Equal(t, KindInfo, n.Type)
}
