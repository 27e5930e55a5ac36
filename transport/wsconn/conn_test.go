package wsconn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/havosec/authcore/notify"
	"github.com/sirupsen/logrus/hooks/test"
)

func dial(t *testing.T) (*websocket.Conn, *Conn, chan struct{}) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	server := make(chan *Conn, 1)
	closed := make(chan struct{})

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		c := New(ws, logger)
		server <- c
		c.Run(func() { close(closed) })
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	select {
	case c := <-server:
		return client, c, closed
	case <-time.After(2 * time.Second):
		t.Fatal("server connection not established")
	}
	return nil, nil, nil
}

func TestSendDeliversEvent(t *testing.T) {
	client, conn, _ := dial(t)

	ev := notify.Event{Type: notify.EventNotification, Data: notify.Notification{ID: "n1", Title: "Hi", Message: "there"}}
	if err := conn.Send(context.Background(), ev); err != nil {
		t.Fatalf("send: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got notify.Event
	if err := client.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != notify.EventNotification || got.Data.ID != "n1" {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestClientMessagesAreAcked(t *testing.T) {
	client, _, _ := dial(t)

	if err := client.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]string
	if err := json.Unmarshal(data, &msg); err != nil || msg["type"] != "ack" {
		t.Fatalf("expected ack, got %s (%v)", data, err)
	}
}

func TestSendAfterPeerCloseFails(t *testing.T) {
	client, conn, closed := dial(t)
	_ = client.Close()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("server side did not notice the close")
	}
	if err := conn.Send(context.Background(), notify.Event{}); err != notify.ErrConnClosed {
		t.Fatalf("expected ErrConnClosed, got %v", err)
	}
}
