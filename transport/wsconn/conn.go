// Package wsconn adapts gorilla/websocket connections to notify.Conn.
package wsconn

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/havosec/authcore/notify"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 32
)

// ack is written back for every text frame the client sends.
var ack = []byte(`{"type":"ack","message":"received"}`)

// Conn is one websocket bound to a user. Frames are written by a single
// goroutine; Send only queues them.
type Conn struct {
	id   string
	ws   *websocket.Conn
	log  logrus.FieldLogger
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

var _ notify.Conn = (*Conn)(nil)

// New wraps ws. Call Run to start the pumps.
func New(ws *websocket.Conn, log logrus.FieldLogger) *Conn {
	id := uuid.NewString()
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Conn{
		id:   id,
		ws:   ws,
		log:  log.WithField("conn_id", id),
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

// Send queues ev for the writer. It fails once the connection is closed or
// when ctx ends before there is room in the buffer.
func (c *Conn) Send(ctx context.Context, ev notify.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return notify.ErrConnClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return notify.ErrConnClosed
	case <-ctx.Done():
		return notify.ErrSendTimedOut
	}
}

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close ends the connection. It is safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// Run starts the write pump and runs the read pump until the peer goes away
// or Close is called. onClose runs once, after the connection is closed.
func (c *Conn) Run(onClose func()) {
	go c.writePump()
	c.readPump()
	c.Close()
	if onClose != nil {
		onClose()
	}
}

func (c *Conn) readPump() {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, _, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Debug("websocket read ended")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		select {
		case c.send <- ack:
		default:
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.WithError(err).Debug("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
