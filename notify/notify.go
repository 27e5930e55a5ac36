package notify

import (
	"context"
	"errors"
	"time"
)

// Notification kinds, rendered by clients as severity.
const (
	KindInfo    = "info"
	KindSuccess = "success"
	KindWarning = "warning"
	KindError   = "error"
)

// EventNotification is the only event type pushed to connections.
const EventNotification = "notification"

var (
	ErrNotFound     = errors.New("notification not found")
	ErrInvalid      = errors.New("notification requires a user, a title, and a message")
	ErrHubClosed    = errors.New("notification hub closed")
	ErrConnClosed   = errors.New("connection closed")
	ErrSendTimedOut = errors.New("connection send timed out")
)

// Notification is a persisted message addressed to one user.
type Notification struct {
	ID        string            `json:"id" bson:"_id"`
	UserID    string            `json:"userId" bson:"userId"`
	Type      string            `json:"type" bson:"type"`
	Title     string            `json:"title" bson:"title"`
	Message   string            `json:"message" bson:"message"`
	Link      string            `json:"link,omitempty" bson:"link,omitempty"`
	Read      bool              `json:"read" bson:"read"`
	ReadAt    *time.Time        `json:"readAt,omitempty" bson:"readAt,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt" bson:"createdAt"`
}

// Event is the frame pushed to a connection.
type Event struct {
	Type string       `json:"type"`
	Data Notification `json:"data"`
}

// Conn is one live duplex channel bound to a user. Send must honor ctx and
// return promptly once the connection is closed.
type Conn interface {
	ID() string
	Send(ctx context.Context, ev Event) error
}

// Relay forwards events to hub instances in other processes.
type Relay interface {
	Forward(ctx context.Context, userID string, ev Event) error
}

// ListResult is one page of a user's notifications, newest first.
type ListResult struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int64          `json:"unreadCount"`
}
