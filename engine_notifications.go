package authcore

import (
	"context"
	"errors"

	"github.com/havosec/authcore/notify"
)

// CreateNotification persists n for userID and pushes it to the user's live
// connections.
func (e *Engine) CreateNotification(ctx context.Context, userID string, n Notification) (Notification, error) {
	out, err := e.hub.Publish(ctx, userID, n)
	if err != nil {
		e.metricInc(MetricNotificationFailed)
		return Notification{}, notificationError(err)
	}
	e.metricInc(MetricNotificationPublished)
	return out, nil
}

// PublishTemplate renders one of the built-in templates, for example
// notify.TemplateThreatDetected, and publishes it to userID.
func (e *Engine) PublishTemplate(ctx context.Context, userID string, t notify.Template, details map[string]string) (Notification, error) {
	return e.CreateNotification(ctx, userID, notify.Render(t, details, e.now()))
}

// ListNotifications returns up to limit of userID's notifications, newest
// first, along with the unread count.
func (e *Engine) ListNotifications(ctx context.Context, userID string, limit int, unreadOnly bool) (NotificationList, error) {
	if userID == "" {
		return NotificationList{}, validationError("user id required")
	}
	out, err := e.hub.List(ctx, userID, limit, unreadOnly)
	if err != nil {
		return NotificationList{}, notificationError(err)
	}
	return out, nil
}

// MarkNotificationRead marks one notification read. Notifications of other
// users are reported as ErrNotificationNotFound.
func (e *Engine) MarkNotificationRead(ctx context.Context, userID, id string) error {
	return notificationError(e.hub.MarkRead(ctx, userID, id))
}

// MarkAllNotificationsRead marks every unread notification of userID read and
// returns how many changed.
func (e *Engine) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	n, err := e.hub.MarkAllRead(ctx, userID)
	return n, notificationError(err)
}

// DeleteNotification removes one notification owned by userID.
func (e *Engine) DeleteNotification(ctx context.Context, userID, id string) error {
	return notificationError(e.hub.Delete(ctx, userID, id))
}

// ClearNotifications removes all of userID's notifications.
func (e *Engine) ClearNotifications(ctx context.Context, userID string) (int64, error) {
	n, err := e.hub.Clear(ctx, userID)
	return n, notificationError(err)
}

// RegisterConnection attaches a live connection to userID.
func (e *Engine) RegisterConnection(userID string, c notify.Conn) error {
	if err := e.hub.Register(userID, c); err != nil {
		return notificationError(err)
	}
	return nil
}

// UnregisterConnection detaches c. Unknown connections are ignored.
func (e *Engine) UnregisterConnection(userID string, c notify.Conn) {
	e.hub.Unregister(userID, c)
}

func notificationError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, notify.ErrNotFound):
		return ErrNotificationNotFound
	case errors.Is(err, notify.ErrInvalid):
		return validationError(err.Error())
	}
	return internalError(err)
}
