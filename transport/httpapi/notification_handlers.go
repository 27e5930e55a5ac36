package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/havosec/authcore"
	"github.com/havosec/authcore/middleware"
	"github.com/havosec/authcore/transport/wsconn"
)

type createNotificationRequest struct {
	UserID  string            `json:"userId"`
	Type    string            `json:"type"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Link    string            `json:"link"`
	Meta    map[string]string `json:"metadata"`
}

func userID(r *http.Request) string {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return ""
	}
	return claims.UID
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeDetail(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	unreadOnly, _ := strconv.ParseBool(q.Get("unread_only"))

	list, err := s.engine.ListNotifications(r.Context(), userID(r), limit, unreadOnly)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": list.Notifications,
		"unreadCount":   list.UnreadCount,
		"total":         len(list.Notifications),
	})
}

func (s *Server) createNotification(w http.ResponseWriter, r *http.Request) {
	var req createNotificationRequest
	if !decode(w, r, &req) {
		return
	}
	n, err := s.engine.CreateNotification(r.Context(), req.UserID, authcore.Notification{
		Type:     req.Type,
		Title:    req.Title,
		Message:  req.Message,
		Link:     req.Link,
		Metadata: req.Meta,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "notification": n})
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.MarkNotificationRead(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Marked as read"})
}

func (s *Server) markAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.MarkAllNotificationsRead(r.Context(), userID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "markedRead": n})
}

func (s *Server) deleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteNotification(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Notification deleted"})
}

func (s *Server) clearNotifications(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.ClearNotifications(r.Context(), userID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": n})
}

// notificationSocket upgrades to a websocket bound to the session owner.
// Browsers cannot set headers on the upgrade request, so the session token
// may also come in the token query parameter.
func (s *Server) notificationSocket(w http.ResponseWriter, r *http.Request) {
	token, ok := bearer(r)
	if !ok {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		writeDetail(w, http.StatusUnauthorized, "No token provided")
		return
	}
	claims, err := s.engine.Validate(r.Context(), token)
	if err != nil {
		s.failSession(w, r, err)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the response.
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	conn := wsconn.New(ws, s.log.WithField("user_id", claims.UID))
	if err := s.engine.RegisterConnection(claims.UID, conn); err != nil {
		s.log.WithError(err).Warn("websocket registration rejected")
		conn.Close()
		return
	}
	conn.Run(func() {
		s.engine.UnregisterConnection(claims.UID, conn)
	})
}
