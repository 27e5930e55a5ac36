package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/havosec/authcore"
	"github.com/havosec/authcore/notify"
	"github.com/havosec/authcore/store"
	"github.com/havosec/authcore/store/memstore"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	engine *authcore.Engine
	srv    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := authcore.DefaultConfig()
	cfg.Session.AdminSecret = []byte("admin-secret-0123456789abcdef")
	cfg.Session.ClientSecret = []byte("client-secret-0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	logger, _ := test.NewNullLogger()
	engine, err := authcore.New().
		WithConfig(cfg).
		WithStore(memstore.New(memstore.WithUniqueIndex(store.CollIdentities, "email"))).
		WithLogger(logger).
		Build()
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(engine, Options{
		Logger:  logger,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) }),
	}))
	t.Cleanup(func() {
		srv.Close()
		engine.Close()
	})
	return &fixture{engine: engine, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (f *fixture) register(t *testing.T, email string) string {
	t.Helper()
	status, body := f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": email, "password": "correct-horse", "firstName": "Grace", "lastName": "Hopper", "company": "Navy",
	})
	require.Equal(t, http.StatusCreated, status, body)
	return body["token"].(string)
}

func (f *fixture) adminToken(t *testing.T) string {
	t.Helper()
	_, err := f.engine.CreateIdentity(context.Background(), authcore.SeedIdentity{
		Email: "admin@example.com", Password: "admin-horse-1", Role: "admin",
	})
	require.NoError(t, err)
	status, body := f.do(t, http.MethodPost, "/api/admin/auth/login", "", map[string]string{
		"email": "admin@example.com", "password": "admin-horse-1",
	})
	require.Equal(t, http.StatusOK, status, body)
	return body["token"].(string)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRegisterLoginMe(t *testing.T) {
	f := newFixture(t)
	token := f.register(t, "grace@example.com")

	status, body := f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "GRACE@example.com", "password": "correct-horse", "firstName": "G", "lastName": "H", "company": "N",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "user already exists with this email", body["detail"])

	status, body = f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": "x@example.com"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "all fields are required", body["detail"])

	status, body = f.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, status, body)
	user := body["user"].(map[string]any)
	assert.Equal(t, "grace@example.com", user["email"])
	assert.Equal(t, "viewer", user["role"])

	status, _ = f.do(t, http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = f.do(t, http.MethodGet, "/api/admin/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "grace@example.com", "password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["token"])
}

func TestLoginStatusCodes(t *testing.T) {
	f := newFixture(t)
	f.register(t, "locked@example.com")

	wrong := map[string]string{"email": "locked@example.com", "password": "wrong-horse"}
	for i := 0; i < 5; i++ {
		status, body := f.do(t, http.MethodPost, "/api/auth/login", "", wrong)
		require.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "invalid credentials", body["detail"])
	}

	status, _ := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "locked@example.com", "password": "correct-horse",
	})
	assert.Equal(t, http.StatusLocked, status)

	status, _ = f.do(t, http.MethodPost, "/api/admin/auth/login", "", map[string]string{
		"email": "locked@example.com", "password": "correct-horse",
	})
	assert.Equal(t, http.StatusUnauthorized, status, "client identities never reach the admin lock check")

	status, body := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "", "password": ""})
	assert.Equal(t, http.StatusBadRequest, status, body)
}

func TestPasswordResetEndpoints(t *testing.T) {
	f := newFixture(t)
	f.register(t, "reset@example.com")

	_, known := f.do(t, http.MethodPost, "/api/auth/forgot-password", "", map[string]string{"email": "reset@example.com"})
	_, unknown := f.do(t, http.MethodPost, "/api/auth/forgot-password", "", map[string]string{"email": "nobody@example.com"})
	assert.Equal(t, known, unknown)
	assert.NotContains(t, known, "token")

	status, _ := f.do(t, http.MethodPost, "/api/auth/verify-reset-token", "", map[string]string{"token": "bogus"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodPost, "/api/auth/reset-password", "", map[string]string{"token": "bogus", "newPassword": "brand-new-horse"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestEmailVerificationEndpoints(t *testing.T) {
	f := newFixture(t)
	f.register(t, "verify@example.com")

	status, body := f.do(t, http.MethodPost, "/api/auth/send-verification", "", map[string]string{"email": "verify@example.com"})
	require.Equal(t, http.StatusOK, status, body)
	token := body["token"].(string)

	status, body = f.do(t, http.MethodPost, "/api/auth/verify-email", "", map[string]string{"token": token})
	require.Equal(t, http.StatusOK, status, body)

	status, body = f.do(t, http.MethodGet, "/api/auth/verification-status/verify@example.com", "", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["verified"])

	status, body = f.do(t, http.MethodPost, "/api/auth/send-verification", "", map[string]string{"email": "verify@example.com"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "Email is already verified", body["message"])

	status, _ = f.do(t, http.MethodGet, "/api/auth/verification-status/missing@example.com", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestNotificationEndpoints(t *testing.T) {
	f := newFixture(t)
	token := f.register(t, "notes@example.com")

	status, body := f.do(t, http.MethodGet, "/api/notifications/", token, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 1, body["unreadCount"])
	notes := body["notifications"].([]any)
	require.Len(t, notes, 1)
	id := notes[0].(map[string]any)["id"].(string)

	status, _ = f.do(t, http.MethodPut, "/api/notifications/"+id+"/read", token, nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = f.do(t, http.MethodGet, "/api/notifications/?unread_only=true", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, body["total"])

	status, _ = f.do(t, http.MethodDelete, "/api/notifications/"+id, token, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = f.do(t, http.MethodDelete, "/api/notifications/"+id, token, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = f.do(t, http.MethodPost, "/api/notifications/", token, map[string]string{"userId": "x", "title": "t", "message": "m"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = f.do(t, http.MethodGet, "/api/notifications/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestNotificationSocketReceivesPublished(t *testing.T) {
	f := newFixture(t)
	token := f.register(t, "live@example.com")
	admin := f.adminToken(t)

	claims, err := f.engine.Validate(context.Background(), token)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/notifications/ws?token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool {
		return f.engine.Hub().Connections(claims.UID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	status, body := f.do(t, http.MethodPost, "/api/notifications/", admin, map[string]string{
		"userId": claims.UID, "type": "warning", "title": "Scan finished", "message": "2 issues",
	})
	require.Equal(t, http.StatusCreated, status, body)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev notify.Event
	require.NoError(t, ws.ReadJSON(&ev))
	assert.Equal(t, notify.EventNotification, ev.Type)
	assert.Equal(t, "Scan finished", ev.Data.Title)
}

func TestNotificationSocketRequiresToken(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/notifications/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(authcore.ErrTokenExpired, false))
	assert.Equal(t, http.StatusUnauthorized, statusFor(authcore.ErrTokenExpired, true))
	assert.Equal(t, http.StatusForbidden, statusFor(authcore.ErrAccountDeactivated, false))
	assert.Equal(t, http.StatusLocked, statusFor(authcore.ErrAccountLocked, false))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError, false))
}
