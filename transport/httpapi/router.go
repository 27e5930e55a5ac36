// Package httpapi serves the authentication and notification endpoints over
// HTTP with chi.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/havosec/authcore"
	"github.com/havosec/authcore/middleware"
	"github.com/sirupsen/logrus"
)

// Options configures the router. Zero values are usable.
type Options struct {
	Logger logrus.FieldLogger
	// AllowedOrigins restricts websocket upgrades by Origin header. Empty
	// allows any origin.
	AllowedOrigins []string
	// Metrics, when set, is mounted at /metrics.
	Metrics http.Handler
	// RequestTimeout bounds every non-websocket request.
	RequestTimeout time.Duration
}

// Server holds the handlers. Build it with NewRouter.
type Server struct {
	engine   *authcore.Engine
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

// NewRouter returns the full HTTP surface:
//
//	/api/health
//	/api/auth/*            client registration, login, reset and verification
//	/api/admin/auth/*      admin login
//	/api/notifications/*   per-user notifications and the websocket feed
//	/metrics               when Options.Metrics is set
func NewRouter(engine *authcore.Engine, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		engine: engine,
		log:    log.WithField("component", "httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.ClientContext)

	r.Get("/api/health", s.health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	// The websocket route must not run under the request timeout.
	r.Get("/api/notifications/ws", s.notificationSocket)

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(timeout))

		r.Route("/api/auth", func(r chi.Router) {
			r.Post("/register", s.register)
			r.Post("/login", s.login)
			r.Get("/me", s.me(""))

			r.Post("/forgot-password", s.forgotPassword)
			r.Post("/verify-reset-token", s.verifyResetToken)
			r.Post("/reset-password", s.resetPassword)
			r.Post("/send-verification", s.sendVerification)
			r.Post("/verify-email", s.verifyEmail)
			r.Get("/verification-status/{email}", s.verificationStatus)
		})

		r.Route("/api/admin/auth", func(r chi.Router) {
			r.Post("/login", s.adminLogin)
			r.Get("/me", s.me(adminScope))
		})

		r.Route("/api/notifications", func(r chi.Router) {
			r.With(middleware.RequireAdmin(engine)).Post("/", s.createNotification)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Guard(engine, ""))
				r.Get("/", s.listNotifications)
				r.Delete("/", s.clearNotifications)
				r.Put("/mark-all-read", s.markAllRead)
				r.Put("/{id}/read", s.markRead)
				r.Delete("/{id}", s.deleteNotification)
			})
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": chimw.GetReqID(r.Context()),
		}).Debug("request")
	})
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
