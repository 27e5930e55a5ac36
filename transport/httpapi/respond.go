package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/havosec/authcore"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 64 << 10

type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

// statusFor maps an engine error to its HTTP status. session selects the
// mapping for bearer session failures, where every token error is a 401.
func statusFor(err error, session bool) int {
	switch authcore.KindOf(err) {
	case authcore.KindValidation:
		return http.StatusBadRequest
	case authcore.KindAuthentication:
		switch {
		case errors.Is(err, authcore.ErrAccountLocked):
			return http.StatusLocked
		case errors.Is(err, authcore.ErrAccountDeactivated):
			return http.StatusForbidden
		case !session && (errors.Is(err, authcore.ErrTokenExpired) || errors.Is(err, authcore.ErrTokenNotFound)):
			// Emailed tokens are request input, not credentials.
			return http.StatusBadRequest
		}
		return http.StatusUnauthorized
	case authcore.KindNotFound:
		return http.StatusNotFound
	case authcore.KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.respondError(w, r, err, false)
}

func (s *Server) failSession(w http.ResponseWriter, r *http.Request, err error) {
	s.respondError(w, r, err, true)
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, session bool) {
	status := statusFor(err, session)
	detail := "internal error"
	var tagged *authcore.Error
	if errors.As(err, &tagged) {
		detail = tagged.Message
	}
	if status == http.StatusInternalServerError {
		s.log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
		detail = "internal error"
	}
	writeDetail(w, status, detail)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
