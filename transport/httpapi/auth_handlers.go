package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/havosec/authcore"
	"github.com/havosec/authcore/jwt"
)

const adminScope = jwt.ScopeAdmin

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Success   bool             `json:"success"`
	Message   string           `json:"message"`
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expiresAt"`
	User      authcore.Profile `json:"user"`
}

type registerResponse struct {
	sessionResponse
	VerificationToken string `json:"verificationToken,omitempty"`
	VerificationLink  string `json:"verificationLink,omitempty"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type resetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req authcore.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.engine.Register(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{
		sessionResponse: sessionResponse{
			Success:   true,
			Message:   "User created successfully",
			Token:     res.Session.Token,
			ExpiresAt: res.Session.ExpiresAt,
			User:      res.Profile,
		},
		VerificationToken: res.VerificationToken,
		VerificationLink:  res.VerificationLink,
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	s.doLogin(w, r, s.engine.Login)
}

func (s *Server) adminLogin(w http.ResponseWriter, r *http.Request) {
	s.doLogin(w, r, s.engine.AdminLogin)
}

func (s *Server) doLogin(w http.ResponseWriter, r *http.Request, login func(ctx context.Context, email, password string) (*authcore.LoginResult, error)) {
	var req credentials
	if !decode(w, r, &req) {
		return
	}
	res, err := login(r.Context(), req.Email, req.Password)
	req.Password = ""
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Success:   true,
		Message:   "Login successful",
		Token:     res.Session.Token,
		ExpiresAt: res.Session.ExpiresAt,
		User:      res.Profile,
	})
}

func (s *Server) me(scope jwt.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearer(r)
		if !ok {
			writeDetail(w, http.StatusUnauthorized, "No token provided")
			return
		}
		profile, err := s.engine.MeScope(r.Context(), token, scope)
		if err != nil {
			s.failSession(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": profile})
	}
}

func (s *Server) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decode(w, r, &req) {
		return
	}
	msg, err := s.engine.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) verifyResetToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decode(w, r, &req) {
		return
	}
	status, err := s.engine.VerifyResetToken(r.Context(), req.Token)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decode(w, r, &req) {
		return
	}
	err := s.engine.ResetPassword(r.Context(), req.Token, req.NewPassword)
	req.NewPassword = ""
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Password reset successful"})
}

func (s *Server) sendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decode(w, r, &req) {
		return
	}
	issued, err := s.engine.SendVerification(r.Context(), req.Email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if issued.AlreadyVerified {
		writeJSON(w, http.StatusOK, map[string]any{"message": "Email is already verified", "alreadyVerified": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":          "Verification email sent",
		"verificationLink": issued.Link,
		"token":            issued.Token,
		"expiresAt":        issued.ExpiresAt,
	})
}

func (s *Server) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decode(w, r, &req) {
		return
	}
	email, err := s.engine.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Email verified successfully", "email": email})
}

func (s *Server) verificationStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.VerificationStatus(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func bearer(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	return token, token != ""
}
