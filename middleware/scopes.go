package middleware

import (
	"net/http"

	"github.com/havosec/authcore"
	"github.com/havosec/authcore/jwt"
)

// RequireAdmin accepts only sessions signed with the admin secret.
func RequireAdmin(engine *authcore.Engine) func(http.Handler) http.Handler {
	return Guard(engine, jwt.ScopeAdmin)
}

// RequireClient accepts only sessions signed with the client secret.
func RequireClient(engine *authcore.Engine) func(http.Handler) http.Handler {
	return Guard(engine, jwt.ScopeClient)
}
