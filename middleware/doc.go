// Package middleware adapts Engine session validation to net/http.
//
// [Guard] reads the Authorization bearer token, calls Engine.ValidateScope,
// and stores the claims on the request context. [RequireAdmin] and
// [RequireClient] pin the scope. [ClientContext] copies the caller's IP and
// User-Agent into the context for audit events.
//
// The package makes no authentication decisions of its own.
package middleware
