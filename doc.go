// Package authcore is the authentication and session-security core of the
// marketing-site backend: registration, login with brute-force lockout,
// stateless session tokens, single-use password reset and email verification
// tokens, and real-time security notifications.
//
// Build an [Engine] with [Builder]:
//
//	engine, err := authcore.New().
//		WithConfig(cfg).
//		WithStore(db).
//		WithLogger(log).
//		Build()
//
// Engine methods are safe for concurrent use. Every failure is an [*Error]
// tagged with a [Kind] (and, for authentication failures, a [Reason]) that a
// transport maps to a status code; match them with errors.Is against the
// package sentinels.
//
// # Boundaries
//
// Persistence is the [store.Store] interface; the Engine never talks to a
// database driver directly. Session tokens are not persisted and are not
// individually revocable. The Engine never logs passwords, hashes, or tokens.
package authcore
