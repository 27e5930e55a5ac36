// Package limiters holds the login lockout guard.
//
// The guard keeps its state on the identity document itself (loginAttempts,
// lockUntil, lastLogin) and mutates it only through atomic store updates, so
// concurrent failing logins never lose an increment to a read-modify-write.
//
// All methods are nil-safe: a nil guard never locks anyone out.
//
// # What this package must NOT do
//
//   - Import authcore or any sibling internal package.
//   - Decide what a lock means for the caller; the login flow does that.
package limiters
