// Package stores owns the persisted records the auth flows touch: identities
// and single-use ephemeral tokens (password reset, email verification).
//
// # Design
//
// Every record lives in a named collection of a store.Store. Ephemeral tokens
// are stored only as a SHA-256 hash; redemption relies on the backend's
// FindOneAndDelete so exactly one of any number of racing redeemers wins.
//
// # What this package must NOT do
//
//   - Import authcore or any sibling internal package other than the token helpers.
//   - Log or persist plaintext tokens.
//   - Decide authentication outcomes; the flows in internal/flows do that.
package stores
