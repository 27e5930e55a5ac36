// Package password hashes and verifies account passwords.
//
// # Output format
//
// New hashes are argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Hashes written by the previous bcrypt-based deployment ($2a$, $2b$, $2y$)
// still verify. [Hasher.NeedsUpgrade] reports them, together with argon2id
// hashes produced under weaker parameters, so the caller can re-hash after
// the next successful login.
//
// # Boundaries
//
// Password policy (minimum length) is enforced by the Engine, not here. This
// package never stores, logs, or returns plaintext.
package password
