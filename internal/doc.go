// Package internal holds helpers private to authcore: opaque token
// generation and the hashing used to store tokens at rest.
//
// # Sub-packages
//
//   - audit: async security-event dispatch (Dispatcher and Sink implementations)
//   - flows: orchestrators for every Engine operation, fed by injected dependencies
//   - limiters: the login lockout guard
//   - stores: identity and ephemeral-token persistence over store.Store
package internal
