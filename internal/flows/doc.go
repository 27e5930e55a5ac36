// Package flows contains the orchestration behind every Engine operation.
//
// Each Run function (RunRegister, RunLogin, RunForgotPassword, ...) takes a
// typed dependency struct and has no side effects beyond those dependencies.
// Tests drive the flows with in-memory fakes; the root Engine wires the real
// password hasher, token manager, stores, lockout guard, and notification hub.
//
// # Boundaries
//
// Flows never hold state between calls and never import the root package.
// All I/O is mediated through function fields. Missing required functions
// make a flow return Errors.EngineNotReady instead of panicking.
//
// Notifications raised by a flow are advisory: a failed publish is logged by
// the host and never changes the flow's outcome.
package flows
