// Package audit implements async dispatch of security events.
//
// # Components
//
//   - [Sink]: event consumer (channel, JSON writer, logrus, store, fan-out, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event]: structured record with id, timestamp, type, user, IP, and metadata.
//
// The Engine and the flows decide which events to emit. This package only
// buffers and delivers them.
package audit
