// Package notify stores user notifications and pushes them to live
// connections.
//
// A [Hub] keeps a registry of connections per user. Publish persists the
// notification first and then hands a copy to every registered connection of
// that user on its own goroutine with a bounded send. A slow or closed
// connection only loses its own copy. The publisher never waits for delivery
// and never retries.
//
// Connections are owned by the transport that created them; the hub holds
// references only and forgets them on Unregister.
//
// With a [Relay] configured, published events are also forwarded to other
// instances, which deliver them to their local connections via [Hub.Deliver].
package notify
