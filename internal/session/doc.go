// Package session wires the synchronization core for one dashboard
// session: the state store, the subscription bus, the poll scheduler, and
// the stream connections. State is built from scratch on Start and
// discarded on Stop.
package session
