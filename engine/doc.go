// Package engine drives application handlers over a durable session
// ledger. A handler runs once per inbound request; whenever it needs
// something from the client it issues a sub-request through the
// [Client] it was handed, which suspends the handler's goroutine until
// the answer arrives on a later HTTP exchange (or the sub-request
// times out). The engine records every outstanding sub-request in the
// session's pending ledger so that correlation survives process
// restarts when a durable [sessions.Store] is configured.
package engine
