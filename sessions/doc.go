// Package sessions defines the durable session record at the heart of the
// parley engine and the storage contract it is persisted through.
//
// A Session is the only state that survives across the independent HTTP
// requests of one logical conversation: an outbound message queue, a ledger
// of pending server-to-client sub-requests awaiting answers, and a free-form
// metadata bag. The engine mutates sessions under a session-scoped lock and
// persists every ledger mutation before the HTTP response that caused it is
// considered complete, so a later request served by a different process sees
// the mutation.
//
// Store implementations live in the memstore, filestore and redistore
// subpackages. A Store only needs read-modify-write semantics per session id;
// cross-session transactions are never required.
package sessions
