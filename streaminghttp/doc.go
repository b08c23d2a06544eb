// Package streaminghttp exposes a session-correlated engine over plain
// HTTP. A POST either answers immediately with JSON or, when the
// handler suspends on a sub-request, upgrades the reply to a
// Server-Sent-Events stream that stays open until the execution
// settles. DELETE terminates a session; OPTIONS serves CORS preflight
// without touching authentication or session state.
package streaminghttp
