// Package stdio implements a single-connection driver over stdin and
// stdout. It is intended for embedding a handler as a subprocess, for
// local development, and for environments where piping JSON lines to a
// child process is simpler than running an HTTP server.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 peer
//	Auth             : none; the pipe itself is the trust boundary
//	Sessions         : one long-lived session for the whole connection
//	Framing          : newline-delimited JSON-RPC
//
// Every outbound message, including the sub-requests of a suspended
// execution, is written as one line; the peer answers by writing a
// response line with the matching correlation id. For multi-client,
// horizontally scalable deployments prefer the streaming HTTP driver.
package stdio
