// Package jsonrpc implements the minimal JSON-RPC 2.0 envelope the parley
// engine needs for correlation: typed message classification (request,
// notification, response), ids that may be strings or numbers, and batch
// decoding. Payload schemas beyond the envelope are the caller's concern.
package jsonrpc

// Version is the only supported JSON-RPC protocol version.
const Version = "2.0"

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// CodeParseError indicates the body was not valid JSON.
	CodeParseError ErrorCode = -32700
	// CodeInvalidRequest indicates the JSON is not a valid request object.
	CodeInvalidRequest ErrorCode = -32600
	// CodeMethodNotFound indicates the method does not exist.
	CodeMethodNotFound ErrorCode = -32601
	// CodeInvalidParams indicates invalid method parameters.
	CodeInvalidParams ErrorCode = -32602
	// CodeInternalError indicates an internal JSON-RPC error.
	CodeInternalError ErrorCode = -32603
	// CodeRequestTimedOut indicates a server-issued sub-request expired
	// before the client answered it.
	CodeRequestTimedOut ErrorCode = -32001
)

// Error is a JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}
