package engine

import (
	"errors"
	"fmt"

	"github.com/parleyproto/parley/internal/jsonrpc"
)

var (
	// ErrSessionBusy is returned by Dispatch when the session already
	// has an execution in flight and the inbound batch carries at
	// least one new request.
	ErrSessionBusy = errors.New("session has an execution in flight")

	// ErrSessionEnded is delivered to suspended callers when their
	// session is terminated out from under them.
	ErrSessionEnded = errors.New("session ended")
)

// Error is a protocol-level error a handler can return to control the
// error object sent back to the client. Any other error returned by a
// handler is reported to the client as an opaque internal error.
type Error struct {
	Code    int
	Message string
	Data    any
}

func (e *Error) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

// NewError builds a protocol error with the given code and message.
func NewError(code int, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// RequestTimedOutError is delivered to a suspended caller when its
// sub-request's deadline passes before the client answers. Handlers
// may inspect the correlation id to decide whether to retry.
type RequestTimedOutError struct {
	CorrelationID string
}

func (e *RequestTimedOutError) Error() string {
	return fmt.Sprintf("request %s timed out awaiting a reply", e.CorrelationID)
}

// ClientError carries the error object a client attached to its reply
// to a sub-request.
type ClientError struct {
	Code    int
	Message string
	Data    any
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("client replied with error %d: %s", e.Code, e.Message)
}

func clientErrorFrom(je *jsonrpc.Error) *ClientError {
	return &ClientError{Code: int(je.Code), Message: je.Message, Data: je.Data}
}

// respError maps a handler error onto the wire error object.
func respError(err error) *jsonrpc.Error {
	var pe *Error
	if errors.As(err, &pe) {
		return &jsonrpc.Error{Code: jsonrpc.ErrorCode(pe.Code), Message: pe.Message, Data: pe.Data}
	}
	var te *RequestTimedOutError
	if errors.As(err, &te) {
		return &jsonrpc.Error{
			Code:    jsonrpc.CodeRequestTimedOut,
			Message: "request timed out",
			Data:    map[string]string{"correlationId": te.CorrelationID},
		}
	}
	return &jsonrpc.Error{Code: jsonrpc.CodeInternalError, Message: "internal error"}
}
