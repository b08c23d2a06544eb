package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind classifies a decoded message.
type Kind string

const (
	KindRequest      Kind = "request"
	KindNotification Kind = "notification"
	KindResponse     Kind = "response"
)

// AnyMessage is a decoded JSON-RPC message of unknown kind. Decoding
// validates version and structural shape; use Kind, AsRequest and AsResponse
// to dispatch.
type AnyMessage struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *ID             `json:"id,omitempty"`
}

// Request is a JSON-RPC request (ID set) or notification (ID nil).
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *ID             `json:"id,omitempty"`
}

// Response is a JSON-RPC response carrying exactly one of Result or Error.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *ID             `json:"id,omitempty"`
}

// NewResultResponse builds a successful response, marshaling result.
func NewResultResponse(id *ID, result any) (*Response, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Response{JSONRPCVersion: Version, Result: b, ID: id}, nil
}

// NewErrorResponse builds an error response with the given code.
func NewErrorResponse(id *ID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: Version,
		Error:          &Error{Code: code, Message: message, Data: data},
		ID:             id,
	}
}

// NewRequest builds a request with the given id, marshaling params. A nil
// params omits the field entirely.
func NewRequest(id *ID, method string, params any) (*Request, error) {
	req := &Request{JSONRPCVersion: Version, Method: method, ID: id}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = b
	}
	return req, nil
}

// NewNotification builds a notification, marshaling params. A nil params
// omits the field entirely.
func NewNotification(method string, params any) (*Request, error) {
	req := &Request{JSONRPCVersion: Version, Method: method}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = b
	}
	return req, nil
}

func (m *AnyMessage) UnmarshalJSON(data []byte) error {
	type raw AnyMessage
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if r.JSONRPCVersion != Version {
		return fmt.Errorf("invalid JSON-RPC version: expected %q, got %q", Version, r.JSONRPCVersion)
	}

	hasMethod := r.Method != ""
	hasResult := len(r.Result) > 0
	hasError := r.Error != nil

	if hasMethod {
		if hasResult || hasError {
			return fmt.Errorf("request cannot carry result or error")
		}
	} else {
		if hasResult && hasError {
			return fmt.Errorf("response cannot carry both result and error")
		}
		if !hasResult && !hasError {
			return fmt.Errorf("response must carry result or error")
		}
	}

	*m = AnyMessage(r)
	return nil
}

// Kind classifies the message.
func (m *AnyMessage) Kind() Kind {
	if m.Method != "" {
		if m.ID.IsNil() {
			return KindNotification
		}
		return KindRequest
	}
	return KindResponse
}

// AsRequest returns the request view of the message, or nil for responses.
// Notifications are requests with a nil ID.
func (m *AnyMessage) AsRequest() *Request {
	if m.Method == "" {
		return nil
	}
	return &Request{JSONRPCVersion: m.JSONRPCVersion, Method: m.Method, Params: m.Params, ID: m.ID}
}

// AsResponse returns the response view of the message, or nil for requests.
func (m *AnyMessage) AsResponse() *Response {
	if m.Method != "" {
		return nil
	}
	return &Response{JSONRPCVersion: m.JSONRPCVersion, Result: m.Result, Error: m.Error, ID: m.ID}
}

// DecodeEnvelope decodes a request body that is either a single JSON-RPC
// message or a batch array of them. Empty batches are rejected. The batch
// flag lets the transport preserve the caller's framing in its reply.
func DecodeEnvelope(data []byte) (msgs []*AnyMessage, batch bool, err error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, false, fmt.Errorf("empty body")
	}
	if trimmed[0] == '[' {
		var arr []*AnyMessage
		if err := json.Unmarshal(data, &arr); err != nil {
			return nil, true, err
		}
		if len(arr) == 0 {
			return nil, true, fmt.Errorf("empty batch")
		}
		return arr, true, nil
	}
	var one AnyMessage
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, false, err
	}
	return []*AnyMessage{&one}, false, nil
}
