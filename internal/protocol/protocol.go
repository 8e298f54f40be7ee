// Package protocol implements JSON-RPC 2.0 message construction and
// validation for the MCP wire contract. Everything here is a pure function
// over Frame values; no I/O, no state.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Version is the fixed JSON-RPC version tag carried by every frame.
const Version = "2.0"

// Standard JSON-RPC 2.0 error codes. These are part of the wire contract
// and must match what a generic peer expects, byte for byte.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// MessageKind classifies a validated frame.
type MessageKind string

const (
	KindRequest      MessageKind = "request"
	KindNotification MessageKind = "notification"
	KindResponse     MessageKind = "response"
	KindError        MessageKind = "error"
)

// Error is a JSON-RPC protocol-level error. It doubles as the error value
// handlers return to signal a protocol failure (as opposed to a tool-level
// failure, which is reported inside a normal result payload).
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError builds a protocol error with the given code.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Frame is one decoded protocol message. Raw fields keep presence
// information: a nil json.RawMessage means the key was absent, which is
// distinct from an explicit null (relevant for id and result).
type Frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// HasID reports whether the frame carries an id field.
// Requests and responses carry ids; notifications never do.
func (f *Frame) HasID() bool {
	return len(f.ID) > 0
}

// CorrelationID returns the frame's id as a string usable as a lineage key.
// Numeric and string ids normalize to the same text ("1" for both 1 and "1"
// never collide in practice because a JSON-RPC peer sticks to one id type).
// Returns "" when the frame has no id.
func (f *Frame) CorrelationID() string {
	if !f.HasID() {
		return ""
	}
	var v any
	if err := json.Unmarshal(f.ID, &v); err != nil {
		return strings.TrimSpace(string(f.ID))
	}
	switch id := v.(type) {
	case string:
		return id
	case float64:
		// Ids are integers in every MCP client; render without the decimal.
		if id == float64(int64(id)) {
			return fmt.Sprintf("%d", int64(id))
		}
		return fmt.Sprintf("%g", id)
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", id)
	}
}

// Validate classifies a decoded frame as a request, notification, response
// or error, or fails with an invalid-request protocol error when the
// version tag is wrong or none of the four shapes hold.
func Validate(f *Frame) (MessageKind, error) {
	if f == nil {
		return "", NewError(CodeInvalidRequest, "message must be a JSON object")
	}
	if f.JSONRPC != Version {
		return "", NewError(CodeInvalidRequest, fmt.Sprintf("expected jsonrpc=%s", Version))
	}

	switch {
	case f.Method != "":
		if f.HasID() {
			return KindRequest, nil
		}
		return KindNotification, nil
	case f.Result != nil && f.HasID():
		return KindResponse, nil
	case f.Error != nil && f.HasID():
		return KindError, nil
	default:
		return "", NewError(CodeInvalidRequest, "cannot determine message type")
	}
}

// MakeResponse builds a success response frame for the given request id.
// The result is marshaled immediately; a marshal failure is a programming
// error surfaced to the caller rather than silently producing a bad frame.
func MakeResponse(id json.RawMessage, result any) (*Frame, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal result: %w", err)
	}
	return &Frame{JSONRPC: Version, ID: normalizeID(id), Result: raw}, nil
}

// MakeError builds an error response frame. A nil id produces "id":null,
// per the JSON-RPC convention for errors that cannot be correlated.
func MakeError(id json.RawMessage, code int, message string, data any) *Frame {
	return &Frame{
		JSONRPC: Version,
		ID:      normalizeID(id),
		Error:   &Error{Code: code, Message: message, Data: data},
	}
}

// MakeNotification builds a notification frame (no id, no response expected).
func MakeNotification(method string, params any) (*Frame, error) {
	f := &Frame{JSONRPC: Version, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal params: %w", err)
		}
		f.Params = raw
	}
	return f, nil
}

// normalizeID maps an absent id to an explicit null so that error responses
// always serialize an id field.
func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

// Encode serializes a frame into its exact on-wire form, without the
// trailing newline (the transport owns framing).
func Encode(f *Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode frame: %w", err)
	}
	return data, nil
}
