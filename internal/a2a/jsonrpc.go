package a2a

import (
	"encoding/json"
	"fmt"
)

// JSONRPCVersion is the only accepted "jsonrpc" value.
const JSONRPCVersion = "2.0"

// Method names.
const (
	MethodMessageSend   = "message/send"
	MethodMessageStream = "message/stream"
	MethodTasksGet      = "tasks/get"
	MethodTasksCancel   = "tasks/cancel"
)

// JSON-RPC and A2A error codes.
const (
	CodeParseError        = -32700
	CodeInvalidRequest    = -32600
	CodeMethodNotFound    = -32601
	CodeInvalidParams     = -32602
	CodeInternalError     = -32603
	CodeTaskNotFound      = -32001
	CodeTaskNotCancelable = -32002
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string { return fmt.Sprintf("jsonrpc %d: %s", e.Code, e.Message) }

// NewError builds an Error.
func NewError(code int, msg string, data any) *Error {
	return &Error{Code: code, Message: msg, Data: data}
}

// Result wraps a successful result for id.
func Result(id json.RawMessage, result any) Response {
	return Response{JSONRPC: JSONRPCVersion, ID: normalizeID(id), Result: result}
}

// ErrorResponse wraps err for id.
func ErrorResponse(id json.RawMessage, err *Error) Response {
	return Response{JSONRPC: JSONRPCVersion, ID: normalizeID(id), Error: err}
}

// Validate checks the envelope. It does not look at params.
func (r Request) Validate() *Error {
	if r.JSONRPC != JSONRPCVersion {
		return NewError(CodeInvalidRequest, "Invalid Request", `"jsonrpc" must be "2.0"`)
	}
	if r.Method == "" {
		return NewError(CodeInvalidRequest, "Invalid Request", `"method" is required`)
	}
	if len(r.ID) > 0 {
		switch r.ID[0] {
		case '"', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 'n':
		default:
			return NewError(CodeInvalidRequest, "Invalid Request", `"id" must be a string, number or null`)
		}
	}
	return nil
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}
