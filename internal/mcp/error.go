package mcp

import (
	"fmt"
)

// enum ErrorCode {
// 	// Standard JSON-RPC error codes
// 	ParseError = -32700,
// 	InvalidRequest = -32600,
// 	MethodNotFound = -32601,
// 	InvalidParams = -32602,
// 	InternalError = -32603
// }

// Error
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

var (
	ErrParseError     = &Error{Code: -32700, Message: "Parse error"}
	ErrInvalidRequest = &Error{Code: -32600, Message: "Invalid Request"}
	ErrMethodNotFound = &Error{Code: -32601, Message: "Method not found"}
	ErrInvalidParams  = &Error{Code: -32602, Message: "Invalid params"}
	ErrInternalError  = &Error{Code: -32603, Message: "Internal error"}

	// Reserved implementation-defined range. Auth failures are reported here
	// so callers can tell them apart from envelope problems.
	ErrUnauthorized = &Error{Code: -32000, Message: "Unauthorized"}
)

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

func NewErrorResponse(id interface{}, code int, err error) *Response {
	return &Response{
		JsonRPC: JsonRPCVersion,
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: err.Error(),
		},
	}
}

// ErrResponse pairs a standard error with a request id.
func (e *Error) Response(id interface{}) *Response {
	return &Response{
		JsonRPC: JsonRPCVersion,
		ID:      id,
		Error:   e,
	}
}
