// Package jsonrpc holds the JSON-RPC 2.0 wire types shared between the
// dispatch runtime and any transport that feeds requests into it.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

const Version = "2.0"

// Well-known error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeCallFailed     = -32000
	CodeServerBusy     = -32604
)

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// DefaultMessage returns the standard message text for a well-known code.
func DefaultMessage(code int) string {
	switch code {
	case CodeParseError:
		return "parse error"
	case CodeInvalidRequest:
		return "invalid request"
	case CodeMethodNotFound:
		return "method not found"
	case CodeInvalidParams:
		return "invalid params"
	case CodeInternalError:
		return "internal error"
	case CodeCallFailed:
		return "call execution failed"
	case CodeServerBusy:
		return "server is busy"
	}
	return "server error"
}

// NewResponse serializes a success response for the given request id.
func NewResponse(id json.RawMessage, result any) (string, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(Response{JSONRPC: Version, ID: id, Result: raw})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// NewErrorResponse serializes an error response. Serialization of the fixed
// envelope cannot fail.
func NewErrorResponse(id json.RawMessage, code int, message string) string {
	out, err := json.Marshal(Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	})
	if err != nil {
		return `{"jsonrpc":"2.0","error":{"code":-32603,"message":"internal error"}}`
	}
	return string(out)
}
