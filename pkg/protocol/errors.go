package protocol

import (
	"encoding/json"
	"fmt"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// RPCError is the error object carried by a worker error response. It
// implements error so callers can discriminate worker-reported failures
// with errors.As.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if len(e.Data) > 0 && string(e.Data) != "null" {
		return fmt.Sprintf("worker error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("worker error %d: %s", e.Code, e.Message)
}

// NewRPCError builds an RPCError, marshalling data when non-nil. Data that
// cannot be marshalled is replaced by its fmt representation.
func NewRPCError(code int, message string, data any) *RPCError {
	e := &RPCError{Code: code, Message: message}
	if data == nil {
		return e
	}
	raw, err := json.Marshal(data)
	if err != nil {
		raw, _ = json.Marshal(fmt.Sprint(data))
	}
	e.Data = raw
	return e
}
