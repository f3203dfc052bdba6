// Package protocol defines the newline-delimited JSON-RPC 2.0 wire format
// spoken between the bridge and its worker process, along with the constants
// both sides agree on (env var names, error codes, method names).
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the only JSON-RPC version spoken on the wire.
const Version = "2.0"

// Request is a single call sent to the worker. It is encoded as exactly one
// JSON object followed by a newline.
type Request struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

// NewRequest builds a Request with the version field set. A nil params map is
// replaced with an empty one so the worker always sees an object.
func NewRequest(id int64, method string, params map[string]any) Request {
	if params == nil {
		params = map[string]any{}
	}
	return Request{
		JSONRPC: Version,
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// Response is a single reply read from the worker's stdout. Exactly one of
// Result or Error is meaningful. ID is nil when the worker could not parse
// the request it is answering (parse error responses carry "id": null).
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// IsError reports whether the response carries an error object.
func (r Response) IsError() bool {
	return r.Error != nil
}

// NewResult builds a success response for id. The result is marshalled
// eagerly so encoding failures surface to the caller, not the writer.
func NewResult(id int64, result any) (Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{}, fmt.Errorf("marshal result for id %d: %w", id, err)
	}
	return Response{JSONRPC: Version, ID: &id, Result: raw}, nil
}

// NewErrorResponse builds an error response. A nil id produces "id": null.
func NewErrorResponse(id *int64, rpcErr *RPCError) Response {
	return Response{JSONRPC: Version, ID: id, Error: rpcErr}
}

// Encode marshals v as a single JSON line terminated by '\n'.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeResponse parses one line of worker output.
func DecodeResponse(line []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// DecodeRequest parses one line of bridge input on the worker side.
func DecodeRequest(line []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	if req.Method == "" {
		return Request{}, fmt.Errorf("decode request: missing method")
	}
	return req, nil
}
