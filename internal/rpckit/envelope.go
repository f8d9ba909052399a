package rpckit

import (
	"bytes"
	"encoding/json"
	"errors"
)

const Version = "2.0"

// Request is the outbound JSON-RPC 2.0 envelope. Params always encode as a
// positional array; individual entries may be null.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

func NewRequest(id int64, method string, params []any) Request {
	if params == nil {
		params = []any{}
	}
	return Request{JSONRPC: Version, ID: id, Method: method, Params: params}
}

// Response is any inbound frame. A frame with a method and no id is an
// unsolicited event and never correlates with a pending request.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

func (r Response) IsEvent() bool {
	return r.Method != "" && r.ID == nil
}

// Event is an unsolicited server notification.
type Event struct {
	Method string
	Params json.RawMessage
}

var ErrMalformedFrame = errors.New("malformed frame")

// ParseFrame decodes one inbound frame. The returned id is non-nil whenever it
// could be recovered, even if the rest of the frame is unusable, so that the
// caller can fail the matching request with a protocol error.
func ParseFrame(raw []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		var idOnly struct {
			ID *int64 `json:"id"`
		}
		if json.Unmarshal(raw, &idOnly) == nil && idOnly.ID != nil {
			return Response{ID: idOnly.ID}, ErrMalformedFrame
		}
		return Response{}, ErrMalformedFrame
	}
	if resp.IsEvent() {
		return resp, nil
	}
	if resp.ID == nil {
		return resp, ErrMalformedFrame
	}
	if resp.Error == nil && len(resp.Result) == 0 {
		return resp, ErrMalformedFrame
	}
	return resp, nil
}

// IsNullResult reports whether a result payload is absent or JSON null.
func IsNullResult(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
