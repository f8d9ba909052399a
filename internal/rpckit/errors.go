package rpckit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Error is a server-reported JSON-RPC error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type Kind string

const (
	KindTransport         Kind = "transport"
	KindTimeout           Kind = "timeout"
	KindProtocol          Kind = "protocol"
	KindApplication       Kind = "application"
	KindAuth              Kind = "auth"
	KindRecoveryExhausted Kind = "recovery_exhausted"
	KindNotConnected      Kind = "not_connected"
	KindConnectionClosed  Kind = "connection_closed"
	KindCancelled         Kind = "cancelled"
)

const SessionExpiredMessage = "Session expired. Please login again."

var (
	ErrNotConnected       = errors.New("not connected")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrTimeout            = errors.New("rpc call timed out")
	ErrProtocol           = errors.New("protocol error")
	ErrRecoveryExhausted  = errors.New(SessionExpiredMessage)
	ErrMissingCredentials = errors.New("stored credentials are missing")
)

// CallError is the error returned by the dispatcher for any failed call.
type CallError struct {
	Kind   Kind
	Method string
	Err    error
}

func (e *CallError) Error() string {
	if e.Method == "" {
		return e.Err.Error()
	}
	return e.Method + ": " + e.Err.Error()
}

func (e *CallError) Unwrap() error {
	return e.Err
}

func NewCallError(kind Kind, method string, err error) *CallError {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &CallError{Kind: kind, Method: method, Err: err}
}

// KindOf classifies any error produced by this module. Unknown errors are
// treated as transport failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Kind
	}
	switch {
	case errors.Is(err, ErrRecoveryExhausted):
		return KindRecoveryExhausted
	case errors.Is(err, ErrNotConnected):
		return KindNotConnected
	case errors.Is(err, ErrConnectionClosed):
		return KindConnectionClosed
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrProtocol), errors.Is(err, ErrMalformedFrame):
		return KindProtocol
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return KindApplication
	}
	return KindTransport
}

func IsAuth(err error) bool {
	return KindOf(err) == KindAuth
}

// RPCError extracts the server-reported error object, if any.
func RPCError(err error) (*Error, bool) {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}

// userMessage renders an error the way callers display it.
func userMessage(err error) string {
	if err == nil {
		return ""
	}
	if rpcErr, ok := RPCError(err); ok {
		return strings.TrimSpace(rpcErr.Message)
	}
	switch KindOf(err) {
	case KindProtocol:
		return ErrProtocol.Error()
	case KindRecoveryExhausted:
		return SessionExpiredMessage
	}
	return err.Error()
}
