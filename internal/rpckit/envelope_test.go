package rpckit

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewRequestEncodesEmptyParamsAsArray(t *testing.T) {
	raw, err := json.Marshal(NewRequest(7, "core.ping", nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"jsonrpc":"2.0","id":7,"method":"core.ping","params":[]}`
	if string(raw) != want {
		t.Fatalf("unexpected envelope:\n got %s\nwant %s", raw, want)
	}
}

func TestNewRequestKeepsNullParams(t *testing.T) {
	raw, err := json.Marshal(NewRequest(1, "pool.query", []any{nil, map[string]any{"limit": 1}}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"jsonrpc":"2.0","id":1,"method":"pool.query","params":[null,{"limit":1}]}`
	if string(raw) != want {
		t.Fatalf("unexpected envelope:\n got %s\nwant %s", raw, want)
	}
}

func TestParseFrame(t *testing.T) {
	cases := []struct {
		name      string
		raw       string
		wantErr   bool
		wantID    bool
		wantEvent bool
	}{
		{name: "result", raw: `{"jsonrpc":"2.0","id":3,"result":true}`, wantID: true},
		{name: "null result", raw: `{"jsonrpc":"2.0","id":3,"result":null}`, wantID: true},
		{name: "error", raw: `{"jsonrpc":"2.0","id":4,"error":{"code":-32001,"message":"x"}}`, wantID: true},
		{name: "event", raw: `{"jsonrpc":"2.0","method":"collection_update","params":{"a":1}}`, wantEvent: true},
		{name: "event with null id", raw: `{"jsonrpc":"2.0","id":null,"method":"collection_update"}`, wantEvent: true},
		{name: "missing result and error", raw: `{"jsonrpc":"2.0","id":5}`, wantErr: true, wantID: true},
		{name: "no id no method", raw: `{"jsonrpc":"2.0","result":1}`, wantErr: true},
		{name: "garbage", raw: `not-json`, wantErr: true},
		{name: "bad error shape keeps id", raw: `{"id":9,"error":"boom"}`, wantErr: true, wantID: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := ParseFrame([]byte(tc.raw))
			if tc.wantErr != (err != nil) {
				t.Fatalf("expected err=%v, got %v", tc.wantErr, err)
			}
			if err != nil && !errors.Is(err, ErrMalformedFrame) {
				t.Fatalf("expected ErrMalformedFrame, got %v", err)
			}
			if tc.wantID != (resp.ID != nil) {
				t.Fatalf("expected id present=%v, got %v", tc.wantID, resp.ID)
			}
			if tc.wantEvent != resp.IsEvent() {
				t.Fatalf("expected event=%v", tc.wantEvent)
			}
		})
	}
}

func TestIsNullResult(t *testing.T) {
	if !IsNullResult(nil) || !IsNullResult(json.RawMessage(" null ")) {
		t.Fatal("expected null result")
	}
	if IsNullResult(json.RawMessage("false")) {
		t.Fatal("false is not null")
	}
}
