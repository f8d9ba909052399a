package privacylog

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode log json: %v", err)
	}
	return payload
}

func TestSanitizeArgsRedactsCredentials(t *testing.T) {
	args := SanitizeArgs(
		"password", "hunter2",
		"api_key", "1-abcdef",
		"account_id", "alice@nas",
		"method", "auth.login",
	)
	if len(args) != 8 {
		t.Fatalf("unexpected args length: %d", len(args))
	}
	if args[1] != redactedValue || args[3] != redactedValue {
		t.Fatalf("expected credentials redacted, got %v", args)
	}
	if args[4] != "account_id_fp" {
		t.Fatalf("unexpected key: %v", args[4])
	}
	if got := args[5].(string); !strings.HasPrefix(got, "fp_") {
		t.Fatalf("unexpected fingerprint value: %q", got)
	}
	if args[7] != "auth.login" {
		t.Fatalf("expected untouched value, got %v", args[7])
	}
}

func TestSanitizingHandlerRedactsTokensAndFingerprintsAccounts(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(WrapHandler(slog.NewJSONHandler(&buf, nil)))
	logger.Info("login", "server_id", "nas-1", "session_token", "abc", "rpc_code", 207)

	payload := decodeLine(t, &buf)
	if _, ok := payload["server_id"]; ok {
		t.Fatal("server_id should not be present in plain form")
	}
	if _, ok := payload["server_id_fp"]; !ok {
		t.Fatal("server_id_fp should be present")
	}
	if got, _ := payload["session_token"].(string); got != redactedValue {
		t.Fatalf("expected redacted token, got %q", got)
	}
	if got, _ := payload["rpc_code"].(float64); got != 207 {
		t.Fatalf("expected rpc_code untouched, got %v", payload["rpc_code"])
	}
}

func TestSanitizingHandlerCoversGroupsAndWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(WrapHandler(slog.NewJSONHandler(&buf, nil), "otp")).
		With("password", "p")
	logger.Info("nested", slog.Group("creds", slog.String("otp_code", "123456"), slog.String("kind", "password")))

	out := buf.String()
	if strings.Contains(out, "123456") || strings.Contains(out, `"password":"p"`) {
		t.Fatalf("expected secrets removed, got %s", out)
	}
	if !strings.Contains(out, `"kind":"password"`) {
		t.Fatalf("expected non-secret values preserved, got %s", out)
	}
}

func TestSanitizingHandlerImplementsSlogHandlerContract(t *testing.T) {
	var buf bytes.Buffer
	h := WrapHandler(slog.NewJSONHandler(&buf, nil))
	if WrapHandler(h) != h {
		t.Fatal("expected wrapping to be idempotent")
	}
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("expected handler enabled for info")
	}
	rec := slog.NewRecord(time.Now().UTC(), slog.LevelInfo, "msg", 0)
	rec.AddAttrs(slog.String("username", "alice"))
	if err := h.Handle(context.Background(), rec); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if !strings.Contains(buf.String(), "username_fp") || strings.Contains(buf.String(), "alice") {
		t.Fatalf("expected fingerprinted username, got %s", buf.String())
	}
}
