package privacylog

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

const redactedValue = "[REDACTED]"

var (
	bootSalt = randomSalt()
	// Keys whose values identify an account or server. They are replaced by a
	// salted fingerprint so log lines stay correlatable within one process.
	fingerprintKeys = map[string]struct{}{
		"account_id": {},
		"server_id":  {},
		"username":   {},
	}
	secretKeyParts = []string{"password", "passphrase", "secret", "token", "api_key", "apikey", "authorization", "credential"}
)

// SanitizingHandler redacts credentials and fingerprints account identifiers
// before records reach the wrapped handler.
type SanitizingHandler struct {
	next  slog.Handler
	extra []string
}

func WrapHandler(next slog.Handler, extraSecretKeys ...string) slog.Handler {
	if next == nil {
		return nil
	}
	if _, ok := next.(*SanitizingHandler); ok && len(extraSecretKeys) == 0 {
		return next
	}
	extra := make([]string, 0, len(extraSecretKeys))
	for _, k := range extraSecretKeys {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			extra = append(extra, k)
		}
	}
	return &SanitizingHandler{next: next, extra: extra}
}

// NewLogger wraps the handler of base, or of slog.Default() when base is nil.
func NewLogger(base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return slog.New(WrapHandler(base.Handler()))
}

func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SanitizingHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(h.sanitize(attr))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		clean = append(clean, h.sanitize(attr))
	}
	return &SanitizingHandler{next: h.next.WithAttrs(clean), extra: h.extra}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name), extra: h.extra}
}

func (h *SanitizingHandler) sanitize(attr slog.Attr) slog.Attr {
	attr.Value = attr.Value.Resolve()
	key := strings.TrimSpace(attr.Key)
	lower := strings.ToLower(key)
	switch {
	case isSecretKey(lower, h.extra):
		return slog.String(key, redactedValue)
	case isFingerprintKey(lower):
		return slog.String(key+"_fp", Fingerprint(attr.Value.String()))
	case attr.Value.Kind() == slog.KindGroup:
		group := attr.Value.Group()
		clean := make([]any, 0, len(group))
		for _, member := range group {
			clean = append(clean, h.sanitize(member))
		}
		return slog.Group(key, clean...)
	}
	return attr
}

// SanitizeArgs applies the same rules to alternating key/value arguments.
func SanitizeArgs(args ...any) []any {
	if len(args) == 0 {
		return nil
	}
	out := make([]any, 0, len(args))
	for i := 0; i < len(args); i++ {
		key, ok := args[i].(string)
		if !ok || i+1 >= len(args) {
			out = append(out, args[i])
			continue
		}
		value := args[i+1]
		i++
		lower := strings.ToLower(strings.TrimSpace(key))
		switch {
		case isSecretKey(lower, nil):
			out = append(out, key, redactedValue)
		case isFingerprintKey(lower):
			out = append(out, key+"_fp", Fingerprint(fmt.Sprint(value)))
		default:
			out = append(out, key, value)
		}
	}
	return out
}

func Fingerprint(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(bootSalt + "|" + trimmed))
	return "fp_" + hex.EncodeToString(sum[:8])
}

func isSecretKey(key string, extra []string) bool {
	for _, part := range secretKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	for _, part := range extra {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

func isFingerprintKey(key string) bool {
	_, ok := fingerprintKeys[key]
	return ok
}

func randomSalt() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "static_salt"
	}
	return hex.EncodeToString(buf)
}
