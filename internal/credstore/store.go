// Package credstore keeps per-(server, account) credentials, the last-used
// profile and the current session token.
package credstore

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

type Method string

const (
	MethodPassword Method = "password"
	MethodAPIKey   Method = "api_key"
	// MethodToken profiles hold no long-lived secret; they re-authenticate
	// with the stored session token only.
	MethodToken Method = "token"
)

var ErrInvalidProfile = errors.New("credstore: server id and account id are required")

type Profile struct {
	ServerID  string `json:"server_id"`
	AccountID string `json:"account_id"`
}

func (p Profile) Valid() bool {
	return strings.TrimSpace(p.ServerID) != "" && strings.TrimSpace(p.AccountID) != ""
}

func (p Profile) key() string {
	return p.ServerID + "\x1f" + p.AccountID
}

type Credentials struct {
	Method   Method `json:"method"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
}

// EffectiveMethod infers the login method for records saved without one.
func (c Credentials) EffectiveMethod() Method {
	if c.Method != "" {
		return c.Method
	}
	if c.APIKey != "" {
		return MethodAPIKey
	}
	return MethodPassword
}

// IsBlank reports whether the secret required by the login method is missing.
func (c Credentials) IsBlank() bool {
	switch c.EffectiveMethod() {
	case MethodAPIKey:
		return strings.TrimSpace(c.APIKey) == ""
	case MethodToken:
		return false
	default:
		return strings.TrimSpace(c.Username) == "" || c.Password == ""
	}
}

// LogValue keeps secrets out of structured logs even when a record is
// logged by value.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("method", string(c.EffectiveMethod())),
		slog.Bool("blank", c.IsBlank()),
	)
}

// Session is a generated session token.
type Session struct {
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (s Session) Valid(now time.Time) bool {
	if s.Token == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

func (s Session) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Time("issued_at", s.IssuedAt),
		slog.Time("expires_at", s.ExpiresAt),
	)
}

type Store interface {
	Credentials(ctx context.Context, p Profile) (Credentials, bool, error)
	SaveCredentials(ctx context.Context, p Profile, c Credentials) error
	LastProfile(ctx context.Context) (Profile, bool, error)
	SetLastProfile(ctx context.Context, p Profile) error
	SessionToken(ctx context.Context, p Profile) (Session, bool, error)
	SetSessionToken(ctx context.Context, p Profile, s Session) error
	ClearSessionToken(ctx context.Context, p Profile) error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
)
