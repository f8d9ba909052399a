package services

import (
	"context"
	"time"

	"github.com/Imnotndesh/TrueHub-sub001/internal/rpcclient"
	"github.com/Imnotndesh/TrueHub-sub001/internal/rpckit"
)

const (
	MethodLogin           = "auth.login"
	MethodLoginWithAPIKey = "auth.login_with_api_key"
	MethodLoginWithToken  = "auth.login_with_token"
	MethodLogout          = "auth.logout"
	MethodGenerateToken   = "auth.generate_token"
	MethodMe              = "auth.me"

	DefaultTokenTTL = 10 * time.Minute
)

// TokenRequest mirrors the positional parameters of auth.generate_token.
type TokenRequest struct {
	TTL         time.Duration
	Attrs       map[string]any
	MatchOrigin bool
	SingleUse   bool
}

func (r TokenRequest) params() []any {
	ttl := r.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	attrs := r.Attrs
	if attrs == nil {
		attrs = map[string]any{}
	}
	return []any{int64(ttl / time.Second), attrs, r.MatchOrigin, r.SingleUse}
}

// User is the identity returned by auth.me.
type User struct {
	Username          string         `json:"pw_name"`
	FullName          string         `json:"pw_gecos"`
	Home              string         `json:"pw_dir"`
	Shell             string         `json:"pw_shell"`
	UID               int            `json:"pw_uid"`
	GID               int            `json:"pw_gid"`
	Local             bool           `json:"local"`
	AccountAttributes []string       `json:"account_attributes"`
	Attributes        map[string]any `json:"attributes"`
}

type Auth struct {
	c rpcclient.Caller
}

func NewAuth(c rpcclient.Caller) *Auth {
	return &Auth{c: c}
}

// Login returns Success(false) when the server rejects the pair; only
// transport and server errors produce an Error result.
func (a *Auth) Login(ctx context.Context, username, password string) rpckit.Result[bool] {
	return rpcclient.CallWithResult[bool](ctx, a.c, MethodLogin, username, password)
}

func (a *Auth) LoginWithAPIKey(ctx context.Context, key string) rpckit.Result[bool] {
	return rpcclient.CallWithResult[bool](ctx, a.c, MethodLoginWithAPIKey, key)
}

func (a *Auth) LoginWithToken(ctx context.Context, token string) rpckit.Result[bool] {
	return rpcclient.CallWithResult[bool](ctx, a.c, MethodLoginWithToken, token)
}

func (a *Auth) Logout(ctx context.Context) rpckit.Result[bool] {
	return rpcclient.CallWithResult[bool](ctx, a.c, MethodLogout)
}

func (a *Auth) GenerateToken(ctx context.Context, req TokenRequest) rpckit.Result[string] {
	return rpcclient.CallWithResult[string](ctx, a.c, MethodGenerateToken, req.params()...)
}

func (a *Auth) Me(ctx context.Context) rpckit.Result[User] {
	return rpcclient.CallWithResult[User](ctx, a.c, MethodMe)
}

// Ping reports whether core.ping answered "pong".
func (a *Auth) Ping(ctx context.Context) bool {
	return rpcclient.Ping(ctx, a.c)
}
