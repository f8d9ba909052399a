package fakemw

import (
	"fmt"
	"sync"
)

// Session emulates the middleware's authentication methods. Protected
// handlers answer -32001 until one of the login methods succeeds.
type Session struct {
	srv *Server

	mu       sync.Mutex
	authed   bool
	reject   bool
	password map[string]string
	apiKeys  map[string]bool
	tokens   map[string]bool
	issued   int
}

// EnableSession installs auth.* handlers. Any username/password pair and any
// API key is accepted unless a specific pair or key was registered.
func (s *Server) EnableSession() *Session {
	sess := &Session{
		srv:      s,
		password: make(map[string]string),
		apiKeys:  make(map[string]bool),
		tokens:   make(map[string]bool),
	}
	s.Handle("auth.login", func(req Request) Reply {
		var user, pass string
		req.Param(0, &user)
		req.Param(1, &pass)
		return Result(sess.login(func() bool {
			want, ok := sess.password[user]
			return !ok || want == pass
		}))
	})
	s.Handle("auth.login_with_api_key", func(req Request) Reply {
		var key string
		req.Param(0, &key)
		return Result(sess.login(func() bool {
			return len(sess.apiKeys) == 0 || sess.apiKeys[key]
		}))
	})
	s.Handle("auth.login_with_token", func(req Request) Reply {
		var token string
		req.Param(0, &token)
		return Result(sess.login(func() bool { return sess.tokens[token] }))
	})
	s.Handle("auth.generate_token", sess.Protect(func(Request) Reply {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		sess.issued++
		token := fmt.Sprintf("tok-%d", sess.issued)
		sess.tokens[token] = true
		return Result(token)
	}))
	s.Handle("auth.logout", sess.Protect(func(Request) Reply {
		sess.Expire()
		return Result(true)
	}))
	s.Handle("auth.me", sess.Protect(func(Request) Reply {
		return Result(map[string]any{"pw_name": "root", "pw_uid": 0, "pw_gid": 0, "local": true})
	}))
	return sess
}

func (s *Session) login(check func() bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject || !check() {
		return false
	}
	s.authed = true
	return true
}

// Protect wraps h so that it fails with -32001 without a session.
func (s *Session) Protect(h Handler) Handler {
	return func(req Request) Reply {
		if !s.Authenticated() {
			return Fail(-32001, "Not authenticated")
		}
		return h(req)
	}
}

func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authed
}

// Expire ends the current session; the next protected call fails.
func (s *Session) Expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authed = false
}

// RejectLogins makes every login method return false.
func (s *Session) RejectLogins(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = reject
}

func (s *Session) SetPassword(user, pass string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.password[user] = pass
}

func (s *Session) AddAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeys[key] = true
}

// Logins counts calls to every login method.
func (s *Session) Logins() int {
	return s.srv.Calls("auth.login") + s.srv.Calls("auth.login_with_api_key") + s.srv.Calls("auth.login_with_token")
}
