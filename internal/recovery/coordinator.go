// Package recovery re-authenticates an expired session and re-issues the
// call that observed the expiry.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Imnotndesh/TrueHub-sub001/internal/credstore"
	"github.com/Imnotndesh/TrueHub-sub001/internal/metrics"
	"github.com/Imnotndesh/TrueHub-sub001/internal/rpcclient"
	"github.com/Imnotndesh/TrueHub-sub001/internal/rpckit"
	"github.com/Imnotndesh/TrueHub-sub001/internal/services"
)

const (
	DefaultMaxAttempts  = 3
	DefaultBackoff      = 500 * time.Millisecond
	DefaultLoginTimeout = 15 * time.Second

	componentName = "recovery"
)

var ErrLoginRejected = errors.New("login rejected by server")

type Options struct {
	MaxAttempts  int
	Backoff      time.Duration
	LoginTimeout time.Duration
	TokenTTL     time.Duration
	// Connect, when set, is invoked before every login so that recovery also
	// works after the transport was dropped.
	Connect func(ctx context.Context) error
	Logger  *slog.Logger
	Metrics *metrics.Collector
	Now     func() time.Time
}

// Coordinator runs at most one recovery sequence at a time. A sequence is
// the whole bounded run of re-authentication attempts for one session
// generation; every caller that observed an expiry of that generation joins
// it and shares its outcome. Callers whose failure predates the latest
// successful re-authentication skip straight to retrying their call.
type Coordinator struct {
	auth         *services.Auth
	store        credstore.Store
	maxAttempts  int
	backoff      time.Duration
	loginTimeout time.Duration
	tokenTTL     time.Duration
	connect      func(ctx context.Context) error
	logger       *slog.Logger
	metrics      *metrics.Collector
	now          func() time.Time

	group singleflight.Group
	// mu is held for the whole login, token generation and persistence.
	mu         sync.Mutex
	generation atomic.Uint64
	// exhausted holds gen+1 of the last generation whose sequence ran out of
	// attempts; zero means none.
	exhausted atomic.Uint64
}

// New builds a coordinator logging in over caller, which must not itself
// route through recovery.
func New(caller rpcclient.Caller, store credstore.Store, opts Options) *Coordinator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = DefaultLoginTimeout
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = services.DefaultTokenTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		auth:         services.NewAuth(caller),
		store:        store,
		maxAttempts:  opts.MaxAttempts,
		backoff:      opts.Backoff,
		loginTimeout: opts.LoginTimeout,
		tokenTTL:     opts.TokenTTL,
		connect:      opts.Connect,
		logger:       logger.With("component", componentName),
		metrics:      opts.Metrics,
		now:          opts.Now,
	}
}

// Generation increases by one with every successful authentication.
func (c *Coordinator) Generation() uint64 {
	return c.generation.Load()
}

// Login authenticates with explicit credentials and persists a fresh session
// token for profile. It shares the recovery lock, so it never overlaps with a
// background re-authentication.
func (c *Coordinator) Login(ctx context.Context, profile credstore.Profile, creds credstore.Credentials) (credstore.Session, error) {
	if creds.IsBlank() {
		return credstore.Session{}, rpckit.NewCallError(rpckit.KindAuth, "", rpckit.ErrMissingCredentials)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	loginCtx, cancel := context.WithTimeout(ctx, c.loginTimeout)
	defer cancel()
	return c.authenticateLocked(loginCtx, profile, creds)
}

// Execute runs call and, if it fails with an auth error, joins the recovery
// sequence for the session generation the call ran under and re-issues the
// call once the sequence succeeds. A non-auth outcome is returned as soon as
// it is observed.
func Execute[T any](ctx context.Context, c *Coordinator, call func(context.Context) rpckit.Result[T]) rpckit.Result[T] {
	gen := c.Generation()
	res := call(ctx)
	if !res.IsAuthError() {
		return res
	}

	for round := 1; round <= c.maxAttempts; round++ {
		err := c.recover(ctx, gen)
		if ctx.Err() != nil {
			c.metrics.RecordRecovery("cancelled")
			return rpckit.Failure[T]("", rpckit.NewCallError(ctxKind(ctx.Err()), "", ctx.Err()))
		}
		if err != nil {
			return exhausted[T]()
		}
		gen = c.Generation()
		res = call(ctx)
		if !res.IsAuthError() {
			return res
		}
		c.logger.Warn("call rejected after recovery", "operation", "recover", "round", round, "generation", gen)
		if round < c.maxAttempts && !sleep(ctx, c.backoff) {
			c.metrics.RecordRecovery("cancelled")
			return rpckit.Failure[T]("", rpckit.NewCallError(ctxKind(ctx.Err()), "", ctx.Err()))
		}
	}
	c.metrics.RecordRecovery("exhausted")
	return exhausted[T]()
}

func exhausted[T any]() rpckit.Result[T] {
	return rpckit.Failure[T](rpckit.SessionExpiredMessage, rpckit.NewCallError(rpckit.KindRecoveryExhausted, "", rpckit.ErrRecoveryExhausted))
}

// recover joins or starts the recovery sequence for generation gen. The
// shared sequence outlives any single caller's context.
func (c *Coordinator) recover(ctx context.Context, gen uint64) error {
	if c.generation.Load() != gen {
		return nil
	}
	if c.exhaustedFor(gen) {
		return rpckit.ErrRecoveryExhausted
	}
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		return nil, c.runSequence(flightCtx, gen)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) exhaustedFor(gen uint64) bool {
	return c.exhausted.Load() == gen+1
}

// runSequence makes up to maxAttempts re-authentication attempts, Backoff
// apart. Once it runs out, gen stays exhausted: later callers of the same
// generation fail without contacting the server until a login succeeds.
func (c *Coordinator) runSequence(ctx context.Context, gen uint64) error {
	if c.generation.Load() != gen {
		c.metrics.RecordRecovery("joined")
		return nil
	}
	if c.exhaustedFor(gen) {
		return rpckit.ErrRecoveryExhausted
	}

	seq := uuid.NewString()
	logger := c.logger.With("operation", "recover", "correlation_id", seq)
	logger.Info("session expired, recovering", "generation", gen)
	c.metrics.RecordRecovery("started")

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err := c.reauthenticate(ctx, gen)
		if err == nil {
			c.metrics.RecordRecovery("succeeded")
			logger.Info("session recovered", "attempt", attempt, "generation", c.Generation())
			return nil
		}
		logger.Warn("recovery attempt failed", "attempt", attempt, "max_attempts", c.maxAttempts, "kind", string(rpckit.KindOf(err)))
		if attempt < c.maxAttempts {
			sleep(ctx, c.backoff)
		}
	}

	c.exhausted.Store(gen + 1)
	c.metrics.RecordRecovery("exhausted")
	logger.Error("session recovery exhausted", "attempts", c.maxAttempts)
	return rpckit.ErrRecoveryExhausted
}

func (c *Coordinator) reauthenticate(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation.Load() != gen {
		c.metrics.RecordRecovery("joined")
		return nil
	}

	profile, ok, err := c.store.LastProfile(ctx)
	if err != nil {
		return fmt.Errorf("load last profile: %w", err)
	}
	if !ok {
		return rpckit.NewCallError(rpckit.KindAuth, "", rpckit.ErrMissingCredentials)
	}
	creds, ok, err := c.store.Credentials(ctx, profile)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if !ok || creds.IsBlank() {
		c.logger.Warn("stored credentials are blank", "operation", "recover", "account_id", profile.AccountID)
		return rpckit.NewCallError(rpckit.KindAuth, "", rpckit.ErrMissingCredentials)
	}

	loginCtx, cancel := context.WithTimeout(ctx, c.loginTimeout)
	defer cancel()
	_, err = c.authenticateLocked(loginCtx, profile, creds)
	return err
}

// authenticateLocked logs in, generates a session token and persists it.
// Callers hold c.mu.
func (c *Coordinator) authenticateLocked(ctx context.Context, profile credstore.Profile, creds credstore.Credentials) (credstore.Session, error) {
	method := creds.EffectiveMethod()
	var stored credstore.Session
	if method == credstore.MethodToken {
		sess, ok, err := c.store.SessionToken(ctx, profile)
		if err != nil {
			return credstore.Session{}, fmt.Errorf("load session token: %w", err)
		}
		if !ok || !sess.Valid(c.now()) {
			return credstore.Session{}, rpckit.NewCallError(rpckit.KindAuth, services.MethodLoginWithToken, rpckit.ErrMissingCredentials)
		}
		stored = sess
	}

	if c.connect != nil {
		if err := c.connect(ctx); err != nil {
			return credstore.Session{}, err
		}
	}

	var res rpckit.Result[bool]
	var rpcMethod string
	switch method {
	case credstore.MethodAPIKey:
		rpcMethod = services.MethodLoginWithAPIKey
		res = c.auth.LoginWithAPIKey(ctx, strings.TrimSpace(creds.APIKey))
	case credstore.MethodToken:
		rpcMethod = services.MethodLoginWithToken
		res = c.auth.LoginWithToken(ctx, stored.Token)
	default:
		rpcMethod = services.MethodLogin
		res = c.auth.Login(ctx, strings.TrimSpace(creds.Username), creds.Password)
	}
	c.metrics.RecordReauth()

	accepted, err := res.Unwrap()
	if err != nil {
		return credstore.Session{}, err
	}
	if !accepted {
		c.logger.Warn("login rejected", "operation", rpcMethod, "method", string(method), "account_id", profile.AccountID)
		return credstore.Session{}, rpckit.NewCallError(rpckit.KindAuth, rpcMethod, ErrLoginRejected)
	}

	token, err := c.auth.GenerateToken(ctx, services.TokenRequest{TTL: c.tokenTTL}).Unwrap()
	if err != nil {
		return credstore.Session{}, err
	}
	if token == "" {
		return credstore.Session{}, rpckit.NewCallError(rpckit.KindProtocol, services.MethodGenerateToken, fmt.Errorf("%w: empty token", rpckit.ErrProtocol))
	}
	issued := c.now()
	sess := credstore.Session{Token: token, IssuedAt: issued, ExpiresAt: issued.Add(c.tokenTTL)}
	if err := c.store.SetSessionToken(ctx, profile, sess); err != nil {
		return credstore.Session{}, fmt.Errorf("persist session token: %w", err)
	}
	gen := c.generation.Add(1)
	c.logger.Info("authenticated", "operation", rpcMethod, "method", string(method), "account_id", profile.AccountID, "generation", gen)
	return sess, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func ctxKind(err error) rpckit.Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return rpckit.KindTimeout
	}
	return rpckit.KindCancelled
}
