// Package manager wires the connection, dispatcher, keep-alive, session
// recovery and domain services into one client.
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Imnotndesh/TrueHub-sub001/internal/config"
	"github.com/Imnotndesh/TrueHub-sub001/internal/credstore"
	"github.com/Imnotndesh/TrueHub-sub001/internal/metrics"
	"github.com/Imnotndesh/TrueHub-sub001/internal/platform/privacylog"
	"github.com/Imnotndesh/TrueHub-sub001/internal/platform/ratelimiter"
	"github.com/Imnotndesh/TrueHub-sub001/internal/recovery"
	"github.com/Imnotndesh/TrueHub-sub001/internal/rpcclient"
	"github.com/Imnotndesh/TrueHub-sub001/internal/rpckit"
	"github.com/Imnotndesh/TrueHub-sub001/internal/services"
)

const limiterIdleTTL = 5 * time.Minute

// sessionless methods bypass recovery: they either establish the session
// themselves or must not cause a login.
var sessionless = map[string]struct{}{
	services.MethodLogin:           {},
	services.MethodLoginWithAPIKey: {},
	services.MethodLoginWithToken:  {},
	services.MethodLogout:          {},
	rpcclient.PingMethod:           {},
}

type Option func(*options)

type options struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	collector  *metrics.Collector
}

// WithLogger sets the base logger. It is wrapped with the redacting handler.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer registers client metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithMetrics shares an existing collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.collector = c }
}

type Manager struct {
	cfg      config.Config
	endpoint string
	store    credstore.Store
	logger   *slog.Logger
	metrics  *metrics.Collector

	conn       *rpcclient.Conn
	dispatcher *rpcclient.Dispatcher
	keepAlive  *rpcclient.KeepAlive
	recovery   *recovery.Coordinator
	services   *services.Set
}

func New(cfg config.Config, store credstore.Store, opts ...Option) (*Manager, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if store == nil {
		return nil, fmt.Errorf("manager: credential store is required")
	}
	cfg = config.Normalize(cfg)
	endpoint, err := config.EndpointURL(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("manager: %w", err)
	}

	logger := o.logger
	if logger == nil {
		level := slog.LevelInfo
		if cfg.Debug {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	logger = privacylog.NewLogger(logger)

	collector := o.collector
	if collector == nil {
		collector, err = metrics.New(o.registerer)
		if err != nil {
			return nil, fmt.Errorf("manager: register metrics: %w", err)
		}
	}

	m := &Manager{
		cfg:      cfg,
		endpoint: endpoint,
		store:    store,
		logger:   logger.With("component", "manager"),
		metrics:  collector,
	}
	m.conn = rpcclient.NewConn(rpcclient.ConnOptions{
		URL:            endpoint,
		Insecure:       cfg.Insecure,
		ConnectTimeout: cfg.ConnectTimeout,
		Logger:         logger,
		Metrics:        collector,
	})
	m.dispatcher = rpcclient.NewDispatcher(m.conn, rpcclient.DispatcherOptions{
		CallTimeout: cfg.CallTimeout,
		Classifier:  rpckit.DefaultAuthClassifier().With(cfg.Auth.Codes, cfg.Auth.Messages),
		Limiter:     ratelimiter.New(cfg.RateLimit.CallsPerSecond, cfg.RateLimit.Burst, limiterIdleTTL),
		Logger:      logger,
		Metrics:     collector,
	})
	m.keepAlive = rpcclient.NewKeepAlive(m.dispatcher, m.conn.Disconnect, rpcclient.KeepAliveOptions{
		Interval:    cfg.KeepAlive.Interval,
		MaxFailures: cfg.KeepAlive.MaxFailures,
		Logger:      logger,
	})
	m.recovery = recovery.New(m.dispatcher, store, recovery.Options{
		MaxAttempts:  cfg.Recovery.MaxAttempts,
		Backoff:      cfg.Recovery.Backoff,
		LoginTimeout: cfg.Recovery.LoginTimeout,
		Connect:      m.ensureConnected,
		Logger:       logger,
		Metrics:      collector,
	})
	m.services = services.NewSet(m)
	m.conn.OnStateChange(m.onStateChange)
	return m, nil
}

func (m *Manager) Endpoint() string { return m.endpoint }

func (m *Manager) Services() *services.Set { return m.services }

func (m *Manager) Metrics() *metrics.Collector { return m.metrics }

func (m *Manager) Connect(ctx context.Context) (bool, error) {
	return m.conn.Connect(ctx)
}

func (m *Manager) Disconnect() {
	m.keepAlive.Stop()
	m.conn.Disconnect()
}

func (m *Manager) IsConnected() bool { return m.conn.IsConnected() }

func (m *Manager) State() rpcclient.State { return m.conn.State() }

// OnEvent subscribes to unsolicited server notifications.
func (m *Manager) OnEvent(fn func(rpckit.Event)) {
	m.dispatcher.OnEvent(fn)
}

// Login connects if needed, authenticates within the login budget, persists
// a fresh session token and remembers profile as the last-used one.
func (m *Manager) Login(ctx context.Context, profile credstore.Profile, creds credstore.Credentials) (credstore.Session, error) {
	if !profile.Valid() {
		return credstore.Session{}, credstore.ErrInvalidProfile
	}
	sess, err := m.recovery.Login(ctx, profile, creds)
	if err != nil {
		return credstore.Session{}, err
	}
	if err := m.store.SaveCredentials(ctx, profile, creds); err != nil {
		return sess, fmt.Errorf("save credentials: %w", err)
	}
	if err := m.store.SetLastProfile(ctx, profile); err != nil {
		return sess, fmt.Errorf("save last profile: %w", err)
	}
	m.logger.Info("logged in", "operation", "login", "account_id", profile.AccountID, "server_id", profile.ServerID)
	return sess, nil
}

// LoginWithToken authenticates a token-only profile. The token is replaced
// by a freshly generated one on success and removed on failure.
func (m *Manager) LoginWithToken(ctx context.Context, profile credstore.Profile, token string) (credstore.Session, error) {
	if !profile.Valid() {
		return credstore.Session{}, credstore.ErrInvalidProfile
	}
	if token == "" {
		return credstore.Session{}, rpckit.NewCallError(rpckit.KindAuth, services.MethodLoginWithToken, rpckit.ErrMissingCredentials)
	}
	if err := m.store.SetSessionToken(ctx, profile, credstore.Session{Token: token, IssuedAt: time.Now()}); err != nil {
		return credstore.Session{}, fmt.Errorf("stage session token: %w", err)
	}
	sess, err := m.Login(ctx, profile, credstore.Credentials{Method: credstore.MethodToken})
	if err != nil {
		_ = m.store.ClearSessionToken(ctx, profile)
		return credstore.Session{}, err
	}
	return sess, nil
}

// Logout ends the server session and forgets the stored token of the
// last-used profile even when the server call fails.
func (m *Manager) Logout(ctx context.Context) error {
	_, err := m.services.Auth.Logout(ctx).Unwrap()
	profile, ok, lerr := m.store.LastProfile(ctx)
	if lerr == nil && ok {
		if cerr := m.store.ClearSessionToken(ctx, profile); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Generation is the number of successful authentications so far.
func (m *Manager) Generation() uint64 { return m.recovery.Generation() }

// Pending is the number of in-flight requests.
func (m *Manager) Pending() int { return m.dispatcher.Pending() }

// Call dispatches method and, unless it is a login or ping, transparently
// recovers an expired session. It makes Manager an rpcclient.Caller.
func (m *Manager) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if _, ok := sessionless[method]; ok {
		return m.dispatcher.Call(ctx, method, params...)
	}
	res := recovery.Execute(ctx, m.recovery, func(ctx context.Context) rpckit.Result[json.RawMessage] {
		return rpckit.ResultOf(m.dispatcher.Call(ctx, method, params...))
	})
	return res.Unwrap()
}

// CallRaw is Call under the name used by untyped callers such as the CLI.
func (m *Manager) CallRaw(ctx context.Context, method string, params ...any) rpckit.Result[json.RawMessage] {
	return rpckit.ResultOf(m.Call(ctx, method, params...))
}

// Call performs method with recovery and decodes the result into T.
func Call[T any](ctx context.Context, m *Manager, method string, params ...any) rpckit.Result[T] {
	return rpcclient.CallWithResult[T](ctx, m, method, params...)
}

func (m *Manager) ensureConnected(ctx context.Context) error {
	ok, err := m.conn.Connect(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return rpckit.NewCallError(rpckit.KindNotConnected, "", rpckit.ErrNotConnected)
	}
	return nil
}

func (m *Manager) onStateChange(state rpcclient.State) {
	switch state {
	case rpcclient.StateConnected:
		if m.cfg.KeepAlive.Enabled {
			m.keepAlive.Start()
		}
	case rpcclient.StateDisconnected:
		m.keepAlive.Stop()
	}
	m.logger.Debug("connection state changed", "operation", "state", "state", state.String())
}
