package rpcclient

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	PingMethod = "core.ping"
	pongReply  = "pong"

	defaultKeepAliveInterval = 30 * time.Second
	defaultKeepAliveFailures = 3
)

// Ping reports whether the middleware answered core.ping with "pong".
// Any other result, including an error, counts as unhealthy.
func Ping(ctx context.Context, c Caller) bool {
	reply, err := CallAs[string](ctx, c, PingMethod)
	return err == nil && reply == pongReply
}

type KeepAliveOptions struct {
	Interval    time.Duration
	MaxFailures int
	Logger      *slog.Logger
}

// KeepAlive pings the middleware on a fixed interval and forces a disconnect
// after MaxFailures consecutive unhealthy pings.
type KeepAlive struct {
	caller      Caller
	disconnect  func()
	interval    time.Duration
	maxFailures int
	logger      *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	failures int
}

func NewKeepAlive(caller Caller, disconnect func(), opts KeepAliveOptions) *KeepAlive {
	if opts.Interval <= 0 {
		opts.Interval = defaultKeepAliveInterval
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = defaultKeepAliveFailures
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &KeepAlive{
		caller:      caller,
		disconnect:  disconnect,
		interval:    opts.Interval,
		maxFailures: opts.MaxFailures,
		logger:      logger.With("component", componentName, "operation", "keepalive"),
	}
}

func (k *KeepAlive) Ping(ctx context.Context) bool {
	return Ping(ctx, k.caller)
}

// Failures is the current run of consecutive failed pings.
func (k *KeepAlive) Failures() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.failures
}

// Start launches the ping loop, replacing any loop already running.
func (k *KeepAlive) Start() {
	k.Stop()
	k.mu.Lock()
	ctx, cancel := context.WithCancel(context.Background())
	k.cancel = cancel
	k.failures = 0
	k.wg.Add(1)
	k.mu.Unlock()

	go func() {
		tripped := k.Run(ctx)
		k.wg.Done()
		// Disconnect runs after Done so that a state observer calling Stop
		// does not wait on this goroutine.
		if tripped && k.disconnect != nil {
			k.disconnect()
		}
	}()
}

func (k *KeepAlive) Stop() {
	k.mu.Lock()
	cancel := k.cancel
	k.cancel = nil
	k.mu.Unlock()
	if cancel != nil {
		cancel()
		k.wg.Wait()
	}
}

// Run blocks until ctx is done or the failure threshold is reached. It
// returns true in the latter case; the caller is expected to disconnect.
func (k *KeepAlive) Run(ctx context.Context) bool {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
		pingCtx, cancel := context.WithTimeout(ctx, k.interval)
		healthy := k.Ping(pingCtx)
		cancel()
		if ctx.Err() != nil {
			return false
		}

		k.mu.Lock()
		if healthy {
			k.failures = 0
		} else {
			k.failures++
		}
		failures := k.failures
		k.mu.Unlock()

		if healthy {
			continue
		}
		k.logger.Warn("ping failed", "consecutive_failures", failures, "max_failures", k.maxFailures)
		if failures >= k.maxFailures {
			k.logger.Error("keep-alive threshold reached, disconnecting", "consecutive_failures", failures)
			return true
		}
	}
}
