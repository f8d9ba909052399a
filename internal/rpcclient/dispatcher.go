package rpcclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Imnotndesh/TrueHub-sub001/internal/metrics"
	"github.com/Imnotndesh/TrueHub-sub001/internal/platform/ratelimiter"
	"github.com/Imnotndesh/TrueHub-sub001/internal/rpckit"
)

const defaultCallTimeout = 30 * time.Second

type DispatcherOptions struct {
	CallTimeout time.Duration
	Classifier  rpckit.AuthClassifier
	// Limiter paces outbound calls per method namespace. Nil disables pacing.
	Limiter *ratelimiter.MethodLimiter
	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Dispatcher correlates requests with responses over a Conn. Every
// registered slot is terminated exactly once: by its response, by a
// timeout, by cancellation or by the end of the session.
type Dispatcher struct {
	conn       *Conn
	timeout    time.Duration
	classifier rpckit.AuthClassifier
	limiter    *ratelimiter.MethodLimiter
	logger     *slog.Logger
	metrics    *metrics.Collector

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]*pendingCall

	eventMu     sync.Mutex
	subscribers []func(rpckit.Event)
	events      []rpckit.Event
	delivering  bool
}

type pendingCall struct {
	method string
	epoch  uint64
	done   chan callOutcome
}

type callOutcome struct {
	result json.RawMessage
	err    error
}

// NewDispatcher installs itself as the frame handler of conn.
func NewDispatcher(conn *Conn, opts DispatcherOptions) *Dispatcher {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if len(opts.Classifier.Codes) == 0 && len(opts.Classifier.Messages) == 0 {
		opts.Classifier = rpckit.DefaultAuthClassifier()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		conn:       conn,
		timeout:    opts.CallTimeout,
		classifier: opts.Classifier,
		limiter:    opts.Limiter,
		logger:     logger.With("component", componentName),
		metrics:    opts.Metrics,
		pending:    make(map[int64]*pendingCall),
	}
	conn.SetHandler(d)
	return d
}

func (d *Dispatcher) Conn() *Conn { return d.conn }

// OnEvent subscribes to unsolicited server notifications. Events are
// delivered in arrival order on a goroutine separate from the read loop, so a
// subscriber may issue calls of its own.
func (d *Dispatcher) OnEvent(fn func(rpckit.Event)) {
	if fn == nil {
		return
	}
	d.eventMu.Lock()
	defer d.eventMu.Unlock()
	d.subscribers = append(d.subscribers, fn)
}

// Pending reports the number of in-flight requests.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Call sends one request and waits for its terminal outcome. Params are sent
// positionally; a nil entry encodes as JSON null.
func (d *Dispatcher) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	started := time.Now()
	result, err := d.call(ctx, method, params)
	outcome := "ok"
	if err != nil {
		kind := rpckit.KindOf(err)
		outcome = string(kind)
		d.metrics.RecordError(outcome)
		d.logger.Debug("call failed", "operation", method, "kind", outcome, "error", err.Error(), "latency_ms", time.Since(started).Milliseconds())
	}
	d.metrics.ObserveCall(method, outcome, started)
	return result, err
}

func (d *Dispatcher) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if !d.conn.IsConnected() {
		return nil, rpckit.NewCallError(rpckit.KindNotConnected, method, rpckit.ErrNotConnected)
	}
	if err := d.limiter.Wait(ctx, method); err != nil {
		return nil, rpckit.NewCallError(ctxKind(err), method, err)
	}

	id := d.nextID.Add(1)
	payload, err := json.Marshal(rpckit.NewRequest(id, method, params))
	if err != nil {
		return nil, rpckit.NewCallError(rpckit.KindProtocol, method, fmt.Errorf("encode params: %w", err))
	}
	slot := &pendingCall{method: method, epoch: d.conn.Epoch(), done: make(chan callOutcome, 1)}
	d.mu.Lock()
	d.pending[id] = slot
	n := len(d.pending)
	d.mu.Unlock()
	d.metrics.SetPending(n)

	if err := d.conn.Send(payload); err != nil {
		if d.take(id) == nil {
			// The session ended between registration and send; its outcome is
			// already waiting in the slot.
			return unpack(<-slot.done)
		}
		if errors.Is(err, rpckit.ErrNotConnected) {
			return nil, rpckit.NewCallError(rpckit.KindNotConnected, method, err)
		}
		return nil, rpckit.NewCallError(rpckit.KindTransport, method, err)
	}

	d.logger.Debug("request sent", "operation", method, "correlation_id", id)

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()
	select {
	case out := <-slot.done:
		return unpack(out)
	case <-timer.C:
		if d.take(id) != nil {
			return nil, rpckit.NewCallError(rpckit.KindTimeout, method, fmt.Errorf("%w after %s", rpckit.ErrTimeout, d.timeout))
		}
	case <-ctx.Done():
		if d.take(id) != nil {
			return nil, rpckit.NewCallError(ctxKind(ctx.Err()), method, ctx.Err())
		}
	}
	return unpack(<-slot.done)
}

// take removes the slot for id. Only the goroutine that gets a non-nil slot
// may complete it.
func (d *Dispatcher) take(id int64) *pendingCall {
	d.mu.Lock()
	slot, ok := d.pending[id]
	if ok {
		delete(d.pending, id)
	}
	n := len(d.pending)
	d.mu.Unlock()
	if ok {
		d.metrics.SetPending(n)
		return slot
	}
	return nil
}

// HandleFrame routes one inbound frame.
func (d *Dispatcher) HandleFrame(raw []byte) {
	resp, err := rpckit.ParseFrame(raw)
	if err != nil {
		if resp.ID == nil {
			d.logger.Warn("malformed frame discarded", "operation", "read", "bytes", len(raw))
			return
		}
		if slot := d.take(*resp.ID); slot != nil {
			slot.done <- callOutcome{err: rpckit.NewCallError(rpckit.KindProtocol, slot.method, fmt.Errorf("%w: %v", rpckit.ErrProtocol, err))}
			return
		}
		d.logger.Debug("malformed late frame discarded", "operation", "read", "correlation_id", *resp.ID)
		return
	}
	if resp.IsEvent() {
		d.publish(rpckit.Event{Method: resp.Method, Params: resp.Params})
		return
	}
	slot := d.take(*resp.ID)
	if slot == nil {
		d.logger.Debug("late response discarded", "operation", "read", "correlation_id", *resp.ID)
		return
	}
	if resp.Error != nil {
		kind := d.classifier.KindFor(resp.Error)
		slot.done <- callOutcome{err: rpckit.NewCallError(kind, slot.method, resp.Error)}
		return
	}
	slot.done <- callOutcome{result: resp.Result}
}

// HandleClosed fails every pending request registered up to epoch with kind.
func (d *Dispatcher) HandleClosed(epoch uint64, kind rpckit.Kind, cause error) {
	d.mu.Lock()
	var drained []*pendingCall
	for id, slot := range d.pending {
		if slot.epoch <= epoch {
			drained = append(drained, slot)
			delete(d.pending, id)
		}
	}
	n := len(d.pending)
	d.mu.Unlock()
	if len(drained) == 0 {
		return
	}
	d.metrics.SetPending(n)
	for _, slot := range drained {
		slot.done <- callOutcome{err: rpckit.NewCallError(kind, slot.method, cause)}
	}
	d.logger.Info("pending requests failed", "operation", "close", "kind", string(kind), "count", len(drained))
}

// publish queues ev for delivery. At most one delivery goroutine runs at a
// time; it exits once the queue is empty.
func (d *Dispatcher) publish(ev rpckit.Event) {
	d.eventMu.Lock()
	defer d.eventMu.Unlock()
	if len(d.subscribers) == 0 {
		d.logger.Debug("event dropped", "operation", "event", "method", ev.Method)
		return
	}
	d.events = append(d.events, ev)
	if !d.delivering {
		d.delivering = true
		go d.deliverEvents()
	}
}

func (d *Dispatcher) deliverEvents() {
	for {
		d.eventMu.Lock()
		if len(d.events) == 0 {
			d.events = nil
			d.delivering = false
			d.eventMu.Unlock()
			return
		}
		ev := d.events[0]
		d.events = d.events[1:]
		subscribers := slices.Clone(d.subscribers)
		d.eventMu.Unlock()

		for _, fn := range subscribers {
			fn(ev)
		}
	}
}

func unpack(out callOutcome) (json.RawMessage, error) {
	return out.result, out.err
}

func ctxKind(err error) rpckit.Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return rpckit.KindTimeout
	}
	return rpckit.KindCancelled
}
