package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"aim-chat/rpc-runtime/internal/ratelimit"
	"aim-chat/rpc-runtime/internal/resource"
	"aim-chat/rpc-runtime/pkg/jsonrpc"
)

// Dispatcher resolves inbound requests against a frozen registry snapshot,
// applies admission control (resource claims and optional per-connection
// rate limits) and drives handler execution. Safe for concurrent use.
type Dispatcher struct {
	callbacks  map[string]*MethodCallback
	pool       *resource.Pool
	limiter    *ratelimit.ConnLimiter
	idProvider IDProvider
	logger     *slog.Logger
}

type Option func(*Dispatcher)

// WithPool enables resource claiming against pool before every call.
func WithPool(pool *resource.Pool) Option {
	return func(d *Dispatcher) { d.pool = pool }
}

// WithConnLimiter rejects over-limit calls per connection with a server-busy
// response.
func WithConnLimiter(l *ratelimit.ConnLimiter) Option {
	return func(d *Dispatcher) { d.limiter = l }
}

// WithIDProvider overrides the subscription id provider.
func WithIDProvider(p IDProvider) Option {
	return func(d *Dispatcher) { d.idProvider = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// NewDispatcher freezes the registry's current snapshot. Methods registered
// afterwards are not visible to this dispatcher.
func NewDispatcher(methods *Methods, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		callbacks:  methods.snapshot(),
		idProvider: RandomIntegerIDProvider{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ServeRequest resolves and executes one request. Every non-subscription
// call produces exactly one message on sink: the response or an error
// response. Subscription pushes follow on the same sink.
func (d *Dispatcher) ServeRequest(ctx context.Context, req jsonrpc.Request, sink *MethodSink, connID ConnID, closeNotify *DisconnectSignal) {
	cb, ok := d.callbacks[req.Method]
	if !ok {
		d.logger.Debug("rpc method not found", "method", req.Method, "conn_id", uint64(connID))
		sink.SendError(req.ID, jsonrpc.CodeMethodNotFound, jsonrpc.DefaultMessage(jsonrpc.CodeMethodNotFound))
		return
	}

	if !d.limiter.Allow(uint64(connID), time.Now()) {
		d.logger.Debug("rpc call rate limited", "method", req.Method, "conn_id", uint64(connID))
		sink.SendError(req.ID, jsonrpc.CodeServerBusy, jsonrpc.DefaultMessage(jsonrpc.CodeServerBusy))
		return
	}

	var guard *resource.Guard
	if d.pool != nil {
		var err error
		guard, err = cb.Claim(req.Method, d.pool)
		if err != nil {
			var atCapacity *resource.AtCapacityError
			if errors.As(err, &atCapacity) {
				d.logger.Debug("rpc call rejected: resource at capacity", "method", req.Method, "resource", atCapacity.Label)
				sink.SendError(req.ID, jsonrpc.CodeServerBusy, jsonrpc.DefaultMessage(jsonrpc.CodeServerBusy))
				return
			}
			d.logger.Error("rpc resource claim failed", "method", req.Method, "err", err)
			sink.SendError(req.ID, jsonrpc.CodeInternalError, jsonrpc.DefaultMessage(jsonrpc.CodeInternalError))
			return
		}
	}

	params := jsonrpc.NewParams(req.Params)
	switch cb.kind {
	case KindSync:
		defer guard.Release()
		cb.sync(req.ID, params, sink)
	case KindAsync:
		// The callback spawns its own goroutine and releases the guard
		// when that goroutine finishes.
		cb.async(ctx, req.ID, params, sink, connID, guard)
	case KindSubscription:
		defer guard.Release()
		conn := ConnState{ConnID: connID, CloseNotify: closeNotify, IDProvider: d.idProvider}
		cb.subscription(req.ID, params, sink, conn)
	}
}
