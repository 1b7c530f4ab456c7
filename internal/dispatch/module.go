package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime"

	"aim-chat/rpc-runtime/internal/resource"
	"aim-chat/rpc-runtime/pkg/jsonrpc"
)

// Module binds a registry to a shared execution context handed to every
// handler. The context is set at construction and never changes.
type Module[Ctx any] struct {
	ctx     Ctx
	methods *Methods
}

func NewModule[Ctx any](ctx Ctx) *Module[Ctx] {
	return &Module[Ctx]{ctx: ctx, methods: NewMethods()}
}

// Methods exposes the underlying registry.
func (m *Module[Ctx]) Methods() *Methods {
	return m.methods
}

// Context returns the shared context value.
func (m *Module[Ctx]) Context() Ctx {
	return m.ctx
}

// RemoveContext returns a context-free module sharing the same registry.
func (m *Module[Ctx]) RemoveContext() *Module[struct{}] {
	return &Module[struct{}]{methods: m.methods}
}

// RegisterAlias registers alias for an existing method; see
// Methods.RegisterAlias.
func (m *Module[Ctx]) RegisterAlias(alias, existing string) error {
	return m.methods.RegisterAlias(alias, existing)
}

// RegisterMethod registers a synchronous handler. It runs inline on the
// dispatching goroutine and must be fast and non-blocking. The returned
// builder declares resource costs.
func (m *Module[Ctx]) RegisterMethod(name string, handler func(params jsonrpc.Params, ctx Ctx) (any, error)) (*ResourceBuilder, error) {
	moduleCtx := m.ctx
	cb := newSyncCallback(func(id json.RawMessage, params jsonrpc.Params, sink *MethodSink) bool {
		result, err := handler(params, moduleCtx)
		if err != nil {
			return sink.SendCallError(id, err)
		}
		return sink.SendResponse(id, result)
	})

	inserted, err := m.methods.verifyAndInsert(name, cb)
	if err != nil {
		return nil, err
	}
	return &ResourceBuilder{callback: inserted}, nil
}

// RegisterAsyncMethod registers a handler executed on its own goroutine.
// The claimed resource guard is released when the handler finishes on any
// path, including a panic.
func (m *Module[Ctx]) RegisterAsyncMethod(name string, handler func(ctx context.Context, params jsonrpc.Params, moduleCtx Ctx) (any, error)) (*ResourceBuilder, error) {
	moduleCtx := m.ctx
	cb := newAsyncCallback(func(ctx context.Context, id json.RawMessage, params jsonrpc.Params, sink *MethodSink, _ ConnID, guard *resource.Guard) {
		go func() {
			defer guard.Release()
			defer func() {
				if r := recover(); r != nil {
					slog.Default().Error("async method panicked", "method", name, "panic", r)
				}
			}()
			result, err := handler(ctx, params, moduleCtx)
			if err != nil {
				sink.SendCallError(id, err)
				return
			}
			sink.SendResponse(id, result)
		}()
	})

	inserted, err := m.methods.verifyAndInsert(name, cb)
	if err != nil {
		return nil, err
	}
	return &ResourceBuilder{callback: inserted}, nil
}

// RegisterBlockingMethod registers a handler that may block or perform
// expensive work. It is offloaded to its own goroutine; a panic is logged
// and treated as a failed send, never a dispatcher crash.
func (m *Module[Ctx]) RegisterBlockingMethod(name string, handler func(params jsonrpc.Params, moduleCtx Ctx) (any, error)) (*ResourceBuilder, error) {
	moduleCtx := m.ctx
	cb := newAsyncCallback(func(_ context.Context, id json.RawMessage, params jsonrpc.Params, sink *MethodSink, _ ConnID, guard *resource.Guard) {
		go func() {
			defer guard.Release()
			defer func() {
				if r := recover(); r != nil {
					slog.Default().Error("blocking method task failed", "method", name, "panic", r)
				}
			}()
			result, err := handler(params, moduleCtx)
			if err != nil {
				sink.SendCallError(id, err)
				return
			}
			sink.SendResponse(id, result)
		}()
	})

	inserted, err := m.methods.verifyAndInsert(name, cb)
	if err != nil {
		return nil, err
	}
	return &ResourceBuilder{callback: inserted}, nil
}

// RegisterSubscription registers a publish/subscribe method triple:
// subscribeMethod opens a subscription, notifMethod names the notification
// envelopes pushed to it, and unsubscribeMethod tears it down, answering
// with a boolean result.
//
// The handler receives a SubscriptionSink it may use synchronously or hand
// to background work. Handler errors are logged and answered with a
// call-execution-failed response.
func (m *Module[Ctx]) RegisterSubscription(subscribeMethod, notifMethod, unsubscribeMethod string, handler func(params jsonrpc.Params, sink *SubscriptionSink, moduleCtx Ctx) error) error {
	if subscribeMethod == unsubscribeMethod {
		return &SubscriptionNameConflictError{Method: subscribeMethod}
	}
	if err := m.methods.verifyName(subscribeMethod); err != nil {
		return err
	}
	if err := m.methods.verifyName(unsubscribeMethod); err != nil {
		return err
	}

	moduleCtx := m.ctx
	subscribers := newSubscriberTable()

	subscribe := newSubscriptionCallback(func(id json.RawMessage, params jsonrpc.Params, sink *MethodSink, conn ConnState) bool {
		subID := conn.IDProvider.NextID()
		key := subscriptionKey{conn: conn.ConnID, sub: subID.Key()}
		subscribers.insert(key, subscriberEntry{sink: sink})

		sink.SendResponse(id, subID)

		subSink := &SubscriptionSink{inner: &subSinkState{
			sink:        sink,
			closeNotify: conn.CloseNotify,
			method:      notifMethod,
			key:         key,
			subID:       subID,
			table:       subscribers,
			connected:   true,
		}}
		// A sink dropped without an explicit close still closes the
		// subscription once, with a generic server reason.
		runtime.AddCleanup(subSink, func(st *subSinkState) {
			reason := dropReason()
			st.close(&reason)
		}, subSink.inner)

		if err := handler(params, subSink, moduleCtx); err != nil {
			slog.Default().Error("subscribe call failed", "method", subscribeMethod, "err", err)
			return sink.SendError(id, jsonrpc.CodeCallFailed, jsonrpc.DefaultMessage(jsonrpc.CodeCallFailed))
		}
		return true
	})

	unsubscribe := newSubscriptionCallback(func(id json.RawMessage, params jsonrpc.Params, sink *MethodSink, conn ConnState) bool {
		var subID jsonrpc.SubscriptionID
		if err := params.One(&subID); err != nil {
			slog.Default().Error("unsubscribe call failed: invalid subscription id", "method", unsubscribeMethod)
			return sink.SendResponse(id, false)
		}
		_, removed := subscribers.remove(subscriptionKey{conn: conn.ConnID, sub: subID.Key()})
		return sink.SendResponse(id, removed)
	})

	callbacks := m.methods.mutCallbacks()
	callbacks[subscribeMethod] = subscribe
	callbacks[unsubscribeMethod] = unsubscribe
	return nil
}
