package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"aim-chat/rpc-runtime/pkg/jsonrpc"
)

// ConnState carries per-connection facts into a subscription callback.
type ConnState struct {
	ConnID ConnID
	// CloseNotify fires when the connection to the subscriber is gone.
	CloseNotify *DisconnectSignal
	IDProvider  IDProvider
}

type subscriptionKey struct {
	conn ConnID
	sub  string
}

type subscriberEntry struct {
	sink *MethodSink
}

// subscriberTable maps live subscriptions of one subscription method to
// their outbound sinks. Entry removal is the cancellation edge observed by
// SubscriptionSink sends.
type subscriberTable struct {
	mu      sync.Mutex
	entries map[subscriptionKey]subscriberEntry
}

func newSubscriberTable() *subscriberTable {
	return &subscriberTable{entries: make(map[subscriptionKey]subscriberEntry)}
}

func (t *subscriberTable) insert(key subscriptionKey, e subscriberEntry) {
	t.mu.Lock()
	t.entries[key] = e
	t.mu.Unlock()
}

func (t *subscriberTable) remove(key subscriptionKey) (subscriberEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
	}
	return e, ok
}

func (t *subscriberTable) contains(key subscriptionKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[key]
	return ok
}

// SubscriptionSink is the per-subscriber handle a subscription handler uses
// to push notifications and close the subscription. Exactly one exists per
// live subscription; a sink dropped without an explicit Close still closes
// with a generic server reason.
type SubscriptionSink struct {
	inner *subSinkState
}

type subSinkState struct {
	sink        *MethodSink
	closeNotify *DisconnectSignal
	method      string
	key         subscriptionKey
	subID       jsonrpc.SubscriptionID
	table       *subscriberTable

	mu        sync.Mutex
	connected bool
}

func (s *SubscriptionSink) SubscriptionID() jsonrpc.SubscriptionID {
	return s.inner.subID
}

// IsClosed reports whether pushes can no longer reach the subscriber.
func (s *SubscriptionSink) IsClosed() bool {
	return s.inner.closed()
}

func (st *subSinkState) closed() bool {
	st.mu.Lock()
	connected := st.connected
	st.mu.Unlock()
	return !connected || st.sink.IsClosed()
}

// Send pushes one notification to the subscriber. Fails with
// SubscriptionClosedError once the subscription is no longer live; a dead
// outbound channel additionally closes the subscription with reason
// ConnectionReset.
func (s *SubscriptionSink) Send(result any) error {
	st := s.inner
	if st.closed() {
		return &SubscriptionClosedError{Reason: jsonrpc.CloseConnectionReset}
	}
	msg, err := jsonrpc.NewSubscriptionNotification(st.method, st.subID, result)
	if err != nil {
		return err
	}
	return st.send(msg)
}

func (st *subSinkState) send(msg string) error {
	var reason jsonrpc.CloseReason

	st.mu.Lock()
	connected := st.connected
	st.mu.Unlock()

	switch {
	case !connected:
		reason = jsonrpc.ServerClose("close reason unknown")
	case !st.table.contains(st.key):
		// Removed by an unsubscribe call.
		reason = jsonrpc.CloseUnsubscribed
	case st.sink.SendRaw(msg):
		return nil
	default:
		reason = jsonrpc.CloseConnectionReset
	}

	// The subscriber is gone; tear down without a goodbye message.
	st.close(nil)
	return &SubscriptionClosedError{Reason: reason}
}

// Close removes the subscription and best-effort-sends one final
// notification carrying the reason. Idempotent.
func (s *SubscriptionSink) Close(reason jsonrpc.CloseReason) {
	s.inner.close(&reason)
}

// CloseWithMessage closes with a server-supplied message reason.
func (s *SubscriptionSink) CloseWithMessage(msg string) {
	s.Close(jsonrpc.ServerClose(msg))
}

func (st *subSinkState) close(reason *jsonrpc.CloseReason) {
	st.mu.Lock()
	st.connected = false
	st.mu.Unlock()

	entry, ok := st.table.remove(st.key)
	if !ok {
		return
	}
	slog.Default().Debug("closing subscription", "sub_id", st.subID.String(), "reason", reason)
	if reason == nil {
		return
	}
	msg, err := jsonrpc.NewSubscriptionNotification(st.method, st.subID, *reason)
	if err != nil {
		return
	}
	// Send failures on the goodbye message are ignored.
	entry.sink.SendRaw(msg)
}

// dropReason is used when a sink is garbage collected without an explicit
// close, mirroring an implicit server-side drop.
func dropReason() jsonrpc.CloseReason {
	return jsonrpc.ServerClose("No close reason provided")
}

// PipeFromChannel forwards items from ch to the subscriber until the channel
// ends, the subscription closes, or the disconnect signal fires. It never
// polls; it waits on whichever of the two events is ready first.
//
// Channel end stops the loop without closing (closing, if needed, happens
// when the sink is dropped). A push onto a closed subscription performs an
// explicit close with that reason and stops. Disconnect closes with reason
// ConnectionReset.
func PipeFromChannel[T any](sink *SubscriptionSink, ch <-chan T) error {
	done := sink.inner.closeNotify.Done()
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return nil
			}
			if err := sink.Send(v); err != nil {
				var closedErr *SubscriptionClosedError
				if errors.As(err, &closedErr) {
					sink.Close(closedErr.Reason)
					return nil
				}
				return err
			}
		case <-done:
			sink.Close(jsonrpc.CloseConnectionReset)
			return nil
		}
	}
}

// Subscription is the client half used by the in-process caller: it holds
// the id, the notification stream and the trigger for the server-side
// disconnect signal.
type Subscription struct {
	subID  jsonrpc.SubscriptionID
	stream *MethodSink
	notify *DisconnectSignal
}

func (s *Subscription) SubscriptionID() jsonrpc.SubscriptionID {
	return s.subID
}

// Close fires the server-side disconnect signal. Idempotent.
func (s *Subscription) Close() {
	s.notify.Fire()
}

// Next decodes the next pushed notification result into out and returns the
// id it was tagged with. A close notification surfaces as a
// SubscriptionClosedError carrying the reason.
func (s *Subscription) Next(ctx context.Context, out any) (jsonrpc.SubscriptionID, error) {
	raw, ok := s.stream.Next(ctx)
	if !ok {
		if err := ctx.Err(); err != nil {
			return jsonrpc.SubscriptionID{}, err
		}
		return jsonrpc.SubscriptionID{}, &SubscriptionClosedError{Reason: jsonrpc.CloseConnectionReset}
	}

	var notif jsonrpc.SubscriptionNotification
	if err := json.Unmarshal([]byte(raw), &notif); err != nil {
		return jsonrpc.SubscriptionID{}, err
	}
	if reason, isClose := jsonrpc.DecodeCloseReason(notif.Params.Result); isClose {
		return notif.Params.Subscription, &SubscriptionClosedError{Reason: reason}
	}
	if err := json.Unmarshal(notif.Params.Result, out); err != nil {
		return jsonrpc.SubscriptionID{}, err
	}
	return notif.Params.Subscription, nil
}
