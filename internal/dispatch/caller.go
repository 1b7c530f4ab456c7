package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"

	"aim-chat/rpc-runtime/pkg/jsonrpc"
)

// The in-process caller drives the dispatcher against a throwaway sink and
// disconnect signal, with no transport involved. It exists so handlers and
// subscriptions can be exercised directly, mostly from tests.

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("serialize params: %w", err)
		}
		return raw, nil
	}
}

func (m *Methods) innerCall(ctx context.Context, req jsonrpc.Request) (string, *MethodSink, *DisconnectSignal, error) {
	sink := NewMethodSink()
	notify := NewDisconnectSignal()

	d := NewDispatcher(m)
	d.ServeRequest(ctx, req, sink, 0, notify)

	first, ok := sink.Next(ctx)
	if !ok {
		if err := ctx.Err(); err != nil {
			return "", nil, nil, err
		}
		return "", nil, nil, errors.New("no response produced")
	}
	return first, sink, notify, nil
}

// Call executes a registered method and decodes the result field of its
// response into result (which may be nil). Params may be nil, a
// json.RawMessage, or any JSON-serializable value, conventionally a
// positional array.
func (m *Methods) Call(ctx context.Context, method string, params any, result any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	req := jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: json.RawMessage("0"), Method: method, Params: raw}

	first, _, _, err := m.innerCall(ctx, req)
	if err != nil {
		return err
	}

	var resp jsonrpc.Response
	if err := json.Unmarshal([]byte(first), &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// RawJSONRequest executes one raw JSON request and returns the raw first
// response plus the stream carrying any further notifications.
func (m *Methods) RawJSONRequest(ctx context.Context, call string) (string, *MethodSink, error) {
	var req jsonrpc.Request
	if err := json.Unmarshal([]byte(call), &req); err != nil {
		return "", nil, fmt.Errorf("decode request: %w", err)
	}
	first, stream, _, err := m.innerCall(ctx, req)
	if err != nil {
		return "", nil, err
	}
	return first, stream, nil
}

// Subscribe opens a subscription and returns the client-side handle. The
// handle's Close fires the server-side disconnect signal; a handle dropped
// without Close does the same.
func (m *Methods) Subscribe(ctx context.Context, method string, params any) (*Subscription, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	req := jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: json.RawMessage("0"), Method: method, Params: raw}

	first, stream, notify, err := m.innerCall(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp jsonrpc.Response
	if err := json.Unmarshal([]byte(first), &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	var subID jsonrpc.SubscriptionID
	if err := json.Unmarshal(resp.Result, &subID); err != nil {
		return nil, fmt.Errorf("decode subscription id: %w", err)
	}

	sub := &Subscription{subID: subID, stream: stream, notify: notify}
	runtime.AddCleanup(sub, func(n *DisconnectSignal) { n.Fire() }, notify)
	return sub, nil
}
