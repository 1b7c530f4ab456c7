package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"aim-chat/rpc-runtime/pkg/jsonrpc"
)

// MethodSink is the outbound message channel toward one connection. Sends
// never block: messages queue in order until the consumer drains them with
// Next. One consumer at a time; any number of concurrent senders.
type MethodSink struct {
	mu     sync.Mutex
	queue  []string
	wake   chan struct{}
	closed bool
}

func NewMethodSink() *MethodSink {
	return &MethodSink{wake: make(chan struct{}, 1)}
}

// SendRaw enqueues a serialized message. Returns false if the sink is
// closed.
func (s *MethodSink) SendRaw(msg string) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// SendResponse serializes and enqueues a success response. A result that
// fails to marshal degrades to an internal error response.
func (s *MethodSink) SendResponse(id json.RawMessage, result any) bool {
	msg, err := jsonrpc.NewResponse(id, result)
	if err != nil {
		slog.Default().Error("failed to serialize response", "err", err)
		msg = jsonrpc.NewErrorResponse(id, jsonrpc.CodeInternalError, jsonrpc.DefaultMessage(jsonrpc.CodeInternalError))
	}
	return s.SendRaw(msg)
}

// SendError enqueues an error response with the given code.
func (s *MethodSink) SendError(id json.RawMessage, code int, message string) bool {
	return s.SendRaw(jsonrpc.NewErrorResponse(id, code, message))
}

// SendCallError maps a handler error onto the wire. A *jsonrpc.Error keeps
// its code; anything else becomes a call-execution-failed response.
func (s *MethodSink) SendCallError(id json.RawMessage, err error) bool {
	if rpcErr, ok := err.(*jsonrpc.Error); ok {
		return s.SendError(id, rpcErr.Code, rpcErr.Message)
	}
	return s.SendError(id, jsonrpc.CodeCallFailed, err.Error())
}

// Next blocks until a message is available, the sink is closed and drained,
// or ctx is done.
func (s *MethodSink) Next(ctx context.Context) (string, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			msg := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return msg, true
		}
		if s.closed {
			s.mu.Unlock()
			return "", false
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-ctx.Done():
			return "", false
		}
	}
}

// Close marks the sink dead. Queued messages remain readable; further sends
// fail.
func (s *MethodSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *MethodSink) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// DisconnectSignal is a one-shot broadcast meaning "the subscriber is
// gone". Fire is idempotent; every waiter on Done observes it.
type DisconnectSignal struct {
	once sync.Once
	ch   chan struct{}
}

func NewDisconnectSignal() *DisconnectSignal {
	return &DisconnectSignal{ch: make(chan struct{})}
}

func (d *DisconnectSignal) Fire() {
	d.once.Do(func() { close(d.ch) })
}

func (d *DisconnectSignal) Done() <-chan struct{} {
	return d.ch
}

func (d *DisconnectSignal) Fired() bool {
	select {
	case <-d.ch:
		return true
	default:
		return false
	}
}
