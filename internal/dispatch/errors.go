package dispatch

import (
	"fmt"

	"aim-chat/rpc-runtime/pkg/jsonrpc"
)

// MethodAlreadyRegisteredError reports a name collision at register, merge
// or alias time.
type MethodAlreadyRegisteredError struct {
	Method string
}

func (e *MethodAlreadyRegisteredError) Error() string {
	return fmt.Sprintf("method %q already registered", e.Method)
}

// MethodNotFoundError reports a lookup against a name the registry does not
// hold.
type MethodNotFoundError struct {
	Method string
}

func (e *MethodNotFoundError) Error() string {
	return fmt.Sprintf("method %q not found", e.Method)
}

// SubscriptionNameConflictError reports identical subscribe and unsubscribe
// method names.
type SubscriptionNameConflictError struct {
	Method string
}

func (e *SubscriptionNameConflictError) Error() string {
	return fmt.Sprintf("subscribe and unsubscribe method names must differ, got %q for both", e.Method)
}

// UninitializedMethodError reports a resource claim attempted before the
// handler was bound to a pool.
type UninitializedMethodError struct {
	Method string
}

func (e *UninitializedMethodError) Error() string {
	return fmt.Sprintf("resources for method %q not initialized", e.Method)
}

// ResourceNameNotFoundError reports a declared label unknown to the pool the
// registry was initialized against.
type ResourceNameNotFoundError struct {
	Label  string
	Method string
}

func (e *ResourceNameNotFoundError) Error() string {
	return fmt.Sprintf("resource %q declared by method %q not found in pool", e.Label, e.Method)
}

// SubscriptionClosedError reports a push against a subscription that is no
// longer live, carrying the close reason.
type SubscriptionClosedError struct {
	Reason jsonrpc.CloseReason
}

func (e *SubscriptionClosedError) Error() string {
	return fmt.Sprintf("subscription closed: %s", e.Reason)
}
