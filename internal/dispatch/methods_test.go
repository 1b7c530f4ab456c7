package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"aim-chat/rpc-runtime/internal/resource"
	"aim-chat/rpc-runtime/pkg/jsonrpc"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func registerEcho(t *testing.T, module *Module[struct{}], name string) *ResourceBuilder {
	t.Helper()
	builder, err := module.RegisterMethod(name, func(params jsonrpc.Params, _ struct{}) (any, error) {
		var n int
		if err := params.One(&n); err != nil {
			return nil, err
		}
		return n, nil
	})
	if err != nil {
		t.Fatalf("register %q failed: %v", name, err)
	}
	return builder
}

func TestRegisterDuplicateName(t *testing.T) {
	module := NewModule(struct{}{})
	registerEcho(t, module, "echo")

	_, err := module.RegisterMethod("echo", func(jsonrpc.Params, struct{}) (any, error) {
		return "impostor", nil
	})
	var already *MethodAlreadyRegisteredError
	if !errors.As(err, &already) || already.Method != "echo" {
		t.Fatalf("expected MethodAlreadyRegisteredError for echo, got %v", err)
	}

	// The original handler is untouched.
	var got int
	if err := module.Methods().Call(testContext(t), "echo", []any{7}, &got); err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
}

func TestMergeDisjoint(t *testing.T) {
	left := NewModule(struct{}{})
	registerEcho(t, left, "a")
	right := NewModule(struct{}{})
	registerEcho(t, right, "b")
	registerEcho(t, right, "c")

	if err := left.Methods().Merge(right.Methods()); err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	names := left.Methods().MethodNames()
	if len(names) != 3 || names[0] != "a" || names[1] != "b" || names[2] != "c" {
		t.Fatalf("expected union a,b,c, got %v", names)
	}
	if len(right.Methods().MethodNames()) != 0 {
		t.Fatal("expected right-hand registry to be drained after merge")
	}
}

func TestMergeOverlapLeavesLeftUnchanged(t *testing.T) {
	left := NewModule(struct{}{})
	registerEcho(t, left, "a")
	registerEcho(t, left, "b")
	right := NewModule(struct{}{})
	registerEcho(t, right, "b")
	registerEcho(t, right, "c")

	err := left.Methods().Merge(right.Methods())
	var already *MethodAlreadyRegisteredError
	if !errors.As(err, &already) || already.Method != "b" {
		t.Fatalf("expected MethodAlreadyRegisteredError for b, got %v", err)
	}

	names := left.Methods().MethodNames()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("left registry changed on failed merge: %v", names)
	}
	if len(right.Methods().MethodNames()) != 2 {
		t.Fatalf("right registry changed on failed merge: %v", right.Methods().MethodNames())
	}
}

func TestRegisterAlias(t *testing.T) {
	module := NewModule(struct{}{})
	registerEcho(t, module, "echo")

	if err := module.RegisterAlias("echo_v2", "echo"); err != nil {
		t.Fatalf("alias failed: %v", err)
	}

	var got int
	if err := module.Methods().Call(testContext(t), "echo_v2", []any{9}, &got); err != nil {
		t.Fatalf("alias call failed: %v", err)
	}
	if got != 9 {
		t.Fatalf("expected 9, got %d", got)
	}

	var notFound *MethodNotFoundError
	if err := module.RegisterAlias("x", "missing"); !errors.As(err, &notFound) {
		t.Fatalf("expected MethodNotFoundError, got %v", err)
	}
	var already *MethodAlreadyRegisteredError
	if err := module.RegisterAlias("echo", "echo_v2"); !errors.As(err, &already) {
		t.Fatalf("expected MethodAlreadyRegisteredError, got %v", err)
	}
}

func TestAliasIsSnapshotOfResourceDeclarations(t *testing.T) {
	module := NewModule(struct{}{})
	builder := registerEcho(t, module, "echo")
	if err := module.RegisterAlias("echo_v2", "echo"); err != nil {
		t.Fatalf("alias failed: %v", err)
	}

	// Declared after the alias was taken: only "echo" carries the cost.
	if _, err := builder.Resource("cpu", 2); err != nil {
		t.Fatalf("resource declaration failed: %v", err)
	}

	pool := resource.NewPool()
	if err := pool.Register("cpu", 4, 0); err != nil {
		t.Fatalf("pool register failed: %v", err)
	}
	if err := module.Methods().InitializeResources(pool); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	aliasGuard, err := module.Methods().Method("echo_v2").Claim("echo_v2", pool)
	if err != nil {
		t.Fatalf("alias claim failed: %v", err)
	}
	if got := pool.InUse("cpu"); got != 0 {
		t.Fatalf("alias claim must not consume cpu, got %d", got)
	}
	aliasGuard.Release()

	guard, err := module.Methods().Method("echo").Claim("echo", pool)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	defer guard.Release()
	if got := pool.InUse("cpu"); got != 2 {
		t.Fatalf("expected 2 cpu units in use, got %d", got)
	}
}

func TestClaimBeforeInitializeFails(t *testing.T) {
	module := NewModule(struct{}{})
	builder := registerEcho(t, module, "echo")
	if _, err := builder.Resource("cpu", 1); err != nil {
		t.Fatalf("resource declaration failed: %v", err)
	}

	pool := resource.NewPool()
	if err := pool.Register("cpu", 4, 0); err != nil {
		t.Fatalf("pool register failed: %v", err)
	}

	_, err := module.Methods().Method("echo").Claim("echo", pool)
	var uninit *UninitializedMethodError
	if !errors.As(err, &uninit) || uninit.Method != "echo" {
		t.Fatalf("expected UninitializedMethodError, got %v", err)
	}
}

func TestInitializeResources(t *testing.T) {
	t.Run("unknown label", func(t *testing.T) {
		module := NewModule(struct{}{})
		builder := registerEcho(t, module, "echo")
		if _, err := builder.Resource("gpu", 1); err != nil {
			t.Fatalf("resource declaration failed: %v", err)
		}

		pool := resource.NewPool()
		if err := pool.Register("cpu", 4, 0); err != nil {
			t.Fatalf("pool register failed: %v", err)
		}

		err := module.Methods().InitializeResources(pool)
		var notFound *ResourceNameNotFoundError
		if !errors.As(err, &notFound) || notFound.Label != "gpu" || notFound.Method != "echo" {
			t.Fatalf("expected ResourceNameNotFoundError for gpu/echo, got %v", err)
		}
	})

	t.Run("capacity zero coerces units to zero", func(t *testing.T) {
		module := NewModule(struct{}{})
		builder := registerEcho(t, module, "echo")
		if _, err := builder.Resource("unbounded", 50); err != nil {
			t.Fatalf("resource declaration failed: %v", err)
		}

		pool := resource.NewPool()
		if err := pool.Register("unbounded", 0, 0); err != nil {
			t.Fatalf("pool register failed: %v", err)
		}
		if err := module.Methods().InitializeResources(pool); err != nil {
			t.Fatalf("initialize failed: %v", err)
		}

		guard, err := module.Methods().Method("echo").Claim("echo", pool)
		if err != nil {
			t.Fatalf("claim failed: %v", err)
		}
		defer guard.Release()
		if got := pool.InUse("unbounded"); got != 0 {
			t.Fatalf("capacity-0 label must not count, got %d", got)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		module := NewModule(struct{}{})
		builder := registerEcho(t, module, "echo")
		if _, err := builder.Resource("cpu", 2); err != nil {
			t.Fatalf("resource declaration failed: %v", err)
		}

		pool := resource.NewPool()
		if err := pool.Register("cpu", 4, 0); err != nil {
			t.Fatalf("pool register failed: %v", err)
		}
		if err := module.Methods().InitializeResources(pool); err != nil {
			t.Fatalf("first initialize failed: %v", err)
		}
		if err := module.Methods().InitializeResources(pool); err != nil {
			t.Fatalf("second initialize failed: %v", err)
		}

		guard, err := module.Methods().Method("echo").Claim("echo", pool)
		if err != nil {
			t.Fatalf("claim failed: %v", err)
		}
		defer guard.Release()
		if got := pool.InUse("cpu"); got != 2 {
			t.Fatalf("expected 2 cpu units in use, got %d", got)
		}
	})
}

func TestResourceBuilderLimit(t *testing.T) {
	module := NewModule(struct{}{})
	builder := registerEcho(t, module, "echo")
	for i := 0; i < resource.MaxResources; i++ {
		if _, err := builder.Resource(fmt.Sprintf("r%d", i), 1); err != nil {
			t.Fatalf("declaration %d failed: %v", i, err)
		}
	}
	if _, err := builder.Resource("overflow", 1); !errors.Is(err, resource.ErrMaxResourcesReached) {
		t.Fatalf("expected ErrMaxResourcesReached, got %v", err)
	}
}

func TestDispatcherSnapshotIsFrozen(t *testing.T) {
	module := NewModule(struct{}{})
	registerEcho(t, module, "a")

	d := NewDispatcher(module.Methods())
	registerEcho(t, module, "b")

	// The late registration is visible to the registry owner...
	if module.Methods().Method("b") == nil {
		t.Fatal("expected b in the registry")
	}

	// ...but not to the dispatcher holding the earlier snapshot.
	ctx := testContext(t)
	sink := NewMethodSink()
	d.ServeRequest(ctx, jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: jsonMessage("1"), Method: "b"}, sink, 0, NewDisconnectSignal())
	resp := mustNext(t, ctx, sink)
	assertErrorCode(t, resp, jsonrpc.CodeMethodNotFound)
}

func TestRemoveContextSharesRegistry(t *testing.T) {
	module := NewModule("shared-context")
	if _, err := module.RegisterMethod("ctx_len", func(_ jsonrpc.Params, ctx string) (any, error) {
		return len(ctx), nil
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	stripped := module.RemoveContext()
	var got int
	if err := stripped.Methods().Call(testContext(t), "ctx_len", nil, &got); err != nil {
		t.Fatalf("call via stripped module failed: %v", err)
	}
	if got != len("shared-context") {
		t.Fatalf("expected %d, got %d", len("shared-context"), got)
	}
}
