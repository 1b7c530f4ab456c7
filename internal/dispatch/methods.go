// Package dispatch implements the in-process JSON-RPC method registry and
// dispatch runtime: a copy-on-write name→handler map, an execution model
// spanning sync, async and blocking handlers, resource-claim admission
// control, and subscription bookkeeping multiplexed over one outbound sink
// per connection.
package dispatch

import (
	"context"
	"encoding/json"
	"slices"

	"aim-chat/rpc-runtime/internal/resource"
	"aim-chat/rpc-runtime/pkg/jsonrpc"
)

// ConnID identifies a connection. Supplied by the transport; stateless
// transports may use a constant.
type ConnID uint64

// Kind tags the closed set of callback variants.
type Kind int

const (
	KindSync Kind = iota
	KindAsync
	KindSubscription
)

func (k Kind) String() string {
	switch k {
	case KindSync:
		return "sync"
	case KindAsync:
		return "async"
	case KindSubscription:
		return "subscription"
	}
	return "unknown"
}

type (
	syncCallback  func(id json.RawMessage, params jsonrpc.Params, sink *MethodSink) bool
	asyncCallback func(ctx context.Context, id json.RawMessage, params jsonrpc.Params, sink *MethodSink, conn ConnID, guard *resource.Guard)
	subCallback   func(id json.RawMessage, params jsonrpc.Params, sink *MethodSink, conn ConnState) bool
)

type resourceEntry struct {
	label string
	units uint16
}

type methodResources struct {
	initialized bool
	declared    []resourceEntry
	units       []uint16
}

func (r methodResources) clone() methodResources {
	return methodResources{
		initialized: r.initialized,
		declared:    append([]resourceEntry(nil), r.declared...),
		units:       append([]uint16(nil), r.units...),
	}
}

// MethodCallback pairs a handler with the resource costs it declared.
type MethodCallback struct {
	kind         Kind
	sync         syncCallback
	async        asyncCallback
	subscription subCallback
	resources    methodResources
}

func newSyncCallback(fn syncCallback) *MethodCallback {
	return &MethodCallback{kind: KindSync, sync: fn}
}

func newAsyncCallback(fn asyncCallback) *MethodCallback {
	return &MethodCallback{kind: KindAsync, async: fn}
}

func newSubscriptionCallback(fn subCallback) *MethodCallback {
	return &MethodCallback{kind: KindSubscription, subscription: fn}
}

func (c *MethodCallback) Kind() Kind {
	return c.kind
}

// Claim attempts to reserve the callback's bound units from the pool. Fails
// with UninitializedMethodError before InitializeResources has run.
func (c *MethodCallback) Claim(method string, pool *resource.Pool) (*resource.Guard, error) {
	if !c.resources.initialized {
		return nil, &UninitializedMethodError{Method: method}
	}
	return pool.Claim(c.resources.units)
}

// ResourceBuilder declares (label, units) costs on a freshly registered
// method.
type ResourceBuilder struct {
	callback *MethodCallback
}

// Resource adds one declared cost. More than resource.MaxResources distinct
// declarations fail.
func (b *ResourceBuilder) Resource(label string, units uint16) (*ResourceBuilder, error) {
	if len(b.callback.resources.declared) >= resource.MaxResources {
		return nil, resource.ErrMaxResourcesReached
	}
	b.callback.resources.declared = append(b.callback.resources.declared, resourceEntry{label: label, units: units})
	return b, nil
}

// Methods is the name→callback registry. It is built by one owner; the
// moment a snapshot is handed to a dispatch path it is frozen, and any
// further registration clones the map first so concurrent readers never see
// a partially-mutated registry. Not safe for concurrent mutation.
type Methods struct {
	callbacks map[string]*MethodCallback
	shared    bool
}

func NewMethods() *Methods {
	return &Methods{callbacks: make(map[string]*MethodCallback)}
}

// snapshot freezes the current map for read-only sharing.
func (m *Methods) snapshot() map[string]*MethodCallback {
	m.shared = true
	return m.callbacks
}

// mutCallbacks returns a privately owned map, cloning the frozen snapshot on
// first write after a share.
func (m *Methods) mutCallbacks() map[string]*MethodCallback {
	if m.shared {
		clone := make(map[string]*MethodCallback, len(m.callbacks))
		for name, cb := range m.callbacks {
			clone[name] = cb
		}
		m.callbacks = clone
		m.shared = false
	}
	return m.callbacks
}

func (m *Methods) verifyName(name string) error {
	if _, ok := m.callbacks[name]; ok {
		return &MethodAlreadyRegisteredError{Method: name}
	}
	return nil
}

func (m *Methods) verifyAndInsert(name string, cb *MethodCallback) (*MethodCallback, error) {
	if err := m.verifyName(name); err != nil {
		return nil, err
	}
	m.mutCallbacks()[name] = cb
	return cb, nil
}

// Method returns the callback registered under name, nil if absent.
func (m *Methods) Method(name string) *MethodCallback {
	return m.callbacks[name]
}

// MethodNames returns all registered names, sorted.
func (m *Methods) MethodNames() []string {
	names := make([]string, 0, len(m.callbacks))
	for name := range m.callbacks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Merge moves every callback from other into m. All names are validated
// before any insertion, so a collision leaves m completely unchanged. On
// success other is drained.
func (m *Methods) Merge(other *Methods) error {
	for name := range other.callbacks {
		if err := m.verifyName(name); err != nil {
			return err
		}
	}

	dst := m.mutCallbacks()
	src := other.mutCallbacks()
	for name, cb := range src {
		dst[name] = cb
		delete(src, name)
	}
	return nil
}

// RegisterAlias registers alias as a snapshot of the callback currently
// bound to existing. Resource declarations added to existing afterwards are
// not shared with the alias.
func (m *Methods) RegisterAlias(alias, existing string) error {
	if err := m.verifyName(alias); err != nil {
		return err
	}
	cb, ok := m.callbacks[existing]
	if !ok {
		return &MethodNotFoundError{Method: existing}
	}

	cp := &MethodCallback{
		kind:         cb.kind,
		sync:         cb.sync,
		async:        cb.async,
		subscription: cb.subscription,
		resources:    cb.resources.clone(),
	}
	m.mutCallbacks()[alias] = cp
	return nil
}

// InitializeResources binds every handler with uninitialized declarations to
// the pool, materializing a dense unit vector per handler. Labels of
// capacity 0 are coerced to 0 units (unlimited). Handlers already bound are
// skipped, so the call is idempotent per pool assembly.
func (m *Methods) InitializeResources(pool *resource.Pool) error {
	table := pool.Table()

	type bound struct {
		name  string
		cb    *MethodCallback
		units []uint16
	}
	var pending []bound

	for name, cb := range m.callbacks {
		if cb.resources.initialized {
			continue
		}
		units := append([]uint16(nil), table.Defaults...)
		for _, decl := range cb.resources.declared {
			idx := slices.Index(table.Labels, decl.label)
			if idx < 0 {
				return &ResourceNameNotFoundError{Label: decl.label, Method: name}
			}
			if table.Capacities[idx] == 0 {
				units[idx] = 0
			} else {
				units[idx] = decl.units
			}
		}
		pending = append(pending, bound{name: name, cb: cb, units: units})
	}

	callbacks := m.mutCallbacks()
	for _, b := range pending {
		cp := &MethodCallback{
			kind:         b.cb.kind,
			sync:         b.cb.sync,
			async:        b.cb.async,
			subscription: b.cb.subscription,
			resources:    methodResources{initialized: true, units: b.units},
		}
		callbacks[b.name] = cp
	}
	return nil
}

// Clone returns a handle sharing the frozen snapshot; mutating either side
// afterwards works on a private copy.
func (m *Methods) Clone() *Methods {
	return &Methods{callbacks: m.snapshot(), shared: true}
}
