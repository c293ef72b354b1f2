// Package store provides DocumentStore and KV implementations.
package store

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	syncpkg "github.com/warp/schedule-sync/sync"
)

// =============================================================================
// MEMORY DOCUMENT STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is an in-process DocumentStore with change notification.
// Watch callbacks fire synchronously on the mutating goroutine, which
// makes race tests deterministic.
type Memory struct {
	mu        sync.RWMutex
	docs      map[docKey]json.RawMessage
	watchers  map[docKey]map[int]syncpkg.WatchFunc
	nextWatch int

	// FailWrites / FailReads make every mutating / reading call return
	// ErrUnavailable. Used to simulate an unreachable remote store.
	FailWrites bool
	FailReads  bool
}

type docKey struct {
	Tenant     string
	Collection string
	ID         string
}

// ErrUnavailable simulates a network/store outage.
var ErrUnavailable = errUnavailable{}

type errUnavailable struct{}

func (errUnavailable) Error() string { return "store unavailable" }

func NewMemory() *Memory {
	return &Memory{
		docs:     make(map[docKey]json.RawMessage),
		watchers: make(map[docKey]map[int]syncpkg.WatchFunc),
	}
}

func (m *Memory) Get(_ context.Context, tenant, collection, id string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailReads {
		return nil, ErrUnavailable
	}
	data, ok := m.docs[docKey{tenant, collection, id}]
	if !ok {
		return nil, syncpkg.ErrNotFound
	}
	return data, nil
}

func (m *Memory) List(_ context.Context, tenant, collection string) (map[string]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailReads {
		return nil, ErrUnavailable
	}
	out := make(map[string]json.RawMessage)
	for k, v := range m.docs {
		if k.Tenant == tenant && k.Collection == collection {
			out[k.ID] = v
		}
	}
	return out, nil
}

func (m *Memory) ListIDs(ctx context.Context, tenant, collection string) ([]string, error) {
	docs, err := m.List(ctx, tenant, collection)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Memory) Set(_ context.Context, tenant, collection, id string, data json.RawMessage) error {
	m.mu.Lock()
	if m.FailWrites {
		m.mu.Unlock()
		return ErrUnavailable
	}
	k := docKey{tenant, collection, id}
	cp := make(json.RawMessage, len(data))
	copy(cp, data)
	m.docs[k] = cp
	fns := m.watcherList(k)
	m.mu.Unlock()

	for _, fn := range fns {
		fn(cp, true)
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, tenant, collection, id string) error {
	m.mu.Lock()
	if m.FailWrites {
		m.mu.Unlock()
		return ErrUnavailable
	}
	k := docKey{tenant, collection, id}
	_, existed := m.docs[k]
	delete(m.docs, k)
	var fns []syncpkg.WatchFunc
	if existed {
		fns = m.watcherList(k)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(nil, false)
	}
	return nil
}

// Watch registers fn for one document and delivers the current state once
// immediately, mirroring the remote store's snapshot-on-subscribe.
func (m *Memory) Watch(tenant, collection, id string, fn syncpkg.WatchFunc) (func(), error) {
	k := docKey{tenant, collection, id}

	m.mu.Lock()
	if m.watchers[k] == nil {
		m.watchers[k] = make(map[int]syncpkg.WatchFunc)
	}
	handle := m.nextWatch
	m.nextWatch++
	m.watchers[k][handle] = fn
	data, exists := m.docs[k]
	m.mu.Unlock()

	fn(data, exists)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.watchers[k], handle)
	}, nil
}

// watcherList snapshots the callbacks for a key; called under mu.
func (m *Memory) watcherList(k docKey) []syncpkg.WatchFunc {
	fns := make([]syncpkg.WatchFunc, 0, len(m.watchers[k]))
	for _, fn := range m.watchers[k] {
		fns = append(fns, fn)
	}
	return fns
}

// =============================================================================
// MEMORY KV - In-memory hybrid cache / sync queue (for testing/dev)
// =============================================================================

type MemoryKV struct {
	mu     sync.RWMutex
	values map[string]json.RawMessage
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string]json.RawMessage)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryKV) Put(_ context.Context, key string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(json.RawMessage, len(value))
	copy(cp, value)
	m.values[key] = cp
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *MemoryKV) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
