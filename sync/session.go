/*
session.go - Explicit session object owning tenant scope and listeners

PURPOSE:
  One Session per signed-in tenant. Owns the client, loader, reconciler,
  and queue, plus the registry of live change listeners. Created at
  sign-in, torn down at sign-out: Close cancels every subscription.
  This replaces the module-level mutable state (current organization id,
  listener map) that this kind of system tends to accrete.

WRITE PATH:
  ReplaceOrQueue is the collaborator-facing bulk write: it tries the
  remote store and, on failure, parks the payload in the offline queue.
  NotifyOnline drains the queue when the collaborator observes that
  connectivity has returned.

SEE ALSO:
  - client.go, loader.go, reconciler.go, queue.go
*/
package sync

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SessionConfig configures a session. Zero values select defaults.
type SessionConfig struct {
	Tenant     string
	ChunkSize  int
	BatchLimit int
	CacheTTL   time.Duration
	Legacy     []string

	// RequestTimeout bounds each remote operation issued through the
	// session helpers. Zero disables the bound.
	RequestTimeout time.Duration
}

// Session scopes all sync activity to one tenant.
type Session struct {
	tenant     string
	client     *Client
	loader     *Loader
	reconciler *Reconciler
	queue      *Queue
	timeout    time.Duration

	mu     sync.Mutex
	unsubs []func()
	closed bool
}

// NewSession wires the full sync stack over a document store and local
// durable cache.
func NewSession(store DocumentStore, kv KV, cfg SessionConfig, metrics *Metrics) *Session {
	client := NewClient(store, kv, ClientConfig{
		Tenant:     cfg.Tenant,
		ChunkSize:  cfg.ChunkSize,
		BatchLimit: cfg.BatchLimit,
		CacheTTL:   cfg.CacheTTL,
		Legacy:     cfg.Legacy,
	}).WithMetrics(metrics)
	return &Session{
		tenant:     cfg.Tenant,
		client:     client,
		loader:     NewLoader(client, kv),
		reconciler: NewReconciler(client),
		queue:      NewQueue(kv, client),
		timeout:    cfg.RequestTimeout,
	}
}

// Tenant returns the session's tenant id.
func (s *Session) Tenant() string { return s.tenant }

// Client returns the remote store client.
func (s *Session) Client() *Client { return s.client }

// Queue returns the offline sync queue.
func (s *Session) Queue() *Queue { return s.queue }

// Reconciler returns the change reconciler (exposed for tests and the
// consistency endpoints).
func (s *Session) Reconciler() *Reconciler { return s.reconciler }

// LoadAll performs the tiered startup load.
func (s *Session) LoadAll(ctx context.Context) (*Dataset, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.loader.LoadAll(ctx)
}

// OnChange subscribes deliver to one collection's reconciled changes.
// The subscription lives until Close.
func (s *Session) OnChange(ctx context.Context, collection string, deliver DeliverFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	unsub, err := s.reconciler.Subscribe(ctx, collection, deliver)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", collection, err)
	}
	s.unsubs = append(s.unsubs, unsub)
	return nil
}

// ReplaceOrQueue bulk-replaces a collection, queueing the payload for
// later replay when the write fails. Returns queued=true in that case.
func (s *Session) ReplaceOrQueue(ctx context.Context, collection string, records []Record) (queued bool, err error) {
	wctx, cancel := s.bound(ctx)
	defer cancel()
	werr := s.client.BatchReplace(wctx, collection, records)
	if werr == nil {
		return false, nil
	}
	if qerr := s.queue.Enqueue(ctx, collection, records); qerr != nil {
		return false, fmt.Errorf("write failed (%v) and queueing failed: %w", werr, qerr)
	}
	return true, nil
}

// NotifyOnline is called by the collaborator when connectivity returns;
// it drains the offline queue.
func (s *Session) NotifyOnline(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.queue.Drain(ctx)
}

// Close tears the session down: every live subscription is cancelled.
// Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
}

func (s *Session) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
