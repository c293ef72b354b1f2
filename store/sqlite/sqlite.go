/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements both persistence interfaces of the sync engine using one
  SQLite database:
    sync.DocumentStore - the tenant-scoped document database
    sync.KV            - the local durable cache and sync queue

  In a hosted deployment the DocumentStore half is the remote document
  database service; this implementation gives a self-hosted server the
  same contract over local disk.

KEY TABLES:
  documents: tenant/collection/id -> JSON payload (the document store)
  kv:        key -> JSON value (hybrid_cache_* and sync_queue_* entries)

CHANGE NOTIFICATION:
  The remote service pushes document snapshots to subscribers. SQLite has
  no push, so the store keeps an in-process watcher registry and fires
  callbacks after each committed Set/Delete. All sessions in one server
  process therefore observe each other's writes, which is exactly the
  multi-browser-session concurrency the reconciler exists for.

WAL MODE:
  Opened with WAL (Write-Ahead Logging): readers don't block, single
  writer, better crash recovery.

USAGE:
  st, err := sqlite.New("./data/schedule.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()
  session := sync.NewSession(st, st.KV(), cfg, metrics)

SEE ALSO:
  - sync/types.go: Interface definitions
  - sync/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	syncpkg "github.com/warp/schedule-sync/sync"
)

// Store implements sync.DocumentStore over SQLite. Its KV() accessor
// exposes the sync.KV half.
type Store struct {
	db *sql.DB

	mu        sync.Mutex
	watchers  map[watchKey]map[int]syncpkg.WatchFunc
	nextWatch int
}

type watchKey struct {
	Tenant     string
	Collection string
	ID         string
}

// New opens (or creates) the database at dbPath. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:       db,
		watchers: make(map[watchKey]map[int]syncpkg.WatchFunc),
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Document store: one row per document
	CREATE TABLE IF NOT EXISTS documents (
		tenant     TEXT NOT NULL,
		collection TEXT NOT NULL,
		id         TEXT NOT NULL,
		data       TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (datetime('now')),
		PRIMARY KEY (tenant, collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_collection
		ON documents(tenant, collection);

	-- Local durable KV: hybrid cache entries and sync queues
	CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// DOCUMENT STORE
// =============================================================================

func (s *Store) Get(ctx context.Context, tenant, collection, id string) (json.RawMessage, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE tenant = ? AND collection = ? AND id = ?`,
		tenant, collection, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, syncpkg.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return json.RawMessage(data), nil
}

func (s *Store) List(ctx context.Context, tenant, collection string) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM documents WHERE tenant = ? AND collection = ?`,
		tenant, collection)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}
		out[id] = json.RawMessage(data)
	}
	return out, rows.Err()
}

func (s *Store) ListIDs(ctx context.Context, tenant, collection string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM documents WHERE tenant = ? AND collection = ?`,
		tenant, collection)
	if err != nil {
		return nil, fmt.Errorf("list ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list ids: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Set(ctx context.Context, tenant, collection, id string, data json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (tenant, collection, id, data, updated_at)
		VALUES (?, ?, ?, ?, datetime('now'))
		ON CONFLICT(tenant, collection, id)
		DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		tenant, collection, id, string(data))
	if err != nil {
		return fmt.Errorf("set document: %w", err)
	}
	s.notify(watchKey{tenant, collection, id}, data, true)
	return nil
}

func (s *Store) Delete(ctx context.Context, tenant, collection, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE tenant = ? AND collection = ? AND id = ?`,
		tenant, collection, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.notify(watchKey{tenant, collection, id}, nil, false)
	}
	return nil
}

// =============================================================================
// WATCH - In-process change notification
// =============================================================================

// Watch registers fn for one document and delivers the current state once
// immediately, matching the remote service's snapshot-on-subscribe.
func (s *Store) Watch(tenant, collection, id string, fn syncpkg.WatchFunc) (func(), error) {
	k := watchKey{tenant, collection, id}

	s.mu.Lock()
	if s.watchers[k] == nil {
		s.watchers[k] = make(map[int]syncpkg.WatchFunc)
	}
	handle := s.nextWatch
	s.nextWatch++
	s.watchers[k][handle] = fn
	s.mu.Unlock()

	data, err := s.Get(context.Background(), tenant, collection, id)
	switch {
	case err == nil:
		fn(data, true)
	case syncpkg.IsNotFound(err):
		fn(nil, false)
	default:
		s.mu.Lock()
		delete(s.watchers[k], handle)
		s.mu.Unlock()
		return nil, err
	}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers[k], handle)
	}, nil
}

func (s *Store) notify(k watchKey, data json.RawMessage, exists bool) {
	s.mu.Lock()
	fns := make([]syncpkg.WatchFunc, 0, len(s.watchers[k]))
	for _, fn := range s.watchers[k] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(data, exists)
	}
}

// =============================================================================
// KV - Hybrid cache and sync queue persistence
// =============================================================================

// KV returns the sync.KV view of the store.
func (s *Store) KV() syncpkg.KV {
	return &kvStore{db: s.db}
}

type kvStore struct {
	db *sql.DB
}

func (k *kvStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var value string
	err := k.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get kv: %w", err)
	}
	return json.RawMessage(value), true, nil
}

func (k *kvStore) Put(ctx context.Context, key string, value json.RawMessage) error {
	_, err := k.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, string(value))
	if err != nil {
		return fmt.Errorf("put kv: %w", err)
	}
	return nil
}

func (k *kvStore) Delete(ctx context.Context, key string) error {
	if _, err := k.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete kv: %w", err)
	}
	return nil
}

func (k *kvStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := k.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE key LIKE ? || '%'`, prefix)
	if err != nil {
		return nil, fmt.Errorf("keys kv: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("keys kv: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
