// Package lock serializes pipeline work per prospect.
package lock

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/db"
)

// Locker runs fn while holding an exclusive lock on key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// KeyedMutex is an in-process Locker. Waiters give up when ctx is done.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

func (m *KeyedMutex) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	defer m.release(key, l)

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		return eris.Wrapf(ctx.Err(), "lock: waiting for %s", key)
	}
	defer func() { <-l.ch }()

	return fn(ctx)
}

func (m *KeyedMutex) release(key string, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

// Len returns the number of keys currently held or waited on.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// PostgresLocker takes a transaction-scoped advisory lock so that separate
// processes (worker, serve, CLI) sharing one database serialize on the same
// key. The lock is released when fn returns.
type PostgresLocker struct {
	pool db.Pool
}

// NewPostgresLocker creates a PostgresLocker on pool.
func NewPostgresLocker(pool db.Pool) *PostgresLocker {
	return &PostgresLocker{pool: pool}
}

func (p *PostgresLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return eris.Wrapf(err, "lock: advisory lock %s", key)
		}
		return fn(ctx)
	})
}
