package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

var _ driven.DistributedLock = (*AdvisoryLock)(nil)

// AdvisoryLock is the lock used when Redis is not configured. Advisory locks
// belong to a database session, so every lease pins one pooled connection
// until it is released or its ttl runs out.
type AdvisoryLock struct {
	db *DB
}

// NewAdvisoryLock creates a new PostgreSQL advisory lock adapter.
func NewAdvisoryLock(db *DB) *AdvisoryLock {
	return &AdvisoryLock{db: db}
}

// hashLockName maps a lock name onto the bigint advisory key space.
func hashLockName(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte("docpipe:lock:" + name))
	return int64(h.Sum64())
}

// TryAcquire runs pg_try_advisory_lock on a dedicated connection.
func (l *AdvisoryLock) TryAcquire(ctx context.Context, name string, ttl time.Duration) (driven.Lease, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}

	key := hashLockName(name)
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !acquired {
		_ = conn.Close()
		return nil, nil
	}

	ls := &advisoryLease{name: name, key: key, conn: conn}
	if ttl > 0 {
		ls.timer = time.AfterFunc(ttl, func() {
			_ = ls.Release(context.Background())
		})
	}
	return ls, nil
}

// Ping checks if the PostgreSQL backend is healthy.
func (l *AdvisoryLock) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

type advisoryLease struct {
	name  string
	key   int64
	conn  *sql.Conn
	timer *time.Timer

	once sync.Once
	err  error
}

func (ls *advisoryLease) Name() string { return ls.name }

// Release unlocks on the session that took the lock. If the unlock fails the
// connection is discarded instead of returned to the pool; ending the
// session drops the lock either way.
func (ls *advisoryLease) Release(ctx context.Context) error {
	ls.once.Do(func() {
		if ls.timer != nil {
			ls.timer.Stop()
		}
		if _, err := ls.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", ls.key); err != nil {
			ls.err = fmt.Errorf("release lock %s: %w", ls.name, err)
			_ = ls.conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		_ = ls.conn.Close()
	})
	return ls.err
}
