// Package repository implements the persistence collaborator on Postgres (pgx)
// and in memory. Every mutation goes through Mutate, which serialises
// read-decide-write sequences per aggregate: a row lock on Postgres, a keyed
// mutex in memory.
package repository

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-re-case-workflow/internal/errors"
)

// querier is satisfied by both *database.DB and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type scanner interface {
	Scan(dest ...any) error
}

// Postgres SQLSTATEs that indicate a concurrent write.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
	sqlStateUniqueViolation      = "23505"
)

// mapError keeps coded errors as they are, turns lock and uniqueness failures
// into CONFLICT and wraps everything else as INTERNAL.
func mapError(err error, message string) error {
	if err == nil {
		return nil
	}
	var coded *errors.Error
	if errors.As(err, &coded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateLockNotAvailable:
			return errors.Wrap(err, errors.ErrCodeConflict, "concurrent update detected, retry the request")
		case sqlStateUniqueViolation:
			return errors.Wrap(err, errors.ErrCodeConflict, "record already exists")
		}
	}
	return errors.Wrap(err, errors.ErrCodeInternal, message)
}

// Pagination defaults shared by list queries.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// keyedMutex hands out one mutex per aggregate id. Entries are reference
// counted and dropped once no caller holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) lock(id string) func() {
	k.mu.Lock()
	m, ok := k.locks[id]
	if !ok {
		m = &refMutex{}
		k.locks[id] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
