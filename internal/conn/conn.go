// Package conn provides reference-counted connection handles with a
// read/write lock around the client connection and a weak-reference reuse
// path on the owning database.
package conn

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/cryguy/sqlbridge/internal/client"
	"github.com/cryguy/sqlbridge/internal/core"
	"github.com/cryguy/sqlbridge/internal/cursor"
	"github.com/cryguy/sqlbridge/internal/value"
)

// ErrReleased is returned when a handle is used after Release.
var ErrReleased = errors.New("connection handle released")

// closer closes a client connection at most once. It is referenced both by
// the shared state and by the cleanup registered on it, so it must not
// point back at the shared state.
type closer struct {
	once   sync.Once
	conn   client.Conn
	err    error
	closed atomic.Bool
}

func (c *closer) close() error {
	c.once.Do(func() {
		c.closed.Store(true)
		c.err = c.conn.Close()
	})
	return c.err
}

// shared is the state every handle to one connection points at.
type shared struct {
	mu       sync.RWMutex
	conn     client.Conn
	closer   *closer
	refs     atomic.Int64
	poisoned atomic.Bool
	closing  atomic.Bool // last reference gone, close once idle
	id       uuid.UUID
	db       *Database
}

func newShared(db *Database, c client.Conn) *shared {
	s := &shared{conn: c, closer: &closer{conn: c}, id: uuid.New(), db: db}
	s.refs.Store(1)
	// Handles dropped without Release still close the connection.
	runtime.AddCleanup(s, func(cl *closer) { cl.close() }, s.closer)
	return s
}

func (s *shared) lock() error {
	if s.poisoned.Load() {
		return core.NewBridgeError(core.LockPoisoned, s.id.String())
	}
	s.mu.Lock()
	switch {
	case s.poisoned.Load():
		s.mu.Unlock()
		return core.NewBridgeError(core.LockPoisoned, s.id.String())
	case s.closer.closed.Load():
		s.mu.Unlock()
		return ErrReleased
	}
	return nil
}

func (s *shared) unlock() {
	s.mu.Unlock()
	s.closeIfIdle()
}

func (s *shared) rlock() error {
	if s.poisoned.Load() {
		return core.NewBridgeError(core.LockPoisoned, s.id.String())
	}
	s.mu.RLock()
	switch {
	case s.poisoned.Load():
		s.mu.RUnlock()
		return core.NewBridgeError(core.LockPoisoned, s.id.String())
	case s.closer.closed.Load():
		s.mu.RUnlock()
		return ErrReleased
	}
	return nil
}

func (s *shared) runlock() {
	s.mu.RUnlock()
	s.closeIfIdle()
}

// closeIfIdle closes the client connection once the last reference is gone
// and no operation holds the lock. Whoever leaves the lock last after
// Release does the close, so Release itself never waits.
func (s *shared) closeIfIdle() error {
	if !s.closing.Load() || !s.mu.TryLock() {
		return nil
	}
	defer s.mu.Unlock()
	return s.closer.close()
}

// Conn is one owning reference to a shared client connection. Every Conn
// must be released exactly once.
type Conn struct {
	s        *shared
	released atomic.Bool
}

// ID identifies the underlying connection. Handles obtained through Retain
// or Database.Reuse share the ID of the handle they came from.
func (c *Conn) ID() uuid.UUID { return c.s.id }

// Database returns the database the connection was opened from.
func (c *Conn) Database() *Database { return c.s.db }

// Retain returns a new owning reference to the same connection.
func (c *Conn) Retain() (*Conn, error) {
	if c.released.Load() {
		return nil, ErrReleased
	}
	c.s.refs.Add(1)
	return &Conn{s: c.s}, nil
}

// Release drops this reference. The client connection is closed once the
// last reference is gone. If an operation is in flight, Release returns at
// once and the close happens when that operation finishes.
func (c *Conn) Release() error {
	if !c.released.CompareAndSwap(false, true) {
		return nil
	}
	if c.s.refs.Add(-1) > 0 {
		return nil
	}
	c.s.closing.Store(true)
	return c.s.closeIfIdle()
}

// write runs fn under the write lock. A panic in fn poisons the handle and
// propagates to the caller.
func (c *Conn) write(fn func(client.Conn) error) error {
	if c.released.Load() {
		return ErrReleased
	}
	if err := c.s.lock(); err != nil {
		return err
	}
	ok := false
	defer func() {
		if !ok {
			c.s.poisoned.Store(true)
		}
		c.s.unlock()
	}()
	err := fn(c.s.conn)
	ok = true
	return core.NewStorageError(err)
}

// Execute runs a statement and returns the number of affected rows.
func (c *Conn) Execute(ctx context.Context, sql string, params []value.Typed) (uint64, error) {
	var n uint64
	err := c.write(func(cc client.Conn) error {
		var err error
		n, err = cc.Execute(ctx, sql, params)
		return err
	})
	return n, err
}

// Query runs a statement and returns a cursor over its rows.
func (c *Conn) Query(ctx context.Context, sql string, params []value.Typed) (*cursor.Cursor, error) {
	var cur *cursor.Cursor
	err := c.write(func(cc client.Conn) error {
		rows, err := cc.Query(ctx, sql, params)
		if err != nil {
			return err
		}
		cur = cursor.New(rows)
		return nil
	})
	return cur, err
}

// ExecuteBatch runs a semicolon separated list of statements.
func (c *Conn) ExecuteBatch(ctx context.Context, sql string) error {
	return c.write(func(cc client.Conn) error {
		return cc.ExecuteBatch(ctx, sql)
	})
}

// IsAutocommit reports whether the connection is outside a transaction.
func (c *Conn) IsAutocommit(ctx context.Context) (bool, error) {
	if c.released.Load() {
		return false, ErrReleased
	}
	if err := c.s.rlock(); err != nil {
		return false, err
	}
	defer c.s.runlock()
	auto, err := c.s.conn.IsAutocommit(ctx)
	return auto, core.NewStorageError(err)
}
