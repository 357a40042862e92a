package conn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"weak"

	"github.com/cryguy/sqlbridge/internal/client"
	"github.com/cryguy/sqlbridge/internal/core"
)

// ErrDatabaseClosed is returned by operations on a closed Database.
var ErrDatabaseClosed = errors.New("database closed")

// Database owns a client database and observes, without owning, the
// connection it most recently opened.
type Database struct {
	db     client.Database
	logger *slog.Logger

	mu     sync.Mutex
	live   weak.Pointer[shared]
	closed bool
}

// Open opens a client database for cfg.
func Open(ctx context.Context, cfg client.Config, logger *slog.Logger) (*Database, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := client.Open(ctx, cfg, logger.With("kind", string(cfg.Kind)))
	if err != nil {
		return nil, core.NewStorageError(err)
	}
	return NewDatabase(db, logger), nil
}

// NewDatabase wraps an already open client database.
func NewDatabase(db client.Database, logger *slog.Logger) *Database {
	if logger == nil {
		logger = slog.Default()
	}
	return &Database{db: db, logger: logger}
}

// Protocol names the wire protocol of the underlying client.
func (d *Database) Protocol() string { return d.db.Protocol() }

// Reuse returns a new reference to the observed connection if it is still
// alive and owned by someone. It never blocks on I/O.
func (d *Database) Reuse() (*Conn, bool) {
	d.mu.Lock()
	s := d.live.Value()
	closed := d.closed
	d.mu.Unlock()
	if s == nil || closed {
		return nil, false
	}
	for {
		n := s.refs.Load()
		if n <= 0 {
			return nil, false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return &Conn{s: s}, true
		}
	}
}

// Connect opens a new client connection and makes it the observed one.
func (d *Database) Connect(ctx context.Context) (*Conn, error) {
	if d.Closed() {
		return nil, ErrDatabaseClosed
	}
	cc, err := d.db.Connect(ctx)
	if err != nil {
		return nil, core.NewStorageError(err)
	}
	s := newShared(d, cc)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		cc.Close()
		return nil, ErrDatabaseClosed
	}
	d.live = weak.Make(s)
	d.logger.Debug("connection opened", "conn_id", s.id)
	return &Conn{s: s}, nil
}

// Sync flushes a local database to durable storage.
func (d *Database) Sync(ctx context.Context) error {
	if d.Closed() {
		return ErrDatabaseClosed
	}
	return core.NewStorageError(d.db.Sync(ctx))
}

// Close closes the database. Closing twice is a no-op.
func (d *Database) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.live = weak.Pointer[shared]{}
	d.mu.Unlock()
	return core.NewStorageError(d.db.Close())
}

// Closed reports whether Close has been called.
func (d *Database) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
