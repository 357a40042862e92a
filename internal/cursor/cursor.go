// Package cursor wraps a client row stream with a memoized column count
// and bounds-checked column access.
package cursor

import (
	"context"
	"sync"

	"github.com/cryguy/sqlbridge/internal/client"
	"github.com/cryguy/sqlbridge/internal/core"
)

// Cursor is a forward-only row stream. The column count is read from the
// stream on first use and never again.
//
// Column metadata is read without any lock, and Close never waits for an
// in-flight Next: the stream lock is only taken by Next, which runs on a
// worker.
type Cursor struct {
	stream sync.Mutex // serializes Next
	rows   client.Rows
	count  func() int32

	mu        sync.Mutex
	exhausted bool
	reading   bool // a Next is inside rows.Next
}

// New wraps rows. The cursor takes ownership of rows.
func New(rows client.Rows) *Cursor {
	c := &Cursor{rows: rows}
	c.count = sync.OnceValue(func() int32 {
		return int32(c.rows.ColumnCount())
	})
	return c
}

// ColumnCount returns the number of columns in the result set.
func (c *Cursor) ColumnCount() int32 { return c.count() }

// ColumnName returns the name of column i.
func (c *Cursor) ColumnName(i int64) (string, error) {
	count := c.ColumnCount()
	if err := core.CheckIndex(i, count); err != nil {
		return "", err
	}
	name, ok := c.rows.ColumnName(int(i))
	if !ok {
		return "", &core.BoundsError{Kind: core.IndexOutOfRange, Index: i, Count: count}
	}
	return name, nil
}

// ColumnType returns the declared type of column i as one of null,
// integer, real, text or blob.
func (c *Cursor) ColumnType(i int64) (string, error) {
	count := c.ColumnCount()
	if err := core.CheckIndex(i, count); err != nil {
		return "", err
	}
	kind, ok := c.rows.ColumnType(int(i))
	if !ok {
		return "", &core.BoundsError{Kind: core.IndexOutOfRange, Index: i, Count: count}
	}
	return kind.String(), nil
}

// Next advances the stream. It returns (nil, nil) once the stream has no
// more rows or the cursor was closed; the underlying stream is closed at
// that point.
func (c *Cursor) Next(ctx context.Context) (*Row, error) {
	count := c.ColumnCount()

	c.stream.Lock()
	defer c.stream.Unlock()

	c.mu.Lock()
	if c.exhausted {
		c.mu.Unlock()
		return nil, nil
	}
	c.reading = true
	c.mu.Unlock()

	vals, ok, err := c.rows.Next(ctx)

	c.mu.Lock()
	c.reading = false
	closed := c.exhausted
	if !closed && err == nil && !ok {
		c.exhausted = true
	}
	c.mu.Unlock()

	switch {
	case closed:
		// Close ran while the row was being read and left the stream to us.
		c.rows.Close()
		return nil, nil
	case err != nil:
		return nil, core.NewStorageError(err)
	case !ok:
		if err := c.rows.Close(); err != nil {
			return nil, core.NewStorageError(err)
		}
		return nil, nil
	}
	return &Row{values: vals, count: count, cursor: c}, nil
}

// Exhausted reports whether the stream has ended or been closed.
func (c *Cursor) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}

// Close releases the stream early. Rows already returned stay readable.
// If a Next is reading, the stream is closed when that read returns.
func (c *Cursor) Close() error {
	c.mu.Lock()
	if c.exhausted {
		c.mu.Unlock()
		return nil
	}
	c.exhausted = true
	reading := c.reading
	c.mu.Unlock()
	if reading {
		return nil
	}
	return c.rows.Close()
}
