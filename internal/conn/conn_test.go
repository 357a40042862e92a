package conn

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/sqlbridge/internal/client"
	"github.com/cryguy/sqlbridge/internal/core"
	"github.com/cryguy/sqlbridge/internal/value"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openMemory(t *testing.T) *Database {
	t.Helper()
	db, err := Open(context.Background(), client.Config{Kind: client.KindMemory}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// fakeDB hands out fakeConns and counts how many were opened.
type fakeDB struct {
	opened atomic.Int32
	conns  []*fakeConn
	mu     sync.Mutex
}

func (f *fakeDB) Connect(context.Context) (client.Conn, error) {
	f.opened.Add(1)
	c := &fakeConn{}
	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	return c, nil
}

func (f *fakeDB) Sync(context.Context) error { return nil }
func (f *fakeDB) Close() error               { return nil }
func (f *fakeDB) Protocol() string           { return "fake" }

type fakeConn struct {
	panicOn string
	closed  atomic.Int32

	// "slow" statements signal entered and wait for release.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeConn) Execute(_ context.Context, sql string, _ []value.Typed) (uint64, error) {
	switch sql {
	case f.panicOn:
		panic("driver bug")
	case "slow":
		f.entered <- struct{}{}
		<-f.release
	}
	return 1, nil
}

func (f *fakeConn) Query(context.Context, string, []value.Typed) (client.Rows, error) {
	return nil, fmt.Errorf("not supported")
}

func (f *fakeConn) ExecuteBatch(context.Context, string) error { return nil }
func (f *fakeConn) IsAutocommit(context.Context) (bool, error) { return true, nil }

func (f *fakeConn) Close() error {
	f.closed.Add(1)
	return nil
}

func TestConcurrentExecuteMatchesSequential(t *testing.T) {
	ctx := context.Background()
	c, err := openMemory(t).Connect(ctx)
	require.NoError(t, err)
	defer c.Release()

	_, err = c.Execute(ctx, "CREATE TABLE counter (n INTEGER)", nil)
	require.NoError(t, err)
	_, err = c.Execute(ctx, "INSERT INTO counter VALUES (0)", nil)
	require.NoError(t, err)
	_, err = c.Execute(ctx, "CREATE TABLE log (i INTEGER)", nil)
	require.NoError(t, err)

	const n = 100
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Execute(ctx, "UPDATE counter SET n = n + 1", nil)
			assert.NoError(t, err)
			_, err = c.Execute(ctx, "INSERT INTO log VALUES (?)", []value.Typed{value.Integer(int64(i))})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cur, err := c.Query(ctx, "SELECT (SELECT n FROM counter), (SELECT COUNT(*) FROM log), (SELECT SUM(i) FROM log)", nil)
	require.NoError(t, err)
	row, err := cur.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []value.Typed{value.Integer(n), value.Integer(n), value.Integer(n * (n - 1) / 2)}, row.Values())
}

func TestReuseReturnsSameConnection(t *testing.T) {
	ctx := context.Background()
	fdb := &fakeDB{}
	db := NewDatabase(fdb, quietLogger())

	_, ok := db.Reuse()
	assert.False(t, ok)

	first, err := db.Connect(ctx)
	require.NoError(t, err)
	second, ok := db.Reuse()
	require.True(t, ok)
	assert.Equal(t, first.ID(), second.ID())
	assert.Equal(t, int32(1), fdb.opened.Load())
	assert.Equal(t, int64(2), first.s.refs.Load())
	assert.Same(t, db, second.Database())

	require.NoError(t, first.Release())
	_, err = second.Execute(ctx, "SELECT 1", nil)
	assert.NoError(t, err)
	assert.Equal(t, int32(0), fdb.conns[0].closed.Load())

	require.NoError(t, second.Release())
	assert.Equal(t, int32(1), fdb.conns[0].closed.Load())

	_, ok = db.Reuse()
	assert.False(t, ok)
}

func TestReleaseIsIdempotentPerHandle(t *testing.T) {
	ctx := context.Background()
	fdb := &fakeDB{}
	db := NewDatabase(fdb, quietLogger())
	c, err := db.Connect(ctx)
	require.NoError(t, err)
	other, err := c.Retain()
	require.NoError(t, err)

	require.NoError(t, c.Release())
	require.NoError(t, c.Release())
	assert.Equal(t, int64(1), other.s.refs.Load())

	_, err = c.Execute(ctx, "SELECT 1", nil)
	assert.ErrorIs(t, err, ErrReleased)
	_, err = c.Retain()
	assert.ErrorIs(t, err, ErrReleased)

	require.NoError(t, other.Release())
	assert.Equal(t, int32(1), fdb.conns[0].closed.Load())
}

func TestPanicPoisonsHandle(t *testing.T) {
	ctx := context.Background()
	fdb := &fakeDB{}
	db := NewDatabase(fdb, quietLogger())
	c, err := db.Connect(ctx)
	require.NoError(t, err)
	fdb.conns[0].panicOn = "boom"

	assert.Panics(t, func() { _, _ = c.Execute(ctx, "boom", nil) })

	_, err = c.Execute(ctx, "SELECT 1", nil)
	assert.ErrorIs(t, err, core.ErrLockPoisoned)
	_, err = c.IsAutocommit(ctx)
	assert.ErrorIs(t, err, core.ErrLockPoisoned)
	assert.ErrorIs(t, c.ExecuteBatch(ctx, "SELECT 1"), core.ErrLockPoisoned)
}

func TestStorageErrorsAreWrapped(t *testing.T) {
	ctx := context.Background()
	c, err := openMemory(t).Connect(ctx)
	require.NoError(t, err)
	defer c.Release()

	_, err = c.Execute(ctx, "INSERT INTO nowhere VALUES (1)", nil)
	var se *core.StorageError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Message, "no such table")
}

func TestClosedDatabase(t *testing.T) {
	ctx := context.Background()
	db := NewDatabase(&fakeDB{}, quietLogger())
	c, err := db.Connect(ctx)
	require.NoError(t, err)
	defer c.Release()

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
	assert.True(t, db.Closed())

	_, ok := db.Reuse()
	assert.False(t, ok)
	_, err = db.Connect(ctx)
	assert.ErrorIs(t, err, ErrDatabaseClosed)
	assert.ErrorIs(t, db.Sync(ctx), ErrDatabaseClosed)
}

func TestAutocommitThroughHandle(t *testing.T) {
	ctx := context.Background()
	c, err := openMemory(t).Connect(ctx)
	require.NoError(t, err)
	defer c.Release()

	require.NoError(t, c.ExecuteBatch(ctx, "CREATE TABLE t (x); BEGIN; INSERT INTO t VALUES (1);"))
	auto, err := c.IsAutocommit(ctx)
	require.NoError(t, err)
	assert.False(t, auto)

	require.NoError(t, c.ExecuteBatch(ctx, "COMMIT"))
	auto, err = c.IsAutocommit(ctx)
	require.NoError(t, err)
	assert.True(t, auto)
}

func TestReleaseDuringExecuteDoesNotWait(t *testing.T) {
	ctx := context.Background()
	fdb := &fakeDB{}
	db := NewDatabase(fdb, quietLogger())
	c, err := db.Connect(ctx)
	require.NoError(t, err)
	fc := fdb.conns[0]
	fc.entered = make(chan struct{}, 1)
	fc.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := c.Execute(ctx, "slow", nil)
		done <- err
	}()
	<-fc.entered

	released := make(chan error, 1)
	go func() { released <- c.Release() }()
	select {
	case err := <-released:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Release waited for the in-flight execute")
	}
	assert.Equal(t, int32(0), fc.closed.Load())

	close(fc.release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), fc.closed.Load())
}

func TestOperationsAfterDeferredCloseFail(t *testing.T) {
	ctx := context.Background()
	fdb := &fakeDB{}
	db := NewDatabase(fdb, quietLogger())
	c, err := db.Connect(ctx)
	require.NoError(t, err)
	other, err := c.Retain()
	require.NoError(t, err)

	require.NoError(t, c.Release())
	assert.Equal(t, int32(0), fdb.conns[0].closed.Load())
	require.NoError(t, other.Release())
	assert.Equal(t, int32(1), fdb.conns[0].closed.Load())

	_, err = other.Execute(ctx, "SELECT 1", nil)
	assert.ErrorIs(t, err, ErrReleased)
	_, ok := db.Reuse()
	assert.False(t, ok)
}
