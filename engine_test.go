package sqlbridge

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	cfg := DefaultEngineConfig()
	cfg.ExecutionTimeout = 5000
	e, err := NewEngine(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	require.NoError(t, err)
	return e
}

func TestEngineRunWithDatabases(t *testing.T) {
	e := newTestEngine(t, WithDatabases(map[string]DatabaseConfig{
		"scratch": {Kind: KindMemory},
	}))
	assert.NotEmpty(t, e.Backend())

	r := e.Run(context.Background(), `
		libsql.connect(databases.scratch, function(err, c) {
			if (err) throw err;
			c.query("SELECT 'hi' AS greeting", [], function(err, cur) {
				cur.next(function(err, row) {
					globalThis.result = { greeting: row.get(0), name: cur.column_name(0) };
				});
			});
		});
	`)
	require.NoError(t, r.Error)
	assert.JSONEq(t, `{"greeting": "hi", "name": "greeting"}`, r.Data)
}

func TestEngineRunFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sql.js"),
		[]byte(`export const query = "SELECT 1 + 1";`), 0o644))
	entry := filepath.Join(dir, "main.js")
	require.NoError(t, os.WriteFile(entry, []byte(`import { query } from './sql.js';
var db = libsql.open(":memory:");
db.connect(function(err, c) {
	c.query(query, [], function(err, cur) {
		cur.next(function(err, row) { globalThis.result = row.get(0); });
	});
});
`), 0o644))

	r := newTestEngine(t).RunFile(context.Background(), entry)
	require.NoError(t, r.Error)
	assert.Equal(t, "2", r.Data)
}

func TestEngineRunFileMissing(t *testing.T) {
	r := newTestEngine(t).RunFile(context.Background(), filepath.Join(t.TempDir(), "nope.js"))
	assert.Error(t, r.Error)
}

func TestVersion(t *testing.T) {
	assert.Equal(t, "sqlbridge-local-0.4.0", Version("local"))
}
