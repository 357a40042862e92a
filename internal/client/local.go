package client

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cryguy/sqlbridge/internal/value"

	// Pure-Go SQLite driver for database/sql.
	_ "github.com/glebarez/sqlite"
)

// localDB is a SQLite database opened in-process.
type localDB struct {
	db     *sqlx.DB
	anchor *sqlx.Conn // keeps a shared-cache memory database alive
	memory bool
	logger *slog.Logger
}

var _ Database = (*localDB)(nil)

func openLocal(ctx context.Context, cfg Config, logger *slog.Logger) (*localDB, error) {
	memory := cfg.Kind == KindMemory || cfg.Path == ":memory:"

	dsn := cfg.Path
	if memory {
		// A named shared-cache database so every connection sees the same data.
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %q: %w", cfg.Path, err)
	}

	l := &localDB{db: db, memory: memory, logger: logger}
	if memory {
		anchor, err := db.Connx(ctx)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("opening memory database: %w", err)
		}
		l.anchor = anchor
	} else {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}
	logger.Debug("database opened", "memory", memory)
	return l, nil
}

func (l *localDB) Protocol() string { return "local" }

func (l *localDB) Connect(ctx context.Context) (Conn, error) {
	c, err := l.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	return &localConn{conn: c, open: make(map[*localRows]struct{})}, nil
}

func (l *localDB) Sync(ctx context.Context) error {
	if l.memory {
		return nil
	}
	_, err := l.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

func (l *localDB) Close() error {
	if l.anchor != nil {
		l.anchor.Close()
	}
	return l.db.Close()
}

// localConn pins one database/sql connection.
type localConn struct {
	conn *sqlx.Conn
	tx   txTracker

	mu   sync.Mutex
	open map[*localRows]struct{}
}

var _ Conn = (*localConn)(nil)

func (c *localConn) Execute(ctx context.Context, sql string, args []value.Typed) (uint64, error) {
	res, err := c.conn.ExecContext(ctx, sql, value.DriverArgs(args)...)
	if err != nil {
		return 0, err
	}
	c.tx.observe(sql)
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (c *localConn) Query(ctx context.Context, sql string, args []value.Typed) (Rows, error) {
	rows, err := c.conn.QueryxContext(ctx, sql, value.DriverArgs(args)...)
	if err != nil {
		return nil, err
	}
	cols, err := rows.ColumnTypes()
	if err != nil {
		rows.Close()
		return nil, err
	}
	c.tx.observe(sql)

	r := &localRows{rows: rows, owner: c}
	for _, ct := range cols {
		r.names = append(r.names, ct.Name())
		r.kinds = append(r.kinds, declaredKind(ct.DatabaseTypeName()))
	}
	c.mu.Lock()
	c.open[r] = struct{}{}
	c.mu.Unlock()
	return r, nil
}

func (c *localConn) ExecuteBatch(ctx context.Context, sql string) error {
	if _, err := c.conn.ExecContext(ctx, sql); err != nil {
		return err
	}
	c.tx.observe(sql)
	return nil
}

func (c *localConn) IsAutocommit(context.Context) (bool, error) {
	return !c.tx.inTransaction(), nil
}

// Close closes any result streams still open on the connection, then the
// connection itself.
func (c *localConn) Close() error {
	c.mu.Lock()
	open := c.open
	c.open = make(map[*localRows]struct{})
	c.mu.Unlock()
	for r := range open {
		r.rows.Close()
	}
	return c.conn.Close()
}

func (c *localConn) forget(r *localRows) {
	c.mu.Lock()
	delete(c.open, r)
	c.mu.Unlock()
}

// localRows streams a database/sql result set.
type localRows struct {
	rows  *sqlx.Rows
	owner *localConn
	names []string
	kinds []value.TypedKind
	done  bool
}

var _ Rows = (*localRows)(nil)

func (r *localRows) ColumnCount() int { return len(r.names) }

func (r *localRows) ColumnName(i int) (string, bool) {
	if i < 0 || i >= len(r.names) {
		return "", false
	}
	return r.names[i], true
}

func (r *localRows) ColumnType(i int) (value.TypedKind, bool) {
	if i < 0 || i >= len(r.kinds) {
		return value.TypedNull, false
	}
	return r.kinds[i], true
}

func (r *localRows) Next(context.Context) ([]value.Typed, bool, error) {
	if r.done {
		return nil, false, nil
	}
	if !r.rows.Next() {
		err := r.rows.Err()
		r.Close()
		return nil, false, err
	}
	raw, err := r.rows.SliceScan()
	if err != nil {
		return nil, false, err
	}
	row := make([]value.Typed, len(raw))
	for i, v := range raw {
		t, err := value.FromDriver(v)
		if err != nil {
			return nil, false, err
		}
		row[i] = t
	}
	return row, true, nil
}

func (r *localRows) Close() error {
	if r.done {
		return nil
	}
	r.done = true
	r.owner.forget(r)
	return r.rows.Close()
}

// txTracker follows transaction control statements so a pinned connection
// can report whether it is in autocommit mode. It mirrors SQLite: BEGIN
// opens a transaction, a SAVEPOINT outside one opens it too, and releasing
// the outermost such savepoint commits it.
type txTracker struct {
	mu         sync.Mutex
	explicit   bool     // opened by BEGIN
	savepoints []string // open savepoints, innermost last
}

func (t *txTracker) observe(sql string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, stmt := range splitStatements(sql) {
		words := strings.Fields(strings.ToUpper(stmt))
		if len(words) == 0 {
			continue
		}
		switch words[0] {
		case "BEGIN":
			t.explicit = true
		case "SAVEPOINT":
			if len(words) > 1 {
				t.savepoints = append(t.savepoints, savepointName(words[1]))
			}
		case "RELEASE":
			if name := lastWord(words[1:], "SAVEPOINT"); name != "" {
				if i := t.find(name); i >= 0 {
					t.savepoints = t.savepoints[:i]
				}
			}
		case "ROLLBACK":
			// ROLLBACK [TRANSACTION] TO [SAVEPOINT] name keeps the savepoint.
			if i := slices.Index(words, "TO"); i > 0 {
				if j := t.find(lastWord(words[i+1:], "SAVEPOINT")); j >= 0 {
					t.savepoints = t.savepoints[:j+1]
				}
				continue
			}
			t.reset()
		case "COMMIT", "END":
			t.reset()
		}
	}
}

func (t *txTracker) reset() {
	t.explicit = false
	t.savepoints = nil
}

// find returns the index of the innermost savepoint called name, or -1.
func (t *txTracker) find(name string) int {
	for i := len(t.savepoints) - 1; i >= 0; i-- {
		if t.savepoints[i] == name {
			return i
		}
	}
	return -1
}

func (t *txTracker) inTransaction() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.explicit || len(t.savepoints) > 0
}

// lastWord returns the first word of words that is not skip.
func lastWord(words []string, skip string) string {
	for _, w := range words {
		if w != skip {
			return savepointName(w)
		}
	}
	return ""
}

func savepointName(w string) string {
	return strings.Trim(w, "\"'`[]")
}

// splitStatements splits sql at top-level semicolons, dropping comments
// and leaving quoted text intact.
func splitStatements(sql string) []string {
	var (
		stmts []string
		cur   strings.Builder
	)
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case ch == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			cur.WriteByte(' ')
		case ch == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				i = len(sql)
			} else {
				i += end + 3
			}
			cur.WriteByte(' ')
		case ch == '\'' || ch == '"' || ch == '`' || ch == '[':
			closer := ch
			if ch == '[' {
				closer = ']'
			}
			j := i + 1
			for j < len(sql) && sql[j] != closer {
				j++
			}
			if j >= len(sql) {
				j = len(sql) - 1
			}
			cur.WriteString(sql[i : j+1])
			i = j
		case ch == ';':
			stmts = append(stmts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(ch)
		}
	}
	return append(stmts, cur.String())
}
