package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/cryguy/sqlbridge/internal/adapt"
	"github.com/cryguy/sqlbridge/internal/client"
	"github.com/cryguy/sqlbridge/internal/conn"
	"github.com/cryguy/sqlbridge/internal/core"
	"github.com/cryguy/sqlbridge/internal/cursor"
	"github.com/cryguy/sqlbridge/internal/value"
)

// methodTables holds the registries of the libsql module and each class.
type methodTables struct {
	module  *adapt.Registry
	classes map[string]*adapt.Registry
}

var tables = sync.OnceValues(buildTables)

var (
	shapeSync       = adapt.Shape{}
	shapeSyncCtx    = adapt.Shape{NeedsContext: true}
	shapeSyncMut    = adapt.Shape{MutableReceiver: true}
	shapeSyncMutCtx = adapt.Shape{NeedsContext: true, MutableReceiver: true}
	shapeAsync      = adapt.Shape{Async: true}
	shapeAsyncMut   = adapt.Shape{Async: true, MutableReceiver: true}
	shapeAsyncCtx   = adapt.Shape{Async: true, NeedsContext: true}
)

func buildTables() (*methodTables, error) {
	module, err := adapt.NewRegistry(
		adapt.With[any]("open", shapeSyncCtx, libsqlOpen),
		adapt.With[any]("connect", shapeAsyncCtx, libsqlConnect),
	)
	if err != nil {
		return nil, fmt.Errorf("libsql methods: %w", err)
	}

	database, err := adapt.NewRegistry(
		adapt.With[*conn.Database]("connect", shapeAsync, databaseConnect),
		adapt.With[*conn.Database]("sync", shapeAsync, databaseSync),
		adapt.With[*conn.Database]("close", shapeSyncMut, databaseClose),
		adapt.With[*conn.Database]("is_closed", shapeSync, databaseIsClosed),
		adapt.With[*conn.Database]("protocol", shapeSync, databaseProtocol),
	)
	if err != nil {
		return nil, fmt.Errorf("database methods: %w", err)
	}

	connection, err := adapt.NewRegistry(
		adapt.With[*conn.Conn]("execute", shapeAsyncMut, connExecute),
		adapt.With[*conn.Conn]("query", shapeAsyncMut, connQuery),
		adapt.With[*conn.Conn]("execute_batch", shapeAsyncMut, connExecuteBatch),
		adapt.With[*conn.Conn]("is_autocommit", shapeAsync, connIsAutocommit),
		adapt.With[*conn.Conn]("database", shapeSyncCtx, connDatabase),
		adapt.With[*conn.Conn]("id", shapeSync, connID),
		adapt.With[*conn.Conn]("close", shapeSyncMutCtx, connClose),
	)
	if err != nil {
		return nil, fmt.Errorf("connection methods: %w", err)
	}

	cur, err := adapt.NewRegistry(
		adapt.With[*cursor.Cursor]("column_count", shapeSync, cursorColumnCount),
		adapt.With[*cursor.Cursor]("column_name", shapeSync, cursorColumnName),
		adapt.With[*cursor.Cursor]("column_type", shapeSync, cursorColumnType),
		adapt.With[*cursor.Cursor]("next", shapeAsyncMut, cursorNext),
		adapt.With[*cursor.Cursor]("close", shapeSyncMutCtx, cursorClose),
	)
	if err != nil {
		return nil, fmt.Errorf("cursor methods: %w", err)
	}

	row, err := adapt.NewRegistry(
		adapt.With[*cursor.Row]("get", shapeSync, rowGet),
		adapt.With[*cursor.Row]("column_count", shapeSync, rowColumnCount),
		adapt.With[*cursor.Row]("column_name", shapeSync, rowColumnName),
		adapt.With[*cursor.Row]("column_type", shapeSync, rowColumnType),
	)
	if err != nil {
		return nil, fmt.Errorf("row methods: %w", err)
	}

	return &methodTables{
		module: module,
		classes: map[string]*adapt.Registry{
			classDatabase:   database,
			classConnection: connection,
			classCursor:     cur,
			classRow:        row,
		},
	}, nil
}

// configArg reads a database config from either a path string (with an
// optional auth token after it) or a {kind, url, token, path} table.
func configArg(a adapt.Args) (client.Config, error) {
	if path, ok := a.At(0).AsString(); ok {
		token := ""
		if !a.At(1).IsNil() {
			t, err := a.String(1)
			if err != nil {
				return client.Config{}, err
			}
			token = t
		}
		cfg := client.ConfigForPath(path, token)
		return cfg, cfg.Validate()
	}

	t, err := a.Table(0)
	if err != nil {
		return client.Config{}, err
	}
	field := func(name string) (string, error) {
		v, ok := t.Fields[name]
		if !ok || v.IsNil() {
			return "", nil
		}
		s, ok := v.AsString()
		if !ok {
			return "", core.NewConversionError(core.UnsupportedType,
				fmt.Sprintf("config.%s is %s, expected string", name, v.Kind()))
		}
		return s, nil
	}
	var cfg client.Config
	var kind string
	for name, dst := range map[string]*string{"kind": &kind, "url": &cfg.URL, "token": &cfg.Token, "path": &cfg.Path} {
		if *dst, err = field(name); err != nil {
			return client.Config{}, err
		}
	}
	cfg.Kind = client.Kind(kind)
	return cfg, cfg.Validate()
}

// paramsArg converts the optional parameter list at index i. Conversion
// happens here, before any worker is started.
func paramsArg(a adapt.Args, i int) ([]value.Typed, error) {
	list, err := a.List(i)
	if err != nil {
		return nil, err
	}
	return value.ToTypedList(list)
}

func libsqlOpen(h adapt.Host, a adapt.Args) (value.Value, error) {
	cfg, err := configArg(a)
	if err != nil {
		return value.Nil(), err
	}
	db, err := conn.Open(h.Context(), cfg, h.Logger())
	if err != nil {
		return value.Nil(), err
	}
	return h.Handle(db), nil
}

// openedConn is a connection whose database was opened for it alone. If
// it is never delivered, both are closed.
type openedConn struct{ *conn.Conn }

func libsqlConnect(h adapt.Host, a adapt.Args) (adapt.Task, error) {
	cfg, err := configArg(a)
	if err != nil {
		return adapt.Task{}, err
	}
	logger := h.Logger()
	return adapt.Defer(func(ctx context.Context) (any, error) {
		db, err := conn.Open(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		c, err := db.Connect(ctx)
		if err != nil {
			db.Close()
			return nil, err
		}
		return openedConn{c}, nil
	}), nil
}

func databaseConnect(d *conn.Database, _ adapt.Args) (adapt.Task, error) {
	if c, ok := d.Reuse(); ok {
		return adapt.Ready(c, nil), nil
	}
	return adapt.Defer(func(ctx context.Context) (any, error) {
		return d.Connect(ctx)
	}), nil
}

func databaseSync(d *conn.Database, _ adapt.Args) (adapt.Task, error) {
	return adapt.Defer(func(ctx context.Context) (any, error) {
		return value.Nil(), d.Sync(ctx)
	}), nil
}

func databaseClose(d *conn.Database, _ adapt.Args) (value.Value, error) {
	return value.Nil(), d.Close()
}

func databaseIsClosed(d *conn.Database, _ adapt.Args) (value.Value, error) {
	return value.Bool(d.Closed()), nil
}

func databaseProtocol(d *conn.Database, _ adapt.Args) (value.Value, error) {
	return value.String(client.VersionString(d.Protocol())), nil
}

func connExecute(c *conn.Conn, a adapt.Args) (adapt.Task, error) {
	sql, err := a.String(0)
	if err != nil {
		return adapt.Task{}, err
	}
	params, err := paramsArg(a, 1)
	if err != nil {
		return adapt.Task{}, err
	}
	return adapt.Defer(func(ctx context.Context) (any, error) {
		n, err := c.Execute(ctx, sql, params)
		if err != nil {
			return nil, err
		}
		return value.Int(int64(n)), nil
	}), nil
}

func connQuery(c *conn.Conn, a adapt.Args) (adapt.Task, error) {
	sql, err := a.String(0)
	if err != nil {
		return adapt.Task{}, err
	}
	params, err := paramsArg(a, 1)
	if err != nil {
		return adapt.Task{}, err
	}
	return adapt.Defer(func(ctx context.Context) (any, error) {
		return c.Query(ctx, sql, params)
	}), nil
}

func connExecuteBatch(c *conn.Conn, a adapt.Args) (adapt.Task, error) {
	sql, err := a.String(0)
	if err != nil {
		return adapt.Task{}, err
	}
	return adapt.Defer(func(ctx context.Context) (any, error) {
		return value.Nil(), c.ExecuteBatch(ctx, sql)
	}), nil
}

func connIsAutocommit(c *conn.Conn, _ adapt.Args) (adapt.Task, error) {
	return adapt.Defer(func(ctx context.Context) (any, error) {
		auto, err := c.IsAutocommit(ctx)
		return value.Bool(auto), err
	}), nil
}

func connDatabase(h adapt.Host, c *conn.Conn, _ adapt.Args) (value.Value, error) {
	return h.Handle(c.Database()), nil
}

func connID(c *conn.Conn, _ adapt.Args) (value.Value, error) {
	return value.String(c.ID().String()), nil
}

func connClose(h adapt.Host, c *conn.Conn, _ adapt.Args) (value.Value, error) {
	h.Drop(c)
	return value.Nil(), c.Release()
}

func cursorColumnCount(c *cursor.Cursor, _ adapt.Args) (value.Value, error) {
	return value.Int(int64(c.ColumnCount())), nil
}

func cursorColumnName(c *cursor.Cursor, a adapt.Args) (value.Value, error) {
	i, err := a.Int(0)
	if err != nil {
		return value.Nil(), err
	}
	name, err := c.ColumnName(i)
	return value.String(name), err
}

func cursorColumnType(c *cursor.Cursor, a adapt.Args) (value.Value, error) {
	i, err := a.Int(0)
	if err != nil {
		return value.Nil(), err
	}
	typ, err := c.ColumnType(i)
	return value.String(typ), err
}

func cursorNext(c *cursor.Cursor, _ adapt.Args) (adapt.Task, error) {
	return adapt.Defer(func(ctx context.Context) (any, error) {
		row, err := c.Next(ctx)
		if err != nil || row == nil {
			return value.Nil(), err
		}
		return row, nil
	}), nil
}

func cursorClose(h adapt.Host, c *cursor.Cursor, _ adapt.Args) (value.Value, error) {
	h.Drop(c)
	return value.Nil(), c.Close()
}

func rowGet(r *cursor.Row, a adapt.Args) (value.Value, error) {
	i, err := a.Int(0)
	if err != nil {
		return value.Nil(), err
	}
	return r.Get(i)
}

func rowColumnCount(r *cursor.Row, _ adapt.Args) (value.Value, error) {
	return value.Int(int64(r.ColumnCount())), nil
}

func rowColumnName(r *cursor.Row, a adapt.Args) (value.Value, error) {
	i, err := a.Int(0)
	if err != nil {
		return value.Nil(), err
	}
	name, err := r.ColumnName(i)
	return value.String(name), err
}

func rowColumnType(r *cursor.Row, a adapt.Args) (value.Value, error) {
	i, err := a.Int(0)
	if err != nil {
		return value.Nil(), err
	}
	typ, err := r.ColumnType(i)
	return value.String(typ), err
}
