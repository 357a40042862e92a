//go:build !v8

package quickjs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/sqlbridge/internal/core"
)

func newTestEngine(t *testing.T, opts ...func(*core.EngineConfig)) *Engine {
	t.Helper()
	cfg := core.DefaultEngineConfig()
	cfg.ExecutionTimeout = 5000
	cfg.MaxWorkers = 4
	for _, o := range opts {
		o(&cfg)
	}
	return NewEngine(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func runOK(t *testing.T, e *Engine, src string) *core.RunResult {
	t.Helper()
	r := e.Run(context.Background(), src)
	require.NoError(t, r.Error)
	return r
}

func TestEngineQueryRoundTrip(t *testing.T) {
	r := runOK(t, newTestEngine(t), `
		var out = [];
		var db = libsql.open(":memory:");
		db.connect(function(err, c) {
			if (err) throw err;
			c.execute_batch("CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT, score REAL); INSERT INTO t (name, score) VALUES ('a', 1.5);", function(err) {
				if (err) throw err;
				c.execute("INSERT INTO t (name, score) VALUES (?, ?)", ["b", null], function(err, n) {
					if (err) throw err;
					out.push(n);
					c.query("SELECT id, name, score FROM t ORDER BY id", [], function(err, cur) {
						if (err) throw err;
						out.push(cur.column_count(), cur.column_name(1), cur.column_type(0));
						cur.each(function(row) {
							out.push([row.get(0), row.get(1), row.get(2)]);
						}, function(err) {
							out.push(err === null ? "done" : String(err));
							globalThis.result = out;
						});
					});
				});
			});
		});
	`)
	assert.JSONEq(t, `[1, 3, "name", "integer", [1, "a", 1.5], [2, "b", null], "done"]`, r.Data)
}

func TestEngineRowAccessors(t *testing.T) {
	r := runOK(t, newTestEngine(t), `
		var db = libsql.open(":memory:");
		db.connect(function(err, c) {
			c.query("SELECT 42 AS answer, 'x' AS label, NULL AS nothing", [], function(err, cur) {
				cur.next(function(err, row) {
					globalThis.result = {
						count: row.column_count(),
						name: row.column_name(1),
						types: [row.column_type(0), row.column_type(1), row.column_type(2)],
					};
				});
			});
		});
	`)
	assert.JSONEq(t, `{"count": 3, "name": "label", "types": ["integer", "text", "null"]}`, r.Data)
}

func TestEngineConversionErrorsThrowSynchronously(t *testing.T) {
	r := runOK(t, newTestEngine(t), `
		var out = {};
		var calls = 0;
		var db = libsql.open(":memory:");
		db.connect(function(err, c) {
			function capture(label, params) {
				try {
					c.execute("SELECT ?, ?", params, function() { calls++; });
					out[label] = "no error";
				} catch (e) {
					out[label] = { name: e.name, kind: e.kind, code: e.code, message: e.message };
				}
			}
			capture("table", [1, {a: 1}]);
			capture("nan", [NaN, 1]);
			capture("surrogate", ["ok", "\uD800"]);
			setTimeout(function() {
				out.calls = calls;
				out.pending = __libsqlPending();
				globalThis.result = out;
			}, 20);
		});
	`)
	assert.JSONEq(t, `{
		"table": {"name": "ConversionError", "kind": "UnsupportedType", "code": 400, "message": "argument 1: unsupported type: table"},
		"nan": {"name": "ConversionError", "kind": "NotFinite", "code": 400, "message": "argument 0: number is not finite"},
		"surrogate": {"name": "ConversionError", "kind": "InvalidEncoding", "code": 400, "message": "argument 1: invalid encoding: string is not valid UTF-8"},
		"calls": 0,
		"pending": 0
	}`, r.Data)
}

func TestEngineCallbacksRunExactlyOnce(t *testing.T) {
	r := runOK(t, newTestEngine(t), `
		var calls = { connect: 0, batch: 0, exec: 0, fail: 0, auto: 0 };
		globalThis.result = calls;
		var db = libsql.open(":memory:");
		db.connect(function(err, c) {
			calls.connect++;
			c.execute_batch("CREATE TABLE t (x INTEGER)", function(err) {
				calls.batch++;
				for (var i = 0; i < 10; i++) {
					c.execute("INSERT INTO t VALUES (?)", [i], function(err) {
						if (err) throw err;
						calls.exec++;
					});
				}
				c.execute("INSERT INTO missing VALUES (1)", [], function(err) {
					calls.fail++;
					calls.failName = err.name;
					calls.failCode = err.code;
				});
				c.is_autocommit(function(err, auto) {
					calls.auto++;
					calls.autocommit = auto;
				});
			});
		});
	`)
	assert.JSONEq(t, `{
		"connect": 1, "batch": 1, "exec": 10, "fail": 1, "auto": 1,
		"failName": "StorageError", "failCode": 502, "autocommit": true
	}`, r.Data)
}

func TestEngineDatabaseConnectReusesLiveConnection(t *testing.T) {
	r := runOK(t, newTestEngine(t), `
		var db = libsql.open(":memory:");
		db.connect(function(err, c1) {
			var inline = false;
			var same = null;
			db.connect(function(err, c2) {
				inline = true;
				same = c1.id() === c2.id();
			});
			globalThis.result = { inline: inline, same: same, protocol: db.protocol() };
		});
	`)
	assert.JSONEq(t, `{"inline": true, "same": true, "protocol": "sqlbridge-local-0.4.0"}`, r.Data)
}

func TestEngineBoundsErrors(t *testing.T) {
	r := runOK(t, newTestEngine(t), `
		function attempt(fn) {
			try {
				return fn();
			} catch (e) {
				return e.name + "/" + e.kind;
			}
		}
		var db = libsql.open(":memory:");
		db.connect(function(err, c) {
			c.query("SELECT 1 AS a, 2 AS b", [], function(err, cur) {
				var out = [
					attempt(function() { return cur.column_name(-1); }),
					attempt(function() { return cur.column_name(2); }),
					attempt(function() { return cur.column_name(1); }),
				];
				cur.next(function(err, row) {
					out.push(attempt(function() { return row.get(5); }));
					out.push(attempt(function() { return row.get("x"); }));
					globalThis.result = out;
				});
			});
		});
	`)
	assert.JSONEq(t, `[
		"BoundsError/NegativeIndex",
		"BoundsError/IndexOutOfRange",
		"b",
		"BoundsError/IndexOutOfRange",
		"ConversionError/UnsupportedType"
	]`, r.Data)
}

func TestEngineBlobValueIsUnsupported(t *testing.T) {
	r := runOK(t, newTestEngine(t), `
		var db = libsql.open(":memory:");
		db.connect(function(err, c) {
			c.query("SELECT x'0102' AS data", [], function(err, cur) {
				cur.next(function(err, row) {
					try {
						row.get(0);
						globalThis.result = "no error";
					} catch (e) {
						globalThis.result = { name: e.name, kind: e.kind, type: row.column_type(0) };
					}
				});
			});
		});
	`)
	assert.JSONEq(t, `{"name": "ConversionError", "kind": "UnsupportedType", "type": "blob"}`, r.Data)
}

func TestEngineLargeIntegers(t *testing.T) {
	r := runOK(t, newTestEngine(t), `
		var db = libsql.open(":memory:");
		db.connect(function(err, c) {
			c.query("SELECT ?, 9007199254740993", [2n ** 60n], function(err, cur) {
				if (err) throw err;
				cur.next(function(err, row) {
					var a = row.get(0), b = row.get(1);
					globalThis.result = [typeof a, String(a), typeof b, String(b)];
				});
			});
		});
	`)
	assert.JSONEq(t, `["bigint", "1152921504606846976", "bigint", "9007199254740993"]`, r.Data)
}

func TestEngineClosedHandles(t *testing.T) {
	r := runOK(t, newTestEngine(t), `
		var db = libsql.open(":memory:");
		db.connect(function(err, c) {
			c.close();
			try {
				c.execute("SELECT 1", [], function() {});
				globalThis.result = "no error";
			} catch (e) {
				globalThis.result = [e.message, db.is_closed()];
				db.close();
				globalThis.result.push(db.is_closed());
			}
		});
	`)
	assert.JSONEq(t, `["invalid or closed handle 2", false, true]`, r.Data)
}

func TestEngineCallbackRequired(t *testing.T) {
	r := runOK(t, newTestEngine(t), `
		var db = libsql.open(":memory:");
		try {
			db.connect();
		} catch (e) {
			globalThis.result = e.name;
		}
	`)
	assert.JSONEq(t, `"ConversionError"`, r.Data)
}

func TestEngineUncaughtCallbackException(t *testing.T) {
	e := newTestEngine(t)
	r := e.Run(context.Background(), `
		var after = false;
		var db = libsql.open(":memory:");
		db.connect(function(err, c) {
			c.execute("CREATE TABLE t (x)", [], function() {
				throw new Error("boom");
			});
			c.execute("CREATE TABLE u (x)", [], function() { after = true; globalThis.result = after; });
		});
	`)
	require.Error(t, r.Error)
	assert.Contains(t, r.Error.Error(), "boom")
	assert.Equal(t, "true", r.Data)
}

func TestEngineConsoleCapture(t *testing.T) {
	r := runOK(t, newTestEngine(t), `
		console.log("hello", 1, {a: 2});
		console.warn("careful");
	`)
	require.Len(t, r.Logs, 2)
	assert.Equal(t, "log", r.Logs[0].Level)
	assert.Equal(t, `hello 1 {"a":2}`, r.Logs[0].Message)
	assert.Equal(t, "warn", r.Logs[1].Level)
}

func TestEngineTimers(t *testing.T) {
	r := runOK(t, newTestEngine(t), `
		var order = [];
		setTimeout(function() { order.push("b"); }, 20);
		setTimeout(function() { order.push("a"); }, 5);
		var n = 0;
		var id = setInterval(function() {
			if (++n === 3) {
				clearInterval(id);
				setTimeout(function() { order.push(n); globalThis.result = order; }, 30);
			}
		}, 5);
	`)
	assert.JSONEq(t, `["a", "b", 3]`, r.Data)
}

func TestEngineScriptError(t *testing.T) {
	r := newTestEngine(t).Run(context.Background(), `throw new Error("nope");`)
	require.Error(t, r.Error)
	assert.Contains(t, r.Error.Error(), "nope")
}

func TestEngineTimeout(t *testing.T) {
	e := newTestEngine(t, func(c *core.EngineConfig) { c.ExecutionTimeout = 200 })
	start := time.Now()
	r := e.Run(context.Background(), `while (true) {}`)
	require.Error(t, r.Error)
	assert.Contains(t, r.Error.Error(), "timed out")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestEngineCancel(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	start := time.Now()
	r := e.Run(ctx, `setTimeout(function() { globalThis.result = 1; }, 4000);`)
	require.Error(t, r.Error)
	assert.Contains(t, r.Error.Error(), "canceled")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestEngineScriptSizeLimit(t *testing.T) {
	e := newTestEngine(t, func(c *core.EngineConfig) { c.MaxScriptSizeKB = 1 })
	src := "var s = '" + string(make([]byte, 2048)) + "';"
	r := e.Run(context.Background(), src)
	require.Error(t, r.Error)
	assert.Contains(t, r.Error.Error(), "limit is 1 KB")
}

func TestEngineVersion(t *testing.T) {
	r := runOK(t, newTestEngine(t), `globalThis.result = [libsql.version, Object.isFrozen(libsql)];`)
	assert.JSONEq(t, `["0.4.0", true]`, r.Data)
}
