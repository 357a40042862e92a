package host

import (
	"context"
	"log/slog"

	"github.com/cryguy/sqlbridge/internal/core"
)

// consoleJS builds a console object whose methods call __console.
// Objects are rendered as JSON where possible.
const consoleJS = `
(function() {
	function render(arg) {
		if (typeof arg === 'string') return arg;
		if (arg instanceof Error) return arg.name + ': ' + arg.message;
		if (typeof arg === 'object' && arg !== null && typeof arg.__h !== 'number') {
			try {
				return JSON.stringify(arg, function(k, v) {
					return typeof v === 'bigint' ? v.toString() : v;
				});
			} catch (e) {
				return '[object Object]';
			}
		}
		return String(arg);
	}
	var con = {};
	['log', 'info', 'warn', 'error', 'debug'].forEach(function(lvl) {
		con[lvl] = function() {
			var parts = [];
			for (var i = 0; i < arguments.length; i++) parts.push(render(arguments[i]));
			__console(lvl, parts.join(' '));
		};
	});
	var counters = {};
	con.count = function(label) {
		var l = label || 'default';
		counters[l] = (counters[l] || 0) + 1;
		con.log(l + ': ' + counters[l]);
	};
	con.assert = function(cond) {
		if (cond) return;
		var args = Array.prototype.slice.call(arguments, 1);
		con.error(args.length ? 'Assertion failed: ' + args.map(render).join(' ') : 'Assertion failed');
	};
	con.table = con.dir = function(data) {
		con.log(JSON.stringify(data, null, 2));
	};
	globalThis.console = con;
})();
`

func consoleLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// installConsole routes console output into logs and logger.
func installConsole(rt core.JSRuntime, logs *core.LogBuffer, logger *slog.Logger) error {
	logger = logger.With("component", "console")
	if err := rt.RegisterFunc("__console", func(level, message string) {
		logs.Add(level, message)
		logger.Log(context.Background(), consoleLevel(level), message)
	}); err != nil {
		return err
	}
	return rt.Eval(consoleJS)
}
