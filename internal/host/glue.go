package host

// glueJS builds the libsql global from a description of the registered
// methods. It is evaluated as `glueJS(desc)`.
//
// Every call goes through __libsql_call(handle, method, argsJSON), which
// returns an envelope {ok, err, settle}. Functions passed as arguments are
// parked in a callback table and referenced by id; the Go side invokes
// them later through __libsqlSettle, or inline via the settle list.
const glueJS = `(function(desc) {
	var callbacks = {};
	var nextCallback = 0;
	var classes = {};
	// Row handles are only ever handed out once, so the Go side can forget
	// a row when its wrapper is collected.
	var rows = typeof FinalizationRegistry === 'function'
		? new FinalizationRegistry(function(id) { __libsql_release(id); })
		: null;
	var loneSurrogate = /[\uD800-\uDBFF](?![\uDC00-\uDFFF])|(?:^|[^\uD800-\uDBFF])[\uDC00-\uDFFF]/;

	function codeUnits(s) {
		var u = [];
		for (var i = 0; i < s.length; i++) u.push(s.charCodeAt(i));
		return u;
	}

	function encode(v, parked) {
		if (v === null || v === undefined) return { t: 'nil' };
		switch (typeof v) {
		case 'boolean':
			return { t: 'bool', b: v };
		case 'number':
			if (Number.isSafeInteger(v)) return { t: 'int', i: String(v) };
			if (v !== v) return { t: 'num', ns: 'NaN' };
			if (v === Infinity) return { t: 'num', ns: 'Infinity' };
			if (v === -Infinity) return { t: 'num', ns: '-Infinity' };
			return { t: 'num', n: v };
		case 'bigint':
			return { t: 'int', i: v.toString() };
		case 'string':
			if (loneSurrogate.test(v)) return { t: 'str', u: codeUnits(v) };
			return { t: 'str', s: v };
		case 'function':
			var id = ++nextCallback;
			callbacks[id] = v;
			parked.push(id);
			return { t: 'fn', id: id };
		case 'symbol':
			return { t: 'ud', id: -1 };
		}
		if (typeof v.__h === 'number') return { t: 'ud', id: v.__h };
		if (v instanceof Error) return { t: 'err', m: String(v.message) };
		if (Array.isArray(v)) {
			return { t: 'tbl', a: v.map(function(x) { return encode(x, parked); }) };
		}
		var f = {};
		for (var k in v) {
			if (Object.prototype.hasOwnProperty.call(v, k)) f[k] = encode(v[k], parked);
		}
		return { t: 'tbl', f: f };
	}

	function decode(w) {
		if (!w) return null;
		switch (w.t) {
		case 'bool':
			return !!w.b;
		case 'int':
			var n = Number(w.i);
			return Number.isSafeInteger(n) ? n : BigInt(w.i);
		case 'num':
			return w.ns !== undefined ? Number(w.ns) : w.n;
		case 'str':
			return w.s;
		case 'ud':
			var C = classes[w.type];
			if (!C) return null;
			var obj = new C(w.id);
			if (rows && w.type === 'Row') rows.register(obj, w.id);
			return obj;
		case 'err':
			return new Error(w.m);
		case 'tbl':
			if (w.f) {
				var o = {};
				for (var k in w.f) o[k] = decode(w.f[k]);
				return o;
			}
			return (w.a || []).map(decode);
		}
		return null;
	}

	function makeError(info) {
		var e = new Error(info.message);
		e.name = info.name;
		e.kind = info.kind;
		e.code = info.code;
		return e;
	}

	function settle(id, s) {
		var cb = callbacks[id];
		delete callbacks[id];
		if (typeof cb !== 'function') return;
		try {
			if (s.err) cb(makeError(s.err), null);
			else cb(null, decode(s.ok));
		} catch (e) {
			__libsql_uncaught(String((e && e.stack) || e));
		}
	}

	function call(handle, method, args) {
		var parked = [];
		var encoded = [];
		for (var i = 0; i < args.length; i++) encoded.push(encode(args[i], parked));
		var env = JSON.parse(__libsql_call(handle, method, JSON.stringify(encoded)));
		if (env.err) {
			for (var j = 0; j < parked.length; j++) delete callbacks[parked[j]];
			throw makeError(env.err);
		}
		var result = decode(env.ok);
		if (env.settle) {
			for (var s = 0; s < env.settle.length; s++) settle(env.settle[s].cb, env.settle[s]);
		}
		return result;
	}

	function defineClass(name, methods) {
		var C = function(id) {
			Object.defineProperty(this, '__h', { value: id });
		};
		Object.defineProperty(C, 'name', { value: name });
		methods.forEach(function(m) {
			C.prototype[m] = function() {
				return call(this.__h, m, Array.prototype.slice.call(arguments));
			};
		});
		C.prototype.toString = function() { return '[' + name + ' ' + this.__h + ']'; };
		classes[name] = C;
		return C;
	}

	for (var name in desc.classes) defineClass(name, desc.classes[name]);

	// each walks a cursor to the end, calling fn per row and done(err)
	// once at the end.
	classes.Cursor.prototype.each = function(fn, done) {
		var cursor = this;
		done = done || function() {};
		function step() {
			cursor.next(function(err, row) {
				if (err) return done(err);
				if (row === null) return done(null);
				try {
					fn(row);
				} catch (e) {
					return done(e);
				}
				step();
			});
		}
		step();
	};

	var lib = { version: desc.version };
	desc.module.forEach(function(m) {
		lib[m] = function() {
			return call(0, m, Array.prototype.slice.call(arguments));
		};
	});
	globalThis.libsql = Object.freeze(lib);
	globalThis.__libsqlSettle = function(id, json) {
		settle(id, JSON.parse(json));
	};
	globalThis.__libsqlPending = function() {
		return Object.keys(callbacks).length;
	};
})`
