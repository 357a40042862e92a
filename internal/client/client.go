// Package client is the database client the bridge drives: a local SQLite
// engine through database/sql, or a remote libsql server over the Hrana
// WebSocket protocol. Every method may block and is meant to run on a
// bridge worker, never on the host goroutine.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/cryguy/sqlbridge/internal/value"
)

// Version is the client library version reported to scripts.
const Version = "0.4.0"

// Kind selects the client implementation.
type Kind string

const (
	KindRemote Kind = "remote"
	KindLocal  Kind = "local"
	KindMemory Kind = "memory"
)

// Config describes how to reach a database.
type Config struct {
	Kind  Kind   `json:"kind" yaml:"kind" toml:"kind" validate:"required,oneof=remote local memory"`
	URL   string `json:"url,omitempty" yaml:"url" toml:"url" validate:"required_if=Kind remote"`
	Token string `json:"token,omitempty" yaml:"token" toml:"token"`
	Path  string `json:"path,omitempty" yaml:"path" toml:"path" validate:"required_if=Kind local"`
}

var validate = validator.New()

// Validate checks the configuration for required fields.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid database config: %w", err)
	}
	if c.Kind == KindRemote {
		if _, err := websocketURL(c.URL); err != nil {
			return fmt.Errorf("invalid database config: %w", err)
		}
	}
	return nil
}

// ConfigForPath builds a Config from a single location string: a remote
// URL, ":memory:", or a local file path.
func ConfigForPath(path, token string) Config {
	switch {
	case IsRemotePath(path):
		return Config{Kind: KindRemote, URL: path, Token: token}
	case path == "" || path == ":memory:":
		return Config{Kind: KindMemory}
	}
	return Config{Kind: KindLocal, Path: path}
}

// IsRemotePath reports whether path names a remote server.
func IsRemotePath(path string) bool {
	for _, prefix := range []string{"libsql://", "http://", "https://", "ws://", "wss://"} {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// VersionString formats the version for a given protocol tag.
func VersionString(protocol string) string {
	return "sqlbridge-" + protocol + "-" + Version
}

// Database is an opened database from which connections are made.
type Database interface {
	Connect(ctx context.Context) (Conn, error)
	// Sync flushes local state; a no-op where nothing is buffered.
	Sync(ctx context.Context) error
	Close() error
	// Protocol names the transport, e.g. "local" or "hrana3".
	Protocol() string
}

// Conn is one client connection. Implementations are not required to be
// safe for concurrent use; callers serialize access.
type Conn interface {
	Execute(ctx context.Context, sql string, args []value.Typed) (uint64, error)
	Query(ctx context.Context, sql string, args []value.Typed) (Rows, error)
	ExecuteBatch(ctx context.Context, sql string) error
	IsAutocommit(ctx context.Context) (bool, error)
	Close() error
}

// Rows is a forward-only result stream. Column metadata is fixed when the
// stream is created and may be read while Next is running.
type Rows interface {
	ColumnCount() int
	ColumnName(i int) (string, bool)
	ColumnType(i int) (value.TypedKind, bool)
	// Next returns the next row, or ok == false when the stream is done.
	Next(ctx context.Context) (row []value.Typed, ok bool, err error)
	Close() error
}

// Open opens the database described by cfg.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "client", "kind", string(cfg.Kind))
	switch cfg.Kind {
	case KindRemote:
		return openRemote(cfg, logger)
	default:
		return openLocal(ctx, cfg, logger)
	}
}

// declaredKind maps a declared column type to its SQLite affinity. An
// empty declaration (expressions, literals) reports null.
func declaredKind(decl string) value.TypedKind {
	d := strings.ToUpper(decl)
	switch {
	case d == "":
		return value.TypedNull
	case strings.Contains(d, "INT"):
		return value.TypedInteger
	case strings.Contains(d, "CHAR"), strings.Contains(d, "CLOB"), strings.Contains(d, "TEXT"):
		return value.TypedText
	case strings.Contains(d, "BLOB"):
		return value.TypedBlob
	}
	return value.TypedReal
}
