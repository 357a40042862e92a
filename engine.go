// Package sqlbridge runs JavaScript against a libsql database binding.
//
// Scripts run on a single-threaded JS engine (QuickJS by default, V8 with
// -tags v8). Database calls take a trailing node-style callback and run on
// worker goroutines; results are delivered back on the script's goroutine.
package sqlbridge

import (
	"context"
	"log/slog"

	"github.com/cryguy/sqlbridge/internal/client"
	"github.com/cryguy/sqlbridge/internal/core"
	"github.com/cryguy/sqlbridge/internal/script"
)

// Engine wraps a backend JS engine.
type Engine struct {
	backend core.EngineBackend
	prelude string
}

// Option configures an Engine.
type Option func(*Engine) error

// WithDatabases exposes named database configs to scripts as
// globalThis.databases.
func WithDatabases(dbs map[string]DatabaseConfig) Option {
	return func(e *Engine) error {
		p, err := script.Prelude(dbs)
		if err != nil {
			return err
		}
		e.prelude = p
		return nil
	}
}

// NewEngine creates a new Engine with the given config.
func NewEngine(cfg EngineConfig, logger *slog.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{backend: newBackend(cfg, logger)}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Backend names the JS engine in use.
func (e *Engine) Backend() string { return e.backend.Name() }

// Run executes source until it and everything it scheduled have finished.
func (e *Engine) Run(ctx context.Context, source string) *RunResult {
	return e.backend.Run(ctx, e.prelude+source)
}

// RunFile bundles the script at path and runs it.
func (e *Engine) RunFile(ctx context.Context, path string) *RunResult {
	src, err := script.Bundle(path)
	if err != nil {
		return &RunResult{Error: err}
	}
	return e.Run(ctx, src)
}

// Version returns the client version string for a protocol tag.
func Version(protocol string) string { return client.VersionString(protocol) }
