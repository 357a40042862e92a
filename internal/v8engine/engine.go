//go:build v8

// Package v8engine runs scripts against the libsql binding on V8
// (github.com/tommie/v8go).
package v8engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	v8 "github.com/tommie/v8go"

	"github.com/cryguy/sqlbridge/internal/core"
	"github.com/cryguy/sqlbridge/internal/host"
)

// Engine runs each script in a fresh V8 isolate.
type Engine struct {
	config core.EngineConfig
	logger *slog.Logger
}

// NewEngine creates an Engine with the given configuration.
func NewEngine(cfg core.EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{config: cfg, logger: logger.With("engine", "v8")}
}

// Name identifies the engine.
func (e *Engine) Name() string { return "v8" }

// Run executes source to completion: the script body, then every database
// callback and timer it schedules.
func (e *Engine) Run(ctx context.Context, source string) *core.RunResult {
	var iso *v8.Isolate
	if e.config.MemoryLimitMB > 0 {
		heapSize := uint64(e.config.MemoryLimitMB) * 1024 * 1024
		iso = v8.NewIsolate(v8.WithResourceConstraints(heapSize/2, heapSize))
	} else {
		iso = v8.NewIsolate()
	}
	v8ctx := v8.NewContext(iso)

	var mu sync.Mutex
	disposed := false
	interrupt := func() {
		mu.Lock()
		defer mu.Unlock()
		if !disposed {
			iso.TerminateExecution()
		}
	}
	defer func() {
		mu.Lock()
		disposed = true
		mu.Unlock()
		v8ctx.Close()
		iso.Dispose()
	}()

	start := time.Now()
	result := host.Run(ctx, &v8Runtime{iso: iso, ctx: v8ctx}, interrupt, e.config, e.logger, source)
	e.logger.Debug("script finished", "duration", time.Since(start), "err", result.Error)
	return result
}
