//go:build !v8

// Package quickjs runs scripts against the libsql binding on the QuickJS
// engine (modernc.org/quickjs, pure Go).
package quickjs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"modernc.org/quickjs"

	"github.com/cryguy/sqlbridge/internal/core"
	"github.com/cryguy/sqlbridge/internal/host"
)

// Engine runs each script in a fresh QuickJS VM.
type Engine struct {
	config core.EngineConfig
	logger *slog.Logger
}

// NewEngine creates an Engine with the given configuration.
func NewEngine(cfg core.EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{config: cfg, logger: logger.With("engine", "quickjs")}
}

// Name identifies the engine.
func (e *Engine) Name() string { return "quickjs" }

// Run executes source to completion: the script body, then every database
// callback and timer it schedules.
func (e *Engine) Run(ctx context.Context, source string) *core.RunResult {
	vm, err := quickjs.NewVM()
	if err != nil {
		return &core.RunResult{Error: fmt.Errorf("creating QuickJS VM: %w", err)}
	}
	if e.config.MemoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(e.config.MemoryLimitMB) * 1024 * 1024)
	}

	// The watchdog may fire while the VM is being torn down.
	var mu sync.Mutex
	closed := false
	interrupt := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			vm.Interrupt()
		}
	}
	defer func() {
		mu.Lock()
		closed = true
		mu.Unlock()
		vm.Close()
	}()

	start := time.Now()
	result := host.Run(ctx, &qjsRuntime{vm: vm}, interrupt, e.config, e.logger, source)
	e.logger.Debug("script finished", "duration", time.Since(start), "err", result.Error)
	return result
}
