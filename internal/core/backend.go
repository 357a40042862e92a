package core

import "context"

// EngineBackend is implemented by each JS engine (QuickJS, V8). The root
// sqlbridge.Engine facade delegates to one of these based on build tags.
type EngineBackend interface {
	// Name identifies the engine, e.g. "quickjs".
	Name() string
	// Run executes a script and everything it schedules.
	Run(ctx context.Context, source string) *RunResult
}
