package sqlbridge

import (
	"github.com/cryguy/sqlbridge/internal/client"
	"github.com/cryguy/sqlbridge/internal/core"
)

// Type aliases re-exporting internal types so callers do not import the
// internal packages directly.

type EngineConfig = core.EngineConfig
type RunResult = core.RunResult
type LogEntry = core.LogEntry
type ErrorInfo = core.ErrorInfo
type DatabaseConfig = client.Config
type JSRuntime = core.JSRuntime

// Database kinds.
const (
	KindRemote = client.KindRemote
	KindLocal  = client.KindLocal
	KindMemory = client.KindMemory
)

// Functions re-exported from core.
var DefaultEngineConfig = core.DefaultEngineConfig
var Describe = core.Describe
