package core

// EngineConfig holds runtime configuration for the script host and the
// async call bridge.
type EngineConfig struct {
	MaxWorkers       int // concurrent bridge workers; 0 spawns one goroutine per call
	MaxPendingOps    int // wake handles allowed in flight per host; 0 means unlimited
	MemoryLimitMB    int // per-runtime memory limit
	ExecutionTimeout int // milliseconds before a script run is interrupted
	MaxLogEntries    int // console entries captured per run
	MaxScriptSizeKB  int // max bundled script size
}

// DefaultEngineConfig returns the configuration used when none is supplied.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxWorkers:       0,
		MaxPendingOps:    4096,
		MemoryLimitMB:    128,
		ExecutionTimeout: 30000,
		MaxLogEntries:    1000,
		MaxScriptSizeKB:  4096,
	}
}
