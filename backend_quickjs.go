//go:build !v8

package sqlbridge

import (
	"log/slog"

	"github.com/cryguy/sqlbridge/internal/core"
	"github.com/cryguy/sqlbridge/internal/quickjs"
)

func newBackend(cfg core.EngineConfig, logger *slog.Logger) core.EngineBackend {
	return quickjs.NewEngine(cfg, logger)
}
