package loader

import (
	"context"
	"fmt"
	"log/slog"
)

// RunOnStartup performs the boot-time load when enabled. It never returns an
// error or panics: every failure is logged and the host keeps serving.
func RunOnStartup(ctx context.Context, enabled bool, runner Runner, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if !enabled {
		logger.Info("plugin auto-load on startup is disabled")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("plugin startup load panicked", "panic", fmt.Sprint(r))
		}
	}()

	logger.Info("loading server plugins on startup")
	res, err := runner.Run(ctx)
	if err != nil {
		logger.Error("plugin startup load failed", "error", err)
		return
	}
	logger.Info("plugin startup load completed",
		"status", res.Status,
		"sources_checked", res.SourcesChecked,
	)
}
