package loader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// ScheduleReloads registers a cron job that reruns the pipeline on spec.
// An empty spec registers nothing. A tick that fires while the previous one
// is still running is skipped. Failures are logged only.
func ScheduleReloads(ctx context.Context, c *cron.Cron, spec string, runner Runner, logger *slog.Logger) (cron.EntryID, error) {
	if spec == "" {
		return 0, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	job := cron.NewChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	).Then(cron.FuncJob(func() {
		reload(ctx, runner, logger)
	}))

	id, err := c.AddJob(spec, job)
	if err != nil {
		return 0, fmt.Errorf("schedule plugin reloads %q: %w", spec, err)
	}
	logger.Info("scheduled plugin reloads", "schedule", spec)
	return id, nil
}

func reload(ctx context.Context, runner Runner, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("scheduled plugin reload panicked", "panic", fmt.Sprint(r))
		}
	}()
	if ctx.Err() != nil {
		return
	}
	res, err := runner.Run(ctx)
	if err != nil {
		logger.Error("scheduled plugin reload failed", "error", err)
		return
	}
	logger.Info("scheduled plugin reload completed", "status", res.Status, "sources_checked", res.SourcesChecked)
}
