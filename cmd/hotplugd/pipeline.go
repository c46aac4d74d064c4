package main

import (
	"log/slog"

	"github.com/goatkit/hotplug/internal/config"
	"github.com/goatkit/hotplug/internal/plugin"
	"github.com/goatkit/hotplug/internal/plugin/jsvm"
	"github.com/goatkit/hotplug/internal/plugin/loader"
	"github.com/goatkit/hotplug/internal/plugin/remote"
)

type pipeline struct {
	retry *loader.Coordinator
	logs  *plugin.LogBuffer
}

func newPipeline(cfg *config.Config, logger *slog.Logger) *pipeline {
	settings := cfg.Plugins
	metrics := plugin.GlobalMetrics()
	logs := plugin.NewLogBuffer(cfg.Log.BufferSize)

	fetcher := remote.NewFetcher(settings.Fetch)
	sandbox := jsvm.NewSandbox(settings.Execution,
		jsvm.WithLogger(logger.With("component", "sandbox")),
		jsvm.WithLogBuffer(logs),
		jsvm.WithMetrics(metrics),
	)
	l := loader.NewLoader(settings, fetcher, sandbox,
		loader.WithLogger(logger.With("component", "loader")),
		loader.WithMetrics(metrics),
	)
	coord := loader.NewCoordinator(l, settings.Retry,
		loader.WithCoordinatorLogger(logger.With("component", "retry")),
		loader.WithCoordinatorMetrics(metrics),
	)
	return &pipeline{retry: coord, logs: logs}
}
