// Package loader drives plugin load runs: it walks the enabled sources in
// order, fetches each payload and hands it to the sandbox.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/goatkit/hotplug/internal/plugin"
	"github.com/goatkit/hotplug/internal/plugin/jsvm"
	"github.com/goatkit/hotplug/internal/plugin/remote"
)

// Fetcher retrieves the response envelope of one source.
type Fetcher interface {
	Fetch(ctx context.Context, src plugin.SourceConfig) (*remote.Response, error)
}

// Executor runs one payload.
type Executor interface {
	Execute(ctx context.Context, source, code string) (*jsvm.Result, error)
}

// Loader runs the pipeline over the configured sources. Runs on one Loader
// never overlap.
type Loader struct {
	settings plugin.Settings
	fetcher  Fetcher
	executor Executor
	logger   *slog.Logger
	metrics  *plugin.Metrics
	now      func() time.Time
	newID    func() string

	// one-slot semaphore serializing runs
	slot chan struct{}
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets the logger used for run progress.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics records run and source outcomes in m.
func WithMetrics(m *plugin.Metrics) LoaderOption {
	return func(l *Loader) {
		l.metrics = m
	}
}

// WithClock overrides the clock used to stamp results.
func WithClock(now func() time.Time) LoaderOption {
	return func(l *Loader) {
		if now != nil {
			l.now = now
		}
	}
}

// WithRunIDs overrides run id generation.
func WithRunIDs(newID func() string) LoaderOption {
	return func(l *Loader) {
		if newID != nil {
			l.newID = newID
		}
	}
}

// NewLoader creates a loader over settings.
func NewLoader(settings plugin.Settings, fetcher Fetcher, executor Executor, opts ...LoaderOption) *Loader {
	l := &Loader{
		settings: settings,
		fetcher:  fetcher,
		executor: executor,
		logger:   slog.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
		slot:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Settings returns the settings the loader was built with.
func (l *Loader) Settings() plugin.Settings {
	return l.settings
}

// Run performs one pass over the enabled sources.
//
// A source that cannot be fetched, or that carries no payload, is logged and
// skipped. The first execution failure aborts the run; remaining sources are
// not attempted and no result is produced.
func (l *Loader) Run(ctx context.Context) (*plugin.LoadResult, error) {
	if !l.settings.Enabled {
		l.logger.Info("plugin system disabled, skipping load")
		l.metrics.RecordRun(plugin.StatusSkipped)
		return plugin.Skipped(l.now()), nil
	}

	select {
	case l.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for running load: %w", ctx.Err())
	}
	defer func() { <-l.slot }()

	runID := l.newID()
	ctx = plugin.WithRunID(ctx, runID)
	log := l.logger.With("run_id", runID)

	sources := plugin.EnabledSources(l.settings.Sources)
	checked := len(sources)
	log.Info("plugin load started", "sources", checked)

	for _, src := range sources {
		if err := l.loadSource(ctx, log, src); err != nil {
			l.metrics.RecordRun(plugin.StatusFailure)
			log.Error("plugin load aborted", "source", src.Name, "error", err)
			return nil, err
		}
	}

	l.metrics.RecordRun(plugin.StatusSuccess)
	log.Info("plugin load finished", "sources", checked)
	return plugin.Succeeded(l.now(), checked), nil
}

func (l *Loader) loadSource(ctx context.Context, log *slog.Logger, src plugin.SourceConfig) error {
	log = log.With("source", src.Name)

	resp, err := l.fetcher.Fetch(ctx, src)
	if err != nil {
		if errors.Is(err, plugin.ErrSourceUnavailable) {
			l.metrics.RecordSource(plugin.OutcomeUnavailable)
			log.Warn("plugin source unavailable, skipping", "error", err)
			return nil
		}
		return fmt.Errorf("fetch %s: %w", src.Name, err)
	}
	if !resp.HasPayload() {
		l.metrics.RecordSource(plugin.OutcomeEmpty)
		log.Debug("no plugin payload", "status", resp.StatusCode)
		return nil
	}

	res, err := l.executor.Execute(ctx, src.Name, resp.Message)
	if err != nil {
		l.metrics.RecordSource(plugin.OutcomeFailed)
		return err
	}
	l.metrics.RecordSource(plugin.OutcomeExecuted)
	log.Info("plugin executed",
		"exports", res.Exports,
		"timers", res.Timers,
		"dropped_timers", res.Dropped,
		"duration", res.Duration,
	)
	return nil
}
