package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/goatkit/hotplug/internal/api"
	"github.com/goatkit/hotplug/internal/config"
	"github.com/goatkit/hotplug/internal/middleware"
	"github.com/goatkit/hotplug/internal/plugin/loader"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the trigger API and load plugins on startup",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := installLogger(os.Stderr, cfg.Log)
	logger.Info("starting hotplugd", "config", cfg.Path, "plugins_enabled", cfg.Plugins.Enabled)

	p := newPipeline(cfg, logger)
	limiter := middleware.NewRateLimiter()
	go limiter.Run(ctx)

	router := api.NewRouter(api.Deps{
		Runner:             p.retry,
		Settings:           cfg.Plugins,
		Logs:               p.logs,
		Limiter:            limiter,
		TriggerRatePerHour: cfg.Server.TriggerRatePerHour,
		Logger:             logger,
	})
	server := api.NewServer(cfg.Server.Addr, router, logger)
	if err := server.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	// The listener is bound; the boot-time load must never hold up serving.
	go loader.RunOnStartup(ctx, cfg.Plugins.AutoLoadOnStartup, p.retry, logger)

	scheduler := cron.New(cron.WithLocation(time.UTC))
	if _, err := loader.ScheduleReloads(ctx, scheduler, cfg.Plugins.ReloadSchedule, p.retry, logger); err != nil {
		_ = server.Stop(context.Background())
		return err
	}
	scheduler.Start()

	<-ctx.Done()
	logger.Info("shutting down")

	cronDone := scheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := server.Stop(shutdownCtx)
	select {
	case <-cronDone.Done():
	case <-shutdownCtx.Done():
	}
	if err != nil {
		return fmt.Errorf("stop http server: %w", err)
	}
	return nil
}
