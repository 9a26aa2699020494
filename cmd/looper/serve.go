package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/looperlab/looper/internal/api"
	"github.com/looperlab/looper/internal/config"
	"github.com/looperlab/looper/internal/engine"
	"github.com/looperlab/looper/internal/logging"
	"github.com/looperlab/looper/internal/render"
	"github.com/looperlab/looper/internal/ui"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var headless bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local agent with the web form and tray icon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(ctx, headless || ctx.config.Headless())
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "Do not show the system tray icon")
	return cmd
}

func runServe(c *commandContext, headless bool) error {
	startTime := time.Now()
	cfg := c.config

	if err := os.MkdirAll(cfg.RendersDir(), 0755); err != nil {
		return fmt.Errorf("failed to create renders dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel(), cfg.LogFormat())
	logger.Info("starting looper agent", "version", config.Version, "data_dir", cfg.DataDir())
	if path, ok := cfg.ConfigFile(); ok {
		logger.Info("loaded config file", "path", path)
	}

	s, err := c.openStack(logger)
	if err != nil {
		return err
	}
	defer s.Close()

	probe := engine.NewCachedProbe(s.engine, logging.WithComponent(logger, "probe"))
	initCtx, initCancel := context.WithTimeout(context.Background(), cfg.ProbeTimeout())
	if caps, err := probe.Refresh(initCtx); err != nil {
		logger.Warn("initial engine probe failed", "error", err)
	} else if !caps.Ready() {
		logger.Warn("ffmpeg is missing required components", "missing", caps.Missing)
	}
	initCancel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.runner.Start(ctx)

	pruner := render.NewPruner(s.repo, cfg.Retention(), logging.WithComponent(logger, "retention"))
	stopPruner, err := pruner.Schedule(ctx, render.DefaultPruneSchedule)
	if err != nil {
		return fmt.Errorf("failed to schedule output pruning: %w", err)
	}
	defer stopPruner()

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		Service:        s.service,
		Engine:         s.engine,
		Probe:          probe,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Logger:         logger,
		StartTime:      startTime,
		Version:        config.Version,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	fmt.Printf("\nLooper %s is running at %s\n\n", config.Version, apiServer.URL())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			close(quitCh)
		case <-quitCh:
		}
	}()

	if headless {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Source: s.service,
			URL:    apiServer.URL(),
			Logger: logging.WithComponent(logger, "tray"),
			OnQuit: func() {
				close(quitCh)
			},
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
