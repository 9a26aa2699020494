package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/looperlab/looper/internal/config"
	"github.com/looperlab/looper/internal/db"
	"github.com/looperlab/looper/internal/engine"
	"github.com/looperlab/looper/internal/logging"
	"github.com/looperlab/looper/internal/render"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.EnvConfig
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.EnvConfig, error) {
	c.configOnce.Do(func() {
		if c.configFlag != nil && strings.TrimSpace(*c.configFlag) != "" {
			os.Setenv(config.EnvConfigFile, strings.TrimSpace(*c.configFlag))
		}
		cfg, err := config.New()
		if err != nil {
			c.configErr = fmt.Errorf("failed to load config: %w", err)
			return
		}
		if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
			c.configErr = fmt.Errorf("failed to create data dir: %w", err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// cliLogger keeps one-shot commands quiet unless asked otherwise.
func (c *commandContext) cliLogger(verbose bool) *slog.Logger {
	level := "warn"
	if verbose {
		level = c.config.LogLevel()
	}
	return logging.New(os.Stderr, level, c.config.LogFormat())
}

func (c *commandContext) newEngine(logger *slog.Logger) *engine.FFmpegEngine {
	return engine.NewFFmpegEngine(engine.Config{
		BinaryPath:   c.config.FFmpegPath(),
		WorkDir:      c.config.WorkDir(),
		ProbeTimeout: c.config.ProbeTimeout(),
		Logger:       logging.WithComponent(logger, "engine"),
		DebugPaths:   c.config.DebugPaths(),
	})
}

// stack is the set of components a render needs.
type stack struct {
	db      *db.DB
	repo    *render.SQLiteRepository
	engine  *engine.FFmpegEngine
	runner  *render.Runner
	service *render.Service
}

func (c *commandContext) openDB(logger *slog.Logger) (*db.DB, *render.SQLiteRepository, error) {
	database, err := db.New(c.config.DBPath(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return database, render.NewRepository(database.Conn()), nil
}

// openStack wires the database, engine and render service. A failed engine
// load is logged, not returned: renders then fail with ErrEngineNotReady.
// Stale running renders are only failed once the workspace lock is held.
func (c *commandContext) openStack(logger *slog.Logger) (*stack, error) {
	database, repo, err := c.openDB(logger)
	if err != nil {
		return nil, err
	}

	eng := c.newEngine(logger)
	if err := eng.Load(); err != nil {
		logger.Warn("engine unavailable, renders disabled", "error", err)
	} else if n, err := database.MarkInterruptedRenders(context.Background()); err != nil {
		logger.Warn("failed to mark interrupted renders", "error", err)
	} else if n > 0 {
		logger.Info("marked interrupted renders as failed", "count", n)
	}

	runner := render.NewRunner(repo, eng, render.RunnerConfig{
		OutputDir: c.config.RendersDir(),
		Timeout:   c.config.RenderTimeout(),
	}, logging.WithComponent(logger, "runner"))

	return &stack{
		db:      database,
		repo:    repo,
		engine:  eng,
		runner:  runner,
		service: render.NewService(repo, eng, runner, logging.WithComponent(logger, "render")),
	}, nil
}

func (s *stack) Close() {
	s.engine.Close()
	s.db.Close()
}
