// Package config provides configuration management for the Looper agent.
// Values come from defaults, then an optional TOML file, then environment
// variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	// Default values
	DefaultPort           = 8790
	DefaultLogLevel       = "info"
	DefaultDataDir        = ".looper"
	DefaultMaxUploadMB    = 2048
	DefaultRenderTimeout  = 0 // no limit
	DefaultProbeTimeout   = 30 * time.Second
	DefaultConfigFilename = "looper.toml"

	// Environment variable names
	EnvConfigFile    = "LOOPER_CONFIG"
	EnvPort          = "LOOPER_PORT"
	EnvLogLevel      = "LOOPER_LOG_LEVEL"
	EnvLogFormat     = "LOOPER_LOG_FORMAT"
	EnvDataDir       = "LOOPER_DATA_DIR"
	EnvFFmpegPath    = "LOOPER_FFMPEG"
	EnvRenderTimeout = "LOOPER_RENDER_TIMEOUT"
	EnvMaxUploadMB   = "LOOPER_MAX_UPLOAD_MB"
	EnvHeadless      = "LOOPER_HEADLESS"
	EnvDebugPaths    = "LOOPER_DEBUG_PATHS"
	EnvRetention     = "LOOPER_RETENTION"

	// Database filename
	DBFilename = "looper.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	LogFormat() string
	DataDir() string
	DBPath() string
	WorkDir() string
	RendersDir() string
	FFmpegPath() string
	ProbeTimeout() time.Duration
	RenderTimeout() time.Duration
	Retention() time.Duration
	MaxUploadBytes() int64
	Headless() bool
	DebugPaths() bool
}

// fileConfig mirrors looper.toml.
type fileConfig struct {
	Port          int    `toml:"port"`
	LogLevel      string `toml:"log_level"`
	LogFormat     string `toml:"log_format"`
	DataDir       string `toml:"data_dir"`
	FFmpegPath    string `toml:"ffmpeg_path"`
	RenderTimeout string `toml:"render_timeout"`
	Retention     string `toml:"retention"`
	MaxUploadMB   int64  `toml:"max_upload_mb"`
	Headless      *bool  `toml:"headless"`
	DebugPaths    *bool  `toml:"debug_paths"`
}

// EnvConfig holds the resolved configuration.
type EnvConfig struct {
	port          int
	logLevel      string
	logFormat     string
	dataDir       string
	ffmpegPath    string
	renderTimeout time.Duration
	retention     time.Duration
	maxUploadMB   int64
	headless      bool
	debugPaths    bool

	configPath   string
	configLoaded bool
}

// New creates an EnvConfig from defaults, the config file and environment
// variable overrides, in that order.
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:          DefaultPort,
		logLevel:      DefaultLogLevel,
		dataDir:       defaultDataDir(),
		renderTimeout: DefaultRenderTimeout,
		maxUploadMB:   DefaultMaxUploadMB,
	}

	// The data dir decides where the default config file lives, so it is
	// read from the environment first.
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	path := os.Getenv(EnvConfigFile)
	explicit := path != ""
	if !explicit {
		path = filepath.Join(cfg.dataDir, DefaultConfigFilename)
	}
	cfg.configPath = path
	if err := cfg.loadFile(path, explicit); err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.configLoaded = true

	if fc.Port != 0 {
		c.port = fc.Port
	}
	if fc.LogLevel != "" {
		c.logLevel = fc.LogLevel
	}
	if fc.LogFormat != "" {
		c.logFormat = fc.LogFormat
	}
	if fc.DataDir != "" && os.Getenv(EnvDataDir) == "" {
		c.dataDir = expandHome(fc.DataDir)
	}
	if fc.FFmpegPath != "" {
		c.ffmpegPath = expandHome(fc.FFmpegPath)
	}
	if fc.RenderTimeout != "" {
		d, err := time.ParseDuration(fc.RenderTimeout)
		if err != nil {
			return fmt.Errorf("invalid render_timeout: %w", err)
		}
		c.renderTimeout = d
	}
	if fc.Retention != "" {
		d, err := time.ParseDuration(fc.Retention)
		if err != nil {
			return fmt.Errorf("invalid retention: %w", err)
		}
		c.retention = d
	}
	if fc.MaxUploadMB != 0 {
		c.maxUploadMB = fc.MaxUploadMB
	}
	if fc.Headless != nil {
		c.headless = *fc.Headless
	}
	if fc.DebugPaths != nil {
		c.debugPaths = *fc.DebugPaths
	}
	return nil
}

func (c *EnvConfig) applyEnv() error {
	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.logLevel = ll
	}
	if lf := os.Getenv(EnvLogFormat); lf != "" {
		c.logFormat = lf
	}
	if fp := os.Getenv(EnvFFmpegPath); fp != "" {
		c.ffmpegPath = fp
	}

	if rt := os.Getenv(EnvRenderTimeout); rt != "" {
		d, err := time.ParseDuration(rt)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRenderTimeout, err)
		}
		c.renderTimeout = d
	}

	if rt := os.Getenv(EnvRetention); rt != "" {
		d, err := time.ParseDuration(rt)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRetention, err)
		}
		c.retention = d
	}

	if mu := os.Getenv(EnvMaxUploadMB); mu != "" {
		n, err := strconv.ParseInt(mu, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMaxUploadMB, err)
		}
		c.maxUploadMB = n
	}

	if h := os.Getenv(EnvHeadless); h != "" {
		b, err := strconv.ParseBool(h)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		c.headless = b
	}
	if dp := os.Getenv(EnvDebugPaths); dp != "" {
		b, err := strconv.ParseBool(dp)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvDebugPaths, err)
		}
		c.debugPaths = b
	}
	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.port)
	}
	if c.renderTimeout < 0 {
		return fmt.Errorf("invalid render timeout %s: must not be negative", c.renderTimeout)
	}
	if c.retention < 0 {
		return fmt.Errorf("invalid retention %s: must not be negative", c.retention)
	}
	if c.maxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size %d MB", c.maxUploadMB)
	}
	switch strings.ToLower(c.logFormat) {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log format %q: want json or text", c.logFormat)
	}
	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// LogFormat returns "json", "text", or "" to pick by terminal.
func (c *EnvConfig) LogFormat() string {
	return strings.ToLower(c.logFormat)
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// WorkDir is the engine's private filesystem.
func (c *EnvConfig) WorkDir() string {
	return filepath.Join(c.dataDir, "work")
}

// RendersDir is where finished outputs are kept.
func (c *EnvConfig) RendersDir() string {
	return filepath.Join(c.dataDir, "renders")
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) ProbeTimeout() time.Duration {
	return DefaultProbeTimeout
}

func (c *EnvConfig) RenderTimeout() time.Duration {
	return c.renderTimeout
}

// Retention is how long finished outputs are kept; zero keeps them forever.
func (c *EnvConfig) Retention() time.Duration {
	return c.retention
}

func (c *EnvConfig) MaxUploadBytes() int64 {
	return c.maxUploadMB << 20
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) DebugPaths() bool {
	return c.debugPaths
}

// ConfigFile returns the config file path and whether it was read.
func (c *EnvConfig) ConfigFile() (string, bool) {
	return c.configPath, c.configLoaded
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
