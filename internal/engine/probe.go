package engine

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"
)

const defaultProbeTTL = 5 * time.Minute

// Encoders and filters every generated command may reference.
var (
	RequiredEncoders = []string{"libx264", "aac"}
	RequiredFilters  = []string{"drawtext", "overlay", "colorchannelmixer", "scale", "format", "volume", "afade"}
)

// Capabilities describes what the installed ffmpeg can do.
type Capabilities struct {
	Binary   string          `json:"binary"`
	Version  string          `json:"version"`
	Encoders map[string]bool `json:"-"`
	Filters  map[string]bool `json:"-"`
	Missing  []string        `json:"missing,omitempty"`
	ProbedAt time.Time       `json:"probed_at"`
}

// Ready reports whether every required encoder and filter is present.
func (c *Capabilities) Ready() bool {
	return c != nil && len(c.Missing) == 0
}

func (c *Capabilities) computeMissing() {
	c.Missing = c.Missing[:0]
	for _, name := range RequiredEncoders {
		if !c.Encoders[name] {
			c.Missing = append(c.Missing, "encoder:"+name)
		}
	}
	for _, name := range RequiredFilters {
		if !c.Filters[name] {
			c.Missing = append(c.Missing, "filter:"+name)
		}
	}
	sort.Strings(c.Missing)
}

// Prober is anything that can report engine capabilities.
type Prober interface {
	Probe(ctx context.Context) (*Capabilities, error)
}

// Probe queries ffmpeg for its version, encoders and filters.
func (e *FFmpegEngine) Probe(ctx context.Context) (*Capabilities, error) {
	// probing does not need the workspace lock
	binary := e.Binary()
	if binary == "" {
		b, err := resolveBinary(e.cfg.BinaryPath)
		if err != nil {
			return nil, fmt.Errorf("cannot locate ffmpeg: %w", err)
		}
		binary = b
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ProbeTimeout)
	defer cancel()

	version, err := runOutput(ctx, binary, "-hide_banner", "-version")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg -version: %w", err)
	}
	encoders, err := runOutput(ctx, binary, "-hide_banner", "-encoders")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg -encoders: %w", err)
	}
	filters, err := runOutput(ctx, binary, "-hide_banner", "-filters")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg -filters: %w", err)
	}

	caps := &Capabilities{
		Binary:   binary,
		Version:  firstLine(version),
		Encoders: parseListing(encoders),
		Filters:  parseListing(filters),
		ProbedAt: time.Now(),
	}
	caps.computeMissing()

	e.cfg.Logger.Info("engine probe complete",
		"version", caps.Version,
		"ready", caps.Ready(),
		"missing", caps.Missing,
	)
	return caps, nil
}

func runOutput(ctx context.Context, binary string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, binary, args...).Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(line)
}

// parseListing collects the second column of `ffmpeg -encoders` and
// `ffmpeg -filters` output, which is the component name.
func parseListing(out string) map[string]bool {
	names := make(map[string]bool)
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		names[fields[1]] = true
	}
	return names
}

// CachedProbe caches probe results with a TTL so status requests do not spawn
// ffmpeg every time.
type CachedProbe struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedProbe creates a caching wrapper around engine probes.
func NewCachedProbe(prober Prober, logger *slog.Logger) *CachedProbe {
	return &CachedProbe{
		prober: prober,
		ttl:    defaultProbeTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (p *CachedProbe) Get(ctx context.Context) (*Capabilities, error) {
	p.mu.RLock()
	if p.cached != nil && time.Since(p.cached.ProbedAt) < p.ttl {
		caps := p.cached
		p.mu.RUnlock()
		return caps, nil
	}
	p.mu.RUnlock()

	return p.Refresh(ctx)
}

// Peek returns whatever is cached without probing.
func (p *CachedProbe) Peek() *Capabilities {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cached
}

// Refresh forces a new probe. A failed probe falls back to the stale cache.
func (p *CachedProbe) Refresh(ctx context.Context) (*Capabilities, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	caps, err := p.prober.Probe(ctx)
	if err != nil {
		p.logger.Warn("engine probe failed", "error", err)
		if p.cached != nil {
			p.logger.Info("returning stale capabilities cache")
			return p.cached, nil
		}
		return nil, err
	}

	p.cached = caps
	return caps, nil
}

// Invalidate clears the cached capabilities.
func (p *CachedProbe) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}
