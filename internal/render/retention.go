package render

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPruneSchedule is how often expired outputs are looked for.
const DefaultPruneSchedule = "@every 1h"

// Pruner deletes render outputs older than MaxAge. The history rows stay;
// only the files and their paths go.
type Pruner struct {
	repo   Repository
	maxAge time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewPruner(repo Repository, maxAge time.Duration, logger *slog.Logger) *Pruner {
	return &Pruner{repo: repo, maxAge: maxAge, logger: logger, now: time.Now}
}

// Prune removes expired outputs and returns how many were removed.
func (p *Pruner) Prune(ctx context.Context) (int, error) {
	if p.maxAge <= 0 {
		return 0, nil
	}
	jobs, err := p.repo.ListExpiredOutputs(ctx, p.now().Add(-p.maxAge))
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, j := range jobs {
		if err := os.Remove(j.OutputPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			p.logger.Warn("failed to remove expired output", "render_id", j.ID, "error", err)
			continue
		}
		if err := p.repo.ClearOutput(ctx, j.ID); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		p.logger.Info("pruned expired render outputs", "count", removed, "max_age", p.maxAge.String())
	}
	return removed, nil
}

// Schedule runs Prune on a cron schedule until the returned stop func is
// called. A zero MaxAge schedules nothing.
func (p *Pruner) Schedule(ctx context.Context, schedule string) (stop func(), err error) {
	if p.maxAge <= 0 {
		return func() {}, nil
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := p.Prune(ctx); err != nil {
			p.logger.Error("render output pruning failed", "error", err)
		}
	}); err != nil {
		return nil, err
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}
