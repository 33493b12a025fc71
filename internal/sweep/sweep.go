// Package sweep removes workspaces left behind by jobs which did not clean up,
// typically because the service was killed while a solver was running.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/hexlite/hexlited/internal/model"
	"github.com/hexlite/hexlited/internal/solver"
)

// InUseFunc reports whether a workspace directory, given by its name, belongs
// to a running job.
type InUseFunc func(name string) bool

type Sweeper struct {
	dir       string
	maxAge    time.Duration
	inUse     InUseFunc
	scheduler gocron.Scheduler
}

// New schedules sweeping of dir according to cfg. Workspaces for which inUse
// returns true are never removed, inUse may be nil. The scheduler starts with
// Start.
func New(ctx context.Context, dir string, cfg model.Sweep, inUse InUseFunc) (*Sweeper, error) {
	maxAge, err := model.ParseDuration(cfg.MaxAge)
	if err != nil {
		return nil, fmt.Errorf("parsing sweep.max_age: %w", err)
	}

	var job gocron.JobDefinition
	switch {
	case cfg.Cron != "":
		sched, err := ParseCron(cfg.Cron)
		if err != nil {
			return nil, fmt.Errorf("parsing sweep.cron: %w", err)
		}
		job = gocron.CronJob(cfg.Cron, false)
		slog.DebugContext(ctx, "successfully parsed", "cron", cfg.Cron, "next", sched.Next(time.Now()))
	case cfg.Duration != "":
		d, err := model.ParseDuration(cfg.Duration)
		if err != nil {
			return nil, fmt.Errorf("parsing sweep.duration: %w", err)
		}
		if d <= 0 {
			return nil, errors.New("sweep.duration must be positive")
		}
		slog.DebugContext(ctx, "successfully parsed", "duration", d.String())
		job = gocron.DurationJob(d)
	default:
		return nil, errors.New("both cron and duration are empty")
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}

	sweeper := &Sweeper{
		dir:       dir,
		maxAge:    maxAge,
		inUse:     inUse,
		scheduler: s,
	}
	_, err = s.NewJob(
		job,
		gocron.NewTask(func() {
			_, _ = Sweep(ctx, sweeper.dir, sweeper.maxAge, time.Now(), sweeper.inUse)
		}),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return sweeper, nil
}

func (s *Sweeper) Start() {
	s.scheduler.Start()
}

func (s *Sweeper) Shutdown() error {
	return s.scheduler.Shutdown()
}

// Sweep removes workspace directories in dir last modified before now-maxAge.
// Entries which are not workspaces or are in use are never touched.
func Sweep(ctx context.Context, dir string, maxAge time.Duration, now time.Time, inUse InUseFunc) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.ErrorContext(ctx, "sweep: reading workspace dir", "dir", dir, "error", err)
		return nil, err
	}

	deadline := now.Add(-maxAge)
	var removed []string
	var errs []error
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), solver.WorkspacePrefix) {
			continue
		}
		if inUse != nil && inUse(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(deadline) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, path)
	}
	if len(removed) > 0 {
		slog.InfoContext(ctx, "sweep: removed stale workspaces", "dir", dir, "removed", removed)
	}
	return removed, errors.Join(errs...)
}
