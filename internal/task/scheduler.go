package task

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Scheduler publishes every periodic task of an App at its interval, the
// first time one interval after Run starts. Run it in a single process.
type Scheduler struct {
	app    *App
	logger *slog.Logger
}

// NewScheduler returns a scheduler for the periodic tasks of app.
func NewScheduler(app *App) *Scheduler {
	return &Scheduler{app: app, logger: app.logger.With("component", "beat")}
}

// Run publishes until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	periodic := s.app.PeriodicTasks()
	s.logger.Info("beat started", "periodic_tasks", len(periodic))

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range periodic {
		g.Go(func() error {
			s.loop(ctx, p)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, p PeriodicTask) {
	ticker := time.NewTicker(p.Every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.app.Send(ctx, p.Name, p.Queue, nil)
			if err != nil {
				s.logger.Error("failed to publish periodic task", "task", p.Name, "error", err)
				continue
			}
			s.logger.Info("periodic task published", "task", p.Name, "task_id", res.ID)
		}
	}
}
