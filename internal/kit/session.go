package kit

import (
	"context"
	"fmt"

	"github.com/phrazzld/kit/internal/metrics"
	"github.com/phrazzld/kit/internal/platform/logger"
)

// Origin names what a session was used by.
type Origin string

// Session origins.
const (
	OriginWeb   Origin = "web"
	OriginTasks Origin = "tasks"
	OriginShell Origin = "shell"
)

func (k *Kit) autocommit(origin Origin) bool {
	switch origin {
	case OriginWeb:
		return k.cfg.Web.Autocommit
	case OriginTasks:
		return k.cfg.Tasks.Autocommit
	}
	return false
}

// RemoveSession ends the session of ctx's scope. When the origin's
// autocommit is on, the session is committed first; a failed commit is
// rolled back and logged, and returned in debug mode only. The session is
// removed in every case.
func (k *Kit) RemoveSession(ctx context.Context, origin Origin) error {
	if !k.engineReady.Load() {
		return nil
	}
	s, ok := k.sessions.Lookup(ctx)
	if !ok {
		return nil
	}
	log := logger.FromContextOrDefault(ctx, k.logger)

	outcome := "removed"
	var commitErr error
	if k.autocommit(origin) {
		outcome = "committed"
		if commitErr = s.Commit(); commitErr != nil {
			outcome = "rolled_back"
			if err := s.Rollback(); err != nil {
				log.Warn("failed to roll back session", "error", err)
			}
			log.Error("error while committing session", "origin", string(origin), "error", commitErr)
		}
	}
	if err := k.sessions.Remove(ctx); err != nil {
		log.Warn("failed to close session", "origin", string(origin), "error", err)
	}
	metrics.SessionsRemovedTotal.WithLabelValues(string(origin), outcome).Inc()

	if commitErr != nil && k.cfg.Debug {
		return fmt.Errorf("failed to commit session: %w", commitErr)
	}
	return nil
}
