package service

import (
	"context"
	"time"

	"github.com/lyzr/flowdeploy/cmd/deployer/models"
	"github.com/lyzr/flowdeploy/cmd/deployer/repository"
	"github.com/lyzr/flowdeploy/common/environment"
	"github.com/lyzr/flowdeploy/common/logger"
)

// VersionAllocator issues YYYYMMDD.N versions per (environment, user)
type VersionAllocator struct {
	history *repository.HistoryRepository
	now     func() time.Time
	log     *logger.Logger
}

// NewVersionAllocator creates an allocator; now defaults to time.Now
func NewVersionAllocator(history *repository.HistoryRepository, now func() time.Time, log *logger.Logger) *VersionAllocator {
	if now == nil {
		now = time.Now
	}
	return &VersionAllocator{history: history, now: now, log: log}
}

// Next returns the latest recorded version and the one to record next.
// An empty scope is seeded with the bootstrap sentinel.
func (a *VersionAllocator) Next(ctx context.Context, env environment.Environment, userID string) (last, next models.Version, err error) {
	today := a.now()

	last, ok, err := a.history.LatestVersion(ctx, env.String(), userID)
	if err != nil {
		return models.Version{}, models.Version{}, err
	}

	if !ok {
		if err := a.history.InsertSentinel(ctx, env.String(), userID); err != nil {
			return models.Version{}, models.Version{}, err
		}
		a.log.Info("seeded version history", "env", env, "user_id", userID, "version", models.Sentinel.String())
		return models.Sentinel, models.Sentinel.Next(today), nil
	}

	return last, last.Next(today), nil
}
