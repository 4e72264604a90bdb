package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/lyzr/flowdeploy/cmd/deployer/models"
	"github.com/lyzr/flowdeploy/cmd/deployer/repository"
	"github.com/lyzr/flowdeploy/common/diff"
	"github.com/lyzr/flowdeploy/common/environment"
	"github.com/lyzr/flowdeploy/common/logger"
)

// PromptLabelSource reports which prompt version currently carries a label
type PromptLabelSource interface {
	LabelVersions(ctx context.Context, label string) (map[string]int, error)
}

// PromptBackupService records prompt label changes for each promotion
type PromptBackupService struct {
	history *repository.HistoryRepository
	source  PromptLabelSource
	log     *logger.Logger
}

// NewPromptBackupService creates a prompt backup service
func NewPromptBackupService(history *repository.HistoryRepository, source PromptLabelSource, log *logger.Logger) *PromptBackupService {
	return &PromptBackupService{history: history, source: source, log: log}
}

// Backup diffs the environment's current label map against the baseline
// recorded at or before last and stores the result under next. The current
// map is stored as the baseline of the following promotion.
func (s *PromptBackupService) Backup(ctx context.Context, env environment.Environment, last, next models.Version) (*models.PromptChanges, error) {
	current, err := s.source.LabelVersions(ctx, env.PromptLabel())
	if err != nil {
		return nil, opError("backup prompts", env.String(), "", next.String(), err)
	}

	label := env.String()
	changes := &models.PromptChanges{Added: []string{}, Removed: []string{}, Changed: []string{}}

	err = s.history.InTx(ctx, func(tx *repository.HistoryRepository) error {
		if n, err := tx.DeletePromptsFrom(ctx, label, next); err != nil {
			return err
		} else if n > 0 {
			s.log.Warn("cleared stale prompt records", "env", label, "version", next.String(), "count", n)
		}

		baseline, _, found, err := tx.PromptBaseline(ctx, label, last)
		if err != nil {
			return err
		}

		record := func(name string, version int, op models.PromptOperation) error {
			return tx.InsertPrompt(ctx, &models.PromptHistory{
				History:   next,
				Name:      name,
				Version:   version,
				Label:     label,
				Operation: op,
			})
		}

		if !found {
			changes.Baseline = true
			if err := record("", 0, models.PromptSame); err != nil {
				return err
			}
		} else {
			d := diff.Versions(baseline, current)
			for _, name := range d.Removed {
				if err := record(name, baseline[name], models.PromptRemove); err != nil {
					return err
				}
			}
			for _, name := range d.Added {
				if err := record(name, current[name], models.PromptAdd); err != nil {
					return err
				}
			}
			for _, name := range d.ChangedKeys() {
				if err := record(name, d.Changed[name], models.PromptChange); err != nil {
					return err
				}
			}
			if d.Empty() {
				if err := record("", 0, models.PromptSame); err != nil {
					return err
				}
			}
			changes.Added, changes.Removed, changes.Changed = d.Added, d.Removed, d.ChangedKeys()
		}

		names := make([]string, 0, len(current))
		for name := range current {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := record(name, current[name], models.PromptInit); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, opError("backup prompts", label, "", next.String(), fmt.Errorf("history store: %w", err))
	}

	s.log.Info("backed up prompt labels",
		"env", label,
		"version", next.String(),
		"baseline", changes.Baseline,
		"added", len(changes.Added),
		"removed", len(changes.Removed),
		"changed", len(changes.Changed),
	)
	return changes, nil
}
