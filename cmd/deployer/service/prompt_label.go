package service

import (
	"context"
	"fmt"

	"github.com/lyzr/flowdeploy/cmd/deployer/models"
	"github.com/lyzr/flowdeploy/common/clients"
	"github.com/lyzr/flowdeploy/common/logger"
)

// PromptLabeler is the part of the prompt service API used for label sync
type PromptLabeler interface {
	ListPrompts(ctx context.Context, filter clients.PromptFilter) ([]clients.PromptMeta, error)
	SetLabels(ctx context.Context, name string, version int, labels []string) error
}

// PromptLabelService aligns prompt labels between environments
type PromptLabelService struct {
	prompts PromptLabeler
	log     *logger.Logger
}

// NewPromptLabelService creates a prompt label sync service
func NewPromptLabelService(prompts PromptLabeler, log *logger.Logger) *PromptLabelService {
	return &PromptLabelService{prompts: prompts, log: log}
}

// PromptLabelSyncRequest names the labels to align
type PromptLabelSyncRequest struct {
	Source string `json:"source"`
	Dest   string `json:"dest"`
	DryRun bool   `json:"dry_run"`
}

// Sync gives the newest version of every prompt labelled Source, and not yet
// labelled Dest, the Dest label. A dry run only lists the prompts.
func (s *PromptLabelService) Sync(ctx context.Context, req PromptLabelSyncRequest) ([]models.PromptLabelUpdate, error) {
	if req.Source == "" || req.Dest == "" || req.Source == req.Dest {
		return nil, fmt.Errorf("%w: cannot sync label %q to %q", ErrInvalidTarget, req.Source, req.Dest)
	}

	items, err := s.prompts.ListPrompts(ctx, clients.PromptFilter{Label: req.Source})
	if err != nil {
		return nil, opError("sync prompt labels", "", "", "", err)
	}

	updates := []models.PromptLabelUpdate{}
	for _, item := range items {
		if item.HasLabel(req.Dest) || len(item.Versions) == 0 {
			continue
		}

		u := models.PromptLabelUpdate{
			Name:    item.Name,
			Version: item.Versions[0],
			Labels:  []string{req.Dest},
		}
		if !req.DryRun {
			if err := s.prompts.SetLabels(ctx, u.Name, u.Version, u.Labels); err != nil {
				s.log.Error("prompt label update failed", "prompt", u.Name, "version", u.Version, "error", err)
				return updates, opError("sync prompt labels", "", u.Name, "", err)
			}
			u.Applied = true
		}
		updates = append(updates, u)
	}

	s.log.Info("prompt labels synced", "source", req.Source, "dest", req.Dest, "prompts", len(updates), "dry_run", req.DryRun)
	return updates, nil
}
