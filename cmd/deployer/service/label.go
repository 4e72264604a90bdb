package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lyzr/flowdeploy/cmd/deployer/models"
	"github.com/lyzr/flowdeploy/cmd/deployer/repository"
	"github.com/lyzr/flowdeploy/common/environment"
	"github.com/lyzr/flowdeploy/common/flowgraph"
	"github.com/lyzr/flowdeploy/common/logger"
	"github.com/lyzr/flowdeploy/common/nodematch"
)

// LabelService points prompt-reference nodes of published flows at one label
type LabelService struct {
	matcher *nodematch.Matcher
	suffix  string
	log     *logger.Logger
}

// NewLabelService creates a label flusher over flows in folders ending with suffix
func NewLabelService(matcher *nodematch.Matcher, suffix string, log *logger.Logger) *LabelService {
	if suffix == "" {
		suffix = "*"
	}
	return &LabelService{matcher: matcher, suffix: suffix, log: log}
}

// Scan finds prompt-reference nodes whose label is not label and returns
// the rewritten graphs keyed by flow id
func (s *LabelService) Scan(ctx context.Context, sess *Session, env environment.Environment, label string) (*models.LabelScan, error) {
	if label == "" {
		return nil, fmt.Errorf("%w: label is required", ErrInvalidTarget)
	}

	live, err := sess.Live(ctx, env)
	if err != nil {
		return nil, err
	}
	userID, err := sess.UserID(ctx, env)
	if err != nil {
		return nil, err
	}

	flows, err := live.Published(ctx, userID, s.suffix)
	if err != nil {
		return nil, opError("scan labels", env.String(), "", "", err)
	}

	scan := &models.LabelScan{
		Label:    label,
		Changes:  []models.LabelChange{},
		Warnings: []string{},
		Updates:  map[string]json.RawMessage{},
	}

	for _, flow := range flows {
		g, err := flowgraph.Parse(flow.Data)
		if err != nil {
			scan.Warnings = append(scan.Warnings, fmt.Sprintf("flow %s: %v", flow.Name, err))
			continue
		}

		changed := false
		for _, node := range g.Nodes() {
			if !s.matcher.Is(nodematch.PromptRef, node) {
				continue
			}
			id := flowgraph.NodeID(node)
			template := flowgraph.Template(node)
			field, ok := flowgraph.Field(template, "label")
			if !ok {
				scan.Warnings = append(scan.Warnings, fmt.Sprintf("flow %s (%s): prompt node %s has no label field", flow.Name, flow.ID, id))
				continue
			}

			current := flowgraph.StringValue(field)
			if current == label {
				continue
			}
			scan.Changes = append(scan.Changes, models.LabelChange{
				FlowID:     flow.ID,
				FlowName:   flow.Name,
				Folder:     flow.Folder,
				NodeID:     id,
				PromptName: promptName(template),
				OldLabel:   current,
				NewLabel:   label,
			})
			field["value"] = label
			changed = true
		}

		if !changed {
			continue
		}
		data, err := g.Encode()
		if err != nil {
			return nil, opError("scan labels", env.String(), flow.Name, "", err)
		}
		scan.Updates[flow.ID] = data
	}

	s.log.Info("label scan finished", "env", env, "label", label, "flows", len(scan.Updates), "nodes", len(scan.Changes))
	return scan, nil
}

// Apply writes graphs produced by Scan, keyed by flow id, in one transaction
func (s *LabelService) Apply(ctx context.Context, sess *Session, env environment.Environment, updates map[string]json.RawMessage) ([]string, error) {
	if len(updates) == 0 {
		return []string{}, nil
	}
	live, err := sess.Live(ctx, env)
	if err != nil {
		return nil, err
	}

	ids := sortedNames(updates)
	err = live.InTx(ctx, func(tx repository.FlowStore) error {
		for _, id := range ids {
			if err := tx.UpdateDataByID(ctx, id, updates[id]); err != nil {
				return opError("apply labels", env.String(), id, "", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("labels applied", "env", env, "flows", len(ids))
	return ids, nil
}

// promptName is the prompt a node loads; empty when it comes from an upstream node
func promptName(template map[string]any) string {
	for _, key := range []string{"self_prompt_name", "prompt_name"} {
		if f, ok := flowgraph.Field(template, key); ok {
			if v := flowgraph.StringValue(f); v != "" {
				return v
			}
		}
	}
	return ""
}
