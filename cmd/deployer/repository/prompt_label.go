package repository

import (
	"context"
	"fmt"

	"github.com/lyzr/flowdeploy/common/db"
)

// PromptLabelRepository reads label assignments straight from the prompt
// service's Postgres database
type PromptLabelRepository struct {
	q         db.Querier
	projectID string
}

// NewPromptLabelRepository creates a prompt label repository for one project
func NewPromptLabelRepository(q db.Querier, projectID string) *PromptLabelRepository {
	return &PromptLabelRepository{q: q, projectID: projectID}
}

// LabelVersions maps each prompt name carrying label to the labelled version
func (r *PromptLabelRepository) LabelVersions(ctx context.Context, label string) (map[string]int, error) {
	query := `
		SELECT p.name AS name, p.version AS version
		FROM prompts p, unnest(p.labels) AS label
		WHERE p.project_id = $1 AND label = $2
		ORDER BY p.name
	`

	rows, err := r.q.Query(ctx, query, r.projectID, label)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt labels: %w", err)
	}

	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.String("name")] = int(row.Int64("version"))
	}
	return out, nil
}
