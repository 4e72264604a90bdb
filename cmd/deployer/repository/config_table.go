package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/lyzr/flowdeploy/cmd/deployer/models"
	"github.com/lyzr/flowdeploy/common/db"
)

// ConfigTableRepository handles the langflow_config table of one environment
type ConfigTableRepository struct {
	q     db.Querier
	store db.Store
}

// NewConfigTableRepository creates a config table repository
func NewConfigTableRepository(store db.Store) *ConfigTableRepository {
	return &ConfigTableRepository{q: store, store: store}
}

// InTx runs fn with a repository bound to one transaction
func (r *ConfigTableRepository) InTx(ctx context.Context, fn func(*ConfigTableRepository) error) error {
	if r.store == nil {
		return fmt.Errorf("config repository is already inside a transaction")
	}
	return db.InTx(ctx, r.store, func(tx db.Tx) error {
		return fn(&ConfigTableRepository{q: tx})
	})
}

// List returns every row ordered by name
func (r *ConfigTableRepository) List(ctx context.Context) ([]models.ConfigRow, error) {
	rows, err := r.q.Query(ctx, "SELECT `id`, `flow_id`, `name`, `desc` FROM langflow_config ORDER BY `name`")
	if err != nil {
		return nil, fmt.Errorf("failed to list langflow_config: %w", err)
	}

	out := make([]models.ConfigRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.ConfigRow{
			ID:     row.Int64("id"),
			FlowID: row.String("flow_id"),
			Name:   row.String("name"),
			Desc:   row.String("desc"),
		})
	}
	return out, nil
}

// Insert adds a row
func (r *ConfigTableRepository) Insert(ctx context.Context, row models.ConfigRow, now time.Time) error {
	_, err := r.q.Exec(ctx,
		"INSERT INTO langflow_config (`flow_id`, `name`, `desc`, `updated_at`) VALUES (?, ?, ?, ?)",
		row.FlowID, row.Name, row.Desc, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert langflow_config %s: %w", row.Name, err)
	}
	return nil
}

// Delete removes a row by id
func (r *ConfigTableRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.q.Exec(ctx, "DELETE FROM langflow_config WHERE `id` = ?", id); err != nil {
		return fmt.Errorf("failed to delete langflow_config %d: %w", id, err)
	}
	return nil
}

// Update rewrites flow_id and desc of a row
func (r *ConfigTableRepository) Update(ctx context.Context, row models.ConfigRow, now time.Time) error {
	_, err := r.q.Exec(ctx,
		"UPDATE langflow_config SET `flow_id` = ?, `desc` = ?, `updated_at` = ? WHERE `id` = ?",
		row.FlowID, row.Desc, now, row.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update langflow_config %s: %w", row.Name, err)
	}
	return nil
}
