package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/flowdeploy/cmd/deployer/models"
	"github.com/lyzr/flowdeploy/common/db"
)

// ordinal orders YYYYMMDD.N text numerically inside SQLite
func ordinal(col string) string {
	return fmt.Sprintf("(CAST(substr(%[1]s, 1, 8) AS INTEGER) * 1000000 + CAST(substr(%[1]s, 10) AS INTEGER))", col)
}

var flowHistoryColumns = append(
	[]string{"id"},
	append(append([]string{}, models.FlowColumns[1:]...),
		"version", "environment", "created_at", "is_exist", "old_id")...,
)

// HistoryRepository reads and writes the flow_history and fuse_history tables
type HistoryRepository struct {
	q     db.Querier
	store db.Store
	now   func() time.Time
}

// NewHistoryRepository creates a history repository over the SQLite store
func NewHistoryRepository(store db.Store) *HistoryRepository {
	return &HistoryRepository{q: store, store: store, now: time.Now}
}

// InTx runs fn with a repository bound to one history transaction
func (r *HistoryRepository) InTx(ctx context.Context, fn func(*HistoryRepository) error) error {
	if r.store == nil {
		return fmt.Errorf("history repository is already inside a transaction")
	}
	return db.InTx(ctx, r.store, func(tx db.Tx) error {
		return fn(&HistoryRepository{q: tx, now: r.now})
	})
}

// LatestVersion returns the highest version recorded for (env, user)
func (r *HistoryRepository) LatestVersion(ctx context.Context, env, userID string) (models.Version, bool, error) {
	query := fmt.Sprintf(`
		SELECT version FROM flow_history
		WHERE environment = ? AND user_id = ?
		ORDER BY %s DESC
		LIMIT 1`, ordinal("version"))

	rows, err := r.q.Query(ctx, query, env, userID)
	if err != nil {
		return models.Version{}, false, fmt.Errorf("failed to get latest version: %w", err)
	}
	if len(rows) == 0 {
		return models.Version{}, false, nil
	}

	v, err := models.ParseVersion(rows[0].String("version"))
	if err != nil {
		return models.Version{}, false, err
	}
	return v, true, nil
}

// HasVersion reports whether v was recorded for (env, user)
func (r *HistoryRepository) HasVersion(ctx context.Context, env, userID string, v models.Version) (bool, error) {
	rows, err := r.q.Query(ctx,
		`SELECT 1 AS found FROM flow_history WHERE environment = ? AND user_id = ? AND version = ? LIMIT 1`,
		env, userID, v.String(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to look up version %s: %w", v, err)
	}
	return len(rows) > 0, nil
}

// InsertSentinel records the bootstrap version for (env, user)
func (r *HistoryRepository) InsertSentinel(ctx context.Context, env, userID string) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO flow_history (id, name, user_id, version, environment, created_at, is_exist, old_id)
		 VALUES (?, '', ?, ?, ?, ?, 1, '')`,
		uuid.New().String(), userID, models.Sentinel.String(), env, formatTime(r.now()),
	)
	if err != nil {
		return fmt.Errorf("failed to record bootstrap version: %w", err)
	}
	return nil
}

// InsertFlow records a flow snapshot; HistoryID and CreatedAt are filled when empty
func (r *HistoryRepository) InsertFlow(ctx context.Context, h *models.FlowHistory) error {
	if h.HistoryID == "" {
		h.HistoryID = uuid.New().String()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = r.now()
	}

	args := make([]any, 0, len(flowHistoryColumns))
	args = append(args, h.HistoryID)
	for _, col := range models.FlowColumns[1:] {
		v := h.Flow.Value(col)
		if t, ok := v.(time.Time); ok {
			v = formatTime(t)
		}
		args = append(args, v)
	}
	args = append(args, h.Version.String(), h.Environment, formatTime(h.CreatedAt), h.IsExist, h.OldID)

	query := fmt.Sprintf("INSERT INTO flow_history (%s) VALUES (%s)",
		strings.Join(flowHistoryColumns, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(flowHistoryColumns)), ", "),
	)
	if _, err := r.q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record snapshot of %s: %w", h.Name, err)
	}
	return nil
}

// DeleteFlow removes one snapshot by history id
func (r *HistoryRepository) DeleteFlow(ctx context.Context, historyID string) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM flow_history WHERE id = ?`, historyID); err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", historyID, err)
	}
	return nil
}

// FlowsBetween returns snapshots with after < version <= upTo, newest first.
// The bootstrap row is excluded.
func (r *HistoryRepository) FlowsBetween(ctx context.Context, env, userID string, after, upTo models.Version) ([]models.FlowHistory, error) {
	query := fmt.Sprintf(`
		SELECT * FROM flow_history
		WHERE environment = ? AND user_id = ? AND name != ''
		  AND %[1]s > ? AND %[1]s <= ?
		ORDER BY %[1]s DESC, created_at DESC`, ordinal("version"))

	rows, err := r.q.Query(ctx, query, env, userID, after.Ordinal(), upTo.Ordinal())
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	out := make([]models.FlowHistory, 0, len(rows))
	for _, row := range rows {
		h, err := flowHistoryFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// InsertPrompt records one prompt label change
func (r *HistoryRepository) InsertPrompt(ctx context.Context, p *models.PromptHistory) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.now()
	}

	var name, version any
	if p.Name != "" {
		name, version = p.Name, p.Version
	}

	_, err := r.q.Exec(ctx,
		`INSERT INTO fuse_history (id, history, name, version, label, operation, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.History.String(), name, version, p.Label, string(p.Operation), formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record prompt change %s: %w", p.Name, err)
	}
	return nil
}

// DeletePromptsFrom removes a label's records with history >= from
func (r *HistoryRepository) DeletePromptsFrom(ctx context.Context, label string, from models.Version) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM fuse_history WHERE label = ? AND %s >= ?`, ordinal("history"))
	n, err := r.q.Exec(ctx, query, label, from.Ordinal())
	if err != nil {
		return 0, fmt.Errorf("failed to clear stale prompt records: %w", err)
	}
	return n, nil
}

// PromptBaseline returns the init snapshot of the newest bracket recorded for
// a label at or before upTo. A bracket without init rows is the empty map.
func (r *HistoryRepository) PromptBaseline(ctx context.Context, label string, upTo models.Version) (map[string]int, models.Version, bool, error) {
	query := fmt.Sprintf(`
		SELECT history FROM fuse_history
		WHERE label = ? AND %[1]s <= ?
		ORDER BY %[1]s DESC
		LIMIT 1`, ordinal("history"))

	rows, err := r.q.Query(ctx, query, label, upTo.Ordinal())
	if err != nil {
		return nil, models.Version{}, false, fmt.Errorf("failed to find prompt baseline: %w", err)
	}
	if len(rows) == 0 {
		return nil, models.Version{}, false, nil
	}

	at, err := models.ParseVersion(rows[0].String("history"))
	if err != nil {
		return nil, models.Version{}, false, err
	}

	rows, err = r.q.Query(ctx,
		`SELECT name, version FROM fuse_history WHERE label = ? AND operation = ? AND history = ? AND name IS NOT NULL`,
		label, string(models.PromptInit), at.String(),
	)
	if err != nil {
		return nil, models.Version{}, false, fmt.Errorf("failed to load prompt baseline: %w", err)
	}

	baseline := make(map[string]int, len(rows))
	for _, row := range rows {
		baseline[row.String("name")] = int(row.Int64("version"))
	}
	return baseline, at, true, nil
}

// PromptsBetween returns a label's records with after < history <= upTo, newest first
func (r *HistoryRepository) PromptsBetween(ctx context.Context, label string, after, upTo models.Version) ([]models.PromptHistory, error) {
	query := fmt.Sprintf(`
		SELECT * FROM fuse_history
		WHERE label = ? AND %[1]s > ? AND %[1]s <= ?
		ORDER BY %[1]s DESC, created_at DESC`, ordinal("history"))

	rows, err := r.q.Query(ctx, query, label, after.Ordinal(), upTo.Ordinal())
	if err != nil {
		return nil, fmt.Errorf("failed to list prompt changes: %w", err)
	}

	out := make([]models.PromptHistory, 0, len(rows))
	for _, row := range rows {
		history, err := models.ParseVersion(row.String("history"))
		if err != nil {
			return nil, err
		}
		out = append(out, models.PromptHistory{
			ID:        row.String("id"),
			History:   history,
			Name:      row.String("name"),
			Version:   int(row.Int64("version")),
			Label:     row.String("label"),
			Operation: models.PromptOperation(row.String("operation")),
			CreatedAt: row.Time("created_at"),
		})
	}
	return out, nil
}

// Versions lists the newest limit versions of (env, user) with the flows and
// prompt changes each one recorded
func (r *HistoryRepository) Versions(ctx context.Context, env, userID string, limit int) ([]models.VersionSummary, error) {
	query := fmt.Sprintf(`
		SELECT version,
		       group_concat(CASE WHEN name != '' THEN name END, '|') AS flows,
		       min(created_at) AS created_at
		FROM flow_history
		WHERE environment = ? AND user_id = ?
		GROUP BY version
		ORDER BY %s DESC
		LIMIT ?`, ordinal("version"))

	rows, err := r.q.Query(ctx, query, env, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}

	promptRows, err := r.q.Query(ctx,
		`SELECT history, group_concat(name, '|') AS prompts
		 FROM fuse_history
		 WHERE label = ? AND operation NOT IN (?, ?)
		 GROUP BY history`,
		env, string(models.PromptInit), string(models.PromptSame),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompt versions: %w", err)
	}
	prompts := make(map[string][]string, len(promptRows))
	for _, row := range promptRows {
		prompts[row.String("history")] = splitList(row.String("prompts"))
	}

	out := make([]models.VersionSummary, 0, len(rows))
	for _, row := range rows {
		v, err := models.ParseVersion(row.String("version"))
		if err != nil {
			return nil, err
		}
		out = append(out, models.VersionSummary{
			Version:   v,
			Flows:     splitList(row.String("flows")),
			Prompts:   prompts[v.String()],
			CreatedAt: row.Time("created_at"),
		})
	}
	return out, nil
}

// Prune deletes every record of the scope newer than after, in one transaction
func (r *HistoryRepository) Prune(ctx context.Context, env, userID string, after models.Version) (flows, prompts int64, err error) {
	err = r.InTx(ctx, func(tx *HistoryRepository) error {
		flows, err = tx.q.Exec(ctx,
			fmt.Sprintf(`DELETE FROM flow_history WHERE environment = ? AND user_id = ? AND %s > ?`, ordinal("version")),
			env, userID, after.Ordinal(),
		)
		if err != nil {
			return fmt.Errorf("failed to prune flow history: %w", err)
		}

		prompts, err = tx.q.Exec(ctx,
			fmt.Sprintf(`DELETE FROM fuse_history WHERE label = ? AND %s > ?`, ordinal("history")),
			env, after.Ordinal(),
		)
		if err != nil {
			return fmt.Errorf("failed to prune prompt history: %w", err)
		}
		return nil
	})
	return flows, prompts, err
}

func flowHistoryFromRow(row db.Row) (models.FlowHistory, error) {
	v, err := models.ParseVersion(row.String("version"))
	if err != nil {
		return models.FlowHistory{}, err
	}

	flow := FlowFromRow(row)
	flow.ID = row.String("old_id")

	return models.FlowHistory{
		HistoryID:   row.String("id"),
		Flow:        flow,
		Version:     v,
		Environment: row.String("environment"),
		CreatedAt:   row.Time("created_at"),
		IsExist:     row.Bool("is_exist"),
		OldID:       row.String("old_id"),
	}, nil
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func splitList(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, "|")
}
