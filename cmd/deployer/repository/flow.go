package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lyzr/flowdeploy/cmd/deployer/models"
	"github.com/lyzr/flowdeploy/common/db"
)

const flowSelect = `
	SELECT id::text AS id, name, description, data::text AS data, user_id::text AS user_id,
	       is_component, updated_at, icon, icon_bg_color, folder_id::text AS folder_id,
	       endpoint_name, webhook, gradient, tags::text AS tags, locked, fs_path,
	       access_type::text AS access_type, mcp_enabled, action_name, action_description
	FROM flow
`

// FlowRepository handles flow, folder and user queries against one
// environment's flow service database
type FlowRepository struct {
	q    db.Querier
	inTx bool
}

// NewFlowRepository creates a flow repository over q
func NewFlowRepository(q db.Querier) *FlowRepository {
	return &FlowRepository{q: q}
}

// UserID resolves a login name to the user's id
func (r *FlowRepository) UserID(ctx context.Context, username string) (string, error) {
	rows, err := r.q.Query(ctx, `SELECT id::text AS id FROM "user" WHERE username = $1`, username)
	if err != nil {
		return "", fmt.Errorf("failed to get user %s: %w", username, err)
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	return rows[0].String("id"), nil
}

// Folders lists every folder owned by userID
func (r *FlowRepository) Folders(ctx context.Context, userID string) ([]models.Folder, error) {
	rows, err := r.q.Query(ctx, `SELECT id::text AS id, name FROM folder WHERE user_id = $1 ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	folders := make([]models.Folder, 0, len(rows))
	for _, row := range rows {
		folders = append(folders, models.Folder{ID: row.String("id"), Name: row.String("name")})
	}
	return folders, nil
}

// GetByName returns the user's flow called name
func (r *FlowRepository) GetByName(ctx context.Context, userID, name string) (*models.Flow, error) {
	rows, err := r.q.Query(ctx, flowSelect+` WHERE name = $1 AND user_id = $2`, name, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get flow %s: %w", name, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("flow %s: %w", name, ErrNotFound)
	}
	if len(rows) > 1 {
		return nil, fmt.Errorf("flow %s: %d rows share the name", name, len(rows))
	}

	f := FlowFromRow(rows[0])
	return &f, nil
}

// Insert writes a complete flow row. Inside a transaction the insert runs
// under a savepoint so a constraint failure leaves the transaction usable.
func (r *FlowRepository) Insert(ctx context.Context, f *models.Flow) error {
	placeholders := make([]string, len(models.FlowColumns))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO flow (%s) VALUES (%s)",
		strings.Join(models.FlowColumns, ", "),
		strings.Join(placeholders, ", "),
	)

	if r.inTx {
		if _, err := r.q.Exec(ctx, "SAVEPOINT flow_insert"); err != nil {
			return fmt.Errorf("failed to open savepoint: %w", err)
		}
	}

	_, err := r.q.Exec(ctx, query, f.Values(models.FlowColumns)...)
	if err != nil {
		if r.inTx {
			if _, rbErr := r.q.Exec(ctx, "ROLLBACK TO SAVEPOINT flow_insert"); rbErr != nil {
				return fmt.Errorf("failed to insert flow %s: %w (savepoint rollback: %v)", f.Name, err, rbErr)
			}
		}
		return fmt.Errorf("failed to insert flow %s: %w", f.Name, err)
	}

	if r.inTx {
		if _, err := r.q.Exec(ctx, "RELEASE SAVEPOINT flow_insert"); err != nil {
			return fmt.Errorf("failed to release savepoint: %w", err)
		}
	}
	return nil
}

// Move re-keys a flow and parks it in folderID under name, clearing its endpoint
func (r *FlowRepository) Move(ctx context.Context, id, newID, name, folderID string) error {
	n, err := r.q.Exec(ctx,
		`UPDATE flow SET id = $1, name = $2, folder_id = $3, endpoint_name = NULL WHERE id = $4`,
		newID, name, folderID, id,
	)
	if err != nil {
		return fmt.Errorf("failed to move flow %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("move flow %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateColumns sets the listed columns of the user's flow called name
func (r *FlowRepository) UpdateColumns(ctx context.Context, userID, name string, cols []string, values []any) error {
	if len(cols) == 0 {
		return nil
	}
	if len(cols) != len(values) {
		return fmt.Errorf("update flow %s: %d columns but %d values", name, len(cols), len(values))
	}

	known := make(map[string]bool, len(models.FlowColumns))
	for _, c := range models.FlowColumns {
		known[c] = true
	}

	sets := make([]string, len(cols))
	for i, c := range cols {
		if !known[c] {
			return fmt.Errorf("update flow %s: unknown column %q", name, c)
		}
		sets[i] = fmt.Sprintf("%s = $%d", c, i+1)
	}

	args := append(append([]any{}, values...), name, userID)
	query := fmt.Sprintf("UPDATE flow SET %s WHERE name = $%d AND user_id = $%d",
		strings.Join(sets, ", "), len(cols)+1, len(cols)+2)

	n, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update flow %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("update flow %s: %w", name, ErrNotFound)
	}
	return nil
}

// DeleteByName removes the user's flow called name
func (r *FlowRepository) DeleteByName(ctx context.Context, userID, name string) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM flow WHERE name = $1 AND user_id = $2`, name, userID); err != nil {
		return fmt.Errorf("failed to delete flow %s: %w", name, err)
	}
	return nil
}

// UpdateData replaces the graph of the user's flow called name
func (r *FlowRepository) UpdateData(ctx context.Context, userID, name string, data json.RawMessage) error {
	n, err := r.q.Exec(ctx, `UPDATE flow SET data = $1 WHERE name = $2 AND user_id = $3`, string(data), name, userID)
	if err != nil {
		return fmt.Errorf("failed to update flow data %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("update flow data %s: %w", name, ErrNotFound)
	}
	return nil
}

// UpdateDataByID replaces the graph of the flow with id
func (r *FlowRepository) UpdateDataByID(ctx context.Context, id string, data json.RawMessage) error {
	n, err := r.q.Exec(ctx, `UPDATE flow SET data = $1 WHERE id = $2`, string(data), id)
	if err != nil {
		return fmt.Errorf("failed to update flow data %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("update flow data %s: %w", id, ErrNotFound)
	}
	return nil
}

// Published lists non-component flows in folders ending with suffix
func (r *FlowRepository) Published(ctx context.Context, userID, suffix string) ([]PublishedFlow, error) {
	query := `
		SELECT flow.id::text AS id, flow.name AS name, folder.name AS folder, flow.data::text AS data
		FROM flow
		LEFT JOIN folder ON flow.user_id = folder.user_id AND flow.folder_id = folder.id
		WHERE flow.is_component = false
		  AND flow.user_id = $1
		  AND RIGHT(folder.name, length($2)) = $2
		ORDER BY flow.name
	`

	rows, err := r.q.Query(ctx, query, userID, suffix)
	if err != nil {
		return nil, fmt.Errorf("failed to list published flows: %w", err)
	}

	flows := make([]PublishedFlow, 0, len(rows))
	for _, row := range rows {
		flows = append(flows, PublishedFlow{
			ID:     row.String("id"),
			Name:   row.String("name"),
			Folder: row.String("folder"),
			Data:   row.JSON("data"),
		})
	}
	return flows, nil
}

// Candidates lists one page of published flows, newest first, and the total count
func (r *FlowRepository) Candidates(ctx context.Context, filter CandidateFilter) ([]models.Candidate, int64, error) {
	where := []string{
		"flow.is_component = false",
		"folder.user_id = $1",
		"RIGHT(folder.name, length($2)) = $2",
	}
	args := []any{filter.UserID, filter.Suffix}

	if filter.FolderID != "" {
		args = append(args, filter.FolderID)
		where = append(where, fmt.Sprintf("flow.folder_id::text = $%d", len(args)))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		where = append(where, fmt.Sprintf("flow.updated_at >= $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where = append(where, fmt.Sprintf("flow.name ILIKE $%d", len(args)))
	}

	from := `
		FROM flow
		LEFT JOIN folder ON flow.user_id = folder.user_id AND flow.folder_id = folder.id
		WHERE ` + strings.Join(where, " AND ")

	countRows, err := r.q.Query(ctx, "SELECT COUNT(*) AS total"+from, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count candidates: %w", err)
	}
	var total int64
	if len(countRows) > 0 {
		total = countRows[0].Int64("total")
	}

	pageArgs := append(append([]any{}, args...), filter.Limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT flow.name AS name, folder.name AS folder, flow.description AS description,
		       flow.updated_at AS updated_at, flow.endpoint_name AS endpoint_name
		%s
		ORDER BY flow.updated_at DESC
		LIMIT $%d OFFSET $%d`, from, len(args)+1, len(args)+2)

	rows, err := r.q.Query(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list candidates: %w", err)
	}

	items := make([]models.Candidate, 0, len(rows))
	for _, row := range rows {
		items = append(items, models.Candidate{
			Name:         row.String("name"),
			Folder:       row.String("folder"),
			Description:  row.String("description"),
			UpdatedAt:    row.NullTime("updated_at"),
			EndpointName: row.String("endpoint_name"),
		})
	}
	return items, total, nil
}

// FlowFromRow decodes a flow (or flow_history) row
func FlowFromRow(row db.Row) models.Flow {
	return models.Flow{
		ID:                row.String("id"),
		Name:              row.String("name"),
		Description:       row.NullString("description"),
		Data:              row.JSON("data"),
		UserID:            row.NullString("user_id"),
		IsComponent:       row.NullBool("is_component"),
		UpdatedAt:         row.NullTime("updated_at"),
		Icon:              row.NullString("icon"),
		IconBgColor:       row.NullString("icon_bg_color"),
		FolderID:          row.NullString("folder_id"),
		EndpointName:      row.NullString("endpoint_name"),
		Webhook:           row.NullBool("webhook"),
		Gradient:          row.NullString("gradient"),
		Tags:              row.JSON("tags"),
		Locked:            row.NullBool("locked"),
		FsPath:            row.NullString("fs_path"),
		AccessType:        row.NullString("access_type"),
		MCPEnabled:        row.NullBool("mcp_enabled"),
		ActionName:        row.NullString("action_name"),
		ActionDescription: row.NullString("action_description"),
	}
}

// PgLiveStore is the LiveStore of one environment's flow database
type PgLiveStore struct {
	*FlowRepository
	store db.Store
}

// NewLiveStore wraps a flow database store
func NewLiveStore(store db.Store) *PgLiveStore {
	return &PgLiveStore{
		FlowRepository: NewFlowRepository(store),
		store:          store,
	}
}

// InTx runs fn with a repository bound to one transaction
func (s *PgLiveStore) InTx(ctx context.Context, fn func(FlowStore) error) error {
	return db.InTx(ctx, s.store, func(tx db.Tx) error {
		return fn(&FlowRepository{q: tx, inTx: true})
	})
}
