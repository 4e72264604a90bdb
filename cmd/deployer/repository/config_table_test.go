package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lyzr/flowdeploy/cmd/deployer/models"
	"github.com/lyzr/flowdeploy/common/db"
	"github.com/lyzr/flowdeploy/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigTableRepository(t *testing.T) {
	ctx := context.Background()
	store, err := db.OpenSQL(ctx, "sqlite3", "file:"+filepath.Join(t.TempDir(), "cfg.db"), logger.Discard())
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Exec(ctx, "CREATE TABLE langflow_config (`id` INTEGER PRIMARY KEY AUTOINCREMENT, `flow_id` TEXT, `name` TEXT, `desc` TEXT, `updated_at` TEXT)")
	require.NoError(t, err)

	repo := NewConfigTableRepository(store)
	now := time.Now()

	require.NoError(t, repo.InTx(ctx, func(tx *ConfigTableRepository) error {
		if err := tx.Insert(ctx, models.ConfigRow{FlowID: "f-b", Name: "b", Desc: "flow b"}, now); err != nil {
			return err
		}
		return tx.Insert(ctx, models.ConfigRow{FlowID: "f-a", Name: "a", Desc: "flow a"}, now)
	}))

	rows, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].Name)
	assert.Equal(t, "f-a", rows[0].FlowID)

	rows[0].Desc = "renamed"
	rows[0].FlowID = "f-a2"
	require.NoError(t, repo.Update(ctx, rows[0], now))
	require.NoError(t, repo.Delete(ctx, rows[1].ID))

	rows, err = repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.ConfigRow{ID: rows[0].ID, FlowID: "f-a2", Name: "a", Desc: "renamed"}, rows[0])
}
