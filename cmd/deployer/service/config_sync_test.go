package service

import (
	"context"
	"testing"
	"time"

	"github.com/lyzr/flowdeploy/cmd/deployer/models"
	"github.com/lyzr/flowdeploy/cmd/deployer/repository"
	"github.com/lyzr/flowdeploy/common/environment"
	"github.com/lyzr/flowdeploy/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configHarness(t *testing.T, srcRows, dstRows []models.ConfigRow) (*harness, *repository.ConfigTableRepository) {
	t.Helper()
	h := newHarness(t)
	dst := newConfigTable(t, dstRows...)
	h.envs.config = map[environment.Environment]*repository.ConfigTableRepository{
		environment.Dev:  newConfigTable(t, srcRows...),
		environment.Test: dst,
	}
	h.testFlow(&models.Flow{ID: "tf-a", Name: "flowA"})
	h.testFlow(&models.Flow{ID: "tf-b", Name: "flowB"})
	return h, dst
}

func TestConfigCompare(t *testing.T) {
	h, _ := configHarness(t,
		[]models.ConfigRow{
			{FlowID: "df-a", Name: "a", Desc: "flowA"},
			{FlowID: "df-b", Name: "b", Desc: "flowB"},
			{FlowID: "tf-same", Name: "same", Desc: "flowA"},
		},
		[]models.ConfigRow{
			{FlowID: "tf-old", Name: "b", Desc: "old"},
			{FlowID: "tf-c", Name: "c", Desc: "x"},
			{FlowID: "tf-same", Name: "same", Desc: "flowA"},
		},
	)
	svc := NewConfigSyncService(nil, logger.Discard())

	d, err := svc.Compare(context.Background(), h.session(), environment.Dev, environment.Test)
	require.NoError(t, err)
	require.Len(t, d.Add, 1)
	assert.Equal(t, "a", d.Add[0].Name)
	require.Len(t, d.Delete, 1)
	assert.Equal(t, "c", d.Delete[0].Name)
	require.Len(t, d.Update, 1)
	assert.Equal(t, "b", d.Update[0].Name)
	assert.Equal(t, "flowB", d.Update[0].Desc)
	assert.Equal(t, []string{"desc", "flow_id"}, d.Changed["b"])
	assert.NotContains(t, d.Changed, "same")
}

func TestConfigSyncAppliesDiff(t *testing.T) {
	ctx := context.Background()
	h, dst := configHarness(t,
		[]models.ConfigRow{
			{FlowID: "df-a", Name: "a", Desc: "flowA"},
			{FlowID: "df-b", Name: "b", Desc: "flowB"},
		},
		[]models.ConfigRow{
			{FlowID: "tf-old", Name: "b", Desc: "old"},
			{FlowID: "tf-c", Name: "c", Desc: "x"},
		},
	)
	svc := NewConfigSyncService(func() time.Time { return time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC) }, logger.Discard())

	d, err := svc.Sync(ctx, h.session(), environment.Dev, environment.Test)
	require.NoError(t, err)
	assert.Equal(t, "tf-a", d.Add[0].FlowID)

	rows, err := dst.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].Name)
	assert.Equal(t, "tf-a", rows[0].FlowID)
	assert.Equal(t, "b", rows[1].Name)
	assert.Equal(t, "tf-b", rows[1].FlowID)
	assert.Equal(t, "flowB", rows[1].Desc)
}

func TestConfigSyncRollsBackOnUnresolvedFlow(t *testing.T) {
	ctx := context.Background()
	h, dst := configHarness(t,
		[]models.ConfigRow{
			{FlowID: "df-a", Name: "a", Desc: "flowA"},
			{FlowID: "df-z", Name: "z", Desc: "missing"},
		},
		[]models.ConfigRow{
			{FlowID: "tf-c", Name: "c", Desc: "x"},
		},
	)
	svc := NewConfigSyncService(nil, logger.Discard())

	_, err := svc.Sync(ctx, h.session(), environment.Dev, environment.Test)
	require.ErrorIs(t, err, ErrMissingDependency)

	rows, err := dst.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "c", rows[0].Name)
}
