package service

import (
	"context"
	"errors"
	"testing"

	"github.com/lyzr/flowdeploy/cmd/deployer/models"
	"github.com/lyzr/flowdeploy/common/environment"
	"github.com/lyzr/flowdeploy/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func operations(records []models.PromptHistory) map[models.PromptOperation][]string {
	out := map[models.PromptOperation][]string{}
	for _, r := range records {
		out[r.Operation] = append(out[r.Operation], r.Name)
	}
	return out
}

func TestPromptBackupFirstRunWritesBaseline(t *testing.T) {
	ctx := context.Background()
	history := newHistory(t)
	labels := &fakeLabels{versions: map[string]map[string]int{"test": {"P": 3}}}
	svc := NewPromptBackupService(history, labels, logger.Discard())

	v1 := models.MustParseVersion("20250314.1")
	changes, err := svc.Backup(ctx, environment.Test, models.Sentinel, v1)
	require.NoError(t, err)
	assert.True(t, changes.Baseline)
	assert.Empty(t, changes.Added)

	records, err := history.PromptsBetween(ctx, "test", models.Sentinel, v1)
	require.NoError(t, err)
	ops := operations(records)
	assert.Len(t, ops[models.PromptSame], 1)
	assert.Equal(t, []string{"P"}, ops[models.PromptInit])
}

func TestPromptBackupRecordsChanges(t *testing.T) {
	ctx := context.Background()
	history := newHistory(t)
	labels := &fakeLabels{versions: map[string]map[string]int{"test": {"P": 3, "R": 1}}}
	svc := NewPromptBackupService(history, labels, logger.Discard())

	v1 := models.MustParseVersion("20250314.1")
	v2 := models.MustParseVersion("20250314.2")
	_, err := svc.Backup(ctx, environment.Test, models.Sentinel, v1)
	require.NoError(t, err)

	labels.versions["test"] = map[string]int{"P": 4, "Q": 1}
	changes, err := svc.Backup(ctx, environment.Test, v1, v2)
	require.NoError(t, err)
	assert.False(t, changes.Baseline)
	assert.Equal(t, []string{"Q"}, changes.Added)
	assert.Equal(t, []string{"R"}, changes.Removed)
	assert.Equal(t, []string{"P"}, changes.Changed)

	records, err := history.PromptsBetween(ctx, "test", v1, v2)
	require.NoError(t, err)

	byOp := map[models.PromptOperation]map[string]int{}
	for _, r := range records {
		if byOp[r.Operation] == nil {
			byOp[r.Operation] = map[string]int{}
		}
		byOp[r.Operation][r.Name] = r.Version
	}
	assert.Equal(t, map[string]int{"P": 3}, byOp[models.PromptChange])
	assert.Equal(t, map[string]int{"Q": 1}, byOp[models.PromptAdd])
	assert.Equal(t, map[string]int{"R": 1}, byOp[models.PromptRemove])
	assert.Equal(t, map[string]int{"P": 4, "Q": 1}, byOp[models.PromptInit])
	assert.NotContains(t, byOp, models.PromptSame)

	// repeating the backup for the same version replaces its records
	_, err = svc.Backup(ctx, environment.Test, v1, v2)
	require.NoError(t, err)
	again, err := history.PromptsBetween(ctx, "test", v1, v2)
	require.NoError(t, err)
	assert.Len(t, again, len(records))
}

func TestPromptBackupUnchangedWritesSame(t *testing.T) {
	ctx := context.Background()
	history := newHistory(t)
	labels := &fakeLabels{versions: map[string]map[string]int{"production": {"P": 2}}}
	svc := NewPromptBackupService(history, labels, logger.Discard())

	v1 := models.MustParseVersion("20250314.1")
	v2 := models.MustParseVersion("20250315.1")
	_, err := svc.Backup(ctx, environment.Production, models.Sentinel, v1)
	require.NoError(t, err)
	_, err = svc.Backup(ctx, environment.Production, v1, v2)
	require.NoError(t, err)

	records, err := history.PromptsBetween(ctx, "production", v1, v2)
	require.NoError(t, err)
	ops := operations(records)
	assert.Len(t, ops[models.PromptSame], 1)
	assert.Equal(t, []string{"P"}, ops[models.PromptInit])
}

func TestPromptBackupSourceFailure(t *testing.T) {
	history := newHistory(t)
	labels := &fakeLabels{err: errors.New("prompt db down")}
	svc := NewPromptBackupService(history, labels, logger.Discard())

	_, err := svc.Backup(context.Background(), environment.Test, models.Sentinel, models.MustParseVersion("20250314.1"))
	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "backup prompts", opErr.Op)
}

func TestPromptBackupEmptyBaselineRecordsLaterAdds(t *testing.T) {
	ctx := context.Background()
	history := newHistory(t)
	labels := &fakeLabels{versions: map[string]map[string]int{"test": {}}}
	svc := NewPromptBackupService(history, labels, logger.Discard())

	v1 := models.MustParseVersion("20250314.1")
	v2 := models.MustParseVersion("20250314.2")
	changes, err := svc.Backup(ctx, environment.Test, models.Sentinel, v1)
	require.NoError(t, err)
	assert.True(t, changes.Baseline)

	labels.versions["test"] = map[string]int{"P": 1}
	changes, err = svc.Backup(ctx, environment.Test, v1, v2)
	require.NoError(t, err)
	assert.False(t, changes.Baseline)
	assert.Equal(t, []string{"P"}, changes.Added)

	records, err := history.PromptsBetween(ctx, "test", v1, v2)
	require.NoError(t, err)
	ops := operations(records)
	assert.Equal(t, []string{"P"}, ops[models.PromptAdd])
	assert.NotContains(t, ops, models.PromptSame)
}
