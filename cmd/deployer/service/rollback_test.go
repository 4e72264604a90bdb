package service

import (
	"context"
	"testing"

	"github.com/lyzr/flowdeploy/cmd/deployer/models"
	"github.com/lyzr/flowdeploy/common/environment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// promoteDescription sets the dev description of orders and promotes it
func promoteDescription(t *testing.T, h *harness, desc string) models.Version {
	t.Helper()
	h.dev.byName("orders").Description = models.Ptr(desc)
	report := promote(t, h, "orders")
	require.Empty(t, report.Failures)
	return report.Version
}

func TestRollbackRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.testFlow(&models.Flow{ID: "t-1", Name: "orders", Description: models.Ptr("v0"), Icon: models.Ptr("bot")})
	h.devFlow(&models.Flow{ID: "d-1", Name: "orders"})

	v1 := promoteDescription(t, h, "v1")
	v2 := promoteDescription(t, h, "v2")
	assert.Equal(t, "20250314.2", v2.String())
	assert.Equal(t, "v2", *h.test.byName("orders").Description)

	report, err := h.rollback.Rollback(ctx, h.session(), environment.Test, v1)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, report.Restored)
	assert.Empty(t, report.Deleted)

	live := h.test.byName("orders")
	assert.Equal(t, "t-1", live.ID)
	assert.Equal(t, "v1", *live.Description)
	assert.Equal(t, "bot", *live.Icon)

	latest, _, err := h.history.LatestVersion(ctx, "test", testUser)
	require.NoError(t, err)
	assert.Equal(t, v1, latest)

	report, err = h.rollback.Rollback(ctx, h.session(), environment.Test, models.Sentinel)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, report.Restored)
	assert.Equal(t, "v0", *h.test.byName("orders").Description)
}

func TestRollbackUsesSnapshotClosestToTarget(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.testFlow(&models.Flow{ID: "t-1", Name: "orders", Description: models.Ptr("v0")})
	h.devFlow(&models.Flow{ID: "d-1", Name: "orders"})

	v1 := promoteDescription(t, h, "a1")
	promoteDescription(t, h, "a2")
	promoteDescription(t, h, "a3")

	plan, err := h.rollback.Plan(ctx, h.session(), environment.Test, v1)
	require.NoError(t, err)
	require.Len(t, plan.Flows, 1)
	assert.Equal(t, "20250314.2", plan.Flows[0].Version.String())
	assert.Equal(t, "a3", *h.test.byName("orders").Description, "planning writes nothing")

	_, err = h.rollback.Rollback(ctx, h.session(), environment.Test, v1)
	require.NoError(t, err)
	assert.Equal(t, "a1", *h.test.byName("orders").Description)
}

func TestRollbackDeletesCreatedFlow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.devFlow(&models.Flow{ID: "d-1", Name: "fresh"})
	report := promote(t, h, "fresh")
	require.Len(t, report.Promoted, 1)
	require.NotNil(t, h.test.byName("fresh"))

	result, err := h.rollback.Rollback(ctx, h.session(), environment.Test, models.Sentinel)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, result.Deleted)
	assert.Nil(t, h.test.byName("fresh"))
}

func TestRollbackIdentityMismatchWritesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.testFlow(&models.Flow{ID: "t-1", Name: "orders", Description: models.Ptr("v0")})
	h.devFlow(&models.Flow{ID: "d-1", Name: "orders"})
	v1 := promoteDescription(t, h, "v1")

	// someone recreated the flow by hand
	live := h.test.byName("orders")
	delete(h.test.state.flows, live.ID)
	live.ID = "t-2"
	h.test.put(live)

	_, err := h.rollback.Rollback(ctx, h.session(), environment.Test, models.Sentinel)
	require.ErrorIs(t, err, ErrIdentityMismatch)

	assert.Equal(t, "v1", *h.test.byName("orders").Description)
	latest, _, err := h.history.LatestVersion(ctx, "test", testUser)
	require.NoError(t, err)
	assert.Equal(t, v1, latest)
}

func TestRollbackMissingFolder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.testFlow(&models.Flow{ID: "t-1", Name: "orders", FolderID: models.Ptr("test-old")})
	h.test.state.folders = append(h.test.state.folders, models.Folder{ID: "test-old", Name: "legacy"})
	h.devFlow(&models.Flow{ID: "d-1", Name: "orders"})
	promoteDescription(t, h, "v1")

	h.test.state.folders = h.test.state.folders[:2]
	_, err := h.rollback.Rollback(ctx, h.session(), environment.Test, models.Sentinel)
	require.ErrorIs(t, err, ErrMissingDependency)
	assert.Equal(t, "test-pub", *h.test.byName("orders").FolderID)
}

func TestRollbackTargetChecks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.devFlow(&models.Flow{ID: "d-1", Name: "orders"})
	v1 := promote(t, h, "orders").Version

	_, err := h.rollback.Plan(ctx, h.session(), environment.Test, models.MustParseVersion("20991231.1"))
	assert.ErrorIs(t, err, ErrInvalidTarget)

	// older than latest but never recorded, including anything before the bootstrap row
	for _, v := range []string{"20250313.7", "19990101.1"} {
		_, err = h.rollback.Plan(ctx, h.session(), environment.Test, models.MustParseVersion(v))
		assert.ErrorIs(t, err, ErrInvalidTarget, v)
	}

	report, err := h.rollback.Rollback(ctx, h.session(), environment.Test, v1)
	require.NoError(t, err)
	assert.Len(t, report.Warnings, 1)
	assert.Empty(t, report.Flows)
	assert.NotNil(t, h.test.byName("orders"))

	_, err = h.rollback.Plan(ctx, h.session(), environment.Beta, v1)
	assert.Error(t, err)
}

func TestRollbackPlanPromptInstructions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.devFlow(&models.Flow{ID: "d-1", Name: "orders"})

	h.labels.versions["test"] = map[string]int{"P": 3}
	v1 := promote(t, h, "orders").Version
	h.labels.versions["test"] = map[string]int{"P": 4, "Q": 1}
	promote(t, h, "orders")
	h.labels.versions["test"] = map[string]int{"P": 5, "Q": 1}
	promote(t, h, "orders")

	plan, err := h.rollback.Plan(ctx, h.session(), environment.Test, v1)
	require.NoError(t, err)
	require.Len(t, plan.Prompts, 2)

	assert.Equal(t, "P", plan.Prompts[0].Name)
	assert.Equal(t, 3, plan.Prompts[0].Version)
	assert.Equal(t, models.PromptChange, plan.Prompts[0].Operation)
	assert.Contains(t, plan.Prompts[0].Instruction, "to version 3")

	assert.Equal(t, "Q", plan.Prompts[1].Name)
	assert.Equal(t, models.PromptAdd, plan.Prompts[1].Operation)
}

func TestRollbackRefreshesCallers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	child := func(field string) []map[string]any {
		return []map[string]any{node("ChatInput-1", "Chat Input", map[string]any{
			field: map[string]any{"display_name": "Text", "value": ""},
		}, field)}
	}
	h.testFlow(&models.Flow{ID: "t-child", Name: "child", Data: graph(t, child("input_value"), nil)})
	h.testFlow(&models.Flow{ID: "t-parent", Name: "parent", Data: graph(t, []map[string]any{
		node("RunFlow-1", "Run Flow", map[string]any{
			"flow_name_selected":      map[string]any{"value": "child"},
			"ChatInput-1~input_value": map[string]any{"display_name": "Chat Input - Text"},
		}),
	}, nil)})
	h.devFlow(&models.Flow{ID: "d-child", Name: "child", Data: graph(t, child("message"), nil)})

	promote(t, h, "child")
	_, err := h.refresher.Apply(ctx, h.session(), environment.Test, mustGenerate(t, h).Updates)
	require.NoError(t, err)
	assert.Contains(t, string(h.test.byName("parent").Data), "ChatInput-1~message")

	report, err := h.rollback.Rollback(ctx, h.session(), environment.Test, models.Sentinel)
	require.NoError(t, err)
	assert.Equal(t, []string{"parent"}, report.Refreshed)
	assert.Empty(t, report.RefreshError)
	assert.Contains(t, string(h.test.byName("parent").Data), "ChatInput-1~input_value")
}

func mustGenerate(t *testing.T, h *harness) *models.RefreshResult {
	t.Helper()
	res, err := h.refresher.Generate(context.Background(), h.session(), environment.Test)
	require.NoError(t, err)
	return res
}
