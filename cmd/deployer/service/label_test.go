package service

import (
	"context"
	"testing"

	"github.com/lyzr/flowdeploy/cmd/deployer/models"
	"github.com/lyzr/flowdeploy/common/environment"
	"github.com/lyzr/flowdeploy/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelScanAndApply(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	svc := NewLabelService(testMatcher(t), "*", logger.Discard())

	h.testFlow(&models.Flow{ID: "t-1", Name: "orders", Data: graph(t, []map[string]any{
		promptNode("LangfusePrompt2-a", "dev"),
		promptNode("LangfusePrompt2-b", "test"),
		node("LangfusePrompt2-c", "Prompt", map[string]any{"prompt_name": map[string]any{"value": "x"}}),
	}, nil)})
	h.testFlow(&models.Flow{ID: "t-2", Name: "invoices", Data: graph(t, []map[string]any{
		promptNode("LangfusePrompt2-a", "test"),
	}, nil)})
	h.testFlow(&models.Flow{ID: "t-3", Name: "parked", FolderID: models.Ptr("test-bak"), Data: graph(t, []map[string]any{
		promptNode("LangfusePrompt2-a", "dev"),
	}, nil)})

	scan, err := svc.Scan(ctx, h.session(), environment.Test, "test")
	require.NoError(t, err)
	require.Len(t, scan.Changes, 1)
	change := scan.Changes[0]
	assert.Equal(t, "t-1", change.FlowID)
	assert.Equal(t, "LangfusePrompt2-a", change.NodeID)
	assert.Equal(t, "greeting", change.PromptName)
	assert.Equal(t, "dev", change.OldLabel)
	assert.Equal(t, "orders*", change.Folder)
	require.Len(t, scan.Warnings, 1)
	assert.Contains(t, scan.Warnings[0], "LangfusePrompt2-c")
	assert.Len(t, scan.Updates, 1)

	ids, err := svc.Apply(ctx, h.session(), environment.Test, scan.Updates)
	require.NoError(t, err)
	assert.Equal(t, []string{"t-1"}, ids)
	assert.Equal(t, "test", promptLabel(t, h.test.byName("orders").Data, "LangfusePrompt2-a"))
	assert.Equal(t, "dev", promptLabel(t, h.test.byName("parked").Data, "LangfusePrompt2-a"))

	again, err := svc.Scan(ctx, h.session(), environment.Test, "test")
	require.NoError(t, err)
	assert.Empty(t, again.Changes)
}

func TestLabelScanRequiresLabel(t *testing.T) {
	h := newHarness(t)
	svc := NewLabelService(testMatcher(t), "*", logger.Discard())
	_, err := svc.Scan(context.Background(), h.session(), environment.Test, "")
	assert.ErrorIs(t, err, ErrInvalidTarget)
}
