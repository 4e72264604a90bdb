package service

import (
	"encoding/json"
	"testing"

	"github.com/lyzr/flowdeploy/common/environment"
	"github.com/lyzr/flowdeploy/common/flowgraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadPatcher(t *testing.T) {
	p := NewPayloadPatcher(testMatcher(t))
	raw := graph(t, []map[string]any{
		promptNode("LangfusePrompt2-a", "dev"),
		node("RunFlow-1", "Run Flow", map[string]any{
			"flow_name_selected": map[string]any{"value": "child", "options": []any{"child", "other"}},
		}),
		node("ChatInput-1", "FileSelect", map[string]any{
			"files": map[string]any{"file_path": []any{"/tmp/a.pdf"}, "value": "a.pdf"},
		}),
		node("ChatInput-2", "Chat Input", map[string]any{
			"input_value": map[string]any{"value": "keep"},
		}),
		node("LangfusePrompt2-broken", "Prompt", map[string]any{}),
	}, nil)

	out, warnings, err := p.Patch(raw, environment.Beta)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "LangfusePrompt2-broken")

	g, err := flowgraph.Parse(out)
	require.NoError(t, err)

	label, _ := flowgraph.Field(templateOf(t, g, "LangfusePrompt2-a"), "label")
	assert.Equal(t, "stage", label["value"])

	selected, _ := flowgraph.Field(templateOf(t, g, "RunFlow-1"), "flow_name_selected")
	assert.Equal(t, []any{"child"}, selected["options"])

	files, _ := flowgraph.Field(templateOf(t, g, "ChatInput-1"), "files")
	assert.Equal(t, []any{}, files["file_path"])
	assert.Equal(t, "", files["value"])

	input, _ := flowgraph.Field(templateOf(t, g, "ChatInput-2"), "input_value")
	assert.Equal(t, "keep", input["value"])
}

func TestPayloadPatcherEmptyData(t *testing.T) {
	p := NewPayloadPatcher(testMatcher(t))
	out, warnings, err := p.Patch(nil, environment.Test)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Nil(t, out)

	_, _, err = p.Patch(json.RawMessage(`{not json`), environment.Test)
	assert.Error(t, err)
}
