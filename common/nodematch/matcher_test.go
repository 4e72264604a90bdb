package nodematch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(id, displayName string) map[string]any {
	return map[string]any{
		"id": id,
		"data": map[string]any{
			"node": map[string]any{
				"display_name": displayName,
				"template":     map[string]any{},
			},
		},
	}
}

func TestDefaultRules(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)

	assert.True(t, m.Is(PromptRef, node("LangfusePrompt2-abc", "Prompt")))
	assert.False(t, m.Is(PromptRef, node("LangfusePrompt-abc", "Prompt")))

	assert.True(t, m.Is(SubflowRef, node("RunFlow-x1", "Run Flow")))
	assert.False(t, m.Is(SubflowRef, node("xRunFlow", "Run Flow")))

	assert.True(t, m.Is(FileInput, node("ChatInput-1", "FileSelect")))
	assert.False(t, m.Is(FileInput, node("ChatInput-1", "Chat Input")))

	assert.True(t, m.Is(Input, node("ChatInput-1", "Chat Input")))
	assert.True(t, m.Is(Input, node("custom-Webhook-2", "Hook")))
	assert.True(t, m.Is(Input, node("TextInput-9", "Text")))
	assert.False(t, m.Is(Input, node("Prompt-1", "Prompt")))
}

func TestMissingFieldsDoNotMatch(t *testing.T) {
	m := MustNew(nil)

	assert.False(t, m.Is(FileInput, map[string]any{"id": "ChatInput-1"}))
	assert.False(t, m.Is(SubflowRef, map[string]any{}))
	assert.False(t, m.Is(Kind("unknown"), node("RunFlow-1", "")))
}

func TestOverrides(t *testing.T) {
	m, err := New(map[string]string{
		"subflow_ref": `node.id.startsWith("SubFlow")`,
	})
	require.NoError(t, err)

	assert.True(t, m.Is(SubflowRef, node("SubFlow-1", "")))
	assert.False(t, m.Is(SubflowRef, node("RunFlow-1", "")))
	assert.Equal(t, []Kind{FileInput, Input}, m.Kinds(node("ChatInput-1", "FileSelect")))
}

func TestBadRule(t *testing.T) {
	_, err := New(map[string]string{"input": `node.id.startsWith(`})
	assert.Error(t, err)

	_, err = New(map[string]string{"input": `"not a bool"`})
	assert.Error(t, err)
}
