package service

import (
	"context"
	"testing"

	"github.com/lyzr/flowdeploy/cmd/deployer/models"
	"github.com/lyzr/flowdeploy/common/environment"
	"github.com/lyzr/flowdeploy/common/flowgraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func childFlow(t *testing.T) *models.Flow {
	return &models.Flow{ID: "t-child", Name: "child", Data: graph(t, []map[string]any{
		node("ChatInput-abc", "Chat Input", map[string]any{
			"input_value": map[string]any{"display_name": "Text", "advanced": false, "value": ""},
			"sender":      map[string]any{"display_name": "Sender", "advanced": true},
		}, "input_value", "sender"),
		node("Agent-1", "Agent", map[string]any{"model": map[string]any{"value": "x"}}, "model"),
	}, nil)}
}

func templateOf(t *testing.T, g flowgraph.Graph, id string) map[string]any {
	t.Helper()
	for _, n := range g.Nodes() {
		if flowgraph.NodeID(n) == id {
			return flowgraph.Template(n)
		}
	}
	t.Fatalf("node %s not found", id)
	return nil
}

func TestRefresherRegeneratesFields(t *testing.T) {
	h := newHarness(t)
	h.testFlow(childFlow(t))
	h.testFlow(&models.Flow{ID: "t-parent", Name: "parent", Data: graph(t,
		[]map[string]any{
			node("RunFlow-1", "Run Flow", map[string]any{
				"flow_name_selected": map[string]any{"value": "child"},
				"code":               map[string]any{"value": "..."},
				"stale_a":            map[string]any{"display_name": "A"},
				"stale_b":            map[string]any{"display_name": "B"},
			}),
			node("Text-1", "Text", map[string]any{}),
		},
		[]map[string]any{
			edge("Text-1", "RunFlow-1", "stale_a"),
			edge("Text-1", "RunFlow-1", "flow_name_selected"),
			edge("RunFlow-1", "Text-1", "input"),
		},
	)})

	res := mustGenerate(t, h)
	assert.Equal(t, []string{"parent"}, res.Names)
	assert.Equal(t, map[string][]string{"parent": {"child"}}, res.References)
	assert.Empty(t, res.Missing)

	g, err := flowgraph.Parse(res.Updates["parent"])
	require.NoError(t, err)
	tmpl := templateOf(t, g, "RunFlow-1")

	assert.Contains(t, tmpl, "code")
	assert.Contains(t, tmpl, "flow_name_selected")
	assert.NotContains(t, tmpl, "stale_a")
	assert.NotContains(t, tmpl, "stale_b")

	input, ok := flowgraph.Field(tmpl, "ChatInput-abc~input_value")
	require.True(t, ok)
	assert.Equal(t, "Chat Input - Text", input["display_name"])
	assert.Equal(t, true, input["tool_mode"])

	sender, ok := flowgraph.Field(tmpl, "ChatInput-abc~sender")
	require.True(t, ok)
	assert.Equal(t, false, sender["tool_mode"])

	// the edge into a removed field is dropped, the others stay
	edges := g.Edges()
	require.Len(t, edges, 2)
	field, _ := flowgraph.EdgeTargetField(edges[0])
	assert.Equal(t, "flow_name_selected", field)
	assert.Equal(t, "Text-1", flowgraph.EdgeTarget(edges[1]))
}

func TestRefresherRewiresSingleRenamedField(t *testing.T) {
	h := newHarness(t)
	h.testFlow(&models.Flow{ID: "t-child", Name: "child", Data: graph(t, []map[string]any{
		node("ChatInput-new", "Chat Input", map[string]any{
			"input_value": map[string]any{"display_name": "Text"},
		}, "input_value"),
	}, nil)})
	h.testFlow(&models.Flow{ID: "t-parent", Name: "parent", Data: graph(t,
		[]map[string]any{
			node("RunFlow-1", "Run Flow", map[string]any{
				"flow_name_selected":        map[string]any{"value": "child"},
				"ChatInput-old~input_value": map[string]any{"display_name": "Chat Input - Text"},
			}),
		},
		[]map[string]any{edge("Text-1", "RunFlow-1", "ChatInput-old~input_value")},
	)})

	res := mustGenerate(t, h)
	g, err := flowgraph.Parse(res.Updates["parent"])
	require.NoError(t, err)

	edges := g.Edges()
	require.Len(t, edges, 1)
	field, _ := flowgraph.EdgeTargetField(edges[0])
	assert.Equal(t, "ChatInput-new~input_value", field)

	names, err := h.refresher.Apply(context.Background(), h.session(), environment.Test, res.Updates)
	require.NoError(t, err)
	assert.Equal(t, []string{"parent"}, names)
	assert.Contains(t, string(h.test.byName("parent").Data), "ChatInput-new~input_value")
}

func TestRefresherReportsMissingReference(t *testing.T) {
	h := newHarness(t)
	original := graph(t, []map[string]any{
		node("RunFlow-1", "Run Flow", map[string]any{
			"flow_name_selected": map[string]any{"value": "ghost"},
			"old":                map[string]any{"display_name": "Old"},
		}),
	}, nil)
	h.testFlow(&models.Flow{ID: "t-parent", Name: "parent", Data: original})

	res := mustGenerate(t, h)
	assert.Equal(t, []models.MissingReference{{Flow: "parent", Referenced: "ghost"}}, res.Missing)
	assert.Empty(t, res.Updates, "a flow whose only reference is missing is left alone")
}

func TestRefresherSkipsUpToDateFlows(t *testing.T) {
	h := newHarness(t)
	h.testFlow(childFlow(t))
	h.testFlow(&models.Flow{ID: "t-parent", Name: "parent", Data: graph(t, []map[string]any{
		node("RunFlow-1", "Run Flow", map[string]any{"flow_name_selected": map[string]any{"value": "child"}}),
	}, nil)})

	first := mustGenerate(t, h)
	require.Contains(t, first.Updates, "parent")
	_, err := h.refresher.Apply(context.Background(), h.session(), environment.Test, first.Updates)
	require.NoError(t, err)

	second := mustGenerate(t, h)
	assert.Empty(t, second.Updates)
	assert.Equal(t, []string{"child"}, second.References["parent"])
}
