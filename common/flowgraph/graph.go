// Package flowgraph reads and edits the nested node/edge document stored in a
// flow's data column.
package flowgraph

import (
	"encoding/json"
	"fmt"
)

// Graph is a decoded flow document: {"nodes": [...], "edges": [...], ...}
type Graph map[string]any

// Parse decodes raw flow data; empty input yields an empty graph
func Parse(raw json.RawMessage) (Graph, error) {
	g := Graph{}
	if len(raw) == 0 || string(raw) == "null" {
		return g, nil
	}
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode flow data: %w", err)
	}
	return g, nil
}

// Encode re-serializes the graph
func (g Graph) Encode() (json.RawMessage, error) {
	b, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encode flow data: %w", err)
	}
	return b, nil
}

// Nodes returns the node objects; non-object entries are skipped
func (g Graph) Nodes() []map[string]any {
	return objects(g["nodes"])
}

// Edges returns the edge objects
func (g Graph) Edges() []map[string]any {
	return objects(g["edges"])
}

// SetEdges replaces the edge list
func (g Graph) SetEdges(edges []map[string]any) {
	list := make([]any, len(edges))
	for i, e := range edges {
		list[i] = e
	}
	g["edges"] = list
}

// NodeID returns node.id
func NodeID(node map[string]any) string {
	s, _ := node["id"].(string)
	return s
}

// Info returns node.data.node, or nil
func Info(node map[string]any) map[string]any {
	data, _ := node["data"].(map[string]any)
	info, _ := data["node"].(map[string]any)
	return info
}

// DisplayName returns node.data.node.display_name
func DisplayName(node map[string]any) string {
	s, _ := Info(node)["display_name"].(string)
	return s
}

// Template returns node.data.node.template, or nil
func Template(node map[string]any) map[string]any {
	t, _ := Info(node)["template"].(map[string]any)
	return t
}

// FieldOrder returns node.data.node.field_order
func FieldOrder(node map[string]any) []string {
	raw, _ := Info(node)["field_order"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Field returns template[name] when it is an object
func Field(template map[string]any, name string) (map[string]any, bool) {
	f, ok := template[name].(map[string]any)
	return f, ok
}

// StringValue returns field.value as a string
func StringValue(field map[string]any) string {
	s, _ := field["value"].(string)
	return s
}

// EdgeTarget returns edge.target
func EdgeTarget(edge map[string]any) string {
	s, _ := edge["target"].(string)
	return s
}

// EdgeTargetField returns edge.data.targetHandle.fieldName
func EdgeTargetField(edge map[string]any) (string, bool) {
	data, _ := edge["data"].(map[string]any)
	handle, _ := data["targetHandle"].(map[string]any)
	s, ok := handle["fieldName"].(string)
	return s, ok
}

// SetEdgeTargetField rewrites edge.data.targetHandle.fieldName
func SetEdgeTargetField(edge map[string]any, field string) {
	data, _ := edge["data"].(map[string]any)
	handle, _ := data["targetHandle"].(map[string]any)
	if handle == nil {
		return
	}
	handle["fieldName"] = field
}

func objects(v any) []map[string]any {
	list, _ := v.([]any)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
