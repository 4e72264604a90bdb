package service

import (
	"encoding/json"
	"fmt"

	"github.com/lyzr/flowdeploy/common/environment"
	"github.com/lyzr/flowdeploy/common/flowgraph"
	"github.com/lyzr/flowdeploy/common/nodematch"
)

// PayloadPatcher rewrites environment-specific fields of a flow graph
type PayloadPatcher struct {
	matcher *nodematch.Matcher
}

// NewPayloadPatcher creates a patcher using matcher to classify nodes
func NewPayloadPatcher(matcher *nodematch.Matcher) *PayloadPatcher {
	return &PayloadPatcher{matcher: matcher}
}

// Patch returns raw with prompt labels pointed at target, sub-flow options
// collapsed to the selected flow and FileSelect inputs emptied. Nodes missing
// the field to patch are reported as warnings and left untouched.
func (p *PayloadPatcher) Patch(raw json.RawMessage, target environment.Environment) (json.RawMessage, []string, error) {
	g, err := flowgraph.Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	if len(g) == 0 {
		return raw, nil, nil
	}

	var warnings []string
	for _, node := range g.Nodes() {
		id := flowgraph.NodeID(node)
		template := flowgraph.Template(node)

		switch {
		case p.matcher.Is(nodematch.PromptRef, node):
			label, ok := flowgraph.Field(template, "label")
			if !ok {
				warnings = append(warnings, fmt.Sprintf("prompt node %s has no label field", id))
				continue
			}
			label["value"] = target.PromptLabel()

		case p.matcher.Is(nodematch.SubflowRef, node):
			selected, ok := flowgraph.Field(template, "flow_name_selected")
			if !ok {
				warnings = append(warnings, fmt.Sprintf("sub-flow node %s has no flow_name_selected field", id))
				continue
			}
			selected["options"] = []any{selected["value"]}

		case p.matcher.Is(nodematch.FileInput, node):
			files, ok := flowgraph.Field(template, "files")
			if !ok {
				warnings = append(warnings, fmt.Sprintf("file input %s has no files field", id))
				continue
			}
			files["file_path"] = []any{}
			files["value"] = ""
		}
	}

	out, err := g.Encode()
	if err != nil {
		return nil, nil, err
	}
	return out, warnings, nil
}
