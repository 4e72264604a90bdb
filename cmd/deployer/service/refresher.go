package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/lyzr/flowdeploy/cmd/deployer/models"
	"github.com/lyzr/flowdeploy/cmd/deployer/repository"
	"github.com/lyzr/flowdeploy/common/diff"
	"github.com/lyzr/flowdeploy/common/environment"
	"github.com/lyzr/flowdeploy/common/flowgraph"
	"github.com/lyzr/flowdeploy/common/logger"
	"github.com/lyzr/flowdeploy/common/nodematch"
)

// protectedFields are sub-flow reference template keys never regenerated
var protectedFields = map[string]bool{
	"code":               true,
	"_type":              true,
	"flow_name_selected": true,
	"session_id":         true,
}

// RefresherService regenerates the input fields of sub-flow reference nodes
// from the inputs of the flows they call
type RefresherService struct {
	matcher *nodematch.Matcher
	suffix  string
	log     *logger.Logger
}

// NewRefresherService creates a refresher over flows in folders ending with suffix
func NewRefresherService(matcher *nodematch.Matcher, suffix string, log *logger.Logger) *RefresherService {
	if suffix == "" {
		suffix = "*"
	}
	return &RefresherService{matcher: matcher, suffix: suffix, log: log}
}

// referenced caches the input fields of one called flow
type referenced struct {
	fields []map[string]any
	found  bool
}

// Generate computes the refreshed graph of every published flow that calls
// a sub-flow. Only graphs that actually change are returned in Updates.
func (s *RefresherService) Generate(ctx context.Context, sess *Session, env environment.Environment) (*models.RefreshResult, error) {
	live, err := sess.Live(ctx, env)
	if err != nil {
		return nil, err
	}
	userID, err := sess.UserID(ctx, env)
	if err != nil {
		return nil, err
	}

	flows, err := live.Published(ctx, userID, s.suffix)
	if err != nil {
		return nil, opError("refresh", env.String(), "", "", err)
	}

	result := &models.RefreshResult{
		Updates:    map[string]json.RawMessage{},
		Names:      []string{},
		References: map[string][]string{},
		Missing:    []models.MissingReference{},
	}
	called := map[string]referenced{}

	lookup := func(name string) (referenced, error) {
		if r, ok := called[name]; ok {
			return r, nil
		}
		flow, err := live.GetByName(ctx, userID, name)
		if errors.Is(err, repository.ErrNotFound) {
			called[name] = referenced{}
			return referenced{}, nil
		}
		if err != nil {
			return referenced{}, err
		}
		g, err := flowgraph.Parse(flow.Data)
		if err != nil {
			return referenced{}, fmt.Errorf("flow %s: %w", name, err)
		}
		r := referenced{fields: s.inputFields(g), found: true}
		called[name] = r
		return r, nil
	}

	for _, flow := range flows {
		g, err := flowgraph.Parse(flow.Data)
		if err != nil {
			s.log.Warn("skipping unreadable flow", "env", env, "flow", flow.Name, "error", err)
			continue
		}

		// node id -> template keys after regeneration
		rebuilt := map[string]map[string]bool{}
		// old field name -> new field name, for edges that can follow the rename
		rewire := map[string]string{}

		for _, node := range g.Nodes() {
			if !s.matcher.Is(nodematch.SubflowRef, node) {
				continue
			}
			template := flowgraph.Template(node)
			if template == nil {
				continue
			}
			selected, _ := flowgraph.Field(template, "flow_name_selected")
			target := flowgraph.StringValue(selected)
			result.References[flow.Name] = append(result.References[flow.Name], target)

			ref, err := lookup(target)
			if err != nil {
				return nil, opError("refresh", env.String(), flow.Name, "", err)
			}
			if !ref.found {
				result.Missing = append(result.Missing, models.MissingReference{Flow: flow.Name, Referenced: target})
				continue
			}

			newNames := make(map[string]bool, len(ref.fields))
			for _, f := range ref.fields {
				newNames[f["name"].(string)] = true
			}
			var old []string
			for key := range template {
				if !protectedFields[key] && !newNames[key] {
					old = append(old, key)
				}
			}
			sort.Strings(old)

			if len(old) == 1 && len(ref.fields) == 1 {
				oldField, _ := flowgraph.Field(template, old[0])
				oldName, _ := oldField["display_name"].(string)
				newName, _ := ref.fields[0]["display_name"].(string)
				if oldName != "" && oldName == newName {
					rewire[old[0]] = ref.fields[0]["name"].(string)
				}
			}

			for _, key := range old {
				delete(template, key)
			}
			for _, f := range ref.fields {
				template[f["name"].(string)] = copyField(f)
			}

			keys := make(map[string]bool, len(template))
			for key := range template {
				keys[key] = true
			}
			rebuilt[flowgraph.NodeID(node)] = keys
		}

		if len(rebuilt) == 0 {
			continue
		}

		edges := g.Edges()
		kept := make([]map[string]any, 0, len(edges))
		for _, edge := range edges {
			keys, ok := rebuilt[flowgraph.EdgeTarget(edge)]
			if ok {
				field, hasField := flowgraph.EdgeTargetField(edge)
				if hasField && !keys[field] {
					next, canRewire := rewire[field]
					if !canRewire {
						continue
					}
					flowgraph.SetEdgeTargetField(edge, next)
				}
			}
			kept = append(kept, edge)
		}
		g.SetEdges(kept)

		data, err := g.Encode()
		if err != nil {
			return nil, opError("refresh", env.String(), flow.Name, "", err)
		}
		if diff.Equal(json.RawMessage(data), flow.Data) {
			continue
		}
		result.Updates[flow.Name] = data
		result.Names = append(result.Names, flow.Name)
	}

	sort.Strings(result.Names)
	s.log.Info("refresh computed",
		"env", env,
		"flows", len(flows),
		"updates", len(result.Updates),
		"missing", len(result.Missing),
	)
	return result, nil
}

// inputFields builds the fields a sub-flow reference to g should expose:
// one per entry of each input node's field order, renamed <nodeID>~<field>
func (s *RefresherService) inputFields(g flowgraph.Graph) []map[string]any {
	var fields []map[string]any
	for _, node := range g.Nodes() {
		if !s.matcher.Is(nodematch.Input, node) {
			continue
		}
		template := flowgraph.Template(node)
		order := flowgraph.FieldOrder(node)
		if len(template) == 0 || len(order) == 0 {
			continue
		}

		nodeID := flowgraph.NodeID(node)
		nodeName := flowgraph.DisplayName(node)
		for _, name := range order {
			src, ok := flowgraph.Field(template, name)
			if !ok {
				continue
			}
			field := copyField(src)
			fieldName, _ := src["display_name"].(string)
			advanced, _ := src["advanced"].(bool)
			field["display_name"] = nodeName + " - " + fieldName
			field["name"] = nodeID + "~" + name
			field["tool_mode"] = !advanced
			fields = append(fields, field)
		}
	}
	return fields
}

// Apply writes the refreshed graphs in one transaction and returns the
// updated flow names
func (s *RefresherService) Apply(ctx context.Context, sess *Session, env environment.Environment, updates map[string]json.RawMessage) ([]string, error) {
	if len(updates) == 0 {
		return []string{}, nil
	}
	live, err := sess.Live(ctx, env)
	if err != nil {
		return nil, err
	}
	userID, err := sess.UserID(ctx, env)
	if err != nil {
		return nil, err
	}

	names := sortedNames(updates)
	err = live.InTx(ctx, func(tx repository.FlowStore) error {
		for _, name := range names {
			if err := tx.UpdateData(ctx, userID, name, updates[name]); err != nil {
				return opError("refresh", env.String(), name, "", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("references refreshed", "env", env, "flows", len(names))
	return names, nil
}

// RefreshAffected regenerates and applies updates for flows that are in
// touched or call a flow in touched
func (s *RefresherService) RefreshAffected(ctx context.Context, sess *Session, env environment.Environment, touched map[string]bool) ([]string, error) {
	result, err := s.Generate(ctx, sess, env)
	if err != nil {
		return nil, err
	}

	selected := map[string]json.RawMessage{}
	for name, data := range result.Updates {
		if touched[name] || anyTouched(result.References[name], touched) {
			selected[name] = data
		}
	}
	return s.Apply(ctx, sess, env, selected)
}

func anyTouched(names []string, touched map[string]bool) bool {
	for _, n := range names {
		if touched[n] {
			return true
		}
	}
	return false
}

func copyField(f map[string]any) map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
