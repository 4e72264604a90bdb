// Package nodematch tags flow graph nodes using CEL rules evaluated against
// the raw node object.
package nodematch

import (
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"
)

// Kind is a node category the deployer cares about
type Kind string

const (
	// PromptRef nodes pull a prompt by label from the prompt service
	PromptRef Kind = "prompt_ref"
	// SubflowRef nodes run another flow selected by name
	SubflowRef Kind = "subflow_ref"
	// FileInput nodes are chat inputs that carry uploaded file paths
	FileInput Kind = "file_input"
	// Input nodes expose fields to a calling sub-flow reference
	Input Kind = "input"
)

// DefaultRules is the built-in rule set; each expression sees the node as `node`
var DefaultRules = map[Kind]string{
	PromptRef:  `has(node.id) && node.id.startsWith("LangfusePrompt2")`,
	SubflowRef: `has(node.id) && node.id.startsWith("RunFlow")`,
	FileInput: `has(node.id) && node.id.startsWith("ChatInput") && has(node.data) && has(node.data.node) && ` +
		`has(node.data.node.display_name) && node.data.node.display_name == "FileSelect"`,
	Input: `has(node.id) && ["ChatInput", "Webhook", "TextInput"].exists(p, node.id.contains(p))`,
}

// Matcher evaluates compiled rules
type Matcher struct {
	programs map[Kind]cel.Program
}

// New compiles DefaultRules with any overrides applied
func New(overrides map[string]string) (*Matcher, error) {
	rules := make(map[Kind]string, len(DefaultRules))
	for k, expr := range DefaultRules {
		rules[k] = expr
	}
	for k, expr := range overrides {
		if expr == "" {
			continue
		}
		rules[Kind(k)] = expr
	}

	env, err := cel.NewEnv(
		cel.Variable("node", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	m := &Matcher{programs: make(map[Kind]cel.Program, len(rules))}
	for kind, expr := range rules {
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rule %s: CEL compilation error: %w", kind, issues.Err())
		}
		if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
			return nil, fmt.Errorf("rule %s: expression must be boolean, got %s", kind, out)
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rule %s: failed to create CEL program: %w", kind, err)
		}
		m.programs[kind] = prg
	}

	return m, nil
}

// MustNew is like New but panics on a bad rule
func MustNew(overrides map[string]string) *Matcher {
	m, err := New(overrides)
	if err != nil {
		panic(err)
	}
	return m
}

// Is reports whether node belongs to kind. Evaluation errors and unknown
// kinds count as no match.
func (m *Matcher) Is(kind Kind, node map[string]any) bool {
	prg, ok := m.programs[kind]
	if !ok {
		return false
	}

	out, _, err := prg.Eval(map[string]any{"node": node})
	if err != nil {
		return false
	}
	result, ok := out.Value().(bool)
	return ok && result
}

// Kinds returns every kind node matches, sorted
func (m *Matcher) Kinds(node map[string]any) []Kind {
	var matched []Kind
	for k := range m.programs {
		if m.Is(k, node) {
			matched = append(matched, k)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i] < matched[j] })
	return matched
}
