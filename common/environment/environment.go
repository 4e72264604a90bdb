package environment

import (
	"fmt"
	"strings"
)

// Environment identifies one deployment target of the flow service
type Environment string

const (
	Dev        Environment = "dev"
	Test       Environment = "test"
	Beta       Environment = "beta"
	Production Environment = "production"
)

// All lists environments in promotion order
var All = []Environment{Dev, Test, Beta, Production}

var aliases = map[string]Environment{
	"dev":         Dev,
	"development": Dev,
	"test":        Test,
	"testing":     Test,
	"beta":        Beta,
	"stage":       Beta,
	"staging":     Beta,
	"pro":         Production,
	"prod":        Production,
	"production":  Production,
}

// Parse resolves an environment name or one of its aliases
func Parse(name string) (Environment, error) {
	env, ok := aliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("unknown environment: %q", name)
	}
	return env, nil
}

// MustParse is like Parse but panics on unknown names
func MustParse(name string) Environment {
	env, err := Parse(name)
	if err != nil {
		panic(err)
	}
	return env
}

// PromptLabel returns the label prompt versions carry in this environment
func (e Environment) PromptLabel() string {
	switch e {
	case Production:
		return "production"
	case Beta:
		return "stage"
	default:
		return string(e)
	}
}

// String implements fmt.Stringer
func (e Environment) String() string {
	return string(e)
}

// Valid reports whether e is one of the known environments
func (e Environment) Valid() bool {
	for _, known := range All {
		if e == known {
			return true
		}
	}
	return false
}
