// pkg/utils/yaml.go - utility functions for working with YAML.

package utils

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// LiteralString is a custom string type that always marshals as a literal
// block scalar, which keeps multi-line script bodies readable in
// deployment definitions.
type LiteralString string

// MarshalYAML implements the yaml.Marshaler interface.
func (ls LiteralString) MarshalYAML() (interface{}, error) {
	value := string(ls)
	if value == "" {
		return value, nil
	}
	node := &yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   "!!str",
		Value: value,
		Style: yaml.LiteralStyle,
	}
	return node, nil
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (ls *LiteralString) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("cannot unmarshal %v into LiteralString", node.Kind)
	}
	*ls = LiteralString(node.Value)
	return nil
}

// SingleQuotedString forces single-quoted style in YAML output. Used by
// generated definitions so version strings never get reinterpreted.
type SingleQuotedString string

// MarshalYAML implements the yaml.Marshaler interface.
func (s SingleQuotedString) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{
		Kind:  yaml.ScalarNode,
		Style: yaml.SingleQuotedStyle,
		Value: string(s),
	}
	return node, nil
}
