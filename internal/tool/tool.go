package tool

import (
	"context"
	"fmt"
	"regexp"
	"slices"
)

// Category partitions the catalog for discovery and listing.
type Category string

const (
	CategoryNutrition Category = "nutrition"
	CategoryRecipes   Category = "recipes"
	CategoryGrocery   Category = "grocery"
	CategoryHealth    Category = "health"
	CategoryOrdering  Category = "ordering"
	CategoryTracking  Category = "tracking"
	CategoryAnalysis  Category = "analysis"
	CategoryExternal  Category = "external"
)

// Categories lists every recognized category in declaration order.
func Categories() []Category {
	return []Category{
		CategoryNutrition,
		CategoryRecipes,
		CategoryGrocery,
		CategoryHealth,
		CategoryOrdering,
		CategoryTracking,
		CategoryAnalysis,
		CategoryExternal,
	}
}

// ParamType is the declared JSON type of a parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeFloat   ParamType = "float"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
	TypeNull    ParamType = "null"
)

// ParameterSpec declares one named parameter of a tool. Only presence and
// shape are enforced before dispatch; deep value validation belongs to the
// handler.
type ParameterSpec struct {
	Name        string    `json:"name" yaml:"name"`
	Type        ParamType `json:"type" yaml:"type"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool      `json:"required" yaml:"required"`
	Default     any       `json:"default,omitempty" yaml:"default,omitempty"`
	Enum        []any     `json:"enum,omitempty" yaml:"enum,omitempty"`
	Minimum     *float64  `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Maximum     *float64  `json:"maximum,omitempty" yaml:"maximum,omitempty"`
	Pattern     string    `json:"pattern,omitempty" yaml:"pattern,omitempty"`

	pattern *regexp.Regexp
}

// Tool is the immutable catalog description of a callable operation.
// Parameters preserve declaration order.
type Tool struct {
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description" yaml:"description"`
	Category    Category        `json:"category" yaml:"category"`
	Version     string          `json:"version,omitempty" yaml:"version,omitempty"`
	Author      string          `json:"author,omitempty" yaml:"author,omitempty"`
	Tags        []string        `json:"tags,omitempty" yaml:"tags,omitempty"`
	Parameters  []ParameterSpec `json:"parameters" yaml:"parameters"`
	Required    []string        `json:"required,omitempty" yaml:"required,omitempty"`

	// RateLimitPerMinute overrides the gateway default when > 0.
	RateLimitPerMinute int `json:"rate_limit_per_minute,omitempty" yaml:"rate_limit_per_minute,omitempty"`
}

// Handler is the executable behavior bound to a tool. Arguments arrive
// validated against the ParameterSpec set; caller identifies the user on
// whose behalf the call runs.
type Handler func(ctx context.Context, args map[string]any, caller string) (any, error)

// Validate checks the registration-time invariants: every required name must
// exist as a declared parameter, the category must be recognized, parameter
// names must be unique, and regex patterns must compile. Patterns are
// compiled in place so dispatch never compiles them again.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if !slices.Contains(Categories(), t.Category) {
		return fmt.Errorf("tool %s: unknown category %q", t.Name, t.Category)
	}

	seen := make(map[string]bool, len(t.Parameters))
	for i := range t.Parameters {
		spec := &t.Parameters[i]
		if spec.Name == "" {
			return fmt.Errorf("tool %s: parameter %d has no name", t.Name, i)
		}
		if seen[spec.Name] {
			return fmt.Errorf("tool %s: duplicate parameter %q", t.Name, spec.Name)
		}
		seen[spec.Name] = true
		if spec.Pattern != "" {
			compiled, err := regexp.Compile(spec.Pattern)
			if err != nil {
				return fmt.Errorf("tool %s: parameter %q pattern: %w", t.Name, spec.Name, err)
			}
			spec.pattern = compiled
		}
	}

	for _, name := range t.Required {
		if !seen[name] {
			return fmt.Errorf("tool %s: required parameter %q is not declared", t.Name, name)
		}
	}
	return nil
}

// Param returns the spec for the named parameter.
func (t *Tool) Param(name string) (*ParameterSpec, bool) {
	for i := range t.Parameters {
		if t.Parameters[i].Name == name {
			return &t.Parameters[i], true
		}
	}
	return nil, false
}

// IsRequired reports whether name is in the required subset. A parameter
// marked Required in its spec counts as well.
func (t *Tool) IsRequired(name string) bool {
	if slices.Contains(t.Required, name) {
		return true
	}
	spec, ok := t.Param(name)
	return ok && spec.Required
}

// RequiredNames returns the union of the required subset and parameters
// flagged Required, in declaration order.
func (t *Tool) RequiredNames() []string {
	var names []string
	for i := range t.Parameters {
		if t.IsRequired(t.Parameters[i].Name) {
			names = append(names, t.Parameters[i].Name)
		}
	}
	for _, name := range t.Required {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	return names
}
