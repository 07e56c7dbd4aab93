package tool

import (
	"errors"
	"fmt"

	gwerrors "vita/internal/errors"
)

var errNilTool = errors.New("nil tool")

// ValidateArgs checks the argument bag against the tool's declared
// parameters: required names must be present and non-null, and provided
// values must match the declared shape (type, enum, numeric bounds, regex
// pattern). Extra arguments without a spec are allowed. On failure it
// returns an InvalidParameters gateway error enumerating the offending
// names.
func ValidateArgs(t *Tool, args map[string]any) error {
	var missing, invalid []string

	for _, name := range t.RequiredNames() {
		val, ok := args[name]
		if !ok || val == nil {
			missing = append(missing, name)
		}
	}

	for name, val := range args {
		spec, ok := t.Param(name)
		if !ok || val == nil {
			continue
		}
		if err := checkShape(spec, val); err != nil {
			invalid = append(invalid, name)
		}
	}

	if len(missing) > 0 || len(invalid) > 0 {
		return gwerrors.NewInvalidParameters(t.Name, missing, invalid)
	}
	return nil
}

// ApplyDefaults returns a copy of args with declared defaults filled in for
// absent optional parameters. The input map is never mutated.
func ApplyDefaults(t *Tool, args map[string]any) map[string]any {
	out := make(map[string]any, len(args)+len(t.Parameters))
	for key, val := range args {
		out[key] = val
	}
	for i := range t.Parameters {
		spec := &t.Parameters[i]
		if spec.Default == nil {
			continue
		}
		if _, ok := out[spec.Name]; !ok {
			out[spec.Name] = spec.Default
		}
	}
	return out
}

func checkShape(spec *ParameterSpec, val any) error {
	if err := checkType(spec.Type, val); err != nil {
		return err
	}
	if len(spec.Enum) > 0 && !enumContains(spec.Enum, val) {
		return fmt.Errorf("value not in enum")
	}
	if num, ok := asFloat(val); ok {
		if spec.Minimum != nil && num < *spec.Minimum {
			return fmt.Errorf("below minimum %v", *spec.Minimum)
		}
		if spec.Maximum != nil && num > *spec.Maximum {
			return fmt.Errorf("above maximum %v", *spec.Maximum)
		}
	}
	if spec.pattern != nil {
		str, ok := val.(string)
		if !ok || !spec.pattern.MatchString(str) {
			return fmt.Errorf("pattern mismatch")
		}
	}
	return nil
}

// checkType is lenient about numbers: JSON unmarshals every number as
// float64, so integer parameters accept whole-valued floats.
func checkType(expected ParamType, val any) error {
	switch expected {
	case "", TypeNull:
		return nil
	case TypeString:
		if _, ok := val.(string); !ok {
			return fmt.Errorf("expected string, got %T", val)
		}
	case TypeInteger:
		switch v := val.(type) {
		case int, int32, int64:
		case float64:
			if v != float64(int64(v)) {
				return fmt.Errorf("expected integer, got fractional %v", v)
			}
		case float32:
			if v != float32(int64(v)) {
				return fmt.Errorf("expected integer, got fractional %v", v)
			}
		default:
			return fmt.Errorf("expected integer, got %T", val)
		}
	case TypeFloat:
		switch val.(type) {
		case float64, float32, int, int32, int64:
		default:
			return fmt.Errorf("expected number, got %T", val)
		}
	case TypeBoolean:
		if _, ok := val.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", val)
		}
	case TypeArray:
		if _, ok := val.([]any); !ok {
			return fmt.Errorf("expected array, got %T", val)
		}
	case TypeObject:
		if _, ok := val.(map[string]any); !ok {
			return fmt.Errorf("expected object, got %T", val)
		}
	default:
		return fmt.Errorf("unknown declared type %q", expected)
	}
	return nil
}

func enumContains(enum []any, val any) bool {
	for _, allowed := range enum {
		if equalLoose(allowed, val) {
			return true
		}
	}
	return false
}

// equalLoose compares enum members treating all numeric types as float64.
func equalLoose(a, b any) bool {
	if fa, ok := asFloat(a); ok {
		fb, okB := asFloat(b)
		return okB && fa == fb
	}
	return a == b
}

func asFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
