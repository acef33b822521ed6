package solver

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind is the type of one solver parameter.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindString
	KindBool
	KindStrings
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "str"
	case KindBool:
		return "bool"
	case KindStrings:
		return "[]str"
	default:
		return "unknown"
	}
}

// Field declares one named, typed parameter with its default.
type Field struct {
	Name     string
	Kind     Kind
	Default  any
	Required bool
}

// Schema is the parameter set accepted by one solver variant.
type Schema []Field

func (s Schema) field(name string) (Field, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Values holds parameters validated against a Schema. Stored values are int,
// float64, string, bool or []string according to the field kind.
type Values map[string]any

func (v Values) Int(name string) int {
	i, _ := v[name].(int)
	return i
}

func (v Values) Float(name string) float64 {
	f, _ := v[name].(float64)
	return f
}

func (v Values) String(name string) string {
	s, _ := v[name].(string)
	return s
}

func (v Values) Bool(name string) bool {
	b, _ := v[name].(bool)
	return b
}

func (v Values) Strings(name string) []string {
	s, _ := v[name].([]string)
	return append([]string(nil), s...)
}

// Names returns the parameter names in v, sorted.
func (v Values) Names() []string {
	out := make([]string, 0, len(v))
	for k := range v {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Parse applies defaults, then legacy "name{type}=value" strings, then typed
// options. Any name missing from the schema, malformed string or kind
// mismatch is ErrParameterFormat.
func (s Schema) Parse(legacy []string, options map[string]any) (Values, error) {
	out := make(Values, len(s))
	for _, f := range s {
		if f.Default != nil {
			out[f.Name] = f.Default
		}
	}
	for _, raw := range legacy {
		name, kind, value, err := splitTagged(raw)
		if err != nil {
			return nil, err
		}
		f, ok := s.field(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown parameter %q", ErrParameterFormat, name)
		}
		v, err := parseTagged(f, kind, value)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	names := make([]string, 0, len(options))
	for name := range options {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f, ok := s.field(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown parameter %q", ErrParameterFormat, name)
		}
		v, err := coerce(f, options[name])
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	for _, f := range s {
		if _, ok := out[f.Name]; f.Required && !ok {
			return nil, fmt.Errorf("%w: parameter %q is required", ErrParameterFormat, f.Name)
		}
	}
	return out, nil
}

// splitTagged splits "name{type}=value".
func splitTagged(raw string) (string, string, string, error) {
	open := strings.IndexByte(raw, '{')
	closing := strings.IndexByte(raw, '}')
	eq := strings.IndexByte(raw, '=')
	if open <= 0 || closing < open || eq != closing+1 {
		return "", "", "", fmt.Errorf("%w: %q does not match name{type}=value", ErrParameterFormat, raw)
	}
	name := strings.TrimSpace(raw[:open])
	if name == "" {
		return "", "", "", fmt.Errorf("%w: %q has an empty name", ErrParameterFormat, raw)
	}
	return name, raw[open+1 : closing], raw[eq+1:], nil
}

func parseTagged(f Field, kind, value string) (any, error) {
	mismatch := func() error {
		return fmt.Errorf("%w: %s is %s, tagged %q", ErrParameterFormat, f.Name, f.Kind, kind)
	}
	bad := func(err error) error {
		return fmt.Errorf("%w: %s{%s}=%q: %v", ErrParameterFormat, f.Name, kind, value, err)
	}
	switch kind {
	case "int":
		if f.Kind != KindInt {
			return nil, mismatch()
		}
		i, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, bad(err)
		}
		return i, nil
	case "float":
		if f.Kind != KindFloat {
			return nil, mismatch()
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, bad(err)
		}
		return x, nil
	case "bool":
		if f.Kind != KindBool {
			return nil, mismatch()
		}
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return nil, bad(err)
		}
		return b, nil
	case "str":
		switch f.Kind {
		case KindString:
			return value, nil
		case KindStrings:
			if strings.TrimSpace(value) == "" {
				return []string{}, nil
			}
			return strings.Fields(value), nil
		}
		return nil, mismatch()
	default:
		return nil, fmt.Errorf("%w: %s has unknown type tag %q", ErrParameterFormat, f.Name, kind)
	}
}

// coerce maps decoded TOML values (int64, float64, string, bool, []any) onto
// the field kind. Integers are accepted for float fields.
func coerce(f Field, raw any) (any, error) {
	mismatch := fmt.Errorf("%w: %s is %s, got %T", ErrParameterFormat, f.Name, f.Kind, raw)
	switch f.Kind {
	case KindInt:
		switch v := raw.(type) {
		case int64:
			return int(v), nil
		case int:
			return v, nil
		}
	case KindFloat:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		case int:
			return float64(v), nil
		}
	case KindString:
		if v, ok := raw.(string); ok {
			return v, nil
		}
	case KindBool:
		if v, ok := raw.(bool); ok {
			return v, nil
		}
	case KindStrings:
		switch v := raw.(type) {
		case []string:
			return append([]string(nil), v...), nil
		case []any:
			out := make([]string, len(v))
			for i, e := range v {
				s, ok := e.(string)
				if !ok {
					return nil, mismatch
				}
				out[i] = s
			}
			return out, nil
		}
	}
	return nil, mismatch
}
