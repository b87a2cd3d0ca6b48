package processing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

type ParamType string

const (
	ParamInt    ParamType = "int"
	ParamFloat  ParamType = "float"
	ParamString ParamType = "string"
	ParamSize   ParamType = "size"
)

// Size is a [width, height] pair.
type Size [2]int

func (s Size) Width() int  { return s[0] }
func (s Size) Height() int { return s[1] }

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s[0], s[1])
}

// ParamSpec describes one parameter a step accepts.
type ParamSpec struct {
	Name       string
	Type       ParamType
	Help       string
	Min        *float64
	Max        *float64
	Choices    []string
	Default    any
	Positional bool
}

// Range returns min and max pointers for a ParamSpec literal.
func Range(min, max float64) (*float64, *float64) {
	return &min, &max
}

func (s ParamSpec) rules() string {
	var parts []string
	if s.Min != nil {
		parts = append(parts, "gte="+strconv.FormatFloat(*s.Min, 'f', -1, 64))
	}
	if s.Max != nil {
		parts = append(parts, "lte="+strconv.FormatFloat(*s.Max, 'f', -1, 64))
	}
	if len(s.Choices) > 0 {
		parts = append(parts, "oneof="+strings.Join(s.Choices, " "))
	}
	return strings.Join(parts, ",")
}

// Params is the typed parameter set handed to a step. Keys absent from
// the map were not requested; steps fall back to their configured
// defaults for them.
type Params map[string]any

func (p Params) Has(name string) bool {
	_, ok := p[name]
	return ok
}

func (p Params) Int(name string, def int) int {
	if v, ok := p[name].(int); ok {
		return v
	}
	return def
}

func (p Params) Float(name string, def float64) float64 {
	if v, ok := p[name].(float64); ok {
		return v
	}
	return def
}

func (p Params) String(name string, def string) string {
	if v, ok := p[name].(string); ok {
		return v
	}
	return def
}

func (p Params) Size(name string, def Size) Size {
	if v, ok := p[name].(Size); ok {
		return v
	}
	return def
}

var paramValidate = validator.New()

func findSpec(specs []ParamSpec, name string) (ParamSpec, bool) {
	for _, s := range specs {
		if s.Name == name {
			return s, true
		}
	}
	return ParamSpec{}, false
}

// ArgsToRequest converts flat string values into Params. Empty values are
// treated as unset.
func ArgsToRequest(specs []ParamSpec, flat map[string]string) (Params, error) {
	out := make(Params, len(flat))
	for name, raw := range flat {
		spec, ok := findSpec(specs, name)
		if !ok {
			return nil, InvalidParams("unknown parameter %q", name)
		}
		if strings.TrimSpace(raw) == "" {
			continue
		}
		v, err := parseString(spec, raw)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, validateParams(specs, out)
}

// Normalize converts a decoded JSON payload into Params.
func Normalize(specs []ParamSpec, raw map[string]any) (Params, error) {
	out := make(Params, len(raw))
	for name, value := range raw {
		spec, ok := findSpec(specs, name)
		if !ok {
			return nil, InvalidParams("unknown parameter %q", name)
		}
		if value == nil {
			continue
		}
		v, err := coerce(spec, value)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, validateParams(specs, out)
}

// ParseArgs parses command line style arguments: "--name value",
// "--name=value", "--size W H" and bare positional values in spec order.
func ParseArgs(specs []ParamSpec, args []string) (Params, error) {
	flat := make(map[string]string)
	var positional []ParamSpec
	for _, s := range specs {
		if s.Positional {
			positional = append(positional, s)
		}
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			if len(positional) == 0 {
				return nil, InvalidParams("unexpected argument %q", arg)
			}
			flat[positional[0].Name] = arg
			positional = positional[1:]
			continue
		}

		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		name = strings.ReplaceAll(name, "-", "_")
		spec, ok := findSpec(specs, name)
		if !ok {
			return nil, InvalidParams("unknown option --%s", name)
		}
		if !hasValue {
			need := 1
			if spec.Type == ParamSize {
				need = 2
			}
			if i+need >= len(args) {
				return nil, InvalidParams("option --%s needs %d value(s)", name, need)
			}
			value = strings.Join(args[i+1:i+1+need], " ")
			i += need
		}
		flat[name] = value
	}

	for _, s := range positional {
		if s.Default == nil {
			return nil, InvalidParams("missing argument %q", s.Name)
		}
		flat[s.Name] = fmt.Sprint(s.Default)
	}
	return ArgsToRequest(specs, flat)
}

func parseString(spec ParamSpec, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch spec.Type {
	case ParamInt:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, InvalidParams("%s: %q is not an integer", spec.Name, raw)
		}
		return v, nil
	case ParamFloat:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, InvalidParams("%s: %q is not a number", spec.Name, raw)
		}
		return v, nil
	case ParamSize:
		fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == 'x' || r == ' ' })
		if len(fields) != 2 {
			return nil, InvalidParams("%s: %q is not a size", spec.Name, raw)
		}
		w, err1 := strconv.Atoi(fields[0])
		h, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			return nil, InvalidParams("%s: %q is not a size", spec.Name, raw)
		}
		return Size{w, h}, nil
	default:
		return raw, nil
	}
}

func coerce(spec ParamSpec, value any) (any, error) {
	if s, ok := value.(string); ok && spec.Type != ParamString {
		return parseString(spec, s)
	}

	switch spec.Type {
	case ParamInt:
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v != float64(int(v)) {
				return nil, InvalidParams("%s: %v is not an integer", spec.Name, v)
			}
			return int(v), nil
		case json.Number:
			return parseString(spec, v.String())
		}
	case ParamFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case json.Number:
			return parseString(spec, v.String())
		}
	case ParamString:
		if v, ok := value.(string); ok {
			return v, nil
		}
	case ParamSize:
		switch v := value.(type) {
		case Size:
			return v, nil
		case [2]int:
			return Size(v), nil
		case []int:
			if len(v) == 2 {
				return Size{v[0], v[1]}, nil
			}
		case []any:
			if len(v) == 2 {
				w, err1 := coerce(ParamSpec{Name: spec.Name, Type: ParamInt}, v[0])
				h, err2 := coerce(ParamSpec{Name: spec.Name, Type: ParamInt}, v[1])
				if err1 == nil && err2 == nil {
					return Size{w.(int), h.(int)}, nil
				}
			}
		}
	}
	return nil, InvalidParams("%s: unsupported value %v", spec.Name, value)
}

func validateParams(specs []ParamSpec, p Params) error {
	for _, spec := range specs {
		v, ok := p[spec.Name]
		if !ok {
			continue
		}
		rules := spec.rules()
		if rules == "" && spec.Type != ParamSize {
			continue
		}

		var err error
		switch val := v.(type) {
		case Size:
			sizeRules := "gte=1"
			if rules != "" {
				sizeRules += "," + rules
			}
			if err = paramValidate.Var(val[0], sizeRules); err == nil {
				err = paramValidate.Var(val[1], sizeRules)
			}
		default:
			err = paramValidate.Var(val, rules)
		}
		if err != nil {
			return InvalidParams("%s: %v violates %s", spec.Name, v, rules).Wrap(err)
		}
	}
	return nil
}
