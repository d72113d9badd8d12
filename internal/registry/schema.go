package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

type ParamType string

const (
	TypeString ParamType = "string"
	TypeNumber ParamType = "number"
	TypeBool   ParamType = "bool"
	TypeEnum   ParamType = "enum"
	TypePath   ParamType = "path"
	TypePhone  ParamType = "phone"
	TypeURL    ParamType = "url"
)

type Param struct {
	Name     string
	Type     ParamType
	Required bool
	Enum     []string
	Default  any
	// Help is shown to the language model next to the parameter name.
	Help string
}

// Schema declares what an action does and which parameters it accepts.
type Schema struct {
	Description string
	Params      []Param
}

func (s Schema) check() error {
	seen := make(map[string]bool, len(s.Params))
	for _, p := range s.Params {
		if p.Name == "" {
			return errors.New("schema: parameter without a name")
		}
		if seen[p.Name] {
			return fmt.Errorf("schema: parameter %q declared twice", p.Name)
		}
		seen[p.Name] = true
		switch p.Type {
		case TypeString, TypeNumber, TypeBool, TypePath, TypePhone, TypeURL:
		case TypeEnum:
			if len(p.Enum) == 0 {
				return fmt.Errorf("schema: enum parameter %q has no values", p.Name)
			}
		default:
			return fmt.Errorf("schema: parameter %q has unknown type %q", p.Name, p.Type)
		}
	}
	return nil
}

// ParamError lists every parameter that failed validation.
type ParamError struct {
	Problems []string
}

func (e *ParamError) Error() string {
	return "invalid parameters: " + strings.Join(e.Problems, "; ")
}

var validate = validator.New()

// Validate checks params against the schema and returns a normalised copy with
// defaults filled in. Unknown parameters are rejected.
func (s Schema) Validate(params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(s.Params))
	var problems []string

	declared := make(map[string]bool, len(s.Params))
	for _, p := range s.Params {
		declared[p.Name] = true

		raw, ok := params[p.Name]
		if !ok || raw == nil {
			if p.Required {
				problems = append(problems, fmt.Sprintf("%s is required", p.Name))
			} else if p.Default != nil {
				out[p.Name] = p.Default
			}
			continue
		}

		v, err := coerce(p, raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", p.Name, err))
			continue
		}
		out[p.Name] = v
	}

	for name := range params {
		if !declared[name] {
			problems = append(problems, fmt.Sprintf("%s is not a known parameter", name))
		}
	}

	if len(problems) > 0 {
		return nil, &ParamError{Problems: problems}
	}
	return out, nil
}

func coerce(p Param, raw any) (any, error) {
	switch p.Type {
	case TypeString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("want string, got %T", raw)
		}
		return s, nil

	case TypeNumber:
		return toNumber(raw)

	case TypeBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "yes", "on":
				return true, nil
			case "false", "no", "off":
				return false, nil
			}
		}
		return nil, fmt.Errorf("want bool, got %v", raw)

	case TypeEnum:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("want one of %v, got %T", p.Enum, raw)
		}
		for _, e := range p.Enum {
			if strings.EqualFold(e, strings.TrimSpace(s)) {
				return e, nil
			}
		}
		return nil, fmt.Errorf("%q is not one of %v", s, p.Enum)

	case TypePath:
		s, ok := raw.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, errors.New("want a non-empty path")
		}
		return expandPath(strings.TrimSpace(s)), nil

	case TypePhone:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("want phone number, got %T", raw)
		}
		phone := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "").Replace(s)
		if err := validate.Var(phone, "required,e164"); err != nil {
			return nil, fmt.Errorf("%q is not an E.164 phone number", s)
		}
		return phone, nil

	case TypeURL:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("want url, got %T", raw)
		}
		s = strings.TrimSpace(s)
		if err := validate.Var(s, "required,url"); err != nil {
			return nil, fmt.Errorf("%q is not a url", s)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown type %q", p.Type)
}

func toNumber(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", v)
		}
		return f, nil
	}
	return 0, fmt.Errorf("want number, got %T", raw)
}

func expandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return filepath.Clean(p)
}
