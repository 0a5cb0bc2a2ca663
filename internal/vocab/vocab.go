// Package vocab holds the simulator action vocabulary shared by the prompt
// builder (which describes it) and the normalizer (which enforces it).
//
// The vocabulary is decoded once from the embedded vocabulary.yaml and is
// immutable afterwards; every request reads the same *Vocabulary.
package vocab

import (
	_ "embed"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed vocabulary.yaml
var embedded []byte

// ParamType is the shape of one action argument.
type ParamType string

const (
	TypeObject ParamType = "object"
	TypeNumber ParamType = "number"
	TypeEnum   ParamType = "enum"
)

var objectIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_|.+\-]*$`)

// Param declares one positional argument.
type Param struct {
	Name   string    `yaml:"name"`
	Type   ParamType `yaml:"type"`
	Values []string  `yaml:"values,omitempty"`
}

// Action declares one verb and its arity.
type Action struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Params      []Param `yaml:"params,omitempty"`
}

// Arity is the number of positional arguments the action takes.
func (a Action) Arity() int { return len(a.Params) }

// Signature renders the call form shown to the model, e.g. PutObject(receptacle_id).
func (a Action) Signature() string {
	names := make([]string, len(a.Params))
	for i, p := range a.Params {
		switch p.Type {
		case TypeEnum:
			names[i] = p.Name + ":" + strings.Join(p.Values, "|")
		case TypeNumber:
			names[i] = p.Name + ":number"
		default:
			names[i] = p.Name
		}
	}
	return fmt.Sprintf("%s(%s)", a.Name, strings.Join(names, ", "))
}

// Vocabulary is the versioned, read-only lookup table of actions.
type Vocabulary struct {
	Version string   `yaml:"version"`
	Actions []Action `yaml:"actions"`

	byName map[string]int
}

var (
	defaultOnce sync.Once
	defaultVoc  *Vocabulary
	defaultErr  error
)

// Default returns the embedded vocabulary. It panics if the embedded file is
// invalid, which can only happen with a broken build.
func Default() *Vocabulary {
	defaultOnce.Do(func() {
		defaultVoc, defaultErr = FromYAML(embedded)
	})
	if defaultErr != nil {
		panic(fmt.Sprintf("vocab: embedded vocabulary: %v", defaultErr))
	}
	return defaultVoc
}

// FromYAML decodes and validates a vocabulary document.
func FromYAML(data []byte) (*Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse vocabulary: %w", err)
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	v.byName = make(map[string]int, len(v.Actions))
	for i, a := range v.Actions {
		v.byName[strings.ToLower(a.Name)] = i
	}
	return &v, nil
}

// Validate ensures the document is usable: versioned, non-empty, unique
// names, known parameter types, enums with values.
func (v *Vocabulary) Validate() error {
	if v.Version == "" {
		return fmt.Errorf("vocabulary.version is required")
	}
	if len(v.Actions) == 0 {
		return fmt.Errorf("vocabulary.actions is empty")
	}
	seen := make(map[string]bool, len(v.Actions))
	for _, a := range v.Actions {
		if a.Name == "" {
			return fmt.Errorf("action with empty name")
		}
		key := strings.ToLower(a.Name)
		if seen[key] {
			return fmt.Errorf("duplicate action %s", a.Name)
		}
		seen[key] = true
		for _, p := range a.Params {
			switch p.Type {
			case TypeObject, TypeNumber:
			case TypeEnum:
				if len(p.Values) == 0 {
					return fmt.Errorf("action %s param %s: enum without values", a.Name, p.Name)
				}
			default:
				return fmt.Errorf("action %s param %s: unknown type %q", a.Name, p.Name, p.Type)
			}
		}
	}
	return nil
}

// Lookup finds an action by name, case-insensitively.
func (v *Vocabulary) Lookup(verb string) (Action, bool) {
	i, ok := v.byName[strings.ToLower(strings.TrimSpace(verb))]
	if !ok {
		return Action{}, false
	}
	return v.Actions[i], true
}

// Names returns the canonical action names in declaration order.
func (v *Vocabulary) Names() []string {
	out := make([]string, len(v.Actions))
	for i, a := range v.Actions {
		out[i] = a.Name
	}
	return out
}

// Check validates args against the named action and returns the canonical
// verb, canonicalized args, and the same values keyed by parameter name.
//
// Expectations:
//   - Unknown verb → error "unknown action"
//   - Arity mismatch → error naming expected and actual counts
//   - Object args must match the object-id pattern
//   - Number args must parse as float64 and are kept as written
//   - Enum args match case-insensitively and take the declared casing
func (v *Vocabulary) Check(verb string, args []string) (string, []string, map[string]any, error) {
	a, ok := v.Lookup(verb)
	if !ok {
		return "", nil, nil, fmt.Errorf("unknown action %q", verb)
	}
	if len(args) != a.Arity() {
		return "", nil, nil, fmt.Errorf("%s takes %d argument(s), got %d", a.Name, a.Arity(), len(args))
	}
	canon := make([]string, len(args))
	params := make(map[string]any, len(args))
	for i, p := range a.Params {
		raw := strings.TrimSpace(args[i])
		switch p.Type {
		case TypeObject:
			if !objectIDPattern.MatchString(raw) {
				return "", nil, nil, fmt.Errorf("%s: %s %q is not an object id", a.Name, p.Name, raw)
			}
			canon[i] = raw
			params[p.Name] = raw
		case TypeNumber:
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return "", nil, nil, fmt.Errorf("%s: %s %q is not a number", a.Name, p.Name, raw)
			}
			canon[i] = raw
			params[p.Name] = f
		case TypeEnum:
			val, ok := matchEnum(p.Values, raw)
			if !ok {
				return "", nil, nil, fmt.Errorf("%s: %s must be one of %s, got %q", a.Name, p.Name, strings.Join(p.Values, "|"), raw)
			}
			canon[i] = val
			params[p.Name] = val
		}
	}
	return a.Name, canon, params, nil
}

func matchEnum(values []string, raw string) (string, bool) {
	for _, v := range values {
		if strings.EqualFold(v, raw) {
			return v, true
		}
	}
	return "", false
}

// Describe renders the vocabulary for the prompt, one action per line in
// declaration order. The output depends only on the vocabulary contents.
func (v *Vocabulary) Describe() string {
	var sb strings.Builder
	for _, a := range v.Actions {
		fmt.Fprintf(&sb, "- %s: %s\n", a.Signature(), a.Description)
	}
	return sb.String()
}
