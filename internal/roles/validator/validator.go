package validator

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/haricheung/thor-planner/internal/types"
	"github.com/haricheung/thor-planner/internal/vocab"
)

// Accepted spellings for each canonical field, in lookup order. The first
// spelling is the canonical one reported in errors.
var (
	taskIDKeys   = []string{"task_id", "trial_id"}
	goalKeys     = []string{"goal", "goal_instruction", "instruction"}
	metadataKeys = []string{"metadata", "scene"}
	historyKeys  = []string{"history", "prior_actions"}
)

// Validator checks an incoming trial for required fields and structural
// well-formedness. It never looks at what the goal text means.
type Validator struct {
	voc    *vocab.Vocabulary
	logger *zap.Logger
}

// New creates a Validator.
func New(voc *vocab.Vocabulary, logger *zap.Logger) *Validator {
	return &Validator{voc: voc, logger: logger.Named("validator")}
}

// Validate decodes raw JSON and validates it as a single trial.
func (v *Validator) Validate(raw []byte) (types.TrialPayload, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return types.TrialPayload{}, types.WrongType("payload", "not valid JSON")
	}
	return v.ValidateValue(decoded)
}

// ValidateValue validates an already-decoded JSON value as a single trial.
// Undecoded bytes are accepted too and go through Validate.
//
// Expectations:
//   - Non-object input → wrong_type on "payload"
//   - task_id (or trial_id) absent, null or blank → missing_field "task_id"
//   - goal (or goal_instruction / instruction) absent, null or blank → missing_field "goal"
//   - task_id or goal present with a non-string value → wrong_type
//   - metadata (or scene), when present and non-null, must be an object
//   - history (or prior_actions), when present and non-null, must be an array
//     of "Verb(args)" strings or {"action": "..."} objects
//   - Returns every field exactly as supplied (strings are not trimmed)
func (v *Validator) ValidateValue(raw any) (types.TrialPayload, error) {
	if b, isBytes := raw.([]byte); isBytes {
		return v.Validate(b)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return types.TrialPayload{}, types.WrongType("payload", fmt.Sprintf("expected object, got %s", jsonKind(raw)))
	}

	taskID, err := requiredString(obj, taskIDKeys)
	if err != nil {
		return types.TrialPayload{}, err
	}
	goal, err := requiredString(obj, goalKeys)
	if err != nil {
		return types.TrialPayload{}, err
	}

	p := types.TrialPayload{TaskID: taskID, Goal: goal}

	if val, ok := lookup(obj, metadataKeys); ok {
		m, isMap := val.(map[string]any)
		if !isMap {
			return types.TrialPayload{}, types.WrongType(metadataKeys[0], fmt.Sprintf("expected object, got %s", jsonKind(val)))
		}
		p.Metadata = m
	}

	if val, ok := lookup(obj, historyKeys); ok {
		history, err := v.history(val)
		if err != nil {
			return types.TrialPayload{}, err
		}
		p.History = history
	}

	v.logger.Debug("trial validated",
		zap.String("task_id", p.TaskID),
		zap.Int("metadata_keys", len(p.Metadata)),
		zap.Int("history_len", len(p.History)))
	return p, nil
}

func (v *Validator) history(val any) ([]types.ActionStep, error) {
	field := historyKeys[0]
	items, ok := val.([]any)
	if !ok {
		return nil, types.WrongType(field, fmt.Sprintf("expected array, got %s", jsonKind(val)))
	}
	if len(items) == 0 {
		return nil, nil
	}
	out := make([]types.ActionStep, 0, len(items))
	for i, item := range items {
		switch it := item.(type) {
		case string:
			verb, args, err := vocab.ParseCall(it)
			if err != nil {
				return nil, types.WrongType(fmt.Sprintf("%s[%d]", field, i), err.Error())
			}
			out = append(out, types.ActionStep{Index: i, Action: verb, Args: args})
		case map[string]any:
			step, err := v.historyStep(i, it)
			if err != nil {
				return nil, err
			}
			out = append(out, step)
		default:
			return nil, types.WrongType(fmt.Sprintf("%s[%d]", field, i), fmt.Sprintf("expected string or object, got %s", jsonKind(item)))
		}
	}
	return out, nil
}

// historyStep reads {"action": "...", "args": [...]} or the named-parameter
// form {"action": "PutObject", "receptacle_id": "Table_1"}.
func (v *Validator) historyStep(i int, m map[string]any) (types.ActionStep, error) {
	field := fmt.Sprintf("%s[%d].action", historyKeys[0], i)
	verb, ok := m["action"].(string)
	if !ok || strings.TrimSpace(verb) == "" {
		if _, present := m["action"]; !present {
			return types.ActionStep{}, types.MissingField(field)
		}
		return types.ActionStep{}, types.WrongType(field, "expected non-empty string")
	}

	step := types.ActionStep{Index: i, Action: verb, Args: []string{}}
	if idx, ok := m["index"].(float64); ok {
		step.Index = int(idx)
	}
	if rawArgs, ok := m["args"]; ok && rawArgs != nil {
		list, ok := rawArgs.([]any)
		if !ok {
			return types.ActionStep{}, types.WrongType(fmt.Sprintf("%s[%d].args", historyKeys[0], i), "expected array")
		}
		for _, a := range list {
			step.Args = append(step.Args, scalarString(a))
		}
		return step, nil
	}
	if a, known := v.voc.Lookup(verb); known {
		for _, p := range a.Params {
			if val, ok := m[p.Name]; ok {
				step.Args = append(step.Args, scalarString(val))
			}
		}
	}
	return step, nil
}

// requiredString finds the first present spelling of a field and checks it
// is a non-blank string. Errors always name keys[0].
func requiredString(obj map[string]any, keys []string) (string, error) {
	val, ok := lookup(obj, keys)
	if !ok {
		return "", types.MissingField(keys[0])
	}
	s, isString := val.(string)
	if !isString {
		return "", types.WrongType(keys[0], fmt.Sprintf("expected string, got %s", jsonKind(val)))
	}
	if strings.TrimSpace(s) == "" {
		return "", types.MissingField(keys[0])
	}
	return s, nil
}

// lookup returns the first key present with a non-null value.
func lookup(obj map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if val, ok := obj[k]; ok && val != nil {
			return val, true
		}
	}
	return nil, false
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%g", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64, json.Number:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
