package normalizer

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/haricheung/thor-planner/internal/llm"
	"github.com/haricheung/thor-planner/internal/types"
	"github.com/haricheung/thor-planner/internal/vocab"
)

// listMarker matches "1.", "2)", "-", "*" or "•" prefixes the model adds despite instructions.
var listMarker = regexp.MustCompile(`^(?:\d+[.)]|[-*•])\s+`)

// Normalizer turns raw model output into a vocabulary-checked ActionList.
// It is stateless; one instance serves every request.
type Normalizer struct {
	voc    *vocab.Vocabulary
	logger *zap.Logger
}

// New creates a Normalizer.
func New(voc *vocab.Vocabulary, logger *zap.Logger) *Normalizer {
	return &Normalizer{voc: voc, logger: logger.Named("normalizer")}
}

type candidate struct {
	line  int
	input string
	verb  string
	args  []string
	err   error
}

// Normalize parses raw into an ActionList, dropping individually malformed
// steps with a diagnostic each.
//
// Expectations:
//   - Accepts one Verb(args) per line, a JSON array of strings or action
//     objects, {"actions": [...]} and {"<task_id>": [...]}
//   - Strips code fences, <think> blocks, list markers and blank lines
//   - Verbs match case-insensitively and take canonical casing
//   - A step with an unknown verb or wrong arity is dropped and diagnosed
//   - Order is preserved; duplicates are kept; indexes are renumbered from 0
//   - If nothing survives, returns *types.NormalizationError{empty_after_filtering}
//     carrying every diagnostic
func (n *Normalizer) Normalize(taskID, raw string) (types.ActionList, []types.Diagnostic, error) {
	text := llm.StripFences(raw)

	cands, ok := n.fromJSON(taskID, text)
	if !ok {
		cands = n.fromLines(text)
	}

	var (
		list  types.ActionList
		diags []types.Diagnostic
	)
	for _, c := range cands {
		err := c.err
		var (
			verb   string
			args   []string
			params map[string]any
		)
		if err == nil {
			verb, args, params, err = n.voc.Check(c.verb, c.args)
		}
		if err != nil {
			diags = append(diags, types.Diagnostic{Line: c.line, TaskID: taskID, Input: c.input, Reason: err.Error()})
			continue
		}
		list = append(list, types.ActionStep{Index: len(list), Action: verb, Args: args, Params: params})
	}

	for _, d := range diags {
		n.logger.Warn("step dropped", zap.String("task_id", taskID), zap.Int("line", d.Line),
			zap.String("input", d.Input), zap.String("reason", d.Reason))
	}

	if len(list) == 0 {
		if len(diags) == 0 {
			diags = []types.Diagnostic{{TaskID: taskID, Reason: "planner output contained no actions"}}
		}
		return nil, diags, &types.NormalizationError{Code: types.CodeEmptyAfterFiltering, Diagnostics: diags}
	}
	n.logger.Debug("plan normalized", zap.String("task_id", taskID),
		zap.Int("steps", len(list)), zap.Int("dropped", len(diags)))
	return list, diags, nil
}

func (n *Normalizer) fromLines(text string) []candidate {
	var out []candidate
	for i, line := range strings.Split(text, "\n") {
		s := strings.TrimSpace(line)
		s = listMarker.ReplaceAllString(s, "")
		s = strings.Trim(s, "`")
		if s == "" {
			continue
		}
		verb, args, err := vocab.ParseCall(s)
		out = append(out, candidate{line: i + 1, input: s, verb: verb, args: args, err: err})
	}
	return out
}

// fromJSON reports false when text is not one of the accepted JSON shapes,
// in which case it is parsed line by line instead. The reply artifact shape
// {"actions": {"<task_id>": [...]}} is unwrapped to its per-trial map.
func (n *Normalizer) fromJSON(taskID, text string) ([]candidate, bool) {
	if !strings.HasPrefix(text, "[") && !strings.HasPrefix(text, "{") {
		return nil, false
	}
	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return nil, false
	}

	var items []any
	switch v := decoded.(type) {
	case []any:
		items = v
	case map[string]any:
		if byID, ok := v["actions"].(map[string]any); ok {
			v = byID
		}
		switch {
		case isList(v["actions"]):
			items = v["actions"].([]any)
		case isList(v[taskID]):
			items = v[taskID].([]any)
		case len(v) == 1 && isList(firstValue(v)):
			items = firstValue(v).([]any)
		case v["action"] != nil:
			items = []any{v}
		default:
			return nil, false
		}
	default:
		return nil, false
	}

	out := make([]candidate, 0, len(items))
	for i, item := range items {
		c := candidate{line: i + 1}
		switch it := item.(type) {
		case string:
			c.input = it
			c.verb, c.args, c.err = vocab.ParseCall(it)
		case map[string]any:
			b, _ := json.Marshal(it)
			c.input = string(b)
			c.verb, c.args, c.err = n.fromDict(it)
		default:
			b, _ := json.Marshal(it)
			c.input = string(b)
			c.err = fmt.Errorf("expected action string or object")
		}
		out = append(out, c)
	}
	return out, true
}

// fromDict reads {"action": "PutObject", "args": ["Table_1"]} or the
// named-parameter form {"action": "PutObject", "receptacle_id": "Table_1"}.
// Named parameters that the verb does not declare are ignored.
func (n *Normalizer) fromDict(m map[string]any) (string, []string, error) {
	verb, ok := m["action"].(string)
	if !ok || strings.TrimSpace(verb) == "" {
		return "", nil, fmt.Errorf("missing action name")
	}
	args := []string{}
	if raw, ok := m["args"].([]any); ok {
		for _, a := range raw {
			args = append(args, argString(a))
		}
		return verb, args, nil
	}
	if a, known := n.voc.Lookup(verb); known {
		for _, p := range a.Params {
			if val, ok := m[p.Name]; ok && val != nil && val != "" {
				args = append(args, argString(val))
			}
		}
	}
	return verb, args, nil
}

func isList(v any) bool {
	_, ok := v.([]any)
	return ok
}

func firstValue(m map[string]any) any {
	for _, v := range m {
		return v
	}
	return nil
}

func argString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%g", t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
