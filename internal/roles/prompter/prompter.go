package prompter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haricheung/thor-planner/internal/types"
	"github.com/haricheung/thor-planner/internal/vocab"
)

const systemPrompt = `You are an AI2-THOR action planner for a household robot. Translate the task goal into the sequence of simulator actions that accomplishes it.

Allowed actions (vocabulary %s):
%s
Argument rules:
- object_id and receptacle_id are simulator object ids such as Mug_1, CounterTop_1 or Mug|+00.12|+00.90|-01.30. Prefer ids that appear in the scene metadata.
- number arguments are plain decimals (1.25, -0.5).
- enum arguments must be one of the listed values.

Sequence rules:
- Actions run strictly in the order you write them.
- To repeat a movement, write the action again on the next line (MoveAhead twice = two lines).
- The robot holds at most one object; put or drop it before picking up another.
- If actions were already executed in this trial, continue from the state they left; do not repeat them.
- Finish with Done().

Output ONLY the plan, one action per line, each written as Verb(arg1, arg2).
No numbering, no markdown, no prose, no code fences.`

// Params are the fixed generation parameters attached to every request.
type Params struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// Builder renders validated payloads into planning requests. It holds only
// read-only configuration, so one Builder serves any number of concurrent requests.
type Builder struct {
	voc    *vocab.Vocabulary
	params Params
	system string
}

// New creates a Builder. The system prompt is rendered once here since it
// depends only on the vocabulary.
func New(voc *vocab.Vocabulary, params Params) *Builder {
	return &Builder{
		voc:    voc,
		params: params,
		system: fmt.Sprintf(systemPrompt, voc.Version, voc.Describe()),
	}
}

// Build renders p into a PlanningRequest. It is pure: the same payload always
// produces byte-identical prompt text, and it never fails.
//
// Expectations:
//   - System prompt lists every vocabulary action with its arguments
//   - User prompt carries the task id and goal verbatim
//   - Metadata is rendered as indented JSON with sorted keys
//   - Prior history is listed in order as Verb(args) with a continue instruction
//   - Generation parameters are copied from the Builder's Params
func (b *Builder) Build(p types.TrialPayload) types.PlanningRequest {
	return types.PlanningRequest{
		TaskID:            p.TaskID,
		Model:             b.params.Model,
		System:            b.system,
		User:              renderUser(p),
		Temperature:       b.params.Temperature,
		MaxTokens:         b.params.MaxTokens,
		VocabularyVersion: b.voc.Version,
	}
}

func renderUser(p types.TrialPayload) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task ID: %s\n", p.TaskID)
	fmt.Fprintf(&sb, "Goal: %s\n", p.Goal)

	if len(p.Metadata) > 0 {
		sb.WriteString("\nScene metadata:\n")
		sb.WriteString(renderMetadata(p.Metadata))
		sb.WriteString("\n")
	}

	if len(p.History) == 0 {
		sb.WriteString("\nNo actions have been executed yet in this trial.\n")
	} else {
		sb.WriteString("\nActions already executed in this trial (continue after the last one):\n")
		for i, s := range p.History {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, s.String())
		}
	}
	sb.WriteString("\nPlan:")
	return sb.String()
}

// renderMetadata uses encoding/json, which sorts map keys, so the output is
// stable across calls.
func renderMetadata(m map[string]any) string {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", m)
	}
	return string(b)
}
