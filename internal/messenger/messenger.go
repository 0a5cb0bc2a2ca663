// Package messenger translates between A2A messages and the planning pipeline:
// inbound message text becomes one trial or a batch of trials, and outcomes
// and stage events become tasks and status updates.
package messenger

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/haricheung/thor-planner/internal/a2a"
	"github.com/haricheung/thor-planner/internal/types"
)

// ArtifactName is the name of the artifact carrying the planned actions.
const ArtifactName = "Actions"

// WorkingText is the first status a caller sees once planning starts.
const WorkingText = "Planning actions..."

// Inbound is the decoded content of one A2A message.
type Inbound struct {
	// Batch is set when the message carried {"trials": [...]}.
	Batch  bool
	Trials []any
}

// Decode extracts the trial (or trials) from msg. Text parts are joined and
// parsed as JSON; when there is no text, the first data part is used.
// Text that is not JSON is passed through undecoded so that validation
// reports it as a wrong_type payload.
//
// Expectations:
//   - {"trials": [...]} → Batch with one item per trial, in order
//   - any other JSON value → a single trial
//   - non-JSON text → a single []byte trial
//   - a message with neither text nor data → a single nil trial
func Decode(msg a2a.Message) Inbound {
	text := strings.TrimSpace(msg.Text())
	var value any
	switch {
	case text != "":
		if err := json.Unmarshal([]byte(text), &value); err != nil {
			return Inbound{Trials: []any{[]byte(text)}}
		}
	default:
		for _, p := range msg.Parts {
			if p.Kind == a2a.PartKindData && p.Data != nil {
				value = p.Data
				break
			}
		}
	}

	if obj, ok := value.(map[string]any); ok {
		if trials, ok := obj["trials"].([]any); ok {
			return Inbound{Batch: true, Trials: trials}
		}
	}
	return Inbound{Trials: []any{value}}
}

// Reply is the terminal result of a request in A2A terms.
type Reply struct {
	State    a2a.TaskState
	Status   *a2a.Message
	Artifact *a2a.Artifact
}

// Task renders r as a Task with the given ids.
func (r Reply) Task(taskID, contextID string, history ...a2a.Message) a2a.Task {
	t := a2a.Task{
		Kind:      "task",
		ID:        taskID,
		ContextID: contextID,
		Status:    a2a.NewStatus(r.State, r.Status),
		History:   history,
	}
	if r.Artifact != nil {
		t.Artifacts = []a2a.Artifact{*r.Artifact}
	}
	return t
}

// FinalEvent renders r as the closing status-update of a stream.
func (r Reply) FinalEvent(taskID, contextID string) a2a.TaskStatusUpdateEvent {
	return a2a.TaskStatusUpdateEvent{
		Kind:      "status-update",
		TaskID:    taskID,
		ContextID: contextID,
		Status:    a2a.NewStatus(r.State, r.Status),
		Final:     true,
	}
}

// ArtifactEvent renders the artifact of r, if any, as a stream event.
func (r Reply) ArtifactEvent(taskID, contextID string) (a2a.TaskArtifactUpdateEvent, bool) {
	if r.Artifact == nil {
		return a2a.TaskArtifactUpdateEvent{}, false
	}
	return a2a.TaskArtifactUpdateEvent{
		Kind:      "artifact-update",
		TaskID:    taskID,
		ContextID: contextID,
		Artifact:  *r.Artifact,
		LastChunk: true,
	}, true
}

// FromOutcome maps one trial's outcome onto a Reply.
//
// Expectations:
//   - Success → completed with an Actions artifact
//   - PartialFailure → completed with an Actions artifact whose data part
//     lists the diagnostics, and a status message naming the drop count
//   - Failure → failed, no artifact, status text names the error and a data
//     part carries error_kind, code and field
func FromOutcome(taskID, contextID string, out types.PlanningOutcome) Reply {
	if out.Failed() {
		return failedReply(taskID, contextID, out.Failure, out.Diagnostics)
	}
	artifact := actionsArtifact(map[string]types.ActionList{out.TaskID: out.Actions}, []types.PlanningOutcome{out}, out.Diagnostics)
	text := fmt.Sprintf("Planned %d action(s) for %s.", len(out.Actions), out.TaskID)
	if len(out.Diagnostics) > 0 {
		text = fmt.Sprintf("Planned %d action(s) for %s; %d step(s) dropped.", len(out.Actions), out.TaskID, len(out.Diagnostics))
	}
	return Reply{
		State:    a2a.TaskStateCompleted,
		Status:   a2a.NewAgentMessage(taskID, contextID, text),
		Artifact: artifact,
	}
}

// FromBatch maps a batch's outcomes onto a single Reply. The batch fails
// only when every trial failed; otherwise it completes with the successful
// trials' actions and each failed trial listed as a diagnostic. A task id
// repeated within the batch keeps its first plan; later ones are failed.
func FromBatch(taskID, contextID string, outs []types.PlanningOutcome) Reply {
	if len(outs) == 0 {
		return failedReply(taskID, contextID, &types.Failure{
			Kind:    types.KindValidation,
			Code:    types.CodeMissingField,
			Field:   "trials",
			Message: "validation: missing_field: trials: batch contains no trials",
		}, nil)
	}

	outs = append([]types.PlanningOutcome(nil), outs...)
	actions := make(map[string]types.ActionList)
	var diags []types.Diagnostic
	failed := 0
	for i, o := range outs {
		if o.Failed() {
			failed++
			diags = append(diags, types.Diagnostic{TaskID: o.TaskID, Reason: o.Failure.Message})
			diags = append(diags, o.Diagnostics...)
			continue
		}
		if _, dup := actions[o.TaskID]; dup {
			failed++
			outs[i] = duplicateOutcome(o)
			diags = append(diags, types.Diagnostic{TaskID: o.TaskID, Reason: outs[i].Failure.Message})
			continue
		}
		actions[o.TaskID] = o.Actions
		diags = append(diags, o.Diagnostics...)
	}

	if failed == len(outs) {
		f := &types.Failure{Kind: outs[0].Failure.Kind, Code: outs[0].Failure.Code, Field: outs[0].Failure.Field,
			Message: fmt.Sprintf("all %d trial(s) failed", len(outs))}
		return failedReply(taskID, contextID, f, diags)
	}

	text := fmt.Sprintf("Planned %d of %d trial(s).", len(outs)-failed, len(outs))
	return Reply{
		State:    a2a.TaskStateCompleted,
		Status:   a2a.NewAgentMessage(taskID, contextID, text),
		Artifact: actionsArtifact(actions, outs, diags),
	}
}

// duplicateOutcome fails a trial whose task id was already planned earlier
// in the same batch. The first plan for an id is the one reported.
func duplicateOutcome(o types.PlanningOutcome) types.PlanningOutcome {
	err := &types.ValidationError{
		Code:   types.CodeDuplicateID,
		Field:  "task_id",
		Detail: fmt.Sprintf("%q already planned earlier in this batch; plan not included", o.TaskID),
	}
	return types.FailureOf(o.TaskID, err, o.Attempts)
}

func failedReply(taskID, contextID string, f *types.Failure, diags []types.Diagnostic) Reply {
	msg := a2a.NewAgentMessage(taskID, contextID, f.Message)
	data := map[string]any{"error_kind": f.Kind}
	if f.Code != "" {
		data["code"] = f.Code
	}
	if f.Field != "" {
		data["field"] = f.Field
	}
	if len(diags) > 0 {
		data["diagnostics"] = diags
	}
	msg.Parts = append(msg.Parts, a2a.DataPart(data))
	return Reply{State: a2a.TaskStateFailed, Status: msg}
}

// actionsArtifact keeps the {"actions": {"<task_id>": [...]}} wire shape in
// its text part and adds a data part with per-trial status and diagnostics.
func actionsArtifact(actions map[string]types.ActionList, outs []types.PlanningOutcome, diags []types.Diagnostic) *a2a.Artifact {
	body := map[string]any{"actions": actions}
	text, _ := json.Marshal(body)

	trials := make([]map[string]any, 0, len(outs))
	for _, o := range outs {
		entry := map[string]any{"task_id": o.TaskID, "status": o.Status, "attempts": o.Attempts}
		if o.Failure != nil {
			entry["error_kind"] = o.Failure.Kind
		}
		trials = append(trials, entry)
	}
	sort.SliceStable(trials, func(i, j int) bool {
		return fmt.Sprint(trials[i]["task_id"]) < fmt.Sprint(trials[j]["task_id"])
	})
	data := map[string]any{"actions": actions, "trials": trials}
	if len(diags) > 0 {
		data["diagnostics"] = diags
	}

	return &a2a.Artifact{
		ArtifactID: uuid.New().String(),
		Name:       ArtifactName,
		Parts:      []a2a.Part{a2a.TextPart(string(text)), a2a.DataPart(data)},
	}
}

var stageText = map[types.Stage]string{
	types.StageReceived:    "Request received.",
	types.StageValidating:  "Validating trial payload...",
	types.StagePlanning:    "Planning actions...",
	types.StageNormalizing: "Normalizing action list...",
}

// StageEvent maps a bus message onto a working status-update. It reports
// false for messages that are not streamed (outcomes, successful attempts).
func StageEvent(taskID, contextID string, msg types.Message) (a2a.TaskStatusUpdateEvent, bool) {
	var text string
	meta := map[string]any{"stage": string(msg.Stage)}
	if msg.TaskID != "" {
		meta["trial_id"] = msg.TaskID
	}
	switch msg.Type {
	case types.MsgStageChanged:
		text = stageText[msg.Stage]
	case types.MsgPlannerAttempt:
		ev, ok := msg.Payload.(types.AttemptEvent)
		if !ok || ev.Kind == "" {
			return a2a.TaskStatusUpdateEvent{}, false
		}
		text = fmt.Sprintf("Planner attempt %d failed (%s).", ev.Attempt, ev.Kind)
		meta["attempt"] = ev.Attempt
	default:
		return a2a.TaskStatusUpdateEvent{}, false
	}
	if text == "" {
		return a2a.TaskStatusUpdateEvent{}, false
	}
	if msg.TaskID != "" {
		text = msg.TaskID + ": " + text
	}
	return a2a.TaskStatusUpdateEvent{
		Kind:      "status-update",
		TaskID:    taskID,
		ContextID: contextID,
		Status:    a2a.NewStatus(a2a.TaskStateWorking, a2a.NewAgentMessage(taskID, contextID, text)),
		Metadata:  meta,
	}, true
}

// WorkingEvent is the status-update sent as soon as a request is accepted.
func WorkingEvent(taskID, contextID string) a2a.TaskStatusUpdateEvent {
	return a2a.TaskStatusUpdateEvent{
		Kind:      "status-update",
		TaskID:    taskID,
		ContextID: contextID,
		Status:    a2a.NewStatus(a2a.TaskStateWorking, a2a.NewAgentMessage(taskID, contextID, WorkingText)),
	}
}

// SubmittedTask is the first event of a stream.
func SubmittedTask(taskID, contextID string, inbound a2a.Message) a2a.Task {
	return a2a.Task{
		Kind:      "task",
		ID:        taskID,
		ContextID: contextID,
		Status:    a2a.NewStatus(a2a.TaskStateSubmitted, nil),
		History:   []a2a.Message{inbound},
	}
}
