package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Stage identifies where a request is in the executor's state machine.
type Stage string

const (
	StageReceived    Stage = "received"
	StageValidating  Stage = "validating"
	StagePlanning    Stage = "planning"
	StageNormalizing Stage = "normalizing"
	StageCompleted   Stage = "completed"
)

// MessageType identifies the payload type of a bus message
type MessageType string

const (
	MsgStageChanged   MessageType = "StageChanged"
	MsgPlannerAttempt MessageType = "PlannerAttempt"
	MsgOutcome        MessageType = "Outcome"
)

// Message is the envelope for every event published on a request's bus
type Message struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	TaskID    string      `json:"task_id"`
	Type      MessageType `json:"type"`
	Stage     Stage       `json:"stage"`
	Payload   any         `json:"payload,omitempty"`
}

// AttemptEvent is published by the planner once per provider call.
type AttemptEvent struct {
	Attempt int    `json:"attempt"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// TrialPayload is the validated task description for one trial.
// It is built once per request and never mutated afterwards.
type TrialPayload struct {
	TaskID   string         `json:"task_id"`
	Goal     string         `json:"goal"`
	Metadata map[string]any `json:"metadata,omitempty"`
	History  []ActionStep   `json:"history,omitempty"`
}

// PlanningRequest is the rendered prompt plus generation parameters for one
// trial. It is owned by the prompter/planner pair and never shared.
type PlanningRequest struct {
	TaskID            string  `json:"task_id"`
	Model             string  `json:"model"`
	System            string  `json:"system"`
	User              string  `json:"user"`
	Temperature       float32 `json:"temperature"`
	MaxTokens         int     `json:"max_tokens"`
	VocabularyVersion string  `json:"vocabulary_version"`
}

// Prompt returns the full prompt text (system then user) as sent to the model.
func (r PlanningRequest) Prompt() string {
	return r.System + "\n\n" + r.User
}

// ActionStep is one simulator action. Args are kept in their canonical
// string form; Params carries the same values keyed by the vocabulary's
// parameter names so the wire form matches what the simulator side expects.
type ActionStep struct {
	Index  int            `json:"index"`
	Action string         `json:"action"`
	Args   []string       `json:"args"`
	Params map[string]any `json:"-"`
}

// String renders the step as Verb(arg1, arg2).
func (s ActionStep) String() string {
	return fmt.Sprintf("%s(%s)", s.Action, strings.Join(s.Args, ", "))
}

// MarshalJSON flattens Params next to action/args:
//
//	{"index":0,"action":"PickupObject","args":["Mug_1"],"object_id":"Mug_1"}
func (s ActionStep) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(s.Params)+3)
	for k, v := range s.Params {
		m[k] = v
	}
	args := s.Args
	if args == nil {
		args = []string{}
	}
	m["index"] = s.Index
	m["action"] = s.Action
	m["args"] = args
	return json.Marshal(m)
}

// ActionList is an ordered plan. Order is execution order in the simulator.
type ActionList []ActionStep

// Strings returns the Verb(args) form of every step, in order.
func (l ActionList) Strings() []string {
	out := make([]string, len(l))
	for i, s := range l {
		out[i] = s.String()
	}
	return out
}

// Diagnostic records one step dropped (or one trial failed) during a request.
type Diagnostic struct {
	Line   int    `json:"line,omitempty"`
	TaskID string `json:"task_id,omitempty"`
	Input  string `json:"input,omitempty"`
	Reason string `json:"reason"`
}

func (d Diagnostic) String() string {
	var sb strings.Builder
	if d.TaskID != "" {
		fmt.Fprintf(&sb, "trial %s: ", d.TaskID)
	}
	if d.Line > 0 {
		fmt.Fprintf(&sb, "line %d: ", d.Line)
	}
	sb.WriteString(d.Reason)
	if d.Input != "" {
		fmt.Fprintf(&sb, " (%q)", d.Input)
	}
	return sb.String()
}

// OutcomeStatus tags a PlanningOutcome.
type OutcomeStatus string

const (
	OutcomeSuccess        OutcomeStatus = "success"
	OutcomePartialFailure OutcomeStatus = "partial_failure"
	OutcomeFailure        OutcomeStatus = "failure"
)

// Failure carries the error kind and message of a failed outcome.
type Failure struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code,omitempty"`
	Field   string    `json:"field,omitempty"`
	Message string    `json:"message"`
}

// PlanningOutcome is the terminal result of one trial's pipeline.
type PlanningOutcome struct {
	TaskID      string        `json:"task_id"`
	Status      OutcomeStatus `json:"status"`
	Actions     ActionList    `json:"actions,omitempty"`
	Diagnostics []Diagnostic  `json:"diagnostics,omitempty"`
	Failure     *Failure      `json:"failure,omitempty"`
	Attempts    int           `json:"attempts"`
}

// Success builds a successful outcome.
func Success(taskID string, actions ActionList, attempts int) PlanningOutcome {
	return PlanningOutcome{TaskID: taskID, Status: OutcomeSuccess, Actions: actions, Attempts: attempts}
}

// PartialFailure builds an outcome whose list survived but lost some steps.
func PartialFailure(taskID string, actions ActionList, diags []Diagnostic, attempts int) PlanningOutcome {
	return PlanningOutcome{TaskID: taskID, Status: OutcomePartialFailure, Actions: actions, Diagnostics: diags, Attempts: attempts}
}

// FailureOf builds a failed outcome from err.
func FailureOf(taskID string, err error, attempts int) PlanningOutcome {
	return PlanningOutcome{TaskID: taskID, Status: OutcomeFailure, Failure: FailureFromError(err), Attempts: attempts}
}

// Failed reports whether the outcome is a Failure.
func (o PlanningOutcome) Failed() bool { return o.Status == OutcomeFailure }
