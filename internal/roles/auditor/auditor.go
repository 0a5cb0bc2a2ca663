package auditor

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/haricheung/thor-planner/internal/types"
)

// Anomaly labels.
const (
	AnomalyNone             = "none"
	AnomalyStageOrder       = "stage_order"
	AnomalyStageRepeated    = "stage_repeated"
	AnomalyAfterCompletion  = "after_completion"
	AnomalyMissingOutcome   = "missing_outcome"
	AnomalyDuplicateOutcome = "duplicate_outcome"
)

// stageRank orders the executor's stages. Completed is signalled by the Outcome message.
var stageRank = map[types.Stage]int{
	types.StageReceived:    1,
	types.StageValidating:  2,
	types.StagePlanning:    3,
	types.StageNormalizing: 4,
	types.StageCompleted:   5,
}

// AuditEvent is one line of the audit log.
type AuditEvent struct {
	EventID     string `json:"event_id"`
	Timestamp   string `json:"timestamp"`
	TaskID      string `json:"task_id"`
	MessageType string `json:"message_type"`
	Stage       string `json:"stage,omitempty"`
	Anomaly     string `json:"anomaly"`
	Detail      string `json:"detail,omitempty"`
}

// Trail is the audited history of one request's bus.
type Trail struct {
	// Stages per task id, in the order they were observed.
	Stages    map[string][]types.Stage
	Attempts  map[string]int
	Outcomes  map[string]int
	Anomalies []string
}

// Clean reports whether no anomaly was recorded.
func (t *Trail) Clean() bool { return len(t.Anomalies) == 0 }

// Auditor reads a bus tap read-only and checks that every task walks the
// stage machine forward exactly once and ends with a single outcome.
// When an audit writer is configured, every message is also written as a
// JSONL AuditEvent.
type Auditor struct {
	mu     sync.Mutex
	w      io.Writer
	logger *zap.Logger
}

// New creates an Auditor. w may be nil to disable the JSONL log.
func New(w io.Writer, logger *zap.Logger) *Auditor {
	return &Auditor{w: w, logger: logger.Named("auditor")}
}

// Watch consumes tap until it is closed and returns the resulting trail.
//
// Expectations:
//   - Stages must strictly advance received → validating → planning → normalizing
//   - A stage seen twice for the same task is stage_repeated
//   - A stage that goes backwards is stage_order
//   - Any message after the task's Outcome is after_completion
//   - A second Outcome is duplicate_outcome
//   - A task with stages but no Outcome when the tap closes is missing_outcome
func (a *Auditor) Watch(tap <-chan types.Message) *Trail {
	trail := &Trail{
		Stages:   make(map[string][]types.Stage),
		Attempts: make(map[string]int),
		Outcomes: make(map[string]int),
	}
	last := make(map[string]int)

	for msg := range tap {
		anomaly, detail := a.check(trail, last, msg)
		if anomaly != AnomalyNone {
			trail.Anomalies = append(trail.Anomalies, fmt.Sprintf("%s: %s", anomaly, detail))
			a.logger.Warn("audit anomaly",
				zap.String("task_id", msg.TaskID),
				zap.String("anomaly", anomaly),
				zap.String("detail", detail))
		}
		a.write(AuditEvent{
			EventID:     uuid.New().String(),
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
			TaskID:      msg.TaskID,
			MessageType: string(msg.Type),
			Stage:       string(msg.Stage),
			Anomaly:     anomaly,
			Detail:      detail,
		})
	}

	for taskID := range trail.Stages {
		if trail.Outcomes[taskID] == 0 {
			d := fmt.Sprintf("task %s ended at %s without an outcome", taskID, lastStage(trail.Stages[taskID]))
			trail.Anomalies = append(trail.Anomalies, fmt.Sprintf("%s: %s", AnomalyMissingOutcome, d))
			a.logger.Warn("audit anomaly", zap.String("task_id", taskID), zap.String("anomaly", AnomalyMissingOutcome))
		}
	}
	return trail
}

func (a *Auditor) check(trail *Trail, last map[string]int, msg types.Message) (string, string) {
	id := msg.TaskID
	if trail.Outcomes[id] > 0 {
		if msg.Type == types.MsgOutcome {
			trail.Outcomes[id]++
			return AnomalyDuplicateOutcome, fmt.Sprintf("task %s outcome #%d", id, trail.Outcomes[id])
		}
		return AnomalyAfterCompletion, fmt.Sprintf("task %s %s after outcome", id, msg.Type)
	}

	switch msg.Type {
	case types.MsgPlannerAttempt:
		trail.Attempts[id]++
		if last[id] != stageRank[types.StagePlanning] {
			return AnomalyStageOrder, fmt.Sprintf("task %s planner attempt outside planning", id)
		}
	case types.MsgOutcome:
		trail.Outcomes[id]++
		trail.Stages[id] = append(trail.Stages[id], types.StageCompleted)
		last[id] = stageRank[types.StageCompleted]
	case types.MsgStageChanged:
		rank := stageRank[msg.Stage]
		trail.Stages[id] = append(trail.Stages[id], msg.Stage)
		prev := last[id]
		last[id] = rank
		switch {
		case rank == prev:
			return AnomalyStageRepeated, fmt.Sprintf("task %s entered %s twice", id, msg.Stage)
		case rank < prev:
			return AnomalyStageOrder, fmt.Sprintf("task %s went back to %s", id, msg.Stage)
		}
	}
	return AnomalyNone, ""
}

func (a *Auditor) write(e AuditEvent) {
	if a.w == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		a.logger.Error("marshal audit event", zap.Error(err))
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := fmt.Fprintf(a.w, "%s\n", data); err != nil {
		a.logger.Error("write audit event", zap.Error(err))
	}
}

func lastStage(s []types.Stage) types.Stage {
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}
