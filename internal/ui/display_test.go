package ui

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haricheung/thor-planner/internal/types"
	"github.com/haricheung/thor-planner/internal/vocab"
)

func stageMsg(s types.Stage) types.Message {
	return types.Message{TaskID: "t1", Type: types.MsgStageChanged, Stage: s}
}

func feed(msgs ...types.Message) <-chan types.Message {
	ch := make(chan types.Message, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	return ch
}

func TestRun_BoxPerRun(t *testing.T) {
	// One opening and one closing line, a flow line per stage and per failed attempt
	var buf bytes.Buffer
	out := types.Success("t1", types.ActionList{{Index: 0, Action: "Done"}}, 2)
	New(&buf, Options{}).Run(context.Background(), feed(
		stageMsg(types.StageReceived),
		stageMsg(types.StageValidating),
		stageMsg(types.StagePlanning),
		types.Message{TaskID: "t1", Type: types.MsgPlannerAttempt, Stage: types.StagePlanning,
			Payload: types.AttemptEvent{Attempt: 1, Kind: "timeout"}},
		types.Message{TaskID: "t1", Type: types.MsgPlannerAttempt, Stage: types.StagePlanning,
			Payload: types.AttemptEvent{Attempt: 2}},
		stageMsg(types.StageNormalizing),
		types.Message{TaskID: "t1", Type: types.MsgOutcome, Stage: types.StageCompleted, Payload: out},
	))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 8)
	assert.True(t, strings.HasPrefix(lines[0], "┌───"))
	assert.Contains(t, lines[4], "attempt 1: timeout")
	assert.Contains(t, lines[6], "success 1 step(s)")
	assert.True(t, strings.HasPrefix(lines[7], "└─── ✅"))
	assert.NotContains(t, buf.String(), "\033[")
}

func TestRun_ClosedWithoutOutcomeMarksFailure(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, Options{}).Run(context.Background(), feed(stageMsg(types.StageReceived)))
	assert.Contains(t, buf.String(), "└─── ❌")
}

func TestFlowLine_TruncatesToWidth(t *testing.T) {
	// Wide runes count as two cells; the line never exceeds Width
	d := New(&bytes.Buffer{}, Options{Width: 30})
	msg := types.Message{TaskID: "把杯子放在餐桌上然后关上冰箱门", Type: types.MsgStageChanged, Stage: types.StagePlanning}
	line := d.flowLine(msg)
	assert.LessOrEqual(t, runewidth.StringWidth(line), 30)
	assert.True(t, strings.HasSuffix(line, "…"))
}

func TestFlowLine_ColorWrapsLabelOnly(t *testing.T) {
	d := New(&bytes.Buffer{}, Options{Color: true})
	line := d.flowLine(stageMsg(types.StageValidating))
	assert.Contains(t, line, "──["+ansiCyan+"validating]")
	assert.True(t, strings.HasSuffix(line, ansiReset))
}

func TestFlowLine_SkipsSuccessfulAttempt(t *testing.T) {
	d := New(&bytes.Buffer{}, Options{})
	msg := types.Message{Type: types.MsgPlannerAttempt, Stage: types.StagePlanning, Payload: types.AttemptEvent{Attempt: 1}}
	assert.Empty(t, d.flowLine(msg))
}

func TestOutcomeDetail(t *testing.T) {
	failed := types.PlanningOutcome{TaskID: "t1", Status: types.OutcomeFailure,
		Failure: &types.Failure{Kind: types.KindValidation, Code: types.CodeMissingField}}
	assert.Equal(t, "failure validation/missing_field", outcomeDetail(failed))

	partial := types.PartialFailure("t1", types.ActionList{{Action: "Done"}}, []types.Diagnostic{{Line: 1}}, 1)
	assert.Equal(t, "partial_failure 1 step(s), 1 dropped", outcomeDetail(partial))
}

func TestRenderOutcome_ActionsAndDiagnostics(t *testing.T) {
	var buf bytes.Buffer
	out := types.PartialFailure("t1",
		types.ActionList{{Index: 0, Action: "PickupObject", Args: []string{"Mug_1"}}},
		[]types.Diagnostic{{Line: 2, TaskID: "t1", Input: "Fly()", Reason: `unknown action "Fly"`}}, 1)
	RenderOutcome(&buf, out)

	s := buf.String()
	assert.Contains(t, s, "PickupObject")
	assert.Contains(t, s, "Mug_1")
	assert.Contains(t, s, "Dropped")
	assert.Contains(t, s, "Fly()")
}

func TestRenderOutcome_Failure(t *testing.T) {
	var buf bytes.Buffer
	RenderOutcome(&buf, types.PlanningOutcome{TaskID: "t1", Status: types.OutcomeFailure,
		Failure: &types.Failure{Kind: types.KindPlanner, Message: "planner: auth: denied"}})
	assert.Equal(t, "failure: planner: auth: denied\n", buf.String())
}

func TestRenderVocabulary_ListsEveryAction(t *testing.T) {
	var buf bytes.Buffer
	voc := vocab.Default()
	RenderVocabulary(&buf, voc)
	for _, name := range voc.Names() {
		assert.Contains(t, buf.String(), name)
	}
	assert.Contains(t, buf.String(), "PickupObject(object_id)")
}
