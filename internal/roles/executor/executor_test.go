package executor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/haricheung/thor-planner/internal/bus"
	"github.com/haricheung/thor-planner/internal/metrics"
	"github.com/haricheung/thor-planner/internal/roles/auditor"
	"github.com/haricheung/thor-planner/internal/roles/normalizer"
	"github.com/haricheung/thor-planner/internal/roles/planner"
	"github.com/haricheung/thor-planner/internal/roles/prompter"
	"github.com/haricheung/thor-planner/internal/roles/validator"
	"github.com/haricheung/thor-planner/internal/types"
	"github.com/haricheung/thor-planner/internal/vocab"
)

type modelFunc func(context.Context, types.PlanningRequest) (string, error)

func (f modelFunc) Complete(ctx context.Context, req types.PlanningRequest) (string, error) {
	return f(ctx, req)
}

func reply(text string) modelFunc {
	return func(context.Context, types.PlanningRequest) (string, error) { return text, nil }
}

type options struct {
	timeout time.Duration
	policy  planner.Policy
	tracer  *sdktrace.TracerProvider
}

func newExecutor(t *testing.T, model planner.Model, opts options) *Executor {
	t.Helper()
	logger := zaptest.NewLogger(t)
	voc := vocab.Default()
	policy := opts.policy
	if policy == (planner.Policy{}) {
		policy = planner.Policy{AttemptTimeout: time.Second, MaxRetries: 2, RetryDelay: time.Millisecond}
	}
	cfg := Config{
		Validator:   validator.New(voc, logger),
		Prompter:    prompter.New(voc, prompter.Params{Model: "test-model", Temperature: 0.5, MaxTokens: 256}),
		Planner:     planner.New(model, policy, nil, logger),
		Normalizer:  normalizer.New(voc, logger),
		Auditor:     auditor.New(nil, logger),
		Metrics:     metrics.New(),
		Timeout:     opts.timeout,
		Concurrency: 2,
		Logger:      logger,
	}
	if opts.tracer != nil {
		cfg.Tracer = opts.tracer.Tracer("test")
	}
	return New(cfg)
}

func trial(id, goal string) map[string]any {
	return map[string]any{"task_id": id, "goal": goal}
}

var fullStages = []types.Stage{
	types.StageReceived, types.StageValidating, types.StagePlanning, types.StageNormalizing, types.StageCompleted,
}

func TestRun_Success(t *testing.T) {
	// Valid payload + well-formed reply → Success with every step in order
	e := newExecutor(t, reply("PickupObject(Mug_1)\nPutObject(Table_1)"), options{})
	out, trail := e.Run(context.Background(), trial("t1", "put the mug on the table"), nil)

	require.Equal(t, types.OutcomeSuccess, out.Status, "failure: %+v", out.Failure)
	assert.Equal(t, "t1", out.TaskID)
	assert.Equal(t, []string{"PickupObject(Mug_1)", "PutObject(Table_1)"}, out.Actions.Strings())
	assert.Equal(t, 1, out.Attempts)
	assert.Empty(t, out.Diagnostics)

	assert.True(t, trail.Clean(), "anomalies: %v", trail.Anomalies)
	assert.Equal(t, fullStages, trail.Stages["t1"])
	assert.Equal(t, 1, trail.Attempts["t1"])
}

func TestRun_MissingGoalNeverCallsPlanner(t *testing.T) {
	var calls atomic.Int32
	model := modelFunc(func(context.Context, types.PlanningRequest) (string, error) {
		calls.Add(1)
		return "Done()", nil
	})
	e := newExecutor(t, model, options{})
	out, trail := e.Run(context.Background(), map[string]any{"task_id": "t1"}, nil)

	require.True(t, out.Failed())
	assert.Equal(t, types.KindValidation, out.Failure.Kind)
	assert.Equal(t, types.CodeMissingField, out.Failure.Code)
	assert.Equal(t, "goal", out.Failure.Field)
	assert.Equal(t, "t1", out.TaskID)
	assert.Zero(t, calls.Load())
	assert.True(t, trail.Clean())
	assert.Equal(t, []types.Stage{types.StageReceived, types.StageValidating, types.StageCompleted}, trail.Stages["t1"])
}

func TestRun_PartialFailureSurfacesDiagnostics(t *testing.T) {
	e := newExecutor(t, reply("MoveAhead()\nFly()\nDone()"), options{})
	out, _ := e.Run(context.Background(), trial("t1", "walk"), nil)

	require.Equal(t, types.OutcomePartialFailure, out.Status)
	assert.Equal(t, []string{"MoveAhead()", "Done()"}, out.Actions.Strings())
	require.Len(t, out.Diagnostics, 1)
	assert.Equal(t, 2, out.Diagnostics[0].Line)
}

func TestRun_UnusableOutputIsNormalizationFailure(t *testing.T) {
	e := newExecutor(t, reply("I cannot help with that."), options{})
	out, trail := e.Run(context.Background(), trial("t1", "walk"), nil)

	require.True(t, out.Failed())
	assert.Equal(t, types.KindNormalization, out.Failure.Kind)
	assert.Equal(t, types.CodeEmptyAfterFiltering, out.Failure.Code)
	assert.NotEmpty(t, out.Diagnostics)
	assert.Empty(t, out.Actions)
	assert.Equal(t, fullStages, trail.Stages["t1"])
}

func TestRun_PlannerTimeoutThenSuccess(t *testing.T) {
	var calls atomic.Int32
	model := modelFunc(func(context.Context, types.PlanningRequest) (string, error) {
		if calls.Add(1) == 1 {
			return "", types.NewPlannerError(types.PlannerTimeout, context.DeadlineExceeded)
		}
		return "OpenObject(Fridge_1)", nil
	})
	out, trail := newExecutor(t, model, options{}).Run(context.Background(), trial("t1", "open the fridge"), nil)

	require.Equal(t, types.OutcomeSuccess, out.Status)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 2, trail.Attempts["t1"])
	assert.True(t, trail.Clean())
}

func TestRun_TwoTimeoutsThenSuccessUsesWholeBudget(t *testing.T) {
	// Timeouts on attempts 1 and 2, success on 3: Success with exactly 3 calls
	var calls atomic.Int32
	model := modelFunc(func(context.Context, types.PlanningRequest) (string, error) {
		if calls.Add(1) <= 2 {
			return "", types.NewPlannerError(types.PlannerTimeout, context.DeadlineExceeded)
		}
		return "PickupObject(Mug_1)\nPutObject(Table_1)", nil
	})
	out, trail := newExecutor(t, model, options{}).Run(context.Background(), trial("t1", "pick up the mug and put it on the table"), nil)

	require.Equal(t, types.OutcomeSuccess, out.Status)
	assert.Equal(t, []string{"PickupObject(Mug_1)", "PutObject(Table_1)"}, out.Actions.Strings())
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 3, trail.Attempts["t1"])
}

func TestRun_PlannerAuthFailure(t *testing.T) {
	model := modelFunc(func(context.Context, types.PlanningRequest) (string, error) {
		return "", types.NewPlannerError(types.PlannerAuth, errors.New("401"))
	})
	out, _ := newExecutor(t, model, options{}).Run(context.Background(), trial("t1", "x"), nil)

	require.True(t, out.Failed())
	assert.Equal(t, types.KindPlanner, out.Failure.Kind)
	assert.Equal(t, string(types.PlannerAuth), out.Failure.Code)
	assert.Equal(t, 1, out.Attempts)
}

func TestRun_PipelineTimeout(t *testing.T) {
	// A hung model past the pipeline deadline yields Failure{timeout}
	model := modelFunc(func(ctx context.Context, _ types.PlanningRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	e := newExecutor(t, model, options{timeout: 50 * time.Millisecond})
	start := time.Now()
	out, trail := e.Run(context.Background(), trial("t1", "x"), nil)

	require.True(t, out.Failed())
	assert.Equal(t, types.KindTimeout, out.Failure.Kind)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, trail.Clean(), "anomalies: %v", trail.Anomalies)
}

func TestRun_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	model := modelFunc(func(ctx context.Context, _ types.PlanningRequest) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	})
	out, _ := newExecutor(t, model, options{timeout: time.Minute}).Run(ctx, trial("t1", "x"), nil)

	require.True(t, out.Failed())
	assert.Equal(t, types.KindCancelled, out.Failure.Kind)
	assert.Equal(t, 1, out.Attempts)
}

func TestRun_Idempotent(t *testing.T) {
	e := newExecutor(t, reply("MoveAhead()\nMoveAhead()\nDone()"), options{})
	in := trial("t1", "walk two steps")
	first, _ := e.Run(context.Background(), in, nil)
	second, _ := e.Run(context.Background(), in, nil)
	assert.Equal(t, first, second)
}

func TestRun_SubscriberSeesStagesAndOutcome(t *testing.T) {
	e := newExecutor(t, reply("Done()"), options{})
	var stages <-chan types.Message
	var outcomes <-chan types.Message
	out, _ := e.Run(context.Background(), trial("t1", "finish"), func(b *bus.Bus) {
		stages = b.Subscribe(types.MsgStageChanged)
		outcomes = b.Subscribe(types.MsgOutcome)
	})

	var seen []types.Stage
	for msg := range stages {
		seen = append(seen, msg.Stage)
	}
	assert.Equal(t, fullStages[:4], seen)

	msg, ok := <-outcomes
	require.True(t, ok)
	assert.Equal(t, out, msg.Payload.(types.PlanningOutcome))
}

func TestRunBatch_IndependentTrialsInOrder(t *testing.T) {
	model := modelFunc(func(_ context.Context, req types.PlanningRequest) (string, error) {
		if strings.Contains(req.User, "Goal: fail") {
			return "", types.NewPlannerError(types.PlannerAuth, errors.New("denied"))
		}
		return "PickupObject(Apple_1)", nil
	})
	items := []any{
		trial("a", "pick the apple"),
		map[string]any{"task_id": "b"},
		trial("c", "fail"),
		trial("d", "pick the apple"),
	}
	outs, trail := newExecutor(t, model, options{}).RunBatch(context.Background(), items, nil)

	require.Len(t, outs, 4)
	assert.Equal(t, "a", outs[0].TaskID)
	assert.Equal(t, types.OutcomeSuccess, outs[0].Status)
	assert.Equal(t, types.KindValidation, outs[1].Failure.Kind)
	assert.Equal(t, types.KindPlanner, outs[2].Failure.Kind)
	assert.Equal(t, types.OutcomeSuccess, outs[3].Status)
	assert.True(t, trail.Clean(), "anomalies: %v", trail.Anomalies)
	assert.Len(t, trail.Stages, 4)
}

func TestBatchKeys_DuplicateAndMissingIDs(t *testing.T) {
	keys := batchKeys([]any{trial("x", "g"), trial("x", "g"), "junk", trial("y", "g")})
	assert.Equal(t, []string{"trial-0", "trial-1", "trial-2", "y"}, keys)
}

func TestRun_RecordsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	e := newExecutor(t, reply("Done()"), options{tracer: tp})
	_, _ = e.Run(context.Background(), trial("t1", "finish"), nil)

	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{"executor.validate", "executor.plan", "executor.normalize", "executor.execute"}, names)

	for _, s := range sr.Ended() {
		if s.Name() == "executor.plan" {
			assert.Equal(t, "executor.execute", spanName(sr, s.Parent().SpanID().String()))
		}
	}
}

func spanName(sr *tracetest.SpanRecorder, id string) string {
	for _, s := range sr.Ended() {
		if s.SpanContext().SpanID().String() == id {
			return s.Name()
		}
	}
	return ""
}
