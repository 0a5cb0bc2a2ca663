package executor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/haricheung/thor-planner/internal/bus"
	"github.com/haricheung/thor-planner/internal/metrics"
	"github.com/haricheung/thor-planner/internal/roles/auditor"
	"github.com/haricheung/thor-planner/internal/roles/normalizer"
	"github.com/haricheung/thor-planner/internal/roles/planner"
	"github.com/haricheung/thor-planner/internal/roles/prompter"
	"github.com/haricheung/thor-planner/internal/roles/validator"
	"github.com/haricheung/thor-planner/internal/types"
)

const tracerName = "github.com/haricheung/thor-planner/executor"

// Config wires the pipeline stages into an Executor.
type Config struct {
	Validator  *validator.Validator
	Prompter   *prompter.Builder
	Planner    *planner.Planner
	Normalizer *normalizer.Normalizer
	Auditor    *auditor.Auditor
	Metrics    *metrics.Metrics
	Tracer     trace.Tracer
	// Timeout bounds one trial end to end. Zero means no bound beyond the caller's context.
	Timeout time.Duration
	// Concurrency caps how many trials of a batch run at once.
	Concurrency int
	Logger      *zap.Logger
}

// Executor drives one request through
// received → validating → planning → normalizing → completed.
// It keeps no per-request state: everything a request touches lives on its
// own stack and its own bus, so concurrent requests never share mutable data.
type Executor struct {
	validator   *validator.Validator
	prompter    *prompter.Builder
	planner     *planner.Planner
	normalizer  *normalizer.Normalizer
	auditor     *auditor.Auditor
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	timeout     time.Duration
	concurrency int
	logger      *zap.Logger
}

// New creates an Executor.
func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer(tracerName)
	}
	aud := cfg.Auditor
	if aud == nil {
		aud = auditor.New(nil, logger)
	}
	conc := cfg.Concurrency
	if conc <= 0 {
		conc = 1
	}
	return &Executor{
		validator:   cfg.Validator,
		prompter:    cfg.Prompter,
		planner:     cfg.Planner,
		normalizer:  cfg.Normalizer,
		auditor:     aud,
		metrics:     cfg.Metrics,
		tracer:      tracer,
		timeout:     cfg.Timeout,
		concurrency: conc,
		logger:      logger.Named("executor"),
	}
}

// Run executes one trial on a fresh bus and returns exactly one outcome.
// subscribe, when non-nil, is called with the bus before the pipeline starts
// so the caller can attach listeners; every subscriber channel is closed
// when Run returns.
//
// Expectations:
//   - Any stage failure ends the trial with a Failure of that stage's kind
//   - Dropped steps produce PartialFailure with the diagnostics attached
//   - Exceeding Timeout yields Failure{timeout}
//   - Cancelling ctx yields Failure{cancelled} and abandons the planner call
//   - The same input always walks the same stages; no state carries over
func (e *Executor) Run(ctx context.Context, raw any, subscribe func(*bus.Bus)) (types.PlanningOutcome, *auditor.Trail) {
	var out types.PlanningOutcome
	trail := e.session(subscribe, func(b *bus.Bus) {
		out = e.execute(ctx, raw, peekTaskID(raw), b)
	})
	return out, trail
}

// RunBatch executes every trial independently, at most Concurrency at a time,
// on one shared bus. Outcomes are returned in input order. One trial's
// failure never cancels its siblings.
func (e *Executor) RunBatch(ctx context.Context, items []any, subscribe func(*bus.Bus)) ([]types.PlanningOutcome, *auditor.Trail) {
	ctx, span := e.tracer.Start(ctx, "executor.batch", trace.WithAttributes(attribute.Int("batch.size", len(items))))
	defer span.End()

	outcomes := make([]types.PlanningOutcome, len(items))
	keys := batchKeys(items)
	trail := e.session(subscribe, func(b *bus.Bus) {
		var g errgroup.Group
		g.SetLimit(e.concurrency)
		for i, item := range items {
			i, item := i, item
			g.Go(func() error {
				outcomes[i] = e.execute(ctx, item, keys[i], b)
				return nil
			})
		}
		_ = g.Wait()
	})

	failed := 0
	for _, o := range outcomes {
		if o.Failed() {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("batch.failed", failed))
	e.logger.Info("batch completed", zap.Int("trials", len(items)), zap.Int("failed", failed))
	return outcomes, trail
}

func (e *Executor) session(subscribe func(*bus.Bus), fn func(*bus.Bus)) *auditor.Trail {
	b := bus.New(e.logger)
	if subscribe != nil {
		subscribe(b)
	}
	trailCh := make(chan *auditor.Trail, 1)
	go func() { trailCh <- e.auditor.Watch(b.Tap()) }()

	fn(b)

	b.Close()
	return <-trailCh
}

func (e *Executor) execute(ctx context.Context, raw any, key string, b *bus.Bus) (out types.PlanningOutcome) {
	start := time.Now()
	done := e.metrics.TrackInFlight()
	ctx, span := e.tracer.Start(ctx, "executor.execute", trace.WithAttributes(attribute.String("task.key", key)))

	defer func() {
		done()
		kind := ""
		if out.Failure != nil {
			kind = string(out.Failure.Kind)
			span.SetStatus(codes.Error, out.Failure.Message)
		}
		span.SetAttributes(
			attribute.String("task.id", out.TaskID),
			attribute.String("outcome.status", string(out.Status)),
			attribute.Int("planner.attempts", out.Attempts),
			attribute.Int("plan.steps", len(out.Actions)),
		)
		span.End()

		e.metrics.ObserveTrial(string(out.Status), kind, time.Since(start))
		b.Publish(types.Message{TaskID: key, Type: types.MsgOutcome, Stage: types.StageCompleted, Payload: out})

		fields := []zap.Field{
			zap.String("task_id", out.TaskID),
			zap.String("status", string(out.Status)),
			zap.Int("steps", len(out.Actions)),
			zap.Int("diagnostics", len(out.Diagnostics)),
			zap.Int("attempts", out.Attempts),
			zap.Duration("elapsed", time.Since(start)),
		}
		if out.Failure != nil {
			e.logger.Warn("trial failed", append(fields, zap.String("kind", kind), zap.String("error", out.Failure.Message))...)
			return
		}
		e.logger.Info("trial completed", fields...)
	}()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	e.stage(b, key, types.StageReceived)

	e.stage(b, key, types.StageValidating)
	payload, err := e.validate(ctx, raw)
	if err != nil {
		return types.FailureOf(peekTaskID(raw), err, 0)
	}
	if err := ctx.Err(); err != nil {
		return types.FailureOf(payload.TaskID, err, 0)
	}

	e.stage(b, key, types.StagePlanning)
	text, attempts, err := e.plan(ctx, payload, func(ev types.AttemptEvent) {
		b.Publish(types.Message{TaskID: key, Type: types.MsgPlannerAttempt, Stage: types.StagePlanning, Payload: ev})
	})
	if err != nil {
		return types.FailureOf(payload.TaskID, err, attempts)
	}
	if err := ctx.Err(); err != nil {
		return types.FailureOf(payload.TaskID, err, attempts)
	}

	e.stage(b, key, types.StageNormalizing)
	list, diags, err := e.normalize(ctx, payload.TaskID, text)
	e.metrics.ObservePlan(len(list), len(diags))
	if err != nil {
		out = types.FailureOf(payload.TaskID, err, attempts)
		out.Diagnostics = diags
		return out
	}
	if len(diags) > 0 {
		return types.PartialFailure(payload.TaskID, list, diags, attempts)
	}
	return types.Success(payload.TaskID, list, attempts)
}

func (e *Executor) validate(ctx context.Context, raw any) (types.TrialPayload, error) {
	_, span := e.tracer.Start(ctx, "executor.validate")
	defer span.End()
	p, err := e.validator.ValidateValue(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
	}
	return p, err
}

func (e *Executor) plan(ctx context.Context, p types.TrialPayload, observe planner.Observer) (string, int, error) {
	ctx, span := e.tracer.Start(ctx, "executor.plan", trace.WithAttributes(attribute.String("task.id", p.TaskID)))
	defer span.End()
	req := e.prompter.Build(p)
	span.SetAttributes(
		attribute.String("llm.model", req.Model),
		attribute.String("vocabulary.version", req.VocabularyVersion),
	)
	text, attempts, err := e.planner.Plan(ctx, req, observe)
	span.SetAttributes(attribute.Int("planner.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "planning failed")
	}
	return text, attempts, err
}

func (e *Executor) normalize(ctx context.Context, taskID, text string) (types.ActionList, []types.Diagnostic, error) {
	_, span := e.tracer.Start(ctx, "executor.normalize")
	defer span.End()
	list, diags, err := e.normalizer.Normalize(taskID, text)
	span.SetAttributes(attribute.Int("plan.steps", len(list)), attribute.Int("plan.dropped", len(diags)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "normalization failed")
	}
	return list, diags, err
}

func (e *Executor) stage(b *bus.Bus, key string, s types.Stage) {
	b.Publish(types.Message{TaskID: key, Type: types.MsgStageChanged, Stage: s})
	e.logger.Debug("stage", zap.String("task_id", key), zap.String("stage", string(s)))
}

// peekTaskID reads the task id before validation so that events and
// failures for an invalid trial can still be attributed.
func peekTaskID(raw any) string {
	obj, ok := raw.(map[string]any)
	if !ok {
		return ""
	}
	for _, k := range []string{"task_id", "trial_id"} {
		if s, ok := obj[k].(string); ok {
			return s
		}
	}
	return ""
}

// batchKeys gives every trial of a batch a distinct bus key: its task id when
// present and unique, otherwise its position.
func batchKeys(items []any) []string {
	keys := make([]string, len(items))
	seen := make(map[string]int, len(items))
	for i, item := range items {
		keys[i] = peekTaskID(item)
		seen[keys[i]]++
	}
	for i, k := range keys {
		if k == "" || seen[k] > 1 {
			keys[i] = fmt.Sprintf("trial-%d", i)
		}
	}
	return keys
}
