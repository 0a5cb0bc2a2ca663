package planner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/haricheung/thor-planner/internal/llm"
	"github.com/haricheung/thor-planner/internal/metrics"
	"github.com/haricheung/thor-planner/internal/types"
)

// Model is the language-model backend. *llm.Client implements it.
type Model interface {
	Complete(ctx context.Context, req types.PlanningRequest) (string, error)
}

// Observer receives one event per model call. It may be nil.
type Observer func(types.AttemptEvent)

// Policy bounds how long and how often the model is called for one trial.
type Policy struct {
	// AttemptTimeout caps each individual call.
	AttemptTimeout time.Duration
	// MaxRetries is the number of calls allowed after the first one.
	MaxRetries int
	// RetryDelay is the fixed wait between attempts.
	RetryDelay time.Duration
}

// DefaultPolicy matches the service defaults.
var DefaultPolicy = Policy{AttemptTimeout: 60 * time.Second, MaxRetries: 2, RetryDelay: 500 * time.Millisecond}

// Planner calls the model with per-attempt deadlines and bounded retries.
// It holds no per-request state and is safe for concurrent use.
type Planner struct {
	model   Model
	policy  Policy
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a Planner. m may be nil.
func New(model Model, policy Policy, m *metrics.Metrics, logger *zap.Logger) *Planner {
	return &Planner{model: model, policy: policy, metrics: m, logger: logger.Named("planner")}
}

// Plan sends req to the model and returns its raw text together with the
// number of calls made. Every completed call is reported to observe.
//
// Expectations:
//   - Returns the first successful response without further calls
//   - Retries timeout, rate_limited, upstream and malformed_response failures
//   - Never retries auth failures
//   - Makes at most 1+MaxRetries calls; the final error is a *types.PlannerError
//     carrying the last code and the attempt count
//   - Each call runs under its own AttemptTimeout deadline
//   - When ctx ends (caller cancel or pipeline deadline) returns ctx.Err()
//     immediately, even mid-call or mid-delay
func (p *Planner) Plan(ctx context.Context, req types.PlanningRequest, observe Observer) (string, int, error) {
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return "", attempts, err
		}
		attempts++

		raw, err := p.call(ctx, req)
		if err == nil {
			notify(observe, types.AttemptEvent{Attempt: attempts})
			p.logger.Info("plan received", zap.String("task_id", req.TaskID), zap.Int("attempt", attempts))
			return raw, attempts, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			p.logger.Info("planning abandoned", zap.String("task_id", req.TaskID), zap.Int("attempt", attempts), zap.Error(ctxErr))
			return "", attempts, ctxErr
		}

		perr := llm.Classify(err)
		notify(observe, types.AttemptEvent{Attempt: attempts, Error: err.Error(), Kind: string(perr.Code)})

		if !perr.Code.Retryable() || attempts > p.policy.MaxRetries {
			p.logger.Warn("planning failed",
				zap.String("task_id", req.TaskID),
				zap.String("code", string(perr.Code)),
				zap.Int("attempts", attempts))
			return "", attempts, &types.PlannerError{Code: perr.Code, Attempts: attempts, Err: perr.Err}
		}

		delay := p.policy.RetryDelay
		p.logger.Info("retrying planner call",
			zap.String("task_id", req.TaskID),
			zap.String("code", string(perr.Code)),
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay))
		if err := sleep(ctx, delay); err != nil {
			return "", attempts, err
		}
	}
}

func (p *Planner) call(ctx context.Context, req types.PlanningRequest) (string, error) {
	actx := ctx
	if p.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, p.policy.AttemptTimeout)
		defer cancel()
	}
	start := time.Now()
	raw, err := p.model.Complete(actx, req)
	result := "ok"
	if err != nil {
		result = string(llm.Classify(err).Code)
	}
	p.metrics.ObserveAttempt(result, time.Since(start))
	return raw, err
}

func notify(observe Observer, ev types.AttemptEvent) {
	if observe != nil {
		observe(ev)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
