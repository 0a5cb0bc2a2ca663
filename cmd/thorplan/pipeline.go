package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/haricheung/thor-planner/internal/config"
	"github.com/haricheung/thor-planner/internal/llm"
	"github.com/haricheung/thor-planner/internal/logging"
	"github.com/haricheung/thor-planner/internal/metrics"
	"github.com/haricheung/thor-planner/internal/roles/auditor"
	"github.com/haricheung/thor-planner/internal/roles/executor"
	"github.com/haricheung/thor-planner/internal/roles/normalizer"
	"github.com/haricheung/thor-planner/internal/roles/planner"
	"github.com/haricheung/thor-planner/internal/roles/prompter"
	"github.com/haricheung/thor-planner/internal/roles/validator"
	"github.com/haricheung/thor-planner/internal/vocab"
)

// overrides are CLI flag values that win over the environment.
type overrides struct {
	host  string
	port  int
	model string
}

// loadConfig reads .env and the environment, applies flag overrides and
// validates the result.
func loadConfig(cmd *cobra.Command, o overrides) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if o.host != "" {
		cfg.Host = o.host
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.model != "" {
		cfg.Model = o.model
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// pipeline is everything one process needs to plan trials.
type pipeline struct {
	exec    *executor.Executor
	metrics *metrics.Metrics
	vocab   *vocab.Vocabulary
	logger  *zap.Logger
	closers []io.Closer
}

func (p *pipeline) Close() {
	for _, c := range p.closers {
		_ = c.Close()
	}
	_ = p.logger.Sync()
}

// buildPipeline wires the stages from cfg. model replaces the provider
// client when non-nil.
func buildPipeline(cfg *config.Config, model planner.Model) (*pipeline, error) {
	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	voc := vocab.Default()
	p := &pipeline{metrics: metrics.New(), vocab: voc, logger: logger}

	var auditLog io.Writer
	if cfg.AuditLog != "" {
		f, err := os.OpenFile(cfg.AuditLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("audit log: %w", err)
		}
		p.closers = append(p.closers, f)
		auditLog = f
	}

	if model == nil {
		model = llm.New(llm.Config{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.Credential(),
			HTTPTimeout: cfg.AttemptTimeout + cfg.AttemptTimeout/2,
		}, logger)
	}

	p.exec = executor.New(executor.Config{
		Validator: validator.New(voc, logger),
		Prompter: prompter.New(voc, prompter.Params{
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}),
		Planner: planner.New(model, planner.Policy{
			AttemptTimeout: cfg.AttemptTimeout,
			MaxRetries:     cfg.MaxRetries,
			RetryDelay:     cfg.RetryDelay,
		}, p.metrics, logger),
		Normalizer:  normalizer.New(voc, logger),
		Auditor:     auditor.New(auditLog, logger),
		Metrics:     p.metrics,
		Tracer:      otel.Tracer("github.com/haricheung/thor-planner"),
		Timeout:     cfg.PipelineTimeout,
		Concurrency: cfg.BatchConcurrency,
		Logger:      logger,
	})
	return p, nil
}
