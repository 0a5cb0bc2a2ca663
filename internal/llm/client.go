package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/haricheung/thor-planner/internal/types"
)

// Config holds what the client needs from process configuration.
type Config struct {
	BaseURL string
	APIKey  string
	// HTTPTimeout is a transport-level backstop; per-attempt deadlines come
	// from the caller's context.
	HTTPTimeout time.Duration
}

// Client is an OpenAI-compatible chat completion client (OpenRouter by default).
type Client struct {
	api    *openai.Client
	logger *zap.Logger
}

// normalizeBaseURL strips trailing slashes and the "/chat/completions" suffix
// from a configured base URL so the path is never doubled when the
// library appends "/chat/completions" itself.
//
// Expectations:
//   - Strips a trailing "/chat/completions" suffix
//   - Strips a trailing slash without "/chat/completions"
//   - Strips trailing slash AND "/chat/completions" when both are present
//   - Returns the URL unchanged when neither suffix is present
//   - Returns "" for empty input
func normalizeBaseURL(raw string) string {
	s := strings.TrimRight(raw, "/")
	return strings.TrimSuffix(s, "/chat/completions")
}

// New creates a Client. The API key must already be validated by config.
func New(cfg Config, logger *zap.Logger) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if base := normalizeBaseURL(cfg.BaseURL); base != "" {
		oc.BaseURL = base
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	oc.HTTPClient = &http.Client{Timeout: timeout}
	return &Client{api: openai.NewClientWithConfig(oc), logger: logger.Named("llm")}
}

// Complete sends the request's system and user prompts and returns the
// assistant's raw text. Failures come back as *types.PlannerError.
func (c *Client) Complete(ctx context.Context, req types.PlanningRequest) (string, error) {
	c.logger.Debug("system prompt", zap.String("task_id", req.TaskID), zap.String("prompt", req.System))
	c.logger.Debug("user prompt", zap.String("task_id", req.TaskID), zap.String("prompt", req.User))

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	elapsed := time.Since(start)
	if err != nil {
		perr := Classify(err)
		c.logger.Warn("chat completion failed",
			zap.String("task_id", req.TaskID),
			zap.String("model", req.Model),
			zap.String("code", string(perr.Code)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return "", perr
	}

	if len(resp.Choices) == 0 {
		return "", types.NewPlannerError(types.PlannerMalformedResponse, fmt.Errorf("no choices in response"))
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", types.NewPlannerError(types.PlannerMalformedResponse, fmt.Errorf("empty completion (finish_reason=%s)", resp.Choices[0].FinishReason))
	}

	c.logger.Info("chat completion",
		zap.String("task_id", req.TaskID),
		zap.String("model", req.Model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", elapsed))
	c.logger.Debug("response", zap.String("task_id", req.TaskID), zap.String("content", content))
	return content, nil
}

// Classify maps a provider or transport error onto a planner error code.
//
// Expectations:
//   - HTTP 401 / 403 → auth
//   - HTTP 429 → rate_limited
//   - HTTP 408 / 504, context deadline, net timeouts → timeout
//   - A 2xx body that does not decode → malformed_response
//   - Any other status or transport failure → upstream
//   - An existing *types.PlannerError is returned unchanged
func Classify(err error) *types.PlannerError {
	var perr *types.PlannerError
	if errors.As(err, &perr) {
		return perr
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return types.NewPlannerError(codeForStatus(apiErr.HTTPStatusCode), err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return types.NewPlannerError(codeForStatus(reqErr.HTTPStatusCode), err)
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return types.NewPlannerError(types.PlannerMalformedResponse, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewPlannerError(types.PlannerTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.NewPlannerError(types.PlannerTimeout, err)
	}
	return types.NewPlannerError(types.PlannerUpstream, err)
}

func codeForStatus(status int) types.PlannerCode {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.PlannerAuth
	case http.StatusTooManyRequests:
		return types.PlannerRateLimited
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return types.PlannerTimeout
	default:
		return types.PlannerUpstream
	}
}

// StripThinkBlocks removes all <think>...</think> blocks from s.
// Reasoning models (e.g. deepseek-r1) emit these before the plan.
//
// Expectations:
//   - Removes a single <think>...</think> block
//   - Removes multiple <think>...</think> blocks
//   - Strips an unclosed <think> block from its start to end of string
//   - Returns s unchanged when no <think> tag is present
func StripThinkBlocks(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "</think>")
		if end == -1 {
			// Unclosed block: strip from opening tag to end of string.
			s = s[:start]
			break
		}
		s = s[:start] + s[start+end+len("</think>"):]
	}
	return strings.TrimSpace(s)
}

// StripFences removes markdown code fences (```text ... ```) from model output,
// and also strips <think>...</think> reasoning blocks.
func StripFences(s string) string {
	s = StripThinkBlocks(strings.TrimSpace(s))
	if strings.HasPrefix(s, "```") {
		// Remove opening fence line
		idx := strings.Index(s, "\n")
		if idx != -1 {
			s = s[idx+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		// Remove closing fence
		if i := strings.LastIndex(s, "```"); i != -1 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
