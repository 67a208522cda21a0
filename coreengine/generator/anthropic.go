package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/kernel"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/logging"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/observability"
)

const (
	// DefaultBaseURL is the Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"
	// DefaultModel is the model used when none is configured.
	DefaultModel = "claude-3-5-haiku-20241022"
	// APIVersion is sent as the anthropic-version header.
	APIVersion = "2023-06-01"

	rateLimitKey = "generator"
)

// AnthropicConfig configures AnthropicClient.
type AnthropicConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration
	MaxToolTurns int
}

// DefaultAnthropicConfig returns the pipeline defaults.
func DefaultAnthropicConfig() AnthropicConfig {
	return AnthropicConfig{
		BaseURL:      DefaultBaseURL,
		Model:        DefaultModel,
		Temperature:  0.7,
		MaxTokens:    4096,
		Timeout:      120 * time.Second,
		MaxToolTurns: 8,
	}
}

// AnthropicClient implements Generator against the Anthropic Messages API.
type AnthropicClient struct {
	cfg     AnthropicConfig
	client  *http.Client
	limiter *kernel.RateLimiter
	logger  logging.Logger
}

// NewAnthropicClient builds a client. limiter may be nil to disable rate limiting.
func NewAnthropicClient(cfg AnthropicConfig, limiter *kernel.RateLimiter, logger logging.Logger) *AnthropicClient {
	def := DefaultAnthropicConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxToolTurns <= 0 {
		cfg.MaxToolTurns = def.MaxToolTurns
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &AnthropicClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  logger.Bind("component", "generator", "model", cfg.Model),
	}
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type contentBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

// MarshalJSON always writes input on tool_use blocks; the API rejects
// echoed tool calls without it.
func (b contentBlock) MarshalJSON() ([]byte, error) {
	type plain contentBlock
	if b.Type != "tool_use" {
		return json.Marshal(plain(b))
	}
	input := b.Input
	if input == nil {
		input = map[string]any{}
	}
	return json.Marshal(struct {
		plain
		Input map[string]any `json:"input"`
	}{plain(b), input})
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
}

type messagesResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// GENERATE
// =============================================================================

// Generate runs the request, performing tool round trips until the model
// stops asking for tools or MaxToolTurns is exhausted.
func (c *AnthropicClient) Generate(ctx context.Context, req Request) (res Result, err error) {
	ctx, span := observability.Tracer().Start(ctx, "generator.generate")
	span.SetAttributes(attribute.String("generator.model", c.cfg.Model))
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("generator.turns", res.Turns), attribute.Int("generator.tool_calls", len(res.Trace)))
		span.End()
		observability.RecordGeneratorCall(c.cfg.Model, status, time.Since(start))
	}()

	var tools []Tool
	if req.Tools != nil {
		tools = req.Tools.Tools()
	}

	messages := []message{{
		Role:    "user",
		Content: []contentBlock{{Type: "text", Text: req.Prompt}},
	}}

	for turn := 1; ; turn++ {
		res.Turns = turn
		resp, err := c.send(ctx, messagesRequest{
			Model:       c.cfg.Model,
			MaxTokens:   c.cfg.MaxTokens,
			Temperature: c.cfg.Temperature,
			System:      req.System,
			Messages:    messages,
			Tools:       tools,
		})
		if err != nil {
			return res, err
		}

		uses := toolUses(resp.Content)
		if resp.StopReason != "tool_use" || len(uses) == 0 {
			text := strings.TrimSpace(joinText(resp.Content))
			if text == "" {
				return res, fmt.Errorf("%w: empty response (stop_reason=%s)", ErrGenerationFailed, resp.StopReason)
			}
			res.Text = text
			c.logger.Debug("generator_completed", "turns", turn, "tool_calls", len(res.Trace))
			return res, nil
		}

		if turn >= c.cfg.MaxToolTurns {
			return res, fmt.Errorf("%w: tool turn limit %d reached", ErrGenerationFailed, c.cfg.MaxToolTurns)
		}
		if req.Tools == nil {
			return res, fmt.Errorf("%w: model requested tools but none were offered", ErrGenerationFailed)
		}

		results := make([]contentBlock, 0, len(uses))
		for _, use := range uses {
			output, callErr := req.Tools.Call(ctx, use.Name, use.Input)
			call := ToolCall{Name: use.Name, Input: use.Input, Output: output}
			if callErr != nil {
				call.IsError = true
				call.Output = callErr.Error()
			}
			res.Trace = append(res.Trace, call)
			c.logger.Debug("generator_tool_call", "tool", use.Name, "is_error", call.IsError)
			results = append(results, contentBlock{
				Type:      "tool_result",
				ToolUseID: use.ID,
				Content:   call.Output,
				IsError:   call.IsError,
			})
		}

		messages = append(messages,
			message{Role: "assistant", Content: resp.Content},
			message{Role: "user", Content: results},
		)
	}
}

func (c *AnthropicClient) send(ctx context.Context, body messagesRequest) (*messagesResponse, error) {
	if c.limiter != nil {
		waited, err := c.limiter.Wait(ctx, rateLimitKey)
		observability.RecordRateLimitWait(waited)
		if err != nil {
			return nil, fmt.Errorf("%w: waiting for rate limit: %v", ErrGenerationFailed, err)
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrGenerationFailed, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrGenerationFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", APIVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrGenerationFailed, err)
	}
	if resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("%w: %s: %s: %s", ErrGenerationFailed, resp.Status, apiErr.Error.Type, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("%w: %s", ErrGenerationFailed, resp.Status)
	}

	var out messagesResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrGenerationFailed, err)
	}
	return &out, nil
}

func toolUses(blocks []contentBlock) []contentBlock {
	var uses []contentBlock
	for _, b := range blocks {
		if b.Type == "tool_use" {
			uses = append(uses, b)
		}
	}
	return uses
}

func joinText(blocks []contentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type != "text" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(b.Text)
	}
	return sb.String()
}

var _ Generator = (*AnthropicClient)(nil)
