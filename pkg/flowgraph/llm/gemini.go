package llm

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/randalmurphal/taskguide/pkg/flowgraph/errors"
)

// GeminiConfig configures NewGeminiClient.
type GeminiConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	Retry       errors.Policy
	Logger      *slog.Logger
}

// EinoClient adapts an eino tool-calling chat model to Client.
type EinoClient struct {
	chat    model.ToolCallingChatModel
	model   string
	timeout time.Duration
	retry   errors.Policy
	logger  *slog.Logger
}

var _ Client = (*EinoClient)(nil)

// NewGeminiClient builds a Gemini-backed client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*EinoClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	temp := cfg.Temperature
	maxTokens := cfg.MaxTokens
	chat, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       cfg.Model,
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini chat model: %w", err)
	}

	return NewEinoClient(chat, cfg.Model, cfg.Timeout, cfg.Retry, cfg.Logger), nil
}

// NewEinoClient wraps any eino tool-calling chat model. A zero retry
// policy means no retries; a zero timeout means no per-call deadline.
func NewEinoClient(chat model.ToolCallingChatModel, modelName string, timeout time.Duration, retry errors.Policy, logger *slog.Logger) *EinoClient {
	if retry.MaxAttempts == 0 {
		retry = errors.NoRetry
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EinoClient{
		chat:    chat,
		model:   modelName,
		timeout: timeout,
		retry:   retry,
		logger:  logger,
	}
}

// Complete implements Client. Tools are bound per call so concurrent
// requests with different tool sets do not interfere.
func (c *EinoClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	chat := c.chat
	if len(req.Tools) > 0 {
		bound, err := c.chat.WithTools(toToolInfos(req.Tools))
		if err != nil {
			return nil, NewError("bind_tools", err, false)
		}
		chat = bound
	}

	input := toSchemaMessages(req)
	opts := callOptions(req)

	policy := c.retry
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.logger.Warn("reasoning call failed, retrying",
			slog.String("purpose", req.Purpose),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	out, err := errors.Do(ctx, policy, func(ctx context.Context) (*schema.Message, error) {
		if c.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		msg, err := chat.Generate(ctx, input, opts...)
		if err != nil {
			return nil, classify(ctx, err, c.timeout)
		}
		return msg, nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, NewError("complete", ctxErr, false)
		}
		return nil, NewError("complete", err, errors.IsRetryable(err))
	}

	resp := fromSchemaMessage(out)
	resp.Model = c.model
	if req.Model != "" {
		resp.Model = req.Model
	}
	resp.Duration = time.Since(start)
	return resp, nil
}

// classify maps provider failures onto the shared error taxonomy.
func classify(ctx context.Context, err error, timeout time.Duration) error {
	var apiErr genai.APIError
	if stderrors.As(err, &apiErr) {
		return &errors.HTTPError{StatusCode: apiErr.Code, Message: apiErr.Message, Endpoint: "gemini"}
	}
	var apiErrPtr *genai.APIError
	if stderrors.As(err, &apiErrPtr) {
		return &errors.HTTPError{StatusCode: apiErrPtr.Code, Message: apiErrPtr.Message, Endpoint: "gemini"}
	}
	if stderrors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		return &errors.TimeoutError{Operation: "gemini generate", Duration: timeout.String()}
	}
	return err
}

func callOptions(req CompletionRequest) []model.Option {
	var opts []model.Option
	if req.Model != "" {
		opts = append(opts, model.WithModel(req.Model))
	}
	if req.Temperature != nil {
		opts = append(opts, model.WithTemperature(float32(*req.Temperature)))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	return opts
}

func toSchemaMessages(req CompletionRequest) []*schema.Message {
	out := make([]*schema.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, schema.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		case RoleAssistant:
			var calls []schema.ToolCall
			for _, tc := range m.ToolCalls {
				calls = append(calls, schema.ToolCall{
					ID:       tc.ID,
					Type:     "function",
					Function: schema.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
				})
			}
			out = append(out, schema.AssistantMessage(m.Content, calls))
		case RoleTool:
			msg := schema.ToolMessage(m.Content, m.ToolCallID)
			msg.ToolName = m.Name
			out = append(out, msg)
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}

func fromSchemaMessage(msg *schema.Message) *CompletionResponse {
	resp := &CompletionResponse{FinishReason: "stop"}
	if msg == nil {
		return resp
	}
	resp.Content = msg.Content
	for i, tc := range msg.ToolCalls {
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if meta := msg.ResponseMeta; meta != nil {
		if meta.FinishReason != "" {
			resp.FinishReason = meta.FinishReason
		}
		if u := meta.Usage; u != nil {
			resp.Usage = TokenUsage{
				InputTokens:  u.PromptTokens,
				OutputTokens: u.CompletionTokens,
				TotalTokens:  u.TotalTokens,
			}
		}
	}
	if len(resp.ToolCalls) > 0 && resp.FinishReason == "stop" {
		resp.FinishReason = "tool_calls"
	}
	return resp
}

func toToolInfos(tools []Tool) []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		params := make(map[string]*schema.ParameterInfo, len(t.Parameters))
		for name, p := range t.Parameters {
			params[name] = toParameterInfo(p)
		}
		infos = append(infos, &schema.ToolInfo{
			Name:        t.Name,
			Desc:        t.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}
	return infos
}

func toParameterInfo(p Param) *schema.ParameterInfo {
	info := &schema.ParameterInfo{
		Type:     schema.DataType(p.Type),
		Desc:     p.Description,
		Required: p.Required,
		Enum:     p.Enum,
	}
	if p.Items != nil {
		info.ElemInfo = toParameterInfo(*p.Items)
	}
	return info
}
