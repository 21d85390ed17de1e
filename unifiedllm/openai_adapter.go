package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIAdapter speaks the OpenAI chat-completions protocol. It targets an
// inference gateway that fronts several upstream providers, and works
// unchanged against any OpenAI-compatible endpoint.
type OpenAIAdapter struct {
	name         string
	client       *openai.Client
	model        string
	prefixModels bool
}

// OpenAIAdapterOption configures an OpenAIAdapter.
type OpenAIAdapterOption func(*openAIAdapterConfig)

type openAIAdapterConfig struct {
	baseURL      string
	httpClient   *http.Client
	model        string
	prefixModels bool
}

// WithBaseURL sets the API base URL, including the version path
// (for example "http://localhost:8080/v1").
func WithBaseURL(url string) OpenAIAdapterOption {
	return func(c *openAIAdapterConfig) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(client *http.Client) OpenAIAdapterOption {
	return func(c *openAIAdapterConfig) {
		c.httpClient = client
	}
}

// WithModel sets the model used when a request does not name one.
func WithModel(model string) OpenAIAdapterOption {
	return func(c *openAIAdapterConfig) {
		c.model = model
	}
}

// WithProviderPrefixedModels makes the adapter send "provider/model" ids
// when a request carries a Provider and its model has no prefix yet.
func WithProviderPrefixedModels(enabled bool) OpenAIAdapterOption {
	return func(c *openAIAdapterConfig) {
		c.prefixModels = enabled
	}
}

// NewOpenAIAdapter creates an adapter registered under name.
func NewOpenAIAdapter(name, apiKey string, opts ...OpenAIAdapterOption) *OpenAIAdapter {
	cfg := &openAIAdapterConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.baseURL != "" {
		clientCfg.BaseURL = cfg.baseURL
	}
	if cfg.httpClient != nil {
		clientCfg.HTTPClient = cfg.httpClient
	}

	return &OpenAIAdapter{
		name:         name,
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.model,
		prefixModels: cfg.prefixModels,
	}
}

// Name returns the provider identifier.
func (a *OpenAIAdapter) Name() string {
	return a.name
}

// Complete sends a chat-completion request and translates the first choice.
func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	oreq, err := a.translateRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.CreateChatCompletion(ctx, oreq)
	if err != nil {
		return nil, a.translateError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &InvalidResponseError{SDKError: SDKError{Message: "response contained no choices"}}
	}
	return a.buildResponse(req, resp), nil
}

func (a *OpenAIAdapter) modelFor(req Request) string {
	model := req.Model
	if model == "" {
		model = a.model
	}
	if a.prefixModels && req.Provider != "" && !strings.Contains(model, "/") {
		model = req.Provider + "/" + model
	}
	return model
}

func (a *OpenAIAdapter) translateRequest(req Request) (openai.ChatCompletionRequest, error) {
	oreq := openai.ChatCompletionRequest{Model: a.modelFor(req)}
	if oreq.Model == "" {
		return oreq, &ConfigurationError{SDKError: SDKError{Message: "no model specified"}}
	}

	for _, msg := range req.Messages {
		oreq.Messages = append(oreq.Messages, translateMessage(msg))
	}

	for _, t := range req.ToolDefs {
		oreq.Tools = append(oreq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	if req.ToolChoice != nil {
		switch req.ToolChoice.Mode {
		case "named":
			oreq.ToolChoice = openai.ToolChoice{
				Type:     openai.ToolTypeFunction,
				Function: openai.ToolFunction{Name: req.ToolChoice.ToolName},
			}
		default:
			oreq.ToolChoice = req.ToolChoice.Mode
		}
	}
	if req.Temperature != nil {
		oreq.Temperature = float32(*req.Temperature)
	}
	if req.MaxTokens != nil {
		oreq.MaxTokens = *req.MaxTokens
	}
	return oreq, nil
}

func translateMessage(msg Message) openai.ChatCompletionMessage {
	switch msg.Role {
	case RoleTool:
		out := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleTool, ToolCallID: msg.ToolCallID}
		for _, part := range msg.Content {
			switch {
			case part.Kind == ContentToolResult && part.ToolResult != nil:
				out.Content += part.ToolResult.Content
				if out.ToolCallID == "" {
					out.ToolCallID = part.ToolResult.ToolCallID
				}
			case part.Kind == ContentText:
				out.Content += part.Text
			}
		}
		return out
	case RoleAssistant:
		out := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.TextContent()}
		for _, tc := range msg.ToolCalls() {
			args := string(tc.Arguments)
			if args == "" {
				args = "{}"
			}
			out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
				ID:       tc.ID,
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: tc.Name, Arguments: args},
			})
		}
		return out
	case RoleSystem:
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.TextContent()}
	default:
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.TextContent()}
	}
}

func (a *OpenAIAdapter) buildResponse(req Request, resp openai.ChatCompletionResponse) *Response {
	choice := resp.Choices[0]

	var parts []ContentPart
	if choice.Message.ReasoningContent != "" {
		parts = append(parts, ThinkingPart(choice.Message.ReasoningContent))
	}
	if choice.Message.Content != "" {
		parts = append(parts, TextPart(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.New().String()[:8]
		}
		args := json.RawMessage(tc.Function.Arguments)
		if len(strings.TrimSpace(tc.Function.Arguments)) == 0 {
			args = json.RawMessage("{}")
		}
		parts = append(parts, ToolCallPart(id, tc.Function.Name, args))
	}

	id := resp.ID
	if id == "" {
		id = "resp_" + uuid.New().String()[:8]
	}
	model := resp.Model
	if model == "" {
		model = a.modelFor(req)
	}
	provider := req.Provider
	if provider == "" {
		provider = a.name
	}

	return &Response{
		ID:       id,
		Model:    model,
		Provider: provider,
		Message:  Message{Role: RoleAssistant, Content: parts},
		FinishReason: FinishReason{
			Reason: normalizeFinishReason(choice.FinishReason),
			Raw:    string(choice.FinishReason),
		},
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
}

func normalizeFinishReason(r openai.FinishReason) string {
	switch r {
	case openai.FinishReasonStop:
		return "stop"
	case openai.FinishReasonLength:
		return "length"
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return "tool_calls"
	case openai.FinishReasonContentFilter:
		return "content_filter"
	case "":
		return "stop"
	default:
		return "other"
	}
}

func (a *OpenAIAdapter) translateError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return &RequestTimeoutError{SDKError: SDKError{Message: "request deadline exceeded", Cause: err}}
		}
		return &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: err}}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if s, ok := apiErr.Code.(string); ok {
			code = s
		}
		return ErrorFromStatusCode(apiErr.HTTPStatusCode, apiErr.Message, a.name, code, nil)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := reqErr.Error()
		if len(reqErr.Body) > 0 {
			msg = string(reqErr.Body)
		}
		return ErrorFromStatusCode(reqErr.HTTPStatusCode, msg, a.name, "", nil)
	}

	return &NetworkError{SDKError: SDKError{Message: "inference request failed", Cause: err}}
}
