package llm

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// CompletionRequest describes a single call to the completion endpoint.
type CompletionRequest struct {
	Prompt       string
	SystemPrompt string
	Model        string
	MaxTokens    int     // must be within [1, 4000]
	Temperature  float64 // must be within [0, 2]
	// StructuredOutput requests JSON output mode when the target model
	// supports it.
	StructuredOutput bool
}

// CompletionResult carries the upstream reply with usage metadata.
type CompletionResult struct {
	Text         string
	TokensUsed   int
	FinishReason string
}

// Client is the interface for completion-endpoint clients.
type Client interface {
	// Configured reports whether a credential is available. Checked before
	// any network call is made.
	Configured() bool
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}

// OpenAIClient calls the OpenAI chat completions API through langchaingo.
type OpenAIClient struct {
	model      llms.Model
	configured bool
}

// NewOpenAIClient creates a client for the given credential. An empty API key
// yields a client that reports itself unconfigured instead of an error, so
// the service can start without a credential and reject calls cleanly.
func NewOpenAIClient(apiKey, baseURL string) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return &OpenAIClient{configured: false}, nil
	}

	opts := []openai.Option{
		openai.WithToken(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, Classify(err)
	}

	return &OpenAIClient{model: model, configured: true}, nil
}

// Configured reports whether an API credential was provided.
func (c *OpenAIClient) Configured() bool {
	return c.configured
}

// Complete performs one chat completion call and classifies any failure.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if !c.configured {
		return nil, &Error{Kind: KindNotConfigured, Message: "completion API key is not configured"}
	}

	if req.MaxTokens < 1 || req.MaxTokens > 4000 {
		return nil, &Error{Kind: KindInvalidRequest, Message: "max tokens must be between 1 and 4000"}
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		return nil, &Error{Kind: KindInvalidRequest, Message: "temperature must be between 0 and 2"}
	}

	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, req.SystemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, req.Prompt),
	}

	callOptions := []llms.CallOption{
		llms.WithModel(req.Model),
		llms.WithTemperature(req.Temperature),
		llms.WithMaxTokens(req.MaxTokens),
	}
	if req.StructuredOutput {
		callOptions = append(callOptions, llms.WithJSONMode())
	}

	resp, err := c.model.GenerateContent(ctx, messages, callOptions...)
	if err != nil {
		return nil, Classify(err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return nil, &Error{Kind: KindEmptyResponse, Message: "completion endpoint returned an empty response"}
	}

	choice := resp.Choices[0]
	result := &CompletionResult{
		Text:         choice.Content,
		FinishReason: choice.StopReason,
	}
	if tokens, ok := choice.GenerationInfo["TotalTokens"].(int); ok {
		result.TokensUsed = tokens
	}

	log.Debug().
		Str("model", req.Model).
		Int("tokens_used", result.TokensUsed).
		Str("finish_reason", result.FinishReason).
		Int("response_bytes", len(result.Text)).
		Msg("Completion call succeeded")

	return result, nil
}
