package engine

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	schederrors "github.com/vinayprograms/dispatchkit/errors"
	"github.com/vinayprograms/dispatchkit/registry"
)

// OpenAIStarter builds engines backed by the OpenAI API.
type OpenAIStarter struct {
	apiKey  string
	baseURL string
}

// NewOpenAIStarter creates a starter with the given API key.
func NewOpenAIStarter(apiKey string) *OpenAIStarter {
	return &OpenAIStarter{apiKey: apiKey}
}

// WithBaseURL points the starter at a custom API endpoint, e.g. a
// local proxy or an OpenAI-compatible server.
func (s *OpenAIStarter) WithBaseURL(url string) *OpenAIStarter {
	s.baseURL = url
	return s
}

// Start implements the Starter interface.
func (s *OpenAIStarter) Start(_ context.Context, agent registry.Agent) (Engine, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("api key is required for openai")
	}
	if !agent.Runtime.Usable() {
		return nil, ErrNoRuntime
	}

	opts := []option.RequestOption{
		option.WithAPIKey(s.apiKey),
	}
	if s.baseURL != "" {
		opts = append(opts, option.WithBaseURL(s.baseURL))
	}
	client := openai.NewClient(opts...)

	maxTokens := agent.Runtime.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &openaiEngine{
		client:    &client,
		model:     agent.Runtime.Model,
		maxTokens: maxTokens,
	}, nil
}

type openaiEngine struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// Run implements the Engine interface.
func (e *openaiEngine) Run(ctx context.Context, req Request) (Response, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	maxTokens := int64(e.maxTokens)
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	resp, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     shared.ChatModel(e.model),
		Messages:  messages,
		MaxTokens: openai.Int(maxTokens),
	})
	if err != nil {
		return Response{}, schederrors.Wrap(err, "openai request failed",
			schederrors.WithTaskID(req.TaskID))
	}

	result := Response{
		Model:        resp.Model,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	if len(resp.Choices) > 0 {
		result.Output = resp.Choices[0].Message.Content
		result.StopReason = string(resp.Choices[0].FinishReason)
	}
	return result, nil
}

// Stop implements the Engine interface.
func (e *openaiEngine) Stop() {}
