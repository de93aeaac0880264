package engine

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	schederrors "github.com/vinayprograms/dispatchkit/errors"
	"github.com/vinayprograms/dispatchkit/registry"
)

// AnthropicStarter builds engines backed by the Anthropic API. The
// agent's runtime config selects the model and token cap.
type AnthropicStarter struct {
	apiKey  string
	baseURL string
}

// NewAnthropicStarter creates a starter with the given API key.
func NewAnthropicStarter(apiKey string) *AnthropicStarter {
	return &AnthropicStarter{apiKey: apiKey}
}

// WithBaseURL points the starter at a custom API endpoint.
func (s *AnthropicStarter) WithBaseURL(url string) *AnthropicStarter {
	s.baseURL = url
	return s
}

// Start implements the Starter interface.
func (s *AnthropicStarter) Start(_ context.Context, agent registry.Agent) (Engine, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("api key is required for anthropic")
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
	client := anthropic.NewClient(opts...)

	maxTokens := agent.Runtime.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &anthropicEngine{
		client:    &client,
		model:     agent.Runtime.Model,
		maxTokens: maxTokens,
	}, nil
}

type anthropicEngine struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// Run implements the Engine interface.
func (e *anthropicEngine) Run(ctx context.Context, req Request) (Response, error) {
	maxTokens := int64(e.maxTokens)
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.System},
		}
	}

	resp, err := e.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, schederrors.Wrap(err, "anthropic request failed",
			schederrors.WithTaskID(req.TaskID))
	}

	result := Response{
		StopReason:   string(resp.StopReason),
		Model:        string(resp.Model),
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}
	for _, block := range resp.Content {
		if block.Type == "text" {
			result.Output += block.Text
		}
	}
	return result, nil
}

// Stop implements the Engine interface. The HTTP client holds no
// connection state worth tearing down.
func (e *anthropicEngine) Stop() {}
