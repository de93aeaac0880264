package engine

import (
	"context"

	"github.com/vinayprograms/dispatchkit/registry"
)

// defaultMaxTokens caps a single response when the agent's runtime
// config leaves MaxTokens unset.
const defaultMaxTokens = 4096

// Request is one unit of work handed to an engine.
type Request struct {
	// TaskID identifies the task this work belongs to.
	TaskID string

	// System is an optional system prompt framing the work.
	System string

	// Prompt is the instruction to execute.
	Prompt string

	// MaxTokens overrides the engine's response cap when positive.
	MaxTokens int
}

// Response is the outcome of one engine run.
type Response struct {
	// Output is the produced text.
	Output string

	// StopReason is the provider's termination reason.
	StopReason string

	// Model is the provider-reported model identifier.
	Model string

	// InputTokens and OutputTokens are the usage counts.
	InputTokens  int
	OutputTokens int
}

// Engine executes work on behalf of one agent.
type Engine interface {
	// Run executes a single request.
	Run(ctx context.Context, req Request) (Response, error)

	// Stop releases the engine's resources. Idempotent.
	Stop()
}

// Starter builds an Engine from an agent's runtime config.
type Starter interface {
	Start(ctx context.Context, agent registry.Agent) (Engine, error)
}

// StarterFunc adapts a function to the Starter interface.
type StarterFunc func(ctx context.Context, agent registry.Agent) (Engine, error)

// Start implements the Starter interface.
func (f StarterFunc) Start(ctx context.Context, agent registry.Agent) (Engine, error) {
	return f(ctx, agent)
}
