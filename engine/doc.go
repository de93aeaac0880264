// Package engine manages execution engines for agents.
//
// An Engine is the runtime handle that actually does an agent's work,
// typically a configured LLM client. Engines are expensive to hold, so
// the Pool starts them lazily on first use and evicts them after an
// idle window:
//
//	pool := engine.NewPool(dir, cfg,
//		engine.WithStarter("anthropic", engine.NewAnthropicStarter(apiKey)),
//		engine.WithStarter("openai", engine.NewOpenAIStarter(apiKey)),
//	)
//	defer pool.Dispose()
//
//	eng, err := pool.Ensure(ctx, agent)
//	if err != nil {
//		// agent marked offline in the directory
//	}
//	resp, err := eng.Run(ctx, engine.Request{TaskID: task.ID, Prompt: prompt})
//	pool.Release(agent.ID)
//
// The start path is guarded by an exponential-backoff retry and a
// per-agent circuit breaker, so a provider outage does not hammer the
// API or block scheduling passes.
package engine
