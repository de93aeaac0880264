package errors

// ErrorCategory classifies errors by their nature and handling semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: engine start failure, agent temporarily offline.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: invalid input, task not found, terminal task mutation.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryScheduling indicates policy outcomes that are corrected
	// locally and surfaced as events, not raised to callers.
	// Examples: claim conflicts, concurrency ceilings, exhausted candidates.
	CategoryScheduling ErrorCategory = "scheduling"

	// CategoryFatal indicates persistence or invariant failures that must
	// propagate. The scheduling subsystem never masks these.
	CategoryFatal ErrorCategory = "fatal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryScheduling:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific failure types within categories.
type ErrorCode string

// Error codes for the scheduling core.
const (
	// Scheduling outcomes
	ErrCodeClaimConflict         ErrorCode = "CLAIM_CONFLICT"         // Lost a race for a task claim
	ErrCodeDependencyUnsatisfied ErrorCode = "DEPENDENCY_UNSATISFIED" // Task not yet executable
	ErrCodeSchedulingExhausted   ErrorCode = "SCHEDULING_EXHAUSTED"   // No viable candidate for a task
	ErrCodeConcurrencyLimit      ErrorCode = "CONCURRENCY_LIMIT"      // Ceiling reached, task demoted

	// Transient failures
	ErrCodeAgentUnavailable ErrorCode = "AGENT_UNAVAILABLE" // Engine failed to start for an agent
	ErrCodeAgentOffline     ErrorCode = "AGENT_OFFLINE"     // Target agent is offline
	ErrCodeTaskTimeout      ErrorCode = "TASK_TIMEOUT"      // Running task exceeded its timeout
	ErrCodeEngineStart      ErrorCode = "ENGINE_START"      // Engine start attempt failed

	// Permanent failures
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"     // Task or agent does not exist
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT" // Malformed or invalid input
	ErrCodeTerminalTask ErrorCode = "TERMINAL_TASK" // Mutation of a completed/failed task
	ErrCodeNotClaimed   ErrorCode = "NOT_CLAIMED"   // Caller does not hold the claim
	ErrCodeCanceled     ErrorCode = "CANCELED"      // Operation was canceled

	// Fatal failures
	ErrCodeRepository ErrorCode = "REPOSITORY" // Persistence failure, always propagated
	ErrCodeInternal   ErrorCode = "INTERNAL"   // Unexpected internal error
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeClaimConflict, ErrCodeDependencyUnsatisfied,
		ErrCodeSchedulingExhausted, ErrCodeConcurrencyLimit:
		return CategoryScheduling

	case ErrCodeAgentUnavailable, ErrCodeAgentOffline, ErrCodeTaskTimeout,
		ErrCodeEngineStart:
		return CategoryTransient

	case ErrCodeNotFound, ErrCodeInvalidInput, ErrCodeTerminalTask,
		ErrCodeNotClaimed, ErrCodeCanceled:
		return CategoryPermanent

	case ErrCodeRepository, ErrCodeInternal:
		return CategoryFatal

	default:
		return CategoryFatal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

// codeDescriptions provides human-readable descriptions for error codes.
var codeDescriptions = map[ErrorCode]string{
	ErrCodeClaimConflict:         "task claimed by another agent",
	ErrCodeDependencyUnsatisfied: "task has unsatisfied dependencies",
	ErrCodeSchedulingExhausted:   "no viable agent for task",
	ErrCodeConcurrencyLimit:      "concurrency ceiling reached",
	ErrCodeAgentUnavailable:      "agent runtime unavailable",
	ErrCodeAgentOffline:          "agent is offline",
	ErrCodeTaskTimeout:           "task execution timed out",
	ErrCodeEngineStart:           "engine start failed",
	ErrCodeNotFound:              "resource not found",
	ErrCodeInvalidInput:          "invalid input provided",
	ErrCodeTerminalTask:          "task is in a terminal state",
	ErrCodeNotClaimed:            "claim not held by caller",
	ErrCodeCanceled:              "operation canceled",
	ErrCodeRepository:            "repository failure",
	ErrCodeInternal:              "internal error",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
