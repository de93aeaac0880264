// Package errors provides a structured error taxonomy for the task
// scheduling core in dispatchkit. Plain Go errors lose the context needed to
// decide how a scheduling failure should be handled; every error here carries
// a code and a category so callers can distinguish a lost claim race (drop it
// this pass) from a repository failure (propagate, never mask).
//
// # Error Categories
//
// Errors are classified into four categories:
//
//   - Transient: temporary failures where retry may succeed (engine start, offline agent)
//   - Permanent: failures where retry will not help (invalid input, not found)
//   - Scheduling: policy outcomes corrected locally (claim conflicts, exhausted candidates)
//   - Fatal: persistence or invariant failures that must propagate to the caller
//
// # Usage
//
// Create a new error:
//
//	err := errors.ClaimConflict(taskID, agentID)
//
// Wrap an existing error with context:
//
//	wrapped := errors.Wrap(err, "claiming task")
//
// Check how to handle an error:
//
//	if errors.Is(err, errors.ErrCodeClaimConflict) {
//	    // another scheduling attempt got there first
//	}
//	if errors.IsRetryable(err) {
//	    // safe to try again on the next pass
//	}
//
// # JSON Serialization
//
// Errors serialize to JSON so scheduler events can carry them over a bus:
//
//	data, err := json.Marshal(schedErr)
package errors
