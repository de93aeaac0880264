package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

// --- Unit Tests ---

func TestNew_DefaultCategory(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeClaimConflict, CategoryScheduling},
		{ErrCodeSchedulingExhausted, CategoryScheduling},
		{ErrCodeAgentUnavailable, CategoryTransient},
		{ErrCodeTaskTimeout, CategoryTransient},
		{ErrCodeNotFound, CategoryPermanent},
		{ErrCodeTerminalTask, CategoryPermanent},
		{ErrCodeRepository, CategoryFatal},
		{ErrorCode("UNKNOWN"), CategoryFatal},
	}

	for _, tt := range tests {
		e := New(tt.code, "msg")
		if e.Category() != tt.want {
			t.Errorf("New(%s).Category() = %s, want %s", tt.code, e.Category(), tt.want)
		}
	}
}

func TestRetryable_Defaults(t *testing.T) {
	if !New(ErrCodeClaimConflict, "x").Retryable() {
		t.Error("claim conflict should be retryable")
	}
	if !New(ErrCodeAgentUnavailable, "x").Retryable() {
		t.Error("agent unavailable should be retryable")
	}
	if New(ErrCodeRepository, "x").Retryable() {
		t.Error("repository failure must not be retryable")
	}
	if New(ErrCodeTerminalTask, "x").Retryable() {
		t.Error("terminal task mutation must not be retryable")
	}
}

func TestRetryable_Override(t *testing.T) {
	e := New(ErrCodeClaimConflict, "x", WithRetryable(false))
	if e.Retryable() {
		t.Error("explicit override should win over category default")
	}
}

func TestError_Message(t *testing.T) {
	cause := errors.New("disk full")
	e := New(ErrCodeRepository, "update failed", WithCause(cause))
	if got := e.Error(); got != "update failed: disk full" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(e, cause) {
		t.Error("cause not reachable through Unwrap")
	}
}

func TestConstructors(t *testing.T) {
	e := ClaimConflict("t-1", "a-1")
	if e.Code() != ErrCodeClaimConflict || e.TaskID() != "t-1" || e.AgentID() != "a-1" {
		t.Errorf("ClaimConflict fields: code=%s task=%s agent=%s", e.Code(), e.TaskID(), e.AgentID())
	}

	e = AgentUnavailable("a-2", errors.New("spawn failed"))
	if e.Code() != ErrCodeAgentUnavailable || e.AgentID() != "a-2" {
		t.Errorf("AgentUnavailable fields: code=%s agent=%s", e.Code(), e.AgentID())
	}
	if e.Unwrap() == nil {
		t.Error("AgentUnavailable should carry its cause")
	}

	e = TaskTimeout("t-3", 11*time.Minute)
	if e.Metadata()["elapsed"] != "11m0s" {
		t.Errorf("TaskTimeout metadata = %v", e.Metadata())
	}
}

func TestWrap(t *testing.T) {
	base := ClaimConflict("t-1", "a-1")
	wrapped := Wrap(base, "assignment attempt")

	if wrapped.Code() != ErrCodeClaimConflict {
		t.Errorf("wrap lost code: %s", wrapped.Code())
	}
	if wrapped.TaskID() != "t-1" {
		t.Errorf("wrap lost task ID: %s", wrapped.TaskID())
	}
	if !Is(wrapped, ErrCodeClaimConflict) {
		t.Error("Is should match through wrap")
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestWrap_PlainError(t *testing.T) {
	wrapped := Wrap(fmt.Errorf("boom"), "doing thing")
	if wrapped.Code() != ErrCodeInternal {
		t.Errorf("plain error should wrap as internal, got %s", wrapped.Code())
	}
}

func TestWrap_ContextErrors(t *testing.T) {
	if got := Wrap(context.DeadlineExceeded, "op"); got.Code() != ErrCodeTaskTimeout {
		t.Errorf("deadline wraps as %s, want %s", got.Code(), ErrCodeTaskTimeout)
	}
	if got := Wrap(context.Canceled, "op"); got.Code() != ErrCodeCanceled {
		t.Errorf("cancel wraps as %s, want %s", got.Code(), ErrCodeCanceled)
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(Repository("update", errors.New("locked"))) {
		t.Error("repository errors are fatal")
	}
	if IsFatal(ClaimConflict("t", "a")) {
		t.Error("claim conflicts are not fatal")
	}
	if IsFatal(errors.New("plain")) {
		t.Error("plain errors are not categorized")
	}
}

func TestJSON_RoundTrip(t *testing.T) {
	e := SchedulingExhausted("t-9", WithMetadata("session", "s-1"))

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Error
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded.Code() != ErrCodeSchedulingExhausted {
		t.Errorf("code = %s", decoded.Code())
	}
	if decoded.TaskID() != "t-9" {
		t.Errorf("task = %s", decoded.TaskID())
	}
	if decoded.Metadata()["session"] != "s-1" {
		t.Errorf("metadata = %v", decoded.Metadata())
	}
	if decoded.Retryable() != e.Retryable() {
		t.Error("retryable flag lost in round trip")
	}
}
