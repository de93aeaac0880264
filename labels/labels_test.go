package labels

import (
	"reflect"
	"testing"
)

func TestParse_TypedSets(t *testing.T) {
	raw := []string{
		"role:reviewer",
		"workflow_role:Tester",
		"capability:Security",
		"workflow_capability:audit",
		"tool:bash",
		"workflow_tool:git",
		"assist_agent:a-17",
		"agent_exclude:a-03",
		"agent_exclude:a-04",
		"workflow_phase:review",
		"plan_source:plan.md",
		"assist_required",
	}

	p := Parse(raw)

	if !p.Roles.Has("reviewer") || !p.Roles.Has("tester") {
		t.Errorf("roles = %v, want reviewer and tester", p.Roles.Values())
	}
	if !p.Capabilities.Has("security") || !p.Capabilities.Has("audit") {
		t.Errorf("capabilities = %v", p.Capabilities.Values())
	}
	if !p.Tools.Has("bash") || !p.Tools.Has("git") {
		t.Errorf("tools = %v", p.Tools.Values())
	}
	if p.AssistTarget != "a-17" {
		t.Errorf("assist target = %q, want a-17", p.AssistTarget)
	}
	if !p.Excluded.Has("a-03") || !p.Excluded.Has("a-04") {
		t.Errorf("excluded = %v", p.Excluded.Values())
	}
	if p.WorkflowPhase != "review" {
		t.Errorf("workflow phase = %q", p.WorkflowPhase)
	}
	if !p.AssistRequired {
		t.Error("assist_required marker not parsed")
	}
	if p.HumanRequired {
		t.Error("human_required should be false")
	}
	if !reflect.DeepEqual(p.Other, []string{"plan_source:plan.md"}) {
		t.Errorf("other = %v", p.Other)
	}
}

func TestParse_Empty(t *testing.T) {
	p := Parse(nil)
	if len(p.Roles) != 0 || len(p.Capabilities) != 0 || len(p.Tools) != 0 {
		t.Error("empty input should produce empty sets")
	}
}

func TestAddRemoveHas(t *testing.T) {
	raw := []string{"role:coder"}

	raw = Add(raw, "agent_exclude:a-1")
	raw = Add(raw, "agent_exclude:a-1") // idempotent
	if got := len(raw); got != 2 {
		t.Fatalf("len = %d, want 2", got)
	}
	if !Has(raw, "agent_exclude:a-1") {
		t.Error("expected label present")
	}

	raw = Remove(raw, "agent_exclude:a-1")
	if Has(raw, "agent_exclude:a-1") {
		t.Error("expected label removed")
	}
	if !Has(raw, "role:coder") {
		t.Error("unrelated label lost")
	}
}

func TestSet_Values_Sorted(t *testing.T) {
	s := NewSet("c", "a", "b")
	if got := s.Values(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("values = %v", got)
	}
}

func TestPriority_Weight(t *testing.T) {
	tests := []struct {
		p    Priority
		want int
	}{
		{PriorityHigh, 3},
		{PriorityMedium, 2},
		{PriorityLow, 1},
		{Priority("bogus"), 0},
	}

	for _, tt := range tests {
		if got := tt.p.Weight(); got != tt.want {
			t.Errorf("Weight(%q) = %d, want %d", tt.p, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize(""); got != PriorityMedium {
		t.Errorf("Normalize(\"\") = %q", got)
	}
	if got := Normalize(PriorityHigh); got != PriorityHigh {
		t.Errorf("Normalize(high) = %q", got)
	}
}
