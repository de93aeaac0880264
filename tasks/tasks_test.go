package tasks

import (
	"testing"
	"time"

	"github.com/vinayprograms/dispatchkit/labels"
)

// --- Unit Tests ---

func TestStatusIsTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("Expected %s to be terminal", s)
		}
	}

	active := []Status{StatusPending, StatusBlocked, StatusAssigned, StatusQueued, StatusRunning, StatusPaused}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("Expected %s to be non-terminal", s)
		}
	}
}

func TestTaskClone(t *testing.T) {
	runAfter := time.Now().Add(time.Minute)
	orig := &Task{
		ID:           "t1",
		SessionID:    "sess-1",
		Title:        "Review task",
		Priority:     labels.PriorityHigh,
		Labels:       []string{"role:reviewer"},
		Status:       StatusQueued,
		Dependencies: []string{"t0"},
		RunAfter:     &runAfter,
	}

	clone := orig.Clone()
	clone.Labels[0] = "role:other"
	clone.Dependencies[0] = "changed"
	*clone.RunAfter = clone.RunAfter.Add(time.Hour)

	if orig.Labels[0] != "role:reviewer" {
		t.Error("Clone shares the labels slice")
	}
	if orig.Dependencies[0] != "t0" {
		t.Error("Clone shares the dependencies slice")
	}
	if !orig.RunAfter.Equal(runAfter) {
		t.Error("Clone shares the RunAfter pointer")
	}
}

func TestTaskCloneWithNilFields(t *testing.T) {
	orig := &Task{ID: "t1", SessionID: "sess-1"}
	clone := orig.Clone()

	if clone.RunAfter != nil || clone.LastStartedAt != nil || clone.CompletedAt != nil {
		t.Error("Expected nil timestamps to stay nil")
	}
	if clone.ID != "t1" {
		t.Errorf("Expected ID t1, got %s", clone.ID)
	}
}

func TestTaskTimeout(t *testing.T) {
	def := 600 * time.Second

	task := &Task{TimeoutSeconds: 30}
	if got := task.Timeout(def); got != 30*time.Second {
		t.Errorf("Expected 30s, got %s", got)
	}

	task = &Task{}
	if got := task.Timeout(def); got != def {
		t.Errorf("Expected default %s, got %s", def, got)
	}
}

func TestFilterMatches(t *testing.T) {
	task := &Task{
		ID:           "t1",
		SessionID:    "sess-1",
		Status:       StatusRunning,
		AssignedTo:   "agent-1",
		ParentTaskID: "parent-1",
	}

	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", Filter{}, true},
		{"session match", Filter{SessionID: "sess-1"}, true},
		{"session mismatch", Filter{SessionID: "sess-2"}, false},
		{"status match", Filter{Statuses: []Status{StatusPending, StatusRunning}}, true},
		{"status mismatch", Filter{Statuses: []Status{StatusPending}}, false},
		{"assignee match", Filter{AssignedTo: "agent-1"}, true},
		{"assignee mismatch", Filter{AssignedTo: "agent-2"}, false},
		{"parent match", Filter{ParentTaskID: "parent-1"}, true},
		{"parent mismatch", Filter{ParentTaskID: "parent-2"}, false},
	}
	for _, tc := range cases {
		if got := tc.filter.Matches(task); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestLegacyPhase(t *testing.T) {
	cases := []struct {
		task Task
		want Phase
	}{
		{Task{Status: StatusPending}, PhasePending},
		{Task{Status: StatusBlocked}, PhaseBlocked},
		{Task{Status: StatusAssigned}, PhaseActive},
		{Task{Status: StatusRunning}, PhaseActive},
		{Task{Status: StatusRunning, Result: "done"}, PhaseFinalizing},
		{Task{Status: StatusQueued}, PhaseReassigning},
		{Task{Status: StatusPaused}, PhaseNeedsConfirm},
		{Task{Status: StatusCompleted}, PhaseDone},
		{Task{Status: StatusFailed}, PhaseFailed},
	}
	for _, tc := range cases {
		if got := LegacyPhase(tc.task); got != tc.want {
			t.Errorf("Status %s: expected phase %s, got %s", tc.task.Status, tc.want, got)
		}
	}
}

func TestValidateDependencyGraph(t *testing.T) {
	all := []*Task{
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"a", "b"}},
	}

	order, err := ValidateDependencyGraph(all)
	if err != nil {
		t.Fatalf("ValidateDependencyGraph failed: %v", err)
	}
	if len(order) != 3 {
		t.Fatalf("Expected 3 tasks in order, got %d", len(order))
	}

	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	if pos["a"] > pos["b"] || pos["b"] > pos["c"] {
		t.Errorf("Expected a before b before c, got %v", order)
	}
}

func TestValidateDependencyGraphCycle(t *testing.T) {
	all := []*Task{
		{ID: "a", Dependencies: []string{"b"}},
		{ID: "b", Dependencies: []string{"a"}},
	}

	if _, err := ValidateDependencyGraph(all); err == nil {
		t.Error("Expected a cycle error")
	}
}

func TestValidateDependencyGraphStaleDependency(t *testing.T) {
	all := []*Task{
		{ID: "a", Dependencies: []string{"deleted"}},
	}

	order, err := ValidateDependencyGraph(all)
	if err != nil {
		t.Fatalf("Expected stale dependency to be tolerated, got %v", err)
	}
	if len(order) != 1 || order[0] != "a" {
		t.Errorf("Expected [a], got %v", order)
	}
}
