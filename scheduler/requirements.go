package scheduler

import (
	"strings"

	"github.com/vinayprograms/dispatchkit/labels"
	"github.com/vinayprograms/dispatchkit/tasks"
)

// requirements is the typed demand a task places on an agent.
type requirements struct {
	roles        labels.Set
	capabilities labels.Set
	tools        labels.Set
}

func (r requirements) specialized() bool {
	return len(r.capabilities) > 0 || len(r.tools) > 0
}

// intentRoles maps common task intents to the role expected to handle
// them, used when the task carries no explicit role label.
var intentRoles = map[string]string{
	"review":    "reviewer",
	"implement": "developer",
	"fix":       "developer",
	"refactor":  "developer",
	"test":      "tester",
	"document":  "writer",
	"research":  "researcher",
	"plan":      "planner",
	"design":    "architect",
	"deploy":    "operator",
}

// phaseRoles maps workflow phases to roles, a weaker hint than the
// intent table.
var phaseRoles = map[string]string{
	"design":         "architect",
	"implementation": "developer",
	"review":         "reviewer",
	"testing":        "tester",
	"release":        "operator",
}

// deriveRequirements collects the required roles, capabilities and
// tools from the task's labels, falling back to the intent and phase
// lookup tables when no role label is present.
func deriveRequirements(t tasks.Task, parsed labels.Parsed) requirements {
	req := requirements{
		roles:        labels.NewSet(parsed.Roles.Values()...),
		capabilities: labels.NewSet(parsed.Capabilities.Values()...),
		tools:        labels.NewSet(parsed.Tools.Values()...),
	}

	if len(req.roles) == 0 {
		if role, ok := intentRoles[strings.ToLower(strings.TrimSpace(t.Intent))]; ok {
			req.roles.Add(role)
		}
	}
	if len(req.roles) == 0 && parsed.WorkflowPhase != "" {
		if role, ok := phaseRoles[strings.ToLower(parsed.WorkflowPhase)]; ok {
			req.roles.Add(role)
		}
	}
	return req
}
