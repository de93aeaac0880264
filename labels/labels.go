package labels

import (
	"sort"
	"strings"
)

// Label prefixes. Values after the colon are free-form strings.
const (
	PrefixRole               = "role:"
	PrefixCapability         = "capability:"
	PrefixTool               = "tool:"
	PrefixAssistAgent        = "assist_agent:"
	PrefixAgentExclude       = "agent_exclude:"
	PrefixWorkflowInstance   = "workflow_instance:"
	PrefixWorkflowRole       = "workflow_role:"
	PrefixWorkflowPhase      = "workflow_phase:"
	PrefixWorkflowCapability = "workflow_capability:"
	PrefixWorkflowTool       = "workflow_tool:"
	PrefixPlanSource         = "plan_source:"
)

// Marker labels without a value part.
const (
	AssistRequired = "assist_required"
	HumanRequired  = "human_required"
)

// Set is an unordered set of tag strings.
type Set map[string]struct{}

// NewSet builds a Set from the given values.
func NewSet(values ...string) Set {
	s := make(Set, len(values))
	for _, v := range values {
		s.Add(v)
	}
	return s
}

// Add inserts a value. Empty strings are ignored.
func (s Set) Add(value string) {
	if value == "" {
		return
	}
	s[value] = struct{}{}
}

// Remove deletes a value if present.
func (s Set) Remove(value string) {
	delete(s, value)
}

// Has reports whether the set contains value.
func (s Set) Has(value string) bool {
	_, ok := s[value]
	return ok
}

// Values returns the set contents sorted for deterministic output.
func (s Set) Values() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Parsed is the typed view of a task's label slice.
type Parsed struct {
	// Roles required of the assigned agent (role: and workflow_role:).
	Roles Set

	// Capabilities required of the assigned agent.
	Capabilities Set

	// Tools the assigned agent must be permitted to use.
	Tools Set

	// AssistTarget is the explicitly requested agent ID, if any.
	AssistTarget string

	// Excluded contains agent IDs barred from this task.
	Excluded Set

	// WorkflowPhase is the owning workflow phase, if any.
	WorkflowPhase string

	// AssistRequired marks a task waiting on a specialist.
	AssistRequired bool

	// HumanRequired marks a task waiting on human takeover.
	HumanRequired bool

	// Other holds labels that carry no scheduling meaning, in input order.
	Other []string
}

// Parse converts a raw label slice into typed sets. Unknown labels are
// preserved in Other so a round-trip loses nothing.
func Parse(raw []string) Parsed {
	p := Parsed{
		Roles:        make(Set),
		Capabilities: make(Set),
		Tools:        make(Set),
		Excluded:     make(Set),
	}

	for _, l := range raw {
		switch {
		case strings.HasPrefix(l, PrefixRole):
			p.Roles.Add(strings.ToLower(strings.TrimPrefix(l, PrefixRole)))
		case strings.HasPrefix(l, PrefixWorkflowRole):
			p.Roles.Add(strings.ToLower(strings.TrimPrefix(l, PrefixWorkflowRole)))
		case strings.HasPrefix(l, PrefixCapability):
			p.Capabilities.Add(strings.ToLower(strings.TrimPrefix(l, PrefixCapability)))
		case strings.HasPrefix(l, PrefixWorkflowCapability):
			p.Capabilities.Add(strings.ToLower(strings.TrimPrefix(l, PrefixWorkflowCapability)))
		case strings.HasPrefix(l, PrefixTool):
			p.Tools.Add(strings.TrimPrefix(l, PrefixTool))
		case strings.HasPrefix(l, PrefixWorkflowTool):
			p.Tools.Add(strings.TrimPrefix(l, PrefixWorkflowTool))
		case strings.HasPrefix(l, PrefixAssistAgent):
			p.AssistTarget = strings.TrimPrefix(l, PrefixAssistAgent)
		case strings.HasPrefix(l, PrefixAgentExclude):
			p.Excluded.Add(strings.TrimPrefix(l, PrefixAgentExclude))
		case strings.HasPrefix(l, PrefixWorkflowPhase):
			p.WorkflowPhase = strings.TrimPrefix(l, PrefixWorkflowPhase)
		case l == AssistRequired:
			p.AssistRequired = true
		case l == HumanRequired:
			p.HumanRequired = true
		default:
			p.Other = append(p.Other, l)
		}
	}

	return p
}

// Has reports whether the raw label slice contains the exact label.
func Has(raw []string, label string) bool {
	for _, l := range raw {
		if l == label {
			return true
		}
	}
	return false
}

// Add returns raw with label appended, unless already present.
func Add(raw []string, label string) []string {
	if Has(raw, label) {
		return raw
	}
	return append(append([]string(nil), raw...), label)
}

// Remove returns raw without any occurrence of label.
func Remove(raw []string, label string) []string {
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		if l != label {
			out = append(out, l)
		}
	}
	return out
}
