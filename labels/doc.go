// Package labels implements the prefixed-label protocol used to carry
// scheduling metadata on tasks.
//
// Labels are plain strings with documented prefixes:
//
//	role:reviewer            required agent role
//	capability:security      required agent capability
//	tool:bash                required tool permission
//	assist_agent:a-17        explicit assignment target
//	agent_exclude:a-03       agent barred from this task
//	workflow_instance:w-9    owning workflow instance
//	plan_source:plan.md      provenance of the task plan
//
// The string convention is the wire format and must be preserved at the
// boundary. Internally, Parse converts a label slice into typed sets once,
// immediately after ingestion:
//
//	p := labels.Parse(task.Labels)
//	if p.Excluded.Has(agent.ID) { ... }
//
// The package also defines task Priority and its scheduling weight.
package labels
