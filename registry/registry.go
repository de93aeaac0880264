package registry

import (
	"errors"
	"strings"
	"time"
)

// Common errors.
var (
	ErrNotFound  = errors.New("agent not found")
	ErrClosed    = errors.New("directory closed")
	ErrInvalidID = errors.New("invalid agent ID")
)

// Status represents an agent's live operational state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// Weight returns the scheduling preference weight for a status.
// Lower is preferred: online < busy < offline/unknown.
func (s Status) Weight() int {
	switch s {
	case StatusOnline:
		return 0
	case StatusBusy:
		return 1
	default:
		return 2
	}
}

// RuntimeConfig describes how to start an execution engine for an agent.
// An agent without a usable runtime config is never eligible for work.
type RuntimeConfig struct {
	// Provider selects the engine implementation ("anthropic", "openai", ...).
	Provider string

	// Model is the provider-specific model identifier.
	Model string

	// MaxTokens caps a single engine response. Zero uses the provider default.
	MaxTokens int
}

// Usable reports whether the config can start an engine.
func (rc *RuntimeConfig) Usable() bool {
	return rc != nil && rc.Provider != "" && rc.Model != ""
}

// Agent is a directory record for an autonomous worker.
type Agent struct {
	// ID uniquely identifies the agent.
	ID string

	// Name is a human-readable display name.
	Name string

	// Roles the agent can fill (lowercase tags, e.g. "coder", "reviewer").
	Roles []string

	// Capabilities the agent advertises (lowercase tags).
	Capabilities []string

	// ToolPermissions lists the tools the agent may use.
	ToolPermissions []string

	// Enabled gates the agent in or out of scheduling entirely.
	Enabled bool

	// Status is the live operational state.
	Status Status

	// StatusUpdatedAt is when Status last changed.
	StatusUpdatedAt time.Time

	// LastHeartbeatAt is when the agent last reported in.
	LastHeartbeatAt time.Time

	// SuccessRate is the fraction of completed tasks that succeeded, in [0,1].
	SuccessRate float64

	// AvgResponseMillis is the agent's average response latency.
	AvgResponseMillis float64

	// Runtime describes how to start an engine for this agent.
	Runtime *RuntimeConfig
}

// Clone returns a deep copy of the agent record.
func (a *Agent) Clone() *Agent {
	cp := *a
	cp.Roles = append([]string(nil), a.Roles...)
	cp.Capabilities = append([]string(nil), a.Capabilities...)
	cp.ToolPermissions = append([]string(nil), a.ToolPermissions...)
	if a.Runtime != nil {
		rc := *a.Runtime
		cp.Runtime = &rc
	}
	return &cp
}

// HasRole reports whether the agent can fill role (case-insensitive).
func (a *Agent) HasRole(role string) bool {
	return containsFold(a.Roles, role)
}

// HasCapability reports whether the agent advertises capability.
func (a *Agent) HasCapability(capability string) bool {
	return containsFold(a.Capabilities, capability)
}

// HasTool reports whether the agent may use tool.
func (a *Agent) HasTool(tool string) bool {
	return containsFold(a.ToolPermissions, tool)
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

// ValidateAgent checks if an agent record is valid.
func ValidateAgent(a Agent) error {
	if a.ID == "" {
		return ErrInvalidID
	}
	if a.SuccessRate < 0 || a.SuccessRate > 1 {
		return errors.New("success rate must be between 0.0 and 1.0")
	}
	return nil
}

// EventType represents the type of directory event.
type EventType string

const (
	EventAdded   EventType = "added"
	EventUpdated EventType = "updated"
	EventRemoved EventType = "removed"
)

// Event represents a change in the directory.
type Event struct {
	// Type indicates what happened.
	Type EventType

	// Agent contains the agent record.
	// For removal events, this is the last known state.
	Agent Agent
}

// Directory provides agent registration, lookup and a change feed.
type Directory interface {
	// All returns a snapshot of every agent record.
	All() ([]Agent, error)

	// Get retrieves a specific agent by ID.
	// Returns ErrNotFound if not found.
	Get(id string) (*Agent, error)

	// Put adds or replaces an agent record.
	Put(agent Agent) error

	// Remove deletes an agent record.
	// Returns ErrNotFound if the agent doesn't exist.
	Remove(id string) error

	// SetStatus updates an agent's live status, stamping StatusUpdatedAt
	// only when the status actually changes.
	SetStatus(id string, status Status) error

	// Heartbeat records that the agent reported in, stamping
	// LastHeartbeatAt and reviving offline agents to online.
	Heartbeat(id string) error

	// Watch returns a channel of directory events.
	// The channel is closed when the directory is closed.
	// Multiple watchers are supported.
	Watch() (<-chan Event, error)

	// Close shuts down the directory.
	Close() error
}
