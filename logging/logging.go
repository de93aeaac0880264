// Package logging provides leveled key=value console logging for the
// scheduling core. Components receive a Logger capability at construction so
// the core never depends on a host runtime's log surface.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger provides structured logging to an io.Writer (stdout by default).
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	sessionID string
}

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// New creates a new Logger.
func New() *Logger {
	return &Logger{
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
		sessionID: l.sessionID,
	}
}

// WithSession returns a new logger scoped to a session ID.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		sessionID: sessionID,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	var parts []string
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		if l.sessionID != "" {
			fields[0]["session"] = l.sessionID
		}
		fieldStr = formatFields(fields[0])
	} else if l.sessionID != "" {
		fieldStr = " session=" + l.sessionID
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Domain logging methods ---
// Called by the service, scheduler and pool so log lines stay uniform.

// TaskTransition logs a task status change.
func (l *Logger) TaskTransition(taskID, from, to string) {
	l.Info("task_transition", map[string]interface{}{
		"task": taskID,
		"from": from,
		"to":   to,
	})
}

// TaskClaimed logs a successful claim.
func (l *Logger) TaskClaimed(taskID, agentID string) {
	l.Info("task_claimed", map[string]interface{}{
		"task":  taskID,
		"agent": agentID,
	})
}

// ClaimLost logs a lost claim race. Debug level: expected under concurrency.
func (l *Logger) ClaimLost(taskID, agentID string) {
	l.Debug("claim_lost", map[string]interface{}{
		"task":  taskID,
		"agent": agentID,
	})
}

// SweepComplete logs the outcome of a concurrency/timeout sweep.
func (l *Logger) SweepComplete(session string, promoted, demoted, recovered, failed int, duration time.Duration) {
	l.Debug("sweep_complete", map[string]interface{}{
		"session":   session,
		"promoted":  promoted,
		"demoted":   demoted,
		"recovered": recovered,
		"failed":    failed,
		"duration":  duration.String(),
	})
}

// TimeoutRecovered logs a stuck task being requeued.
func (l *Logger) TimeoutRecovered(taskID string, retryCount int, runAfter time.Time) {
	l.Warn("timeout_recovered", map[string]interface{}{
		"task":      taskID,
		"retry":     retryCount,
		"run_after": runAfter.UTC().Format(time.RFC3339),
	})
}

// TimeoutFailed logs a stuck task exhausting its retries.
func (l *Logger) TimeoutFailed(taskID string, retryCount int) {
	l.Error("timeout_failed", map[string]interface{}{
		"task":  taskID,
		"retry": retryCount,
	})
}

// AgentScored logs a candidate's score during assignment.
func (l *Logger) AgentScored(taskID, agentID string, score float64, degraded bool) {
	l.Debug("agent_scored", map[string]interface{}{
		"task":     taskID,
		"agent":    agentID,
		"score":    fmt.Sprintf("%.3f", score),
		"degraded": degraded,
	})
}

// Escalation logs a human/assist escalation.
func (l *Logger) Escalation(taskID, kind, reason string) {
	l.Warn("escalation", map[string]interface{}{
		"task":   taskID,
		"kind":   kind,
		"reason": reason,
	})
}

// EngineStarted logs an engine start.
func (l *Logger) EngineStarted(agentID string) {
	l.Info("engine_started", map[string]interface{}{
		"agent": agentID,
	})
}

// EngineEvicted logs an idle engine eviction.
func (l *Logger) EngineEvicted(agentID string, idle time.Duration) {
	l.Info("engine_evicted", map[string]interface{}{
		"agent": agentID,
		"idle":  idle.String(),
	})
}
