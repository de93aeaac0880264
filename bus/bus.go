package bus

import (
	"errors"
	"strings"
)

// Common errors.
var (
	ErrClosed         = errors.New("bus closed")
	ErrInvalidSubject = errors.New("invalid subject")
)

// Feed subjects.
const (
	subjectTaskChangedPrefix = "tasks.changed."
	subjectBacklogPrefix     = "tasks.backlog."

	// SubjectSchedulerEvents carries scheduler decision events.
	SubjectSchedulerEvents = "sched.events"
)

// SubjectTaskChanged returns the task snapshot subject for a session.
func SubjectTaskChanged(sessionID string) string {
	return subjectTaskChangedPrefix + sessionID
}

// SubjectBacklog returns the backlog summary subject for a session.
func SubjectBacklog(sessionID string) string {
	return subjectBacklogPrefix + sessionID
}

// Message represents a message received from the bus.
type Message struct {
	// Subject the message was published to.
	Subject string

	// Data is the message payload.
	Data []byte
}

// FeedBus provides fan-out pub/sub for the scheduling feeds.
type FeedBus interface {
	// Publish sends a message to all subscribers of a subject.
	Publish(subject string, data []byte) error

	// Subscribe creates a subscription to a subject.
	// All subscribers receive all messages.
	Subscribe(subject string) (Subscription, error)

	// Close shuts down the bus connection.
	Close() error
}

// Subscription represents an active subscription.
type Subscription interface {
	// Messages returns the channel for incoming messages.
	// Channel is closed when subscription ends.
	Messages() <-chan *Message

	// Unsubscribe cancels the subscription.
	Unsubscribe() error
}

// Config holds common bus configuration.
type Config struct {
	// BufferSize for subscription channels.
	// Default: 256
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 256,
	}
}

// ValidateSubject checks if a subject is valid.
func ValidateSubject(subject string) error {
	if subject == "" {
		return ErrInvalidSubject
	}
	if strings.Contains(subject, " ") {
		return ErrInvalidSubject
	}
	return nil
}
