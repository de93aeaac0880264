// Package notify defines the escalation contracts the scheduler depends on.
//
// The scheduling core never talks to a delivery channel directly. It emits
// notifications through a Sink and requests human takeovers through a
// Gateway; hosts plug in their own implementations. Memory implementations
// are provided for tests and single-process use.
//
// Every escalation the scheduler makes (human_required, assist_required,
// repeated agent failure) produces a notification in addition to the
// internal scheduler event, so a human operator is never left without
// signal.
package notify
