package sandbox

import (
	"context"

	"github.com/slok/repoready/internal/model"
)

// EventType is the type of a session lifecycle event.
type EventType string

const (
	// EventTypeFatal is emitted when the session can't be used anymore.
	EventTypeFatal EventType = "fatal"
	// EventTypeEndpointReady is emitted when a process in the session is reachable from outside.
	EventTypeEndpointReady EventType = "endpoint_ready"
)

// Event is a session lifecycle event.
type Event struct {
	Type EventType
	// Message is set on fatal events.
	Message string
	// Port and URL are set on endpoint ready events.
	Port int
	URL  string
}

// Process is a process running inside a session.
type Process interface {
	// Output returns the process combined output chunks, the channel is closed
	// when the process exits.
	Output() <-chan []byte
	// Wait waits for the process to exit and returns its exit code.
	Wait(ctx context.Context) (int, error)
}

// Session is a single ephemeral execution environment.
type Session interface {
	// Boot initializes the session, calling it on a booted session is a noop.
	Boot(ctx context.Context) error
	// Mount writes the file tree in the session work directory, replacing existing files.
	Mount(ctx context.Context, tree *model.FileTree) error
	// Spawn starts a command in the session work directory. Commands that start
	// and exit with a non-zero code are not errors.
	Spawn(ctx context.Context, command string, args ...string) (Process, error)
	// Events returns the session lifecycle events.
	Events() <-chan Event
	// Teardown releases all the session resources, it's safe to call it multiple times.
	Teardown(ctx context.Context) error
}

// SessionFactory creates unbooted sessions.
type SessionFactory interface {
	NewSession(ctx context.Context) (Session, error)
}
