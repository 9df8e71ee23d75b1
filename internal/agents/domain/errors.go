package agents

import "errors"

var (
	// ErrUnknownKind indicates a definition naming no known agent implementation.
	ErrUnknownKind = errors.New("agent: unknown kind")
	// ErrInvalidDefinition indicates a definition that cannot be scheduled.
	ErrInvalidDefinition = errors.New("agent: invalid definition")
	// ErrUnknownAgent indicates a lookup for an unregistered agent name.
	ErrUnknownAgent = errors.New("agent: unknown agent")
)
