package session

import "errors"

var (
	// ErrAdmission is returned when the registry is at its session cap.
	ErrAdmission = errors.New("maximum concurrent sessions reached")

	// ErrSpawn is returned when the assistant process could not be launched.
	ErrSpawn = errors.New("failed to spawn session process")

	// ErrInvalidProject is returned for project identifiers that cannot be
	// passed to the assistant, such as ones that would parse as a flag.
	ErrInvalidProject = errors.New("invalid project identifier")

	// ErrNotFound is returned for identifiers absent from the registry.
	ErrNotFound = errors.New("session not found")

	// ErrChannelClosed is returned when input is written after the
	// session's input pump has stopped.
	ErrChannelClosed = errors.New("session input channel closed")

	// ErrClosed is returned by Spawn once the registry has been shut down.
	ErrClosed = errors.New("session registry is shut down")
)
