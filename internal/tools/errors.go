package tools

import "errors"

var (
	// ErrToolNotFound is returned when looking up an unregistered tool.
	ErrToolNotFound = errors.New("tools: tool not found")

	// ErrToolNameEmpty is returned when registering a tool with no name.
	ErrToolNameEmpty = errors.New("tools: tool name cannot be empty")

	// ErrToolExecuteNil is returned when registering a tool with no
	// Execute function.
	ErrToolExecuteNil = errors.New("tools: tool execute function cannot be nil")

	// ErrToolAlreadyRegistered is returned when registering a duplicate
	// tool name.
	ErrToolAlreadyRegistered = errors.New("tools: tool already registered")

	// ErrMissingRequiredArg is returned when a call omits a required
	// schema field.
	ErrMissingRequiredArg = errors.New("tools: missing required argument")
)
