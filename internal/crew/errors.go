package crew

import "errors"

var (
	ErrMissingInput  = errors.New("missing kickoff input")
	ErrUnknownAgent  = errors.New("task references unknown agent")
	ErrNoTasks       = errors.New("crew has no tasks")
	ErrEmptyOutput   = errors.New("llm returned empty output")
	ErrMissingAPIKey = errors.New("llm api key is required")
	ErrNilLLM        = errors.New("crew llm is nil")
	ErrInvalidInput  = errors.New("invalid kickoff input")
	ErrGuardrail     = errors.New("task output rejected")
	ErrConditional   = errors.New("first task cannot be conditional")
	ErrInvalidTask   = errors.New("invalid task")
)
