package domain

import "errors"

// Canonical error taxonomy for the agent core. Channel adapters map these to
// their transport (chat error frames, reply mail, HTTP status codes); tool
// failures never appear here because they flow back through the transcript as
// tool_result data.
var (
	// ErrInvalidInput marks a caller error (empty message, missing or
	// mistyped tool input field). Not retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnknownTool is returned for a tool name outside the catalogue.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrUpstreamUnavailable is returned once the reasoning service retry
	// budget is exhausted.
	ErrUpstreamUnavailable = errors.New("reasoning service unavailable")

	// ErrNotFound is returned by history and transcript operations on an
	// absent artifact.
	ErrNotFound = errors.New("not found")

	// ErrLoopBudget is the safety bound on runaway tool-calling rounds.
	// Surfaced as a final answer; the session stays usable.
	ErrLoopBudget = errors.New("loop budget exceeded")

	// ErrEngineBusy rejects a second concurrent turn loop on one session.
	ErrEngineBusy = errors.New("session already has a turn in flight")
)
