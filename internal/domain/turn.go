// Package domain holds the conversation data model shared by the engine,
// the transcript store, and the channel adapters.
package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// TurnRole identifies the producer of a turn.
type TurnRole string

const (
	RoleUser        TurnRole = "user"
	RoleAssistant   TurnRole = "assistant"
	RoleToolRequest TurnRole = "tool_request"
	RoleToolResult  TurnRole = "tool_result"
)

// ToolCall is a single tool invocation requested by the reasoning service.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolOutcome is the structured result of executing a tool call.
// A non-zero exit code is data, not an executor failure; Error is set only
// when the action could not be attempted or completed at all.
type ToolOutcome struct {
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

// Turn is one immutable unit of conversation. User and assistant turns carry
// free text in Content; tool turns carry Call or Outcome. Corrections happen
// by appending new turns, never by editing.
type Turn struct {
	Role      TurnRole     `json:"role"`
	Content   string       `json:"content,omitempty"`
	Call      *ToolCall    `json:"call,omitempty"`
	Outcome   *ToolOutcome `json:"outcome,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// NewUserTurn creates a user turn stamped now.
func NewUserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content, Timestamp: time.Now().UTC()}
}

// NewAssistantTurn creates an assistant turn stamped now.
func NewAssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content, Timestamp: time.Now().UTC()}
}

// NewToolRequestTurn records a tool invocation requested by the reasoning service.
func NewToolRequestTurn(call ToolCall) Turn {
	return Turn{Role: RoleToolRequest, Call: &call, Timestamp: time.Now().UTC()}
}

// NewToolResultTurn records the outcome of a tool invocation. The call id ties
// the result back to its request.
func NewToolResultTurn(callID string, outcome ToolOutcome) Turn {
	return Turn{
		Role:      RoleToolResult,
		Call:      &ToolCall{ID: callID},
		Outcome:   &outcome,
		Timestamp: time.Now().UTC(),
	}
}

// Clone returns a deep copy of the turn. Loading a historical transcript into
// a live session must not alias the source turns, so pointer fields and the
// tool input map are copied.
func (t Turn) Clone() Turn {
	c := t
	if t.Call != nil {
		call := *t.Call
		if t.Call.Input != nil {
			call.Input = make(map[string]any, len(t.Call.Input))
			for k, v := range t.Call.Input {
				call.Input[k] = v
			}
		}
		c.Call = &call
	}
	if t.Outcome != nil {
		outcome := *t.Outcome
		c.Outcome = &outcome
	}
	return c
}

// Text returns the searchable textual content of the turn: free text for
// user/assistant turns, the serialized call or outcome for tool turns.
func (t Turn) Text() string {
	switch t.Role {
	case RoleUser, RoleAssistant:
		return t.Content
	case RoleToolRequest:
		if t.Call == nil {
			return ""
		}
		input, _ := json.Marshal(t.Call.Input)
		return t.Call.Name + " " + string(input)
	case RoleToolResult:
		if t.Outcome == nil {
			return ""
		}
		var b strings.Builder
		b.WriteString(t.Outcome.Stdout)
		if t.Outcome.Stderr != "" {
			b.WriteString("\n")
			b.WriteString(t.Outcome.Stderr)
		}
		if t.Outcome.Error != "" {
			b.WriteString("\n")
			b.WriteString(t.Outcome.Error)
		}
		return b.String()
	}
	return ""
}
