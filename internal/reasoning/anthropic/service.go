package anthropic

import (
	"context"
	"fmt"

	"github.com/scottrax/ai-agent-system/internal/domain"
	"github.com/scottrax/ai-agent-system/internal/reasoning"
	"github.com/scottrax/ai-agent-system/internal/tools"
)

// Service adapts the Messages API to the engine's reasoning boundary.
type Service struct {
	client    *Client
	model     string
	maxTokens int
	system    string
}

var _ reasoning.Service = (*Service)(nil)

// NewService wraps a client with the model, token ceiling, and system prompt
// used for every completion.
func NewService(client *Client, model string, maxTokens int, system string) *Service {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Service{client: client, model: model, maxTokens: maxTokens, system: system}
}

// Complete submits the transcript and catalogue and classifies the response as
// either a final answer or a set of tool invocations.
func (s *Service) Complete(ctx context.Context, transcript []domain.Turn, catalogue []tools.Spec) (*reasoning.Reply, error) {
	req := &MessagesRequest{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		System:    s.system,
		Messages:  messagesFromTranscript(transcript),
		Tools:     toolsFromCatalogue(catalogue),
	}

	resp, err := s.client.CreateMessage(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	reply := &reasoning.Reply{}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			reply.FinalAnswer += block.Text
		case "tool_use":
			reply.Calls = append(reply.Calls, domain.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}

	if resp.StopReason == "tool_use" && len(reply.Calls) > 0 {
		// Any accompanying text is preamble, not the final answer.
		reply.FinalAnswer = ""
	}
	return reply, nil
}

// messagesFromTranscript converts the ordered turn sequence into Messages API
// shape. The API requires every tool_use block of one assistant message to be
// answered inside a single following user message, so consecutive
// tool_request turns merge into one assistant message and consecutive
// tool_result turns into one user message.
func messagesFromTranscript(transcript []domain.Turn) []Message {
	var messages []Message

	appendPart := func(role string, part ContentPart) {
		n := len(messages)
		if n > 0 && messages[n-1].Role == role && part.Type != "text" {
			messages[n-1].Content = append(messages[n-1].Content, part)
			return
		}
		messages = append(messages, Message{Role: role, Content: []ContentPart{part}})
	}

	for _, turn := range transcript {
		switch turn.Role {
		case domain.RoleUser:
			messages = append(messages, Message{
				Role:    "user",
				Content: []ContentPart{{Type: "text", Text: turn.Content}},
			})
		case domain.RoleAssistant:
			messages = append(messages, Message{
				Role:    "assistant",
				Content: []ContentPart{{Type: "text", Text: turn.Content}},
			})
		case domain.RoleToolRequest:
			if turn.Call == nil {
				continue
			}
			appendPart("assistant", ContentPart{
				Type:  "tool_use",
				ID:    turn.Call.ID,
				Name:  turn.Call.Name,
				Input: turn.Call.Input,
			})
		case domain.RoleToolResult:
			if turn.Call == nil || turn.Outcome == nil {
				continue
			}
			appendPart("user", ContentPart{
				Type:      "tool_result",
				ToolUseID: turn.Call.ID,
				Content:   outcomeContent(*turn.Outcome),
				IsError:   turn.Outcome.Error != "",
			})
		}
	}
	return messages
}

func outcomeContent(o domain.ToolOutcome) string {
	if o.Error != "" {
		return fmt.Sprintf("error: %s", o.Error)
	}
	content := o.Stdout
	if o.Stderr != "" {
		content += "\nstderr:\n" + o.Stderr
	}
	if o.ExitCode != 0 {
		content += fmt.Sprintf("\nexit code: %d", o.ExitCode)
	}
	return content
}

func toolsFromCatalogue(catalogue []tools.Spec) []Tool {
	out := make([]Tool, 0, len(catalogue))
	for _, spec := range catalogue {
		out = append(out, Tool{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: spec.InputSchema,
		})
	}
	return out
}
