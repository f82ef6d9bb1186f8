// Package reasoning defines the boundary to the external reasoning service:
// given a transcript and the tool catalogue, it answers with either a final
// natural-language reply or a set of requested tool invocations.
package reasoning

import (
	"context"

	"github.com/scottrax/ai-agent-system/internal/domain"
	"github.com/scottrax/ai-agent-system/internal/tools"
)

// Reply is one reasoning-service response. Exactly one of FinalAnswer or
// Calls is meaningful: a non-empty Calls slice means the service wants tools
// run before it will answer.
type Reply struct {
	FinalAnswer string
	Calls       []domain.ToolCall
}

// Service is the black-box reasoning capability the engine loops against.
type Service interface {
	Complete(ctx context.Context, transcript []domain.Turn, catalogue []tools.Spec) (*Reply, error)
}
