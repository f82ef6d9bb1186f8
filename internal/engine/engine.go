// Package engine runs the turn loop: it feeds a session's transcript to the
// reasoning service, executes requested tools, and appends every turn to the
// transcript until a final answer is produced or the round budget runs out.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tiktoken-go/tokenizer"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/scottrax/ai-agent-system/internal/audit"
	"github.com/scottrax/ai-agent-system/internal/domain"
	"github.com/scottrax/ai-agent-system/internal/reasoning"
	"github.com/scottrax/ai-agent-system/internal/session"
	"github.com/scottrax/ai-agent-system/internal/tools"
)

const (
	defaultMaxRounds     = 30
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 500 * time.Millisecond

	// LoopBudgetAnswer is surfaced as the final answer when the round cap is
	// hit; the conversation stays usable afterwards.
	LoopBudgetAnswer = "I had to stop: the tool-calling round budget for this request was exhausted before a final answer was reached."
)

// Config bounds the turn loop.
type Config struct {
	MaxRounds     int
	RetryAttempts int
	RetryBackoff  time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxRounds <= 0 {
		c.MaxRounds = defaultMaxRounds
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = defaultRetryAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
}

// Engine drives turn loops. It is safe for concurrent use across sessions;
// per-session exclusion comes from the session's own turn-loop lock.
type Engine struct {
	svc       reasoning.Service
	exec      *tools.Executor
	catalogue []tools.Spec
	auditLog  *audit.Store
	logger    *slog.Logger
	cfg       Config
	encoder   tokenizer.Codec
	tracer    trace.Tracer
}

// New creates an engine. The audit store may be nil; audit writes are
// best-effort either way.
func New(svc reasoning.Service, exec *tools.Executor, auditLog *audit.Store, logger *slog.Logger, cfg Config) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	// Token estimation is advisory; a missing encoding just disables it.
	enc, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		logger.Warn("token estimation disabled", slog.String("error", err.Error()))
		enc = nil
	}

	return &Engine{
		svc:       svc,
		exec:      exec,
		catalogue: tools.Catalogue(),
		auditLog:  auditLog,
		logger:    logger,
		cfg:       cfg,
		encoder:   enc,
		tracer:    otel.Tracer("engine"),
	}
}

// Advance runs one full turn loop for a user message and returns the final
// answer. It fails with ErrEngineBusy when a loop is already in flight on the
// session and with ErrUpstreamUnavailable when the reasoning service stays
// unreachable past the retry budget.
func (e *Engine) Advance(ctx context.Context, s *session.Session, userMessage string) (string, error) {
	if strings.TrimSpace(userMessage) == "" {
		return "", fmt.Errorf("empty user message: %w", domain.ErrInvalidInput)
	}
	if !s.TryAcquire() {
		return "", fmt.Errorf("session %s: %w", s.ID, domain.ErrEngineBusy)
	}
	defer s.Release()

	ctx, span := e.tracer.Start(ctx, "engine.advance", trace.WithAttributes(
		attribute.String("session.id", s.ID),
		attribute.String("session.channel", string(s.Channel)),
	))
	defer span.End()

	e.append(s, domain.NewUserTurn(userMessage))

	for round := 1; round <= e.cfg.MaxRounds; round++ {
		span.SetAttributes(attribute.Int("engine.rounds", round))
		transcript := s.Turns()
		e.logRound(s, round, transcript)

		reply, err := e.complete(ctx, transcript)
		if err != nil {
			return "", err
		}

		if len(reply.Calls) == 0 {
			answer := reply.FinalAnswer
			if answer == "" {
				answer = "Task completed"
			}
			e.append(s, domain.NewAssistantTurn(answer))
			return answer, nil
		}

		// Tool invocations execute sequentially in the requested order:
		// later calls may depend on earlier side effects.
		for _, call := range reply.Calls {
			e.append(s, domain.NewToolRequestTurn(call))
			outcome := e.execute(ctx, s, call)
			e.append(s, domain.NewToolResultTurn(call.ID, outcome))
		}
	}

	e.logger.Warn("turn loop hit round budget",
		slog.String("session_id", s.ID),
		slog.Int("max_rounds", e.cfg.MaxRounds),
	)
	e.append(s, domain.NewAssistantTurn(LoopBudgetAnswer))
	return LoopBudgetAnswer, nil
}

// complete calls the reasoning service with exponential backoff. Errors that
// self-report as non-retryable (rejected requests, bad credentials) fail
// immediately; only plausibly transient failures burn the retry budget.
func (e *Engine) complete(ctx context.Context, transcript []domain.Turn) (*reasoning.Reply, error) {
	backoff := e.cfg.RetryBackoff
	var lastErr error

	for attempt := 1; attempt <= e.cfg.RetryAttempts; attempt++ {
		reply, err := e.svc.Complete(ctx, transcript, e.catalogue)
		if err == nil {
			return reply, nil
		}
		var nr interface{ Retryable() bool }
		if errors.As(err, &nr) && !nr.Retryable() {
			return nil, fmt.Errorf("reasoning request rejected: %w", err)
		}
		lastErr = err
		e.logger.Warn("reasoning service call failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		if attempt == e.cfg.RetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, lastErr)
}

// execute runs one tool call. Executor-level errors (unknown tool, invalid
// input) become outcome data for the reasoning service to react to, never
// engine errors.
func (e *Engine) execute(ctx context.Context, s *session.Session, call domain.ToolCall) domain.ToolOutcome {
	start := time.Now()
	outcome, err := e.exec.Execute(ctx, call)
	if err != nil {
		outcome = domain.ToolOutcome{ExitCode: -1, Error: err.Error()}
	}

	if e.auditLog != nil {
		if err := e.auditLog.RecordExecution(ctx, s.ID, call.Name, call.Input, outcome.ExitCode, outcome.Error, time.Since(start)); err != nil {
			e.logger.Warn("audit write failed",
				slog.String("session_id", s.ID),
				slog.String("tool", call.Name),
				slog.String("error", err.Error()),
			)
		}
	}
	return outcome
}

// append advances the in-memory transcript and logs when the durable write
// fails; a transient disk fault must not block the conversation, only dent
// the audit trail.
func (e *Engine) append(s *session.Session, turn domain.Turn) {
	if err := s.Append(turn); err != nil {
		e.logger.Warn("transcript append failed, turn not durable",
			slog.String("session_id", s.ID),
			slog.String("artifact", s.ArtifactID()),
			slog.String("role", string(turn.Role)),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) logRound(s *session.Session, round int, transcript []domain.Turn) {
	attrs := []any{
		slog.String("session_id", s.ID),
		slog.Int("round", round),
		slog.Int("turns", len(transcript)),
	}
	if e.encoder != nil {
		var b strings.Builder
		for _, t := range transcript {
			b.WriteString(t.Text())
			b.WriteString("\n")
		}
		if ids, _, err := e.encoder.Encode(b.String()); err == nil {
			attrs = append(attrs, slog.Int("prompt_tokens_estimate", len(ids)))
		}
	}
	e.logger.Debug("submitting transcript to reasoning service", attrs...)
}
