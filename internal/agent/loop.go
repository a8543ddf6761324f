package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/matchagon/bookly-agent/internal/classify"
	"github.com/matchagon/bookly-agent/internal/llm"
	"github.com/matchagon/bookly-agent/internal/registry"
	"github.com/matchagon/bookly-agent/internal/session"
	"github.com/matchagon/bookly-agent/internal/tools"
)

// Default loop parameters, overridable via [Options].
const (
	defaultMaxCycles  = 5
	defaultMaxRetries = 2
	defaultRetryBase  = 500 * time.Millisecond
)

// degradedHoldReply is returned when the cycle bound is exhausted. The
// turn is marked for escalation review instead of failing the request.
const degradedHoldReply = "Thanks for your patience — this is taking longer than expected. " +
	"Please hold while I bring in a human teammate to finish helping you."

// degradedUpstreamReply is returned when the completion API stays
// unreachable after the retry budget.
const degradedUpstreamReply = "I'm having trouble reaching our systems right now. " +
	"Please hold while I connect you with a human teammate."

// Options tune the loop.
type Options struct {
	// MaxToolCycles bounds the model-call/tool-call cycle per turn.
	MaxToolCycles int
	// MaxRetries is the retry budget for transient completion API
	// failures.
	MaxRetries int
	// RetryBase is the initial backoff, doubled per attempt.
	RetryBase time.Duration
}

// Loop drives the per-turn model-call/tool-call cycle.
type Loop struct {
	logger   *slog.Logger
	client   llm.Client
	registry *registry.Registry
	sessions *session.Store
	exec     *tools.Executor

	maxCycles  int
	maxRetries int
	retryBase  time.Duration
}

// New creates an orchestration loop.
func New(logger *slog.Logger, client llm.Client, reg *registry.Registry, sessions *session.Store, exec *tools.Executor, opts Options) *Loop {
	if opts.MaxToolCycles <= 0 {
		opts.MaxToolCycles = defaultMaxCycles
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = defaultRetryBase
	}
	return &Loop{
		logger:     logger,
		client:     client,
		registry:   reg,
		sessions:   sessions,
		exec:       exec,
		maxCycles:  opts.MaxToolCycles,
		maxRetries: opts.MaxRetries,
		retryBase:  opts.RetryBase,
	}
}

// HandleTurn processes one user message and returns the agent's reply.
//
// The registry snapshot is captured once at the start of the turn, so
// the whole turn runs against a consistent tool set and policy even if
// an admin publishes concurrently. Turns for the same session are
// serialized; different sessions proceed in parallel.
//
// Degraded outcomes (cycle bound hit, completion API unreachable) still
// return a reply: the conversation is classified as escalated and the
// customer is asked to hold, because a support chat that errors out
// helps nobody. A non-nil error therefore means the turn could not
// advance at all (cancellation, storage failure).
func (l *Loop) HandleTurn(ctx context.Context, sessionID, userText string) (string, error) {
	unlock := l.sessions.Lock(sessionID)
	defer unlock()

	snap := l.registry.Snapshot()
	l.logger.Debug("turn started",
		"session", sessionID,
		"registry_version", snap.Version(),
		"tools", len(snap.Tools()),
	)

	// The user message is persisted before anything can fail, so a
	// cancelled turn never silently loses it.
	if err := l.sessions.Append(sessionID, llm.Message{Role: llm.RoleUser, Content: userText}); err != nil {
		return "", fmt.Errorf("append user message: %w", err)
	}

	history, err := l.sessions.History(sessionID)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	for cycle := 0; cycle < l.maxCycles; cycle++ {
		if err := ctx.Err(); err != nil {
			l.finish(sessionID, history, classify.OutcomeInterrupted)
			return "", err
		}

		resp, err := l.callModel(ctx, snap, history)
		if err != nil {
			var unavailable *UpstreamUnavailable
			if errors.As(err, &unavailable) {
				l.logger.Warn("degrading turn, completion API unavailable",
					"session", sessionID,
					"attempts", unavailable.Attempts,
					"error", unavailable.Err,
				)
				return l.degrade(sessionID, history, degradedUpstreamReply, classify.OutcomeDegraded)
			}
			l.finish(sessionID, history, classify.OutcomeInterrupted)
			return "", err
		}

		if len(resp.ToolCalls) == 0 {
			// Final answer: persist, classify, done.
			final := llm.Message{Role: llm.RoleAssistant, Content: resp.Content}
			if err := l.sessions.Append(sessionID, final); err != nil {
				return "", fmt.Errorf("append reply: %w", err)
			}
			history = append(history, final)
			l.finish(sessionID, history, classify.OutcomeAnswered)
			l.logger.Info("turn completed",
				"session", sessionID,
				"cycles", cycle+1,
				"input_tokens", resp.InputTokens,
				"output_tokens", resp.OutputTokens,
			)
			return resp.Content, nil
		}

		// Tool-call cycle: record the assistant message carrying the
		// calls, then a result message per call.
		assistant := llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}
		if err := l.sessions.Append(sessionID, assistant); err != nil {
			return "", fmt.Errorf("append assistant message: %w", err)
		}
		history = append(history, assistant)

		for _, call := range resp.ToolCalls {
			result := l.runToolCall(ctx, snap, sessionID, call)
			if err := l.sessions.Append(sessionID, result); err != nil {
				return "", fmt.Errorf("append tool result: %w", err)
			}
			history = append(history, result)
		}
	}

	// Cycle bound hit. Hand the customer to a human instead of looping
	// forever or failing the request.
	exceeded := &LoopExceeded{Cycles: l.maxCycles}
	l.logger.Warn("degrading turn", "session", sessionID, "error", exceeded)
	return l.degrade(sessionID, history, degradedHoldReply, classify.OutcomeLoopExceeded)
}

// runToolCall validates one tool call against the turn's snapshot and
// executes it. Every failure mode produces an honest tool-result
// message — the model is never left to fabricate a result, and a bad
// call is never silently dropped.
func (l *Loop) runToolCall(ctx context.Context, snap *registry.Snapshot, sessionID string, call llm.ToolCall) llm.Message {
	msg := llm.Message{
		Role:       llm.RoleTool,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}

	def, ok := snap.Tool(call.Name)
	if !ok {
		violation := &PolicyViolation{ToolName: call.Name, Reason: "not present in the tool registry"}
		l.logger.Warn("rejected tool call", "session", sessionID, "error", violation)
		msg.Content = correctiveResult(fmt.Sprintf(
			"Tool %q is not available. Use only the provided tools.", call.Name))
		return msg
	}

	if err := registry.ValidateArgs(def.Parameters, call.Arguments); err != nil {
		l.logger.Warn("rejected tool arguments",
			"session", sessionID,
			"tool", call.Name,
			"error", err,
		)
		msg.Content = correctiveResult(fmt.Sprintf(
			"Invalid arguments for %q: %v. Correct the arguments and try again.", call.Name, err))
		return msg
	}

	out, err := l.exec.Execute(ctx, def.Handler, call.Arguments)
	if err != nil {
		l.logger.Error("tool execution failed",
			"session", sessionID,
			"tool", call.Name,
			"error", err,
		)
		msg.Content = correctiveResult(fmt.Sprintf("Tool %q failed to execute.", call.Name))
		return msg
	}

	l.logger.Debug("tool executed", "session", sessionID, "tool", call.Name)
	msg.Content = out
	return msg
}

// callModel invokes the completion API with the turn's policy, tool
// schemas, and full history, retrying transient failures with
// exponential backoff. Validation-class failures are not retried.
func (l *Loop) callModel(ctx context.Context, snap *registry.Snapshot, history []llm.Message) (*llm.ChatResponse, error) {
	req := llm.ChatRequest{
		System:   snap.Policy().Text,
		Messages: history,
		Tools:    snap.Schemas(),
	}

	attempts := l.maxRetries + 1
	backoff := l.retryBase

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := l.client.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable(err) {
			return nil, &UpstreamUnavailable{Attempts: attempt, Err: err}
		}
		if attempt == attempts {
			break
		}

		l.logger.Debug("retrying completion call", "attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}

	return nil, &UpstreamUnavailable{Attempts: attempts, Err: lastErr}
}

// retryable reports whether a completion API failure is transient.
// Request-shaped failures (4xx) would fail identically on retry.
func retryable(err error) bool {
	var status *llm.StatusError
	if errors.As(err, &status) {
		return status.Temporary()
	}
	// Anything else from the client is a transport-level failure.
	return true
}

// degrade ends the turn with a degraded reply and the outcome's
// escalated classification.
func (l *Loop) degrade(sessionID string, history []llm.Message, reply string, outcome classify.Outcome) (string, error) {
	msg := llm.Message{Role: llm.RoleAssistant, Content: reply}
	if err := l.sessions.Append(sessionID, msg); err != nil {
		return "", fmt.Errorf("append degraded reply: %w", err)
	}
	history = append(history, msg)
	l.finish(sessionID, history, outcome)
	return reply, nil
}

// finish recomputes and stores the conversation's classification.
// Classification failures are logged, not propagated: the reply has
// already been produced and persisted.
func (l *Loop) finish(sessionID string, history []llm.Message, outcome classify.Outcome) {
	topic, disposition := classify.Run(history, outcome)
	if err := l.sessions.SetClassification(sessionID, topic, disposition); err != nil {
		l.logger.Error("classification update failed", "session", sessionID, "error", err)
		return
	}
	l.logger.Debug("conversation classified",
		"session", sessionID,
		"topic", topic,
		"disposition", disposition,
	)
}

// correctiveResult wraps a corrective message in the same JSON shape as
// a real tool result.
func correctiveResult(reason string) string {
	data, _ := json.Marshal(map[string]any{"success": false, "error": reason})
	return string(data)
}
