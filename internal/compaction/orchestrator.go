package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus/pkg/models"
)

// AgentResponse is one turn's outcome as seen by the orchestrator loop.
type AgentResponse struct {
	// Text is the agent's latest reply.
	Text string

	// Truncated reports whether the agent stopped early for lack of
	// context room rather than reaching a natural end.
	Truncated bool
}

// Agent executes one turn of a session against a query, appending its own
// turn record to the session as a side effect.
type Agent interface {
	Turn(ctx context.Context, session *models.Session, query string) (*AgentResponse, error)
}

// Policy bounds how aggressively the orchestrator compacts and how long it
// runs before giving up.
type Policy struct {
	// MaxContextTokens is the model's context window, in tokens.
	MaxContextTokens int

	// CompactionThreshold is the fraction of MaxContextTokens, in [0, 1],
	// at which compaction is attempted.
	CompactionThreshold float64

	// MaxCompactions caps how many times a single Run may compact.
	MaxCompactions int

	// MaxTurns caps how many agent turns a single Run may take.
	MaxTurns int
}

// effectiveThreshold returns MaxContextTokens * CompactionThreshold.
func (p Policy) effectiveThreshold() int {
	return int(float64(p.MaxContextTokens) * p.CompactionThreshold)
}

// OrchestrationResult is what Run returns once the loop terminates, either
// naturally or because a policy limit was hit.
type OrchestrationResult struct {
	Text      string
	Truncated bool
	Metadata  map[string]any
}

// Orchestrator drives an Agent across turns, compacting the session's
// history via a TurnCompactor whenever estimated token usage crosses the
// policy's threshold, until the agent completes naturally or a policy
// limit is reached. Termination is guaranteed because each iteration
// strictly increases either the turn count or the compaction count.
type Orchestrator struct {
	agent     Agent
	compactor *TurnCompactor
	policy    Policy
}

// NewOrchestrator builds an Orchestrator.
func NewOrchestrator(agent Agent, compactor *TurnCompactor, policy Policy) *Orchestrator {
	return &Orchestrator{agent: agent, compactor: compactor, policy: policy}
}

// Run drives the orchestration loop for a single original query, returning
// once the agent completes naturally or a policy limit is reached.
func (o *Orchestrator) Run(ctx context.Context, session *models.Session, originalQuery string) (*OrchestrationResult, error) {
	effectiveQuery := originalQuery
	turns := 0
	compactionsPerformed := 0
	truncated := false
	var lastText string

	for {
		resp, err := o.agent.Turn(ctx, session, effectiveQuery)
		if err != nil {
			return nil, fmt.Errorf("agent turn: %w", err)
		}
		turns++
		lastText = resp.Text

		if !resp.Truncated {
			break
		}
		if turns >= o.policy.MaxTurns {
			truncated = true
			break
		}
		if estimateSessionTokens(session) < o.policy.effectiveThreshold() {
			continue
		}
		if compactionsPerformed >= o.policy.MaxCompactions {
			truncated = true
			break
		}

		result, err := o.compactor.Compact(ctx, session, nil, nil)
		if err != nil {
			slog.Warn("compaction failed, continuing without it", "session_id", session.ID, "error", err)
			continue
		}
		if result.TurnsCompacted == 0 {
			continue
		}

		compactionsPerformed++
		session = freshSession(session.WorkstreamID)
		effectiveQuery = composeCompactedQuery(originalQuery, result.Summary)
	}

	return &OrchestrationResult{
		Text:      lastText,
		Truncated: truncated,
		Metadata: map[string]any{
			"turns":                 turns,
			"compactions_performed": compactionsPerformed,
		},
	}, nil
}

// freshSession returns a new, empty session bound to the same workstream,
// for the agent to continue into after a compaction.
func freshSession(workstreamID string) *models.Session {
	now := time.Now()
	return &models.Session{
		ID:           uuid.NewString(),
		WorkstreamID: workstreamID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// composeCompactedQuery builds the query handed to the agent after a
// compaction, instructing it that prior findings are already summarized
// and should not be redone.
func composeCompactedQuery(originalQuery, summary string) string {
	return fmt.Sprintf(
		"%s\n\nThe earlier portion of this work has already been completed and is summarized below. Do not repeat it; continue from where it left off.\n\nSummary of work so far:\n%s",
		originalQuery, summary,
	)
}

// estimateSessionTokens sums the character-estimate tokens of every turn's
// user message, assistant response, and tool result contents.
func estimateSessionTokens(session *models.Session) int {
	total := 0
	for _, turn := range session.Turns {
		total += estimateStringTokens(turn.UserMessage)
		if turn.AssistantResponse != nil {
			total += estimateStringTokens(*turn.AssistantResponse)
		}
		for _, result := range turn.ToolResults {
			total += estimateStringTokens(result.Content)
		}
	}
	return total
}
