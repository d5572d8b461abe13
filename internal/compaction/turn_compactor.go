package compaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/haasonsaas/nexus/internal/llm"
	"github.com/haasonsaas/nexus/pkg/models"
)

// DefaultPreserveRecent is the number of most recent turns a TurnCompactor
// keeps untouched when none is configured.
const DefaultPreserveRecent = 3

// ToolResultTruncateAt is the character length at which a tool result's
// content is truncated when building a compaction transcript.
const ToolResultTruncateAt = 500

// DefaultTurnSummaryPrompt is used when Config.SystemPrompt is empty.
const DefaultTurnSummaryPrompt = "Summarize the earlier portion of this conversation concisely, preserving key decisions, facts established, and any unresolved tasks. The most recent turns are handled separately and should not be repeated."

// DefaultMaxSummaryTokens bounds the summarization completion when
// Config.MaxSummaryTokens is unset.
const DefaultMaxSummaryTokens = 1024

// ErrCompactionCancelled is returned by Compact when the caller's
// cancellation token was observed set.
var ErrCompactionCancelled = errors.New("compaction: cancelled")

// ProgressEventKind enumerates the phases Compact reports through a
// ProgressFunc.
type ProgressEventKind string

const (
	ProgressStarted     ProgressEventKind = "started"
	ProgressSummarizing ProgressEventKind = "summarizing"
	ProgressCompleted   ProgressEventKind = "completed"
	ProgressCancelled   ProgressEventKind = "cancelled"
)

// ProgressEvent is one point-in-time report from a running Compact call.
type ProgressEvent struct {
	Kind           ProgressEventKind
	TurnsToCompact int
	Result         *Result
}

// ProgressFunc receives ProgressEvents as Compact advances. May be nil.
type ProgressFunc func(ProgressEvent)

// Config controls a TurnCompactor's behavior.
type Config struct {
	// PreserveRecent is how many of the most recent turns are left
	// untouched. Defaults to DefaultPreserveRecent.
	PreserveRecent int

	// MaxSummaryTokens caps the summarization completion's length.
	// Defaults to DefaultMaxSummaryTokens.
	MaxSummaryTokens int

	// SystemPrompt overrides DefaultTurnSummaryPrompt.
	SystemPrompt string
}

// DefaultConfig returns a Config with every field at its documented default.
func DefaultConfig() Config {
	return Config{
		PreserveRecent:   DefaultPreserveRecent,
		MaxSummaryTokens: DefaultMaxSummaryTokens,
		SystemPrompt:     DefaultTurnSummaryPrompt,
	}
}

// Result is what a successful Compact call produces. A zero-value Result
// (TurnsCompacted == 0) means there was nothing to compact.
type Result struct {
	TurnsCompacted int
	TokensBefore   int
	TokensAfter    int
	Summary        string
}

// TurnCompactor summarizes the oldest turns of a session's history via an
// LLM, leaving the most recent turns untouched.
type TurnCompactor struct {
	client *llm.Client
	model  string
	config Config
}

// NewTurnCompactor builds a TurnCompactor. A zero Config is replaced with
// DefaultConfig.
func NewTurnCompactor(client *llm.Client, model string, config Config) *TurnCompactor {
	if config.PreserveRecent <= 0 {
		config.PreserveRecent = DefaultPreserveRecent
	}
	if config.MaxSummaryTokens <= 0 {
		config.MaxSummaryTokens = DefaultMaxSummaryTokens
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = DefaultTurnSummaryPrompt
	}
	return &TurnCompactor{client: client, model: model, config: config}
}

// Compact summarizes every turn in session except the most recent
// PreserveRecent. cancelled, if non-nil, is checked before work begins,
// after the start notification, and after the LLM call returns; observing
// it set emits a ProgressCancelled event and returns ErrCompactionCancelled.
func (c *TurnCompactor) Compact(ctx context.Context, session *models.Session, cancelled *atomic.Bool, progress ProgressFunc) (*Result, error) {
	emit := func(e ProgressEvent) {
		if progress != nil {
			progress(e)
		}
	}
	checkCancelled := func() bool {
		if cancelled != nil && cancelled.Load() {
			emit(ProgressEvent{Kind: ProgressCancelled})
			return true
		}
		return false
	}

	if checkCancelled() {
		return nil, ErrCompactionCancelled
	}

	turns := session.Turns
	if len(turns) < c.config.PreserveRecent+1 {
		return &Result{}, nil
	}

	toCompact := turns[:len(turns)-c.config.PreserveRecent]
	emit(ProgressEvent{Kind: ProgressStarted, TurnsToCompact: len(toCompact)})

	if checkCancelled() {
		return nil, ErrCompactionCancelled
	}

	transcript := formatTurnsAsTranscript(toCompact)
	tokensBefore := estimateStringTokens(transcript)

	emit(ProgressEvent{Kind: ProgressSummarizing})

	resp, err := c.client.Complete(ctx, llm.Request{
		Model:        c.model,
		SystemPrompt: c.config.SystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: transcript}},
		MaxTokens:    c.config.MaxSummaryTokens,
	})

	if checkCancelled() {
		return nil, ErrCompactionCancelled
	}
	if err != nil {
		return nil, fmt.Errorf("compact turns: %w", err)
	}

	summary := extractResponseText(resp)
	result := &Result{
		TurnsCompacted: len(toCompact),
		TokensBefore:   tokensBefore,
		TokensAfter:    estimateStringTokens(summary),
		Summary:        summary,
	}
	emit(ProgressEvent{Kind: ProgressCompleted, Result: result})
	return result, nil
}

// formatTurnsAsTranscript renders turns as: one user line, one line per
// tool call, one line per tool result (truncated at ToolResultTruncateAt
// characters), then one assistant line.
func formatTurnsAsTranscript(turns []models.Turn) string {
	var sb strings.Builder
	for _, turn := range turns {
		fmt.Fprintf(&sb, "User: %s\n", turn.UserMessage)
		for _, call := range turn.ToolCalls {
			fmt.Fprintf(&sb, "Tool call: %s(%s)\n", call.Name, string(call.Arguments))
		}
		for _, result := range turn.ToolResults {
			fmt.Fprintf(&sb, "Tool result: %s\n", truncateString(result.Content, ToolResultTruncateAt))
		}
		if turn.AssistantResponse != nil {
			fmt.Fprintf(&sb, "Assistant: %s\n", *turn.AssistantResponse)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// estimateStringTokens applies the shared CharsPerToken heuristic directly
// to a string, for text that never took message shape (a rendered
// transcript, a generated summary).
func estimateStringTokens(s string) int {
	return (len(s) + CharsPerToken - 1) / CharsPerToken
}

func extractResponseText(resp *llm.Response) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Kind == llm.BlockText {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}
