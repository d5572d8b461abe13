package workstream

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Reconstructor rebuilds Sessions from a workstream's message log and
// appends new turns to it.
type Reconstructor struct {
	log    MessageLog
	logger *slog.Logger
}

// NewReconstructor builds a Reconstructor over the given message log.
func NewReconstructor(log MessageLog) *Reconstructor {
	return &Reconstructor{log: log, logger: slog.Default().With("component", "workstream_reconstruct")}
}

// ReconstructSession reads the ordered messages for a workstream, filters to
// the given session, and groups them into turns. It satisfies
// sessioncache.SessionReconstructor. Returns nil (not an error) if the
// workstream has no messages for this session.
func (r *Reconstructor) ReconstructSession(ctx context.Context, workstreamID, sessionID string) (*models.Session, error) {
	messages, err := r.log.ReadAll(workstreamID)
	if err != nil {
		return nil, err
	}

	var turns []models.Turn
	var current *models.Turn
	var lastTimestamp time.Time
	found := false

	for _, msg := range messages {
		if msg.SessionID != sessionID {
			continue
		}
		found = true
		lastTimestamp = msg.Timestamp

		switch msg.Role {
		case models.RoleUser:
			if current != nil {
				turns = append(turns, *current)
			}
			current = &models.Turn{
				ID:          uuid.NewString(),
				UserMessage: msg.Content,
				StartedAt:   msg.Timestamp,
			}
		case models.RoleAssistant:
			if current == nil {
				r.logger.Debug("assistant message with no open turn, skipping", "session_id", sessionID)
				continue
			}
			response := msg.Content
			completedAt := msg.Timestamp
			current.AssistantResponse = &response
			current.CompletedAt = &completedAt
		case models.RoleToolUse:
			if current == nil {
				r.logger.Debug("tool_use message with no open turn, skipping", "session_id", sessionID)
				continue
			}
			var meta models.ToolUseMetadata
			if err := json.Unmarshal([]byte(msg.Metadata), &meta); err != nil {
				r.logger.Warn("failed to parse tool_use metadata, skipping record", "session_id", sessionID, "error", err)
				continue
			}
			current.ToolCalls = append(current.ToolCalls, models.ToolCall{
				ID:        meta.ToolID,
				Name:      meta.Name,
				Arguments: meta.Arguments,
			})
		case models.RoleToolResult:
			if current == nil {
				r.logger.Debug("tool_result message with no open turn, skipping", "session_id", sessionID)
				continue
			}
			var meta models.ToolResultMetadata
			if err := json.Unmarshal([]byte(msg.Metadata), &meta); err != nil {
				r.logger.Warn("failed to parse tool_result metadata, skipping record", "session_id", sessionID, "error", err)
				continue
			}
			if meta.ToolCallID == "" {
				r.logger.Debug("tool_result with empty tool_call_id, preserving (legacy data)", "session_id", sessionID)
			}
			current.ToolResults = append(current.ToolResults, models.ToolResult{
				ToolCallID: meta.ToolCallID,
				Success:    meta.Success,
				Content:    msg.Content,
			})
		case models.RoleSystem, models.RoleAgentPush:
			// Context only; never part of a turn.
		}
	}
	if current != nil {
		turns = append(turns, *current)
	}

	if !found {
		return nil, nil
	}

	session := &models.Session{
		ID:           sessionID,
		WorkstreamID: workstreamID,
		Turns:        turns,
	}
	if len(turns) > 0 {
		session.CreatedAt = turns[0].StartedAt
	}
	session.UpdatedAt = lastTimestamp
	return session, nil
}

// SaveTurn appends, in order, the user message, one tool_use per call, one
// tool_result per result, and the assistant message if present. Ordering is
// load-bearing for ReconstructSession.
func (r *Reconstructor) SaveTurn(workstreamID, sessionID, userMessage string, toolCalls []models.ToolCall, toolResults []models.ToolResult, assistantResponse *string) error {
	now := time.Now().UTC()

	if err := r.log.Append(workstreamID, &models.WorkstreamMessage{
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   userMessage,
		Timestamp: now,
	}); err != nil {
		return err
	}

	for _, call := range toolCalls {
		meta, err := json.Marshal(models.ToolUseMetadata{ToolID: call.ID, Name: call.Name, Arguments: call.Arguments})
		if err != nil {
			return err
		}
		if err := r.log.Append(workstreamID, &models.WorkstreamMessage{
			SessionID: sessionID,
			Role:      models.RoleToolUse,
			Metadata:  string(meta),
			Timestamp: time.Now().UTC(),
		}); err != nil {
			return err
		}
	}

	for _, result := range toolResults {
		meta, err := json.Marshal(models.ToolResultMetadata{ToolCallID: result.ToolCallID, Success: result.Success})
		if err != nil {
			return err
		}
		if err := r.log.Append(workstreamID, &models.WorkstreamMessage{
			SessionID: sessionID,
			Role:      models.RoleToolResult,
			Content:   result.Content,
			Metadata:  string(meta),
			Timestamp: time.Now().UTC(),
		}); err != nil {
			return err
		}
	}

	if assistantResponse != nil {
		if err := r.log.Append(workstreamID, &models.WorkstreamMessage{
			SessionID: sessionID,
			Role:      models.RoleAssistant,
			Content:   *assistantResponse,
			Timestamp: time.Now().UTC(),
		}); err != nil {
			return err
		}
	}

	return nil
}
