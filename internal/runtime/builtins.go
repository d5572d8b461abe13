package runtime

import (
	"context"
	"fmt"

	"github.com/haasonsaas/nexus/internal/compaction"
	"github.com/haasonsaas/nexus/internal/memorystore"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/pipeline"
	"github.com/haasonsaas/nexus/internal/workstream"
)

// RegisterBuiltinWorkflows registers the dynamic workflows the runtime
// always provides, independent of anything loaded from the workflow
// directory: reinforcing a memory row, transcribing a session, and
// compacting one via the LLM-backed turn compactor.
func RegisterBuiltinWorkflows(engine *pipeline.Engine, memory *memorystore.Store, reconstruct *workstream.Reconstructor) error {
	if err := engine.RegisterDynamicWorkflow("reinforce-memory", "Touch and reinforce a memory by id",
		[]pipeline.Task{
			{ID: "reinforce", Fn: reinforceMemoryTask(memory)},
		}); err != nil {
		return err
	}

	if err := engine.RegisterDynamicWorkflow("transcribe-session", "Reconstruct a session's turn list",
		[]pipeline.Task{
			{ID: "reconstruct", Fn: reconstructSessionTask(reconstruct)},
		}); err != nil {
		return err
	}

	return nil
}

// RegisterCompactionWorkflow registers a "compact-session" dynamic workflow
// that reconstructs a session and runs it through compactor, recording the
// outcome via metrics and a trace span. Separate from RegisterBuiltinWorkflows
// because it needs the compactor, tracer, and metrics built later in Start.
func RegisterCompactionWorkflow(engine *pipeline.Engine, reconstruct *workstream.Reconstructor, compactor *compaction.TurnCompactor, tracer *observability.Tracer, metrics *observability.Metrics) error {
	return engine.RegisterDynamicWorkflow("compact-session", "Summarize a session's older turns via the LLM",
		[]pipeline.Task{
			{ID: "compact", Fn: compactSessionTask(reconstruct, compactor, tracer, metrics)},
		})
}

func inputField(tctx pipeline.TaskContext, field string) (string, error) {
	input, _ := tctx["input"].(map[string]any)
	value, ok := input[field]
	if !ok {
		return "", fmt.Errorf("missing required input field %q", field)
	}
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("input field %q must be a string", field)
	}
	return s, nil
}

func reinforceMemoryTask(memory *memorystore.Store) pipeline.TaskFunc {
	return func(ctx context.Context, tctx pipeline.TaskContext) (map[string]any, error) {
		id, err := inputField(tctx, "memory_id")
		if err != nil {
			return nil, err
		}
		if err := memory.Reinforce(ctx, id); err != nil {
			return nil, fmt.Errorf("reinforce memory %q: %w", id, err)
		}
		return map[string]any{"reinforced_id": id}, nil
	}
}

func reconstructSessionTask(reconstruct *workstream.Reconstructor) pipeline.TaskFunc {
	return func(ctx context.Context, tctx pipeline.TaskContext) (map[string]any, error) {
		workstreamID, err := inputField(tctx, "workstream_id")
		if err != nil {
			return nil, err
		}
		sessionID, err := inputField(tctx, "session_id")
		if err != nil {
			return nil, err
		}

		session, err := reconstruct.ReconstructSession(ctx, workstreamID, sessionID)
		if err != nil {
			return nil, fmt.Errorf("reconstruct session %q: %w", sessionID, err)
		}
		return map[string]any{"turn_count": len(session.Turns)}, nil
	}
}

func compactSessionTask(reconstruct *workstream.Reconstructor, compactor *compaction.TurnCompactor, tracer *observability.Tracer, metrics *observability.Metrics) pipeline.TaskFunc {
	return func(ctx context.Context, tctx pipeline.TaskContext) (map[string]any, error) {
		workstreamID, err := inputField(tctx, "workstream_id")
		if err != nil {
			return nil, err
		}
		sessionID, err := inputField(tctx, "session_id")
		if err != nil {
			return nil, err
		}

		session, err := reconstruct.ReconstructSession(ctx, workstreamID, sessionID)
		if err != nil {
			return nil, fmt.Errorf("reconstruct session %q: %w", sessionID, err)
		}

		ctx, span := tracer.Start(ctx, "compaction.compact_session")
		defer span.End()

		result, err := compactor.Compact(ctx, session, nil, nil)
		outcome := "success"
		if err != nil {
			outcome = "error"
			tracer.RecordError(span, err)
		}
		metrics.RecordCompaction("turn-compactor", outcome, 0)

		if err != nil {
			return nil, fmt.Errorf("compact session %q: %w", sessionID, err)
		}
		if result.TokensBefore > result.TokensAfter {
			metrics.CompactionTokensSaved.Add(float64(result.TokensBefore - result.TokensAfter))
		}
		return map[string]any{
			"turns_compacted": result.TurnsCompacted,
			"tokens_before":   result.TokensBefore,
			"tokens_after":    result.TokensAfter,
			"summary":         result.Summary,
		}, nil
	}
}
