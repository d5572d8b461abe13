// Package runtime wires the session-runtime substrate's components
// together: the memory and workstream stores, the session cache, the LLM
// client, the pipeline engine and its workflow loader, and the filesystem
// watcher. It owns the startup and shutdown ordering described for the
// core: stores and migrations first, then the scratch workstream, then the
// session cache, then the LLM client, then workflows, then the watcher —
// unwound in reverse on Shutdown.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/haasonsaas/nexus/internal/compaction"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/fswatch"
	"github.com/haasonsaas/nexus/internal/llm"
	"github.com/haasonsaas/nexus/internal/mcp"
	"github.com/haasonsaas/nexus/internal/memorystore"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/pipeline"
	"github.com/haasonsaas/nexus/internal/sessioncache"
	"github.com/haasonsaas/nexus/internal/skills"
	"github.com/haasonsaas/nexus/internal/workstream"
	"github.com/haasonsaas/nexus/pkg/models"
)

// ScratchSessionsDir is the subdirectory under the workstream root that the
// watcher covers for the scratch workstream, in place of the
// production/work split used for ordinary workstreams.
const ScratchSessionsDir = "sessions"

// Runtime holds every long-lived component the core session substrate
// needs and the order they were brought up in, so Shutdown can unwind it.
type Runtime struct {
	Config *config.Config
	Logger *slog.Logger

	MemoryDB     *sql.DB
	WorkstreamDB *sql.DB

	Memory      *memorystore.Store
	Workstream  *workstream.SQLiteStore
	MessageLog  workstream.MessageLog
	Reconstruct *workstream.Reconstructor

	Sessions *sessioncache.SessionCache

	LLM        *llm.Client
	Compactor  *compaction.TurnCompactor
	MCP        *mcp.Manager

	Pipeline *pipeline.Engine
	Loader   *pipeline.Loader

	Skills  *skills.Manager
	Watcher *fswatch.Watcher

	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	tracerShutdown func(context.Context) error
}

// Start brings every component up in the documented order and returns a
// Runtime ready to serve. On any failure it unwinds what it already
// started before returning the error.
func Start(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{Config: cfg, Logger: logger, Metrics: observability.NewMetrics(nil)}

	tracer, tracerShutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:  "arawn",
		Endpoint:     cfg.Tracing.Endpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
	})
	rt.Tracer = tracer
	rt.tracerShutdown = tracerShutdown

	memoryDB, err := memorystore.Open(ctx, cfg.Paths.MemoryDBPath)
	if err != nil {
		return nil, fmt.Errorf("runtime: open memory store: %w", err)
	}
	rt.MemoryDB = memoryDB
	rt.Memory = memorystore.NewStore(memoryDB)

	workstreamDB, err := workstream.Open(ctx, cfg.Paths.WorkstreamDB)
	if err != nil {
		_ = rt.Shutdown(ctx)
		return nil, fmt.Errorf("runtime: open workstream store: %w", err)
	}
	rt.WorkstreamDB = workstreamDB
	rt.Workstream = workstream.NewSQLiteStore(workstreamDB)

	if _, err := rt.Workstream.EnsureScratch(ctx); err != nil {
		_ = rt.Shutdown(ctx)
		return nil, fmt.Errorf("runtime: ensure scratch workstream: %w", err)
	}

	messageLog, err := workstream.NewJSONLMessageLog(cfg.Paths.WorkstreamDir)
	if err != nil {
		_ = rt.Shutdown(ctx)
		return nil, fmt.Errorf("runtime: open message log: %w", err)
	}
	rt.MessageLog = messageLog
	rt.Reconstruct = workstream.NewReconstructor(messageLog)

	sessionCfg := sessioncache.Config{MaxSessions: cfg.Session.MaxSessions}
	if cfg.Session.TTL != nil {
		sessionCfg.TTL = *cfg.Session.TTL
	}
	rt.Sessions = sessioncache.NewSessionCache(sessionCfg, rt.Reconstruct)

	llmClient, err := buildLLMClient(cfg)
	if err != nil {
		_ = rt.Shutdown(ctx)
		return nil, fmt.Errorf("runtime: build llm client: %w", err)
	}
	rt.LLM = llmClient

	compactionCfg := compaction.Config{MaxSummaryTokens: cfg.Compaction.MaxContextTokens / 16}
	rt.Compactor = compaction.NewTurnCompactor(rt.LLM, cfg.Compaction.SummaryModel, compactionCfg)

	rt.MCP = mcp.NewManager(&cfg.MCP, logger)
	if err := rt.MCP.Start(ctx); err != nil {
		_ = rt.Shutdown(ctx)
		return nil, fmt.Errorf("runtime: start mcp manager: %w", err)
	}

	pipelineCfg := pipeline.Config{
		MaxConcurrentTasks: cfg.Pipeline.MaxConcurrentTasks,
		TaskTimeout:        cfg.Pipeline.TaskTimeout,
		PipelineTimeout:    cfg.Pipeline.PipelineTimeout,
		EnableCron:         cfg.Pipeline.CronEnabled,
		EnableTriggers:     cfg.Pipeline.TriggersEnabled,
	}
	rt.Pipeline = pipeline.NewEngine(pipelineCfg, logger)

	if err := RegisterBuiltinWorkflows(rt.Pipeline, rt.Memory, rt.Reconstruct); err != nil {
		_ = rt.Shutdown(ctx)
		return nil, fmt.Errorf("runtime: register builtin workflows: %w", err)
	}
	if err := RegisterCompactionWorkflow(rt.Pipeline, rt.Reconstruct, rt.Compactor, rt.Tracer, rt.Metrics); err != nil {
		_ = rt.Shutdown(ctx)
		return nil, fmt.Errorf("runtime: register compaction workflow: %w", err)
	}

	if err := os.MkdirAll(cfg.Paths.WorkflowDir, 0o755); err != nil {
		_ = rt.Shutdown(ctx)
		return nil, fmt.Errorf("runtime: create workflow directory: %w", err)
	}
	rt.Loader = pipeline.NewLoader(rt.Pipeline, cfg.Paths.WorkflowDir, 0, logger)
	if err := rt.Loader.LoadAll(ctx); err != nil {
		_ = rt.Shutdown(ctx)
		return nil, fmt.Errorf("runtime: load workflow directory: %w", err)
	}
	if err := rt.Loader.Start(ctx); err != nil {
		_ = rt.Shutdown(ctx)
		return nil, fmt.Errorf("runtime: start workflow loader: %w", err)
	}

	roots, err := knownWorkstreamRoots(ctx, rt.Workstream, cfg.Paths.WorkstreamDir)
	if err != nil {
		_ = rt.Shutdown(ctx)
		return nil, fmt.Errorf("runtime: compute workstream roots: %w", err)
	}
	watcher, err := fswatch.New(roots, fswatch.DefaultBufferSize, fswatch.DefaultDebounce, logger)
	if err != nil {
		_ = rt.Shutdown(ctx)
		return nil, fmt.Errorf("runtime: start filesystem watcher: %w", err)
	}
	rt.Watcher = watcher
	rt.Watcher.Start(ctx)

	if cfg.Skills.Dir != "" {
		if err := os.MkdirAll(cfg.Skills.Dir, 0o755); err != nil {
			_ = rt.Shutdown(ctx)
			return nil, fmt.Errorf("runtime: create skills directory: %w", err)
		}
		skillsMgr, err := skills.NewManager(cfg.Skills.Dir, logger)
		if err != nil {
			_ = rt.Shutdown(ctx)
			return nil, fmt.Errorf("runtime: start skills manager: %w", err)
		}
		if err := skillsMgr.StartWatching(ctx); err != nil {
			_ = rt.Shutdown(ctx)
			return nil, fmt.Errorf("runtime: load skills registry: %w", err)
		}
		rt.Skills = skillsMgr
	}

	return rt, nil
}

// Shutdown drains components in reverse startup order, awaiting the
// pipeline engine's in-flight executions before releasing the stores.
// It tolerates any component having never been started (a partially
// constructed Runtime from a failed Start) and keeps going on error,
// returning the first one encountered.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if rt.Skills != nil {
		note(rt.Skills.Close())
	}
	if rt.Watcher != nil {
		note(rt.Watcher.Close())
	}
	if rt.Loader != nil {
		note(rt.Loader.Close())
	}
	if rt.Pipeline != nil {
		note(rt.Pipeline.Shutdown(ctx))
	}
	if rt.MCP != nil {
		note(rt.MCP.Stop())
	}
	if rt.WorkstreamDB != nil {
		note(rt.WorkstreamDB.Close())
	}
	if rt.MemoryDB != nil {
		note(rt.MemoryDB.Close())
	}
	if rt.tracerShutdown != nil {
		note(rt.tracerShutdown(ctx))
	}
	return firstErr
}

// buildLLMClient constructs a backend per configured provider and wires
// them into a Client ordered primary-then-fallbacks, per cfg.LLM.
func buildLLMClient(cfg *config.Config) (*llm.Client, error) {
	retry := llm.DefaultRetryPolicy()
	backends := make(map[string]llm.Backend, len(cfg.LLM.Providers))

	for _, p := range cfg.LLM.Providers {
		switch p.Name {
		case "anthropic":
			backends[p.Name] = llm.NewAnthropicBackend(p.APIKey, retry)
		case "openai":
			backends[p.Name] = llm.NewOpenAIBackend(p.APIKey, retry)
		default:
			backends[p.Name] = llm.NewMockBackend(p.Name)
		}
	}
	if len(backends) == 0 {
		backends[cfg.LLM.Primary] = llm.NewMockBackend(cfg.LLM.Primary)
	}

	return llm.NewClient(backends, cfg.LLM.Primary, cfg.LLM.Fallbacks)
}

// knownWorkstreamRoots computes the filesystem roots the watcher covers:
// a production and a work subdirectory per active, non-scratch workstream,
// and a single sessions directory for the scratch workstream.
func knownWorkstreamRoots(ctx context.Context, store *workstream.SQLiteStore, baseDir string) ([]fswatch.Root, error) {
	workstreams, err := store.ListWorkstreams(ctx, models.WorkstreamActive)
	if err != nil {
		return nil, err
	}

	var roots []fswatch.Root
	for _, ws := range workstreams {
		if ws.IsScratch {
			roots = append(roots, fswatch.Root{
				Workstream: ws.ID,
				Path:       filepath.Join(baseDir, ws.ID, ScratchSessionsDir),
			})
			continue
		}
		roots = append(roots,
			fswatch.Root{Workstream: ws.ID, Path: filepath.Join(baseDir, ws.ID, "production")},
			fswatch.Root{Workstream: ws.ID, Path: filepath.Join(baseDir, ws.ID, "work")},
		)
	}
	return roots, nil
}
