package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ScheduleInfo describes one installed cron schedule.
type ScheduleInfo struct {
	ID           string
	WorkflowName string
	Expr         string
	Timezone     string
	NextRun      time.Time
}

type schedule struct {
	info    ScheduleInfo
	entryID cron.EntryID
}

// Engine registers workflows (dynamic or file-loaded), runs them with
// bounded task concurrency, and drives cron-scheduled executions.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu           sync.Mutex
	workflows    map[string]*registeredWorkflow
	taskRegistry map[string]Task
	handlers     map[string]Handler
	executions   map[string]*Execution
	schedules    map[string]*schedule
	cron         *cron.Cron
	shutdown     bool
	wg           sync.WaitGroup
}

// NewEngine builds an Engine with cfg's limits (zero fields take defaults).
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:          cfg.withDefaults(),
		logger:       logger.With("component", "pipeline"),
		workflows:    make(map[string]*registeredWorkflow),
		taskRegistry: make(map[string]Task),
		handlers:     make(map[string]Handler),
		executions:   make(map[string]*Execution),
		schedules:    make(map[string]*schedule),
		cron:         cron.New(cron.WithParser(cronParser)),
	}
	e.cron.Start()
	return e
}

// RegisterHandler registers a Handler for a file-loaded TaskDefinition.Type.
func (e *Engine) RegisterHandler(taskType string, handler Handler) {
	if e == nil || handler == nil {
		return
	}
	taskType = strings.TrimSpace(taskType)
	if taskType == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[taskType] = handler
}

// RegisterDynamicWorkflow builds a workflow from a list of Go-defined
// tasks and registers it in the engine's name->workflow map and, per task,
// in the global dynamic task registry under the four-part
// (tenant="public", source="embedded", workflow_name, task_id) namespace.
func (e *Engine) RegisterDynamicWorkflow(name, description string, tasks []Task) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("pipeline: workflow name cannot be empty")
	}

	nodes := make([]node, 0, len(tasks))
	for _, t := range tasks {
		if !validTaskID(t.ID) {
			return fmt.Errorf("pipeline: task id cannot be empty")
		}
		if t.Fn == nil {
			return fmt.Errorf("pipeline: task %q has no function", t.ID)
		}
		nodes = append(nodes, node{id: t.ID, dependsOn: t.DependsOn, fn: t.Fn})
	}
	graph, err := buildDependencyGraph(nodes)
	if err != nil {
		return fmt.Errorf("pipeline: workflow %q: %w", name, err)
	}

	wf := &registeredWorkflow{
		name:        name,
		description: description,
		nodes:       nodes,
		graph:       graph,
		source:      "dynamic",
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows[name] = wf
	for _, t := range tasks {
		e.taskRegistry[dynamicTaskKey(name, t.ID)] = t
	}
	return nil
}

// registerLoadedWorkflow installs a file-loaded WorkflowDefinition,
// replacing any prior workflow of the same name. Used by the loader.
func (e *Engine) registerLoadedWorkflow(def WorkflowDefinition, path string) error {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return fmt.Errorf("pipeline: workflow name cannot be empty")
	}

	seen := make(map[string]struct{}, len(def.Tasks))
	nodes := make([]node, 0, len(def.Tasks))
	for _, t := range def.Tasks {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			return fmt.Errorf("pipeline: task id cannot be empty")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("pipeline: duplicate task id %q", id)
		}
		seen[id] = struct{}{}
		nodes = append(nodes, node{id: id, dependsOn: t.DependsOn, taskType: t.Type, params: t.Params})
	}
	graph, err := buildDependencyGraph(nodes)
	if err != nil {
		return fmt.Errorf("pipeline: workflow %q: %w", name, err)
	}

	wf := &registeredWorkflow{
		name:        name,
		description: def.Description,
		nodes:       nodes,
		graph:       graph,
		source:      "loaded",
		path:        path,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows[name] = wf
	return nil
}

// unregisterWorkflow removes a workflow loaded from the given path, used by
// the loader on file deletion. Returns the removed workflow's name, if any.
func (e *Engine) unregisterWorkflowByPath(path string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, wf := range e.workflows {
		if wf.source == "loaded" && wf.path == path {
			delete(e.workflows, name)
			return name, true
		}
	}
	return "", false
}

// Execute runs a registered workflow to completion and returns its result.
func (e *Engine) Execute(ctx context.Context, name string, input map[string]any) (*Execution, error) {
	return e.run(ctx, name, input, false)
}

// Trigger runs a registered workflow identically to Execute, but records
// the execution as event-driven.
func (e *Engine) Trigger(ctx context.Context, name string, input map[string]any) (*Execution, error) {
	return e.run(ctx, name, input, true)
}

func (e *Engine) run(ctx context.Context, name string, input map[string]any, triggered bool) (*Execution, error) {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return nil, ErrAlreadyShutdown
	}
	wf, ok := e.workflows[strings.TrimSpace(name)]
	e.mu.Unlock()
	if !ok {
		return nil, ErrWorkflowNotFound
	}

	e.wg.Add(1)
	defer e.wg.Done()

	exec := &Execution{
		ID:           uuid.NewString(),
		WorkflowName: wf.name,
		Status:       StatusRunning,
		Triggered:    triggered,
		StartedAt:    time.Now(),
	}
	e.mu.Lock()
	e.executions[exec.ID] = exec
	e.mu.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.PipelineTimeout)
	defer cancel()

	output, err := e.runGraph(runCtx, wf, input)
	exec.FinishedAt = time.Now()
	switch {
	case err == nil:
		exec.Status = StatusCompleted
		exec.Output = output
	case runCtx.Err() == context.DeadlineExceeded:
		exec.Status = StatusTimedOut
		exec.Err = err.Error()
	default:
		exec.Status = StatusFailed
		exec.Err = err.Error()
	}

	e.logger.Info("workflow execution finished",
		"workflow", wf.name, "execution_id", exec.ID, "status", exec.Status, "triggered", triggered)
	return exec, nil
}

// runGraph executes wf's dependency graph stage by stage, with task
// concurrency bounded by cfg.MaxConcurrentTasks within a stage, each task
// under its own per-task timeout, accumulating outputs into a shared
// context keyed by task id plus the reserved "input" key.
func (e *Engine) runGraph(ctx context.Context, wf *registeredWorkflow, input map[string]any) (map[string]any, error) {
	byID := make(map[string]node, len(wf.nodes))
	for _, n := range wf.nodes {
		byID[n.id] = n
	}

	tctx := TaskContext{"input": input}
	var mu sync.Mutex

	sem := make(chan struct{}, e.cfg.MaxConcurrentTasks)
	for _, stage := range wf.graph.Stages() {
		var wg sync.WaitGroup
		errs := make(chan error, len(stage))

		for _, id := range stage {
			n := byID[id]
			wg.Add(1)
			go func(n node) {
				defer wg.Done()
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
				defer func() { <-sem }()

				taskCtx, cancel := context.WithTimeout(ctx, e.cfg.TaskTimeout)
				defer cancel()

				mu.Lock()
				snapshot := make(TaskContext, len(tctx))
				for k, v := range tctx {
					snapshot[k] = v
				}
				mu.Unlock()

				out, err := e.runTask(taskCtx, wf, n, snapshot)
				if err != nil {
					errs <- fmt.Errorf("task %q: %w", n.id, err)
					return
				}
				mu.Lock()
				tctx[n.id] = out
				mu.Unlock()
			}(n)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				return nil, err
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	delete(tctx, "input")
	return tctx, nil
}

func (e *Engine) runTask(ctx context.Context, wf *registeredWorkflow, n node, snapshot TaskContext) (map[string]any, error) {
	if n.fn != nil {
		return n.fn(ctx, snapshot)
	}

	e.mu.Lock()
	handler, ok := e.handlers[n.taskType]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no handler registered for task type %q", n.taskType)
	}

	resolved, err := ResolveValue(n.params, snapshot)
	if err != nil {
		return nil, fmt.Errorf("resolve params: %w", err)
	}
	params, _ := resolved.(map[string]any)
	return handler.Handle(ctx, params)
}

// ScheduleCron installs a recurring schedule that calls Execute for the
// named workflow. name must reference an already-registered workflow.
func (e *Engine) ScheduleCron(name, expr, timezone string) (string, error) {
	e.mu.Lock()
	_, ok := e.workflows[strings.TrimSpace(name)]
	if !ok {
		e.mu.Unlock()
		return "", ErrWorkflowNotFound
	}
	if e.shutdown {
		e.mu.Unlock()
		return "", ErrAlreadyShutdown
	}
	e.mu.Unlock()

	spec := expr
	if strings.TrimSpace(timezone) != "" {
		spec = fmt.Sprintf("CRON_TZ=%s %s", timezone, expr)
	}
	if _, err := cronParser.Parse(spec); err != nil {
		return "", fmt.Errorf("pipeline: invalid cron expression: %w", err)
	}

	id := uuid.NewString()
	entryID, err := e.cron.AddFunc(spec, func() {
		execCtx, cancel := context.WithTimeout(context.Background(), e.cfg.PipelineTimeout)
		defer cancel()
		if _, err := e.Execute(execCtx, name, nil); err != nil {
			e.logger.Warn("scheduled execution failed", "workflow", name, "schedule_id", id, "error", err)
		}
	})
	if err != nil {
		return "", fmt.Errorf("pipeline: schedule cron: %w", err)
	}

	e.mu.Lock()
	e.schedules[id] = &schedule{
		info:    ScheduleInfo{ID: id, WorkflowName: name, Expr: expr, Timezone: timezone},
		entryID: entryID,
	}
	e.mu.Unlock()
	return id, nil
}

// ListSchedules enumerates every installed cron schedule, with each
// schedule's next run time refreshed from the cron engine.
func (e *Engine) ListSchedules() []ScheduleInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(e.schedules))
	for _, s := range e.schedules {
		info := s.info
		if entry := e.cron.Entry(s.entryID); entry.ID != 0 {
			info.NextRun = entry.Next
		}
		out = append(out, info)
	}
	return out
}

// CancelSchedule removes a previously installed cron schedule.
func (e *Engine) CancelSchedule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.schedules[id]
	if !ok {
		return fmt.Errorf("pipeline: schedule %q not found", id)
	}
	e.cron.Remove(s.entryID)
	delete(e.schedules, id)
	return nil
}

// Shutdown stops accepting new work, waits for the cron scheduler to drain
// its currently-running jobs, and waits for any in-flight Execute/Trigger
// calls to finish.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return nil
	}
	e.shutdown = true
	e.mu.Unlock()

	cronStopped := e.cron.Stop()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-cronStopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
