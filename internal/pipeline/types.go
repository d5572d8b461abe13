// Package pipeline wraps a bounded-concurrency task runner behind a small
// workflow surface: dynamically registered task graphs, an execute/trigger
// call surface, cron scheduling, and a hot-reloading file-based workflow
// loader with a {{expression}} template resolver.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the terminal or in-flight state of a workflow execution.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// ErrWorkflowNotFound is returned by any operation that references a
// workflow name not present in the engine's registry.
var ErrWorkflowNotFound = errors.New("pipeline: workflow not found")

// ErrAlreadyShutdown is returned by Execute/Trigger/ScheduleCron once
// Shutdown has completed.
var ErrAlreadyShutdown = errors.New("pipeline: engine is shut down")

// TaskContext is what a task sees when it runs: the workflow-level input
// plus every already-completed sibling task's output, keyed by task id.
// It is also the evaluation context for the template resolver, where the
// root key "input" addresses the workflow input and every other root key
// addresses a sibling task's output.
type TaskContext map[string]any

// TaskFunc is a dynamic task's body: a function from the accumulated
// context to the fields it contributes to that context.
type TaskFunc func(ctx context.Context, tctx TaskContext) (map[string]any, error)

// Task is one node of a dynamically registered workflow.
type Task struct {
	ID        string
	DependsOn []string
	Fn        TaskFunc
}

// TaskDefinition is one node of a file-loaded workflow. Unlike Task, its
// body is not Go code: Type selects a registered Handler and Params is
// template-resolved against TaskContext before the handler runs.
type TaskDefinition struct {
	ID        string         `yaml:"id"`
	DependsOn []string       `yaml:"depends_on"`
	Type      string         `yaml:"type"`
	Params    map[string]any `yaml:"params"`
}

// Handler executes one TaskDefinition's resolved parameters and returns the
// fields it contributes to the workflow context.
type Handler interface {
	Handle(ctx context.Context, resolvedParams map[string]any) (map[string]any, error)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, resolvedParams map[string]any) (map[string]any, error)

// Handle calls the underlying function.
func (f HandlerFunc) Handle(ctx context.Context, resolvedParams map[string]any) (map[string]any, error) {
	return f(ctx, resolvedParams)
}

// WorkflowDefinition is the on-disk (YAML) shape of a file-loaded workflow,
// one per file.
type WorkflowDefinition struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Tasks       []TaskDefinition `yaml:"tasks"`
}

// node is the dependency-graph-agnostic representation shared by both
// dynamic and file-loaded workflows once registered.
type node struct {
	id        string
	dependsOn []string
	fn        TaskFunc       // set for dynamic tasks
	taskType  string         // set for file-loaded tasks
	params    map[string]any // set for file-loaded tasks
}

type registeredWorkflow struct {
	name        string
	description string
	nodes       []node
	graph       *DependencyGraph
	source      string // "dynamic" or "loaded"
	path        string // non-empty for loaded workflows, for loader bookkeeping
}

// Execution is the record of one execute/trigger call.
type Execution struct {
	ID           string
	WorkflowName string
	Status       Status
	Output       map[string]any
	Err          string
	Triggered    bool // true when started via Trigger rather than Execute
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Config bounds an Engine's resource usage.
type Config struct {
	MaxConcurrentTasks int
	TaskTimeout        time.Duration
	PipelineTimeout    time.Duration
	EnableCron         bool
	EnableTriggers     bool
}

// DefaultConfig returns sane defaults for Config's zero-valued fields.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTasks: 8,
		TaskTimeout:        30 * time.Second,
		PipelineTimeout:    5 * time.Minute,
		EnableCron:         true,
		EnableTriggers:     true,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = DefaultConfig().MaxConcurrentTasks
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = DefaultConfig().TaskTimeout
	}
	if c.PipelineTimeout <= 0 {
		c.PipelineTimeout = DefaultConfig().PipelineTimeout
	}
	return c
}

// dynamicTaskKey builds the four-part registry key described by the
// engine's namespace: tenant "public", source "embedded", the workflow
// name, and the task id, joined as a single colon-separated string.
func dynamicTaskKey(workflowName, taskID string) string {
	return fmt.Sprintf("public:embedded:%s:%s", workflowName, taskID)
}

func validTaskID(id string) bool {
	return strings.TrimSpace(id) != ""
}
