// Package config loads the subset of runtime configuration the core
// session substrate consumes: session cache limits, the LLM provider
// list, pipeline engine limits, and the workflow/workstream root paths.
// Everything else (HTTP/WebSocket handler config, TUI config, CLI flags,
// auth middleware, plugin manifests) is an external collaborator's
// concern per the scope of this module.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/mcp"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration consumed by the runtime substrate.
type Config struct {
	Session    SessionConfig    `yaml:"session"`
	LLM        LLMConfig        `yaml:"llm"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Compaction CompactionConfig `yaml:"compaction"`
	Skills     SkillsConfig     `yaml:"skills"`
	MCP        mcp.Config       `yaml:"mcp"`
	Paths      PathsConfig      `yaml:"paths"`
	Log        LogConfig        `yaml:"log"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// SessionConfig bounds the session cache.
type SessionConfig struct {
	MaxSessions int            `yaml:"max_sessions"`
	TTL         *time.Duration `yaml:"session_ttl"`
}

// ProviderConfig names one configured LLM provider and its credentials.
type ProviderConfig struct {
	Name   string `yaml:"name"`
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// LLMConfig configures the LLM client: a default model, the primary
// provider name, and an ordered fallback list.
type LLMConfig struct {
	Model     string           `yaml:"model"`
	Primary   string           `yaml:"primary"`
	Fallbacks []string         `yaml:"fallbacks"`
	Providers []ProviderConfig `yaml:"providers"`
}

// PipelineConfig bounds the pipeline/workflow engine.
type PipelineConfig struct {
	MaxConcurrentTasks int           `yaml:"max_concurrent_tasks"`
	TaskTimeout        time.Duration `yaml:"task_timeout"`
	PipelineTimeout    time.Duration `yaml:"pipeline_timeout"`
	CronEnabled        bool          `yaml:"cron_enabled"`
	TriggersEnabled    bool          `yaml:"triggers_enabled"`
}

// CompactionConfig bounds the explore-compact-continue orchestrator loop.
type CompactionConfig struct {
	MaxContextTokens    int     `yaml:"max_context_tokens"`
	CompactionThreshold float64 `yaml:"compaction_threshold"`
	MaxCompactions      int     `yaml:"max_compactions"`
	MaxTurns            int     `yaml:"max_turns"`
	SummaryModel        string  `yaml:"summary_model"`
}

// SkillsConfig points at the directory of markdown-with-frontmatter skill
// definitions the registry loads and hot-reloads.
type SkillsConfig struct {
	Dir string `yaml:"dir"`
}

// PathsConfig names the directories the runtime reads from and writes to.
type PathsConfig struct {
	WorkflowDir   string `yaml:"workflow_dir"`
	WorkstreamDir string `yaml:"workstream_dir"`
	MemoryDBPath  string `yaml:"memory_db_path"`
	WorkstreamDB  string `yaml:"workstream_db_path"`
}

// LogConfig configures the ambient logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures OTLP span export. An empty Endpoint disables
// export and leaves tracing as a no-op.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// Default returns a Config with the defaults spec.md implies: a capacity
// floor of 1 session, no TTL, and a single concurrent pipeline task.
func Default() *Config {
	return &Config{
		Session: SessionConfig{MaxSessions: 100},
		LLM:     LLMConfig{Model: "claude-3-5-sonnet-20241022", Primary: "anthropic"},
		Pipeline: PipelineConfig{
			MaxConcurrentTasks: 4,
			TaskTimeout:        5 * time.Minute,
			PipelineTimeout:    30 * time.Minute,
			CronEnabled:        true,
			TriggersEnabled:    true,
		},
		Compaction: CompactionConfig{
			MaxContextTokens:    180_000,
			CompactionThreshold: 0.8,
			MaxCompactions:      3,
			MaxTurns:            50,
			SummaryModel:        "claude-3-5-haiku-20241022",
		},
		Skills: SkillsConfig{Dir: "./skills"},
		Paths: PathsConfig{
			WorkflowDir:   "./workflows",
			WorkstreamDir: "./workstreams",
			MemoryDBPath:  "./data/memory.db",
			WorkstreamDB:  "./data/workstream.db",
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads a YAML config file (if path is non-empty and exists) over the
// defaults, then applies ARAWN_*-prefixed environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the core relies on, clamping
// max_sessions to the documented silent floor of 1.
func (c *Config) Validate() error {
	if c.Session.MaxSessions < 1 {
		c.Session.MaxSessions = 1
	}
	if c.Pipeline.MaxConcurrentTasks < 1 {
		return fmt.Errorf("pipeline.max_concurrent_tasks must be at least 1")
	}
	if c.Paths.WorkstreamDir == "" {
		return fmt.Errorf("paths.workstream_dir is required")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ARAWN_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.MaxSessions = n
		}
	}
	if v := os.Getenv("ARAWN_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.TTL = &d
		}
	}
	if v := os.Getenv("ARAWN_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("ARAWN_LLM_PRIMARY"); v != "" {
		cfg.LLM.Primary = v
	}
	if v := os.Getenv("ARAWN_ANTHROPIC_API_KEY"); v != "" {
		setProviderKey(cfg, "anthropic", v)
	}
	if v := os.Getenv("ARAWN_OPENAI_API_KEY"); v != "" {
		setProviderKey(cfg, "openai", v)
	}
	if v := os.Getenv("ARAWN_WORKFLOW_DIR"); v != "" {
		cfg.Paths.WorkflowDir = v
	}
	if v := os.Getenv("ARAWN_WORKSTREAM_DIR"); v != "" {
		cfg.Paths.WorkstreamDir = v
	}
	if v := os.Getenv("ARAWN_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ARAWN_SKILLS_DIR"); v != "" {
		cfg.Skills.Dir = v
	}
}

func setProviderKey(cfg *Config, name, key string) {
	for i := range cfg.LLM.Providers {
		if cfg.LLM.Providers[i].Name == name {
			cfg.LLM.Providers[i].APIKey = key
			return
		}
	}
	cfg.LLM.Providers = append(cfg.LLM.Providers, ProviderConfig{Name: name, APIKey: key})
}

// ProviderNames returns the configured provider names, primary first.
func (c *Config) ProviderNames() []string {
	names := []string{c.LLM.Primary}
	for _, f := range c.LLM.Fallbacks {
		if !strings.EqualFold(f, c.LLM.Primary) {
			names = append(names, f)
		}
	}
	return names
}
