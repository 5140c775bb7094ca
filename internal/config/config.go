// Package config loads and validates ploke's YAML configuration, applying
// environment-variable overrides the way the teacher's applyEnvOverrides
// pass does: load the file (or defaults), then let environment variables
// win.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// PreviewMode selects how Edit Resolver previews are rendered.
type PreviewMode string

const (
	PreviewDiff       PreviewMode = "diff"
	PreviewCodeBlocks PreviewMode = "codeblocks"
)

// Editing controls Edit Resolver / Approval Executor behavior.
type Editing struct {
	// AutoConfirmEdits is loaded, saved and set by `ploke edit auto`; no
	// pipeline component reads it, so a staged proposal is never approved
	// automatically.
	AutoConfirmEdits bool        `yaml:"auto_confirm_edits"`
	PreviewMode      PreviewMode `yaml:"preview_mode"`
	MaxPreviewLines  int         `yaml:"max_preview_lines"`
	// RejectStaleOnStage is loaded and saved but not read by any
	// component: ER fails staging on a ContentMismatch detected during
	// preview construction whether it is true or false.
	RejectStaleOnStage bool `yaml:"reject_stale_on_stage"`
}

// Workspace bounds the paths FIE is allowed to touch.
type Workspace struct {
	Roots []string `yaml:"roots"`
}

// FIORetry configures the transient-I/O backoff policy (cenkalti/backoff).
type FIORetry struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// FIO groups File I/O Engine settings.
type FIO struct {
	Retry          FIORetry `yaml:"retry"`
	WriteConcurrency int    `yaml:"write_concurrency"`
}

// Logging mirrors internal/logging.Config's YAML shape so the top-level
// Config can embed it directly without an import cycle.
type Logging struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// Metrics controls the Prometheus exporter.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Graph controls the Code-Graph Store's SQLite-backed persistence.
type Graph struct {
	DatabasePath string `yaml:"database_path"`
}

// Scan controls Scan/Rescan Service behavior.
type Scan struct {
	WatchEnabled bool `yaml:"watch_enabled"`
}

// Tools controls tool-call payload validation.
type Tools struct {
	SchemaStrict bool `yaml:"schema_strict"`
}

// Session carries settings consumed by the (out-of-scope) LLM session
// collaborator; ploke's core only reads these for completeness of the
// external interface contract in SPEC_FULL §6.
type Session struct {
	HistoryCharBudget int           `yaml:"history_char_budget"`
	ToolTimeout       time.Duration `yaml:"tool_timeout"`
	ToolMaxRetries    int           `yaml:"tool_max_retries"`
}

// Config is the root of ploke.yaml.
type Config struct {
	Editing   Editing   `yaml:"editing"`
	Workspace Workspace `yaml:"workspace"`
	FIO       FIO       `yaml:"fio"`
	Logging   Logging   `yaml:"logging"`
	Metrics   Metrics   `yaml:"metrics"`
	Graph     Graph     `yaml:"graph"`
	Scan      Scan      `yaml:"scan"`
	Tools     Tools     `yaml:"tools"`
	Session   Session   `yaml:"session"`

	// ConfigDir is the directory ploke.yaml was loaded from (or would be
	// written to); not serialized, set by Load/DefaultConfig.
	ConfigDir string `yaml:"-"`
}

// DefaultConfig returns ploke's built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Editing: Editing{
			AutoConfirmEdits:   false,
			PreviewMode:        PreviewDiff,
			MaxPreviewLines:    300,
			RejectStaleOnStage: false,
		},
		Workspace: Workspace{Roots: []string{"."}},
		FIO: FIO{
			Retry: FIORetry{
				MaxAttempts: 4,
				BaseDelay:   50 * time.Millisecond,
				MaxDelay:    2 * time.Second,
			},
			WriteConcurrency: 8,
		},
		Logging: Logging{
			DebugMode: false,
			Level:     "info",
		},
		Metrics: Metrics{Enabled: false, Addr: "127.0.0.1:9090"},
		Graph:   Graph{DatabasePath: ".ploke/graph.db"},
		Scan:    Scan{WatchEnabled: false},
		Tools:   Tools{SchemaStrict: true},
		Session: Session{
			HistoryCharBudget: 60000,
			ToolTimeout:       30 * time.Second,
			ToolMaxRetries:    2,
		},
	}
}

// Load reads ploke.yaml at path, falling back to defaults if the file is
// absent, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.ConfigDir = filepath.Dir(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.ConfigDir = filepath.Dir(path)

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides lets deployment environment variables win over the
// file/defaults, mirroring the precedence pattern: each override is
// independent and later calls do not implicitly clear earlier ones.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PLOKE_AUTO_CONFIRM_EDITS"); v != "" {
		c.Editing.AutoConfirmEdits = v == "1" || v == "true"
	}
	if v := os.Getenv("PLOKE_PREVIEW_MODE"); v != "" {
		c.Editing.PreviewMode = PreviewMode(v)
	}
	if v := os.Getenv("PLOKE_WORKSPACE_ROOT"); v != "" {
		c.Workspace.Roots = []string{v}
	}
	if v := os.Getenv("PLOKE_GRAPH_DB"); v != "" {
		c.Graph.DatabasePath = v
	}
	if v := os.Getenv("PLOKE_DEBUG"); v != "" {
		c.Logging.DebugMode = v == "1" || v == "true"
	}
	if v := os.Getenv("PLOKE_METRICS_ADDR"); v != "" {
		c.Metrics.Enabled = true
		c.Metrics.Addr = v
	}
}

// LoggingConfig adapts Config.Logging into internal/logging.Config's
// shape for Initialize, keeping the two packages decoupled.
func (c *Config) LoggingConfig() (debugMode bool, categories map[string]bool, level string, jsonFormat bool) {
	return c.Logging.DebugMode, c.Logging.Categories, c.Logging.Level, c.Logging.JSONFormat
}

// IsPathAllowed reports whether an absolute path lies under one of the
// configured workspace roots — the precondition FIE enforces before any
// write (PathPolicyViolation otherwise).
func (c *Config) IsPathAllowed(absPath string) bool {
	for _, root := range c.Workspace.Roots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absRoot, absPath)
		if err != nil {
			continue
		}
		if rel == "." || (rel != ".." && !hasDotDotPrefix(rel)) {
			return true
		}
	}
	return false
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.' && (len(rel) == 2 || rel[2] == filepath.Separator)
}
