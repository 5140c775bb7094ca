// Package main implements the ploke CLI, the operator-facing surface over
// the editing pipeline: index a workspace into the Code-Graph Store,
// inspect and decide on staged edit proposals, and manage the on-disk
// graph database. The actual command implementations live in the
// cmd_*.go files alongside this one; this file holds the root command,
// global flags, and process-lifetime logger setup.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ploke/internal/config"
	"ploke/internal/logging"
)

var (
	verbose    bool
	workspace  string
	configPath string
	opTimeout  time.Duration

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ploke",
	Short: "ploke - safe code-editing pipeline for agentic assistants",
	Long: `ploke indexes a Go workspace into a content-addressed Code-Graph
Store and brokers agent-proposed edits through a staged approval
pipeline: every edit is staged, previewed, approved or denied, and only
then applied atomically against the byte range it was resolved against.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		zcfg.Encoding = "console"
		zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("build console logger: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		debugMode, categories, level, jsonFormat := cfg.LoggingConfig()
		if verbose {
			debugMode = true
			level = "debug"
		}
		logCfg := logging.Config{
			DebugMode:  debugMode,
			Categories: categories,
			Level:      level,
			JSONFormat: jsonFormat,
		}
		if err := logging.Initialize(filepath.Join(cfg.ConfigDir, ".ploke"), logCfg); err != nil {
			fmt.Fprintf(os.Stderr, "warning: file logging init failed: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

// loadConfig resolves --workspace/--config into a *config.Config,
// defaulting the workspace to the current directory and the config file
// to <workspace>/ploke.yaml, so Config.ConfigDir equals the workspace
// root and the relative paths in DefaultConfig (".ploke/graph.db", etc.)
// resolve under it.
func loadConfig() (*config.Config, error) {
	ws := workspace
	if ws == "" {
		var err error
		ws, err = os.Getwd()
		if err != nil {
			return nil, err
		}
	}
	absWs, err := filepath.Abs(ws)
	if err != nil {
		return nil, err
	}

	path := configPath
	if path == "" {
		path = filepath.Join(absWs, "ploke.yaml")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if len(cfg.Workspace.Roots) == 0 || (len(cfg.Workspace.Roots) == 1 && cfg.Workspace.Roots[0] == ".") {
		cfg.Workspace.Roots = []string{absWs}
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug-level logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace root (default: current directory)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to ploke.yaml (default: <workspace>/ploke.yaml)")
	rootCmd.PersistentFlags().DurationVar(&opTimeout, "timeout", 10*time.Minute, "Operation timeout")

	rootCmd.AddCommand(indexCmd, editCmd, dbCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
