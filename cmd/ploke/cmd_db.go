package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"ploke/internal/graph"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the Code-Graph Store's on-disk database",
}

var dbSaveCmd = &cobra.Command{
	Use:   "save <dest>",
	Short: "Export a consistent snapshot of the graph database to dest",
	Args:  cobra.ExactArgs(1),
	RunE:  runDBSave,
}

var dbLoadCrateCmd = &cobra.Command{
	Use:   "load-crate <path>",
	Short: "Bootstrap-scan a crate directory into a fresh graph database",
	Args:  cobra.ExactArgs(1),
	RunE:  runDBLoadCrate,
}

func init() {
	dbCmd.AddCommand(dbSaveCmd, dbLoadCrateCmd)
}

func runDBSave(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer a.Close()

	dest, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if err := a.store.VacuumInto(dest); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved graph database to %s\n", dest)
	return nil
}

func runDBLoadCrate(cmd *cobra.Command, args []string) error {
	cratePath, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolve crate path: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Workspace.Roots = []string{cratePath}

	dbPath := cfg.Graph.DatabasePath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(cfg.ConfigDir, dbPath)
	}
	if err := graph.ResetDatabase(dbPath); err != nil {
		return fmt.Errorf("reset graph database: %w", err)
	}

	a, err := newApp(cfg)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer a.Close()

	res, err := a.scan.ScanChanges([]string{cratePath})
	if err != nil {
		return fmt.Errorf("scan_changes: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "loaded crate %s: scanned=%d updated=%d errors=%d\n",
		cratePath, res.Scanned, res.Updated, len(res.Errors))
	return nil
}
