package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index a workspace into the Code-Graph Store",
}

var indexWorkspaceCmd = &cobra.Command{
	Use:   "workspace [path]",
	Short: "Scan a workspace root, reparsing changed files and dropping removed ones",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndexWorkspace,
}

func init() {
	indexCmd.AddCommand(indexWorkspaceCmd)
}

func runIndexWorkspace(cmd *cobra.Command, args []string) error {
	root := workspace
	if len(args) == 1 {
		root = args[0]
	}
	if root == "" {
		var err error
		root, err = os.Getwd()
		if err != nil {
			return err
		}
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve workspace path: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Workspace.Roots = []string{absRoot}

	a, err := newApp(cfg)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer a.Close()

	_, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			fmt.Fprintln(cmd.ErrOrStderr(), "\nindexing cancelled")
			cancel()
		}
	}()

	var bar *progressbar.ProgressBar
	if isatty.IsTerminal(os.Stdout.Fd()) {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("scanning"),
			progressbar.OptionSetWriter(cmd.OutOrStdout()),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionClearOnFinish(),
		)
		a.scan.SetProgressHook(func(path string, scanned int) {
			_ = bar.Add(1)
		})
	}

	start := time.Now()
	res, err := a.scan.ScanChanges([]string{absRoot})
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return fmt.Errorf("scan_changes: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d updated=%d dropped=%d errors=%d (%s)\n",
		res.Scanned, res.Updated, res.Dropped, len(res.Errors), time.Since(start).Round(time.Millisecond))
	for _, e := range res.Errors {
		fmt.Fprintf(cmd.ErrOrStderr(), "  error: %v\n", e)
	}
	return nil
}
