package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"ploke/internal/proposal"
)

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Inspect and decide on staged edit proposals",
}

var editApproveCmd = &cobra.Command{
	Use:   "approve <proposal-id>",
	Short: "Approve a staged proposal and apply it",
	Args:  cobra.ExactArgs(1),
	RunE:  runEditApprove,
}

var editDenyCmd = &cobra.Command{
	Use:   "deny <proposal-id>",
	Short: "Deny a staged proposal, terminating it",
	Args:  cobra.ExactArgs(1),
	RunE:  runEditDeny,
}

var editAutoCmd = &cobra.Command{
	Use:   "auto on|off",
	Short: "Toggle auto-confirmation of staged edits",
	Args:  cobra.ExactArgs(1),
	RunE:  runEditAuto,
}

func init() {
	editCmd.AddCommand(editApproveCmd, editDenyCmd, editAutoCmd)
}

func runEditApprove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer a.Close()

	id := args[0]
	if already, err := a.mgr.Approve(id); err != nil {
		if errors.Is(err, proposal.ErrAlreadyApplied) || errors.Is(err, proposal.ErrAlreadyDenied) {
			printStatus(cmd.OutOrStdout(), statusYellow, string(already.State), id, fmt.Sprintf("%s (no-op: %v)", strings.Join(already.Files, ", "), err))
			return nil
		}
		return fmt.Errorf("approve %s: %w", id, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	applied, err := a.mgr.Apply(ctx, id)
	if err != nil {
		printStatus(cmd.ErrOrStderr(), statusRed, "failed", id, err.Error())
		return fmt.Errorf("apply %s: %w", id, err)
	}
	printStatus(cmd.OutOrStdout(), statusGreen, "applied", applied.ID, fmt.Sprintf("%s (state=%s)", strings.Join(applied.Files, ", "), applied.State))
	return nil
}

func runEditDeny(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer a.Close()

	id := args[0]
	denied, err := a.mgr.Deny(id)
	if err != nil {
		if errors.Is(err, proposal.ErrAlreadyApplied) || errors.Is(err, proposal.ErrAlreadyDenied) {
			printStatus(cmd.OutOrStdout(), statusYellow, string(denied.State), id, fmt.Sprintf("%s (no-op: %v)", strings.Join(denied.Files, ", "), err))
			return nil
		}
		return fmt.Errorf("deny %s: %w", id, err)
	}
	printStatus(cmd.OutOrStdout(), statusYellow, "denied", denied.ID, fmt.Sprintf("%s (state=%s)", strings.Join(denied.Files, ", "), denied.State))
	return nil
}

func runEditAuto(cmd *cobra.Command, args []string) error {
	var enable bool
	switch args[0] {
	case "on":
		enable = true
	case "off":
		enable = false
	default:
		return fmt.Errorf("expected \"on\" or \"off\", got %q", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Editing.AutoConfirmEdits = enable

	path := configPath
	if path == "" {
		path = filepath.Join(cfg.ConfigDir, "ploke.yaml")
	}
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	state := "disabled"
	if enable {
		state = "enabled"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "auto-confirm %s (%s)\n", state, path)
	return nil
}
