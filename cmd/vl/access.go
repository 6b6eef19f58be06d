package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/visitline/internal/access"
)

func newAccessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "access",
		Short: "Device access window commands",
	}

	cmd.AddCommand(newAccessCheckCmd())
	return cmd
}

func newAccessCheckCmd() *cobra.Command {
	var (
		configPath string
		employee   string
		at         string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Show whether an agent's device may operate",
		Long:  "Evaluates the agent's work schedule and extensions at the given instant (default now) and prints the decision.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if employee == "" {
				return fmt.Errorf("--employee is required")
			}
			return runAccessCheck(cmd, configPath, employee, at, asJSON)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Visitline config file")
	cmd.Flags().StringVarP(&employee, "employee", "e", "", "employee id")
	cmd.Flags().StringVar(&at, "at", "", "instant to evaluate, RFC 3339 (default now)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full decision as JSON")
	return cmd
}

func runAccessCheck(cmd *cobra.Command, configPath, employee, at string, asJSON bool) error {
	now := time.Now()
	if at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return fmt.Errorf("--at: %w", err)
		}
		now = t
	}

	cfg, gormDB, err := openDB(configPath)
	if err != nil {
		return err
	}
	status, err := access.Check(cmd.Context(), gormDB, employee, now, access.Options{
		Location:    cfg.Location(),
		EarlyMargin: time.Duration(cfg.Access.EarlyMarginMinutes) * time.Minute,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	verdict := "DENIED"
	if status.Allowed {
		verdict = "ALLOWED"
	}
	fmt.Fprintf(out, "%s %s on %s: %s\n", verdict, employee, status.Date, status.Reason)
	if status.EarliestAccess != nil && status.LatestAccess != nil {
		fmt.Fprintf(out, "Window %s - %s", status.EarliestAccess.Format("15:04"), status.LatestAccess.Format("15:04"))
		if status.ExtensionApplied {
			fmt.Fprint(out, " (extended)")
		}
		fmt.Fprintln(out)
	}
	return nil
}
