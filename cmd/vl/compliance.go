package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/visitline/internal/logging"
)

func newComplianceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compliance",
		Short: "Punch compliance commands",
	}

	cmd.AddCommand(newComplianceSweepCmd())
	return cmd
}

func newComplianceSweepCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one punch compliance sweep now",
		Long:  "Checks every active promoter for missed punches once, sends reminders and escalations, and prints the alerts raised.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runComplianceSweep(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Visitline config file")
	return cmd
}

func runComplianceSweep(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	cfg, gormDB, err := openDB(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "visitline")
	if err != nil {
		return err
	}
	defer logger.Sync()

	tracker, closeTracker, err := newTracker(cmd.Context(), cfg, gormDB)
	if err != nil {
		return fmt.Errorf("presence: %w", err)
	}
	defer closeTracker()

	monitor, err := newMonitor(cfg, gormDB, tracker, logger)
	if err != nil {
		return err
	}
	res, err := monitor.Sweep(cmd.Context(), time.Now())
	if err != nil {
		return err
	}
	for _, a := range res.Alerts {
		fmt.Fprintf(out, "%-10s %-12s %-11s %3d min  %s\n", a.Kind, a.EmployeeID, a.Checkpoint, a.MinutesLate, a.Message)
	}
	fmt.Fprintf(out, "Checked %d agents: %d reminders, %d escalations, %d failures\n",
		res.Agents, res.Reminders, res.Escalations, res.Failures)
	return nil
}
