package main

import (
	"fmt"

	"github.com/rgould/conductor/internal/models"
	"github.com/rgould/conductor/internal/queue"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue status and recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath, limit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "conductor.yaml", "path to config file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of recent events to show")
	return cmd
}

func runStatus(cmd *cobra.Command, configPath string, limit int) error {
	_, gdb, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	stats, err := queue.Stats(gdb)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Queue:")
	for _, status := range []string{models.EventPending, models.EventProcessing, models.EventDone, models.EventFailed} {
		fmt.Fprintf(out, "  %-12s %d\n", status, stats[status])
	}

	var events []models.Event
	if err := gdb.Order("created_at DESC").Limit(limit).Find(&events).Error; err != nil {
		return fmt.Errorf("load recent events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	fmt.Fprintln(out, "\nRecent events:")
	for _, ev := range events {
		line := fmt.Sprintf("  %s  %-10s %s/%s", ev.ID, ev.Status, ev.Source, ev.Type)
		if ev.Reason != "" {
			line += "  (" + ev.Reason + ")"
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
