package main

import (
	"fmt"
	"strings"

	"github.com/rgould/conductor/internal/queue"
	"github.com/spf13/cobra"
)

func newPushCmd() *cobra.Command {
	var (
		configPath string
		projectID  string
		priority   int
	)

	cmd := &cobra.Command{
		Use:   "push <message>",
		Short: "Queue a user message event",
		Long:  "Pushes a user message onto the event queue for the running orchestrator to process. Duplicate messages within the same hour are absorbed.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPush(cmd, configPath, strings.Join(args, " "), projectID, priority)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "conductor.yaml", "path to config file")
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "project the message belongs to")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority 1 (most urgent) to 10")
	return cmd
}

func runPush(cmd *cobra.Command, configPath, message, projectID string, priority int) error {
	_, gdb, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	id, created, err := queue.Push(gdb, queue.Envelope{
		Source:    "user",
		Type:      "message",
		Payload:   map[string]any{"message": message},
		ProjectID: projectID,
		Priority:  priority,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if created {
		fmt.Fprintf(out, "Queued event %s\n", id)
	} else {
		fmt.Fprintf(out, "Duplicate of event %s (already queued this hour)\n", id)
	}
	return nil
}
