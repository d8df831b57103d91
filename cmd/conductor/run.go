package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rgould/conductor/internal/approval"
	"github.com/rgould/conductor/internal/config"
	"github.com/rgould/conductor/internal/db"
	"github.com/rgould/conductor/internal/dispatch"
	"github.com/rgould/conductor/internal/invoker"
	"github.com/rgould/conductor/internal/llm"
	"github.com/rgould/conductor/internal/netapi"
	"github.com/rgould/conductor/internal/notify"
	"github.com/rgould/conductor/internal/producer"
	"github.com/rgould/conductor/internal/queue"
	"github.com/rgould/conductor/internal/router"
	"github.com/rgould/conductor/internal/tools"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the orchestrator",
		Long:  "Starts the producers and the dispatch loop. Blocks until interrupted; the in-flight event is finished before exit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "conductor.yaml", "path to config file")
	return cmd
}

func runDaemon(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gdb, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return err
	}

	// Any processing row at boot was orphaned by a crash; requeue before
	// the loop starts.
	stale, err := queue.ResetStale(gdb)
	if err != nil {
		return err
	}
	if stale > 0 {
		fmt.Fprintf(out, "Requeued %d stale event(s) from a previous run\n", stale)
	}

	policy, err := approval.ForName(cfg.Approval.Policy)
	if err != nil {
		return err
	}
	gate, err := approval.NewTerminalGate(gdb)
	if err != nil {
		return err
	}
	notifier := notify.FromConfig(cfg.Notify)

	loop := &dispatch.Loop{
		DB:       gdb,
		Router:   router.New(router.DefaultRules()),
		Invoker:  invoker.New(gdb, gate, policy),
		Config:   cfg,
		Registry: buildRegistry(cfg, notifier),
		ModelFor: modelResolver(cfg),
		Waiters:  dispatch.NewWaiters(),
		Poll:     time.Duration(cfg.Dispatch.PollMillis) * time.Millisecond,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if cfg.Timer.Enabled {
		timer, err := producer.NewTimer(gdb, cfg.Timer)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			timer.Run(ctx)
		}()
	}
	if cfg.Network.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := netapi.Start(ctx, netapi.StartOpts{
				DB:      gdb,
				Config:  cfg.Network,
				Waiters: loop.Waiters,
				Out:     out,
			})
			if err != nil {
				log.Printf("netapi: %v", err)
			}
		}()
	}

	fmt.Fprintf(out, "Conductor running (policy %s)\n", policy.Name())
	err = loop.Run(ctx)
	wg.Wait()
	fmt.Fprintln(out, "Shutdown complete")
	return err
}

// buildRegistry wires every configured tool. Per-agent filtering happens in
// the dispatch loop.
func buildRegistry(cfg *config.Config, notifier *notify.Notifier) *tools.Registry {
	reg := tools.NewRegistry()
	reg.Register(tools.NewReadFileTool(cfg.Paths.AllowedRead))
	reg.Register(tools.NewListDirectoryTool(cfg.Paths.AllowedRead))
	reg.Register(tools.NewWriteFileTool(cfg.Paths.AllowedWrite))
	reg.Register(tools.NewShellRunTool(cfg.Shell.Allowlist))
	reg.Register(tools.NewNotifyUserTool(notifier))
	reg.Register(tools.NewGitHubIssueTool(cfg.GitHub))
	return reg
}

// modelResolver maps router model keys onto configured provider clients.
func modelResolver(cfg *config.Config) dispatch.ModelResolver {
	return func(key string) (llm.Model, string, error) {
		entry, apiKey, err := cfg.ResolveModel(key)
		if err != nil {
			return nil, "", err
		}
		client, err := llm.NewClient(entry.BaseURL, entry.Model, apiKey, entry.MaxTokens)
		if err != nil {
			return nil, "", err
		}
		return client, entry.Model, nil
	}
}
