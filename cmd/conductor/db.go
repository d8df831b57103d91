package main

import (
	"fmt"

	"github.com/rgould/conductor/internal/config"
	"github.com/rgould/conductor/internal/db"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// connectFromConfig loads the config and opens the configured store.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	gdb, err := openDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gdb, nil
}

func openDB(cfg *config.Config) (*gorm.DB, error) {
	source := cfg.Database.Path
	if cfg.Database.Driver == "mysql" {
		source = cfg.Database.DSN
	}
	return db.Open(cfg.Database.Driver, source)
}

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the conductor database",
		Long:  "Opens the configured store and migrates all tables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "conductor.yaml", "path to config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gdb, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables (%s)\n", len(db.AllModels()), cfg.Database.Driver)
	fmt.Fprintln(out, "Conductor database initialized successfully.")
	return nil
}
