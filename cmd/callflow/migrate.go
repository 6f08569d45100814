package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/BaSui01/callflow/config"
	"github.com/BaSui01/callflow/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		fmt.Print(migration.Usage)
		os.Exit(1)
	}

	sub := args[0]
	if sub == "help" || sub == "-h" || sub == "--help" {
		fmt.Print(migration.Usage)
		return
	}

	// goto / force / steps take a positional argument before the flags
	var positional []string
	rest := args[1:]
	switch sub {
	case "goto", "force", "steps":
		if len(rest) < 1 {
			fmt.Fprintf(os.Stderr, "Usage: callflow migrate %s <n> [options]\n", sub)
			os.Exit(1)
		}
		positional, rest = rest[:1], rest[1:]
	}

	fs := flag.NewFlagSet("migrate "+sub, flag.ExitOnError)
	migrator, err := createMigrator(fs, rest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	if err := cli.Run(context.Background(), sub, positional); err != nil {
		fmt.Fprintf(os.Stderr, "Migration %s failed: %v\n", sub, err)
		os.Exit(1)
	}
}

// createMigrator creates a migrator from command line flags
func createMigrator(fs *flag.FlagSet, args []string) (*migration.DefaultMigrator, error) {
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql)")
	dbURL := fs.String("db-url", "", "Database connection URL")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// If db-type and db-url are provided, use them directly
	if *dbType != "" && *dbURL != "" {
		return migration.NewMigratorFromURL(*dbType, *dbURL)
	}

	loader := config.NewLoader().WithEnvPrefix("CALLFLOW")
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if *dbType != "" {
		cfg.Database.Driver = *dbType
	}

	return migration.NewMigratorFromDatabaseConfig(cfg.Database)
}
