package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
)

// CLI runs migrate subcommands against a Migrator and reports to output.
type CLI struct {
	migrator Migrator
	output   io.Writer
}

// NewCLI creates a new CLI instance
func NewCLI(migrator Migrator) *CLI {
	return &CLI{
		migrator: migrator,
		output:   os.Stdout,
	}
}

// SetOutput sets the output writer for CLI messages
func (c *CLI) SetOutput(w io.Writer) {
	c.output = w
}

// Usage 是 migrate 子命令的帮助文本
const Usage = `Database migration commands

Usage:
  callflow migrate <subcommand> [options]

Subcommands:
  up             Apply all pending migrations
  down           Roll back the last migration
  steps <n>      Apply (n > 0) or roll back (n < 0) n migrations
  goto <v>       Migrate to version v
  force <v>      Set the version without running migrations
  reset          Roll back all migrations
  version        Show the current version
  status         Show every migration and whether it is applied
  info           Show a migration summary

Options:
  --config <path>   Configuration file (YAML)
  --db-type <type>  postgres or mysql (default: database.driver)
  --db-url <url>    Connection URL (default: built from database.*)

SQLite deployments create their tables with database.auto_migrate.
`

// Run dispatches a migrate subcommand. steps, goto and force take one
// integer argument.
func (c *CLI) Run(ctx context.Context, sub string, args []string) error {
	switch sub {
	case "up":
		return c.change(ctx, "Running migrations...", "migration failed", c.migrator.Up)
	case "down":
		return c.change(ctx, "Rolling back last migration...", "rollback failed", c.migrator.Down)
	case "reset":
		if err := c.migrator.DownAll(ctx); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		fmt.Fprintln(c.output, "All migrations rolled back.")
		return nil
	case "version":
		return c.version(ctx)
	case "status":
		return c.status(ctx)
	case "info":
		return c.info(ctx)
	case "steps", "goto", "force":
	default:
		return fmt.Errorf("unknown migrate subcommand %q", sub)
	}

	if len(args) < 1 {
		return fmt.Errorf("%s requires a numeric argument", sub)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid %s argument %q: %w", sub, args[0], err)
	}

	switch sub {
	case "steps":
		return c.change(ctx, fmt.Sprintf("Moving %+d migration(s)...", n), "migration steps failed",
			func(ctx context.Context) error { return c.migrator.Steps(ctx, n) })
	case "goto":
		if n < 0 {
			return fmt.Errorf("goto version must not be negative")
		}
		return c.change(ctx, fmt.Sprintf("Migrating to version %d...", n), "migration failed",
			func(ctx context.Context) error { return c.migrator.Goto(ctx, uint(n)) })
	default:
		if err := c.migrator.Force(ctx, n); err != nil {
			return fmt.Errorf("force failed: %w", err)
		}
		fmt.Fprintf(c.output, "Version forced to %d\n", n)
		return nil
	}
}

// change runs one schema change and reports the resulting version.
func (c *CLI) change(ctx context.Context, banner, failure string, apply func(context.Context) error) error {
	fmt.Fprintln(c.output, banner)
	if err := apply(ctx); err != nil {
		return fmt.Errorf("%s: %w", failure, err)
	}
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "Done. Current version: %d\n", info.CurrentVersion)
	return nil
}

func (c *CLI) version(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to get version: %w", err)
	}
	switch {
	case version == 0:
		fmt.Fprintln(c.output, "No migrations applied yet.")
	case dirty:
		fmt.Fprintf(c.output, "Current version: %d (dirty)\n", version)
	default:
		fmt.Fprintf(c.output, "Current version: %d\n", version)
	}
	return nil
}

func (c *CLI) status(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.output, "No migrations found.")
		return nil
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	for _, s := range statuses {
		state := "Pending"
		switch {
		case s.Dirty:
			state = "Dirty"
		case s.Applied:
			state = "Applied"
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "\nTotal: %d, Applied: %d, Pending: %d\n",
		info.TotalMigrations, info.AppliedMigrations, info.PendingMigrations)
	return nil
}

func (c *CLI) info(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get info: %w", err)
	}
	w := tabwriter.NewWriter(c.output, 0, 0, 1, ' ', 0)
	fmt.Fprintln(w, "Migration Information:")
	fmt.Fprintf(w, "  Current Version:\t%d\n", info.CurrentVersion)
	fmt.Fprintf(w, "  Dirty:\t%v\n", info.Dirty)
	fmt.Fprintf(w, "  Total Migrations:\t%d\n", info.TotalMigrations)
	fmt.Fprintf(w, "  Applied Migrations:\t%d\n", info.AppliedMigrations)
	fmt.Fprintf(w, "  Pending Migrations:\t%d\n", info.PendingMigrations)
	return w.Flush()
}
