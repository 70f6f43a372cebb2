package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/MichalMed/termit/config"
	"github.com/MichalMed/termit/pkg/db"
	"github.com/MichalMed/termit/pkg/logging"
)

// Database command flags
var (
	dbDryRun bool
	dbTarget string
	dbYes    bool
)

// connectForMigrations is replaced in tests.
var connectForMigrations = func(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	logger := logging.NewLogger(cfg.Logging.Logger())
	return connectToDatabase(ctx, cfg.Database, logger)
}

// migrator is the part of db.Migrator the db commands use.
type migrator interface {
	Pending(ctx context.Context) ([]db.Migration, error)
	UpTo(ctx context.Context, target string) (*db.MigrationResult, error)
	Status(ctx context.Context) (*db.MigrationStatus, error)
}

// newMigrator is replaced in tests.
var newMigrator = func(pool *pgxpool.Pool) migrator {
	return db.NewMigrator(pool)
}

// NewDbCommand creates the root db command with all subcommands.
func NewDbCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
		Long: `Database management commands for termit.

Manage the PostgreSQL schema of the occurrence, resource, assignment and
analysis record stores.

The schema ships with the binary. Migrations are applied in order and
tracked in the schema_migrations table.

Examples:
  # Show migration status
  termit db status

  # Apply all pending migrations
  termit db migrate

  # Preview migrations without applying
  termit db migrate --dry-run

  # Apply migrations up to a specific version
  termit db migrate --target 002`,
		Aliases: []string{"database", "migrations"},
	}

	cmd.AddCommand(newDbMigrateCommand(deps))
	cmd.AddCommand(newDbStatusCommand(deps))

	return cmd
}

func newDbMigrateCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply pending database migrations.

Shows pending migrations before applying them. Each migration runs in a
transaction and is recorded in the schema_migrations table. If a migration
fails its transaction is rolled back and no further migrations are attempted.

Flags:
  --dry-run      Show what would be applied without executing migrations
  --target       Apply migrations up to and including this version (e.g., 002)
  --yes          Apply without asking for confirmation`,
		Example: `  termit db migrate
  termit db migrate --dry-run
  termit db migrate --target 002 --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbMigrate(cmd.Context(), deps)
		},
	}

	cmd.Flags().BoolVar(&dbDryRun, "dry-run", false, "Show what would be applied without executing")
	cmd.Flags().StringVarP(&dbTarget, "target", "t", "", "Target version to migrate to (e.g., 002)")
	cmd.Flags().BoolVarP(&dbYes, "yes", "y", false, "Apply without asking for confirmation")

	return cmd
}

func newDbStatusCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show database migration status",
		Long: `Show the current state of database migrations.

Displays three categories of migrations:
  - Applied: migrations applied to the database
  - Pending: migrations shipped with termit but not applied yet
  - Drift: migrations applied to the database that this termit does not know`,
		Example: `  termit db status
  termit db status --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbStatus(cmd.Context(), deps)
		},
	}
}

func withMigrator(ctx context.Context, deps *CommandDeps, fn func(cfg *config.Config, m migrator) error) error {
	cfg, err := deps.config()
	if err != nil {
		return err
	}
	pool, err := connectForMigrations(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close(pool)
	return fn(cfg, newMigrator(pool))
}

func runDbMigrate(ctx context.Context, deps *CommandDeps) error {
	out := deps.Out
	return withMigrator(ctx, deps, func(_ *config.Config, m migrator) error {
		pending, err := m.Pending(ctx)
		if err != nil {
			return fmt.Errorf("getting pending migrations: %w", err)
		}
		if len(pending) == 0 {
			fmt.Fprintln(out, "No pending migrations.")
			return nil
		}

		fmt.Fprintf(out, "Pending migrations (%d):\n", len(pending))
		for _, mig := range pending {
			fmt.Fprintf(out, "  %s - %s\n", mig.Version, mig.Name)
		}
		fmt.Fprintln(out)

		if dbDryRun {
			fmt.Fprintln(out, "Dry run mode: no migrations applied.")
			return nil
		}

		if !dbYes && !confirm(deps.In, out, "Apply these migrations? (y/N): ") {
			fmt.Fprintln(out, "Migration cancelled.")
			return nil
		}

		if dbTarget != "" {
			fmt.Fprintf(out, "Applying migrations up to version %s...\n", dbTarget)
		} else {
			fmt.Fprintln(out, "Applying all pending migrations...")
		}
		result, err := m.UpTo(ctx, dbTarget)
		if err != nil {
			fmt.Fprintf(out, "\n\033[31mMigration failed:\033[0m %v\n", err)
			if result != nil && len(result.Applied) > 0 {
				fmt.Fprintf(out, "\nSuccessfully applied before failure:\n")
				for _, v := range result.Applied {
					fmt.Fprintf(out, "  \033[32m✓\033[0m %s\n", v)
				}
			}
			return err
		}

		fmt.Fprintln(out)
		if len(result.Applied) > 0 {
			fmt.Fprintf(out, "\033[32mSuccessfully applied %d migration(s):\033[0m\n", len(result.Applied))
			for _, v := range result.Applied {
				fmt.Fprintf(out, "  \033[32m✓\033[0m %s\n", v)
			}
		}
		if len(result.Skipped) > 0 {
			fmt.Fprintf(out, "\nSkipped %d migration(s) (already applied):\n", len(result.Skipped))
			for _, v := range result.Skipped {
				fmt.Fprintf(out, "  - %s\n", v)
			}
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "\033[32mMigrations completed successfully.\033[0m")
		return nil
	})
}

func runDbStatus(ctx context.Context, deps *CommandDeps) error {
	return withMigrator(ctx, deps, func(cfg *config.Config, m migrator) error {
		status, err := m.Status(ctx)
		if err != nil {
			return fmt.Errorf("getting migration status: %w", err)
		}

		return writeOutput(deps.Out, cfg.OutputFormat, status, func(w io.Writer) error {
			return printMigrationStatus(w, status)
		})
	})
}

// confirm reads a yes/no answer. Anything but "y" is no.
func confirm(in *os.File, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	if in == nil {
		return false
	}
	line, _ := bufio.NewReader(in).ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(line), "y")
}

func printMigrationStatus(w io.Writer, status *db.MigrationStatus) error {
	printEntries := func(header string, entries []db.MigrationStatusEntry, withApplied bool) {
		if len(entries) == 0 {
			return
		}
		fmt.Fprintln(w, header)
		if withApplied {
			fmt.Fprintln(w, "  VERSION                    NAME                              APPLIED")
			fmt.Fprintln(w, "  -------                    ----                              -------")
		} else {
			fmt.Fprintln(w, "  VERSION                    NAME")
			fmt.Fprintln(w, "  -------                    ----")
		}
		for _, m := range entries {
			if !withApplied {
				fmt.Fprintf(w, "  %-26s %s\n", truncate(m.Version, 26), m.Name)
				continue
			}
			appliedAt := "-"
			if m.AppliedAt != nil {
				appliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "  %-26s %-33s %s\n", truncate(m.Version, 26), truncate(m.Name, 33), appliedAt)
		}
		fmt.Fprintln(w)
	}

	printEntries(fmt.Sprintf("\033[32mApplied Migrations (%d):\033[0m", len(status.Applied)), status.Applied, true)
	printEntries(fmt.Sprintf("\033[33mPending Migrations (%d):\033[0m", len(status.Pending)), status.Pending, false)
	printEntries(fmt.Sprintf("\033[31mDrift (%d) - applied but unknown to this termit:\033[0m", len(status.Drift)), status.Drift, true)

	if len(status.Applied) == 0 && len(status.Pending) == 0 && len(status.Drift) == 0 {
		fmt.Fprintln(w, "No migrations found.")
		return nil
	}

	fmt.Fprintf(w, "Summary: %d applied, %d pending", len(status.Applied), len(status.Pending))
	if len(status.Drift) > 0 {
		fmt.Fprintf(w, ", \033[31m%d drift\033[0m", len(status.Drift))
	}
	fmt.Fprintln(w)
	return nil
}
