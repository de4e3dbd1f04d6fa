package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskledger/taskledger/internal/adapter/postgres"
	"github.com/taskledger/taskledger/internal/config"
	"github.com/taskledger/taskledger/internal/domain/workflow"
)

// runAdmin dispatches admin subcommands (migrate, rollback, status, verify-log).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runAdminMigrate(args[1:])
	case "rollback":
		return runAdminRollback(args[1:])
	case "status":
		return runAdminStatus(args[1:])
	case "verify-log":
		return runAdminVerifyLog(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: taskledger admin <command> [options]

Commands:
  migrate      Apply pending database migrations
  rollback     Roll back migrations (--steps N, default 1)
  status       Show the current migration version
  verify-log   Replay every workflow stream and report replay failures
  help         Show this help message

Examples:
  taskledger admin migrate
  taskledger admin rollback --steps 2
  taskledger admin verify-log
`)
}

func loadAdminDeps() (*config.Config, *pgxpool.Pool, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	pool, err := postgres.NewPool(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return cfg, pool, pool.Close, nil
}

func runAdminMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := postgres.RunMigrations(context.Background(), cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintln(os.Stderr, "migrations applied")
	return nil
}

func runAdminRollback(args []string) error {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	steps := fs.Int("steps", 1, "number of migrations to roll back")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := postgres.RollbackMigrations(context.Background(), cfg.Postgres.DSN, *steps); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	fmt.Fprintf(os.Stderr, "rolled back %d migration(s)\n", *steps)
	return nil
}

func runAdminStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	version, err := postgres.MigrationVersion(context.Background(), cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	fmt.Printf("migration version: %d\n", version)
	return nil
}

// runAdminVerifyLog replays every workflow stream from scratch. Any
// stream that cannot be replayed end to end is reported; a clean run
// means the log is internally consistent.
func runAdminVerifyLog(args []string) error {
	fs := flag.NewFlagSet("verify-log", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	_, pool, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	events := postgres.NewEventStore(pool)

	ids, err := events.ListWorkflowIDs(ctx)
	if err != nil {
		return fmt.Errorf("list workflows: %w", err)
	}
	if len(ids) == 0 {
		fmt.Println("no workflow streams found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "WORKFLOW\tEVENTS\tVERSION\tSTATUS\tRESULT")
	corrupt := 0
	for _, id := range ids {
		stream, err := events.LoadByWorkflow(ctx, id)
		if err != nil {
			return fmt.Errorf("load %s: %w", id, err)
		}
		st, err := workflow.Rebuild(stream)
		if err != nil {
			corrupt++
			_, _ = fmt.Fprintf(w, "%s\t%d\t-\t-\tREPLAY FAILED: %v\n", id, len(stream), err)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%s\tok\n",
			id, len(stream), st.Workflow.Version, st.Workflow.Status)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if corrupt > 0 {
		return fmt.Errorf("%d stream(s) failed replay", corrupt)
	}
	return nil
}
