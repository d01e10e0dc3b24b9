// Command wmsctl runs operator tasks against a WMS deployment: triggering
// scheduled jobs, inspecting queues, applying the schema and hashing passwords for seeded users.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-wms/cmd/wmsctl/cli"
	"github.com/odyssey-erp/odyssey-wms/internal/app"
	"github.com/odyssey-erp/odyssey-wms/internal/auth"
	"github.com/odyssey-erp/odyssey-wms/internal/platform/db"
	"github.com/odyssey-erp/odyssey-wms/migrations"
)

const usage = `usage:
  wmsctl migrate
  wmsctl hash-password <password>
  wmsctl jobs trigger <inventory:batch_expiry_scan|maintenance:idempotency_cleanup>
  wmsctl jobs stats
  wmsctl jobs archived [-n 10]
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		slog.Default().Error("wmsctl", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return nil
	}
	switch args[0] {
	case "hash-password":
		if len(args) != 2 {
			return fmt.Errorf("hash-password takes exactly one argument")
		}
		hash, err := auth.HashPassword(args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, hash)
		return nil
	case "jobs":
		return runJobs(ctx, args[1:], out)
	case "migrate":
		return runMigrate(ctx, out)
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runMigrate(ctx context.Context, out io.Writer) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg)
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()
	applied, err := db.Migrate(ctx, pool, migrations.Files, logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "applied %d migration(s)\n", len(applied))
	return nil
}

func runJobs(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return fmt.Errorf("jobs: missing subcommand")
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	c := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer c.Close()

	switch args[0] {
	case "trigger":
		if len(args) != 2 {
			return fmt.Errorf("jobs trigger takes a job name")
		}
		info, err := c.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := c.InspectQueues(ctx)
		if err != nil {
			return err
		}
		for _, s := range stats {
			fmt.Fprintf(out, "%-10s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
		}
	case "archived":
		fs := flag.NewFlagSet("archived", flag.ContinueOnError)
		n := fs.Int("n", 10, "page size")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		tasks, err := c.ListArchivedDeliveries(ctx, *n)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			fmt.Fprintf(out, "%s %s last_err=%q\n", t.ID, t.Type, t.LastErr)
		}
	default:
		return fmt.Errorf("jobs: unknown subcommand %q", args[0])
	}
	return nil
}
