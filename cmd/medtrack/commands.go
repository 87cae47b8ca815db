package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/medtrack/medtrack-analytics/cmd/medtrack/cli"
	"github.com/medtrack/medtrack-analytics/internal/app"
	"github.com/medtrack/medtrack-analytics/internal/platform/db"
)

// withOps builds the runtime, runs fn and maps its exit code.
func withOps(cmd *cobra.Command, fn func(ctx context.Context, ops *cli.OpsCLI) int) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	container, err := app.Build(cmd.Context(), cfg, app.NewCLILogger(cfg))
	if err != nil {
		return err
	}
	defer container.Close()

	jsonOutput, _ := cmd.Flags().GetBool("json")
	ops := cli.NewOpsCLI(container.Reporting, container.Runner, jsonOutput)
	if code := fn(cmd.Context(), ops); code != cli.ExitOK {
		return exitError{code: code}
	}
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closeFn, err := openMigrator(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			n, err := migrator.Up(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migrations\n", n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closeFn, err := openMigrator(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			statuses, err := migrator.Status(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(statuses)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
			for _, s := range statuses {
				applied := "pending"
				if s.AppliedAt != nil {
					applied = s.AppliedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(tw, "%03d\t%s\t%s\n", s.Version, s.Name, applied)
			}
			return tw.Flush()
		},
	})
	return cmd
}

func openMigrator(ctx context.Context) (*db.Migrator, func(), error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.StoreDriver != "postgres" {
		return nil, nil, errors.New("migrate: STORE_DRIVER must be postgres")
	}
	pool, err := db.New(ctx, cfg.Postgres("migrate"))
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, db.Migrations()), pool.Close, nil
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <kind> <file.csv>",
		Short: "Load one CSV batch of suppliers, drugs, patients, prescriptions or sales",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOps(cmd, func(ctx context.Context, ops *cli.OpsCLI) int {
				return ops.IngestFile(ctx, args[0], args[1])
			})
		},
	}
}

func pipelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run and inspect pipeline runs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Load every source file and run the quality checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOps(cmd, func(ctx context.Context, ops *cli.OpsCLI) int {
				return ops.RunPipeline(ctx)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the runner state and the last run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOps(cmd, func(ctx context.Context, ops *cli.OpsCLI) int {
				return ops.Status(ctx)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "recover",
		Short: "Mark runs left Running by a crashed process as failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOps(cmd, func(ctx context.Context, ops *cli.OpsCLI) int {
				return ops.Recover(ctx)
			})
		},
	})
	return cmd
}

func qualityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quality",
		Short: "Run and acknowledge data quality checks",
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Append fresh quality results",
		RunE: func(cmd *cobra.Command, args []string) error {
			table, _ := cmd.Flags().GetString("table")
			return withOps(cmd, func(ctx context.Context, ops *cli.OpsCLI) int {
				return ops.RunQuality(ctx, table)
			})
		},
	}
	run.Flags().String("table", "", "restrict checks to one table")
	cmd.AddCommand(run)

	ack := &cobra.Command{
		Use:   "ack <id>",
		Short: "Mark a quality log entry resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, _ := cmd.Flags().GetString("actor")
			return withOps(cmd, func(ctx context.Context, ops *cli.OpsCLI) int {
				return ops.Acknowledge(ctx, args[0], actor)
			})
		},
	}
	ack.Flags().String("actor", os.Getenv("USER"), "who resolved the entry")
	cmd.AddCommand(ack)
	return cmd
}

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect background jobs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "trigger <task>",
		Short: "Enqueue pipeline:run, quality:check or reporting:warmup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jc, err := openJobs()
			if err != nil {
				return err
			}
			defer jc.Close()
			info, err := jc.Trigger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show default queue statistics and upcoming scheduled tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			jc, err := openJobs()
			if err != nil {
				return err
			}
			defer jc.Close()
			stats, err := jc.InspectQueue()
			if err != nil {
				return err
			}
			if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(stats)
			}
			cli.PrintStats(cmd.OutOrStdout(), stats)
			scheduled, err := jc.ListScheduled(10)
			if err != nil {
				return err
			}
			for _, task := range scheduled {
				fmt.Fprintf(cmd.OutOrStdout(), "scheduled %s at %s\n", task.Type, task.NextProcessAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	})
	return cmd
}

func openJobs() (*cli.JobsCLI, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.RedisAddr == "" {
		return nil, errors.New("jobs: REDIS_ADDR is not set")
	}
	return cli.NewJobsCLI(cfg.Asynq()), nil
}
