package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type logsOptions struct {
	Entity    string
	Limit     int
	Offset    int
	PurgeDays int
}

func newLogsCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &logsOptions{}

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show sync log rows, newest first",
		Example: `  mirror-sync logs --entity study
  mirror-sync logs --limit 100 --offset 100
  mirror-sync logs --purge-days 90`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Entity, "entity", "", "only rows for this entity type")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum rows to print")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "rows to skip")
	cmd.Flags().IntVar(&opts.PurgeDays, "purge-days", 0, "delete rows from runs older than this many days instead of listing")
	return cmd
}

func runLogs(rootOpts *rootOptions, opts *logsOptions, cmd *cobra.Command) error {
	if opts.Limit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}

	a, err := bootstrap(rootOpts)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	logs := a.manager.SyncLogs()

	if opts.PurgeDays > 0 {
		n, err := logs.Purge(ctx, time.Duration(opts.PurgeDays)*24*time.Hour)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged %d sync log rows\n", n)
		return nil
	}

	rows, err := logs.List(ctx, opts.Entity, opts.Limit, opts.Offset)
	if err != nil {
		return err
	}
	return printJSON(rows)
}
