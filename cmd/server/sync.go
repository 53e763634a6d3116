package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mirror-sync-service/internal/sync"
)

func newSyncCommand(rootOpts *rootOptions) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := sync.ModeIncremental
			if full {
				mode = sync.ModeFull
			}
			return runSync(rootOpts, mode)
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "ignore watermarks and fetch every record")
	return cmd
}

func runSync(rootOpts *rootOptions, mode sync.Mode) error {
	a, err := bootstrap(rootOpts)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := a.manager.RunCycle(ctx, mode)
	if report != nil {
		if encErr := printJSON(report); encErr != nil {
			return encErr
		}
	}
	return err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
