package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newReplayCommand(rootOpts *rootOptions) *cobra.Command {
	var entity string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-merge stored failed records for one entity type",
		Long: `Re-merge records that failed in earlier runs.

Recovered records are removed from the failed set. The sync log and its
watermark are not touched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.manager.ReplayFailed(context.Background(), entity)
			if report != nil {
				if encErr := printJSON(report); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&entity, "entity", "", "entity type to replay (required)")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}
