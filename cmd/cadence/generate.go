package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/gosuda/cadence/internal/recurrence"
	"github.com/gosuda/cadence/internal/scheduler"
)

func generateCmd() *cobra.Command {
	var userFlag string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run one recurrence generation batch and exit",
		Long: `Materialize instances of every recurring template due within the
configured horizon, then exit. With --user only that user's templates
are processed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			var report *recurrence.BatchReport
			if userFlag != "" {
				userID, parseErr := uuid.Parse(userFlag)
				if parseErr != nil {
					return fmt.Errorf("invalid --user %q: %w", userFlag, parseErr)
				}
				report, err = a.gen.GenerateForUser(ctx, userID)
			} else {
				sched := scheduler.New(a.gen, cfg.Scheduler.Interval, nil)
				report, err = sched.RunOnce(ctx, scheduler.TriggerCommand)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "templates=%d created=%d skipped=%d failed=%d\n",
				len(report.Outcomes), report.Created, report.Skipped, report.Failed)
			if report.Failed > 0 {
				return fmt.Errorf("%d template(s) failed", report.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userFlag, "user", "", "only generate for this user ID")

	return cmd
}
