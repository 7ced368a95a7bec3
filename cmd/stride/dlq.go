package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/stride/dlq"
	"github.com/xraph/stride/id"
)

func dlqCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Manage the dead letter queue",
	}

	cmd.AddCommand(dlqListCommand(), dlqReplayCommand(), dlqPurgeCommand())

	return cmd
}

func dlqListCommand() *cobra.Command {
	var (
		flagQueue string
		flagLimit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			entries, err := s.ListDLQ(ctx, dlq.ListOpts{Queue: flagQueue, Limit: flagLimit})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFLOW\tQUEUE\tFAILED AT\tREPLAYED\tERROR")

			for _, e := range entries {
				replayed := ""
				if e.Replayed() {
					replayed = e.ReplayedAt.Format(time.RFC3339)
				}

				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.ID, e.JobName, e.Queue,
					e.FailedAt.Format(time.RFC3339), replayed, e.Error)
			}

			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&flagQueue, "queue", "", "restrict to one queue")
	cmd.Flags().IntVar(&flagLimit, "limit", 50, "maximum rows")

	return cmd
}

func dlqReplayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <entry-id>",
		Short: "Re-enqueue a dead-lettered job; it resumes from its failed step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			entryID, err := id.ParseDLQID(args[0])
			if err != nil {
				return err
			}

			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			replayed, err := dlq.NewService(s, s).Replay(ctx, entryID)
			if err != nil {
				return err
			}

			fmt.Printf("replayed as job %s on queue %s\n", replayed.ID, replayed.Queue)

			return nil
		},
	}
}

func dlqPurgeCommand() *cobra.Command {
	var flagOlderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete old dead letter entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			purged, err := s.PurgeDLQ(ctx, time.Now().Add(-flagOlderThan))
			if err != nil {
				return err
			}

			fmt.Printf("purged %d entries\n", purged)

			return nil
		},
	}

	cmd.Flags().DurationVar(&flagOlderThan, "older-than", 30*24*time.Hour, "age cutoff")

	return cmd
}
