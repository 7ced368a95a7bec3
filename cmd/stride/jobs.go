package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/stride/id"
	"github.com/xraph/stride/job"
	"github.com/xraph/stride/state"
)

func jobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect jobs",
	}

	cmd.AddCommand(jobsListCommand(), jobsInspectCommand(), jobsCountCommand())

	return cmd
}

func jobsListCommand() *cobra.Command {
	var (
		flagState string
		flagQueue string
		flagLimit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs by state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			jobs, err := s.ListJobsByState(ctx, job.State(flagState), job.ListOpts{
				Limit: flagLimit,
				Queue: flagQueue,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFLOW\tQUEUE\tSTATE\tRETRIES\tRUN AT")

			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
					j.ID, j.Name, j.Queue, j.State,
					j.RetryCount, j.MaxRetries,
					j.RunAt.Format(time.RFC3339))
			}

			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&flagState, "state", string(job.StateFailed), "job state to list")
	cmd.Flags().StringVar(&flagQueue, "queue", "", "restrict to one queue")
	cmd.Flags().IntVar(&flagLimit, "limit", 50, "maximum rows")

	return cmd
}

func jobsInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <job-id>",
		Short: "Show a job and its execution state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return err
			}

			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			j, err := s.GetJob(ctx, jobID)
			if err != nil {
				return err
			}

			fmt.Printf("Job      %s\n", j.ID)
			fmt.Printf("Flow     %s\n", j.Name)
			fmt.Printf("Queue    %s\n", j.Queue)
			fmt.Printf("State    %s\n", j.State)
			fmt.Printf("Retries  %d/%d\n", j.RetryCount, j.MaxRetries)
			if j.LastError != "" {
				fmt.Printf("Error    %s\n", j.LastError)
			}
			fmt.Printf("Run at   %s\n", j.RunAt.Format(time.RFC3339))

			js, err := state.Load(j.Payload, state.JSON{}, nil)
			if err != nil {
				return fmt.Errorf("decode execution state: %w", err)
			}

			if len(js.Steps) > 0 {
				fmt.Println("\nSteps:")

				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "  SLUG\tSTATUS\tATTEMPTS\tERROR")

				for _, st := range js.Steps {
					errMsg := ""
					if st.Error != nil {
						errMsg = st.Error.Message
					}

					fmt.Fprintf(w, "  %s\t%s\t%d\t%s\n", st.Slug, st.Status, st.Attempts, errMsg)
				}

				if err := w.Flush(); err != nil {
					return err
				}
			}

			if len(js.JobAttempts) > 0 {
				fmt.Println("\nInvocations:")

				for _, a := range js.JobAttempts {
					fmt.Printf("  %s  %s  %s\n",
						a.StartedAt.Format(time.RFC3339), a.Status,
						a.Duration.Round(time.Millisecond))
				}
			}

			if len(js.Logs) > 0 {
				fmt.Println("\nLogs:")

				for _, entry := range js.Logs {
					fmt.Printf("  %s  %-5s  %s\n",
						entry.Time.Format(time.RFC3339), entry.Level, entry.Message)
				}
			}

			return nil
		},
	}
}

func jobsCountCommand() *cobra.Command {
	var (
		flagState string
		flagQueue string
	)

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			count, err := s.CountJobs(ctx, job.CountOpts{
				Queue: flagQueue,
				State: job.State(flagState),
			})
			if err != nil {
				return err
			}

			fmt.Println(count)

			return nil
		},
	}

	cmd.Flags().StringVar(&flagState, "state", "", "restrict to one state")
	cmd.Flags().StringVar(&flagQueue, "queue", "", "restrict to one queue")

	return cmd
}
