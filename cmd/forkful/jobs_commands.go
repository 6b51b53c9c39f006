package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"forkful/internal/ipc"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage tracked extraction jobs",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsWatchCommand(ctx))
	jobsCmd.AddCommand(newJobsMinimizeCommand(ctx))
	jobsCmd.AddCommand(newJobsDismissCommand(ctx))
	jobsCmd.AddCommand(newJobsCancelCommand(ctx))
	jobsCmd.AddCommand(newJobsRetryCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every tracked session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobList()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				if len(resp.Jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No tracked jobs")
					return nil
				}
				rows := make([][]string, 0, len(resp.Jobs))
				for _, job := range resp.Jobs {
					rows = append(rows, jobRow(job))
				}
				table := renderTable(
					[]string{"Job", "Status", "Progress", "Step", "Transport", "Minimized"},
					rows,
					2,
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one tracked session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobShow(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Job)
				}
				printJobDetail(cmd, resp.Job)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of text")
	return cmd
}

func newJobsWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow a job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				return watchJob(cmd, client, args[0])
			})
		},
	}
}

func newJobsMinimizeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "minimize <job-id>",
		Short: "Detach a job so it keeps running in the background",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.JobMinimize(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s minimized\n", args[0])
				return nil
			})
		},
	}
}

func newJobsDismissCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss <job-id>",
		Short: "Remove a session and stop tracking it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.JobDismiss(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s dismissed\n", args[0])
				return nil
			})
		},
	}
}

func newJobsCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Ask the server to cancel an extraction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.JobCancel(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancel requested for job %s\n", args[0])
				return nil
			})
		},
	}
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Reconnect a session after a connection loss",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.JobRetry(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s reconnecting\n", args[0])
				return nil
			})
		},
	}
}

func jobRow(job ipc.Job) []string {
	step := job.CurrentStep
	if job.ConnectionLost != "" {
		step = "connection lost"
	}
	return []string{
		job.JobID,
		job.Status,
		fmt.Sprintf("%d%%", job.Progress),
		step,
		job.TransportMode,
		yesNo(job.Minimized),
	}
}

func printJobDetail(cmd *cobra.Command, job ipc.Job) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job:        %s\n", job.JobID)
	fmt.Fprintf(out, "Status:     %s\n", job.Status)
	fmt.Fprintf(out, "Progress:   %d%%\n", job.Progress)
	if job.CurrentStep != "" {
		fmt.Fprintf(out, "Step:       %s\n", job.CurrentStep)
	}
	if job.SourceType != "" {
		fmt.Fprintf(out, "Source:     %s\n", job.SourceType)
	}
	if job.RecipeID != "" {
		fmt.Fprintf(out, "Recipe:     %s\n", job.RecipeID)
		if job.Duplicate {
			fmt.Fprintln(out, "Duplicate:  yes (points at an existing recipe)")
		}
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:      %s\n", job.ErrorMessage)
	}
	fmt.Fprintf(out, "Transport:  %s\n", job.TransportMode)
	fmt.Fprintf(out, "Minimized:  %s\n", yesNo(job.Minimized))
	if job.ConnectionLost != "" {
		fmt.Fprintf(out, "Connection: lost (%s); run `forkful jobs retry %s`\n", job.ConnectionLost, job.JobID)
	}
}

func watchJob(cmd *cobra.Command, client *ipc.Client, jobID string) error {
	out := cmd.OutOrStdout()
	var lastStatus string
	lastProgress := -1

	for {
		resp, err := client.JobShow(jobID)
		if err != nil {
			return err
		}
		job := resp.Job

		if job.Status != lastStatus || job.Progress != lastProgress {
			line := fmt.Sprintf("%s %3d%%", job.Status, job.Progress)
			if job.CurrentStep != "" {
				line += " " + job.CurrentStep
			}
			fmt.Fprintln(out, line)
			lastStatus = job.Status
			lastProgress = job.Progress
		}

		if job.ConnectionLost != "" {
			fmt.Fprintf(out, "Connection lost: %s; run `forkful jobs retry %s`\n", job.ConnectionLost, jobID)
			return nil
		}
		if job.Completed {
			if job.RecipeID != "" {
				fmt.Fprintf(out, "Recipe ready: %s\n", job.RecipeID)
			}
			return nil
		}

		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-time.After(time.Second):
		}
	}
}
