package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"forkful/internal/ipc"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit content for recipe extraction",
	}

	submitCmd.AddCommand(newSubmitSourceCommand(ctx, "link", "Extract a recipe from a web page"))
	submitCmd.AddCommand(newSubmitPasteCommand(ctx))
	submitCmd.AddCommand(newSubmitSourceCommand(ctx, "video", "Extract a recipe from a video URL"))
	submitCmd.AddCommand(newSubmitSourceCommand(ctx, "photo", "Extract a recipe from a hosted photo"))
	submitCmd.AddCommand(newSubmitSourceCommand(ctx, "voice", "Extract a recipe from a voice recording URL"))

	return submitCmd
}

func newSubmitSourceCommand(ctx *commandContext, sourceType, short string) *cobra.Command {
	var title string
	var watch bool

	cmd := &cobra.Command{
		Use:   sourceType + " <url>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := strings.TrimSpace(args[0])
			if url == "" {
				return fmt.Errorf("%s url is required", sourceType)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Submit(ipc.SubmitRequest{
					SourceType: sourceType,
					URL:        url,
					Title:      strings.TrimSpace(title),
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s submitted\n", resp.JobID)
				if watch {
					return watchJob(cmd, client, resp.JobID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Optional display title for the job")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow progress until the job finishes")
	return cmd
}

func newSubmitPasteCommand(ctx *commandContext) *cobra.Command {
	var title string
	var watch bool

	cmd := &cobra.Command{
		Use:   "paste <text>",
		Short: "Extract a recipe from pasted text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args, " "))
			if text == "" {
				return fmt.Errorf("paste text is required")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Submit(ipc.SubmitRequest{
					SourceType: "paste",
					Text:       text,
					Title:      strings.TrimSpace(title),
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s submitted\n", resp.JobID)
				if watch {
					return watchJob(cmd, client, resp.JobID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Optional display title for the job")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow progress until the job finishes")
	return cmd
}
