package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"forkful/internal/ipc"
)

func newRecipeCommand(ctx *commandContext) *cobra.Command {
	recipeCmd := &cobra.Command{
		Use:   "recipe",
		Short: "Act on extracted recipes",
	}

	recipeCmd.AddCommand(newRecipeSaveCommand(ctx))
	recipeCmd.AddCommand(newRecipeDiscardCommand(ctx))
	recipeCmd.AddCommand(newRecipeFavoriteCommand(ctx, true))
	recipeCmd.AddCommand(newRecipeFavoriteCommand(ctx, false))
	recipeCmd.AddCommand(newRecipeCookedCommand(ctx))

	return recipeCmd
}

func newRecipeSaveCommand(ctx *commandContext) *cobra.Command {
	var public bool

	cmd := &cobra.Command{
		Use:   "save <job-id>",
		Short: "Publish the recipe a finished job produced",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RecipeSave(args[0], public)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recipe %s saved to %s\n", resp.RecipeID, resp.CollectionSlug)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&public, "public", false, "Make the recipe publicly visible")
	return cmd
}

func newRecipeDiscardCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "discard <job-id>",
		Short: "Discard the draft a finished job produced",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.RecipeDiscard(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Draft for job %s discarded\n", args[0])
				return nil
			})
		},
	}
}

func newRecipeFavoriteCommand(ctx *commandContext, favorite bool) *cobra.Command {
	use := "favorite <recipe-id>"
	short := "Mark a recipe as a favorite"
	done := "Recipe %s favorited\n"
	if !favorite {
		use = "unfavorite <recipe-id>"
		short = "Remove a recipe from favorites"
		done = "Recipe %s unfavorited\n"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.RecipeFavorite(args[0], favorite); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), done, args[0])
				return nil
			})
		},
	}
}

func newRecipeCookedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cooked <recipe-id>",
		Short: "Record that you cooked a recipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.RecipeCooked(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cooked %s\n", args[0])
				return nil
			})
		},
	}
}
