package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vbonduro/mealchat/internal/config"
	"github.com/vbonduro/mealchat/internal/db"
	"github.com/vbonduro/mealchat/internal/domain"
	"github.com/vbonduro/mealchat/internal/store"
)

var recipesCmd = &cobra.Command{
	Use:   "recipes [query]",
	Short: "List or search the local recipe catalog",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalog(func(recipes *store.RecipeStore) error {
			var (
				found []*domain.CatalogRecipe
				err   error
			)
			if query := strings.Join(args, " "); strings.TrimSpace(query) != "" {
				found, err = recipes.Search(cmd.Context(), query)
			} else {
				found, err = recipes.List(cmd.Context())
			}
			if err != nil {
				return err
			}
			return printCatalog(cmd.OutOrStdout(), found)
		})
	},
}

var recipesRmCmd = &cobra.Command{
	Use:   "rm <dish>",
	Short: "Forget a cataloged recipe so the next ask regenerates it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dish := strings.Join(args, " ")
		return withCatalog(func(recipes *store.RecipeStore) error {
			if err := recipes.Delete(cmd.Context(), dish); err != nil {
				return fmt.Errorf("failed to remove %q: %w", dish, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", store.DishKey(dish))
			return nil
		})
	},
}

func init() {
	recipesCmd.AddCommand(recipesRmCmd)
	rootCmd.AddCommand(recipesCmd)
}

func withCatalog(fn func(*store.RecipeStore) error) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer closeDB(database, slog.Default())
	return fn(store.NewRecipeStore(database))
}

func printCatalog(w io.Writer, recipes []*domain.CatalogRecipe) error {
	if len(recipes) == 0 {
		_, err := fmt.Fprintln(w, "no recipes")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DISH\tTITLE\tUPDATED")
	for _, r := range recipes {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.DishKey, r.Title, r.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}
