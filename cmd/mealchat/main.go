package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "mealchat",
	Short: "Chat about recipes with a recipe-generation backend",
	Long: `mealchat turns dish names, dish photos and ingredient photos into
structured recipes or free-form cooking chat.

  mealchat serve                 run the HTTP session server
  mealchat chat                  chat in the terminal
  mealchat decode recipe.txt     decode a marker-delimited recipe
  mealchat recipes [query]       browse the local recipe catalog

Settings come from the --config YAML file and the environment.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
