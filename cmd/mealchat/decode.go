package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vbonduro/mealchat/internal/recipe"
)

var decodeJSON bool

var decodeCmd = &cobra.Command{
	Use:   "decode [file]",
	Short: "Decode a marker-delimited recipe",
	Long:  `Decode a raw recipe from file, or from stdin when no file or "-" is given, and print its sections.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open recipe: %w", err)
			}
			defer func() { _ = f.Close() }()
			in = f
		}

		raw, err := io.ReadAll(in)
		if err != nil {
			return fmt.Errorf("failed to read recipe: %w", err)
		}
		decoded := recipe.Decode(string(raw))

		out := cmd.OutOrStdout()
		if decodeJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(decoded)
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(decoded); err != nil {
			return fmt.Errorf("failed to write recipe: %w", err)
		}
		return enc.Close()
	},
}

func init() {
	decodeCmd.Flags().BoolVar(&decodeJSON, "json", false, "print JSON instead of YAML")
	rootCmd.AddCommand(decodeCmd)
}
