package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/vbonduro/mealchat/internal/config"
	"github.com/vbonduro/mealchat/internal/db"
	"github.com/vbonduro/mealchat/internal/logging"
	"github.com/vbonduro/mealchat/internal/session"
	"github.com/vbonduro/mealchat/internal/store"
	"github.com/vbonduro/mealchat/internal/terminal"
)

var (
	chatMode      string
	chatNoCatalog bool
	chatVerbose   bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat in the terminal",
	Long: `Start an interactive session in the terminal. Type a dish name to get a
recipe, or use /dish and /ingredients to send photos.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMode, "mode", "m", "", "recipe or chat (defaults to CHAT_MODE)")
	chatCmd.Flags().BoolVar(&chatNoCatalog, "no-catalog", false, "always ask the backend instead of the local catalog")
	chatCmd.Flags().BoolVarP(&chatVerbose, "verbose", "v", false, "write logs to stderr")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}

	// The transcript owns stdout; logs go to stderr only when asked for.
	console := io.Discard
	if chatVerbose {
		console = cmd.ErrOrStderr()
	}
	logger, cleanup, err := logging.NewWithWriter(console, cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer cleanup()

	if chatMode == "" {
		chatMode = cfg.ChatMode
	}
	mode, err := session.ParseMode(chatMode)
	if err != nil {
		return err
	}

	renderer := terminal.NewRenderer(cmd.OutOrStdout())
	opts := []session.Option{
		session.WithMode(mode),
		session.WithPacing(cfg.PacingDelay),
		session.WithPresenter(renderer),
	}

	if !chatNoCatalog {
		database, err := db.Open(cfg.DBPath)
		if err != nil {
			logger.Warn("recipe catalog unavailable", "path", cfg.DBPath, "error", err)
		} else {
			defer closeDB(database, logger)
			opts = append(opts, session.WithCatalog(store.NewRecipeStore(database)))
		}
	}

	controller := session.New(newBackend(cfg, logger), logger, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	return terminal.NewREPL(controller, renderer, cmd.InOrStdin(), cmd.OutOrStdout()).Run(ctx)
}
