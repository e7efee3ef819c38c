package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vbonduro/mealchat/internal/auth"
	"github.com/vbonduro/mealchat/internal/config"
	"github.com/vbonduro/mealchat/internal/db"
	"github.com/vbonduro/mealchat/internal/imagestore/local"
	"github.com/vbonduro/mealchat/internal/logging"
	"github.com/vbonduro/mealchat/internal/session"
	"github.com/vbonduro/mealchat/internal/store"
	"github.com/vbonduro/mealchat/internal/web"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP session server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer cleanup()

	mode, err := session.ParseMode(cfg.ChatMode)
	if err != nil {
		return err
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer closeDB(database, logger)
	recipes := store.NewRecipeStore(database)

	images, err := local.NewLocalImageStore(cfg.ImagePath)
	if err != nil {
		return fmt.Errorf("failed to initialize image store: %w", err)
	}

	b := newBackend(cfg, logger)
	factory := func(id string, opts ...session.Option) *session.Controller {
		base := []session.Option{
			session.WithMode(mode),
			session.WithPacing(cfg.PacingDelay),
			session.WithCatalog(recipes),
			session.WithImageStore(images),
		}
		return session.New(b, logger.With("session_id", id), append(base, opts...)...)
	}
	sessions := web.NewSessionRegistry(cfg.SessionTTL, factory)

	var checker auth.Checker
	if cfg.AuthEnabled() {
		checker = auth.NewStaticChecker(cfg.AuthEmail, cfg.AuthPasswordHash)
		logger.Info("basic auth enabled", "email", cfg.AuthEmail)
	}

	server := web.NewServer(sessions, images, recipes, checker, logger)
	httpServer := server.HTTPServer(cfg.ListenAddr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", "addr", cfg.ListenAddr, "backend", cfg.Backend, "mode", string(mode))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		// Event streams only end when their session does.
		sessions.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
		server.Wait()
		return nil
	})
	return g.Wait()
}
