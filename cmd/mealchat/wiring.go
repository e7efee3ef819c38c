package main

import (
	"database/sql"
	"log/slog"

	"github.com/vbonduro/mealchat/internal/backend"
	"github.com/vbonduro/mealchat/internal/backend/claude"
	"github.com/vbonduro/mealchat/internal/backend/flask"
	"github.com/vbonduro/mealchat/internal/backend/ollama"
	"github.com/vbonduro/mealchat/internal/config"
)

func newBackend(cfg *config.Config, logger *slog.Logger) backend.Backend {
	switch cfg.Backend {
	case "claude":
		logger.Info("using Claude backend", "model", cfg.ClaudeModel)
		return claude.NewClaudeBackend(cfg.ClaudeAPIKey, cfg.ClaudeModel, cfg.ClaudeBaseURL)
	case "ollama":
		logger.Info("using Ollama backend", "host", cfg.OllamaHost, "model", cfg.OllamaModel)
		return ollama.NewOllamaBackend(cfg.OllamaHost, cfg.OllamaModel)
	default:
		logger.Info("using recipe service backend", "url", cfg.BackendURL)
		return flask.NewFlaskBackend(cfg.BackendURL)
	}
}

func closeDB(database *sql.DB, logger *slog.Logger) {
	if err := database.Close(); err != nil {
		logger.Error("failed to close database", "error", err)
	}
}
