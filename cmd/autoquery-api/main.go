package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/autoquery/autoquery/internal/agent"
	"github.com/autoquery/autoquery/internal/api"
	"github.com/autoquery/autoquery/internal/api/uistatic"
	"github.com/autoquery/autoquery/internal/auth"
	"github.com/autoquery/autoquery/internal/backend"
	"github.com/autoquery/autoquery/internal/chat"
	"github.com/autoquery/autoquery/internal/config"
	"github.com/autoquery/autoquery/internal/dataset"
	"github.com/autoquery/autoquery/internal/llm"
	"github.com/autoquery/autoquery/internal/llm/anthropic"
	"github.com/autoquery/autoquery/internal/llm/openai"
	"github.com/autoquery/autoquery/internal/observability"
	"github.com/autoquery/autoquery/internal/query"
	"github.com/autoquery/autoquery/internal/tools"
)

func main() {
	cfg, err := config.LoadFromEnv("autoquery-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	schema := dataset.Automotive()

	sessions := chat.NewStore(cfg.Chat.MaxTurns)
	if cfg.Chat.HistoryFile != "" {
		loaded, err := chat.Load(cfg.Chat.HistoryFile, cfg.Chat.MaxTurns)
		if err != nil {
			logger.Warn("failed to load chat history; starting empty", slog.String("path", cfg.Chat.HistoryFile), slog.Any("error", err))
		} else {
			sessions = loaded
		}
	}
	sessions.SetMaxSessions(cfg.Chat.MaxSessions)

	deps := api.Dependencies{
		Logger:            logger,
		Sessions:          sessions,
		Schema:            schema,
		UI:                uistatic.Handler(),
		DependencyTimeout: 2 * time.Second,
	}

	// A failed start keeps the server up so /health can report the cause.
	accessor, chatAgent, err := initialize(context.Background(), cfg, schema, logger)
	if err != nil {
		logger.Error("failed to initialize agent", slog.Any("error", err))
		deps.InitError = err
	} else {
		deps.Accessor = accessor
		deps.Agent = chatAgent
		defer func() { _ = accessor.Close() }()
	}

	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("api key auth enabled", slog.Int("keys", validator.Len()))
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	shutdownErr := server.Shutdown(shutdownCtx)
	if cfg.Chat.HistoryFile != "" {
		if err := sessions.Save(cfg.Chat.HistoryFile); err != nil {
			logger.Error("failed to save chat history", slog.String("path", cfg.Chat.HistoryFile), slog.Any("error", err))
		}
	}
	if shutdownErr != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", shutdownErr))
		_ = server.Close()
		os.Exit(1)
	}
}

func initialize(ctx context.Context, cfg config.Config, schema dataset.Schema, logger *slog.Logger) (query.Accessor, *agent.Agent, error) {
	filter, err := dataset.ParseMakerFilter(cfg.Dataset.MakerFilter)
	if err != nil {
		return nil, nil, err
	}
	model, err := newChatModel(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init chat model: %w", err)
	}

	accessor, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open dataset: %w", err)
	}
	registry, err := tools.NewRegistry(logger, tools.NewSQLTools(accessor, schema, tools.Options{
		ResultCap:   cfg.Tool.ResultCap,
		SampleLimit: cfg.Tool.SampleLimit,
	})...)
	if err != nil {
		_ = accessor.Close()
		return nil, nil, err
	}
	chatAgent, err := agent.New(model, registry, schema, agent.Config{
		MaxIterations: cfg.AI.MaxIterations,
		MakerFilter:   filter,
		Dialect:       backend.Dialect(cfg.Dataset.Backend),
	}, logger)
	if err != nil {
		_ = accessor.Close()
		return nil, nil, err
	}
	logger.Info("agent ready",
		slog.String("model", model.Name()),
		slog.String("backend", string(cfg.Dataset.Backend)),
		slog.String("maker_filter", string(filter)),
	)
	return accessor, chatAgent, nil
}

func newChatModel(cfg config.Config) (llm.ChatModel, error) {
	switch cfg.AI.Provider {
	case "anthropic":
		return anthropic.New(anthropic.Config{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			MaxTokens:   cfg.AI.MaxTokens,
			Timeout:     cfg.AI.Timeout,
			MaxRetries:  2,
		})
	default:
		return openai.New(openai.Config{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			MaxTokens:   cfg.AI.MaxTokens,
			Timeout:     cfg.AI.Timeout,
		})
	}
}
