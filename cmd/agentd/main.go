// agentd serves the interactive agent: the websocket conversation endpoint,
// the history API, and the health probe.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/scottrax/ai-agent-system/internal/audit"
	"github.com/scottrax/ai-agent-system/internal/config"
	"github.com/scottrax/ai-agent-system/internal/engine"
	"github.com/scottrax/ai-agent-system/internal/history"
	"github.com/scottrax/ai-agent-system/internal/reasoning/anthropic"
	"github.com/scottrax/ai-agent-system/internal/server"
	"github.com/scottrax/ai-agent-system/internal/session"
	"github.com/scottrax/ai-agent-system/internal/telemetry"
	"github.com/scottrax/ai-agent-system/internal/tools"
	"github.com/scottrax/ai-agent-system/internal/transcript"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("agentd failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Reasoning.APIKey == "" {
		return fmt.Errorf("reasoning.api_key is required (AGENT_REASONING__API_KEY)")
	}

	shutdownTracer, err := telemetry.InitTracer("agentd", logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Warn("tracer shutdown failed", slog.String("error", err.Error()))
		}
	}()

	store, err := transcript.NewStore(cfg.Transcripts.Dir, logger)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Audit.Path), 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	auditStore, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer auditStore.Close()

	registry := session.NewRegistry(store, logger)
	index := history.NewIndex(store, logger)

	var clientOpts []anthropic.ClientOption
	if cfg.Reasoning.BaseURL != "" {
		clientOpts = append(clientOpts, anthropic.WithBaseURL(cfg.Reasoning.BaseURL))
	}
	client := anthropic.NewClient(cfg.Reasoning.APIKey, clientOpts...)
	svc := anthropic.NewService(client, cfg.Reasoning.Model, cfg.Reasoning.MaxTokens, cfg.Reasoning.SystemPrompt)

	exec := tools.NewExecutor(logger,
		tools.WithWorkDir(cfg.Tools.WorkDir),
		tools.WithTimeout(time.Duration(cfg.Tools.TimeoutSeconds)*time.Second),
		tools.WithOutputLimit(cfg.Tools.OutputLimit),
	)

	eng := engine.New(svc, exec, auditStore, logger, engine.Config{
		MaxRounds:     cfg.Engine.MaxRounds,
		RetryAttempts: cfg.Engine.RetryAttempts,
		RetryBackoff:  cfg.Engine.RetryBackoff(),
	})

	srv := server.New(registry, eng, index, cfg.Server, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
