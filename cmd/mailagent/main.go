// mailagent runs the inbox channel: it polls an IMAP mailbox and answers
// authorized senders over SMTP. The allow list reloads when the config file
// changes.
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
	"github.com/scottrax/ai-agent-system/internal/mail"
	"github.com/scottrax/ai-agent-system/internal/reasoning/anthropic"
	"github.com/scottrax/ai-agent-system/internal/session"
	"github.com/scottrax/ai-agent-system/internal/telemetry"
	"github.com/scottrax/ai-agent-system/internal/tools"
	"github.com/scottrax/ai-agent-system/internal/transcript"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil && err != context.Canceled {
		logger.Error("mailagent failed", slog.String("error", err.Error()))
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
	if cfg.Mail.Address == "" || cfg.Mail.Password == "" {
		return fmt.Errorf("mail.address and mail.password are required")
	}
	if len(cfg.Mail.AuthorizedSenders) == 0 {
		return fmt.Errorf("mail.authorized_senders must not be empty")
	}

	shutdownTracer, err := telemetry.InitTracer("mailagent", logger)
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

	allow := mail.NewAllowList(cfg.Mail.AuthorizedSenders)

	stopWatch, err := config.Watch(configPath, logger, func(next *config.Config) {
		allow.Update(next.Mail.AuthorizedSenders)
		logger.Info("allow list updated", slog.Int("authorized_senders", allow.Len()))
	})
	if err != nil {
		logger.Warn("config watch unavailable", slog.String("error", err.Error()))
	} else {
		defer stopWatch()
	}

	sender, err := mail.NewSender(cfg.Mail.SMTPHost, cfg.Mail.SMTPPort, cfg.Mail.Address, cfg.Mail.Password)
	if err != nil {
		return err
	}

	poller := mail.NewPoller(mail.Options{
		Address:      cfg.Mail.Address,
		Password:     cfg.Mail.Password,
		IMAPHost:     cfg.Mail.IMAPHost,
		IMAPPort:     cfg.Mail.IMAPPort,
		PollInterval: time.Duration(cfg.Mail.PollSeconds) * time.Second,
		ErrorBackoff: time.Duration(cfg.Mail.ErrorBackoffSecs) * time.Second,
	}, registry, eng, sender, allow, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return poller.Run(ctx)
}
