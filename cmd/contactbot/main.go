package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"contactbot/internal/api"
	"contactbot/internal/backoff"
	"contactbot/internal/bot"
	"contactbot/internal/config"
	"contactbot/internal/health"
	"contactbot/internal/hub"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "contactbot",
		Short: "ContactBot: headless contact bot for the Resonite platform",
		Long:  "ContactBot keeps a bot account online: it accepts contact requests, relays messages, and maintains its session automatically.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.contactbot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bot until interrupted",
		RunE:  runBot,
	}
}

func runBot(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := setupLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	whitelist, err := config.LoadWhitelist(cfg.Behavior.WhitelistPath, logger)
	if err != nil {
		return fmt.Errorf("load whitelist: %w", err)
	}

	client := api.NewClient(api.ClientConfig{
		BaseURL: cfg.Platform.APIBaseURL,
		UID:     api.GenerateUID(),
		Logger:  logger,
	})

	dialer := &hub.Dialer{
		URL:              cfg.Platform.HubURL,
		AccessKey:        cfg.Platform.AccessKey,
		EstablishTimeout: time.Duration(cfg.Intervals.HubTimeoutSeconds) * time.Second,
		Reconnect:        reconnectPolicy(cfg),
		Logger:           logger,
	}

	b := bot.New(bot.Options{
		Config:    cfg,
		API:       client,
		Dialer:    dialer,
		Logger:    logger,
		Whitelist: whitelist,
	})

	// Example responder: greet back on any text message.
	b.Events().OnTextMessage(func(senderID, text string) {
		logger.Info("message", "sender", senderID, "text", text)
		reply := fmt.Sprintf("Hello, %s! I'm a bot account; a human will read your message later.", senderID)
		if err := b.SendText(ctx, senderID, reply); err != nil {
			logger.Error("couldn't send reply", "recipient", senderID, "err", err)
		}
	})
	b.Events().OnContactAdded(func(contactID string) {
		logger.Info("new contact", "contact", contactID)
	})

	if cfg.Health.Enabled {
		srv := health.New(health.Config{
			Host:    cfg.Health.Host,
			Port:    cfg.Health.Port,
			Token:   cfg.Health.CommandToken,
			Version: cfg.General.VersionName,
			Bot:     b,
			Logger:  logger,
		})
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("health server error", "err", err)
			}
		}()
	}

	if err := supervise(ctx, cfg, b); err != nil {
		return err
	}

	logger.Info("shutting down...")
	return shutdown(b)
}

// supervise brings the bot up and keeps retrying on failure until ctx is
// canceled. A crash of the login/start sequence never kills the process;
// the next attempt runs after the configured restart delay.
func supervise(ctx context.Context, cfg *config.Config, b *bot.Bot) error {
	retry := backoff.Fixed(time.Duration(cfg.Intervals.RestartDelaySeconds) * time.Second)

	for attempt := 0; ; attempt++ {
		err := bringUp(ctx, b)
		if err == nil {
			break
		}
		logger.Error("startup failed, retrying", "attempt", attempt+1, "err", err)
		if werr := retry.Wait(ctx, attempt); werr != nil {
			return nil // canceled while waiting
		}
	}

	logger.Info("bot running. Press Ctrl+C to stop.")
	<-ctx.Done()
	return nil
}

func bringUp(ctx context.Context, b *bot.Bot) error {
	if err := b.Login(ctx); err != nil && !errors.Is(err, bot.ErrAlreadyLoggedIn) {
		return err
	}
	return b.Start(ctx)
}

// shutdown stops the bot and revokes the session, bounded so a wedged
// channel cannot hold the process open.
func shutdown(b *bot.Bot) error {
	const shutdownTimeout = 10 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := b.Stop(); err != nil && !errors.Is(err, bot.ErrNotStarted) {
			logger.Error("stop failed", "err", err)
		}
		if err := b.Logout(shutdownCtx); err != nil && !errors.Is(err, bot.ErrAlreadyLoggedOut) {
			logger.Error("logout failed", "err", err)
		}
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		shutdownErr = fmt.Errorf("shutdown timed out")
	}
	return shutdownErr
}

func reconnectPolicy(cfg *config.Config) backoff.Policy {
	delays := make([]time.Duration, 0, len(cfg.Intervals.ReconnectDelaySeconds))
	for _, s := range cfg.Intervals.ReconnectDelaySeconds {
		delays = append(delays, time.Duration(s)*time.Second)
	}
	return backoff.New(delays...)
}

func setupLogger(cfg *config.Config) error {
	var level slog.Level
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
	}

	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	return nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show config and credential status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				return nil
			}
			logger.Info("config", "path", cfgPath, "loaded", true)
			logger.Info("account", "username", cfg.Account.Username,
				"passwordSet", cfg.Account.Password != "",
				"totpSet", cfg.Account.TOTP != "")
			logger.Info("platform", "api", cfg.Platform.APIBaseURL, "hub", cfg.Platform.HubURL)
			logger.Info("behavior", "autoAccept", cfg.Behavior.AutoAcceptRequests,
				"autoExtendLogin", cfg.Behavior.AutoExtendLogin,
				"updateStatus", cfg.Behavior.UpdateStatus)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("contactbot " + version)
		},
	}
}
