// Package main is the entry point for the outreach mailer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"github.com/shineum/outreach-mailer/internal/config"
	"github.com/shineum/outreach-mailer/internal/daemon"
	"github.com/shineum/outreach-mailer/internal/leadstore"
	"github.com/shineum/outreach-mailer/internal/mailbox"
	"github.com/shineum/outreach-mailer/internal/outreach"
)

const usage = `usage: outreach [-config path] <command>

commands:
  send     send to every pending lead, paced, until the curfew
  verify   scan the bounce mailbox and mark sent leads verified or failed
  daemon   run send and verify daily at schedule.send_at / schedule.verify_at
`

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	command := flag.Arg(0)
	switch command {
	case "send", "verify", "daemon":
	default:
		flag.Usage()
		os.Exit(2)
	}

	// Load .env file for local development (non-fatal if missing).
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	runner, settings, err := buildRunner(cfg, command)
	if err != nil {
		slog.Error("failed to start", "command", command, "error", err)
		os.Exit(1)
	}

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting outreach", "command", command, "provider", cfg.Provider, "leads", cfg.Leads.Path)

	switch command {
	case "send":
		_, err = runner.RunSend(ctx)
	case "verify":
		_, err = runner.RunVerify(ctx)
	case "daemon":
		if err = runDaemon(ctx, cfg, settings, runner); err != nil {
			slog.Error("daemon failed", "error", err)
		}
	}
	if err != nil {
		stop()
		os.Exit(1)
	}

	slog.Info("outreach stopped", "command", command)
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// buildRunner wires the store, provider and mailbox for command. The
// mailbox is only required by verify and daemon.
func buildRunner(cfg *config.Config, command string) (*outreach.Runner, outreach.Settings, error) {
	settings, err := cfg.Settings()
	if err != nil {
		return nil, settings, err
	}

	store, err := leadstore.OpenWorkbook(cfg.Leads.Path, cfg.Leads.Sheet)
	if err != nil {
		return nil, settings, err
	}

	tlsConfig, err := clientTLS(cfg)
	if err != nil {
		return nil, settings, err
	}

	prov, err := selectProvider(context.Background(), cfg, tlsConfig)
	if err != nil {
		return nil, settings, err
	}

	var mb mailbox.Mailbox
	switch {
	case cfg.IMAPConfigured():
		mb = newMailbox(cfg, tlsConfig)
	case command != "send":
		return nil, settings, errors.New("IMAP_HOST, IMAP_USERNAME and IMAP_PASSWORD are required for " + command)
	}

	return outreach.NewRunner(store, prov, mb, settings), settings, nil
}

func runDaemon(ctx context.Context, cfg *config.Config, settings outreach.Settings, runner *outreach.Runner) error {
	sendAt, err := outreach.ParseClock(cfg.Schedule.SendAt)
	if err != nil {
		return fmt.Errorf("send_at: %w", err)
	}
	verifyAt, err := outreach.ParseClock(cfg.Schedule.VerifyAt)
	if err != nil {
		return fmt.Errorf("verify_at: %w", err)
	}

	d, err := daemon.New(runner, daemon.Schedule{
		SendAt:   sendAt,
		VerifyAt: verifyAt,
		Location: settings.Location,
	})
	if err != nil {
		return err
	}
	return d.Run(ctx)
}
