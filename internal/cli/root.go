// Package cli implements the command-line interface for bulkops.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/storeops/bulkops/internal/batch"
	"github.com/storeops/bulkops/internal/config"
	"github.com/storeops/bulkops/internal/core"
	"github.com/storeops/bulkops/internal/history"
	"github.com/storeops/bulkops/internal/remote"
	"github.com/storeops/bulkops/internal/store"
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config  *config.Config
	Secrets config.Secrets
	History *history.Store
	Service *core.Service
	Logger  *slog.Logger
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	if c.History != nil {
		c.History.Close()
	}
}

var (
	rootLogLevel    string
	rootRateProfile string
	// rootLogFormat is text for one-shot commands; serve switches it.
	rootLogFormat = "text"
)

// initContext loads config and opens the history log (no store client)
func initContext() *cmdContext {
	cfg, err := config.Load()
	if err != nil {
		exitError("%v", err)
	}
	if rootRateProfile != "" {
		cfg.RateProfile = rootRateProfile
	}

	secrets, err := cfg.LoadSecrets()
	if err != nil {
		exitError("%v", err)
	}

	logger := newLogger(rootLogLevel, rootLogFormat)

	backend, err := store.Open(cfg.HistoryBackend, cfg.HistoryPath())
	if err != nil {
		exitError("failed to open history: %v", err)
	}

	hist := history.New(backend, history.Options{
		MaxEntries: cfg.MaxHistoryEntries,
		Logger:     logger,
	})

	return &cmdContext{Config: cfg, Secrets: secrets, History: hist, Logger: logger}
}

// initFullContext additionally creates the store client and the service
func initFullContext() *cmdContext {
	c := initContext()

	if c.Config.ShopDomain == "" {
		c.Close()
		exitError("shop_domain is not set in %s", c.Config.Path())
	}
	if c.Secrets.AccessToken == "" {
		c.Close()
		exitError("%s is not set (export it or add it to %s)", config.EnvAccessToken, config.EnvFile)
	}

	opts, err := c.Config.BatchOptions()
	if err != nil {
		c.Close()
		exitError("%v", err)
	}

	client := remote.NewRetryClient(
		remote.NewHTTPClient(remote.ShopURL(c.Config.ShopDomain), c.Config.APIVersion, c.Secrets.AccessToken),
		c.Config.RetryConfig(),
	)
	c.Service = core.NewService(c.History, client, batch.New(opts, c.Logger), c.Logger)
	return c
}

var rootCmd = &cobra.Command{
	Use:   "bulkops",
	Short: "Bulk store operations with rollback",
	Long: `bulkops runs rate-limited bulk operations against a Shopify store
(price rules, discounts, image uploads, product edits) and keeps a
history of every change so any operation or whole batch can be
rolled back.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootLogLevel, "log-level", envOrDefault("BULKOPS_LOG_LEVEL", "warn"), "Log level (debug|info|warn|error)")
	pf.StringVar(&rootRateProfile, "rate-profile", os.Getenv("BULKOPS_RATE_PROFILE"), "Override the configured rate profile")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(priceCmd)
	rootCmd.AddCommand(discountCmd)
	rootCmd.AddCommand(imagesCmd)
	rootCmd.AddCommand(productCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(serveCmd)
}

// newLogger builds a stderr logger for one-shot commands or a stdout logger
// for serve.
func newLogger(levelName, format string) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}

	out := os.Stderr
	if format == "json" {
		out = os.Stdout
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

// signalContext returns a context cancelled on interrupt, so a running batch
// stops dispatching and still records what it did.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// envOrDefault returns the value of the environment variable key, or defaultVal if unset.
func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
