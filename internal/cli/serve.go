package cli

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/storeops/bulkops/internal/server"
)

var (
	serveListen      string
	serveLogLevel    string
	serveLogFormat   string
	serveTLSCert     string
	serveTLSKey      string
	serveWebhookURLs string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bulkops HTTP API",
	Long: `Run the bulkops HTTP API for a dashboard front end.

Routes under /api/v1 require the bearer token from BULKOPS_API_TOKEN.
When the token is unset the API is served without authentication, so
keep the default loopback listen address in that case.

With [server] expiry_sweep_interval_s set, expired discounts are rolled
back in the background.

Examples:
  bulkops serve
  bulkops serve --listen 0.0.0.0:8730 --log-format text
  bulkops serve --tls-cert server.crt --tls-key server.key`,
	Args: cobra.NoArgs,
	Run:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveListen, "listen", os.Getenv("BULKOPS_LISTEN"), "Listen address (default from config)")
	f.StringVar(&serveLogLevel, "log-level", envOrDefault("BULKOPS_LOG_LEVEL", "info"), "Log level (debug|info|warn|error)")
	f.StringVar(&serveLogFormat, "log-format", envOrDefault("BULKOPS_LOG_FORMAT", "json"), "Log format (json|text)")
	f.StringVar(&serveTLSCert, "tls-cert", os.Getenv("BULKOPS_TLS_CERT"), "TLS certificate file")
	f.StringVar(&serveTLSKey, "tls-key", os.Getenv("BULKOPS_TLS_KEY"), "TLS key file")
	f.StringVar(&serveWebhookURLs, "webhook-urls", os.Getenv("BULKOPS_WEBHOOK_URLS"), "Comma-separated webhook URLs to notify on new history entries")
}

// splitURLs splits a comma-separated list, dropping blanks.
func splitURLs(s string) []string {
	var out []string
	for _, u := range strings.Split(s, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func runServe(cmd *cobra.Command, _ []string) {
	// The serve flags shadow the persistent one so serve defaults to info.
	rootLogLevel = serveLogLevel
	rootLogFormat = serveLogFormat
	c := initFullContext()
	defer c.Close()

	logger := c.Logger

	listen := serveListen
	if listen == "" {
		listen = c.Config.Server.Listen
	}

	cfg := server.DefaultConfig()
	cfg.APIToken = c.Secrets.APIToken
	cfg.RequestsPerMinute = c.Config.Server.RequestsPerMinute
	cfg.SweepInterval = c.Config.SweepInterval()

	urls := c.Config.Server.WebhookURLs
	if serveWebhookURLs != "" {
		urls = splitURLs(serveWebhookURLs)
	}
	if len(urls) > 0 {
		cfg.Webhooks = server.NewWebhookNotifier(&server.WebhookConfig{URLs: urls}, logger)
		logger.Info("webhooks configured", "count", len(urls))
	}

	h, handlerCleanup := server.Handler(c.Service, cfg, logger)
	defer handlerCleanup()

	srv := &http.Server{
		Addr:              listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// Bulk operations run inside the request and are paced by the
		// rate profile, so large batches take minutes.
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return context.Background() },
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting bulkops server",
			"listen", listen,
			"shop", c.Config.ShopDomain,
			"history", c.Config.HistoryPath(),
			"rate_profile", c.Config.RateProfile)
		var err error
		if serveTLSCert != "" && serveTLSKey != "" {
			err = srv.ListenAndServeTLS(serveTLSCert, serveTLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
