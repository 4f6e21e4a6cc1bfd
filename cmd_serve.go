package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gestaobankrio-code/maracana-purple-glow/internal/handlers"
	"github.com/gestaobankrio-code/maracana-purple-glow/internal/logger"
	"github.com/gestaobankrio-code/maracana-purple-glow/internal/metrics"
	"github.com/gestaobankrio-code/maracana-purple-glow/internal/ratelimit"
)

const shutdownGrace = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the lead intake HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	metrics.Register()

	c, err := buildComponents(cmd, cfg, true)
	if err != nil {
		return err
	}
	defer c.Close()

	clients, err := ratelimit.NewClientResolver(cfg.TrustedProxies)
	if err != nil {
		return err
	}

	opts := handlers.Options{
		Submitter:     c.service(),
		Limiter:       ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst),
		Clients:       clients,
		AdminToken:    cfg.AdminToken,
		AllowOrigin:   cfg.CORSAllowOrigin,
		SubmitTimeout: cfg.SubmitTimeout(),
	}
	if c.ledger != nil {
		opts.Lister = c.ledger
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handlers.New(opts).Router(),
		ReadTimeout:  10 * time.Second,   // Max time to read request
		WriteTimeout: cfg.WriteTimeout(), // Above the submission deadline
		IdleTimeout:  120 * time.Second,  // Keep-alive timeout
	}

	logger.Info("starting HTTP server", map[string]interface{}{
		"port":            cfg.Port,
		"spreadsheet_id":  cfg.SpreadsheetID,
		"sheet":           cfg.SheetName,
		"ledger":          c.ledger != nil,
		"rate_limited":    opts.Limiter.Enabled(),
		"trusted_proxies": len(cfg.TrustedProxies),
		"submit_timeout":  opts.SubmitTimeout.String(),
	})

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	<-sig

	logger.Info("shutting down server", nil)

	// Let in-flight submissions reach their own deadline.
	grace := shutdownGrace
	if wt := cfg.WriteTimeout(); wt > grace {
		grace = wt
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed", map[string]interface{}{"error": err.Error()})
		return err
	}

	logger.Info("server shutdown complete", nil)
	return nil
}
