package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/gestaobankrio-code/maracana-purple-glow/internal/auth"
	"github.com/gestaobankrio-code/maracana-purple-glow/internal/config"
	"github.com/gestaobankrio-code/maracana-purple-glow/internal/logger"
	"github.com/gestaobankrio-code/maracana-purple-glow/internal/retry"
	"github.com/gestaobankrio-code/maracana-purple-glow/internal/sheets"
	"github.com/gestaobankrio-code/maracana-purple-glow/internal/storage"
	"github.com/gestaobankrio-code/maracana-purple-glow/internal/submit"
)

var (
	configPath string
	cfg        config.Config
)

var rootCmd = &cobra.Command{
	Use:   "leads",
	Short: "Campaign lead intake service",
	Long: `Accepts lead form submissions and appends each one as a row to the
campaign Google Sheet, authenticating as a service account.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := logger.Init(loaded.LogLevel); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cfg = loaded
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("LEADS_CONFIG"), "path to a TOML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// components are the collaborators shared by every command.
type components struct {
	minter   *auth.Minter
	appender *sheets.Appender
	ledger   *storage.Store
	closers  []func() error
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			logger.Warn("failed to close component", map[string]interface{}{"error": err.Error()})
		}
	}
}

// service returns the submission pipeline. A missing ledger is passed as a
// nil interface, never as a typed nil.
func (c *components) service() *submit.Service {
	if c.ledger == nil {
		return submit.NewService(c.minter, c.appender, nil)
	}
	return submit.NewService(c.minter, c.appender, c.ledger)
}

// buildComponents wires the minter, appender and (when configured) the
// ledger from cfg.
func buildComponents(cmd *cobra.Command, cfg config.Config, withLedger bool) (*components, error) {
	client := &http.Client{Timeout: cfg.UpstreamTimeout.Duration}
	policy := retry.Default()
	policy.Timeout = cfg.UpstreamTimeout.Duration
	policy.Backoff = cfg.RetryBackoff.Duration

	c := &components{}

	minterOpts := []auth.Option{
		auth.WithTokenURL(cfg.TokenURL),
		auth.WithHTTPClient(client),
		auth.WithRetryPolicy(policy),
	}
	if cfg.RedisTokenCache() {
		cache, err := auth.NewRedisCacheFromURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, cache.Close)
		minterOpts = append(minterOpts, auth.WithCache(cache))
		logger.Info("token cache enabled", map[string]interface{}{"backend": config.TokenCacheRedis})
	}
	c.minter = auth.NewMinter(cfg.ServiceAccount, minterOpts...)

	c.appender = sheets.NewAppender(sheets.Config{
		SpreadsheetID: cfg.SpreadsheetID,
		SheetName:     cfg.SheetName,
		Endpoint:      cfg.SheetsEndpoint,
		HTTPClient:    client,
		Policy:        policy,
	})

	if withLedger && cfg.DatabaseURL != "" {
		store, err := storage.Open(cmd.Context(), cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.closers = append(c.closers, store.Close)
		if err := store.Migrate(cmd.Context()); err != nil {
			c.Close()
			return nil, err
		}
		c.ledger = store
	}

	if cfg.ServiceAccount.ClientEmail == "" || cfg.ServiceAccount.PrivateKey == "" {
		logger.Warn("service account credentials are not set; submissions will fail", nil)
	}
	return c, nil
}
