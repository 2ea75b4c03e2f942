package cmd

import (
	"fmt"
	"os"
	"time"

	cfgpkg "github.com/KaramelBytes/dqmonitor/internal/config"
	"github.com/KaramelBytes/dqmonitor/internal/logging"
	"github.com/KaramelBytes/dqmonitor/internal/predictor"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	debug   bool
	// HTTP flags (override config if set)
	flagHTTPTimeoutSec int

	// Loaded configuration
	cfg *cfgpkg.Global
)

var rootCmd = &cobra.Command{
	Use:   "dqmonitor",
	Short: "Order data-quality monitoring: hosted-model predictions and anomaly dashboard",
	Long: `dqmonitor checks order records for data-quality issues. It forwards single
records to a hosted IBM Watson ML deployment for a verdict, and cleans order
files (date normalization, required-field filtering, median imputation,
z-score anomaly flagging, deduplication) for a browser dashboard or the terminal.`,
	SilenceUsage: true,
}

// Execute is the entry point called by main.main()
func Execute() {
	// Initialize configuration before executing commands
	cobra.OnInitialize(loadConfig)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.dqmonitor/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().IntVar(&flagHTTPTimeoutSec, "http-timeout", 0, "HTTP client timeout in seconds (overrides config)")
}

func loadConfig() {
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		// Non-fatal: allow running commands that don't need config
		fmt.Fprintf(os.Stderr, "⚠ Warning: failed to load config: %v\n", err)
		logging.Setup(os.Stderr, "info", debug, false)
		return
	}
	cfg = c
	applyOverrides()
	logging.Setup(os.Stderr, cfg.LogLevel, debug, cfg.LogJSON)
}

// requireConfig returns the loaded configuration, loading it if no
// initializer ran.
func requireConfig() (*cfgpkg.Global, error) {
	if cfg != nil {
		return cfg, nil
	}
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg = c
	applyOverrides()
	return cfg, nil
}

func applyOverrides() {
	f := rootCmd.PersistentFlags()
	if f.Changed("http-timeout") && flagHTTPTimeoutSec > 0 {
		cfg.HTTPTimeoutSec = flagHTTPTimeoutSec
	}
}

// newPredictorClient builds the hosted-model client from configuration.
func newPredictorClient(c *cfgpkg.Global) *predictor.Client {
	return predictor.NewClient(predictor.Config{
		APIKey:        c.APIKey,
		TokenURL:      c.TokenURL,
		DeploymentURL: c.DeploymentURL,
		HTTPTimeout:   time.Duration(c.HTTPTimeoutSec) * time.Second,
		RateLimit:     c.RateLimitPerSec,
	})
}
