package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/KaramelBytes/dqmonitor/internal/analysis"
	cfgpkg "github.com/KaramelBytes/dqmonitor/internal/config"
	"github.com/KaramelBytes/dqmonitor/internal/dashboard"
	"github.com/KaramelBytes/dqmonitor/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	srvAddr      string
	srvDataFile  string
	srvThreshold float64
	srvRateLimit float64
	srvMaxRows   int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the prediction form and data-quality dashboard over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		applyServeFlags(cmd, c)

		handler, err := newDashboardHandler(c)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ln, err := net.Listen("tcp", c.ListenAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", c.ListenAddr, err)
		}
		server := &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			// predictions may wait on the hosted model for the full client timeout
			WriteTimeout: time.Duration(c.HTTPTimeoutSec)*2*time.Second + 10*time.Second,
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Dashboard listening on http://%s\n", ln.Addr())
		if c.APIKey == "" {
			log.Warn().Msg("no API key configured (set IBM_API_KEY); predictions will fail until one is provided")
		}

		errCh := make(chan error, 1)
		go func() {
			if serveErr := server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				errCh <- serveErr
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
			log.Info().Msg("shutdown signal received")
		case serveErr := <-errCh:
			if serveErr != nil {
				return fmt.Errorf("serve: %w", serveErr)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		log.Info().Msg("dashboard stopped")
		return nil
	},
}

func applyServeFlags(cmd *cobra.Command, c *cfgpkg.Global) {
	f := cmd.Flags()
	if f.Changed("addr") && srvAddr != "" {
		c.ListenAddr = srvAddr
	}
	if f.Changed("data-file") && srvDataFile != "" {
		c.DataFile = srvDataFile
	}
	if f.Changed("threshold") && srvThreshold > 0 {
		c.AnomalyThreshold = srvThreshold
	}
	if f.Changed("rate-limit") && srvRateLimit >= 0 {
		c.RateLimitPerSec = srvRateLimit
	}
}

// newDashboardHandler wires the predictor client, metrics registry and
// dashboard server for c.
func newDashboardHandler(c *cfgpkg.Global) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := metrics.Register(reg); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	opt := analysis.DefaultOptions()
	opt.AnomalyThreshold = c.AnomalyThreshold
	srv, err := dashboard.New(newPredictorClient(c), dashboard.Options{
		DataFile:       c.DataFile,
		Analysis:       opt,
		MaxAnomalyRows: srvMaxRows,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	if err != nil {
		return nil, err
	}
	return srv, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&srvAddr, "addr", "", "listen address (overrides listen_addr, default :8501)")
	serveCmd.Flags().StringVar(&srvDataFile, "data-file", "", "order file name or absolute path (overrides data_file)")
	serveCmd.Flags().Float64Var(&srvThreshold, "threshold", 0, "|z| above which an order amount is an anomaly (overrides anomaly_threshold)")
	serveCmd.Flags().Float64Var(&srvRateLimit, "rate-limit", 0, "max predictions per second sent upstream, 0 = unlimited (overrides rate_limit_per_sec)")
	serveCmd.Flags().IntVar(&srvMaxRows, "max-anomaly-rows", dashboard.DefaultMaxAnomalyRows, "anomalous rows listed on the dashboard")
}
