package cmd

import (
	"fmt"
	"strconv"
	"strings"

	cfgpkg "github.com/KaramelBytes/dqmonitor/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or set dqmonitor configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "api_key: %s\n", mask(c.APIKey))
		fmt.Fprintf(out, "token_url: %s\n", c.TokenURL)
		fmt.Fprintf(out, "deployment_url: %s\n", c.DeploymentURL)
		fmt.Fprintf(out, "http_timeout_sec: %d\n", c.HTTPTimeoutSec)
		if c.RateLimitPerSec > 0 {
			fmt.Fprintf(out, "rate_limit_per_sec: %.3f\n", c.RateLimitPerSec)
		}
		fmt.Fprintf(out, "data_file: %s\n", c.DataFile)
		fmt.Fprintf(out, "listen_addr: %s\n", c.ListenAddr)
		fmt.Fprintf(out, "anomaly_threshold: %.3f\n", c.AnomalyThreshold)
		fmt.Fprintf(out, "log_level: %s\n", c.LogLevel)
		if c.LogJSON {
			fmt.Fprintln(out, "log_json: true")
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value and save to disk",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]
		c, err := requireConfig()
		if err != nil {
			return err
		}
		switch key {
		case "api_key":
			c.APIKey = val
		case "token_url":
			c.TokenURL = val
		case "deployment_url":
			c.DeploymentURL = val
		case "http_timeout_sec":
			i, err := strconv.Atoi(val)
			if err != nil || i <= 0 {
				return fmt.Errorf("invalid int for http_timeout_sec: %v", val)
			}
			c.HTTPTimeoutSec = i
		case "rate_limit_per_sec":
			f, err := strconv.ParseFloat(val, 64)
			if err != nil || f < 0 {
				return fmt.Errorf("invalid float for rate_limit_per_sec: %v", val)
			}
			c.RateLimitPerSec = f
		case "data_file":
			c.DataFile = val
		case "listen_addr":
			c.ListenAddr = val
		case "anomaly_threshold":
			f, err := strconv.ParseFloat(val, 64)
			if err != nil || f <= 0 {
				return fmt.Errorf("invalid float for anomaly_threshold: %v", val)
			}
			c.AnomalyThreshold = f
		case "log_level":
			if _, err := zerolog.ParseLevel(strings.ToLower(val)); err != nil {
				return fmt.Errorf("invalid log_level: %s", val)
			}
			c.LogLevel = strings.ToLower(val)
		case "log_json":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return fmt.Errorf("invalid bool for log_json: %v", val)
			}
			c.LogJSON = b
		default:
			return fmt.Errorf("unknown key: %s", key)
		}
		if err := cfgpkg.Save(c, cfgFile); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Saved config")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 6 {
		return "******"
	}
	return s[:3] + "****" + s[len(s)-3:]
}
