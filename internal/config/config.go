package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultDataFile is the order file the dashboard looks for.
const DefaultDataFile = "orders_data_set_final.csv"

// Global configuration structure.
type Global struct {
	APIKey        string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	TokenURL      string `mapstructure:"token_url" yaml:"token_url"`
	DeploymentURL string `mapstructure:"deployment_url" yaml:"deployment_url"`

	// HTTP and client-side throttling for the hosted model
	HTTPTimeoutSec  int     `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec"`
	RateLimitPerSec float64 `mapstructure:"rate_limit_per_sec" yaml:"rate_limit_per_sec"`

	// Dashboard
	DataFile         string  `mapstructure:"data_file" yaml:"data_file"`
	ListenAddr       string  `mapstructure:"listen_addr" yaml:"listen_addr"`
	AnomalyThreshold float64 `mapstructure:"anomaly_threshold" yaml:"anomaly_threshold"`

	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" yaml:"log_json"`
}

func defaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".dqmonitor"), nil
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.dqmonitor/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	path := cfgFile
	if path == "" {
		dir, err := defaultDir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
		path = filepath.Join(dir, "config.yaml")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: env > config file > defaults. A .env file in the working
// directory is applied to the environment first.
func Load(cfgFile string) (*Global, error) {
	// A missing .env is normal; the logger is not configured yet at this point.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("DQMONITOR")
	v.AutomaticEnv()
	// IBM_API_KEY is the name the hosted-model tooling documents.
	if err := v.BindEnv("api_key", "DQMONITOR_API_KEY", "IBM_API_KEY"); err != nil {
		return nil, fmt.Errorf("bind api key env: %w", err)
	}

	v.SetDefault("api_key", "")
	v.SetDefault("token_url", "https://iam.cloud.ibm.com/identity/token")
	v.SetDefault("deployment_url", "https://us-south.ml.cloud.ibm.com/ml/v4/deployments/b5ef2044-9f2a-47f3-b45c-ffda62b4312d/predictions?version=2021-05-01")
	v.SetDefault("http_timeout_sec", 60)
	v.SetDefault("rate_limit_per_sec", 0.0)
	v.SetDefault("data_file", DefaultDataFile)
	v.SetDefault("listen_addr", ":8501")
	v.SetDefault("anomaly_threshold", 1.5)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			var pathErr *fs.PathError
			if !errors.As(err, &pathErr) {
				return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
			}
		}
	} else {
		dir, err := defaultDir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		// optional read
		_ = v.ReadInConfig()
	}

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.HTTPTimeoutSec <= 0 {
		c.HTTPTimeoutSec = 60
	}
	if c.AnomalyThreshold <= 0 {
		c.AnomalyThreshold = 1.5
	}
	return &c, nil
}
