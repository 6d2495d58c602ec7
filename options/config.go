// Package options provides configuration management for the mxlwb CLI
package options

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tmc/mxlwb/dbgtree"
	"github.com/tmc/mxlwb/session"
	"github.com/tmc/mxlwb/transport"
)

// Default endpoints of a locally running application server.
var (
	DefaultBaseURL  = "http://localhost:8484/"
	DefaultDebugURL = "http://localhost:8484/_mxldbg"
)

// Config holds the configuration for the mxlwb CLI
type Config struct {
	BaseURL  string `yaml:"baseURL"`
	DebugURL string `yaml:"debugURL"`

	ShowHidden                bool   `yaml:"showHidden"`
	PrimaryStream             string `yaml:"primaryStream"`
	DoneRequiresPrimaryStream bool   `yaml:"doneRequiresPrimaryStream"`
	CloseSeqsOnFinish         bool   `yaml:"closeSeqsOnFinish"`

	// ConnectTimeout bounds each dial attempt up to the response headers.
	// Zero means no limit.
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
	// ConnectRetries is the number of extra dial attempts.
	ConnectRetries int `yaml:"connectRetries"`

	// Params is the initial params text.
	Params string `yaml:"params"`

	Debug bool `yaml:"debug"`
}

// SessionOptions returns the session reducer options.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		PrimaryStream:             c.PrimaryStream,
		ShowHidden:                c.ShowHidden,
		DoneRequiresPrimaryStream: c.DoneRequiresPrimaryStream,
	}
}

// Policy returns the debug reconciliation policy.
func (c *Config) Policy() dbgtree.Policy {
	return dbgtree.Policy{CloseSeqsOnFinish: c.CloseSeqsOnFinish}
}

// RetryConfig returns the dial retry policy.
func (c *Config) RetryConfig() transport.RetryConfig {
	cfg := transport.DefaultRetryConfig
	cfg.MaxAttempts = c.ConnectRetries + 1
	return cfg
}

// HTTPClient returns an HTTP client honoring ConnectTimeout. Streams
// themselves are not time limited.
func (c *Config) HTTPClient() *http.Client {
	if c.ConnectTimeout <= 0 {
		return http.DefaultClient
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{Timeout: c.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
	t.ResponseHeaderTimeout = c.ConnectTimeout
	return &http.Client{Transport: t}
}

// LoadConfig loads the configuration from various sources in the following order of precedence:
// 1. Command-line flags (highest priority)
// 2. Environment variables
// 3. Configuration file
// 4. Default values (lowest priority)
//
// If a config file is not found, it falls back to using defaults and flags.
func LoadConfig(stderr io.Writer, flagSet *pflag.FlagSet) (*Config, error) {
	if flagSet == nil {
		flagSet = pflag.CommandLine
	}
	cfg := &Config{}
	v := viper.New()

	SetupViper(v, flagSet)
	SetupFlagNormalization(flagSet)

	// Read config file first
	if err := HandleConfigFile(v, stderr, flagSet); err != nil {
		return nil, err
	}

	// Then bind flags (so they override config)
	if err := v.BindPFlags(flagSet); err != nil {
		return nil, fmt.Errorf("unable to bind flags: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}
	if cfg.PrimaryStream == "" {
		return nil, fmt.Errorf("primaryStream must not be empty")
	}
	if cfg.ConnectRetries < 0 {
		return nil, fmt.Errorf("connectRetries must not be negative, got %d", cfg.ConnectRetries)
	}
	if debug, _ := flagSet.GetBool("debug"); debug {
		fmt.Fprintf(stderr, "mxlwb: server %s, debug stream %s\n", cfg.BaseURL, cfg.DebugURL)
	}
	return cfg, nil
}

// IsEnvSet checks if an environment variable is set
func IsEnvSet(key string) bool {
	_, exists := os.LookupEnv(key)
	return exists
}

// SetupViper configures viper with default values and settings
func SetupViper(v *viper.Viper, flagSet *pflag.FlagSet) {
	v.SetDefault("baseURL", DefaultBaseURL)
	v.SetDefault("debugURL", DefaultDebugURL)
	v.SetDefault("showHidden", true)
	v.SetDefault("primaryStream", session.DefaultPrimaryStream)
	v.SetDefault("doneRequiresPrimaryStream", false)
	v.SetDefault("closeSeqsOnFinish", false)
	v.SetDefault("connectTimeout", 10*time.Second)
	v.SetDefault("connectRetries", transport.DefaultRetryConfig.MaxAttempts-1)
	v.SetDefault("params", session.DefaultParams)

	// Setup paths and env
	v.AddConfigPath("/etc/mxlwb/")
	v.AddConfigPath("$HOME/.mxlwb")
	v.AddConfigPath(".")
	v.SetConfigName("config")

	v.SetEnvPrefix("MXLWB")
	v.AutomaticEnv()

	// Set config file if specified in flags
	if flagConfigFilePath := flagSet.Lookup("config"); flagConfigFilePath != nil && flagConfigFilePath.Changed {
		v.SetConfigFile(flagConfigFilePath.Value.String())
	}
}

// SetupFlagNormalization configures flag normalization to handle dashes in flag names
func SetupFlagNormalization(flagSet *pflag.FlagSet) {
	normalizeFunc := flagSet.GetNormalizeFunc()
	flagSet.SetNormalizeFunc(func(fs *pflag.FlagSet, name string) pflag.NormalizedName {
		result := normalizeFunc(fs, name)
		name = strings.ReplaceAll(string(result), "-", "")
		return pflag.NormalizedName(name)
	})
}

// HandleConfigFile handles loading the configuration file
func HandleConfigFile(v *viper.Viper, stderr io.Writer, flagSet *pflag.FlagSet) error {
	if configFlag := flagSet.Lookup("config"); configFlag != nil && configFlag.Changed {
		configFile := configFlag.Value.String()
		if verbose, _ := flagSet.GetBool("verbose"); verbose {
			fmt.Fprintf(stderr, "mxlwb: trying to read config file: %s\n", configFile)
		}

		// Check if file exists and is readable
		if _, err := os.Stat(configFile); err != nil {
			if verbose, _ := flagSet.GetBool("verbose"); verbose {
				fmt.Fprintf(stderr, "mxlwb: config file %s not accessible: %v\n", configFile, err)
			}
			return nil
		}

		v.SetConfigFile(configFile)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if verbose, _ := flagSet.GetBool("debug"); verbose {
				fmt.Fprintln(stderr, "mxlwb: config file not found, using defaults")
			}
			return nil
		}
		return fmt.Errorf("unable to read config file: %w", err)
	}

	if verbose, _ := flagSet.GetBool("verbose"); verbose {
		fmt.Fprintf(stderr, "mxlwb: successfully read config from %s\n", v.ConfigFileUsed())
	}
	return nil
}
