package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fetchkit/pfetch/pkg/logging"
	"github.com/fetchkit/pfetch/pkg/optname"
)

const (
	DefaultConnectTimeout = 15 * time.Second
	DefaultTimeout        = 30 * time.Second
	DefaultChunkSize      = "500MiB"
	DefaultRetries        = 2
)

// Config is the resolved, immutable option set for one invocation. It is built once from
// flags/env by Load and passed by value into the engine and the downloader.
type Config struct {
	ConnectTimeout time.Duration
	Timeout        time.Duration
	ChunkSize      int64
	Overwrite      bool
	CookieDir      string
	CookieFile     string
	Retries        int
	VerifyTLS      bool
	// Headers are sent with every request on top of the fixed header set.
	Headers map[string]string
}

// Default returns the configuration used when no flags or env vars are set.
func Default() Config {
	return Config{
		ConnectTimeout: DefaultConnectTimeout,
		Timeout:        DefaultTimeout,
		ChunkSize:      500 * humanize.MiByte,
		Retries:        DefaultRetries,
	}
}

// CookieJarPath returns the cookie file location, or "" when cookie persistence is disabled.
// Both the directory and the file name must be set.
func (c Config) CookieJarPath() string {
	if c.CookieDir == "" || c.CookieFile == "" {
		return ""
	}
	return filepath.Join(c.CookieDir, c.CookieFile)
}

func AddRootPersistentFlags(cmd *cobra.Command) error {
	// Persistent Flags (applies to all commands/subcommands)
	cmd.PersistentFlags().Duration(optname.ConnTimeout, DefaultConnectTimeout, "Timeout for establishing a connection, format is <number><unit>, e.g. 10s")
	cmd.PersistentFlags().Duration(optname.Timeout, DefaultTimeout, "Total timeout for each individual transfer, e.g. 5m")
	cmd.PersistentFlags().StringP(optname.ChunkSize, "m", DefaultChunkSize, "Size of each byte-range chunk in chunked mode (e.g. 500MiB)")
	cmd.PersistentFlags().BoolP(optname.Overwrite, "f", false, "Ignore existing destination and partial files and download from scratch")
	cmd.PersistentFlags().String(optname.CookieDir, "", "Directory holding the cookie jar (requires --cookie-file)")
	cmd.PersistentFlags().String(optname.CookieFile, "", "Cookie jar file name inside --cookie-dir")
	cmd.PersistentFlags().IntP(optname.Retries, "r", DefaultRetries, "Number of retries for a transfer that fails with a connection error or 5xx")
	cmd.PersistentFlags().StringArrayP(optname.Header, "H", nil, "Extra request header as 'Name: value', may be repeated")
	cmd.PersistentFlags().Bool(optname.VerifyTLS, false, "Verify the TLS certificate chain of the server")
	cmd.PersistentFlags().BoolP(optname.Verbose, "v", false, "Verbose mode (equivalent to --log-level debug)")
	cmd.PersistentFlags().String(optname.LoggingLevel, "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String(optname.PIDFile, "", "Hold an exclusive lock on this file while downloading")
	cmd.PersistentFlags().String(optname.EnvFile, "", "Load PFETCH_* options from a dotenv file")
	cmd.PersistentFlags().String(optname.MetricsFile, "", "Write Prometheus metrics in text format to this file on exit")

	viper.SetEnvPrefix("PFETCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}
	return nil
}

func PersistentStartupProcessFlags() error {
	if envFile := viper.GetString(optname.EnvFile); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}
	if viper.GetBool(optname.Verbose) {
		viper.Set(optname.LoggingLevel, "debug")
	}
	logging.SetLevel(viper.GetString(optname.LoggingLevel))
	return nil
}

// Load resolves the current flag/env state into a Config.
func Load() (Config, error) {
	cfg := Default()
	chunkSize, err := humanize.ParseBytes(viper.GetString(optname.ChunkSize))
	if err != nil {
		return Config{}, fmt.Errorf("unable to parse chunk size: %w", err)
	}
	if chunkSize == 0 {
		return Config{}, fmt.Errorf("chunk size must be greater than zero")
	}
	cfg.ChunkSize = int64(chunkSize)
	if d := viper.GetDuration(optname.ConnTimeout); d > 0 {
		cfg.ConnectTimeout = d
	}
	if d := viper.GetDuration(optname.Timeout); d > 0 {
		cfg.Timeout = d
	}
	cfg.Overwrite = viper.GetBool(optname.Overwrite)
	cfg.CookieDir = viper.GetString(optname.CookieDir)
	cfg.CookieFile = viper.GetString(optname.CookieFile)
	cfg.Retries = viper.GetInt(optname.Retries)
	if cfg.Retries < 0 {
		return Config{}, fmt.Errorf("retries must not be negative, got %d", cfg.Retries)
	}
	cfg.VerifyTLS = viper.GetBool(optname.VerifyTLS)
	cfg.Headers, err = parseHeaders(viper.GetStringSlice(optname.Header))
	if err != nil {
		return Config{}, err
	}

	logger := logging.GetLogger()
	logger.Debug().
		Str("chunk_size", humanize.IBytes(uint64(cfg.ChunkSize))).
		Dur("connect_timeout", cfg.ConnectTimeout).
		Dur("timeout", cfg.Timeout).
		Bool("overwrite", cfg.Overwrite).
		Int("retries", cfg.Retries).
		Bool("cookies", cfg.CookieJarPath() != "").
		Int("headers", len(cfg.Headers)).
		Msg("Config")
	return cfg, nil
}

func parseHeaders(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(values))
	for _, value := range values {
		name, v, ok := strings.Cut(value, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, expected 'Name: value'", value)
		}
		headers[name] = strings.TrimSpace(v)
	}
	return headers, nil
}
