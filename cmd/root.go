package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nexus-scanner/nexus/internal/config"
	"github.com/nexus-scanner/nexus/internal/logger"
)

var (
	cfg     config.Config
	log     *logger.Logger
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "nexus",
	Short: "Security posture scanner",
	Long: `Nexus - Security Posture Scanner

Crawls a target site to a bounded depth and evaluates every discovered
resource against a set of pluggable detectors: security headers, technology
fingerprinting, WAF and CDN identification, TLS configuration grading, and
an open-port survey of the host.

USAGE:
  nexus scan example.com           # Scan a target and print findings
  nexus scan https://example.com --depth 3 --json report.json
  nexus serve                      # Start the REST API and event stream
  nexus results list               # List persisted scans
  nexus results findings <scan-id> # Show findings for a scan`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		var err error
		log, err = logger.New(cfg.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			if err := log.Sync(); err != nil {
				// Sync on stdout/stderr fails with EINVAL on Linux; ignore.
				if !strings.Contains(err.Error(), "invalid argument") {
					fmt.Fprintf(os.Stderr, "Warning: failed to sync logger: %v\n", err)
				}
			}
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./nexus.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (json, console)")
	viper.BindPFlag("logger.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logger.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.PersistentFlags().String("cache-backend", "memory", "cache backend (memory, redis)")
	viper.BindPFlag("cache.backend", rootCmd.PersistentFlags().Lookup("cache-backend"))

	rootCmd.PersistentFlags().String("redis-addr", "localhost:6379", "Redis server address")
	rootCmd.PersistentFlags().String("redis-password", "", "Redis password")
	viper.BindPFlag("redis.addr", rootCmd.PersistentFlags().Lookup("redis-addr"))
	viper.BindPFlag("redis.password", rootCmd.PersistentFlags().Lookup("redis-password"))
	viper.BindEnv("redis.addr", "NEXUS_REDIS_ADDR", "REDIS_URL")
	viper.BindEnv("redis.password", "NEXUS_REDIS_PASSWORD")

	rootCmd.PersistentFlags().String("db-dsn", "", "PostgreSQL connection string (empty disables persistence)")
	viper.BindPFlag("database.dsn", rootCmd.PersistentFlags().Lookup("db-dsn"))
	viper.BindEnv("database.dsn", "NEXUS_DATABASE_DSN", "DATABASE_URL")

	rootCmd.PersistentFlags().Int("workers", 20, "Shared worker pool size")
	viper.BindPFlag("engine.workers", rootCmd.PersistentFlags().Lookup("workers"))
}

func initConfig() error {
	defaults := config.Default()
	viper.SetDefault("logger.level", defaults.Logger.Level)
	viper.SetDefault("logger.format", defaults.Logger.Format)
	viper.SetDefault("telemetry.enabled", defaults.Telemetry.Enabled)
	viper.SetDefault("telemetry.service_name", defaults.Telemetry.ServiceName)
	viper.SetDefault("telemetry.sample_rate", defaults.Telemetry.SampleRate)
	viper.SetDefault("engine.workers", defaults.Engine.Workers)
	viper.SetDefault("engine.fetch_timeout", defaults.Engine.FetchTimeout)
	viper.SetDefault("engine.progress_every", defaults.Engine.ProgressEvery)
	viper.SetDefault("engine.cancel_grace", defaults.Engine.CancelGrace)
	viper.SetDefault("engine.event_buffer_size", defaults.Engine.EventBufferSize)
	viper.SetDefault("engine.user_agent", defaults.Engine.UserAgent)
	viper.SetDefault("cache.backend", defaults.Cache.Backend)
	viper.SetDefault("cache.max_entries", defaults.Cache.MaxEntries)
	viper.SetDefault("cache.default_ttl", defaults.Cache.DefaultTTL)
	viper.SetDefault("redis.addr", defaults.Redis.Addr)
	viper.SetDefault("redis.max_retries", defaults.Redis.MaxRetries)
	viper.SetDefault("redis.dial_timeout", defaults.Redis.DialTimeout)
	viper.SetDefault("database.driver", defaults.Database.Driver)
	viper.SetDefault("database.max_connections", defaults.Database.MaxConnections)
	viper.SetDefault("database.max_idle_conns", defaults.Database.MaxIdleConns)
	viper.SetDefault("database.conn_max_lifetime", defaults.Database.ConnMaxLifetime)
	viper.SetDefault("server.host", defaults.Server.Host)
	viper.SetDefault("server.port", defaults.Server.Port)
	viper.SetDefault("rate_limit.requests_per_second", defaults.RateLimit.RequestsPerSecond)
	viper.SetDefault("rate_limit.burst_size", defaults.RateLimit.BurstSize)
	viper.SetDefault("rate_limit.min_delay", defaults.RateLimit.MinDelay)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("nexus")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.nexus")
		viper.AddConfigPath("/etc/nexus")
	}

	viper.SetEnvPrefix("NEXUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}
