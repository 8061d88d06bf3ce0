package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/codelaboratoryltd/aaad/pkg/accounting"
	"github.com/codelaboratoryltd/aaad/pkg/metrics"
	"github.com/codelaboratoryltd/aaad/pkg/retention"
	"github.com/codelaboratoryltd/aaad/pkg/store"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "aaad",
	Short: "AAA accounting core for ISP subscriber management",
	Long: `aaad - persistent AAA backend: subscriber credentials, reply
attributes, policy groups, NAS registry and session accounting,
with scheduled retention of closed accounting records.

The AAA transport decodes device events and calls into this core;
aaad itself owns the store, the session lifecycle and retention.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open the store and run background jobs",
	RunE:  runCore,
}

var retentionCmd = &cobra.Command{
	Use:   "retention <days>",
	Short: "Delete closed sessions older than <days> days",
	Args:  cobra.ExactArgs(1),
	RunE:  runRetention,
}

var (
	dbPath      string
	configFile  string
	logLevel    string
	metricsAddr string

	// Storage tuning
	poolSize      int
	busyTimeoutMS int
	synchronous   string
	cacheKB       int

	// Retention configuration
	retentionDays int
	sweepInterval time.Duration
	vacuumAfter   bool
)

func init() {
	for _, cmd := range []*cobra.Command{runCmd, retentionCmd} {
		cmd.Flags().StringVar(&dbPath, "db", "/var/lib/aaad/aaad.db",
			"Path to the SQLite database file")
		cmd.Flags().StringVarP(&configFile, "config", "c", "/etc/aaad/config.yaml",
			"Configuration file path")
		cmd.Flags().StringVarP(&logLevel, "log-level", "l", "info",
			"Log level (debug, info, warn, error)")
		cmd.Flags().IntVar(&poolSize, "pool-size", 0,
			"Connection pool size (0 = number of CPUs, minimum 4)")
		cmd.Flags().IntVar(&busyTimeoutMS, "busy-timeout-ms", 5000,
			"Lock wait bound before a contended write fails as retryable")
		cmd.Flags().StringVar(&synchronous, "synchronous", "NORMAL",
			"Commit durability level (OFF, NORMAL, FULL)")
		cmd.Flags().IntVar(&cacheKB, "cache-kb", 8192,
			"Per-connection page cache size in KiB")
	}

	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090",
		"Prometheus metrics listen address")
	runCmd.Flags().IntVar(&retentionDays, "retention-days", 365,
		"Age past which closed sessions are deleted by the sweeper")
	runCmd.Flags().DurationVar(&sweepInterval, "sweep-interval", 24*time.Hour,
		"How often the retention sweeper runs")

	retentionCmd.Flags().BoolVar(&vacuumAfter, "vacuum", false,
		"Compact the database file after the sweep")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(retentionCmd)
}

func runCore(cmd *cobra.Command, args []string) error {
	logger, err := initLogger(logLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	// Load config file before consuming flag values.
	// CLI flags that were explicitly set take precedence.
	if err := loadConfigFile(cmd, logger); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("Starting AAA core",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("db", dbPath),
	)

	db, err := store.Open(storeConfig(), logger)
	if err != nil {
		return err
	}
	defer db.Close()

	m := metrics.New(logger)
	if err := m.Register(); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	go func() {
		if err := m.Serve(metricsAddr); err != nil {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	job := retention.NewJob(db, m, logger)
	sweeper := retention.NewSweeper(job, retention.SweeperConfig{
		RetentionDays: retentionDays,
		Interval:      sweepInterval,
	}, logger)
	sweeper.Start()
	defer sweeper.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go refreshActiveGauge(ctx, accounting.NewQuery(db), m, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	return nil
}

// refreshActiveGauge keeps the open-session gauge current. The count is
// a read projection; the session manager does not track it in memory.
func refreshActiveGauge(ctx context.Context, query *accounting.Query, m *metrics.Metrics, logger *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := query.ActiveSessionCount(ctx)
			if err != nil {
				logger.Warn("Failed to count active sessions", zap.Error(err))
				continue
			}
			m.SetActiveSessions(count)
		}
	}
}

func runRetention(cmd *cobra.Command, args []string) error {
	logger, err := initLogger(logLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	if err := loadConfigFile(cmd, logger); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	days, err := strconv.Atoi(args[0])
	if err != nil || days < 0 {
		return fmt.Errorf("invalid retention days %q: must be a non-negative integer", args[0])
	}

	db, err := store.Open(storeConfig(), logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	deleted, err := retention.NewJob(db, nil, logger).Run(ctx, days)
	if err != nil {
		logger.Error("Retention sweep failed", zap.Error(err))
		return err
	}

	logger.Info("Retention sweep finished",
		zap.Int("days", days),
		zap.Int("deleted", deleted),
	)

	if vacuumAfter {
		if err := db.Vacuum(ctx); err != nil {
			logger.Error("Vacuum failed", zap.Error(err))
			return err
		}
	}
	return nil
}

func storeConfig() store.Config {
	cfg := store.DefaultConfig()
	cfg.Path = dbPath
	if poolSize > 0 {
		cfg.PoolSize = poolSize
	}
	cfg.BusyTimeoutMS = busyTimeoutMS
	cfg.Synchronous = synchronous
	cfg.CacheKB = cacheKB
	return cfg
}

func initLogger(level string) (*zap.Logger, error) {
	var zapLevel zap.AtomicLevel
	switch level {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	config := zap.NewProductionConfig()
	config.Level = zapLevel
	config.Encoding = "json"

	return config.Build()
}

// loadConfigFile reads a YAML config file and applies values to unset flags.
// CLI flags take precedence over config file values.
func loadConfigFile(cmd *cobra.Command, logger *zap.Logger) error {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg map[string]string
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", configFile, err)
	}

	logger.Info("Loaded config file", zap.String("path", configFile), zap.Int("keys", len(cfg)))

	for key, val := range cfg {
		f := cmd.Flags().Lookup(key)
		if f == nil {
			logger.Warn("Unknown config key, skipping", zap.String("key", key))
			continue
		}
		if cmd.Flags().Changed(key) {
			continue
		}
		if err := cmd.Flags().Set(key, val); err != nil {
			logger.Warn("Failed to set config value",
				zap.String("key", key),
				zap.String("value", val),
				zap.Error(err),
			)
		}
	}

	return nil
}
