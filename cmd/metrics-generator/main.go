package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/opscart/k8s-metrics-generator/pkg/catalog"
	"github.com/opscart/k8s-metrics-generator/pkg/config"
	"github.com/opscart/k8s-metrics-generator/pkg/logging"
	"github.com/opscart/k8s-metrics-generator/pkg/pattern"
	"github.com/opscart/k8s-metrics-generator/pkg/simulator"
)

var (
	// Global flags
	cfgFile string

	// Window flags shared by backfill, preview and export
	until string

	// catalog flags
	dumpDefinitions bool

	// preview/export flags
	reportFormat string
	exportOutput string

	v = config.NewViper()
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var rootCmd = &cobra.Command{
		Use:   "metrics-generator",
		Short: "Synthetic Kubernetes workload metrics generator",
		Long: `Generate realistic CPU, memory and network usage for the workloads of three
simulated clusters. Backfills a historical window, then keeps producing live
samples and exposes the latest values in Prometheus format.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			return config.ReadFile(v, cfgFile)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default $HOME/.metrics-generator.yaml)")
	pf.Int64("seed", 0, "Master random seed; 0 picks one and logs it")
	pf.String("catalog-file", "", "Workload catalog YAML (default: built-in catalog)")
	pf.String("timezone", "UTC", "Time zone for business and nightly hours")
	pf.String("epoch", "", "Growth epoch, RFC3339 (default: start of the historical window)")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-format", "text", "Log format: text, json")
	pf.Int("historical-days", 7, "Days of history to generate")
	pf.Duration("historical-interval", 30*time.Minute, "Spacing of historical samples")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Backfill history, then generate live samples until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runGenerator,
	}
	storageFlags(runCmd)
	runCmd.Flags().Duration("interval", 60*time.Second, "Live generation interval")
	runCmd.Flags().Bool("generate-historical", true, "Backfill the historical window before going live")
	runCmd.Flags().String("metrics-addr", ":8001", "Listen address for /metrics and /healthz")

	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Write the historical window to the store and exit",
		Long: `Write the historical window to the store and exit. Re-running with the same
seed and --until rewrites nothing: existing samples are skipped.`,
		Args: cobra.NoArgs,
		RunE: runBackfill,
	}
	storageFlags(backfillCmd)
	backfillCmd.Flags().StringVar(&until, "until", "", "Watermark the window ends at, RFC3339 (default: now)")

	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the simulated clusters and workloads",
		Args:  cobra.NoArgs,
		RunE:  runCatalog,
	}
	catalogCmd.Flags().BoolVar(&dumpDefinitions, "dump", false, "Print the built-in catalog YAML instead")

	previewCmd := &cobra.Command{
		Use:   "preview",
		Short: "Generate a window in memory and summarise each workload",
		Args:  cobra.NoArgs,
		RunE:  runPreview,
	}
	previewCmd.Flags().StringVar(&until, "until", "", "Watermark the window ends at, RFC3339 (default: now)")
	previewCmd.Flags().StringVarP(&reportFormat, "output", "o", "text", "Output format: text, csv")

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the samples a backfill would store as CSV",
		Args:  cobra.NoArgs,
		RunE:  runExport,
	}
	exportCmd.Flags().StringVar(&until, "until", "", "Watermark the window ends at, RFC3339 (default: now)")
	exportCmd.Flags().StringVarP(&exportOutput, "file", "f", "-", "Output file, - for stdout")

	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Generate one live round and print the exposition without serving it",
		Args:  cobra.NoArgs,
		RunE:  runSnapshot,
	}

	rootCmd.AddCommand(runCmd, backfillCmd, catalogCmd, previewCmd, exportCmd, snapshotCmd)
	return rootCmd
}

func storageFlags(cmd *cobra.Command) {
	cmd.Flags().String("storage-type", "postgres", "Store: postgres, mysql, memory")
	cmd.Flags().String("database-url", "", "Store DSN (default: local development database)")
	cmd.Flags().Int("batch-size", 1000, "Samples per persistence batch")
}

// flagKeys maps command-line flags to configuration keys
var flagKeys = map[string]string{
	"seed":                config.KeySeed,
	"catalog-file":        config.KeyCatalogFile,
	"timezone":            config.KeyTimezone,
	"epoch":               config.KeyEpoch,
	"log-level":           config.KeyLogLevel,
	"log-format":          config.KeyLogFormat,
	"historical-days":     config.KeyHistoricalDays,
	"historical-interval": config.KeyHistoricalInterval,
	"interval":            config.KeyGenerationInterval,
	"generate-historical": config.KeyGenerateHistorical,
	"metrics-addr":        config.KeyMetricsAddr,
	"storage-type":        config.KeyStorageType,
	"database-url":        config.KeyDatabaseURL,
	"batch-size":          config.KeyBatchSize,
}

// bindFlags binds the flags of the command being executed, so a flag set on
// the command line overrides the environment and the config file
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for flag, key := range flagKeys {
		f := fs.Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

// setup loads configuration and configures logging
func setup(v *viper.Viper) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// masterSeed returns the configured seed or a fresh one, logged so the run
// can be replayed
func masterSeed(cfg *config.Config, log logrus.FieldLogger) int64 {
	seed := cfg.Seed
	if seed == 0 {
		seed = simulator.ProcessSeed()
	}
	log.WithField("seed", seed).Info("Using master seed (replay with --seed)")
	return seed
}

func parseWatermark(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return now, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, &config.ConfigurationError{Key: "until", Reason: fmt.Sprintf("must be RFC3339: %v", err)}
	}
	return t, nil
}

func newEngine(cfg *config.Config) (*simulator.Engine, error) {
	patterns, err := pattern.NewEngine(cfg.PatternParams())
	if err != nil {
		return nil, err
	}
	return simulator.NewEngine(patterns, cfg.NoiseFraction)
}

// loadCatalog builds the catalog with the epoch resolved for watermark
func loadCatalog(cfg *config.Config, watermark time.Time, log logrus.FieldLogger) (*catalog.Catalog, error) {
	epoch := cfg.ResolveEpoch(watermark)
	cat, err := catalog.Load(cfg.CatalogFile, epoch)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"clusters":  len(cat.Clusters()),
		"workloads": cat.Len(),
		"epoch":     epoch.Format(time.RFC3339),
	}).Info("Loaded workload catalog")
	return cat, nil
}
