// Package cmd provides the command-line interface for WikiTadoru.
// It handles command parsing, configuration loading, and crawler execution.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/masahif/wikitadoru/internal/config"
	"github.com/masahif/wikitadoru/internal/crawler"
	"github.com/masahif/wikitadoru/internal/logging"
	"github.com/masahif/wikitadoru/internal/storage"
)

const defaultUserAgent = "WikiTadoru/1.0"

var (
	cfgFile   string
	version   string
	buildTime string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "wikitadoru [seed-url]",
	Short: "A breadth-first wiki crawler",
	Long: `WikiTadoru crawls a wiki breadth-first from a seed article.

It follows internal article links up to a page limit and depth,
extracts the title, headings and body text of every page, and
writes one record per page to JSON, JSON Lines, SQLite or MongoDB.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCrawler,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets version information for the CLI
func SetVersionInfo(v, bt string) {
	version = v
	buildTime = bt
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
}

func init() {
	cobra.OnInitialize(initConfig)

	defaults := config.DefaultConfig()
	flags := rootCmd.Flags()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./wikitadoru.yml)")
	flags.Bool("show-config", false, "Display current configuration in YAML format and exit")

	// Crawl scope
	flags.IntP("limit", "l", defaults.Limit, "Stop after N accepted pages")
	flags.IntP("max-depth", "d", defaults.MaxDepth, "Maximum link distance from the seed")
	flags.IntP("concurrency", "c", defaults.Concurrency, "Number of concurrent workers")

	// Politeness and HTTP
	flags.DurationP("delay", "r", defaults.RequestDelay, "Minimum delay between requests")
	flags.Bool("per-host-delay", defaults.PerHostDelay, "Apply the delay per host instead of globally")
	flags.DurationP("timeout", "t", defaults.RequestTimeout, "HTTP request timeout")
	flags.Int("max-retries", defaults.MaxRetries, "Retries on transient fetch failures")
	flags.Duration("retry-backoff", defaults.RetryBackoff, "Base wait between retries")
	flags.Int64("max-body-bytes", defaults.MaxBodyBytes, "Maximum response body size")
	flags.StringP("user-agent", "u", defaults.UserAgent, "HTTP User-Agent header")
	flags.StringSliceP("header", "H", []string{}, "Custom HTTP headers in 'Name: Value' format (use multiple times for multiple headers)")
	flags.Bool("respect-robots", defaults.RespectRobots, "Obey robots.txt rules")

	// Extraction
	flags.String("link-prefix", defaults.LinkPrefix, "Path prefix of internal article links")
	flags.Int("follow-links", defaults.FollowLinks, "Links per page added to the crawl queue")
	flags.Int("record-links", defaults.RecordLinks, "Links kept on each record")
	flags.Int("max-content-chars", defaults.MaxContentChars, "Truncate record content (0=unlimited)")

	// Output
	flags.StringP("format", "f", defaults.Output.Format, "Output format: json, jsonl, sqlite or mongo")
	flags.StringP("output", "o", defaults.Output.Path, "Output file path")
	flags.String("mongo-uri", defaults.Output.MongoURI, "MongoDB connection string")
	flags.String("mongo-database", defaults.Output.MongoDatabase, "MongoDB database name")
	flags.String("mongo-collection", defaults.Output.MongoCollection, "MongoDB collection name")
	flags.BoolP("progress", "p", false, "Show a progress bar on stderr")

	// Logging
	flags.String("log-level", defaults.Log.Level, "Log level: debug, info, warn or error")
	flags.String("log-file", defaults.Log.File, "Also write logs to this file (rotated)")
	flags.Int("log-max-size", defaults.Log.MaxSizeMB, "Rotate the log file after this many megabytes")
	flags.Int("log-max-backups", defaults.Log.MaxBackups, "Rotated log files to keep")

	if err := bindFlags(viper.GetViper(), rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

// flagBindings maps viper keys to flag names
var flagBindings = []struct {
	viperKey string
	flagName string
}{
	{"limit", "limit"},
	{"max_depth", "max-depth"},
	{"concurrency", "concurrency"},
	{"request_delay", "delay"},
	{"per_host_delay", "per-host-delay"},
	{"request_timeout", "timeout"},
	{"max_retries", "max-retries"},
	{"retry_backoff", "retry-backoff"},
	{"max_body_bytes", "max-body-bytes"},
	{"user_agent", "user-agent"},
	{"headers", "header"},
	{"respect_robots", "respect-robots"},
	{"link_prefix", "link-prefix"},
	{"follow_links", "follow-links"},
	{"record_links", "record-links"},
	{"max_content_chars", "max-content-chars"},
	{"output.format", "format"},
	{"output.path", "output"},
	{"output.mongo_uri", "mongo-uri"},
	{"output.mongo_database", "mongo-database"},
	{"output.mongo_collection", "mongo-collection"},
	{"progress", "progress"},
	{"log.level", "log-level"},
	{"log.file", "log-file"},
	{"log.max_size_mb", "log-max-size"},
	{"log.max_backups", "log-max-backups"},
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	var errs []error
	for _, bind := range flagBindings {
		if err := v.BindPFlag(bind.viperKey, cmd.Flags().Lookup(bind.flagName)); err != nil {
			errs = append(errs, fmt.Errorf("failed to bind flag %s: %w", bind.flagName, err))
		}
	}
	return errors.Join(errs...)
}

func configureEnv(v *viper.Viper) {
	v.SetEnvPrefix("WT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	// seed_url has no flag, so Unmarshal only sees it once it is a known key
	_ = v.BindEnv("seed_url")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("wikitadoru")
	}

	configureEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// loadConfig layers the values known to v over the defaults.
// A positional seed URL wins over every other source.
func loadConfig(v *viper.Viper, args []string) (*config.CrawlConfig, error) {
	cfg := config.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(args) > 0 {
		cfg.SeedURL = args[0]
	}
	return cfg, nil
}

func generateUserAgent() string {
	if version != "" && version != "dev" {
		return fmt.Sprintf("WikiTadoru/%s", version)
	}
	return "WikiTadoru/dev"
}

func showCurrentConfig(w io.Writer, cfg *config.CrawlConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Configuration validation failed: %v\n", err)
		fmt.Fprintf(os.Stderr, "Displaying configuration anyway...\n\n")
	}

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}

	fmt.Fprintf(w, "# Current WikiTadoru Configuration\n")
	fmt.Fprintf(w, "# Generated at: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(w, "# Configuration file search paths: ./wikitadoru.yml\n")
	fmt.Fprintf(w, "# Environment variables prefix: WT_\n\n")

	fmt.Fprint(w, string(yamlData))

	fmt.Fprintf(w, "\n# Configuration source priority:\n")
	fmt.Fprintf(w, "# 1. Command-line arguments (highest priority)\n")
	fmt.Fprintf(w, "# 2. Environment variables (WT_ prefix)\n")
	fmt.Fprintf(w, "# 3. Configuration file (wikitadoru.yml)\n")
	fmt.Fprintf(w, "# 4. Default values (lowest priority)\n")

	return nil
}

func runCrawler(cmd *cobra.Command, args []string) error {
	showConfig, _ := cmd.Flags().GetBool("show-config")

	cfg, err := loadConfig(viper.GetViper(), args)
	if err != nil {
		return err
	}

	if !cmd.Flags().Changed("user-agent") && cfg.UserAgent == defaultUserAgent {
		cfg.UserAgent = generateUserAgent()
	}

	if showConfig {
		return showCurrentConfig(cmd.OutOrStdout(), cfg)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg, cmd.ErrOrStderr())
}

// run executes one crawl with a validated configuration
func run(ctx context.Context, cfg *config.CrawlConfig, progressOut io.Writer) error {
	logCloser, err := logging.SetDefault(loggingConfig(cfg.Log))
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer func() { _ = logCloser.Close() }()

	slog.Info("Starting crawler with configuration",
		"seed_url", cfg.SeedURL,
		"limit", cfg.Limit,
		"max_depth", cfg.MaxDepth,
		"concurrency", cfg.Concurrency,
		"request_delay", cfg.RequestDelay,
		"respect_robots", cfg.RespectRobots,
		"format", cfg.Output.Format,
		"output", outputTarget(cfg.Output))

	sink, err := storage.Open(ctx, cfg.Output)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if cfg.Progress {
		sink = storage.NewProgressSink(sink, cfg.Limit, progressOut)
	}

	c, err := crawler.NewCrawler(cfg, sink)
	if err != nil {
		_ = sink.Close()
		return fmt.Errorf("failed to initialize crawler: %w", err)
	}
	defer func() { _ = c.Stop() }()

	crawlErr := c.Start(ctx)
	if closeErr := sink.Close(); closeErr != nil {
		return errors.Join(crawlErr, fmt.Errorf("failed to close storage: %w", closeErr))
	}
	return crawlErr
}

// loggingConfig overlays the configured log options on the logging defaults
func loggingConfig(logCfg config.LogConfig) logging.Config {
	out := *logging.DefaultConfig()
	out.Level = logging.ParseLevel(logCfg.Level)
	out.FilePath = logCfg.File
	if logCfg.MaxSizeMB > 0 {
		out.MaxSize = logCfg.MaxSizeMB
	}
	if logCfg.MaxBackups > 0 {
		out.MaxBackups = logCfg.MaxBackups
	}
	return out
}

func outputTarget(out config.OutputConfig) string {
	if out.Format == config.FormatMongo {
		return out.MongoDatabase + "." + out.MongoCollection
	}
	return out.Path
}
