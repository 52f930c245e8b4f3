// Package config provides configuration management for the crawler.
// It defines configuration structures and default values for crawling parameters.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/masahif/wikitadoru/internal/urlutil"
)

// Output formats understood by the storage package
const (
	FormatJSON   = "json"
	FormatJSONL  = "jsonl"
	FormatSQLite = "sqlite"
	FormatMongo  = "mongo"
)

// OutputConfig selects where and how records are persisted
type OutputConfig struct {
	Format          string `mapstructure:"format" yaml:"format"`                     // json, jsonl, sqlite or mongo
	Path            string `mapstructure:"path" yaml:"path"`                         // File path for json, jsonl and sqlite
	MongoURI        string `mapstructure:"mongo_uri" yaml:"mongo_uri"`               // Connection string for the mongo sink
	MongoDatabase   string `mapstructure:"mongo_database" yaml:"mongo_database"`     // Database name for the mongo sink
	MongoCollection string `mapstructure:"mongo_collection" yaml:"mongo_collection"` // Collection name for the mongo sink
}

// LogConfig holds logging options
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`             // debug, info, warn, error
	File       string `mapstructure:"file" yaml:"file"`               // Optional log file (rotated)
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"` // Rotate after this many megabytes
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"` // Rotated files to keep
}

// CrawlConfig holds crawler configuration
type CrawlConfig struct {
	// Basic crawling parameters
	SeedURL        string        `mapstructure:"seed_url" yaml:"seed_url"`               // Starting URL for crawling
	Limit          int           `mapstructure:"limit" yaml:"limit"`                     // Page-count ceiling (accepted URLs)
	MaxDepth       int           `mapstructure:"max_depth" yaml:"max_depth"`             // Deepest link distance from the seed
	Concurrency    int           `mapstructure:"concurrency" yaml:"concurrency"`         // Number of concurrent workers
	RequestDelay   time.Duration `mapstructure:"request_delay" yaml:"request_delay"`     // Minimum delay between fetches
	PerHostDelay   bool          `mapstructure:"per_host_delay" yaml:"per_host_delay"`   // Apply the delay per host instead of globally
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"` // HTTP request timeout
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`         // Retries on transient fetch failures
	RetryBackoff   time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`     // Base wait between retries
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`   // Response body cap
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`           // HTTP User-Agent header
	Headers        []string      `mapstructure:"headers" yaml:"headers"`                 // Extra headers in "Name: Value" form
	RespectRobots  bool          `mapstructure:"respect_robots" yaml:"respect_robots"`   // Whether to consult robots.txt

	// Extraction
	LinkPrefix      string `mapstructure:"link_prefix" yaml:"link_prefix"`             // Internal article path prefix
	FollowLinks     int    `mapstructure:"follow_links" yaml:"follow_links"`           // Links per page fed back to the frontier
	RecordLinks     int    `mapstructure:"record_links" yaml:"record_links"`           // Links kept on each record
	MaxContentChars int    `mapstructure:"max_content_chars" yaml:"max_content_chars"` // Truncate record content (0=keep all)

	Output   OutputConfig `mapstructure:"output" yaml:"output"`
	Log      LogConfig    `mapstructure:"log" yaml:"log"`
	Progress bool         `mapstructure:"progress" yaml:"progress"` // Show a progress bar on stderr
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *CrawlConfig {
	return &CrawlConfig{
		Limit:          1000,
		MaxDepth:       3,
		Concurrency:    8,
		RequestDelay:   700 * time.Millisecond,
		PerHostDelay:   true,
		RequestTimeout: 30 * time.Second,
		MaxRetries:     2,
		RetryBackoff:   500 * time.Millisecond,
		MaxBodyBytes:   10 * 1024 * 1024,
		UserAgent:      "WikiTadoru/1.0",
		RespectRobots:  true,

		LinkPrefix:      "/wiki/",
		FollowLinks:     15,
		RecordLinks:     10,
		MaxContentChars: 0,

		Output: OutputConfig{
			Format:          FormatJSON,
			Path:            "./data/data.json",
			MongoDatabase:   "wikitadoru",
			MongoCollection: "pages",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
		},
	}
}

// Validate checks if the configuration is valid
func (c *CrawlConfig) Validate() error {
	if strings.TrimSpace(c.SeedURL) == "" {
		return ErrNoSeedURL
	}
	if _, err := urlutil.Normalize(c.SeedURL); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSeedURL, err)
	}

	if c.Limit <= 0 {
		return ErrInvalidLimit
	}

	if c.MaxDepth < 0 {
		return ErrInvalidDepth
	}

	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}

	if c.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.RequestDelay < 0 {
		return ErrInvalidDelay
	}

	if c.MaxRetries < 0 || c.RetryBackoff < 0 {
		return ErrInvalidRetries
	}

	if c.FollowLinks <= 0 || c.RecordLinks <= 0 {
		return ErrInvalidLinkCap
	}

	if c.MaxContentChars < 0 {
		return ErrInvalidContentCap
	}

	if c.LinkPrefix == "" || !strings.HasPrefix(c.LinkPrefix, "/") {
		return ErrInvalidLinkPrefix
	}

	for _, header := range c.Headers {
		if _, _, ok := ParseHeader(header); !ok {
			return fmt.Errorf("%w: %q", ErrInvalidHeader, header)
		}
	}

	switch c.Output.Format {
	case FormatJSON, FormatJSONL, FormatSQLite:
		if c.Output.Path == "" {
			return ErrEmptyOutputPath
		}
	case FormatMongo:
		if c.Output.MongoURI == "" || c.Output.MongoDatabase == "" || c.Output.MongoCollection == "" {
			return ErrIncompleteMongo
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, c.Output.Format)
	}

	return nil
}

// HeaderMap returns the configured extra headers keyed by name
func (c *CrawlConfig) HeaderMap() map[string]string {
	headers := make(map[string]string, len(c.Headers))
	for _, header := range c.Headers {
		if key, value, ok := ParseHeader(header); ok {
			headers[key] = value
		}
	}
	return headers
}

// ParseHeader splits a "Name: Value" header definition
func ParseHeader(header string) (key, value string, ok bool) {
	colonIndex := strings.Index(header, ":")
	if colonIndex <= 0 {
		return "", "", false
	}

	key = strings.TrimSpace(header[:colonIndex])
	value = strings.TrimSpace(header[colonIndex+1:])
	if key == "" || value == "" {
		return "", "", false
	}
	return key, value, true
}
