package config

import "errors"

var (
	// ErrNoSeedURL is returned when no seed URL is provided
	ErrNoSeedURL = errors.New("no seed URL provided")
	// ErrInvalidSeedURL is returned when the seed URL is not an absolute http(s) URL
	ErrInvalidSeedURL = errors.New("seed URL must be an absolute http or https URL")
	// ErrInvalidLimit is returned when the page limit is not greater than 0
	ErrInvalidLimit = errors.New("limit must be greater than 0")
	// ErrInvalidDepth is returned when max depth is negative
	ErrInvalidDepth = errors.New("max_depth cannot be negative")
	// ErrInvalidConcurrency is returned when concurrency is not greater than 0
	ErrInvalidConcurrency = errors.New("concurrency must be greater than 0")
	// ErrInvalidTimeout is returned when request timeout is not greater than 0
	ErrInvalidTimeout = errors.New("request_timeout must be greater than 0")
	// ErrInvalidDelay is returned when request delay is negative
	ErrInvalidDelay = errors.New("request_delay cannot be negative")
	// ErrInvalidRetries is returned when retry settings are negative
	ErrInvalidRetries = errors.New("max_retries and retry_backoff cannot be negative")
	// ErrInvalidLinkCap is returned when a link cap is not greater than 0
	ErrInvalidLinkCap = errors.New("follow_links and record_links must be greater than 0")
	// ErrInvalidContentCap is returned when max_content_chars is negative
	ErrInvalidContentCap = errors.New("max_content_chars cannot be negative")
	// ErrInvalidLinkPrefix is returned when link_prefix is not an absolute path
	ErrInvalidLinkPrefix = errors.New("link_prefix must start with /")
	// ErrInvalidHeader is returned for headers not in "Name: Value" form
	ErrInvalidHeader = errors.New("header must be in 'Name: Value' format")
	// ErrUnknownFormat is returned for an unsupported output format
	ErrUnknownFormat = errors.New("output format must be json, jsonl, sqlite or mongo")
	// ErrEmptyOutputPath is returned when a file-based output has no path
	ErrEmptyOutputPath = errors.New("output path cannot be empty")
	// ErrIncompleteMongo is returned when the mongo sink is missing connection settings
	ErrIncompleteMongo = errors.New("mongo output requires mongo_uri, mongo_database and mongo_collection")
)
