package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/masahif/wikitadoru/internal/crawler"
	// SQLite database driver (CGO-free)
	_ "modernc.org/sqlite"
)

// Keys written to crawl_meta at the end of every run
const (
	MetaRunID        = "last_run_id"
	MetaRunStarted   = "last_run_started_at"
	MetaRunDuration  = "last_run_duration"
	MetaPagesCrawled = "last_run_pages_crawled"
	MetaPagesFailed  = "last_run_pages_failed"
	MetaPagesQueued  = "last_run_pages_queued"
)

// SQLiteStorage persists records, page failures and run metadata in SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := ensureDir(dbPath); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool - single connection prevents lock conflicts
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	storage := &SQLiteStorage{db: db}

	if err := storage.InitSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// InitSchema creates the database schema
func (s *SQLiteStorage) InitSchema() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000", // 64MB cache
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 30000", // 30 second timeout for locks
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Emit stores a record, replacing any earlier row with the same id
func (s *SQLiteStorage) Emit(ctx context.Context, record *crawler.Record) error {
	doc := NewDocument(record)

	headings, err := json.Marshal(doc.Metadata.Headings)
	if err != nil {
		return fmt.Errorf("failed to encode headings: %w", err)
	}
	links, err := json.Marshal(doc.Metadata.Links)
	if err != nil {
		return fmt.Errorf("failed to encode links: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO records (id, url, title, headings, content, links, crawled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.Metadata.URL, doc.Metadata.Title, string(headings), doc.Content, string(links), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save record %s: %w", record.URL, err)
	}
	return nil
}

// RecordFailure saves a page failure to the crawl_errors table
func (s *SQLiteStorage) RecordFailure(ctx context.Context, failure *crawler.PageFailure) error {
	message := ""
	if failure.Err != nil {
		message = failure.Err.Error()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crawl_errors (url, depth, error_type, error_message, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`, failure.URL, failure.Depth, string(failure.Stage), message, failure.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to save error: %w", err)
	}
	return nil
}

// RecordRun stores the statistics of a finished run in crawl_meta
func (s *SQLiteStorage) RecordRun(ctx context.Context, stats crawler.CrawlStats) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	values := map[string]string{
		MetaRunID:        stats.RunID,
		MetaRunStarted:   stats.StartTime.UTC().Format(time.RFC3339),
		MetaRunDuration:  stats.Duration.String(),
		MetaPagesCrawled: strconv.Itoa(stats.PagesCrawled),
		MetaPagesFailed:  strconv.Itoa(stats.PagesFailed),
		MetaPagesQueued:  strconv.Itoa(stats.PagesQueued),
	}
	for key, value := range values {
		if _, err := tx.ExecContext(ctx, "INSERT OR REPLACE INTO crawl_meta (key, value) VALUES (?, ?)", key, value); err != nil {
			return fmt.Errorf("failed to set meta %s: %w", key, err)
		}
	}

	return tx.Commit()
}

// GetMeta retrieves a metadata value
func (s *SQLiteStorage) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM crawl_meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get meta: %w", err)
	}
	return value, nil
}

// SetMeta stores a metadata value
func (s *SQLiteStorage) SetMeta(key, value string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO crawl_meta (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("failed to set meta: %w", err)
	}
	return nil
}

// GetRecord loads a stored record by id. It returns nil when no row exists.
func (s *SQLiteStorage) GetRecord(ctx context.Context, id string) (*crawler.Record, error) {
	var (
		record          crawler.Record
		headings, links string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, url, title, headings, content, links FROM records WHERE id = ?", id,
	).Scan(&record.ID, &record.URL, &record.Title, &headings, &record.Content, &links)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	if err := json.Unmarshal([]byte(headings), &record.Headings); err != nil {
		return nil, fmt.Errorf("failed to decode headings: %w", err)
	}
	if err := json.Unmarshal([]byte(links), &record.Links); err != nil {
		return nil, fmt.Errorf("failed to decode links: %w", err)
	}
	return &record, nil
}

// CountRecords returns the number of stored records
func (s *SQLiteStorage) CountRecords(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// CountFailures returns the number of stored failures per stage
func (s *SQLiteStorage) CountFailures(ctx context.Context) (map[crawler.FailureStage]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT error_type, COUNT(*) FROM crawl_errors GROUP BY error_type")
	if err != nil {
		return nil, fmt.Errorf("failed to count failures: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[crawler.FailureStage]int)
	for rows.Next() {
		var (
			stage string
			count int
		)
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, fmt.Errorf("failed to scan failure count: %w", err)
		}
		counts[crawler.FailureStage(stage)] = count
	}
	return counts, rows.Err()
}
