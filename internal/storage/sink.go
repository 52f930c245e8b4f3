// Package storage provides record sinks for the crawler.
// Records can be written to a JSON array file, a JSON Lines file, SQLite or MongoDB.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/masahif/wikitadoru/internal/config"
	"github.com/masahif/wikitadoru/internal/crawler"
)

// Document is the persisted form of a record
type Document struct {
	ID       string   `json:"id" bson:"_id"`
	Content  string   `json:"content" bson:"content"`
	Metadata Metadata `json:"metadata" bson:"metadata"`
}

// Metadata groups the descriptive fields of a document
type Metadata struct {
	URL      string   `json:"url" bson:"url"`
	Title    string   `json:"title" bson:"title"`
	Headings []string `json:"headings" bson:"headings"`
	Links    []string `json:"links" bson:"links"`
}

// NewDocument converts a record to its persisted form
func NewDocument(record *crawler.Record) Document {
	headings := record.Headings
	if headings == nil {
		headings = []string{}
	}
	links := record.Links
	if links == nil {
		links = []string{}
	}

	return Document{
		ID:      record.ID,
		Content: record.Content,
		Metadata: Metadata{
			URL:      record.URL,
			Title:    record.Title,
			Headings: headings,
			Links:    links,
		},
	}
}

// Open creates the sink selected by cfg
func Open(ctx context.Context, cfg config.OutputConfig) (crawler.RecordSink, error) {
	switch cfg.Format {
	case config.FormatJSON:
		return NewJSONSink(cfg.Path)
	case config.FormatJSONL:
		return NewJSONLSink(cfg.Path)
	case config.FormatSQLite:
		return NewSQLiteStorage(cfg.Path)
	case config.FormatMongo:
		return NewMongoSink(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownFormat, cfg.Format)
	}
}

// ensureDir creates the parent directory of path
func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	return nil
}
