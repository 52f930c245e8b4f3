package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/masahif/wikitadoru/internal/crawler"
)

// MongoSink upserts documents into a MongoDB collection keyed by record id.
// Failures and run statistics go to sibling collections.
type MongoSink struct {
	client    *mongo.Client
	documents *mongo.Collection
	failures  *mongo.Collection
	runs      *mongo.Collection
	timeout   time.Duration
}

type failureDocument struct {
	URL        string    `bson:"url"`
	Depth      int       `bson:"depth"`
	Stage      string    `bson:"stage"`
	Message    string    `bson:"message"`
	OccurredAt time.Time `bson:"occurred_at"`
}

type runDocument struct {
	RunID        string    `bson:"_id"`
	StartTime    time.Time `bson:"start_time"`
	DurationMS   int64     `bson:"duration_ms"`
	PagesCrawled int       `bson:"pages_crawled"`
	PagesFailed  int       `bson:"pages_failed"`
	PagesQueued  int       `bson:"pages_queued"`
}

// NewMongoSink connects to uri and verifies the connection with a ping
func NewMongoSink(ctx context.Context, uri, database, collection string) (*MongoSink, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(database)
	sink := &MongoSink{
		client:    client,
		documents: db.Collection(collection),
		failures:  db.Collection(collection + "_errors"),
		runs:      db.Collection(collection + "_runs"),
		timeout:   5 * time.Second,
	}

	indexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "metadata.url", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := sink.documents.Indexes().CreateOne(ctx, indexModel); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create url index: %w", err)
	}

	return sink, nil
}

// Emit upserts the document, so a re-crawled page replaces its earlier version
func (m *MongoSink) Emit(ctx context.Context, record *crawler.Record) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	doc := NewDocument(record)
	opts := options.Replace().SetUpsert(true)
	if _, err := m.documents.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, opts); err != nil {
		return fmt.Errorf("failed to save record %s: %w", record.URL, err)
	}
	return nil
}

// RecordFailure inserts one failure document
func (m *MongoSink) RecordFailure(ctx context.Context, failure *crawler.PageFailure) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	doc := failureDocument{
		URL:        failure.URL,
		Depth:      failure.Depth,
		Stage:      string(failure.Stage),
		OccurredAt: failure.OccurredAt,
	}
	if failure.Err != nil {
		doc.Message = failure.Err.Error()
	}

	if _, err := m.failures.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to save error: %w", err)
	}
	return nil
}

// RecordRun stores the statistics of a finished run
func (m *MongoSink) RecordRun(ctx context.Context, stats crawler.CrawlStats) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	doc := runDocument{
		RunID:        stats.RunID,
		StartTime:    stats.StartTime,
		DurationMS:   stats.Duration.Milliseconds(),
		PagesCrawled: stats.PagesCrawled,
		PagesFailed:  stats.PagesFailed,
		PagesQueued:  stats.PagesQueued,
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := m.runs.ReplaceOne(ctx, bson.M{"_id": doc.RunID}, doc, opts); err != nil {
		return fmt.Errorf("failed to save run metadata: %w", err)
	}
	return nil
}

// Get loads a document by record id. It returns nil when none exists.
func (m *MongoSink) Get(ctx context.Context, id string) (*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var doc Document
	err := m.documents.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return &doc, nil
}

// Close disconnects from MongoDB
func (m *MongoSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
