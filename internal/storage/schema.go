package storage

const schemaSQL = `
-- One row per crawled page, keyed by the stable record id.
-- Re-crawling a page replaces its row.
CREATE TABLE IF NOT EXISTS records (
    id TEXT PRIMARY KEY NOT NULL,
    url TEXT UNIQUE NOT NULL,
    title TEXT NOT NULL,
    headings TEXT NOT NULL DEFAULT '[]', -- JSON array
    content TEXT NOT NULL,
    links TEXT NOT NULL DEFAULT '[]',    -- JSON array
    crawled_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_records_crawled ON records(crawled_at);

-- Pages that were abandoned, with the stage that failed
CREATE TABLE IF NOT EXISTS crawl_errors (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    url TEXT NOT NULL,
    depth INTEGER NOT NULL DEFAULT 0,
    error_type TEXT NOT NULL,
    error_message TEXT,
    occurred_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_errors_url ON crawl_errors(url);
CREATE INDEX IF NOT EXISTS idx_errors_type ON crawl_errors(error_type);
CREATE INDEX IF NOT EXISTS idx_errors_occurred ON crawl_errors(occurred_at);

-- Crawl meta table stores metadata as key-value pairs
CREATE TABLE IF NOT EXISTS crawl_meta (
    key TEXT PRIMARY KEY NOT NULL,
    value TEXT NOT NULL
);
`
