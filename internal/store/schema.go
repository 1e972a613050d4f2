package store

import "fmt"

// schemaSQL returns the full DDL for the database. dim sizes the vec0
// virtual table's embedding column; it is fixed once at first startup by
// whichever embedding backend is active (see internal/embed).
func schemaSQL(dim int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS documents (
    file_path     TEXT PRIMARY KEY,
    file_name     TEXT NOT NULL,
    last_modified INTEGER NOT NULL,
    total_chunks  INTEGER NOT NULL DEFAULT 0,
    total_tokens  INTEGER NOT NULL DEFAULT 0,
    created_at    TEXT NOT NULL DEFAULT (strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ', 'now')),
    updated_at    TEXT NOT NULL DEFAULT (strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_documents_file_name ON documents(file_name);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
    chunk_id      TEXT PRIMARY KEY,
    embedding     float[%d],
    file_path     TEXT,
    chunk_index   INTEGER,
    content       TEXT,
    chunk_offset  INTEGER,
    token_count   INTEGER,
    created_at    TEXT
);

CREATE TABLE IF NOT EXISTS search_recommendations (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    query              TEXT NOT NULL,
    suggested_terms    TEXT NOT NULL,
    strategy           TEXT NOT NULL,
    tfidf_threshold    REAL NOT NULL,
    confidence         REAL NOT NULL,
    generated_at       TEXT NOT NULL,
    expires_at         TEXT NOT NULL,
    total_documents    INTEGER NOT NULL,
    analyzed_documents INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_recommendations_query_expiry
    ON search_recommendations(query, expires_at);

CREATE TABLE IF NOT EXISTS recommendation_effectiveness (
    id                    INTEGER PRIMARY KEY AUTOINCREMENT,
    recommendation_id     INTEGER NOT NULL REFERENCES search_recommendations(id) ON DELETE CASCADE,
    was_used              INTEGER NOT NULL,
    improved_results      INTEGER,
    usage_time            TEXT,
    effectiveness_score   REAL NOT NULL,
    original_result_count INTEGER NOT NULL,
    improved_result_count INTEGER
);

CREATE INDEX IF NOT EXISTS idx_effectiveness_recommendation
    ON recommendation_effectiveness(recommendation_id);

CREATE TABLE IF NOT EXISTS learning_parameters (
    id                  INTEGER PRIMARY KEY CHECK (id = 1),
    tfidf_threshold     REAL NOT NULL,
    effectiveness_history TEXT NOT NULL,
    strategy_weights    TEXT NOT NULL,
    learning_rate       REAL NOT NULL,
    last_updated        TEXT NOT NULL
);
`, dim)
}
