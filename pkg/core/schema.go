package core

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"go.uber.org/zap"
)

// schemaSQL declares every persisted structure. All statements are
// idempotent so Open can run them on every start.
//
// chunks_fts is a standalone FTS5 table carrying the chunk id as an
// unindexed column. It is maintained by explicit write hooks inside the
// writing transaction (onChunkWrite / onChunkDelete), not by database
// triggers, so the sync logic stays visible and testable in one place.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL DEFAULT '',
	media_type TEXT NOT NULL DEFAULT 'text',
	metadata TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	doc_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	chunk_type TEXT NOT NULL DEFAULT 'text',
	language TEXT,
	embedding_status TEXT NOT NULL DEFAULT 'pending',
	batch_job_id TEXT,
	error_message TEXT,
	metadata TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (doc_id, chunk_index),
	FOREIGN KEY (doc_id) REFERENCES documents(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id);
CREATE INDEX IF NOT EXISTS idx_chunks_type_language ON chunks(chunk_type, language);

CREATE TABLE IF NOT EXISTS chunk_vectors (
	chunk_id TEXT PRIMARY KEY,
	vector BLOB NOT NULL,
	FOREIGN KEY (chunk_id) REFERENCES chunks(id) ON DELETE CASCADE
);

CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(content, chunk_id UNINDEXED);

CREATE TABLE IF NOT EXISTS store_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const metaDimensionKey = "vector_dim"

func (s *Store) createSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return storagef(err, "create schema")
	}
	return nil
}

// ensureDimension records D on first open and verifies it on every
// subsequent open. A store can never silently change dimension.
func (s *Store) ensureDimension(ctx context.Context) error {
	var raw string
	err := s.db.GetContext(ctx, &raw, "SELECT value FROM store_meta WHERE key = ?", metaDimensionKey)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx, "INSERT INTO store_meta (key, value) VALUES (?, ?)",
			metaDimensionKey, strconv.Itoa(s.config.Dimension))
		if err != nil {
			return storagef(err, "record dimension")
		}
		return nil
	case err != nil:
		return storagef(err, "read dimension")
	}

	stored, err := strconv.Atoi(raw)
	if err != nil {
		return storagef(err, "parse stored dimension")
	}
	if stored != s.config.Dimension {
		return validationf("store was created with dimension %d, cannot open with %d", stored, s.config.Dimension)
	}
	return nil
}

// reconcileTextIndex compares chunk rows against text index rows on every
// open and repairs drift:
//
//   - chunks present, text index empty: a crash or an upgrade left the index
//     unpopulated; backfill it from chunk contents.
//   - both non-empty but counts differ: treat as corruption; clear and
//     rebuild the index from the chunk table.
//   - counts equal: nothing to do.
//
// A missing chunks_fts table (first-ever open, or an FTS5-less predecessor
// file) counts as empty and never raises.
func (s *Store) reconcileTextIndex(ctx context.Context) error {
	var chunkCount int64
	if err := s.db.GetContext(ctx, &chunkCount, "SELECT COUNT(*) FROM chunks"); err != nil {
		return storagef(err, "count chunks")
	}

	ftsCount, ok, err := s.textIndexCount(ctx)
	if err != nil {
		return err
	}
	if !ok {
		ftsCount = 0
	}

	switch {
	case chunkCount == ftsCount:
		return nil
	case ftsCount == 0 && chunkCount > 0:
		s.logger.Info("text index empty, backfilling from chunk table",
			zap.Int64("chunks", chunkCount))
		return s.rebuildTextIndex(ctx)
	default:
		// Count mismatch with both sides populated. Repaired in place and
		// logged; Open does not fail for this.
		s.logger.Warn("text index out of sync with chunk table, rebuilding",
			zap.Int64("chunks", chunkCount),
			zap.Int64("indexed", ftsCount),
			zap.Error(ErrConsistency))
		return s.rebuildTextIndex(ctx)
	}
}

// textIndexCount returns the text index row count and whether the table
// exists at all.
func (s *Store) textIndexCount(ctx context.Context) (int64, bool, error) {
	var name string
	err := s.db.GetContext(ctx, &name,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'chunks_fts'")
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storagef(err, "probe text index table")
	}

	var count int64
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM chunks_fts"); err != nil {
		return 0, false, storagef(err, "count text index rows")
	}
	return count, true, nil
}

// rebuildTextIndex clears the text index and repopulates it from all chunk
// contents in one transaction.
func (s *Store) rebuildTextIndex(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storagef(err, "begin rebuild transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks_fts"); err != nil {
		return storagef(err, "clear text index")
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO chunks_fts (content, chunk_id) SELECT content, id FROM chunks"); err != nil {
		return storagef(err, "repopulate text index")
	}

	if err := tx.Commit(); err != nil {
		return storagef(err, "commit rebuild")
	}
	return nil
}
