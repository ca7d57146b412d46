package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/semkit/chunkstore/internal/encoding"
)

// Save persists a document together with its initial chunk set in one
// transaction. Chunks carrying an embedding are written into the vector
// index and become Ready immediately; chunks without one are written as
// Pending. On success the document and chunks are mutated in place with
// their assigned ids. On any failure nothing commits: no orphan document,
// no orphan chunk, no dangling index entry.
func (s *Store) Save(ctx context.Context, doc *Document, chunks []*Chunk) (*Document, error) {
	if s.isClosed() {
		return nil, wrapError("save", ErrStoreClosed)
	}
	if doc == nil {
		return nil, wrapError("save", validationf("document cannot be nil"))
	}
	if len(chunks) == 0 {
		return nil, wrapError("save", validationf("document must have at least one chunk"))
	}
	if err := doc.validate(); err != nil {
		return nil, wrapError("save", err)
	}

	seen := make(map[uint32]struct{}, len(chunks))
	for _, c := range chunks {
		if c == nil {
			return nil, wrapError("save", validationf("chunk cannot be nil"))
		}
		if err := c.validate(); err != nil {
			return nil, wrapError("save", err)
		}
		if _, dup := seen[c.ChunkIndex]; dup {
			return nil, wrapError("save", validationf("duplicate chunk index %d", c.ChunkIndex))
		}
		seen[c.ChunkIndex] = struct{}{}
		if c.Embedding != nil {
			if err := encoding.ValidateVector(c.Embedding); err != nil {
				return nil, wrapError("save", validationf("chunk %d: %v", c.ChunkIndex, err))
			}
			if len(c.Embedding) != s.config.Dimension {
				return nil, wrapError("save", dimensionError(len(c.Embedding), s.config.Dimension))
			}
		}
	}

	now := time.Now().UTC()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.MediaType == "" {
		doc.MediaType = MediaText
	}
	doc.CreatedAt = now

	docMeta, err := encoding.EncodeMetadata(doc.Metadata)
	if err != nil {
		return nil, wrapError("save", validationf("document metadata: %v", err))
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, wrapError("save", storagef(err, "begin transaction"))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO documents (id, content, media_type, metadata, created_at) VALUES (?, ?, ?, ?, ?)",
		doc.ID, doc.Content, string(doc.MediaType), nullable(docMeta), now); err != nil {
		return nil, wrapError("save", storagef(err, "insert document"))
	}

	for _, c := range chunks {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.DocID = doc.ID
		c.CreatedAt = now
		if c.ChunkType == "" {
			c.ChunkType = ChunkText
		}
		switch {
		case c.Embedding != nil:
			c.EmbeddingStatus = StatusReady
		case c.EmbeddingStatus != StatusFailed:
			c.EmbeddingStatus = StatusPending
		}

		if err := s.insertChunk(ctx, tx, c); err != nil {
			return nil, wrapError("save", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapError("save", storagef(err, "commit"))
	}
	return doc, nil
}

// insertChunk writes one chunk row plus its index entries inside tx.
func (s *Store) insertChunk(ctx context.Context, tx *sqlx.Tx, c *Chunk) error {
	meta, err := encoding.EncodeMetadata(c.Metadata)
	if err != nil {
		return validationf("chunk %d metadata: %v", c.ChunkIndex, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chunks (id, doc_id, chunk_index, content, chunk_type, language,
			embedding_status, batch_job_id, error_message, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.DocID, c.ChunkIndex, c.Content, string(c.ChunkType), nullable(c.Language),
		string(c.EmbeddingStatus), nullable(c.BatchJobID), nullable(c.ErrorMessage),
		nullable(meta), c.CreatedAt); err != nil {
		return storagef(err, "insert chunk")
	}

	if c.Embedding != nil {
		blob, err := encoding.EncodeVector(c.Embedding)
		if err != nil {
			return validationf("chunk %d: %v", c.ChunkIndex, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO chunk_vectors (chunk_id, vector) VALUES (?, ?)", c.ID, blob); err != nil {
			return storagef(err, "insert vector")
		}
	}

	return s.onChunkWrite(ctx, tx, c.ID, c.Content)
}

// onChunkWrite keeps the text index aligned with a chunk row. It runs
// inside the same transaction as the row write; there are no database
// triggers.
func (s *Store) onChunkWrite(ctx context.Context, tx *sqlx.Tx, chunkID, content string) error {
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO chunks_fts (content, chunk_id) VALUES (?, ?)", content, chunkID); err != nil {
		return storagef(err, "index chunk text")
	}
	return nil
}

// onChunkDelete removes text and vector index entries for the given chunk
// ids inside tx. The chunk rows themselves are removed by the caller.
func (s *Store) onChunkDelete(ctx context.Context, tx *sqlx.Tx, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	for _, stmt := range []string{
		"DELETE FROM chunks_fts WHERE chunk_id IN (?)",
		"DELETE FROM chunk_vectors WHERE chunk_id IN (?)",
	} {
		query, args, err := sqlx.In(stmt, chunkIDs)
		if err != nil {
			return storagef(err, "expand delete arguments")
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return storagef(err, "remove index entries")
		}
	}
	return nil
}

// Delete removes a document, all of its chunks, and their vector and text
// index entries in one transaction. It returns the number of chunks
// removed.
func (s *Store) Delete(ctx context.Context, docID string) (int64, error) {
	if s.isClosed() {
		return 0, wrapError("delete", ErrStoreClosed)
	}
	if docID == "" {
		return 0, wrapError("delete", validationf("document id cannot be empty"))
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, wrapError("delete", storagef(err, "begin transaction"))
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.GetContext(ctx, &exists, "SELECT COUNT(*) FROM documents WHERE id = ?", docID); err != nil {
		return 0, wrapError("delete", storagef(err, "probe document"))
	}
	if exists == 0 {
		return 0, wrapError("delete", ErrNotFound)
	}

	var chunkIDs []string
	if err := tx.SelectContext(ctx, &chunkIDs, "SELECT id FROM chunks WHERE doc_id = ?", docID); err != nil {
		return 0, wrapError("delete", storagef(err, "list chunks"))
	}

	if err := s.onChunkDelete(ctx, tx, chunkIDs); err != nil {
		return 0, wrapError("delete", err)
	}

	// The chunk rows go with the document via ON DELETE CASCADE.
	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", docID); err != nil {
		return 0, wrapError("delete", storagef(err, "delete document"))
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapError("delete", storagef(err, "commit"))
	}
	return int64(len(chunkIDs)), nil
}

// DeleteByMetadata deletes every chunk whose metadata matches all predicates
// in filter, along with its index entries. Parent documents are left in
// place even when they lose all chunks. Returns the number of chunks
// removed; matching nothing is not an error.
func (s *Store) DeleteByMetadata(ctx context.Context, filter map[string]any) (int64, error) {
	if s.isClosed() {
		return 0, wrapError("delete_by_metadata", ErrStoreClosed)
	}
	if len(filter) == 0 {
		return 0, wrapError("delete_by_metadata", validationf("filter cannot be empty"))
	}

	where, args, err := FilterFromMap(filter).toSQL("c")
	if err != nil {
		return 0, wrapError("delete_by_metadata", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, wrapError("delete_by_metadata", storagef(err, "begin transaction"))
	}
	defer func() { _ = tx.Rollback() }()

	var chunkIDs []string
	if err := tx.SelectContext(ctx, &chunkIDs,
		"SELECT c.id FROM chunks c WHERE "+where, args...); err != nil {
		return 0, wrapError("delete_by_metadata", storagef(err, "match chunks"))
	}
	if len(chunkIDs) == 0 {
		return 0, nil
	}

	if err := s.onChunkDelete(ctx, tx, chunkIDs); err != nil {
		return 0, wrapError("delete_by_metadata", err)
	}

	query, inArgs, err := sqlx.In("DELETE FROM chunks WHERE id IN (?)", chunkIDs)
	if err != nil {
		return 0, wrapError("delete_by_metadata", storagef(err, "expand delete arguments"))
	}
	if _, err := tx.ExecContext(ctx, query, inArgs...); err != nil {
		return 0, wrapError("delete_by_metadata", storagef(err, "delete chunks"))
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapError("delete_by_metadata", storagef(err, "commit"))
	}
	return int64(len(chunkIDs)), nil
}

// BulkUpdateVectors writes many vectors through one batched statement in a
// single transaction, then flips every touched chunk to Ready, clearing its
// batch job id and error message. An empty map is a validation error and
// attempts zero writes; any backend failure rolls the whole batch back.
// A vector for an unknown chunk id fails the batch (foreign key).
func (s *Store) BulkUpdateVectors(ctx context.Context, vectors map[string][]float32) (int, error) {
	if s.isClosed() {
		return 0, wrapError("bulk_update_vectors", ErrStoreClosed)
	}
	if len(vectors) == 0 {
		return 0, wrapError("bulk_update_vectors", validationf("vector map cannot be empty"))
	}

	chunkIDs := make([]string, 0, len(vectors))
	for id, vec := range vectors {
		if id == "" {
			return 0, wrapError("bulk_update_vectors", validationf("empty chunk id"))
		}
		if err := encoding.ValidateVector(vec); err != nil {
			return 0, wrapError("bulk_update_vectors", validationf("chunk %s: %v", id, err))
		}
		if len(vec) != s.config.Dimension {
			return 0, wrapError("bulk_update_vectors", dimensionError(len(vec), s.config.Dimension))
		}
		chunkIDs = append(chunkIDs, id)
	}
	sort.Strings(chunkIDs)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, wrapError("bulk_update_vectors", storagef(err, "begin transaction"))
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO chunk_vectors (chunk_id, vector) VALUES (?, ?)
		ON CONFLICT (chunk_id) DO UPDATE SET vector = excluded.vector`)
	if err != nil {
		return 0, wrapError("bulk_update_vectors", storagef(err, "prepare vector write"))
	}
	defer func() { _ = stmt.Close() }()

	for _, id := range chunkIDs {
		blob, err := encoding.EncodeVector(vectors[id])
		if err != nil {
			return 0, wrapError("bulk_update_vectors", storagef(err, "encode vector"))
		}
		if _, err := stmt.ExecContext(ctx, id, blob); err != nil {
			return 0, wrapError("bulk_update_vectors", storagef(err, "write vector"))
		}
	}

	query, args, err := sqlx.In(`
		UPDATE chunks SET embedding_status = ?, batch_job_id = NULL, error_message = NULL
		WHERE id IN (?)`, string(StatusReady), chunkIDs)
	if err != nil {
		return 0, wrapError("bulk_update_vectors", storagef(err, "expand status update"))
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return 0, wrapError("bulk_update_vectors", storagef(err, "update statuses"))
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapError("bulk_update_vectors", storagef(err, "commit"))
	}
	return len(vectors), nil
}

// MarkEmbeddingFailed records that an external embedding attempt failed for
// the given chunks: status becomes Failed, the reporting job id and message
// are stored, and any stale vector index entries are removed so Failed
// chunks are never visible to vector search.
func (s *Store) MarkEmbeddingFailed(ctx context.Context, chunkIDs []string, jobID, message string) error {
	if s.isClosed() {
		return wrapError("mark_embedding_failed", ErrStoreClosed)
	}
	if len(chunkIDs) == 0 {
		return wrapError("mark_embedding_failed", validationf("chunk id list cannot be empty"))
	}
	return s.transitionChunks(ctx, "mark_embedding_failed", chunkIDs, StatusFailed, jobID, message)
}

// RequeueChunks resets chunks to Pending for an external retry, clearing the
// batch job id, error message, and any vector index entry.
func (s *Store) RequeueChunks(ctx context.Context, chunkIDs []string) error {
	if s.isClosed() {
		return wrapError("requeue_chunks", ErrStoreClosed)
	}
	if len(chunkIDs) == 0 {
		return wrapError("requeue_chunks", validationf("chunk id list cannot be empty"))
	}
	return s.transitionChunks(ctx, "requeue_chunks", chunkIDs, StatusPending, "", "")
}

// AssignBatchJob tags pending chunks with the batch job now embedding them.
func (s *Store) AssignBatchJob(ctx context.Context, chunkIDs []string, jobID string) error {
	if s.isClosed() {
		return wrapError("assign_batch_job", ErrStoreClosed)
	}
	if len(chunkIDs) == 0 || jobID == "" {
		return wrapError("assign_batch_job", validationf("chunk ids and job id are required"))
	}

	query, args, err := sqlx.In(
		"UPDATE chunks SET batch_job_id = ? WHERE id IN (?)", jobID, chunkIDs)
	if err != nil {
		return wrapError("assign_batch_job", storagef(err, "expand update"))
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return wrapError("assign_batch_job", storagef(err, "update chunks"))
	}
	return nil
}

// transitionChunks moves chunks to a non-Ready status and drops their vector
// index entries, all in one transaction.
func (s *Store) transitionChunks(ctx context.Context, op string, chunkIDs []string, status EmbeddingStatus, jobID, message string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapError(op, storagef(err, "begin transaction"))
	}
	defer func() { _ = tx.Rollback() }()

	query, args, err := sqlx.In("DELETE FROM chunk_vectors WHERE chunk_id IN (?)", chunkIDs)
	if err != nil {
		return wrapError(op, storagef(err, "expand vector delete"))
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return wrapError(op, storagef(err, "remove vectors"))
	}

	query, args, err = sqlx.In(
		"UPDATE chunks SET embedding_status = ?, batch_job_id = ?, error_message = ? WHERE id IN (?)",
		string(status), nullable(jobID), nullable(message), chunkIDs)
	if err != nil {
		return wrapError(op, storagef(err, "expand status update"))
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return wrapError(op, storagef(err, "update statuses"))
	}

	if err := tx.Commit(); err != nil {
		return wrapError(op, storagef(err, "commit"))
	}
	return nil
}

func dimensionError(got, want int) error {
	return fmt.Errorf("%w: got %d, want %d", ErrInvalidDimension, got, want)
}
