package core

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"
)

// SiblingChunks returns up to window chunks on each side of chunkID within
// its document, ordered by chunk index and including the chunk itself.
// Neighbors are positional, not arithmetic on chunk_index, so gapped index
// sequences still yield the adjacent chunks. When window*2+1 covers the
// document's chunk count the whole document is returned. An unknown chunk
// id yields an empty slice, not an error; retrieval pipelines routinely
// hold ids for chunks that were deleted underneath them.
func (s *Store) SiblingChunks(ctx context.Context, chunkID string, window int) ([]Chunk, error) {
	chunks, err := s.siblingChunks(ctx, chunkID, window)
	if err != nil {
		return nil, wrapError("sibling_chunks", err)
	}
	return chunks, nil
}

func (s *Store) siblingChunks(ctx context.Context, chunkID string, window int) ([]Chunk, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}
	if chunkID == "" {
		return nil, validationf("chunk id cannot be empty")
	}
	if window < 0 {
		return nil, validationf("window cannot be negative")
	}

	var anchor struct {
		DocID      string `db:"doc_id"`
		ChunkIndex int64  `db:"chunk_index"`
	}
	err := s.db.GetContext(ctx, &anchor,
		`SELECT doc_id, chunk_index FROM chunks WHERE id = ?`, chunkID)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Warn("sibling lookup for unknown chunk", zap.String("chunk_id", chunkID))
		return []Chunk{}, nil
	}
	if err != nil {
		return nil, storagef(err, "locate chunk")
	}

	var total int
	if err := s.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM chunks WHERE doc_id = ?`, anchor.DocID); err != nil {
		return nil, storagef(err, "count document chunks")
	}
	if window*2+1 >= total {
		return s.chunksByDocument(ctx, anchor.DocID)
	}

	// Positional neighbors: window rows below and above the anchor in
	// chunk_index order, regardless of gaps in the index sequence.
	before, err := s.db.QueryxContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks c
		 WHERE c.doc_id = ? AND c.chunk_index < ?
		 ORDER BY c.chunk_index DESC LIMIT ?`, anchor.DocID, anchor.ChunkIndex, window)
	if err != nil {
		return nil, storagef(err, "scan preceding siblings")
	}
	defer before.Close()
	preceding, err := scanChunks(before)
	if err != nil {
		return nil, err
	}

	after, err := s.db.QueryxContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks c
		 WHERE c.doc_id = ? AND c.chunk_index >= ?
		 ORDER BY c.chunk_index LIMIT ?`, anchor.DocID, anchor.ChunkIndex, window+1)
	if err != nil {
		return nil, storagef(err, "scan following siblings")
	}
	defer after.Close()
	following, err := scanChunks(after)
	if err != nil {
		return nil, err
	}

	chunks := make([]Chunk, 0, len(preceding)+len(following))
	for i := len(preceding) - 1; i >= 0; i-- {
		chunks = append(chunks, preceding[i])
	}
	return append(chunks, following...), nil
}

// GetDocument fetches a document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	if s.isClosed() {
		return nil, wrapError("get_document", ErrStoreClosed)
	}
	if id == "" {
		return nil, wrapError("get_document", validationf("document id cannot be empty"))
	}

	var row documentRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+documentColumns+` FROM documents d WHERE d.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrapError("get_document", ErrNotFound)
	}
	if err != nil {
		return nil, wrapError("get_document", storagef(err, "fetch document"))
	}
	doc, err := row.toDocument()
	if err != nil {
		return nil, wrapError("get_document", err)
	}
	return &doc, nil
}

// GetChunk fetches a chunk by id, including its stored vector when one
// exists.
func (s *Store) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	if s.isClosed() {
		return nil, wrapError("get_chunk", ErrStoreClosed)
	}
	if id == "" {
		return nil, wrapError("get_chunk", validationf("chunk id cannot be empty"))
	}

	var row struct {
		chunkRow
		Vector []byte `db:"vector"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT `+chunkColumns+`, v.vector AS vector
		 FROM chunks c
		 LEFT JOIN chunk_vectors v ON v.chunk_id = c.id
		 WHERE c.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrapError("get_chunk", ErrNotFound)
	}
	if err != nil {
		return nil, wrapError("get_chunk", storagef(err, "fetch chunk"))
	}
	chunk, err := row.toChunk()
	if err != nil {
		return nil, wrapError("get_chunk", err)
	}
	if len(row.Vector) > 0 {
		vec, err := decodeStoredVector(row.Vector)
		if err != nil {
			return nil, wrapError("get_chunk", err)
		}
		chunk.Embedding = vec
	}
	return &chunk, nil
}

// ChunksByDocument returns a document's chunks ordered by chunk index. The
// document must exist; a document with no chunks cannot, chunks are written
// atomically with it.
func (s *Store) ChunksByDocument(ctx context.Context, docID string) ([]Chunk, error) {
	chunks, err := s.chunksByDocument(ctx, docID)
	if err != nil {
		return nil, wrapError("chunks_by_document", err)
	}
	return chunks, nil
}

func (s *Store) chunksByDocument(ctx context.Context, docID string) ([]Chunk, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}
	if docID == "" {
		return nil, validationf("document id cannot be empty")
	}

	rows, err := s.db.QueryxContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks c
		 WHERE c.doc_id = ? ORDER BY c.chunk_index`, docID)
	if err != nil {
		return nil, storagef(err, "scan document chunks")
	}
	defer rows.Close()

	chunks, err := scanChunks(rows)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		var exists int
		if err := s.db.GetContext(ctx, &exists,
			`SELECT COUNT(*) FROM documents WHERE id = ?`, docID); err != nil {
			return nil, storagef(err, "probe document")
		}
		if exists == 0 {
			return nil, ErrNotFound
		}
	}
	return chunks, nil
}

// ListDocuments pages through documents in insertion order. A limit of zero
// applies the default search limit.
func (s *Store) ListDocuments(ctx context.Context, limit, offset int) ([]Document, error) {
	docs, err := s.listDocuments(ctx, limit, offset)
	if err != nil {
		return nil, wrapError("list_documents", err)
	}
	return docs, nil
}

func (s *Store) listDocuments(ctx context.Context, limit, offset int) ([]Document, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}
	if limit < 0 || offset < 0 {
		return nil, validationf("limit and offset cannot be negative")
	}
	if limit == 0 {
		limit = DefaultSearchLimit
	}

	rows, err := s.db.QueryxContext(ctx,
		`SELECT `+documentColumns+` FROM documents d
		 ORDER BY d.created_at, d.id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, storagef(err, "scan documents")
	}
	defer rows.Close()

	docs := make([]Document, 0, limit)
	for rows.Next() {
		var row documentRow
		if err := rows.StructScan(&row); err != nil {
			return nil, storagef(err, "scan document row")
		}
		doc, err := row.toDocument()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, storagef(err, "iterate documents")
	}
	return docs, nil
}
