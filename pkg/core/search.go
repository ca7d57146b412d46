package core

import (
	"context"
	"sort"
	"strings"

	"github.com/semkit/chunkstore/internal/encoding"
)

// VectorSearch ranks Ready chunks by cosine distance to query and returns
// the closest matches. Pending and Failed chunks are never candidates.
// Scores are max(0, 1-distance): 1.0 for an identical vector, 0 for
// orthogonal or anti-correlated ones.
func (s *Store) VectorSearch(ctx context.Context, query []float32, opts SearchOptions) ([]ScoredChunk, error) {
	results, err := s.vectorSearchChunks(ctx, query, opts)
	if err != nil {
		return nil, wrapError("vector_search", err)
	}
	return results, nil
}

func (s *Store) vectorSearchChunks(ctx context.Context, query []float32, opts SearchOptions) ([]ScoredChunk, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}
	if err := s.validateQueryVector(query); err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	sql := `SELECT ` + chunkColumns + `, v.vector AS vector
		FROM chunks c
		JOIN chunk_vectors v ON v.chunk_id = c.id
		WHERE c.embedding_status = ?`
	args := []any{string(StatusReady)}

	var err error
	if sql, args, err = appendChunkPushdown(sql, args, opts); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryxContext(ctx, sql, args...)
	if err != nil {
		return nil, storagef(err, "scan vector candidates")
	}
	defer rows.Close()

	var results []ScoredChunk
	for rows.Next() {
		var row struct {
			chunkRow
			Vector []byte `db:"vector"`
		}
		if err := rows.StructScan(&row); err != nil {
			return nil, storagef(err, "scan candidate row")
		}
		vec, err := decodeStoredVector(row.Vector)
		if err != nil {
			return nil, err
		}
		chunk, err := row.toChunk()
		if err != nil {
			return nil, err
		}
		chunk.Embedding = vec
		results = append(results, ScoredChunk{
			Chunk: chunk,
			Score: vectorScore(cosineDistance(query, vec)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, storagef(err, "iterate candidates")
	}

	sortScoredChunks(results)
	return truncateChunks(results, opts.limit()), nil
}

// VectorSearchDocuments ranks documents by the best cosine score among
// their Ready chunks. The metadata filter applies to document metadata.
func (s *Store) VectorSearchDocuments(ctx context.Context, query []float32, opts SearchOptions) ([]ScoredDocument, error) {
	results, err := s.vectorSearchDocs(ctx, query, opts)
	if err != nil {
		return nil, wrapError("vector_search_documents", err)
	}
	return results, nil
}

func (s *Store) vectorSearchDocs(ctx context.Context, query []float32, opts SearchOptions) ([]ScoredDocument, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}
	if err := s.validateQueryVector(query); err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	sql := `SELECT ` + documentColumns + `, v.vector AS vector
		FROM documents d
		JOIN chunks c ON c.doc_id = d.id
		JOIN chunk_vectors v ON v.chunk_id = c.id
		WHERE c.embedding_status = ?`
	args := []any{string(StatusReady)}

	if opts.Filter.Len() > 0 {
		where, filterArgs, err := opts.Filter.toSQL("d")
		if err != nil {
			return nil, err
		}
		sql += " AND " + where
		args = append(args, filterArgs...)
	}

	rows, err := s.db.QueryxContext(ctx, sql, args...)
	if err != nil {
		return nil, storagef(err, "scan vector candidates")
	}
	defer rows.Close()

	// Best chunk score wins per document.
	best := make(map[string]ScoredDocument)
	for rows.Next() {
		var row struct {
			documentRow
			Vector []byte `db:"vector"`
		}
		if err := rows.StructScan(&row); err != nil {
			return nil, storagef(err, "scan candidate row")
		}
		vec, err := decodeStoredVector(row.Vector)
		if err != nil {
			return nil, err
		}
		score := vectorScore(cosineDistance(query, vec))
		if prev, ok := best[row.ID]; !ok || score > prev.Score {
			doc, err := row.toDocument()
			if err != nil {
				return nil, err
			}
			best[row.ID] = ScoredDocument{Document: doc, Score: score}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storagef(err, "iterate candidates")
	}

	results := make([]ScoredDocument, 0, len(best))
	for _, r := range best {
		results = append(results, r)
	}
	sortScoredDocs(results)
	return truncateDocs(results, opts.limit()), nil
}

// TextSearch ranks chunks by FTS5 bm25 relevance. The query passes through
// SanitizeQuery first; scores are the negated bm25 rank, so higher is more
// relevant.
func (s *Store) TextSearch(ctx context.Context, query string, opts SearchOptions) ([]ScoredChunk, error) {
	results, err := s.textSearchChunks(ctx, query, opts)
	if err != nil {
		return nil, wrapError("text_search", err)
	}
	return results, nil
}

func (s *Store) textSearchChunks(ctx context.Context, query string, opts SearchOptions) ([]ScoredChunk, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}
	sanitized := SanitizeQuery(query)
	if sanitized == "" {
		return nil, validationf("query text cannot be empty")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	sql := `SELECT ` + chunkColumns + `, f.rank AS rank
		FROM chunks_fts f
		JOIN chunks c ON c.id = f.chunk_id
		WHERE chunks_fts MATCH ?`
	args := []any{sanitized}

	var err error
	if sql, args, err = appendChunkPushdown(sql, args, opts); err != nil {
		return nil, err
	}
	sql += " ORDER BY f.rank LIMIT ?"
	args = append(args, opts.limit())

	rows, err := s.db.QueryxContext(ctx, sql, args...)
	if err != nil {
		return nil, storagef(err, "query text index")
	}
	defer rows.Close()

	var results []ScoredChunk
	for rows.Next() {
		var row struct {
			chunkRow
			Rank float64 `db:"rank"`
		}
		if err := rows.StructScan(&row); err != nil {
			return nil, storagef(err, "scan text match")
		}
		chunk, err := row.toChunk()
		if err != nil {
			return nil, err
		}
		// bm25 rank is negative for relevant rows; negate so higher is
		// better.
		results = append(results, ScoredChunk{Chunk: chunk, Score: -row.Rank})
	}
	if err := rows.Err(); err != nil {
		return nil, storagef(err, "iterate text matches")
	}
	return results, nil
}

// TextSearchDocuments ranks documents by their best-matching chunk's bm25
// rank. The metadata filter applies to document metadata.
func (s *Store) TextSearchDocuments(ctx context.Context, query string, opts SearchOptions) ([]ScoredDocument, error) {
	results, err := s.textSearchDocs(ctx, query, opts)
	if err != nil {
		return nil, wrapError("text_search_documents", err)
	}
	return results, nil
}

func (s *Store) textSearchDocs(ctx context.Context, query string, opts SearchOptions) ([]ScoredDocument, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}
	sanitized := SanitizeQuery(query)
	if sanitized == "" {
		return nil, validationf("query text cannot be empty")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	sql := `SELECT ` + documentColumns + `, MIN(f.rank) AS rank
		FROM chunks_fts f
		JOIN chunks c ON c.id = f.chunk_id
		JOIN documents d ON d.id = c.doc_id
		WHERE chunks_fts MATCH ?`
	args := []any{sanitized}

	if opts.Filter.Len() > 0 {
		where, filterArgs, err := opts.Filter.toSQL("d")
		if err != nil {
			return nil, err
		}
		sql += " AND " + where
		args = append(args, filterArgs...)
	}
	sql += " GROUP BY d.id ORDER BY rank LIMIT ?"
	args = append(args, opts.limit())

	rows, err := s.db.QueryxContext(ctx, sql, args...)
	if err != nil {
		return nil, storagef(err, "query text index")
	}
	defer rows.Close()

	var results []ScoredDocument
	for rows.Next() {
		var row struct {
			documentRow
			Rank float64 `db:"rank"`
		}
		if err := rows.StructScan(&row); err != nil {
			return nil, storagef(err, "scan text match")
		}
		doc, err := row.toDocument()
		if err != nil {
			return nil, err
		}
		results = append(results, ScoredDocument{Document: doc, Score: -row.Rank})
	}
	if err := rows.Err(); err != nil {
		return nil, storagef(err, "iterate text matches")
	}
	return results, nil
}

// HybridSearch fuses vector and text rankings with Reciprocal Rank Fusion.
// Both arms run independently, each capped at 100 candidates, and every
// candidate scores 1/(k+rank) per list it appears in; the lists are
// full-outer-joined by chunk id. Supplying only one of the two queries
// degrades to that single method without fusion; supplying neither is a
// validation error.
func (s *Store) HybridSearch(ctx context.Context, queryVec []float32, queryText string, opts HybridOptions) ([]ScoredChunk, error) {
	hasVec, hasText := len(queryVec) > 0, strings.TrimSpace(queryText) != ""
	switch {
	case !hasVec && !hasText:
		return nil, wrapError("hybrid_search", validationf("either a query vector or query text is required"))
	case hasVec && !hasText:
		return s.VectorSearch(ctx, queryVec, opts.SearchOptions)
	case !hasVec && hasText:
		return s.TextSearch(ctx, queryText, opts.SearchOptions)
	}

	armOpts := opts.SearchOptions
	armOpts.Limit = hybridCandidateLimit

	vecResults, err := s.vectorSearchChunks(ctx, queryVec, armOpts)
	if err != nil {
		return nil, wrapError("hybrid_search", err)
	}
	textResults, err := s.textSearchChunks(ctx, queryText, armOpts)
	if err != nil {
		return nil, wrapError("hybrid_search", err)
	}

	k := opts.rrfK()
	fused := make(map[string]*ScoredChunk, len(vecResults)+len(textResults))
	for rank, r := range vecResults {
		c := r
		c.Score = rrfTerm(k, rank)
		fused[r.ID] = &c
	}
	for rank, r := range textResults {
		if prev, ok := fused[r.ID]; ok {
			prev.Score += rrfTerm(k, rank)
			continue
		}
		c := r
		c.Score = rrfTerm(k, rank)
		fused[r.ID] = &c
	}

	results := make([]ScoredChunk, 0, len(fused))
	for _, r := range fused {
		results = append(results, *r)
	}
	sortScoredChunks(results)
	return truncateChunks(results, opts.limit()), nil
}

// HybridSearchDocuments is HybridSearch at document granularity; the outer
// join identity is the document id.
func (s *Store) HybridSearchDocuments(ctx context.Context, queryVec []float32, queryText string, opts HybridOptions) ([]ScoredDocument, error) {
	hasVec, hasText := len(queryVec) > 0, strings.TrimSpace(queryText) != ""
	switch {
	case !hasVec && !hasText:
		return nil, wrapError("hybrid_search_documents", validationf("either a query vector or query text is required"))
	case hasVec && !hasText:
		return s.VectorSearchDocuments(ctx, queryVec, opts.SearchOptions)
	case !hasVec && hasText:
		return s.TextSearchDocuments(ctx, queryText, opts.SearchOptions)
	}

	armOpts := opts.SearchOptions
	armOpts.Limit = hybridCandidateLimit

	vecResults, err := s.vectorSearchDocs(ctx, queryVec, armOpts)
	if err != nil {
		return nil, wrapError("hybrid_search_documents", err)
	}
	textResults, err := s.textSearchDocs(ctx, queryText, armOpts)
	if err != nil {
		return nil, wrapError("hybrid_search_documents", err)
	}

	k := opts.rrfK()
	fused := make(map[string]*ScoredDocument, len(vecResults)+len(textResults))
	for rank, r := range vecResults {
		d := r
		d.Score = rrfTerm(k, rank)
		fused[r.ID] = &d
	}
	for rank, r := range textResults {
		if prev, ok := fused[r.ID]; ok {
			prev.Score += rrfTerm(k, rank)
			continue
		}
		d := r
		d.Score = rrfTerm(k, rank)
		fused[r.ID] = &d
	}

	results := make([]ScoredDocument, 0, len(fused))
	for _, r := range fused {
		results = append(results, *r)
	}
	sortScoredDocs(results)
	return truncateDocs(results, opts.limit()), nil
}

// rrfTerm computes 1/(k+rank) for a zero-based list position.
func rrfTerm(k float64, position int) float64 {
	return 1 / (k + float64(position+1))
}

func (s *Store) validateQueryVector(query []float32) error {
	if err := encoding.ValidateVector(query); err != nil {
		return validationf("query vector: %v", err)
	}
	if len(query) != s.config.Dimension {
		return dimensionError(len(query), s.config.Dimension)
	}
	return nil
}

// appendChunkPushdown adds chunk_type/language column predicates and the
// metadata filter to a chunk candidate query.
func appendChunkPushdown(sql string, args []any, opts SearchOptions) (string, []any, error) {
	if opts.ChunkType != "" {
		sql += " AND c.chunk_type = ?"
		args = append(args, string(opts.ChunkType))
	}
	if opts.Language != "" {
		sql += " AND c.language = ?"
		args = append(args, opts.Language)
	}
	if opts.Filter.Len() > 0 {
		where, filterArgs, err := opts.Filter.toSQL("c")
		if err != nil {
			return "", nil, err
		}
		sql += " AND " + where
		args = append(args, filterArgs...)
	}
	return sql, args, nil
}

// Stable orderings: score descending, id ascending as the tiebreak so
// repeated queries return identical result orders.
func sortScoredChunks(results []ScoredChunk) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}

func sortScoredDocs(results []ScoredDocument) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}

func truncateChunks(results []ScoredChunk, limit int) []ScoredChunk {
	if len(results) > limit {
		return results[:limit]
	}
	return results
}

func truncateDocs(results []ScoredDocument, limit int) []ScoredDocument {
	if len(results) > limit {
		return results[:limit]
	}
	return results
}
