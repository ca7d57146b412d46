package core

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/semkit/chunkstore/internal/encoding"
)

// documentRow mirrors the documents table for sqlx struct scanning.
type documentRow struct {
	ID        string         `db:"id"`
	Content   string         `db:"content"`
	MediaType string         `db:"media_type"`
	Metadata  sql.NullString `db:"metadata"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r documentRow) toDocument() (Document, error) {
	metadata, err := encoding.DecodeMetadata(r.Metadata.String)
	if err != nil {
		return Document{}, storagef(err, "decode document metadata")
	}
	return Document{
		ID:        r.ID,
		Content:   r.Content,
		MediaType: MediaType(r.MediaType),
		Metadata:  metadata,
		CreatedAt: r.CreatedAt,
	}, nil
}

// chunkRow mirrors the chunks table for sqlx struct scanning.
type chunkRow struct {
	ID              string         `db:"id"`
	DocID           string         `db:"doc_id"`
	ChunkIndex      uint32         `db:"chunk_index"`
	Content         string         `db:"content"`
	ChunkType       string         `db:"chunk_type"`
	Language        sql.NullString `db:"language"`
	EmbeddingStatus string         `db:"embedding_status"`
	BatchJobID      sql.NullString `db:"batch_job_id"`
	ErrorMessage    sql.NullString `db:"error_message"`
	Metadata        sql.NullString `db:"metadata"`
	CreatedAt       time.Time      `db:"created_at"`
}

func (r chunkRow) toChunk() (Chunk, error) {
	metadata, err := encoding.DecodeMetadata(r.Metadata.String)
	if err != nil {
		return Chunk{}, storagef(err, "decode chunk metadata")
	}
	return Chunk{
		ID:              r.ID,
		DocID:           r.DocID,
		ChunkIndex:      r.ChunkIndex,
		Content:         r.Content,
		ChunkType:       ChunkType(r.ChunkType),
		Language:        r.Language.String,
		EmbeddingStatus: EmbeddingStatus(r.EmbeddingStatus),
		BatchJobID:      r.BatchJobID.String,
		ErrorMessage:    r.ErrorMessage.String,
		Metadata:        metadata,
		CreatedAt:       r.CreatedAt,
	}, nil
}

const chunkColumns = `c.id, c.doc_id, c.chunk_index, c.content, c.chunk_type, c.language,
	c.embedding_status, c.batch_job_id, c.error_message, c.metadata, c.created_at`

const documentColumns = `d.id, d.content, d.media_type, d.metadata, d.created_at`

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func decodeStoredVector(blob []byte) ([]float32, error) {
	vec, err := encoding.DecodeVector(blob)
	if err != nil {
		return nil, storagef(err, "decode stored vector")
	}
	return vec, nil
}

func scanChunks(rows *sqlx.Rows) ([]Chunk, error) {
	chunks := []Chunk{}
	for rows.Next() {
		var row chunkRow
		if err := rows.StructScan(&row); err != nil {
			return nil, storagef(err, "scan chunk row")
		}
		chunk, err := row.toChunk()
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, storagef(err, "iterate chunk rows")
	}
	return chunks, nil
}
