package core

import (
	"fmt"
	"time"
)

// MediaType classifies the source medium of a document.
type MediaType string

const (
	MediaText  MediaType = "text"
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
)

// Valid reports whether m is a known media type.
func (m MediaType) Valid() bool {
	switch m {
	case MediaText, MediaImage, MediaVideo, MediaAudio:
		return true
	}
	return false
}

// ChunkType classifies the content of a single chunk.
type ChunkType string

const (
	ChunkText     ChunkType = "text"
	ChunkCode     ChunkType = "code"
	ChunkTable    ChunkType = "table"
	ChunkImageRef ChunkType = "image_ref"
	ChunkAudioRef ChunkType = "audio_ref"
	ChunkVideoRef ChunkType = "video_ref"
)

// Valid reports whether c is a known chunk type.
func (c ChunkType) Valid() bool {
	switch c {
	case ChunkText, ChunkCode, ChunkTable, ChunkImageRef, ChunkAudioRef, ChunkVideoRef:
		return true
	}
	return false
}

// EmbeddingStatus tracks a chunk through the embedding lifecycle.
// Pending chunks have no vector yet, Ready chunks are indexed and visible to
// vector search, Failed chunks recorded an embedding error. Only
// BulkUpdateVectors moves a chunk to Ready; MarkEmbeddingFailed moves it to
// Failed; RequeueChunks moves it back to Pending.
type EmbeddingStatus string

const (
	StatusPending EmbeddingStatus = "pending"
	StatusReady   EmbeddingStatus = "ready"
	StatusFailed  EmbeddingStatus = "failed"
)

// Document is the owning unit of a set of chunks. IDs are assigned by Save.
type Document struct {
	ID        string         `json:"id" db:"id"`
	Content   string         `json:"content" db:"content"`
	MediaType MediaType      `json:"media_type" db:"media_type"`
	Metadata  map[string]any `json:"metadata,omitempty" db:"-"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// Chunk is the atomic indexed unit of a document's content. ChunkIndex is
// assigned by the external splitter and never recomputed here; gaps in the
// sequence are legal.
type Chunk struct {
	ID              string          `json:"id" db:"id"`
	DocID           string          `json:"doc_id" db:"doc_id"`
	ChunkIndex      uint32          `json:"chunk_index" db:"chunk_index"`
	Content         string          `json:"content" db:"content"`
	ChunkType       ChunkType       `json:"chunk_type" db:"chunk_type"`
	Language        string          `json:"language,omitempty" db:"language"`
	Embedding       []float32       `json:"embedding,omitempty" db:"-"`
	EmbeddingStatus EmbeddingStatus `json:"embedding_status" db:"embedding_status"`
	BatchJobID      string          `json:"batch_job_id,omitempty" db:"batch_job_id"`
	ErrorMessage    string          `json:"error_message,omitempty" db:"error_message"`
	Metadata        map[string]any  `json:"metadata,omitempty" db:"-"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// ScoredChunk is a chunk-granularity search result.
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}

// ScoredDocument is a document-granularity search result.
type ScoredDocument struct {
	Document
	Score float64 `json:"score"`
}

// SearchOptions restricts and sizes a single search.
type SearchOptions struct {
	// Limit caps the number of results. Zero means DefaultSearchLimit.
	Limit int
	// Filter restricts candidates by metadata equality before ranking.
	Filter *Filter
	// ChunkType and Language push down onto the (chunk_type, language)
	// index at chunk granularity; ignored by document-granularity search.
	ChunkType ChunkType
	Language  string
}

// HybridOptions extends SearchOptions with the RRF fusion constant.
type HybridOptions struct {
	SearchOptions
	// RRFK is the k in 1/(k+rank). Zero means DefaultRRFK.
	RRFK float64
}

// Stats summarizes store contents.
type Stats struct {
	Documents int64                     `json:"documents"`
	Chunks    int64                     `json:"chunks"`
	ByStatus  map[EmbeddingStatus]int64 `json:"by_status"`
	Dimension int                       `json:"dimension"`
	SizeBytes int64                     `json:"size_bytes"`
}

const (
	// DefaultSearchLimit applies when SearchOptions.Limit is zero.
	DefaultSearchLimit = 10

	// DefaultRRFK is the fusion constant used when HybridOptions.RRFK is
	// zero. 60 is the conventional RRF value; both granularities share it.
	DefaultRRFK = 60

	// hybridCandidateLimit caps each arm of a hybrid search. Fusion quality
	// depends on deep candidate lists, so this is fixed rather than derived
	// from the caller's limit.
	hybridCandidateLimit = 100
)

func (o SearchOptions) limit() int {
	if o.Limit <= 0 {
		return DefaultSearchLimit
	}
	return o.Limit
}

func (o HybridOptions) rrfK() float64 {
	if o.RRFK <= 0 {
		return DefaultRRFK
	}
	return o.RRFK
}

// validate rejects pushdown values outside the enum domains.
func (o SearchOptions) validate() error {
	if o.ChunkType != "" && !o.ChunkType.Valid() {
		return validationf("unknown chunk type %q", o.ChunkType)
	}
	return nil
}

func (c *Chunk) validate() error {
	if c.ChunkType != "" && !c.ChunkType.Valid() {
		return validationf("unknown chunk type %q", c.ChunkType)
	}
	return nil
}

func (d *Document) validate() error {
	if d.MediaType != "" && !d.MediaType.Valid() {
		return fmt.Errorf("%w: unknown media type %q", ErrValidation, d.MediaType)
	}
	return nil
}
