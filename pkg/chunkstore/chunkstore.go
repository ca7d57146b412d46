// Package chunkstore is the ingestion facade over the core storage engine.
// It wires a content splitter and an optional embedder into a pipeline that
// saves documents with their chunks and indexes in one transaction.
package chunkstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/semkit/chunkstore/pkg/core"
)

// Splitter turns raw document content into ordered chunks. Implementations
// decide chunk boundaries, types, and per-chunk metadata; ChunkIndex is
// assigned by the pipeline in slice order.
type Splitter interface {
	Split(ctx context.Context, content string, mediaType core.MediaType) ([]*core.Chunk, error)
}

// Embedder produces one vector per input text. Implementations that embed
// asynchronously (batch APIs) should be omitted from the pipeline; chunks
// then stay Pending until a BulkUpdateVectors call delivers the vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Pipeline ingests documents through a Splitter and an optional Embedder
// into a core.Store.
type Pipeline struct {
	store    *core.Store
	splitter Splitter
	embedder Embedder
	logger   *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithEmbedder makes the pipeline embed chunks synchronously during Ingest.
func WithEmbedder(e Embedder) Option {
	return func(p *Pipeline) { p.embedder = e }
}

// WithLogger sets the pipeline logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline builds a Pipeline over an open store.
func NewPipeline(store *core.Store, splitter Splitter, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    store,
		splitter: splitter,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest splits content into chunks, embeds them when an embedder is
// configured, and saves the document atomically. Without an embedder every
// chunk lands Pending and waits for a later vector delivery.
func (p *Pipeline) Ingest(ctx context.Context, content string, mediaType core.MediaType, metadata map[string]any) (*core.Document, []*core.Chunk, error) {
	chunks, err := p.splitter.Split(ctx, content, mediaType)
	if err != nil {
		return nil, nil, err
	}
	for i, c := range chunks {
		c.ChunkIndex = uint32(i)
	}

	if p.embedder != nil {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		vectors, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, nil, err
		}
		if len(vectors) != len(chunks) {
			return nil, nil, fmt.Errorf("%w: embedder returned %d vectors for %d chunks",
				core.ErrValidation, len(vectors), len(chunks))
		}
		for i, c := range chunks {
			c.Embedding = vectors[i]
		}
	}

	doc := &core.Document{Content: content, MediaType: mediaType, Metadata: metadata}
	saved, err := p.store.Save(ctx, doc, chunks)
	if err != nil {
		return nil, nil, err
	}

	p.logger.Debug("document ingested",
		zap.String("doc_id", saved.ID),
		zap.Int("chunks", len(chunks)),
		zap.Bool("embedded", p.embedder != nil))
	return saved, chunks, nil
}
