package core

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 3

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), testDim)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// saveDoc persists a document with one text chunk per content string, all
// carrying the given embedding (nil yields Pending chunks).
func saveDoc(t *testing.T, s *Store, contents []string, embedding []float32, meta map[string]any) (*Document, []*Chunk) {
	t.Helper()
	chunks := make([]*Chunk, len(contents))
	for i, content := range contents {
		chunks[i] = &Chunk{ChunkIndex: uint32(i), Content: content, Embedding: embedding, Metadata: meta}
	}
	doc, err := s.Save(context.Background(), &Document{Content: "doc", Metadata: meta}, chunks)
	require.NoError(t, err)
	return doc, chunks
}

func TestOpenCreatesEmptyStore(t *testing.T) {
	store := newTestStore(t)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Documents)
	assert.Zero(t, stats.Chunks)
	assert.Equal(t, testDim, stats.Dimension)
	assert.Equal(t, testDim, store.Dimension())
}

func TestOpenValidation(t *testing.T) {
	_, err := Open(context.Background(), "", testDim)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = Open(context.Background(), filepath.Join(t.TempDir(), "t.db"), 0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestOpenRejectsDimensionChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	store, err := Open(context.Background(), path, 3)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = Open(context.Background(), path, 4)
	assert.ErrorIs(t, err, ErrValidation)

	// The original dimension still opens.
	store, err = Open(context.Background(), path, 3)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestCloseIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err := store.Stats(context.Background())
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = store.VectorSearch(context.Background(), []float32{1, 0, 0}, SearchOptions{})
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = store.Save(context.Background(), &Document{Content: "x"}, []*Chunk{{Content: "x"}})
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestOpenBackfillsEmptyTextIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	store, err := Open(ctx, path, testDim)
	require.NoError(t, err)
	_, err = store.Save(ctx, &Document{Content: "doc"},
		[]*Chunk{{ChunkIndex: 0, Content: "migration guide for postgres"}})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Wipe the text index behind the store's back.
	db, err := sqlx.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec("DELETE FROM chunks_fts")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	store, err = Open(ctx, path, testDim)
	require.NoError(t, err)
	defer store.Close()

	results, err := store.TextSearch(ctx, "postgres", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "migration guide for postgres", results[0].Content)
}

func TestOpenRebuildsDivergedTextIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	store, err := Open(ctx, path, testDim)
	require.NoError(t, err)
	_, err = store.Save(ctx, &Document{Content: "doc"},
		[]*Chunk{{ChunkIndex: 0, Content: "alpha content"}})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Plant a stale entry so the counts disagree.
	db, err := sqlx.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO chunks_fts (content, chunk_id) VALUES ('ghost entry', 'no-such-chunk')")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	store, err = Open(ctx, path, testDim)
	require.NoError(t, err)
	defer store.Close()

	results, err := store.TextSearch(ctx, "ghost", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = store.TextSearch(ctx, "alpha", SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	saveDoc(t, store, []string{"ready chunk"}, []float32{1, 0, 0}, nil)
	saveDoc(t, store, []string{"pending one", "pending two"}, nil, nil)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Documents)
	assert.Equal(t, int64(3), stats.Chunks)
	assert.Equal(t, int64(1), stats.ByStatus[StatusReady])
	assert.Equal(t, int64(2), stats.ByStatus[StatusPending])
	assert.Positive(t, stats.SizeBytes)
}
