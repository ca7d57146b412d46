package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedCorpus saves three single-chunk documents with orthogonal embeddings
// and distinct vocabulary, returning their chunks keyed by topic.
func seedCorpus(t *testing.T, s *Store) map[string]*Chunk {
	t.Helper()
	ctx := context.Background()
	out := map[string]*Chunk{}
	for _, d := range []struct {
		topic   string
		content string
		vec     []float32
		meta    map[string]any
	}{
		{"db", "postgres query planner internals", []float32{1, 0, 0}, map[string]any{"lang": "en"}},
		{"net", "tcp congestion control tuning", []float32{0, 1, 0}, map[string]any{"lang": "en"}},
		{"ml", "gradient descent convergence proof", []float32{0, 0, 1}, map[string]any{"lang": "de"}},
	} {
		chunk := &Chunk{ChunkIndex: 0, Content: d.content, Embedding: d.vec, Metadata: d.meta}
		_, err := s.Save(ctx, &Document{Content: d.content, Metadata: d.meta}, []*Chunk{chunk})
		require.NoError(t, err)
		out[d.topic] = chunk
	}
	return out
}

func TestVectorSearchRanksByCosine(t *testing.T) {
	store := newTestStore(t)
	chunks := seedCorpus(t, store)

	results, err := store.VectorSearch(context.Background(), []float32{1, 0, 0}, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, chunks["db"].ID, results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, []float32{1, 0, 0}, results[0].Embedding)
	// Orthogonal vectors clamp to zero, never negative.
	assert.Zero(t, results[1].Score)
	assert.Zero(t, results[2].Score)
}

func TestVectorSearchSkipsUnembedded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	saveDoc(t, store, []string{"pending chunk"}, nil, nil)

	results, err := store.VectorSearch(ctx, []float32{1, 0, 0}, SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVectorSearchValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.VectorSearch(ctx, nil, SearchOptions{})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = store.VectorSearch(ctx, []float32{1, 0}, SearchOptions{})
	assert.ErrorIs(t, err, ErrInvalidDimension)
}

func TestVectorSearchLimit(t *testing.T) {
	store := newTestStore(t)
	seedCorpus(t, store)

	results, err := store.VectorSearch(context.Background(), []float32{1, 1, 1}, SearchOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestTextSearchMatchesAndRanks(t *testing.T) {
	store := newTestStore(t)
	chunks := seedCorpus(t, store)

	results, err := store.TextSearch(context.Background(), "congestion", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, chunks["net"].ID, results[0].ID)
	assert.Positive(t, results[0].Score)
}

func TestTextSearchSanitizesOperators(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	saveDoc(t, store, []string{"the write-ahead log explained"}, nil, nil)

	// Raw FTS5 would reject these as syntax; the sanitizer quotes them.
	for _, q := range []string{"write-ahead", "log (explained)", "[explained]"} {
		results, err := store.TextSearch(ctx, q, SearchOptions{})
		require.NoError(t, err, "query %q", q)
		assert.Len(t, results, 1, "query %q", q)
	}

	_, err := store.TextSearch(ctx, "   ", SearchOptions{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSearchPushdownFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedCorpus(t, store)

	filtered, err := store.VectorSearch(ctx, []float32{1, 1, 1},
		SearchOptions{Filter: NewFilter().Eq("lang", "de")})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "gradient descent convergence proof", filtered[0].Content)

	none, err := store.TextSearch(ctx, "postgres",
		SearchOptions{Filter: NewFilter().Eq("lang", "de")})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSearchChunkTypeFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, &Document{Content: "mixed"}, []*Chunk{
		{ChunkIndex: 0, Content: "prose about sorting", ChunkType: ChunkText, Embedding: []float32{1, 0, 0}},
		{ChunkIndex: 1, Content: "func sort(a []int)", ChunkType: ChunkCode, Language: "go", Embedding: []float32{1, 0, 0}},
	})
	require.NoError(t, err)

	code, err := store.VectorSearch(ctx, []float32{1, 0, 0}, SearchOptions{ChunkType: ChunkCode})
	require.NoError(t, err)
	require.Len(t, code, 1)
	assert.Equal(t, "go", code[0].Language)

	goOnly, err := store.VectorSearch(ctx, []float32{1, 0, 0}, SearchOptions{Language: "go"})
	require.NoError(t, err)
	assert.Len(t, goOnly, 1)

	_, err = store.VectorSearch(ctx, []float32{1, 0, 0}, SearchOptions{ChunkType: "bogus"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestHybridSearchFusesBothArms(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	chunks := seedCorpus(t, store)

	// "db" tops the vector arm and is the only text match, so it collects
	// both fusion terms and must win.
	results, err := store.HybridSearch(ctx, []float32{1, 0, 0}, "postgres", HybridOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, chunks["db"].ID, results[0].ID)

	both := 1.0/(DefaultRRFK+1) + 1.0/(DefaultRRFK+1)
	assert.InDelta(t, both, results[0].Score, 1e-9)
	for _, r := range results[1:] {
		assert.Less(t, r.Score, results[0].Score)
	}
}

func TestHybridSearchDegradesToSingleArm(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	chunks := seedCorpus(t, store)

	vecOnly, err := store.HybridSearch(ctx, []float32{0, 1, 0}, "", HybridOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, vecOnly)
	assert.Equal(t, chunks["net"].ID, vecOnly[0].ID)
	assert.InDelta(t, 1.0, vecOnly[0].Score, 1e-6)

	textOnly, err := store.HybridSearch(ctx, nil, "gradient", HybridOptions{})
	require.NoError(t, err)
	require.Len(t, textOnly, 1)
	assert.Equal(t, chunks["ml"].ID, textOnly[0].ID)

	_, err = store.HybridSearch(ctx, nil, "  ", HybridOptions{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestVectorSearchDocumentsUsesBestChunk(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	near, err := store.Save(ctx, &Document{Content: "near"}, []*Chunk{
		{ChunkIndex: 0, Content: "off topic", Embedding: []float32{0, 1, 0}},
		{ChunkIndex: 1, Content: "on topic", Embedding: []float32{1, 0, 0}},
	})
	require.NoError(t, err)
	_, err = store.Save(ctx, &Document{Content: "far"}, []*Chunk{
		{ChunkIndex: 0, Content: "elsewhere", Embedding: []float32{0, 0, 1}},
	})
	require.NoError(t, err)

	results, err := store.VectorSearchDocuments(ctx, []float32{1, 0, 0}, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, near.ID, results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestTextSearchDocumentsGroupsByDocument(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc, _ := saveDoc(t, store, []string{"kafka consumer groups", "kafka partition rebalancing"}, nil, nil)

	results, err := store.TextSearchDocuments(ctx, "kafka", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, doc.ID, results[0].ID)
}

func TestTextSearchDocumentsFiltersOnDocumentMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	saveDoc(t, store, []string{"shared keyword alpha"}, nil, map[string]any{"team": "infra"})
	saveDoc(t, store, []string{"shared keyword beta"}, nil, map[string]any{"team": "search"})

	results, err := store.TextSearchDocuments(ctx, "shared",
		SearchOptions{Filter: NewFilter().Eq("team", "infra")})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "infra", results[0].Metadata["team"])
}

func TestHybridSearchDocuments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedCorpus(t, store)

	results, err := store.HybridSearchDocuments(ctx, []float32{0, 0, 1}, "gradient", HybridOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "gradient descent convergence proof", results[0].Content)

	_, err = store.HybridSearchDocuments(ctx, nil, "", HybridOptions{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDocumentSearchValidatesOptions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedCorpus(t, store)

	_, err := store.VectorSearchDocuments(ctx, []float32{1, 0, 0}, SearchOptions{ChunkType: "bogus"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = store.TextSearchDocuments(ctx, "postgres", SearchOptions{ChunkType: "bogus"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestHybridSearchCustomK(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedCorpus(t, store)

	results, err := store.HybridSearch(ctx, []float32{1, 0, 0}, "postgres",
		HybridOptions{RRFK: 1})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}
