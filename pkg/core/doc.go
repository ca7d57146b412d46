// Package core implements the chunkstore storage engine on SQLite.
//
// A Store keeps documents, their ordered chunks, chunk embedding vectors
// and an FTS5 text index in a single database file. Every mutation runs in
// one transaction that updates the base tables and both indexes together,
// so vector and text retrieval always see the same set of chunks. A
// consistency pass at open rebuilds the text index when it disagrees with
// the chunks table.
//
// Retrieval comes in three flavors at two granularities: pure vector
// (cosine similarity over Ready chunks), pure text (FTS5 bm25), and hybrid,
// which fuses both rankings with Reciprocal Rank Fusion.
package core
