package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	_ "modernc.org/sqlite" // SQLite driver
)

// Config carries store construction parameters. There is no file-based
// configuration; callers own how these values are produced.
type Config struct {
	// Path is the SQLite database file path.
	Path string
	// Dimension is the fixed embedding dimension D, set once at store
	// creation. Re-opening an existing store with a different dimension
	// fails.
	Dimension int
	// Logger receives operational events (consistency repairs, ignored
	// lookups). Defaults to a no-op logger.
	Logger *zap.Logger
}

// Store is an embedded hybrid retrieval storage engine over a single SQLite
// file. It keeps the chunk rows, the vector index, and the FTS5 text index
// transactionally in lockstep.
//
// The handle is assumed single-writer: concurrent writers must serialize
// externally or rely on SQLite's own locking. The store adds no lock layer
// of its own beyond the closed flag.
type Store struct {
	db     *sqlx.DB
	config Config
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Open creates or opens a store at path with embedding dimension D. It is
// idempotent: repeated opens of the same path neither error nor duplicate
// any persisted structure. Every open runs the text-index consistency check
// (and repair, when needed) before returning.
func Open(ctx context.Context, path string, dimension int) (*Store, error) {
	return OpenWithConfig(ctx, Config{Path: path, Dimension: dimension})
}

// OpenWithConfig is Open with an explicit Config.
func OpenWithConfig(ctx context.Context, config Config) (*Store, error) {
	if config.Path == "" {
		return nil, wrapError("open", validationf("database path cannot be empty"))
	}
	if config.Dimension <= 0 {
		return nil, wrapError("open", validationf("vector dimension must be positive, got %d", config.Dimension))
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	// WAL for concurrent readers, NORMAL sync as the durability/speed
	// balance, 5s busy timeout instead of immediate SQLITE_BUSY. Pragmas
	// live in the DSN so every pooled connection gets them.
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", config.Path)
	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, wrapError("open", storagef(err, "open database"))
	}

	s := &Store{
		db:     db,
		config: config,
		logger: config.Logger,
	}

	if err := s.createSchema(ctx); err != nil {
		_ = db.Close()
		return nil, wrapError("open", err)
	}
	if err := s.ensureDimension(ctx); err != nil {
		_ = db.Close()
		return nil, wrapError("open", err)
	}
	if err := s.reconcileTextIndex(ctx); err != nil {
		_ = db.Close()
		return nil, wrapError("open", err)
	}

	s.logger.Debug("store opened",
		zap.String("path", config.Path),
		zap.Int("dimension", config.Dimension))

	return s, nil
}

// Close releases the database handle. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Dimension returns the fixed embedding dimension D.
func (s *Store) Dimension() int {
	return s.config.Dimension
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Stats reports row counts, per-status chunk counts, and the database file
// size.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	if s.isClosed() {
		return Stats{}, wrapError("stats", ErrStoreClosed)
	}

	stats := Stats{
		Dimension: s.config.Dimension,
		ByStatus:  make(map[EmbeddingStatus]int64),
	}

	if err := s.db.GetContext(ctx, &stats.Documents, "SELECT COUNT(*) FROM documents"); err != nil {
		return Stats{}, wrapError("stats", storagef(err, "count documents"))
	}
	if err := s.db.GetContext(ctx, &stats.Chunks, "SELECT COUNT(*) FROM chunks"); err != nil {
		return Stats{}, wrapError("stats", storagef(err, "count chunks"))
	}

	rows, err := s.db.QueryxContext(ctx, "SELECT embedding_status, COUNT(*) FROM chunks GROUP BY embedding_status")
	if err != nil {
		return Stats{}, wrapError("stats", storagef(err, "count chunk statuses"))
	}
	defer rows.Close()
	for rows.Next() {
		var status EmbeddingStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, wrapError("stats", storagef(err, "scan status count"))
		}
		stats.ByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, wrapError("stats", storagef(err, "iterate status counts"))
	}

	var pageCount, pageSize int64
	if err := s.db.GetContext(ctx, &pageCount, "PRAGMA page_count"); err == nil {
		if err := s.db.GetContext(ctx, &pageSize, "PRAGMA page_size"); err == nil {
			stats.SizeBytes = pageCount * pageSize
		}
	}

	return stats, nil
}
