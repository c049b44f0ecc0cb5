package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opencourse/tutor/pkg/models"
	pgvector "github.com/pgvector/pgvector-go"
)

const embedModelKey = "embed_model"

// Store provides methods to interact with the vector database.
type Store struct {
	pool *pgxpool.Pool
}

// ChunkStore defines the methods that the Store must implement.
type ChunkStore interface {
	Migrate(ctx context.Context, dim int) error
	ReplaceSource(ctx context.Context, source string, chunks []models.Chunk, vectors [][]float32) error
	Search(ctx context.Context, vec []float32, k int, minScore float64) ([]models.RetrievalResult, error)
	EmbedModelVersion(ctx context.Context) (string, bool, error)
	SetEmbedModelVersion(ctx context.Context, version string) error
	Reset(ctx context.Context) error
	Ping(ctx context.Context) error
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate applies database migrations and schema setup.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
  id          TEXT PRIMARY KEY,
  source      TEXT NOT NULL,
  module      TEXT NOT NULL DEFAULT '',
  week        INT  NOT NULL DEFAULT 0,
  section     TEXT NOT NULL DEFAULT '',
  position    INT  NOT NULL,
  content     TEXT NOT NULL,
  token_count INT  NOT NULL DEFAULT 0,
  embedding   vector(%d),
  created_at  TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS chunks_source_position_uidx
  ON chunks (source, position);

CREATE INDEX IF NOT EXISTS chunks_embedding_idx
  ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);

CREATE TABLE IF NOT EXISTS sources (
  source     TEXT PRIMARY KEY,
  indexed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS index_meta (
  key        TEXT PRIMARY KEY,
  value      TEXT NOT NULL,
  updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, dim))
	return err
}

// ReplaceSource swaps all chunks of one source in a single transaction,
// so concurrent retrievals never observe a half-updated source. The
// sources row keeps its original indexed_at, which anchors the
// deterministic tie-break ordering in Search.
func (s *Store) ReplaceSource(ctx context.Context, source string, chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk/vector count mismatch: %d != %d", len(chunks), len(vectors))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO sources (source) VALUES ($1) ON CONFLICT (source) DO NOTHING`, source); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE source = $1`, source); err != nil {
		return err
	}

	const q = `
		INSERT INTO chunks (id, source, module, week, section, position, content, token_count, embedding, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())`
	for i, c := range chunks {
		var ev any
		if vectors[i] != nil {
			ev = pgvector.NewVector(vectors[i])
		} else {
			ev = (*pgvector.Vector)(nil)
		}
		if _, err := tx.Exec(ctx, q,
			c.ID, c.Source, c.Module, c.Week, c.Section, c.Position, c.Content, c.TokenCount, ev); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// Search returns at most k chunks with cosine similarity >= minScore,
// ordered by descending score. Ties are broken by the earliest-indexed
// source, then by the chunk's position within it, so repeated identical
// queries against an unchanged store always rank identically.
func (s *Store) Search(ctx context.Context, vec []float32, k int, minScore float64) ([]models.RetrievalResult, error) {
	if len(vec) == 0 {
		return []models.RetrievalResult{}, nil
	}
	if k <= 0 {
		k = 5
	}

	const q = `
SELECT c.id, c.source, c.module, c.week, c.section, c.position, c.content, c.token_count, c.created_at,
       1 - (c.embedding <=> $1::vector) AS score
FROM chunks c
JOIN sources s ON s.source = c.source
WHERE c.embedding IS NOT NULL
  AND 1 - (c.embedding <=> $1::vector) >= $2
ORDER BY score DESC, s.indexed_at ASC, c.position ASC
LIMIT $3`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vec), minScore, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RetrievalResult
	for rows.Next() {
		var c models.Chunk
		var score float64
		if err := rows.Scan(
			&c.ID, &c.Source, &c.Module, &c.Week, &c.Section, &c.Position, &c.Content, &c.TokenCount, &c.CreatedAt,
			&score,
		); err != nil {
			return nil, err
		}
		out = append(out, models.RetrievalResult{Chunk: c, Score: score})
	}
	return out, rows.Err()
}

// EmbedModelVersion returns the embedding model the index was built
// with, or ok=false when nothing has been indexed yet.
func (s *Store) EmbedModelVersion(ctx context.Context) (string, bool, error) {
	var v string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM index_meta WHERE key = $1`, embedModelKey).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

// SetEmbedModelVersion records the embedding model used at index time.
func (s *Store) SetEmbedModelVersion(ctx context.Context, version string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO index_meta (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		embedModelKey, version)
	return err
}

// Reset drops all indexed content. Used when the embedding model
// changes, since vectors from different models are not comparable.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE chunks, sources, index_meta`)
	return err
}

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
