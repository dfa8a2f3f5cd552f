// Package pgvector stores embedded chunks in PostgreSQL with the pgvector extension.
package pgvector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashureev/contextqa/internal/domain"
	"github.com/ashureev/contextqa/internal/vectorstore"
)

const defaultTable = "contextqa_chunks"

var tableNameRE = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Config configures the Postgres backend.
type Config struct {
	DatabaseURL string
	Table       string
	Dimension   int
	MaxConns    int32
}

// Store implements vectorstore.Backend on a pgx pool.
type Store struct {
	pool  *pgxpool.Pool
	table string
}

// New connects, pings and migrates the chunk table.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.Dimension <= 0 {
		return nil, errors.New("pgvector dimension must be > 0")
	}
	if cfg.Table == "" {
		cfg.Table = defaultTable
	}
	if !tableNameRE.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}

	config, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	config.MaxConns = 10
	if cfg.MaxConns > 0 {
		config.MaxConns = cfg.MaxConns
	}
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{pool: pool, table: cfg.Table}
	if err := s.migrate(ctx, cfg.Dimension); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	slog.Info("pgvector store connected", "host", config.ConnConfig.Host, "table", cfg.Table)
	return s, nil
}

func (s *Store) migrate(ctx context.Context, dimension int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			session_id TEXT NOT NULL,
			chunk_text TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table, dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_session_idx ON %s (session_id)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Name() string { return "pgvector" }

func (s *Store) Add(ctx context.Context, records []vectorstore.Record) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, session_id, chunk_text, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5::vector)`, s.table)

	batch := &pgx.Batch{}
	for _, r := range records {
		md, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		batch.Queue(query, r.ID, r.SessionID, r.Text, md, vectorLiteral(r.Vector))
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, sessionID string, vector []float32, k int) ([]domain.Document, error) {
	query := fmt.Sprintf(`SELECT id::text, chunk_text, metadata, 1 - (embedding <=> $2::vector) AS score
		FROM %s WHERE session_id = $1
		ORDER BY embedding <=> $2::vector
		LIMIT $3`, s.table)

	rows, err := s.pool.Query(ctx, query, sessionID, vectorLiteral(vector), k)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		var (
			doc domain.Document
			md  []byte
		)
		if err := rows.Scan(&doc.ID, &doc.Text, &md, &doc.Score); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		if err := json.Unmarshal(md, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", doc.ID, err)
		}
		doc.SessionID = sessionID
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE session_id = $1`, s.table), sessionID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// vectorLiteral formats v in pgvector's text input form, e.g. "[1,0.5,-2]".
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 8)
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
