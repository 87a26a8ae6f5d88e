// Package postgres persists normalized records and serves random samples of
// stored text to the tagging client.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/sentinel-ingest/internal/domain"
	_ "github.com/lib/pq"
)

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS tweets (
	id      TEXT PRIMARY KEY,
	lon     DOUBLE PRECISION NOT NULL,
	lat     DOUBLE PRECISION NOT NULL,
	exact   BOOLEAN NOT NULL,
	user_id TEXT NOT NULL,
	text    TEXT NOT NULL,
	time    TIMESTAMPTZ NOT NULL
)`

	insertSQL = `INSERT INTO tweets (id, lon, lat, exact, user_id, text, time)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`

	sampleSQL = `SELECT text FROM tweets ORDER BY random() LIMIT $1`
)

// Store writes records to the tweets table. It implements pipeline.Sink.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, url string, logger *slog.Logger) (*Store, error) {
	if url == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	logger.Info("database connected")
	return NewStore(db, logger), nil
}

// NewStore wraps an existing handle.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// EnsureSchema creates the tweets table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Write inserts one record with bound parameters. A record whose id is
// already stored is ignored.
func (s *Store) Write(ctx context.Context, rec domain.Record) error {
	_, err := s.db.ExecContext(ctx, insertSQL,
		rec.ID, rec.Longitude, rec.Latitude, rec.Exact, rec.AuthorID, rec.Text, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", rec.ID, err)
	}
	return nil
}

// Sample returns up to n stored texts in random order.
func (s *Store) Sample(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}
	rows, err := s.db.QueryContext(ctx, sampleSQL, n)
	if err != nil {
		return nil, fmt.Errorf("sample texts: %w", err)
	}
	defer rows.Close()

	texts := make([]string, 0, n)
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("scan text: %w", err)
		}
		texts = append(texts, text)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate texts: %w", err)
	}
	return texts, nil
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
