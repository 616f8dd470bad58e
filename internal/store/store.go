// Package store persists session summaries and patch decisions to
// PostgreSQL. The runtime works without it; persistence is an optional
// capability wired in at startup.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store wraps a PostgreSQL connection pool.
type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// New creates a Store with a pgx connection pool.
func New(dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")
	return &Store{db: pool, logger: logger}, nil
}

// Migrate reads and executes all .up.sql files from the migrations
// directory in lexical order.
func (s *Store) Migrate(ctx context.Context, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		s.logger.Info("Migration applied", zap.String("file", f))
	}
	return nil
}

// SummaryRecord is one persisted session outcome.
type SummaryRecord struct {
	SessionID string    `json:"session_id"`
	Query     string    `json:"query"`
	Text      string    `json:"text"`
	Converged bool      `json:"converged"`
	Forced    bool      `json:"forced"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SaveSummary persists one session summary.
func (s *Store) SaveSummary(ctx context.Context, rec *SummaryRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO session_summaries (session_id, query, text, converged, forced, error)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.SessionID, rec.Query, rec.Text, rec.Converged, rec.Forced, rec.Error)
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

// RecentSummaries returns the newest summaries up to limit.
func (s *Store) RecentSummaries(ctx context.Context, limit int) ([]*SummaryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx,
		`SELECT session_id, query, text, converged, forced, error, created_at
		 FROM session_summaries ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var out []*SummaryRecord
	for rows.Next() {
		var rec SummaryRecord
		if err := rows.Scan(&rec.SessionID, &rec.Query, &rec.Text,
			&rec.Converged, &rec.Forced, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// SavePatchDecision persists a terminal patch state.
func (s *Store) SavePatchDecision(ctx context.Context, patchID, sessionID, skillName, component, state, failure string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO patch_decisions (patch_id, session_id, skill_name, component, state, failure)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		patchID, sessionID, skillName, component, state, failure)
	if err != nil {
		return fmt.Errorf("save patch decision: %w", err)
	}
	return nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.db.Close()
}
