package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS policies (
	domain      TEXT PRIMARY KEY,
	action      TEXT NOT NULL,
	category    TEXT NOT NULL DEFAULT '',
	redirect_to TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL DEFAULT '',
	priority    INTEGER NOT NULL DEFAULT 0,
	updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS source_scores (
	client_ip  TEXT PRIMARY KEY,
	score      REAL NOT NULL DEFAULT 0,
	first_seen INTEGER NOT NULL,
	last_seen  INTEGER NOT NULL,
	queries    INTEGER NOT NULL DEFAULT 0
);
`

// sqliteStorage implements Storage on modernc.org/sqlite (pure Go, no
// cgo), mirroring its sqlite.go connection setup and pragma
// tuning narrowed to the two tables this package owns.
type sqliteStorage struct {
	db *sql.DB
	mu sync.RWMutex
}

func newSQLiteStorage(dsn string) (Storage, error) {
	if dsn == "" {
		return nil, ErrInvalidConfig
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA journal_mode = WAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("storage: pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}

	return &sqliteStorage{db: db}, nil
}

func (s *sqliteStorage) SavePolicy(ctx context.Context, p PolicyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policies (domain, action, category, redirect_to, message, priority, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			action = excluded.action,
			category = excluded.category,
			redirect_to = excluded.redirect_to,
			message = excluded.message,
			priority = excluded.priority,
			updated_at = excluded.updated_at
	`, p.Domain, p.Action, p.Category, p.RedirectTo, p.Message, p.Priority, p.UpdatedAt.Unix())
	return err
}

func (s *sqliteStorage) DeletePolicy(ctx context.Context, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM policies WHERE domain = ?`, domain)
	return err
}

func (s *sqliteStorage) LoadPolicies(ctx context.Context) ([]PolicyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, action, category, redirect_to, message, priority, updated_at FROM policies
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PolicyRecord
	for rows.Next() {
		var p PolicyRecord
		var updatedAt int64
		if err := rows.Scan(&p.Domain, &p.Action, &p.Category, &p.RedirectTo, &p.Message, &p.Priority, &updatedAt); err != nil {
			return nil, err
		}
		p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStorage) SaveSourceScore(ctx context.Context, rec SourceScoreRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_scores (client_ip, score, first_seen, last_seen, queries)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(client_ip) DO UPDATE SET
			score = excluded.score,
			last_seen = excluded.last_seen,
			queries = excluded.queries
	`, rec.ClientIP, rec.Score, rec.FirstSeen.Unix(), rec.LastSeen.Unix(), rec.Queries)
	return err
}

func (s *sqliteStorage) LoadSourceScores(ctx context.Context) ([]SourceScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT client_ip, score, first_seen, last_seen, queries FROM source_scores
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SourceScoreRecord
	for rows.Next() {
		var rec SourceScoreRecord
		var first, last int64
		if err := rows.Scan(&rec.ClientIP, &rec.Score, &first, &last, &rec.Queries); err != nil {
			return nil, err
		}
		rec.FirstSeen = time.Unix(first, 0).UTC()
		rec.LastSeen = time.Unix(last, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStorage) PruneSourceScores(ctx context.Context, olderThan time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM source_scores WHERE last_seen < ?`, olderThan.Unix())
	return err
}

func (s *sqliteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqliteStorage) Close() error {
	return s.db.Close()
}
