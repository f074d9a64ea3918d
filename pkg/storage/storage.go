// Package storage persists RPZ policy entries and source-validation score
// history so both survive a restart. The two record kinds it persists are
// exactly what pkg/firewall and pkg/sourcevalidate accumulate state for:
// firewall.Policy and the per-source suspicion score sourcevalidate.New
// keeps in memory.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidConfig is returned when a Storage implementation is asked to
// open with a nil or unusable config.
var ErrInvalidConfig = errors.New("storage: invalid config")

// ErrNotFound is returned when a lookup by key finds nothing.
var ErrNotFound = errors.New("storage: not found")

// PolicyRecord mirrors the fields of firewall.Policy this package persists,
// kept independent of pkg/firewall's type so storage has no dependency on
// the firewall package (avoids an import cycle: firewall could reasonably
// want to depend on storage for hot-reload, not the reverse).
type PolicyRecord struct {
	Domain     string
	Action     string
	Category   string
	RedirectTo string
	Message    string
	Priority   int
	UpdatedAt  time.Time
}

// SourceScoreRecord mirrors the running suspicion score sourcevalidate.New
// keeps per source IP in memory, persisted so a restart does not forget an
// address mid-quarantine.
type SourceScoreRecord struct {
	ClientIP  string
	Score     float64
	FirstSeen time.Time
	LastSeen  time.Time
	Queries   uint64
}

// Storage is the persistence contract both backends implement. Every
// method is safe for concurrent use.
type Storage interface {
	SavePolicy(ctx context.Context, p PolicyRecord) error
	DeletePolicy(ctx context.Context, domain string) error
	LoadPolicies(ctx context.Context) ([]PolicyRecord, error)

	SaveSourceScore(ctx context.Context, s SourceScoreRecord) error
	LoadSourceScores(ctx context.Context) ([]SourceScoreRecord, error)
	PruneSourceScores(ctx context.Context, olderThan time.Time) error

	Ping(ctx context.Context) error
	Close() error
}
