package storage

import (
	"context"
	"time"

	"github.com/almsbooks/recon-backend/internal/domain/matcher"
)

// Repository defines the complete storage interface. The engine and the API
// depend on this rather than on a concrete driver, so tests run against the
// in-memory mock and production against PostgreSQL or a SQLite snapshot.
type Repository interface {
	RecordRepository
	LedgerRepository
	RunRepository
	Close() error
}

// RecordRepository reads the two record streams being reconciled. Rows are
// flattened into typed matcher records at this boundary; nothing downstream
// touches raw columns.
type RecordRepository interface {
	// FetchUnlinkedSources returns source-side records in [start, end] that
	// no ledger entry claims yet.
	FetchUnlinkedSources(ctx context.Context, dir Direction, start, end time.Time) ([]matcher.Record, error)

	// FetchUnlinkedTargets returns target-side records in [start, end] that
	// no ledger entry claims yet. Callers widen the range by the date window
	// so edge-of-range sources see all their candidates.
	FetchUnlinkedTargets(ctx context.Context, dir Direction, start, end time.Time) ([]matcher.Record, error)
}

// LedgerRepository writes and reads the link ledger.
type LedgerRepository interface {
	// CommitLink records a link and flags both rows, in one transaction.
	// If the exact pair is already linked it reports skippedExisting and
	// changes nothing; the unique constraints make re-running a batch safe.
	CommitLink(ctx context.Context, dir Direction, sourceID, targetID int64, confidence float64, method string) (skippedExisting bool, err error)

	// CreateTargetAndLink inserts a synthetic target derived from source,
	// labeled as machine-generated, and links it, in one transaction.
	// Returns the new target's id. Only legal when dir allows synthesis.
	CreateTargetAndLink(ctx context.Context, dir Direction, source matcher.Record, label string, confidence float64, method string) (int64, error)

	// ListLinks returns recent ledger entries, newest first.
	ListLinks(ctx context.Context, limit int) ([]Link, error)

	// GetStats summarizes the ledger and the unlinked backlog.
	GetStats(ctx context.Context) (*Stats, error)
}

// RunRepository tracks reconciliation runs for the audit trail.
type RunRepository interface {
	// StartRun records the start of a run and returns its id.
	StartRun(ctx context.Context, dir Direction, start, end time.Time, dryRun bool) (int64, error)

	// CompleteRun records the run's totals and final status.
	CompleteRun(ctx context.Context, runID int64, totals RunTotals) error

	// ListRuns returns recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]ReconRun, error)

	// GetRun retrieves a run by id.
	GetRun(ctx context.Context, runID int64) (*ReconRun, error)
}
