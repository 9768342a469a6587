package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/almsbooks/recon-backend/internal/domain/matcher"
)

func day(d int) time.Time {
	return time.Date(2025, 6, d, 0, 0, 0, 0, time.UTC)
}

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insertReceipt(t *testing.T, s *Storage, date time.Time, amount, vendor, entrySource string) int64 {
	t.Helper()
	res, err := s.db.Exec(
		`INSERT INTO receipts (receipt_date, amount, vendor, entry_source) VALUES (?, ?, ?, ?)`,
		formatDate(date), amount, vendor, entrySource)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func insertBanking(t *testing.T, s *Storage, date time.Time, debit, credit, description string) int64 {
	t.Helper()
	res, err := s.db.Exec(
		`INSERT INTO banking_transactions (txn_date, debit, credit, description) VALUES (?, ?, ?, ?)`,
		formatDate(date), debit, credit, description)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func TestOpen_RunsMigrations(t *testing.T) {
	s := newTestStorage(t)

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(allMigrations), count)

	for _, table := range []string{"receipts", "banking_transactions", "receipt_banking_links", "recon_runs"} {
		var n int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n)
		assert.NoError(t, err, table)
	}
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open("sqlite", path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open("sqlite", path)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	var count int
	require.NoError(t, s2.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	assert.Equal(t, len(allMigrations), count)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("oracle", "whatever")
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestRebind(t *testing.T) {
	sqlite := &Storage{dialect: dialectSQLite}
	postgres := &Storage{dialect: dialectPostgres}

	q := `INSERT INTO t (a, b) VALUES (?, ?)`
	assert.Equal(t, q, sqlite.rebind(q))
	assert.Equal(t, `INSERT INTO t (a, b) VALUES ($1, $2)`, postgres.rebind(q))
}

func TestFetchUnlinkedSources_Receipts(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	inRange := insertReceipt(t, s, day(10), "52.10", "SHELL GAS", EntryManual)
	insertReceipt(t, s, day(1), "10.00", "TOO EARLY", EntryImport)
	insertReceipt(t, s, day(28), "10.00", "TOO LATE", EntryImport)
	linked := insertReceipt(t, s, day(11), "20.00", "ALREADY DONE", EntryImport)
	_, err := s.db.Exec(`UPDATE receipts SET linked = ? WHERE id = ?`, true, linked)
	require.NoError(t, err)

	records, err := s.FetchUnlinkedSources(ctx, DirectionReceiptsToBanking, day(5), day(15))
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, inRange, records[0].ID)
	assert.Equal(t, day(10), records[0].Date)
	assert.True(t, records[0].Amount.Equal(decimal.RequireFromString("52.10")))
	assert.Equal(t, "SHELL GAS", records[0].Label)
	assert.True(t, records[0].ManualEntry)
}

func TestFetchUnlinkedSources_BankingDebitsOnly(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	debit := insertBanking(t, s, day(10), "64.00", "0", "SUPPLIES")
	insertBanking(t, s, day(10), "0", "250.00", "DEPOSIT")

	records, err := s.FetchUnlinkedSources(ctx, DirectionBankingToReceipts, day(5), day(15))
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, debit, records[0].ID)
	// Debits surface negative; the matcher compares magnitudes.
	assert.True(t, records[0].Amount.Equal(decimal.RequireFromString("-64")))
}

func TestFetchUnlinkedTargets_BankingIncludesCredits(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	insertBanking(t, s, day(10), "64.00", "0", "SUPPLIES")
	insertBanking(t, s, day(10), "0", "250.00", "DEPOSIT")

	records, err := s.FetchUnlinkedTargets(ctx, DirectionReceiptsToBanking, day(5), day(15))
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestFetchUnlinked_NullColumnsYieldZeroValues(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.db.Exec(`INSERT INTO receipts (receipt_date, amount, vendor) VALUES (NULL, NULL, 'BROKEN ROW')`)
	require.NoError(t, err)

	records, err := s.FetchUnlinkedSources(ctx, DirectionReceiptsToBanking, day(1), day(28))
	require.NoError(t, err)

	// NULL dates fall outside any range filter in SQLite, so the row may or
	// may not surface; when it does, it must carry zero values, not an error.
	for _, r := range records {
		assert.True(t, r.Date.IsZero())
		assert.True(t, r.Amount.IsZero())
	}
}

func TestCommitLink_WritesLedgerAndFlagsBothSides(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	rid := insertReceipt(t, s, day(10), "52.10", "SHELL GAS", EntryManual)
	bid := insertBanking(t, s, day(10), "52.10", "0", "SHELL CANADA")

	skipped, err := s.CommitLink(ctx, DirectionReceiptsToBanking, rid, bid, 90, "amount_exact+same_day")
	require.NoError(t, err)
	assert.False(t, skipped)

	links, err := s.ListLinks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, rid, links[0].ReceiptID)
	assert.Equal(t, bid, links[0].BankingID)
	assert.Equal(t, 90.0, links[0].Confidence)
	assert.Equal(t, "amount_exact+same_day", links[0].Method)
	assert.Equal(t, "SHELL GAS", links[0].Vendor)
	assert.Equal(t, "SHELL CANADA", links[0].Description)

	// Both sides drop out of the unlinked pools.
	sources, err := s.FetchUnlinkedSources(ctx, DirectionReceiptsToBanking, day(1), day(28))
	require.NoError(t, err)
	assert.Empty(t, sources)
	targets, err := s.FetchUnlinkedTargets(ctx, DirectionReceiptsToBanking, day(1), day(28))
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestCommitLink_ExactPairIsSkippedOnRerun(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	rid := insertReceipt(t, s, day(10), "52.10", "SHELL GAS", EntryManual)
	bid := insertBanking(t, s, day(10), "52.10", "0", "SHELL CANADA")

	skipped, err := s.CommitLink(ctx, DirectionReceiptsToBanking, rid, bid, 90, "m")
	require.NoError(t, err)
	require.False(t, skipped)

	skipped, err = s.CommitLink(ctx, DirectionReceiptsToBanking, rid, bid, 90, "m")
	require.NoError(t, err)
	assert.True(t, skipped)

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM receipt_banking_links`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestCommitLink_UniqueConstraintBlocksDoubleClaim(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	rid1 := insertReceipt(t, s, day(10), "52.10", "FIRST", EntryManual)
	rid2 := insertReceipt(t, s, day(10), "52.10", "SECOND", EntryManual)
	bid := insertBanking(t, s, day(10), "52.10", "0", "DEBIT")

	skipped, err := s.CommitLink(ctx, DirectionReceiptsToBanking, rid1, bid, 90, "m")
	require.NoError(t, err)
	require.False(t, skipped)

	// A different receipt claiming the same banking row trips the unique
	// constraint and is reported as already linked, not an error.
	skipped, err = s.CommitLink(ctx, DirectionReceiptsToBanking, rid2, bid, 80, "m")
	require.NoError(t, err)
	assert.True(t, skipped)

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM receipt_banking_links`).Scan(&count))
	assert.Equal(t, 1, count)

	// The losing receipt stays unlinked.
	var linked bool
	require.NoError(t, s.db.QueryRow(`SELECT linked FROM receipts WHERE id = ?`, rid2).Scan(&linked))
	assert.False(t, linked)
}

func TestCommitLink_BankingToReceiptsOrientation(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	rid := insertReceipt(t, s, day(10), "52.10", "SHELL GAS", EntryManual)
	bid := insertBanking(t, s, day(10), "52.10", "0", "SHELL CANADA")

	// Source is the banking row in this direction; the ledger columns must
	// still come out the right way around.
	skipped, err := s.CommitLink(ctx, DirectionBankingToReceipts, bid, rid, 90, "m")
	require.NoError(t, err)
	require.False(t, skipped)

	links, err := s.ListLinks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, rid, links[0].ReceiptID)
	assert.Equal(t, bid, links[0].BankingID)
}

func TestCreateTargetAndLink(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	bid := insertBanking(t, s, day(10), "64.00", "0", "CARWASH SUPPLIES")

	source := matcher.Record{
		ID:     bid,
		Date:   day(10),
		Amount: decimal.RequireFromString("-64.00"),
		Label:  "CARWASH SUPPLIES",
	}

	receiptID, err := s.CreateTargetAndLink(ctx, DirectionBankingToReceipts, source,
		"AUTO-GENERATED CARWASH SUPPLIES [abc123]", 0, "auto_created")
	require.NoError(t, err)
	require.NotZero(t, receiptID)

	var (
		vendor, entrySource string
		amount              decimal.Decimal
		linked              bool
	)
	err = s.db.QueryRow(
		`SELECT vendor, entry_source, amount, linked FROM receipts WHERE id = ?`, receiptID,
	).Scan(&vendor, &entrySource, &amount, &linked)
	require.NoError(t, err)
	assert.Equal(t, "AUTO-GENERATED CARWASH SUPPLIES [abc123]", vendor)
	assert.Equal(t, EntryAuto, entrySource)
	assert.True(t, amount.Equal(decimal.RequireFromString("64")))
	assert.True(t, linked)

	links, err := s.ListLinks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, receiptID, links[0].ReceiptID)
	assert.Equal(t, bid, links[0].BankingID)
	assert.Equal(t, "auto_created", links[0].Method)
}

func TestCreateTargetAndLink_RejectedForReceiptsToBanking(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.CreateTargetAndLink(context.Background(), DirectionReceiptsToBanking,
		matcher.Record{ID: 1, Date: day(10)}, "label", 0, "auto_created")
	assert.ErrorContains(t, err, "does not allow creating target records")
}

func TestGetStats(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	rid1 := insertReceipt(t, s, day(10), "52.10", "A", EntryManual)
	rid2 := insertReceipt(t, s, day(11), "20.00", "B", EntryImport)
	insertReceipt(t, s, day(12), "30.00", "C", EntryImport)
	bid1 := insertBanking(t, s, day(10), "52.10", "0", "A")
	bid2 := insertBanking(t, s, day(11), "20.00", "0", "B")

	_, err := s.CommitLink(ctx, DirectionReceiptsToBanking, rid1, bid1, 95, "m")
	require.NoError(t, err)
	_, err = s.CommitLink(ctx, DirectionReceiptsToBanking, rid2, bid2, 55, "m")
	require.NoError(t, err)

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.TotalLinks)
	assert.InDelta(t, 75.0, stats.AverageConfidence, 0.001)
	assert.Equal(t, 1, stats.UnlinkedReceipts)
	assert.Equal(t, 0, stats.UnlinkedBanking)
	require.Len(t, stats.ConfidenceHistogram, 2)
	assert.Equal(t, "50-59", stats.ConfidenceHistogram[0].Range)
	assert.Equal(t, "90-100", stats.ConfidenceHistogram[1].Range)
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	runID, err := s.StartRun(ctx, DirectionReceiptsToBanking, day(1), day(28), false)
	require.NoError(t, err)
	require.NotZero(t, runID)

	run, err := s.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "running", run.Status)
	assert.Equal(t, "2025-06-01", run.DateStart)
	assert.Equal(t, "2025-06-28", run.DateEnd)
	assert.Empty(t, run.CompletedAt)

	totals := RunTotals{SourcesFound: 10, Linked: 7, Deferred: 2, SkippedExisting: 1}
	require.NoError(t, s.CompleteRun(ctx, runID, totals))

	run, err = s.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, totals, run.RunTotals)
	assert.NotEmpty(t, run.CompletedAt)
}

func TestCompleteRun_ErrorsMarkStatus(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	runID, err := s.StartRun(ctx, DirectionReceiptsToBanking, day(1), day(28), false)
	require.NoError(t, err)
	require.NoError(t, s.CompleteRun(ctx, runID, RunTotals{SourcesFound: 3, Errored: 1}))

	run, err := s.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "completed_with_errors", run.Status)
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	first, err := s.StartRun(ctx, DirectionReceiptsToBanking, day(1), day(10), false)
	require.NoError(t, err)
	second, err := s.StartRun(ctx, DirectionBankingToReceipts, day(11), day(20), true)
	require.NoError(t, err)

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].ID)
	assert.True(t, runs[0].DryRun)
	assert.Equal(t, first, runs[1].ID)
}

func TestGetRun_Missing(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.GetRun(context.Background(), 9999)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestParseDateValue(t *testing.T) {
	d, err := parseDateValue("2025-06-10")
	require.NoError(t, err)
	assert.Equal(t, day(10), d)

	d, err = parseDateValue("2025-06-10 14:22:01")
	require.NoError(t, err)
	assert.Equal(t, day(10), d)

	d, err = parseDateValue([]byte("2025-06-10"))
	require.NoError(t, err)
	assert.Equal(t, day(10), d)

	d, err = parseDateValue(nil)
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	d, err = parseDateValue(day(10))
	require.NoError(t, err)
	assert.Equal(t, day(10), d)

	_, err = parseDateValue(42)
	assert.Error(t, err)
}
