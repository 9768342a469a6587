package recon

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/almsbooks/recon-backend/internal/domain/matcher"
	"github.com/almsbooks/recon-backend/internal/domain/normalize"
	"github.com/almsbooks/recon-backend/internal/infrastructure/storage"
)

func day(d int) time.Time {
	return time.Date(2025, 6, d, 0, 0, 0, 0, time.UTC)
}

func newTestEngine(repo storage.Repository) *Engine {
	m := matcher.New(matcher.DefaultConfig(), normalize.New(nil))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(repo, m, logger)
}

func writeOpts() Options {
	return Options{
		Direction: storage.DirectionReceiptsToBanking,
		DateStart: day(1),
		DateEnd:   day(30),
	}
}

func TestRun_LinksMatchingRecords(t *testing.T) {
	repo := storage.NewMockRepository()
	repo.AddReceipt(day(10), "52.10", "SHELL GAS STATION", storage.EntryManual)
	repo.AddReceipt(day(12), "135.00", "Joe's Garage Repair", storage.EntryImport)
	repo.AddBanking(day(10), "52.10", "", "Shell Canada Products Ltd")
	repo.AddBanking(day(13), "135.00", "", "GARAGE REPAIR SVC")

	result, err := newTestEngine(repo).Run(context.Background(), writeOpts())

	require.NoError(t, err)
	assert.Equal(t, 2, result.SourcesFound)
	assert.Equal(t, 2, result.Linked)
	assert.Zero(t, result.Deferred)
	assert.Zero(t, result.Errored)
	require.Len(t, repo.Links, 2)
	assert.True(t, repo.Links[0].Confidence >= 50)

	// The run row records the totals.
	require.Len(t, repo.Runs, 1)
	assert.Equal(t, "completed", repo.Runs[0].Status)
	assert.Equal(t, 2, repo.Runs[0].Linked)
}

func TestRun_DefersWhenNoAcceptableCandidate(t *testing.T) {
	repo := storage.NewMockRepository()
	repo.AddReceipt(day(10), "52.10", "SHELL GAS", storage.EntryManual)
	// Wrong amount, far date: no candidate survives.
	repo.AddBanking(day(25), "900.00", "", "MORTGAGE PAYMENT")

	result, err := newTestEngine(repo).Run(context.Background(), writeOpts())

	require.NoError(t, err)
	assert.Equal(t, 1, result.Deferred)
	assert.Zero(t, result.Linked)
	assert.Zero(t, result.Created)
	assert.Empty(t, repo.Links)
}

func TestRun_ReceiptsToBankingNeverCreates(t *testing.T) {
	repo := storage.NewMockRepository()
	repo.AddReceipt(day(10), "52.10", "ORPHAN RECEIPT", storage.EntryManual)

	result, err := newTestEngine(repo).Run(context.Background(), writeOpts())

	require.NoError(t, err)
	assert.Zero(t, result.Created)
	assert.Equal(t, 1, result.Deferred)
	assert.Zero(t, repo.CreateCalls)
}

func TestRun_BankingToReceiptsCreatesForUnexplainedDebit(t *testing.T) {
	repo := storage.NewMockRepository()
	repo.AddBanking(day(10), "64.00", "", "CARWASH SUPPLIES")

	opts := writeOpts()
	opts.Direction = storage.DirectionBankingToReceipts

	result, err := newTestEngine(repo).Run(context.Background(), opts)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Zero(t, result.Deferred)

	require.Len(t, repo.Receipts, 1)
	created := repo.Receipts[0]
	assert.Equal(t, storage.EntryAuto, created.EntrySource)
	assert.True(t, strings.HasPrefix(created.Vendor, "AUTO-GENERATED CARWASH SUPPLIES ["))
	assert.True(t, created.Amount.Equal(repo.Banking[0].Debit))
	require.Len(t, repo.Links, 1)
	assert.Equal(t, "auto_created", repo.Links[0].Method)
	assert.Zero(t, repo.Links[0].Confidence)
}

func TestRun_BankingToReceiptsIgnoresCredits(t *testing.T) {
	repo := storage.NewMockRepository()
	repo.AddBanking(day(10), "", "250.00", "CUSTOMER DEPOSIT")

	opts := writeOpts()
	opts.Direction = storage.DirectionBankingToReceipts

	result, err := newTestEngine(repo).Run(context.Background(), opts)

	require.NoError(t, err)
	assert.Zero(t, result.SourcesFound)
	assert.Empty(t, repo.Receipts)
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	repo := storage.NewMockRepository()
	repo.AddReceipt(day(10), "52.10", "SHELL GAS", storage.EntryManual)
	repo.AddBanking(day(10), "52.10", "", "SHELL CANADA")

	opts := writeOpts()
	opts.DryRun = true

	result, err := newTestEngine(repo).Run(context.Background(), opts)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Linked)
	require.Len(t, result.Decisions, 1)
	assert.Equal(t, matcher.ActionLink, result.Decisions[0].Action)

	// Nothing touched the repository: no links, no run row, no calls.
	assert.Empty(t, repo.Links)
	assert.Empty(t, repo.Runs)
	assert.Zero(t, repo.CommitLinkCalls)
	assert.Zero(t, repo.CreateCalls)
	assert.Zero(t, result.RunID)
}

func TestRun_SecondRunSkipsExistingLinks(t *testing.T) {
	repo := storage.NewMockRepository()
	rid := repo.AddReceipt(day(10), "52.10", "SHELL GAS", storage.EntryManual)
	bid := repo.AddBanking(day(10), "52.10", "", "SHELL CANADA")

	// A previous batch wrote the link but crashed before flagging the
	// records, so both still surface as unlinked.
	repo.Links = append(repo.Links, storage.Link{ID: 1, ReceiptID: rid, BankingID: bid, Confidence: 90})

	result, err := newTestEngine(repo).Run(context.Background(), writeOpts())

	require.NoError(t, err)
	assert.Equal(t, 1, result.SkippedExisting)
	assert.Zero(t, result.Linked)
	assert.Zero(t, result.Errored)
	assert.Len(t, repo.Links, 1)
}

func TestRun_MalformedRecordSkippedNotFatal(t *testing.T) {
	repo := storage.NewMockRepository()
	repo.AddReceipt(day(10), "52.10", "GOOD RECEIPT", storage.EntryManual)
	repo.AddReceipt(day(11), "0", "ZERO AMOUNT", storage.EntryImport)
	repo.AddBanking(day(10), "52.10", "", "GOOD RECEIPT DEBIT")

	result, err := newTestEngine(repo).Run(context.Background(), writeOpts())

	require.NoError(t, err)
	assert.Equal(t, 1, result.Linked)
	assert.Equal(t, 1, result.Errored)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Error(), "missing date or amount")
}

func TestRun_MaxSourcesCapsBatch(t *testing.T) {
	repo := storage.NewMockRepository()
	for i := 0; i < 5; i++ {
		repo.AddReceipt(day(10+i), "10.00", "VENDOR", storage.EntryImport)
	}

	opts := writeOpts()
	opts.MaxSources = 2

	result, err := newTestEngine(repo).Run(context.Background(), opts)

	require.NoError(t, err)
	assert.Equal(t, 2, result.SourcesFound)
	assert.Len(t, result.Decisions, 2)
}

func TestRun_RejectsInvalidArguments(t *testing.T) {
	repo := storage.NewMockRepository()
	engine := newTestEngine(repo)

	opts := writeOpts()
	opts.Direction = "sideways"
	_, err := engine.Run(context.Background(), opts)
	assert.ErrorContains(t, err, "invalid direction")

	opts = writeOpts()
	opts.DateStart, opts.DateEnd = opts.DateEnd, opts.DateStart
	_, err = engine.Run(context.Background(), opts)
	assert.ErrorContains(t, err, "before it starts")
}

func TestRun_FetchFailureAbortsBeforeWrites(t *testing.T) {
	repo := storage.NewMockRepository()
	repo.FetchErr = assert.AnError

	_, err := newTestEngine(repo).Run(context.Background(), writeOpts())

	require.Error(t, err)
	assert.Empty(t, repo.Runs)
	assert.Zero(t, repo.CommitLinkCalls)
}

func TestRun_CommitFailureCountedNotFatal(t *testing.T) {
	repo := storage.NewMockRepository()
	repo.AddReceipt(day(10), "52.10", "SHELL GAS", storage.EntryManual)
	repo.AddBanking(day(10), "52.10", "", "SHELL CANADA")
	repo.CommitErr = assert.AnError

	result, err := newTestEngine(repo).Run(context.Background(), writeOpts())

	require.NoError(t, err)
	assert.Equal(t, 1, result.Errored)
	assert.Zero(t, result.Linked)
	require.Len(t, repo.Runs, 1)
	assert.Equal(t, "completed_with_errors", repo.Runs[0].Status)
}

func TestRun_HistogramBucketsLinkedScores(t *testing.T) {
	repo := storage.NewMockRepository()
	repo.AddReceipt(day(10), "52.10", "SHELL GAS STATION", storage.EntryManual)
	repo.AddBanking(day(10), "52.10", "", "SHELL GAS BAR")

	result, err := newTestEngine(repo).Run(context.Background(), writeOpts())

	require.NoError(t, err)
	require.Len(t, result.Histogram, 1)
	assert.Equal(t, "90-100", result.Histogram[0].Range)
	assert.Equal(t, 1, result.Histogram[0].Count)
}

func TestMachineLabel(t *testing.T) {
	labeled := machineLabel("  STAPLES  ")
	assert.True(t, strings.HasPrefix(labeled, "AUTO-GENERATED STAPLES ["))
	assert.True(t, strings.HasSuffix(labeled, "]"))

	blank := machineLabel("   ")
	assert.True(t, strings.HasPrefix(blank, "AUTO-GENERATED UNEXPLAINED DEBIT ["))

	// Suffixes keep repeated descriptions distinguishable.
	assert.NotEqual(t, machineLabel("X"), machineLabel("X"))
}
