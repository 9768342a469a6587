package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/almsbooks/recon-backend/internal/domain/matcher"
)

// MockRepository is an in-memory Repository for tests. It mirrors the real
// implementation's semantics: one-to-one unique constraints on the ledger,
// linked flags on both record sides, and run bookkeeping.
type MockRepository struct {
	Receipts []Receipt
	Banking  []BankingTransaction
	Links    []Link
	Runs     []ReconRun

	// Failure injection.
	FetchErr  error
	CommitErr error

	// Call counters so tests can assert that dry runs write nothing.
	CommitLinkCalls int
	CreateCalls     int

	nextReceiptID int64
	nextLinkID    int64
	nextRunID     int64
}

var _ Repository = (*MockRepository)(nil)

// NewMockRepository creates an empty mock.
func NewMockRepository() *MockRepository {
	return &MockRepository{}
}

// AddReceipt inserts a receipt and returns its id.
func (m *MockRepository) AddReceipt(date time.Time, amount string, vendor, entrySource string) int64 {
	m.nextReceiptID++
	m.Receipts = append(m.Receipts, Receipt{
		ID:          m.nextReceiptID,
		Date:        date,
		Amount:      mustDecimal(amount),
		Vendor:      vendor,
		EntrySource: entrySource,
	})
	return m.nextReceiptID
}

// AddBanking inserts a banking transaction and returns its id. Exactly one
// of debit/credit should be non-zero, matching the bank schema.
func (m *MockRepository) AddBanking(date time.Time, debit, credit string, description string) int64 {
	id := int64(len(m.Banking) + 1)
	m.Banking = append(m.Banking, BankingTransaction{
		ID:          id,
		Date:        date,
		Debit:       mustDecimal(debit),
		Credit:      mustDecimal(credit),
		Description: description,
	})
	return id
}

func (m *MockRepository) FetchUnlinkedSources(ctx context.Context, dir Direction, start, end time.Time) ([]matcher.Record, error) {
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	switch dir {
	case DirectionReceiptsToBanking:
		return m.receiptRecords(start, end), nil
	case DirectionBankingToReceipts:
		return m.bankingRecords(start, end, true), nil
	default:
		return nil, fmt.Errorf("unknown direction %q", dir)
	}
}

func (m *MockRepository) FetchUnlinkedTargets(ctx context.Context, dir Direction, start, end time.Time) ([]matcher.Record, error) {
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	switch dir {
	case DirectionReceiptsToBanking:
		return m.bankingRecords(start, end, false), nil
	case DirectionBankingToReceipts:
		return m.receiptRecords(start, end), nil
	default:
		return nil, fmt.Errorf("unknown direction %q", dir)
	}
}

func (m *MockRepository) receiptRecords(start, end time.Time) []matcher.Record {
	var out []matcher.Record
	for _, r := range m.Receipts {
		if r.Linked || r.Date.Before(start) || r.Date.After(end) {
			continue
		}
		out = append(out, matcher.Record{
			ID:          r.ID,
			Date:        r.Date,
			Amount:      r.Amount,
			Label:       r.Vendor,
			ManualEntry: r.EntrySource == EntryManual,
		})
	}
	return out
}

func (m *MockRepository) bankingRecords(start, end time.Time, debitsOnly bool) []matcher.Record {
	var out []matcher.Record
	for _, b := range m.Banking {
		if b.Linked || b.Date.Before(start) || b.Date.After(end) {
			continue
		}
		if debitsOnly && b.Debit.IsZero() {
			continue
		}
		out = append(out, matcher.Record{
			ID:     b.ID,
			Date:   b.Date,
			Amount: b.Amount(),
			Label:  b.Description,
		})
	}
	return out
}

func (m *MockRepository) CommitLink(ctx context.Context, dir Direction, sourceID, targetID int64, confidence float64, method string) (bool, error) {
	m.CommitLinkCalls++
	if m.CommitErr != nil {
		return false, m.CommitErr
	}

	receiptID, bankingID := orientIDs(dir, sourceID, targetID)

	for _, l := range m.Links {
		if l.ReceiptID == receiptID && l.BankingID == bankingID {
			return true, nil
		}
		if l.ReceiptID == receiptID || l.BankingID == bankingID {
			return false, fmt.Errorf("unique constraint: receipt %d or banking %d already linked", receiptID, bankingID)
		}
	}

	m.nextLinkID++
	m.Links = append(m.Links, Link{
		ID:         m.nextLinkID,
		ReceiptID:  receiptID,
		BankingID:  bankingID,
		Confidence: confidence,
		Method:     method,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	})
	m.setLinkedFlags(receiptID, bankingID)

	return false, nil
}

func (m *MockRepository) CreateTargetAndLink(ctx context.Context, dir Direction, source matcher.Record, label string, confidence float64, method string) (int64, error) {
	m.CreateCalls++
	if !dir.CanSynthesizeTargets() {
		return 0, fmt.Errorf("direction %q does not allow creating target records", dir)
	}
	if m.CommitErr != nil {
		return 0, m.CommitErr
	}

	m.nextReceiptID++
	receiptID := m.nextReceiptID
	m.Receipts = append(m.Receipts, Receipt{
		ID:          receiptID,
		Date:        source.Date,
		Amount:      source.Amount.Abs(),
		Vendor:      label,
		EntrySource: EntryAuto,
		Linked:      true,
	})

	m.nextLinkID++
	m.Links = append(m.Links, Link{
		ID:         m.nextLinkID,
		ReceiptID:  receiptID,
		BankingID:  source.ID,
		Confidence: confidence,
		Method:     method,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	})
	m.setLinkedFlags(receiptID, source.ID)

	return receiptID, nil
}

func (m *MockRepository) setLinkedFlags(receiptID, bankingID int64) {
	for i := range m.Receipts {
		if m.Receipts[i].ID == receiptID {
			m.Receipts[i].Linked = true
		}
	}
	for i := range m.Banking {
		if m.Banking[i].ID == bankingID {
			m.Banking[i].Linked = true
		}
	}
}

func (m *MockRepository) ListLinks(ctx context.Context, limit int) ([]Link, error) {
	if limit <= 0 || limit > len(m.Links) {
		limit = len(m.Links)
	}
	out := make([]Link, 0, limit)
	for i := len(m.Links) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.Links[i])
	}
	return out, nil
}

func (m *MockRepository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{TotalLinks: len(m.Links)}

	buckets := make(map[int]int)
	var sum float64
	for _, l := range m.Links {
		sum += l.Confidence
		buckets[histogramBucket(l.Confidence)]++
	}
	if stats.TotalLinks > 0 {
		stats.AverageConfidence = sum / float64(stats.TotalLinks)
	}
	stats.ConfidenceHistogram = BuildHistogram(buckets)

	for _, r := range m.Receipts {
		if !r.Linked {
			stats.UnlinkedReceipts++
		}
	}
	for _, b := range m.Banking {
		if !b.Linked {
			stats.UnlinkedBanking++
		}
	}

	return stats, nil
}

func (m *MockRepository) StartRun(ctx context.Context, dir Direction, start, end time.Time, dryRun bool) (int64, error) {
	m.nextRunID++
	m.Runs = append(m.Runs, ReconRun{
		ID:        m.nextRunID,
		Direction: string(dir),
		DateStart: formatDate(start),
		DateEnd:   formatDate(end),
		DryRun:    dryRun,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
		Status:    "running",
	})
	return m.nextRunID, nil
}

func (m *MockRepository) CompleteRun(ctx context.Context, runID int64, totals RunTotals) error {
	for i := range m.Runs {
		if m.Runs[i].ID == runID {
			m.Runs[i].RunTotals = totals
			m.Runs[i].CompletedAt = time.Now().UTC().Format(time.RFC3339)
			m.Runs[i].Status = "completed"
			if totals.Errored > 0 {
				m.Runs[i].Status = "completed_with_errors"
			}
			return nil
		}
	}
	return fmt.Errorf("run %d not found", runID)
}

func (m *MockRepository) ListRuns(ctx context.Context, limit int) ([]ReconRun, error) {
	if limit <= 0 || limit > len(m.Runs) {
		limit = len(m.Runs)
	}
	out := make([]ReconRun, 0, limit)
	for i := len(m.Runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.Runs[i])
	}
	return out, nil
}

func (m *MockRepository) GetRun(ctx context.Context, runID int64) (*ReconRun, error) {
	for i := range m.Runs {
		if m.Runs[i].ID == runID {
			run := m.Runs[i]
			return &run, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *MockRepository) Close() error { return nil }

func mustDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
