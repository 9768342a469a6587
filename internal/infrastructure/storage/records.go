package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/almsbooks/recon-backend/internal/domain/matcher"
)

// FetchUnlinkedSources returns the source-side records for a run direction.
// Rows with NULL dates or amounts still come back (with zero values); the
// engine skips and counts them rather than aborting the batch.
func (s *Storage) FetchUnlinkedSources(ctx context.Context, dir Direction, start, end time.Time) ([]matcher.Record, error) {
	switch dir {
	case DirectionReceiptsToBanking:
		return s.fetchUnlinkedReceipts(ctx, start, end)
	case DirectionBankingToReceipts:
		// Only debits: money leaving the account is what a receipt explains.
		return s.fetchUnlinkedBanking(ctx, start, end, true)
	default:
		return nil, fmt.Errorf("unknown direction %q", dir)
	}
}

// FetchUnlinkedTargets returns the target-side records for a run direction.
func (s *Storage) FetchUnlinkedTargets(ctx context.Context, dir Direction, start, end time.Time) ([]matcher.Record, error) {
	switch dir {
	case DirectionReceiptsToBanking:
		return s.fetchUnlinkedBanking(ctx, start, end, false)
	case DirectionBankingToReceipts:
		return s.fetchUnlinkedReceipts(ctx, start, end)
	default:
		return nil, fmt.Errorf("unknown direction %q", dir)
	}
}

func (s *Storage) fetchUnlinkedReceipts(ctx context.Context, start, end time.Time) ([]matcher.Record, error) {
	query := s.rebind(`
	SELECT id, receipt_date, amount, vendor, entry_source
	FROM receipts
	WHERE linked = ? AND receipt_date >= ? AND receipt_date <= ?
	ORDER BY receipt_date, id`)

	rows, err := s.db.QueryContext(ctx, query, false, formatDate(start), formatDate(end))
	if err != nil {
		return nil, fmt.Errorf("fetch unlinked receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []matcher.Record
	for rows.Next() {
		var (
			rec         matcher.Record
			rawDate     any
			amount      decimal.NullDecimal
			vendor      any
			entrySource any
		)
		if err := rows.Scan(&rec.ID, &rawDate, &amount, &vendor, &entrySource); err != nil {
			return nil, fmt.Errorf("scan receipt row: %w", err)
		}

		rec.Date, err = parseDateValue(rawDate)
		if err != nil {
			return nil, fmt.Errorf("receipt %d: %w", rec.ID, err)
		}
		if amount.Valid {
			rec.Amount = amount.Decimal
		}
		rec.Label = textValue(vendor)
		rec.ManualEntry = textValue(entrySource) == EntryManual

		records = append(records, rec)
	}

	return records, rows.Err()
}

func (s *Storage) fetchUnlinkedBanking(ctx context.Context, start, end time.Time, debitsOnly bool) ([]matcher.Record, error) {
	query := `
	SELECT id, txn_date, debit, credit, description
	FROM banking_transactions
	WHERE linked = ? AND txn_date >= ? AND txn_date <= ?`
	if debitsOnly {
		query += ` AND debit > 0`
	}
	query += ` ORDER BY txn_date, id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), false, formatDate(start), formatDate(end))
	if err != nil {
		return nil, fmt.Errorf("fetch unlinked banking transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []matcher.Record
	for rows.Next() {
		var (
			rec           matcher.Record
			rawDate       any
			debit, credit decimal.NullDecimal
			description   any
		)
		if err := rows.Scan(&rec.ID, &rawDate, &debit, &credit, &description); err != nil {
			return nil, fmt.Errorf("scan banking row: %w", err)
		}

		rec.Date, err = parseDateValue(rawDate)
		if err != nil {
			return nil, fmt.Errorf("banking transaction %d: %w", rec.ID, err)
		}
		rec.Amount = credit.Decimal.Sub(debit.Decimal)
		rec.Label = textValue(description)

		records = append(records, rec)
	}

	return records, rows.Err()
}
