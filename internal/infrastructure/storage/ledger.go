package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/almsbooks/recon-backend/internal/domain/matcher"
)

// CommitLink writes one ledger entry and flags both records, all in one
// transaction so a failure cannot leave a half-linked pair behind. An
// already-linked exact pair is reported as skippedExisting, whether caught
// by the pre-check or by the unique constraints under a concurrent run.
func (s *Storage) CommitLink(ctx context.Context, dir Direction, sourceID, targetID int64, confidence float64, method string) (bool, error) {
	receiptID, bankingID := orientIDs(dir, sourceID, targetID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin link transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	err = tx.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM receipt_banking_links WHERE receipt_id = ? AND banking_id = ?`,
	), receiptID, bankingID).Scan(&existing)
	if err != nil {
		return false, fmt.Errorf("check existing link: %w", err)
	}
	if existing > 0 {
		return true, nil
	}

	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO receipt_banking_links (receipt_id, banking_id, confidence, method)
		 VALUES (?, ?, ?, ?)`,
	), receiptID, bankingID, confidence, method)
	if err != nil {
		if isUniqueViolation(err) {
			return true, nil
		}
		return false, fmt.Errorf("insert link: %w", err)
	}

	if err := s.flagLinked(ctx, tx, receiptID, bankingID); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit link: %w", err)
	}
	return false, nil
}

// CreateTargetAndLink synthesizes a receipt for an unexplained bank debit
// and links it, in one transaction. The label must already carry the
// machine-generated marker; this layer stores what it is given.
func (s *Storage) CreateTargetAndLink(ctx context.Context, dir Direction, source matcher.Record, label string, confidence float64, method string) (int64, error) {
	if !dir.CanSynthesizeTargets() {
		return 0, fmt.Errorf("direction %q does not allow creating target records", dir)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin create transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	receiptID, err := s.insertAutoReceipt(ctx, tx, source, label)
	if err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO receipt_banking_links (receipt_id, banking_id, confidence, method)
		 VALUES (?, ?, ?, ?)`,
	), receiptID, source.ID, confidence, method)
	if err != nil {
		return 0, fmt.Errorf("insert link for created receipt: %w", err)
	}

	if err := s.flagLinked(ctx, tx, receiptID, source.ID); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create: %w", err)
	}
	return receiptID, nil
}

func (s *Storage) insertAutoReceipt(ctx context.Context, tx *sql.Tx, source matcher.Record, label string) (int64, error) {
	query := `INSERT INTO receipts (receipt_date, amount, vendor, entry_source, linked)
	          VALUES (?, ?, ?, ?, ?)`
	args := []any{formatDate(source.Date), source.Amount.Abs(), label, EntryAuto, true}

	if s.dialect == dialectPostgres {
		var id int64
		err := tx.QueryRowContext(ctx, s.rebind(query+` RETURNING id`), args...).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("insert auto receipt: %w", err)
		}
		return id, nil
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert auto receipt: %w", err)
	}
	return res.LastInsertId()
}

func (s *Storage) flagLinked(ctx context.Context, tx *sql.Tx, receiptID, bankingID int64) error {
	if _, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE receipts SET linked = ? WHERE id = ?`,
	), true, receiptID); err != nil {
		return fmt.Errorf("flag receipt %d linked: %w", receiptID, err)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE banking_transactions SET linked = ? WHERE id = ?`,
	), true, bankingID); err != nil {
		return fmt.Errorf("flag banking transaction %d linked: %w", bankingID, err)
	}

	return nil
}

// orientIDs maps (source, target) onto (receipt, banking) for a direction.
func orientIDs(dir Direction, sourceID, targetID int64) (receiptID, bankingID int64) {
	if dir == DirectionBankingToReceipts {
		return targetID, sourceID
	}
	return sourceID, targetID
}

// ListLinks returns recent ledger entries, newest first, with the vendor and
// bank description joined in for readability.
func (s *Storage) ListLinks(ctx context.Context, limit int) ([]Link, error) {
	if limit <= 0 {
		limit = 50
	}

	query := s.rebind(`
	SELECT l.id, l.receipt_id, l.banking_id, l.confidence, l.method, l.created_at,
	       r.vendor, b.description
	FROM receipt_banking_links l
	JOIN receipts r ON r.id = l.receipt_id
	JOIN banking_transactions b ON b.id = l.banking_id
	ORDER BY l.id DESC
	LIMIT ?`)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var links []Link
	for rows.Next() {
		var (
			link                    Link
			createdAt, vendor, desc any
		)
		if err := rows.Scan(&link.ID, &link.ReceiptID, &link.BankingID, &link.Confidence,
			&link.Method, &createdAt, &vendor, &desc); err != nil {
			return nil, fmt.Errorf("scan link row: %w", err)
		}
		link.CreatedAt = textValue(createdAt)
		link.Vendor = textValue(vendor)
		link.Description = textValue(desc)
		links = append(links, link)
	}

	return links, rows.Err()
}

// GetStats summarizes the ledger and the unlinked backlog. The confidence
// histogram is computed here rather than in SQL so both dialects share one
// query shape.
func (s *Storage) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	rows, err := s.db.QueryContext(ctx, `SELECT confidence FROM receipt_banking_links`)
	if err != nil {
		return nil, fmt.Errorf("read link confidences: %w", err)
	}
	defer func() { _ = rows.Close() }()

	buckets := make(map[int]int)
	var sum float64
	for rows.Next() {
		var c float64
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		stats.TotalLinks++
		sum += c
		buckets[histogramBucket(c)]++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if stats.TotalLinks > 0 {
		stats.AverageConfidence = sum / float64(stats.TotalLinks)
	}
	stats.ConfidenceHistogram = BuildHistogram(buckets)

	err = s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM receipts WHERE linked = ?`,
	), false).Scan(&stats.UnlinkedReceipts)
	if err != nil {
		return nil, fmt.Errorf("count unlinked receipts: %w", err)
	}

	err = s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM banking_transactions WHERE linked = ?`,
	), false).Scan(&stats.UnlinkedBanking)
	if err != nil {
		return nil, fmt.Errorf("count unlinked banking transactions: %w", err)
	}

	return stats, nil
}

func histogramBucket(confidence float64) int {
	b := int(confidence) / 10
	if b > 9 {
		b = 9 // 100 folds into 90-100
	}
	if b < 0 {
		b = 0
	}
	return b
}

// BuildHistogram renders occupied 10-point buckets in ascending order.
func BuildHistogram(buckets map[int]int) []HistogramBucket {
	keys := make([]int, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	out := make([]HistogramBucket, 0, len(keys))
	for _, k := range keys {
		label := fmt.Sprintf("%d-%d", k*10, k*10+9)
		if k == 9 {
			label = "90-100"
		}
		out = append(out, HistogramBucket{Range: label, Count: buckets[k]})
	}
	return out
}
