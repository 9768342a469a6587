package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction selects which table plays the source role and which the target
// role in a reconciliation run.
type Direction string

const (
	// DirectionReceiptsToBanking matches unlinked receipts against unlinked
	// banking transactions. The default run.
	DirectionReceiptsToBanking Direction = "receipts-to-banking"

	// DirectionBankingToReceipts matches unlinked bank debits against
	// unlinked receipts, synthesizing an auto-generated receipt when a debit
	// has no plausible counterpart.
	DirectionBankingToReceipts Direction = "banking-to-receipts"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionReceiptsToBanking || d == DirectionBankingToReceipts
}

// CanSynthesizeTargets reports whether an unmatched source may create a new
// target record. Auto-generating a receipt for an unexplained bank debit is
// acceptable; auto-generating a bank transaction for an orphan receipt is
// not, because banking data is authoritative.
func (d Direction) CanSynthesizeTargets() bool {
	return d == DirectionBankingToReceipts
}

// Entry sources for receipts. Manual entries win score ties over records a
// previous automated pass created.
const (
	EntryManual = "manual"
	EntryImport = "import"
	EntryAuto   = "auto"
)

// Receipt is one row of the receipts table.
type Receipt struct {
	ID          int64           `json:"id"`
	Date        time.Time       `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Vendor      string          `json:"vendor"`
	EntrySource string          `json:"entry_source"`
	Linked      bool            `json:"linked"`
}

// BankingTransaction is one row of the banking_transactions table. The bank
// schema splits the amount into debit and credit columns.
type BankingTransaction struct {
	ID          int64           `json:"id"`
	Date        time.Time       `json:"date"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description"`
	Linked      bool            `json:"linked"`
}

// Amount returns the signed amount: credits positive, debits negative.
func (t BankingTransaction) Amount() decimal.Decimal {
	return t.Credit.Sub(t.Debit)
}

// Link is one row of the receipt_banking_links ledger. Append-only; unique
// constraints on receipt_id and banking_id enforce that no record is claimed
// twice.
type Link struct {
	ID          int64     `json:"id"`
	ReceiptID   int64     `json:"receipt_id"`
	BankingID   int64     `json:"banking_id"`
	Confidence  float64   `json:"confidence"`
	Method      string    `json:"method"`
	CreatedAt   string    `json:"created_at"`
	Vendor      string    `json:"vendor,omitempty"`
	Description string    `json:"description,omitempty"`
}

// RunTotals are the per-action counts a completed run reports.
type RunTotals struct {
	SourcesFound    int `json:"sources_found"`
	Linked          int `json:"linked"`
	Created         int `json:"created"`
	Deferred        int `json:"deferred"`
	Errored         int `json:"errored"`
	SkippedExisting int `json:"skipped_existing"`
}

// ReconRun is one row of the recon_runs audit table.
type ReconRun struct {
	ID          int64  `json:"id"`
	Direction   string `json:"direction"`
	DateStart   string `json:"date_start"`
	DateEnd     string `json:"date_end"`
	DryRun      bool   `json:"dry_run"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
	Status      string `json:"status"`
	RunTotals
}

// HistogramBucket is one 10-point confidence band and its link count.
type HistogramBucket struct {
	Range string `json:"range"` // e.g. "70-79"
	Count int    `json:"count"`
}

// Stats summarizes the ledger for reporting.
type Stats struct {
	TotalLinks          int               `json:"total_links"`
	AverageConfidence   float64           `json:"average_confidence"`
	UnlinkedReceipts    int               `json:"unlinked_receipts"`
	UnlinkedBanking     int               `json:"unlinked_banking"`
	ConfidenceHistogram []HistogramBucket `json:"confidence_histogram"`
}
