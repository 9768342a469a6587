package matcher

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record is one dated, amount-bearing financial record on either side of a
// reconciliation. Receipts, banking transactions, and customer payments all
// flatten into this shape at the data-access boundary.
type Record struct {
	ID          int64
	Date        time.Time
	Amount      decimal.Decimal // signed; comparison happens on magnitude
	Label       string
	ManualEntry bool // human-entered records win score ties over auto-created ones
	Linked      bool
}

// Config holds the tunable matching parameters.
type Config struct {
	// DateWindowDays is the max calendar-day distance between source and
	// target. Exact-date sources use 0, OCR or manual-entry sources up to 7.
	DateWindowDays int

	// AmountTolerancePct widens the amount band beyond the exact-match
	// epsilon. Receipts carrying GST/HST-inclusive pricing need up to 15-20%
	// against tax-exclusive banking amounts. 0 means exact matches only.
	AmountTolerancePct float64

	// ConfidenceFloor is the minimum score (0-100) a pair must reach before
	// it can be linked rather than deferred.
	ConfidenceFloor float64
}

// DefaultConfig returns the parameters most batch runs use.
func DefaultConfig() Config {
	return Config{
		DateWindowDays:     3,
		AmountTolerancePct: 2.0,
		ConfidenceFloor:    50.0,
	}
}

// ScoredPair is one (source, candidate) pair with its computed confidence.
type ScoredPair struct {
	Source Record
	Target Record
	Score  float64
	Method string
}

// Action is the outcome decided for a single source record.
type Action string

const (
	// ActionLink claims a target for the source.
	ActionLink Action = "link"
	// ActionCreate synthesizes a new target from the source's fields.
	ActionCreate Action = "create"
	// ActionDefer leaves the source unlinked for human review.
	ActionDefer Action = "defer"
)

// Decision is the final outcome for one source record after global
// assignment. Target is set only for ActionLink.
type Decision struct {
	Source Record
	Target *Record
	Score  float64
	Method string
	Action Action
}
