// Package matcher finds the best one-to-one correspondence between two sets
// of dated, amount-bearing financial records under date, amount, and
// vendor-name fuzziness.
//
// The pipeline is candidate generation (bounded plausible targets per
// source), scoring (weighted independent signals on a 0-100 scale), and
// global greedy assignment (highest-scoring pairs claim first, each record
// used at most once).
package matcher

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/almsbooks/recon-backend/internal/domain/normalize"
)

// Score weights. Exact amount plus same day clears the default floor on its
// own; a tolerance-band amount needs date proximity or vendor overlap too.
const (
	weightAmountExact = 40.0
	weightAmountBand  = 25.0
	weightDateMax     = 30.0
	weightVendorToken = 20.0
	weightKeyword     = 15.0
	maxScore          = 100.0
)

// exactAmountEpsilon is the band treated as an exact amount match.
var exactAmountEpsilon = decimal.NewFromFloat(0.01)

// specialMarkers are low-frequency, high-confidence keywords. Two records
// both carrying one almost always describe the same event.
var specialMarkers = []string{"nsf", "redo", "reversal", "refund", "void"}

// Matcher evaluates and assigns record pairs. Not safe for concurrent use;
// reconciliation runs are single-threaded batches.
type Matcher struct {
	config Config
	norm   *normalize.Normalizer

	// Label derivations are memoized; the same vendor string appears on
	// many records within a batch.
	tokenCache  map[string]map[string]bool
	markerCache map[string][]string
}

// New creates a Matcher with the given parameters and normalizer.
func New(config Config, norm *normalize.Normalizer) *Matcher {
	if norm == nil {
		norm = normalize.New(nil)
	}
	return &Matcher{
		config:      config,
		norm:        norm,
		tokenCache:  make(map[string]map[string]bool),
		markerCache: make(map[string][]string),
	}
}

// Config returns the matcher's parameters.
func (m *Matcher) Config() Config {
	return m.config
}

// Candidates returns the targets that could plausibly match source: inside
// the date window, inside the amount band, and not already linked. Order is
// not significant; the scorer and assigner impose order.
func (m *Matcher) Candidates(source Record, targets []Record) []Record {
	var out []Record
	for _, t := range targets {
		if t.Linked {
			continue
		}
		if dateDistanceDays(source.Date, t.Date) > m.config.DateWindowDays {
			continue
		}
		if !m.amountInBand(source.Amount, t.Amount) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Score computes the confidence (0-100) for a pair, plus a method tag naming
// the signals that fired. A pair with no positive signal scores 0 even when
// it is the only candidate in the window; absence of any signal is itself
// information.
func (m *Matcher) Score(source, target Record) (float64, string) {
	var score float64
	var signals []string

	srcAmt := source.Amount.Abs()
	tgtAmt := target.Amount.Abs()

	if srcAmt.Sub(tgtAmt).Abs().LessThanOrEqual(exactAmountEpsilon) {
		score += weightAmountExact
		signals = append(signals, "amount_exact")
	} else if m.amountInBand(source.Amount, target.Amount) {
		score += weightAmountBand
		signals = append(signals, "amount_band")
	}

	dist := dateDistanceDays(source.Date, target.Date)
	if pts := m.datePoints(dist); pts > 0 {
		score += pts
		if dist == 0 {
			signals = append(signals, "same_day")
		} else {
			signals = append(signals, "near_date")
		}
	}

	if m.tokenOverlap(source.Label, target.Label) {
		score += weightVendorToken
		signals = append(signals, "vendor_token")
	}

	if m.sharedMarker(source.Label, target.Label) {
		score += weightKeyword
		signals = append(signals, "keyword")
	}

	if score > maxScore {
		score = maxScore
	}

	return score, strings.Join(signals, "+")
}

// ScoreAll generates candidates for every source and scores each pair.
func (m *Matcher) ScoreAll(sources, targets []Record) []ScoredPair {
	var pairs []ScoredPair
	for _, src := range sources {
		for _, tgt := range m.Candidates(src, targets) {
			score, method := m.Score(src, tgt)
			pairs = append(pairs, ScoredPair{Source: src, Target: tgt, Score: score, Method: method})
		}
	}
	return pairs
}

// amountInBand reports whether target's magnitude falls inside source's
// amount band: the exact-match epsilon, widened by the configured tolerance
// percentage of the source amount.
func (m *Matcher) amountInBand(source, target decimal.Decimal) bool {
	diff := source.Abs().Sub(target.Abs()).Abs()
	if diff.LessThanOrEqual(exactAmountEpsilon) {
		return true
	}
	if m.config.AmountTolerancePct <= 0 {
		return false
	}
	band := source.Abs().Mul(decimal.NewFromFloat(m.config.AmountTolerancePct / 100))
	return diff.LessThanOrEqual(band)
}

// datePoints decays linearly with date distance. Same-day scores the full
// weight and strictly dominates any several-day-old match.
func (m *Matcher) datePoints(dist int) float64 {
	if dist == 0 {
		return weightDateMax
	}
	window := m.config.DateWindowDays
	if dist > window {
		return 0
	}
	return weightDateMax * (1 - float64(dist)/float64(window+1))
}

func (m *Matcher) tokenOverlap(a, b string) bool {
	ta := m.tokens(a)
	if len(ta) == 0 {
		return false
	}
	for tok := range m.tokens(b) {
		if ta[tok] {
			return true
		}
	}
	return false
}

func (m *Matcher) tokens(label string) map[string]bool {
	if cached, ok := m.tokenCache[label]; ok {
		return cached
	}
	toks := m.norm.Tokens(label)
	m.tokenCache[label] = toks
	return toks
}

// sharedMarker reports whether both labels carry the same special keyword.
func (m *Matcher) sharedMarker(a, b string) bool {
	ma := m.markers(a)
	if len(ma) == 0 {
		return false
	}
	mb := m.markers(b)
	for _, x := range ma {
		for _, y := range mb {
			if x == y {
				return true
			}
		}
	}
	return false
}

func (m *Matcher) markers(label string) []string {
	if cached, ok := m.markerCache[label]; ok {
		return cached
	}
	norm := " " + m.norm.Label(label) + " "
	var found []string
	for _, marker := range specialMarkers {
		if strings.Contains(norm, " "+marker+" ") {
			found = append(found, marker)
		}
	}
	m.markerCache[label] = found
	return found
}

// dateDistanceDays is the absolute calendar-day distance between two dates,
// ignoring time-of-day.
func dateDistanceDays(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	au := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	bu := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	d := int(au.Sub(bu).Hours() / 24)
	if d < 0 {
		d = -d
	}
	return d
}
