// Package recon drives a full reconciliation run: load both record streams,
// generate and score candidate pairs, assign globally, and commit the
// resulting decisions to the link ledger.
package recon

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/almsbooks/recon-backend/internal/domain/matcher"
	"github.com/almsbooks/recon-backend/internal/infrastructure/storage"
)

// Options configures one reconciliation run.
type Options struct {
	Direction storage.Direction
	DateStart time.Time
	DateEnd   time.Time

	// DryRun performs the full match/score/assign pipeline and reports the
	// would-be decisions without writing anything, the run row included.
	DryRun bool

	// MaxSources caps how many source records are processed (0 = all).
	// Useful when trialing new tolerances on a slice of a month.
	MaxSources int
}

// Result is the outcome of one run.
type Result struct {
	RunID     int64
	Direction storage.Direction

	SourcesFound int
	TargetsFound int

	Linked          int
	Created         int
	Deferred        int
	Errored         int
	SkippedExisting int

	Decisions []matcher.Decision
	Histogram []storage.HistogramBucket
	Errors    []error
}

// Totals converts the result into the storage run-totals shape.
func (r *Result) Totals() storage.RunTotals {
	return storage.RunTotals{
		SourcesFound:    r.SourcesFound,
		Linked:          r.Linked,
		Created:         r.Created,
		Deferred:        r.Deferred,
		Errored:         r.Errored,
		SkippedExisting: r.SkippedExisting,
	}
}

// Engine runs reconciliation batches. Single-threaded by design; each
// invocation runs to completion over records loaded fully into memory.
type Engine struct {
	repo    storage.Repository
	matcher *matcher.Matcher
	logger  *slog.Logger
}

// New creates an Engine.
func New(repo storage.Repository, m *matcher.Matcher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{repo: repo, matcher: m, logger: logger}
}

// Run executes one reconciliation batch. Connectivity failures abort before
// any writes; per-record problems are skipped, counted, and aggregated into
// the result.
func (e *Engine) Run(ctx context.Context, opts Options) (*Result, error) {
	if !opts.Direction.Valid() {
		return nil, fmt.Errorf("invalid direction %q", opts.Direction)
	}
	if opts.DateEnd.Before(opts.DateStart) {
		return nil, fmt.Errorf("date range ends (%s) before it starts (%s)",
			opts.DateEnd.Format("2006-01-02"), opts.DateStart.Format("2006-01-02"))
	}

	sources, err := e.repo.FetchUnlinkedSources(ctx, opts.Direction, opts.DateStart, opts.DateEnd)
	if err != nil {
		return nil, fmt.Errorf("load source records: %w", err)
	}

	// Widen the target range by the date window so sources at the edges of
	// the range still see every candidate they are allowed to match.
	window := e.matcher.Config().DateWindowDays
	targets, err := e.repo.FetchUnlinkedTargets(ctx, opts.Direction,
		opts.DateStart.AddDate(0, 0, -window), opts.DateEnd.AddDate(0, 0, window))
	if err != nil {
		return nil, fmt.Errorf("load target records: %w", err)
	}

	if opts.MaxSources > 0 && len(sources) > opts.MaxSources {
		sources = sources[:opts.MaxSources]
	}

	result := &Result{
		Direction:    opts.Direction,
		SourcesFound: len(sources),
		TargetsFound: len(targets),
	}

	sources = e.dropMalformed(sources, result)

	e.logger.Info("matching records",
		slog.String("direction", string(opts.Direction)),
		slog.Int("sources", len(sources)),
		slog.Int("targets", len(targets)),
		slog.Bool("dry_run", opts.DryRun),
	)

	pairs := e.matcher.ScoreAll(sources, targets)
	allowCreate := opts.Direction.CanSynthesizeTargets()
	result.Decisions = e.matcher.Assign(sources, pairs, allowCreate)

	if opts.DryRun {
		e.tallyDryRun(result)
		return result, nil
	}

	runID, err := e.repo.StartRun(ctx, opts.Direction, opts.DateStart, opts.DateEnd, false)
	if err != nil {
		return nil, fmt.Errorf("record run start: %w", err)
	}
	result.RunID = runID

	e.commit(ctx, opts.Direction, result)

	if err := e.repo.CompleteRun(ctx, runID, result.Totals()); err != nil {
		// The ledger writes already committed; a failed audit update is
		// reported, not fatal.
		result.Errors = append(result.Errors, fmt.Errorf("record run completion: %w", err))
	}

	return result, nil
}

// dropMalformed filters out records missing a date or an amount. Each one is
// logged and counted; a bad row never aborts the batch.
func (e *Engine) dropMalformed(sources []matcher.Record, result *Result) []matcher.Record {
	kept := sources[:0]
	for _, src := range sources {
		switch {
		case src.Date.IsZero():
			e.logger.Warn("skipping record with no date", slog.Int64("id", src.ID))
		case src.Amount.IsZero():
			e.logger.Warn("skipping record with no amount", slog.Int64("id", src.ID))
		default:
			kept = append(kept, src)
			continue
		}
		result.Errored++
		result.Errors = append(result.Errors, fmt.Errorf("record %d: missing date or amount", src.ID))
	}
	return kept
}

// commit applies each decision in its own transaction (the repository's
// responsibility), so one bad row cannot abort the rest of the batch.
func (e *Engine) commit(ctx context.Context, dir storage.Direction, result *Result) {
	histogram := make(map[int]int)

	for _, d := range result.Decisions {
		switch d.Action {
		case matcher.ActionLink:
			skipped, err := e.repo.CommitLink(ctx, dir, d.Source.ID, d.Target.ID, d.Score, d.Method)
			if err != nil {
				result.Errored++
				result.Errors = append(result.Errors, fmt.Errorf("link %d -> %d: %w", d.Source.ID, d.Target.ID, err))
				continue
			}
			if skipped {
				result.SkippedExisting++
				continue
			}
			result.Linked++
			histogram[int(d.Score)/10]++

		case matcher.ActionCreate:
			label := machineLabel(d.Source.Label)
			if _, err := e.repo.CreateTargetAndLink(ctx, dir, d.Source, label, 0, "auto_created"); err != nil {
				result.Errored++
				result.Errors = append(result.Errors, fmt.Errorf("create target for %d: %w", d.Source.ID, err))
				continue
			}
			result.Created++

		case matcher.ActionDefer:
			result.Deferred++
		}
	}

	result.Histogram = histogramFromBuckets(histogram)
}

// tallyDryRun counts what a write run would have done.
func (e *Engine) tallyDryRun(result *Result) {
	histogram := make(map[int]int)
	for _, d := range result.Decisions {
		switch d.Action {
		case matcher.ActionLink:
			result.Linked++
			histogram[int(d.Score)/10]++
		case matcher.ActionCreate:
			result.Created++
		case matcher.ActionDefer:
			result.Deferred++
		}
	}
	result.Histogram = histogramFromBuckets(histogram)
}

func histogramFromBuckets(buckets map[int]int) []storage.HistogramBucket {
	clamped := make(map[int]int, len(buckets))
	for k, v := range buckets {
		if k > 9 {
			k = 9
		}
		clamped[k] += v
	}
	return storage.BuildHistogram(clamped)
}

// machineLabel marks a synthesized receipt so a later audit can tell it from
// operator-entered data. The short suffix keeps repeated descriptions
// distinguishable.
func machineLabel(sourceLabel string) string {
	ref := strings.Split(uuid.NewString(), "-")[0]
	sourceLabel = strings.TrimSpace(sourceLabel)
	if sourceLabel == "" {
		sourceLabel = "UNEXPLAINED DEBIT"
	}
	return fmt.Sprintf("AUTO-GENERATED %s [%s]", sourceLabel, ref)
}
