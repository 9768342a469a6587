package cli

import (
	"flag"
	"fmt"
	"time"
)

// ReconcileFlags are the command line options for a reconciliation run.
type ReconcileFlags struct {
	ConfigFile string
	Direction  string
	Start      string
	End        string
	Write      bool
	WindowDays int
	Tolerance  float64
	Floor      float64
	MaxSources int
	Verbose    bool
}

// ParseReconcileFlags parses the reconcile command line. Matching parameters
// default to -1 meaning "use the configured value".
func ParseReconcileFlags() ReconcileFlags {
	var flags ReconcileFlags
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path")
	flag.StringVar(&flags.Direction, "direction", "receipts-to-banking", "Run direction: receipts-to-banking or banking-to-receipts")
	flag.StringVar(&flags.Start, "start", "", "Range start date YYYY-MM-DD (default: 30 days ago)")
	flag.StringVar(&flags.End, "end", "", "Range end date YYYY-MM-DD (default: today)")
	flag.BoolVar(&flags.Write, "write", false, "Commit decisions to the ledger (default: dry-run)")
	flag.IntVar(&flags.WindowDays, "window", -1, "Date window in days (-1 = configured value)")
	flag.Float64Var(&flags.Tolerance, "tolerance", -1, "Amount tolerance percent (-1 = configured value)")
	flag.Float64Var(&flags.Floor, "floor", -1, "Confidence floor 0-100 (-1 = configured value)")
	flag.IntVar(&flags.MaxSources, "max", 0, "Maximum source records to process (0 = all)")
	flag.BoolVar(&flags.Verbose, "verbose", false, "Verbose output")
	flag.Parse()
	return flags
}

// DateRange resolves the start/end flags, defaulting to the trailing 30
// days.
func (f ReconcileFlags) DateRange() (start, end time.Time, err error) {
	end = time.Now().Truncate(24 * time.Hour)
	if f.End != "" {
		end, err = time.Parse("2006-01-02", f.End)
		if err != nil {
			return start, end, fmt.Errorf("invalid -end date %q: %w", f.End, err)
		}
	}

	start = end.AddDate(0, 0, -30)
	if f.Start != "" {
		start, err = time.Parse("2006-01-02", f.Start)
		if err != nil {
			return start, end, fmt.Errorf("invalid -start date %q: %w", f.Start, err)
		}
	}

	return start, end, nil
}
