package cli

import (
	"fmt"
	"strings"

	"github.com/almsbooks/recon-backend/internal/application/recon"
	"github.com/almsbooks/recon-backend/internal/domain/matcher"
)

// PrintHeader prints the application header.
func PrintHeader(direction string, write bool) {
	mode := "DRY-RUN"
	if write {
		mode = "WRITE"
	}
	fmt.Printf("recon: %s (%s mode)\n\n", direction, mode)
}

// PrintDecisions lists each would-be decision, one line per source record.
// Used in dry-run mode so the operator can eyeball the batch before
// committing it.
func PrintDecisions(decisions []matcher.Decision) {
	for _, d := range decisions {
		switch d.Action {
		case matcher.ActionLink:
			fmt.Printf("  LINK   %6d -> %-6d score=%5.1f  %s  (%s)\n",
				d.Source.ID, d.Target.ID, d.Score, d.Method, truncate(d.Source.Label, 40))
		case matcher.ActionCreate:
			fmt.Printf("  CREATE %6d              new target  (%s)\n",
				d.Source.ID, truncate(d.Source.Label, 40))
		case matcher.ActionDefer:
			fmt.Printf("  DEFER  %6d              no acceptable candidate  (%s)\n",
				d.Source.ID, truncate(d.Source.Label, 40))
		}
	}
}

// PrintSummary prints the end-of-run counts and confidence histogram the
// operator uses to decide whether to keep the batch or rerun with adjusted
// tolerances.
func PrintSummary(result *recon.Result) {
	fmt.Println(strings.Repeat("-", 60))
	fmt.Printf("Sources: %d | Targets: %d\n", result.SourcesFound, result.TargetsFound)
	fmt.Printf("Linked=%d Created=%d Deferred=%d SkippedExisting=%d Errors=%d\n",
		result.Linked, result.Created, result.Deferred,
		result.SkippedExisting, result.Errored)

	if len(result.Histogram) > 0 {
		fmt.Println("\nConfidence histogram:")
		for _, b := range result.Histogram {
			fmt.Printf("  %-7s %s %d\n", b.Range, strings.Repeat("#", bar(b.Count)), b.Count)
		}
	}

	if len(result.Errors) > 0 {
		fmt.Println("\nErrors:")
		for _, err := range result.Errors {
			fmt.Printf("  - %v\n", err)
		}
	}
}

// bar caps histogram bars at a printable width.
func bar(count int) int {
	if count > 40 {
		return 40
	}
	return count
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
