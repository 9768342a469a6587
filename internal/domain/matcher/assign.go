package matcher

import "sort"

// Assign resolves scored pairs into one decision per source.
//
// Assignment is greedy over the whole batch, not per source: every pair at
// or above the confidence floor competes in a single pass ordered by score,
// so when two sources want the same target the better-scoring source wins
// and the other falls through to its next-best candidate instead of the
// batch outcome depending on iteration order.
//
// Sources left without a claimed target get ActionCreate when allowCreate is
// set (the caller decides per run direction whether synthesizing targets is
// legitimate), otherwise ActionDefer. A low-confidence pair is never forced
// into a link.
//
// Output order follows the sources slice, so reruns over the same input
// produce identical decision lists.
func (m *Matcher) Assign(sources []Record, pairs []ScoredPair, allowCreate bool) []Decision {
	eligible := make([]ScoredPair, 0, len(pairs))
	for _, p := range pairs {
		if p.Score >= m.config.ConfidenceFloor {
			eligible = append(eligible, p)
		}
	}

	// Score descending; ties broken so reruns are reproducible: prefer the
	// human-entered target, then the earlier target date, then lower ids.
	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Target.ManualEntry != b.Target.ManualEntry {
			return a.Target.ManualEntry
		}
		if !a.Target.Date.Equal(b.Target.Date) {
			return a.Target.Date.Before(b.Target.Date)
		}
		if a.Target.ID != b.Target.ID {
			return a.Target.ID < b.Target.ID
		}
		return a.Source.ID < b.Source.ID
	})

	claimedSources := make(map[int64]bool)
	claimedTargets := make(map[int64]bool)
	links := make(map[int64]ScoredPair)

	for _, p := range eligible {
		if claimedSources[p.Source.ID] || claimedTargets[p.Target.ID] {
			continue
		}
		claimedSources[p.Source.ID] = true
		claimedTargets[p.Target.ID] = true
		links[p.Source.ID] = p
	}

	decisions := make([]Decision, 0, len(sources))
	for _, src := range sources {
		if p, ok := links[src.ID]; ok {
			target := p.Target
			decisions = append(decisions, Decision{
				Source: src,
				Target: &target,
				Score:  p.Score,
				Method: p.Method,
				Action: ActionLink,
			})
			continue
		}

		action := ActionDefer
		if allowCreate {
			action = ActionCreate
		}
		decisions = append(decisions, Decision{Source: src, Action: action})
	}

	return decisions
}
