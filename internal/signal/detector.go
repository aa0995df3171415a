package signal

// Classify reports whether the current bar is a confirmed-strength crossover
// of the principal MA relative to all references.
//
// A direction needs two things at once:
//   - strength: the principal clears EVERY reference by more than the
//     minimum-strength margin (strict inequality, so the exact boundary
//     does not qualify);
//   - transition: at the previous bar the principal had not yet separated
//     from at least ONE reference, so the state actually changed.
//
// Up wins if both directions somehow qualify; with a positive margin that
// cannot happen, the ordering is a tie-break only.
func Classify(pair Pair, strat Strategy) Direction {
	principal := pair.Current[strat.Principal]
	principalPrev := pair.Previous[strat.Principal]

	strongUp, strongDown := true, true
	for _, ref := range strat.References {
		value := pair.Current[ref]
		if !principal.GreaterThan(strat.upperBound(value)) {
			strongUp = false
		}
		if !principal.LessThan(strat.lowerBound(value)) {
			strongDown = false
		}
		if !strongUp && !strongDown {
			return None
		}
	}

	if strongUp {
		for _, ref := range strat.References {
			if principalPrev.LessThanOrEqual(pair.Previous[ref]) {
				return Up
			}
		}
	}
	if strongDown {
		for _, ref := range strat.References {
			if principalPrev.GreaterThanOrEqual(pair.Previous[ref]) {
				return Down
			}
		}
	}
	return None
}
