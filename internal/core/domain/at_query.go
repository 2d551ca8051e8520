package domain

import (
	"sort"
	"time"
)

// SortATStates sorts states by height, then by address. The order is flipped
// if reverse is true.
func SortATStates(states []ATStateData, reverse bool) {
	sort.SliceStable(states, func(i, j int) bool {
		less := lessATState(states[i], states[j])
		if reverse {
			return lessATState(states[j], states[i])
		}
		return less
	})
}

func lessATState(a, b ATStateData) bool {
	if a.Height != b.Height {
		return a.Height < b.Height
	}
	return a.ATAddress < b.ATAddress
}

// SortATs sorts ATs by creation height, then by address.
func SortATs(ats []ATData, reverse bool) {
	less := func(a, b ATData) bool {
		if a.CreationHeight != b.CreationHeight {
			return a.CreationHeight < b.CreationHeight
		}
		return a.Address < b.Address
	}
	sort.SliceStable(ats, func(i, j int) bool {
		if reverse {
			return less(ats[j], ats[i])
		}
		return less(ats[i], ats[j])
	})
}

// FilterFinalStates returns the final states satisfying filter, sorted and
// paginated.
func FilterFinalStates(
	finalStates []ATStateData, filter MatchingStatesFilter, page Page,
) []ATStateData {
	matches := make([]ATStateData, 0, len(finalStates))
	for _, s := range finalStates {
		if filter.Matches(s) {
			matches = append(matches, s)
		}
	}
	SortATStates(matches, page.Reverse)
	return Paginate(matches, page)
}

// SelectQuorum picks from the given matches, most recent first, until at
// least minimumCount rows spanning at least minimumPeriod are collected.
// The result never exceeds maximumCount rows, if positive.
func SelectQuorum(
	matches []ATStateData, minimumCount, maximumCount int,
	minimumPeriod time.Duration,
) []ATStateData {
	if len(matches) <= 0 {
		return []ATStateData{}
	}
	sorted := make([]ATStateData, len(matches))
	copy(sorted, matches)
	SortATStates(sorted, true)

	mostRecent := sorted[0].Creation
	period := minimumPeriod.Milliseconds()

	selected := make([]ATStateData, 0, minimumCount)
	for _, s := range sorted {
		if maximumCount > 0 && len(selected) >= maximumCount {
			break
		}
		if len(selected) > 0 && len(selected) >= minimumCount {
			last := selected[len(selected)-1]
			if mostRecent-last.Creation >= period {
				break
			}
		}
		selected = append(selected, s)
	}
	return selected
}
