// Package blockchoice reduces a deployment's set of IndexingStatus
// observations to a single target block number to compare indexers
// at (spec.md §4.C).
package blockchoice

import "cross-checker/internal/models"

// Policy picks a target block number from a deployment's indexing
// statuses, or reports none.
type Policy interface {
	Choose(statuses []models.IndexingStatus) (block int64, ok bool)
}

// MaxSynced picks the maximum latest_block.number observed across all
// statuses — optimistic; callers must filter indexers that have not
// yet reached it before comparing them.
type MaxSynced struct{}

func (MaxSynced) Choose(statuses []models.IndexingStatus) (int64, bool) {
	if len(statuses) == 0 {
		return 0, false
	}
	max := statuses[0].LatestBlock.Number
	for _, s := range statuses[1:] {
		if s.LatestBlock.Number > max {
			max = s.LatestBlock.Number
		}
	}
	return max, true
}

// CommonTip picks the maximum block number such that at least
// Threshold (a fraction in (0, 1], default 1.0 meaning "all") of
// statuses have latest_block.number >= that block. It is the default
// policy per spec.md §4.C.
type CommonTip struct {
	Threshold float64
}

// NewCommonTip returns a CommonTip requiring agreement from every
// status (threshold = 1.0).
func NewCommonTip() CommonTip {
	return CommonTip{Threshold: 1.0}
}

func (p CommonTip) Choose(statuses []models.IndexingStatus) (int64, bool) {
	if len(statuses) == 0 {
		return 0, false
	}
	threshold := p.Threshold
	if threshold <= 0 {
		threshold = 1.0
	}

	numbers := make([]int64, len(statuses))
	for i, s := range statuses {
		numbers[i] = s.LatestBlock.Number
	}

	// A candidate block n is viable iff at least `threshold` fraction of
	// statuses reached it. The viable candidates are exactly the
	// statuses' own latest_block numbers (raising the bar past any of
	// them only loses support), so test every candidate and keep the
	// highest that clears the bar.
	total := len(statuses)
	best, found := int64(0), false
	for _, candidate := range numbers {
		reached := 0
		for _, n := range numbers {
			if n >= candidate {
				reached++
			}
		}
		if float64(reached) >= threshold*float64(total) {
			if !found || candidate > best {
				best = candidate
				found = true
			}
		}
	}
	return best, found
}
