// Package agreement implements the per-deployment PoI majority and
// agreement ratio (spec.md §4.E).
package agreement

import (
	"fmt"

	"cross-checker/internal/models"
)

// Result is one indexer's standing within a deployment's agreement
// analysis.
type Result struct {
	Indexer      models.Indexer
	Digest       [32]byte
	NAgreeing    int
	NDisagreeing int
	InConsensus  bool
}

// Report is the outcome of analyzing one deployment's live PoIs.
type Report struct {
	Total        int
	HasConsensus bool
	MajorityPoI  [32]byte
	ByIndexer    []Result
}

// Analyze counts digest occurrences among a deployment's live PoIs and
// computes has_consensus (strict majority) plus each indexer's
// agreement standing. It errors if pois is empty — calling it on a
// deployment with zero live PoIs is a caller bug (spec.md §4.E, §7
// Invariant).
func Analyze(pois []models.PoI) (Report, error) {
	if len(pois) == 0 {
		return Report{}, fmt.Errorf("agreement: analyze called with zero live PoIs")
	}

	counts := make(map[[32]byte]int)
	for _, p := range pois {
		counts[p.Digest]++
	}

	var majority [32]byte
	maxCount := 0
	for digest, count := range counts {
		if count > maxCount {
			maxCount = count
			majority = digest
		}
	}

	total := len(pois)
	hasConsensus := maxCount > total/2

	results := make([]Result, 0, len(pois))
	for _, p := range pois {
		n := counts[p.Digest]
		results = append(results, Result{
			Indexer:      p.Indexer,
			Digest:       p.Digest,
			NAgreeing:    n,
			NDisagreeing: total - n,
			InConsensus:  hasConsensus && p.Digest == majority,
		})
	}

	return Report{
		Total:        total,
		HasConsensus: hasConsensus,
		MajorityPoI:  majority,
		ByIndexer:    results,
	}, nil
}
