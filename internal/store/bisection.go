package store

import (
	"context"
	"fmt"

	"cross-checker/internal/metrics"
)

// WriteDivergenceBisectReport persists the outcome of a confirmed
// bisection run (spec.md §4.B, §4.F Confirmed). The pair is normalized
// so the smaller internal PoI id is always poi1, making the write
// idempotent under re-submission in either order (end-to-end scenario
// 6: "pair normalization").
func (s *Store) WriteDivergenceBisectReport(ctx context.Context, poiID1, poiID2, divergingBlockID int64) (int64, error) {
	if poiID1 == poiID2 {
		return 0, fmt.Errorf("store: divergence report requires two distinct PoIs, got %d twice", poiID1)
	}
	if poiID1 > poiID2 {
		poiID1, poiID2 = poiID2, poiID1
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO poi_divergence_bisect_reports (poi1_id, poi2_id, divergence_block_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (poi1_id, poi2_id) DO UPDATE SET divergence_block_id = EXCLUDED.divergence_block_id
		RETURNING id
	`, poiID1, poiID2, divergingBlockID).Scan(&id)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("write_divergence_bisect_report").Inc()
		return 0, fmt.Errorf("store: write divergence bisect report: %w", err)
	}
	return id, nil
}
