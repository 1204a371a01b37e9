package store

import (
	"context"
	"fmt"
)

// WriteBlockCacheEntry persists an indexer's raw block-cache payload
// for a given block, keyed by (indexer, block). Used by the Bisection
// Coordinator to collect best-effort evidence once a run confirms its
// diverging block (spec.md §4.F Confirmed).
func (s *Store) WriteBlockCacheEntry(ctx context.Context, indexerID, blockID int64, blockData []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO block_cache_entries (indexer_id, block_id, block_data)
		VALUES ($1, $2, $3)
		ON CONFLICT (indexer_id, block_id) DO UPDATE SET block_data = EXCLUDED.block_data
	`, indexerID, blockID, blockData)
	if err != nil {
		return fmt.Errorf("store: write block cache entry: %w", err)
	}
	return nil
}

// WriteEthCallCacheEntry persists one cached eth_call and its result
// for an indexer at a given block.
func (s *Store) WriteEthCallCacheEntry(ctx context.Context, indexerID, blockID int64, callData, callResult []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO eth_call_cache_entries (indexer_id, block_id, eth_call_data, eth_call_result)
		VALUES ($1, $2, $3, $4)
	`, indexerID, blockID, callData, callResult)
	if err != nil {
		return fmt.Errorf("store: write eth call cache entry: %w", err)
	}
	return nil
}

// WriteEntityChangesInBlock persists the entity changes an indexer
// reports for a deployment at a block.
func (s *Store) WriteEntityChangesInBlock(ctx context.Context, indexerID, blockID int64, changeData []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entity_changes_in_block (indexer_id, block_id, entity_change_data)
		VALUES ($1, $2, $3)
	`, indexerID, blockID, changeData)
	if err != nil {
		return fmt.Errorf("store: write entity changes: %w", err)
	}
	return nil
}
