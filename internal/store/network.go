package store

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// NetworkName resolves a network's storage id back to its name. Used
// by the Bisection Coordinator, which only carries a deployment's
// NetworkID, to build the (network, block_hash) arguments the
// IndexerClient's evidence-collection calls expect.
func (s *Store) NetworkName(ctx context.Context, networkID int64) (string, error) {
	var name string
	err := s.pool.QueryRow(ctx, `SELECT name FROM networks WHERE id = $1`, networkID).Scan(&name)
	if err != nil {
		return "", fmt.Errorf("store: resolve network %d: %w", networkID, err)
	}
	return name, nil
}

// UpsertBlock resolves (networkID, number, hash) to a stored block id,
// creating the row if needed. BlockIDForNumber uses this to create a
// placeholder-hash row when no block with the requested number exists.
func (s *Store) UpsertBlock(ctx context.Context, networkID, number int64, hash [32]byte) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO blocks (network_id, number, hash) VALUES ($1, $2, $3)
		ON CONFLICT (network_id, hash) DO UPDATE SET number = EXCLUDED.number
		RETURNING id
	`, networkID, number, hash[:]).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: upsert block %d: %w", number, err)
	}
	return id, nil
}

// BlockIDForNumber resolves a block's storage id by (network, number)
// alone, for callers that only learned a block number from an
// indexer's response and have no hash to key on (the IndexerClient's
// ProofOfIndexing probe is keyed by number and need not carry a hash). If
// no row exists yet, one is created with a deterministic placeholder
// hash derived from the network and number, so repeated calls for the
// same (network, number) are idempotent and never collide with a
// different number's placeholder.
func (s *Store) BlockIDForNumber(ctx context.Context, networkID, number int64) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM blocks WHERE network_id = $1 AND number = $2 ORDER BY id LIMIT 1
	`, networkID, number).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != pgx.ErrNoRows {
		return 0, fmt.Errorf("store: resolve block (%d, %d): %w", networkID, number, err)
	}

	return s.UpsertBlock(ctx, networkID, number, PlaceholderBlockHash(networkID, number))
}

// PlaceholderBlockHash deterministically derives a 32-byte stand-in
// hash for a (network, number) pair when the real block hash is
// not used (the Bisection Coordinator keys its single-coordinate probes
// by number only). Two calls with the same arguments
// always produce the same hash, so repeated upserts stay idempotent
// and distinct numbers never collide under the blocks table's
// (network_id, hash) uniqueness constraint.
func PlaceholderBlockHash(networkID, number int64) [32]byte {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(networkID))
	binary.BigEndian.PutUint64(buf[8:], uint64(number))
	return sha256.Sum256(buf[:])
}
