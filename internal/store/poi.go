package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"cross-checker/internal/metrics"
	"cross-checker/internal/models"
)

// PoIWrite is one row the Fan-out Polling Engine or Bisection
// Coordinator wants persisted. Unlike models.PoI (a read result with
// storage ids already resolved), PoIWrite carries the natural keys
// WritePoIs upserts on the way in: network name, deployment CID,
// indexer identity, and block (number, hash).
type PoIWrite struct {
	Indexer     models.Indexer
	NetworkName string
	IPFSCID     string
	BlockNumber int64
	BlockHash   [32]byte
	Digest      [32]byte
}

// WritePoIs persists a batch of PoIs in one transaction (spec.md §4.B).
// For each entry it upserts the Network, SubgraphDeployment, Indexer,
// and Block rows it references, then inserts the PoI row, ignoring a
// unique violation on (indexer, deployment, block). When liveness is
// Live, every pre-existing PoI for each (indexer, deployment) touched
// by the batch is cleared and the newly inserted rows are marked live,
// atomically within the same transaction.
func (s *Store) WritePoIs(ctx context.Context, batch []PoIWrite, liveness models.Liveness) ([]models.PoI, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("write_pois").Inc()
		return nil, fmt.Errorf("store: begin write_pois: %w", err)
	}
	defer tx.Rollback(ctx)

	type liveKey struct{ indexerID, deploymentID int64 }
	touched := make(map[liveKey]bool)
	written := make([]models.PoI, 0, len(batch))

	for _, w := range batch {
		networkID, err := upsertNetwork(ctx, tx, w.NetworkName)
		if err != nil {
			return nil, err
		}
		deploymentID, err := upsertDeployment(ctx, tx, w.IPFSCID, networkID)
		if err != nil {
			return nil, err
		}
		indexerID, err := upsertIndexer(ctx, tx, w.Indexer)
		if err != nil {
			return nil, err
		}
		blockID, err := upsertBlock(ctx, tx, networkID, w.BlockNumber, w.BlockHash)
		if err != nil {
			return nil, err
		}

		var poiID int64
		createdAt := time.Now().UTC()
		err = tx.QueryRow(ctx, `
			INSERT INTO pois (poi, sg_deployment_id, indexer_id, block_id, live, created_at)
			VALUES ($1, $2, $3, $4, false, $5)
			ON CONFLICT (indexer_id, sg_deployment_id, block_id) DO NOTHING
			RETURNING id
		`, w.Digest[:], deploymentID, indexerID, blockID, createdAt).Scan(&poiID)
		if errors.Is(err, pgx.ErrNoRows) {
			// Already present; fetch its id so liveness flips apply to it too.
			err = tx.QueryRow(ctx, `
				SELECT id FROM pois WHERE indexer_id = $1 AND sg_deployment_id = $2 AND block_id = $3
			`, indexerID, deploymentID, blockID).Scan(&poiID)
		}
		if err != nil {
			metrics.StoreErrors.WithLabelValues("write_pois").Inc()
			return nil, fmt.Errorf("store: insert poi: %w", err)
		}

		written = append(written, models.PoI{
			ID:         poiID,
			Indexer:    models.Indexer{ID: indexerID, Address: w.Indexer.Address, Name: w.Indexer.Name},
			Deployment: models.SubgraphDeployment{ID: deploymentID, IPFSCID: w.IPFSCID, NetworkID: networkID},
			Block:      models.Block{ID: blockID, NetworkID: networkID, Number: w.BlockNumber, Hash: w.BlockHash},
			Digest:     w.Digest,
			Live:       liveness == models.Live,
			CreatedAt:  createdAt,
		})
		if liveness == models.Live {
			touched[liveKey{indexerID, deploymentID}] = true
		}
	}

	if liveness == models.Live {
		for k := range touched {
			if _, err := tx.Exec(ctx, `
				UPDATE pois SET live = false WHERE indexer_id = $1 AND sg_deployment_id = $2 AND live
			`, k.indexerID, k.deploymentID); err != nil {
				metrics.StoreErrors.WithLabelValues("write_pois").Inc()
				return nil, fmt.Errorf("store: clear liveness: %w", err)
			}
		}
		for i := range written {
			if _, err := tx.Exec(ctx, `UPDATE pois SET live = true WHERE id = $1`, written[i].ID); err != nil {
				metrics.StoreErrors.WithLabelValues("write_pois").Inc()
				return nil, fmt.Errorf("store: set liveness: %w", err)
			}
			written[i].Live = true
		}
	}

	if err := tx.Commit(ctx); err != nil {
		metrics.StoreErrors.WithLabelValues("write_pois").Inc()
		return nil, fmt.Errorf("store: commit write_pois: %w", err)
	}
	return written, nil
}

func upsertNetwork(ctx context.Context, tx pgx.Tx, name string) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO networks (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: upsert network %q: %w", name, err)
	}
	return id, nil
}

func upsertDeployment(ctx context.Context, tx pgx.Tx, cid string, networkID int64) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO sg_deployments (ipfs_cid, network_id) VALUES ($1, $2)
		ON CONFLICT (ipfs_cid) DO UPDATE SET network_id = EXCLUDED.network_id
		RETURNING id
	`, cid, networkID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: upsert deployment %q: %w", cid, err)
	}
	return id, nil
}

func upsertIndexer(ctx context.Context, tx pgx.Tx, idx models.Indexer) (int64, error) {
	var id int64
	var err error
	if len(idx.Address) > 0 {
		err = tx.QueryRow(ctx, `
			INSERT INTO indexers (address) VALUES ($1)
			ON CONFLICT (address) DO UPDATE SET address = EXCLUDED.address
			RETURNING id
		`, idx.Address).Scan(&id)
	} else {
		err = tx.QueryRow(ctx, `
			INSERT INTO indexers (name) VALUES ($1)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id
		`, idx.Name).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("store: upsert indexer %s: %w", idx, err)
	}
	return id, nil
}

func upsertBlock(ctx context.Context, tx pgx.Tx, networkID, number int64, hash [32]byte) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO blocks (network_id, number, hash) VALUES ($1, $2, $3)
		ON CONFLICT (network_id, hash) DO UPDATE SET number = EXCLUDED.number
		RETURNING id
	`, networkID, number, hash[:]).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: upsert block %d: %w", number, err)
	}
	return id, nil
}

// PoIFilter selects rows for Pois. A zero-value filter matches every
// row, bounded by the default limit.
type PoIFilter struct {
	IndexerID    int64 // 0 = any
	DeploymentID int64 // 0 = any
	BlockLo      int64 // closed lower bound on block number
	BlockHi      int64 // open upper bound on block number, 0 = unbounded
	Limit        int   // capped at 250; 0 = default 250
	LiveOnly     bool
}

const maxPoIsLimit = 250

// Pois queries stored PoIs (spec.md §4.B), ordered by block number
// descending, then deployment ascending, then indexer address
// ascending — a stable, deterministic order regardless of insert
// order.
func (s *Store) Pois(ctx context.Context, f PoIFilter) ([]models.PoI, error) {
	limit := f.Limit
	if limit <= 0 || limit > maxPoIsLimit {
		limit = maxPoIsLimit
	}

	query := `
		SELECT p.id, p.poi, p.live, p.created_at,
		       i.id, i.address, i.name,
		       d.id, d.ipfs_cid, d.network_id,
		       b.id, b.network_id, b.number, b.hash
		FROM pois p
		JOIN indexers i ON i.id = p.indexer_id
		JOIN sg_deployments d ON d.id = p.sg_deployment_id
		JOIN blocks b ON b.id = p.block_id
		WHERE ($1 = 0 OR p.indexer_id = $1)
		  AND ($2 = 0 OR p.sg_deployment_id = $2)
		  AND ($3 = 0 OR b.number >= $3)
		  AND ($4 = 0 OR b.number < $4)
		  AND ($5 = false OR p.live)
		ORDER BY b.number DESC, d.ipfs_cid ASC, i.address ASC NULLS LAST
		LIMIT $6
	`
	rows, err := s.pool.Query(ctx, query, f.IndexerID, f.DeploymentID, f.BlockLo, f.BlockHi, f.LiveOnly, limit)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("pois").Inc()
		return nil, fmt.Errorf("store: query pois: %w", err)
	}
	defer rows.Close()

	var out []models.PoI
	for rows.Next() {
		var (
			p              models.PoI
			digest         []byte
			address        []byte
			name           *string
			blockHash      []byte
		)
		if err := rows.Scan(
			&p.ID, &digest, &p.Live, &p.CreatedAt,
			&p.Indexer.ID, &address, &name,
			&p.Deployment.ID, &p.Deployment.IPFSCID, &p.Deployment.NetworkID,
			&p.Block.ID, &p.Block.NetworkID, &p.Block.Number, &blockHash,
		); err != nil {
			metrics.StoreErrors.WithLabelValues("pois").Inc()
			return nil, fmt.Errorf("store: scan poi row: %w", err)
		}
		copy(p.Digest[:], digest)
		copy(p.Block.Hash[:], blockHash)
		p.Indexer.Address = address
		if name != nil {
			p.Indexer.Name = *name
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		metrics.StoreErrors.WithLabelValues("pois").Inc()
		return nil, fmt.Errorf("store: iterate pois: %w", err)
	}
	return out, nil
}

// PoIByID fetches a single previously-stored PoI by its storage id,
// the shape the Bisection Coordinator needs to resolve the PoIRefs in
// a DivergenceInvestigationRequest.
func (s *Store) PoIByID(ctx context.Context, id int64) (models.PoI, error) {
	var p models.PoI
	var (
		digest    []byte
		address   []byte
		name      *string
		blockHash []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT p.id, p.poi, p.live, p.created_at,
		       i.id, i.address, i.name,
		       d.id, d.ipfs_cid, d.network_id,
		       b.id, b.network_id, b.number, b.hash
		FROM pois p
		JOIN indexers i ON i.id = p.indexer_id
		JOIN sg_deployments d ON d.id = p.sg_deployment_id
		JOIN blocks b ON b.id = p.block_id
		WHERE p.id = $1
	`, id).Scan(
		&p.ID, &digest, &p.Live, &p.CreatedAt,
		&p.Indexer.ID, &address, &name,
		&p.Deployment.ID, &p.Deployment.IPFSCID, &p.Deployment.NetworkID,
		&p.Block.ID, &p.Block.NetworkID, &p.Block.Number, &blockHash,
	)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("poi_by_id").Inc()
		return models.PoI{}, fmt.Errorf("store: poi by id %d: %w", id, err)
	}
	copy(p.Digest[:], digest)
	copy(p.Block.Hash[:], blockHash)
	p.Indexer.Address = address
	if name != nil {
		p.Indexer.Name = *name
	}
	return p, nil
}
