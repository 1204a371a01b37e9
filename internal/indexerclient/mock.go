package indexerclient

import (
	"context"
	"sync"

	"cross-checker/internal/models"
)

// Mock is a test double implementing Client entirely in memory. It is
// used by the fan-out engine and bisection tests instead of a real
// indexer.
type Mock struct {
	mu sync.Mutex

	indexer models.Indexer

	Statuses []models.IndexingStatus
	StatusErr error

	// PoIs maps (deployment CID, block number) to a digest. A missing
	// entry means the indexer has no PoI for that coordinate.
	PoIs map[poiKey][32]byte
	PoIErr error

	// Unindexed marks (deployment, block) coordinates the indexer reports
	// it has simply never indexed (spec.md §4.F "Failed(unindexed)").
	Unindexed map[poiKey]bool

	Calls []string
}

type poiKey struct {
	deployment string
	block      int64
}

func NewMock(indexer models.Indexer) *Mock {
	return &Mock{
		indexer:   indexer,
		PoIs:      make(map[poiKey][32]byte),
		Unindexed: make(map[poiKey]bool),
	}
}

func (m *Mock) SetPoI(deployment string, block int64, digest [32]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PoIs[poiKey{deployment, block}] = digest
}

func (m *Mock) MarkUnindexed(deployment string, block int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Unindexed[poiKey{deployment, block}] = true
}

func (m *Mock) Identity() models.Indexer { return m.indexer }

func (m *Mock) Ping(ctx context.Context) error { return nil }

func (m *Mock) IndexingStatuses(ctx context.Context) ([]models.IndexingStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "indexing_statuses")
	if m.StatusErr != nil {
		return nil, m.StatusErr
	}
	out := make([]models.IndexingStatus, len(m.Statuses))
	copy(out, m.Statuses)
	return out, nil
}

func (m *Mock) ProofsOfIndexing(ctx context.Context, reqs []PoIRequest) ([]models.PoI, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "proofs_of_indexing")
	if m.PoIErr != nil {
		return nil, m.PoIErr
	}
	var out []models.PoI
	for _, r := range reqs {
		key := poiKey{r.Deployment.IPFSCID, r.Block}
		if m.Unindexed[key] {
			continue
		}
		digest, ok := m.PoIs[key]
		if !ok {
			continue
		}
		out = append(out, models.PoI{
			Indexer:    m.indexer,
			Deployment: r.Deployment,
			Block:      models.Block{Number: r.Block},
			Digest:     digest,
		})
	}
	return out, nil
}

// ProofOfIndexing is a single-coordinate convenience wrapper used by the
// Bisection Coordinator, which only ever probes one block at a time.
func (m *Mock) ProofOfIndexing(ctx context.Context, deployment models.SubgraphDeployment, block int64) (*models.PoI, bool, error) {
	m.mu.Lock()
	key := poiKey{deployment.IPFSCID, block}
	unindexed := m.Unindexed[key]
	digest, ok := m.PoIs[key]
	err := m.PoIErr
	m.mu.Unlock()

	if err != nil {
		return nil, false, err
	}
	if unindexed {
		return nil, false, ErrUnindexed
	}
	if !ok {
		return nil, false, nil
	}
	poi := models.PoI{Indexer: m.indexer, Deployment: deployment, Block: models.Block{Number: block}, Digest: digest}
	return &poi, true, nil
}

func (m *Mock) Version(ctx context.Context) (string, error) { return "mock/1.0", nil }

func (m *Mock) SubgraphAPIVersions(ctx context.Context, deployment models.SubgraphDeployment) ([]string, error) {
	return []string{"1.0.0"}, nil
}

func (m *Mock) CachedEthCalls(ctx context.Context, network string, blockHash [32]byte) ([]CachedCall, error) {
	return nil, nil
}

func (m *Mock) BlockCacheContents(ctx context.Context, network string, blockHash [32]byte) ([]byte, error) {
	return nil, nil
}

func (m *Mock) EntityChanges(ctx context.Context, deployment models.SubgraphDeployment, block int64) ([]EntityChange, error) {
	return nil, nil
}
