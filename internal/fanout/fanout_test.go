package fanout

import (
	"context"
	"testing"

	"cross-checker/internal/blockchoice"
	"cross-checker/internal/indexerclient"
	"cross-checker/internal/models"
)

func TestQueryIndexingStatusesToleratesFailure(t *testing.T) {
	t.Parallel()

	dep := models.SubgraphDeployment{ID: 1, IPFSCID: "Qm1"}

	ok1 := indexerclient.NewMock(models.Indexer{Name: "i1"})
	ok1.Statuses = []models.IndexingStatus{{Indexer: ok1.Identity(), Deployment: dep, LatestBlock: models.Block{Number: 10}}}

	failing := indexerclient.NewMock(models.Indexer{Name: "i2"})
	failing.StatusErr = errBoom

	e := &Engine{Clients: []indexerclient.Client{ok1, failing}, Policy: blockchoice.NewCommonTip()}
	statuses := e.QueryIndexingStatuses(context.Background())

	if len(statuses) != 1 {
		t.Fatalf("len(statuses)=%d want 1 (the failing indexer contributes none)", len(statuses))
	}
}

func TestQueryProofsOfIndexingRespectsReachedFilter(t *testing.T) {
	t.Parallel()

	dep := models.SubgraphDeployment{ID: 1, IPFSCID: "Qm1"}

	synced := indexerclient.NewMock(models.Indexer{Name: "synced"})
	var digest [32]byte
	digest[0] = 0xaa
	synced.SetPoI("Qm1", 10, digest)

	behind := indexerclient.NewMock(models.Indexer{Name: "behind"})
	behind.SetPoI("Qm1", 10, digest) // would answer if asked, but hasn't reached 10

	statuses := []models.IndexingStatus{
		{Indexer: synced.Identity(), Deployment: dep, LatestBlock: models.Block{Number: 10}},
		{Indexer: behind.Identity(), Deployment: dep, LatestBlock: models.Block{Number: 8}},
	}

	e := &Engine{Clients: []indexerclient.Client{synced, behind}, Policy: blockchoice.CommonTip{Threshold: 0.5}}
	pois := e.QueryProofsOfIndexing(context.Background(), statuses)

	if len(pois) != 1 {
		t.Fatalf("len(pois)=%d want 1 (only the synced indexer should have been asked)", len(pois))
	}
	for _, call := range behind.Calls {
		if call == "proofs_of_indexing" {
			t.Error("behind indexer should not have been queried: it has not reached the target block")
		}
	}
}

func TestQueryProofsOfIndexingKeepsDeploymentsSeparate(t *testing.T) {
	t.Parallel()

	// Statuses straight off the wire never carry a resolved storage id
	// (HTTPClient.IndexingStatuses always reports ID 0); the IPFS CID is
	// the only thing that tells these two deployments apart.
	dep1 := models.SubgraphDeployment{IPFSCID: "Qm1"}
	dep2 := models.SubgraphDeployment{IPFSCID: "Qm2"}

	var digest1, digest2 [32]byte
	digest1[0] = 0xaa
	digest2[0] = 0xbb

	c := indexerclient.NewMock(models.Indexer{Name: "i1"})
	c.SetPoI("Qm1", 10, digest1)
	c.SetPoI("Qm2", 20, digest2)

	statuses := []models.IndexingStatus{
		{Indexer: c.Identity(), Deployment: dep1, LatestBlock: models.Block{Number: 10}},
		{Indexer: c.Identity(), Deployment: dep2, LatestBlock: models.Block{Number: 20}},
	}

	e := &Engine{Clients: []indexerclient.Client{c}, Policy: blockchoice.NewCommonTip()}
	pois := e.QueryProofsOfIndexing(context.Background(), statuses)

	if len(pois) != 2 {
		t.Fatalf("len(pois)=%d want 2: both deployments should be queried independently", len(pois))
	}
	byCID := make(map[string]models.PoI)
	for _, p := range pois {
		byCID[p.Deployment.IPFSCID] = p
	}
	if p, ok := byCID["Qm1"]; !ok || p.Block.Number != 10 {
		t.Errorf("Qm1 poi = %+v, want block 10", p)
	}
	if p, ok := byCID["Qm2"]; !ok || p.Block.Number != 20 {
		t.Errorf("Qm2 poi = %+v, want block 20", p)
	}
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }
