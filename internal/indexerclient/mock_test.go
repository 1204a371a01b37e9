package indexerclient

import (
	"context"
	"errors"
	"testing"

	"cross-checker/internal/models"
)

func testIndexer(name string) models.Indexer {
	return models.Indexer{Name: name}
}

func TestMockProofsOfIndexing(t *testing.T) {
	t.Parallel()

	m := NewMock(testIndexer("i1"))
	var digest [32]byte
	digest[0] = 0xaa
	m.SetPoI("Qm1", 10, digest)

	pois, err := m.ProofsOfIndexing(context.Background(), []PoIRequest{
		{Deployment: models.SubgraphDeployment{IPFSCID: "Qm1"}, Block: 10},
		{Deployment: models.SubgraphDeployment{IPFSCID: "Qm1"}, Block: 11}, // no data
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pois) != 1 {
		t.Fatalf("len(pois)=%d want 1", len(pois))
	}
	if pois[0].Digest != digest {
		t.Errorf("digest mismatch")
	}
}

func TestMockProofOfIndexingUnindexed(t *testing.T) {
	t.Parallel()

	m := NewMock(testIndexer("i1"))
	m.MarkUnindexed("Qm1", 5)

	_, _, err := m.ProofOfIndexing(context.Background(), models.SubgraphDeployment{IPFSCID: "Qm1"}, 5)
	if err != ErrUnindexed {
		t.Fatalf("err=%v want ErrUnindexed", err)
	}
}

func TestMockProofOfIndexingMissing(t *testing.T) {
	t.Parallel()

	m := NewMock(testIndexer("i1"))
	poi, ok, err := m.ProofOfIndexing(context.Background(), models.SubgraphDeployment{IPFSCID: "Qm1"}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || poi != nil {
		t.Fatalf("expected ok=false poi=nil, got ok=%v poi=%v", ok, poi)
	}
}

func TestErrorIsKind(t *testing.T) {
	t.Parallel()

	err := &Error{Kind: KindNotSupported, Op: "ping", Indexer: "i1"}
	if !errors.Is(err, ErrNotSupported) {
		t.Fatal("expected errors.Is to match KindNotSupported sentinel")
	}
}
