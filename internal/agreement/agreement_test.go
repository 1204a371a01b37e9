package agreement

import (
	"testing"

	"cross-checker/internal/models"
)

func poiWithDigest(indexerName string, b byte) models.PoI {
	var d [32]byte
	d[0] = b
	return models.PoI{Indexer: models.Indexer{Name: indexerName}, Digest: d}
}

func TestAnalyzeEmptyErrors(t *testing.T) {
	t.Parallel()

	if _, err := Analyze(nil); err == nil {
		t.Fatal("expected error for zero live PoIs")
	}
}

func TestAnalyzeUnanimous(t *testing.T) {
	t.Parallel()

	report, err := Analyze([]models.PoI{poiWithDigest("i1", 0xaa), poiWithDigest("i2", 0xaa)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.HasConsensus {
		t.Fatal("expected consensus")
	}
	for _, r := range report.ByIndexer {
		if !r.InConsensus || r.NAgreeing != 2 || r.NDisagreeing != 0 {
			t.Errorf("unexpected result: %+v", r)
		}
	}
}

func TestAnalyzeStrictMajority(t *testing.T) {
	t.Parallel()

	pois := []models.PoI{
		poiWithDigest("i1", 0xaa),
		poiWithDigest("i2", 0xaa),
		poiWithDigest("i3", 0xaa),
		poiWithDigest("i4", 0xbb),
		poiWithDigest("i5", 0xbb),
	}
	report, err := Analyze(pois)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.HasConsensus {
		t.Fatal("expected consensus: 3 of 5 is a strict majority")
	}
	for _, r := range report.ByIndexer {
		wantInConsensus := r.Digest == pois[0].Digest
		if r.InConsensus != wantInConsensus {
			t.Errorf("indexer %s: InConsensus=%v want %v", r.Indexer.Name, r.InConsensus, wantInConsensus)
		}
	}
}

func TestAnalyzeNoMajority(t *testing.T) {
	t.Parallel()

	// 1 of 2 is not a strict majority (integer division: 2/2 = 1, need > 1).
	report, err := Analyze([]models.PoI{poiWithDigest("i1", 0xaa), poiWithDigest("i2", 0xbb)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.HasConsensus {
		t.Fatal("expected no consensus: a 1-1 split is not a strict majority")
	}
	for _, r := range report.ByIndexer {
		if r.InConsensus {
			t.Errorf("no indexer should be in consensus without a majority: %+v", r)
		}
	}
}
