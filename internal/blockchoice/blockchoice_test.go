package blockchoice

import (
	"testing"

	"cross-checker/internal/models"
)

func statusAt(n int64) models.IndexingStatus {
	return models.IndexingStatus{LatestBlock: models.Block{Number: n}}
}

func TestMaxSyncedChoosesMax(t *testing.T) {
	t.Parallel()

	block, ok := MaxSynced{}.Choose([]models.IndexingStatus{statusAt(10), statusAt(15), statusAt(12)})
	if !ok || block != 15 {
		t.Fatalf("got (%d, %v) want (15, true)", block, ok)
	}
}

func TestMaxSyncedEmpty(t *testing.T) {
	t.Parallel()

	_, ok := MaxSynced{}.Choose(nil)
	if ok {
		t.Fatal("expected ok=false for empty input")
	}
}

func TestCommonTipAllAgree(t *testing.T) {
	t.Parallel()

	block, ok := NewCommonTip().Choose([]models.IndexingStatus{statusAt(10), statusAt(10), statusAt(12)})
	if !ok || block != 10 {
		t.Fatalf("got (%d, %v) want (10, true)", block, ok)
	}
}

func TestCommonTipThresholdFraction(t *testing.T) {
	t.Parallel()

	// 2/3 indexers reach 12; threshold 0.5 accepts it.
	p := CommonTip{Threshold: 0.5}
	block, ok := p.Choose([]models.IndexingStatus{statusAt(8), statusAt(12), statusAt(12)})
	if !ok || block != 12 {
		t.Fatalf("got (%d, %v) want (12, true)", block, ok)
	}
}

func TestCommonTipMonotonicity(t *testing.T) {
	t.Parallel()

	p := NewCommonTip()
	before, ok := p.Choose([]models.IndexingStatus{statusAt(10), statusAt(11)})
	if !ok {
		t.Fatal("expected ok=true")
	}
	after, ok := p.Choose([]models.IndexingStatus{statusAt(15), statusAt(16)})
	if !ok {
		t.Fatal("expected ok=true")
	}
	if after-before < 5 {
		t.Errorf("chosen block should advance by at least delta: before=%d after=%d", before, after)
	}
}

func TestCommonTipMinimumSatisfiesFullThreshold(t *testing.T) {
	t.Parallel()

	p := CommonTip{Threshold: 1.0}
	block, ok := p.Choose([]models.IndexingStatus{statusAt(10), statusAt(5)})
	if !ok || block != 5 {
		t.Fatalf("got (%d, %v) want (5, true): the minimum always satisfies threshold=1.0", block, ok)
	}
}
