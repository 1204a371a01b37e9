//go:build integration

package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"cross-checker/internal/models"
	"cross-checker/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := store.Open(ctx, dbURL, 0, 0)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestWritePoIsLivenessInvariant(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	indexer := models.Indexer{Name: "i1"}
	var d1, d2, h10, h11 [32]byte
	d1[0], h10[0] = 0xaa, 0x10
	d2[0], h11[0] = 0xbb, 0x11

	if _, err := s.WritePoIs(ctx, []store.PoIWrite{
		{Indexer: indexer, NetworkName: "mainnet", IPFSCID: "Qm1", BlockNumber: 10, BlockHash: h10, Digest: d1},
	}, models.Live); err != nil {
		t.Fatalf("first write: %v", err)
	}
	written, err := s.WritePoIs(ctx, []store.PoIWrite{
		{Indexer: indexer, NetworkName: "mainnet", IPFSCID: "Qm1", BlockNumber: 11, BlockHash: h11, Digest: d2},
	}, models.Live)
	if err != nil {
		t.Fatalf("second write: %v", err)
	}

	live, err := s.Pois(ctx, store.PoIFilter{IndexerID: written[0].Indexer.ID, DeploymentID: written[0].Deployment.ID, LiveOnly: true})
	if err != nil {
		t.Fatalf("Pois: %v", err)
	}
	if len(live) != 1 {
		t.Fatalf("len(live)=%d want 1", len(live))
	}
	if live[0].Block.Number != 11 {
		t.Errorf("live block number=%d want 11", live[0].Block.Number)
	}
}

func TestWritePoIsDuplicateIgnored(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	indexer := models.Indexer{Name: "i2"}
	var digest [32]byte
	digest[0] = 0xcc

	entry := store.PoIWrite{Indexer: indexer, NetworkName: "mainnet", IPFSCID: "Qm2", BlockNumber: 5, Digest: digest}
	if _, err := s.WritePoIs(ctx, []store.PoIWrite{entry}, models.Live); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := s.WritePoIs(ctx, []store.PoIWrite{entry}, models.Live); err != nil {
		t.Fatalf("duplicate write: %v", err)
	}

	rows, err := s.Pois(ctx, store.PoIFilter{})
	if err != nil {
		t.Fatalf("Pois: %v", err)
	}
	count := 0
	for _, r := range rows {
		if r.Deployment.IPFSCID == "Qm2" && r.Block.Number == 5 {
			count++
		}
	}
	if count != 1 {
		t.Errorf("duplicate rows for (indexer, deployment, block)=%d want 1", count)
	}
}

func TestDivergenceBisectReportPairNormalization(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var d1, d2 [32]byte
	d1[0] = 0x01
	d2[0] = 0x02
	w1, err := s.WritePoIs(ctx, []store.PoIWrite{{Indexer: models.Indexer{Name: "p1"}, NetworkName: "mainnet", IPFSCID: "Qm3", BlockNumber: 7, Digest: d1}}, models.NotLive)
	if err != nil {
		t.Fatalf("write p1: %v", err)
	}
	w2, err := s.WritePoIs(ctx, []store.PoIWrite{{Indexer: models.Indexer{Name: "p2"}, NetworkName: "mainnet", IPFSCID: "Qm3", BlockNumber: 7, Digest: d2}}, models.NotLive)
	if err != nil {
		t.Fatalf("write p2: %v", err)
	}

	blockID := w1[0].Block.ID
	id1, err := s.WriteDivergenceBisectReport(ctx, w1[0].ID, w2[0].ID, blockID)
	if err != nil {
		t.Fatalf("report a,b: %v", err)
	}
	id2, err := s.WriteDivergenceBisectReport(ctx, w2[0].ID, w1[0].ID, blockID)
	if err != nil {
		t.Fatalf("report b,a: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected the same report row regardless of argument order, got %d and %d", id1, id2)
	}
}

func TestQueueAndRecvCrossCheckReport(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	recvCh := make(chan models.QueuedReportRequest, 1)
	errCh := make(chan error, 1)
	go func() {
		req, err := s.RecvCrossCheckReportRequest(ctx)
		if err != nil {
			errCh <- err
			return
		}
		recvCh <- req
	}()

	time.Sleep(100 * time.Millisecond) // let the subscription register
	uuid, err := s.QueueCrossCheckReport(ctx, models.DivergenceInvestigationRequest{
		PoIRefs: []models.PoIRef{{PoIID: 1}, {PoIID: 2}},
	})
	if err != nil {
		t.Fatalf("QueueCrossCheckReport: %v", err)
	}

	select {
	case req := <-recvCh:
		if req.UUID != uuid {
			t.Errorf("UUID=%q want %q", req.UUID, uuid)
		}
		if len(req.Request.PoIRefs) != 2 {
			t.Errorf("len(PoIRefs)=%d want 2", len(req.Request.PoIRefs))
		}
	case err := <-errCh:
		t.Fatalf("RecvCrossCheckReportRequest: %v", err)
	case <-ctx.Done():
		t.Fatal("timed out waiting for queued report")
	}
}
