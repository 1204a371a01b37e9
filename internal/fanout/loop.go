package fanout

import (
	"context"
	"log"
	"time"

	"cross-checker/internal/agreement"
	"cross-checker/internal/metrics"
	"cross-checker/internal/models"
	"cross-checker/internal/store"
)

// Writer is the subset of *store.Store the poll loop needs.
type Writer interface {
	WritePoIs(ctx context.Context, batch []store.PoIWrite, liveness models.Liveness) ([]models.PoI, error)
	Pois(ctx context.Context, f store.PoIFilter) ([]models.PoI, error)
}

// Run drives the poll loop at the given cadence: status query → PoI
// query → write_pois(Live). Overlapping rounds are forbidden (spec.md
// §5 Backpressure): if a round runs longer than the interval, the
// ticker holds one pending tick and drops the rest, so the next round
// starts as soon as the previous one returns, never alongside it.
func (e *Engine) Run(ctx context.Context, w Writer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runRound(ctx, w)
		}
	}
}

func (e *Engine) runRound(ctx context.Context, w Writer) {
	start := time.Now()
	defer func() {
		metrics.PollRoundDuration.Observe(time.Since(start).Seconds())
	}()

	statuses := e.QueryIndexingStatuses(ctx)
	if len(statuses) == 0 {
		return
	}

	pois := e.QueryProofsOfIndexing(ctx, statuses)
	if len(pois) == 0 {
		return
	}

	// networkNameByCID resolves a deployment back to the network name
	// WritePoIs upserts on, since the statuses that produced each PoI
	// carried that name (PoI itself is CID + block). Statuses are
	// transient and never resolved against the store at this point, so
	// the IPFS CID — not the zero-valued storage id — is the only key
	// that actually identifies a deployment here (spec.md §3).
	networkNameByCID := make(map[string]string)
	for _, s := range statuses {
		networkNameByCID[s.Deployment.IPFSCID] = s.NetworkName
	}

	batch := make([]store.PoIWrite, 0, len(pois))
	for _, p := range pois {
		batch = append(batch, store.PoIWrite{
			Indexer:     p.Indexer,
			NetworkName: networkNameByCID[p.Deployment.IPFSCID],
			IPFSCID:     p.Deployment.IPFSCID,
			BlockNumber: p.Block.Number,
			BlockHash:   p.Block.Hash,
			Digest:      p.Digest,
		})
	}

	written, err := w.WritePoIs(ctx, batch, models.Live)
	if err != nil {
		log.Printf("[fanout] write_pois failed: %v", err)
		return
	}

	e.refreshConsensus(ctx, w, written)
}

// refreshConsensus re-reads each touched deployment's current live PoIs
// and updates the consensus gauge (spec.md §4.E), so operators can
// watch agreement drift without issuing a separate query.
func (e *Engine) refreshConsensus(ctx context.Context, w Writer, written []models.PoI) {
	deployments := make(map[int64]string)
	for _, p := range written {
		deployments[p.Deployment.ID] = p.Deployment.IPFSCID
	}

	for depID, cid := range deployments {
		live, err := w.Pois(ctx, store.PoIFilter{DeploymentID: depID, LiveOnly: true})
		if err != nil {
			log.Printf("[fanout] consensus refresh for %s failed: %v", cid, err)
			continue
		}
		report, err := agreement.Analyze(live)
		if err != nil {
			continue
		}
		value := 0.0
		if report.HasConsensus {
			value = 1.0
		}
		metrics.ConsensusGauge.WithLabelValues(cid).Set(value)
	}
}
