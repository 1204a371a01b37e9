// Package bisect is the Divergence Bisection Coordinator (spec.md
// §4.F): a request-driven binary search over block heights that
// isolates the first block at which two indexers' PoIs diverge.
package bisect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cross-checker/internal/indexerclient"
	"cross-checker/internal/metrics"
	"cross-checker/internal/models"
	"cross-checker/internal/store"
)

// Store is the subset of *store.Store the coordinator needs.
type Store interface {
	PoIByID(ctx context.Context, id int64) (models.PoI, error)
	WritePoIs(ctx context.Context, batch []store.PoIWrite, liveness models.Liveness) ([]models.PoI, error)
	WriteDivergenceBisectReport(ctx context.Context, poiID1, poiID2, divergingBlockID int64) (int64, error)
	WriteBlockCacheEntry(ctx context.Context, indexerID, blockID int64, blockData []byte) error
	WriteEthCallCacheEntry(ctx context.Context, indexerID, blockID int64, callData, callResult []byte) error
	WriteEntityChangesInBlock(ctx context.Context, indexerID, blockID int64, changeData []byte) error
	NetworkName(ctx context.Context, networkID int64) (string, error)
	BlockIDForNumber(ctx context.Context, networkID, number int64) (int64, error)
	RecvCrossCheckReportRequest(ctx context.Context) (models.QueuedReportRequest, error)
}

// Coordinator runs bisection requests against a fixed set of indexer
// clients, keyed by indexer identity.
type Coordinator struct {
	Store   Store
	Clients map[string]indexerclient.Client // keyed by models.Indexer.Key()
}

func (c *Coordinator) clientFor(idx models.Indexer) (indexerclient.Client, bool) {
	cl, ok := c.Clients[idx.Key()]
	return cl, ok
}

// RunRequest turns a DivergenceInvestigationRequest into one
// BisectionRun per unordered pair of referenced PoIs that share a
// deployment and block but disagree (spec.md §4.F).
func (c *Coordinator) RunRequest(ctx context.Context, req models.DivergenceInvestigationRequest) ([]models.BisectionRun, error) {
	pois := make([]models.PoI, 0, len(req.PoIRefs))
	for _, ref := range req.PoIRefs {
		p, err := c.Store.PoIByID(ctx, ref.PoIID)
		if err != nil {
			return nil, fmt.Errorf("bisect: resolve poi ref %d: %w", ref.PoIID, err)
		}
		pois = append(pois, p)
	}

	var runs []models.BisectionRun
	for i := 0; i < len(pois); i++ {
		for j := i + 1; j < len(pois); j++ {
			a, b := pois[i], pois[j]
			if a.Deployment.ID != b.Deployment.ID || a.Block.Number != b.Block.Number {
				continue
			}
			if a.Digest == b.Digest {
				continue
			}
			runs = append(runs, c.RunPair(ctx, a, b))
		}
	}
	return runs, nil
}

// RunPair drives the bisection state machine for one disagreeing pair
// of PoIs over the same deployment and block, to completion.
func (c *Coordinator) RunPair(ctx context.Context, poi1, poi2 models.PoI) models.BisectionRun {
	metrics.BisectionRunsInFlight.Inc()
	defer metrics.BisectionRunsInFlight.Dec()

	run := models.BisectionRun{
		ID:        uuid.NewString(),
		PoI1Ref:   poi1,
		PoI2Ref:   poi2,
		Status:    models.RunInProgress,
		CreatedAt: time.Now().UTC(),
	}

	lo, hi := int64(1), poi1.Block.Number
	var probePois []models.PoI

	for {
		if err := ctx.Err(); err != nil {
			// Cancellation: abandon the current probe, write no report;
			// the run stays InProgress (spec.md §5 Cancellation).
			return run
		}

		if hi-lo <= 1 {
			c.confirm(ctx, &run, poi1, poi2, hi, probePois)
			return run
		}

		mid := lo + (hi-lo)/2
		outcome, resolved, p1, p2 := c.probeWithRetry(ctx, poi1.Indexer, poi2.Indexer, poi1.Deployment, lo, hi, mid, &run.Steps)

		for _, p := range []*models.PoI{p1, p2} {
			if p != nil {
				probePois = append(probePois, *p)
			}
		}

		switch outcome {
		case models.StepUnindexed:
			run.Status = models.RunFailed
			run.Error = "unindexed"
			metrics.BisectionProbes.WithLabelValues("unindexed").Inc()
			return run
		case models.StepNarrowedUp:
			lo = resolved
			metrics.BisectionProbes.WithLabelValues("narrowed_up").Inc()
		case models.StepNarrowedDown:
			hi = resolved
			metrics.BisectionProbes.WithLabelValues("narrowed_down").Inc()
		default: // gap: every candidate in (lo, hi) came back incomplete
			run.Status = models.RunFailed
			run.Error = "gap"
			metrics.BisectionProbes.WithLabelValues("gap").Inc()
			return run
		}
	}
}

// probeWithRetry probes mid; on an Incomplete result it retries at
// mid+1 then mid-1 (spec.md §4.F "attempting mid' = mid ± 1"),
// recording one step per attempt. It returns the resolved narrow
// boundary (the probed block number) on narrowedUp/narrowedDown, or
// models.StepIncomplete (meaning: gap, every candidate exhausted) when
// nothing in (lo, hi) resolved.
func (c *Coordinator) probeWithRetry(ctx context.Context, idx1, idx2 models.Indexer, dep models.SubgraphDeployment, lo, hi, mid int64, steps *[]models.BisectionStep) (models.StepOutcome, int64, *models.PoI, *models.PoI) {
	candidates := []int64{mid, mid + 1, mid - 1}
	for _, cand := range candidates {
		if cand <= lo || cand >= hi {
			continue
		}
		outcome, p1, p2 := c.probe(ctx, idx1, idx2, dep, cand)
		*steps = append(*steps, models.BisectionStep{Lo: lo, Hi: hi, Mid: cand, Outcome: outcome, PoI1: p1, PoI2: p2})

		switch outcome {
		case models.StepNarrowedUp, models.StepNarrowedDown, models.StepUnindexed:
			return outcome, cand, p1, p2
		case models.StepIncomplete:
			continue
		}
	}
	return models.StepIncomplete, 0, nil, nil
}

// probe issues proof_of_indexing(deployment, block) against both
// indexers sequentially (probes within a run are inherently serial,
// spec.md §5 Ordering) and classifies the result into one of the four
// outcomes spec.md §4.F.Probe names.
func (c *Coordinator) probe(ctx context.Context, idx1, idx2 models.Indexer, dep models.SubgraphDeployment, block int64) (models.StepOutcome, *models.PoI, *models.PoI) {
	cl1, ok := c.clientFor(idx1)
	if !ok {
		return models.StepIncomplete, nil, nil
	}
	cl2, ok := c.clientFor(idx2)
	if !ok {
		return models.StepIncomplete, nil, nil
	}

	p1, ok1, err1 := cl1.ProofOfIndexing(ctx, dep, block)
	p2, ok2, err2 := cl2.ProofOfIndexing(ctx, dep, block)

	if errors.Is(err1, indexerclient.ErrUnindexed) || errors.Is(err2, indexerclient.ErrUnindexed) {
		return models.StepUnindexed, p1, p2
	}
	if err1 != nil || err2 != nil || !ok1 || !ok2 || p1 == nil || p2 == nil {
		return models.StepIncomplete, p1, p2
	}
	if p1.Digest == p2.Digest {
		return models.StepNarrowedUp, p1, p2
	}
	return models.StepNarrowedDown, p1, p2
}

// confirm finalizes a run once Probe narrows to hi-lo <= 1: it
// persists every probe PoI as NotLive, best-effort collects evidence
// for the diverging block, and writes the DivergenceBisectReport row
// (spec.md §4.F Confirmed). Evidence failures are recorded in the
// run's Error field but do not flip a confirmed run to Failed.
func (c *Coordinator) confirm(ctx context.Context, run *models.BisectionRun, poi1, poi2 models.PoI, divergingBlock int64, probePois []models.PoI) {
	metrics.BisectionProbes.WithLabelValues("confirmed").Inc()

	networkName, err := c.Store.NetworkName(ctx, poi1.Deployment.NetworkID)
	if err != nil {
		run.Status = models.RunFailed
		run.Error = fmt.Sprintf("resolve network name: %v", err)
		return
	}

	writeBatch := make([]store.PoIWrite, 0, len(probePois))
	for _, p := range probePois {
		writeBatch = append(writeBatch, store.PoIWrite{
			Indexer:     p.Indexer,
			NetworkName: networkName,
			IPFSCID:     p.Deployment.IPFSCID,
			BlockNumber: p.Block.Number,
			BlockHash:   store.PlaceholderBlockHash(p.Deployment.NetworkID, p.Block.Number),
			Digest:      p.Digest,
		})
	}
	if len(writeBatch) > 0 {
		if _, err := c.Store.WritePoIs(ctx, writeBatch, models.NotLive); err != nil {
			run.Error = fmt.Sprintf("persist probe pois: %v", err)
		}
	}

	blockID, err := c.Store.BlockIDForNumber(ctx, poi1.Deployment.NetworkID, divergingBlock)
	if err != nil {
		run.Status = models.RunFailed
		run.Error = fmt.Sprintf("resolve diverging block: %v", err)
		return
	}

	var evidenceErrs []string
	for _, p := range []models.PoI{poi1, poi2} {
		if err := c.collectEvidence(ctx, p.Indexer, p.Deployment, blockID, divergingBlock); err != nil {
			evidenceErrs = append(evidenceErrs, fmt.Sprintf("%s: %v", p.Indexer, err))
		}
	}
	if len(evidenceErrs) > 0 {
		run.Error = fmt.Sprintf("evidence collection: %v", evidenceErrs)
	}

	reportID, err := c.Store.WriteDivergenceBisectReport(ctx, poi1.ID, poi2.ID, blockID)
	if err != nil {
		run.Status = models.RunFailed
		run.Error = fmt.Sprintf("write divergence report: %v", err)
		return
	}

	run.Status = models.RunComplete
	run.DivergingBlock = &models.DivergingBlock{
		Block: models.Block{ID: blockID, NetworkID: poi1.Deployment.NetworkID, Number: divergingBlock},
		PoI1:  poi1,
		PoI2:  poi2,
	}
	_ = reportID
}

// collectEvidence best-effort fetches and persists block cache
// contents, cached eth_calls, and entity changes for one indexer at
// the block before the diverging one and the diverging block itself,
// per spec.md §4.F Confirmed.
func (c *Coordinator) collectEvidence(ctx context.Context, idx models.Indexer, dep models.SubgraphDeployment, blockID, blockNumber int64) error {
	cl, ok := c.clientFor(idx)
	if !ok {
		return fmt.Errorf("no client for indexer")
	}

	networkName, err := c.Store.NetworkName(ctx, dep.NetworkID)
	if err != nil {
		return err
	}
	prevHash := store.PlaceholderBlockHash(dep.NetworkID, blockNumber-1)

	var errs []string

	if data, err := cl.BlockCacheContents(ctx, networkName, prevHash); err != nil {
		errs = append(errs, fmt.Sprintf("block_cache_contents: %v", err))
	} else if err := c.Store.WriteBlockCacheEntry(ctx, idx.ID, blockID, data); err != nil {
		errs = append(errs, fmt.Sprintf("write_block_cache_entry: %v", err))
	}

	if calls, err := cl.CachedEthCalls(ctx, networkName, prevHash); err != nil {
		errs = append(errs, fmt.Sprintf("cached_eth_calls: %v", err))
	} else {
		for _, call := range calls {
			if err := c.Store.WriteEthCallCacheEntry(ctx, idx.ID, blockID, call.Payload, nil); err != nil {
				errs = append(errs, fmt.Sprintf("write_eth_call_cache_entry: %v", err))
				break
			}
		}
	}

	if changes, err := cl.EntityChanges(ctx, dep, blockNumber); err != nil {
		errs = append(errs, fmt.Sprintf("entity_changes: %v", err))
	} else {
		for _, ch := range changes {
			if err := c.Store.WriteEntityChangesInBlock(ctx, idx.ID, blockID, ch.Payload); err != nil {
				errs = append(errs, fmt.Sprintf("write_entity_changes_in_block: %v", err))
				break
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%v", errs)
	}
	return nil
}
