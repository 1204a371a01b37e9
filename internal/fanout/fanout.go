// Package fanout is the Fan-out Polling Engine (spec.md §4.D):
// concurrent collection of indexing statuses and proofs of indexing
// across every configured indexer, with per-indexer success/failure
// accounting and a cadence-driven poll loop.
package fanout

import (
	"context"
	"log"
	"sync"

	"cross-checker/internal/blockchoice"
	"cross-checker/internal/indexerclient"
	"cross-checker/internal/metrics"
	"cross-checker/internal/models"
)

// Engine polls a fixed set of indexer clients. Per-call batch size is
// a property of each Client (indexerclient.HTTPClient.BatchSize), not
// of the Engine itself.
type Engine struct {
	Clients []indexerclient.Client
	Policy  blockchoice.Policy
}

// QueryIndexingStatuses issues indexing_statuses() to every client
// concurrently. A failing client contributes zero statuses and a
// failure metric; it never poisons the round (spec.md §4.D.1).
func (e *Engine) QueryIndexingStatuses(ctx context.Context) []models.IndexingStatus {
	results := make([][]models.IndexingStatus, len(e.Clients))

	var wg sync.WaitGroup
	for i, c := range e.Clients {
		wg.Add(1)
		go func(i int, c indexerclient.Client) {
			defer wg.Done()
			statuses, err := c.IndexingStatuses(ctx)
			outcome := metrics.OutcomeOK
			if err != nil {
				outcome = metrics.OutcomeError
				log.Printf("[fanout] indexing_statuses failed for %s: %v", c.Identity(), err)
			} else {
				results[i] = statuses
			}
			metrics.IndexingStatusCalls.WithLabelValues(c.Identity().String(), outcome).Inc()
		}(i, c)
	}
	wg.Wait()

	var out []models.IndexingStatus
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

// QueryProofsOfIndexing groups statuses by deployment, applies the
// configured Policy to pick a target block per deployment, and issues
// one proofs_of_indexing call per indexer concurrently, restricted to
// deployments that indexer has actually reached (spec.md §4.D.2).
//
// Statuses are transient, never resolved against the store, so a
// deployment's storage id is not yet assigned at this point (the real
// HTTPClient always reports it as zero) — the IPFS CID is the only
// identity a deployment carries here (spec.md §3), so grouping keys on
// it rather than on Deployment.ID.
func (e *Engine) QueryProofsOfIndexing(ctx context.Context, statuses []models.IndexingStatus) []models.PoI {
	byDeployment := make(map[string][]models.IndexingStatus)
	deploymentByCID := make(map[string]models.SubgraphDeployment)
	for _, s := range statuses {
		byDeployment[s.Deployment.IPFSCID] = append(byDeployment[s.Deployment.IPFSCID], s)
		deploymentByCID[s.Deployment.IPFSCID] = s.Deployment
	}

	targets := make(map[string]int64) // deployment CID -> target block
	for cid, group := range byDeployment {
		if block, ok := e.Policy.Choose(group); ok {
			targets[cid] = block
		}
	}
	if len(targets) == 0 {
		return nil
	}

	// reached lets each client's goroutine know, per
	// deployment, whether that client has reached the target block.
	type statusKey struct {
		indexer    string
		deployment string
	}
	reached := make(map[statusKey]bool)
	for _, s := range statuses {
		target, ok := targets[s.Deployment.IPFSCID]
		if ok && s.LatestBlock.Number >= target {
			reached[statusKey{s.Indexer.Key(), s.Deployment.IPFSCID}] = true
		}
	}

	results := make([][]models.PoI, len(e.Clients))

	var wg sync.WaitGroup
	for i, c := range e.Clients {
		wg.Add(1)
		go func(i int, c indexerclient.Client) {
			defer wg.Done()

			var reqs []indexerclient.PoIRequest
			for cid, target := range targets {
				if reached[statusKey{c.Identity().Key(), cid}] {
					reqs = append(reqs, indexerclient.PoIRequest{
						Deployment: deploymentByCID[cid],
						Block:      target,
					})
				}
			}
			if len(reqs) == 0 {
				return
			}

			pois, err := c.ProofsOfIndexing(ctx, reqs)
			outcome := metrics.OutcomeOK
			if err != nil {
				outcome = metrics.OutcomeError
				log.Printf("[fanout] proofs_of_indexing failed for %s: %v", c.Identity(), err)
			} else {
				results[i] = pois
			}
			metrics.ProofsOfIndexingCalls.WithLabelValues(c.Identity().String(), outcome).Inc()
		}(i, c)
	}
	wg.Wait()

	var out []models.PoI
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}
