package indexerclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"cross-checker/internal/models"
)

// HTTPClient is the real IndexerClient adapter: GraphQL-over-HTTPS to a
// single remote indexer. No GraphQL client library is wired (see
// DESIGN.md) — this follows the teacher's internal/market HTTP fetcher
// shape directly: context-bound requests, a timeout-bound http.Client,
// and manual JSON decode of the GraphQL envelope.
type HTTPClient struct {
	indexer models.Indexer
	url     string
	http    *http.Client
	limiter *rate.Limiter

	// BatchSize bounds how many PoI requests go into one underlying
	// proofsOfIndexing call. Forced to 1 by default per spec.md §9 (an
	// upstream server bug), but configurable.
	BatchSize int
}

// NewHTTPClient constructs a client pinned to one indexer's GraphQL
// endpoint. requestTimeout bounds every individual HTTP call; ratePerSec
// bounds the outbound request rate to that indexer (0 disables limiting).
func NewHTTPClient(indexer models.Indexer, url string, requestTimeout time.Duration, ratePerSec float64) *HTTPClient {
	var limiter *rate.Limiter
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}
	return &HTTPClient{
		indexer:   indexer,
		url:       url,
		http:      &http.Client{Timeout: requestTimeout},
		limiter:   limiter,
		BatchSize: 1,
	}
}

func (c *HTTPClient) Identity() models.Indexer { return c.indexer }

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

func (c *HTTPClient) do(ctx context.Context, op string, req gqlRequest, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return c.wrap(op, KindCancelled, err)
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return c.wrap(op, KindProtocol, fmt.Errorf("encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return c.wrap(op, KindTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return c.wrap(op, KindCancelled, ctx.Err())
		}
		return c.wrap(op, KindTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.wrap(op, KindTransport, fmt.Errorf("status %s", resp.Status))
	}

	var gqlResp gqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&gqlResp); err != nil {
		return c.wrap(op, KindProtocol, fmt.Errorf("decode response: %w", err))
	}
	if len(gqlResp.Errors) > 0 {
		if isNotSupportedError(gqlResp.Errors[0].Message) {
			return c.wrap(op, KindNotSupported, fmt.Errorf("%s", gqlResp.Errors[0].Message))
		}
		return c.wrap(op, KindProtocol, fmt.Errorf("%s", gqlResp.Errors[0].Message))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(gqlResp.Data, out); err != nil {
		return c.wrap(op, KindProtocol, fmt.Errorf("decode data: %w", err))
	}
	return nil
}

func isNotSupportedError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "cannot query field") || strings.Contains(lower, "unknown field")
}

func (c *HTTPClient) wrap(op string, kind Kind, err error) error {
	return &Error{Kind: kind, Op: op, Indexer: c.indexer.String(), Err: err}
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", gqlRequest{Query: `query { ping }`}, nil)
}

type indexingStatusWire struct {
	Subgraph    string `json:"subgraph"`
	Network     string `json:"network"`
	Synced      bool   `json:"synced"`
	FatalError  *struct {
		Message string `json:"message"`
	} `json:"fatalError"`
	NonFatalErrors []struct {
		Message string `json:"message"`
	} `json:"nonFatalErrors"`
	Chains []struct {
		Network       string `json:"network"`
		LatestBlock   *wireBlock `json:"latestBlock"`
		EarliestBlock *wireBlock `json:"earliestBlock"`
	} `json:"chains"`
}

type wireBlock struct {
	Number string `json:"number"`
	Hash   string `json:"hash"`
}

func (c *HTTPClient) IndexingStatuses(ctx context.Context) ([]models.IndexingStatus, error) {
	var data struct {
		IndexingStatuses []indexingStatusWire `json:"indexingStatuses"`
	}
	if err := c.do(ctx, "indexing_statuses", gqlRequest{Query: indexingStatusesQuery}, &data); err != nil {
		return nil, err
	}

	out := make([]models.IndexingStatus, 0, len(data.IndexingStatuses))
	for _, s := range data.IndexingStatuses {
		st := models.IndexingStatus{
			Indexer:     c.indexer,
			Deployment:  models.SubgraphDeployment{IPFSCID: s.Subgraph},
			NetworkName: s.Network,
			Synced:      s.Synced,
		}
		if s.FatalError != nil {
			st.FatalError = s.FatalError.Message
		}
		st.NonFatalErrorsCount = len(s.NonFatalErrors)
		for _, chain := range s.Chains {
			if chain.LatestBlock == nil {
				continue
			}
			blk, err := decodeWireBlock(*chain.LatestBlock)
			if err != nil {
				return nil, c.wrap("indexing_statuses", KindProtocol, err)
			}
			st.LatestBlock = blk
			if chain.EarliestBlock != nil {
				if eb, err := decodeWireBlock(*chain.EarliestBlock); err == nil {
					st.EarliestBlockNumber = eb.Number
				}
			}
		}
		out = append(out, st)
	}
	return out, nil
}

func decodeWireBlock(w wireBlock) (models.Block, error) {
	var blk models.Block
	var n int64
	if _, err := fmt.Sscanf(w.Number, "%d", &n); err != nil {
		return blk, fmt.Errorf("parse block number %q: %w", w.Number, err)
	}
	blk.Number = n
	if w.Hash != "" {
		h, err := models.ParseDigest(w.Hash)
		if err != nil {
			return blk, err
		}
		blk.Hash = h
	}
	return blk, nil
}

const indexingStatusesQuery = `
query {
  indexingStatuses {
    subgraph
    network
    synced
    fatalError { message }
    nonFatalErrors { message }
    chains {
      network
      latestBlock { number hash }
      earliestBlock { number hash }
    }
  }
}`

// ProofsOfIndexing never fails the whole batch: each underlying call
// covers at most c.BatchSize requests, and a failed sub-batch is logged
// and skipped rather than aborting the rest.
func (c *HTTPClient) ProofsOfIndexing(ctx context.Context, reqs []PoIRequest) ([]models.PoI, error) {
	batchSize := c.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	var out []models.PoI
	for start := 0; start < len(reqs); start += batchSize {
		end := start + batchSize
		if end > len(reqs) {
			end = len(reqs)
		}
		pois, err := c.proofsOfIndexingBatch(ctx, reqs[start:end])
		if err != nil {
			if ctx.Err() != nil {
				return out, c.wrap("proofs_of_indexing", KindCancelled, ctx.Err())
			}
			log.Printf("[indexerclient] skipping %d PoI request(s) for %s: %v", end-start, c.indexer, err)
			continue
		}
		out = append(out, pois...)
	}
	return out, nil
}

type poiWire struct {
	Deployment string  `json:"deployment"`
	Block      wireBlock `json:"block"`
	ProofOfIndexing *string `json:"proofOfIndexing"`
}

func (c *HTTPClient) proofsOfIndexingBatch(ctx context.Context, reqs []PoIRequest) ([]models.PoI, error) {
	requests := make([]map[string]any, len(reqs))
	for i, r := range reqs {
		requests[i] = map[string]any{"deployment": r.Deployment.IPFSCID, "blockNumber": r.Block}
	}

	var data struct {
		PublicProofsOfIndexing []poiWire `json:"publicProofsOfIndexing"`
	}
	req := gqlRequest{Query: proofsOfIndexingQuery, Variables: map[string]any{"requests": requests}}
	if err := c.do(ctx, "proofs_of_indexing", req, &data); err != nil {
		return nil, err
	}

	out := make([]models.PoI, 0, len(data.PublicProofsOfIndexing))
	for _, w := range data.PublicProofsOfIndexing {
		if w.ProofOfIndexing == nil {
			continue
		}
		digest, err := models.ParseDigest(*w.ProofOfIndexing)
		if err != nil {
			continue
		}
		blk, err := decodeWireBlock(w.Block)
		if err != nil {
			continue
		}
		out = append(out, models.PoI{
			Indexer:    c.indexer,
			Deployment: models.SubgraphDeployment{IPFSCID: w.Deployment},
			Block:      blk,
			Digest:     digest,
		})
	}
	return out, nil
}

// ProofOfIndexing fetches a single coordinate via the same batch machinery
// as ProofsOfIndexing. The GraphQL adapter has no reliable way to tell
// "never indexed" apart from "no data yet" over a generic schema, so it
// always reports ok=false rather than ErrUnindexed. The Bisection
// Coordinator therefore classifies such a probe as Incomplete, never as
// Unindexed, when it runs against this adapter.
func (c *HTTPClient) ProofOfIndexing(ctx context.Context, deployment models.SubgraphDeployment, block int64) (*models.PoI, bool, error) {
	pois, err := c.proofsOfIndexingBatch(ctx, []PoIRequest{{Deployment: deployment, Block: block}})
	if err != nil {
		return nil, false, err
	}
	if len(pois) == 0 {
		return nil, false, nil
	}
	return &pois[0], true, nil
}

const proofsOfIndexingQuery = `
query($requests: [PublicProofOfIndexingRequest!]!) {
  publicProofsOfIndexing(requests: $requests) {
    deployment
    block { number hash }
    proofOfIndexing
  }
}`

func (c *HTTPClient) Version(ctx context.Context) (string, error) {
	var data struct {
		Version struct {
			Version string `json:"version"`
		} `json:"version"`
	}
	if err := c.do(ctx, "version", gqlRequest{Query: `query { version { version } }`}, &data); err != nil {
		return "", err
	}
	return data.Version.Version, nil
}

func (c *HTTPClient) SubgraphAPIVersions(ctx context.Context, deployment models.SubgraphDeployment) ([]string, error) {
	var data struct {
		APIVersions []string `json:"subgraphApiVersions"`
	}
	req := gqlRequest{
		Query:     `query($d: String!) { subgraphApiVersions(subgraph: $d) }`,
		Variables: map[string]any{"d": deployment.IPFSCID},
	}
	if err := c.do(ctx, "subgraph_api_versions", req, &data); err != nil {
		return nil, err
	}
	return data.APIVersions, nil
}

func (c *HTTPClient) CachedEthCalls(ctx context.Context, network string, blockHash [32]byte) ([]CachedCall, error) {
	var data struct {
		Calls []struct {
			Payload string `json:"payload"`
		} `json:"cachedEthCalls"`
	}
	req := gqlRequest{
		Query:     `query($n: String!, $h: String!) { cachedEthCalls(network: $n, blockHash: $h) { payload } }`,
		Variables: map[string]any{"n": network, "h": "0x" + hex.EncodeToString(blockHash[:])},
	}
	if err := c.do(ctx, "cached_eth_calls", req, &data); err != nil {
		return nil, err
	}
	out := make([]CachedCall, len(data.Calls))
	for i, w := range data.Calls {
		out[i] = CachedCall{Payload: []byte(w.Payload)}
	}
	return out, nil
}

func (c *HTTPClient) BlockCacheContents(ctx context.Context, network string, blockHash [32]byte) ([]byte, error) {
	var data struct {
		Contents string `json:"blockCacheContents"`
	}
	req := gqlRequest{
		Query:     `query($n: String!, $h: String!) { blockCacheContents(network: $n, blockHash: $h) }`,
		Variables: map[string]any{"n": network, "h": "0x" + hex.EncodeToString(blockHash[:])},
	}
	if err := c.do(ctx, "block_cache_contents", req, &data); err != nil {
		return nil, err
	}
	return []byte(data.Contents), nil
}

func (c *HTTPClient) EntityChanges(ctx context.Context, deployment models.SubgraphDeployment, block int64) ([]EntityChange, error) {
	var data struct {
		Changes []struct {
			Payload string `json:"payload"`
		} `json:"entityChangesInBlock"`
	}
	req := gqlRequest{
		Query:     `query($d: String!, $b: Int!) { entityChangesInBlock(subgraph: $d, blockNumber: $b) { payload } }`,
		Variables: map[string]any{"d": deployment.IPFSCID, "b": block},
	}
	if err := c.do(ctx, "entity_changes", req, &data); err != nil {
		return nil, err
	}
	out := make([]EntityChange, len(data.Changes))
	for i, w := range data.Changes {
		out[i] = EntityChange{Payload: []byte(w.Payload)}
	}
	return out, nil
}
