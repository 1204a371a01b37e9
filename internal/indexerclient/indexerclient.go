// Package indexerclient defines the IndexerClient capability (spec.md
// §4.A): the abstract interface the Fan-out Polling Engine and the
// Bisection Coordinator use to query one indexer, independent of the
// concrete wire protocol. A real GraphQL-over-HTTPS adapter and a test
// double both implement it.
package indexerclient

import (
	"context"
	"errors"
	"fmt"

	"cross-checker/internal/models"
)

// Kind classifies an IndexerClient failure per spec.md §7. An *Error
// matches a Kind sentinel such as ErrNotSupported under errors.Is when
// its Kind equals that sentinel's.
type Kind string

const (
	KindTransport    Kind = "transport"
	KindProtocol     Kind = "protocol"
	KindNotSupported Kind = "not_supported"
	KindCancelled    Kind = "cancelled"
)

// Error is the opaque failure type every IndexerClient operation returns.
// Callers treat it as opaque per spec.md §4.A but may branch on Kind to
// decide whether to keep polling the indexer for the rest of a batch.
type Error struct {
	Kind    Kind
	Op      string
	Indexer string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("indexerclient: %s(%s): %s: %v", e.Op, e.Indexer, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, indexerclient.ErrNotSupported) style checks
// against a Kind without needing the full *Error value.
func (e *Error) Is(target error) bool {
	var k kindSentinel
	if errors.As(target, &k) {
		return e.Kind == Kind(k)
	}
	return false
}

type kindSentinel Kind

func (k kindSentinel) Error() string { return string(k) }

var (
	// ErrNotSupported matches any *Error whose Kind is KindNotSupported.
	ErrNotSupported error = kindSentinel(KindNotSupported)

	// ErrUnindexed is returned by single-coordinate probes (used by the
	// Bisection Coordinator) when the indexer reports it has simply never
	// indexed the requested block, distinct from a transport/protocol
	// failure (spec.md §4.F "Failed(unindexed)" vs "Incomplete").
	ErrUnindexed = errors.New("indexerclient: block not indexed by this indexer")
)

// PoIRequest identifies one (deployment, block number) pair to fetch a
// proof of indexing for.
type PoIRequest struct {
	Deployment models.SubgraphDeployment
	Block      int64
}

// EntityChange is an opaque, best-effort evidence payload collected during
// bisection; the core does not interpret its contents.
type EntityChange struct {
	Payload []byte
}

// CachedCall is an opaque write-through cache payload (a cached eth_call or
// block cache entry) collected during bisection.
type CachedCall struct {
	Payload []byte
}

// Client is the capability exposed by one indexer (spec.md §4.A). Every
// method fails with *Error on transport/protocol problems; callers never
// branch on the underlying transport.
type Client interface {
	// Identity is the indexer this client talks to.
	Identity() models.Indexer

	Ping(ctx context.Context) error

	IndexingStatuses(ctx context.Context) ([]models.IndexingStatus, error)

	// ProofsOfIndexing never fails the whole batch: it returns the subset
	// it could answer. Callers must not assume a 1:1 response per request.
	ProofsOfIndexing(ctx context.Context, reqs []PoIRequest) ([]models.PoI, error)

	// ProofOfIndexing fetches a single (deployment, block) coordinate, the
	// shape the Bisection Coordinator's sequential probes need. ok is false
	// when the indexer answered but has no PoI for that coordinate (a
	// "null" response per spec.md §4.F); err wraps ErrUnindexed when the
	// indexer affirmatively reports it has never indexed that block.
	ProofOfIndexing(ctx context.Context, deployment models.SubgraphDeployment, block int64) (poi *models.PoI, ok bool, err error)

	Version(ctx context.Context) (string, error)

	SubgraphAPIVersions(ctx context.Context, deployment models.SubgraphDeployment) ([]string, error)

	CachedEthCalls(ctx context.Context, network string, blockHash [32]byte) ([]CachedCall, error)

	BlockCacheContents(ctx context.Context, network string, blockHash [32]byte) ([]byte, error)

	EntityChanges(ctx context.Context, deployment models.SubgraphDeployment, block int64) ([]EntityChange, error)
}
