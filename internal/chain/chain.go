// Package chain defines the adapter boundary between the scheduler and the
// per-architecture blockchain clients (UTXO, account-based), grounded on
// common/src/chain/mod.rs's ChainTrait.
package chain

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/barreleye/barreleye/internal/blobstore"
	"github.com/barreleye/barreleye/internal/catalog"
	"github.com/barreleye/barreleye/internal/warehouse"
)

// ModuleID numbers a unit of module-level extraction logic. Values are fixed
// by spec.md §4.4 and must never be renumbered — they are persisted inside
// Config keys (indexer_process_module_n{nid}_m{mid}).
type ModuleID int

const (
	BitcoinCoinbase  ModuleID = 101
	BitcoinTransfer  ModuleID = 102
	BitcoinBalance   ModuleID = 103
	EvmTransfer      ModuleID = 201
	EvmBalance       ModuleID = 202
	EvmTokenTransfer ModuleID = 203
	EvmTokenBalance  ModuleID = 204
)

func (m ModuleID) String() string {
	switch m {
	case BitcoinCoinbase:
		return "bitcoin_coinbase"
	case BitcoinTransfer:
		return "bitcoin_transfer"
	case BitcoinBalance:
		return "bitcoin_balance"
	case EvmTransfer:
		return "evm_transfer"
	case EvmBalance:
		return "evm_balance"
	case EvmTokenTransfer:
		return "evm_token_transfer"
	case EvmTokenBalance:
		return "evm_token_balance"
	default:
		return "unknown"
	}
}

// Adapter is implemented once per architecture (utxo.Adapter, account.Adapter)
// and instantiated once per network. It is the only thing the scheduler
// depends on, per SPEC_FULL.md §6.8/§7.
type Adapter interface {
	// Connect dials the configured RPC endpoint, returning false (not an
	// error) if the endpoint is reachable but not yet past warm-up.
	Connect(ctx context.Context) (bool, error)
	IsConnected() bool

	Network() catalog.Network
	ModuleIDs() []ModuleID
	FormatAddress(address string) string

	BlockHeight(ctx context.Context) (uint64, error)

	// ExtractBlock pulls raw block data for height and commits it to the
	// blob store as a Partition. Returns false if the block does not yet
	// exist at the tip (caller should stop backfilling this height).
	ExtractBlock(ctx context.Context, store blobstore.BlobStore, height uint64) (bool, error)

	// ProcessBlock reads back the extracted partition for height and runs
	// every requested module over it, returning the accumulated batch. A
	// nil batch (with nil error) means the block has no partition yet.
	ProcessBlock(ctx context.Context, store blobstore.BlobStore, height uint64, modules []ModuleID) (*warehouse.Batch, error)

	// RateLimit blocks until the adapter's rate limiter admits one more
	// request, a no-op when the network has no configured RPS.
	RateLimit(ctx context.Context) error
}

// NewLimiter builds a token-bucket limiter from a network's configured RPS,
// grounded on pkg/ingress/middleware.go's per-client rate.NewLimiter usage.
// A non-positive rps disables limiting (nil limiter).
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Wait blocks on limiter until ready; a nil limiter never blocks.
func Wait(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}
