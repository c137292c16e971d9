// Package warehouse implements the append-mostly analytical store holding
// transfers, amounts, a materialized balances view, and links.
package warehouse

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/barreleye/barreleye/internal/amount"
)

// Transfer is an immutable fact produced by a process-stage module.
type Transfer struct {
	UUID           uuid.UUID
	ModuleID       int
	NetworkID      int64
	BlockHeight    uint64
	TxHash         string
	FromAddress    string
	ToAddress      string
	AssetAddress   string // empty for the network's native asset
	RelativeAmount amount.U256
	BatchAmount    amount.U256
	CreatedAt      time.Time
}

// DedupKey identifies the logical row a Transfer collapses into when the
// same process_block(h) run is applied twice (spec.md §8 round-trip property).
func (t Transfer) DedupKey() string {
	return fmtKey(t.ModuleID, t.NetworkID, t.BlockHeight, t.TxHash, t.FromAddress, t.ToAddress, t.AssetAddress, t.RelativeAmount.String(), t.BatchAmount.String())
}

// Amount is a per-tx per-address balance delta.
type Amount struct {
	ModuleID     int
	NetworkID    int64
	BlockHeight  uint64
	TxHash       string
	Address      string
	AssetAddress string
	AmountIn     amount.U256
	AmountOut    amount.U256
	CreatedAt    time.Time
}

func (a Amount) DedupKey() string {
	return fmtKey(a.ModuleID, a.NetworkID, a.BlockHeight, a.TxHash, a.Address, a.AssetAddress, a.AmountIn.String(), a.AmountOut.String())
}

// Link is a directed chain of transfers from a source address to a sink.
type Link struct {
	NetworkID     int64
	BlockHeight   uint64
	FromAddress   string
	ToAddress     string
	TransferUUIDs []uuid.UUID
	CreatedAt     time.Time
}

func (l Link) Length() int { return len(l.TransferUUIDs) }

func fmtKey(parts ...any) string {
	return fmt.Sprintf("%v", parts)
}
