package warehouse

import "github.com/google/uuid"

// Balance is the materialized view row: non-negative net holdings per
// (network, address, asset).
type Balance struct {
	NetworkID    int64
	Address      string
	AssetAddress string
	Total        string // decimal amount.U256, kept as string to avoid importing amount math into read paths
}

// Warehouse is the append-mostly analytical store (spec.md §3/§4). Bulk
// insert is dedup-on-full-tuple (excluding uuid) so that re-running
// process_block(h) twice yields a single logical row, per spec.md §8.
type Warehouse interface {
	InsertTransfers(transfers []Transfer) error
	InsertAmounts(amounts []Amount) error
	InsertLinks(links []Link) error
	Commit(batch *Batch) error

	ListTransfers(networkID int64, fromHeight, toHeight uint64) ([]Transfer, error)
	ListLinksByFrom(networkID int64, fromAddress string) ([]Link, error)
	ListLinksByTo(networkID int64, toAddress string) ([]Link, error)
	ListLinksByNetwork(networkID int64) ([]Link, error)
	GetTransferByUUID(id uuid.UUID) (*Transfer, error)
	Balances(networkID int64, address string) ([]Balance, error)

	DeleteAllByNetworkID(networkID int64) error
	DeleteAllBySources(networkID int64, addresses []string) error
	DeleteLink(networkID int64, fromAddress, toAddress string) error

	Close() error
}
