// Package blobstore implements the partitioned columnar file store keyed by
// (network_id, block_height), holding raw per-block extracts.
package blobstore

// Partition is a single (network_id, block_height)'s set of named extract
// files — e.g. {"blocks": ..., "transactions": ..., "inputs": ..., "outputs": ...}
// for UTXO chains, or {"blocks": ..., "transactions": ..., "receipts": ..., "logs": ...}
// for account chains, per spec.md §6.3.
type Partition map[string][]byte

// BlobStore is the partitioned columnar file store (spec.md §3/§4.8). Commit
// is all-or-nothing per block; re-extraction overwrites the partition to a
// byte-identical state (spec.md §8 round-trip property).
type BlobStore interface {
	// Put commits a full partition atomically. Replaces any existing
	// partition for (networkID, height).
	Put(networkID int64, height uint64, partition Partition) error
	// Get reads back a partition previously committed with Put. Returns
	// (nil, nil) if the partition is missing — callers distinguish "missing"
	// from "error" the way ProcessBlock's `Option<WarehouseBatch>` does.
	Get(networkID int64, height uint64) (Partition, error)
	Has(networkID int64, height uint64) (bool, error)
	// DeleteRange removes every partition for networkID in [from, to).
	DeleteRange(networkID int64, from, to uint64) error
	// DeleteNetwork removes every partition for networkID.
	DeleteNetwork(networkID int64) error

	Close() error
}
