package warehouse

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/barreleye/barreleye/internal/amount"
)

var (
	bucketTransfers   = []byte("transfers")
	bucketAmounts     = []byte("amounts")
	bucketLinks       = []byte("links")
	bucketTransferIdx = []byte("transfers_by_uuid")
)

// BoltWarehouse implements Warehouse on an embedded bbolt database. Like
// BoltCatalog, this stands in for the DuckDB/ClickHouse drivers spec.md
// treats as abstract key/value + SQL-like sinks (see DESIGN.md).
type BoltWarehouse struct {
	db *bolt.DB
}

func NewBoltWarehouse(dataDir string) (*BoltWarehouse, error) {
	path := filepath.Join(dataDir, "warehouse.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open warehouse db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketTransfers, bucketAmounts, bucketLinks, bucketTransferIdx} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltWarehouse{db: db}, nil
}

func (w *BoltWarehouse) Close() error { return w.db.Close() }

type transferRow struct {
	Transfer
}

func (w *BoltWarehouse) InsertTransfers(transfers []Transfer) error {
	if len(transfers) == 0 {
		return nil
	}
	return w.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransfers)
		idx := tx.Bucket(bucketTransferIdx)
		for _, t := range transfers {
			dedupKey := []byte(t.DedupKey())
			if existing := b.Get(dedupKey); existing != nil {
				continue // dedup on full tuple excluding uuid, per spec.md §8
			}
			data, err := json.Marshal(t)
			if err != nil {
				return err
			}
			if err := b.Put(dedupKey, data); err != nil {
				return err
			}
			if err := idx.Put([]byte(t.UUID.String()), dedupKey); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *BoltWarehouse) InsertAmounts(amounts []Amount) error {
	if len(amounts) == 0 {
		return nil
	}
	return w.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAmounts)
		for _, a := range amounts {
			key := []byte(a.DedupKey())
			if existing := b.Get(key); existing != nil {
				continue
			}
			data, err := json.Marshal(a)
			if err != nil {
				return err
			}
			if err := b.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *BoltWarehouse) InsertLinks(links []Link) error {
	if len(links) == 0 {
		return nil
	}
	return w.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLinks)
		for _, l := range links {
			key := []byte(linkKey(l.NetworkID, l.FromAddress, l.ToAddress))
			data, err := json.Marshal(l)
			if err != nil {
				return err
			}
			if err := b.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Commit performs the three warehouse inserts that make up a process-stage
// (or link-stage) commit group; the caller is responsible for persisting the
// accompanying cursor updates as part of the same logical commit.
func (w *BoltWarehouse) Commit(batch *Batch) error {
	transfers := make([]Transfer, 0, len(batch.Transfers))
	for _, t := range batch.Transfers {
		transfers = append(transfers, t)
	}
	amounts := make([]Amount, 0, len(batch.Amounts))
	for _, a := range batch.Amounts {
		amounts = append(amounts, a)
	}
	links := make([]Link, 0, len(batch.Links))
	for _, l := range batch.Links {
		links = append(links, l)
	}

	if err := w.InsertTransfers(transfers); err != nil {
		return err
	}
	if err := w.InsertAmounts(amounts); err != nil {
		return err
	}
	if err := w.InsertLinks(links); err != nil {
		return err
	}
	return nil
}

func (w *BoltWarehouse) ListTransfers(networkID int64, fromHeight, toHeight uint64) ([]Transfer, error) {
	var out []Transfer
	err := w.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTransfers).ForEach(func(_, v []byte) error {
			var t Transfer
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.NetworkID == networkID && t.BlockHeight >= fromHeight && t.BlockHeight <= toHeight {
				out = append(out, t)
			}
			return nil
		})
	})
	return out, err
}

func (w *BoltWarehouse) GetTransferByUUID(id uuid.UUID) (*Transfer, error) {
	var t Transfer
	err := w.db.View(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketTransferIdx)
		dedupKey := idx.Get([]byte(id.String()))
		if dedupKey == nil {
			return fmt.Errorf("transfer not found: %s", id)
		}
		data := tx.Bucket(bucketTransfers).Get(dedupKey)
		if data == nil {
			return fmt.Errorf("transfer not found: %s", id)
		}
		return json.Unmarshal(data, &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (w *BoltWarehouse) ListLinksByFrom(networkID int64, fromAddress string) ([]Link, error) {
	var out []Link
	err := w.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLinks).ForEach(func(_, v []byte) error {
			var l Link
			if err := json.Unmarshal(v, &l); err != nil {
				return err
			}
			if l.NetworkID == networkID && l.FromAddress == fromAddress {
				out = append(out, l)
			}
			return nil
		})
	})
	return out, err
}

func (w *BoltWarehouse) ListLinksByTo(networkID int64, toAddress string) ([]Link, error) {
	var out []Link
	err := w.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLinks).ForEach(func(_, v []byte) error {
			var l Link
			if err := json.Unmarshal(v, &l); err != nil {
				return err
			}
			if l.NetworkID == networkID && l.ToAddress == toAddress {
				out = append(out, l)
			}
			return nil
		})
	})
	return out, err
}

func (w *BoltWarehouse) ListLinksByNetwork(networkID int64) ([]Link, error) {
	var out []Link
	err := w.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLinks).ForEach(func(_, v []byte) error {
			var l Link
			if err := json.Unmarshal(v, &l); err != nil {
				return err
			}
			if l.NetworkID == networkID {
				out = append(out, l)
			}
			return nil
		})
	})
	return out, err
}

// Balances computes the materialized balances view by summing amount_in -
// amount_out per (network, address, asset), surfacing only non-negative
// totals, exactly as spec.md §3 describes.
func (w *BoltWarehouse) Balances(networkID int64, address string) ([]Balance, error) {
	type key struct{ asset string }
	ins := make(map[string]amount.U256)
	outs := make(map[string]amount.U256)

	err := w.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAmounts).ForEach(func(_, v []byte) error {
			var a Amount
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if a.NetworkID != networkID || a.Address != address {
				return nil
			}
			ins[a.AssetAddress] = ins[a.AssetAddress].Add(a.AmountIn)
			outs[a.AssetAddress] = outs[a.AssetAddress].Add(a.AmountOut)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	out := make([]Balance, 0, len(ins))
	for asset, in := range ins {
		total, ok := in.Sub(outs[asset])
		if !ok || total.IsZero() {
			continue
		}
		out = append(out, Balance{NetworkID: networkID, Address: address, AssetAddress: asset, Total: total.String()})
	}
	return out, nil
}

func (w *BoltWarehouse) DeleteAllByNetworkID(networkID int64) error {
	return w.db.Update(func(tx *bolt.Tx) error {
		if err := deleteWhere(tx, bucketTransfers, func(v []byte) (bool, error) {
			var t Transfer
			if err := json.Unmarshal(v, &t); err != nil {
				return false, err
			}
			return t.NetworkID == networkID, nil
		}); err != nil {
			return err
		}
		if err := deleteWhere(tx, bucketAmounts, func(v []byte) (bool, error) {
			var a Amount
			if err := json.Unmarshal(v, &a); err != nil {
				return false, err
			}
			return a.NetworkID == networkID, nil
		}); err != nil {
			return err
		}
		return deleteWhere(tx, bucketLinks, func(v []byte) (bool, error) {
			var l Link
			if err := json.Unmarshal(v, &l); err != nil {
				return false, err
			}
			return l.NetworkID == networkID, nil
		})
	})
}

func (w *BoltWarehouse) DeleteAllBySources(networkID int64, addresses []string) error {
	set := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		set[a] = struct{}{}
	}
	return w.db.Update(func(tx *bolt.Tx) error {
		return deleteWhere(tx, bucketLinks, func(v []byte) (bool, error) {
			var l Link
			if err := json.Unmarshal(v, &l); err != nil {
				return false, err
			}
			if l.NetworkID != networkID {
				return false, nil
			}
			_, isSource := set[l.FromAddress]
			return isSource, nil
		})
	})
}

func (w *BoltWarehouse) DeleteLink(networkID int64, fromAddress, toAddress string) error {
	return w.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLinks).Delete([]byte(linkKey(networkID, fromAddress, toAddress)))
	})
}

func deleteWhere(tx *bolt.Tx, bucket []byte, match func(v []byte) (bool, error)) error {
	b := tx.Bucket(bucket)
	var toDelete [][]byte
	err := b.ForEach(func(k, v []byte) error {
		ok, err := match(v)
		if err != nil {
			return err
		}
		if ok {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range toDelete {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
