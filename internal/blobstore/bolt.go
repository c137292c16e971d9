package blobstore

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	bolt "go.etcd.io/bbolt"
)

var bucketPartitions = []byte("partitions")

// BoltBlobStore implements BlobStore on an embedded bbolt database. Path
// convention follows spec.md §6.3: keys are rendered as
// "network_id={nid}/block_height={h}" (h zero-padded to 20 digits) even
// though there is no real
// filesystem underneath, so the key layout is identical to what an
// object-store-backed driver would use.
type BoltBlobStore struct {
	db *bolt.DB
}

func NewBoltBlobStore(dataDir string) (*BoltBlobStore, error) {
	path := filepath.Join(dataDir, "blobstore.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open blobstore db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPartitions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltBlobStore{db: db}, nil
}

func (s *BoltBlobStore) Close() error { return s.db.Close() }

func partitionKey(networkID int64, height uint64) []byte {
	return []byte(fmt.Sprintf("network_id=%d/block_height=%020d", networkID, height))
}

func parsePartitionKey(key string) (networkID int64, height uint64, err error) {
	parts := strings.SplitN(key, "/", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed partition key %q", key)
	}
	nidStr := strings.TrimPrefix(parts[0], "network_id=")
	hStr := strings.TrimPrefix(parts[1], "block_height=")
	nid, err := strconv.ParseInt(nidStr, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	h, err := strconv.ParseUint(hStr, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return nid, h, nil
}

func (s *BoltBlobStore) Put(networkID int64, height uint64, partition Partition) error {
	data, err := json.Marshal(partition)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPartitions).Put(partitionKey(networkID, height), data)
	})
}

func (s *BoltBlobStore) Get(networkID int64, height uint64) (Partition, error) {
	var partition Partition
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPartitions).Get(partitionKey(networkID, height))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &partition)
	})
	return partition, err
}

func (s *BoltBlobStore) Has(networkID int64, height uint64) (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketPartitions).Get(partitionKey(networkID, height)) != nil
		return nil
	})
	return found, err
}

func (s *BoltBlobStore) DeleteRange(networkID int64, from, to uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPartitions)
		cur := b.Cursor()
		prefix := []byte(fmt.Sprintf("network_id=%d/", networkID))
		var toDelete [][]byte
		for k, _ := cur.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = cur.Next() {
			_, h, err := parsePartitionKey(string(k))
			if err != nil {
				return err
			}
			if h >= from && h < to {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltBlobStore) DeleteNetwork(networkID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPartitions)
		cur := b.Cursor()
		prefix := []byte(fmt.Sprintf("network_id=%d/", networkID))
		var toDelete [][]byte
		for k, _ := cur.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = cur.Next() {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
