package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketNetworks = []byte("networks")
	bucketEntities = []byte("entities")
	bucketTags     = []byte("tags")
	bucketAddresses = []byte("addresses")
	bucketTokens   = []byte("tokens")
	bucketAPIKeys  = []byte("api_keys")
	bucketConfig   = []byte("config")
)

// BoltCatalog implements Catalog on top of an embedded bbolt database,
// grounded on the teacher's pkg/storage/boltdb.go bucket-per-entity idiom.
// It stands in for the SQLite/Postgres/MySQL drivers spec.md treats as
// abstract; see DESIGN.md for why no SQL driver ships in this repository.
type BoltCatalog struct {
	db *bolt.DB
}

// NewBoltCatalog opens (creating if absent) the catalog database under dataDir.
func NewBoltCatalog(dataDir string) (*BoltCatalog, error) {
	path := filepath.Join(dataDir, "catalog.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketNetworks, bucketEntities, bucketTags, bucketAddresses, bucketTokens, bucketAPIKeys, bucketConfig} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltCatalog{db: db}, nil
}

func (c *BoltCatalog) Close() error { return c.db.Close() }

func newID() string { return uuid.New().String() }

// --- Networks ---

func (c *BoltCatalog) CreateNetwork(n *Network) error {
	if n.ID == "" {
		n.ID = newID()
	}
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNetworks)
		if n.Ordinal == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			n.Ordinal = int64(seq)
		}
		data, err := json.Marshal(n)
		if err != nil {
			return err
		}
		return b.Put([]byte(n.ID), data)
	})
}

func (c *BoltCatalog) GetNetwork(id string) (*Network, error) {
	var n Network
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNetworks).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("network not found: %s", id)
		}
		return json.Unmarshal(data, &n)
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (c *BoltCatalog) GetNetworkByChainID(arch Architecture, chainID string) (*Network, error) {
	var found *Network
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNetworks).ForEach(func(_, v []byte) error {
			var n Network
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			if !n.IsDeleted && n.Architecture == arch && n.ChainID == chainID {
				found = &n
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("network not found: %s/%s", arch, chainID)
	}
	return found, nil
}

func (c *BoltCatalog) ListNetworks(includeDeleted bool) ([]*Network, error) {
	var out []*Network
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNetworks).ForEach(func(_, v []byte) error {
			var n Network
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			if includeDeleted || !n.IsDeleted {
				out = append(out, &n)
			}
			return nil
		})
	})
	return out, err
}

func (c *BoltCatalog) UpdateNetwork(n *Network) error {
	n.UpdatedAt = time.Now().UTC()
	return c.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(n)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketNetworks).Put([]byte(n.ID), data)
	})
}

func (c *BoltCatalog) SoftDeleteNetwork(id string) error {
	n, err := c.GetNetwork(id)
	if err != nil {
		return err
	}
	n.IsDeleted = true
	return c.UpdateNetwork(n)
}

func (c *BoltCatalog) HardDeleteNetwork(id string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNetworks).Delete([]byte(id))
	})
}

// --- Entities ---

func (c *BoltCatalog) CreateEntity(e *Entity) error {
	if e.ID == "" {
		e.ID = newID()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	return c.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketEntities).Put([]byte(e.ID), data)
	})
}

func (c *BoltCatalog) GetEntity(id string) (*Entity, error) {
	var e Entity
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEntities).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("entity not found: %s", id)
		}
		return json.Unmarshal(data, &e)
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *BoltCatalog) ListEntities(includeDeleted bool) ([]*Entity, error) {
	var out []*Entity
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntities).ForEach(func(_, v []byte) error {
			var e Entity
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if includeDeleted || !e.IsDeleted {
				out = append(out, &e)
			}
			return nil
		})
	})
	return out, err
}

func (c *BoltCatalog) UpdateEntity(e *Entity) error {
	e.UpdatedAt = time.Now().UTC()
	return c.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketEntities).Put([]byte(e.ID), data)
	})
}

func (c *BoltCatalog) SoftDeleteEntity(id string) error {
	e, err := c.GetEntity(id)
	if err != nil {
		return err
	}
	e.IsDeleted = true
	return c.UpdateEntity(e)
}

func (c *BoltCatalog) HardDeleteEntity(id string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntities).Delete([]byte(id))
	})
}

// --- Tags ---

func (c *BoltCatalog) CreateTag(t *Tag) error {
	if t.ID == "" {
		t.ID = newID()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	return c.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTags).Put([]byte(t.ID), data)
	})
}

func (c *BoltCatalog) GetTag(id string) (*Tag, error) {
	var t Tag
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTags).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("tag not found: %s", id)
		}
		return json.Unmarshal(data, &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *BoltCatalog) ListTags() ([]*Tag, error) {
	var out []*Tag
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTags).ForEach(func(_, v []byte) error {
			var t Tag
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			out = append(out, &t)
			return nil
		})
	})
	return out, err
}

// --- Addresses ---

func (c *BoltCatalog) CreateAddress(a *Address) error {
	if a.ID == "" {
		a.ID = newID()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAddresses)
		if a.Ordinal == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			a.Ordinal = int64(seq)
		}
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		return b.Put([]byte(a.ID), data)
	})
}

func (c *BoltCatalog) GetAddress(id string) (*Address, error) {
	var a Address
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAddresses).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("address not found: %s", id)
		}
		return json.Unmarshal(data, &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *BoltCatalog) FindAddress(networkID, address string) (*Address, error) {
	var found *Address
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAddresses).ForEach(func(_, v []byte) error {
			var a Address
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if !a.IsDeleted && a.NetworkID == networkID && a.Address == address {
				found = &a
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("address not found: %s/%s", networkID, address)
	}
	return found, nil
}

func (c *BoltCatalog) ListAddresses(networkID string, includeDeleted bool) ([]*Address, error) {
	var out []*Address
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAddresses).ForEach(func(_, v []byte) error {
			var a Address
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if a.NetworkID == networkID && (includeDeleted || !a.IsDeleted) {
				out = append(out, &a)
			}
			return nil
		})
	})
	return out, err
}

func (c *BoltCatalog) ListAddressesByEntity(entityID string) ([]*Address, error) {
	var out []*Address
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAddresses).ForEach(func(_, v []byte) error {
			var a Address
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if a.EntityID == entityID {
				out = append(out, &a)
			}
			return nil
		})
	})
	return out, err
}

func (c *BoltCatalog) SoftDeleteAddress(id string) error {
	a, err := c.GetAddress(id)
	if err != nil {
		return err
	}
	a.IsDeleted = true
	a.UpdatedAt = time.Now().UTC()
	return c.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketAddresses).Put([]byte(a.ID), data)
	})
}

func (c *BoltCatalog) HardDeleteAddress(id string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAddresses).Delete([]byte(id))
	})
}

func (c *BoltCatalog) IsAddressDeleted(id string) (bool, error) {
	a, err := c.GetAddress(id)
	if err != nil {
		return false, err
	}
	if a.IsDeleted {
		return true, nil
	}
	e, err := c.GetEntity(a.EntityID)
	if err != nil {
		return false, err
	}
	return e.IsDeleted, nil
}

// --- Tokens ---

func (c *BoltCatalog) CreateToken(t *Token) error {
	if t.ID == "" {
		t.ID = newID()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	return c.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTokens).Put([]byte(t.ID), data)
	})
}

func (c *BoltCatalog) GetToken(networkID, address string) (*Token, error) {
	var found *Token
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTokens).ForEach(func(_, v []byte) error {
			var t Token
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.NetworkID == networkID && t.Address == address {
				found = &t
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("token not found: %s/%s", networkID, address)
	}
	return found, nil
}

func (c *BoltCatalog) ListTokens(networkID string) ([]*Token, error) {
	var out []*Token
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTokens).ForEach(func(_, v []byte) error {
			var t Token
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.NetworkID == networkID {
				out = append(out, &t)
			}
			return nil
		})
	})
	return out, err
}

// --- API keys ---

func (c *BoltCatalog) CreateAPIKey(k *APIKey) error {
	if k.ID == "" {
		k.ID = newID()
	}
	now := time.Now().UTC()
	if k.CreatedAt.IsZero() {
		k.CreatedAt = now
	}
	k.UpdatedAt = now
	return c.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(k)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketAPIKeys).Put([]byte(k.ID), data)
	})
}

func (c *BoltCatalog) ListAPIKeys() ([]*APIKey, error) {
	var out []*APIKey
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAPIKeys).ForEach(func(_, v []byte) error {
			var k APIKey
			if err := json.Unmarshal(v, &k); err != nil {
				return err
			}
			out = append(out, &k)
			return nil
		})
	})
	return out, err
}

func (c *BoltCatalog) FindAPIKeyByHash(hash string) (*APIKey, error) {
	var found *APIKey
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAPIKeys).ForEach(func(_, v []byte) error {
			var k APIKey
			if err := json.Unmarshal(v, &k); err != nil {
				return err
			}
			if k.SecretKeyHash == hash {
				found = &k
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("api key not found")
	}
	return found, nil
}

// HashAPIKeyPostfix mirrors the bearer-token auth rule in spec.md §6.2.
func HashAPIKeyPostfix(postfix string) string {
	sum := sha256.Sum256([]byte(postfix))
	return hex.EncodeToString(sum[:])
}

// --- Config markers ---

type configRow struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
	CreatedAt time.Time `json:"createdAt"`
}

func (c *BoltCatalog) ConfigSet(key ConfigKey, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConfig)
		k := []byte(key.String())
		existing := b.Get(k)
		createdAt := now
		if existing != nil {
			var row configRow
			if err := json.Unmarshal(existing, &row); err == nil {
				createdAt = row.CreatedAt
			}
		}
		row := configRow{Key: key.String(), Value: string(raw), UpdatedAt: now, CreatedAt: createdAt}
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return b.Put(k, data)
	})
}

// ConfigSetWhere performs an optimistic CAS: the update applies only if the
// stored value and updated_at both match whereValue/whereUpdatedAt, mirroring
// set_where's filter on (Column::Value, Column::UpdatedAt).
func (c *BoltCatalog) ConfigSetWhere(key ConfigKey, value any, whereValue any, whereUpdatedAt time.Time) (bool, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	whereRaw, err := json.Marshal(whereValue)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	applied := false
	err = c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConfig)
		k := []byte(key.String())
		existing := b.Get(k)
		if existing == nil {
			return nil
		}
		var row configRow
		if err := json.Unmarshal(existing, &row); err != nil {
			return err
		}
		if row.Value != string(whereRaw) || !row.UpdatedAt.Equal(whereUpdatedAt) {
			return nil
		}
		newRow := configRow{Key: key.String(), Value: string(raw), UpdatedAt: now, CreatedAt: row.CreatedAt}
		data, err := json.Marshal(newRow)
		if err != nil {
			return err
		}
		applied = true
		return b.Put(k, data)
	})
	return applied, err
}

func (c *BoltCatalog) ConfigSetMany(values map[ConfigKey]any) error {
	now := time.Now().UTC()
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConfig)
		for key, value := range values {
			raw, err := json.Marshal(value)
			if err != nil {
				return err
			}
			k := []byte(key.String())
			createdAt := now
			if existing := b.Get(k); existing != nil {
				var row configRow
				if err := json.Unmarshal(existing, &row); err == nil {
					createdAt = row.CreatedAt
				}
			}
			row := configRow{Key: key.String(), Value: string(raw), UpdatedAt: now, CreatedAt: createdAt}
			data, err := json.Marshal(row)
			if err != nil {
				return err
			}
			if err := b.Put(k, data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *BoltCatalog) ConfigGet(key ConfigKey, out any) (*ConfigValue, error) {
	var cv *ConfigValue
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketConfig).Get([]byte(key.String()))
		if data == nil {
			return nil
		}
		var row configRow
		if err := json.Unmarshal(data, &row); err != nil {
			return err
		}
		if out != nil {
			if err := json.Unmarshal([]byte(row.Value), out); err != nil {
				return err
			}
		}
		cv = &ConfigValue{Raw: row.Value, UpdatedAt: row.UpdatedAt, CreatedAt: row.CreatedAt}
		return nil
	})
	return cv, err
}

// ConfigGetMany performs a bulk lookup. Keys containing a zero-valued
// numbered field ("match on zeros") expand into a prefix scan over the
// config bucket; concrete keys are looked up directly.
func (c *BoltCatalog) ConfigGetMany(keys []ConfigKey) (map[ConfigKey]ConfigValue, error) {
	out := make(map[ConfigKey]ConfigValue)
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConfig)
		cur := b.Cursor()
		for _, key := range keys {
			keyStr := key.String()
			prefix, wildcard := wildcardOnZeros(keyStr)
			if !wildcard {
				data := b.Get([]byte(keyStr))
				if data == nil {
					continue
				}
				var row configRow
				if err := json.Unmarshal(data, &row); err != nil {
					return err
				}
				parsed, err := ParseConfigKey(row.Key)
				if err != nil {
					return err
				}
				out[parsed] = ConfigValue{Raw: row.Value, UpdatedAt: row.UpdatedAt, CreatedAt: row.CreatedAt}
				continue
			}
			prefixBytes := []byte(prefix)
			for k, v := cur.Seek(prefixBytes); k != nil && strings.HasPrefix(string(k), prefix); k, v = cur.Next() {
				var row configRow
				if err := json.Unmarshal(v, &row); err != nil {
					return err
				}
				parsed, err := ParseConfigKey(row.Key)
				if err != nil {
					return err
				}
				out[parsed] = ConfigValue{Raw: row.Value, UpdatedAt: row.UpdatedAt, CreatedAt: row.CreatedAt}
			}
		}
		return nil
	})
	return out, err
}

func (c *BoltCatalog) ConfigDelete(key ConfigKey) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConfig).Delete([]byte(key.String()))
	})
}

func (c *BoltCatalog) ConfigDeleteMany(keys []ConfigKey) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConfig)
		for _, key := range keys {
			if err := b.Delete([]byte(key.String())); err != nil {
				return err
			}
		}
		return nil
	})
}

// ConfigDeleteAllByKeywords removes every key containing any of the given
// keywords as a "_keyword_" or trailing "_keyword" segment — used by the
// Pruner to wipe every marker for a removed network or address.
func (c *BoltCatalog) ConfigDeleteAllByKeywords(keywords []string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConfig)
		var toDelete [][]byte
		err := b.ForEach(func(k, _ []byte) error {
			key := string(k)
			for _, kw := range keywords {
				if matchesKeyword(key, kw) {
					toDelete = append(toDelete, append([]byte(nil), k...))
					break
				}
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
	})
}
