package catalog

import "time"

// ConfigValue is a decoded Config row: the stored value plus its timestamps,
// needed by the Leader's optimistic CAS and by round-trip callers.
type ConfigValue struct {
	Raw       string // JSON-encoded value, as persisted
	UpdatedAt time.Time
	CreatedAt time.Time
}

// Catalog is the durable relational store described in spec.md §3/§4.6.
// It owns Network/Entity/Address/Token/Tag/APIKey rows and the Config
// key/value marker namespace used as cursors and barriers by every stage.
type Catalog interface {
	// Networks
	CreateNetwork(n *Network) error
	GetNetwork(id string) (*Network, error)
	GetNetworkByChainID(arch Architecture, chainID string) (*Network, error)
	ListNetworks(includeDeleted bool) ([]*Network, error)
	UpdateNetwork(n *Network) error
	SoftDeleteNetwork(id string) error
	HardDeleteNetwork(id string) error

	// Entities
	CreateEntity(e *Entity) error
	GetEntity(id string) (*Entity, error)
	ListEntities(includeDeleted bool) ([]*Entity, error)
	UpdateEntity(e *Entity) error
	SoftDeleteEntity(id string) error
	HardDeleteEntity(id string) error

	// Tags
	CreateTag(t *Tag) error
	GetTag(id string) (*Tag, error)
	ListTags() ([]*Tag, error)

	// Addresses
	CreateAddress(a *Address) error
	GetAddress(id string) (*Address, error)
	FindAddress(networkID, address string) (*Address, error)
	ListAddresses(networkID string, includeDeleted bool) ([]*Address, error)
	ListAddressesByEntity(entityID string) ([]*Address, error)
	SoftDeleteAddress(id string) error
	HardDeleteAddress(id string) error
	// IsAddressDeleted reports true if the address row itself is soft-deleted
	// or if it belongs to a soft-deleted entity (cascade rule, spec.md §3).
	IsAddressDeleted(id string) (bool, error)

	// Tokens
	CreateToken(t *Token) error
	GetToken(networkID, address string) (*Token, error)
	ListTokens(networkID string) ([]*Token, error)

	// API keys
	CreateAPIKey(k *APIKey) error
	ListAPIKeys() ([]*APIKey, error)
	FindAPIKeyByHash(hash string) (*APIKey, error)

	// Config markers
	ConfigSet(key ConfigKey, value any) error
	ConfigSetWhere(key ConfigKey, value any, whereValue any, whereUpdatedAt time.Time) (bool, error)
	ConfigSetMany(values map[ConfigKey]any) error
	ConfigGet(key ConfigKey, out any) (*ConfigValue, error)
	ConfigGetMany(keys []ConfigKey) (map[ConfigKey]ConfigValue, error)
	ConfigDelete(key ConfigKey) error
	ConfigDeleteMany(keys []ConfigKey) error
	ConfigDeleteAllByKeywords(keywords []string) error

	Close() error
}
