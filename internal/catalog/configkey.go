package catalog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ConfigKeyKind identifies which template a ConfigKey was built from.
type ConfigKeyKind int

const (
	KeyPrimary ConfigKeyKind = iota
	KeyNetworksUpdated
	KeyBlockHeight
	KeyIndexerSyncTail
	KeyIndexerSyncChunk
	KeyIndexerSyncProgress
	KeyIndexerProcessTail
	KeyIndexerProcessChunk
	KeyIndexerProcessModule
	KeyIndexerProcessModuleDone
	KeyIndexerProcessProgress
	KeyIndexerLink
	KeyNewlyAddedAddress
)

// ConfigKey is a typed, textual config key. Numeric fields are zero when a
// template does not use them. Textual encoding and decoding are symmetric:
// ConfigKey{...}.String() always round-trips through ParseConfigKey.
//
// Field order per kind mirrors the templates below:
//
//	primary
//	networks_updated
//	block_height_n{NetworkID}
//	indexer_sync_tail_n{NetworkID}
//	indexer_sync_chunk_n{NetworkID}_b{Max}
//	indexer_sync_progress_n{NetworkID}
//	indexer_process_tail_n{NetworkID}
//	indexer_process_chunk_n{NetworkID}_b{Max}
//	indexer_process_module_n{NetworkID}_m{ModuleID}
//	indexer_process_module_done_n{NetworkID}_m{ModuleID}
//	indexer_process_progress_n{NetworkID}
//	indexer_link_n{NetworkID}_a{AddressID}
//	newly_added_address_n{NetworkID}_a{AddressID}
type ConfigKey struct {
	Kind      ConfigKeyKind
	NetworkID int64
	Max       int64 // chunk upper bound (block height)
	ModuleID  int64
	AddressID int64
}

func KeyPrimaryKey() ConfigKey { return ConfigKey{Kind: KeyPrimary} }

func KeyNetworksUpdatedKey() ConfigKey { return ConfigKey{Kind: KeyNetworksUpdated} }

func KeyBlockHeightKey(networkID int64) ConfigKey {
	return ConfigKey{Kind: KeyBlockHeight, NetworkID: networkID}
}

func KeyIndexerSyncTailKey(networkID int64) ConfigKey {
	return ConfigKey{Kind: KeyIndexerSyncTail, NetworkID: networkID}
}

func KeyIndexerSyncChunkKey(networkID, max int64) ConfigKey {
	return ConfigKey{Kind: KeyIndexerSyncChunk, NetworkID: networkID, Max: max}
}

func KeyIndexerSyncProgressKey(networkID int64) ConfigKey {
	return ConfigKey{Kind: KeyIndexerSyncProgress, NetworkID: networkID}
}

func KeyIndexerProcessTailKey(networkID int64) ConfigKey {
	return ConfigKey{Kind: KeyIndexerProcessTail, NetworkID: networkID}
}

func KeyIndexerProcessChunkKey(networkID, max int64) ConfigKey {
	return ConfigKey{Kind: KeyIndexerProcessChunk, NetworkID: networkID, Max: max}
}

func KeyIndexerProcessModuleKey(networkID, moduleID int64) ConfigKey {
	return ConfigKey{Kind: KeyIndexerProcessModule, NetworkID: networkID, ModuleID: moduleID}
}

func KeyIndexerProcessModuleDoneKey(networkID, moduleID int64) ConfigKey {
	return ConfigKey{Kind: KeyIndexerProcessModuleDone, NetworkID: networkID, ModuleID: moduleID}
}

func KeyIndexerProcessProgressKey(networkID int64) ConfigKey {
	return ConfigKey{Kind: KeyIndexerProcessProgress, NetworkID: networkID}
}

func KeyIndexerLinkKey(networkID, addressID int64) ConfigKey {
	return ConfigKey{Kind: KeyIndexerLink, NetworkID: networkID, AddressID: addressID}
}

func KeyNewlyAddedAddressKey(networkID, addressID int64) ConfigKey {
	return ConfigKey{Kind: KeyNewlyAddedAddress, NetworkID: networkID, AddressID: addressID}
}

// String renders the key using its template, identical in shape to the
// reference implementation's derive(Display) templates.
func (k ConfigKey) String() string {
	switch k.Kind {
	case KeyPrimary:
		return "primary"
	case KeyNetworksUpdated:
		return "networks_updated"
	case KeyBlockHeight:
		return fmt.Sprintf("block_height_n%d", k.NetworkID)
	case KeyIndexerSyncTail:
		return fmt.Sprintf("indexer_sync_tail_n%d", k.NetworkID)
	case KeyIndexerSyncChunk:
		return fmt.Sprintf("indexer_sync_chunk_n%d_b%d", k.NetworkID, k.Max)
	case KeyIndexerSyncProgress:
		return fmt.Sprintf("indexer_sync_progress_n%d", k.NetworkID)
	case KeyIndexerProcessTail:
		return fmt.Sprintf("indexer_process_tail_n%d", k.NetworkID)
	case KeyIndexerProcessChunk:
		return fmt.Sprintf("indexer_process_chunk_n%d_b%d", k.NetworkID, k.Max)
	case KeyIndexerProcessModule:
		return fmt.Sprintf("indexer_process_module_n%d_m%d", k.NetworkID, k.ModuleID)
	case KeyIndexerProcessModuleDone:
		return fmt.Sprintf("indexer_process_module_done_n%d_m%d", k.NetworkID, k.ModuleID)
	case KeyIndexerProcessProgress:
		return fmt.Sprintf("indexer_process_progress_n%d", k.NetworkID)
	case KeyIndexerLink:
		return fmt.Sprintf("indexer_link_n%d_a%d", k.NetworkID, k.AddressID)
	case KeyNewlyAddedAddress:
		return fmt.Sprintf("newly_added_address_n%d_a%d", k.NetworkID, k.AddressID)
	default:
		panic(fmt.Sprintf("unknown ConfigKeyKind %d", k.Kind))
	}
}

var digitsRe = regexp.MustCompile(`\d+`)

// ParseConfigKey decodes a textual config key back into its typed form. It
// replaces every run of digits with a placeholder to recover the template,
// then re-threads the extracted integers into the matching kind's fields —
// the same two-pass strategy the reference implementation's regex-based
// From<String> impl uses.
func ParseConfigKey(s string) (ConfigKey, error) {
	template := digitsRe.ReplaceAllString(s, "{}")
	nums := digitsRe.FindAllString(s, -1)
	ints := make([]int64, len(nums))
	for i, n := range nums {
		v, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return ConfigKey{}, fmt.Errorf("parse config key %q: %w", s, err)
		}
		ints[i] = v
	}

	switch template {
	case "primary":
		return KeyPrimaryKey(), nil
	case "networks_updated":
		return KeyNetworksUpdatedKey(), nil
	case "block_height_n{}":
		if len(ints) != 1 {
			break
		}
		return KeyBlockHeightKey(ints[0]), nil
	case "indexer_sync_tail_n{}":
		if len(ints) != 1 {
			break
		}
		return KeyIndexerSyncTailKey(ints[0]), nil
	case "indexer_sync_chunk_n{}_b{}":
		if len(ints) != 2 {
			break
		}
		return KeyIndexerSyncChunkKey(ints[0], ints[1]), nil
	case "indexer_sync_progress_n{}":
		if len(ints) != 1 {
			break
		}
		return KeyIndexerSyncProgressKey(ints[0]), nil
	case "indexer_process_tail_n{}":
		if len(ints) != 1 {
			break
		}
		return KeyIndexerProcessTailKey(ints[0]), nil
	case "indexer_process_chunk_n{}_b{}":
		if len(ints) != 2 {
			break
		}
		return KeyIndexerProcessChunkKey(ints[0], ints[1]), nil
	case "indexer_process_module_n{}_m{}":
		if len(ints) != 2 {
			break
		}
		return KeyIndexerProcessModuleKey(ints[0], ints[1]), nil
	case "indexer_process_module_done_n{}_m{}":
		if len(ints) != 2 {
			break
		}
		return KeyIndexerProcessModuleDoneKey(ints[0], ints[1]), nil
	case "indexer_process_progress_n{}":
		if len(ints) != 1 {
			break
		}
		return KeyIndexerProcessProgressKey(ints[0]), nil
	case "indexer_link_n{}_a{}":
		if len(ints) != 2 {
			break
		}
		return KeyIndexerLinkKey(ints[0], ints[1]), nil
	case "newly_added_address_n{}_a{}":
		if len(ints) != 2 {
			break
		}
		return KeyNewlyAddedAddressKey(ints[0], ints[1]), nil
	}
	return ConfigKey{}, fmt.Errorf("no match for config key %q", s)
}

// wildcardOnZeros rewrites a key string so that any "_<letter>0" numeric
// segment becomes a prefix-match placeholder, mirroring the reference
// implementation's adjust_filter regex (`_([a-z])0` -> `_$1%`). The bbolt
// store turns the resulting pattern into a prefix scan by truncating at the
// first wildcard marker, since bbolt has no LIKE operator to reuse.
func wildcardOnZeros(key string) (prefix string, wildcard bool) {
	re := regexp.MustCompile(`_([a-z])0`)
	if !re.MatchString(key) {
		return key, false
	}
	loc := re.FindStringIndex(key)
	letter := key[loc[0]+1 : loc[0]+2]
	return key[:loc[0]] + "_" + letter, true
}

// matchesKeyword mirrors get_keyword_conditions: a key matches a keyword
// substring search if the keyword appears as a "_<keyword>_" or "_<keyword>"
// (trailing) segment.
func matchesKeyword(key, keyword string) bool {
	return strings.Contains(key, "_"+keyword+"_") || strings.HasSuffix(key, "_"+keyword)
}
