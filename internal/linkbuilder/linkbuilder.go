// Package linkbuilder implements the Link stage: deriving transitive
// address-to-address chains from committed transfers, grounded on
// spec.md §4.5 and on common/src/models/warehouse/link.rs's
// get_all_disinct_by_addresses (shortest-chain-per-endpoint selection) and
// delete_all_by_newly_added_addresses (UUID-keyed invalidation). The
// network-wide scan-cursor key this package drives the loop with has no
// analogue in link.rs (the reference calls these query/invalidation
// functions directly from the API handler and from address-creation,
// rather than from a scheduled background pass) — see DESIGN.md.
package linkbuilder

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/barreleye/barreleye/internal/catalog"
	"github.com/barreleye/barreleye/internal/log"
	"github.com/barreleye/barreleye/internal/metrics"
	"github.com/barreleye/barreleye/internal/warehouse"
)

// linkTailAddressID is the sentinel AddressID under which LinkBuilder
// stores its network-wide transfer-scan cursor (indexer_link_n{nid}_a0),
// driving extendChains/invalidateNewlyAdded on a schedule rather than at
// read/write time as the reference does (see package doc).
const linkTailAddressID = 0

// LinkBuilder runs the per-network chain-extension and invalidation loop.
type LinkBuilder struct {
	catalog   catalog.Catalog
	warehouse warehouse.Warehouse
}

func New(cat catalog.Catalog, wh warehouse.Warehouse) *LinkBuilder {
	return &LinkBuilder{catalog: cat, warehouse: wh}
}

// RunNetwork drives one network's Link stage until ctx is cancelled — one
// goroutine per network, matching the Sync/Process stage topology per
// SPEC_FULL.md §6.5.
func (lb *LinkBuilder) RunNetwork(ctx context.Context, networkID int64, blockTimeMS int64, leader interface{ IsLeading() bool }) {
	logger := log.WithStage("link")
	interval := time.Duration(blockTimeMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if !leader.IsLeading() {
			if sleepOrDone(ctx, time.Second) {
				return
			}
			continue
		}

		label := strconv.FormatInt(networkID, 10)
		timer := metrics.NewTimer()

		if err := lb.invalidateNewlyAdded(networkID); err != nil {
			logger.Error().Err(err).Int64("network_id", networkID).Msg("link: invalidation failed")
		}
		if err := lb.extendChains(networkID); err != nil {
			logger.Error().Err(err).Int64("network_id", networkID).Msg("link: extension failed")
		}

		timer.ObserveDurationVec(metrics.LinkPassDuration, label)
		if count, err := lb.warehouse.ListLinksByNetwork(networkID); err == nil {
			metrics.LinkChainsTotal.WithLabelValues(label).Set(float64(len(count)))
		}

		if sleepOrDone(ctx, interval) {
			return
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return true
	case <-time.After(d):
		return false
	}
}

// extendChains scans transfers committed since the last link-stage cursor
// up to the current process tail, extending any existing link whose
// to_address matches a transfer's from_address, and seeding a fresh
// 1-hop link for every transfer — keeping only the shortest chain per
// (network, from, to), matching the "DISTINCT ON (network, from_address)
// ORDER BY length ASC" read-time selection rule from spec.md §4.5.
func (lb *LinkBuilder) extendChains(networkID int64) error {
	var processTail uint64
	if _, err := lb.catalog.ConfigGet(catalog.KeyIndexerProcessTailKey(networkID), &processTail); err != nil {
		return err
	}
	if processTail == 0 {
		return nil
	}

	tailKey := catalog.KeyIndexerLinkKey(networkID, linkTailAddressID)
	var lastTail uint64
	if _, err := lb.catalog.ConfigGet(tailKey, &lastTail); err != nil {
		return err
	}
	if lastTail >= processTail {
		return nil
	}

	transfers, err := lb.warehouse.ListTransfers(networkID, lastTail, processTail)
	if err != nil {
		return err
	}
	if len(transfers) == 0 {
		return lb.catalog.ConfigSet(tailKey, processTail)
	}

	endingAt := make(map[string]warehouse.Link)
	for _, t := range transfers {
		existing, err := lb.warehouse.ListLinksByTo(networkID, t.FromAddress)
		if err != nil {
			return err
		}
		shortest := shortestLink(existing)
		if shortest != nil {
			endingAt[t.FromAddress] = *shortest
		}
	}

	var toWrite []warehouse.Link
	for _, t := range transfers {
		candidate := warehouse.Link{
			NetworkID:     networkID,
			BlockHeight:   t.BlockHeight,
			FromAddress:   t.FromAddress,
			ToAddress:     t.ToAddress,
			TransferUUIDs: []uuid.UUID{t.UUID},
			CreatedAt:     t.CreatedAt,
		}
		toWrite = append(toWrite, shorterOf(candidate, lb.currentLink(networkID, candidate.FromAddress, candidate.ToAddress)))

		if prefix, ok := endingAt[t.FromAddress]; ok {
			extended := warehouse.Link{
				NetworkID:     networkID,
				BlockHeight:   t.BlockHeight,
				FromAddress:   prefix.FromAddress,
				ToAddress:     t.ToAddress,
				TransferUUIDs: append(append([]uuid.UUID{}, prefix.TransferUUIDs...), t.UUID),
				CreatedAt:     t.CreatedAt,
			}
			if extended.FromAddress != extended.ToAddress {
				toWrite = append(toWrite, shorterOf(extended, lb.currentLink(networkID, extended.FromAddress, extended.ToAddress)))
			}
		}
	}

	if err := lb.warehouse.InsertLinks(toWrite); err != nil {
		return err
	}
	return lb.catalog.ConfigSet(tailKey, processTail)
}

func (lb *LinkBuilder) currentLink(networkID int64, from, to string) *warehouse.Link {
	links, err := lb.warehouse.ListLinksByFrom(networkID, from)
	if err != nil {
		return nil
	}
	for _, l := range links {
		if l.ToAddress == to {
			cp := l
			return &cp
		}
	}
	return nil
}

func shorterOf(candidate warehouse.Link, existing *warehouse.Link) warehouse.Link {
	if existing == nil || len(candidate.TransferUUIDs) < len(existing.TransferUUIDs) {
		return candidate
	}
	return *existing
}

func shortestLink(links []warehouse.Link) *warehouse.Link {
	var best *warehouse.Link
	for i := range links {
		if best == nil || len(links[i].TransferUUIDs) < len(best.TransferUUIDs) {
			best = &links[i]
		}
	}
	return best
}

// invalidateNewlyAdded consumes newly_added_address_n{nid}_a{aid} markers
// written by the API server (spec.md §4.7), re-grounded on link.rs's
// delete_all_by_newly_added_addresses: for every link that lands on one of
// the newly-labeled addresses (its ToAddress is a target), the UUID of the
// transfer that performs that final hop identifies "the hop that arrives at
// a labeled entity". Any OTHER link whose transfer sequence contains that
// same UUID anywhere except as its first or last hop passes *through* the
// newly-labeled address partway along its chain, so it's broken — every
// upstream response should point at the closest labeled entity, not a more
// distant one reached by chaining through it.
func (lb *LinkBuilder) invalidateNewlyAdded(networkID int64) error {
	wildcard := catalog.KeyNewlyAddedAddressKey(networkID, 0)
	markers, err := lb.catalog.ConfigGetMany([]catalog.ConfigKey{wildcard})
	if err != nil {
		return err
	}
	if len(markers) == 0 {
		return nil
	}

	addresses := make(map[string]bool, len(markers))
	keys := make([]catalog.ConfigKey, 0, len(markers))
	for key, val := range markers {
		var address string
		if err := decodeConfigValue(val.Raw, &address); err != nil {
			return err
		}
		addresses[address] = true
		keys = append(keys, key)
	}

	links, err := lb.warehouse.ListLinksByNetwork(networkID)
	if err != nil {
		return err
	}

	landingHops := make(map[uuid.UUID]bool)
	for _, l := range links {
		if addresses[l.ToAddress] && len(l.TransferUUIDs) > 0 {
			landingHops[l.TransferUUIDs[len(l.TransferUUIDs)-1]] = true
		}
	}

	for _, l := range links {
		if len(l.TransferUUIDs) <= 2 {
			continue
		}
		middle := l.TransferUUIDs[1 : len(l.TransferUUIDs)-1]
		passesThrough := false
		for _, hop := range middle {
			if landingHops[hop] {
				passesThrough = true
				break
			}
		}
		if passesThrough {
			if err := lb.warehouse.DeleteLink(networkID, l.FromAddress, l.ToAddress); err != nil {
				return err
			}
		}
	}

	return lb.catalog.ConfigDeleteMany(keys)
}

func decodeConfigValue(raw string, out any) error {
	return json.Unmarshal([]byte(raw), out)
}
