// Package pruner implements the soft-delete cascade and sweep loop,
// grounded on indexer/src/lib.rs's `prune_data`.
package pruner

import (
	"context"
	"fmt"
	"time"

	"github.com/barreleye/barreleye/internal/catalog"
	"github.com/barreleye/barreleye/internal/log"
	"github.com/barreleye/barreleye/internal/metrics"
	"github.com/barreleye/barreleye/internal/warehouse"
)

// SweepInterval is how often Run invokes a full prune pass, mirroring
// `prune_data` being called at the top of `Indexer::start`'s outer loop.
const SweepInterval = 30 * time.Second

// Pruner owns the soft-delete cascade described in spec.md §4.7.
type Pruner struct {
	catalog   catalog.Catalog
	warehouse warehouse.Warehouse
}

func New(cat catalog.Catalog, wh warehouse.Warehouse) *Pruner {
	return &Pruner{catalog: cat, warehouse: wh}
}

// Run repeats PruneAll on SweepInterval until ctx is cancelled, following
// the teacher's ticker+select idiom (pkg/scheduler/scheduler.go).
func (p *Pruner) Run(ctx context.Context) {
	logger := log.WithComponent("pruner")
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	if err := p.PruneAll(); err != nil {
		logger.Error().Err(err).Msg("initial prune failed")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.PruneAll(); err != nil {
				logger.Error().Err(err).Msg("prune pass failed")
			}
		}
	}
}

// PruneAll performs one full pass: soft-deleted addresses, then entities,
// then networks, each cascading through Config and the Warehouse exactly
// as prune_data does, in the same order (addresses, entities, networks —
// a network's own address/warehouse rows are only removed when the
// network itself is pruned, so address pruning must run first).
func (p *Pruner) PruneAll() error {
	defer metrics.PrunerPassesTotal.Inc()

	if err := p.pruneAddresses(); err != nil {
		return err
	}
	if err := p.pruneEntities(); err != nil {
		return err
	}
	return p.pruneNetworks()
}

// pruneAddresses hard-deletes every soft-deleted address across every
// network: clears its indexer_link marker, removes the catalog row, and
// removes any warehouse link that names it as a chain source — ports the
// "prune all soft-deleted addresses" block of prune_data.
func (p *Pruner) pruneAddresses() error {
	networks, err := p.catalog.ListNetworks(true)
	if err != nil {
		return err
	}

	bySources := make(map[int64][]string)
	var configKeys []catalog.ConfigKey
	var toDelete []*catalog.Address

	for _, n := range networks {
		addrs, err := p.catalog.ListAddresses(n.ID, true)
		if err != nil {
			return err
		}
		for _, a := range addrs {
			if !a.IsDeleted {
				continue
			}
			toDelete = append(toDelete, a)
			configKeys = append(configKeys, catalog.KeyIndexerLinkKey(n.Ordinal, a.Ordinal))
			bySources[n.Ordinal] = append(bySources[n.Ordinal], a.Address)
		}
	}

	if len(toDelete) == 0 {
		return nil
	}

	if err := p.catalog.ConfigDeleteMany(configKeys); err != nil {
		return err
	}
	for _, a := range toDelete {
		if err := p.catalog.HardDeleteAddress(a.ID); err != nil {
			return err
		}
	}
	metrics.PrunerRowsDeletedTotal.WithLabelValues("addresses").Add(float64(len(toDelete)))
	for networkID, addresses := range bySources {
		if err := p.warehouse.DeleteAllBySources(networkID, addresses); err != nil {
			return err
		}
	}
	return nil
}

// pruneEntities hard-deletes every soft-deleted entity row — ports
// "prune all soft-deleted entities" (Entity::prune_all). Entities carry no
// Config markers or warehouse rows of their own; their addresses were
// already cascaded in pruneAddresses when soft-deleted alongside them.
func (p *Pruner) pruneEntities() error {
	entities, err := p.catalog.ListEntities(true)
	if err != nil {
		return err
	}
	var deleted int
	for _, e := range entities {
		if !e.IsDeleted {
			continue
		}
		if err := p.catalog.HardDeleteEntity(e.ID); err != nil {
			return err
		}
		deleted++
	}
	metrics.PrunerRowsDeletedTotal.WithLabelValues("entities").Add(float64(deleted))
	return nil
}

// pruneNetworks hard-deletes every soft-deleted network: clears every
// Config key carrying that network's `n{id}` segment, deletes all of the
// warehouse's rows for it, then removes the catalog row itself — ports
// "prune all soft-deleted networks".
func (p *Pruner) pruneNetworks() error {
	networks, err := p.catalog.ListNetworks(true)
	if err != nil {
		return err
	}

	var deleted []*catalog.Network
	var keywords []string
	for _, n := range networks {
		if !n.IsDeleted {
			continue
		}
		deleted = append(deleted, n)
		keywords = append(keywords, networkKeyword(n.Ordinal))
	}
	if len(deleted) == 0 {
		return nil
	}

	if err := p.catalog.ConfigDeleteAllByKeywords(keywords); err != nil {
		return err
	}

	for _, n := range deleted {
		if err := p.warehouse.DeleteAllByNetworkID(n.Ordinal); err != nil {
			return err
		}
	}
	for _, n := range deleted {
		if err := p.catalog.HardDeleteNetwork(n.ID); err != nil {
			return err
		}
	}
	metrics.PrunerRowsDeletedTotal.WithLabelValues("networks").Add(float64(len(deleted)))
	return nil
}

// networkKeyword mirrors prune_data's `format!("n{}", n.network_id)`
// keyword, matched against every Config key carrying that network's
// segment by ConfigDeleteAllByKeywords (see matchesKeyword in configkey.go).
func networkKeyword(ordinal int64) string {
	return fmt.Sprintf("n%d", ordinal)
}
