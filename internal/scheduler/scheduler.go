// Package scheduler runs the per-network Sync and Process stages, grounded
// on indexer/src/sync.rs and indexer/src/process.rs.
package scheduler

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/barreleye/barreleye/internal/apperr"
	"github.com/barreleye/barreleye/internal/blobstore"
	"github.com/barreleye/barreleye/internal/catalog"
	"github.com/barreleye/barreleye/internal/chain"
	"github.com/barreleye/barreleye/internal/chain/account"
	"github.com/barreleye/barreleye/internal/chain/utxo"
	"github.com/barreleye/barreleye/internal/linkbuilder"
	"github.com/barreleye/barreleye/internal/log"
	"github.com/barreleye/barreleye/internal/warehouse"
)

// LeaderElector is the subset of internal/leader.Leader the scheduler
// depends on, kept as an interface to avoid a leader<->scheduler import
// cycle (leader itself has no scheduler dependency).
type LeaderElector interface {
	IsLeading() bool
}

// Runtime bundles a connected chain.Adapter with its catalog record. One
// exists per active network.
type Runtime struct {
	Network catalog.Network
	Adapter chain.Adapter
}

// Scheduler owns the Sync, Process and Link stage loops across every
// configured network, restarting them whenever the network set changes, mirroring
// Indexer::sync/Indexer::process's `networks_updated` watch channel.
type Scheduler struct {
	catalog     catalog.Catalog
	warehouse   warehouse.Warehouse
	blobstore   blobstore.BlobStore
	leader      LeaderElector
	linkBuilder *linkbuilder.LinkBuilder
	cpuCount    int

	mu              sync.RWMutex
	networks        map[int64]*Runtime
	networksUpdated chan struct{}
}

func New(cat catalog.Catalog, wh warehouse.Warehouse, bs blobstore.BlobStore, elector LeaderElector) *Scheduler {
	cpu := runtime.NumCPU() - 1
	if cpu < 1 {
		cpu = 1
	}
	return &Scheduler{
		catalog:         cat,
		warehouse:       wh,
		blobstore:       bs,
		leader:          elector,
		linkBuilder:     linkbuilder.New(cat, wh),
		cpuCount:        cpu,
		networks:        make(map[int64]*Runtime),
		networksUpdated: make(chan struct{}, 1),
	}
}

// NotifyNetworksUpdated wakes both stage loops to re-read the network list,
// mirroring the `networks_updated: watch::Receiver<SystemTime>` parameter.
func (s *Scheduler) NotifyNetworksUpdated() {
	select {
	case s.networksUpdated <- struct{}{}:
	default:
	}
}

// ConnectNetworks (re)builds the adapter set from the catalog, connecting
// every non-deleted network not already connected — Indexer::connect_networks.
func (s *Scheduler) ConnectNetworks(ctx context.Context, force bool) error {
	networks, err := s.catalog.ListNetworks(false)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int64]bool, len(networks))
	for _, n := range networks {
		seen[n.Ordinal] = true

		if existing, ok := s.networks[n.Ordinal]; ok && !force {
			existing.Network = *n
			continue
		}

		adapter := newAdapter(*n)
		connected, err := adapter.Connect(ctx)
		if err != nil {
			log.WithNetwork(n.PublicID).Error().Err(&apperr.ConnectionError{Service: n.Name, URL: n.RPCEndpoint}).Str("cause", err.Error()).Msg("failed to connect network")
			continue
		}
		if !connected {
			continue
		}
		s.networks[n.Ordinal] = &Runtime{Network: *n, Adapter: adapter}
	}

	for ordinal := range s.networks {
		if !seen[ordinal] {
			delete(s.networks, ordinal)
		}
	}

	return nil
}

func newAdapter(n catalog.Network) chain.Adapter {
	if n.Architecture == catalog.ArchitectureUTXO {
		return utxo.NewAdapter(n)
	}
	return account.NewAdapter(n)
}

// ShouldReconnect reports true when any tracked network isn't connected,
// mirroring App::should_reconnect.
func (s *Scheduler) ShouldReconnect() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rt := range s.networks {
		if !rt.Adapter.IsConnected() {
			return true
		}
	}
	return false
}

func (s *Scheduler) snapshotNetworks() map[int64]*Runtime {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]*Runtime, len(s.networks))
	for k, v := range s.networks {
		out[k] = v
	}
	return out
}

// getBlockChunkRanges splits [0, tip) into cpuCount contiguous ranges for
// parallel backfill (New sets cpuCount to NumCPU-1), mirroring
// get_block_chunk_ranges. It returns no ranges when cpuCount <= 1.
func (s *Scheduler) getBlockChunkRanges(tip uint64) [][2]uint64 {
	if tip == 0 || s.cpuCount <= 1 {
		return nil
	}
	parts := s.cpuCount
	chunkSize := tip / uint64(parts)
	if chunkSize == 0 {
		return nil
	}

	var ranges [][2]uint64
	var start uint64
	for i := 0; i < parts; i++ {
		end := start + chunkSize
		if i == parts-1 || end > tip {
			end = tip
		}
		if start < end {
			ranges = append(ranges, [2]uint64{start, end})
		}
		start = end
	}
	return ranges
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return true
	case <-time.After(d):
		return false
	}
}

// networkWorkers tracks the running Sync/Process/Link goroutines for one
// network so Run can cancel and restart them when the network set changes.
type networkWorkers struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Run is the top-level loop: it connects networks, launches one Sync loop,
// one Process loop and one link-builder loop per active network, and restarts workers whenever
// NotifyNetworksUpdated fires or a periodic reconnect check finds a
// disconnected adapter — mirroring App::run's top-level select loop over
// networks_updated and a reconnect ticker.
func (s *Scheduler) Run(ctx context.Context) error {
	const reconnectInterval = 15 * time.Second

	if err := s.ConnectNetworks(ctx, false); err != nil {
		return &apperr.IndexingError{Err: err}
	}

	workers := make(map[int64]*networkWorkers)
	restart := func() {
		for id, w := range workers {
			w.cancel()
			<-w.done
			delete(workers, id)
		}
		for id, rt := range s.snapshotNetworks() {
			wctx, cancel := context.WithCancel(ctx)
			done := make(chan struct{})
			workers[id] = &networkWorkers{cancel: cancel, done: done}

			networkID, network := id, rt.Network
			go func() {
				defer close(done)
				var wg sync.WaitGroup
				wg.Add(3)
				go func() {
					defer wg.Done()
					s.RunSync(wctx, networkID)
				}()
				go func() {
					defer wg.Done()
					s.RunProcess(wctx, networkID)
				}()
				go func() {
					defer wg.Done()
					s.linkBuilder.RunNetwork(wctx, networkID, network.BlockTimeMS, s.leader)
				}()
				wg.Wait()
			}()
			log.WithNetwork(network.PublicID).Info().Msg("scheduler: network workers started")
		}
	}

	restart()
	defer func() {
		for _, w := range workers {
			w.cancel()
			<-w.done
		}
	}()

	ticker := time.NewTicker(reconnectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.networksUpdated:
			if err := s.ConnectNetworks(ctx, false); err != nil {
				log.Error("scheduler: reconnect after network update failed")
			}
			restart()
		case <-ticker.C:
			if s.ShouldReconnect() {
				if err := s.ConnectNetworks(ctx, true); err != nil {
					log.Error("scheduler: periodic reconnect failed")
				}
				restart()
			}
		}
	}
}
