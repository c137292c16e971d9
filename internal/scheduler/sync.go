package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/barreleye/barreleye/internal/catalog"
	"github.com/barreleye/barreleye/internal/log"
	"github.com/barreleye/barreleye/internal/metrics"
)

func decodeConfigValue(raw string, out any) error {
	return json.Unmarshal([]byte(raw), out)
}

const (
	syncProgressInterval = 10 * time.Second
)

// RunSync drives one network's Sync stage until ctx is cancelled, mirroring
// indexer/src/sync.rs's `sync()`. On first run it splits [0, tip) into
// backfill chunks (get_network_ranges / get_block_chunk_ranges) plus a tail
// range starting at tip that is followed live, then loops both kinds of
// range until caught up, re-checking the network set on every tick.
func (s *Scheduler) RunSync(ctx context.Context, networkID int64) {
	logger := log.WithStage("sync")

	for {
		if ctx.Err() != nil {
			return
		}
		if !s.leader.IsLeading() {
			if sleepOrDone(ctx, time.Second) {
				return
			}
			continue
		}

		rt, ok := s.snapshotNetworks()[networkID]
		if !ok {
			if sleepOrDone(ctx, time.Second) {
				return
			}
			continue
		}

		tip, err := rt.Adapter.BlockHeight(ctx)
		if err != nil {
			logger.Error().Err(err).Int64("network_id", networkID).Msg("sync: failed to fetch block height")
			if sleepOrDone(ctx, time.Second) {
				return
			}
			continue
		}
		s.refreshBlockHeightCache(networkID, tip)

		ranges, err := s.getNetworkRanges(networkID, tip)
		if err != nil {
			logger.Error().Err(err).Int64("network_id", networkID).Msg("sync: failed to compute ranges")
			if sleepOrDone(ctx, time.Second) {
				return
			}
			continue
		}

		var chunksRemaining int
		for _, r := range ranges {
			if !r.isTail {
				chunksRemaining++
			}
		}
		metrics.SyncChunksRemaining.WithLabelValues(rt.Network.Name).Set(float64(chunksRemaining))

		for _, r := range ranges {
			if ctx.Err() != nil {
				return
			}
			if r.isTail {
				s.syncTail(ctx, rt, networkID, r.start)
			} else {
				s.syncChunk(ctx, rt, networkID, r.start, r.end)
			}
		}

		if sleepOrDone(ctx, time.Duration(rt.Network.BlockTimeMS)*time.Millisecond) {
			return
		}
	}
}

type syncRange struct {
	start  uint64
	end    uint64 // only meaningful when !isTail
	isTail bool
}

// getNetworkRanges mirrors get_network_ranges: on first run (no tail marker
// stored yet), the tip is split into backfill chunks covering [0, tip) plus
// a tail range starting at tip; on subsequent runs, the stored tail marker
// resumes the live-follow range and any still-open chunk markers resume
// their own backfill.
func (s *Scheduler) getNetworkRanges(networkID int64, tip uint64) ([]syncRange, error) {
	tailKey := catalog.KeyIndexerSyncTailKey(networkID)
	var tailStart uint64
	tailVal, err := s.catalog.ConfigGet(tailKey, &tailStart)
	if err != nil {
		return nil, err
	}

	if tailVal == nil {
		// First run: seed backfill chunks for [0, tip) and start the tail
		// at the current tip.
		var ranges []syncRange
		for _, c := range s.getBlockChunkRanges(tip) {
			chunkKey := catalog.KeyIndexerSyncChunkKey(networkID, int64(c[1]))
			if err := s.catalog.ConfigSet(chunkKey, c[0]); err != nil {
				return nil, err
			}
			ranges = append(ranges, syncRange{start: c[0], end: c[1]})
		}
		if err := s.catalog.ConfigSet(tailKey, tip); err != nil {
			return nil, err
		}
		ranges = append(ranges, syncRange{start: tip, isTail: true})
		return ranges, nil
	}

	ranges := []syncRange{{start: tailStart, isTail: true}}

	chunks, err := s.openSyncChunks(networkID)
	if err != nil {
		return nil, err
	}
	ranges = append(ranges, chunks...)
	return ranges, nil
}

// openSyncChunks finds every still-open indexer_sync_chunk marker for a
// network via the wildcard-on-zeros prefix query (Max=0 matches any chunk
// upper bound), resuming each from its stored cursor. A completed chunk's
// marker was deleted by syncChunk, so it naturally drops out of this scan.
func (s *Scheduler) openSyncChunks(networkID int64) ([]syncRange, error) {
	wildcard := catalog.KeyIndexerSyncChunkKey(networkID, 0)
	values, err := s.catalog.ConfigGetMany([]catalog.ConfigKey{wildcard})
	if err != nil {
		return nil, err
	}

	var ranges []syncRange
	for key, val := range values {
		var cursor uint64
		if err := decodeConfigValue(val.Raw, &cursor); err != nil {
			return nil, err
		}
		ranges = append(ranges, syncRange{start: cursor, end: uint64(key.Max)})
	}
	return ranges, nil
}

// syncTail extracts blocks from start up to the adapter's current height,
// advancing indexer_sync_tail after each block, mirroring the (start, None)
// branch of sync.rs's main loop — a live follow, never marked "done".
func (s *Scheduler) syncTail(ctx context.Context, rt *Runtime, networkID int64, start uint64) {
	logger := log.WithStage("sync")
	tailKey := catalog.KeyIndexerSyncTailKey(networkID)
	progressKey := catalog.KeyIndexerSyncProgressKey(networkID)
	lastProgress := time.Time{}
	height := start

	for {
		if ctx.Err() != nil {
			return
		}
		tip, err := rt.Adapter.BlockHeight(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("sync tail: failed to fetch block height")
			return
		}
		if height >= tip {
			return
		}
		s.refreshBlockHeightCache(networkID, tip)

		timer := metrics.NewTimer()
		ok, err := rt.Adapter.ExtractBlock(ctx, s.blobstore, height)
		timer.ObserveDurationVec(metrics.SyncBlockDuration, rt.Network.Name)
		if err != nil {
			logger.Error().Err(err).Uint64("height", height).Msg("sync tail: extract failed")
			return
		}
		if !ok {
			return
		}

		height++
		if err := s.catalog.ConfigSet(tailKey, height); err != nil {
			logger.Error().Err(err).Msg("sync tail: failed to advance marker")
			return
		}
		metrics.SyncTailHeight.WithLabelValues(rt.Network.Name).Set(float64(height))

		if time.Since(lastProgress) > syncProgressInterval {
			progress := float64(height) / float64(tip)
			_ = s.catalog.ConfigSet(progressKey, progress)
			lastProgress = time.Now()
		}
	}
}

// refreshBlockHeightCache implements block_height_n{id}'s `set_if_greater`
// semantics: the marker only ever advances, read-compare-then-write since
// ConfigSet carries no built-in comparison. Best-effort (not CAS-atomic) is
// acceptable here — the marker is a lazily-refreshed read cache for the
// stats endpoint, never a cursor any stage depends on for correctness.
func (s *Scheduler) refreshBlockHeightCache(networkID int64, tip uint64) {
	key := catalog.KeyBlockHeightKey(networkID)
	var current uint64
	existing, err := s.catalog.ConfigGet(key, &current)
	if err != nil {
		return
	}
	if existing == nil || tip > current {
		_ = s.catalog.ConfigSet(key, tip)
	}
}

// syncChunk backfills [start, end) one block at a time, advancing the chunk
// marker's stored cursor after each block and deleting the marker entirely
// once the chunk reaches end, mirroring the (start, Some(end)) branch.
func (s *Scheduler) syncChunk(ctx context.Context, rt *Runtime, networkID int64, start, end uint64) {
	logger := log.WithStage("sync")
	chunkKey := catalog.KeyIndexerSyncChunkKey(networkID, int64(end))

	height := start
	for height < end {
		if ctx.Err() != nil {
			return
		}
		timer := metrics.NewTimer()
		ok, err := rt.Adapter.ExtractBlock(ctx, s.blobstore, height)
		timer.ObserveDurationVec(metrics.SyncBlockDuration, rt.Network.Name)
		if err != nil {
			logger.Error().Err(err).Uint64("height", height).Msg("sync chunk: extract failed")
			return
		}
		if !ok {
			return
		}

		height++
		if height >= end {
			if err := s.catalog.ConfigDelete(chunkKey); err != nil {
				logger.Error().Err(err).Msg("sync chunk: failed to clear marker")
			}
			return
		}
		if err := s.catalog.ConfigSet(chunkKey, height); err != nil {
			logger.Error().Err(err).Msg("sync chunk: failed to advance marker")
			return
		}
	}
}
