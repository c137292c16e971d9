package scheduler

import (
	"context"
	"time"

	"github.com/barreleye/barreleye/internal/catalog"
	"github.com/barreleye/barreleye/internal/chain"
	"github.com/barreleye/barreleye/internal/log"
	"github.com/barreleye/barreleye/internal/metrics"
	"github.com/barreleye/barreleye/internal/warehouse"
)

const processProgressInterval = 10 * time.Second

// RunProcess drives one network's Process stage until ctx is cancelled,
// mirroring indexer/src/process.rs's `process()`. It waits for the Sync
// barrier (a nonzero tail marker and no open sync chunks) before doing any
// work, then re-derives the same tail/chunk/per-module range split Sync
// used, running each range's extraction through a dedicated commit loop.
func (s *Scheduler) RunProcess(ctx context.Context, networkID int64) {
	logger := log.WithStage("process")

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

		ready, err := s.syncBarrierSatisfied(networkID)
		if err != nil {
			logger.Error().Err(err).Int64("network_id", networkID).Msg("process: failed to check sync barrier")
			if sleepOrDone(ctx, time.Second) {
				return
			}
			continue
		}
		if !ready {
			if sleepOrDone(ctx, time.Second) {
				return
			}
			continue
		}

		if err := s.processTail(ctx, rt, networkID); err != nil {
			logger.Error().Err(err).Int64("network_id", networkID).Msg("process: tail failed")
		}
		if err := s.processOpenChunks(ctx, rt, networkID); err != nil {
			logger.Error().Err(err).Int64("network_id", networkID).Msg("process: chunk failed")
		}
		if err := s.processModuleGaps(ctx, rt, networkID); err != nil {
			logger.Error().Err(err).Int64("network_id", networkID).Msg("process: module catch-up failed")
		}

		if sleepOrDone(ctx, time.Duration(rt.Network.BlockTimeMS)*time.Millisecond) {
			return
		}
	}
}

// syncBarrierSatisfied mirrors process.rs's pre-flight check: the tail
// marker must exist and be nonzero, and no indexer_sync_chunk marker may
// still be open, otherwise process would race ahead of data sync hasn't
// extracted yet.
func (s *Scheduler) syncBarrierSatisfied(networkID int64) (bool, error) {
	var tail uint64
	tailVal, err := s.catalog.ConfigGet(catalog.KeyIndexerSyncTailKey(networkID), &tail)
	if err != nil {
		return false, err
	}
	if tailVal == nil || tail == 0 {
		return false, nil
	}

	chunks, err := s.catalog.ConfigGetMany([]catalog.ConfigKey{catalog.KeyIndexerSyncChunkKey(networkID, 0)})
	if err != nil {
		return false, err
	}
	return len(chunks) == 0, nil
}

// ensureFirstRunChunks performs the Process-stage fast-forward: the first
// time a network's indexer_process_tail marker is seen unset, it splits
// [0, syncTail) into indexer_process_chunk markers for processOpenChunks to
// pick up, sets indexer_process_tail to syncTail-1 so processTail only has
// to catch up the single most recent block, and pre-marks every currently
// active module done so processModuleGaps doesn't redundantly backfill a
// module that was already enabled when the network was first connected.
// Mirrors sync.go's getNetworkRanges, with Process's own syncTail standing
// in for Sync's live chain tip.
func (s *Scheduler) ensureFirstRunChunks(rt *Runtime, networkID int64, syncTail uint64) error {
	tailKey := catalog.KeyIndexerProcessTailKey(networkID)
	var tailStart uint64
	tailVal, err := s.catalog.ConfigGet(tailKey, &tailStart)
	if err != nil {
		return err
	}
	if tailVal != nil || syncTail == 0 {
		return nil
	}

	for _, c := range s.getBlockChunkRanges(syncTail) {
		chunkKey := catalog.KeyIndexerProcessChunkKey(networkID, int64(c[1]))
		if err := s.catalog.ConfigSet(chunkKey, c[0]); err != nil {
			return err
		}
	}
	if err := s.catalog.ConfigSet(tailKey, syncTail-1); err != nil {
		return err
	}

	for _, moduleID := range rt.Adapter.ModuleIDs() {
		doneKey := catalog.KeyIndexerProcessModuleDoneKey(networkID, int64(moduleID))
		if err := s.catalog.ConfigSet(doneKey, true); err != nil {
			return err
		}
	}
	return nil
}

// processTail advances indexer_process_tail up to (but not including) the
// sync tail, one block at a time, committing the accumulated batch per
// Batch.ShouldCommit's age/size/force policy and forcing a final commit at
// the end of the range — mirroring the (start, None) process range.
func (s *Scheduler) processTail(ctx context.Context, rt *Runtime, networkID int64) error {
	var syncTail uint64
	if _, err := s.catalog.ConfigGet(catalog.KeyIndexerSyncTailKey(networkID), &syncTail); err != nil {
		return err
	}

	if err := s.ensureFirstRunChunks(rt, networkID, syncTail); err != nil {
		return err
	}

	tailKey := catalog.KeyIndexerProcessTailKey(networkID)
	var height uint64
	if _, err := s.catalog.ConfigGet(tailKey, &height); err != nil {
		return err
	}

	progressKey := catalog.KeyIndexerProcessProgressKey(networkID)
	lastProgress := time.Time{}
	batch := warehouse.NewBatch()
	modules := rt.Adapter.ModuleIDs()

	for height < syncTail {
		if ctx.Err() != nil {
			return nil
		}

		result, err := rt.Adapter.ProcessBlock(ctx, s.blobstore, height, modules)
		if err != nil {
			return err
		}
		if result != nil {
			batch.Merge(result)
		}
		height++

		force := height >= syncTail
		if batch.ShouldCommit(force) {
			if err := s.commitProcessBatch(rt.Network.Name, batch, tailKey, height, nil); err != nil {
				return err
			}
			batch.Clear()
			metrics.ProcessTailHeight.WithLabelValues(rt.Network.Name).Set(float64(height))
		}

		if time.Since(lastProgress) > processProgressInterval {
			progress := float64(height) / float64(syncTail)
			_ = s.catalog.ConfigSet(progressKey, progress)
			lastProgress = time.Now()
		}
	}

	if !batch.IsEmpty() {
		if err := s.commitProcessBatch(rt.Network.Name, batch, tailKey, height, nil); err != nil {
			return err
		}
		metrics.ProcessTailHeight.WithLabelValues(rt.Network.Name).Set(float64(height))
	}
	return nil
}

// processOpenChunks re-derives backfill ranges from open
// indexer_process_chunk markers and processes each the same way processTail
// does, deleting the marker once its range completes — mirroring the
// (start, Some(end)) process range.
func (s *Scheduler) processOpenChunks(ctx context.Context, rt *Runtime, networkID int64) error {
	wildcard := catalog.KeyIndexerProcessChunkKey(networkID, 0)
	values, err := s.catalog.ConfigGetMany([]catalog.ConfigKey{wildcard})
	if err != nil {
		return err
	}

	modules := rt.Adapter.ModuleIDs()
	for key, val := range values {
		var cursor uint64
		if err := decodeConfigValue(val.Raw, &cursor); err != nil {
			return err
		}
		end := uint64(key.Max)
		chunkKey := catalog.KeyIndexerProcessChunkKey(networkID, key.Max)

		batch := warehouse.NewBatch()
		height := cursor
		for height < end {
			if ctx.Err() != nil {
				return nil
			}
			result, err := rt.Adapter.ProcessBlock(ctx, s.blobstore, height, modules)
			if err != nil {
				return err
			}
			if result != nil {
				batch.Merge(result)
			}
			height++

			force := height >= end
			if batch.ShouldCommit(force) {
				var deleteKey *catalog.ConfigKey
				if height >= end {
					deleteKey = &chunkKey
				}
				if err := s.commitProcessBatch(rt.Network.Name, batch, chunkKey, height, deleteKey); err != nil {
					return err
				}
				batch.Clear()
			}
		}
	}
	return nil
}

// processModuleGaps handles a module enabled after a network has already
// been synced partway: it catches that module up over [0, processTail)
// independently, using its own indexer_process_module marker, then marks
// indexer_process_module_done and lets the marker itself be cleaned up.
func (s *Scheduler) processModuleGaps(ctx context.Context, rt *Runtime, networkID int64) error {
	var processTail uint64
	if _, err := s.catalog.ConfigGet(catalog.KeyIndexerProcessTailKey(networkID), &processTail); err != nil {
		return err
	}
	if processTail == 0 {
		return nil
	}

	for _, moduleID := range rt.Adapter.ModuleIDs() {
		doneKey := catalog.KeyIndexerProcessModuleDoneKey(networkID, int64(moduleID))
		var done bool
		doneVal, err := s.catalog.ConfigGet(doneKey, &done)
		if err != nil {
			return err
		}
		if doneVal != nil && done {
			continue
		}

		moduleKey := catalog.KeyIndexerProcessModuleKey(networkID, int64(moduleID))
		var height uint64
		if _, err := s.catalog.ConfigGet(moduleKey, &height); err != nil {
			return err
		}

		batch := warehouse.NewBatch()
		for height < processTail {
			if ctx.Err() != nil {
				return nil
			}
			result, err := rt.Adapter.ProcessBlock(ctx, s.blobstore, height, []chain.ModuleID{moduleID})
			if err != nil {
				return err
			}
			if result != nil {
				batch.Merge(result)
			}
			height++

			force := height >= processTail
			if batch.ShouldCommit(force) {
				if err := s.commitModuleBatch(rt.Network.Name, batch, moduleKey, height); err != nil {
					return err
				}
				batch.Clear()
			}
		}

		if !batch.IsEmpty() {
			if err := s.commitModuleBatch(rt.Network.Name, batch, moduleKey, height); err != nil {
				return err
			}
		}

		if err := s.catalog.ConfigSet(doneKey, true); err != nil {
			return err
		}
		if err := s.catalog.ConfigDelete(moduleKey); err != nil {
			return err
		}
	}
	return nil
}

// commitProcessBatch persists a batch's rows to the warehouse and then
// advances (or clears) the marker that tracks this range's cursor, mirroring
// process.rs's commit(). The two writes are not one atomic transaction: the
// marker write only happens after a successful warehouse commit.
func (s *Scheduler) commitProcessBatch(network string, batch *warehouse.Batch, cursorKey catalog.ConfigKey, height uint64, deleteKey *catalog.ConfigKey) error {
	if !batch.IsEmpty() {
		timer := metrics.NewTimer()
		err := s.warehouse.Commit(batch)
		timer.ObserveDurationVec(metrics.ProcessCommitDuration, network)
		if err != nil {
			return err
		}
		metrics.ProcessRowsCommittedTotal.WithLabelValues(network, "transfers").Add(float64(len(batch.Transfers)))
		metrics.ProcessRowsCommittedTotal.WithLabelValues(network, "amounts").Add(float64(len(batch.Amounts)))
		metrics.ProcessRowsCommittedTotal.WithLabelValues(network, "links").Add(float64(len(batch.Links)))
	}

	if deleteKey != nil {
		return s.catalog.ConfigDelete(*deleteKey)
	}
	return s.catalog.ConfigSet(cursorKey, height)
}

func (s *Scheduler) commitModuleBatch(network string, batch *warehouse.Batch, moduleKey catalog.ConfigKey, height uint64) error {
	if !batch.IsEmpty() {
		timer := metrics.NewTimer()
		err := s.warehouse.Commit(batch)
		timer.ObserveDurationVec(metrics.ProcessCommitDuration, network)
		if err != nil {
			return err
		}
		metrics.ProcessRowsCommittedTotal.WithLabelValues(network, "transfers").Add(float64(len(batch.Transfers)))
		metrics.ProcessRowsCommittedTotal.WithLabelValues(network, "amounts").Add(float64(len(batch.Amounts)))
		metrics.ProcessRowsCommittedTotal.WithLabelValues(network, "links").Add(float64(len(batch.Links)))
	}
	return s.catalog.ConfigSet(moduleKey, height)
}
