package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/barreleye/barreleye/internal/catalog"
	"github.com/barreleye/barreleye/internal/chain"
)

const testNetworkID = int64(1)

func newTestRuntime(tip uint64, moduleIDs ...chain.ModuleID) (*Runtime, *fakeAdapter) {
	adapter := &fakeAdapter{
		network:   catalog.Network{Ordinal: testNetworkID, BlockTimeMS: 1000},
		moduleIDs: moduleIDs,
		tip:       tip,
	}
	return &Runtime{Network: adapter.network, Adapter: adapter}, adapter
}

func TestEnsureFirstRunChunksSeedsChunksTailAndModuleDone(t *testing.T) {
	s := newTestScheduler(t, 4)
	rt, _ := newTestRuntime(100, chain.BitcoinCoinbase, chain.BitcoinTransfer)

	require.NoError(t, s.ensureFirstRunChunks(rt, testNetworkID, 100))

	var tail uint64
	val, err := s.catalog.ConfigGet(catalog.KeyIndexerProcessTailKey(testNetworkID), &tail)
	require.NoError(t, err)
	require.NotNil(t, val)
	require.Equal(t, uint64(99), tail, "tail must be pinned to syncTail-1")

	chunks, err := s.catalog.ConfigGetMany([]catalog.ConfigKey{catalog.KeyIndexerProcessChunkKey(testNetworkID, 0)})
	require.NoError(t, err)
	require.NotEmpty(t, chunks, "first run must seed backfill chunk markers")

	var covered uint64
	for key, v := range chunks {
		var cursor uint64
		require.NoError(t, decodeConfigValue(v.Raw, &cursor))
		require.Equal(t, uint64(key.Max)-25, cursor, "a freshly seeded chunk's cursor starts at its own lower bound")
		covered += uint64(key.Max) - cursor
	}
	require.Equal(t, uint64(100), covered, "chunks must exactly tile [0, syncTail)")

	for _, m := range rt.Adapter.ModuleIDs() {
		var done bool
		v, err := s.catalog.ConfigGet(catalog.KeyIndexerProcessModuleDoneKey(testNetworkID, int64(m)), &done)
		require.NoError(t, err)
		require.NotNil(t, v)
		require.True(t, done, "every currently active module must be pre-marked done on first run")
	}
}

func TestEnsureFirstRunChunksIsNoOpOnceTailIsSet(t *testing.T) {
	s := newTestScheduler(t, 4)
	rt, _ := newTestRuntime(100, chain.BitcoinCoinbase)

	require.NoError(t, s.ensureFirstRunChunks(rt, testNetworkID, 100))
	require.NoError(t, s.catalog.ConfigSet(catalog.KeyIndexerProcessTailKey(testNetworkID), uint64(50)))

	require.NoError(t, s.ensureFirstRunChunks(rt, testNetworkID, 100))

	var tail uint64
	_, err := s.catalog.ConfigGet(catalog.KeyIndexerProcessTailKey(testNetworkID), &tail)
	require.NoError(t, err)
	require.Equal(t, uint64(50), tail, "a second call must not clobber an already-advancing tail")
}

func TestProcessTailSeedsFirstRunThenAdvancesOneBlock(t *testing.T) {
	s := newTestScheduler(t, 1) // cpuCount<=1 means no backfill chunks, mirrors getBlockChunkRanges
	rt, adapter := newTestRuntime(10, chain.BitcoinCoinbase)
	ctx := context.Background()

	require.NoError(t, s.catalog.ConfigSet(catalog.KeyIndexerSyncTailKey(testNetworkID), uint64(10)))

	require.NoError(t, s.processTail(ctx, rt, testNetworkID))

	require.Equal(t, []uint64{9}, adapter.processed, "first run's tail range must cover only the final block")

	var tail uint64
	_, err := s.catalog.ConfigGet(catalog.KeyIndexerProcessTailKey(testNetworkID), &tail)
	require.NoError(t, err)
	require.Equal(t, uint64(10), tail)
}

func TestProcessOpenChunksConsumesSeededChunksAndClearsMarkers(t *testing.T) {
	s := newTestScheduler(t, 4)
	rt, adapter := newTestRuntime(40, chain.BitcoinCoinbase)
	ctx := context.Background()

	require.NoError(t, s.ensureFirstRunChunks(rt, testNetworkID, 40))
	require.NoError(t, s.processOpenChunks(ctx, rt, testNetworkID))

	require.Len(t, adapter.processed, 40, "every height in [0, syncTail) must be processed by its chunk")

	chunks, err := s.catalog.ConfigGetMany([]catalog.ConfigKey{catalog.KeyIndexerProcessChunkKey(testNetworkID, 0)})
	require.NoError(t, err)
	require.Empty(t, chunks, "completed chunks must have their markers deleted")
}

func TestProcessModuleGapsBackfillsOnlyTheUndoneModule(t *testing.T) {
	s := newTestScheduler(t, 4)
	rt, adapter := newTestRuntime(0, chain.BitcoinCoinbase, chain.BitcoinTransfer)
	ctx := context.Background()

	require.NoError(t, s.catalog.ConfigSet(catalog.KeyIndexerProcessTailKey(testNetworkID), uint64(5)))
	require.NoError(t, s.catalog.ConfigSet(catalog.KeyIndexerProcessModuleDoneKey(testNetworkID, int64(chain.BitcoinCoinbase)), true))

	require.NoError(t, s.processModuleGaps(ctx, rt, testNetworkID))

	require.Equal(t, []uint64{0, 1, 2, 3, 4}, adapter.processed, "only the module missing its done marker should be backfilled")

	var done bool
	v, err := s.catalog.ConfigGet(catalog.KeyIndexerProcessModuleDoneKey(testNetworkID, int64(chain.BitcoinTransfer)), &done)
	require.NoError(t, err)
	require.NotNil(t, v)
	require.True(t, done)

	moduleKey := catalog.KeyIndexerProcessModuleKey(testNetworkID, int64(chain.BitcoinTransfer))
	var cursor uint64
	cursorVal, err := s.catalog.ConfigGet(moduleKey, &cursor)
	require.NoError(t, err)
	require.Nil(t, cursorVal, "the cursor marker must be cleared once the module catches up")
}

func TestProcessModuleGapsIsNoOpBeforeFirstProcessTail(t *testing.T) {
	s := newTestScheduler(t, 4)
	rt, adapter := newTestRuntime(0, chain.BitcoinCoinbase)
	ctx := context.Background()

	require.NoError(t, s.processModuleGaps(ctx, rt, testNetworkID))
	require.Empty(t, adapter.processed, "no process tail yet means nothing is caught up to")
}

func TestSyncBarrierSatisfied(t *testing.T) {
	s := newTestScheduler(t, 4)

	ready, err := s.syncBarrierSatisfied(testNetworkID)
	require.NoError(t, err)
	require.False(t, ready, "no sync tail marker at all must not satisfy the barrier")

	require.NoError(t, s.catalog.ConfigSet(catalog.KeyIndexerSyncTailKey(testNetworkID), uint64(0)))
	ready, err = s.syncBarrierSatisfied(testNetworkID)
	require.NoError(t, err)
	require.False(t, ready, "a zero sync tail must not satisfy the barrier")

	require.NoError(t, s.catalog.ConfigSet(catalog.KeyIndexerSyncTailKey(testNetworkID), uint64(100)))
	require.NoError(t, s.catalog.ConfigSet(catalog.KeyIndexerSyncChunkKey(testNetworkID, 50), uint64(10)))
	ready, err = s.syncBarrierSatisfied(testNetworkID)
	require.NoError(t, err)
	require.False(t, ready, "an open sync chunk must block the barrier")

	require.NoError(t, s.catalog.ConfigDelete(catalog.KeyIndexerSyncChunkKey(testNetworkID, 50)))
	ready, err = s.syncBarrierSatisfied(testNetworkID)
	require.NoError(t, err)
	require.True(t, ready, "nonzero tail with no open chunks must satisfy the barrier")
}
