package scheduler

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/barreleye/barreleye/internal/amount"
	"github.com/barreleye/barreleye/internal/blobstore"
	"github.com/barreleye/barreleye/internal/catalog"
	"github.com/barreleye/barreleye/internal/chain"
	"github.com/barreleye/barreleye/internal/warehouse"
)

// fakeAdapter is a minimal chain.Adapter stub: ExtractBlock reports every
// height below tip as present, ProcessBlock emits one Transfer per
// requested module and records every height it was called with so tests
// can assert exactly which blocks a range actually touched.
type fakeAdapter struct {
	network   catalog.Network
	moduleIDs []chain.ModuleID
	tip       uint64
	processed []uint64
}

func (a *fakeAdapter) Connect(ctx context.Context) (bool, error) { return true, nil }
func (a *fakeAdapter) IsConnected() bool                         { return true }
func (a *fakeAdapter) Network() catalog.Network                  { return a.network }
func (a *fakeAdapter) ModuleIDs() []chain.ModuleID                { return a.moduleIDs }
func (a *fakeAdapter) FormatAddress(address string) string       { return address }
func (a *fakeAdapter) RateLimit(ctx context.Context) error        { return nil }

func (a *fakeAdapter) BlockHeight(ctx context.Context) (uint64, error) {
	return a.tip, nil
}

func (a *fakeAdapter) ExtractBlock(ctx context.Context, store blobstore.BlobStore, height uint64) (bool, error) {
	return height < a.tip, nil
}

func (a *fakeAdapter) ProcessBlock(ctx context.Context, store blobstore.BlobStore, height uint64, modules []chain.ModuleID) (*warehouse.Batch, error) {
	a.processed = append(a.processed, height)

	batch := warehouse.NewBatch()
	for _, m := range modules {
		batch.AddTransfer(warehouse.Transfer{
			UUID:           uuid.New(),
			ModuleID:       int(m),
			NetworkID:      a.network.Ordinal,
			BlockHeight:    height,
			TxHash:         fmt.Sprintf("h%d-m%d", height, m),
			FromAddress:    "a",
			ToAddress:      "b",
			RelativeAmount: amount.FromUint64(1),
			BatchAmount:    amount.FromUint64(1),
		})
	}
	return batch, nil
}

// fakeLeader always reports leading, the scheduler stage loops aren't
// exercised through Run()/RunProcess() in these tests so its only job is to
// satisfy the LeaderElector type when one is wired in.
type fakeLeader struct{}

func (fakeLeader) IsLeading() bool { return true }

// newTestScheduler builds a Scheduler with real bbolt-backed stores (a fresh
// temp dir each call) and a fixed cpuCount, bypassing New's runtime.NumCPU()
// so chunk counts are deterministic across test machines.
func newTestScheduler(t *testing.T, cpuCount int) *Scheduler {
	t.Helper()
	dir := t.TempDir()

	cat, err := catalog.NewBoltCatalog(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	wh, err := warehouse.NewBoltWarehouse(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = wh.Close() })

	bs, err := blobstore.NewBoltBlobStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })

	return &Scheduler{
		catalog:   cat,
		warehouse: wh,
		blobstore: bs,
		leader:    fakeLeader{},
		cpuCount:  cpuCount,
		networks:  make(map[int64]*Runtime),
	}
}
