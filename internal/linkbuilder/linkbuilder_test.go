package linkbuilder

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/barreleye/barreleye/internal/amount"
	"github.com/barreleye/barreleye/internal/catalog"
	"github.com/barreleye/barreleye/internal/warehouse"
)

const testNetworkID = int64(1)

func newTestStores(t *testing.T) (catalog.Catalog, warehouse.Warehouse) {
	t.Helper()
	dir := t.TempDir()

	cat, err := catalog.NewBoltCatalog(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	wh, err := warehouse.NewBoltWarehouse(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = wh.Close() })

	return cat, wh
}

func seedTransfer(from, to string, height uint64) warehouse.Transfer {
	return warehouse.Transfer{
		UUID:           uuid.New(),
		NetworkID:      testNetworkID,
		BlockHeight:    height,
		TxHash:         "tx",
		FromAddress:    from,
		ToAddress:      to,
		RelativeAmount: amount.FromUint64(1),
		BatchAmount:    amount.FromUint64(1),
	}
}

func TestExtendChainsSeedsDirectLinkFromTransfer(t *testing.T) {
	cat, wh := newTestStores(t)
	lb := New(cat, wh)

	require.NoError(t, cat.ConfigSet(catalog.KeyIndexerProcessTailKey(testNetworkID), uint64(1)))
	require.NoError(t, wh.InsertTransfers([]warehouse.Transfer{seedTransfer("a", "b", 1)}))

	require.NoError(t, lb.extendChains(testNetworkID))

	links, err := wh.ListLinksByFrom(testNetworkID, "a")
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.Equal(t, "b", links[0].ToAddress)
	require.Len(t, links[0].TransferUUIDs, 1)
}

func TestExtendChainsExtendsExistingChain(t *testing.T) {
	cat, wh := newTestStores(t)
	lb := New(cat, wh)

	require.NoError(t, cat.ConfigSet(catalog.KeyIndexerProcessTailKey(testNetworkID), uint64(1)))
	require.NoError(t, wh.InsertTransfers([]warehouse.Transfer{seedTransfer("a", "b", 1)}))
	require.NoError(t, lb.extendChains(testNetworkID))

	require.NoError(t, cat.ConfigSet(catalog.KeyIndexerProcessTailKey(testNetworkID), uint64(2)))
	require.NoError(t, wh.InsertTransfers([]warehouse.Transfer{seedTransfer("b", "c", 2)}))
	require.NoError(t, lb.extendChains(testNetworkID))

	chained, err := wh.ListLinksByFrom(testNetworkID, "a")
	require.NoError(t, err)

	found := false
	for _, l := range chained {
		if l.ToAddress == "c" {
			found = true
			require.Len(t, l.TransferUUIDs, 2)
		}
	}
	require.True(t, found, "expected a -> c chain extending through b")
}

func TestExtendChainsIsNoOpWhenProcessTailUnset(t *testing.T) {
	cat, wh := newTestStores(t)
	lb := New(cat, wh)

	require.NoError(t, lb.extendChains(testNetworkID))

	links, err := wh.ListLinksByNetwork(testNetworkID)
	require.NoError(t, err)
	require.Empty(t, links)
}

func TestExtendChainsIsIdempotentOnRepeatedPass(t *testing.T) {
	cat, wh := newTestStores(t)
	lb := New(cat, wh)

	require.NoError(t, cat.ConfigSet(catalog.KeyIndexerProcessTailKey(testNetworkID), uint64(1)))
	require.NoError(t, wh.InsertTransfers([]warehouse.Transfer{seedTransfer("a", "b", 1)}))
	require.NoError(t, lb.extendChains(testNetworkID))
	require.NoError(t, lb.extendChains(testNetworkID))

	links, err := wh.ListLinksByFrom(testNetworkID, "a")
	require.NoError(t, err)
	require.Len(t, links, 1)
}

func TestInvalidateNewlyAddedBreaksChainPassingThroughAddress(t *testing.T) {
	cat, wh := newTestStores(t)
	lb := New(cat, wh)

	// x -> a -> b -> c, with the direct a->b "landing" link also present
	// (as extendChains would seed for every transfer). Labeling b should
	// break the longer x->c chain, since its middle hop (a->b) is the same
	// transfer UUID that lands on b, but must leave the a->b link itself
	// untouched.
	t1 := seedTransfer("x", "a", 1)
	t2 := seedTransfer("a", "b", 2)
	t3 := seedTransfer("b", "c", 3)
	require.NoError(t, wh.InsertTransfers([]warehouse.Transfer{t1, t2, t3}))
	require.NoError(t, wh.InsertLinks([]warehouse.Link{
		{
			NetworkID:     testNetworkID,
			FromAddress:   "a",
			ToAddress:     "b",
			TransferUUIDs: []uuid.UUID{t2.UUID},
		},
		{
			NetworkID:     testNetworkID,
			FromAddress:   "x",
			ToAddress:     "c",
			TransferUUIDs: []uuid.UUID{t1.UUID, t2.UUID, t3.UUID},
		},
	}))

	require.NoError(t, cat.ConfigSet(catalog.KeyNewlyAddedAddressKey(testNetworkID, 7), "b"))

	require.NoError(t, lb.invalidateNewlyAdded(testNetworkID))

	links, err := wh.ListLinksByNetwork(testNetworkID)
	require.NoError(t, err)
	require.Len(t, links, 1, "the x->c chain passing through b must be invalidated")
	require.Equal(t, "b", links[0].ToAddress, "the direct a->b landing link must survive")

	var marker string
	val, err := cat.ConfigGet(catalog.KeyNewlyAddedAddressKey(testNetworkID, 7), &marker)
	require.NoError(t, err)
	require.Nil(t, val, "the newly_added marker must be consumed")
}

func TestInvalidateNewlyAddedLeavesUnrelatedChainsIntact(t *testing.T) {
	cat, wh := newTestStores(t)
	lb := New(cat, wh)

	t1 := seedTransfer("x", "y", 1)
	require.NoError(t, wh.InsertTransfers([]warehouse.Transfer{t1}))
	require.NoError(t, wh.InsertLinks([]warehouse.Link{{
		NetworkID:     testNetworkID,
		FromAddress:   "x",
		ToAddress:     "y",
		TransferUUIDs: []uuid.UUID{t1.UUID},
	}}))

	require.NoError(t, cat.ConfigSet(catalog.KeyNewlyAddedAddressKey(testNetworkID, 1), "unrelated"))
	require.NoError(t, lb.invalidateNewlyAdded(testNetworkID))

	links, err := wh.ListLinksByNetwork(testNetworkID)
	require.NoError(t, err)
	require.Len(t, links, 1)
}

func TestShorterOfPrefersFewerHops(t *testing.T) {
	short := warehouse.Link{TransferUUIDs: []uuid.UUID{uuid.New()}}
	long := warehouse.Link{TransferUUIDs: []uuid.UUID{uuid.New(), uuid.New()}}

	require.Equal(t, short, shorterOf(short, &long))
	require.Equal(t, long, shorterOf(long, &short))
	require.Equal(t, short, shorterOf(short, nil))
}

func TestShortestLinkPicksMinimumHopCount(t *testing.T) {
	links := []warehouse.Link{
		{ToAddress: "a", TransferUUIDs: []uuid.UUID{uuid.New(), uuid.New()}},
		{ToAddress: "b", TransferUUIDs: []uuid.UUID{uuid.New()}},
	}
	best := shortestLink(links)
	require.NotNil(t, best)
	require.Equal(t, "b", best.ToAddress)

	require.Nil(t, shortestLink(nil))
}
