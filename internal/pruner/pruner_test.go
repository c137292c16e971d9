package pruner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/barreleye/barreleye/internal/catalog"
	"github.com/barreleye/barreleye/internal/warehouse"
)

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

func TestPruneAddressesHardDeletesAndClearsMarkers(t *testing.T) {
	cat, wh := newTestStores(t)
	p := New(cat, wh)

	n := &catalog.Network{Name: "bitcoin", Architecture: catalog.ArchitectureUTXO, PublicID: "net_1"}
	require.NoError(t, cat.CreateNetwork(n))

	entity := &catalog.Entity{Name: "someone"}
	require.NoError(t, cat.CreateEntity(entity))

	addr := &catalog.Address{EntityID: entity.ID, NetworkID: n.ID, Address: "1Gone"}
	require.NoError(t, cat.CreateAddress(addr))
	require.NoError(t, cat.ConfigSet(catalog.KeyIndexerLinkKey(n.Ordinal, addr.Ordinal), uint64(5)))
	require.NoError(t, cat.SoftDeleteAddress(addr.ID))

	require.NoError(t, wh.InsertLinks([]warehouse.Link{{NetworkID: n.Ordinal, FromAddress: "1Gone", ToAddress: "1Other"}}))

	require.NoError(t, p.PruneAll())

	_, err := cat.GetAddress(addr.ID)
	require.Error(t, err)

	var cursor uint64
	val, err := cat.ConfigGet(catalog.KeyIndexerLinkKey(n.Ordinal, addr.Ordinal), &cursor)
	require.NoError(t, err)
	require.Nil(t, val)

	links, err := wh.ListLinksByFrom(n.Ordinal, "1Gone")
	require.NoError(t, err)
	require.Empty(t, links)
}

func TestPruneEntitiesHardDeletesSoftDeleted(t *testing.T) {
	cat, wh := newTestStores(t)
	p := New(cat, wh)

	live := &catalog.Entity{Name: "alive"}
	require.NoError(t, cat.CreateEntity(live))

	gone := &catalog.Entity{Name: "gone"}
	require.NoError(t, cat.CreateEntity(gone))
	require.NoError(t, cat.SoftDeleteEntity(gone.ID))

	require.NoError(t, p.PruneAll())

	_, err := cat.GetEntity(gone.ID)
	require.Error(t, err)

	got, err := cat.GetEntity(live.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestPruneNetworksCascadesWarehouseAndConfig(t *testing.T) {
	cat, wh := newTestStores(t)
	p := New(cat, wh)

	n := &catalog.Network{Name: "bitcoin", Architecture: catalog.ArchitectureUTXO, PublicID: "net_1"}
	require.NoError(t, cat.CreateNetwork(n))
	require.NoError(t, cat.ConfigSet(catalog.KeyIndexerSyncTailKey(n.Ordinal), uint64(42)))
	require.NoError(t, wh.InsertLinks([]warehouse.Link{{NetworkID: n.Ordinal, FromAddress: "a", ToAddress: "b"}}))

	require.NoError(t, cat.SoftDeleteNetwork(n.ID))
	require.NoError(t, p.PruneAll())

	_, err := cat.GetNetwork(n.ID)
	require.Error(t, err)

	var tail uint64
	val, err := cat.ConfigGet(catalog.KeyIndexerSyncTailKey(n.Ordinal), &tail)
	require.NoError(t, err)
	require.Nil(t, val)

	links, err := wh.ListLinksByNetwork(n.Ordinal)
	require.NoError(t, err)
	require.Empty(t, links)
}

func TestPruneAllIsNoOpWithNothingSoftDeleted(t *testing.T) {
	cat, wh := newTestStores(t)
	p := New(cat, wh)
	require.NoError(t, p.PruneAll())
}
