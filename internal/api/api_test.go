package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barreleye/barreleye/internal/catalog"
	"github.com/barreleye/barreleye/internal/warehouse"
)

func newTestServer(t *testing.T) (*Server, catalog.Catalog, warehouse.Warehouse) {
	t.Helper()
	dir := t.TempDir()

	cat, err := catalog.NewBoltCatalog(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	wh, err := warehouse.NewBoltWarehouse(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = wh.Close() })

	return New(cat, wh), cat, wh
}

func TestHandleStatsNoAuthRequiredWhenNoKeysExist(t *testing.T) {
	srv, cat, _ := newTestServer(t)

	n := &catalog.Network{Name: "bitcoin", Architecture: catalog.ArchitectureUTXO, PublicID: "net_1"}
	require.NoError(t, cat.CreateNetwork(n))
	require.NoError(t, cat.ConfigSet(catalog.KeyBlockHeightKey(n.Ordinal), uint64(100)))

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var stats []networkStats
	require.NoError(t, json.NewDecoder(w.Body).Decode(&stats))
	require.Len(t, stats, 1)
	assert.Equal(t, "net_1", stats[0].NetworkID)
	assert.Equal(t, uint64(100), stats[0].BlockHeight)
}

func TestHandleStatsRejectsMissingBearerTokenWhenKeysExist(t *testing.T) {
	srv, cat, _ := newTestServer(t)

	sum := sha256.Sum256([]byte("secret"))
	require.NoError(t, cat.CreateAPIKey(&catalog.APIKey{Name: "ci", SecretKeyHash: hex.EncodeToString(sum[:])}))

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleStatsAcceptsValidBearerToken(t *testing.T) {
	srv, cat, _ := newTestServer(t)

	sum := sha256.Sum256([]byte("secret"))
	require.NoError(t, cat.CreateAPIKey(&catalog.APIKey{Name: "ci", SecretKeyHash: hex.EncodeToString(sum[:])}))

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer prefix_secret")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleInfoRequiresQueryParam(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/info", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleInfoNotFoundForUnknownAddress(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/info?q=nosuchaddress", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleInfoReturnsRiskAndReasons(t *testing.T) {
	srv, cat, _ := newTestServer(t)

	n := &catalog.Network{Name: "bitcoin", Architecture: catalog.ArchitectureUTXO, PublicID: "net_1"}
	require.NoError(t, cat.CreateNetwork(n))

	tag := &catalog.Tag{Name: "sanctioned", RiskLevel: catalog.RiskCritical}
	require.NoError(t, cat.CreateTag(tag))

	entity := &catalog.Entity{Name: "Bad Actor", TagIDs: []string{tag.ID}}
	require.NoError(t, cat.CreateEntity(entity))

	addr := &catalog.Address{EntityID: entity.ID, NetworkID: n.ID, Address: "1BadActor"}
	require.NoError(t, cat.CreateAddress(addr))

	req := httptest.NewRequest(http.MethodGet, "/v1/info?q=1BadActor", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp infoResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "1BadActor", resp.Address)
	assert.Equal(t, catalog.RiskCritical, resp.RiskLevel)
	assert.Contains(t, resp.Reasons, "sanctioned")
}

func TestHandleInfoTooEarlyForDeletedAddress(t *testing.T) {
	srv, cat, _ := newTestServer(t)

	n := &catalog.Network{Name: "bitcoin", Architecture: catalog.ArchitectureUTXO, PublicID: "net_1"}
	require.NoError(t, cat.CreateNetwork(n))

	entity := &catalog.Entity{Name: "Someone"}
	require.NoError(t, cat.CreateEntity(entity))

	addr := &catalog.Address{EntityID: entity.ID, NetworkID: n.ID, Address: "1GoneSoon"}
	require.NoError(t, cat.CreateAddress(addr))
	require.NoError(t, cat.SoftDeleteAddress(addr.ID))

	req := httptest.NewRequest(http.MethodGet, "/v1/info?q=1GoneSoon", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooEarly, w.Code)
}

func TestMetricsRouteServesPrometheusFormat(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "barreleye_")
}
