// Package api implements the HTTP query surface described in spec.md §6.2,
// grounded on the teacher's pkg/api/health.go convention: a plain
// net/http.ServeMux, JSON responses via encoding/json, no web framework.
// Kept thin per spec.md's "external collaborator" framing of the HTTP
// surface — just enough to exercise Catalog/Warehouse reads end to end.
package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/barreleye/barreleye/internal/catalog"
	"github.com/barreleye/barreleye/internal/metrics"
	"github.com/barreleye/barreleye/internal/warehouse"
)

// Server serves the /v1 query surface over the Catalog and Warehouse.
type Server struct {
	catalog   catalog.Catalog
	warehouse warehouse.Warehouse
	mux       *http.ServeMux
}

func New(cat catalog.Catalog, wh warehouse.Warehouse) *Server {
	s := &Server{catalog: cat, warehouse: wh, mux: http.NewServeMux()}

	s.mux.Handle("/info", instrument("info", http.HandlerFunc(s.handleInfo))) // always public, per spec.md §6.2
	s.mux.Handle("/v1/info", instrument("v1_info", http.HandlerFunc(s.handleInfo)))
	s.mux.Handle("/v1/stats", instrument("v1_stats", s.requireAuth(http.HandlerFunc(s.handleStats))))
	s.mux.Handle("/metrics", metrics.Handler())

	return s
}

// statusWriter captures the written status code so instrument can label
// barreleye_api_requests_total by outcome.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// instrument records barreleye_api_requests_total/barreleye_api_request_duration_seconds
// around a route's handler, labeled by route and (for the counter) status code.
func instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		timer := metrics.NewTimer()
		next.ServeHTTP(sw, r)
		timer.ObserveDurationVec(metrics.APIRequestDuration, route)
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
	})
}

// ListenAndServe starts the HTTP server with the teacher's health-server
// timeout profile (pkg/api/health.go's http.Server construction).
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) Handler() http.Handler { return s.mux }

type apiError struct {
	Code    int    `json:"-"`
	Message string `json:"error"`
}

func writeError(w http.ResponseWriter, e apiError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	_ = json.NewEncoder(w).Encode(e)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

// requireAuth matches spec.md §6.2's bearer-token model: the token's
// "postfix" segment (everything after the last '_') is SHA-256 hashed and
// compared against every api_keys.secret_key_hash; if zero keys exist in
// the Catalog, auth is bypassed entirely (frictionless local setup, per
// original_source's intent).
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys, err := s.catalog.ListAPIKeys()
		if err != nil {
			writeError(w, apiError{Code: http.StatusInternalServerError, Message: "internal error"})
			return
		}
		if len(keys) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token == "" {
			writeError(w, apiError{Code: http.StatusUnauthorized, Message: "missing bearer token"})
			return
		}
		postfix := token
		if i := strings.LastIndex(token, "_"); i >= 0 {
			postfix = token[i+1:]
		}
		sum := sha256.Sum256([]byte(postfix))
		hash := hex.EncodeToString(sum[:])

		matched := false
		for _, k := range keys {
			if subtle.ConstantTimeCompare([]byte(k.SecretKeyHash), []byte(hash)) == 1 {
				matched = true
				break
			}
		}
		if !matched {
			writeError(w, apiError{Code: http.StatusUnauthorized, Message: "invalid bearer token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// networkStats is one row of GET /v1/stats, pulled straight from the
// indexer_sync_progress_*/indexer_process_progress_* Config markers rather
// than recomputed, matching spec.md §6.2's stats-endpoint shape.
type networkStats struct {
	NetworkID      string  `json:"network_id"`
	BlockHeight    uint64  `json:"block_height"`
	SyncProgress   float64 `json:"synced"`
	ProcessProgress float64 `json:"processed"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, apiError{Code: http.StatusBadRequest, Message: "method not allowed"})
		return
	}

	networks, err := s.catalog.ListNetworks(false)
	if err != nil {
		writeError(w, apiError{Code: http.StatusInternalServerError, Message: "internal error"})
		return
	}

	stats := make([]networkStats, 0, len(networks))
	for _, n := range networks {
		var height uint64
		_, _ = s.catalog.ConfigGet(catalog.KeyBlockHeightKey(n.Ordinal), &height)

		var synced float64
		_, _ = s.catalog.ConfigGet(catalog.KeyIndexerSyncProgressKey(n.Ordinal), &synced)

		var processed float64
		_, _ = s.catalog.ConfigGet(catalog.KeyIndexerProcessProgressKey(n.Ordinal), &processed)

		stats = append(stats, networkStats{
			NetworkID:       n.PublicID,
			BlockHeight:     height,
			SyncProgress:    synced,
			ProcessProgress: processed,
		})
	}

	writeJSON(w, stats)
}

// infoResponse is GET /info|/v1/info's shape: risk level/reasons, asset
// balances, and chains of hops from labeled entities ("sources"), per
// spec.md §6.2.
type infoResponse struct {
	Address   string           `json:"address"`
	RiskLevel catalog.RiskLevel `json:"risk_level"`
	Reasons   []string         `json:"reasons"`
	Balances  []warehouse.Balance `json:"balances"`
	Sources   []source         `json:"sources"`
}

type source struct {
	EntityName string   `json:"entity_name"`
	TagNames   []string `json:"tags"`
	Hops       int      `json:"hops"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, apiError{Code: http.StatusBadRequest, Message: "method not allowed"})
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, apiError{Code: http.StatusBadRequest, Message: "missing q parameter"})
		return
	}

	networks, err := s.catalog.ListNetworks(false)
	if err != nil {
		writeError(w, apiError{Code: http.StatusInternalServerError, Message: "internal error"})
		return
	}

	var addr *catalog.Address
	var net *catalog.Network
	for _, n := range networks {
		if a, err := s.catalog.FindAddress(n.ID, q); err == nil && a != nil {
			addr = a
			net = n
			break
		}
	}
	// FindAddress skips soft-deleted rows; look those up too so a
	// not-yet-pruned address reaches the too-early branch below.
	for i := 0; addr == nil && i < len(networks); i++ {
		all, err := s.catalog.ListAddresses(networks[i].ID, true)
		if err != nil {
			continue
		}
		for _, a := range all {
			if a.Address == q {
				addr, net = a, networks[i]
				break
			}
		}
	}
	if addr == nil {
		writeError(w, apiError{Code: http.StatusNotFound, Message: "address not found"})
		return
	}

	deleted, err := s.catalog.IsAddressDeleted(addr.ID)
	if err != nil {
		writeError(w, apiError{Code: http.StatusInternalServerError, Message: "internal error"})
		return
	}
	if deleted {
		// Pruner may not have finished cascading yet; treat as "too early"
		// rather than a stale 404, per spec.md §6.2's too-early status.
		writeError(w, apiError{Code: http.StatusTooEarly, Message: "address pending deletion"})
		return
	}

	resp := infoResponse{Address: addr.Address}

	if entity, err := s.catalog.GetEntity(addr.EntityID); err == nil && entity != nil {
		level := catalog.RiskLow
		for _, tagID := range entity.TagIDs {
			tag, err := s.catalog.GetTag(tagID)
			if err != nil || tag == nil {
				continue
			}
			resp.Reasons = append(resp.Reasons, tag.Name)
			if severityRank(tag.RiskLevel) > severityRank(level) {
				level = tag.RiskLevel
			}
		}
		resp.RiskLevel = level
	}

	balances, err := s.warehouse.Balances(net.Ordinal, addr.Address)
	if err == nil {
		resp.Balances = balances
	}

	links, err := s.warehouse.ListLinksByTo(net.Ordinal, addr.Address)
	if err == nil {
		for _, l := range links {
			srcAddr, err := s.catalog.FindAddress(net.ID, l.FromAddress)
			if err != nil || srcAddr == nil {
				continue
			}
			entity, err := s.catalog.GetEntity(srcAddr.EntityID)
			if err != nil || entity == nil || entity.Name == "" {
				continue
			}
			var tagNames []string
			for _, tagID := range entity.TagIDs {
				if tag, err := s.catalog.GetTag(tagID); err == nil && tag != nil {
					tagNames = append(tagNames, tag.Name)
				}
			}
			resp.Sources = append(resp.Sources, source{
				EntityName: entity.Name,
				TagNames:   tagNames,
				Hops:       l.Length(),
			})
		}
	}

	writeJSON(w, resp)
}

func severityRank(r catalog.RiskLevel) int {
	switch r {
	case catalog.RiskCritical:
		return 2
	case catalog.RiskHigh:
		return 1
	default:
		return 0
	}
}
