package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barreleye/barreleye/internal/apperr"
)

func TestApplyModes(t *testing.T) {
	tests := []struct {
		name          string
		modes         []string
		wantIndexer   bool
		wantServer    bool
	}{
		{name: "indexer only", modes: []string{"indexer"}, wantIndexer: true, wantServer: false},
		{name: "http only", modes: []string{"http"}, wantIndexer: false, wantServer: true},
		{name: "both explicit", modes: []string{"both"}, wantIndexer: true, wantServer: true},
		{name: "indexer and http combined", modes: []string{"indexer", "http"}, wantIndexer: true, wantServer: true},
		{name: "empty defaults to both", modes: nil, wantIndexer: true, wantServer: true},
		{name: "unrecognized defaults to both", modes: []string{"bogus"}, wantIndexer: true, wantServer: true},
		{name: "whitespace is trimmed", modes: []string{" indexer "}, wantIndexer: true, wantServer: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Settings{}
			s.ApplyModes(tt.modes)
			assert.Equal(t, tt.wantIndexer, s.IsIndexer)
			assert.Equal(t, tt.wantServer, s.IsServer)
		})
	}
}

func TestValidateDatabaseDriver(t *testing.T) {
	tests := []struct {
		name       string
		database   string
		wantDriver string
		wantErr    bool
	}{
		{name: "sqlite", database: "sqlite:///tmp/x.db?mode=rwc", wantDriver: "sqlite"},
		{name: "postgres with pathname", database: "postgres://user:pw@host:5432/barreleye", wantDriver: "postgres"},
		{name: "postgres missing pathname", database: "postgres://user:pw@host:5432/", wantErr: true},
		{name: "mysql with pathname", database: "mysql://user:pw@host:3306/barreleye", wantDriver: "mysql"},
		{name: "unknown scheme", database: "mongodb://host/db", wantErr: true},
		{name: "no scheme at all", database: "not-a-url", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			s.Database = tt.database
			s.Storage = "/tmp/barreleye-config-test-storage"

			err := s.Validate()
			if tt.wantErr {
				require.Error(t, err)
				var cfgErr *apperr.ConfigError
				assert.ErrorAs(t, err, &cfgErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDriver, s.DatabaseDriver)
		})
	}
}

func TestValidateWarehouseDriver(t *testing.T) {
	tests := []struct {
		name       string
		warehouse  string
		wantDriver string
		wantErr    bool
	}{
		{name: "local file", warehouse: "file:///tmp/analytics.db", wantDriver: "duckdb"},
		{name: "clickhouse http", warehouse: "http://host:8123/barreleye", wantDriver: "clickhouse"},
		{name: "clickhouse https missing pathname", warehouse: "https://host:8123/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			s.Warehouse = tt.warehouse
			s.Storage = "/tmp/barreleye-config-test-storage"

			err := s.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDriver, s.WarehouseDriver)
		})
	}
}

func TestValidateIP(t *testing.T) {
	s := Defaults()
	s.IP = "not-an-ip"
	s.Storage = "/tmp/barreleye-config-test-storage"

	err := s.Validate()
	require.Error(t, err)
	var cfgErr *apperr.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "ip", cfgErr.Config)
}

func TestResolveStorageLocalDirectory(t *testing.T) {
	s := Defaults()
	s.Storage = "file://" + t.TempDir() + "/storage"

	require.NoError(t, s.Validate())
	assert.NotEmpty(t, s.StoragePath)
}

func TestResolveStorageRejectsUnparseableURL(t *testing.T) {
	s := Defaults()
	s.Storage = "://not a url"

	err := s.Validate()
	require.Error(t, err)
	var cfgErr *apperr.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "storage", cfgErr.Config)
}
