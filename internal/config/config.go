// Package config loads and validates runtime settings, grounded on
// common/src/settings.rs's Settings::new and wired through cobra/pflag the
// way cmd/warren/main.go wires its persistent flags.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/barreleye/barreleye/internal/apperr"
)

// Mode selects which subsystems a process runs, mirroring settings.rs's Mode.
type Mode string

const (
	ModeIndexer Mode = "indexer"
	ModeHTTP    Mode = "http"
	ModeBoth    Mode = "both"
)

// Settings is the fully-validated runtime configuration, equivalent to the
// reference's Settings struct after Settings::new has run.
type Settings struct {
	IsIndexer bool
	IsServer  bool

	Storage     string
	StoragePath string // set when Storage resolves to a local directory

	S3AccessKeyID     string
	S3SecretAccessKey string

	Database       string
	DatabaseDriver string // "sqlite", "postgres", "mysql"

	DatabaseMinConnections uint32
	DatabaseMaxConnections uint32
	DatabaseConnectTimeoutSeconds uint64
	DatabaseIdleTimeoutSeconds    uint64
	DatabaseMaxLifetimeSeconds    uint64

	Warehouse       string
	WarehouseDriver string // "duckdb" (embedded) or "clickhouse"-shaped HTTP endpoint

	IP   string
	Port uint16
}

// fileOverlay mirrors the subset of Settings an operator may set via
// --config-file, keeping the YAML keys flag-shaped (snake_case, matching
// the teacher's own flag names) rather than mirroring Settings' Go names.
type fileOverlay struct {
	Storage   *string `yaml:"storage"`
	Database  *string `yaml:"database"`
	Warehouse *string `yaml:"warehouse"`
	IP        *string `yaml:"ip"`
	Port      *uint16 `yaml:"port"`
	Mode      []string `yaml:"mode"`
}

// LoadFile reads a YAML config overlay and applies any keys it sets onto s,
// following the same optional, lowest-precedence layering the reference
// settings loader documents for its config file (CLI flags and environment
// variables both still take precedence over it, applied by the caller after
// LoadFile returns).
func (s *Settings) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &apperr.ConfigError{Config: "config-file", Reason: err.Error()}
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return &apperr.ConfigError{Config: "config-file", Reason: "invalid YAML: " + err.Error()}
	}

	if overlay.Storage != nil {
		s.Storage = *overlay.Storage
	}
	if overlay.Database != nil {
		s.Database = *overlay.Database
	}
	if overlay.Warehouse != nil {
		s.Warehouse = *overlay.Warehouse
	}
	if overlay.IP != nil {
		s.IP = *overlay.IP
	}
	if overlay.Port != nil {
		s.Port = *overlay.Port
	}
	if len(overlay.Mode) > 0 {
		s.ApplyModes(overlay.Mode)
	}
	return nil
}

// Defaults mirrors the reference's #[arg(default_value = ...)] values,
// with the `${HOME}`-relative paths resolved against os.UserHomeDir.
func Defaults() Settings {
	home, _ := os.UserHomeDir()
	return Settings{
		Storage:                       "file://" + filepath.Join(home, ".barreleye", "storage"),
		Database:                      "sqlite://" + filepath.Join(home, ".barreleye", "data.db") + "?mode=rwc",
		DatabaseMinConnections:        5,
		DatabaseMaxConnections:        100,
		DatabaseConnectTimeoutSeconds: 8,
		DatabaseIdleTimeoutSeconds:    8,
		DatabaseMaxLifetimeSeconds:    8,
		Warehouse:                     "file://" + filepath.Join(home, ".barreleye", "analytics.db"),
		IP:                            "127.0.0.1",
		Port:                          2277,
	}
}

// ApplyModes sets IsIndexer/IsServer from the comma-separated --mode flag
// values, mirroring the reference's mode-parsing loop: an empty or
// unrecognized selection defaults to running both.
func (s *Settings) ApplyModes(modes []string) {
	for _, m := range modes {
		switch Mode(strings.TrimSpace(m)) {
		case ModeIndexer:
			s.IsIndexer = true
		case ModeHTTP:
			s.IsServer = true
		case ModeBoth:
			s.IsIndexer = true
			s.IsServer = true
		}
	}
	if !s.IsIndexer && !s.IsServer {
		s.IsIndexer = true
		s.IsServer = true
	}
}

// Validate ports Settings::new's validation block: database URL scheme and
// pathname, warehouse URL/driver inference, IP parsing, and storage
// directory resolution. The S3 credential environment variables are read
// by the caller (cmd/barreleye) with os.Getenv, not here; database and
// warehouse credentials are not read from the environment.
func (s *Settings) Validate() error {
	driver, err := databaseDriver(s.Database)
	if err != nil {
		return &apperr.ConfigError{Config: "database", Reason: "invalid URL scheme"}
	}
	s.DatabaseDriver = driver

	dbURL, err := url.Parse(s.Database)
	if err != nil {
		return &apperr.ConfigError{Config: "database", Reason: "could not parse URL"}
	}
	if (driver == "postgres" || driver == "mysql") && !hasPathname(dbURL) {
		return &apperr.ConfigError{Config: "database", Reason: "missing database name in the URL"}
	}

	if wURL, err := url.Parse(s.Warehouse); err == nil && (wURL.Scheme == "http" || wURL.Scheme == "https") {
		s.WarehouseDriver = "clickhouse"
		if !hasPathname(wURL) {
			return &apperr.ConfigError{Config: "warehouse", Reason: "missing database name in the URL"}
		}
	} else {
		s.WarehouseDriver = "duckdb"
	}

	if net.ParseIP(s.IP) == nil {
		return &apperr.ConfigError{Config: "ip", Reason: "could not parse IP v4"}
	}

	if err := s.resolveStorage(); err != nil {
		return err
	}

	return nil
}

func databaseDriver(dsn string) (string, error) {
	scheme, _, found := strings.Cut(dsn, ":")
	if !found {
		return "", fmt.Errorf("no scheme in %q", dsn)
	}
	switch scheme {
	case "sqlite":
		return "sqlite", nil
	case "postgres", "postgresql":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	default:
		return "", fmt.Errorf("unknown database scheme %q", scheme)
	}
}

func hasPathname(u *url.URL) bool {
	return strings.Trim(u.Path, "/") != ""
}

// resolveStorage mirrors the reference's local-folder-vs-S3-URL branch: a
// leading "/" or "file://" resolves and creates a local directory; anything
// else must be a parseable S3-shaped URL.
func (s *Settings) resolveStorage() error {
	const filePrefix = "file://"

	lower := strings.ToLower(s.Storage)
	if strings.HasPrefix(s.Storage, "/") || strings.HasPrefix(lower, filePrefix) {
		path := s.Storage
		if strings.HasPrefix(lower, filePrefix) {
			path = s.Storage[len(filePrefix):]
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return &apperr.ConfigError{Config: "storage", Reason: "invalid storage directory"}
		}
		s.StoragePath = path
		return nil
	}

	u, err := url.Parse(s.Storage)
	if err != nil || u.Host == "" {
		return &apperr.ConfigError{Config: "storage", Reason: "invalid storage URL"}
	}
	return nil
}
