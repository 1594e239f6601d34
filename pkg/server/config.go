package server

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/townhall/pkg/datastore"
	"github.com/NicolasHaas/townhall/pkg/logging"
	"github.com/NicolasHaas/townhall/pkg/model"
	"github.com/NicolasHaas/townhall/pkg/town"
)

// Config holds server configuration.
type Config struct {
	HTTPAddr     string `env:"TOWNHALL_HTTP_ADDR"`     // REST + websocket bind address
	MetricsAddr  string `env:"TOWNHALL_METRICS_ADDR"`  // /metrics and /healthz bind address (empty = disabled)
	DBPath       string `env:"TOWNHALL_DB_PATH"`       // SQLite journal path (empty = in-memory journal)
	TownsFile    string `env:"TOWNHALL_TOWNS_FILE"`    // YAML file of towns to create on startup
	TownCapacity int    `env:"TOWNHALL_TOWN_CAPACITY"` // maximum occupancy reported per town
	LogLevel     string `env:"TOWNHALL_LOG_LEVEL"`
	LogFormat    string `env:"TOWNHALL_LOG_FORMAT"`

	// OverridePassword unlocks every town. Read from the one canonical key.
	OverridePassword string `env:"MASTER_TOWN_PASSWORD"`

	// CLI-only actions (run and exit)
	ExportTowns bool
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:     ":8081",
		MetricsAddr:  ":8082",
		DBPath:       "townhall.db",
		TownCapacity: model.TownDefaultCapacity,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// LoadConfig starts from DefaultConfig and applies the environment. Files
// in envFiles are loaded first with godotenv; missing files are skipped and
// variables already set in the process win over file values.
func LoadConfig(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	cfg := DefaultConfig()
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: environment: %w", err)
	}
	return cfg, nil
}

// Validate rejects values the server cannot start with.
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: http address must not be empty")
	}
	if c.TownCapacity <= 0 {
		return fmt.Errorf("config: town capacity must be positive, got %d", c.TownCapacity)
	}
	if err := logging.Validate(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := logging.ValidateFormat(c.LogFormat); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// TownYAML represents a town in the YAML seed file and in exports.
type TownYAML struct {
	ID           string `yaml:"id,omitempty"`
	FriendlyName string `yaml:"friendly_name"`
	Public       bool   `yaml:"public"`
	CreatedAt    string `yaml:"created_at,omitempty"`
	DeletedAt    string `yaml:"deleted_at,omitempty"`
}

// TownsConfig is the top-level YAML for towns.
type TownsConfig struct {
	Towns []TownYAML `yaml:"towns"`
}

// LoadTownsFromYAML reads a towns YAML file and creates each town in st.
func LoadTownsFromYAML(path string, st *town.Store) ([]*town.Controller, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return nil, fmt.Errorf("read towns config: %w", err)
	}
	return ImportTownsFromYAML(data, st)
}

// ImportTownsFromYAML parses YAML data and creates the towns it lists.
// Entries with an invalid name are skipped. Ids in the file are ignored;
// every seeded town gets a fresh id and update password, logged once.
func ImportTownsFromYAML(data []byte, st *town.Store) ([]*town.Controller, error) {
	var cfg TownsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse towns config: %w", err)
	}

	var created []*town.Controller
	for _, t := range cfg.Towns {
		if err := model.ValidateFriendlyName(t.FriendlyName); err != nil {
			slog.Error("skipping town from config", "name", t.FriendlyName, "err", err)
			continue
		}
		c := st.CreateTown(t.FriendlyName, t.Public)
		slog.Info("seeded town", "town", c.ID(), "name", t.FriendlyName, "public", t.Public)
		slog.Debug("seeded town password", "town", c.ID(), "password", c.UpdatePassword())
		created = append(created, c)
	}

	slog.Info("imported towns from YAML", "count", len(created))
	return created, nil
}

// ExportTownsYAML exports journaled towns as YAML. Password digests are
// never exported.
func ExportTownsYAML(ds datastore.DataStore, includeDeleted bool) ([]byte, error) {
	towns, err := ds.ListTowns(includeDeleted)
	if err != nil {
		return nil, err
	}

	export := TownsConfig{Towns: []TownYAML{}}
	for _, t := range towns {
		entry := TownYAML{
			ID:           t.ID,
			FriendlyName: t.FriendlyName,
			Public:       t.IsPubliclyListed,
			CreatedAt:    t.CreatedAt.Format(time.RFC3339),
		}
		if t.IsDeleted() {
			entry.DeletedAt = t.DeletedAt.Format(time.RFC3339)
		}
		export.Towns = append(export.Towns, entry)
	}
	return yaml.Marshal(&export)
}
