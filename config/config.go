// Package config loads and saves the migration configuration document.
//
// The configuration is a human-editable YAML file holding the source
// database location, target region, batch size and the logical to physical
// table mapping with per-table DynamoDB schemas.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the configuration document written next to the state file.
const DefaultFile = "migration_config.yaml"

// LogicalTables is the fixed migration order of the logical tables.
var LogicalTables = []string{
	"MusicCatalog",
	"CustomerOrders",
	"Playlists",
	"EmployeeManagement",
}

// GSI describes a global secondary index on a target table.
//
// Keys holds one attribute name (hash only) or two (hash then range).
type GSI struct {
	IndexName string   `yaml:"index_name"`
	Keys      []string `yaml:"keys"`
}

// TableSchema describes the target DynamoDB table layout for a logical table.
type TableSchema struct {
	BillingMode string `yaml:"billing_mode"`
	GSIs        []GSI  `yaml:"global_secondary_indexes"`
}

// Config is the persisted migration configuration.
type Config struct {
	SourceDB     string                 `yaml:"source_db"`
	AWSRegion    string                 `yaml:"aws_region"`
	BatchSize    int                    `yaml:"batch_size"`
	TargetTables map[string]string      `yaml:"target_tables"`
	TableSchemas map[string]TableSchema `yaml:"table_schemas"`
}

// Default returns the configuration the original Chinook dataset migrates
// under: four single-table designs, name/genre search indexes on the music
// catalog and an email search index on customer orders.
func Default() *Config {
	return &Config{
		AWSRegion: "us-east-1",
		BatchSize: 25,
		TargetTables: map[string]string{
			"MusicCatalog":       "chinook-music-catalog",
			"CustomerOrders":     "chinook-customer-orders",
			"Playlists":          "chinook-playlists",
			"EmployeeManagement": "chinook-employee-management",
		},
		TableSchemas: map[string]TableSchema{
			"MusicCatalog": {
				BillingMode: "PAY_PER_REQUEST",
				GSIs: []GSI{
					{IndexName: "GSI1-NameSearch", Keys: []string{"GSI1PK", "GSI1SK"}},
					{IndexName: "GSI2-GenreSearch", Keys: []string{"GSI2PK"}},
				},
			},
			"CustomerOrders": {
				BillingMode: "PAY_PER_REQUEST",
				GSIs: []GSI{
					{IndexName: "GSI1-EmailSearch", Keys: []string{"GSI1PK", "GSI1SK"}},
				},
			},
			"Playlists":          {BillingMode: "PAY_PER_REQUEST"},
			"EmployeeManagement": {BillingMode: "PAY_PER_REQUEST"},
		},
	}
}

// Load reads the configuration document. Missing fields are backfilled from
// the defaults so older documents stay loadable.
func Load(path string) (*Config, error) {

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("unable to parse config %s: %w", path, err)
	}

	if cfg.BatchSize < 1 {
		cfg.BatchSize = Default().BatchSize
	}

	return cfg, nil
}

// Save writes the whole configuration document in one overwrite.
func (c *Config) Save(path string) error {

	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("unable to marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("unable to write config %s: %w", path, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("unable to replace config %s: %w", path, err)
	}

	return nil
}

// PhysicalTable resolves a logical table name to its DynamoDB table name.
func (c *Config) PhysicalTable(logical string) (string, error) {
	name, ok := c.TargetTables[logical]
	if !ok {
		return "", fmt.Errorf("unknown logical table %q", logical)
	}
	return name, nil
}

// Schema resolves the target schema for a logical table.
func (c *Config) Schema(logical string) TableSchema {
	return c.TableSchemas[logical]
}

// ValidateSource checks the source database file exists before a run.
func (c *Config) ValidateSource() error {
	if c.SourceDB == "" {
		return fmt.Errorf("no source database configured")
	}
	if _, err := os.Stat(c.SourceDB); err != nil {
		return fmt.Errorf("source database not found: %s", c.SourceDB)
	}
	return nil
}

// AbsSource normalises the source database path.
func AbsSource(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
