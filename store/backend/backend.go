// Package backend opens a store.Store by driver name.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/xraph/getanswer/store"
	"github.com/xraph/getanswer/store/memory"
	"github.com/xraph/getanswer/store/mongo"
	"github.com/xraph/getanswer/store/postgres"
	"github.com/xraph/getanswer/store/sqlite"
)

// Supported drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Config selects and locates a backend.
type Config struct {
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver" toml:"driver"`

	// DSN is a file path for sqlite, a connection string for postgres,
	// and a URI for mongo.
	DSN string `json:"dsn" mapstructure:"dsn" yaml:"dsn" toml:"dsn"`

	// Database names the mongo database. Ignored by other drivers.
	Database string `json:"database" mapstructure:"database" yaml:"database" toml:"database"`

	// Namespace selects the mongo document holding the keys.
	Namespace string `json:"namespace" mapstructure:"namespace" yaml:"namespace" toml:"namespace"`
}

// Validate reports missing fields for the selected driver.
func (c Config) Validate() error {
	switch Normalize(c.Driver) {
	case DriverMemory:
		return nil
	case DriverSQLite, DriverPostgres:
		if c.DSN == "" {
			return fmt.Errorf("backend: %s driver requires a dsn", c.Driver)
		}
		return nil
	case DriverMongo:
		if c.DSN == "" || c.Database == "" {
			return fmt.Errorf("backend: mongo driver requires a dsn and a database")
		}
		return nil
	}
	return fmt.Errorf("backend: unknown driver %q", c.Driver)
}

// Open connects to the configured backend. An empty driver opens a memory
// store.
func Open(ctx context.Context, c Config) (store.Store, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	switch Normalize(c.Driver) {
	case DriverSQLite:
		s, err := sqlite.Open(c.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		s, err := postgres.Open(ctx, c.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverMongo:
		var opts []mongo.Option
		if c.Namespace != "" {
			opts = append(opts, mongo.WithNamespace(c.Namespace))
		}
		s, err := mongo.Open(ctx, c.DSN, c.Database, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return memory.New(), nil
	}
}

// Normalize maps driver aliases to the canonical driver name. An empty
// driver is the memory store.
func Normalize(driver string) string {
	switch d := strings.ToLower(strings.TrimSpace(driver)); d {
	case "":
		return DriverMemory
	case "pg", "postgresql":
		return DriverPostgres
	case "sqlite3":
		return DriverSQLite
	case "mongodb":
		return DriverMongo
	default:
		return d
	}
}
