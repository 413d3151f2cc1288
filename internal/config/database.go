package config

import (
	"fmt"
	"time"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverMongoDB  = "mongodb"
	StoreDriverMemory   = "memory"
)

type StoreConfig struct {
	Driver string `env:"STORE_DRIVER" envDefault:"sqlite"`

	PostgresURL             string        `env:"POSTGRES_URL" envDefault:"postgres://localhost:5432/affiliate_ledger?sslmode=disable"`
	PostgresMaxConns        int32         `env:"POSTGRES_MAX_CONNS" envDefault:"10"`
	PostgresMinConns        int32         `env:"POSTGRES_MIN_CONNS" envDefault:"1"`
	PostgresMaxConnLifetime time.Duration `env:"POSTGRES_MAX_CONN_LIFETIME" envDefault:"1h"`

	SQLitePath string `env:"SQLITE_PATH" envDefault:"affiliate-ledger.db"`

	MongoURI            string        `env:"MONGODB_URI" envDefault:"mongodb://localhost:27017"`
	MongoDatabase       string        `env:"MONGODB_DATABASE" envDefault:"affiliate_ledger"`
	MongoMaxPoolSize    int           `env:"MONGODB_MAX_POOL_SIZE" envDefault:"50"`
	MongoMinPoolSize    int           `env:"MONGODB_MIN_POOL_SIZE" envDefault:"1"`
	MongoConnectTimeout time.Duration `env:"MONGODB_CONNECT_TIMEOUT" envDefault:"10s"`
	MongoSocketTimeout  time.Duration `env:"MONGODB_SOCKET_TIMEOUT" envDefault:"30s"`

	ConnectTimeout time.Duration `env:"STORE_CONNECT_TIMEOUT" envDefault:"10s"`
}

func (c *StoreConfig) validate() error {
	switch c.Driver {
	case StoreDriverPostgres, StoreDriverSQLite, StoreDriverMongoDB, StoreDriverMemory:
		return nil
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Driver)
	}
}
