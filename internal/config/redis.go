package config

import "time"

// RedisConfig enables the vendor cache when Enabled is set.
type RedisConfig struct {
	Enabled      bool          `env:"REDIS_ENABLED" envDefault:"false"`
	Host         string        `env:"REDIS_HOST" envDefault:"localhost"`
	Port         int           `env:"REDIS_PORT" envDefault:"6379"`
	Password     string        `env:"REDIS_PASSWORD"`
	DB           int           `env:"REDIS_DB" envDefault:"0"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
	KeyPrefix    string        `env:"REDIS_KEY_PREFIX" envDefault:"ledger:"`
	VendorTTL    time.Duration `env:"REDIS_VENDOR_TTL" envDefault:"5m"`
}
