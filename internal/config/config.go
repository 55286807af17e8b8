package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config represents the application configuration structure
type Config struct {
	// Environment defines whether the application runs in 'production' or 'staging' mode
	Environment string `default:"production"`

	// ListenAddress defines the listen address of the report API
	ListenAddress string `default:":8080" split_words:"true"`

	// StorageDriver defines the account storage driver to use ('postgres' or 'memory')
	StorageDriver string `default:"postgres" split_words:"true"`

	// PostgresDSN defines the DSN of the PostgreSQL account database
	PostgresDSN string `split_words:"true"`

	// EngineBaseURL defines the base URL of the external report parsing engine
	EngineBaseURL string `required:"true" split_words:"true"`

	// EngineTimeout defines the per-call timeout of the parsing engine adapter
	EngineTimeout time.Duration `default:"10s" split_words:"true"`

	// StationSourceURL defines the URL the bulk station list is downloaded from
	StationSourceURL string `required:"true" split_words:"true"`

	// StationRefreshInterval defines how often the station index is rebuilt
	StationRefreshInterval time.Duration `default:"24h" split_words:"true"`

	// CacheTTL defines how long a fetched report is served from the cache
	CacheTTL time.Duration `default:"2m" split_words:"true"`

	// CacheSweepInterval defines how often long-expired cache entries are reclaimed.
	// A value of 0 disables the sweep; expiry itself is always enforced on read.
	CacheSweepInterval time.Duration `default:"10m" split_words:"true"`

	// QuotaWindow defines the fixed window the per-account request limits are enforced over
	QuotaWindow time.Duration `default:"1h" split_words:"true"`

	// QuotaFlushInterval defines how often accumulated usage counters are persisted
	QuotaFlushInterval time.Duration `default:"1m" split_words:"true"`

	// AllowAnonymous defines whether requests without a token are served at all
	AllowAnonymous bool `default:"false" split_words:"true"`

	// AnonymousLimit defines the per-window request limit applied to anonymous clients
	AnonymousLimit int64 `default:"10" split_words:"true"`
}

// LoadFromEnv loads a new configuration structure using environment variables and an optional .env file
func LoadFromEnv() (*Config, error) {
	// Load a .env file if it exists
	_ = godotenv.Overload()

	// Load a new configuration structure using environment variables
	config := new(Config)
	if err := envconfig.Process("sb", config); err != nil {
		return nil, err
	}
	return config, nil
}

// IsEnvProduction returns whether the application runs in 'production' mode
func (config *Config) IsEnvProduction() bool {
	return strings.EqualFold(config.Environment, "production")
}
