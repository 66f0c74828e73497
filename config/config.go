// Package config loads the service configuration from defaults, an optional
// TOML file and environment variables, in that order of precedence.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/redis/go-redis/v9"
)

// Storage drivers.
const (
	DriverMongo  = "mongo"
	DriverTables = "tables"
	DriverMemory = "memory"
)

// Config is the service configuration.
type Config struct {
	Port      string `toml:"port"`
	Debug     bool   `toml:"debug"`
	AssetsDir string `toml:"assets_dir"`
	Driver    string `toml:"storage_driver"`

	Mongo  Mongo  `toml:"mongo"`
	Tables Tables `toml:"tables"`
	Redis  Redis  `toml:"redis"`
}

// Mongo holds the document store settings.
type Mongo struct {
	URI            string   `toml:"uri"`
	Database       string   `toml:"database"`
	Collection     string   `toml:"collection"`
	ConnectTimeout Duration `toml:"connect_timeout"`
	PingTimeout    Duration `toml:"ping_timeout"`
}

// Tables holds the Azure Table Storage settings.
type Tables struct {
	ConnectionString string `toml:"connection_string"`
	Table            string `toml:"table"`
}

// Redis holds the read cache settings. An empty connection string disables
// caching.
type Redis struct {
	ConnectionString string   `toml:"connection_string"`
	TTL              Duration `toml:"ttl"`
	// DeduperTTL is how long create idempotency keys are remembered.
	DeduperTTL Duration `toml:"deduper_ttl"`
}

// Duration decodes TOML strings such as "5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Port:      "3000",
		AssetsDir: "./assets",
		Driver:    DriverMongo,
		Mongo: Mongo{
			URI:            "mongodb://localhost:27017",
			Database:       "todo",
			Collection:     "todos",
			ConnectTimeout: Duration{10 * time.Second},
			PingTimeout:    Duration{5 * time.Second},
		},
		Tables: Tables{Table: "todos"},
		Redis:  Redis{TTL: Duration{time.Minute}, DeduperTTL: Duration{24 * time.Hour}},
	}
}

// Load builds the configuration. The TOML file named by CONFIG_FILE is
// applied over the defaults, then environment variables override both.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		dst.Duration = d
		return nil
	}

	str("PORT", &cfg.Port)
	str("ASSETS_DIR", &cfg.AssetsDir)
	str("STORAGE_DRIVER", &cfg.Driver)
	str("MONGO_URI", &cfg.Mongo.URI)
	str("MONGO_DATABASE", &cfg.Mongo.Database)
	str("MONGO_COLLECTION", &cfg.Mongo.Collection)
	str("STORAGE_CONNECTION_STRING", &cfg.Tables.ConnectionString)
	str("TODOS_TABLE", &cfg.Tables.Table)
	str("REDIS_CONNECTION_STRING", &cfg.Redis.ConnectionString)

	if v, ok := lookup("DEBUG"); ok && v != "" {
		dbg, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DEBUG: %w", err)
		}
		cfg.Debug = dbg
	}
	for key, dst := range map[string]*Duration{
		"MONGO_CONNECT_TIMEOUT": &cfg.Mongo.ConnectTimeout,
		"MONGO_PING_TIMEOUT":    &cfg.Mongo.PingTimeout,
		"CACHE_TTL":             &cfg.Redis.TTL,
		"DEDUPER_TTL":           &cfg.Redis.DeduperTTL,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate reports settings the selected driver cannot start without.
func (c Config) Validate() error {
	if c.Port == "" {
		return errors.New("missing port")
	}
	switch c.Driver {
	case DriverMongo:
		if c.Mongo.URI == "" || c.Mongo.Database == "" || c.Mongo.Collection == "" {
			return errors.New("missing mongo config")
		}
		if c.Mongo.ConnectTimeout.Duration <= 0 || c.Mongo.PingTimeout.Duration <= 0 {
			return errors.New("invalid mongo timeouts: must be greater than zero")
		}
	case DriverTables:
		if c.Tables.ConnectionString == "" || c.Tables.Table == "" {
			return errors.New("missing storage config")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Driver)
	}
	if c.Redis.TTL.Duration < 0 {
		return errors.New("invalid CACHE_TTL: must not be negative")
	}
	if c.Redis.DeduperTTL.Duration <= 0 {
		return errors.New("invalid DEDUPER_TTL: must be greater than zero")
	}
	return nil
}

// RedisOptions parses the cache connection string. Both redis:// URLs and
// the Azure "host:port,password=...,ssl=True" form are accepted.
func (r Redis) RedisOptions() (*redis.Options, error) {
	if r.ConnectionString == "" {
		return nil, errors.New("missing redis connection string")
	}
	if opts, err := redis.ParseURL(r.ConnectionString); err == nil {
		return opts, nil
	}
	parts := strings.Split(r.ConnectionString, ",")
	opts := &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}
