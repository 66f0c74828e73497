package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envMap(m map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()
	err := applyEnv(&cfg, envMap(map[string]string{
		"PORT":                  "8080",
		"STORAGE_DRIVER":        "memory",
		"MONGO_DATABASE":        "other",
		"MONGO_CONNECT_TIMEOUT": "3s",
		"CACHE_TTL":             "30s",
		"DEBUG":                 "true",
	}))
	if err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Port != "8080" || cfg.Driver != DriverMemory || cfg.Mongo.Database != "other" || !cfg.Debug {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Mongo.ConnectTimeout.Duration != 3*time.Second {
		t.Fatalf("unexpected connect timeout: %v", cfg.Mongo.ConnectTimeout)
	}
	if cfg.Redis.TTL.Duration != 30*time.Second {
		t.Fatalf("unexpected ttl: %v", cfg.Redis.TTL)
	}
	if cfg.Mongo.Collection != "todos" {
		t.Fatalf("expected untouched collection default, got %q", cfg.Mongo.Collection)
	}
}

func TestApplyEnvRejectsInvalidValues(t *testing.T) {
	testCases := map[string]map[string]string{
		"duration": {"CACHE_TTL": "soon"},
		"debug":    {"DEBUG": "maybe"},
	}
	for name, env := range testCases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			if err := applyEnv(&cfg, envMap(env)); err == nil {
				t.Fatalf("expected error for %v", env)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tables := Default()
	tables.Driver = DriverTables
	if err := tables.Validate(); err == nil {
		t.Fatalf("expected tables driver without connection string to fail")
	}
	tables.Tables.ConnectionString = "UseDevelopmentStorage=true"
	if err := tables.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	unknown := Default()
	unknown.Driver = "sqlite"
	if err := unknown.Validate(); err == nil {
		t.Fatalf("expected unknown driver to fail")
	}

	mongo := Default()
	mongo.Mongo.URI = ""
	if err := mongo.Validate(); err == nil {
		t.Fatalf("expected missing mongo uri to fail")
	}

	deduper := Default()
	deduper.Redis.DeduperTTL = Duration{}
	if err := deduper.Validate(); err == nil {
		t.Fatalf("expected zero deduper ttl to fail")
	}
}

func TestLoadReadsTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "todo.toml")
	data := `
port = "4000"
storage_driver = "memory"

[redis]
connection_string = "localhost:6379"
ttl = "2m"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "4000" || cfg.Driver != DriverMemory {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Redis.ConnectionString != "localhost:6379" || cfg.Redis.TTL.Duration != 2*time.Minute {
		t.Fatalf("unexpected redis config: %+v", cfg.Redis)
	}
}

func TestRedisOptions(t *testing.T) {
	opts, err := Redis{ConnectionString: "redis://:secret@cache:6380/0"}.RedisOptions()
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if opts.Addr != "cache:6380" || opts.Password != "secret" {
		t.Fatalf("unexpected options: %+v", opts)
	}

	opts, err = Redis{ConnectionString: "todo.redis.cache.windows.net:6380,password=pw,ssl=True,abortConnect=False"}.RedisOptions()
	if err != nil {
		t.Fatalf("parse azure form: %v", err)
	}
	if opts.Addr != "todo.redis.cache.windows.net:6380" || opts.Password != "pw" || opts.TLSConfig == nil {
		t.Fatalf("unexpected options: %+v", opts)
	}

	if _, err := (Redis{}).RedisOptions(); err == nil {
		t.Fatalf("expected error for empty connection string")
	}
}
