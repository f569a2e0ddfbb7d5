package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rl1809/inventory-ledger/internal/logger"
)

const envPrefix = "INVLEDGER"

type Config struct {
	HTTP   HTTPConfig    `mapstructure:"http"`
	GRPC   GRPCConfig    `mapstructure:"grpc"`
	Store  StoreConfig   `mapstructure:"store"`
	Redis  RedisConfig   `mapstructure:"redis"`
	Ledger LedgerConfig  `mapstructure:"ledger"`
	Sync   SyncConfig    `mapstructure:"sync"`
	Log    logger.Config `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type GRPCConfig struct {
	Enable bool   `mapstructure:"enable"`
	Addr   string `mapstructure:"addr"`
}

// StoreConfig selects the Local Store backend.
type StoreConfig struct {
	Driver          string        `mapstructure:"driver"` // memory | mysql | postgres
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

type RedisConfig struct {
	Enable         bool          `mapstructure:"enable"`
	Addr           string        `mapstructure:"addr"`
	PoolSize       int           `mapstructure:"pool_size"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

type LedgerConfig struct {
	RPCURL             string        `mapstructure:"rpc_url"`
	CallTimeout        time.Duration `mapstructure:"call_timeout"`
	RPS                float64       `mapstructure:"rps"`
	Burst              int           `mapstructure:"burst"`
	DeployPollAttempts int           `mapstructure:"deploy_poll_attempts"`
	DeployPollInterval time.Duration `mapstructure:"deploy_poll_interval"`
}

type SyncConfig struct {
	Interval    time.Duration `mapstructure:"interval"` // 0 disables the background loop
	Workers     int           `mapstructure:"workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("grpc.enable", true)
	v.SetDefault("grpc.addr", ":50051")

	v.SetDefault("store.driver", "mysql")
	v.SetDefault("store.dsn", "root:root@tcp(localhost:3306)/inventory?parseTime=true")
	v.SetDefault("store.max_open_conns", 50)
	v.SetDefault("store.max_idle_conns", 25)
	v.SetDefault("store.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("store.migrate", true)

	v.SetDefault("redis.enable", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.idempotency_ttl", 24*time.Hour)

	v.SetDefault("ledger.rpc_url", "http://127.0.0.1:7545")
	v.SetDefault("ledger.call_timeout", 5*time.Second)
	v.SetDefault("ledger.rps", 50.0)
	v.SetDefault("ledger.burst", 10)
	v.SetDefault("ledger.deploy_poll_attempts", 20)
	v.SetDefault("ledger.deploy_poll_interval", 250*time.Millisecond)

	v.SetDefault("sync.interval", 30*time.Second)
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.queue_size", 1000)
	v.SetDefault("sync.task_timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads defaults, then the optional YAML file at path, then
// INVLEDGER_* environment variables (e.g. INVLEDGER_LEDGER_RPC_URL).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case "memory":
	case "mysql", "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver))
		}
		if c.Store.MaxOpenConns <= 0 {
			errs = append(errs, errors.New("store.max_open_conns must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of memory, mysql, postgres", c.Store.Driver))
	}

	if c.Ledger.RPCURL == "" {
		errs = append(errs, errors.New("ledger.rpc_url is required"))
	}
	if c.Ledger.CallTimeout <= 0 {
		errs = append(errs, errors.New("ledger.call_timeout must be positive"))
	}
	if c.Sync.Workers <= 0 {
		errs = append(errs, errors.New("sync.workers must be positive"))
	}
	if c.Sync.QueueSize <= 0 {
		errs = append(errs, errors.New("sync.queue_size must be positive"))
	}
	if c.Sync.Interval < 0 {
		errs = append(errs, errors.New("sync.interval cannot be negative"))
	}

	return errors.Join(errs...)
}
