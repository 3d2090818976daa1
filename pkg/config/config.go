package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"LighthouseMacro/pkg/logger"
)

type Config struct {
	Environment string        `yaml:"environment" default:"development" validate:"oneof=development production test"`
	Log         logger.Config `yaml:"log"`
	Catalog     struct {
		Series     string `yaml:"series" default:"config/series.yaml" validate:"required"`
		Composites string `yaml:"composites" default:"config/composites.yaml" validate:"required"`
	} `yaml:"catalog"`
	SecretsFile string          `yaml:"secrets_file" default:"config/secrets.env"`
	Store       StoreConfig     `yaml:"store"`
	Output      OutputConfig    `yaml:"output"`
	Fetch       FetchConfig     `yaml:"fetch"`
	Build       BuildConfig     `yaml:"build"`
	Providers   ProvidersConfig `yaml:"providers"`
	Cache       CacheConfig     `yaml:"cache"`
	ClickHouse  ClickHouse      `yaml:"clickhouse"`
	Kafka       Kafka           `yaml:"kafka"`
	Metrics     Metrics         `yaml:"metrics"`
	Server      Server          `yaml:"server"`
}

type StoreConfig struct {
	Path        string        `yaml:"path" default:"data/raw.db" validate:"required"`
	BusyTimeout time.Duration `yaml:"busy_timeout" default:"5s"`
}

type OutputConfig struct {
	Dir string `yaml:"dir" default:"data/output" validate:"required"`
}

type FetchConfig struct {
	FanOut                   int           `yaml:"fan_out" default:"4" validate:"gte=1,lte=32"`
	ReconciliationWindowDays int           `yaml:"reconciliation_window_days" default:"30" validate:"gte=0"`
	BackfillYears            int           `yaml:"backfill_years" default:"20" validate:"gte=1"`
	MaxRetries               int           `yaml:"max_retries" default:"3" validate:"gte=0,lte=10"`
	BaseBackoff              time.Duration `yaml:"base_backoff" default:"1s"`
	RequestTimeout           time.Duration `yaml:"request_timeout" default:"30s"`
	LockTTL                  time.Duration `yaml:"lock_ttl" default:"10m"`
	// Series restricts a fetch to these ids; empty means the whole catalog.
	Series []string `yaml:"series"`
}

type BuildConfig struct {
	LookbackDays int    `yaml:"lookback_days" default:"7300" validate:"gte=1"`
	FillPolicy   string `yaml:"fill_policy" default:"forward" validate:"oneof=forward none"`
}

// ProviderConfig tunes one source adapter. Empty BaseURL falls back to the
// provider's public endpoint.
type ProviderConfig struct {
	Enabled           *bool   `yaml:"enabled"`
	BaseURL           string  `yaml:"base_url" validate:"omitempty,url"`
	CredentialKey     string  `yaml:"credential_key"`
	RequestsPerSecond float64 `yaml:"requests_per_second" default:"2" validate:"gt=0"`
	Burst             int     `yaml:"burst" default:"1" validate:"gte=1"`
	PageSize          int     `yaml:"page_size" default:"10000" validate:"gte=1"`
}

func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

type ProvidersConfig struct {
	Economic   ProviderConfig `yaml:"economic-data"`
	Market     ProviderConfig `yaml:"market-data"`
	Stablecoin ProviderConfig `yaml:"stablecoin"`
	Fiscal     ProviderConfig `yaml:"fiscal"`
	Labor      ProviderConfig `yaml:"labor"`
}

// For returns the settings for a provider name.
func (p *ProvidersConfig) For(provider string) (ProviderConfig, bool) {
	switch provider {
	case "economic-data":
		return p.Economic, true
	case "market-data":
		return p.Market, true
	case "stablecoin":
		return p.Stablecoin, true
	case "fiscal":
		return p.Fiscal, true
	case "labor":
		return p.Labor, true
	}
	return ProviderConfig{}, false
}

type CacheConfig struct {
	Backend     string        `yaml:"backend" default:"memory" validate:"oneof=memory redis layered"`
	ResponseTTL time.Duration `yaml:"response_ttl"`
	Redis       struct {
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"lhm"`
	} `yaml:"redis"`
}

type ClickHouse struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host" default:"localhost"`
	Port         int           `yaml:"port" default:"9000"`
	Database     string        `yaml:"database" default:"lighthouse"`
	User         string        `yaml:"user" default:"default"`
	Password     string        `yaml:"password"`
	Table        string        `yaml:"table" default:"indicator_values"`
	UseHTTP      bool          `yaml:"use_http"`
	DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"30s"`
}

type Kafka struct {
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers" validate:"required_if=Enabled true"`
	RunTopic      string        `yaml:"run_topic" default:"lighthouse.runs"`
	RevisionTopic string        `yaml:"revision_topic" default:"lighthouse.revisions"`
	RequiredAcks  int           `yaml:"required_acks" default:"-1" validate:"oneof=-1 0 1"`
	Compression   string        `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	MaxAttempts   int           `yaml:"max_attempts" default:"3" validate:"gte=1"`
	BatchTimeout  time.Duration `yaml:"batch_timeout" default:"50ms"`
	WriteTimeout  time.Duration `yaml:"write_timeout" default:"10s"`
}

type Metrics struct {
	PushgatewayURL string `yaml:"pushgateway_url" validate:"omitempty,url"`
	Job            string `yaml:"job" default:"lighthouse_engine"`
}

type Server struct {
	Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
}

// Load reads, defaults and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	var c Config
	if err := DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
// The environment is read here once; nothing downstream consults it.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("LHM_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("LHM_OUTPUT_DIR"); v != "" {
		c.Output.Dir = v
	}
	if v := os.Getenv("LHM_REDIS_ADDR"); v != "" {
		c.Cache.Backend = "redis"
		c.Cache.Redis.Addr = v
	}
	if v := os.Getenv("LHM_KAFKA_BROKERS"); v != "" {
		c.Kafka.Enabled = true
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("LHM_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate runs struct validation after overrides have been applied.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}
