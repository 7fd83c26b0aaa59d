package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/imdario/mergo"
)

var validate = validator.New()

type Config struct {
	Environment string         `yaml:"environment" validate:"required,oneof=production development"`
	Storage     StorageConfig  `yaml:"storage"     validate:"required"`
	NATS        NATSConfig     `yaml:"nats"`
	Cache       CacheConfig    `yaml:"cache"`
	API         APIConfig      `yaml:"api"`
	Networks    NetworksConfig `yaml:"networks"    validate:"required"`
}

type StorageConfig struct {
	Directory string `yaml:"directory" validate:"required"`
}

type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type CacheConfig struct {
	Capacity int           `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`
}

type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	PageSize   int    `yaml:"page_size"`
}

type NetworksConfig struct {
	Defaults NetworkConfig            `yaml:"defaults" validate:"-"`
	Items    map[string]NetworkConfig `yaml:",inline"  validate:"required,dive"`
}

// UnmarshalYAML splits out "defaults" from inline network entries.
func (n *NetworksConfig) UnmarshalYAML(b []byte) error {
	var raw map[string]NetworkConfig
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		raw = map[string]NetworkConfig{}
	}
	if def, ok := raw["defaults"]; ok {
		n.Defaults = def
		delete(raw, "defaults")
	}
	n.Items = raw
	return nil
}

type NetworkConfig struct {
	Name              string        `yaml:"name"`
	ExplorerURL       string        `yaml:"explorer_url"`
	Nodes             []Node        `yaml:"nodes" validate:"required,min=1,dive"`
	Tokens            []TokenConfig `yaml:"tokens" validate:"dive"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	ChunkSize         uint64        `yaml:"chunk_size"`
	InitialLookback   uint64        `yaml:"initial_lookback"`
	ConfirmationDepth uint64        `yaml:"confirmation_depth"`
	Client            ClientConfig  `yaml:"client"`
}

type Node struct {
	URL  string `yaml:"url" validate:"required,url"`
	Auth *Auth  `yaml:"auth"`
}

type Auth struct {
	Type  string `yaml:"type" validate:"omitempty,oneof=header query"`
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

type TokenConfig struct {
	Contract string `yaml:"contract" validate:"required"`
	Symbol   string `yaml:"symbol"   validate:"required"`
	Decimals int    `yaml:"decimals" validate:"gte=0,lte=36"`
}

type ClientConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

const (
	DefaultPollInterval    = 5 * time.Second
	DefaultChunkSize       = 2000
	DefaultInitialLookback = 10_000
	DefaultClientTimeout   = 15 * time.Second
	DefaultCacheCapacity   = 1024
	DefaultCacheTTL        = 5 * time.Minute
	DefaultPageSize        = 20
)

func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}

	// merge per-network defaults
	for name, network := range cfg.Networks.Items {
		if err := mergo.Merge(&network, cfg.Networks.Defaults); err != nil {
			return cfg, err
		}
		if network.Name == "" {
			network.Name = name
		}
		network.applyDefaults()
		cfg.Networks.Items[name] = network
	}
	cfg.applyDefaults()

	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Cache.Capacity == 0 {
		c.Cache.Capacity = DefaultCacheCapacity
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.API.PageSize == 0 {
		c.API.PageSize = DefaultPageSize
	}
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
}

func (n *NetworkConfig) applyDefaults() {
	if n.PollInterval == 0 {
		n.PollInterval = DefaultPollInterval
	}
	if n.ChunkSize == 0 {
		n.ChunkSize = DefaultChunkSize
	}
	if n.InitialLookback == 0 {
		n.InitialLookback = DefaultInitialLookback
	}
	if n.Client.Timeout == 0 {
		n.Client.Timeout = DefaultClientTimeout
	}
}
