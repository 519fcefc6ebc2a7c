// Package config loads the YAML configuration of a cs-router process.
//
// Loading starts from Default(), overlays the file, then CSROUTER_* environment
// variables, and finally validates:
//
//	role: data-server
//	rank: 0
//	listen: ":7000"
//	registry:
//	  kind: etcd
//	  endpoints: ["127.0.0.1:2379"]
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"cs-router/codec"
	"cs-router/destination"
	"cs-router/errors"
)

// Process roles.
const (
	RoleClient       = "client"
	RoleDataServer   = "data-server"
	RoleRenderServer = "render-server"
)

// Registry kinds.
const (
	RegistryEtcd   = "etcd"
	RegistryMemory = "memory"
)

// Group transports.
const (
	TransportTCP  = "tcp"
	TransportNATS = "nats"
)

const envPrefix = "CSROUTER_"

type Config struct {
	Role      string `yaml:"role"`
	Rank      int    `yaml:"rank"`
	Listen    string `yaml:"listen"`
	Advertise string `yaml:"advertise,omitempty"` // registered address; defaults to the listener address
	Codec     string `yaml:"codec"`
	Topology  string `yaml:"topology,omitempty"` // "" or "single-process"

	ReportInterpreterErrors bool `yaml:"report_interpreter_errors"`

	Registry    RegistryConfig   `yaml:"registry"`
	NATS        NATSConfig       `yaml:"nats,omitempty"`
	Groups      GroupsConfig     `yaml:"groups"`
	Middleware  MiddlewareConfig `yaml:"middleware"`
	MetricsAddr string           `yaml:"metrics_addr,omitempty"`
	Log         LogConfig        `yaml:"log"`
}

type RegistryConfig struct {
	Kind      string   `yaml:"kind"`
	Endpoints []string `yaml:"endpoints,omitempty"`
	TTL       int64    `yaml:"ttl"` // seconds
}

// NATSConfig enables NATS. An empty URL leaves it off.
type NATSConfig struct {
	URL string `yaml:"url,omitempty"`
}

// GroupsConfig tunes how a client reaches the server groups.
type GroupsConfig struct {
	Transport    string        `yaml:"transport"`
	DialAttempts int           `yaml:"dial_attempts"`
	DialBackoff  time.Duration `yaml:"dial_backoff"`
	Timeout      time.Duration `yaml:"timeout"`
	Heartbeat    time.Duration `yaml:"heartbeat"`
}

// MiddlewareConfig selects the server middlewares. Zero values disable them.
type MiddlewareConfig struct {
	Timeout   time.Duration `yaml:"timeout,omitempty"`
	RateLimit float64       `yaml:"rate_limit,omitempty"`
	RateBurst int           `yaml:"rate_burst,omitempty"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration of a client using a local registry.
func Default() *Config {
	return &Config{
		Role:                    RoleClient,
		Listen:                  ":7000",
		Codec:                   "binary",
		ReportInterpreterErrors: true,
		Registry: RegistryConfig{
			Kind: RegistryMemory,
			TTL:  10,
		},
		Groups: GroupsConfig{
			Transport:    TransportTCP,
			DialAttempts: 3,
			DialBackoff:  100 * time.Millisecond,
			Timeout:      30 * time.Second,
			Heartbeat:    30 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "Config", "Load", "read "+path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "parse "+path)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from CSROUTER_ROLE, CSROUTER_RANK, CSROUTER_LISTEN,
// CSROUTER_ADVERTISE, CSROUTER_ETCD_ENDPOINTS, CSROUTER_NATS_URL and CSROUTER_LOG_LEVEL.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(envPrefix + "ROLE"); ok {
		c.Role = v
	}
	if v, ok := lookup(envPrefix + "RANK"); ok {
		rank, err := strconv.Atoi(v)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, err), "Config", "applyEnv", "parse "+envPrefix+"RANK")
		}
		c.Rank = rank
	}
	if v, ok := lookup(envPrefix + "LISTEN"); ok {
		c.Listen = v
	}
	if v, ok := lookup(envPrefix + "ADVERTISE"); ok {
		c.Advertise = v
	}
	if v, ok := lookup(envPrefix + "ETCD_ENDPOINTS"); ok {
		c.Registry.Kind = RegistryEtcd
		c.Registry.Endpoints = strings.Split(v, ",")
	}
	if v, ok := lookup(envPrefix + "NATS_URL"); ok {
		c.NATS.URL = v
	}
	if v, ok := lookup(envPrefix + "LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	return nil
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
			"Config", "Validate", "check configuration")
	}

	switch c.Role {
	case RoleClient, RoleDataServer, RoleRenderServer:
	default:
		return invalid("unknown role %q", c.Role)
	}
	if c.Rank < 0 {
		return invalid("rank %d is negative", c.Rank)
	}
	if c.Role != RoleClient && c.Listen == "" {
		return invalid("%s needs a listen address", c.Role)
	}
	if c.Codec != "json" && c.Codec != "binary" {
		return invalid("unknown codec %q", c.Codec)
	}
	if c.Topology != "" && c.Topology != "single-process" {
		return invalid("unknown topology %q", c.Topology)
	}

	switch c.Registry.Kind {
	case RegistryMemory:
	case RegistryEtcd:
		if len(c.Registry.Endpoints) == 0 {
			return invalid("etcd registry needs endpoints")
		}
	default:
		return invalid("unknown registry kind %q", c.Registry.Kind)
	}
	if c.Registry.TTL <= 0 {
		return invalid("registry ttl must be positive")
	}

	switch c.Groups.Transport {
	case TransportTCP:
	case TransportNATS:
		if c.NATS.URL == "" {
			return invalid("nats group transport needs nats.url")
		}
	default:
		return invalid("unknown group transport %q", c.Groups.Transport)
	}
	if c.Groups.DialAttempts < 1 {
		return invalid("groups.dial_attempts must be at least 1")
	}

	if c.Middleware.RateLimit < 0 || (c.Middleware.RateLimit > 0 && c.Middleware.RateBurst < 1) {
		return invalid("rate_limit needs a positive rate and a burst of at least 1")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return invalid("log level: %v", err)
	}
	return nil
}

// CodecType returns the configured wire codec.
func (c *Config) CodecType() codec.CodecType {
	return codec.ParseCodecType(c.Codec)
}

// TopologyFunc returns the destination topology of the process.
func (c *Config) TopologyFunc() destination.Topology {
	if c.Topology == "single-process" {
		return destination.SingleProcess
	}
	return destination.Identity
}

// Build creates the process logger.
func (c LogConfig) Build() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
