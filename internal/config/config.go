// Package config loads service configuration from an optional YAML file with
// environment variable overrides, the way the rest of our services do it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server    Server    `yaml:"server"`
	Redis     Redis     `yaml:"redis"`
	RateLimit RateLimit `yaml:"ratelimit"`
	Cache     Cache     `yaml:"cache"`
	Jobs      Jobs      `yaml:"jobs"`
	Worker    Worker    `yaml:"worker"`
	Extractor Extractor `yaml:"extractor"`
	Graphs    Graphs    `yaml:"graphs"`
}

type Server struct {
	Addr string `yaml:"addr"`
	// APIKey guards mutation endpoints. Empty means dev mode: no auth.
	APIKey string `yaml:"api_key"`
	// BurstRPS/Burst configure the process-local limiter in front of the
	// shared-store window, to shed floods before they cost a round trip.
	BurstRPS float64 `yaml:"burst_rps"`
	Burst    int     `yaml:"burst"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Memory switches the shared store to the in-process fallback. Dev only:
	// it breaks cross-instance coordination.
	Memory bool `yaml:"memory"`
}

// Window is one (limit, duration) rate-limit window.
type Window struct {
	Limit  int      `yaml:"limit"`
	Window Duration `yaml:"window"`
}

type RateLimit struct {
	PerIP  Window `yaml:"per_ip"`
	Global Window `yaml:"global"`
	// FailOpen admits traffic when the shared store is unreachable. Default
	// false: a quota-protected deployment must fail closed.
	FailOpen bool `yaml:"fail_open"`
}

type Cache struct {
	TTL       Duration `yaml:"ttl"`
	LocalSize int      `yaml:"local_size"`
	LocalTTL  Duration `yaml:"local_ttl"`
}

type Jobs struct {
	TTL       Duration `yaml:"ttl"`
	QueueName string   `yaml:"queue_name"`
}

type Worker struct {
	Count       int      `yaml:"count"`
	MaxAttempts int      `yaml:"max_attempts"`
	PopTimeout  Duration `yaml:"pop_timeout"`
	BackoffBase Duration `yaml:"backoff_base"`
	Grace       Duration `yaml:"grace"`
	// Reaper settings for jobs stuck in processing after a crash.
	ReapInterval Duration `yaml:"reap_interval"`
	StaleAfter   Duration `yaml:"stale_after"`
}

type Extractor struct {
	// Kind selects the extraction collaborator: "rule" or "remote".
	Kind     string   `yaml:"kind"`
	Endpoint string   `yaml:"endpoint"`
	APIKey   string   `yaml:"api_key"`
	Timeout  Duration `yaml:"timeout"`
}

type Graphs struct {
	// Path of the SQLite database holding persisted graphs. Empty disables
	// persistence hand-off.
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file or overrides are
// given. Limits match the upstream provider's free-tier quota.
func Default() Config {
	return Config{
		Server: Server{
			Addr:     ":8080",
			BurstRPS: 100,
			Burst:    200,
		},
		Redis: Redis{Addr: "localhost:6379"},
		RateLimit: RateLimit{
			PerIP:  Window{Limit: 10, Window: Duration(time.Minute)},
			Global: Window{Limit: 15, Window: Duration(time.Minute)},
		},
		Cache: Cache{
			TTL:       Duration(24 * time.Hour),
			LocalSize: 512,
			LocalTTL:  Duration(5 * time.Minute),
		},
		Jobs: Jobs{
			TTL:       Duration(time.Hour),
			QueueName: "extraction_jobs",
		},
		Worker: Worker{
			Count:        5,
			MaxAttempts:  3,
			PopTimeout:   Duration(5 * time.Second),
			BackoffBase:  Duration(time.Second),
			Grace:        Duration(30 * time.Second),
			ReapInterval: Duration(time.Minute),
			StaleAfter:   Duration(5 * time.Minute),
		},
		Extractor: Extractor{
			Kind:    "rule",
			Timeout: Duration(30 * time.Second),
		},
		Graphs: Graphs{Path: "graphs.db"},
	}
}

// Load reads path (when non-empty) over the defaults, then applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		c.Server.APIKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
	if v := os.Getenv("EXTRACTOR_KIND"); v != "" {
		c.Extractor.Kind = v
	}
	if v := os.Getenv("EXTRACTOR_ENDPOINT"); v != "" {
		c.Extractor.Endpoint = v
	}
	if v := os.Getenv("EXTRACTOR_API_KEY"); v != "" {
		c.Extractor.APIKey = v
	}
	if v := os.Getenv("GRAPHS_PATH"); v != "" {
		c.Graphs.Path = v
	}
}

func (c *Config) validate() error {
	if c.RateLimit.PerIP.Limit <= 0 || c.RateLimit.Global.Limit <= 0 {
		return fmt.Errorf("config: rate limits must be positive")
	}
	if c.Worker.Count <= 0 {
		return fmt.Errorf("config: worker count must be positive")
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("config: worker max_attempts must be positive")
	}
	if c.Extractor.Kind != "rule" && c.Extractor.Kind != "remote" {
		return fmt.Errorf("config: unknown extractor kind %q", c.Extractor.Kind)
	}
	if c.Extractor.Kind == "remote" && c.Extractor.Endpoint == "" {
		return fmt.Errorf("config: remote extractor requires an endpoint")
	}
	return nil
}
