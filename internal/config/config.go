// Package config handles loading and parsing the application's configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Duration lets TOML carry durations as strings such as "250ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config holds all configuration for the application.
type Config struct {
	NodeID   string   `toml:"node_id"` // Unique ID for the node in the raft cluster
	Host     string   `toml:"host"`
	Port     int      `toml:"port"`
	RaftPort int      `toml:"raft_port"`
	DataDir  string   `toml:"data_dir"`
	Peers    []string `toml:"peers"`

	Backend     string `toml:"backend"` // memory, bolt or postgres
	PostgresDSN string `toml:"postgres_dsn"`
	CacheSize   int    `toml:"cache_size"` // 0 disables the record cache

	Executor     string   `toml:"executor"` // queue or raft
	Workers      int      `toml:"workers"`
	WorkerDelay  Duration `toml:"worker_delay"`
	WaitTimeout  Duration `toml:"wait_timeout"`
	PollInterval Duration `toml:"poll_interval"`

	LogLevel string `toml:"log_level"`
}

// New returns a new Config with default values.
func New() *Config {
	return &Config{
		NodeID:       "node1",
		Host:         "localhost",
		Port:         8080,
		RaftPort:     9080,
		DataDir:      ".",
		Peers:        []string{},
		Backend:      "memory",
		CacheSize:    1024,
		Executor:     "queue",
		Workers:      4,
		WaitTimeout:  Duration{5 * time.Second},
		PollInterval: Duration{10 * time.Millisecond},
		LogLevel:     "info",
	}
}

// Load reads a configuration file from the given path and populates the Config struct.
func (c *Config) Load(path string) error {
	_, err := toml.DecodeFile(path, c)
	return err
}

// LoadEnv overlays CHAINDB_* variables. Files are read with godotenv first
// (variables already set in the process win); with no files it only reads the process environment.
func (c *Config) LoadEnv(files ...string) error {
	if len(files) > 0 {
		if err := godotenv.Load(files...); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	}

	strs := map[string]*string{
		"CHAINDB_NODE_ID":      &c.NodeID,
		"CHAINDB_HOST":         &c.Host,
		"CHAINDB_DATA_DIR":     &c.DataDir,
		"CHAINDB_BACKEND":      &c.Backend,
		"CHAINDB_POSTGRES_DSN": &c.PostgresDSN,
		"CHAINDB_EXECUTOR":     &c.Executor,
		"CHAINDB_LOG_LEVEL":    &c.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"CHAINDB_PORT":       &c.Port,
		"CHAINDB_RAFT_PORT":  &c.RaftPort,
		"CHAINDB_WORKERS":    &c.Workers,
		"CHAINDB_CACHE_SIZE": &c.CacheSize,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: failed to parse integer: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*Duration{
		"CHAINDB_WORKER_DELAY":  &c.WorkerDelay,
		"CHAINDB_WAIT_TIMEOUT":  &c.WaitTimeout,
		"CHAINDB_POLL_INTERVAL": &c.PollInterval,
	}
	for key, dst := range durations {
		if v, ok := os.LookupEnv(key); ok {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}

	if v, ok := os.LookupEnv("CHAINDB_PEERS"); ok {
		c.Peers = strings.FieldsFunc(v, func(r rune) bool { return r == ',' })
	}
	return nil
}

// Validate checks the combinations the process can actually run with.
func (c *Config) Validate() error {
	switch c.Backend {
	case "memory", "bolt":
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("backend postgres needs postgres_dsn")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	switch c.Executor {
	case "queue", "raft":
	default:
		return fmt.Errorf("unknown executor %q", c.Executor)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.WaitTimeout.Duration <= 0 || c.PollInterval.Duration <= 0 {
		return fmt.Errorf("wait_timeout and poll_interval must be positive")
	}
	if c.PollInterval.Duration > c.WaitTimeout.Duration {
		return fmt.Errorf("poll_interval %s exceeds wait_timeout %s", c.PollInterval, c.WaitTimeout)
	}
	return nil
}
