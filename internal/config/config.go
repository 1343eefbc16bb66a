// Package config models memopipe.yml, the per-workspace settings file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"memopipe/internal/logging"
	"memopipe/internal/store"
)

// FileName is the config file name inside a workspace.
const FileName = "memopipe.yml"

// StateDir holds everything memopipe writes into a workspace.
const StateDir = ".memopipe"

// Config models memopipe.yml.
type Config struct {
	Store struct {
		Backend     string `yaml:"backend"`
		Root        string `yaml:"root"`
		RedisURL    string `yaml:"redis_url"`
		RedisPrefix string `yaml:"redis_prefix"`
	} `yaml:"store"`
	Run struct {
		Pipeline    string `yaml:"pipeline"`
		Concurrency int    `yaml:"concurrency"`
		Trace       string `yaml:"trace"`
	} `yaml:"run"`
	History struct {
		Keep int `yaml:"keep"`
	} `yaml:"history"`
	Log    logging.Config `yaml:"log"`
	Server struct {
		Addr      string `yaml:"addr"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
}

// Validate ensures the config is usable.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case store.BackendFile, store.BackendSQLite, store.BackendMemory:
		if c.Store.Backend != store.BackendMemory && c.Store.Root == "" {
			return fmt.Errorf("config.store.root is required for backend %s", c.Store.Backend)
		}
	case store.BackendRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("config.store.redis_url is required for backend redis")
		}
	default:
		return fmt.Errorf("config.store.backend must be one of file, sqlite, redis, memory (got %q)", c.Store.Backend)
	}
	if c.Run.Concurrency < 0 {
		return fmt.Errorf("config.run.concurrency must be >= 0")
	}
	if c.Run.Pipeline == "" {
		return fmt.Errorf("config.run.pipeline is required")
	}
	if c.History.Keep < 0 {
		return fmt.Errorf("config.history.keep must be >= 0")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("config.log.format must be console or json (got %q)", c.Log.Format)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with memopipe config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns the default config as YAML.
func GenerateDefault() string { return defaultTemplate }

// FromYAML parses config from raw YAML bytes over the defaults, then validates.
// Unknown keys are rejected.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve loads the workspace config (or defaults) and applies overrides from
// v: environment variables and command-line flags bound to the same keys.
func Resolve(workspace string, v *viper.Viper) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if v != nil {
		for key, dst := range cfg.stringKeys() {
			if v.IsSet(key) {
				*dst = v.GetString(key)
			}
		}
		for key, dst := range cfg.intKeys() {
			if v.IsSet(key) {
				*dst = v.GetInt(key)
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) stringKeys() map[string]*string {
	return map[string]*string{
		"store.backend":      &c.Store.Backend,
		"store.root":         &c.Store.Root,
		"store.redis_url":    &c.Store.RedisURL,
		"store.redis_prefix": &c.Store.RedisPrefix,
		"run.pipeline":       &c.Run.Pipeline,
		"run.trace":          &c.Run.Trace,
		"log.level":          &c.Log.Level,
		"log.format":         &c.Log.Format,
		"log.output":         &c.Log.Output,
		"server.addr":        &c.Server.Addr,
		"server.jwt_secret":  &c.Server.JWTSecret,
	}
}

func (c *Config) intKeys() map[string]*int {
	return map[string]*int{
		"run.concurrency": &c.Run.Concurrency,
		"history.keep":    &c.History.Keep,
	}
}

// EnvKeyReplacer maps config keys to environment variable suffixes
// (store.redis_url -> STORE_REDIS_URL).
var EnvKeyReplacer = strings.NewReplacer(".", "_")

// Keys lists every overridable key, for binding environment variables.
func Keys() []string {
	var c Config
	keys := make([]string, 0, 16)
	for k := range c.stringKeys() {
		keys = append(keys, k)
	}
	for k := range c.intKeys() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StoreConfig returns the store configuration with relative paths resolved
// against workspace.
func (c *Config) StoreConfig(workspace string) store.Config {
	return store.Config{
		Backend:     c.Store.Backend,
		Root:        c.resolvePath(workspace, c.Store.Root),
		RedisURL:    c.Store.RedisURL,
		RedisPrefix: c.Store.RedisPrefix,
	}
}

// PipelinePath returns the pipeline definition path resolved against workspace.
func (c *Config) PipelinePath(workspace string) string {
	return c.resolvePath(workspace, c.Run.Pipeline)
}

func (c *Config) resolvePath(workspace, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, p)
}

const defaultTemplate = `store:
  # file | sqlite | redis | memory
  backend: file
  root: .memopipe/results
  redis_url: ""
  redis_prefix: "memopipe:"

run:
  pipeline: pipeline.yml
  # 0 runs tasks serially; N > 0 uses up to N workers.
  concurrency: 0
  trace: ""

history:
  # Number of runs kept; 0 keeps everything.
  keep: 50

log:
  level: info
  format: console
  output: stderr

server:
  addr: 127.0.0.1:8087
  jwt_secret: ""
`
