package yydb

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"

	"github.com/andreyvit/yydb/core"
	"github.com/andreyvit/yydb/logbridge"
)

// Backend names accepted in Config.Backend.
const (
	BackendReference = "reference"
	BackendMemory    = "memory"
	BackendBolt      = "bolt"
)

// DataFileName is the Bolt file created inside Config.DataDir.
const DataFileName = "yydb.db"

// LogLevelEnv overrides Config.LogLevel when set.
const LogLevelEnv = "LOG_LEVEL"

var errConfigInvalid = errors.New("invalid config")

// Config is the file-level configuration of an engine. The file is JSON with
// comments and trailing commas allowed.
type Config struct {
	Backend   string `json:"backend"`
	DataDir   string `json:"data_dir,omitempty"`
	LogLevel  string `json:"log_level,omitempty"`
	MaxTables int    `json:"max_tables,omitempty"`
	MaxShares int    `json:"max_shares,omitempty"`
	MmapSize  int    `json:"mmap_size,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Backend:  BackendReference,
		LogLevel: "info",
	}
}

// LoadConfig reads path on top of DefaultConfig. A missing file is not an
// error. LOG_LEVEL from the environment wins over the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
		if err == nil {
			cfg, err = ParseConfig(data)
			if err != nil {
				return Config{}, fmt.Errorf("%s: %w", path, err)
			}
		}
	}
	if v := os.Getenv(LogLevelEnv); v != "" {
		cfg.LogLevel = v
	}
	return cfg, cfg.Validate()
}

// ParseConfig parses a JSONC document on top of DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w: invalid JSONC: %w", errConfigInvalid, err)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", errConfigInvalid, err)
	}
	return cfg, nil
}

func (cfg Config) Validate() error {
	switch cfg.Backend {
	case BackendReference, BackendMemory:
	case BackendBolt:
		if cfg.DataDir == "" {
			return fmt.Errorf("%w: data_dir is required for the %s backend", errConfigInvalid, cfg.Backend)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", errConfigInvalid, cfg.Backend)
	}
	if _, err := logbridge.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", errConfigInvalid, err)
	}
	if cfg.MaxTables < 0 || cfg.MaxShares < 0 || cfg.MmapSize < 0 {
		return fmt.Errorf("%w: limits must not be negative", errConfigInvalid)
	}
	return nil
}

// NewCore builds the storage core named by Backend.
func (cfg Config) NewCore() (core.Core, error) {
	ropt := core.RegistryOptions{MaxTables: cfg.MaxTables}
	switch cfg.Backend {
	case BackendReference, "":
		return core.NewReference(ropt), nil
	case BackendMemory:
		return core.NewMem(core.MemOptions{RegistryOptions: ropt}), nil
	case BackendBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		return core.NewBolt(core.BoltOptions{
			RegistryOptions: ropt,
			Path:            filepath.Join(cfg.DataDir, DataFileName),
			MmapSize:        cfg.MmapSize,
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", errConfigInvalid, cfg.Backend)
	}
}

// Options returns engine options for this config, delivering logs to sink.
func (cfg Config) Options(sink logbridge.Sink) Options {
	level, err := logbridge.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return Options{
		Sink:      sink,
		LogLevel:  level,
		MaxShares: cfg.MaxShares,
	}
}

// Open builds the core from cfg and returns an initialized engine.
func Open(cfg Config, sink logbridge.Sink) (*Engine, error) {
	c, err := cfg.NewCore()
	if err != nil {
		return nil, err
	}
	e := New(c, cfg.Options(sink))
	if err := e.Init(); err != nil {
		return nil, err
	}
	return e, nil
}

// Marshal renders cfg as indented JSON, suitable as a starting config file.
func (cfg Config) Marshal() []byte {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		panic(fmt.Errorf("marshal config: %w", err))
	}
	return append(data, '\n')
}
