// Package config loads the TOML configuration that governs a single
// execution or fuzzing run: instruction budgets, worker pool size,
// tracing and the fuzzing snapshot PC. The [memory] section's
// stack_size is stored and round-tripped but not read by the loader,
// which always uses vm.DefaultStackSize.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration document.
type Config struct {
	Execution struct {
		MaxInstructions uint64 `toml:"max_instructions"`
		EnableTrace     bool   `toml:"enable_trace"`
		TraceOutputFile string `toml:"trace_output_file"`
	} `toml:"execution"`

	Fuzz struct {
		Workers         int    `toml:"workers"`
		Iterations      uint64 `toml:"iterations"` // 0 = unbounded
		SeedFile        string `toml:"seed_file"`
		CorpusDir       string `toml:"corpus_dir"`
		MaxInstructions uint64 `toml:"max_instructions_per_iteration"`
		SnapshotPC      uint64 `toml:"snapshot_pc"` // 0 = snapshot at entry point
	} `toml:"fuzz"`

	Memory struct {
		StackSize uint64 `toml:"stack_size"`
	} `toml:"memory"`
}

// DefaultConfig returns a configuration with default values, used when
// no config file is present or explicitly requested.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Execution.MaxInstructions = 10_000_000
	cfg.Execution.EnableTrace = false
	cfg.Execution.TraceOutputFile = "trace.log"

	cfg.Fuzz.Workers = runtime.NumCPU()
	cfg.Fuzz.Iterations = 0
	cfg.Fuzz.SeedFile = ""
	cfg.Fuzz.CorpusDir = "corpus"
	cfg.Fuzz.MaxInstructions = 100_000
	cfg.Fuzz.SnapshotPC = 0

	cfg.Memory.StackSize = 1 << 20

	return cfg
}

// GetConfigPath returns the platform-specific config file path,
// creating its parent directory if necessary.
func GetConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, "rv64fuzz")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml"
		}
		configDir = filepath.Join(homeDir, ".config", "rv64fuzz")

	default:
		return "config.toml"
	}

	if err := os.MkdirAll(configDir, 0750); err != nil {
		return "config.toml"
	}

	return filepath.Join(configDir, "config.toml")
}

// GetLogPath returns the platform-specific log directory path,
// creating it if necessary.
func GetLogPath() string {
	var logDir string

	switch runtime.GOOS {
	case "windows":
		logDir = os.Getenv("APPDATA")
		if logDir == "" {
			logDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		logDir = filepath.Join(logDir, "rv64fuzz", "logs")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "logs"
		}
		logDir = filepath.Join(homeDir, ".local", "share", "rv64fuzz", "logs")

	default:
		return "logs"
	}

	if err := os.MkdirAll(logDir, 0750); err != nil {
		return "logs"
	}

	return logDir
}

// Load reads configuration from the default platform config path,
// falling back to defaults if no file exists there.
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom reads configuration from path, falling back to defaults if
// the file does not exist.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes c to the default platform config path.
func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo writes c to path as TOML, creating its parent directory if
// necessary.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path) // #nosec G304 -- user-specified config file path
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
