// Package config loads shmkv settings from defaults, an optional YAML file
// and SHMKV_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/leonardcser/shmkv/internal/crypt"
	"github.com/leonardcser/shmkv/internal/engine"
	"github.com/leonardcser/shmkv/internal/entry"
	"github.com/leonardcser/shmkv/internal/naming"
	"github.com/leonardcser/shmkv/internal/shm"
)

// Duration is a time.Duration written as a Go duration string ("250ms").
type Duration time.Duration

// UnmarshalYAML accepts a duration string or a plain number of seconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := parseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes d as a duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// Encryption selects whether and how payloads are sealed.
type Encryption struct {
	Enabled bool   `yaml:"enabled"`
	Suite   string `yaml:"suite,omitempty"`    // aes-256-gcm or xchacha20-poly1305
	KeyFile string `yaml:"key_file,omitempty"` // Hex master key; generated on first use
}

// Config holds everything needed to open a store and run its front ends.
type Config struct {
	Dir           string     `yaml:"dir"`
	Prefix        string     `yaml:"prefix"`
	LockDir       string     `yaml:"lock_dir"`
	LockTimeout   Duration   `yaml:"lock_timeout,omitempty"` // Zero waits forever
	Encryption    Encryption `yaml:"encryption"`
	PurgeOnOpen   *bool      `yaml:"purge_on_open,omitempty"`
	Socket        string     `yaml:"socket,omitempty"`
	ClientTimeout Duration   `yaml:"client_timeout,omitempty"` // Per request made to the daemon
	Archive       string     `yaml:"archive,omitempty"`
	FDLimit       uint64     `yaml:"fd_limit,omitempty"` // Zero raises to the hard limit
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	purge := true
	return &Config{
		Dir:           shm.DefaultDir,
		Prefix:        naming.DefaultPrefix,
		LockDir:       engine.DefaultLockDir(),
		PurgeOnOpen:   &purge,
		Socket:        DefaultSocketPath(),
		ClientTimeout: Duration(30 * time.Second),
		Archive:       DefaultArchivePath(),
		Encryption: Encryption{
			Suite:   entry.SuiteAESGCM.String(),
			KeyFile: crypt.DefaultKeyPath(),
		},
	}
}

// DefaultSocketPath is where the daemon listens unless configured otherwise.
func DefaultSocketPath() string {
	return filepath.Join(cacheDir(), "shmkv.sock")
}

// DefaultArchivePath is the snapshot file used when none is given.
func DefaultArchivePath() string {
	return filepath.Join(cacheDir(), "snapshot.bbolt")
}

func cacheDir() string {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "."
	}
	return filepath.Join(home, ".cache", "shmkv")
}

// Merge applies the set fields of source onto c.
func (c *Config) Merge(source *Config) {
	if source.Dir != "" {
		c.Dir = source.Dir
	}
	if source.Prefix != "" {
		c.Prefix = source.Prefix
	}
	if source.LockDir != "" {
		c.LockDir = source.LockDir
	}
	if source.LockTimeout > 0 {
		c.LockTimeout = source.LockTimeout
	}
	if source.Encryption.Enabled {
		c.Encryption.Enabled = true
	}
	if source.Encryption.Suite != "" {
		c.Encryption.Suite = source.Encryption.Suite
	}
	if source.Encryption.KeyFile != "" {
		c.Encryption.KeyFile = source.Encryption.KeyFile
	}
	if source.PurgeOnOpen != nil {
		v := *source.PurgeOnOpen
		c.PurgeOnOpen = &v
	}
	if source.Socket != "" {
		c.Socket = source.Socket
	}
	if source.ClientTimeout > 0 {
		c.ClientTimeout = source.ClientTimeout
	}
	if source.Archive != "" {
		c.Archive = source.Archive
	}
	if source.FDLimit > 0 {
		c.FDLimit = source.FDLimit
	}
}

// Load reads a YAML config file and merges it over the defaults. An empty
// path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return cfg, nil
}

// ApplyEnv overrides c from SHMKV_* environment variables.
func (c *Config) ApplyEnv() error {
	var env Config
	env.Dir = os.Getenv("SHMKV_DIR")
	env.Prefix = os.Getenv("SHMKV_PREFIX")
	env.LockDir = os.Getenv("SHMKV_LOCK_DIR")
	env.Socket = os.Getenv("SHMKV_SOCK")
	env.Encryption.KeyFile = os.Getenv("SHMKV_KEY_FILE")
	env.Encryption.Suite = os.Getenv("SHMKV_SUITE")

	if v := os.Getenv("SHMKV_LOCK_TIMEOUT"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("SHMKV_LOCK_TIMEOUT: %w", err)
		}
		env.LockTimeout = Duration(d)
	}
	if v := os.Getenv("SHMKV_CLIENT_TIMEOUT"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("SHMKV_CLIENT_TIMEOUT: %w", err)
		}
		env.ClientTimeout = Duration(d)
	}
	c.Merge(&env)

	// Merge cannot turn encryption off, so the flag is applied directly.
	if v := os.Getenv("SHMKV_ENCRYPT"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SHMKV_ENCRYPT: %w", err)
		}
		c.Encryption.Enabled = on
	}
	return nil
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	if _, err := naming.New(c.Prefix); err != nil {
		return err
	}
	if c.Dir == "" {
		return fmt.Errorf("shared-memory dir is required")
	}
	if c.LockTimeout < 0 {
		return fmt.Errorf("lock timeout must not be negative")
	}
	if c.Encryption.Enabled {
		if _, err := crypt.ParseSuite(c.Encryption.Suite); err != nil {
			return err
		}
	}
	return nil
}

// EngineOptions translates c into engine options, loading or generating
// the master key when encryption is enabled.
func (c *Config) EngineOptions(log *zap.SugaredLogger) (engine.Options, error) {
	if err := c.Validate(); err != nil {
		return engine.Options{}, err
	}

	opts := engine.Options{
		Dir:         c.Dir,
		Prefix:      c.Prefix,
		LockDir:     c.LockDir,
		LockTimeout: time.Duration(c.LockTimeout),
		PurgeOnOpen: c.PurgeOnOpen == nil || *c.PurgeOnOpen,
		Logger:      log,
	}

	if c.Encryption.Enabled {
		suite, err := crypt.ParseSuite(c.Encryption.Suite)
		if err != nil {
			return engine.Options{}, err
		}
		key, generated, err := crypt.LoadOrGenerateKey(c.Encryption.KeyFile)
		if err != nil {
			return engine.Options{}, err
		}
		if generated && log != nil {
			log.Infow("generated master key", "path", c.Encryption.KeyFile)
		}
		opts.MasterKey = key
		opts.Suite = suite
	}
	return opts, nil
}

// Open builds the engine described by c.
func (c *Config) Open(log *zap.SugaredLogger) (*engine.Engine, error) {
	opts, err := c.EngineOptions(log)
	if err != nil {
		return nil, err
	}
	return engine.New(opts)
}
