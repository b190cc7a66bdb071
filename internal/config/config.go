// Manages the server configuration stored in jsdb.yaml.

package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// FileName is the name of the configuration file in the data directory.
const FileName = "jsdb.yaml"

// EnvPrefix prefixes environment overrides. JSDB_RATE_LIMITS__READ_PER_MIN
// sets rate_limits.read_per_min.
const EnvPrefix = "JSDB_"

// Database file names.
const (
	MainDatabase = "main.jsdb"
	TestDatabase = "test.jsdb"
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z0-9_]+(\.)*[A-Za-z0-9_]+$`)

// Settings is the content of jsdb.yaml.
type Settings struct {
	// DebugMode enables debug logging and adds debug_mode to responses.
	DebugMode bool `yaml:"debug_mode" koanf:"debug_mode"`

	// TestingMode switches to test.jsdb and relaxes the referer checks.
	TestingMode bool `yaml:"testing_mode" koanf:"testing_mode"`

	// Logging writes one audit line per command to LogDir/api.log.
	Logging bool `yaml:"logging" koanf:"logging"`

	// LogDir is relative to the data directory unless absolute.
	LogDir string `yaml:"log_dir" koanf:"log_dir"`

	// AllowBasicCommands enables select, insert, update and delete.
	AllowBasicCommands bool `yaml:"allow_basic_commands" koanf:"allow_basic_commands"`

	// FoldConditions evaluates every where clause instead of the first pair.
	FoldConditions bool `yaml:"fold_conditions" koanf:"fold_conditions"`

	// History commits the database file to git after each change.
	History bool `yaml:"history" koanf:"history"`

	ReadProtectedTables  []string `yaml:"read_protected_tables" koanf:"read_protected_tables"`
	WriteProtectedTables []string `yaml:"write_protected_tables" koanf:"write_protected_tables"`

	// AllowedDomains lists the referer hosts accepted outside testing mode.
	AllowedDomains []string `yaml:"allowed_domains" koanf:"allowed_domains"`

	RateLimits RateLimits `yaml:"rate_limits" koanf:"rate_limits"`

	// SessionSecret signs session cookies. Generated on first start.
	SessionSecret string `yaml:"session_secret" koanf:"session_secret"`
}

// RateLimits defines per client IP rate limits in requests per minute.
// 0 means unlimited.
type RateLimits struct {
	ReadPerMin  int `yaml:"read_per_min" koanf:"read_per_min"`
	WritePerMin int `yaml:"write_per_min" koanf:"write_per_min"`
}

// Validate checks that rate limit values are non-negative.
func (r *RateLimits) Validate() error {
	if r.ReadPerMin < 0 {
		return errors.New("read_per_min must be non-negative")
	}
	if r.WritePerMin < 0 {
		return errors.New("write_per_min must be non-negative")
	}
	return nil
}

// Validate checks that the settings are usable.
func (s *Settings) Validate() error {
	if len(s.SessionSecret) < 32 {
		return errors.New("session_secret must be at least 32 characters")
	}
	for _, t := range slices.Concat(s.ReadProtectedTables, s.WriteProtectedTables) {
		if !tableNameRe.MatchString(t) {
			return fmt.Errorf("invalid protected table name %q", t)
		}
	}
	if slices.Contains(s.AllowedDomains, "") {
		return errors.New("allowed_domains must not contain empty entries")
	}
	if err := s.RateLimits.Validate(); err != nil {
		return fmt.Errorf("rate_limits: %w", err)
	}
	return nil
}

// DefaultSettings returns the settings written to a new jsdb.yaml.
func DefaultSettings() Settings {
	return Settings{
		LogDir:               "logs",
		AllowBasicCommands:   true,
		ReadProtectedTables:  []string{},
		WriteProtectedTables: []string{},
		AllowedDomains:       []string{},
		RateLimits: RateLimits{
			ReadPerMin:  6000,
			WritePerMin: 600,
		},
	}
}

func defaultMap() map[string]any {
	d := DefaultSettings()
	return map[string]any{
		"log_dir":                   d.LogDir,
		"allow_basic_commands":      d.AllowBasicCommands,
		"rate_limits.read_per_min":  d.RateLimits.ReadPerMin,
		"rate_limits.write_per_min": d.RateLimits.WritePerMin,
		"read_protected_tables":     d.ReadProtectedTables,
		"write_protected_tables":    d.WriteProtectedTables,
		"allowed_domains":           d.AllowedDomains,
	}
}

// Config is the live configuration. It is safe for concurrent use and
// implements query.Policy.
type Config struct {
	dataDir string
	path    string

	mu        sync.RWMutex
	settings  Settings
	overrides []func(*Settings)
}

// Load reads dataDir/jsdb.yaml, creating it with defaults if missing.
// Environment variables prefixed with JSDB_ override the file.
func Load(dataDir string) (*Config, error) {
	dataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, err
	}
	c := &Config{dataDir: dataDir, path: filepath.Join(dataDir, FileName)}
	if _, err := os.Stat(c.path); errors.Is(err, os.ErrNotExist) {
		if err := writeDefaults(c.path); err != nil {
			return nil, err
		}
		slog.Info("Created configuration", "path", c.path)
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", FileName, err)
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

func writeDefaults(path string) error {
	s := DefaultSettings()
	secret, err := newSecret()
	if err != nil {
		return err
	}
	s.SessionSecret = secret
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	data, err := yamlv3.Marshal(&s)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", FileName, err)
	}
	return nil
}

func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Reload rereads the file and environment. On error the previous settings
// stay in effect.
func (c *Config) Reload() error {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaultMap(), "."), nil); err != nil {
		return fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := k.Load(file.Provider(c.path), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to read %s: %w", FileName, err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return fmt.Errorf("failed to load env vars: %w", err)
	}
	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return fmt.Errorf("failed to parse %s: %w", FileName, err)
	}
	if s.SessionSecret == "" {
		c.mu.RLock()
		s.SessionSecret = c.settings.SessionSecret
		c.mu.RUnlock()
		if s.SessionSecret == "" {
			secret, err := newSecret()
			if err != nil {
				return err
			}
			slog.Warn("No session_secret configured, sessions will not survive a restart")
			s.SessionSecret = secret
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, fn := range c.overrides {
		fn(&s)
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid %s: %w", FileName, err)
	}
	c.settings = s
	return nil
}

// Override applies fn now and after every reload. Command line flags use it.
func (c *Config) Override(fn func(*Settings)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides = append(c.overrides, fn)
	fn(&c.settings)
}

// Path returns the configuration file path.
func (c *Config) Path() string {
	return c.path
}

// DataDir returns the absolute data directory.
func (c *Config) DataDir() string {
	return c.dataDir
}

// Settings returns a copy of the current settings.
func (c *Config) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.settings
	s.ReadProtectedTables = slices.Clone(s.ReadProtectedTables)
	s.WriteProtectedTables = slices.Clone(s.WriteProtectedTables)
	s.AllowedDomains = slices.Clone(s.AllowedDomains)
	return s
}

// DatabasePath returns the database file selected by the testing mode.
func (c *Config) DatabasePath() string {
	name := MainDatabase
	if c.Settings().TestingMode {
		name = TestDatabase
	}
	return filepath.Join(c.dataDir, name)
}

// LogPath returns the audit log file path.
func (c *Config) LogPath() string {
	dir := c.Settings().LogDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(c.dataDir, dir)
	}
	return filepath.Join(dir, "api.log")
}

// IsReadProtected reports whether select is refused on table.
func (c *Config) IsReadProtected(table string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Contains(c.settings.ReadProtectedTables, table)
}

// IsWriteProtected reports whether insert, update and delete are refused on
// table.
func (c *Config) IsWriteProtected(table string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Contains(c.settings.WriteProtectedTables, table)
}

// IsAllowedDomain reports whether host may appear in a referer.
func (c *Config) IsAllowedDomain(host string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.ContainsFunc(c.settings.AllowedDomains, func(d string) bool {
		return strings.EqualFold(d, host)
	})
}
