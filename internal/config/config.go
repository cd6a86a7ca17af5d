// Package config contains everything related to configuration
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/j-veylop/limitwatch/internal/logger"
)

// ErrInvalidConfig reports a settings file that failed to parse or validate.
var ErrInvalidConfig = errors.New("invalid config")

// Themes accepted by the theme setting.
var Themes = []string{"default", "dark", "light"}

// Default values
const (
	defaultAlertThreshold  = 20.0
	defaultCacheTTL        = 60 * time.Second
	defaultAccountTimeout  = 5 * time.Second
	defaultMaxWorkers      = 10
	defaultRefreshInterval = 5 * time.Minute
	defaultMetricsAddr     = "127.0.0.1:9464"
	defaultTheme           = "default"
)

// Config holds the resolved application configuration.
type Config struct {
	Dir                string
	AccountsPath       string
	HistoryDBPath      string
	Theme              string
	MetricsAddr        string
	RedisURL           string
	GoogleClientID     string
	GoogleClientSecret string
	AlertThreshold     float64
	CacheTTL           time.Duration
	AccountTimeout     time.Duration
	RefreshInterval    time.Duration
	MaxWorkers         int
	EnableHistory      bool
}

// fileConfig is the settings file layout shared by config.yaml and the
// legacy config.json. Pointers distinguish "unset" from zero.
type fileConfig struct {
	AlertThreshold  *float64  `yaml:"alertThreshold" json:"alertThreshold"`
	CacheTTL        *Duration `yaml:"cacheTtl" json:"cacheTtl"`
	EnableHistory   *bool     `yaml:"enableHistory" json:"enableHistory"`
	AccountTimeout  *Duration `yaml:"accountTimeout" json:"accountTimeout"`
	RefreshInterval *Duration `yaml:"refreshInterval" json:"refreshInterval"`
	MaxWorkers      *int      `yaml:"maxWorkers" json:"maxWorkers"`
	Theme           string    `yaml:"theme" json:"theme"`
	HistoryDBPath   string    `yaml:"historyDbPath" json:"historyDbPath"`
	AccountsPath    string    `yaml:"accountsPath" json:"accountsPath"`
	MetricsAddr     string    `yaml:"metricsAddr" json:"metricsAddr"`
	RedisURL        string    `yaml:"redisUrl" json:"redisUrl"`
}

// Load reads configuration from .env files, the settings file in dir and
// environment variables, in increasing order of precedence. An empty dir
// means LIMITWATCH_CONFIG_DIR or ~/.config/limitwatch.
func Load(dir string) (*Config, error) {
	// Try loading .env from multiple locations
	for _, path := range getEnvPaths(dir) {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			break
		}
	}

	if dir == "" {
		dir = getEnvString("LIMITWATCH_CONFIG_DIR", getDefaultConfigDir())
	}

	file, err := readSettings(dir)
	if err != nil {
		return nil, err
	}

	cfg := file.resolve(dir)
	cfg.applyEnv()
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readSettings loads config.yaml, or config.json when no YAML file exists.
func readSettings(dir string) (*fileConfig, error) {
	var file fileConfig

	yamlPath := filepath.Join(dir, "config.yaml")
	if data, err := os.ReadFile(filepath.Clean(yamlPath)); err == nil {
		// Substitute env variables of the form ${VAR}
		if err := yaml.Unmarshal(expandEnvVars(data), &file); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, yamlPath, err)
		}
		return &file, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config %s: %w", yamlPath, err)
	}

	jsonPath := filepath.Join(dir, "config.json")
	data, err := os.ReadFile(filepath.Clean(jsonPath))
	if errors.Is(err, os.ErrNotExist) {
		return &file, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", jsonPath, err)
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, jsonPath, err)
	}
	logger.Debug("loaded legacy settings file", "path", jsonPath)
	return &file, nil
}

func (f *fileConfig) resolve(dir string) *Config {
	cfg := &Config{
		Dir:           dir,
		AccountsPath:  expandHome(f.AccountsPath),
		HistoryDBPath: expandHome(f.HistoryDBPath),
		Theme:         f.Theme,
		MetricsAddr:   f.MetricsAddr,
		RedisURL:      f.RedisURL,
		EnableHistory: true,
		CacheTTL:      -1,
	}
	if f.AlertThreshold != nil {
		cfg.AlertThreshold = *f.AlertThreshold
	} else {
		cfg.AlertThreshold = defaultAlertThreshold
	}
	if f.CacheTTL != nil {
		cfg.CacheTTL = time.Duration(*f.CacheTTL)
	}
	if f.EnableHistory != nil {
		cfg.EnableHistory = *f.EnableHistory
	}
	if f.AccountTimeout != nil {
		cfg.AccountTimeout = time.Duration(*f.AccountTimeout)
	}
	if f.RefreshInterval != nil {
		cfg.RefreshInterval = time.Duration(*f.RefreshInterval)
	}
	if f.MaxWorkers != nil {
		cfg.MaxWorkers = *f.MaxWorkers
	}
	return cfg
}

func (c *Config) applyEnv() {
	c.HistoryDBPath = expandHome(getEnvString("LIMITWATCH_DB_PATH", c.HistoryDBPath))
	c.AccountsPath = expandHome(getEnvString("LIMITWATCH_ACCOUNTS_PATH", c.AccountsPath))
	c.MetricsAddr = getEnvString("LIMITWATCH_METRICS_ADDR", c.MetricsAddr)
	c.RedisURL = getEnvString("LIMITWATCH_REDIS_URL", c.RedisURL)
	c.AccountTimeout = getEnvDuration("LIMITWATCH_ACCOUNT_TIMEOUT", c.AccountTimeout)
	c.RefreshInterval = getEnvDuration("LIMITWATCH_REFRESH_INTERVAL", c.RefreshInterval)
	c.MaxWorkers = getEnvInt("LIMITWATCH_MAX_WORKERS", c.MaxWorkers)

	client := discoverGoogleClient(c.Dir)
	c.GoogleClientID = getEnvString("GOOGLE_CLIENT_ID", client.ID)
	c.GoogleClientSecret = getEnvString("GOOGLE_CLIENT_SECRET", client.Secret)
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Dir == "" {
		c.Dir = getDefaultConfigDir()
	}
	if c.AccountsPath == "" {
		c.AccountsPath = filepath.Join(c.Dir, "accounts.json")
	}
	if c.HistoryDBPath == "" {
		c.HistoryDBPath = filepath.Join(c.Dir, "history.db")
	}
	if c.Theme == "" {
		c.Theme = defaultTheme
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = defaultMetricsAddr
	}
	if c.CacheTTL < 0 {
		c.CacheTTL = defaultCacheTTL
	}
	if c.AccountTimeout <= 0 {
		c.AccountTimeout = defaultAccountTimeout
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = defaultRefreshInterval
	}
	if c.MaxWorkers == 0 {
		c.MaxWorkers = defaultMaxWorkers
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.AlertThreshold < 0 || c.AlertThreshold > 100 {
		return fmt.Errorf("%w: alertThreshold must be between 0 and 100, got %v", ErrInvalidConfig, c.AlertThreshold)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("%w: cacheTtl must not be negative, got %v", ErrInvalidConfig, c.CacheTTL)
	}
	valid := false
	for _, t := range Themes {
		if c.Theme == t {
			valid = true
		}
	}
	if !valid {
		return fmt.Errorf("%w: theme must be one of %s, got %q", ErrInvalidConfig, strings.Join(Themes, ", "), c.Theme)
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("%w: maxWorkers must be at least 1, got %d", ErrInvalidConfig, c.MaxWorkers)
	}
	return nil
}

// EnsureDirs creates the directories holding the accounts file and the
// history database.
func (c *Config) EnsureDirs() error {
	for _, path := range []string{filepath.Dir(c.AccountsPath), filepath.Dir(c.HistoryDBPath)} {
		if err := ensureDir(path); err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
	}
	return nil
}

// Duration is a time.Duration read from settings files as Go duration
// syntax ("90s") or a bare number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	v, err := parseDuration(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// getEnvPaths returns a list of paths to check for .env files.
func getEnvPaths(dir string) []string {
	var paths []string

	// Current directory
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}

	if dir != "" {
		paths = append(paths, filepath.Join(dir, ".env"))
	}
	if env := os.Getenv("LIMITWATCH_CONFIG_DIR"); env != "" {
		paths = append(paths, filepath.Join(env, ".env"))
	}
	paths = append(paths, filepath.Join(getDefaultConfigDir(), ".env"))

	return paths
}

// getDefaultConfigDir returns ~/.config/limitwatch.
func getDefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".limitwatch"
	}
	return filepath.Join(home, ".config", "limitwatch")
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// getEnvString retrieves a string environment variable or returns the default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		logger.Warn("ignoring invalid integer", "key", key, "value", value)
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns the default.
// Accepts values like "30s", "1m", "500ms" or a number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := parseDuration(value); err == nil {
			return duration
		}
		logger.Warn("ignoring invalid duration", "key", key, "value", value)
	}
	return defaultValue
}

// ensureDir creates a directory and all parent directories if they don't exist.
func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	return os.MkdirAll(path, 0o750)
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
