package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Tiliavir/timesync/internal/logging"
)

// EnvPrefix prefixes environment overrides, e.g. TSYNC_REDMINE_API_KEY.
const EnvPrefix = "TSYNC"

// Config is the root configuration for tsync, stored in ~/.tsync/config.json.
// The file supports single-line // comments for documentation purposes.
type Config struct {
	Tempo   TempoConfig    `mapstructure:"tempo"`
	Jira    JiraConfig     `mapstructure:"jira"`
	Redmine RedmineConfig  `mapstructure:"redmine"`
	HTTP    HTTPConfig     `mapstructure:"http"`
	Log     logging.Config `mapstructure:"log"`
	Server  ServerConfig   `mapstructure:"server"`
	Match   MatchConfig    `mapstructure:"match"`
}

// TempoConfig holds the worklog source settings.
type TempoConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	APIToken string `mapstructure:"api_token"`
	// AccountID is the Atlassian account whose worklogs are compared.
	AccountID string `mapstructure:"account_id"`
}

// JiraConfig holds the issue tracker settings. With Email set, APIToken is
// used for basic auth; otherwise it is sent as a bearer token.
type JiraConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Email    string `mapstructure:"email"`
	APIToken string `mapstructure:"api_token"`
}

// RedmineConfig holds the ledger settings.
type RedmineConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	APIKey            string `mapstructure:"api_key"`
	UserID            string `mapstructure:"user_id"`
	DefaultProjectID  int    `mapstructure:"default_project_id"`
	DefaultPriorityID int    `mapstructure:"default_priority_id"`
	DefaultStatusID   int    `mapstructure:"default_status_id"`
	ActivityID        int    `mapstructure:"activity_id"`
}

// HTTPConfig tunes the shared transport.
type HTTPConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Timeout           time.Duration `mapstructure:"timeout"`
	BreakerFailures   uint32        `mapstructure:"breaker_failures"`
}

// ServerConfig configures the local HTTP API.
type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// MatchConfig tunes reconciliation.
type MatchConfig struct {
	// Strict also reports partial matches whose hours differ.
	Strict bool `mapstructure:"strict"`
}

const (
	DefaultTempoBaseURL = "https://api.tempo.io/4"
	DefaultServerAddr   = "127.0.0.1:8765"
)

// defaults are registered with viper so every key can be overridden from the
// environment.
var defaults = map[string]interface{}{
	"tempo.base_url":              DefaultTempoBaseURL,
	"tempo.api_token":             "",
	"tempo.account_id":            "",
	"jira.base_url":               "",
	"jira.email":                  "",
	"jira.api_token":              "",
	"redmine.base_url":            "",
	"redmine.api_key":             "",
	"redmine.user_id":             "me",
	"redmine.default_project_id":  0,
	"redmine.default_priority_id": 2,
	"redmine.default_status_id":   1,
	"redmine.activity_id":         0,
	"http.requests_per_second":    10.0,
	"http.burst":                  5,
	"http.timeout":                "30s",
	"http.breaker_failures":       5,
	"log.level":                   "info",
	"log.format":                  "console",
	"log.output":                  "stderr",
	"server.addr":                 DefaultServerAddr,
	"server.allowed_origins":      []string{"chrome-extension://*", "moz-extension://*"},
	"match.strict":                false,
}

// configTemplate is the annotated config written on first run.
// Lines whose trimmed content starts with // are stripped before JSON parsing,
// allowing human-readable documentation inside the file.
const configTemplate = `// tsync configuration – ~/.tsync/config.json
//
// Every key can also be set from the environment (or a .env file) as
// TSYNC_<SECTION>_<KEY>, e.g. TSYNC_REDMINE_API_KEY.
{
  // ── Tempo (worklog source) ───────────────────────────────────────────────
  "tempo": {
    "base_url": "https://api.tempo.io/4",
    // Personal API token from Tempo > Settings > API Integration.
    "api_token": "",
    // Atlassian account id whose worklogs are compared.
    "account_id": ""
  },

  // ── Jira (issue tracker) ─────────────────────────────────────────────────
  "jira": {
    // e.g. "https://yourcompany.atlassian.net"
    "base_url": "",
    // With an email the token is used for basic auth, otherwise as bearer token.
    "email": "",
    "api_token": ""
  },

  // ── Redmine (time ledger) ────────────────────────────────────────────────
  "redmine": {
    "base_url": "",
    "api_key": "",
    "user_id": "me",
    // Project for new issues and issue-less time entries when no mapping matches.
    "default_project_id": 0,
    "default_priority_id": 2,
    "default_status_id": 1,
    // Time entry activity; 0 uses the Redmine default activity.
    "activity_id": 0
  },

  "http": {
    "requests_per_second": 10,
    "burst": 5,
    "timeout": "30s",
    "breaker_failures": 5
  },

  "log": {
    // debug, info, warn, error
    "level": "info",
    // console or json
    "format": "console"
  },

  // Local API used by the browser extension: tsync serve
  "server": {
    "addr": "127.0.0.1:8765",
    "allowed_origins": ["chrome-extension://*", "moz-extension://*"]
  },

  "match": {
    // Also report partial matches whose hours differ.
    "strict": false
  }
}
`

// FilePath returns the path to ~/.tsync/config.json.
func FilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".tsync", "config.json"), nil
}

// stripLineComments removes lines whose leading non-whitespace content starts
// with //. Only full-line comments are handled; inline comments are not stripped.
func stripLineComments(data []byte) []byte {
	var out []byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		if bytes.HasPrefix(bytes.TrimLeft(line, " \t"), []byte("//")) {
			continue
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out
}

// Load reads ~/.tsync/config.json, creating it with annotated defaults on
// first run, and applies .env and TSYNC_* environment overrides.
func Load() (Config, error) {
	path, err := FilePath()
	if err != nil {
		return LoadFrom("")
	}
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		// First run: write the annotated template so users can discover options.
		if writeErr := writeDefault(path); writeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not create config file %s: %v\n", path, writeErr)
			return LoadFrom("")
		}
	}
	return LoadFrom(path)
}

// LoadFrom reads the config file at path (skipped when empty) and applies
// overrides from .env and the environment.
func LoadFrom(path string) (Config, error) {
	// A missing .env file is normal.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("json")
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := v.ReadConfig(bytes.NewReader(stripLineComments(data))); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w\nTip: delete the file to regenerate defaults", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// ValidateSources checks the settings needed to read from all three services.
func (c Config) ValidateSources() error {
	var missing []string
	if c.Tempo.APIToken == "" {
		missing = append(missing, "tempo.api_token")
	}
	if c.Jira.BaseURL == "" {
		missing = append(missing, "jira.base_url")
	}
	if c.Redmine.BaseURL == "" {
		missing = append(missing, "redmine.base_url")
	}
	if c.Redmine.APIKey == "" {
		missing = append(missing, "redmine.api_key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// writeDefault creates the config directory and writes the annotated default
// config template.
func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}
