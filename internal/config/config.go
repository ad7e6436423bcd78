package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server  ServerConfig
	LLM     LLMConfig
	Google  GoogleConfig
	Storage StorageConfig
	Session SessionConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type LLMConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type StorageConfig struct {
	DataDir string
}

type SessionConfig struct {
	RetentionHours int
	Timezone       string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 3000,
		},
		LLM: LLMConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Session: SessionConfig{
			RetentionHours: 24,
			Timezone:       "Local",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.dayplan.app) and
// secrets fall back to macOS Keychain. On Linux the backend is a JSON
// file at $XDG_CONFIG_HOME/dayplan/config.json and secrets must come
// from environment variables.
//
// Environment variables (DAYPLAN_*) override backend values on all
// platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the platform keychain for secrets still missing.
	if cfg.LLM.APIKey == "" {
		if key, err := kc.Get("dayplan", "openai_api_key"); err == nil && key != "" {
			cfg.LLM.APIKey = key
		}
	}
	if cfg.Google.ClientSecret == "" {
		if secret, err := kc.Get("dayplan", "google_client_secret"); err == nil && secret != "" {
			cfg.Google.ClientSecret = secret
		}
	}

	if cfg.LLM.APIKey == "" {
		msg := "missing required config: OpenAI API key. " +
			"Set it via environment variable DAYPLAN_OPENAI_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	return cfg, nil
}

// Location resolves the configured timezone. "Local" and the empty
// string mean the process's local zone.
func (c Config) Location() (*time.Location, error) {
	tz := c.Session.Timezone
	if tz == "" || tz == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

// Retention returns the session retention window.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Session.RetentionHours) * time.Hour
}

// keychainReader reads from macOS Keychain via the security CLI.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
