// Package config handles loading and validating gateway configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level configuration for the ccproxy gateway.
type Config struct {
	Server    ServerConfig              `koanf:"server"`
	Auth      AuthConfig                `koanf:"auth"`
	Providers map[string]ProviderConfig `koanf:"providers"`
	Hooks     HooksConfig               `koanf:"hooks"`
	Plugins   PluginsConfig             `koanf:"plugins"`
}

// ServerConfig holds HTTP listener settings (spec.md §6 CLI surface mirrors
// these as --host/--port/--log-level/--log-file flags).
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              int           `koanf:"port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`     // default 120s, spec.md §5
	UpstreamRefreshTimeout time.Duration `koanf:"upstream_refresh_timeout"` // default 300s
	LogLevel          string        `koanf:"log_level"`
	LogFile           string        `koanf:"log_file"`
}

// AuthConfig governs the static bearer token the gateway itself requires
// from clients (spec.md §4.3's ServerPolicy — empty means local-use mode).
type AuthConfig struct {
	Token string `koanf:"token"`
}

// ProviderConfig holds one upstream provider's settings: its kind decides
// which adapter/credential strategy applies (spec.md §4.1/§4.8).
type ProviderConfig struct {
	Kind           string `koanf:"kind"` // anthropic | openai | github-copilot | claude-code-cli
	APIKey         string `koanf:"api_key"`
	BaseURL        string `koanf:"base_url"`
	CredentialFile string `koanf:"credential_file"` // explicit OAuth credential path override
	HeaderMode     string `koanf:"header_mode"`      // full | minimal | passthrough
}

// HooksConfig governs the built-in hook subscribers (spec.md §4.7/§6).
type HooksConfig struct {
	RawHTTPLog   RawHTTPLogConfig `koanf:"raw_http_log"`
	MetricsAddr  string           `koanf:"metrics_addr"`
}

// RawHTTPLogConfig mirrors CCPROXY_LOG_RAW_HTTP / CCPROXY_RAW_LOG_DIR
// (spec.md §6), settable from the config file as an alternative to env vars.
type RawHTTPLogConfig struct {
	Enabled      bool   `koanf:"enabled"`
	Dir          string `koanf:"dir"`
	MaxBodyBytes int    `koanf:"max_body_bytes"`
}

// PluginsConfig lists plugins to enable/disable beyond their manifest
// default, mirroring the --enable-plugin/--disable-plugin CLI flags.
type PluginsConfig struct {
	Enabled  []string `koanf:"enabled"`
	Disabled []string `koanf:"disabled"`
}

// envPrefix is the namespace every environment-variable override lives
// under, e.g. CCPROXY_SERVER_PORT -> server.port.
const envPrefix = "CCPROXY_"

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, and returns a fully populated Config. A missing path
// is not an error: defaults plus env vars are enough to run locally.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, envPrefix)),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := defaultConfig()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	for name, p := range cfg.Providers {
		p.APIKey = expandEnv(p.APIKey)
		p.CredentialFile = expandEnv(p.CredentialFile)
		cfg.Providers[name] = p
	}

	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:                   "127.0.0.1",
			Port:                   11434,
			ReadTimeout:            30 * time.Second,
			WriteTimeout:           0, // streaming responses must not hit a write deadline
			RequestTimeout:         120 * time.Second,
			UpstreamRefreshTimeout: 300 * time.Second,
			LogLevel:               "info",
		},
		Hooks: HooksConfig{
			RawHTTPLog: RawHTTPLogConfig{Dir: "/tmp/ccproxy/raw", MaxBodyBytes: 10 * 1024 * 1024},
		},
	}
}

// expandEnv resolves a bare ${VAR_NAME} placeholder the way the teacher's
// provider API keys do, since koanf has no built-in expansion.
func expandEnv(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(v[2 : len(v)-1])
	}
	return v
}
