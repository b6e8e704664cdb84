// Package config provides configuration management for the studio gateway.
// Settings load from an optional YAML file and are overridden by WEB2LABS_*
// environment variables; environment always wins.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/web2labs/studio-gateway/internal/spend"
)

const (
	defaultEndpoint     = "https://web2labs.com"
	defaultTestEndpoint = "https://test.web2labs.com"
	defaultPreset       = "youtube"
	defaultDownloadDir  = "~/studio-exports"
)

// Config represents the gateway's configuration.
type Config struct {
	// Port is the listen port of the gateway HTTP surface.
	Port int `yaml:"port"`

	// APIEndpoint is the base URL of the remote studio service.
	APIEndpoint string `yaml:"api-endpoint"`

	// APIKey authenticates requests to the studio service (X-API-Key).
	APIKey string `yaml:"api-key"`

	// BearerToken is the short-lived setup-flow credential. Mutually
	// exclusive with Basic auth on the wire.
	BearerToken string `yaml:"bearer-token"`

	// BasicAuth holds "user:password" for deployments behind HTTP basic auth.
	BasicAuth string `yaml:"basic-auth"`

	// SocketURL overrides the realtime channel endpoint; defaults to the API
	// endpoint host.
	SocketURL string `yaml:"socket-url"`

	// GatewayKeys authenticate callers of this gateway. Empty disables auth.
	GatewayKeys []string `yaml:"gateway-keys"`

	// TestMode points default endpoints at the test instance.
	TestMode bool `yaml:"test-mode"`

	// DefaultPreset is applied to uploads when no preset is supplied.
	DefaultPreset string `yaml:"default-preset"`

	// DownloadDir is where project outputs are written by default.
	DownloadDir string `yaml:"download-dir"`

	// MaxRetries bounds transport retry attempts (total attempts = retries+1).
	MaxRetries int `yaml:"max-retries"`

	Debug         bool `yaml:"debug"`
	LoggingToFile bool `yaml:"logging-to-file"`

	// Spend carries the spend-policy mode and caps.
	Spend spend.Policy `yaml:"spend"`
}

// Default returns the built-in configuration before file and env overrides.
func Default() *Config {
	return &Config{
		Port:          8317,
		APIEndpoint:   defaultEndpoint,
		DefaultPreset: defaultPreset,
		DownloadDir:   defaultDownloadDir,
		MaxRetries:    3,
		Spend:         spend.DefaultPolicy(),
	}
}

// Load reads path (when it exists) and applies environment overrides.
// A missing file is not an error; a malformed file is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv(os.Getenv)
	cfg.normalize()
	return cfg, nil
}

// applyEnv overlays WEB2LABS_* environment variables onto the config.
func (c *Config) applyEnv(getenv spend.Getenv) {
	if v := getenv("WEB2LABS_TEST_MODE"); v == "true" || v == "1" {
		c.TestMode = true
	}
	if c.TestMode && c.APIEndpoint == defaultEndpoint {
		c.APIEndpoint = defaultTestEndpoint
	}
	if v := strings.TrimSpace(getenv("WEB2LABS_API_ENDPOINT")); v != "" {
		c.APIEndpoint = v
	}
	if v := strings.TrimSpace(getenv("WEB2LABS_API_KEY")); v != "" {
		c.APIKey = v
	}
	if v := strings.TrimSpace(getenv("WEB2LABS_BEARER_TOKEN")); v != "" {
		c.BearerToken = v
	}
	if v := strings.TrimSpace(getenv("WEB2LABS_BASIC_AUTH")); v != "" {
		c.BasicAuth = v
	}
	if v := strings.TrimSpace(getenv("WEB2LABS_SOCKET_URL")); v != "" {
		c.SocketURL = v
	}
	if v := strings.TrimSpace(getenv("WEB2LABS_DEFAULT_PRESET")); v != "" {
		c.DefaultPreset = v
	}
	if v := strings.TrimSpace(getenv("WEB2LABS_DOWNLOAD_DIR")); v != "" {
		c.DownloadDir = v
	}

	// Spend knobs always re-read from env so a bare environment deployment
	// works without a config file. Env values win over file values only when
	// set.
	envPolicy := spend.PolicyFromEnv(getenv)
	def := spend.DefaultPolicy()
	if getenv("WEB2LABS_SPEND_POLICY") != "" {
		c.Spend.Mode = envPolicy.Mode
	}
	if c.Spend.Mode == "" {
		c.Spend.Mode = def.Mode
	}
	overlayKnob(&c.Spend.SmartAPIConfirmThreshold, envPolicy.SmartAPIConfirmThreshold, def.SmartAPIConfirmThreshold, getenv("WEB2LABS_SMART_CONFIRM_API_THRESHOLD"))
	overlayKnob(&c.Spend.SmartCreatorConfirmThreshold, envPolicy.SmartCreatorConfirmThreshold, def.SmartCreatorConfirmThreshold, getenv("WEB2LABS_SMART_CONFIRM_CREATOR_THRESHOLD"))
	overlayKnob(&c.Spend.LowAPIBalanceThreshold, envPolicy.LowAPIBalanceThreshold, def.LowAPIBalanceThreshold, getenv("WEB2LABS_SMART_CONFIRM_LOW_API_BALANCE"))
	overlayKnob(&c.Spend.LowCreatorBalanceThreshold, envPolicy.LowCreatorBalanceThreshold, def.LowCreatorBalanceThreshold, getenv("WEB2LABS_SMART_CONFIRM_LOW_CREATOR_BALANCE"))
	overlayKnob(&c.Spend.AutoMaxAPIPerAction, envPolicy.AutoMaxAPIPerAction, def.AutoMaxAPIPerAction, getenv("WEB2LABS_AUTO_SPEND_MAX_API_PER_ACTION"))
	overlayKnob(&c.Spend.AutoMaxCreatorPerAction, envPolicy.AutoMaxCreatorPerAction, def.AutoMaxCreatorPerAction, getenv("WEB2LABS_AUTO_SPEND_MAX_CREATOR_PER_ACTION"))
	overlayKnob(&c.Spend.AutoMaxAPIPerMonth, envPolicy.AutoMaxAPIPerMonth, def.AutoMaxAPIPerMonth, getenv("WEB2LABS_AUTO_SPEND_MAX_API_PER_MONTH"))
	overlayKnob(&c.Spend.AutoMaxCreatorPerMonth, envPolicy.AutoMaxCreatorPerMonth, def.AutoMaxCreatorPerMonth, getenv("WEB2LABS_AUTO_SPEND_MAX_CREATOR_PER_MONTH"))
}

// overlayKnob applies the env-derived value when the variable was set, and
// backfills the default when the file left the knob at zero.
func overlayKnob(dst *float64, envValue, def float64, raw string) {
	if strings.TrimSpace(raw) != "" {
		*dst = envValue
		return
	}
	if *dst == 0 {
		*dst = def
	}
}

func (c *Config) normalize() {
	c.APIEndpoint = strings.TrimRight(strings.TrimSpace(c.APIEndpoint), "/")
	if c.APIEndpoint == "" {
		c.APIEndpoint = defaultEndpoint
	}
	if c.Port <= 0 {
		c.Port = 8317
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 3
	}
	if c.DefaultPreset == "" {
		c.DefaultPreset = defaultPreset
	}
	if c.DownloadDir == "" {
		c.DownloadDir = defaultDownloadDir
	}
	c.Spend.Mode = spend.NormalizeMode(string(c.Spend.Mode))
}
