package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/MEKXH/pushgate/internal/policy"
)

const (
	defaultHookPath       = "hooks/pre-receive.sh"
	defaultHookTimeout    = 60
	defaultReviewTTL      = 24 * 60
	defaultSweepSchedule  = "*/5 * * * *"
	defaultGatewayPort    = 18790
	maxHookTimeoutSeconds = 3600
)

// Config root configuration
type Config struct {
	Workspace string        `mapstructure:"workspace" json:"workspace"`
	Proxy     ProxyConfig   `mapstructure:"proxy" json:"proxy"`
	Hook      HookConfig    `mapstructure:"hook" json:"hook"`
	Review    ReviewConfig  `mapstructure:"review" json:"review"`
	Gateway   GatewayConfig `mapstructure:"gateway" json:"gateway"`
	Log       LogConfig     `mapstructure:"log" json:"log"`
}

// ProxyConfig describes where pushed repositories are checked out.
type ProxyConfig struct {
	GitPath string `mapstructure:"git_path" json:"git_path"`
}

// HookConfig external pre-receive hook settings
type HookConfig struct {
	// Path is absolute or relative to BaseDir.
	Path string `mapstructure:"path" json:"path"`
	// BaseDir defaults to the config directory.
	BaseDir string     `mapstructure:"base_dir" json:"base_dir"`
	Timeout int        `mapstructure:"timeout" json:"timeout"` // seconds
	Rules   []HookRule `mapstructure:"rules" json:"rules"`
}

// HookRule selects a hook by repo and branch glob.
type HookRule struct {
	Repo    string `mapstructure:"repo" json:"repo,omitempty"`
	Branch  string `mapstructure:"branch" json:"branch,omitempty"`
	Hook    string `mapstructure:"hook" json:"hook,omitempty"`
	Timeout int    `mapstructure:"timeout" json:"timeout,omitempty"` // seconds
	Skip    bool   `mapstructure:"skip" json:"skip,omitempty"`
}

// ReviewConfig manual review ledger settings
type ReviewConfig struct {
	TTLMinutes    int    `mapstructure:"ttl_minutes" json:"ttl_minutes"`
	SweepSchedule string `mapstructure:"sweep_schedule" json:"sweep_schedule"`
}

// GatewayConfig server settings
type GatewayConfig struct {
	Host  string `mapstructure:"host" json:"host"`
	Port  int    `mapstructure:"port" json:"port"`
	Token string `mapstructure:"token" json:"token"`
}

// LogConfig application logging settings
type LogConfig struct {
	Level string `mapstructure:"level" json:"level"`
	// Format is text or json.
	Format string `mapstructure:"format" json:"format"`
	File   string `mapstructure:"file" json:"file"`
}

// DefaultConfig returns config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Workspace: "",
		Proxy:     ProxyConfig{GitPath: ""},
		Hook: HookConfig{
			Path:    defaultHookPath,
			Timeout: defaultHookTimeout,
			Rules:   []HookRule{},
		},
		Review: ReviewConfig{
			TTLMinutes:    defaultReviewTTL,
			SweepSchedule: defaultSweepSchedule,
		},
		Gateway: GatewayConfig{
			Host:  "127.0.0.1",
			Port:  defaultGatewayPort,
			Token: "",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
	}
}

// ConfigDir returns the pushgate config directory
func ConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("failed to resolve home directory, using current directory as fallback", "error", err)
		homeDir = "."
	}
	return filepath.Join(homeDir, ".pushgate")
}

// ConfigPath returns the config file path
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// Load loads config from file or returns defaults. Values can be overridden
// with PUSHGATE_* environment variables, e.g. PUSHGATE_GATEWAY_TOKEN.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := ConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := Save(cfg); err != nil {
			return cfg, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix("PUSHGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return cfg, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return cfg, err
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.MatchName = func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		}
	}); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envKeys are the scalar settings that can be set from the environment.
var envKeys = []string{
	"workspace",
	"proxy.git_path",
	"hook.path",
	"hook.base_dir",
	"hook.timeout",
	"review.ttl_minutes",
	"review.sweep_schedule",
	"gateway.host",
	"gateway.port",
	"gateway.token",
	"log.level",
	"log.format",
	"log.file",
}

func normalizeKey(input string) string {
	input = strings.ReplaceAll(input, "_", "")
	input = strings.ReplaceAll(input, "-", "")
	return strings.ToLower(input)
}

// Save saves config to file
func Save(cfg *Config) error {
	configPath := ConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0600)
}

// Validate checks that the configuration values are within acceptable ranges
// and fills defaults for unset ones.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Hook.Path) == "" {
		c.Hook.Path = defaultHookPath
	}
	if base := strings.TrimSpace(c.Hook.BaseDir); base != "" && !filepath.IsAbs(expandHome(base)) {
		return fmt.Errorf("hook.base_dir must be absolute, got %q", c.Hook.BaseDir)
	}
	if c.Hook.Timeout < 0 || c.Hook.Timeout > maxHookTimeoutSeconds {
		return fmt.Errorf("hook.timeout must be between 0 and %d seconds, got %d", maxHookTimeoutSeconds, c.Hook.Timeout)
	}
	if c.Hook.Timeout == 0 {
		c.Hook.Timeout = defaultHookTimeout
	}
	for i, rule := range c.Hook.Rules {
		if rule.Timeout < 0 || rule.Timeout > maxHookTimeoutSeconds {
			return fmt.Errorf("hook.rules[%d].timeout must be between 0 and %d seconds, got %d", i, maxHookTimeoutSeconds, rule.Timeout)
		}
	}
	if _, err := policy.NewResolver(c.PolicyConfig()); err != nil {
		return fmt.Errorf("hook.rules: %w", err)
	}

	if c.Review.TTLMinutes < 0 {
		return fmt.Errorf("review.ttl_minutes must not be negative, got %d", c.Review.TTLMinutes)
	}
	if c.Review.TTLMinutes == 0 {
		c.Review.TTLMinutes = defaultReviewTTL
	}
	schedule := strings.TrimSpace(c.Review.SweepSchedule)
	if schedule == "" {
		schedule = defaultSweepSchedule
	}
	if !gronx.New().IsValid(schedule) {
		return fmt.Errorf("review.sweep_schedule is not a valid cron expression: %q", c.Review.SweepSchedule)
	}
	c.Review.SweepSchedule = schedule

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be between 1 and 65535, got %d", c.Gateway.Port)
	}

	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	if level == "" {
		c.Log.Level = "info"
	} else {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[level] {
			return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
		}
		c.Log.Level = level
	}

	switch format := strings.ToLower(strings.TrimSpace(c.Log.Format)); format {
	case "":
		c.Log.Format = "text"
	case "text", "json":
		c.Log.Format = format
	default:
		return fmt.Errorf("log.format must be text or json; got %q", c.Log.Format)
	}

	return nil
}

// WorkspacePath returns the expanded workspace path used for state files.
func (c *Config) WorkspacePath() string {
	if ws := strings.TrimSpace(c.Workspace); ws != "" {
		return expandHome(ws)
	}
	return filepath.Join(ConfigDir(), "workspace")
}

// HookBaseDir returns the directory relative hook paths are resolved against.
func (c *Config) HookBaseDir() string {
	if base := strings.TrimSpace(c.Hook.BaseDir); base != "" {
		return expandHome(base)
	}
	return ConfigDir()
}

// GitPath returns the expanded proxy git path, or "" when unset.
func (c *Config) GitPath() string {
	if p := strings.TrimSpace(c.Proxy.GitPath); p != "" {
		return expandHome(p)
	}
	return ""
}

// HookTimeout returns the default hook timeout.
func (c *Config) HookTimeout() time.Duration {
	if c.Hook.Timeout <= 0 {
		return defaultHookTimeout * time.Second
	}
	return time.Duration(c.Hook.Timeout) * time.Second
}

// ReviewTTL returns how long deferred pushes stay pending.
func (c *Config) ReviewTTL() time.Duration {
	if c.Review.TTLMinutes <= 0 {
		return defaultReviewTTL * time.Minute
	}
	return time.Duration(c.Review.TTLMinutes) * time.Minute
}

// PolicyConfig converts hook settings into resolver input.
func (c *Config) PolicyConfig() policy.Config {
	rules := make([]policy.Rule, 0, len(c.Hook.Rules))
	for _, r := range c.Hook.Rules {
		rules = append(rules, policy.Rule{
			Repo:    r.Repo,
			Branch:  r.Branch,
			Hook:    r.Hook,
			Timeout: time.Duration(r.Timeout) * time.Second,
			Skip:    r.Skip,
		})
	}
	return policy.Config{
		DefaultHook:    c.Hook.Path,
		DefaultTimeout: c.HookTimeout(),
		Rules:          rules,
	}
}

func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	rest := strings.TrimPrefix(path[1:], string(filepath.Separator))
	rest = strings.TrimPrefix(rest, "/")
	return filepath.Join(homeDir, rest)
}
