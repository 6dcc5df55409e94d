// Package config loads and validates the organizer core's configuration.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ProviderConfig configures one LLM provider endpoint.
type ProviderConfig struct {
	APIKey       string            `yaml:"api_key"`
	APIBase      string            `yaml:"api_base"`
	ExtraHeaders map[string]string `yaml:"extra_headers"`
}

// AgentConfig configures the two LLM profiles used by the agent loop.
type AgentConfig struct {
	Workspace         string  `yaml:"workspace"`
	Model             string  `yaml:"model"`
	ScopeModel        string  `yaml:"scope_model"`
	MaxTokens         int     `yaml:"max_tokens"`
	Temperature       float64 `yaml:"temperature"`
	MaxToolIterations int     `yaml:"max_tool_iterations"`
}

// WhatsAppConfig configures the external WhatsApp bridge client.
type WhatsAppConfig struct {
	Enabled   bool     `yaml:"enabled"`
	BridgeURL string   `yaml:"bridge_url"`
	AllowFrom []string `yaml:"allow_from"`
}

// OpsAlertConfig configures the Discord ops/diagnostics channel.
type OpsAlertConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Token            string   `yaml:"token"`
	AllowedGuilds    []string `yaml:"allowed_guilds"`
	AlertChannelID   string   `yaml:"alert_channel_id"`
}

// ChannelsConfig groups every transport the core talks to.
type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	OpsAlert OpsAlertConfig `yaml:"ops_alert"`
}

// GatewayConfig configures the read-only admin HTTP surface.
type GatewayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// DatabaseConfig configures the relational persistence layer.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

// SchedulerConfig configures the scheduler tick loop.
type SchedulerConfig struct {
	TickInterval          string `yaml:"tick_interval"`            // Go duration string, default "1s"
	DeadlineFollowupAfter string `yaml:"deadline_followup_after"`  // default "30m"
	MinRecurringInterval  string `yaml:"min_recurring_interval"`   // default "30m"
	DefaultMinInterval    string `yaml:"default_min_interval"`     // default "2h"
}

// ClockConfig configures the drift-detection background loop.
type ClockConfig struct {
	ExternalTimeURL    string `yaml:"external_time_url"`
	CheckInterval      string `yaml:"check_interval"`       // default "45m"
	AlertThresholdS    int    `yaml:"alert_threshold_s"`    // default 60
	CorrectThresholdS  int    `yaml:"correct_threshold_s"`  // default 60
}

// LimitsConfig configures per-day scheduling quotas (spec §3 invariant 5).
type LimitsConfig struct {
	RemindersPerDay int     `yaml:"reminders_per_day"`
	EventsPerDay    int     `yaml:"events_per_day"`
	TotalPerDay     int     `yaml:"total_per_day"`
	WarnThreshold   float64 `yaml:"warn_threshold"`
}

// SecurityConfig configures the safety envelope.
type SecurityConfig struct {
	MaxInputLength   int `yaml:"max_input_length"`
	RateLimitPerMin  int `yaml:"rate_limit_per_min"`
	CircuitThreshold int `yaml:"circuit_threshold"`
	CircuitRecoveryS int `yaml:"circuit_recovery_s"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Config is the root configuration for the organizer core.
type Config struct {
	DataDir   string                    `yaml:"data_dir"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Agent     AgentConfig               `yaml:"agent"`
	Channels  ChannelsConfig            `yaml:"channels"`
	Gateway   GatewayConfig             `yaml:"gateway"`
	Database  DatabaseConfig            `yaml:"database"`
	Scheduler SchedulerConfig           `yaml:"scheduler"`
	Clock     ClockConfig               `yaml:"clock"`
	Limits    LimitsConfig              `yaml:"limits"`
	Security  SecurityConfig            `yaml:"security"`
	Logging   LoggingConfig             `yaml:"logging"`

	// Secrets, normally sourced from the environment, never persisted to disk.
	GodModePassword string `yaml:"-"`
	APISecretKey    string `yaml:"-"`
	HealthToken     string `yaml:"-"`
	CORSOrigins     []string `yaml:"-"`
	AtendimentoPhone string `yaml:"-"`
	AtendimentoEmail string `yaml:"-"`
	TokenUsageFile   string `yaml:"-"`
	ClockOffsetS     int    `yaml:"-"`
}

// Default returns the baseline configuration before file/env overlay.
func Default() *Config {
	return &Config{
		DataDir:   "./data",
		Providers: map[string]ProviderConfig{},
		Agent: AgentConfig{
			Workspace:         "./workspace",
			Model:             "deepseek/deepseek-chat",
			ScopeModel:        "xiaomi_mimo/mimo-v2-flash",
			MaxTokens:         8192,
			Temperature:       0.7,
			MaxToolIterations: 20,
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				Enabled:   true,
				BridgeURL: "ws://localhost:3001",
			},
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Address: ":18790",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "./data/organizer.db",
		},
		Scheduler: SchedulerConfig{
			TickInterval:          "1s",
			DeadlineFollowupAfter: "30m",
			MinRecurringInterval:  "30m",
			DefaultMinInterval:    "2h",
		},
		Clock: ClockConfig{
			ExternalTimeURL:   "https://worldtimeapi.org/api/timezone/Etc/UTC",
			CheckInterval:     "45m",
			AlertThresholdS:   60,
			CorrectThresholdS: 60,
		},
		Limits: LimitsConfig{
			RemindersPerDay: 40,
			EventsPerDay:    40,
			TotalPerDay:     80,
			WarnThreshold:   0.7,
		},
		Security: SecurityConfig{
			MaxInputLength:   4096,
			RateLimitPerMin:  20,
			CircuitThreshold: 3,
			CircuitRecoveryS: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Z_][A-Z0-9_]*)`)

// Load reads config.yaml (if present) at path, loads .env files, applies
// ${VAR} expansion, and overlays the fixed set of environment variables
// named in spec §6 on top of the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		} else {
			expanded := expandEnvVars(string(data))
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// applyEnvOverrides applies the literal environment variables spec.md §6
// says the core consumes. Provider keys and the WhatsApp bridge URL use the
// NANOBOT_<SECTION>__<KEY> nested-delimiter convention; everything else is a
// single flat variable.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GOD_MODE_PASSWORD"); v != "" {
		cfg.GodModePassword = v
	}
	if v := os.Getenv("API_SECRET_KEY"); v != "" {
		cfg.APISecretKey = v
	}
	if v := os.Getenv("HEALTH_CHECK_TOKEN"); v != "" {
		cfg.HealthToken = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("ATENDIMENTO_PHONE"); v != "" {
		cfg.AtendimentoPhone = v
	}
	if v := os.Getenv("ATENDIMENTO_EMAIL"); v != "" {
		cfg.AtendimentoEmail = v
	}
	if v := os.Getenv("TOKEN_USAGE_FILE"); v != "" {
		cfg.TokenUsageFile = v
	}
	if v := os.Getenv("CLOCK_OFFSET_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ClockOffsetS = n
		}
	}
	if v := os.Getenv("NANOBOT_CHANNELS__WHATSAPP__BRIDGE_URL"); v != "" {
		cfg.Channels.WhatsApp.BridgeURL = v
	}

	prefix := "NANOBOT_PROVIDERS__"
	suffix := "__API_KEY"
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, val := parts[0], parts[1]
		if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, suffix) {
			continue
		}
		name := strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(key, prefix), suffix))
		if cfg.Providers == nil {
			cfg.Providers = map[string]ProviderConfig{}
		}
		p := cfg.Providers[name]
		p.APIKey = val
		cfg.Providers[name] = p
	}
}

// Validate checks the minimum configuration required to start serving.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Channels.WhatsApp.Enabled && c.Channels.WhatsApp.BridgeURL == "" {
		return fmt.Errorf("channels.whatsapp.bridge_url is required when whatsapp is enabled")
	}
	if c.Limits.WarnThreshold <= 0 || c.Limits.WarnThreshold > 1 {
		return fmt.Errorf("limits.warn_threshold must be in (0,1]")
	}
	return nil
}
