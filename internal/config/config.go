// Package config loads and validates the bridge's environment-driven
// configuration. Every knob is supplied through BRIDGE_* variables; missing
// mandatory credentials fail Load so startup aborts before any listener is
// bound.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names the reasoning provider the pool connects personas to.
type Backend string

const (
	BackendAnthropic Backend = "anthropic"
	BackendOpenAI    Backend = "openai"
	BackendGemini    Backend = "gemini"
)

// credentialEnv maps each backend to the environment variable that must
// carry its API key.
var credentialEnv = map[Backend]string{
	BackendAnthropic: "ANTHROPIC_API_KEY",
	BackendOpenAI:    "OPENAI_API_KEY",
	BackendGemini:    "GEMINI_API_KEY",
}

// Config is the fully validated runtime configuration.
type Config struct {
	ListenAddr string
	APIKey     string
	PersonaDir string

	Backend           Backend
	BackendModel      string
	BackendCredential string

	RequestTimeout time.Duration
	EnhanceTimeout time.Duration

	MaxConcurrentRequests int
	MaxPerPersona         int

	HealthProbeInterval time.Duration
	DegradedThreshold   int
	UnhealthyThreshold  int

	IdleTimeout time.Duration

	LogLevel string
	AuditDB  string

	VoiceRegion string
	VoiceEngine string
}

// Load reads BRIDGE_* environment variables, applies defaults, and
// validates the result.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BRIDGE")
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("persona_dir", "personas")
	v.SetDefault("backend", string(BackendAnthropic))
	v.SetDefault("backend_model", "")
	v.SetDefault("request_timeout_ms", 15000)
	v.SetDefault("enhance_timeout_ms", 5000)
	v.SetDefault("max_concurrent_requests", 64)
	v.SetDefault("max_per_persona", 0)
	v.SetDefault("health_probe_interval", "60s")
	v.SetDefault("degraded_threshold", 3)
	v.SetDefault("unhealthy_threshold", 6)
	v.SetDefault("idle_timeout", "5m")
	v.SetDefault("log_level", "info")
	v.SetDefault("audit_db", "")
	v.SetDefault("voice_region", "us-east-1")
	v.SetDefault("voice_engine", "neural")

	cfg := Config{
		ListenAddr:            v.GetString("listen_addr"),
		APIKey:                v.GetString("api_key"),
		PersonaDir:            v.GetString("persona_dir"),
		Backend:               Backend(strings.ToLower(v.GetString("backend"))),
		BackendModel:          v.GetString("backend_model"),
		RequestTimeout:        time.Duration(v.GetInt("request_timeout_ms")) * time.Millisecond,
		EnhanceTimeout:        time.Duration(v.GetInt("enhance_timeout_ms")) * time.Millisecond,
		MaxConcurrentRequests: v.GetInt("max_concurrent_requests"),
		MaxPerPersona:         v.GetInt("max_per_persona"),
		HealthProbeInterval:   v.GetDuration("health_probe_interval"),
		DegradedThreshold:     v.GetInt("degraded_threshold"),
		UnhealthyThreshold:    v.GetInt("unhealthy_threshold"),
		IdleTimeout:           v.GetDuration("idle_timeout"),
		LogLevel:              strings.ToLower(v.GetString("log_level")),
		AuditDB:               v.GetString("audit_db"),
		VoiceRegion:           v.GetString("voice_region"),
		VoiceEngine:           v.GetString("voice_engine"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	credVar, ok := credentialEnv[cfg.Backend]
	if !ok {
		return Config{}, fmt.Errorf("unsupported backend %q (want anthropic, openai, or gemini)", cfg.Backend)
	}
	cfg.BackendCredential = os.Getenv(credVar)
	if cfg.BackendCredential == "" {
		return Config{}, fmt.Errorf("backend %s requires %s to be set", cfg.Backend, credVar)
	}

	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("BRIDGE_API_KEY is required")
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("BRIDGE_LISTEN_ADDR must not be empty")
	}
	if strings.TrimSpace(c.PersonaDir) == "" {
		return fmt.Errorf("BRIDGE_PERSONA_DIR must not be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("BRIDGE_REQUEST_TIMEOUT_MS must be > 0")
	}
	if c.EnhanceTimeout <= 0 {
		return fmt.Errorf("BRIDGE_ENHANCE_TIMEOUT_MS must be > 0")
	}
	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("BRIDGE_MAX_CONCURRENT_REQUESTS must be > 0")
	}
	if c.MaxPerPersona < 0 {
		return fmt.Errorf("BRIDGE_MAX_PER_PERSONA must be >= 0")
	}
	if c.HealthProbeInterval <= 0 {
		return fmt.Errorf("BRIDGE_HEALTH_PROBE_INTERVAL must be > 0")
	}
	if c.DegradedThreshold <= 0 {
		return fmt.Errorf("BRIDGE_DEGRADED_THRESHOLD must be > 0")
	}
	if c.UnhealthyThreshold <= c.DegradedThreshold {
		return fmt.Errorf("BRIDGE_UNHEALTHY_THRESHOLD must be greater than BRIDGE_DEGRADED_THRESHOLD")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("BRIDGE_IDLE_TIMEOUT must be > 0")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("BRIDGE_LOG_LEVEL must be one of debug, info, warn, error")
	}
	return nil
}
