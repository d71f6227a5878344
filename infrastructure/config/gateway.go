package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the gateway's HTTP listener.
type ServerConfig struct {
	Host string `json:"host" yaml:"host" env:"SERVER_HOST"`
	Port int    `json:"port" yaml:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls the session store's Postgres connection.
type DatabaseConfig struct {
	DSN            string `json:"dsn" yaml:"dsn" env:"DATABASE_DSN"`
	MaxOpenConns   int    `json:"max_open_conns" yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns   int    `json:"max_idle_conns" yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	MigrateOnStart bool   `json:"migrate_on_start" yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// LoggingConfig controls gateway logging.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"LOG_FORMAT"`
}

// FrontdoorConfig gates whether the gateway accepts new sessions at all.
type FrontdoorConfig struct {
	Enabled       bool   `json:"frontdoor_enabled" yaml:"frontdoor_enabled" env:"FRONTDOOR_ENABLED"`
	RequirePrivy  bool   `json:"require_privy" yaml:"require_privy" env:"REQUIRE_PRIVY"`
	PrivyAppID    string `json:"privy_app_id" yaml:"privy_app_id" env:"PRIVY_APP_ID"`
	PrivyClientID string `json:"privy_client_id" yaml:"privy_client_id" env:"PRIVY_CLIENT_ID"`
}

// ProvisioningConfig controls how the gateway produces a runtime endpoint.
type ProvisioningConfig struct {
	Backend            string `json:"provisioning_backend" yaml:"provisioning_backend" env:"PROVISIONING_BACKEND"`
	Command            string `json:"provisioning_command" yaml:"provisioning_command" env:"PROVISIONING_COMMAND"`
	TimeoutMs          int    `json:"provisioning_timeout_ms" yaml:"provisioning_timeout_ms" env:"PROVISIONING_TIMEOUT_MS"`
	DefaultInstanceURL string `json:"default_instance_url" yaml:"default_instance_url" env:"DEFAULT_INSTANCE_URL"`
}

// SessionConfig controls session and challenge lifetimes.
type SessionConfig struct {
	TTLSeconds            int `json:"session_ttl_seconds" yaml:"session_ttl_seconds" env:"SESSION_TTL_SECONDS"`
	ChallengeTTLSeconds   int `json:"challenge_ttl_seconds" yaml:"challenge_ttl_seconds" env:"CHALLENGE_TTL_SECONDS"`
	ExpirySweepIntervalMs int `json:"expiry_sweep_interval_ms" yaml:"expiry_sweep_interval_ms" env:"EXPIRY_SWEEP_INTERVAL_MS"`
}

// EventBusConfig controls the in-memory SSE fan-out bus.
type EventBusConfig struct {
	SSEQueueCapacity int `json:"sse_queue_capacity" yaml:"sse_queue_capacity" env:"SSE_QUEUE_CAPACITY"`
	PollIntervalMs   int `json:"poll_interval_ms" yaml:"poll_interval_ms" env:"POLL_INTERVAL_MS"`
}

// VerificationConfig controls the default verification backend posture.
type VerificationConfig struct {
	DefaultBackend         string `json:"verification_default_backend" yaml:"verification_default_backend" env:"VERIFICATION_DEFAULT_BACKEND"`
	DefaultFallbackEnabled bool   `json:"verification_default_fallback_enabled" yaml:"verification_default_fallback_enabled" env:"VERIFICATION_DEFAULT_FALLBACK_ENABLED"`
}

// GatewayConfig is the gateway's top-level configuration structure. Values
// are read once at boot; later mutation is not observed.
type GatewayConfig struct {
	Server       ServerConfig       `json:"server" yaml:"server"`
	Database     DatabaseConfig     `json:"database" yaml:"database"`
	Logging      LoggingConfig      `json:"logging" yaml:"logging"`
	Frontdoor    FrontdoorConfig    `json:"frontdoor" yaml:"frontdoor"`
	Provisioning ProvisioningConfig `json:"provisioning" yaml:"provisioning"`
	Session      SessionConfig      `json:"session" yaml:"session"`
	EventBus     EventBusConfig     `json:"event_bus" yaml:"event_bus"`
	Verification VerificationConfig `json:"verification" yaml:"verification"`
}

// New returns a GatewayConfig populated with defaults.
func New() *GatewayConfig {
	return &GatewayConfig{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			MaxOpenConns:   10,
			MaxIdleConns:   5,
			MigrateOnStart: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Frontdoor: FrontdoorConfig{
			Enabled: true,
		},
		Provisioning: ProvisioningConfig{
			Backend:   "unconfigured",
			TimeoutMs: 60000,
		},
		Session: SessionConfig{
			TTLSeconds:            86400,
			ChallengeTTLSeconds:   600,
			ExpirySweepIntervalMs: 5000,
		},
		EventBus: EventBusConfig{
			SSEQueueCapacity: 512,
			PollIntervalMs:   2000,
		},
		Verification: VerificationConfig{
			DefaultBackend:         "eigencloud_primary",
			DefaultFallbackEnabled: false,
		},
	}
}

// Load loads configuration from an optional .env file, an optional YAML file,
// then process environment variables, in that precedence order (later
// sources win).
func Load() (*GatewayConfig, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadGatewayFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadGatewayFile("configs/gateway.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	return cfg, nil
}

// LoadFile reads gateway configuration from a YAML file, applying defaults
// for anything the file omits.
func LoadFile(path string) (*GatewayConfig, error) {
	cfg := New()
	if err := loadGatewayFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadGatewayFile(path string, cfg *GatewayConfig) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
