package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support human readable YAML and TOML values.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText implements encoding.TextUnmarshaler for the TOML decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for the bot and the verifier API.
type Config struct {
	Env           string              `yaml:"env" toml:"env"`
	Logging       LoggingConfig       `yaml:"logging" toml:"logging"`
	Platform      PlatformConfig      `yaml:"platform" toml:"platform"`
	Roles         RolesConfig         `yaml:"roles" toml:"roles"`
	Backend       BackendConfig       `yaml:"backend" toml:"backend"`
	Chain         ChainConfig         `yaml:"chain" toml:"chain"`
	Verifier      VerifierConfig      `yaml:"verifier" toml:"verifier"`
	Announcements AnnouncementsConfig `yaml:"announcements" toml:"announcements"`
}

// LoggingConfig controls the slog sink.
type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
}

// PlatformConfig holds chat-platform credentials and transport settings.
type PlatformConfig struct {
	Token             string   `yaml:"token" toml:"token"`
	TokenEnv          string   `yaml:"token_env" toml:"token_env"`
	ApplicationID     string   `yaml:"application_id" toml:"application_id"`
	GuildID           string   `yaml:"guild_id" toml:"guild_id"`
	APIBaseURL        string   `yaml:"api_base_url" toml:"api_base_url"`
	GatewayURL        string   `yaml:"gateway_url" toml:"gateway_url"`
	Intents           int      `yaml:"intents" toml:"intents"`
	RequestsPerSecond float64  `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int      `yaml:"burst" toml:"burst"`
	Timeout           Duration `yaml:"timeout" toml:"timeout"`
}

// RolesConfig names the roles managed by the bot.
type RolesConfig struct {
	VerifiedRole           string   `yaml:"verified_role" toml:"verified_role"`
	MinimumScore           *float64 `yaml:"minimum_score" toml:"minimum_score"`
	OperatorRegisteredRole string   `yaml:"operator_registered_role" toml:"operator_registered_role"`
	OperatorApprovedRoles  []string `yaml:"operator_approved_roles" toml:"operator_approved_roles"`
	ModeratorRoleIDs       []string `yaml:"moderator_role_ids" toml:"moderator_role_ids"`
}

// BackendConfig points at the operator/user REST backend.
type BackendConfig struct {
	BaseURL   string   `yaml:"base_url" toml:"base_url"`
	APIKey    string   `yaml:"api_key" toml:"api_key"`
	APIKeyEnv string   `yaml:"api_key_env" toml:"api_key_env"`
	Timeout   Duration `yaml:"timeout" toml:"timeout"`
}

// ChainConfig points at the chain JSON-RPC endpoint.
type ChainConfig struct {
	RPCURL          string   `yaml:"rpc_url" toml:"rpc_url"`
	StatsMethod     string   `yaml:"stats_method" toml:"stats_method"`
	ContractAddress string   `yaml:"contract_address" toml:"contract_address"`
	Timeout         Duration `yaml:"timeout" toml:"timeout"`
}

// VerifierConfig configures the wallet-connect HTTP API.
type VerifierConfig struct {
	Listen         string   `yaml:"listen" toml:"listen"`
	PublicURL      string   `yaml:"public_url" toml:"public_url"`
	LinkSecret     string   `yaml:"link_secret" toml:"link_secret"`
	LinkTTL        Duration `yaml:"link_ttl" toml:"link_ttl"`
	MaxConnections int      `yaml:"max_connections" toml:"max_connections"`
}

// AnnouncementsConfig controls moderator-facing channel notices.
type AnnouncementsConfig struct {
	ChannelID string   `yaml:"channel_id" toml:"channel_id"`
	TTL       Duration `yaml:"ttl" toml:"ttl"`
}

// Load reads the configuration file at path (YAML or TOML, chosen by extension),
// applies VALIDATORGATE_* environment overrides and fills defaults. An empty path
// builds the configuration from the environment alone. Missing component settings
// are not an error here; see the Ready methods.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path = strings.TrimSpace(path); path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.resolveSecrets(os.Getenv); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	case ".yaml", ".yml", "":
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Platform.APIBaseURL == "" {
		cfg.Platform.APIBaseURL = "https://discord.com/api/v10"
	}
	if cfg.Platform.GatewayURL == "" {
		cfg.Platform.GatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"
	}
	if cfg.Platform.Intents == 0 {
		cfg.Platform.Intents = 1 // guilds
	}
	if cfg.Platform.RequestsPerSecond <= 0 {
		cfg.Platform.RequestsPerSecond = 40
	}
	if cfg.Platform.Burst <= 0 {
		cfg.Platform.Burst = 10
	}
	if cfg.Platform.Timeout.Duration <= 0 {
		cfg.Platform.Timeout.Duration = 10 * time.Second
	}
	if cfg.Roles.VerifiedRole == "" {
		cfg.Roles.VerifiedRole = "Verified"
	}
	if cfg.Roles.OperatorRegisteredRole == "" {
		cfg.Roles.OperatorRegisteredRole = "Operator Applicant"
	}
	if len(cfg.Roles.OperatorApprovedRoles) == 0 {
		cfg.Roles.OperatorApprovedRoles = []string{"Operator"}
	}
	if cfg.Backend.Timeout.Duration <= 0 {
		cfg.Backend.Timeout.Duration = 10 * time.Second
	}
	if cfg.Chain.StatsMethod == "" {
		cfg.Chain.StatsMethod = "validator_getLivenessStats"
	}
	if cfg.Chain.Timeout.Duration <= 0 {
		cfg.Chain.Timeout.Duration = 15 * time.Second
	}
	if cfg.Verifier.Listen == "" {
		cfg.Verifier.Listen = ":8088"
	}
	if cfg.Verifier.LinkTTL.Duration <= 0 {
		cfg.Verifier.LinkTTL.Duration = 30 * time.Minute
	}
	if cfg.Announcements.TTL.Duration <= 0 {
		cfg.Announcements.TTL.Duration = 24 * time.Hour
	}
}

func (cfg *Config) resolveSecrets(getenv func(string) string) error {
	cfg.Platform.Token = strings.TrimSpace(cfg.Platform.Token)
	if cfg.Platform.Token == "" && strings.TrimSpace(cfg.Platform.TokenEnv) != "" {
		value := strings.TrimSpace(getenv(strings.TrimSpace(cfg.Platform.TokenEnv)))
		if value == "" {
			return fmt.Errorf("platform.token_env %s is empty", cfg.Platform.TokenEnv)
		}
		cfg.Platform.Token = value
	}
	cfg.Backend.APIKey = strings.TrimSpace(cfg.Backend.APIKey)
	if cfg.Backend.APIKey == "" && strings.TrimSpace(cfg.Backend.APIKeyEnv) != "" {
		value := strings.TrimSpace(getenv(strings.TrimSpace(cfg.Backend.APIKeyEnv)))
		if value == "" {
			return fmt.Errorf("backend.api_key_env %s is empty", cfg.Backend.APIKeyEnv)
		}
		cfg.Backend.APIKey = value
	}
	return nil
}
