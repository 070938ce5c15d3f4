package config

import (
	"fmt"
	"strconv"
	"strings"
)

const envPrefix = "VALIDATORGATE_"

// applyEnv overlays recognised environment variables on top of the file values.
func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(name string, dst *string) {
		if value := strings.TrimSpace(getenv(envPrefix + name)); value != "" {
			*dst = value
		}
	}
	str("ENV", &cfg.Env)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FILE", &cfg.Logging.File)
	str("PLATFORM_TOKEN", &cfg.Platform.Token)
	str("APPLICATION_ID", &cfg.Platform.ApplicationID)
	str("GUILD_ID", &cfg.Platform.GuildID)
	str("VERIFIED_ROLE", &cfg.Roles.VerifiedRole)
	str("BACKEND_URL", &cfg.Backend.BaseURL)
	str("BACKEND_API_KEY", &cfg.Backend.APIKey)
	str("RPC_URL", &cfg.Chain.RPCURL)
	str("STATS_METHOD", &cfg.Chain.StatsMethod)
	str("CONTRACT_ADDRESS", &cfg.Chain.ContractAddress)
	str("VERIFIER_LISTEN", &cfg.Verifier.Listen)
	str("VERIFIER_PUBLIC_URL", &cfg.Verifier.PublicURL)
	str("LINK_SECRET", &cfg.Verifier.LinkSecret)
	str("ANNOUNCE_CHANNEL_ID", &cfg.Announcements.ChannelID)

	if raw := strings.TrimSpace(getenv(envPrefix + "MIN_SCORE")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%sMIN_SCORE %q is not a number", envPrefix, raw)
		}
		cfg.Roles.MinimumScore = &value
	}
	if raw := strings.TrimSpace(getenv(envPrefix + "MODERATOR_ROLE_IDS")); raw != "" {
		cfg.Roles.ModeratorRoleIDs = splitList(raw)
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
