package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "bot.yaml", `
env: prod
platform:
  token: abc
  application_id: "111"
  guild_id: "222"
  timeout: 3s
roles:
  verified_role: Verified Human
  minimum_score: 10
  moderator_role_ids: ["900"]
backend:
  base_url: https://backend.example
  api_key: key
chain:
  rpc_url: https://rpc.example
verifier:
  public_url: https://verify.example
  link_secret: s3cret
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "prod", cfg.Env)
	require.Equal(t, 3*time.Second, cfg.Platform.Timeout.Duration)
	require.Equal(t, 10.0, cfg.MinimumScore())
	require.Equal(t, []string{"900"}, cfg.Roles.ModeratorRoleIDs)
	require.Equal(t, "validator_getLivenessStats", cfg.Chain.StatsMethod)
	require.NoError(t, cfg.PlatformReady())
	require.NoError(t, cfg.RolesReady())
	require.NoError(t, cfg.BackendReady())
	require.NoError(t, cfg.ChainReady())
	require.NoError(t, cfg.VerifierReady())
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "bot.toml", `
[platform]
token = "abc"
application_id = "111"

[backend]
timeout = "2s"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "abc", cfg.Platform.Token)
	require.Equal(t, 2*time.Second, cfg.Backend.Timeout.Duration)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "bot.yaml", "platform:\n  guild_id: \"1\"\n")
	t.Setenv("VALIDATORGATE_GUILD_ID", "2")
	t.Setenv("VALIDATORGATE_MIN_SCORE", "12.5")
	t.Setenv("VALIDATORGATE_MODERATOR_ROLE_IDS", "7, 8,,")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "2", cfg.Platform.GuildID)
	require.Equal(t, 12.5, cfg.MinimumScore())
	require.Equal(t, []string{"7", "8"}, cfg.Roles.ModeratorRoleIDs)
}

func TestMissingSettingsOnlyAffectComponent(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	err = cfg.RolesReady()
	require.True(t, errors.Is(err, ErrMissing))
	var missing *MissingError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, "roles", missing.Component)
	require.Contains(t, missing.Keys, "platform.guild_id")
	require.Contains(t, missing.Keys, "roles.minimum_score")

	require.ErrorIs(t, cfg.BackendReady(), ErrMissing)
	require.ErrorIs(t, cfg.ChainReady(), ErrMissing)
}

func TestTokenEnvIndirection(t *testing.T) {
	path := writeConfig(t, "bot.yaml", "platform:\n  token_env: BOT_TOKEN_FOR_TEST\n")
	t.Setenv("BOT_TOKEN_FOR_TEST", " tok ")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "tok", cfg.Platform.Token)

	t.Setenv("BOT_TOKEN_FOR_TEST", "")
	_, err = Load(path)
	require.Error(t, err)
}

func TestValidateRejectsMalformedValues(t *testing.T) {
	path := writeConfig(t, "bot.yaml", "chain:\n  contract_address: nope\n")
	_, err := Load(path)
	require.Error(t, err)

	path = writeConfig(t, "bot.yaml", "backend:\n  base_url: not a url\n")
	_, err = Load(path)
	require.Error(t, err)

	path = writeConfig(t, "bot.json", "{}")
	_, err = Load(path)
	require.Error(t, err)
}

func TestMinimumScoreMustBeFinite(t *testing.T) {
	for _, raw := range []string{"NaN", "Inf", "-Inf", "+Inf"} {
		t.Run(raw, func(t *testing.T) {
			t.Setenv("VALIDATORGATE_MIN_SCORE", raw)
			_, err := Load("")
			require.ErrorContains(t, err, "finite")
		})
	}

	nan := math.NaN()
	cfg := Config{Roles: RolesConfig{MinimumScore: &nan}}
	require.Error(t, cfg.Validate())
}

func TestUnparsableMinimumScoreIsFatal(t *testing.T) {
	t.Setenv("VALIDATORGATE_MIN_SCORE", "ten")
	_, err := Load("")
	require.ErrorContains(t, err, "VALIDATORGATE_MIN_SCORE")
}
