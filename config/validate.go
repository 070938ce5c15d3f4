package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrMissing marks a required setting that is absent. Only the component that
// depends on it is unavailable.
var ErrMissing = errors.New("missing configuration")

// MissingError lists the absent keys for one component.
type MissingError struct {
	Component string
	Keys      []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("%s: missing configuration %s", e.Component, strings.Join(e.Keys, ", "))
}

// Is reports ErrMissing so callers can match with errors.Is.
func (e *MissingError) Is(target error) bool { return target == ErrMissing }

func requireKeys(component string, pairs ...string) error {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			missing = append(missing, pairs[i])
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingError{Component: component, Keys: missing}
}

// Validate rejects malformed values. Absent values are reported by the Ready methods.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	for name, raw := range map[string]string{
		"platform.api_base_url": cfg.Platform.APIBaseURL,
		"backend.base_url":      cfg.Backend.BaseURL,
		"verifier.public_url":   cfg.Verifier.PublicURL,
	} {
		if raw == "" {
			continue
		}
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%s must be an absolute URL", name)
		}
	}
	if addr := strings.TrimSpace(cfg.Chain.ContractAddress); addr != "" && !common.IsHexAddress(addr) {
		return fmt.Errorf("chain.contract_address %q is not a hex address", addr)
	}
	if threshold := cfg.Roles.MinimumScore; threshold != nil {
		if math.IsNaN(*threshold) || math.IsInf(*threshold, 0) {
			return fmt.Errorf("roles.minimum_score must be a finite number")
		}
		if *threshold < 0 {
			return fmt.Errorf("roles.minimum_score must not be negative")
		}
	}
	return nil
}

// PlatformReady reports whether the gateway and REST client can start.
func (cfg Config) PlatformReady() error {
	return requireKeys("platform",
		"platform.token", cfg.Platform.Token,
		"platform.application_id", cfg.Platform.ApplicationID,
	)
}

// RolesReady reports whether role reconciliation can run.
func (cfg Config) RolesReady() error {
	minScore := ""
	if cfg.Roles.MinimumScore != nil {
		minScore = "set"
	}
	return requireKeys("roles",
		"platform.guild_id", cfg.Platform.GuildID,
		"roles.verified_role", cfg.Roles.VerifiedRole,
		"roles.minimum_score", minScore,
	)
}

// BackendReady reports whether the backend client can be built.
func (cfg Config) BackendReady() error {
	return requireKeys("backend",
		"backend.base_url", cfg.Backend.BaseURL,
		"backend.api_key", cfg.Backend.APIKey,
	)
}

// ChainReady reports whether stats and contract queries can run.
func (cfg Config) ChainReady() error {
	return requireKeys("chain", "chain.rpc_url", cfg.Chain.RPCURL)
}

// ContractReady reports whether the contract accessors are configured.
func (cfg Config) ContractReady() error {
	return requireKeys("chain",
		"chain.rpc_url", cfg.Chain.RPCURL,
		"chain.contract_address", cfg.Chain.ContractAddress,
	)
}

// VerifierReady reports whether the wallet-connect API can issue links.
func (cfg Config) VerifierReady() error {
	return requireKeys("verifier",
		"verifier.public_url", cfg.Verifier.PublicURL,
		"verifier.link_secret", cfg.Verifier.LinkSecret,
	)
}

// MinimumScore returns the configured threshold, or zero when unset.
func (cfg Config) MinimumScore() float64 {
	if cfg.Roles.MinimumScore == nil {
		return 0
	}
	return *cfg.Roles.MinimumScore
}
