package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"validatorgate/platform"
)

// Deploy failure classes.
const (
	DeployOK              = "ok"
	DeployPermission      = "permission"
	DeployMalformedSchema = "malformed_schema"
	DeployRateLimited     = "rate_limited"
	DeployOther           = "other"
)

// ClassifyDeployError maps a bulk overwrite failure onto a deploy class.
func ClassifyDeployError(err error) string {
	if err == nil {
		return DeployOK
	}
	switch platform.StatusOf(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return DeployPermission
	case http.StatusBadRequest:
		return DeployMalformedSchema
	case http.StatusTooManyRequests:
		return DeployRateLimited
	}
	var apiErr *platform.APIError
	if errors.As(err, &apiErr) && apiErr.Code == 50001 {
		return DeployPermission
	}
	return DeployOther
}

// Deploy overwrites the guild command schemas with the registry declarations
// and records the assigned ids. It is safe to call repeatedly.
func (b *Bot) Deploy(ctx context.Context) error {
	if b.cfg.GuildID == "" {
		err := notConfigured("guild id")
		b.logger.Error("command deploy skipped", slog.String("error", err.Error()))
		b.recordDeploy(DeployOther)
		return err
	}
	defs := b.registry.Definitions()
	deployed, err := b.platform.BulkOverwriteGuildCommands(ctx, b.cfg.GuildID, defs)
	if err != nil {
		class := ClassifyDeployError(err)
		b.logger.Error("command deploy failed",
			slog.String("guild", b.cfg.GuildID),
			slog.String("class", class),
			slog.Int("status", platform.StatusOf(err)),
			slog.String("error", err.Error()))
		b.recordDeploy(class)
		return fmt.Errorf("deploy commands: %w", err)
	}
	b.registry.Sync(deployed)
	b.logger.Info("commands deployed",
		slog.String("guild", b.cfg.GuildID),
		slog.Int("count", len(deployed)))
	b.recordDeploy(DeployOK)
	return nil
}

func (b *Bot) recordDeploy(outcome string) {
	if b.metrics != nil {
		b.metrics.RecordDeploy(outcome)
	}
}
