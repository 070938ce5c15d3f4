// Package bot routes platform interactions to the verification, role, stats and
// operator handlers.
package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/trace"

	"validatorgate/backend"
	"validatorgate/chain"
	"validatorgate/platform"
	"validatorgate/roles"
	"validatorgate/session"
	"validatorgate/stats"
	"validatorgate/verification"
)

// Platform is the REST surface the bot drives.
type Platform interface {
	Responses
	SendChannelMessage(ctx context.Context, channelID string, msg platform.MessageContent) (platform.Message, error)
	SendDirectMessage(ctx context.Context, userID string, msg platform.MessageContent) (platform.Message, error)
	BulkOverwriteGuildCommands(ctx context.Context, guildID string, cmds []platform.ApplicationCommand) ([]platform.ApplicationCommand, error)
}

// RoleAssigner applies role requests. *roles.Engine satisfies it.
type RoleAssigner interface {
	Assign(ctx context.Context, req roles.Request) (roles.Result, error)
}

// StatsReader resolves validator stats for an epoch. *stats.Cache satisfies it.
type StatsReader interface {
	Fetch(ctx context.Context, address string, epoch uint64) (stats.ValidatorStats, error)
}

// ChainReader reads contract state. *chain.Contract satisfies it.
type ChainReader interface {
	Info(ctx context.Context) (chain.Info, error)
	CurrentEpoch(ctx context.Context) (uint64, error)
	IsCommitteeMember(ctx context.Context, address common.Address) (bool, error)
}

// Operators is the backend surface for the operator track. *backend.Client satisfies it.
type Operators interface {
	GetOperator(ctx context.Context, platformUserID string) (backend.Operator, error)
	GetOperatorByAddress(ctx context.Context, address string) (backend.Operator, error)
	CreateOperator(ctx context.Context, op backend.Operator) (backend.Operator, error)
	ApproveOperator(ctx context.Context, platformUserID, approvedBy string) (backend.Operator, error)
	ListValidators(ctx context.Context, operatorID string) ([]backend.Validator, error)
	CreateValidator(ctx context.Context, v backend.Validator) (backend.Validator, error)
	SendMessage(ctx context.Context, msg backend.Message) error
}

// Users reads linked accounts from the backend. *backend.Client satisfies it.
type Users interface {
	GetUser(ctx context.Context, platformUserID string) (backend.User, error)
}

// LinkIssuer mints a wallet-connect URL for a session.
type LinkIssuer interface {
	Link(sess session.Session) (string, error)
}

// MessageTracker schedules bot messages for deletion. *cleanup.Tracker satisfies it.
type MessageTracker interface {
	Track(channelID, messageID string, ttl time.Duration)
}

// BotMetrics is the metrics surface used by the bot.
type BotMetrics interface {
	Metrics
	RecordDeploy(outcome string)
}

// Config carries guild level settings.
type Config struct {
	GuildID                string
	ModeratorRoleIDs       []string
	OperatorRegisteredRole string
	OperatorApprovedRoles  []string
	AnnounceChannelID      string
	AnnounceTTL            time.Duration
	MinimumScore           float64
}

// Deps are the collaborators of the bot. Only Platform is required; handlers
// whose dependency is nil reply with a not configured message.
type Deps struct {
	Platform  Platform
	Flow      *verification.Flow
	Roles     RoleAssigner
	Stats     StatsReader
	Chain     ChainReader
	Operators Operators
	Users     Users
	Links     LinkIssuer
	Cleanup   MessageTracker
	Logger    *slog.Logger
	Metrics   BotMetrics
	Tracer    trace.Tracer
	Now       func() time.Time
}

// Bot owns the command registry and the interaction router.
type Bot struct {
	cfg      Config
	platform Platform
	flow     *verification.Flow
	roles    RoleAssigner
	stats    StatsReader
	chain    ChainReader
	ops      Operators
	users    Users
	links    LinkIssuer
	cleanup  MessageTracker
	logger   *slog.Logger
	metrics  BotMetrics
	now      func() time.Time

	registry *Registry
	router   *Router
}

// New assembles the bot and registers every command and component.
func New(cfg Config, deps Deps) *Bot {
	b := &Bot{
		cfg:      cfg,
		platform: deps.Platform,
		flow:     deps.Flow,
		roles:    deps.Roles,
		stats:    deps.Stats,
		chain:    deps.Chain,
		ops:      deps.Operators,
		users:    deps.Users,
		links:    deps.Links,
		cleanup:  deps.Cleanup,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		now:      deps.Now,
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.now == nil {
		b.now = time.Now
	}
	b.registry = NewRegistry(b.commands()...)
	opts := []RouterOption{WithRouterLogger(b.logger), WithTracer(deps.Tracer)}
	if b.metrics != nil {
		opts = append(opts, WithRouterMetrics(b.metrics))
	}
	b.router = NewRouter(b.platform, b.registry, opts...)
	b.components()
	return b
}

// Registry exposes the command registry.
func (b *Bot) Registry() *Registry { return b.registry }

// Handle routes a single interaction synchronously.
func (b *Bot) Handle(ctx context.Context, in *platform.Interaction) {
	b.router.Handle(ctx, in)
}

// Run consumes gateway events until ctx is cancelled or events is closed. Each
// interaction is handled on its own goroutine; Run waits for them before
// returning.
func (b *Bot) Run(ctx context.Context, events <-chan platform.Event) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case platform.EventReady:
				if ev.Ready != nil {
					b.logger.Info("gateway ready",
						slog.String("session", ev.Ready.SessionID),
						slog.String("user", ev.Ready.User.Username))
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					_ = b.Deploy(ctx)
				}()
			case platform.EventInteractionCreate:
				in := ev.Interaction
				wg.Add(1)
				go func() {
					defer wg.Done()
					b.router.Handle(ctx, in)
				}()
			case platform.EventError:
				if ev.Err != nil {
					b.logger.Warn("gateway error", slog.String("error", ev.Err.Error()))
				}
			default:
				b.logger.Debug("ignoring gateway event", slog.String("kind", ev.Kind.String()))
			}
		}
	}
}

// isModerator reports whether the invoking member holds a moderator role.
func (b *Bot) isModerator(in *platform.Interaction) bool {
	if in == nil || in.Member == nil {
		return false
	}
	for _, id := range b.cfg.ModeratorRoleIDs {
		if in.Member.HasRole(id) {
			return true
		}
	}
	return false
}

func (b *Bot) requireModerator(req *Request) error {
	if !b.isModerator(req.Interaction) {
		b.logger.Warn("moderator command denied",
			slog.String("command", req.Command.Name),
			slog.String("custom_id", req.CustomID),
			slog.String("user", req.User.ID))
		return Userf("Only moderators can do that.")
	}
	return nil
}
