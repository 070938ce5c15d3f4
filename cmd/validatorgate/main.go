package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"validatorgate/backend"
	"validatorgate/bot"
	"validatorgate/chain"
	"validatorgate/cleanup"
	"validatorgate/config"
	"validatorgate/observability"
	"validatorgate/observability/logging"
	telemetry "validatorgate/observability/otel"
	"validatorgate/platform"
	"validatorgate/roles"
	"validatorgate/services/verifier"
	"validatorgate/session"
	"validatorgate/stats"
	"validatorgate/verification"
)

const (
	serviceName     = "validatorgate"
	cleanupInterval = time.Minute
	eventBuffer     = 64
)

func main() {
	if err := run(); err != nil {
		slog.Error("validatorgate exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", os.Getenv("VALIDATORGATE_CONFIG"), "path to a YAML or TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup(serviceName, cfg.Env, logging.Options{
		Level:      logging.ParseLevel(cfg.Logging.Level),
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv(serviceName, cfg.Env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	if err := cfg.PlatformReady(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.Bot()

	api, err := platform.NewClient(platform.RESTConfig{
		BaseURL:           cfg.Platform.APIBaseURL,
		Token:             cfg.Platform.Token,
		ApplicationID:     cfg.Platform.ApplicationID,
		RequestsPerSecond: cfg.Platform.RequestsPerSecond,
		Burst:             cfg.Platform.Burst,
		Timeout:           cfg.Platform.Timeout.Duration,
	})
	if err != nil {
		return fmt.Errorf("platform client: %w", err)
	}
	gateway, err := platform.NewGateway(platform.GatewayConfig{
		URL:     cfg.Platform.GatewayURL,
		Token:   cfg.Platform.Token,
		Intents: cfg.Platform.Intents,
		Logger:  logger.With(slog.String("component", "gateway")),
	})
	if err != nil {
		return fmt.Errorf("platform gateway: %w", err)
	}

	store := session.NewStore(session.WithObserver(metrics.SetActiveSessions))

	var (
		backendClient *backend.Client
		scores        verification.ScoreSource
		operators     bot.Operators
		users         bot.Users
	)
	if err := cfg.BackendReady(); err != nil {
		logger.Warn("backend disabled", slog.String("reason", err.Error()))
	} else {
		backendClient, err = backend.NewClient(backend.Config{
			BaseURL: cfg.Backend.BaseURL,
			APIKey:  cfg.Backend.APIKey,
			Timeout: cfg.Backend.Timeout.Duration,
		})
		if err != nil {
			return fmt.Errorf("backend client: %w", err)
		}
		scores, operators, users = backendClient, backendClient, backendClient
	}

	var engine *roles.Engine
	var assigner bot.RoleAssigner
	var verifierRoles verification.RoleAssigner
	if err := cfg.RolesReady(); err != nil {
		logger.Warn("role assignment disabled", slog.String("reason", err.Error()))
	} else {
		opts := []roles.Option{
			roles.WithLogger(logger.With(slog.String("component", "roles"))),
			roles.WithMetrics(metrics),
		}
		if backendClient != nil {
			opts = append(opts, roles.WithNotifier(backend.RoleNotifier{Client: backendClient}))
		}
		engine = roles.NewEngine(api, roles.Config{
			GuildID:      cfg.Platform.GuildID,
			VerifiedRole: cfg.Roles.VerifiedRole,
			MinimumScore: cfg.MinimumScore(),
		}, opts...)
		assigner, verifierRoles = engine, engine
	}

	var (
		chainReader bot.ChainReader
		statsReader bot.StatsReader
	)
	if err := cfg.ChainReady(); err != nil {
		logger.Warn("validator stats disabled", slog.String("reason", err.Error()))
	} else {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Chain.Timeout.Duration)
		source, rpcClient, err := stats.DialRPCSource(dialCtx, cfg.Chain.RPCURL, cfg.Chain.StatsMethod)
		cancel()
		if err != nil {
			return fmt.Errorf("dial stats rpc: %w", err)
		}
		defer rpcClient.Close()
		statsReader = stats.NewCache(source,
			stats.WithFetchTimeout(cfg.Chain.Timeout.Duration),
			stats.WithLogger(logger.With(slog.String("component", "stats"))),
			stats.WithMetrics(metrics))
	}
	if err := cfg.ContractReady(); err != nil {
		logger.Warn("contract queries disabled", slog.String("reason", err.Error()))
	} else {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Chain.Timeout.Duration)
		client, err := chain.Dial(dialCtx, cfg.Chain.RPCURL)
		cancel()
		if err != nil {
			return fmt.Errorf("dial chain: %w", err)
		}
		defer client.Close()
		contract, err := chain.NewContract(client, common.HexToAddress(cfg.Chain.ContractAddress))
		if err != nil {
			return fmt.Errorf("bind contract: %w", err)
		}
		chainReader = contract
	}

	flowOpts := []verification.Option{verification.WithLogger(logger.With(slog.String("component", "verification")))}
	if backendClient != nil {
		flowOpts = append(flowOpts, verification.WithRecorder(backendClient))
	}
	flow := verification.NewFlow(store, scores, verifierRoles, flowOpts...)

	tracker := cleanup.NewTracker(api, cleanup.WithLogger(logger.With(slog.String("component", "cleanup"))))

	group, ctx := errgroup.WithContext(ctx)

	var links bot.LinkIssuer
	if err := cfg.VerifierReady(); err != nil {
		logger.Warn("wallet-connect links disabled", slog.String("reason", err.Error()))
	} else {
		signer, err := verifier.NewLinkSigner(cfg.Verifier.PublicURL, cfg.Verifier.LinkSecret, cfg.Verifier.LinkTTL.Duration)
		if err != nil {
			return fmt.Errorf("link signer: %w", err)
		}
		links = signer
		server, err := verifier.New(verifier.Config{
			Flow:           flow,
			Tokens:         signer,
			Metrics:        promhttp.Handler(),
			Logger:         logger.With(slog.String("component", "verifier")),
			MaxConnections: cfg.Verifier.MaxConnections,
		})
		if err != nil {
			return fmt.Errorf("verifier server: %w", err)
		}
		group.Go(func() error { return server.Run(ctx, cfg.Verifier.Listen) })
	}

	b := bot.New(bot.Config{
		GuildID:                cfg.Platform.GuildID,
		ModeratorRoleIDs:       cfg.Roles.ModeratorRoleIDs,
		OperatorRegisteredRole: cfg.Roles.OperatorRegisteredRole,
		OperatorApprovedRoles:  cfg.Roles.OperatorApprovedRoles,
		AnnounceChannelID:      cfg.Announcements.ChannelID,
		AnnounceTTL:            cfg.Announcements.TTL.Duration,
		MinimumScore:           cfg.MinimumScore(),
	}, bot.Deps{
		Platform:  api,
		Flow:      flow,
		Roles:     assigner,
		Stats:     statsReader,
		Chain:     chainReader,
		Operators: operators,
		Users:     users,
		Links:     links,
		Cleanup:   tracker,
		Logger:    logger.With(slog.String("component", "bot")),
		Metrics:   metrics,
		Tracer:    otel.Tracer("validatorgate/bot"),
	})

	events := make(chan platform.Event, eventBuffer)
	group.Go(func() error {
		tracker.Run(ctx, cleanupInterval)
		return nil
	})
	group.Go(func() error {
		defer close(events)
		return gateway.Run(ctx, events)
	})
	group.Go(func() error { return b.Run(ctx, events) })

	logger.Info("validatorgate started",
		slog.String("guild", cfg.Platform.GuildID),
		slog.Bool("backend", backendClient != nil),
		slog.Bool("roles", engine != nil),
		slog.Bool("stats", statsReader != nil),
		slog.Bool("chain", chainReader != nil),
		slog.Bool("links", links != nil),
		slog.String("moderators", strings.Join(cfg.Roles.ModeratorRoleIDs, ",")))

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("validatorgate stopped")
	return nil
}
