package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"validatorgate/platform"
)

// Provider is the platform surface needed to inspect and mutate member roles.
type Provider interface {
	Guild(ctx context.Context, guildID string) (platform.Guild, error)
	GuildRoles(ctx context.Context, guildID string) ([]platform.Role, error)
	GuildMember(ctx context.Context, guildID, userID string) (platform.Member, error)
	AddMemberRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveMemberRole(ctx context.Context, guildID, userID, roleID string) error
}

// Notifier records a committed role change in the backend.
type Notifier interface {
	RoleChanged(ctx context.Context, change Change) error
}

// Metrics receives role mutation outcomes.
type Metrics interface {
	RecordRoleMutation(action, outcome string)
}

// Kind tags the request variant.
type Kind int

const (
	KindRole Kind = iota + 1
	KindScore
	KindBulk
)

func (k Kind) String() string {
	switch k {
	case KindRole:
		return "role"
	case KindScore:
		return "score"
	case KindBulk:
		return "bulk"
	default:
		return "unknown"
	}
}

// Request is a single role assignment call. Build it with RoleRequest,
// ScoreRequest or BulkRequest.
type Request struct {
	Kind      Kind
	UserID    string
	RoleName  string
	RoleNames []string
	Score     float64
}

// RoleRequest grants one named role to userID.
func RoleRequest(userID, roleName string) Request {
	return Request{Kind: KindRole, UserID: userID, RoleName: roleName}
}

// ScoreRequest reconciles the verification role against score.
func ScoreRequest(userID string, score float64) Request {
	return Request{Kind: KindScore, UserID: userID, Score: score}
}

// BulkRequest grants each named role in turn.
func BulkRequest(userID string, roleNames ...string) Request {
	return Request{Kind: KindBulk, UserID: userID, RoleNames: append([]string(nil), roleNames...)}
}

// Action describes what happened to one role.
type Action string

const (
	ActionAdded     Action = "added"
	ActionRemoved   Action = "removed"
	ActionUnchanged Action = "unchanged"
)

// Change is a committed membership change, passed to the Notifier.
type Change struct {
	UserID string
	RoleID string
	Role   string
	Action Action
}

// Outcome reports the result for one role.
type Outcome struct {
	Role   string
	Action Action
	// Held is the membership after the call.
	Held bool
}

// Failure reports a role the bulk path could not apply.
type Failure struct {
	Role string
	Err  error
}

// Result summarises an Assign call.
type Result struct {
	Kind     Kind
	Outcomes []Outcome
	Failures []Failure
}

// Granted reports whether the member holds the named role after the call.
func (r Result) Granted(role string) bool {
	for _, o := range r.Outcomes {
		if o.Role == role && o.Held {
			return true
		}
	}
	return false
}

// Config selects the guild and verification policy.
type Config struct {
	GuildID      string
	VerifiedRole string
	MinimumScore float64
}

// Option customises an Engine.
type Option func(*Engine)

// WithNotifier records committed changes through n.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics reports mutation outcomes to m.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine reconciles guild member roles against explicit grants and scores.
type Engine struct {
	provider Provider
	cfg      Config
	notifier Notifier
	metrics  Metrics
	logger   *slog.Logger
}

// NewEngine constructs an engine on top of provider.
func NewEngine(provider Provider, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		provider: provider,
		cfg: Config{
			GuildID:      strings.TrimSpace(cfg.GuildID),
			VerifiedRole: strings.TrimSpace(cfg.VerifiedRole),
			MinimumScore: cfg.MinimumScore,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MinimumScore returns the configured verification threshold.
func (e *Engine) MinimumScore() float64 { return e.cfg.MinimumScore }

// VerifiedRole returns the name of the score-driven role.
func (e *Engine) VerifiedRole() string { return e.cfg.VerifiedRole }

// Assign applies req. Bulk requests succeed once every role has been attempted;
// individual failures are listed in the result.
func (e *Engine) Assign(ctx context.Context, req Request) (Result, error) {
	result := Result{Kind: req.Kind}
	if e.cfg.GuildID == "" {
		return result, e.fail(req, "", fmt.Errorf("%w: guild id unset", ErrMissingConfiguration))
	}
	if strings.TrimSpace(req.UserID) == "" {
		return result, e.fail(req, "", fmt.Errorf("%w: user id unset", ErrMissingConfiguration))
	}
	switch req.Kind {
	case KindRole:
		outcome, err := e.grant(ctx, req.UserID, req.RoleName)
		if err != nil {
			return result, e.fail(req, req.RoleName, err)
		}
		result.Outcomes = append(result.Outcomes, outcome)
		return result, nil
	case KindScore:
		outcome, err := e.reconcileScore(ctx, req.UserID, req.Score)
		if err != nil {
			return result, e.fail(req, e.cfg.VerifiedRole, err)
		}
		result.Outcomes = append(result.Outcomes, outcome)
		return result, nil
	case KindBulk:
		for _, name := range req.RoleNames {
			outcome, err := e.grant(ctx, req.UserID, name)
			if err != nil {
				_ = e.fail(req, name, err)
				result.Failures = append(result.Failures, Failure{Role: name, Err: err})
				continue
			}
			result.Outcomes = append(result.Outcomes, outcome)
		}
		return result, nil
	default:
		return result, fmt.Errorf("roles: unknown request kind %d", req.Kind)
	}
}

type target struct {
	role   platform.Role
	member platform.Member
}

func (e *Engine) resolve(ctx context.Context, userID, roleName string) (target, error) {
	if _, err := e.provider.Guild(ctx, e.cfg.GuildID); err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return target{}, &NotFoundError{Entity: EntityGuild, Name: e.cfg.GuildID}
		}
		return target{}, providerError("fetch guild", err)
	}
	roles, err := e.provider.GuildRoles(ctx, e.cfg.GuildID)
	if err != nil {
		return target{}, providerError("list roles", err)
	}
	role, ok := platform.RoleByName(roles, roleName)
	if !ok {
		return target{}, &NotFoundError{Entity: EntityRole, Name: roleName}
	}
	member, err := e.provider.GuildMember(ctx, e.cfg.GuildID, userID)
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return target{}, &NotFoundError{Entity: EntityMember, Name: userID}
		}
		return target{}, providerError("fetch member", err)
	}
	return target{role: role, member: member}, nil
}

func (e *Engine) grant(ctx context.Context, userID, roleName string) (Outcome, error) {
	roleName = strings.TrimSpace(roleName)
	if roleName == "" {
		return Outcome{}, fmt.Errorf("%w: role name unset", ErrMissingConfiguration)
	}
	t, err := e.resolve(ctx, userID, roleName)
	if err != nil {
		return Outcome{}, err
	}
	held := t.member.HasRole(t.role.ID)
	if err := e.provider.AddMemberRole(ctx, e.cfg.GuildID, userID, t.role.ID); err != nil {
		return Outcome{}, providerError("add role", err)
	}
	if held {
		e.record(ActionUnchanged, "ok")
		return Outcome{Role: t.role.Name, Action: ActionUnchanged, Held: true}, nil
	}
	e.commit(ctx, Change{UserID: userID, RoleID: t.role.ID, Role: t.role.Name, Action: ActionAdded})
	return Outcome{Role: t.role.Name, Action: ActionAdded, Held: true}, nil
}

func (e *Engine) reconcileScore(ctx context.Context, userID string, score float64) (Outcome, error) {
	if e.cfg.VerifiedRole == "" {
		return Outcome{}, fmt.Errorf("%w: verification role unset", ErrMissingConfiguration)
	}
	t, err := e.resolve(ctx, userID, e.cfg.VerifiedRole)
	if err != nil {
		return Outcome{}, err
	}
	held := t.member.HasRole(t.role.ID)
	change := Change{UserID: userID, RoleID: t.role.ID, Role: t.role.Name}
	switch {
	case score >= e.cfg.MinimumScore && !held:
		if err := e.provider.AddMemberRole(ctx, e.cfg.GuildID, userID, t.role.ID); err != nil {
			return Outcome{}, providerError("add role", err)
		}
		change.Action = ActionAdded
	case score < e.cfg.MinimumScore && held:
		if err := e.provider.RemoveMemberRole(ctx, e.cfg.GuildID, userID, t.role.ID); err != nil {
			return Outcome{}, providerError("remove role", err)
		}
		change.Action = ActionRemoved
	default:
		e.record(ActionUnchanged, "ok")
		return Outcome{Role: t.role.Name, Action: ActionUnchanged, Held: held}, nil
	}
	e.commit(ctx, change)
	return Outcome{Role: t.role.Name, Action: change.Action, Held: change.Action == ActionAdded}, nil
}

func (e *Engine) commit(ctx context.Context, change Change) {
	e.record(change.Action, "ok")
	e.logger.Info("role membership changed",
		slog.String("user", change.UserID),
		slog.String("role", change.Role),
		slog.String("action", string(change.Action)))
	if e.notifier == nil {
		return
	}
	if err := e.notifier.RoleChanged(ctx, change); err != nil {
		e.logger.Warn("role change notification failed",
			slog.String("user", change.UserID),
			slog.String("role", change.Role),
			slog.String("error", err.Error()))
	}
}

func (e *Engine) fail(req Request, role string, err error) error {
	e.record(Action(req.Kind.String()), "error")
	e.logger.Error("role assignment failed",
		slog.String("kind", req.Kind.String()),
		slog.String("user", req.UserID),
		slog.String("role", role),
		slog.String("error", err.Error()))
	return err
}

func (e *Engine) record(action Action, outcome string) {
	if e.metrics != nil {
		e.metrics.RecordRoleMutation(string(action), outcome)
	}
}
