package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"validatorgate/platform"
)

// Kind classifies a routed interaction.
type Kind string

const (
	KindCommand   Kind = "command"
	KindComponent Kind = "component"
	KindModal     Kind = "modal"
)

// Request is what a handler receives.
type Request struct {
	Interaction *platform.Interaction
	Kind        Kind
	Command     platform.CommandData
	Subcommand  string
	Options     []platform.CommandOption
	CustomID    string
	// Payload is the custom id text after the first underscore.
	Payload string
	Modal   platform.ModalData
	User    platform.User
	Respond *Responder
}

// Option reads a string option of the command or subcommand.
func (r *Request) Option(name string) string {
	v, _ := platform.StringOption(r.Options, name)
	return strings.TrimSpace(v)
}

// Metrics receives interaction outcomes.
type Metrics interface {
	ObserveInteraction(kind, name, outcome string, duration time.Duration)
}

// Router resolves interactions to handlers and turns every failure into one reply.
type Router struct {
	api      Responses
	registry *Registry
	exact    map[string]HandlerFunc
	prefixes map[string]HandlerFunc
	logger   *slog.Logger
	metrics  Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

// RouterOption customises a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the structured logger.
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRouterMetrics reports outcomes to m.
func WithRouterMetrics(m Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// WithTracer overrides the tracer used for interaction spans.
func WithTracer(t trace.Tracer) RouterOption {
	return func(r *Router) {
		if t != nil {
			r.tracer = t
		}
	}
}

// NewRouter constructs a router over registry.
func NewRouter(api Responses, registry *Registry, opts ...RouterOption) *Router {
	r := &Router{
		api:      api,
		registry: registry,
		exact:    make(map[string]HandlerFunc),
		prefixes: make(map[string]HandlerFunc),
		logger:   slog.Default(),
		tracer:   otel.Tracer("validatorgate/bot"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleExact routes a whole custom id to h. Exact ids win over prefixes.
func (r *Router) HandleExact(customID string, h HandlerFunc) {
	r.exact[customID] = h
}

// HandlePrefix routes custom ids of the form <action>_<payload> to h.
func (r *Router) HandlePrefix(action string, h HandlerFunc) {
	r.prefixes[action] = h
}

// Handle processes one interaction to completion. It never panics.
func (r *Router) Handle(ctx context.Context, in *platform.Interaction) {
	if in == nil {
		return
	}
	var kind Kind
	switch in.Type {
	case platform.InteractionApplicationCommand:
		kind = KindCommand
	case platform.InteractionMessageComponent:
		kind = KindComponent
	case platform.InteractionModalSubmit:
		kind = KindModal
	default:
		return
	}

	start := r.now()
	resp := NewResponder(r.api, in)
	req := &Request{Interaction: in, Kind: kind, Respond: resp}
	if u := in.Invoker(); u != nil {
		req.User = *u
	}
	ctx, span := r.tracer.Start(ctx, "interaction."+string(kind), trace.WithAttributes(
		attribute.String("interaction.id", in.ID),
		attribute.String("user.id", req.User.ID),
	))
	defer span.End()

	name := ""
	outcome := "ok"
	defer func() {
		if rec := recover(); rec != nil {
			outcome = "panic"
			err := fmt.Errorf("handler panic: %v", rec)
			r.logger.Error("interaction handler panicked",
				slog.String("kind", string(kind)),
				slog.String("name", name),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.fail(ctx, req, err)
		}
		if r.metrics != nil {
			r.metrics.ObserveInteraction(string(kind), name, outcome, r.now().Sub(start))
		}
	}()

	handler, err := r.resolve(req)
	name = req.Command.Name
	if name == "" {
		name, _, _ = strings.Cut(req.CustomID, "_")
	}
	span.SetAttributes(attribute.String("interaction.name", name))
	if err != nil {
		outcome = "error"
		r.fail(ctx, req, err)
		return
	}
	if handler == nil {
		outcome = "ignored"
		return
	}
	if err := handler(ctx, req); err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.fail(ctx, req, err)
	}
}

// resolve decodes the payload and finds the handler. A nil handler with nil
// error means the interaction is ignored.
func (r *Router) resolve(req *Request) (HandlerFunc, error) {
	in := req.Interaction
	switch req.Kind {
	case KindCommand:
		if err := json.Unmarshal(in.Data, &req.Command); err != nil {
			return nil, fmt.Errorf("decode command data: %w", err)
		}
		cmd, ok := r.registry.Lookup(req.Command.Name)
		if !ok {
			r.logger.Debug("ignoring unknown command", slog.String("command", req.Command.Name))
			return nil, nil
		}
		req.Subcommand, req.Options = req.Command.Subcommand()
		r.logger.Info("command received",
			slog.String("command", req.Command.Name),
			slog.String("subcommand", req.Subcommand),
			slog.String("channel", in.ChannelID),
			slog.String("user", req.User.ID))
		return cmd.Handler, nil
	case KindComponent:
		var data platform.ComponentData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			return nil, fmt.Errorf("decode component data: %w", err)
		}
		req.CustomID = data.CustomID
	case KindModal:
		if err := json.Unmarshal(in.Data, &req.Modal); err != nil {
			return nil, fmt.Errorf("decode modal data: %w", err)
		}
		req.CustomID = req.Modal.CustomID
	}
	if h, ok := r.exact[req.CustomID]; ok {
		return h, nil
	}
	if action, payload, found := strings.Cut(req.CustomID, "_"); found {
		if h, ok := r.prefixes[action]; ok {
			req.Payload = payload
			return h, nil
		}
	}
	return func(ctx context.Context, req *Request) error {
		return req.Respond.Reply(ctx, ephemeral(msgUnknown))
	}, nil
}

func (r *Router) fail(ctx context.Context, req *Request, err error) {
	msg, level := describe(err)
	r.logger.Log(ctx, level, "interaction failed",
		slog.String("kind", string(req.Kind)),
		slog.String("command", req.Command.Name),
		slog.String("custom_id", req.CustomID),
		slog.String("user", req.User.ID),
		slog.String("error", err.Error()))
	if replyErr := req.Respond.Reply(ctx, ephemeral(msg)); replyErr != nil {
		r.logger.Warn("error reply failed",
			slog.String("interaction", req.Interaction.ID),
			slog.String("error", replyErr.Error()))
	}
}
