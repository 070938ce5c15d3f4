package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11

	gatewayReadLimit    = 1 << 22
	gatewayWriteTimeout = 10 * time.Second
	minBackoff          = time.Second
	maxBackoff          = time.Minute
)

var (
	errReconnectRequested = errors.New("gateway requested reconnect")
	errInvalidSession     = errors.New("gateway invalidated session")
	errHeartbeatTimeout   = errors.New("gateway heartbeat not acknowledged")
)

type frame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

// GatewayConfig configures the realtime connection.
type GatewayConfig struct {
	URL     string
	Token   string
	Intents int
	Logger  *slog.Logger
}

// Gateway maintains the websocket session that delivers Ready and interaction
// events. It reconnects with backoff and always re-identifies.
type Gateway struct {
	url     string
	token   string
	intents int
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration) error
}

// NewGateway constructs a gateway client.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("platform: gateway url required")
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("platform: token required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		url:     strings.TrimSpace(cfg.URL),
		token:   strings.TrimSpace(cfg.Token),
		intents: cfg.Intents,
		logger:  logger,
		sleep:   sleepContext,
	}, nil
}

// Run connects and forwards events until ctx is cancelled. Connection failures
// are surfaced as EventError and followed by a reconnect.
func (g *Gateway) Run(ctx context.Context, events chan<- Event) error {
	backoff := minBackoff
	for {
		ready, err := g.session(ctx, events)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if ready {
			backoff = minBackoff
		}
		g.logger.Warn("gateway session ended", slog.String("error", errString(err)), slog.Duration("retry_in", backoff))
		if !emit(ctx, events, Event{Kind: EventError, Err: err}) {
			return ctx.Err()
		}
		if err := g.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (g *Gateway) session(ctx context.Context, events chan<- Event) (bool, error) {
	conn, _, err := websocket.Dial(ctx, g.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(gatewayReadLimit)

	hello, err := readFrame(ctx, conn)
	if err != nil {
		return false, err
	}
	if hello.Op != opHello {
		return false, fmt.Errorf("expected hello, got op %d", hello.Op)
	}
	var helloData struct {
		HeartbeatInterval int64 `json:"heartbeat_interval"`
	}
	if err := json.Unmarshal(hello.D, &helloData); err != nil || helloData.HeartbeatInterval <= 0 {
		return false, fmt.Errorf("invalid hello payload")
	}

	sessCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var seq atomic.Int64
	seq.Store(-1)
	var acked atomic.Bool
	acked.Store(true)

	go g.heartbeat(sessCtx, cancel, conn, time.Duration(helloData.HeartbeatInterval)*time.Millisecond, &seq, &acked)

	identify := map[string]any{
		"token":   g.token,
		"intents": g.intents,
		"properties": map[string]string{
			"os":      "linux",
			"browser": "validatorgate",
			"device":  "validatorgate",
		},
	}
	if err := writeFrame(sessCtx, conn, opIdentify, identify); err != nil {
		return false, err
	}

	ready := false
	for {
		msg, err := readFrame(sessCtx, conn)
		if err != nil {
			if cause := context.Cause(sessCtx); cause != nil && ctx.Err() == nil {
				return ready, cause
			}
			return ready, err
		}
		if msg.S != nil {
			seq.Store(*msg.S)
		}
		switch msg.Op {
		case opDispatch:
			ev, ok := decodeDispatch(msg, g.logger)
			if !ok {
				continue
			}
			if ev.Kind == EventReady {
				ready = true
			}
			if !emit(sessCtx, events, ev) {
				return ready, sessCtx.Err()
			}
		case opHeartbeat:
			if err := writeFrame(sessCtx, conn, opHeartbeat, seqValue(&seq)); err != nil {
				return ready, err
			}
		case opHeartbeatAck:
			acked.Store(true)
		case opReconnect:
			return ready, errReconnectRequested
		case opInvalidSession:
			return ready, errInvalidSession
		}
	}
}

func (g *Gateway) heartbeat(ctx context.Context, cancel context.CancelCauseFunc, conn *websocket.Conn, interval time.Duration, seq *atomic.Int64, acked *atomic.Bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !acked.Swap(false) {
				cancel(errHeartbeatTimeout)
				return
			}
			if err := writeFrame(ctx, conn, opHeartbeat, seqValue(seq)); err != nil {
				cancel(fmt.Errorf("send heartbeat: %w", err))
				return
			}
		}
	}
}

func decodeDispatch(msg frame, logger *slog.Logger) (Event, bool) {
	switch msg.T {
	case "READY":
		var ready Ready
		if err := json.Unmarshal(msg.D, &ready); err != nil {
			logger.Warn("decode ready payload", slog.String("error", err.Error()))
			return Event{}, false
		}
		return Event{Kind: EventReady, Ready: &ready}, true
	case "INTERACTION_CREATE":
		var interaction Interaction
		if err := json.Unmarshal(msg.D, &interaction); err != nil {
			logger.Warn("decode interaction payload", slog.String("error", err.Error()))
			return Event{}, false
		}
		return Event{Kind: EventInteractionCreate, Interaction: &interaction}, true
	default:
		return Event{}, false
	}
}

func seqValue(seq *atomic.Int64) any {
	if v := seq.Load(); v >= 0 {
		return v
	}
	return nil
}

func readFrame(ctx context.Context, conn *websocket.Conn) (frame, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return frame{}, fmt.Errorf("read gateway frame: %w", err)
	}
	var msg frame
	if err := json.Unmarshal(data, &msg); err != nil {
		return frame{}, fmt.Errorf("decode gateway frame: %w", err)
	}
	return msg, nil
}

func writeFrame(ctx context.Context, conn *websocket.Conn, op int, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(frame{Op: op, D: data})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, gatewayWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, encoded)
}

func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
