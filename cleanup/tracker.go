package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"validatorgate/platform"
)

const sweptMetric = "validatorgate.cleanup.messages"

// Deleter removes a channel message.
type Deleter interface {
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

type entry struct {
	channelID string
	messageID string
	due       time.Time
}

// Tracker deletes bot messages once their time-to-live passes.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]entry
	deleter Deleter
	now     func() time.Time
	logger  *slog.Logger
	meter   metric.MeterProvider
	swept   metric.Int64Counter
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) {
		if clock != nil {
			t.now = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithMeterProvider records sweep outcomes through mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(t *Tracker) {
		if mp != nil {
			t.meter = mp
		}
	}
}

// NewTracker constructs a tracker deleting through d.
func NewTracker(d Deleter, opts ...Option) *Tracker {
	t := &Tracker{
		entries: make(map[string]entry),
		deleter: d,
		now:     time.Now,
		logger:  slog.Default(),
		meter:   otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(t)
	}
	counter, err := t.meter.Meter("validatorgate/cleanup").Int64Counter(sweptMetric,
		metric.WithDescription("Tracked bot messages handled by the sweeper, by outcome."))
	if err != nil {
		counter, _ = noop.NewMeterProvider().Meter("validatorgate/cleanup").Int64Counter(sweptMetric)
	}
	t.swept = counter
	return t
}

// Track schedules a message for deletion after ttl.
func (t *Tracker) Track(channelID, messageID string, ttl time.Duration) {
	if channelID == "" || messageID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[channelID+"/"+messageID] = entry{channelID: channelID, messageID: messageID, due: t.now().Add(ttl)}
}

// Pending returns the number of tracked messages.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Sweep deletes every message due at now. Messages already gone are dropped;
// other failures stay tracked for the next sweep. It returns the number deleted.
func (t *Tracker) Sweep(ctx context.Context) int {
	now := t.now()
	t.mu.Lock()
	var due []entry
	for _, e := range t.entries {
		if !now.Before(e.due) {
			due = append(due, e)
		}
	}
	t.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].due.Before(due[j].due) })

	deleted := 0
	for _, e := range due {
		err := t.deleter.DeleteMessage(ctx, e.channelID, e.messageID)
		switch {
		case err == nil:
			deleted++
			t.record(ctx, "deleted")
		case errors.Is(err, platform.ErrNotFound):
			t.record(ctx, "gone")
		default:
			t.record(ctx, "failed")
			t.logger.Warn("delete tracked message failed",
				slog.String("channel", e.channelID),
				slog.String("message", e.messageID),
				slog.String("error", err.Error()))
			continue
		}
		t.mu.Lock()
		delete(t.entries, e.channelID+"/"+e.messageID)
		t.mu.Unlock()
	}
	return deleted
}

func (t *Tracker) record(ctx context.Context, outcome string) {
	t.swept.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Run sweeps every interval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.Sweep(ctx); n > 0 {
				t.logger.Debug("swept tracked messages", slog.Int("deleted", n))
			}
		}
	}
}
