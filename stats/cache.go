package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrUnknownValidator is returned when a resolved epoch has no entry for the address.
var ErrUnknownValidator = errors.New("stats: unknown validator")

const defaultFetchTimeout = 15 * time.Second

// Source fetches stats for every validator of an epoch in one upstream call.
type Source interface {
	FetchAll(ctx context.Context, epoch uint64) (Snapshot, error)
}

// Metrics receives cache outcomes.
type Metrics interface {
	RecordStatsLookup(result string)
	RecordStatsFetch(outcome string)
}

// Option customises a Cache.
type Option func(*Cache)

// WithFetchTimeout bounds each upstream fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics reports hits, misses and fetches to m.
func WithMetrics(m Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// Cache memoises per-epoch snapshots and coalesces concurrent fetches of the
// same epoch into one upstream call. Failed fetches are not cached.
type Cache struct {
	source  Source
	timeout time.Duration
	logger  *slog.Logger
	metrics Metrics

	mu        sync.RWMutex
	snapshots map[uint64]Snapshot
	flights   singleflight.Group
}

// NewCache constructs a cache over source.
func NewCache(source Source, opts ...Option) *Cache {
	c := &Cache{
		source:    source,
		timeout:   defaultFetchTimeout,
		logger:    slog.Default(),
		snapshots: make(map[uint64]Snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the stats of address for epoch.
func (c *Cache) Fetch(ctx context.Context, address string, epoch uint64) (ValidatorStats, error) {
	key := NormalizeAddress(address)
	snap, hit := c.cached(epoch)
	if hit {
		c.lookup("hit")
	} else {
		c.lookup("miss")
		var err error
		snap, err = c.resolve(ctx, epoch)
		if err != nil {
			return ValidatorStats{}, err
		}
	}
	entry, ok := snap.Validators[key]
	if !ok {
		return ValidatorStats{}, fmt.Errorf("%w: %s at epoch %d", ErrUnknownValidator, address, epoch)
	}
	return entry, nil
}

// Epochs returns the number of resolved snapshots held.
func (c *Cache) Epochs() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.snapshots)
}

func (c *Cache) cached(epoch uint64) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.snapshots[epoch]
	return snap, ok
}

func (c *Cache) resolve(ctx context.Context, epoch uint64) (Snapshot, error) {
	ch := c.flights.DoChan(strconv.FormatUint(epoch, 10), func() (any, error) {
		if snap, ok := c.cached(epoch); ok {
			return snap, nil
		}
		// The flight outlives any single waiter.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		snap, err := c.source.FetchAll(fetchCtx, epoch)
		if err != nil {
			c.fetch("error")
			c.logger.Warn("validator stats fetch failed", slog.Uint64("epoch", epoch), slog.String("error", err.Error()))
			return nil, fmt.Errorf("stats: fetch epoch %d: %w", epoch, err)
		}
		snap = normalize(snap, epoch)
		c.mu.Lock()
		c.snapshots[epoch] = snap
		c.mu.Unlock()
		c.fetch("ok")
		return snap, nil
	})
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Snapshot{}, res.Err
		}
		return res.Val.(Snapshot), nil
	}
}

func normalize(snap Snapshot, epoch uint64) Snapshot {
	out := Snapshot{Epoch: epoch, Validators: make(map[string]ValidatorStats, len(snap.Validators))}
	for addr, entry := range snap.Validators {
		key := NormalizeAddress(addr)
		if entry.Address == "" {
			entry.Address = addr
		}
		entry.Epoch = epoch
		out.Validators[key] = entry
	}
	return out
}

func (c *Cache) lookup(result string) {
	if c.metrics != nil {
		c.metrics.RecordStatsLookup(result)
	}
}

func (c *Cache) fetch(outcome string) {
	if c.metrics != nil {
		c.metrics.RecordStatsFetch(outcome)
	}
}
