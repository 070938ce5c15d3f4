package stats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const addrA = "0x00000000000000000000000000000000000000aa"

type fakeSource struct {
	calls   atomic.Int32
	release chan struct{}
	started chan struct{}
	mu      sync.Mutex
	err     error
	once    sync.Once

	// snapshot replaces the default single-validator payload when set.
	snapshot map[string]ValidatorStats
}

func newFakeSource() *fakeSource {
	return &fakeSource{started: make(chan struct{})}
}

func (s *fakeSource) FetchAll(ctx context.Context, epoch uint64) (Snapshot, error) {
	s.calls.Add(1)
	s.once.Do(func() { close(s.started) })
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		}
	}
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return Snapshot{}, err
	}
	if s.snapshot != nil {
		return Snapshot{Epoch: epoch, Validators: s.snapshot}, nil
	}
	return Snapshot{Epoch: epoch, Validators: map[string]ValidatorStats{
		"0x00000000000000000000000000000000000000AA": {TotalSlots: 100, MissedAttestations: uint64(epoch)},
	}}, nil
}

func (s *fakeSource) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func TestConcurrentFetchesShareOneUpstreamCall(t *testing.T) {
	src := newFakeSource()
	src.release = make(chan struct{})
	cache := NewCache(src)

	const n = 25
	var wg sync.WaitGroup
	results := make([]ValidatorStats, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.Fetch(context.Background(), addrA, 7)
		}(i)
	}
	<-src.started
	close(src.release)
	wg.Wait()

	require.Equal(t, int32(1), src.calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, uint64(7), results[i].MissedAttestations)
		require.Equal(t, uint64(7), results[i].Epoch)
	}
}

func TestConcurrentFetchesOfDifferentAddressesShareOneUpstreamCall(t *testing.T) {
	const n = 10
	src := newFakeSource()
	src.release = make(chan struct{})
	src.snapshot = make(map[string]ValidatorStats, n)
	addrs := make([]string, n)
	for i := 0; i < n; i++ {
		addrs[i] = fmt.Sprintf("0x%040x", i+1)
		src.snapshot[addrs[i]] = ValidatorStats{TotalSlots: uint64(100 + i)}
	}
	cache := NewCache(src)

	var wg sync.WaitGroup
	results := make([]ValidatorStats, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.Fetch(context.Background(), addrs[i], 9)
		}(i)
	}
	<-src.started
	close(src.release)
	wg.Wait()

	require.Equal(t, int32(1), src.calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, uint64(100+i), results[i].TotalSlots)
		require.Equal(t, addrs[i], results[i].Address)
		require.Equal(t, uint64(9), results[i].Epoch)
	}
}

func TestResolvedEpochIsServedFromCache(t *testing.T) {
	src := newFakeSource()
	cache := NewCache(src)
	ctx := context.Background()
	_, err := cache.Fetch(ctx, addrA, 1)
	require.NoError(t, err)
	_, err = cache.Fetch(ctx, addrA, 1)
	require.NoError(t, err)
	require.Equal(t, int32(1), src.calls.Load())

	// a new epoch forces a fresh fetch
	_, err = cache.Fetch(ctx, addrA, 2)
	require.NoError(t, err)
	require.Equal(t, int32(2), src.calls.Load())
	require.Equal(t, 2, cache.Epochs())
}

func TestUnknownValidatorDoesNotRefetch(t *testing.T) {
	src := newFakeSource()
	cache := NewCache(src)
	ctx := context.Background()
	_, err := cache.Fetch(ctx, addrA, 3)
	require.NoError(t, err)

	_, err = cache.Fetch(ctx, "0x00000000000000000000000000000000000000bb", 3)
	require.ErrorIs(t, err, ErrUnknownValidator)
	require.Equal(t, int32(1), src.calls.Load())
}

func TestFailureIsSharedAndNotCached(t *testing.T) {
	src := newFakeSource()
	src.release = make(chan struct{})
	boom := errors.New("rpc unavailable")
	src.setErr(boom)
	cache := NewCache(src)

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cache.Fetch(context.Background(), addrA, 9)
		}(i)
	}
	<-src.started
	close(src.release)
	wg.Wait()
	for _, err := range errs {
		require.ErrorIs(t, err, boom)
	}
	require.Equal(t, 0, cache.Epochs())

	src.setErr(nil)
	got, err := cache.Fetch(context.Background(), addrA, 9)
	require.NoError(t, err)
	require.Equal(t, uint64(9), got.MissedAttestations)
	require.GreaterOrEqual(t, src.calls.Load(), int32(2))
}

func TestCancelledWaiterDoesNotAbortFlight(t *testing.T) {
	src := newFakeSource()
	src.release = make(chan struct{})
	cache := NewCache(src, WithFetchTimeout(5*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := cache.Fetch(ctx, addrA, 4)
		done <- err
	}()
	<-src.started
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(src.release)
	require.Eventually(t, func() bool { return cache.Epochs() == 1 }, time.Second, 10*time.Millisecond)
	_, err := cache.Fetch(context.Background(), addrA, 4)
	require.NoError(t, err)
	require.Equal(t, int32(1), src.calls.Load())
}

type lookupMetrics struct {
	mu      sync.Mutex
	lookups map[string]int
	fetches map[string]int
}

func (m *lookupMetrics) RecordStatsLookup(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups[result]++
}

func (m *lookupMetrics) RecordStatsFetch(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches[outcome]++
}

func TestCacheMetrics(t *testing.T) {
	metrics := &lookupMetrics{lookups: map[string]int{}, fetches: map[string]int{}}
	cache := NewCache(newFakeSource(), WithMetrics(metrics))
	ctx := context.Background()
	_, _ = cache.Fetch(ctx, addrA, 1)
	_, _ = cache.Fetch(ctx, addrA, 1)
	require.Equal(t, 1, metrics.lookups["miss"])
	require.Equal(t, 1, metrics.lookups["hit"])
	require.Equal(t, 1, metrics.fetches["ok"])
}
