package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore() (*Store, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return NewStore(WithClock(clock.Now)), clock
}

func TestCreateAndGet(t *testing.T) {
	store, clock := newTestStore()
	created, err := store.Create("s1", "u1")
	require.NoError(t, err)
	require.Equal(t, StatusInitiated, created.Status)
	require.Equal(t, clock.Now(), created.CreatedAt)
	require.Nil(t, created.WalletAddress)

	got, err := store.Get("s1")
	require.NoError(t, err)
	require.Equal(t, created, got)
}

func TestCreateRejectsLiveDuplicate(t *testing.T) {
	store, clock := newTestStore()
	_, err := store.Create("s1", "u1")
	require.NoError(t, err)
	_, err = store.Create("s1", "u2")
	require.ErrorIs(t, err, ErrExists)

	// an expired id may be reused
	clock.Advance(TTL)
	_, err = store.Create("s1", "u2")
	require.NoError(t, err)
}

func TestCreateRejectsBlankIDs(t *testing.T) {
	store, _ := newTestStore()
	_, err := store.Create(" ", "u1")
	require.ErrorIs(t, err, ErrInvalidID)
	_, err = store.Create("s1", "")
	require.ErrorIs(t, err, ErrInvalidID)
}

func TestExpiredSessionBehavesAsMissing(t *testing.T) {
	store, clock := newTestStore()
	_, err := store.Create("s1", "u1")
	require.NoError(t, err)

	clock.Advance(TTL - time.Second)
	_, err = store.Get("s1")
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = store.Get("s1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.FindLatestByOwner("u1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.Patch("s1", Patch{Status: StatusPtr(StatusUsed)})
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 0, store.Len())
}

func TestPatchDoesNotExtendLifetime(t *testing.T) {
	store, clock := newTestStore()
	created, err := store.Create("s1", "u1")
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	patched, err := store.Patch("s1", Patch{WalletAddress: String("0xabc")})
	require.NoError(t, err)
	require.Equal(t, created.CreatedAt, patched.CreatedAt)

	clock.Advance(10 * time.Minute)
	_, err = store.Get("s1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPatchMergesOnlySetFields(t *testing.T) {
	store, _ := newTestStore()
	_, err := store.Create("s1", "u1")
	require.NoError(t, err)

	_, err = store.Patch("s1", Patch{WalletAddress: String("0xabc"), Status: StatusPtr(StatusWalletConnected)})
	require.NoError(t, err)
	got, err := store.Patch("s1", Patch{Score: Float(12)})
	require.NoError(t, err)

	require.NotNil(t, got.WalletAddress)
	require.Equal(t, "0xabc", *got.WalletAddress)
	require.Equal(t, StatusWalletConnected, got.Status)
	require.NotNil(t, got.Score)
	require.Equal(t, 12.0, *got.Score)
	require.False(t, got.RoleAssigned)
	require.Equal(t, "u1", got.OwnerID)
}

func TestPatchNeverCreates(t *testing.T) {
	store, _ := newTestStore()
	_, err := store.Patch("ghost", Patch{Status: StatusPtr(StatusVerified)})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	require.Equal(t, 0, store.Len())
}

func TestReturnedSessionsAreCopies(t *testing.T) {
	store, _ := newTestStore()
	_, err := store.Create("s1", "u1")
	require.NoError(t, err)
	got, err := store.Patch("s1", Patch{WalletAddress: String("0xabc")})
	require.NoError(t, err)
	*got.WalletAddress = "mutated"

	again, err := store.Get("s1")
	require.NoError(t, err)
	require.Equal(t, "0xabc", *again.WalletAddress)
}

func TestFindLatestByOwner(t *testing.T) {
	store, clock := newTestStore()
	_, err := store.Create("old", "u1")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = store.Create("new", "u1")
	require.NoError(t, err)
	_, err = store.Create("other", "u2")
	require.NoError(t, err)

	latest, err := store.FindLatestByOwner("u1")
	require.NoError(t, err)
	require.Equal(t, "new", latest.ID)

	_, err = store.FindLatestByOwner("nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFindLatestByOwnerBreaksTiesByCreationOrder(t *testing.T) {
	store, _ := newTestStore()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_, err := store.Create(id, "u1")
		require.NoError(t, err)
	}
	for i := 0; i < 20; i++ {
		latest, err := store.FindLatestByOwner("u1")
		require.NoError(t, err)
		require.Equal(t, "e", latest.ID)
	}
}

func TestObserverReceivesActiveCount(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var counts []int
	store := NewStore(WithClock(clock.Now), WithObserver(func(n int) { counts = append(counts, n) }))
	_, err := store.Create("a", "u")
	require.NoError(t, err)
	_, err = store.Create("b", "u")
	require.NoError(t, err)
	clock.Advance(TTL)
	require.Equal(t, 0, store.Len())
	require.Equal(t, []int{1, 2, 0}, counts)
}

func TestConcurrentPatches(t *testing.T) {
	store, _ := newTestStore()
	_, err := store.Create("s1", "u1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := store.Patch("s1", Patch{Score: Float(float64(i))}); err != nil {
				t.Errorf("patch: %v", err)
			}
			if _, err := store.Get("s1"); err != nil {
				t.Errorf("get: %v", err)
			}
		}(i)
	}
	wg.Wait()
	got, err := store.Get("s1")
	require.NoError(t, err)
	require.NotNil(t, got.Score)
}

func TestTerminalStatuses(t *testing.T) {
	require.False(t, StatusInitiated.Terminal())
	require.False(t, StatusScoreRetrieved.Terminal())
	require.True(t, StatusVerified.Terminal())
	require.True(t, StatusUsed.Terminal())
	require.True(t, StatusError.Terminal())
}
