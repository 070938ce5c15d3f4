package verification

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"validatorgate/platform/platformtest"
	"validatorgate/roles"
	"validatorgate/session"
)

type stubScores struct {
	score float64
	err   error
	calls atomic.Int32
}

func (s *stubScores) GetScore(context.Context, string) (float64, error) {
	s.calls.Add(1)
	return s.score, s.err
}

type harness struct {
	flow   *Flow
	store  *session.Store
	scores *stubScores
	fake   *platformtest.Platform
	clock  *time.Time
	key    *ecdsa.PrivateKey
}

func newHarness(t *testing.T, score float64) *harness {
	t.Helper()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	h := &harness{clock: &now, scores: &stubScores{score: score}}
	h.store = session.NewStore(session.WithClock(func() time.Time { return *h.clock }))
	h.fake = platformtest.New()
	h.fake.AddGuild("g1", "Verified")
	h.fake.AddMember("g1", "u1")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := roles.NewEngine(h.fake, roles.Config{GuildID: "g1", VerifiedRole: "Verified", MinimumScore: 10}, roles.WithLogger(logger))
	ids := 0
	h.flow = NewFlow(h.store, h.scores, engine, WithLogger(logger), WithIDGenerator(func() string {
		ids++
		return "sess-" + string(rune('0'+ids))
	}))
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	h.key = key
	return h
}

func (h *harness) wallet() string {
	return crypto.PubkeyToAddress(h.key.PublicKey).Hex()
}

func (h *harness) sign(t *testing.T, sessionID string, legacyV bool) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(ChallengeMessage(sessionID))), h.key)
	require.NoError(t, err)
	if legacyV {
		sig[64] += 27
	}
	return hexutil.Encode(sig)
}

func TestVerifyPassingScoreGrantsRole(t *testing.T) {
	h := newHarness(t, 15)
	sess, err := h.flow.Initiate("u1")
	require.NoError(t, err)
	require.Equal(t, session.StatusInitiated, sess.Status)

	out, err := h.flow.Verify(context.Background(), sess.ID, "u1", h.wallet(), h.sign(t, sess.ID, false))
	require.NoError(t, err)
	require.True(t, out.Passed)
	require.Equal(t, 15.0, out.Score)
	require.Equal(t, session.StatusVerified, out.Session.Status)
	require.True(t, out.Session.RoleAssigned)
	require.True(t, h.fake.HasRole("g1", "u1", "Verified"))

	stored, err := h.store.Get(sess.ID)
	require.NoError(t, err)
	require.Equal(t, h.wallet(), *stored.WalletAddress)
	require.Equal(t, 15.0, *stored.Score)
}

func TestVerifyFailingScoreLeavesRoleAbsent(t *testing.T) {
	h := newHarness(t, 5)
	sess, err := h.flow.Initiate("u1")
	require.NoError(t, err)

	out, err := h.flow.Verify(context.Background(), sess.ID, "u1", h.wallet(), h.sign(t, sess.ID, true))
	require.NoError(t, err)
	require.False(t, out.Passed)
	require.Equal(t, session.StatusFailedScore, out.Session.Status)
	require.False(t, out.Session.RoleAssigned)
	require.False(t, h.fake.HasRole("g1", "u1", "Verified"))
	require.Equal(t, 0, h.fake.CallCount("AddMemberRole"))
	require.Equal(t, 0, h.fake.CallCount("RemoveMemberRole"))
}

func TestMalformedAddressRejectedBeforeAnyCall(t *testing.T) {
	h := newHarness(t, 15)
	sess, err := h.flow.Initiate("u1")
	require.NoError(t, err)

	for _, addr := range []string{"", "0x123", "not-an-address", "0x0000000000000000000000000000000000000000"} {
		_, err := h.flow.Verify(context.Background(), sess.ID, "u1", addr, "0x00")
		require.ErrorIs(t, err, ErrInvalidAddress, addr)
	}
	require.Equal(t, int32(0), h.scores.calls.Load())
	require.Empty(t, h.fake.Calls())
	stored, err := h.store.Get(sess.ID)
	require.NoError(t, err)
	require.Equal(t, session.StatusInitiated, stored.Status)
	require.Nil(t, stored.WalletAddress)
}

func TestSignatureFromOtherKeyIsRejected(t *testing.T) {
	h := newHarness(t, 15)
	sess, err := h.flow.Initiate("u1")
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	_, err = h.flow.ConnectWallet(sess.ID, "u1", crypto.PubkeyToAddress(other.PublicKey).Hex())
	require.NoError(t, err)
	_, err = h.flow.SubmitSignature(sess.ID, "u1", h.sign(t, sess.ID, false))
	require.ErrorIs(t, err, ErrSignatureMismatch)

	// signature over a different session's challenge
	_, err = h.flow.ConnectWallet(sess.ID, "u1", h.wallet())
	require.NoError(t, err)
	_, err = h.flow.SubmitSignature(sess.ID, "u1", h.sign(t, "other-session", false))
	require.ErrorIs(t, err, ErrSignatureMismatch)
	require.Equal(t, int32(0), h.scores.calls.Load())
}

func TestMalformedSignature(t *testing.T) {
	h := newHarness(t, 15)
	sess, err := h.flow.Initiate("u1")
	require.NoError(t, err)
	_, err = h.flow.ConnectWallet(sess.ID, "u1", h.wallet())
	require.NoError(t, err)

	for _, sig := range []string{"zz", "0x1234", "0x"} {
		_, err = h.flow.SubmitSignature(sess.ID, "u1", sig)
		require.ErrorIs(t, err, ErrInvalidSignature)
	}
	bad := h.sign(t, sess.ID, false)
	raw, err := hexutil.Decode(bad)
	require.NoError(t, err)
	raw[64] = 5
	_, err = h.flow.SubmitSignature(sess.ID, "u1", hexutil.Encode(raw))
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestOwnershipEnforced(t *testing.T) {
	h := newHarness(t, 15)
	sess, err := h.flow.Initiate("u1")
	require.NoError(t, err)
	_, err = h.flow.ConnectWallet(sess.ID, "intruder", h.wallet())
	require.ErrorIs(t, err, ErrNotOwner)
	_, err = h.flow.Status(sess.ID, "intruder")
	require.ErrorIs(t, err, ErrNotOwner)
}

func TestInitiateMarksPreviousSessionUsed(t *testing.T) {
	h := newHarness(t, 15)
	first, err := h.flow.Initiate("u1")
	require.NoError(t, err)
	second, err := h.flow.Initiate("u1")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	old, err := h.store.Get(first.ID)
	require.NoError(t, err)
	require.Equal(t, session.StatusUsed, old.Status)

	_, err = h.flow.ConnectWallet(first.ID, "u1", h.wallet())
	require.ErrorIs(t, err, ErrSessionClosed)

	latest, err := h.store.FindLatestByOwner("u1")
	require.NoError(t, err)
	require.Equal(t, second.ID, latest.ID)
}

func TestExpiredSessionCannotComplete(t *testing.T) {
	h := newHarness(t, 15)
	sess, err := h.flow.Initiate("u1")
	require.NoError(t, err)
	_, err = h.flow.ConnectWallet(sess.ID, "u1", h.wallet())
	require.NoError(t, err)
	_, err = h.flow.SubmitSignature(sess.ID, "u1", h.sign(t, sess.ID, false))
	require.NoError(t, err)

	*h.clock = h.clock.Add(session.TTL)
	_, err = h.flow.Complete(context.Background(), sess.ID)
	require.ErrorIs(t, err, session.ErrNotFound)
	require.Equal(t, int32(0), h.scores.calls.Load())
}

func TestScoreFailureMarksError(t *testing.T) {
	h := newHarness(t, 0)
	h.scores.err = errors.New("backend unavailable")
	sess, err := h.flow.Initiate("u1")
	require.NoError(t, err)
	_, err = h.flow.Verify(context.Background(), sess.ID, "u1", h.wallet(), h.sign(t, sess.ID, false))
	require.Error(t, err)

	stored, err := h.store.Get(sess.ID)
	require.NoError(t, err)
	require.Equal(t, session.StatusError, stored.Status)
	require.Empty(t, h.fake.Calls())
}

func TestRoleFailureMarksError(t *testing.T) {
	h := newHarness(t, 15)
	h.fake.Fail("AddMemberRole", errors.New("missing permissions"))
	sess, err := h.flow.Initiate("u1")
	require.NoError(t, err)
	_, err = h.flow.Verify(context.Background(), sess.ID, "u1", h.wallet(), h.sign(t, sess.ID, false))
	require.ErrorIs(t, err, roles.ErrProviderCallFailed)

	stored, err := h.store.Get(sess.ID)
	require.NoError(t, err)
	require.Equal(t, session.StatusError, stored.Status)
	require.NotNil(t, stored.Score)
	require.False(t, stored.RoleAssigned)
}

func TestCompleteWithoutScoringIsUnavailable(t *testing.T) {
	h := newHarness(t, 15)
	flow := NewFlow(h.store, nil, nil)
	sess, err := flow.Initiate("u2")
	require.NoError(t, err)
	_, err = flow.Verify(context.Background(), sess.ID, "u2", h.wallet(), h.sign(t, sess.ID, false))
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestCompleteRequiresSignature(t *testing.T) {
	h := newHarness(t, 15)
	sess, err := h.flow.Initiate("u1")
	require.NoError(t, err)
	_, err = h.flow.Complete(context.Background(), sess.ID)
	require.ErrorIs(t, err, ErrSignatureMissing)
	_, err = h.flow.SubmitSignature(sess.ID, "u1", h.sign(t, sess.ID, false))
	require.ErrorIs(t, err, ErrWalletNotConnected)
}

type recordedVerification struct {
	owner, wallet string
	verified      bool
}

type stubRecorder struct {
	records []recordedVerification
	err     error
}

func (r *stubRecorder) RecordVerification(_ context.Context, ownerID, wallet string, verified bool) error {
	r.records = append(r.records, recordedVerification{owner: ownerID, wallet: wallet, verified: verified})
	return r.err
}

func TestCompleteRecordsVerification(t *testing.T) {
	h := newHarness(t, 15)
	rec := &stubRecorder{}
	WithRecorder(rec)(h.flow)

	sess, err := h.flow.Initiate("u1")
	require.NoError(t, err)
	_, err = h.flow.Verify(context.Background(), sess.ID, "u1", h.wallet(), h.sign(t, sess.ID, false))
	require.NoError(t, err)
	require.Equal(t, []recordedVerification{{owner: "u1", wallet: h.wallet(), verified: true}}, rec.records)
}

func TestRecorderFailureDoesNotFailSession(t *testing.T) {
	h := newHarness(t, 5)
	rec := &stubRecorder{err: errors.New("backend down")}
	WithRecorder(rec)(h.flow)

	sess, err := h.flow.Initiate("u1")
	require.NoError(t, err)
	out, err := h.flow.Verify(context.Background(), sess.ID, "u1", h.wallet(), h.sign(t, sess.ID, false))
	require.NoError(t, err)
	require.Equal(t, session.StatusFailedScore, out.Session.Status)
	require.Len(t, rec.records, 1)
	require.False(t, rec.records[0].verified)
}
