package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"validatorgate/observability/logging"
	"validatorgate/roles"
	"validatorgate/session"
)

var (
	ErrInvalidAddress     = errors.New("verification: invalid wallet address")
	ErrInvalidSignature   = errors.New("verification: invalid signature")
	ErrSignatureMismatch  = errors.New("verification: signature does not match wallet")
	ErrNotOwner           = errors.New("verification: session belongs to another user")
	ErrSessionClosed      = errors.New("verification: session already finished")
	ErrWalletNotConnected = errors.New("verification: wallet not connected")
	ErrSignatureMissing   = errors.New("verification: signature not submitted")
	// ErrUnavailable indicates the score backend or role engine is not configured.
	ErrUnavailable = errors.New("verification: scoring unavailable")
)

// ScoreSource resolves the reputation score of a wallet.
type ScoreSource interface {
	GetScore(ctx context.Context, wallet string) (float64, error)
}

// RoleAssigner applies score-driven role changes. *roles.Engine satisfies it.
type RoleAssigner interface {
	Assign(ctx context.Context, req roles.Request) (roles.Result, error)
	MinimumScore() float64
}

// Recorder stores the result of a finished verification outside the process.
type Recorder interface {
	RecordVerification(ctx context.Context, ownerID, wallet string, verified bool) error
}

// Outcome is the result of a completed verification.
type Outcome struct {
	Session session.Session
	Score   float64
	Passed  bool
}

// Option customises a Flow.
type Option func(*Flow)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Flow) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithRecorder reports finished verifications to r. Recording failures are
// logged and do not fail the session.
func WithRecorder(r Recorder) Option {
	return func(f *Flow) { f.recorder = r }
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(fn func() string) Option {
	return func(f *Flow) {
		if fn != nil {
			f.newID = fn
		}
	}
}

// Flow drives a session from initiation to role assignment. Every step re-reads
// the session, so a step that loses a race with expiry fails with session.ErrNotFound.
type Flow struct {
	store  *session.Store
	scores ScoreSource
	roles    RoleAssigner
	recorder Recorder
	logger   *slog.Logger
	newID    func() string
}

// NewFlow wires the flow. scores and assigner may be nil when their component is
// not configured; Complete then fails with ErrUnavailable.
func NewFlow(store *session.Store, scores ScoreSource, assigner RoleAssigner, opts ...Option) *Flow {
	f := &Flow{
		store:  store,
		scores: scores,
		roles:  assigner,
		logger: slog.Default(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Initiate opens a new session for ownerID. A previous live session of the same
// owner is marked used.
func (f *Flow) Initiate(ownerID string) (session.Session, error) {
	ownerID = strings.TrimSpace(ownerID)
	if prev, err := f.store.FindLatestByOwner(ownerID); err == nil && !prev.Status.Terminal() {
		if _, err := f.store.Patch(prev.ID, session.Patch{Status: session.StatusPtr(session.StatusUsed)}); err != nil && !errors.Is(err, session.ErrNotFound) {
			return session.Session{}, err
		}
	}
	sess, err := f.store.Create(f.newID(), ownerID)
	if err != nil {
		return session.Session{}, fmt.Errorf("create session: %w", err)
	}
	f.logger.Info("verification initiated", slog.String("session", sess.ID), slog.String("user", ownerID))
	return sess, nil
}

// Status returns the live session, checking ownership when ownerID is set.
func (f *Flow) Status(sessionID, ownerID string) (session.Session, error) {
	return f.owned(sessionID, ownerID)
}

// Latest returns the newest live session of ownerID.
func (f *Flow) Latest(ownerID string) (session.Session, error) {
	return f.store.FindLatestByOwner(ownerID)
}

// ConnectWallet records the wallet address. The address is validated before
// the session is touched.
func (f *Flow) ConnectWallet(sessionID, ownerID, address string) (session.Session, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return session.Session{}, err
	}
	sess, err := f.owned(sessionID, ownerID)
	if err != nil {
		return session.Session{}, err
	}
	if sess.Status.Terminal() {
		return session.Session{}, ErrSessionClosed
	}
	return f.store.Patch(sess.ID, session.Patch{
		WalletAddress: session.String(addr.Hex()),
		Status:        session.StatusPtr(session.StatusWalletConnected),
	})
}

// SubmitSignature verifies that the connected wallet signed the session challenge.
func (f *Flow) SubmitSignature(sessionID, ownerID, signature string) (session.Session, error) {
	sess, err := f.owned(sessionID, ownerID)
	if err != nil {
		return session.Session{}, err
	}
	if sess.Status.Terminal() {
		return session.Session{}, ErrSessionClosed
	}
	if sess.WalletAddress == nil {
		return session.Session{}, ErrWalletNotConnected
	}
	signer, err := RecoverSigner(sess.ID, signature)
	if err != nil {
		return session.Session{}, err
	}
	if !strings.EqualFold(signer.Hex(), *sess.WalletAddress) {
		f.logger.Warn("signature mismatch",
			slog.String("session", sess.ID),
			slog.String("wallet", *sess.WalletAddress),
			logging.MaskField("signature", signature))
		return session.Session{}, ErrSignatureMismatch
	}
	return f.store.Patch(sess.ID, session.Patch{
		Signature: session.String(strings.TrimSpace(signature)),
		Status:    session.StatusPtr(session.StatusSignatureReceived),
	})
}

// Complete fetches the wallet score and reconciles the verification role.
func (f *Flow) Complete(ctx context.Context, sessionID string) (Outcome, error) {
	sess, err := f.store.Get(sessionID)
	if err != nil {
		return Outcome{}, err
	}
	if sess.Status.Terminal() {
		return Outcome{}, ErrSessionClosed
	}
	if sess.Signature == nil || sess.WalletAddress == nil {
		return Outcome{}, ErrSignatureMissing
	}
	if f.scores == nil || f.roles == nil {
		f.markError(sess.ID)
		return Outcome{}, ErrUnavailable
	}

	score, err := f.scores.GetScore(ctx, *sess.WalletAddress)
	if err != nil {
		f.markError(sess.ID)
		return Outcome{}, fmt.Errorf("fetch score: %w", err)
	}
	sess, err = f.store.Patch(sess.ID, session.Patch{
		Score:  session.Float(score),
		Status: session.StatusPtr(session.StatusScoreRetrieved),
	})
	if err != nil {
		return Outcome{}, err
	}

	if _, err := f.roles.Assign(ctx, roles.ScoreRequest(sess.OwnerID, score)); err != nil {
		f.markError(sess.ID)
		return Outcome{}, fmt.Errorf("assign role: %w", err)
	}
	passed := score >= f.roles.MinimumScore()
	status := session.StatusFailedScore
	if passed {
		status = session.StatusVerified
	}
	sess, err = f.store.Patch(sess.ID, session.Patch{
		Status:       session.StatusPtr(status),
		RoleAssigned: session.Bool(passed),
	})
	if err != nil {
		return Outcome{}, err
	}
	if f.recorder != nil {
		if err := f.recorder.RecordVerification(ctx, sess.OwnerID, *sess.WalletAddress, passed); err != nil {
			f.logger.Warn("verification not recorded",
				slog.String("session", sess.ID),
				slog.String("error", err.Error()))
		}
	}
	f.logger.Info("verification finished",
		slog.String("session", sess.ID),
		slog.String("user", sess.OwnerID),
		slog.Float64("score", score),
		slog.String("status", string(sess.Status)))
	return Outcome{Session: sess, Score: score, Passed: passed}, nil
}

// Verify runs ConnectWallet, SubmitSignature and Complete in order.
func (f *Flow) Verify(ctx context.Context, sessionID, ownerID, address, signature string) (Outcome, error) {
	if _, err := f.ConnectWallet(sessionID, ownerID, address); err != nil {
		return Outcome{}, err
	}
	if _, err := f.SubmitSignature(sessionID, ownerID, signature); err != nil {
		return Outcome{}, err
	}
	return f.Complete(ctx, sessionID)
}

func (f *Flow) owned(sessionID, ownerID string) (session.Session, error) {
	sess, err := f.store.Get(sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if ownerID = strings.TrimSpace(ownerID); ownerID != "" && sess.OwnerID != ownerID {
		return session.Session{}, ErrNotOwner
	}
	return sess, nil
}

func (f *Flow) markError(sessionID string) {
	if _, err := f.store.Patch(sessionID, session.Patch{Status: session.StatusPtr(session.StatusError)}); err != nil {
		f.logger.Warn("mark session failed", slog.String("session", sessionID), slog.String("error", err.Error()))
	}
}
