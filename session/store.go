package session

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// TTL is the fixed lifetime of a verification session measured from creation.
const TTL = 30 * time.Minute

var (
	// ErrNotFound is returned when a session does not exist or has expired.
	ErrNotFound = errors.New("session not found")
	// ErrExists is returned when creating a session id that is still live.
	ErrExists = errors.New("session already exists")
	// ErrInvalidID is returned for blank session or owner ids.
	ErrInvalidID = errors.New("session id and owner id required")
)

// Status tracks progress through the verification flow.
type Status string

const (
	StatusInitiated         Status = "initiated"
	StatusWalletConnected   Status = "wallet_connected"
	StatusSignatureReceived Status = "signature_received"
	StatusScoreRetrieved    Status = "score_retrieved"
	StatusVerified          Status = "verified_complete"
	StatusFailedScore       Status = "verification_failed_score"
	StatusError             Status = "verification_error"
	StatusExpired           Status = "expired"
	StatusUsed              Status = "used"
)

// Terminal reports whether no further step may run on a session in this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusVerified, StatusFailedScore, StatusError, StatusExpired, StatusUsed:
		return true
	default:
		return false
	}
}

// Session is one in-flight verification attempt. Nil pointer fields have not
// been reached yet.
type Session struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"ownerId"`
	WalletAddress *string   `json:"walletAddress,omitempty"`
	Signature     *string   `json:"signature,omitempty"`
	Score         *float64  `json:"score,omitempty"`
	Status        Status    `json:"status"`
	RoleAssigned  bool      `json:"roleAssigned"`
	CreatedAt     time.Time `json:"createdAt"`

	// seq orders sessions created at the same instant.
	seq uint64
}

// ExpiresAt returns the instant after which the session is unreadable.
func (s Session) ExpiresAt() time.Time {
	return s.CreatedAt.Add(TTL)
}

// Patch lists the fields to merge into a session. Nil fields are left untouched;
// owner and creation time cannot be patched.
type Patch struct {
	WalletAddress *string
	Signature     *string
	Score         *float64
	Status        *Status
	RoleAssigned  *bool
}

// Option customises a Store.
type Option func(*Store)

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.now = clock }
}

// WithObserver registers a callback receiving the live session count after every sweep.
func WithObserver(fn func(active int)) Option {
	return func(s *Store) { s.observe = fn }
}

// Store keeps verification sessions in process memory. It is safe for concurrent use.
// Nothing survives a restart.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	seq      uint64
	now      func() time.Time
	observe  func(active int)
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Create inserts a new session in the initiated state. It returns ErrExists when
// a live session already uses the id.
func (s *Store) Create(id, ownerID string) (Session, error) {
	id = strings.TrimSpace(id)
	ownerID = strings.TrimSpace(ownerID)
	if id == "" || ownerID == "" {
		return Session{}, ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweepLocked(now)
	if _, ok := s.sessions[id]; ok {
		return Session{}, ErrExists
	}
	s.seq++
	sess := &Session{
		ID:        id,
		OwnerID:   ownerID,
		Status:    StatusInitiated,
		CreatedAt: now,
		seq:       s.seq,
	}
	s.sessions[id] = sess
	s.report()
	return clone(sess), nil
}

// Get returns the live session for id or ErrNotFound.
func (s *Store) Get(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(s.now())
	sess, ok := s.sessions[strings.TrimSpace(id)]
	if !ok {
		return Session{}, ErrNotFound
	}
	return clone(sess), nil
}

// FindLatestByOwner returns the newest live session owned by ownerID.
func (s *Store) FindLatestByOwner(ownerID string) (Session, error) {
	ownerID = strings.TrimSpace(ownerID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(s.now())
	var latest *Session
	for _, sess := range s.sessions {
		if sess.OwnerID != ownerID {
			continue
		}
		if latest == nil || newer(sess, latest) {
			latest = sess
		}
	}
	if latest == nil {
		return Session{}, ErrNotFound
	}
	return clone(latest), nil
}

func newer(a, b *Session) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.seq > b.seq
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// Patch merges the set fields of p into the live session id. It never creates
// a session.
func (s *Store) Patch(id string, p Patch) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	sess, ok := s.sessions[strings.TrimSpace(id)]
	if !ok || !now.Before(sess.ExpiresAt()) {
		if ok {
			s.sweepLocked(now)
		}
		return Session{}, ErrNotFound
	}
	if p.WalletAddress != nil {
		v := *p.WalletAddress
		sess.WalletAddress = &v
	}
	if p.Signature != nil {
		v := *p.Signature
		sess.Signature = &v
	}
	if p.Score != nil {
		v := *p.Score
		sess.Score = &v
	}
	if p.Status != nil {
		sess.Status = *p.Status
	}
	if p.RoleAssigned != nil {
		sess.RoleAssigned = *p.RoleAssigned
	}
	return clone(sess), nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(s.now())
	return len(s.sessions)
}

func (s *Store) sweepLocked(now time.Time) {
	removed := false
	for id, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt()) {
			delete(s.sessions, id)
			removed = true
		}
	}
	if removed {
		s.report()
	}
}

func (s *Store) report() {
	if s.observe != nil {
		s.observe(len(s.sessions))
	}
}

func clone(sess *Session) Session {
	out := *sess
	if sess.WalletAddress != nil {
		v := *sess.WalletAddress
		out.WalletAddress = &v
	}
	if sess.Signature != nil {
		v := *sess.Signature
		out.Signature = &v
	}
	if sess.Score != nil {
		v := *sess.Score
		out.Score = &v
	}
	return out
}

// Helpers for building patches inline.

// StatusPtr returns a pointer to st.
func StatusPtr(st Status) *Status { return &st }

// String returns a pointer to v.
func String(v string) *string { return &v }

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
