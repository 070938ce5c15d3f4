package verifier

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"validatorgate/session"
)

const (
	linkIssuer   = "validatorgate"
	linkAudience = "wallet-connect"
)

// ErrInvalidToken is returned for missing, expired or forged link tokens.
var ErrInvalidToken = errors.New("verifier: invalid link token")

// LinkClaims binds a wallet-connect link to one session and its owner.
type LinkClaims struct {
	SessionID string
	OwnerID   string
}

// LinkSigner issues and verifies HMAC signed wallet-connect links.
type LinkSigner struct {
	publicURL *url.URL
	secret    []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewLinkSigner builds a signer for links rooted at publicURL.
func NewLinkSigner(publicURL, secret string, ttl time.Duration) (*LinkSigner, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("verifier: link secret required")
	}
	parsed, err := url.Parse(strings.TrimSpace(publicURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("verifier: public url %q must be absolute", publicURL)
	}
	if ttl <= 0 {
		ttl = session.TTL
	}
	return &LinkSigner{publicURL: parsed, secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Token signs a token for sess. It never outlives the session.
func (s *LinkSigner) Token(sess session.Session) (string, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	if end := sess.ExpiresAt(); end.Before(expires) {
		expires = end
	}
	claims := jwt.RegisteredClaims{
		Issuer:    linkIssuer,
		Subject:   sess.OwnerID,
		Audience:  jwt.ClaimStrings{linkAudience},
		ID:        sess.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign link token: %w", err)
	}
	return signed, nil
}

// Link returns the public wallet-connect URL for sess.
func (s *LinkSigner) Link(sess session.Session) (string, error) {
	token, err := s.Token(sess)
	if err != nil {
		return "", err
	}
	u := *s.publicURL
	q := u.Query()
	q.Set("session", sess.ID)
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Verify parses token and returns the bound session and owner.
func (s *LinkSigner) Verify(token string) (LinkClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return LinkClaims{}, ErrInvalidToken
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(linkIssuer),
		jwt.WithAudience(linkAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	if err != nil {
		return LinkClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.ID == "" || claims.Subject == "" {
		return LinkClaims{}, ErrInvalidToken
	}
	return LinkClaims{SessionID: claims.ID, OwnerID: claims.Subject}, nil
}
