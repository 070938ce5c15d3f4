// Package verifier serves the wallet-connect HTTP API used by the link handed
// out by /verify.
package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/netutil"

	"validatorgate/session"
	"validatorgate/verification"
)

const (
	maxBodyBytes          = 16 << 10
	defaultMaxConnections = 256
)

// Flow is the verification surface exposed over HTTP. *verification.Flow satisfies it.
type Flow interface {
	Status(sessionID, ownerID string) (session.Session, error)
	ConnectWallet(sessionID, ownerID, address string) (session.Session, error)
	SubmitSignature(sessionID, ownerID, signature string) (session.Session, error)
	Complete(ctx context.Context, sessionID string) (verification.Outcome, error)
}

// TokenVerifier validates link tokens. *LinkSigner satisfies it.
type TokenVerifier interface {
	Verify(token string) (LinkClaims, error)
}

// Config captures the dependencies of the server.
type Config struct {
	Flow    Flow
	Tokens  TokenVerifier
	Metrics http.Handler
	Logger  *slog.Logger
	// MaxConnections caps concurrently accepted connections. Zero means 256.
	MaxConnections int
}

// Server exposes session state and the wallet and signature steps.
type Server struct {
	flow    Flow
	tokens  TokenVerifier
	metrics  http.Handler
	logger   *slog.Logger
	router   http.Handler
	maxConns int
}

// New constructs the HTTP router.
func New(cfg Config) (*Server, error) {
	if cfg.Flow == nil {
		return nil, errors.New("verifier: flow required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("verifier: token verifier required")
	}
	s := &Server{flow: cfg.Flow, tokens: cfg.Tokens, metrics: cfg.Metrics, logger: cfg.Logger, maxConns: cfg.MaxConnections}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.maxConns <= 0 {
		s.maxConns = defaultMaxConnections
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler exposes the instrumented router.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "verifier")
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	r.Route("/api/sessions/{id}", func(api chi.Router) {
		api.Use(s.authenticate)
		api.Get("/", s.getSession)
		api.Post("/wallet", s.connectWallet)
		api.Post("/signature", s.submitSignature)
	})
	return r
}

// Run listens on addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln, at most MaxConnections at a time, until ctx
// is cancelled. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
	}()
	s.logger.Info("verifier listening", slog.String("addr", ln.Addr().String()), slog.Int("max_connections", s.maxConns))
	if err := srv.Serve(netutil.LimitListener(ln, s.maxConns)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

type ownerKey struct{}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if header := r.Header.Get("Authorization"); header != "" {
			scheme, value, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				writeError(w, http.StatusUnauthorized, "authorization must use the Bearer scheme")
				return
			}
			token = value
		}
		claims, err := s.tokens.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired link")
			return
		}
		if claims.SessionID != chi.URLParam(r, "id") {
			writeError(w, http.StatusForbidden, "link does not match this session")
			return
		}
		ctx := context.WithValue(r.Context(), ownerKey{}, claims.OwnerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ownerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

type sessionView struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	WalletAddress string    `json:"walletAddress,omitempty"`
	Score         *float64  `json:"score,omitempty"`
	RoleAssigned  bool      `json:"roleAssigned"`
	ExpiresAt     time.Time `json:"expiresAt"`
	Challenge     string    `json:"challenge"`
}

func viewOf(sess session.Session) sessionView {
	v := sessionView{
		ID:           sess.ID,
		Status:       string(sess.Status),
		Score:        sess.Score,
		RoleAssigned: sess.RoleAssigned,
		ExpiresAt:    sess.ExpiresAt().UTC(),
		Challenge:    verification.ChallengeMessage(sess.ID),
	}
	if sess.WalletAddress != nil {
		v.WalletAddress = *sess.WalletAddress
	}
	return v
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.flow.Status(chi.URLParam(r, "id"), ownerFrom(r.Context()))
	if err != nil {
		s.writeFlowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) connectWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	sess, err := s.flow.ConnectWallet(chi.URLParam(r, "id"), ownerFrom(r.Context()), req.Address)
	if err != nil {
		s.writeFlowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) submitSignature(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Signature string `json:"signature"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.flow.SubmitSignature(id, ownerFrom(r.Context()), req.Signature); err != nil {
		s.writeFlowError(w, r, err)
		return
	}
	out, err := s.flow.Complete(r.Context(), id)
	if err != nil {
		s.writeFlowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": viewOf(out.Session),
		"score":   out.Score,
		"passed":  out.Passed,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) writeFlowError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	msg := "verification failed, try again later"
	switch {
	case errors.Is(err, session.ErrNotFound):
		status, msg = http.StatusNotFound, "session expired or not found"
	case errors.Is(err, verification.ErrNotOwner):
		status, msg = http.StatusForbidden, "session belongs to another user"
	case errors.Is(err, verification.ErrSessionClosed):
		status, msg = http.StatusConflict, "session already finished"
	case errors.Is(err, verification.ErrInvalidAddress):
		status, msg = http.StatusBadRequest, "invalid wallet address"
	case errors.Is(err, verification.ErrInvalidSignature):
		status, msg = http.StatusBadRequest, "malformed signature"
	case errors.Is(err, verification.ErrSignatureMismatch):
		status, msg = http.StatusBadRequest, "signature does not match the connected wallet"
	case errors.Is(err, verification.ErrWalletNotConnected), errors.Is(err, verification.ErrSignatureMissing):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, verification.ErrUnavailable):
		status, msg = http.StatusServiceUnavailable, "verification is not configured"
	}
	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "verifier request failed",
		slog.String("path", r.URL.Path),
		slog.String("request_id", chimw.GetReqID(r.Context())),
		slog.Int("status", status),
		slog.String("error", err.Error()))
	writeError(w, status, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
