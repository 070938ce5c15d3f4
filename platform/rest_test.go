package platform

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   []byte
}

type recorder struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (r *recorder) all() []recordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedRequest(nil), r.requests...)
}

func newRESTServer(t *testing.T, handler http.HandlerFunc) (*Client, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.requests = append(rec.requests, recordedRequest{Method: r.Method, Path: r.URL.EscapedPath(), Auth: r.Header.Get("Authorization"), Body: body})
		rec.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	client, err := NewClient(RESTConfig{
		BaseURL:           srv.URL,
		Token:             "tok",
		ApplicationID:     "app",
		RequestsPerSecond: 1000,
		Burst:             100,
		HTTPClient:        srv.Client(),
	})
	require.NoError(t, err)
	return client, rec
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(RESTConfig{ApplicationID: "app"})
	require.Error(t, err)
	_, err = NewClient(RESTConfig{Token: "tok"})
	require.Error(t, err)
}

func TestGuildMemberDecodesAndAuthenticates(t *testing.T) {
	client, requests := newRESTServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Member{User: &User{ID: "u1", Username: "alice"}, Roles: []string{"r1"}})
	})
	member, err := client.GuildMember(context.Background(), "g1", "u1")
	require.NoError(t, err)
	require.Equal(t, "alice", member.User.Username)
	require.True(t, member.HasRole("r1"))

	require.Len(t, requests.all(), 1)
	got := requests.all()[0]
	require.Equal(t, http.MethodGet, got.Method)
	require.Equal(t, "/guilds/g1/members/u1", got.Path)
	require.Equal(t, "Bot tok", got.Auth)
}

func TestNotFoundMapsToSentinel(t *testing.T) {
	client, _ := newRESTServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":10007,"message":"Unknown Member"}`))
	})
	_, err := client.GuildMember(context.Background(), "g1", "ghost")
	require.ErrorIs(t, err, ErrNotFound)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, 10007, apiErr.Code)
	require.Equal(t, http.StatusNotFound, StatusOf(err))
}

func TestForbiddenIsNotNotFound(t *testing.T) {
	client, _ := newRESTServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	err := client.AddMemberRole(context.Background(), "g1", "u1", "r1")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNotFound))
	require.Equal(t, http.StatusForbidden, StatusOf(err))
}

func TestRoleMutationPaths(t *testing.T) {
	client, requests := newRESTServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	ctx := context.Background()
	require.NoError(t, client.AddMemberRole(ctx, "g1", "u1", "r1"))
	require.NoError(t, client.RemoveMemberRole(ctx, "g1", "u1", "r1"))
	require.Equal(t, http.MethodPut, requests.all()[0].Method)
	require.Equal(t, http.MethodDelete, requests.all()[1].Method)
	require.Equal(t, "/guilds/g1/members/u1/roles/r1", requests.all()[1].Path)
}

func TestInteractionCallbackIsUnauthenticated(t *testing.T) {
	client, requests := newRESTServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	err := client.RespondInteraction(context.Background(), "i1", "itok", InteractionResponse{
		Type: ResponseChannelMessage,
		Data: MessageContent{Content: "hi", Flags: MessageFlagEphemeral},
	})
	require.NoError(t, err)
	got := requests.all()[0]
	require.Equal(t, "/interactions/i1/itok/callback", got.Path)
	require.Empty(t, got.Auth)

	var body struct {
		Type int `json:"type"`
		Data struct {
			Content string `json:"content"`
			Flags   int    `json:"flags"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(got.Body, &body))
	require.Equal(t, 4, body.Type)
	require.Equal(t, 64, body.Data.Flags)
}

func TestEditOriginalUsesApplicationWebhook(t *testing.T) {
	client, requests := newRESTServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	require.NoError(t, client.EditOriginalResponse(context.Background(), "itok", MessageContent{Content: "done"}))
	require.Equal(t, http.MethodPatch, requests.all()[0].Method)
	require.Equal(t, "/webhooks/app/itok/messages/@original", requests.all()[0].Path)
}

func TestSendDirectMessageOpensChannel(t *testing.T) {
	client, requests := newRESTServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/@me/channels":
			_, _ = w.Write([]byte(`{"id":"dm1"}`))
		default:
			_, _ = w.Write([]byte(`{"id":"m1","channel_id":"dm1"}`))
		}
	})
	msg, err := client.SendDirectMessage(context.Background(), "u1", MessageContent{Content: "hello"})
	require.NoError(t, err)
	require.Equal(t, "m1", msg.ID)
	require.Len(t, requests.all(), 2)
	require.Equal(t, "/channels/dm1/messages", requests.all()[1].Path)
}

func TestBulkOverwriteGuildCommands(t *testing.T) {
	client, requests := newRESTServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"c1","name":"verify","description":"d"}]`))
	})
	out, err := client.BulkOverwriteGuildCommands(context.Background(), "g1", []ApplicationCommand{{Name: "verify", Description: "d"}})
	require.NoError(t, err)
	require.Equal(t, "c1", out[0].ID)
	require.Equal(t, "/applications/app/guilds/g1/commands", requests.all()[0].Path)
	require.Equal(t, http.MethodPut, requests.all()[0].Method)
}

func TestCancelledContextStopsBeforeRequest(t *testing.T) {
	client, requests := newRESTServer(t, func(w http.ResponseWriter, r *http.Request) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Guild(ctx, "g1")
	require.Error(t, err)
	require.Empty(t, requests.all())
}
